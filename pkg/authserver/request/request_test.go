// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

func testClient(id string) client.Client {
	return &client.OAuthClient{ID: id, ClientType: client.TypeConfidential, HashedSecret: []byte("hash")}
}

func TestSessionCloneIsIndependent(t *testing.T) {
	t.Parallel()

	orig := NewOIDCSession("alice")
	orig.SetExpiresAt(fosite.AccessToken, time.Unix(1700000000, 0))
	orig.SetAuthTime(time.Unix(1699999000, 0))
	orig.Claims["amr"] = []any{"pwd"}
	orig.Claims["address"] = map[string]any{"country": "NZ"}
	orig.Headers["kid"] = "k1"

	cloned, ok := orig.Clone().(*OIDCSession)
	require.True(t, ok)
	if diff := cmp.Diff(orig, cloned); diff != "" {
		t.Fatalf("clone differs from original (-orig +clone):\n%s", diff)
	}

	cloned.SetExpiresAt(fosite.AccessToken, time.Unix(1800000000, 0))
	cloned.Claims["amr"].([]any)[0] = "otp"
	cloned.Claims["address"].(map[string]any)["country"] = "AU"
	cloned.Headers["kid"] = "k2"
	cloned.Subject = "mallory"

	assert.Equal(t, time.Unix(1700000000, 0), orig.GetExpiresAt(fosite.AccessToken))
	assert.Equal(t, "pwd", orig.Claims["amr"].([]any)[0])
	assert.Equal(t, "NZ", orig.Claims["address"].(map[string]any)["country"])
	assert.Equal(t, "k1", orig.Headers["kid"])
	assert.Equal(t, "alice", orig.GetSubject())
}

func TestOIDCSessionTimes(t *testing.T) {
	t.Parallel()

	s := NewOIDCSession("alice")
	_, ok := s.AuthTime()
	assert.False(t, ok)

	s.SetAuthTime(time.Unix(100, 0))
	s.Claims[oauth.ClaimRequestTime] = float64(200)

	at, ok := s.AuthTime()
	require.True(t, ok)
	assert.Equal(t, int64(100), at.Unix())
	rt, ok := s.RequestTime()
	require.True(t, ok)
	assert.Equal(t, int64(200), rt.Unix())
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	r := New(testClient("foo"), url.Values{
		oauth.ParamClientID:     {"foo"},
		oauth.ParamRedirectURI:  {"http://localhost:8888/callback"},
		oauth.ParamScope:        {"openid foo"},
		oauth.ParamState:        {"12345678"},
		oauth.ParamNonce:        {"n-0S6_WzA2Mj"},
		oauth.ParamClientSecret: {"s3cret"},
		oauth.ParamRequest:      {"eyJ..."},
		"x-custom":              {"untrusted"},
	})
	r.RequestedScopes = fosite.Arguments{"openid", "foo"}
	r.Session = NewSession("alice")

	s := r.Sanitize()

	assert.Equal(t, r.ID, s.ID)
	assert.Equal(t, "foo", s.Form.Get(oauth.ParamClientID))
	assert.Equal(t, "n-0S6_WzA2Mj", s.Form.Get(oauth.ParamNonce))
	for _, dropped := range []string{oauth.ParamState, oauth.ParamClientSecret, oauth.ParamRequest, "x-custom"} {
		assert.NotContains(t, s.Form, dropped)
	}

	s.Form.Set(oauth.ParamScope, "changed")
	s.RequestedScopes[0] = "changed"
	assert.Equal(t, "openid foo", r.Form.Get(oauth.ParamScope))
	assert.Equal(t, "openid", r.RequestedScopes[0])
	assert.NotSame(t, r.Session, s.Session)

	only := r.Sanitize(oauth.ParamState)
	assert.Equal(t, url.Values{oauth.ParamState: {"12345678"}}, only.Form)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	stored := New(testClient("foo"), url.Values{
		oauth.ParamRedirectURI: {"http://localhost:8888/callback"},
		oauth.ParamScope:       {"foo bar"},
	})
	stored.RequestedScopes = fosite.Arguments{"foo", "bar"}
	stored.GrantedScopes = fosite.Arguments{"foo"}
	stored.GrantTypes = fosite.Arguments{oauth.GrantTypeAuthorizationCode}
	stored.Session = NewSession("alice")

	current := &TokenRequest{Request: *New(testClient("foo"), url.Values{
		oauth.ParamGrantType:   {oauth.GrantTypeAuthorizationCode},
		oauth.ParamRedirectURI: {"http://localhost:8888/other"},
	})}
	current.GrantTypes = fosite.Arguments{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken}

	require.NoError(t, current.Merge(stored))

	assert.Equal(t, stored.ID, current.ID)
	assert.Equal(t, fosite.Arguments{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken}, current.GrantTypes)
	assert.Equal(t, fosite.Arguments{"foo", "bar"}, current.RequestedScopes)
	assert.Equal(t, fosite.Arguments{"foo"}, current.GrantedScopes)
	assert.Equal(t, "http://localhost:8888/other", current.Form.Get(oauth.ParamRedirectURI), "current form wins")
	assert.Equal(t, "foo bar", current.Form.Get(oauth.ParamScope))
	assert.Equal(t, "alice", current.Session.GetSubject())
	assert.NotSame(t, stored.Session, current.Session)
}

func TestMergeRejectsIncompatible(t *testing.T) {
	t.Parallel()

	stored := New(testClient("foo"), url.Values{})
	stored.Session = NewOIDCSession("alice")

	t.Run("different client", func(t *testing.T) {
		t.Parallel()
		current := New(testClient("bar"), url.Values{})
		err := current.Merge(stored)
		require.Error(t, err)
		assert.True(t, idperrors.IsInvalidGrant(err))
	})

	t.Run("different session kind", func(t *testing.T) {
		t.Parallel()
		current := New(testClient("foo"), url.Values{})
		current.Session = NewSession("alice")
		err := current.Merge(stored)
		require.Error(t, err)
		assert.True(t, idperrors.HasSubCode(err, idperrors.SubIncompatibleRequestMerge))
	})
}

func TestAuthorizeRequestHandledResponseTypes(t *testing.T) {
	t.Parallel()

	ar := &AuthorizeRequest{ResponseTypes: fosite.Arguments{"code", "id_token"}}
	assert.False(t, ar.DidHandleAllResponseTypes())
	assert.Equal(t, oauth.ResponseModeFragment, ar.DefaultResponseMode())

	ar.SetResponseTypeHandled("code")
	assert.False(t, ar.DidHandleAllResponseTypes())
	ar.SetResponseTypeHandled("id_token")
	assert.True(t, ar.DidHandleAllResponseTypes())

	codeOnly := &AuthorizeRequest{ResponseTypes: fosite.Arguments{"code"}}
	assert.Equal(t, oauth.ResponseModeQuery, codeOnly.DefaultResponseMode())
}

func TestGrantScope(t *testing.T) {
	t.Parallel()

	r := New(testClient("foo"), url.Values{})
	r.GrantScope("foo")
	r.GrantScope("foo")
	r.GrantScope("bar")
	assert.Equal(t, fosite.Arguments{"foo", "bar"}, r.GrantedScopes)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/clientkeys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/vor"
	"github.com/stacklok/toolhive-idp/pkg/authserver/vor/mocks"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
)

const (
	issuer    = "https://idp.example.com"
	rpSecret  = "a-long-shared-secret-for-hmac-256"
	fooRedir  = "http://localhost:8888/callback"
	rpRedir   = "https://rp.example.com/cb"
	spaRedir  = "https://spa.example.com/cb"
	requestAt = 1700000000
)

func testRegistry(t *testing.T) *client.MemoryRegistry {
	t.Helper()
	regs := []client.Registration{
		{
			ID: "foo", Secret: "s3cret",
			RedirectURIs:  []string{fooRedir},
			Scopes:        []string{"openid", "foo", "bar", "offline_access"},
			ResponseTypes: []string{"code", "code id_token", "id_token"},
			GrantTypes:    []string{"authorization_code", "refresh_token", "implicit"},
		},
		{
			ID: "bar", Secret: "another-secret",
			RedirectURIs: []string{"https://bar.example.com/cb"},
			Scopes:       []string{"foo"},
		},
		{
			ID: "multi", Secret: "s3cret",
			RedirectURIs: []string{"https://multi.example.com/a", "https://multi.example.com/b"},
			Scopes:       []string{"foo"},
		},
		{
			ID: "rp", Secret: rpSecret, OIDC: true,
			RedirectURIs:            []string{rpRedir},
			Scopes:                  []string{"openid", "profile"},
			RequestObjectSigningAlg: "HS256",
		},
		{
			ID: "spa", Public: true,
			RedirectURIs: []string{spaRedir},
			Scopes:       []string{"openid"},
		},
		{
			ID: "no-code-grant", Secret: "s3cret",
			RedirectURIs: []string{"https://nocode.example.com/cb"},
			GrantTypes:   []string{"refresh_token"},
		},
		{
			ID: "implicit-only", Secret: "s3cret",
			RedirectURIs:  []string{"https://implicit.example.com/cb"},
			ResponseTypes: []string{"id_token"},
			GrantTypes:    []string{"implicit"},
		},
	}
	registry, err := client.NewMemoryRegistryFromRegistrations(regs, client.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return registry
}

func testClientKeys() *clientkeys.Resolver {
	return clientkeys.NewResolver(vor.NewResolver("jwks", vor.NewMemoryCache(), vor.NewHTTPFetcher(), vor.JWKS,
		vor.WithErrorFunc(idperrors.InvalidClient)))
}

func testRequestObjects(f vor.Fetcher) *vor.Resolver[string] {
	return vor.NewResolver("request_object", vor.NewMemoryCache(), f, vor.CompactJWT,
		vor.WithErrorFunc(idperrors.InvalidRequestURI))
}

func noFetch(t *testing.T) vor.Fetcher {
	t.Helper()
	return mocks.NewMockFetcher(gomock.NewController(t))
}

func fixedClock() time.Time { return time.Unix(requestAt, 0) }

func newAuthorizeBuilder(t *testing.T, f vor.Fetcher, opts ...AuthorizeOption) *AuthorizeBuilder {
	t.Helper()
	opts = append([]AuthorizeOption{WithIssuer(issuer), WithAuthorizeClock(fixedClock)}, opts...)
	return NewAuthorizeBuilder(testRegistry(t), testRequestObjects(f), testClientKeys(), opts...)
}

func signRequestObject(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(rpSecret))
	require.NoError(t, err)
	return signed
}

func form(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

// requireProtocolError checks the error code and sub-code, and whether the
// error would be delivered through a redirect.
func requireProtocolError(t *testing.T, err error, code, subCode string, redirect bool) {
	t.Helper()
	require.Error(t, err)
	e, ok := idperrors.As(err)
	require.True(t, ok, "expected a protocol error, got %v", err)
	require.Equal(t, code, e.Code, "error %v", err)
	require.Equal(t, subCode, e.SubCode, "error %v", err)
	var re *RedirectError
	require.Equal(t, redirect, errors.As(err, &re), "redirect delivery for %v", err)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reg     Registration
		wantErr string
	}{
		{
			name: "confidential with secret",
			reg:  Registration{ID: "foo", Secret: "s3cret", RedirectURIs: []string{"http://localhost:8888/callback"}},
		},
		{
			name: "public without secret",
			reg:  Registration{ID: "spa", Public: true, RedirectURIs: []string{"https://spa.example.com/cb"}},
		},
		{
			name:    "confidential without secret",
			reg:     Registration{ID: "foo", RedirectURIs: []string{"http://localhost/cb"}},
			wantErr: "secret is required for confidential clients",
		},
		{
			name:    "public with secret",
			reg:     Registration{ID: "spa", Public: true, Secret: "oops", RedirectURIs: []string{"https://spa.example.com/cb"}},
			wantErr: "public clients must not have a secret",
		},
		{
			name:    "missing id",
			reg:     Registration{Secret: "s", RedirectURIs: []string{"http://localhost/cb"}},
			wantErr: "client id is required",
		},
		{
			name:    "bad redirect uri",
			reg:     Registration{ID: "foo", Secret: "s", RedirectURIs: []string{"http://evil.example.com/cb"}},
			wantErr: "redirect_uri[0]",
		},
		{
			name:    "unknown response type",
			reg:     Registration{ID: "foo", Secret: "s", ResponseTypes: []string{"code device"}},
			wantErr: "unknown response type",
		},
		{
			name:    "oidc with both jwks forms",
			reg:     Registration{ID: "rp", Secret: "s", OIDC: true, JWKS: `{"keys":[]}`, JWKSURI: "https://rp.example.com/jwks"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "oidc with http jwks_uri",
			reg:     Registration{ID: "rp", Secret: "s", OIDC: true, JWKSURI: "http://rp.example.com/jwks"},
			wantErr: "must use https",
		},
		{
			name:    "oidc none id token alg",
			reg:     Registration{ID: "rp", Secret: "s", OIDC: true, IDTokenSignedResponseAlg: "none"},
			wantErr: "none is not allowed",
		},
		{
			name:    "oidc enc without alg",
			reg:     Registration{ID: "rp", Secret: "s", OIDC: true, IDTokenEncryptedResponseEnc: "A128GCM"},
			wantErr: "requires id_token_encrypted_response_alg",
		},
		{
			name:    "oidc unknown subject type",
			reg:     Registration{ID: "rp", Secret: "s", OIDC: true, SubjectType: "secret-agent"},
			wantErr: "unknown subject type",
		},
		{
			name: "private_key_jwt without secret",
			reg: Registration{ID: "rp", OIDC: true, JWKSURI: "https://rp.example.com/jwks",
				TokenEndpointAuthMethod: oauth.AuthMethodPrivateKeyJWT},
		},
		{
			name:    "private_key_jwt without keys",
			reg:     Registration{ID: "rp", OIDC: true, TokenEndpointAuthMethod: oauth.AuthMethodPrivateKeyJWT},
			wantErr: "requires jwks or jwks_uri",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := New(tt.reg, WithBcryptCost(bcrypt.MinCost))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.reg.ID, c.GetID())
			assert.Equal(t, tt.reg.Public, c.IsPublic())
		})
	}
}

func TestNewHashesSecret(t *testing.T) {
	t.Parallel()

	c, err := New(Registration{ID: "foo", Secret: "s3cret"}, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	assert.NotEqual(t, []byte("s3cret"), c.GetHashedSecret())
	require.NoError(t, bcrypt.CompareHashAndPassword(c.GetHashedSecret(), []byte("s3cret")))
	assert.Equal(t, []byte("s3cret"), c.GetJOSESecret())
	assert.Equal(t, TypeConfidential, c.GetType())
	assert.True(t, c.GetGrantTypes().Has(oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken))
	assert.True(t, c.GetResponseTypes().Has(oauth.ResponseTypeCode))
}

func TestConfidentialInvariantOnStruct(t *testing.T) {
	t.Parallel()

	confidential := &OAuthClient{ID: "foo", ClientType: TypeConfidential}
	require.Error(t, confidential.Validate())

	public := &OAuthClient{ID: "spa", ClientType: TypePublic, HashedSecret: []byte("x")}
	require.Error(t, public.Validate())
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	c, err := New(Registration{
		ID:           "rp",
		Secret:       "s",
		OIDC:         true,
		JWKSURI:      "https://rp.example.com/jwks",
		RedirectURIs: []string{"https://rp.example.com/cb"},
	}, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	oc, ok := AsOIDC(c)
	require.True(t, ok)
	assert.Equal(t, oauth.SubjectTypePublic, oc.GetSubjectType())
	assert.Equal(t, "RS256", oc.GetIDTokenSignedResponseAlg())
	assert.False(t, oc.EncryptsIDToken())

	var withJWKS HasJWKS = oc
	value, uri := withJWKS.GetJWKS()
	assert.Empty(t, value)
	assert.Equal(t, "https://rp.example.com/jwks", uri)

	plain, err := New(Registration{ID: "plain", Secret: "s"}, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	_, ok = AsOIDC(plain)
	assert.False(t, ok)
	_, ok = plain.(HasSubjectType)
	assert.False(t, ok)
}

func TestMemoryRegistry(t *testing.T) {
	t.Parallel()

	c, err := New(Registration{ID: "foo", Secret: "s3cret"}, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	registry, err := NewMemoryRegistry(c)
	require.NoError(t, err)

	got, err := registry.Find(context.Background(), "foo")
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = registry.Find(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, idperrors.IsInvalidClient(err))
	assert.True(t, idperrors.HasSubCode(err, idperrors.SubClientNotFound))
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clients.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
clients:
  - client_id: foo
    client_secret: s3cret
    redirect_uris:
      - http://localhost:8888/callback
    scopes: [openid, foo, bar]
  - client_id: rp
    client_secret: another-secret
    oidc: true
    subject_type: pairwise
    redirect_uris:
      - https://rp.example.com/cb
`), 0o600))

	regs, err := LoadYAML(path)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, "pairwise", regs[1].SubjectType)

	registry, err := NewMemoryRegistryFromRegistrations(regs, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	rp, err := registry.Find(context.Background(), "rp")
	require.NoError(t, err)
	oc, ok := AsOIDC(rp)
	require.True(t, ok)
	assert.Equal(t, oauth.SubjectTypePairwise, oc.GetSubjectType())
}

func TestSQLiteRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry, err := OpenSQLiteRegistry(ctx, filepath.Join(t.TempDir(), "clients.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	plain, err := New(Registration{ID: "foo", Secret: "s3cret", RedirectURIs: []string{"http://localhost:8888/callback"}},
		WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	rp, err := New(Registration{
		ID: "rp", Secret: "rp-secret", OIDC: true, SubjectType: oauth.SubjectTypePairwise,
		RedirectURIs: []string{"https://rp.example.com/cb"}, IDTokenSignedResponseAlg: "ES256",
	}, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	require.NoError(t, registry.Register(ctx, plain))
	require.NoError(t, registry.Register(ctx, rp))
	require.NoError(t, registry.Register(ctx, rp), "re-registering must upsert")

	got, err := registry.Find(ctx, "foo")
	require.NoError(t, err)
	_, isOIDC := AsOIDC(got)
	assert.False(t, isOIDC)
	require.NoError(t, bcrypt.CompareHashAndPassword(got.GetHashedSecret(), []byte("s3cret")))

	got, err = registry.Find(ctx, "rp")
	require.NoError(t, err)
	oc, isOIDC := AsOIDC(got)
	require.True(t, isOIDC)
	assert.Equal(t, "ES256", oc.GetIDTokenSignedResponseAlg())
	assert.Equal(t, oauth.SubjectTypePairwise, oc.GetSubjectType())

	_, err = registry.Find(ctx, "missing")
	assert.True(t, idperrors.IsInvalidClient(err))
}

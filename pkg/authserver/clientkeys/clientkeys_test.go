// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package clientkeys

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/vor"
)

func testKeySet(t *testing.T) (*jose.JSONWebKeySet, *rsa.PrivateKey, *ecdsa.PrivateKey) {
	t.Helper()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &rsaKey.PublicKey, KeyID: "rsa-sig", Algorithm: "RS256", Use: UseSignature},
		{Key: &rsaKey.PublicKey, KeyID: "rsa-enc", Algorithm: "RSA-OAEP-256", Use: UseEncryption},
		{Key: &ecKey.PublicKey, KeyID: "ec-sig", Use: UseSignature},
		{Key: edPub, KeyID: "ed"},
	}}, rsaKey, ecKey
}

func newTestResolver() *Resolver {
	return NewResolver(vor.NewResolver("jwks", vor.NewMemoryCache(), vor.NewHTTPFetcher(), vor.JWKS))
}

func TestSelectKey(t *testing.T) {
	t.Parallel()
	set, _, _ := testKeySet(t)

	tests := []struct {
		name    string
		kid     string
		alg     string
		use     string
		wantKid string
		wantErr bool
	}{
		{name: "rsa signature by alg", alg: "RS256", use: UseSignature, wantKid: "rsa-sig"},
		{name: "rsa encryption by alg", alg: "RSA-OAEP-256", use: UseEncryption, wantKid: "rsa-enc"},
		{name: "ec key without alg", alg: "ES256", use: UseSignature, wantKid: "ec-sig"},
		{name: "ed25519 without use", alg: "EdDSA", use: UseSignature, wantKid: "ed"},
		{name: "kid narrows the set", kid: "ec-sig", alg: "ES256", use: UseSignature, wantKid: "ec-sig"},
		{name: "kid with wrong alg", kid: "ec-sig", alg: "RS256", use: UseSignature, wantErr: true},
		{name: "alg pinned to another value", alg: "PS256", use: UseEncryption, wantErr: true},
		{name: "unknown kid", kid: "missing", alg: "RS256", use: UseSignature, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, err := SelectKey(set, tt.kid, tt.alg, tt.use)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKid, key.KeyID)
			assert.True(t, key.IsPublic())
		})
	}
}

func TestVerificationKey(t *testing.T) {
	t.Parallel()
	set, rsaKey, _ := testKeySet(t)
	raw, err := json.Marshal(set)
	require.NoError(t, err)

	c := &client.OIDCClient{
		OAuthClient: client.OAuthClient{ID: "app", JOSESecret: []byte("shared-secret-value")},
		JWKSValue:   string(raw),
	}
	r := newTestResolver()

	t.Run("hmac uses the shared secret", func(t *testing.T) {
		t.Parallel()
		tok := jwt.New(jwt.SigningMethodHS256)
		key, err := r.VerificationKey(context.Background(), c, tok)
		require.NoError(t, err)
		assert.Equal(t, []byte("shared-secret-value"), key)
	})

	t.Run("rsa selects by kid", func(t *testing.T) {
		t.Parallel()
		tok := jwt.New(jwt.SigningMethodRS256)
		tok.Header["kid"] = "rsa-sig"
		key, err := r.VerificationKey(context.Background(), c, tok)
		require.NoError(t, err)
		assert.True(t, rsaKey.PublicKey.Equal(key))
	})

	t.Run("hmac without secret", func(t *testing.T) {
		t.Parallel()
		bare := &client.OAuthClient{ID: "bare"}
		_, err := r.VerificationKey(context.Background(), bare, jwt.New(jwt.SigningMethodHS256))
		require.Error(t, err)
	})

	t.Run("client without jwks", func(t *testing.T) {
		t.Parallel()
		bare := &client.OAuthClient{ID: "bare"}
		_, err := r.VerificationKey(context.Background(), bare, jwt.New(jwt.SigningMethodRS256))
		require.ErrorIs(t, err, ErrNoJWKS)
	})
}

func TestEncryptionKey(t *testing.T) {
	t.Parallel()
	set, _, _ := testKeySet(t)
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	c := &client.OIDCClient{OAuthClient: client.OAuthClient{ID: "app"}, JWKSValue: string(raw)}

	key, err := newTestResolver().EncryptionKey(context.Background(), c, "RSA-OAEP-256")
	require.NoError(t, err)
	assert.Equal(t, "rsa-enc", key.KeyID)

	_, err = newTestResolver().EncryptionKey(context.Background(), c, "ECDH-ES+A256KW")
	require.Error(t, err)
}

func TestIsHMAC(t *testing.T) {
	t.Parallel()
	assert.True(t, IsHMAC("HS256"))
	assert.True(t, IsHMAC("HS512"))
	assert.False(t, IsHMAC("RS256"))
	assert.False(t, IsHMAC(""))
}

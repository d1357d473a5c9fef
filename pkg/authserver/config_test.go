// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/token"
)

func testClients(t *testing.T) *client.MemoryRegistry {
	t.Helper()
	registry, err := client.NewMemoryRegistryFromRegistrations([]client.Registration{
		{
			ID: "rp", Secret: "rp-secret", OIDC: true,
			RedirectURIs:  []string{"https://rp.example.com/cb"},
			Scopes:        []string{"openid", "offline_access"},
			ResponseTypes: []string{"code"},
			GrantTypes:    []string{"authorization_code", "refresh_token"},
		},
	}, client.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return registry
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	secret := &token.HMACSecrets{Current: []byte("0123456789abcdef0123456789abcdef")}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid"},
		{name: "missing issuer", mutate: func(c *Config) { c.Issuer = "" }, wantErr: "issuer is required"},
		{name: "relative issuer", mutate: func(c *Config) { c.Issuer = "/idp" }, wantErr: "absolute http(s) URL"},
		{name: "issuer with query", mutate: func(c *Config) { c.Issuer = "https://idp.example.com?x=1" }, wantErr: "query or fragment"},
		{name: "relative token endpoint", mutate: func(c *Config) { c.TokenEndpoint = "/oauth/token" }, wantErr: "token endpoint"},
		{
			name:    "short HMAC secret",
			mutate:  func(c *Config) { c.HMACSecrets = &token.HMACSecrets{Current: []byte("short")} },
			wantErr: "at least 32 bytes",
		},
		{name: "no clients", mutate: func(c *Config) { c.Clients = nil }, wantErr: "client registry"},
		{name: "short salt", mutate: func(c *Config) { c.PairwiseSalt = []byte("salt") }, wantErr: "pairwise salt"},
		{name: "negative lifespan", mutate: func(c *Config) { c.AccessTokenLifespan = -time.Second }, wantErr: "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Config{Issuer: "https://idp.example.com", HMACSecrets: secret, Clients: testClients(t)}
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Issuer: "https://idp.example.com/", Clients: testClients(t), AccessTokenLifespan: 5 * time.Minute}
	require.NoError(t, cfg.applyDefaults())

	assert.Equal(t, 5*time.Minute, cfg.AccessTokenLifespan)
	assert.Equal(t, DefaultRefreshTokenLifespan, cfg.RefreshTokenLifespan)
	assert.Equal(t, DefaultAuthCodeLifespan, cfg.AuthCodeLifespan)
	assert.Equal(t, DefaultIDTokenLifespan, cfg.IDTokenLifespan)
	assert.Equal(t, 8, cfg.MinStateEntropy)
	assert.Equal(t, "https://idp.example.com/oauth/token", cfg.TokenEndpoint)
	require.NotNil(t, cfg.KeyProvider)
	require.NotNil(t, cfg.HMACSecrets)
	assert.Len(t, cfg.HMACSecrets.Current, token.MinHMACSecretLength)
	require.NoError(t, cfg.Validate())
}

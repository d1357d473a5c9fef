// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package runconfig

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/telemetry"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     RunConfig
		wantErr string
	}{
		{name: "minimal", cfg: RunConfig{Issuer: "https://idp.example.com"}},
		{name: "missing issuer", cfg: RunConfig{}, wantErr: "issuer is required"},
		{
			name:    "two client sources",
			cfg:     RunConfig{Issuer: "https://idp.example.com", ClientsFile: "a.yaml", ClientsDB: "b.db"},
			wantErr: "mutually exclusive",
		},
		{
			name: "fallback keys without signing key",
			cfg: RunConfig{Issuer: "https://idp.example.com",
				SigningKeys: &SigningKeyRunConfig{FallbackKeyFiles: []string{"old.pem"}}},
			wantErr: "require signing_key_file",
		},
		{
			name:    "empty hmac path",
			cfg:     RunConfig{Issuer: "https://idp.example.com", HMACSecretFiles: []string{" "}},
			wantErr: "hmac_secret_files[0]",
		},
		{
			name: "secret and secret file",
			cfg: RunConfig{Issuer: "https://idp.example.com", Clients: []ClientRunConfig{{
				Registration: client.Registration{ID: "foo", Secret: "s"}, SecretFile: "foo.secret"}}},
			wantErr: "mutually exclusive",
		},
		{
			name:    "redis without address",
			cfg:     RunConfig{Issuer: "https://idp.example.com", Storage: &storage.Config{Type: storage.TypeRedis, Redis: &storage.RedisConfig{}}},
			wantErr: "storage:",
		},
		{
			name:    "auth time header alone",
			cfg:     RunConfig{Issuer: "https://idp.example.com", Sessions: &SessionRunConfig{AuthTimeHeader: "X-Auth-Time"}},
			wantErr: "requires sessions.trusted_header",
		},
		{
			name:    "telemetry sampling rate out of range",
			cfg:     RunConfig{Issuer: "https://idp.example.com", Telemetry: &telemetry.Config{SamplingRate: 2}},
			wantErr: "telemetry:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	hmacFile := writeFile(t, "hmac", "0123456789abcdef0123456789abcdef\n")
	rotatedFile := writeFile(t, "hmac-old", "fedcba9876543210fedcba9876543210")
	secretFile := writeFile(t, "foo.secret", strings.Repeat("x", MinClientSecretLength)+"\n")
	saltFile := writeFile(t, "salt", "a-pairwise-salt-value")

	cfg := &RunConfig{
		Issuer:           "http://localhost:0",
		HMACSecretFiles:  []string{hmacFile, rotatedFile},
		TokenLifespans:   &TokenLifespanRunConfig{AccessTokenLifespan: "15m", IDTokenLifespan: "5m"},
		PairwiseSaltFile: saltFile,
		Clients: []ClientRunConfig{{
			Registration: client.Registration{ID: "foo", RedirectURIs: []string{"http://localhost:8888/callback"}},
			SecretFile:   secretFile,
		}},
	}

	got, err := BuildConfig(context.Background(), cfg, 9443)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9443", got.Issuer)
	require.NotNil(t, got.HMACSecrets)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), got.HMACSecrets.Current)
	assert.Len(t, got.HMACSecrets.Rotated, 1)
	assert.Equal(t, 15*time.Minute, got.AccessTokenLifespan)
	assert.Equal(t, 5*time.Minute, got.IDTokenLifespan)
	assert.Zero(t, got.RefreshTokenLifespan)
	assert.Equal(t, []byte("a-pairwise-salt-value"), got.PairwiseSalt)
	require.NotNil(t, got.KeyProvider)

	foo, err := got.Clients.Find(context.Background(), "foo")
	require.NoError(t, err)
	assert.False(t, foo.IsPublic())
}

func TestBuildConfigClientSources(t *testing.T) {
	t.Parallel()

	file, err := yaml.Marshal(map[string]any{"clients": []client.Registration{{
		ID: "bar", Secret: "bar-secret", RedirectURIs: []string{"https://bar.example.com/cb"},
	}}})
	require.NoError(t, err)
	clientsFile := writeFile(t, "clients.yaml", string(file))

	got, err := BuildConfig(context.Background(), &RunConfig{Issuer: "https://idp.example.com", ClientsFile: clientsFile}, 0)
	require.NoError(t, err)
	_, err = got.Clients.Find(context.Background(), "bar")
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "clients.db")
	got, err = BuildConfig(context.Background(), &RunConfig{Issuer: "https://idp.example.com", ClientsDB: dbPath}, 0)
	require.NoError(t, err)
	registry, ok := got.Clients.(*client.SQLiteRegistry)
	require.True(t, ok)
	t.Cleanup(func() { _ = registry.Close() })
	_, err = got.Clients.Find(context.Background(), "bar")
	require.Error(t, err)
}

func TestBuildConfigErrors(t *testing.T) {
	t.Parallel()

	shortSecret := writeFile(t, "short", "tiny")

	tests := []struct {
		name    string
		cfg     *RunConfig
		wantErr string
	}{
		{name: "nil", cfg: nil, wantErr: "RunConfig is nil"},
		{
			name:    "short hmac secret",
			cfg:     &RunConfig{Issuer: "https://idp.example.com", HMACSecretFiles: []string{shortSecret}},
			wantErr: "HMAC secret must be at least",
		},
		{
			name:    "missing hmac file",
			cfg:     &RunConfig{Issuer: "https://idp.example.com", HMACSecretFiles: []string{"/nonexistent/hmac"}},
			wantErr: "failed to load HMAC secrets",
		},
		{
			name: "bad lifespan",
			cfg: &RunConfig{Issuer: "https://idp.example.com",
				TokenLifespans: &TokenLifespanRunConfig{RefreshTokenLifespan: "a week"}},
			wantErr: "invalid refresh_token lifespan",
		},
		{
			name: "short client secret file",
			cfg: &RunConfig{Issuer: "https://idp.example.com", Clients: []ClientRunConfig{{
				Registration: client.Registration{ID: "foo"}, SecretFile: shortSecret}}},
			wantErr: "client secret must be at least",
		},
		{
			name: "missing signing key",
			cfg: &RunConfig{Issuer: "https://idp.example.com",
				SigningKeys: &SigningKeyRunConfig{KeyDir: t.TempDir(), SigningKeyFile: "missing.pem"}},
			wantErr: "failed to create key provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := BuildConfig(context.Background(), tt.cfg, 0)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveIssuer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		issuer string
		port   int
		want   string
	}{
		{issuer: "http://localhost:0", port: 8080, want: "http://localhost:8080"},
		{issuer: "http://localhost:0/idp", port: 8080, want: "http://localhost:8080/idp"},
		{issuer: "https://idp.example.com", port: 8080, want: "https://idp.example.com"},
		{issuer: "http://localhost:9000", port: 8080, want: "http://localhost:9000"},
		{issuer: "http://localhost:0", port: 0, want: "http://localhost:0"},
	}

	for _, tt := range tests {
		t.Run(tt.issuer, func(t *testing.T) {
			t.Parallel()
			got, err := resolveIssuer(tt.issuer, tt.port)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

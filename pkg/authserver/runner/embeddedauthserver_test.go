// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/mock/gomock"

	envmocks "github.com/stacklok/toolhive-core/env/mocks"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/runconfig"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/handlers"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

func testRunConfig() *runconfig.RunConfig {
	return &runconfig.RunConfig{
		Issuer: "http://localhost:0",
		Clients: []runconfig.ClientRunConfig{{Registration: client.Registration{
			ID: "foo", Secret: "s3cret", RedirectURIs: []string{"http://localhost:8888/callback"},
		}}},
	}
}

func TestNewEmbeddedAuthServer(t *testing.T) {
	t.Parallel()

	srv, err := NewEmbeddedAuthServer(context.Background(), testRunConfig(),
		WithListenPort(8443), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, handlers.JWKSPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, gjson.Get(rec.Body.String(), "keys.0.kid").String())

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
}

func TestNewEmbeddedAuthServerNilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewEmbeddedAuthServer(context.Background(), nil)
	require.Error(t, err)
}

func TestNewEmbeddedAuthServerRedisCredentialsFromEnv(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	mr.RequireUserAuth("idp", "redis-password")

	ctrl := gomock.NewController(t)
	reader := envmocks.NewMockReader(ctrl)
	reader.EXPECT().Getenv(RedisUsernameEnvVar).Return("idp")
	reader.EXPECT().Getenv(RedisPasswordEnvVar).Return("redis-password")

	cfg := testRunConfig()
	cfg.Storage = &storage.Config{Type: storage.TypeRedis, Redis: &storage.RedisConfig{Addr: mr.Addr(), Password: "wrong"}}

	srv, err := NewEmbeddedAuthServer(context.Background(), cfg, WithEnvReader(reader))
	require.NoError(t, err)
	require.NoError(t, srv.Close())
}

func TestSessionProvider(t *testing.T) {
	t.Parallel()

	_, ok := sessionProvider(nil).(handlers.NoSessions)
	assert.True(t, ok)

	p, ok := sessionProvider(&runconfig.SessionRunConfig{TrustedHeader: "X-User"}).(handlers.TrustedHeaderSessions)
	require.True(t, ok)
	assert.Equal(t, "X-User", p.Header)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package runner turns a RunConfig into a running authorization server and
// owns its resources.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/toolhive-idp/pkg/authserver"
	"github.com/stacklok/toolhive-idp/pkg/authserver/runconfig"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/handlers"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// Redis ACL credential environment variable names. They override the
// credentials in the configuration file.
const (
	// #nosec G101 -- This is an environment variable name, not a hardcoded credential
	RedisUsernameEnvVar = "THV_IDP_REDIS_USERNAME"

	// #nosec G101 -- This is an environment variable name, not a hardcoded credential
	RedisPasswordEnvVar = "THV_IDP_REDIS_PASSWORD"
)

// Option configures NewEmbeddedAuthServer.
type Option func(*options)

type options struct {
	listenPort int
	registerer prometheus.Registerer
	envReader  env.Reader
}

// WithListenPort replaces port 0 in the configured issuer.
func WithListenPort(port int) Option {
	return func(o *options) { o.listenPort = port }
}

// WithRegisterer registers server metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithEnvReader overrides where Redis credentials are read from.
func WithEnvReader(r env.Reader) Option {
	return func(o *options) { o.envReader = r }
}

// EmbeddedAuthServer owns an authorization server built from a RunConfig.
type EmbeddedAuthServer struct {
	server    authserver.Server
	closeOnce sync.Once
	closeErr  error
}

// NewEmbeddedAuthServer resolves cfg and starts the server's dependencies:
// the Redis client when configured, and the session provider.
func NewEmbeddedAuthServer(ctx context.Context, cfg *runconfig.RunConfig, opts ...Option) (*EmbeddedAuthServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	o := &options{envReader: &env.OSReader{}}
	for _, opt := range opts {
		opt(o)
	}

	resolved, err := runconfig.BuildConfig(ctx, cfg, o.listenPort)
	if err != nil {
		return nil, err
	}

	serverOpts := []authserver.Option{authserver.WithSessionProvider(sessionProvider(cfg.Sessions))}
	if o.registerer != nil {
		serverOpts = append(serverOpts, authserver.WithRegisterer(o.registerer))
	}

	if cfg.Storage != nil && cfg.Storage.Type == storage.TypeRedis {
		redisCfg := *cfg.Storage.Redis
		if v := o.envReader.Getenv(RedisUsernameEnvVar); v != "" {
			redisCfg.Username = v
		}
		if v := o.envReader.Getenv(RedisPasswordEnvVar); v != "" {
			redisCfg.Password = v
		}
		rc, err := storage.NewRedisClient(ctx, &redisCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		serverOpts = append(serverOpts, authserver.WithRedis(rc, redisCfg.KeyPrefix))
	}

	server, err := authserver.New(ctx, *resolved, serverOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth server: %w", err)
	}
	logger.Infow("authorization server ready", "issuer", resolved.Issuer)
	return &EmbeddedAuthServer{server: server}, nil
}

// sessionProvider returns the trusted header provider when configured. Without
// one every authorization request ends in login_required.
func sessionProvider(cfg *runconfig.SessionRunConfig) handlers.SessionProvider {
	if cfg == nil || cfg.TrustedHeader == "" {
		logger.Warn("no session provider configured, authorization requests will fail with login_required")
		return handlers.NoSessions{}
	}
	return handlers.TrustedHeaderSessions{Header: cfg.TrustedHeader, AuthTimeHeader: cfg.AuthTimeHeader}
}

// Handler returns the HTTP handler for the OAuth endpoints.
func (e *EmbeddedAuthServer) Handler() http.Handler {
	return e.server.Handler()
}

// Close releases resources held by the server. It is idempotent.
func (e *EmbeddedAuthServer) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.server.Close()
	})
	return e.closeErr
}

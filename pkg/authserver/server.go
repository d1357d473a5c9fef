// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ory/fosite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/stacklok/toolhive-idp/pkg/authserver/builder"
	"github.com/stacklok/toolhive-idp/pkg/authserver/clientauth"
	"github.com/stacklok/toolhive-idp/pkg/authserver/clientkeys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/handlers"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/authserver/subject"
	"github.com/stacklok/toolhive-idp/pkg/authserver/token"
	"github.com/stacklok/toolhive-idp/pkg/authserver/vor"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// Server is the OAuth 2.0 / OpenID Connect authorization server.
type Server interface {
	// Handler serves /oauth/authorize, /oauth/token and /.well-known/jwks.json.
	Handler() http.Handler

	// Close waits for background cache writes and releases storage and the
	// client registry.
	Close() error
}

// Option customizes how New assembles the server.
type Option func(*serverOptions)

type serverOptions struct {
	storage    storage.Storage
	redis      redis.UniversalClient
	keyPrefix  string
	sessions   handlers.SessionProvider
	registerer prometheus.Registerer
	fetcher    vor.Fetcher
}

// WithStorage sets the token storage. It takes precedence over WithRedis for storage.
func WithStorage(s storage.Storage) Option {
	return func(o *serverOptions) { o.storage = s }
}

// WithRedis stores tokens and caches fetched references in Redis. Keys are
// namespaced with prefix, or storage.DefaultKeyPrefix when empty.
func WithRedis(rc redis.UniversalClient, prefix string) Option {
	return func(o *serverOptions) {
		o.redis = rc
		o.keyPrefix = prefix
	}
}

// WithSessionProvider sets where authenticated end-users come from.
func WithSessionProvider(p handlers.SessionProvider) Option {
	return func(o *serverOptions) { o.sessions = p }
}

// WithRegisterer registers the server metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *serverOptions) { o.registerer = reg }
}

// WithFetcher overrides how request_uri, jwks_uri and sector_identifier_uri
// references are fetched.
func WithFetcher(f vor.Fetcher) Option {
	return func(o *serverOptions) { o.fetcher = f }
}

type server struct {
	handler http.Handler
	storage storage.Storage
	clients io.Closer
	waiters []func()

	closeOnce sync.Once
	closeErr  error
}

// New assembles an authorization server from cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (Server, error) {
	logger.Debugw("creating authorization server", "issuer", cfg.Issuer)

	o := &serverOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.keyPrefix == "" {
		o.keyPrefix = storage.DefaultKeyPrefix
	}
	if o.fetcher == nil {
		o.fetcher = vor.NewHTTPFetcher()
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		vorMetrics     *vor.Metrics
		handlerMetrics *handlers.Metrics
	)
	if o.registerer != nil {
		var err error
		if vorMetrics, err = vor.NewMetrics(o.registerer); err != nil {
			return nil, fmt.Errorf("failed to register resolver metrics: %w", err)
		}
		if handlerMetrics, err = handlers.NewMetrics(o.registerer); err != nil {
			return nil, fmt.Errorf("failed to register token metrics: %w", err)
		}
	}

	var cache vor.Cache = vor.NewMemoryCache()
	if o.redis != nil {
		cache = vor.NewRedisCache(o.redis, o.keyPrefix+"vor:")
	}
	resolverOpts := func(f vor.ErrorFunc) []vor.Option {
		return []vor.Option{vor.WithErrorFunc(f), vor.WithMetrics(vorMetrics)}
	}
	jwks := vor.NewResolver("jwks", cache, o.fetcher, vor.JWKS, resolverOpts(idperrors.InvalidClient)...)
	requestObjects := vor.NewResolver("request_object", cache, o.fetcher, vor.CompactJWT,
		resolverOpts(idperrors.InvalidRequestURI)...)
	sectors := vor.NewResolver("sector_identifier", cache, o.fetcher, vor.RedirectURIList,
		resolverOpts(idperrors.ServerError)...)

	stor := o.storage
	if stor == nil {
		if o.redis != nil {
			stor = storage.NewRedisStorageWithClient(o.redis, o.keyPrefix, cfg.Clients)
		} else {
			stor = storage.NewMemoryStorage()
		}
	}

	codes, err := token.NewHMACStrategy(fosite.AuthorizeCode, *cfg.HMACSecrets)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization code strategy: %w", err)
	}
	refresh, err := token.NewHMACStrategy(fosite.RefreshToken, *cfg.HMACSecrets)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token strategy: %w", err)
	}

	var pairwise subject.Obfuscator
	if len(cfg.PairwiseSalt) > 0 {
		pairwise = subject.NewPairwise(cfg.PairwiseSalt, sectors)
	}
	clientKeys := clientkeys.NewResolver(jwks)

	chain := clientauth.NewChain(clientauth.DefaultMethodFinder,
		clientauth.NewSecretBasic(cfg.Clients),
		clientauth.NewSecretPost(cfg.Clients),
		clientauth.NewSecretJWT(cfg.Clients, clientKeys, cfg.TokenEndpoint),
		clientauth.NewPrivateKeyJWT(cfg.Clients, clientKeys, cfg.TokenEndpoint),
		clientauth.NewNone(cfg.Clients),
	)

	authorizeOpts := []builder.AuthorizeOption{
		builder.WithIssuer(cfg.Issuer),
		builder.WithMinStateEntropy(cfg.MinStateEntropy),
		builder.WithPKCERequiredForPublicClients(!cfg.AllowPublicClientsWithoutPKCE),
	}
	if cfg.RequireRequestObject {
		authorizeOpts = append(authorizeOpts, builder.WithRequestObjectRequired())
	}

	h := handlers.NewHandler(handlers.Components{
		Authorize: builder.NewAuthorizeBuilder(cfg.Clients, requestObjects, clientKeys, authorizeOpts...),
		Tokens:    builder.NewTokenBuilder(chain, codes, refresh, stor),
		Sessions:  o.sessions,
		Storage:   stor,
		Codes:     codes,
		Access:    token.NewJWTStrategy(cfg.Issuer, cfg.KeyProvider, cfg.AccessTokenLifespan),
		Refresh:   refresh,
		IDTokens: token.NewIDTokenStrategy(cfg.Issuer, cfg.KeyProvider, clientKeys,
			subject.NewSelector(pairwise), cfg.IDTokenLifespan),
		Keys: cfg.KeyProvider,
		Lifespans: handlers.Lifespans{
			AuthorizeCode: cfg.AuthCodeLifespan,
			AccessToken:   cfg.AccessTokenLifespan,
			RefreshToken:  cfg.RefreshTokenLifespan,
			IDToken:       cfg.IDTokenLifespan,
		},
		Metrics: handlerMetrics,
	})

	s := &server{
		handler: h.Routes(),
		storage: stor,
		waiters: []func(){jwks.Wait, requestObjects.Wait, sectors.Wait},
	}
	if closer, ok := cfg.Clients.(io.Closer); ok {
		s.clients = closer
	}

	logger.Debugw("authorization server initialized",
		"issuer", cfg.Issuer,
		"tokenEndpoint", cfg.TokenEndpoint,
		"redis", o.redis != nil,
	)
	return s, nil
}

// Handler implements Server.
func (s *server) Handler() http.Handler {
	return s.handler
}

// Close implements Server. It is idempotent.
func (s *server) Close() error {
	s.closeOnce.Do(func() {
		logger.Debug("closing authorization server")
		for _, wait := range s.waiters {
			wait()
		}
		errs := []error{s.storage.Close()}
		if s.clients != nil {
			errs = append(errs, s.clients.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

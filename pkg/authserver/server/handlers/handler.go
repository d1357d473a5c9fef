// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-idp/pkg/authserver/builder"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/authserver/token"
)

// Endpoint paths.
const (
	AuthorizePath = "/oauth/authorize"
	TokenPath     = "/oauth/token"
	JWKSPath      = "/.well-known/jwks.json"
)

// IDTokenIssuer issues ID tokens bound to an access token and code.
type IDTokenIssuer interface {
	GenerateWithHashes(ctx context.Context, req request.Requester, h token.Hashes) (token.Token, error)
}

// Lifespans are the validity periods of each issued token kind.
type Lifespans struct {
	AuthorizeCode time.Duration
	AccessToken   time.Duration
	RefreshToken  time.Duration
	IDToken       time.Duration
}

// Components are the collaborators a Handler needs.
type Components struct {
	Authorize *builder.AuthorizeBuilder
	Tokens    *builder.TokenBuilder
	Sessions  SessionProvider
	Storage   storage.Storage
	Codes     token.Strategy
	Access    token.Strategy
	Refresh   token.Strategy
	IDTokens  IDTokenIssuer
	Keys      keys.KeyProvider
	Lifespans Lifespans
	Metrics   *Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler provides HTTP handlers for the OAuth authorization server endpoints.
type Handler struct {
	Components
	now func() time.Time
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(c Components, opts ...Option) *Handler {
	h := &Handler{Components: c, now: time.Now}
	if h.Sessions == nil {
		h.Sessions = NoSessions{}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a router with all endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.OAuthRoutes(r)
	h.WellKnownRoutes(r)
	return r
}

// OAuthRoutes registers the authorization and token endpoints on r.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Get(AuthorizePath, h.AuthorizeHandler)
	r.Post(AuthorizePath, h.AuthorizeHandler)
	r.Post(TokenPath, h.TokenHandler)
}

// WellKnownRoutes registers the JWKS endpoint on r.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get(JWKSPath, h.JWKSHandler)
}

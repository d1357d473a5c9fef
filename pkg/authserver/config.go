// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/toolhive-idp/pkg/authserver/builder"
	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/handlers"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/token"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// Default token lifespans.
const (
	DefaultAccessTokenLifespan  = time.Hour
	DefaultRefreshTokenLifespan = 7 * 24 * time.Hour
	DefaultAuthCodeLifespan     = 10 * time.Minute
	DefaultIDTokenLifespan      = time.Hour
)

// MinPairwiseSaltLength is the minimum pairwise subject salt length in bytes.
const MinPairwiseSaltLength = 16

// Config is the pure configuration for the authorization server.
// All values must be fully resolved (no file paths, no env vars).
type Config struct {
	// Issuer is the issuer identifier placed in the "iss" claim of every token.
	Issuer string

	// TokenEndpoint is the audience client assertions must name. Defaults to
	// the issuer joined with the token path.
	TokenEndpoint string

	// KeyProvider supplies the server signing keys. If nil, an ephemeral
	// key is generated (development only).
	KeyProvider keys.KeyProvider

	// HMACSecrets sign authorization codes and refresh tokens. If nil, an
	// ephemeral secret is generated (development only). Must be identical
	// across replicas.
	HMACSecrets *token.HMACSecrets

	AccessTokenLifespan  time.Duration
	RefreshTokenLifespan time.Duration
	AuthCodeLifespan     time.Duration
	IDTokenLifespan      time.Duration

	// MinStateEntropy is the minimum length of the state parameter.
	MinStateEntropy int

	// RequireRequestObject rejects OpenID Connect requests without a request object.
	RequireRequestObject bool

	// AllowPublicClientsWithoutPKCE lets public clients use the code flow
	// without a code challenge.
	AllowPublicClientsWithoutPKCE bool

	// PairwiseSalt enables pairwise subject identifiers. Pairwise clients
	// are rejected when it is empty.
	PairwiseSalt []byte

	// Clients looks up registered clients. Closed with the server when it
	// implements io.Closer.
	Clients client.Lookup
}

// Validate checks that the Config is valid.
func (c *Config) Validate() error {
	logger.Debugw("validating authserver config", "issuer", c.Issuer)

	if err := validateIssuer(c.Issuer); err != nil {
		return err
	}
	if c.TokenEndpoint != "" {
		if u, err := url.Parse(c.TokenEndpoint); err != nil || !u.IsAbs() {
			return fmt.Errorf("token endpoint must be an absolute URL: %q", c.TokenEndpoint)
		}
	}
	if c.HMACSecrets != nil && len(c.HMACSecrets.Current) < token.MinHMACSecretLength {
		return fmt.Errorf("HMAC secret must be at least %d bytes", token.MinHMACSecretLength)
	}
	if c.Clients == nil {
		return errors.New("a client registry is required")
	}
	if len(c.PairwiseSalt) > 0 && len(c.PairwiseSalt) < MinPairwiseSaltLength {
		return fmt.Errorf("pairwise salt must be at least %d bytes", MinPairwiseSaltLength)
	}
	for name, d := range map[string]time.Duration{
		"access token":       c.AccessTokenLifespan,
		"refresh token":      c.RefreshTokenLifespan,
		"authorization code": c.AuthCodeLifespan,
		"ID token":           c.IDTokenLifespan,
	} {
		if d < 0 {
			return fmt.Errorf("%s lifespan must not be negative", name)
		}
	}
	if c.MinStateEntropy < 0 {
		return errors.New("minimum state entropy must not be negative")
	}

	logger.Debugw("authserver config validation passed",
		"issuer", c.Issuer,
		"pairwise", len(c.PairwiseSalt) > 0,
		"requireRequestObject", c.RequireRequestObject,
	)
	return nil
}

// validateIssuer requires an absolute http(s) URL without query or fragment.
func validateIssuer(issuer string) error {
	if issuer == "" {
		return errors.New("issuer is required")
	}
	u, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute http(s) URL: %q", issuer)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("issuer must not contain a query or fragment: %q", issuer)
	}
	return nil
}

// applyDefaults applies default values to the config where not set.
func (c *Config) applyDefaults() error {
	logger.Debug("applying default values to authserver config")

	if c.AccessTokenLifespan == 0 {
		c.AccessTokenLifespan = DefaultAccessTokenLifespan
		logger.Debugw("applied default access token lifespan", "duration", c.AccessTokenLifespan)
	}
	if c.RefreshTokenLifespan == 0 {
		c.RefreshTokenLifespan = DefaultRefreshTokenLifespan
		logger.Debugw("applied default refresh token lifespan", "duration", c.RefreshTokenLifespan)
	}
	if c.AuthCodeLifespan == 0 {
		c.AuthCodeLifespan = DefaultAuthCodeLifespan
		logger.Debugw("applied default auth code lifespan", "duration", c.AuthCodeLifespan)
	}
	if c.IDTokenLifespan == 0 {
		c.IDTokenLifespan = DefaultIDTokenLifespan
		logger.Debugw("applied default ID token lifespan", "duration", c.IDTokenLifespan)
	}
	if c.MinStateEntropy == 0 {
		c.MinStateEntropy = builder.DefaultMinStateEntropy
	}
	if c.TokenEndpoint == "" && c.Issuer != "" {
		c.TokenEndpoint = strings.TrimSuffix(c.Issuer, "/") + handlers.TokenPath
	}
	if c.KeyProvider == nil {
		logger.Warn("no signing key configured, using an ephemeral key; issued tokens will not survive a restart")
		c.KeyProvider = keys.NewGeneratingProvider(keys.DefaultAlgorithm)
	}
	if c.HMACSecrets == nil {
		logger.Warn("no HMAC secret configured, using an ephemeral secret; codes and refresh tokens will not survive a restart")
		secret := make([]byte, token.MinHMACSecretLength)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate HMAC secret: %w", err)
		}
		c.HMACSecrets = &token.HMACSecrets{Current: secret}
	}
	return nil
}

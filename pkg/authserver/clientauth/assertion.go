// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package clientauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/clientkeys"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// DefaultMaxAssertionLifetime bounds how far in the future an assertion may expire.
const DefaultMaxAssertionLifetime = time.Hour

var (
	hmacAlgorithms       = []string{"HS256", "HS384", "HS512"}
	asymmetricAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}
)

// Assertion implements client_secret_jwt and private_key_jwt (RFC 7523).
type Assertion struct {
	method      string
	lookup      client.Lookup
	keys        *clientkeys.Resolver
	audience    string
	maxLifetime time.Duration
	now         func() time.Time
}

// NewSecretJWT creates a client_secret_jwt authenticator. audience is the
// token endpoint URL.
func NewSecretJWT(lookup client.Lookup, keys *clientkeys.Resolver, audience string) *Assertion {
	return newAssertion(oauth.AuthMethodClientSecretJWT, lookup, keys, audience)
}

// NewPrivateKeyJWT creates a private_key_jwt authenticator. audience is the
// token endpoint URL.
func NewPrivateKeyJWT(lookup client.Lookup, keys *clientkeys.Resolver, audience string) *Assertion {
	return newAssertion(oauth.AuthMethodPrivateKeyJWT, lookup, keys, audience)
}

func newAssertion(method string, lookup client.Lookup, keys *clientkeys.Resolver, audience string) *Assertion {
	return &Assertion{
		method:      method,
		lookup:      lookup,
		keys:        keys,
		audience:    audience,
		maxLifetime: DefaultMaxAssertionLifetime,
		now:         time.Now,
	}
}

// Method implements Authenticator.
func (a *Assertion) Method() string { return a.method }

// Authenticate implements Authenticator.
func (a *Assertion) Authenticate(ctx context.Context, creds Credentials) (client.Client, error) {
	if creds.Form.Get(oauth.ParamClientAssertionType) != oauth.ClientAssertionTypeJWTBearer {
		return nil, idperrors.InvalidClient(idperrors.SubAuthenticationRequired,
			"client_assertion_type must be "+oauth.ClientAssertionTypeJWTBearer)
	}
	assertion := creds.Form.Get(oauth.ParamClientAssertion)
	if assertion == "" {
		return nil, idperrors.InvalidClient(idperrors.SubAuthenticationRequired, "client_assertion is required")
	}

	var unverified jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, &unverified); err != nil {
		return nil, invalidAssertion(err)
	}
	clientID := unverified.Subject
	if clientID == "" {
		return nil, invalidAssertion(errors.New("sub claim is required"))
	}
	if formID := creds.Form.Get(oauth.ParamClientID); formID != "" && formID != clientID {
		return nil, invalidAssertion(errors.New("client_id does not match the assertion subject"))
	}

	c, err := a.lookup.Find(ctx, clientID)
	if err != nil {
		return nil, err
	}

	algs := asymmetricAlgorithms
	if a.method == oauth.AuthMethodClientSecretJWT {
		algs = hmacAlgorithms
	}
	if oc, ok := client.AsOIDC(c); ok && oc.TokenEndpointAuthSigningAlg != "" {
		algs = []string{oc.TokenEndpointAuthSigningAlg}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(algs),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(a.now),
	)
	var claims jwt.RegisteredClaims
	_, err = parser.ParseWithClaims(assertion, &claims, func(t *jwt.Token) (any, error) {
		return a.keys.VerificationKey(ctx, c, t)
	})
	if err != nil {
		// key resolution failures keep their own classification
		if e, ok := idperrors.As(err); ok {
			return nil, e
		}
		return nil, invalidAssertion(err)
	}

	if claims.Issuer != clientID {
		return nil, invalidAssertion(errors.New("iss must equal sub"))
	}
	if claims.IssuedAt == nil {
		return nil, invalidAssertion(errors.New("iat claim is required"))
	}
	if lifetime := claims.ExpiresAt.Sub(a.now()); lifetime > a.maxLifetime {
		return nil, invalidAssertion(fmt.Errorf("assertion expires too far in the future (%s)", lifetime.Round(time.Second)))
	}
	return c, nil
}

func invalidAssertion(err error) error {
	return idperrors.InvalidClient(idperrors.SubInvalidAssertion, "client assertion is invalid").WithCause(err)
}

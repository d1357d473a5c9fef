// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package clientauth authenticates clients at the token endpoint.
package clientauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/clientkeys"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/logger"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// Credentials is what a token request presents to authenticate its client.
type Credentials struct {
	Header http.Header
	Form   url.Values
}

// Authenticator implements one token endpoint authentication method.
type Authenticator interface {
	Method() string
	Authenticate(ctx context.Context, creds Credentials) (client.Client, error)
}

// MethodFinder names the method a request uses. An empty result selects
// client_secret_post.
type MethodFinder func(creds Credentials) string

// Chain dispatches to the authenticator for the request's method.
type Chain struct {
	authenticators map[string]Authenticator
	find           MethodFinder
}

// NewChain creates a chain. A nil finder always selects client_secret_post.
func NewChain(find MethodFinder, authenticators ...Authenticator) *Chain {
	c := &Chain{
		authenticators: make(map[string]Authenticator, len(authenticators)),
		find:           find,
	}
	for _, a := range authenticators {
		c.authenticators[a.Method()] = a
	}
	return c
}

// Authenticate returns the authenticated client. A request whose method has
// no authenticator is a server configuration error.
func (c *Chain) Authenticate(ctx context.Context, creds Credentials) (client.Client, error) {
	method := oauth.AuthMethodClientSecretPost
	if c.find != nil {
		if m := c.find(creds); m != "" {
			method = m
		}
	}

	a, ok := c.authenticators[method]
	if !ok {
		logger.Errorw("no authenticator configured for token endpoint auth method", "method", method)
		return nil, idperrors.ServerError(idperrors.SubUnsupportedAuthMethod,
			fmt.Sprintf("client authentication method %s is not configured", method))
	}

	cl, err := a.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	if registered := client.TokenEndpointAuthMethod(cl); registered != "" && registered != method {
		return nil, idperrors.InvalidClient(idperrors.SubUnsupportedAuthMethod,
			fmt.Sprintf("client is registered for %s, not %s", registered, method))
	}
	return cl, nil
}

// DefaultMethodFinder selects client_secret_basic for a Basic Authorization
// header, a JWT method for a client assertion based on the assertion's
// signing algorithm, and none for a bare client_id.
func DefaultMethodFinder(creds Credentials) string {
	if h := creds.Header.Get("Authorization"); len(h) > 6 && strings.EqualFold(h[:6], "basic ") {
		return oauth.AuthMethodClientSecretBasic
	}
	assertion := creds.Form.Get(oauth.ParamClientAssertion)
	if assertion == "" {
		if creds.Form.Get(oauth.ParamClientID) != "" && !creds.Form.Has(oauth.ParamClientSecret) {
			return oauth.AuthMethodNone
		}
		return ""
	}
	token, _, err := jwt.NewParser().ParseUnverified(assertion, &jwt.RegisteredClaims{})
	if err != nil {
		// let the assertion authenticator report the malformed token
		return oauth.AuthMethodPrivateKeyJWT
	}
	if alg, _ := token.Header["alg"].(string); clientkeys.IsHMAC(alg) {
		return oauth.AuthMethodClientSecretJWT
	}
	return oauth.AuthMethodPrivateKeyJWT
}

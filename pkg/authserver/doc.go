// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver provides an OAuth 2.0 and OpenID Connect authorization
// server built on ory/fosite primitives.
//
// The server supports:
//   - Authorization code, implicit and hybrid flows with PKCE (RFC 7636)
//   - Refresh token rotation
//   - Signed request objects and request_uri (OpenID Connect Core 6)
//   - Client authentication with client_secret_basic, client_secret_post,
//     client_secret_jwt, private_key_jwt and none
//   - Public and pairwise subject identifiers
//   - JWT access tokens and ID tokens signed with the server keys, published
//     as a JWKS
//
// # Usage
//
// The primary entry point is New, which wires storage, client authentication
// and the request builders into a single handler:
//
//	server, err := authserver.New(ctx, authserver.Config{
//	    Issuer:  "https://idp.example.com",
//	    Clients: registry,
//	}, authserver.WithSessionProvider(sessions))
//	if err != nil {
//	    return err
//	}
//	defer server.Close()
//	mux.Handle("/", server.Handler())
//
// # Configuration
//
// Config holds resolved values only. The runconfig package reads the on-disk
// form, loads keys, secrets and client registries, and produces a Config.
// The runner package owns a server built from a runconfig.RunConfig.
//
// # Storage
//
// Authorization codes, access tokens, refresh tokens and OpenID Connect
// sessions are kept in memory by default. WithRedis stores them in Redis so
// several replicas can share them; replicas must also share HMAC secrets and
// signing keys.
package authserver

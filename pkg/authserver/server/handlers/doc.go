// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP surface of the authorization server.
//
// It serves:
//   - the authorization endpoint (/oauth/authorize)
//   - the token endpoint (/oauth/token)
//   - the JWKS endpoint (/.well-known/jwks.json)
//
// Request parsing and validation live in the builder package; the handlers
// issue tokens for validated requests, persist them and render the responses.
package handlers

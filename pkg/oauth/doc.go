// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth holds the protocol vocabulary of OAuth 2.0 and OpenID Connect:
// parameter names, response and grant types, client authentication methods,
// PKCE (RFC 7636) and redirect URI validation per RFC 6749 and RFC 8252.
package oauth

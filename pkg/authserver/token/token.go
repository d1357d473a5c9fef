// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token generates and verifies the tokens the server issues:
// opaque HMAC authorization codes and refresh tokens, JWT access tokens and
// signed (optionally encrypted) ID tokens.
package token

import (
	"context"
	"strings"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
)

// IDToken is the token type of OpenID Connect ID tokens.
const IDToken fosite.TokenType = "id_token"

// Token is an issued token. It is never mutated after creation.
type Token struct {
	Type  fosite.TokenType
	Value string
}

// Signature returns the last dot-delimited segment of the token.
func (t Token) Signature() string {
	return Signature(t.Value)
}

// String returns the token value.
func (t Token) String() string { return t.Value }

// Signature returns the last dot-delimited segment of a compact token.
func Signature(value string) string {
	if i := strings.LastIndexByte(value, '.'); i >= 0 {
		return value[i+1:]
	}
	return value
}

// Strategy generates and verifies one kind of token.
type Strategy interface {
	Generate(ctx context.Context, req request.Requester) (Token, error)
	Verify(ctx context.Context, value string, req request.Requester) error
}

// SubjectObfuscator maps a raw subject to the identifier a client sees.
type SubjectObfuscator interface {
	Obfuscate(ctx context.Context, subject string, c client.Client) (string, error)
}

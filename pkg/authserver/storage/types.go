// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage persists sanitized request snapshots keyed by the tokens
// issued for them, so a later token request can be matched to the original
// authorization.
package storage

import (
	"context"
	"fmt"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
)

// Kind identifies the token a store is keyed by.
type Kind string

const (
	// KindAuthorizeCode maps authorization code signatures to requests.
	KindAuthorizeCode Kind = "authcode"

	// KindAccessToken maps access token signatures to requests.
	KindAccessToken Kind = "access"

	// KindRefreshToken maps refresh token signatures to requests.
	KindRefreshToken Kind = "refresh"

	// KindOIDC maps authorization code signatures to the OpenID Connect request
	// used to issue the ID token at redemption.
	KindOIDC Kind = "oidc"
)

// Kinds lists every store kind.
var Kinds = []Kind{KindAuthorizeCode, KindAccessToken, KindRefreshToken, KindOIDC}

// TokenType returns the session expiry key governing entries of this kind.
func (k Kind) TokenType() fosite.TokenType {
	switch k {
	case KindAccessToken:
		return fosite.AccessToken
	case KindRefreshToken:
		return fosite.RefreshToken
	default:
		return fosite.AuthorizeCode
	}
}

// Store maps a token signature to a sanitized request snapshot.
type Store interface {
	// Create persists a sanitized copy of req under key.
	Create(ctx context.Context, key string, req *request.Request) error

	// Get returns the snapshot, or invalid_grant when it is absent, expired or invalidated.
	Get(ctx context.Context, key string) (*request.Request, error)

	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, key string) error

	// Invalidate marks the entry unusable while keeping it for replay detection.
	// It is atomic: of several concurrent calls for one key, only one succeeds
	// and the rest return invalid_grant.
	Invalidate(ctx context.Context, key string) error

	// DeleteByRequestID removes every entry created for the given request ID.
	DeleteByRequestID(ctx context.Context, requestID string) error
}

// Storage groups the stores for each token kind.
type Storage interface {
	Store(kind Kind) Store
	Health(ctx context.Context) error
	Close() error
}

func errNotFound(kind Kind) error {
	return idperrors.InvalidGrant(idperrors.SubTokenNotFound, fmt.Sprintf("%s not found", describe(kind)))
}

func errExpired(kind Kind) error {
	return idperrors.InvalidGrant(idperrors.SubTokenExpired, fmt.Sprintf("%s has expired", describe(kind)))
}

func errInvalidated(kind Kind) error {
	return idperrors.InvalidGrant(idperrors.SubTokenInvalidated, fmt.Sprintf("%s has already been used", describe(kind)))
}

func describe(kind Kind) string {
	switch kind {
	case KindAuthorizeCode, KindOIDC:
		return "authorization code"
	case KindAccessToken:
		return "access token"
	case KindRefreshToken:
		return "refresh token"
	default:
		return string(kind)
	}
}

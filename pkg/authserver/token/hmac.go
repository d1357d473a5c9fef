// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ory/fosite"
	"github.com/ory/fosite/token/hmac"

	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
)

// MinHMACSecretLength is the minimum length of the HMAC secret.
const MinHMACSecretLength = 32

// DefaultTokenEntropy is the number of random bytes in an opaque token.
const DefaultTokenEntropy = 32

// HMACStrategy issues opaque authorization codes and refresh tokens of the
// form base64url(random) "." base64url(HMAC(random)).
type HMACStrategy struct {
	tokenType fosite.TokenType
	hmac      *hmac.HMACStrategy
}

// HMACSecrets holds the current secret and any rotated secrets that are still
// accepted for verification.
type HMACSecrets struct {
	Current []byte
	Rotated [][]byte
}

// NewHMACStrategy creates an HMAC strategy for tokenType.
func NewHMACStrategy(tokenType fosite.TokenType, secrets HMACSecrets) (*HMACStrategy, error) {
	if len(secrets.Current) < MinHMACSecretLength {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes", MinHMACSecretLength)
	}
	for i, s := range secrets.Rotated {
		if len(s) < MinHMACSecretLength {
			return nil, fmt.Errorf("rotated hmac secret %d must be at least %d bytes", i, MinHMACSecretLength)
		}
	}
	return &HMACStrategy{
		tokenType: tokenType,
		hmac: &hmac.HMACStrategy{Config: &fosite.Config{
			GlobalSecret:         secrets.Current,
			RotatedGlobalSecrets: secrets.Rotated,
			TokenEntropy:         DefaultTokenEntropy,
		}},
	}, nil
}

// Generate implements Strategy. The request does not influence the token.
func (s *HMACStrategy) Generate(ctx context.Context, _ request.Requester) (Token, error) {
	value, _, err := s.hmac.Generate(ctx)
	if err != nil {
		return Token{}, idperrors.ServerError("", "failed to generate token").WithCause(err)
	}
	return Token{Type: s.tokenType, Value: value}, nil
}

// Verify implements Strategy. A malformed token or a signature mismatch is
// invalid_grant.
func (s *HMACStrategy) Verify(ctx context.Context, value string, _ request.Requester) error {
	if !wellFormed(value) {
		return idperrors.InvalidGrant(idperrors.SubTokenMalformed, fmt.Sprintf("%s is malformed", s.tokenType))
	}
	if err := s.hmac.Validate(ctx, value); err != nil {
		return idperrors.InvalidGrant(idperrors.SubTokenSignature,
			fmt.Sprintf("%s signature is invalid", s.tokenType)).WithCause(err)
	}
	return nil
}

// Type returns the token type the strategy issues.
func (s *HMACStrategy) Type() fosite.TokenType { return s.tokenType }

func wellFormed(value string) bool {
	key, sig, ok := strings.Cut(value, ".")
	if !ok || key == "" || sig == "" || strings.Contains(sig, ".") {
		return false
	}
	if _, err := base64.RawURLEncoding.Strict().DecodeString(key); err != nil {
		return false
	}
	_, err := base64.RawURLEncoding.Strict().DecodeString(sig)
	return err == nil
}

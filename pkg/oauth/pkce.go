// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCE challenge methods (RFC 7636 section 4.2).
const (
	PKCEChallengeMethodS256  = "S256"
	PKCEChallengeMethodPlain = "plain"
)

// GeneratePKCEVerifier returns a random 43 character code_verifier.
// It panics if crypto/rand fails.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge returns BASE64URL(SHA256(verifier)).
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE reports whether verifier satisfies challenge under method.
// An empty method means plain.
func VerifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	var computed string
	switch method {
	case PKCEChallengeMethodS256:
		computed = ComputePKCEChallenge(verifier)
	case "", PKCEChallengeMethodPlain:
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// IsKnownPKCEMethod reports whether method is a supported challenge method.
func IsKnownPKCEMethod(method string) bool {
	return method == "" || method == PKCEChallengeMethodS256 || method == PKCEChallengeMethodPlain
}

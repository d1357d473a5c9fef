// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keys manages the server master key set: loading keys from disk,
// generating ephemeral keys, selecting a key by algorithm and key type, and
// exposing the public half as a JSON Web Key Set.
package keys

import (
	"crypto"
	"errors"
	"time"
)

// DefaultAlgorithm is the default signing algorithm for auto-generated keys.
const DefaultAlgorithm = "ES256"

// Key usages as they appear in the JWK "use" member.
const (
	UseSignature  = "sig"
	UseEncryption = "enc"
)

// JWK key types.
const (
	KeyTypeRSA = "RSA"
	KeyTypeEC  = "EC"
	KeyTypeOKP = "OKP"
	KeyTypeOct = "oct"
)

// ErrNoSuitableKey is returned when no key in the set matches the requested algorithm.
var ErrNoSuitableKey = errors.New("no suitable key for algorithm")

// SigningKeyData is a private key with its metadata. Never expose it externally.
type SigningKeyData struct {
	// KeyID is the RFC 7638 thumbprint unless configured explicitly.
	KeyID string

	// Algorithm is the JWS algorithm, e.g. "ES256" or "RS256".
	Algorithm string

	// Use is UseSignature or UseEncryption.
	Use string

	// Key is the private key.
	Key crypto.Signer

	// CreatedAt is when the key was generated or loaded.
	CreatedAt time.Time
}

// PublicKeyData is the public half of a key, safe to publish in the JWKS.
type PublicKeyData struct {
	KeyID     string
	Algorithm string
	Use       string
	PublicKey crypto.PublicKey
	CreatedAt time.Time
}

func (k *SigningKeyData) copyWithAlgorithm(alg string) *SigningKeyData {
	return &SigningKeyData{
		KeyID:     k.KeyID,
		Algorithm: alg,
		Use:       k.Use,
		Key:       k.Key,
		CreatedAt: k.CreatedAt,
	}
}

func (k *SigningKeyData) public() *PublicKeyData {
	return &PublicKeyData{
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		Use:       k.Use,
		PublicKey: k.Key.Public(),
		CreatedAt: k.CreatedAt,
	}
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// MinSecretLength is the minimum HMAC secret length in bytes.
const MinSecretLength = 32

// LoadSigningKey loads a PEM encoded private key.
// RSA (PKCS1, PKCS8), ECDSA (SEC1, PKCS8) and Ed25519 (PKCS8) are supported.
func LoadSigningKey(keyPath string) (crypto.Signer, error) {
	keyPEM, err := os.ReadFile(keyPath) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return ParseSigningKey(keyPEM)
}

// ParseSigningKey parses a PEM encoded private key.
func ParseSigningKey(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from signing key")
	}

	if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return rsaKey, nil
	}
	if ecKey, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return ecKey, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("signing key does not implement crypto.Signer")
	}
	return signer, nil
}

// DeriveKeyID computes base64url(SHA-256(JWK canonical form)) per RFC 7638.
func DeriveKeyID(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// DeriveAlgorithm returns the default JWS algorithm for the key.
func DeriveAlgorithm(key crypto.Signer) (string, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return string(jose.RS256), nil
	case *ecdsa.PrivateKey:
		return ecAlgorithm(k.Curve)
	case ed25519.PrivateKey:
		return string(jose.EdDSA), nil
	default:
		return "", fmt.Errorf("unsupported key type: %T", key)
	}
}

func ecAlgorithm(curve elliptic.Curve) (string, error) {
	switch curve {
	case elliptic.P256():
		return string(jose.ES256), nil
	case elliptic.P384():
		return string(jose.ES384), nil
	case elliptic.P521():
		return string(jose.ES512), nil
	default:
		return "", fmt.Errorf("unsupported EC curve: %s", curve.Params().Name)
	}
}

// KeyTypeForAlgorithm maps a JWS algorithm to the JWK key type able to produce it.
func KeyTypeForAlgorithm(alg string) (string, error) {
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return KeyTypeRSA, nil
	case strings.HasPrefix(alg, "ES"):
		return KeyTypeEC, nil
	case alg == string(jose.EdDSA):
		return KeyTypeOKP, nil
	case strings.HasPrefix(alg, "HS"):
		return KeyTypeOct, nil
	default:
		return "", fmt.Errorf("unsupported algorithm: %s", alg)
	}
}

// ValidateAlgorithmForKey checks that alg can be produced with key.
func ValidateAlgorithmForKey(alg string, key crypto.Signer) error {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		switch jose.SignatureAlgorithm(alg) {
		case jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512:
			return nil
		default:
			return fmt.Errorf("algorithm %s is not compatible with RSA key", alg)
		}
	case *ecdsa.PrivateKey:
		expected, err := ecAlgorithm(k.Curve)
		if err != nil {
			return err
		}
		if alg != expected {
			return fmt.Errorf("algorithm %s is not compatible with EC key using curve %s (expected %s)",
				alg, k.Curve.Params().Name, expected)
		}
		return nil
	case ed25519.PrivateKey:
		if alg != string(jose.EdDSA) {
			return fmt.Errorf("algorithm %s is not compatible with Ed25519 key", alg)
		}
		return nil
	default:
		return fmt.Errorf("unsupported key type: %T", key)
	}
}

// NewSigningKeyData derives or validates the key ID and algorithm for key.
// Empty keyID and algorithm are derived from the key itself.
func NewSigningKeyData(key crypto.Signer, keyID, algorithm string) (*SigningKeyData, error) {
	if keyID == "" {
		derived, err := DeriveKeyID(key)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key ID: %w", err)
		}
		keyID = derived
	}

	if algorithm == "" {
		derived, err := DeriveAlgorithm(key)
		if err != nil {
			return nil, fmt.Errorf("failed to derive algorithm: %w", err)
		}
		algorithm = derived
	} else if err := ValidateAlgorithmForKey(algorithm, key); err != nil {
		return nil, err
	}

	return &SigningKeyData{
		KeyID:     keyID,
		Algorithm: algorithm,
		Use:       UseSignature,
		Key:       key,
	}, nil
}

// LoadHMACSecret loads the server HMAC secret used for opaque tokens.
// Returns nil for an empty path so callers can generate a random secret.
func LoadHMACSecret(secretPath string) ([]byte, error) {
	if secretPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(secretPath) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read HMAC secret file: %w", err)
	}

	// mounted secrets frequently carry a trailing newline
	secret := []byte(strings.TrimSpace(string(data)))
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("HMAC secret must be at least %d bytes, got %d bytes", MinSecretLength, len(secret))
	}
	return secret, nil
}

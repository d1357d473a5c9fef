// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// KeyProvider is the read-only server master key set.
type KeyProvider interface {
	// SigningKey returns the primary signing key.
	SigningKey(ctx context.Context) (*SigningKeyData, error)

	// SelectSigningKey returns a signature key able to produce alg.
	// Returns ErrNoSuitableKey when the set has no compatible key.
	SelectSigningKey(ctx context.Context, alg string) (*SigningKeyData, error)

	// PublicKeys returns all public keys for the JWKS endpoint.
	PublicKeys(ctx context.Context) ([]*PublicKeyData, error)
}

// keyRing holds an ordered key list; the first key is the primary signing key.
type keyRing struct {
	keys []*SigningKeyData
}

func (r *keyRing) primary() (*SigningKeyData, error) {
	if len(r.keys) == 0 {
		return nil, ErrNoSuitableKey
	}
	return r.keys[0].copyWithAlgorithm(r.keys[0].Algorithm), nil
}

// selectKey prefers an exact algorithm match, then any key of the right type
// that can produce alg (an RSA key serves RS256 through PS512).
func (r *keyRing) selectKey(alg string) (*SigningKeyData, error) {
	kty, err := KeyTypeForAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	if kty == KeyTypeOct {
		return nil, fmt.Errorf("%w: %s is symmetric", ErrNoSuitableKey, alg)
	}

	for _, k := range r.keys {
		if k.Use == UseSignature && k.Algorithm == alg {
			return k.copyWithAlgorithm(alg), nil
		}
	}
	for _, k := range r.keys {
		if k.Use == UseSignature && ValidateAlgorithmForKey(alg, k.Key) == nil {
			return k.copyWithAlgorithm(alg), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuitableKey, alg)
}

func (r *keyRing) publicKeys() []*PublicKeyData {
	out := make([]*PublicKeyData, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k.public())
	}
	return out
}

// StaticProvider serves a fixed set of already-loaded keys.
type StaticProvider struct {
	ring keyRing
}

// NewStaticProvider creates a provider from loaded keys. The first key signs by default.
func NewStaticProvider(primary *SigningKeyData, others ...*SigningKeyData) *StaticProvider {
	all := append([]*SigningKeyData{primary}, others...)
	for _, k := range all {
		if k.Use == "" {
			k.Use = UseSignature
		}
		if k.CreatedAt.IsZero() {
			k.CreatedAt = time.Now()
		}
	}
	return &StaticProvider{ring: keyRing{keys: all}}
}

// SigningKey returns the primary signing key.
func (p *StaticProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	return p.ring.primary()
}

// SelectSigningKey returns a key able to produce alg.
func (p *StaticProvider) SelectSigningKey(_ context.Context, alg string) (*SigningKeyData, error) {
	return p.ring.selectKey(alg)
}

// PublicKeys returns all public keys.
func (p *StaticProvider) PublicKeys(_ context.Context) ([]*PublicKeyData, error) {
	return p.ring.publicKeys(), nil
}

// NewFileProvider loads the signing key and any fallback keys from cfg.KeyDir.
// Fallback keys are published and selectable but never used as the primary key.
func NewFileProvider(cfg Config) (*StaticProvider, error) {
	if cfg.SigningKeyFile == "" {
		return nil, fmt.Errorf("signing key file is required")
	}

	signingKey, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, cfg.SigningKeyFile), cfg.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	fallback := make([]*SigningKeyData, 0, len(cfg.FallbackKeyFiles))
	for _, filename := range cfg.FallbackKeyFiles {
		key, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, filename), "")
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback key %s: %w", filename, err)
		}
		fallback = append(fallback, key)
	}

	return NewStaticProvider(signingKey, fallback...), nil
}

func loadKeyFromFile(keyPath, algorithm string) (*SigningKeyData, error) {
	signer, err := LoadSigningKey(keyPath)
	if err != nil {
		return nil, err
	}
	key, err := NewSigningKeyData(signer, "", algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key parameters: %w", err)
	}
	key.CreatedAt = time.Now()
	return key, nil
}

// GeneratingProvider lazily generates one ephemeral key per requested algorithm.
// Development only: keys are lost on restart, invalidating every issued token.
type GeneratingProvider struct {
	algorithm string

	mu   sync.Mutex
	ring keyRing
}

// NewGeneratingProvider creates a provider whose primary key uses algorithm,
// or DefaultAlgorithm when empty.
func NewGeneratingProvider(algorithm string) *GeneratingProvider {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	return &GeneratingProvider{algorithm: algorithm}
}

// SigningKey returns the primary key, generating it on first use.
func (p *GeneratingProvider) SigningKey(ctx context.Context) (*SigningKeyData, error) {
	return p.SelectSigningKey(ctx, p.algorithm)
}

// SelectSigningKey returns a key for alg, generating one if the set has none.
func (p *GeneratingProvider) SelectSigningKey(_ context.Context, alg string) (*SigningKeyData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if alg != p.algorithm && len(p.ring.keys) == 0 {
		if _, err := p.generateLocked(p.algorithm); err != nil {
			return nil, err
		}
	}

	if key, err := p.ring.selectKey(alg); err == nil {
		return key, nil
	}
	key, err := p.generateLocked(alg)
	if err != nil {
		return nil, err
	}
	return key.copyWithAlgorithm(alg), nil
}

// PublicKeys returns public keys for every generated key, generating the primary if needed.
func (p *GeneratingProvider) PublicKeys(ctx context.Context) ([]*PublicKeyData, error) {
	if _, err := p.SigningKey(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.publicKeys(), nil
}

func (p *GeneratingProvider) generateLocked(alg string) (*SigningKeyData, error) {
	privateKey, err := generatePrivateKey(alg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	key, err := NewSigningKeyData(privateKey, "", alg)
	if err != nil {
		return nil, err
	}
	key.CreatedAt = time.Now()

	slog.Warn("generated ephemeral signing key - tokens will be invalid after restart",
		"algorithm", key.Algorithm,
		"key_id", key.KeyID,
	)

	p.ring.keys = append(p.ring.keys, key)
	return key, nil
}

func generatePrivateKey(algorithm string) (crypto.Signer, error) {
	switch algorithm {
	case "ES256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
		return rsa.GenerateKey(rand.Reader, 2048)
	case "EdDSA":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	default:
		return nil, fmt.Errorf("unsupported algorithm for key generation: %s", algorithm)
	}
}

var (
	_ KeyProvider = (*StaticProvider)(nil)
	_ KeyProvider = (*GeneratingProvider)(nil)
)

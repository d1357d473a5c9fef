// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package clientkeys resolves the keys a client uses for JOSE: its shared
// secret for HMAC algorithms and its JSON Web Key Set for everything else.
package clientkeys

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/vor"
)

// Key uses.
const (
	UseSignature  = "sig"
	UseEncryption = "enc"
)

// ErrNoJWKS is returned for clients without a registered key set.
var ErrNoJWKS = errors.New("client has no registered JWKS")

// Resolver looks up client key material.
type Resolver struct {
	jwks *vor.Resolver[*jose.JSONWebKeySet]
}

// NewResolver creates a Resolver over a JWKS value-or-reference resolver.
func NewResolver(jwks *vor.Resolver[*jose.JSONWebKeySet]) *Resolver {
	return &Resolver{jwks: jwks}
}

// KeySet resolves the client's inline or referenced JWKS.
func (r *Resolver) KeySet(ctx context.Context, c client.Client) (*jose.JSONWebKeySet, error) {
	hj, ok := c.(client.HasJWKS)
	if !ok {
		return nil, ErrNoJWKS
	}
	value, uri := hj.GetJWKS()
	set, found, err := r.jwks.Resolve(ctx, value, uri)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoJWKS
	}
	return set, nil
}

// VerificationKey returns the key to verify a token the client signed with
// alg. It fits golang-jwt's Keyfunc once the client is known.
func (r *Resolver) VerificationKey(ctx context.Context, c client.Client, token *jwt.Token) (any, error) {
	alg := token.Method.Alg()
	if IsHMAC(alg) {
		secret := c.GetJOSESecret()
		if len(secret) == 0 {
			return nil, fmt.Errorf("client %s has no shared secret for %s", c.GetID(), alg)
		}
		return secret, nil
	}

	set, err := r.KeySet(ctx, c)
	if err != nil {
		return nil, err
	}
	kid, _ := token.Header["kid"].(string)
	key, err := SelectKey(set, kid, alg, UseSignature)
	if err != nil {
		return nil, err
	}
	return key.Key, nil
}

// EncryptionKey returns the client key to encrypt to with the key management
// algorithm alg.
func (r *Resolver) EncryptionKey(ctx context.Context, c client.Client, alg string) (*jose.JSONWebKey, error) {
	set, err := r.KeySet(ctx, c)
	if err != nil {
		return nil, err
	}
	return SelectKey(set, "", alg, UseEncryption)
}

// IsHMAC reports whether alg is an HMAC signing algorithm.
func IsHMAC(alg string) bool {
	return strings.HasPrefix(alg, "HS")
}

// SelectKey picks the first public key in set that matches kid (when given),
// use and alg.
func SelectKey(set *jose.JSONWebKeySet, kid, alg, use string) (*jose.JSONWebKey, error) {
	candidates := set.Keys
	if kid != "" {
		candidates = set.Key(kid)
	}
	for _, k := range candidates {
		if k.Use != "" && k.Use != use {
			continue
		}
		if k.Algorithm != "" && k.Algorithm != alg {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		if !keyFitsAlgorithm(k.Key, alg) {
			continue
		}
		return &k, nil
	}
	if kid != "" {
		return nil, fmt.Errorf("no %s key with kid %q for %s", use, kid, alg)
	}
	return nil, fmt.Errorf("no %s key for %s", use, alg)
}

func keyFitsAlgorithm(key any, alg string) bool {
	switch key.(type) {
	case *rsa.PublicKey:
		return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS") || strings.HasPrefix(alg, "RSA")
	case *ecdsa.PublicKey:
		return strings.HasPrefix(alg, "ES") || strings.HasPrefix(alg, "ECDH-ES")
	case ed25519.PublicKey:
		return alg == string(jose.EdDSA)
	default:
		return false
	}
}

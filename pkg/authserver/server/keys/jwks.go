// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// PublicJWKS renders the provider's public keys as a JSON Web Key Set.
func PublicJWKS(ctx context.Context, provider KeyProvider) (*jose.JSONWebKeySet, error) {
	pubKeys, err := provider.PublicKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get public keys: %w", err)
	}

	set := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(pubKeys))}
	for _, k := range pubKeys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       k.PublicKey,
			KeyID:     k.KeyID,
			Algorithm: k.Algorithm,
			Use:       k.Use,
		})
	}
	return set, nil
}

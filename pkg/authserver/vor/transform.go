// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package vor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// CompactJWT accepts a JWS (three segments) or JWE (five segments) compact
// serialization and returns it trimmed. Signature checks happen later.
func CompactJWT(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	switch strings.Count(s, ".") {
	case 2, 4:
		return s, nil
	default:
		return "", errors.New("not a compact JWT serialization")
	}
}

// JWKS parses a JSON Web Key Set. An empty set is rejected.
func JWKS(raw string) (*jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	if len(set.Keys) == 0 {
		return nil, errors.New("JWKS contains no keys")
	}
	return &set, nil
}

// RedirectURIList parses the JSON array of redirect URIs published at a
// sector identifier URI.
func RedirectURIList(raw string) ([]string, error) {
	var uris []string
	if err := json.Unmarshal([]byte(raw), &uris); err != nil {
		return nil, fmt.Errorf("failed to parse redirect URI list: %w", err)
	}
	return uris, nil
}

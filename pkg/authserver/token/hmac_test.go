// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"strings"
	"testing"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
)

var (
	testSecret    = []byte("current-secret-with-32-bytes-ok!")
	rotatedSecret = []byte("rotated-secret1-with-32-bytes!!!")
)

func newHMAC(t *testing.T, secrets HMACSecrets) *HMACStrategy {
	t.Helper()
	s, err := NewHMACStrategy(fosite.AuthorizeCode, secrets)
	require.NoError(t, err)
	return s
}

// flip replaces the character at i with a different base64url character.
func flip(value string, i int) string {
	b := []byte(value)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func TestHMACRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newHMAC(t, HMACSecrets{Current: testSecret})
	req := request.New(nil, nil)

	for range 20 {
		tok, err := s.Generate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, fosite.AuthorizeCode, tok.Type)
		require.Equal(t, 1, strings.Count(tok.Value, "."))
		assert.Equal(t, tok.Value[strings.Index(tok.Value, ".")+1:], tok.Signature())
		require.NoError(t, s.Verify(ctx, tok.Value, req))
	}
}

func TestHMACUnique(t *testing.T) {
	t.Parallel()
	s := newHMAC(t, HMACSecrets{Current: testSecret})
	a, err := s.Generate(context.Background(), nil)
	require.NoError(t, err)
	b, err := s.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Value, b.Value)
}

func TestHMACMutationIsInvalidGrant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newHMAC(t, HMACSecrets{Current: testSecret})
	tok, err := s.Generate(ctx, nil)
	require.NoError(t, err)

	dot := strings.Index(tok.Value, ".")
	for i := range len(tok.Value) {
		if i == dot {
			continue
		}
		mutated := flip(tok.Value, i)
		err := s.Verify(ctx, mutated, nil)
		require.Error(t, err, "mutation at %d was accepted", i)
		assert.True(t, idperrors.IsInvalidGrant(err))
	}
}

func TestHMACMalformed(t *testing.T) {
	t.Parallel()
	s := newHMAC(t, HMACSecrets{Current: testSecret})

	for _, value := range []string{"", "abc", "a.b.c", ".abc", "abc.", "!!!.abc"} {
		err := s.Verify(context.Background(), value, nil)
		require.Error(t, err, value)
		assert.True(t, idperrors.HasSubCode(err, idperrors.SubTokenMalformed), value)
	}
}

func TestHMACRotatedSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	old := newHMAC(t, HMACSecrets{Current: rotatedSecret})
	tok, err := old.Generate(ctx, nil)
	require.NoError(t, err)

	rotated := newHMAC(t, HMACSecrets{Current: testSecret, Rotated: [][]byte{rotatedSecret}})
	require.NoError(t, rotated.Verify(ctx, tok.Value, nil))

	fresh := newHMAC(t, HMACSecrets{Current: testSecret})
	err = fresh.Verify(ctx, tok.Value, nil)
	require.Error(t, err)
	assert.True(t, idperrors.HasSubCode(err, idperrors.SubTokenSignature))
}

func TestNewHMACStrategyRejectsShortSecrets(t *testing.T) {
	t.Parallel()
	_, err := NewHMACStrategy(fosite.RefreshToken, HMACSecrets{Current: []byte("short")})
	require.Error(t, err)
	_, err = NewHMACStrategy(fosite.RefreshToken, HMACSecrets{Current: testSecret, Rotated: [][]byte{[]byte("short")}})
	require.Error(t, err)
}

func TestSignature(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "c", Signature("a.b.c"))
	assert.Equal(t, "opaque", Signature("opaque"))
	assert.Equal(t, "", Signature("a."))
}

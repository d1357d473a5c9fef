// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"testing"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
)

func TestKindTokenType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want fosite.TokenType
	}{
		{KindAuthorizeCode, fosite.AuthorizeCode},
		{KindOIDC, fosite.AuthorizeCode},
		{KindAccessToken, fosite.AccessToken},
		{KindRefreshToken, fosite.RefreshToken},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.kind.TokenType())
		})
	}
}

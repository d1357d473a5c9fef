// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputePKCEChallengeRFC7636Example(t *testing.T) {
	t.Parallel()
	// RFC 7636 Appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", ComputePKCEChallenge(verifier))
}

func TestVerifyPKCE(t *testing.T) {
	t.Parallel()
	verifier := GeneratePKCEVerifier()
	assert.Len(t, verifier, 43)

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		want      bool
	}{
		{"s256", ComputePKCEChallenge(verifier), PKCEChallengeMethodS256, verifier, true},
		{"s256 wrong verifier", ComputePKCEChallenge(verifier), PKCEChallengeMethodS256, "other", false},
		{"plain", verifier, PKCEChallengeMethodPlain, verifier, true},
		{"implicit plain", verifier, "", verifier, true},
		{"unknown method", verifier, "S512", verifier, false},
		{"missing verifier", verifier, PKCEChallengeMethodPlain, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, VerifyPKCE(tt.challenge, tt.method, tt.verifier))
		})
	}
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

// Config describes where the server master keys come from.
type Config struct {
	// KeyDir is the directory containing PEM encoded private keys.
	KeyDir string

	// SigningKeyFile is the primary signing key, relative to KeyDir.
	SigningKeyFile string

	// Algorithm overrides the algorithm derived from the signing key.
	Algorithm string

	// FallbackKeyFiles are published in the JWKS for rotation but never sign by default.
	FallbackKeyFiles []string
}

// NewProviderFromConfig loads keys from files, or returns a GeneratingProvider
// when no signing key file is configured (development mode).
func NewProviderFromConfig(cfg Config) (KeyProvider, error) {
	if cfg.SigningKeyFile != "" {
		return NewFileProvider(cfg)
	}
	return NewGeneratingProvider(cfg.Algorithm), nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package runconfig

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stacklok/toolhive-idp/pkg/authserver"
	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/token"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// BuildConfig converts a RunConfig into an authserver.Config. It:
//   - loads the signing keys and HMAC secrets from files
//   - parses token lifespans
//   - builds the client registry from inline clients, a YAML file or SQLite
//   - replaces port 0 in the issuer with listenPort
func BuildConfig(ctx context.Context, cfg *RunConfig, listenPort int) (*authserver.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RunConfig is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	issuer, err := resolveIssuer(cfg.Issuer, listenPort)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve issuer URL: %w", err)
	}

	keyProvider, err := createKeyProvider(cfg.SigningKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create key provider: %w", err)
	}

	hmacSecrets, err := loadHMACSecrets(cfg.HMACSecretFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
	}

	lifespans, err := parseTokenLifespans(cfg.TokenLifespans)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token lifespans: %w", err)
	}

	var salt []byte
	if cfg.PairwiseSaltFile != "" {
		data, err := os.ReadFile(cfg.PairwiseSaltFile) // #nosec G304 - path comes from operator configuration
		if err != nil {
			return nil, fmt.Errorf("failed to read pairwise salt: %w", err)
		}
		salt = []byte(strings.TrimSpace(string(data)))
	}

	clients, err := buildClients(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build client registry: %w", err)
	}

	return &authserver.Config{
		Issuer:                        issuer,
		TokenEndpoint:                 cfg.TokenEndpoint,
		KeyProvider:                   keyProvider,
		HMACSecrets:                   hmacSecrets,
		AccessTokenLifespan:           lifespans[0],
		RefreshTokenLifespan:          lifespans[1],
		AuthCodeLifespan:              lifespans[2],
		IDTokenLifespan:               lifespans[3],
		MinStateEntropy:               cfg.MinStateEntropy,
		RequireRequestObject:          cfg.RequireRequestObject,
		AllowPublicClientsWithoutPKCE: cfg.AllowPublicClientsWithoutPKCE,
		PairwiseSalt:                  salt,
		Clients:                       clients,
	}, nil
}

func createKeyProvider(cfg *SigningKeyRunConfig) (keys.KeyProvider, error) {
	if cfg == nil {
		cfg = &SigningKeyRunConfig{}
	}
	return keys.NewProviderFromConfig(keys.Config{
		KeyDir:           cfg.KeyDir,
		SigningKeyFile:   cfg.SigningKeyFile,
		Algorithm:        cfg.Algorithm,
		FallbackKeyFiles: cfg.FallbackKeyFiles,
	})
}

// loadHMACSecrets returns nil without files so the server generates an
// ephemeral secret.
func loadHMACSecrets(files []string) (*token.HMACSecrets, error) {
	if len(files) == 0 {
		return nil, nil
	}
	current, err := keys.LoadHMACSecret(files[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", files[0], err)
	}
	secrets := &token.HMACSecrets{Current: current}
	for _, file := range files[1:] {
		rotated, err := keys.LoadHMACSecret(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		secrets.Rotated = append(secrets.Rotated, rotated)
	}
	return secrets, nil
}

// parseTokenLifespans returns access, refresh, code and ID token lifespans.
// Unset values stay zero so the server defaults apply.
func parseTokenLifespans(cfg *TokenLifespanRunConfig) ([4]time.Duration, error) {
	var out [4]time.Duration
	if cfg == nil {
		return out, nil
	}
	fields := []struct {
		name  string
		value string
	}{
		{"access_token", cfg.AccessTokenLifespan},
		{"refresh_token", cfg.RefreshTokenLifespan},
		{"auth_code", cfg.AuthCodeLifespan},
		{"id_token", cfg.IDTokenLifespan},
	}
	for i, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return out, fmt.Errorf("invalid %s lifespan %q: %w", f.name, f.value, err)
		}
		if d <= 0 {
			return out, fmt.Errorf("%s lifespan must be positive", f.name)
		}
		out[i] = d
	}
	return out, nil
}

func buildClients(ctx context.Context, cfg *RunConfig) (client.Lookup, error) {
	switch {
	case cfg.ClientsDB != "":
		logger.Debugw("using SQLite client registry", "path", cfg.ClientsDB)
		return client.OpenSQLiteRegistry(ctx, cfg.ClientsDB)
	case cfg.ClientsFile != "":
		logger.Debugw("loading clients from file", "path", cfg.ClientsFile)
		regs, err := client.LoadYAML(cfg.ClientsFile)
		if err != nil {
			return nil, err
		}
		return client.NewMemoryRegistryFromRegistrations(regs)
	}

	regs := make([]client.Registration, 0, len(cfg.Clients))
	for _, c := range cfg.Clients {
		reg := c.Registration
		if c.SecretFile != "" {
			secret, err := readClientSecret(c.SecretFile)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve secret for client %s: %w", c.ID, err)
			}
			reg.Secret = secret
		}
		regs = append(regs, reg)
	}
	return client.NewMemoryRegistryFromRegistrations(regs)
}

func readClientSecret(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return "", fmt.Errorf("failed to read client secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if len(secret) < MinClientSecretLength {
		return "", fmt.Errorf("client secret must be at least %d characters, got %d", MinClientSecretLength, len(secret))
	}
	return secret, nil
}

// resolveIssuer replaces port 0 in the issuer URL with listenPort.
func resolveIssuer(issuer string, listenPort int) (string, error) {
	if listenPort <= 0 {
		return issuer, nil
	}
	parsed, err := url.Parse(issuer)
	if err != nil {
		return "", fmt.Errorf("invalid issuer URL: %w", err)
	}
	if parsed.Port() != "0" {
		return issuer, nil
	}
	host, _, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		return "", fmt.Errorf("failed to parse host:port from issuer URL: %w", err)
	}
	parsed.Host = net.JoinHostPort(host, strconv.Itoa(listenPort))
	return parsed.String(), nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package runconfig holds the serializable configuration of the server and
// resolves it into an authserver.Config.
package runconfig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/telemetry"
)

// MinClientSecretLength is the minimum length of a client secret read from a file.
const MinClientSecretLength = 32

// RunConfig is the on-disk form of the server configuration. Paths and
// durations are resolved by BuildConfig.
type RunConfig struct {
	// Issuer may use port 0, which is replaced by the listen port.
	Issuer        string `json:"issuer" yaml:"issuer" mapstructure:"issuer"`
	TokenEndpoint string `json:"token_endpoint,omitempty" yaml:"token_endpoint,omitempty" mapstructure:"token_endpoint"`

	SigningKeys *SigningKeyRunConfig `json:"signing_keys,omitempty" yaml:"signing_keys,omitempty" mapstructure:"signing_keys"`

	// HMACSecretFiles lists the current secret first, then rotated ones.
	HMACSecretFiles []string `json:"hmac_secret_files,omitempty" yaml:"hmac_secret_files,omitempty" mapstructure:"hmac_secret_files"`

	TokenLifespans *TokenLifespanRunConfig `json:"token_lifespans,omitempty" yaml:"token_lifespans,omitempty" mapstructure:"token_lifespans"`

	MinStateEntropy               int    `json:"min_state_entropy,omitempty" yaml:"min_state_entropy,omitempty" mapstructure:"min_state_entropy"`
	RequireRequestObject          bool   `json:"require_request_object,omitempty" yaml:"require_request_object,omitempty" mapstructure:"require_request_object"`
	AllowPublicClientsWithoutPKCE bool   `json:"allow_public_clients_without_pkce,omitempty" yaml:"allow_public_clients_without_pkce,omitempty" mapstructure:"allow_public_clients_without_pkce"`
	PairwiseSaltFile              string `json:"pairwise_salt_file,omitempty" yaml:"pairwise_salt_file,omitempty" mapstructure:"pairwise_salt_file"`

	// Clients, ClientsFile and ClientsDB are mutually exclusive.
	Clients     []ClientRunConfig `json:"clients,omitempty" yaml:"clients,omitempty" mapstructure:"clients"`
	ClientsFile string            `json:"clients_file,omitempty" yaml:"clients_file,omitempty" mapstructure:"clients_file"`
	ClientsDB   string            `json:"clients_db,omitempty" yaml:"clients_db,omitempty" mapstructure:"clients_db"`

	Storage  *storage.Config   `json:"storage,omitempty" yaml:"storage,omitempty" mapstructure:"storage"`
	Sessions *SessionRunConfig `json:"sessions,omitempty" yaml:"sessions,omitempty" mapstructure:"sessions"`

	Telemetry *telemetry.Config `json:"telemetry,omitempty" yaml:"telemetry,omitempty" mapstructure:"telemetry"`
}

// SigningKeyRunConfig locates the server signing keys. Without a signing key
// file an ephemeral key is generated.
type SigningKeyRunConfig struct {
	KeyDir           string   `json:"key_dir,omitempty" yaml:"key_dir,omitempty" mapstructure:"key_dir"`
	SigningKeyFile   string   `json:"signing_key_file,omitempty" yaml:"signing_key_file,omitempty" mapstructure:"signing_key_file"`
	Algorithm        string   `json:"algorithm,omitempty" yaml:"algorithm,omitempty" mapstructure:"algorithm"`
	FallbackKeyFiles []string `json:"fallback_key_files,omitempty" yaml:"fallback_key_files,omitempty" mapstructure:"fallback_key_files"`
}

// TokenLifespanRunConfig holds lifespans as Go duration strings.
type TokenLifespanRunConfig struct {
	AccessTokenLifespan  string `json:"access_token,omitempty" yaml:"access_token,omitempty" mapstructure:"access_token"`
	RefreshTokenLifespan string `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty" mapstructure:"refresh_token"`
	AuthCodeLifespan     string `json:"auth_code,omitempty" yaml:"auth_code,omitempty" mapstructure:"auth_code"`
	IDTokenLifespan      string `json:"id_token,omitempty" yaml:"id_token,omitempty" mapstructure:"id_token"`
}

// ClientRunConfig is a client registration whose secret may live in a file.
type ClientRunConfig struct {
	client.Registration `json:",inline" yaml:",inline" mapstructure:",squash"`

	SecretFile string `json:"client_secret_file,omitempty" yaml:"client_secret_file,omitempty" mapstructure:"client_secret_file"`
}

// SessionRunConfig selects where authenticated end-users come from.
type SessionRunConfig struct {
	// TrustedHeader names the header an authenticating proxy sets to the subject.
	TrustedHeader string `json:"trusted_header,omitempty" yaml:"trusted_header,omitempty" mapstructure:"trusted_header"`

	// AuthTimeHeader optionally carries the login time as RFC 3339.
	AuthTimeHeader string `json:"auth_time_header,omitempty" yaml:"auth_time_header,omitempty" mapstructure:"auth_time_header"`
}

// Validate checks the parts of the configuration that do not need file access.
func (c *RunConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}

	sources := 0
	for _, set := range []bool{len(c.Clients) > 0, c.ClientsFile != "", c.ClientsDB != ""} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return errors.New("clients, clients_file and clients_db are mutually exclusive")
	}

	if c.SigningKeys != nil && c.SigningKeys.SigningKeyFile == "" && len(c.SigningKeys.FallbackKeyFiles) > 0 {
		return errors.New("fallback_key_files require signing_key_file")
	}
	for i, f := range c.HMACSecretFiles {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("hmac_secret_files[%d] is empty", i)
		}
	}
	for i, cl := range c.Clients {
		if cl.Secret != "" && cl.SecretFile != "" {
			return fmt.Errorf("client %d (%s): client_secret and client_secret_file are mutually exclusive", i, cl.ID)
		}
	}
	if c.Storage != nil {
		if err := c.Storage.Validate(); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}
	if c.Sessions != nil && c.Sessions.AuthTimeHeader != "" && c.Sessions.TrustedHeader == "" {
		return errors.New("sessions.auth_time_header requires sessions.trusted_header")
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}

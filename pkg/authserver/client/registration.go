// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"strings"

	"github.com/ory/fosite"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// Registration is the serializable, operator-facing form of a client.
// Secrets are plaintext here and hashed by New.
type Registration struct {
	ID            string   `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
	Secret        string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty" mapstructure:"client_secret"`
	Public        bool     `json:"public,omitempty" yaml:"public,omitempty" mapstructure:"public"`
	RedirectURIs  []string `json:"redirect_uris" yaml:"redirect_uris" mapstructure:"redirect_uris"`
	ResponseTypes []string `json:"response_types,omitempty" yaml:"response_types,omitempty" mapstructure:"response_types"`
	GrantTypes    []string `json:"grant_types,omitempty" yaml:"grant_types,omitempty" mapstructure:"grant_types"`
	Scopes        []string `json:"scopes,omitempty" yaml:"scopes,omitempty" mapstructure:"scopes"`

	// OIDC marks the client as an OpenID Connect client. The fields below
	// are only honored when it is set.
	OIDC                         bool   `json:"oidc,omitempty" yaml:"oidc,omitempty" mapstructure:"oidc"`
	SubjectType                  string `json:"subject_type,omitempty" yaml:"subject_type,omitempty" mapstructure:"subject_type"`
	SectorIdentifierURI          string `json:"sector_identifier_uri,omitempty" yaml:"sector_identifier_uri,omitempty" mapstructure:"sector_identifier_uri"`
	JWKS                         string `json:"jwks,omitempty" yaml:"jwks,omitempty" mapstructure:"jwks"`
	JWKSURI                      string `json:"jwks_uri,omitempty" yaml:"jwks_uri,omitempty" mapstructure:"jwks_uri"`
	IDTokenSignedResponseAlg     string `json:"id_token_signed_response_alg,omitempty" yaml:"id_token_signed_response_alg,omitempty" mapstructure:"id_token_signed_response_alg"`
	IDTokenEncryptedResponseAlg  string `json:"id_token_encrypted_response_alg,omitempty" yaml:"id_token_encrypted_response_alg,omitempty" mapstructure:"id_token_encrypted_response_alg"`
	IDTokenEncryptedResponseEnc  string `json:"id_token_encrypted_response_enc,omitempty" yaml:"id_token_encrypted_response_enc,omitempty" mapstructure:"id_token_encrypted_response_enc"`
	RequestObjectSigningAlg      string `json:"request_object_signing_alg,omitempty" yaml:"request_object_signing_alg,omitempty" mapstructure:"request_object_signing_alg"`
	UserinfoSignedResponseAlg    string `json:"userinfo_signed_response_alg,omitempty" yaml:"userinfo_signed_response_alg,omitempty" mapstructure:"userinfo_signed_response_alg"`
	UserinfoEncryptedResponseAlg string `json:"userinfo_encrypted_response_alg,omitempty" yaml:"userinfo_encrypted_response_alg,omitempty" mapstructure:"userinfo_encrypted_response_alg"`
	UserinfoEncryptedResponseEnc string `json:"userinfo_encrypted_response_enc,omitempty" yaml:"userinfo_encrypted_response_enc,omitempty" mapstructure:"userinfo_encrypted_response_enc"`
	TokenEndpointAuthMethod      string `json:"token_endpoint_auth_method,omitempty" yaml:"token_endpoint_auth_method,omitempty" mapstructure:"token_endpoint_auth_method"`
	TokenEndpointAuthSigningAlg  string `json:"token_endpoint_auth_signing_alg,omitempty" yaml:"token_endpoint_auth_signing_alg,omitempty" mapstructure:"token_endpoint_auth_signing_alg"`
}

// Option tunes client construction.
type Option func(*options)

type options struct {
	cost int
}

// WithBcryptCost overrides the bcrypt cost used to hash secrets.
func WithBcryptCost(cost int) Option {
	return func(o *options) { o.cost = cost }
}

// New builds a validated client from a registration.
func New(reg Registration, opts ...Option) (Client, error) {
	o := options{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&o)
	}

	base := OAuthClient{
		ID:            reg.ID,
		ClientType:    TypeConfidential,
		RedirectURIs:  reg.RedirectURIs,
		ResponseTypes: defaultArgs(reg.ResponseTypes, oauth.ResponseTypeCode),
		GrantTypes:    defaultArgs(reg.GrantTypes, oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken),
		Scopes:        fosite.Arguments(reg.Scopes),
	}
	if reg.Public {
		base.ClientType = TypePublic
	}

	if reg.Secret != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(reg.Secret), o.cost)
		if err != nil {
			return nil, fmt.Errorf("client %s: failed to hash secret: %w", reg.ID, err)
		}
		base.HashedSecret = hashed
		base.JOSESecret = []byte(reg.Secret)
	}

	var c Client
	if reg.OIDC {
		c = &OIDCClient{
			OAuthClient:                  base,
			SubjectType:                  reg.SubjectType,
			SectorIdentifierURI:          reg.SectorIdentifierURI,
			JWKSValue:                    strings.TrimSpace(reg.JWKS),
			JWKSURI:                      reg.JWKSURI,
			IDTokenSignedResponseAlg:     reg.IDTokenSignedResponseAlg,
			IDTokenEncryptedResponseAlg:  reg.IDTokenEncryptedResponseAlg,
			IDTokenEncryptedResponseEnc:  reg.IDTokenEncryptedResponseEnc,
			RequestObjectSigningAlg:      reg.RequestObjectSigningAlg,
			UserinfoSignedResponseAlg:    reg.UserinfoSignedResponseAlg,
			UserinfoEncryptedResponseAlg: reg.UserinfoEncryptedResponseAlg,
			UserinfoEncryptedResponseEnc: reg.UserinfoEncryptedResponseEnc,
			TokenEndpointAuthMethod:      reg.TokenEndpointAuthMethod,
			TokenEndpointAuthSigningAlg:  reg.TokenEndpointAuthSigningAlg,
		}
	} else {
		c = &base
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func defaultArgs(values []string, defaults ...string) fosite.Arguments {
	if len(values) == 0 {
		return fosite.Arguments(defaults)
	}
	return fosite.Arguments(values)
}

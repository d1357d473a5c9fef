// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client defines registered OAuth 2.0 and OpenID Connect clients and
// the lookup contract the authorization server resolves them through.
//
// Clients form a closed set of two variants, *OAuthClient and *OIDCClient.
// Cross-cutting behavior is exposed through small capability interfaces
// (HasRedirectURIs, HasJWKS, HasSubjectType) rather than type assertions on
// concrete types.
package client

import (
	"fmt"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// Type is the OAuth client type from RFC 6749 section 2.1.
type Type string

const (
	// TypeConfidential clients can keep a secret.
	TypeConfidential Type = "confidential"
	// TypePublic clients cannot keep a secret.
	TypePublic Type = "public"
)

// Client is a registered client. It is immutable once constructed.
type Client interface {
	fosite.Client
	HasRedirectURIs

	// GetType returns confidential or public.
	GetType() Type
	// GetJOSESecret returns the raw shared secret used for HMAC JOSE algorithms, if any.
	GetJOSESecret() []byte
	// Validate checks the client invariants.
	Validate() error
}

// HasRedirectURIs is implemented by clients with registered redirect URIs.
type HasRedirectURIs interface {
	GetRedirectURIs() []string
}

// HasJWKS is implemented by clients that publish a JSON Web Key Set, either
// inline or by reference. At most one of the two is non-empty.
type HasJWKS interface {
	GetJWKS() (value string, uri string)
}

// HasSubjectType is implemented by clients that select a subject identifier type.
type HasSubjectType interface {
	GetSubjectType() string
	GetSectorIdentifierURI() string
}

// OAuthClient is a plain OAuth 2.0 client.
type OAuthClient struct {
	ID            string           `json:"client_id"`
	HashedSecret  []byte           `json:"hashed_secret,omitempty"`
	JOSESecret    []byte           `json:"jose_secret,omitempty"`
	ClientType    Type             `json:"client_type"`
	RedirectURIs  []string         `json:"redirect_uris"`
	ResponseTypes fosite.Arguments `json:"response_types"`
	GrantTypes    fosite.Arguments `json:"grant_types"`
	Scopes        fosite.Arguments `json:"scopes"`
}

// GetID returns the client identifier.
func (c *OAuthClient) GetID() string { return c.ID }

// GetHashedSecret returns the bcrypt hash of the client secret.
func (c *OAuthClient) GetHashedSecret() []byte { return c.HashedSecret }

// GetJOSESecret returns the raw shared secret for HMAC JOSE algorithms.
func (c *OAuthClient) GetJOSESecret() []byte { return c.JOSESecret }

// GetType returns the client type.
func (c *OAuthClient) GetType() Type { return c.ClientType }

// IsPublic reports whether the client is public.
func (c *OAuthClient) IsPublic() bool { return c.ClientType == TypePublic }

// GetRedirectURIs returns the registered redirect URIs.
func (c *OAuthClient) GetRedirectURIs() []string { return c.RedirectURIs }

// GetResponseTypes returns the allowed response types.
func (c *OAuthClient) GetResponseTypes() fosite.Arguments { return c.ResponseTypes }

// GetGrantTypes returns the allowed grant types.
func (c *OAuthClient) GetGrantTypes() fosite.Arguments { return c.GrantTypes }

// GetScopes returns the allowed scopes.
func (c *OAuthClient) GetScopes() fosite.Arguments { return c.Scopes }

// GetAudience returns the client's allowed audiences. Access tokens are always
// audienced to the client itself.
func (c *OAuthClient) GetAudience() fosite.Arguments { return fosite.Arguments{c.ID} }

// Validate enforces confidential clients carry a secret and public clients do not.
func (c *OAuthClient) Validate() error {
	return c.validate(true)
}

func (c *OAuthClient) validate(secretRequired bool) error {
	if c.ID == "" {
		return fmt.Errorf("client id is required")
	}
	switch c.ClientType {
	case TypeConfidential:
		if secretRequired && len(c.HashedSecret) == 0 {
			return fmt.Errorf("client %s: secret is required for confidential clients", c.ID)
		}
	case TypePublic:
		if len(c.HashedSecret) != 0 || len(c.JOSESecret) != 0 {
			return fmt.Errorf("client %s: public clients must not have a secret", c.ID)
		}
	default:
		return fmt.Errorf("client %s: unknown client type %q", c.ID, c.ClientType)
	}
	for i, uri := range c.RedirectURIs {
		if err := oauth.ValidateRedirectURI(uri, oauth.RedirectURIPolicyAllowPrivateSchemes); err != nil {
			return fmt.Errorf("client %s: redirect_uri[%d]: %w", c.ID, i, err)
		}
	}
	for _, rt := range c.ResponseTypes {
		for _, token := range oauth.ParseSpaceDelimited(rt) {
			if !oauth.KnownResponseTypes.Has(token) {
				return fmt.Errorf("client %s: unknown response type %q", c.ID, token)
			}
		}
	}
	return nil
}

// OIDCClient is an OpenID Connect client.
type OIDCClient struct {
	OAuthClient

	SubjectType         string `json:"subject_type,omitempty"`
	SectorIdentifierURI string `json:"sector_identifier_uri,omitempty"`
	JWKSValue           string `json:"jwks,omitempty"`
	JWKSURI             string `json:"jwks_uri,omitempty"`

	IDTokenSignedResponseAlg     string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg  string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc  string `json:"id_token_encrypted_response_enc,omitempty"`
	RequestObjectSigningAlg      string `json:"request_object_signing_alg,omitempty"`
	UserinfoSignedResponseAlg    string `json:"userinfo_signed_response_alg,omitempty"`
	UserinfoEncryptedResponseAlg string `json:"userinfo_encrypted_response_alg,omitempty"`
	UserinfoEncryptedResponseEnc string `json:"userinfo_encrypted_response_enc,omitempty"`
	TokenEndpointAuthMethod      string `json:"token_endpoint_auth_method,omitempty"`
	TokenEndpointAuthSigningAlg  string `json:"token_endpoint_auth_signing_alg,omitempty"`
}

// GetJWKS returns the inline key set and the key set URI.
func (c *OIDCClient) GetJWKS() (value string, uri string) { return c.JWKSValue, c.JWKSURI }

// GetSubjectType returns the subject type, defaulting to public.
func (c *OIDCClient) GetSubjectType() string {
	if c.SubjectType == "" {
		return oauth.SubjectTypePublic
	}
	return c.SubjectType
}

// GetSectorIdentifierURI returns the sector identifier URI.
func (c *OIDCClient) GetSectorIdentifierURI() string { return c.SectorIdentifierURI }

// GetIDTokenSignedResponseAlg returns the ID token signing algorithm, defaulting to RS256.
func (c *OIDCClient) GetIDTokenSignedResponseAlg() string {
	if c.IDTokenSignedResponseAlg == "" {
		return "RS256"
	}
	return c.IDTokenSignedResponseAlg
}

// EncryptsIDToken reports whether ID tokens must be wrapped as JWE.
func (c *OIDCClient) EncryptsIDToken() bool {
	return c.IDTokenEncryptedResponseAlg != ""
}

// Validate checks the OAuth invariants plus OIDC metadata consistency.
// Confidential clients authenticating with private_key_jwt need no secret.
func (c *OIDCClient) Validate() error {
	if err := c.OAuthClient.validate(c.TokenEndpointAuthMethod != oauth.AuthMethodPrivateKeyJWT); err != nil {
		return err
	}
	if c.JWKSValue != "" && c.JWKSURI != "" {
		return fmt.Errorf("client %s: jwks and jwks_uri are mutually exclusive", c.ID)
	}
	if c.TokenEndpointAuthMethod == oauth.AuthMethodPrivateKeyJWT && c.JWKSValue == "" && c.JWKSURI == "" {
		return fmt.Errorf("client %s: private_key_jwt requires jwks or jwks_uri", c.ID)
	}
	if c.JWKSURI != "" {
		if _, err := oauth.RequireHTTPS(c.JWKSURI); err != nil {
			return fmt.Errorf("client %s: jwks_uri: %w", c.ID, err)
		}
	}
	switch c.GetSubjectType() {
	case oauth.SubjectTypePublic, oauth.SubjectTypePairwise:
	default:
		return fmt.Errorf("client %s: unknown subject type %q", c.ID, c.SubjectType)
	}
	if c.SectorIdentifierURI != "" {
		if _, err := oauth.RequireHTTPS(c.SectorIdentifierURI); err != nil {
			return fmt.Errorf("client %s: sector_identifier_uri: %w", c.ID, err)
		}
	}
	if c.IDTokenSignedResponseAlg == "none" {
		return fmt.Errorf("client %s: id_token_signed_response_alg none is not allowed", c.ID)
	}
	if c.IDTokenEncryptedResponseEnc != "" && c.IDTokenEncryptedResponseAlg == "" {
		return fmt.Errorf("client %s: id_token_encrypted_response_enc requires id_token_encrypted_response_alg", c.ID)
	}
	switch c.TokenEndpointAuthMethod {
	case "", oauth.AuthMethodClientSecretBasic, oauth.AuthMethodClientSecretPost,
		oauth.AuthMethodClientSecretJWT, oauth.AuthMethodPrivateKeyJWT, oauth.AuthMethodNone:
	default:
		return fmt.Errorf("client %s: unknown token_endpoint_auth_method %q", c.ID, c.TokenEndpointAuthMethod)
	}
	return nil
}

// AsOIDC returns the OIDC variant of c, if it is one.
func AsOIDC(c Client) (*OIDCClient, bool) {
	switch v := c.(type) {
	case *OIDCClient:
		return v, true
	default:
		return nil, false
	}
}

// TokenEndpointAuthMethod returns the registered token endpoint authentication method, if any.
func TokenEndpointAuthMethod(c Client) string {
	if oc, ok := AsOIDC(c); ok {
		return oc.TokenEndpointAuthMethod
	}
	return ""
}

var (
	_ Client          = (*OAuthClient)(nil)
	_ Client          = (*OIDCClient)(nil)
	_ HasJWKS         = (*OIDCClient)(nil)
	_ HasSubjectType  = (*OIDCClient)(nil)
	_ HasRedirectURIs = (*OAuthClient)(nil)
)

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package clientauth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

var errMalformedBasic = errors.New("malformed basic credentials")

// SecretBasic implements client_secret_basic.
type SecretBasic struct {
	lookup client.Lookup
}

// NewSecretBasic creates a client_secret_basic authenticator.
func NewSecretBasic(lookup client.Lookup) *SecretBasic {
	return &SecretBasic{lookup: lookup}
}

// Method implements Authenticator.
func (*SecretBasic) Method() string { return oauth.AuthMethodClientSecretBasic }

// Authenticate implements Authenticator. Every header defect yields the same
// error so callers cannot tell which part was wrong.
func (a *SecretBasic) Authenticate(ctx context.Context, creds Credentials) (client.Client, error) {
	id, secret, err := parseBasic(creds.Header.Get("Authorization"))
	if err != nil {
		return nil, idperrors.InvalidClient(idperrors.SubUnauthorized, "client authentication failed").WithCause(err)
	}
	c, err := a.lookup.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := compareSecret(c, secret); err != nil {
		return nil, err
	}
	return c, nil
}

// parseBasic decodes "Basic base64(id:secret)". Both parts are form-urlencoded
// per RFC 6749 section 2.3.1.
func parseBasic(header string) (string, string, error) {
	const prefix = "basic "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", errMalformedBasic
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", errMalformedBasic
	}
	id, secret, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", errMalformedBasic
	}
	if id, err = url.QueryUnescape(id); err != nil {
		return "", "", errMalformedBasic
	}
	if secret, err = url.QueryUnescape(secret); err != nil {
		return "", "", errMalformedBasic
	}
	if id == "" || secret == "" {
		return "", "", errMalformedBasic
	}
	return id, secret, nil
}

// SecretPost implements client_secret_post.
type SecretPost struct {
	lookup client.Lookup
}

// NewSecretPost creates a client_secret_post authenticator.
func NewSecretPost(lookup client.Lookup) *SecretPost {
	return &SecretPost{lookup: lookup}
}

// Method implements Authenticator.
func (*SecretPost) Method() string { return oauth.AuthMethodClientSecretPost }

// Authenticate implements Authenticator.
func (a *SecretPost) Authenticate(ctx context.Context, creds Credentials) (client.Client, error) {
	id := creds.Form.Get(oauth.ParamClientID)
	secret := creds.Form.Get(oauth.ParamClientSecret)
	if id == "" || secret == "" {
		return nil, idperrors.InvalidClient(idperrors.SubAuthenticationRequired,
			"client_id and client_secret are required")
	}
	c, err := a.lookup.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := compareSecret(c, secret); err != nil {
		return nil, err
	}
	return c, nil
}

func compareSecret(c client.Client, secret string) error {
	hashed := c.GetHashedSecret()
	if c.IsPublic() || len(hashed) == 0 {
		return idperrors.InvalidClient(idperrors.SubAuthenticationFailed, "client has no secret")
	}
	if err := bcrypt.CompareHashAndPassword(hashed, []byte(secret)); err != nil {
		return idperrors.InvalidClient(idperrors.SubAuthenticationFailed, "client authentication failed")
	}
	return nil
}

// None implements the "none" method for public clients, which identify
// themselves by client_id alone.
type None struct {
	lookup client.Lookup
}

// NewNone creates a "none" authenticator.
func NewNone(lookup client.Lookup) *None {
	return &None{lookup: lookup}
}

// Method implements Authenticator.
func (*None) Method() string { return oauth.AuthMethodNone }

// Authenticate implements Authenticator.
func (a *None) Authenticate(ctx context.Context, creds Credentials) (client.Client, error) {
	id := creds.Form.Get(oauth.ParamClientID)
	if id == "" {
		return nil, idperrors.InvalidClient(idperrors.SubAuthenticationRequired, "client_id is required")
	}
	c, err := a.lookup.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsPublic() {
		return nil, idperrors.InvalidClient(idperrors.SubAuthenticationRequired, "client authentication is required")
	}
	return c, nil
}

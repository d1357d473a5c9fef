// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ory/fosite"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/clientauth"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/authserver/token"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// ClientAuthenticator authenticates the client of a token request.
type ClientAuthenticator interface {
	Authenticate(ctx context.Context, creds clientauth.Credentials) (client.Client, error)
}

// TokenBuilder builds token endpoint requests. The grant being redeemed is
// checked and merged in, but not consumed.
type TokenBuilder struct {
	auth    ClientAuthenticator
	codes   token.Strategy
	refresh token.Strategy
	store   storage.Storage
	tracer  trace.Tracer
}

// NewTokenBuilder creates a TokenBuilder.
func NewTokenBuilder(auth ClientAuthenticator, codes, refresh token.Strategy, store storage.Storage) *TokenBuilder {
	return &TokenBuilder{
		auth:    auth,
		codes:   codes,
		refresh: refresh,
		store:   store,
		tracer:  otel.Tracer(tracerName),
	}
}

// Build authenticates the client and loads the grant named by the form.
func (b *TokenBuilder) Build(ctx context.Context, header http.Header, raw url.Values) (_ *request.TokenRequest, retErr error) {
	ctx, span := b.tracer.Start(ctx, "builder.Token")
	defer func() {
		if retErr != nil {
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if err := rejectDuplicates(raw); err != nil {
		return nil, err
	}
	form := cloneForm(raw)

	grantType := form.Get(oauth.ParamGrantType)
	switch grantType {
	case "":
		return nil, idperrors.InvalidRequest(idperrors.SubMissingParam, "grant_type is required")
	case oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken:
	default:
		return nil, idperrors.UnsupportedGrantType(idperrors.SubUnsupportedGrant,
			fmt.Sprintf("grant_type %q is not supported", grantType))
	}
	span.SetAttributes(attribute.String("grant_type", grantType))

	c, err := b.auth.Authenticate(ctx, clientauth.Credentials{Header: header, Form: form})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("client_id", c.GetID()))
	if !c.GetGrantTypes().Has(grantType) {
		return nil, idperrors.UnauthorizedClient(idperrors.SubGrantTypeNotAllowed,
			fmt.Sprintf("the client is not allowed to use grant type %q", grantType))
	}

	tr := &request.TokenRequest{
		Request:   *request.New(c, form),
		GrantType: grantType,
	}
	tr.GrantTypes = fosite.Arguments{grantType}

	switch grantType {
	case oauth.GrantTypeAuthorizationCode:
		err = b.authorizationCode(ctx, tr)
	case oauth.GrantTypeRefreshToken:
		err = b.refreshToken(ctx, tr)
	}
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (b *TokenBuilder) authorizationCode(ctx context.Context, tr *request.TokenRequest) error {
	code := tr.Form.Get(oauth.ParamCode)
	if code == "" {
		return idperrors.InvalidRequest(idperrors.SubMissingParam, "code is required")
	}
	if err := b.codes.Verify(ctx, code, tr); err != nil {
		return err
	}
	prior, err := b.store.Store(storage.KindAuthorizeCode).Get(ctx, token.Signature(code))
	if err != nil {
		return err
	}
	if err := sameClient(tr, prior); err != nil {
		return err
	}

	// redirect_uri must repeat the authorize value when one was sent there
	tr.RedirectURI = tr.Form.Get(oauth.ParamRedirectURI)
	if want := prior.Form.Get(oauth.ParamRedirectURI); want != "" && tr.RedirectURI != want {
		return idperrors.InvalidGrant(idperrors.SubRedirectURIMismatch,
			"redirect_uri does not match the authorization request")
	}

	verifier := tr.Form.Get(oauth.ParamCodeVerifier)
	challenge := prior.Form.Get(oauth.ParamCodeChallenge)
	switch {
	case challenge == "" && verifier != "":
		return idperrors.InvalidGrant(idperrors.SubPKCEMismatch, "code_verifier sent for a grant without code_challenge")
	case challenge != "" && !oauth.VerifyPKCE(challenge, prior.Form.Get(oauth.ParamCodeChallengeMethod), verifier):
		return idperrors.InvalidGrant(idperrors.SubPKCEMismatch, "code_verifier does not match code_challenge")
	}

	tr.Code = code
	return tr.Merge(prior)
}

func (b *TokenBuilder) refreshToken(ctx context.Context, tr *request.TokenRequest) error {
	refresh := tr.Form.Get(oauth.ParamRefreshToken)
	if refresh == "" {
		return idperrors.InvalidRequest(idperrors.SubMissingParam, "refresh_token is required")
	}
	if err := b.refresh.Verify(ctx, refresh, tr); err != nil {
		return err
	}
	prior, err := b.store.Store(storage.KindRefreshToken).Get(ctx, token.Signature(refresh))
	if err != nil {
		return err
	}
	if err := sameClient(tr, prior); err != nil {
		return err
	}

	narrowed := oauth.ParseSpaceDelimited(tr.Form.Get(oauth.ParamScope))
	for _, scope := range narrowed {
		if !prior.GrantedScopes.Has(scope) {
			return idperrors.InvalidScope(idperrors.SubScopeNarrowing,
				fmt.Sprintf("scope %q was not granted originally", scope))
		}
	}

	tr.RefreshToken = refresh
	if err := tr.Merge(prior); err != nil {
		return err
	}
	if len(narrowed) > 0 {
		tr.RequestedScopes = narrowed
		tr.GrantedScopes = narrowed
	}
	return nil
}

func sameClient(tr *request.TokenRequest, prior *request.Request) error {
	if prior.Client == nil || prior.Client.GetID() != tr.Client.GetID() {
		return idperrors.InvalidGrant(idperrors.SubClientMismatch, "the grant was issued to another client")
	}
	return nil
}

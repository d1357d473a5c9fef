// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/builder"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/authserver/token"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/logger"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

const endpointAuthorize = "authorize"

// AuthorizeHandler handles GET and POST /oauth/authorize requests.
// It validates the request, attaches the logged in end-user and redirects
// back to the client with the requested response types.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if err := req.ParseForm(); err != nil {
		writeJSONError(w, idperrors.InvalidRequest("", "the request body could not be parsed").WithCause(err))
		return
	}

	ar, err := h.Authorize.Build(ctx, req.Form)
	if err != nil {
		writeAuthorizeError(w, req, err)
		return
	}

	user, err := h.Sessions.EndUser(req, ar)
	if err != nil {
		writeAuthorizeError(w, req, builder.NewRedirectError(ar,
			idperrors.ServerError("", "the end-user session could not be loaded").WithCause(err)))
		return
	}
	if user == nil {
		writeAuthorizeError(w, req, builder.NewRedirectError(ar,
			idperrors.LoginRequired(idperrors.SubLoginRequired, "the end-user is not authenticated")))
		return
	}
	applyEndUser(ar, user)
	if ar.OIDC != nil {
		if err := builder.EnsureValidAuthenticationState(ar, h.now()); err != nil {
			writeAuthorizeError(w, req, builder.NewRedirectError(ar, err))
			return
		}
	}

	// consent is collected outside this server
	for _, scope := range ar.RequestedScopes {
		ar.GrantScope(scope)
	}

	params, err := h.authorizeResponse(ctx, ar)
	if err != nil {
		writeAuthorizeError(w, req, builder.NewRedirectError(ar, err))
		return
	}
	logger.Debugw("authorization granted",
		"client_id", ar.Client.GetID(),
		"response_type", oauth.JoinSpaceDelimited(ar.ResponseTypes),
	)
	redirect(w, req, ar.RedirectURI, ar.DefaultResponseMode(), params)
}

// authorizeResponse issues and persists every requested response type.
func (h *Handler) authorizeResponse(ctx context.Context, ar *request.AuthorizeRequest) (url.Values, error) {
	now := h.now()
	params := url.Values{}
	var code, access token.Token

	if ar.ResponseTypes.Has(oauth.ResponseTypeCode) {
		ar.Session.SetExpiresAt(fosite.AuthorizeCode, now.Add(h.Lifespans.AuthorizeCode))
		var err error
		if code, err = h.Codes.Generate(ctx, ar); err != nil {
			return nil, err
		}
		if err := h.Storage.Store(storage.KindAuthorizeCode).Create(ctx, code.Signature(), &ar.Request); err != nil {
			return nil, persistError(err)
		}
		if ar.IsOpenID() {
			if err := h.Storage.Store(storage.KindOIDC).Create(ctx, code.Signature(), &ar.Request); err != nil {
				return nil, persistError(err)
			}
		}
		params.Set(oauth.ParamCode, code.Value)
		ar.SetResponseTypeHandled(oauth.ResponseTypeCode)
		h.Metrics.observe(string(fosite.AuthorizeCode), endpointAuthorize)
	}

	if ar.ResponseTypes.Has(oauth.ResponseTypeToken) {
		ar.Session.SetExpiresAt(fosite.AccessToken, now.Add(h.Lifespans.AccessToken))
		var err error
		if access, err = h.Access.Generate(ctx, ar); err != nil {
			return nil, err
		}
		if err := h.Storage.Store(storage.KindAccessToken).Create(ctx, access.Signature(), &ar.Request); err != nil {
			return nil, persistError(err)
		}
		params.Set("access_token", access.Value)
		params.Set("token_type", "bearer")
		params.Set("expires_in", strconv.FormatInt(int64(h.Lifespans.AccessToken.Seconds()), 10))
		params.Set(oauth.ParamScope, oauth.JoinSpaceDelimited(ar.GrantedScopes))
		ar.SetResponseTypeHandled(oauth.ResponseTypeToken)
		h.Metrics.observe(string(fosite.AccessToken), endpointAuthorize)
	}

	if ar.ResponseTypes.Has(oauth.ResponseTypeIDToken) {
		ar.Session.SetExpiresAt(token.IDToken, now.Add(h.Lifespans.IDToken))
		idToken, err := h.IDTokens.GenerateWithHashes(ctx, ar, token.Hashes{AccessToken: access.Value, Code: code.Value})
		if err != nil {
			return nil, err
		}
		params.Set(string(token.IDToken), idToken.Value)
		ar.SetResponseTypeHandled(oauth.ResponseTypeIDToken)
		h.Metrics.observe(string(token.IDToken), endpointAuthorize)
	}

	if ar.ResponseTypes.Has(oauth.ResponseTypeNone) {
		ar.SetResponseTypeHandled(oauth.ResponseTypeNone)
	}
	if !ar.DidHandleAllResponseTypes() {
		return nil, idperrors.ServerError("", fmt.Sprintf("response_type %q was not handled",
			oauth.JoinSpaceDelimited(ar.ResponseTypes)))
	}

	params.Set(oauth.ParamState, ar.State)
	return params, nil
}

// persistError keeps taxonomy errors and turns storage failures into server_error.
func persistError(err error) error {
	if _, ok := idperrors.As(err); ok {
		return err
	}
	return idperrors.ServerError("", "failed to persist the grant").WithCause(err)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"net/http"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/authserver/token"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/logger"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

const endpointToken = "token"

// tokenResponse is the successful token response of RFC 6749 section 5.1.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// TokenHandler handles POST /oauth/token requests.
// It redeems authorization codes and refresh tokens for new tokens.
func (h *Handler) TokenHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if err := req.ParseForm(); err != nil {
		writeJSONError(w, idperrors.InvalidRequest("", "the request body could not be parsed").WithCause(err))
		return
	}

	tr, err := h.Tokens.Build(ctx, req.Header, req.PostForm)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	resp, err := h.issueTokens(ctx, tr)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	logger.Debugw("tokens issued",
		"client_id", tr.Client.GetID(),
		"grant_type", tr.GrantType,
		"refresh_token", resp.RefreshToken != "",
		"id_token", resp.IDToken != "",
	)
	writeJSON(w, http.StatusOK, resp)
}

// issueTokens consumes the redeemed grant and issues the new tokens.
func (h *Handler) issueTokens(ctx context.Context, tr *request.TokenRequest) (*tokenResponse, error) {
	openID, err := h.consumeGrant(ctx, tr)
	if err != nil {
		return nil, err
	}
	if tr.Session == nil {
		return nil, idperrors.ServerError(idperrors.SubSessionRequired, "the grant carries no session")
	}

	now := h.now()
	tr.Session.SetExpiresAt(fosite.AccessToken, now.Add(h.Lifespans.AccessToken))
	access, err := h.Access.Generate(ctx, tr)
	if err != nil {
		return nil, err
	}
	if err := h.Storage.Store(storage.KindAccessToken).Create(ctx, access.Signature(), &tr.Request); err != nil {
		return nil, persistError(err)
	}
	h.Metrics.observe(string(fosite.AccessToken), endpointToken)

	resp := &tokenResponse{
		AccessToken: access.Value,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.Lifespans.AccessToken.Seconds()),
		Scope:       oauth.JoinSpaceDelimited(tr.GrantedScopes),
	}

	if issuesRefreshToken(tr) {
		tr.Session.SetExpiresAt(fosite.RefreshToken, now.Add(h.Lifespans.RefreshToken))
		refresh, err := h.Refresh.Generate(ctx, tr)
		if err != nil {
			return nil, err
		}
		if err := h.Storage.Store(storage.KindRefreshToken).Create(ctx, refresh.Signature(), &tr.Request); err != nil {
			return nil, persistError(err)
		}
		resp.RefreshToken = refresh.Value
		h.Metrics.observe(string(fosite.RefreshToken), endpointToken)
	}

	if _, isOIDC := client.AsOIDC(tr.Client); openID && isOIDC {
		tr.Session.SetExpiresAt(token.IDToken, now.Add(h.Lifespans.IDToken))
		idToken, err := h.IDTokens.GenerateWithHashes(ctx, tr, token.Hashes{AccessToken: access.Value})
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken.Value
		h.Metrics.observe(string(token.IDToken), endpointToken)
	}
	return resp, nil
}

// consumeGrant makes the redeemed grant unusable and reports whether an ID
// token is due. Invalidation comes first and succeeds for exactly one of
// several concurrent redemptions. Codes stay invalidated so a replay is
// recognized; a rotated refresh token revokes every token of its grant.
func (h *Handler) consumeGrant(ctx context.Context, tr *request.TokenRequest) (bool, error) {
	switch tr.GrantType {
	case oauth.GrantTypeAuthorizationCode:
		signature := token.Signature(tr.Code)
		if err := h.Storage.Store(storage.KindAuthorizeCode).Invalidate(ctx, signature); err != nil {
			return false, persistError(err)
		}
		oidcStore := h.Storage.Store(storage.KindOIDC)
		if _, err := oidcStore.Get(ctx, signature); err != nil {
			if idperrors.IsInvalidGrant(err) {
				return false, nil
			}
			return false, persistError(err)
		}
		if err := oidcStore.Delete(ctx, signature); err != nil {
			logger.Warnw("failed to delete OpenID Connect request", "request_id", tr.ID, "error", err)
		}
		return true, nil

	case oauth.GrantTypeRefreshToken:
		if err := h.Storage.Store(storage.KindRefreshToken).Invalidate(ctx, token.Signature(tr.RefreshToken)); err != nil {
			return false, persistError(err)
		}
		for _, kind := range []storage.Kind{storage.KindRefreshToken, storage.KindAccessToken} {
			if err := h.Storage.Store(kind).DeleteByRequestID(ctx, tr.ID); err != nil {
				return false, persistError(err)
			}
		}
		return tr.GrantedScopes.Has(oauth.ScopeOpenID), nil
	}
	return false, idperrors.UnsupportedGrantType(idperrors.SubUnsupportedGrant, "unsupported grant type")
}

// issuesRefreshToken reports whether the response carries a refresh token:
// when offline_access was granted, or when rotating an existing one.
func issuesRefreshToken(tr *request.TokenRequest) bool {
	if !tr.Client.GetGrantTypes().Has(oauth.GrantTypeRefreshToken) {
		return false
	}
	return tr.GrantedScopes.Has(oauth.ScopeOfflineAccess) || tr.GrantType == oauth.GrantTypeRefreshToken
}

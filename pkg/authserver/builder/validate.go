// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"fmt"
	"time"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// validate runs the client policy checks on a populated request.
func (b *AuthorizeBuilder) validate(ar *request.AuthorizeRequest) error {
	c := ar.Client
	if err := validateScopes(c, ar.RequestedScopes); err != nil {
		return err
	}
	if err := validateResponseTypes(c, ar.ResponseTypes); err != nil {
		return err
	}
	if err := validateGrantTypes(c, ar.GrantTypes); err != nil {
		return err
	}
	if b.requirePKCEForPublic && c.IsPublic() && ar.ResponseTypes.Has(oauth.ResponseTypeCode) &&
		ar.Form.Get(oauth.ParamCodeChallenge) == "" {
		return idperrors.InvalidRequest(idperrors.SubInvalidPKCE, "public clients must use PKCE")
	}
	return nil
}

// validateScopes checks that every requested scope is registered for the client.
func validateScopes(c client.Client, requested fosite.Arguments) error {
	for _, scope := range requested {
		if !fosite.ExactScopeStrategy(c.GetScopes(), scope) {
			return idperrors.InvalidScope(idperrors.SubScopeNotAllowed,
				fmt.Sprintf("the client is not allowed to request scope %q", scope))
		}
	}
	return nil
}

// validateResponseTypes checks that the requested combination matches one of
// the client's registered response types, ignoring order.
func validateResponseTypes(c client.Client, requested fosite.Arguments) error {
	for _, registered := range c.GetResponseTypes() {
		if oauth.ParseSpaceDelimited(registered).Matches(requested...) {
			return nil
		}
	}
	return idperrors.UnauthorizedClient(idperrors.SubResponseTypeNotAllowed,
		fmt.Sprintf("the client is not allowed to use response_type %q", oauth.JoinSpaceDelimited(requested)))
}

func validateGrantTypes(c client.Client, required fosite.Arguments) error {
	for _, gt := range required {
		if !c.GetGrantTypes().Has(gt) {
			return idperrors.UnauthorizedClient(idperrors.SubGrantTypeNotAllowed,
				fmt.Sprintf("the client is not allowed to use grant type %q", gt))
		}
	}
	return nil
}

// EnsureValidAuthenticationState checks the session's auth_time against the
// request's prompt and max_age parameters. An unauthenticated session fails
// for prompt none and prompt login; otherwise the end-user still has to log in.
func EnsureValidAuthenticationState(ar *request.AuthorizeRequest, now time.Time) error {
	sess, ok := ar.Session.(*request.OIDCSession)
	if !ok {
		return idperrors.ServerError(idperrors.SubSessionRequired, "an OpenID Connect session is required")
	}
	params := ar.OIDC
	if params == nil {
		params = &request.OIDCParams{}
	}

	authTime, authenticated := sess.AuthTime()
	requestTime, ok := sess.RequestTime()
	if !ok {
		requestTime = ar.RequestedAt
	}

	if authenticated && authTime.After(now) {
		return idperrors.ServerError(idperrors.SubFutureAuthTime, "auth_time is in the future")
	}

	if params.Prompts.Has(oauth.PromptNone) && len(params.Prompts) > 1 {
		return idperrors.InvalidRequest(idperrors.SubInvalidPrompt, "prompt none cannot be combined with other values")
	}

	if authenticated && params.HasMaxAge &&
		authTime.Add(time.Duration(params.MaxAge)*time.Second).Before(requestTime) {
		return idperrors.LoginRequired(idperrors.SubLoginRequired, "the end-user authentication is older than max_age")
	}

	switch {
	case params.Prompts.Has(oauth.PromptNone):
		if !authenticated {
			return idperrors.LoginRequired(idperrors.SubLoginRequired, "the end-user is not authenticated")
		}
		if authTime.After(requestTime) {
			return idperrors.LoginRequired(idperrors.SubLoginRequired,
				"the end-user authenticated after the request although prompt is none")
		}
	case params.Prompts.Has(oauth.PromptLogin):
		if !authenticated {
			return idperrors.LoginRequired(idperrors.SubReLoginRequired,
				"the end-user must authenticate because prompt is login")
		}
		if authTime.Before(requestTime) {
			return idperrors.LoginRequired(idperrors.SubReLoginRequired,
				"the end-user must re-authenticate because prompt is login")
		}
	}
	return nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"strings"

	"github.com/ory/fosite"
)

// Request parameter names.
const (
	ParamClientID            = "client_id"
	ParamClientSecret        = "client_secret"
	ParamClientAssertion     = "client_assertion"
	ParamClientAssertionType = "client_assertion_type"
	ParamResponseType        = "response_type"
	ParamResponseMode        = "response_mode"
	ParamRedirectURI         = "redirect_uri"
	ParamScope               = "scope"
	ParamState               = "state"
	ParamGrantType           = "grant_type"
	ParamCode                = "code"
	ParamRefreshToken        = "refresh_token"
	ParamNonce               = "nonce"
	ParamPrompt              = "prompt"
	ParamMaxAge              = "max_age"
	ParamIDTokenHint         = "id_token_hint"
	ParamLoginHint           = "login_hint"
	ParamDisplay             = "display"
	ParamUILocales           = "ui_locales"
	ParamClaimsLocales       = "claims_locales"
	ParamClaims              = "claims"
	ParamACRValues           = "acr_values"
	ParamRequest             = "request"
	ParamRequestURI          = "request_uri"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamCodeVerifier        = "code_verifier"
)

// Response types.
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
	ResponseTypeNone    = "none"
)

// Response modes.
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
)

// Grant types.
const (
	GrantTypeAuthorizationCode = string(fosite.GrantTypeAuthorizationCode)
	GrantTypeRefreshToken      = string(fosite.GrantTypeRefreshToken)
	GrantTypeImplicit          = string(fosite.GrantTypeImplicit)
	GrantTypeClientCredentials = string(fosite.GrantTypeClientCredentials)
)

// Scopes with protocol meaning.
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// Prompt values defined by OIDC Core section 3.1.2.1.
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

// Token endpoint authentication methods.
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodClientSecretJWT   = "client_secret_jwt"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodNone              = "none"
)

// ClientAssertionTypeJWTBearer is the only assertion type defined by RFC 7523.
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Subject types.
const (
	SubjectTypePublic   = "public"
	SubjectTypePairwise = "pairwise"
)

// ID token claim names beyond the registered JWT claims.
const (
	ClaimNonce           = "nonce"
	ClaimAuthTime        = "auth_time"
	ClaimRequestTime     = "rat"
	ClaimACR             = "acr"
	ClaimAuthorizedParty = "azp"
	ClaimScope           = "scope"
	ClaimClientID        = "client_id"
)

// KnownResponseTypes lists the response type tokens this server understands.
var KnownResponseTypes = fosite.Arguments{ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken, ResponseTypeNone}

// KnownPrompts lists the prompt values this server understands.
var KnownPrompts = fosite.Arguments{PromptNone, PromptLogin, PromptConsent, PromptSelectAccount}

// ParseSpaceDelimited splits a space-delimited parameter into a de-duplicated set,
// preserving first-seen order.
func ParseSpaceDelimited(value string) fosite.Arguments {
	fields := strings.Fields(value)
	out := make(fosite.Arguments, 0, len(fields))
	for _, f := range fields {
		if !out.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// JoinSpaceDelimited is the inverse of ParseSpaceDelimited.
func JoinSpaceDelimited(values fosite.Arguments) string {
	return strings.Join(values, " ")
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// overrideIfAbsent lists request object claims adopted only when the URL
// does not carry the parameter.
var overrideIfAbsent = []string{
	oauth.ParamRedirectURI,
	oauth.ParamState,
	oauth.ParamNonce,
	oauth.ParamResponseMode,
	oauth.ParamMaxAge,
	oauth.ParamIDTokenHint,
	oauth.ParamLoginHint,
	oauth.ParamDisplay,
	oauth.ParamUILocales,
	oauth.ParamClaimsLocales,
	oauth.ParamClaims,
	oauth.ParamCodeChallenge,
	oauth.ParamCodeChallengeMethod,
}

// concatenated lists space-delimited parameters whose URL and request object
// values are combined, URL value first.
var concatenated = []string{
	oauth.ParamResponseType,
	oauth.ParamScope,
	oauth.ParamPrompt,
	oauth.ParamACRValues,
}

var requestObjectAlgorithms = []string{
	"RS256", "RS384", "RS512", "PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512", "EdDSA", "HS256", "HS384", "HS512",
}

// verifyRequestObject checks the request object's signature with the client's
// keys and returns its claims.
func (b *AuthorizeBuilder) verifyRequestObject(ctx context.Context, raw string, c client.Client) (jwt.MapClaims, error) {
	algs := requestObjectAlgorithms
	var registered string
	if oc, ok := client.AsOIDC(c); ok {
		registered = oc.RequestObjectSigningAlg
	}
	if registered != "" {
		algs = []string{registered}
	}

	parser := jwt.NewParser(jwt.WithValidMethods(algs), jwt.WithTimeFunc(b.now))
	claims := jwt.MapClaims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() == jwt.SigningMethodNone.Alg() {
			return jwt.UnsafeAllowNoneSignatureType, nil
		}
		return b.clientKeys.VerificationKey(ctx, c, t)
	})
	if err != nil {
		if e, ok := idperrors.As(err); ok {
			return nil, e
		}
		sub := idperrors.SubContentInvalid
		if registered != "" && tok != nil && tok.Method != nil && tok.Method.Alg() != registered {
			sub = idperrors.SubAlgorithmMismatch
		}
		return nil, idperrors.InvalidRequestObject(sub, "request object could not be verified").WithCause(err)
	}

	if iss, ok := claims["iss"].(string); ok && iss != c.GetID() {
		return nil, idperrors.InvalidRequestObject(idperrors.SubInvalidRequestObjectClaim, "request object iss must be the client_id")
	}
	if id, ok := claims[oauth.ParamClientID].(string); ok && id != c.GetID() {
		return nil, idperrors.InvalidRequestObject(idperrors.SubInvalidRequestObjectClaim, "request object client_id does not match")
	}
	if _, present := claims["aud"]; present && b.issuer != "" {
		aud, err := claims.GetAudience()
		if err != nil || !slices.Contains(aud, b.issuer) {
			return nil, idperrors.InvalidRequestObject(idperrors.SubInvalidRequestObjectClaim, "request object aud must include the issuer")
		}
	}
	for _, nested := range []string{oauth.ParamRequest, oauth.ParamRequestURI} {
		if _, present := claims[nested]; present {
			return nil, idperrors.InvalidRequestObject(idperrors.SubInvalidRequestObjectClaim,
				fmt.Sprintf("request object must not contain %s", nested))
		}
	}
	return claims, nil
}

// mergeRequestObject folds request object claims into form.
func mergeRequestObject(form url.Values, claims jwt.MapClaims) error {
	for _, k := range overrideIfAbsent {
		if form.Get(k) != "" {
			continue
		}
		v, ok, err := claimString(claims, k)
		if err != nil {
			return err
		}
		if ok {
			form.Set(k, v)
		}
	}
	for _, k := range concatenated {
		v, ok, err := claimString(claims, k)
		if err != nil {
			return err
		}
		if ok {
			form.Set(k, joinSpaced(form.Get(k), v))
		}
	}
	return nil
}

// claimString renders a claim as a form value: strings as-is, numbers in
// decimal, objects and arrays as JSON.
func claimString(claims jwt.MapClaims, name string) (string, bool, error) {
	raw, ok := claims[name]
	if !ok || raw == nil {
		return "", false, nil
	}
	switch v := raw.(type) {
	case string:
		return v, v != "", nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false, idperrors.InvalidRequestObject(idperrors.SubInvalidRequestObjectClaim,
				fmt.Sprintf("request object claim %s is invalid", name)).WithCause(err)
		}
		return string(b), true, nil
	}
}

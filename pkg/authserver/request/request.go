// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package request holds the typed authorize and token requests produced by the
// builder pipeline, their sessions, and the merge and sanitize operations used
// when a request is persisted alongside an issued token and later redeemed.
package request

import (
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// DefaultSanitizeAllowList is the set of form keys that survive sanitization.
// Anything else (state, request objects, hints, credentials, codes) is dropped
// so untrusted input is never replayed from storage.
var DefaultSanitizeAllowList = []string{
	oauth.ParamClientID,
	oauth.ParamRedirectURI,
	oauth.ParamScope,
	oauth.ParamResponseType,
	oauth.ParamGrantType,
	oauth.ParamNonce,
	oauth.ParamMaxAge,
	oauth.ParamACRValues,
	oauth.ParamClaims,
	oauth.ParamCodeChallenge,
	oauth.ParamCodeChallengeMethod,
}

// Requester is implemented by every concrete request kind.
type Requester interface {
	GetRequest() *Request
}

// Request holds the fields shared by authorize and token requests.
//
// Once built, only GrantedScopes changes, through GrantScope.
type Request struct {
	ID              string           `json:"id"`
	RequestedAt     time.Time        `json:"requested_at"`
	Client          client.Client    `json:"-"`
	RequestedScopes fosite.Arguments `json:"requested_scopes"`
	GrantedScopes   fosite.Arguments `json:"granted_scopes"`
	GrantTypes      fosite.Arguments `json:"grant_types"`
	Session         fosite.Session   `json:"-"`
	Form            url.Values       `json:"form"`
}

// New returns a request with a fresh ID and timestamp.
func New(c client.Client, form url.Values) *Request {
	return &Request{
		ID:          uuid.NewString(),
		RequestedAt: time.Now().UTC().Truncate(time.Second),
		Client:      c,
		Form:        form,
	}
}

// GetRequest returns the request itself.
func (r *Request) GetRequest() *Request { return r }

// GrantScope adds scope to the granted set.
func (r *Request) GrantScope(scope string) {
	if !r.GrantedScopes.Has(scope) {
		r.GrantedScopes = append(r.GrantedScopes, scope)
	}
}

// IsOpenID reports whether the openid scope was requested.
func (r *Request) IsOpenID() bool {
	return r.RequestedScopes.Has(oauth.ScopeOpenID)
}

// Sanitize returns an independent copy whose form keeps only allowed keys.
// With no keys given, DefaultSanitizeAllowList applies.
func (r *Request) Sanitize(allowed ...string) *Request {
	if len(allowed) == 0 {
		allowed = DefaultSanitizeAllowList
	}

	form := url.Values{}
	for _, k := range allowed {
		if v, ok := r.Form[k]; ok {
			form[k] = slices.Clone(v)
		}
	}
	return r.copyWithForm(form)
}

// Clone returns an independent deep copy.
func (r *Request) Clone() *Request {
	form := make(url.Values, len(r.Form))
	for k, v := range r.Form {
		form[k] = slices.Clone(v)
	}
	return r.copyWithForm(form)
}

func (r *Request) copyWithForm(form url.Values) *Request {
	out := &Request{
		ID:              r.ID,
		RequestedAt:     r.RequestedAt,
		Client:          r.Client,
		RequestedScopes: slices.Clone(r.RequestedScopes),
		GrantedScopes:   slices.Clone(r.GrantedScopes),
		GrantTypes:      slices.Clone(r.GrantTypes),
		Form:            form,
	}
	if r.Session != nil {
		out.Session = r.Session.Clone()
	}
	return out
}

// Merge folds other into r: grant types, scopes and form parameters are
// unioned, and r adopts other's ID and a clone of its session. The two
// requests must belong to the same client and carry compatible sessions.
func (r *Request) Merge(other Requester) error {
	o := other.GetRequest()

	if r.Client != nil && o.Client != nil && r.Client.GetID() != o.Client.GetID() {
		return idperrors.InvalidGrant(idperrors.SubClientMismatch,
			"the grant was issued to another client")
	}
	if r.Session != nil && o.Session != nil && reflect.TypeOf(r.Session) != reflect.TypeOf(o.Session) {
		return idperrors.ServerError(idperrors.SubIncompatibleRequestMerge,
			fmt.Sprintf("cannot merge %T into %T", o.Session, r.Session))
	}

	r.ID = o.ID
	if r.Client == nil {
		r.Client = o.Client
	}
	r.GrantTypes = union(r.GrantTypes, o.GrantTypes)
	r.RequestedScopes = union(r.RequestedScopes, o.RequestedScopes)
	r.GrantedScopes = union(r.GrantedScopes, o.GrantedScopes)

	if r.Form == nil {
		r.Form = url.Values{}
	}
	for k, v := range o.Form {
		if _, exists := r.Form[k]; !exists {
			r.Form[k] = slices.Clone(v)
		}
	}

	if o.Session != nil {
		r.Session = o.Session.Clone()
	}
	return nil
}

func union(a, b fosite.Arguments) fosite.Arguments {
	out := slices.Clone(a)
	for _, v := range b {
		if !out.Has(v) {
			out = append(out, v)
		}
	}
	return out
}

// AuthorizeRequest is a validated authorization endpoint request.
type AuthorizeRequest struct {
	Request

	ResponseTypes fosite.Arguments
	ResponseMode  string
	RedirectURI   *url.URL
	State         string

	// OIDC is non-nil for OpenID Connect requests.
	OIDC *OIDCParams

	handled fosite.Arguments
}

// OIDCParams are the OpenID Connect specific authorize parameters.
type OIDCParams struct {
	Nonce       string
	Prompts     fosite.Arguments
	MaxAge      int64
	HasMaxAge   bool
	IDTokenHint string
	LoginHint   string
	ACRValues   fosite.Arguments
	Display     string
	UILocales   fosite.Arguments
	Claims      string
}

// SetResponseTypeHandled marks a response type as handled.
func (ar *AuthorizeRequest) SetResponseTypeHandled(rt string) {
	if !ar.handled.Has(rt) {
		ar.handled = append(ar.handled, rt)
	}
}

// DidHandleAllResponseTypes reports whether every requested response type was handled.
func (ar *AuthorizeRequest) DidHandleAllResponseTypes() bool {
	for _, rt := range ar.ResponseTypes {
		if !ar.handled.Has(rt) {
			return false
		}
	}
	return len(ar.ResponseTypes) > 0
}

// DefaultResponseMode returns the response mode to render with: the explicit
// response_mode when given, otherwise query for a pure code flow (or when the
// response type is not yet known) and fragment for anything returning tokens
// from the authorization endpoint.
func (ar *AuthorizeRequest) DefaultResponseMode() string {
	if ar.ResponseMode != "" {
		return ar.ResponseMode
	}
	if len(ar.ResponseTypes) == 0 || ar.ResponseTypes.ExactOne(oauth.ResponseTypeCode) ||
		ar.ResponseTypes.ExactOne(oauth.ResponseTypeNone) {
		return oauth.ResponseModeQuery
	}
	return oauth.ResponseModeFragment
}

// TokenRequest is a token endpoint request.
type TokenRequest struct {
	Request

	GrantType    string
	Code         string
	RefreshToken string
	RedirectURI  string
}

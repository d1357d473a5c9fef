// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package builder turns raw authorize and token endpoint forms into fully
// populated, validated requests.
package builder

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/clientkeys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	"github.com/stacklok/toolhive-idp/pkg/authserver/vor"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/logger"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

const tracerName = "github.com/stacklok/toolhive-idp/pkg/authserver/builder"

// DefaultMinStateEntropy is the default minimum state length.
const DefaultMinStateEntropy = 8

// SessionFunc fills the fresh session of a built request before validation,
// typically from the end-user's login state.
type SessionFunc func(ctx context.Context, ar *request.AuthorizeRequest) error

// RedirectError is returned once the redirect URI and state are known, so the
// error can be delivered to the client through a redirect.
type RedirectError struct {
	Err          *idperrors.Error
	RedirectURI  *url.URL
	State        string
	ResponseMode string
}

// Error implements error.
func (e *RedirectError) Error() string { return e.Err.Error() }

// Unwrap returns the protocol error.
func (e *RedirectError) Unwrap() error { return e.Err }

// NewRedirectError addresses err to the redirect URI of ar. Errors outside
// the protocol taxonomy become server_error.
func NewRedirectError(ar *request.AuthorizeRequest, err error) *RedirectError {
	e, ok := idperrors.As(err)
	if !ok {
		e = idperrors.ServerError("", "authorization request failed").WithCause(err)
	}
	return &RedirectError{Err: e, RedirectURI: ar.RedirectURI, State: ar.State, ResponseMode: ar.DefaultResponseMode()}
}

// AuthorizeOption configures an AuthorizeBuilder.
type AuthorizeOption func(*AuthorizeBuilder)

// WithMinStateEntropy sets the minimum state length.
func WithMinStateEntropy(n int) AuthorizeOption {
	return func(b *AuthorizeBuilder) { b.minStateEntropy = n }
}

// WithRequestObjectRequired makes OpenID Connect requests without a request
// object fail.
func WithRequestObjectRequired() AuthorizeOption {
	return func(b *AuthorizeBuilder) { b.requireRequestObject = true }
}

// WithPKCERequiredForPublicClients makes code requests from public clients
// without a code_challenge fail.
func WithPKCERequiredForPublicClients(required bool) AuthorizeOption {
	return func(b *AuthorizeBuilder) { b.requirePKCEForPublic = required }
}

// WithSessionFunc sets the hook that fills the session before validation.
func WithSessionFunc(f SessionFunc) AuthorizeOption {
	return func(b *AuthorizeBuilder) { b.session = f }
}

// WithIssuer sets the issuer that request object audiences must include.
func WithIssuer(issuer string) AuthorizeOption {
	return func(b *AuthorizeBuilder) { b.issuer = issuer }
}

// WithAuthorizeClock overrides the time source.
func WithAuthorizeClock(now func() time.Time) AuthorizeOption {
	return func(b *AuthorizeBuilder) { b.now = now }
}

// AuthorizeBuilder builds authorization endpoint requests.
type AuthorizeBuilder struct {
	lookup         client.Lookup
	requestObjects *vor.Resolver[string]
	clientKeys     *clientkeys.Resolver

	issuer               string
	minStateEntropy      int
	requireRequestObject bool
	requirePKCEForPublic bool
	session              SessionFunc
	now                  func() time.Time
	tracer               trace.Tracer
}

// NewAuthorizeBuilder creates an AuthorizeBuilder. requestObjects resolves
// request and request_uri into compact JWTs.
func NewAuthorizeBuilder(
	lookup client.Lookup,
	requestObjects *vor.Resolver[string],
	clientKeys *clientkeys.Resolver,
	opts ...AuthorizeOption,
) *AuthorizeBuilder {
	b := &AuthorizeBuilder{
		lookup:               lookup,
		requestObjects:       requestObjects,
		clientKeys:           clientKeys,
		minStateEntropy:      DefaultMinStateEntropy,
		requirePKCEForPublic: true,
		now:                  time.Now,
		tracer:               otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build parses, populates and validates an authorization request. Errors that
// occur after the redirect URI and state are known are *RedirectError.
func (b *AuthorizeBuilder) Build(ctx context.Context, raw url.Values) (_ *request.AuthorizeRequest, retErr error) {
	ctx, span := b.tracer.Start(ctx, "builder.Authorize")
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

	clientID := form.Get(oauth.ParamClientID)
	if clientID == "" {
		return nil, idperrors.InvalidRequest(idperrors.SubMissingParam, "client_id is required")
	}
	span.SetAttributes(attribute.String("client_id", clientID))

	// The client lookup runs while the request object is resolved.
	g, gctx := errgroup.WithContext(ctx)
	var c client.Client
	g.Go(func() error {
		found, err := b.lookup.Find(gctx, clientID)
		c = found
		return err
	})

	var roRaw string
	if oauth.ParseSpaceDelimited(form.Get(oauth.ParamScope)).Has(oauth.ScopeOpenID) {
		g.Go(func() error {
			value, uri := form.Get(oauth.ParamRequest), form.Get(oauth.ParamRequestURI)
			if b.requestObjects == nil {
				if value != "" || uri != "" || b.requireRequestObject {
					return idperrors.InvalidRequestObject(idperrors.SubAcquireFailed, "request objects are not supported")
				}
				return nil
			}
			ro, found, err := b.requestObjects.Resolve(gctx, value, uri)
			if err != nil {
				// a bad inline value is a bad request object, not a bad URI
				if e, ok := idperrors.As(err); ok && value != "" && uri == "" {
					return idperrors.InvalidRequestObject(e.SubCode, e.Description).WithCause(e.Cause)
				}
				return err
			}
			if !found && (value != "" || uri != "" || b.requireRequestObject) {
				return idperrors.InvalidRequestObject(idperrors.SubAcquireFailed, "request object could not be acquired")
			}
			roRaw = ro
			return nil
		})
	} else if form.Has(oauth.ParamRequest) || form.Has(oauth.ParamRequestURI) {
		logger.Debugw("ignoring request object on a non-OpenID request", "client_id", clientID)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if roRaw != "" {
		claims, err := b.verifyRequestObject(ctx, roRaw, c)
		if err != nil {
			return nil, err
		}
		if err := mergeRequestObject(form, claims); err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Bool("request_object", true))
	}

	ar, err := b.populate(c, form)
	if err != nil {
		return nil, err
	}
	if err := b.validate(ar); err != nil {
		return nil, NewRedirectError(ar, err)
	}
	// Without a session hook the end-user is attached by the caller, which
	// then runs EnsureValidAuthenticationState itself.
	if b.session != nil {
		if err := b.session(ctx, ar); err != nil {
			return nil, NewRedirectError(ar, err)
		}
		if ar.OIDC != nil {
			if err := EnsureValidAuthenticationState(ar, b.now()); err != nil {
				return nil, NewRedirectError(ar, err)
			}
		}
	}
	return ar, nil
}

// populate fills the typed fields. redirect_uri and state come first so later
// failures can be redirected.
func (b *AuthorizeBuilder) populate(c client.Client, form url.Values) (*request.AuthorizeRequest, error) {
	redirectURI, err := selectRedirectURI(c, form.Get(oauth.ParamRedirectURI))
	if err != nil {
		return nil, err
	}

	state := form.Get(oauth.ParamState)
	switch {
	case state == "":
		return nil, idperrors.InvalidRequest(idperrors.SubMissingState, "state is required")
	case len(state) < b.minStateEntropy:
		return nil, idperrors.InvalidRequest(idperrors.SubInsufficientStateEntropy,
			fmt.Sprintf("state must be at least %d characters long", b.minStateEntropy))
	}

	ar := &request.AuthorizeRequest{
		Request:     *request.New(c, form),
		RedirectURI: redirectURI,
		State:       state,
	}
	ar.RequestedAt = b.now().UTC().Truncate(time.Second)
	fail := func(err *idperrors.Error) error { return NewRedirectError(ar, err) }

	ar.ResponseTypes = oauth.ParseSpaceDelimited(form.Get(oauth.ParamResponseType))
	if len(ar.ResponseTypes) == 0 {
		return nil, fail(idperrors.InvalidRequest(idperrors.SubMissingResponseType, "response_type is required"))
	}
	for _, rt := range ar.ResponseTypes {
		if !oauth.KnownResponseTypes.Has(rt) {
			return nil, fail(idperrors.UnsupportedResponseType(idperrors.SubUnknownResponseType,
				fmt.Sprintf("response_type %q is not supported", rt)))
		}
	}
	if ar.ResponseTypes.Has(oauth.ResponseTypeNone) && len(ar.ResponseTypes) > 1 {
		return nil, fail(idperrors.UnsupportedResponseType(idperrors.SubUnknownResponseType,
			"response_type none cannot be combined"))
	}

	switch mode := form.Get(oauth.ParamResponseMode); mode {
	case "", oauth.ResponseModeQuery, oauth.ResponseModeFragment:
		ar.ResponseMode = mode
	default:
		return nil, fail(idperrors.InvalidRequest(idperrors.SubUnsupportedResponseMode,
			fmt.Sprintf("response_mode %q is not supported", mode)))
	}
	if ar.ResponseMode == oauth.ResponseModeQuery && !ar.ResponseTypes.ExactOne(oauth.ResponseTypeCode) &&
		!ar.ResponseTypes.ExactOne(oauth.ResponseTypeNone) {
		return nil, fail(idperrors.InvalidRequest(idperrors.SubUnsupportedResponseMode,
			"tokens must not be returned in the query"))
	}

	ar.RequestedScopes = oauth.ParseSpaceDelimited(form.Get(oauth.ParamScope))
	if ar.ResponseTypes.Has(oauth.ResponseTypeCode) {
		ar.GrantTypes = append(ar.GrantTypes, oauth.GrantTypeAuthorizationCode)
	}
	if ar.ResponseTypes.Has(oauth.ResponseTypeToken) || ar.ResponseTypes.Has(oauth.ResponseTypeIDToken) {
		ar.GrantTypes = append(ar.GrantTypes, oauth.GrantTypeImplicit)
	}

	if method := form.Get(oauth.ParamCodeChallengeMethod); !oauth.IsKnownPKCEMethod(method) {
		return nil, fail(idperrors.InvalidRequest(idperrors.SubInvalidPKCE,
			fmt.Sprintf("code_challenge_method %q is not supported", method)))
	}
	if form.Get(oauth.ParamCodeChallengeMethod) != "" && form.Get(oauth.ParamCodeChallenge) == "" {
		return nil, fail(idperrors.InvalidRequest(idperrors.SubInvalidPKCE, "code_challenge is required with code_challenge_method"))
	}

	if ar.RequestedScopes.Has(oauth.ScopeOpenID) {
		params, err := oidcParams(form, ar)
		if err != nil {
			return nil, fail(err)
		}
		ar.OIDC = params
		sess := request.NewOIDCSession("")
		sess.SetRequestTime(ar.RequestedAt)
		ar.Session = sess
	} else {
		ar.Session = request.NewSession("")
	}
	return ar, nil
}

func oidcParams(form url.Values, ar *request.AuthorizeRequest) (*request.OIDCParams, *idperrors.Error) {
	p := &request.OIDCParams{
		Nonce:       form.Get(oauth.ParamNonce),
		Prompts:     oauth.ParseSpaceDelimited(form.Get(oauth.ParamPrompt)),
		IDTokenHint: form.Get(oauth.ParamIDTokenHint),
		LoginHint:   form.Get(oauth.ParamLoginHint),
		ACRValues:   oauth.ParseSpaceDelimited(form.Get(oauth.ParamACRValues)),
		Display:     form.Get(oauth.ParamDisplay),
		UILocales:   oauth.ParseSpaceDelimited(form.Get(oauth.ParamUILocales)),
		Claims:      form.Get(oauth.ParamClaims),
	}
	for _, prompt := range p.Prompts {
		if !oauth.KnownPrompts.Has(prompt) {
			return nil, idperrors.InvalidRequest(idperrors.SubInvalidPrompt, fmt.Sprintf("prompt %q is not supported", prompt))
		}
	}
	if raw := form.Get(oauth.ParamMaxAge); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return nil, idperrors.InvalidRequest(idperrors.SubInvalidMaxAge, "max_age must be a non-negative integer")
		}
		p.MaxAge, p.HasMaxAge = v, true
	}
	if p.Nonce == "" && (ar.ResponseTypes.Has(oauth.ResponseTypeIDToken) || ar.ResponseTypes.Has(oauth.ResponseTypeToken)) {
		return nil, idperrors.InvalidRequest(idperrors.SubMissingParam, "nonce is required for implicit and hybrid flows")
	}
	return p, nil
}

// selectRedirectURI returns the requested redirect URI when registered, or the
// client's only registered URI when none was requested. Public clients may use
// private-use schemes.
func selectRedirectURI(c client.Client, requested string) (*url.URL, error) {
	registered := c.GetRedirectURIs()
	if requested == "" {
		if len(registered) != 1 {
			return nil, idperrors.InvalidRequest(idperrors.SubMissingRedirectURI,
				"redirect_uri is required when the client has zero or several registered redirect URIs")
		}
		requested = registered[0]
	} else if !slices.Contains(registered, requested) {
		return nil, idperrors.InvalidRequest(idperrors.SubRougeRedirectURI,
			"redirect_uri is not registered for the client")
	}

	policy := oauth.RedirectURIPolicyStrict
	if c.IsPublic() {
		policy = oauth.RedirectURIPolicyAllowPrivateSchemes
	}
	if err := oauth.ValidateRedirectURI(requested, policy); err != nil {
		return nil, idperrors.InvalidRequest(idperrors.SubInvalidRedirectURI, err.Error())
	}
	u, err := url.Parse(requested)
	if err != nil {
		return nil, idperrors.InvalidRequest(idperrors.SubInvalidRedirectURI, "redirect_uri is not a valid URI").WithCause(err)
	}
	return u, nil
}

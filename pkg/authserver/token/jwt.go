// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// AccessTokenType is the JOSE "typ" of access tokens (RFC 9068).
const AccessTokenType = "at+jwt"

// JWTStrategy issues JWT access tokens signed with a server key.
type JWTStrategy struct {
	issuer    string
	keys      keys.KeyProvider
	algorithm string
	lifespan  time.Duration
	now       func() time.Time
}

// JWTOption configures a JWTStrategy or IDTokenStrategy.
type JWTOption func(*jwtOptions)

type jwtOptions struct {
	algorithm string
	now       func() time.Time
}

// WithAlgorithm selects the server signing algorithm. By default the primary
// key's algorithm is used.
func WithAlgorithm(alg string) JWTOption {
	return func(o *jwtOptions) { o.algorithm = alg }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) JWTOption {
	return func(o *jwtOptions) { o.now = now }
}

func applyJWTOptions(opts []JWTOption) jwtOptions {
	o := jwtOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewJWTStrategy creates an access token strategy.
func NewJWTStrategy(issuer string, kp keys.KeyProvider, lifespan time.Duration, opts ...JWTOption) *JWTStrategy {
	o := applyJWTOptions(opts)
	return &JWTStrategy{
		issuer:    issuer,
		keys:      kp,
		algorithm: o.algorithm,
		lifespan:  lifespan,
		now:       o.now,
	}
}

// Generate implements Strategy. Claims already on an OIDC session are copied
// in, but iss and sub are always assigned here.
func (s *JWTStrategy) Generate(ctx context.Context, req request.Requester) (Token, error) {
	r := req.GetRequest()
	if r.Client == nil {
		return Token{}, idperrors.ServerError("", "request has no client")
	}

	now := s.now().Truncate(time.Second)
	claims := map[string]any{}
	if sess, ok := r.Session.(*request.OIDCSession); ok {
		for k, v := range sess.Claims {
			if k == oauth.ClaimRequestTime {
				continue
			}
			claims[k] = v
		}
	}

	subject := r.Client.GetID()
	if r.Session != nil && r.Session.GetSubject() != "" {
		subject = r.Session.GetSubject()
	}

	claims["iss"] = s.issuer
	claims["sub"] = subject
	claims["aud"] = []string{r.Client.GetID()}
	claims[oauth.ClaimClientID] = r.Client.GetID()
	claims[oauth.ClaimScope] = oauth.JoinSpaceDelimited(r.GrantedScopes)
	claims["iat"] = now.Unix()
	claims["nbf"] = now.Unix()
	claims["exp"] = expiry(r, fosite.AccessToken, now, s.lifespan).Unix()
	claims["jti"] = uuid.NewString()

	key, err := s.signingKey(ctx)
	if err != nil {
		return Token{}, err
	}
	value, err := sign(claims, key.Algorithm, key.Key, key.KeyID, AccessTokenType)
	if err != nil {
		return Token{}, idperrors.ServerError("", "failed to sign access token").WithCause(err)
	}
	return Token{Type: fosite.AccessToken, Value: value}, nil
}

// Verify implements Strategy. The token must be signed by a server key of the
// configured algorithm, unexpired, audienced to the request's client and carry
// a JWT ID.
func (s *JWTStrategy) Verify(ctx context.Context, value string, req request.Requester) error {
	r := req.GetRequest()
	key, err := s.signingKey(ctx)
	if err != nil {
		return err
	}

	tok, err := josejwt.ParseSigned(value, []jose.SignatureAlgorithm{jose.SignatureAlgorithm(key.Algorithm)})
	if err != nil {
		return idperrors.InvalidGrant(idperrors.SubTokenMalformed, "access token is malformed").WithCause(err)
	}
	pub, err := s.publicKey(ctx, tok.Headers[0].KeyID, key)
	if err != nil {
		return err
	}

	var std josejwt.Claims
	if err := tok.Claims(pub, &std); err != nil {
		return idperrors.InvalidGrant(idperrors.SubTokenSignature, "access token signature is invalid").WithCause(err)
	}
	expected := josejwt.Expected{Issuer: s.issuer, Time: s.now()}
	if r.Client != nil {
		expected.AnyAudience = josejwt.Audience{r.Client.GetID()}
	}
	if err := std.ValidateWithLeeway(expected, 0); err != nil {
		if errors.Is(err, josejwt.ErrExpired) {
			return idperrors.InvalidGrant(idperrors.SubTokenExpired, "access token is expired").WithCause(err)
		}
		return idperrors.InvalidGrant(idperrors.SubTokenSignature, "access token claims are invalid").WithCause(err)
	}
	if std.Expiry == nil {
		return idperrors.InvalidGrant(idperrors.SubTokenMalformed, "access token has no expiry")
	}
	if std.ID == "" {
		return idperrors.InvalidGrant(idperrors.SubTokenMalformed, "access token has no jti")
	}
	return nil
}

func (s *JWTStrategy) signingKey(ctx context.Context) (*keys.SigningKeyData, error) {
	var (
		key *keys.SigningKeyData
		err error
	)
	if s.algorithm == "" {
		key, err = s.keys.SigningKey(ctx)
	} else {
		key, err = s.keys.SelectSigningKey(ctx, s.algorithm)
	}
	if err != nil {
		return nil, idperrors.ServerError(idperrors.SubNoSuitableKey, "no signing key available").WithCause(err)
	}
	return key, nil
}

// publicKey re-derives the verification key: the selected signing key, or
// another published key with the same algorithm when the kid differs.
func (s *JWTStrategy) publicKey(ctx context.Context, kid string, selected *keys.SigningKeyData) (any, error) {
	if kid == "" || kid == selected.KeyID {
		return selected.Key.Public(), nil
	}
	pubs, err := s.keys.PublicKeys(ctx)
	if err != nil {
		return nil, idperrors.ServerError(idperrors.SubNoSuitableKey, "failed to list public keys").WithCause(err)
	}
	for _, p := range pubs {
		if p.KeyID == kid && p.Algorithm == selected.Algorithm {
			return p.PublicKey, nil
		}
	}
	return nil, idperrors.InvalidGrant(idperrors.SubTokenSignature, fmt.Sprintf("unknown key id %q", kid))
}

// expiry prefers the expiry recorded on the session for tokenType and falls
// back to now plus lifespan.
func expiry(r *request.Request, tokenType fosite.TokenType, now time.Time, lifespan time.Duration) time.Time {
	if r.Session != nil {
		if exp := r.Session.GetExpiresAt(tokenType); !exp.IsZero() {
			return exp.Truncate(time.Second)
		}
	}
	return now.Add(lifespan)
}

func sign(claims map[string]any, alg string, key any, kid, typ string) (string, error) {
	opts := (&jose.SignerOptions{}).WithType(jose.ContentType(typ))
	if kid != "" {
		opts = opts.WithHeader(jose.HeaderKey("kid"), kid)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	return josejwt.Signed(signer).Claims(claims).Serialize()
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/clientkeys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/logger"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// DefaultIDTokenEncryption is the content encryption used when a client sets
// id_token_encrypted_response_alg without an enc value.
const DefaultIDTokenEncryption = string(jose.A128CBC_HS256)

// reservedIDTokenClaims are always assigned by the strategy.
var reservedIDTokenClaims = []string{"iss", "sub", "aud", "exp", "iat", "nbf", "jti",
	oauth.ClaimNonce, oauth.ClaimAuthorizedParty, oauth.ClaimRequestTime, "at_hash", "c_hash"}

// IDTokenStrategy issues OpenID Connect ID tokens.
type IDTokenStrategy struct {
	issuer     string
	keys       keys.KeyProvider
	clientKeys *clientkeys.Resolver
	subjects   SubjectObfuscator
	lifespan   time.Duration
	now        func() time.Time
}

// NewIDTokenStrategy creates an ID token strategy.
func NewIDTokenStrategy(
	issuer string,
	kp keys.KeyProvider,
	clientKeys *clientkeys.Resolver,
	subjects SubjectObfuscator,
	lifespan time.Duration,
	opts ...JWTOption,
) *IDTokenStrategy {
	o := applyJWTOptions(opts)
	return &IDTokenStrategy{
		issuer:     issuer,
		keys:       kp,
		clientKeys: clientKeys,
		subjects:   subjects,
		lifespan:   lifespan,
		now:        o.now,
	}
}

// Hashes are the tokens issued alongside an ID token whose left-half hashes
// are embedded as at_hash and c_hash.
type Hashes struct {
	AccessToken string
	Code        string
}

// Generate implements Strategy.
func (s *IDTokenStrategy) Generate(ctx context.Context, req request.Requester) (Token, error) {
	return s.GenerateWithHashes(ctx, req, Hashes{})
}

// GenerateWithHashes issues an ID token that binds the given companion tokens.
func (s *IDTokenStrategy) GenerateWithHashes(ctx context.Context, req request.Requester, h Hashes) (Token, error) {
	r := req.GetRequest()
	oc, ok := client.AsOIDC(r.Client)
	if !ok {
		return Token{}, idperrors.UnauthorizedClient("", "ID tokens are only issued to OpenID Connect clients")
	}
	sess, ok := r.Session.(*request.OIDCSession)
	if !ok {
		return Token{}, idperrors.ServerError(idperrors.SubSessionRequired, "ID tokens require an OpenID Connect session")
	}
	alg := oc.GetIDTokenSignedResponseAlg()
	if alg == "none" {
		return Token{}, idperrors.InvalidRequest(idperrors.SubNoneAlgorithm, "unsigned ID tokens are not issued")
	}

	// The client's key set is fetched only for clients that encrypt ID
	// tokens, and runs while claims are built and signed. Nothing is fetched
	// speculatively; cancel only stops a fetch abandoned because claims or
	// signing failed.
	var encKey <-chan keyResult
	if oc.EncryptsIDToken() {
		fetchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		encKey = s.prefetchEncryptionKey(fetchCtx, oc)
	}

	claims, err := s.claims(ctx, r, oc, sess, alg, h)
	if err != nil {
		return Token{}, err
	}
	signed, err := s.sign(ctx, oc, alg, claims, sess.Headers)
	if err != nil {
		return Token{}, err
	}
	if encKey == nil {
		return Token{Type: IDToken, Value: signed}, nil
	}

	var res keyResult
	select {
	case res = <-encKey:
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
	if res.err != nil {
		if e, ok := idperrors.As(res.err); ok {
			return Token{}, e
		}
		return Token{}, idperrors.InvalidClient(idperrors.SubNoSuitableKey,
			"no client key for ID token encryption").WithCause(res.err)
	}
	encrypted, err := encrypt(signed, oc, res.key)
	if err != nil {
		return Token{}, idperrors.ServerError("", "failed to encrypt ID token").WithCause(err)
	}
	return Token{Type: IDToken, Value: encrypted}, nil
}

type keyResult struct {
	key *jose.JSONWebKey
	err error
}

func (s *IDTokenStrategy) prefetchEncryptionKey(ctx context.Context, oc *client.OIDCClient) <-chan keyResult {
	out := make(chan keyResult, 1)
	go func() {
		key, err := s.clientKeys.EncryptionKey(ctx, oc, oc.IDTokenEncryptedResponseAlg)
		out <- keyResult{key: key, err: err}
	}()
	return out
}

func (s *IDTokenStrategy) claims(
	ctx context.Context,
	r *request.Request,
	oc *client.OIDCClient,
	sess *request.OIDCSession,
	alg string,
	h Hashes,
) (map[string]any, error) {
	subject, err := s.subjects.Obfuscate(ctx, sess.GetSubject(), oc)
	if err != nil {
		return nil, err
	}

	now := s.now().Truncate(time.Second)
	claims := make(map[string]any, len(sess.Claims)+10)
	for k, v := range sess.Claims {
		claims[k] = v
	}
	for _, k := range reservedIDTokenClaims {
		delete(claims, k)
	}

	claims["iss"] = s.issuer
	claims["sub"] = subject
	claims["aud"] = []string{oc.GetID()}
	claims[oauth.ClaimAuthorizedParty] = oc.GetID()
	claims["iat"] = now.Unix()
	claims["exp"] = expiry(r, IDToken, now, s.lifespan).Unix()
	claims["jti"] = uuid.NewString()
	if nonce := r.Form.Get(oauth.ParamNonce); nonce != "" {
		claims[oauth.ClaimNonce] = nonce
	}
	if authTime, ok := sess.AuthTime(); ok {
		claims[oauth.ClaimAuthTime] = authTime.Unix()
	}

	if h.AccessToken != "" || h.Code != "" {
		hf, err := halfHashFunc(alg)
		if err != nil {
			return nil, err
		}
		if h.AccessToken != "" {
			claims["at_hash"] = leftHalfHash(hf, h.AccessToken)
		}
		if h.Code != "" {
			claims["c_hash"] = leftHalfHash(hf, h.Code)
		}
	}
	return claims, nil
}

func (s *IDTokenStrategy) sign(
	ctx context.Context,
	oc *client.OIDCClient,
	alg string,
	claims map[string]any,
	headers map[string]any,
) (string, error) {
	var (
		key any
		kid string
	)
	if clientkeys.IsHMAC(alg) {
		secret := oc.GetJOSESecret()
		if len(secret) == 0 {
			return "", idperrors.InvalidClient(idperrors.SubNoSuitableKey,
				fmt.Sprintf("client has no shared secret for %s", alg))
		}
		key = secret
	} else {
		sk, err := s.keys.SelectSigningKey(ctx, alg)
		if err != nil {
			return "", idperrors.ServerError(idperrors.SubNoSuitableKey,
				fmt.Sprintf("no server key for %s", alg)).WithCause(err)
		}
		key, kid = sk.Key, sk.KeyID
	}

	opts := (&jose.SignerOptions{}).WithType("JWT")
	for k, v := range headers {
		switch k {
		case "alg", "kid", "typ", "cty", "enc":
		default:
			opts = opts.WithHeader(jose.HeaderKey(k), v)
		}
	}
	if kid != "" {
		opts = opts.WithHeader(jose.HeaderKey("kid"), kid)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key}, opts)
	if err != nil {
		return "", idperrors.ServerError("", "failed to create ID token signer").WithCause(err)
	}
	value, err := josejwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", idperrors.ServerError("", "failed to sign ID token").WithCause(err)
	}
	return value, nil
}

func encrypt(signed string, oc *client.OIDCClient, key *jose.JSONWebKey) (string, error) {
	enc := oc.IDTokenEncryptedResponseEnc
	if enc == "" {
		enc = DefaultIDTokenEncryption
	}
	encrypter, err := jose.NewEncrypter(
		jose.ContentEncryption(enc),
		jose.Recipient{
			Algorithm: jose.KeyAlgorithm(oc.IDTokenEncryptedResponseAlg),
			Key:       key.Key,
			KeyID:     key.KeyID,
		},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", err
	}
	obj, err := encrypter.Encrypt([]byte(signed))
	if err != nil {
		return "", err
	}
	logger.Debugw("encrypted ID token", "client_id", oc.GetID(), "alg", oc.IDTokenEncryptedResponseAlg, "enc", enc)
	return obj.CompactSerialize()
}

// Verify implements Strategy for signed ID tokens. Encrypted ID tokens can
// only be read by the client.
func (s *IDTokenStrategy) Verify(ctx context.Context, value string, req request.Requester) error {
	r := req.GetRequest()
	oc, ok := client.AsOIDC(r.Client)
	if !ok {
		return idperrors.UnauthorizedClient("", "ID tokens are only issued to OpenID Connect clients")
	}
	if strings.Count(value, ".") != 2 {
		return idperrors.InvalidGrant(idperrors.SubTokenMalformed, "ID token is not a signed JWT")
	}
	alg := oc.GetIDTokenSignedResponseAlg()
	tok, err := josejwt.ParseSigned(value, []jose.SignatureAlgorithm{jose.SignatureAlgorithm(alg)})
	if err != nil {
		return idperrors.InvalidGrant(idperrors.SubTokenMalformed, "ID token is malformed").WithCause(err)
	}

	var key any
	if clientkeys.IsHMAC(alg) {
		key = oc.GetJOSESecret()
	} else {
		key, err = s.verificationKey(ctx, tok.Headers[0].KeyID, alg)
		if err != nil {
			return err
		}
	}

	var std josejwt.Claims
	if err := tok.Claims(key, &std); err != nil {
		return idperrors.InvalidGrant(idperrors.SubTokenSignature, "ID token signature is invalid").WithCause(err)
	}
	expected := josejwt.Expected{Issuer: s.issuer, AnyAudience: josejwt.Audience{oc.GetID()}, Time: s.now()}
	if err := std.ValidateWithLeeway(expected, 0); err != nil {
		return idperrors.InvalidGrant(idperrors.SubTokenExpired, "ID token claims are invalid").WithCause(err)
	}
	return nil
}

func (s *IDTokenStrategy) verificationKey(ctx context.Context, kid, alg string) (any, error) {
	pubs, err := s.keys.PublicKeys(ctx)
	if err != nil {
		return nil, idperrors.ServerError(idperrors.SubNoSuitableKey, "failed to list public keys").WithCause(err)
	}
	for _, p := range pubs {
		if p.KeyID == kid {
			return p.PublicKey, nil
		}
	}
	sk, err := s.keys.SelectSigningKey(ctx, alg)
	if err != nil || (kid != "" && sk.KeyID != kid) {
		return nil, idperrors.InvalidGrant(idperrors.SubTokenSignature, fmt.Sprintf("unknown key id %q", kid))
	}
	return sk.Key.Public(), nil
}

// halfHashFunc returns the hash used for at_hash and c_hash under alg
// (OIDC Core section 3.1.3.6).
func halfHashFunc(alg string) (func() hash.Hash, error) {
	switch {
	case strings.HasSuffix(alg, "256"):
		return sha256.New, nil
	case strings.HasSuffix(alg, "384"):
		return sha512.New384, nil
	case strings.HasSuffix(alg, "512"):
		return sha512.New, nil
	case alg == string(jose.EdDSA):
		return sha512.New, nil
	default:
		return nil, idperrors.ServerError("", fmt.Sprintf("no hash defined for %s", alg))
	}
}

func leftHalfHash(hf func() hash.Hash, value string) string {
	h := hf()
	_, _ = h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

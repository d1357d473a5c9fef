// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"maps"
	"time"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// Session is the per-request session: expiries per token kind plus the raw,
// pre-obfuscation subject. It satisfies fosite.Session.
type Session struct {
	ExpiresAt map[fosite.TokenType]time.Time `json:"expires_at"`
	Username  string                         `json:"username,omitempty"`
	Subject   string                         `json:"subject,omitempty"`
}

// NewSession returns an empty session.
func NewSession(subject string) *Session {
	return &Session{
		ExpiresAt: make(map[fosite.TokenType]time.Time),
		Subject:   subject,
	}
}

// SetExpiresAt records the expiry for a token kind, truncated to whole seconds.
func (s *Session) SetExpiresAt(key fosite.TokenType, exp time.Time) {
	if s.ExpiresAt == nil {
		s.ExpiresAt = make(map[fosite.TokenType]time.Time)
	}
	s.ExpiresAt[key] = exp.Truncate(time.Second)
}

// GetExpiresAt returns the expiry for a token kind, or the zero time.
func (s *Session) GetExpiresAt(key fosite.TokenType) time.Time {
	return s.ExpiresAt[key]
}

// GetUsername returns the username.
func (s *Session) GetUsername() string { return s.Username }

// GetSubject returns the raw subject.
func (s *Session) GetSubject() string { return s.Subject }

// Clone returns an independent deep copy.
func (s *Session) Clone() fosite.Session {
	return s.clone()
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		ExpiresAt: maps.Clone(s.ExpiresAt),
		Username:  s.Username,
		Subject:   s.Subject,
	}
}

// OIDCSession extends Session with the claim set and header map carried into the ID token.
type OIDCSession struct {
	Session
	Claims  map[string]any `json:"claims,omitempty"`
	Headers map[string]any `json:"headers,omitempty"`
}

// NewOIDCSession returns an empty OIDC session.
func NewOIDCSession(subject string) *OIDCSession {
	return &OIDCSession{
		Session: *NewSession(subject),
		Claims:  make(map[string]any),
		Headers: make(map[string]any),
	}
}

// Clone returns an independent deep copy, including nested claim values.
func (s *OIDCSession) Clone() fosite.Session {
	if s == nil {
		return (*OIDCSession)(nil)
	}
	return &OIDCSession{
		Session: *s.Session.clone(),
		Claims:  deepCopyMap(s.Claims),
		Headers: deepCopyMap(s.Headers),
	}
}

// AuthTime returns the auth_time claim, if present.
func (s *OIDCSession) AuthTime() (time.Time, bool) {
	return unixClaim(s.Claims, oauth.ClaimAuthTime)
}

// RequestTime returns the request-time claim, if present.
func (s *OIDCSession) RequestTime() (time.Time, bool) {
	return unixClaim(s.Claims, oauth.ClaimRequestTime)
}

// SetAuthTime records when the end-user authenticated.
func (s *OIDCSession) SetAuthTime(t time.Time) {
	s.setClaim(oauth.ClaimAuthTime, t.Unix())
}

// SetRequestTime records when the authorization request was made.
func (s *OIDCSession) SetRequestTime(t time.Time) {
	s.setClaim(oauth.ClaimRequestTime, t.Unix())
}

func (s *OIDCSession) setClaim(name string, value any) {
	if s.Claims == nil {
		s.Claims = make(map[string]any)
	}
	s.Claims[name] = value
}

// unixClaim reads a seconds-since-epoch claim, tolerating the numeric types
// produced by JSON decoding.
func unixClaim(claims map[string]any, name string) (time.Time, bool) {
	switch v := claims[name].(type) {
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	case float64:
		return time.Unix(int64(v), 0), true
	case time.Time:
		return v, true
	default:
		return time.Time{}, false
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

var (
	_ fosite.Session = (*Session)(nil)
	_ fosite.Session = (*OIDCSession)(nil)
)

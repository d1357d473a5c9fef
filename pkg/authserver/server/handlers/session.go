// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
)

// EndUser is the authenticated end-user behind an authorization request.
type EndUser struct {
	Subject  string
	AuthTime time.Time
	// Claims are copied into the ID token, except the ones the server sets itself.
	Claims map[string]any
}

// SessionProvider returns the end-user logged in at the user agent. It
// returns nil without an error when nobody is logged in. Login and consent
// user interfaces live outside this server.
type SessionProvider interface {
	EndUser(r *http.Request, ar *request.AuthorizeRequest) (*EndUser, error)
}

// SessionProviderFunc adapts a function to SessionProvider.
type SessionProviderFunc func(r *http.Request, ar *request.AuthorizeRequest) (*EndUser, error)

// EndUser implements SessionProvider.
func (f SessionProviderFunc) EndUser(r *http.Request, ar *request.AuthorizeRequest) (*EndUser, error) {
	return f(r, ar)
}

// NoSessions never finds a logged in end-user.
type NoSessions struct{}

// EndUser implements SessionProvider.
func (NoSessions) EndUser(*http.Request, *request.AuthorizeRequest) (*EndUser, error) {
	return nil, nil
}

// TrustedHeaderSessions reads the subject from a header set by an
// authenticating reverse proxy in front of the server. The header must be
// stripped from client traffic by that proxy.
type TrustedHeaderSessions struct {
	Header string
	// AuthTimeHeader optionally carries the login time as RFC 3339.
	AuthTimeHeader string
	Now            func() time.Time
}

// EndUser implements SessionProvider.
func (p TrustedHeaderSessions) EndUser(r *http.Request, _ *request.AuthorizeRequest) (*EndUser, error) {
	subject := strings.TrimSpace(r.Header.Get(p.Header))
	if subject == "" {
		return nil, nil
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	authTime := now()
	if p.AuthTimeHeader != "" {
		if t, err := time.Parse(time.RFC3339, r.Header.Get(p.AuthTimeHeader)); err == nil {
			authTime = t
		}
	}
	return &EndUser{Subject: subject, AuthTime: authTime}, nil
}

// applyEndUser records the end-user in the request session.
func applyEndUser(ar *request.AuthorizeRequest, user *EndUser) {
	switch s := ar.Session.(type) {
	case *request.OIDCSession:
		s.Subject = user.Subject
		s.Username = user.Subject
		s.SetAuthTime(user.AuthTime)
		for k, v := range user.Claims {
			if _, exists := s.Claims[k]; !exists {
				s.Claims[k] = v
			}
		}
	case *request.Session:
		s.Subject = user.Subject
		s.Username = user.Subject
	}
}

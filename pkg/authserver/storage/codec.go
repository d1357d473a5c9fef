// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
)

const (
	sessionKindOAuth = "oauth"
	sessionKindOIDC  = "oidc"
)

// storedRequest is the serialized form of a request snapshot. The client is
// stored by ID and resolved again on load.
type storedRequest struct {
	ID              string          `json:"id"`
	RequestedAt     time.Time       `json:"requested_at"`
	ClientID        string          `json:"client_id"`
	RequestedScopes []string        `json:"requested_scopes"`
	GrantedScopes   []string        `json:"granted_scopes"`
	GrantTypes      []string        `json:"grant_types"`
	Form            url.Values      `json:"form"`
	SessionKind     string          `json:"session_kind,omitempty"`
	Session         json.RawMessage `json:"session,omitempty"`
}

func marshalRequest(r *request.Request) ([]byte, error) {
	stored := storedRequest{
		ID:              r.ID,
		RequestedAt:     r.RequestedAt,
		RequestedScopes: r.RequestedScopes,
		GrantedScopes:   r.GrantedScopes,
		GrantTypes:      r.GrantTypes,
		Form:            r.Form,
	}
	if r.Client != nil {
		stored.ClientID = r.Client.GetID()
	}

	switch s := r.Session.(type) {
	case nil:
	case *request.OIDCSession:
		stored.SessionKind = sessionKindOIDC
	case *request.Session:
		stored.SessionKind = sessionKindOAuth
	default:
		return nil, fmt.Errorf("unsupported session type %T", s)
	}
	if r.Session != nil {
		data, err := json.Marshal(r.Session)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}
		stored.Session = data
	}

	return json.Marshal(stored)
}

func unmarshalRequest(ctx context.Context, data []byte, lookup client.Lookup) (*request.Request, error) {
	var stored storedRequest
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}

	r := &request.Request{
		ID:              stored.ID,
		RequestedAt:     stored.RequestedAt,
		RequestedScopes: fosite.Arguments(stored.RequestedScopes),
		GrantedScopes:   fosite.Arguments(stored.GrantedScopes),
		GrantTypes:      fosite.Arguments(stored.GrantTypes),
		Form:            stored.Form,
	}

	if stored.ClientID != "" {
		c, err := lookup.Find(ctx, stored.ClientID)
		if err != nil {
			return nil, err
		}
		r.Client = c
	}

	var session fosite.Session
	switch stored.SessionKind {
	case "":
	case sessionKindOIDC:
		session = &request.OIDCSession{}
	case sessionKindOAuth:
		session = &request.Session{}
	default:
		return nil, fmt.Errorf("unknown session kind %q", stored.SessionKind)
	}
	if session != nil {
		if err := json.Unmarshal(stored.Session, session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		r.Session = session
	}
	return r, nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the OAuth 2.0 / OpenID Connect error taxonomy used by
// the authorization server. Every error carries the protocol error code, a
// diagnostic sub-code, a human readable description and the HTTP status the
// response layer should use when rendering it.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ory/fosite"
)

// Protocol error codes.
const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidRequestObject    = "invalid_request_object"
	ErrInvalidRequestURI       = "invalid_request_uri"
	ErrUnauthorizedClient      = "unauthorized_client"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrInvalidScope            = "invalid_scope"
	ErrUnsupportedResponseType = "unsupported_response_type"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrLoginRequired           = "login_required"
	ErrInteractionRequired     = "interaction_required"
	ErrServerError             = "server_error"
)

// Diagnostic sub-codes.
const (
	SubDuplicateParam            = "duplicate_param"
	SubMissingParam              = "missing_param"
	SubValueAndReference         = "value_and_reference"
	SubAcquireFailed             = "acquire_failed"
	SubFetchFailed               = "fetch_failed"
	SubContentInvalid            = "content_invalid"
	SubAlgorithmMismatch         = "algorithm_mismatch"
	SubMissingState              = "missing_state"
	SubInsufficientStateEntropy  = "insufficient_state_entropy"
	SubMissingRedirectURI        = "missing_redirect_uri"
	SubRougeRedirectURI          = "rouge redirect_uri"
	SubInvalidRedirectURI        = "invalid_redirect_uri"
	SubMissingResponseType       = "missing_response_type"
	SubUnknownResponseType       = "unknown_response_type"
	SubScopeNotAllowed           = "scope_not_allowed"
	SubGrantTypeNotAllowed       = "grant_type_not_allowed"
	SubResponseTypeNotAllowed    = "response_type_not_allowed"
	SubFutureAuthTime            = "future_auth_time"
	SubInvalidPrompt             = "invalid_prompt"
	SubLoginRequired             = "login_required"
	SubReLoginRequired           = "re_login_required"
	SubInvalidMaxAge             = "invalid_max_age"
	SubClientNotFound            = "client_not_found"
	SubAuthenticationRequired    = "authentication_required"
	SubAuthenticationFailed      = "authentication_failed"
	SubUnauthorized              = "unauthorized"
	SubInvalidAssertion          = "invalid_assertion"
	SubTokenMalformed            = "token_malformed"
	SubTokenSignature            = "token_signature"
	SubTokenNotFound             = "token_not_found"
	SubTokenExpired              = "token_expired"
	SubTokenInvalidated          = "token_invalidated"
	SubClientMismatch            = "client_mismatch"
	SubRedirectURIMismatch       = "redirect_uri_mismatch"
	SubUnsupportedAuthMethod     = "unsupported_auth_method"
	SubNoneAlgorithm             = "none_algorithm"
	SubAmbiguousSector           = "ambiguous_sector"
	SubInvalidSectorIdentifier   = "invalid_sector_identifier"
	SubIncompatibleRequestMerge  = "incompatible_request_merge"
	SubNoSuitableKey             = "no_suitable_key"
	SubSessionRequired           = "session_required"
	SubUnsupportedGrant          = "unsupported_grant"
	SubUnsupportedResponseMode   = "unsupported_response_mode"
	SubInvalidRequestObjectClaim = "invalid_request_object_claim"
	SubInvalidPKCE               = "invalid_pkce"
	SubPKCEMismatch              = "pkce_mismatch"
	SubScopeNarrowing            = "scope_narrowing"
)

// Error is an OAuth protocol error.
type Error struct {
	// Code is the "error" value defined by RFC 6749 / OIDC Core.
	Code string

	// SubCode narrows down the failure for diagnostics.
	SubCode string

	// Description is the "error_description" value.
	Description string

	// Status is the HTTP status to render.
	Status int

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	msg := e.Code
	if e.SubCode != "" {
		msg = fmt.Sprintf("%s(%s)", msg, e.SubCode)
	}
	if e.Description != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Description)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code. A target that
// sets SubCode only matches errors carrying the same sub-code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.SubCode == "" || t.SubCode == e.SubCode
}

// WithCause returns a copy of the error wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

// NewError creates a new error.
func NewError(code, subCode, description string, status int) *Error {
	return &Error{
		Code:        code,
		SubCode:     subCode,
		Description: description,
		Status:      status,
	}
}

// InvalidRequest creates an invalid_request error.
func InvalidRequest(subCode, description string) *Error {
	return NewError(ErrInvalidRequest, subCode, description, http.StatusUnauthorized)
}

// InvalidRequestObject creates an invalid_request_object error.
func InvalidRequestObject(subCode, description string) *Error {
	return NewError(ErrInvalidRequestObject, subCode, description, http.StatusBadRequest)
}

// InvalidRequestURI creates an invalid_request_uri error.
func InvalidRequestURI(subCode, description string) *Error {
	return NewError(ErrInvalidRequestURI, subCode, description, http.StatusBadRequest)
}

// UnauthorizedClient creates an unauthorized_client error.
func UnauthorizedClient(subCode, description string) *Error {
	return NewError(ErrUnauthorizedClient, subCode, description, http.StatusUnauthorized)
}

// InvalidClient creates an invalid_client error.
func InvalidClient(subCode, description string) *Error {
	return NewError(ErrInvalidClient, subCode, description, http.StatusUnauthorized)
}

// InvalidGrant creates an invalid_grant error.
func InvalidGrant(subCode, description string) *Error {
	return NewError(ErrInvalidGrant, subCode, description, http.StatusBadRequest)
}

// InvalidScope creates an invalid_scope error.
func InvalidScope(subCode, description string) *Error {
	return NewError(ErrInvalidScope, subCode, description, http.StatusBadRequest)
}

// UnsupportedResponseType creates an unsupported_response_type error.
func UnsupportedResponseType(subCode, description string) *Error {
	return NewError(ErrUnsupportedResponseType, subCode, description, http.StatusBadRequest)
}

// UnsupportedGrantType creates an unsupported_grant_type error.
func UnsupportedGrantType(subCode, description string) *Error {
	return NewError(ErrUnsupportedGrantType, subCode, description, http.StatusBadRequest)
}

// LoginRequired creates a login_required error.
func LoginRequired(subCode, description string) *Error {
	return NewError(ErrLoginRequired, subCode, description, http.StatusBadRequest)
}

// InteractionRequired creates an interaction_required error.
func InteractionRequired(subCode, description string) *Error {
	return NewError(ErrInteractionRequired, subCode, description, http.StatusBadRequest)
}

// ServerError creates a server_error error. These are never attributable to the caller.
func ServerError(subCode, description string) *Error {
	return NewError(ErrServerError, subCode, description, http.StatusInternalServerError)
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasSubCode reports whether err is an *Error carrying the given sub-code.
func HasSubCode(err error, subCode string) bool {
	e, ok := As(err)
	return ok && e.SubCode == subCode
}

func hasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// IsInvalidRequest checks if the error is an invalid_request error.
func IsInvalidRequest(err error) bool { return hasCode(err, ErrInvalidRequest) }

// IsInvalidRequestObject checks if the error is an invalid_request_object error.
func IsInvalidRequestObject(err error) bool { return hasCode(err, ErrInvalidRequestObject) }

// IsUnauthorizedClient checks if the error is an unauthorized_client error.
func IsUnauthorizedClient(err error) bool { return hasCode(err, ErrUnauthorizedClient) }

// IsInvalidClient checks if the error is an invalid_client error.
func IsInvalidClient(err error) bool { return hasCode(err, ErrInvalidClient) }

// IsInvalidGrant checks if the error is an invalid_grant error.
func IsInvalidGrant(err error) bool { return hasCode(err, ErrInvalidGrant) }

// IsInvalidScope checks if the error is an invalid_scope error.
func IsInvalidScope(err error) bool { return hasCode(err, ErrInvalidScope) }

// IsLoginRequired checks if the error is a login_required error.
func IsLoginRequired(err error) bool { return hasCode(err, ErrLoginRequired) }

// IsServerError checks if the error is a server_error error.
func IsServerError(err error) bool { return hasCode(err, ErrServerError) }

// ToRFC6749 converts err into the fosite error shape used for rendering.
// Errors outside the taxonomy become server_error so internal details are not leaked.
func ToRFC6749(err error) *fosite.RFC6749Error {
	e, ok := As(err)
	if !ok {
		var rfc *fosite.RFC6749Error
		if errors.As(err, &rfc) {
			return rfc
		}
		return fosite.ErrServerError.WithWrap(err)
	}
	rfc := &fosite.RFC6749Error{
		ErrorField:       e.Code,
		DescriptionField: e.Description,
		CodeField:        e.Status,
	}
	if e.SubCode != "" {
		rfc = rfc.WithHint(e.SubCode)
	}
	return rfc
}

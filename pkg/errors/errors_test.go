// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code only",
			err:  &Error{Code: ErrInvalidGrant},
			want: "invalid_grant",
		},
		{
			name: "code with sub-code and description",
			err:  InvalidRequest(SubMissingState, "state is required"),
			want: "invalid_request(missing_state): state is required",
		},
		{
			name: "with cause",
			err:  InvalidGrant(SubTokenSignature, "bad token").WithCause(errors.New("boom")),
			want: "invalid_grant(token_signature): bad token: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestConstructorStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    *Error
		code   string
		status int
	}{
		{"invalid_request", InvalidRequest("", ""), ErrInvalidRequest, http.StatusUnauthorized},
		{"invalid_request_object", InvalidRequestObject("", ""), ErrInvalidRequestObject, http.StatusBadRequest},
		{"unauthorized_client", UnauthorizedClient("", ""), ErrUnauthorizedClient, http.StatusUnauthorized},
		{"invalid_client", InvalidClient("", ""), ErrInvalidClient, http.StatusUnauthorized},
		{"invalid_grant", InvalidGrant("", ""), ErrInvalidGrant, http.StatusBadRequest},
		{"invalid_scope", InvalidScope("", ""), ErrInvalidScope, http.StatusBadRequest},
		{"unsupported_response_type", UnsupportedResponseType("", ""), ErrUnsupportedResponseType, http.StatusBadRequest},
		{"unsupported_grant_type", UnsupportedGrantType("", ""), ErrUnsupportedGrantType, http.StatusBadRequest},
		{"login_required", LoginRequired("", ""), ErrLoginRequired, http.StatusBadRequest},
		{"interaction_required", InteractionRequired("", ""), ErrInteractionRequired, http.StatusBadRequest},
		{"server_error", ServerError("", ""), ErrServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
		})
	}
}

func TestIsMatching(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("building request: %w", InvalidRequest(SubMissingState, "state is required"))

	assert.True(t, IsInvalidRequest(err))
	assert.False(t, IsInvalidGrant(err))
	assert.True(t, HasSubCode(err, SubMissingState))
	assert.False(t, HasSubCode(err, SubInsufficientStateEntropy))

	assert.ErrorIs(t, err, &Error{Code: ErrInvalidRequest})
	assert.ErrorIs(t, err, &Error{Code: ErrInvalidRequest, SubCode: SubMissingState})
	assert.NotErrorIs(t, err, &Error{Code: ErrInvalidRequest, SubCode: SubDuplicateParam})

	assert.True(t, IsInvalidRequestObject(InvalidRequestObject(SubAcquireFailed, "no request object")))
	assert.True(t, IsLoginRequired(fmt.Errorf("authorize: %w", LoginRequired(SubLoginRequired, "log in"))))
	assert.False(t, IsLoginRequired(InteractionRequired("", "")))
}

func TestWithCauseDoesNotMutate(t *testing.T) {
	t.Parallel()

	base := InvalidClient(SubAuthenticationFailed, "client authentication failed")
	wrapped := base.WithCause(errors.New("bcrypt mismatch"))

	assert.Nil(t, base.Cause)
	require.Error(t, wrapped.Unwrap())
	assert.Equal(t, "bcrypt mismatch", wrapped.Unwrap().Error())
}

func TestToRFC6749(t *testing.T) {
	t.Parallel()

	t.Run("taxonomy error", func(t *testing.T) {
		t.Parallel()
		rfc := ToRFC6749(InvalidRequest(SubDuplicateParam, "parameter state repeated"))
		assert.Equal(t, ErrInvalidRequest, rfc.ErrorField)
		assert.Equal(t, http.StatusUnauthorized, rfc.CodeField)
		assert.Contains(t, rfc.GetDescription(), "parameter state repeated")
		assert.Contains(t, rfc.GetDescription(), SubDuplicateParam)
	})

	t.Run("foreign error becomes server_error", func(t *testing.T) {
		t.Parallel()
		rfc := ToRFC6749(errors.New("redis: connection refused"))
		assert.Equal(t, ErrServerError, rfc.ErrorField)
		assert.Equal(t, http.StatusInternalServerError, rfc.CodeField)
		assert.NotContains(t, rfc.GetDescription(), "redis")
	})
}

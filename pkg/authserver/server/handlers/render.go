// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/stacklok/toolhive-idp/pkg/authserver/builder"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/logger"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// Error response fields. error_hint carries the diagnostic sub-code.
const (
	fieldError            = "error"
	fieldErrorDescription = "error_description"
	fieldErrorHint        = "error_hint"
)

// errorBody is the JSON error response of RFC 6749 section 5.2.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorHint        string `json:"error_hint,omitempty"`
}

func logError(err error) {
	if idperrors.IsServerError(err) {
		logger.Errorw("request failed", "error", err)
		return
	}
	if _, ok := idperrors.As(err); !ok {
		logger.Errorw("request failed", "error", err)
		return
	}
	logger.Debugw("request rejected", "error", err)
}

// writeJSONError renders err as a JSON body. Errors outside the taxonomy are
// rendered as a bare server_error.
func writeJSONError(w http.ResponseWriter, err error) {
	logError(err)
	rfc := idperrors.ToRFC6749(err)
	status := rfc.CodeField
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if rfc.ErrorField == idperrors.ErrInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	}
	writeJSON(w, status, errorBody{
		Error:            rfc.ErrorField,
		ErrorDescription: rfc.DescriptionField,
		ErrorHint:        rfc.HintField,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

// writeAuthorizeError redirects errors that know their redirect URI and
// renders everything else as JSON.
func writeAuthorizeError(w http.ResponseWriter, r *http.Request, err error) {
	var re *builder.RedirectError
	if !errors.As(err, &re) || re.RedirectURI == nil {
		writeJSONError(w, err)
		return
	}
	logError(err)

	rfc := idperrors.ToRFC6749(re.Err)
	params := url.Values{}
	params.Set(fieldError, rfc.ErrorField)
	if rfc.DescriptionField != "" {
		params.Set(fieldErrorDescription, rfc.DescriptionField)
	}
	if rfc.HintField != "" {
		params.Set(fieldErrorHint, rfc.HintField)
	}
	if re.State != "" {
		params.Set(oauth.ParamState, re.State)
	}
	redirect(w, r, re.RedirectURI, re.ResponseMode, params)
}

// redirect sends params to the client in the query or the fragment.
func redirect(w http.ResponseWriter, r *http.Request, target *url.URL, mode string, params url.Values) {
	u := *target
	var location string
	if mode == oauth.ResponseModeFragment {
		u.Fragment, u.RawFragment = "", ""
		location = u.String() + "#" + params.Encode()
	} else {
		q := u.Query()
		for k, v := range params {
			q[k] = v
		}
		u.RawQuery = q.Encode()
		location = u.String()
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, location, http.StatusFound)
}

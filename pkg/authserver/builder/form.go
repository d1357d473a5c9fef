// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
)

// rejectDuplicates fails when any parameter appears more than once
// (RFC 6749 section 3.1).
func rejectDuplicates(form url.Values) error {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if len(form[k]) > 1 {
			return idperrors.InvalidRequest(idperrors.SubDuplicateParam,
				fmt.Sprintf("parameter %s must not be included more than once", k))
		}
	}
	return nil
}

// cloneForm returns a single-valued copy of form with surrounding spaces trimmed.
func cloneForm(form url.Values) url.Values {
	out := make(url.Values, len(form))
	for k, v := range form {
		if len(v) > 0 {
			out.Set(k, strings.TrimSpace(v[0]))
		}
	}
	return out
}

// joinSpaced concatenates space-delimited values, first value first.
func joinSpaced(first, second string) string {
	switch {
	case first == "":
		return second
	case second == "":
		return first
	default:
		return first + " " + second
	}
}

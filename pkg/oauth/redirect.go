// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// RedirectURIPolicy controls which redirect URI shapes are accepted.
type RedirectURIPolicy int

const (
	// RedirectURIPolicyStrict accepts HTTPS URIs and HTTP loopback URIs (RFC 8252 section 7.3).
	RedirectURIPolicyStrict RedirectURIPolicy = iota

	// RedirectURIPolicyAllowPrivateSchemes additionally accepts private-use schemes
	// such as "com.example.app:/cb" used by native clients (RFC 8252 section 7.1).
	RedirectURIPolicyAllowPrivateSchemes
)

// ValidateRedirectURI checks that uri is an absolute URI without a fragment
// that satisfies the given policy.
func ValidateRedirectURI(uri string, policy RedirectURIPolicy) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("redirect_uri is not a valid URI: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("redirect_uri must be absolute")
	}
	if u.Fragment != "" || strings.Contains(uri, "#") {
		return fmt.Errorf("redirect_uri must not contain a fragment")
	}

	switch u.Scheme {
	case "https":
		if u.Host == "" {
			return fmt.Errorf("redirect_uri must have a host")
		}
		return nil
	case "http":
		if !IsLoopbackHost(u.Hostname()) {
			return fmt.Errorf("http redirect_uri is only allowed for loopback hosts")
		}
		return nil
	default:
		if policy == RedirectURIPolicyAllowPrivateSchemes && strings.Contains(u.Scheme, ".") {
			return nil
		}
		if policy == RedirectURIPolicyAllowPrivateSchemes {
			return fmt.Errorf("private-use scheme %q must be in reverse domain notation", u.Scheme)
		}
		return fmt.Errorf("redirect_uri scheme %q is not allowed", u.Scheme)
	}
}

// IsLoopbackHost reports whether host is localhost or a loopback IP literal.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RequireHTTPS parses raw and fails unless it is an absolute https URL with a host.
func RequireHTTPS(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("URL %q must use https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %q must have a host", raw)
	}
	return u, nil
}

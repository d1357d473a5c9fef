// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package vor resolves content that a request supplies either inline or by URI
// reference. Referenced content is read through a cache and, on a miss, fetched
// remotely, transformed into its typed form, and written back to the cache in
// the background.
package vor

import (
	"context"
	"net/http"
	"time"
)

//go:generate mockgen -destination=mocks/mock_vor.go -package=mocks -source=types.go Cache,Fetcher

// Cache stores the raw text last fetched for a reference URI.
type Cache interface {
	// Read returns the cached value and whether it was present and fresh.
	Read(ctx context.Context, key string) (string, bool, error)

	// Write stores value under key. A zero expiresAt means the entry never expires.
	Write(ctx context.Context, key, value string, expiresAt time.Time) error
}

// Response is the result of a remote GET.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher performs remote GET requests.
type Fetcher interface {
	Get(ctx context.Context, uri string) (*Response, error)
}

// Transform converts raw text into the resolved type.
type Transform[R any] func(raw string) (R, error)

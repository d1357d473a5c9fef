// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package vor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-idp/pkg/logger"
)

const (
	instrumentationName = "github.com/stacklok/toolhive-idp/pkg/authserver/vor"

	// DefaultMaxTries bounds attempts on transport failures.
	DefaultMaxTries = 3

	// DefaultMaxBodySize bounds how much of a response body is read.
	DefaultMaxBodySize = 1 << 20

	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 10 * time.Second
)

// HTTPFetcher is a Fetcher over net/http. Transport failures are retried with
// exponential backoff; any response, whatever its status, is returned as-is.
type HTTPFetcher struct {
	client       *http.Client
	maxTries     uint
	maxBodySize  int64
	initialDelay time.Duration
	tracer       trace.Tracer
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// WithMaxTries sets the number of attempts for transport failures.
func WithMaxTries(n uint) FetcherOption {
	return func(f *HTTPFetcher) {
		f.maxTries = n
	}
}

// WithInitialRetryDelay sets the first backoff interval.
func WithInitialRetryDelay(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.initialDelay = d
	}
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:       &http.Client{Timeout: DefaultTimeout},
		maxTries:     DefaultMaxTries,
		maxBodySize:  DefaultMaxBodySize,
		initialDelay: 200 * time.Millisecond,
		tracer:       otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get implements Fetcher.
func (f *HTTPFetcher) Get(ctx context.Context, uri string) (_ *Response, retErr error) {
	ctx, span := f.tracer.Start(ctx, "vor.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", uri)),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = f.initialDelay
	expBackoff.Reset()

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Accept", "application/json, application/jwt, */*")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			logger.Debugw("fetch attempt failed", "url", uri, "attempt", attempt, "error", err)
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		if int64(len(body)) > f.maxBodySize {
			return nil, backoff.Permanent(fmt.Errorf("response body exceeds %d bytes", f.maxBodySize))
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(f.maxTries),
	)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", uri, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)

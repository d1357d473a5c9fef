// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package vor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// ErrorFunc builds the error raised when a reference cannot be fetched or its
// content is invalid.
type ErrorFunc func(subCode, description string) *idperrors.Error

// Option configures a Resolver.
type Option func(*options)

type options struct {
	errorFunc ErrorFunc
	metrics   *Metrics
	now       func() time.Time
}

// WithErrorFunc sets the constructor used for fetch and content errors.
// The default is invalid_request.
func WithErrorFunc(f ErrorFunc) Option {
	return func(o *options) {
		o.errorFunc = f
	}
}

// WithMetrics records resolver outcomes.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the clock used to turn max-age into an expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Resolver resolves a value-or-reference pair into R.
type Resolver[R any] struct {
	name      string
	cache     Cache
	fetcher   Fetcher
	transform Transform[R]
	opts      options

	flight singleflight.Group
	writes sync.WaitGroup
}

// NewResolver creates a resolver. name labels logs and metrics.
func NewResolver[R any](name string, cache Cache, fetcher Fetcher, transform Transform[R], opts ...Option) *Resolver[R] {
	o := options{
		errorFunc: idperrors.InvalidRequest,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Resolver[R]{
		name:      name,
		cache:     cache,
		fetcher:   fetcher,
		transform: transform,
		opts:      o,
	}
}

// Resolve returns the typed content of value or reference. At most one may be
// set; with neither, ok is false and err is nil.
func (r *Resolver[R]) Resolve(ctx context.Context, value, reference string) (result R, ok bool, err error) {
	switch {
	case value != "" && reference != "":
		return result, false, idperrors.InvalidRequest(idperrors.SubValueAndReference,
			"a value and a reference cannot both be supplied")
	case value != "":
		result, err = r.apply(value)
		return result, err == nil, err
	case reference == "":
		return result, false, nil
	}

	raw, hit, err := r.cache.Read(ctx, reference)
	if err != nil {
		logger.Warnw("resolver cache read failed", "resolver", r.name, "reference", reference, "error", err)
	}
	if hit {
		r.opts.metrics.observe(r.name, resultHit)
		result, err = r.apply(raw)
		return result, err == nil, err
	}
	r.opts.metrics.observe(r.name, resultMiss)

	// The fetch is shared with every caller waiting on reference, so it runs
	// detached from this caller's cancellation. Each caller still stops
	// waiting when its own context ends.
	ch := r.flight.DoChan(reference, func() (any, error) {
		return r.fetchAndStore(context.WithoutCancel(ctx), reference)
	})
	select {
	case <-ctx.Done():
		return result, false, r.opts.errorFunc(idperrors.SubFetchFailed,
			fmt.Sprintf("failed to fetch %s", r.name)).WithCause(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return result, false, res.Err
		}
		return res.Val.(R), true, nil
	}
}

// Wait blocks until background cache writes have finished.
func (r *Resolver[R]) Wait() {
	r.writes.Wait()
}

func (r *Resolver[R]) apply(raw string) (R, error) {
	out, err := r.transform(raw)
	if err != nil {
		r.opts.metrics.observe(r.name, resultInvalid)
		var zero R
		return zero, r.opts.errorFunc(idperrors.SubContentInvalid,
			fmt.Sprintf("%s content is invalid", r.name)).WithCause(err)
	}
	return out, nil
}

func (r *Resolver[R]) fetchAndStore(ctx context.Context, reference string) (R, error) {
	var zero R

	logger.Debugw("fetching reference", "resolver", r.name, "reference", reference)
	resp, err := r.fetcher.Get(ctx, reference)
	if err != nil {
		r.opts.metrics.observe(r.name, resultFetchError)
		return zero, r.opts.errorFunc(idperrors.SubFetchFailed,
			fmt.Sprintf("failed to fetch %s", r.name)).WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		r.opts.metrics.observe(r.name, resultFetchError)
		return zero, r.opts.errorFunc(idperrors.SubFetchFailed,
			fmt.Sprintf("fetching %s returned status %d", r.name, resp.StatusCode))
	}

	raw := string(resp.Body)
	out, err := r.apply(raw)
	if err != nil {
		return zero, err
	}

	r.store(ctx, reference, raw, expiryFrom(resp.Header, r.opts.now()))
	return out, nil
}

// store writes to the cache without blocking the caller. Failures are logged
// and dropped.
func (r *Resolver[R]) store(ctx context.Context, key, raw string, expiresAt time.Time) {
	ctx = context.WithoutCancel(ctx)
	r.writes.Add(1)
	go func() {
		defer r.writes.Done()
		if err := r.cache.Write(ctx, key, raw, expiresAt); err != nil {
			logger.Warnw("failed to populate resolver cache", "resolver", r.name, "reference", key, "error", err)
		}
	}()
}

// expiryFrom derives the cache expiry from Cache-Control max-age, falling back
// to Expires. The zero time means no expiry.
func expiryFrom(h http.Header, now time.Time) time.Time {
	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		v, found := strings.CutPrefix(strings.ToLower(strings.TrimSpace(directive)), "max-age=")
		if !found {
			continue
		}
		if secs, err := strconv.Atoi(strings.Trim(v, `"`)); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	if exp := h.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package vor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	_, ok, err := c.Read(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Write(ctx, "forever", "v1", time.Time{}))
	require.NoError(t, c.Write(ctx, "short", "v2", now.Add(time.Minute)))

	v, ok, _ := c.Read(ctx, "short")
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Read(ctx, "short")
	assert.False(t, ok, "expired entries are misses")
	assert.Equal(t, 1, c.Len())

	v, ok, _ = c.Read(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, c.Write(ctx, "forever", "v3", time.Time{}))
	v, _, _ = c.Read(ctx, "forever")
	assert.Equal(t, "v3", v, "last write wins")
}

func TestRedisCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCache(client, "")

	_, ok, err := c.Read(ctx, "https://rp.example.com/jwks")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Write(ctx, "https://rp.example.com/jwks", `{"keys":[]}`, time.Now().Add(time.Minute)))
	require.NoError(t, c.Write(ctx, "https://rp.example.com/forever", "x", time.Time{}))
	require.NoError(t, c.Write(ctx, "https://rp.example.com/stale", "x", time.Now().Add(-time.Second)))

	assert.True(t, mr.Exists(DefaultRedisKeyPrefix+"https://rp.example.com/jwks"))
	assert.False(t, mr.Exists(DefaultRedisKeyPrefix+"https://rp.example.com/stale"))
	assert.Zero(t, mr.TTL(DefaultRedisKeyPrefix+"https://rp.example.com/forever"))

	v, ok, err := c.Read(ctx, "https://rp.example.com/jwks")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"keys":[]}`, v)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Read(ctx, "https://rp.example.com/jwks")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiryFrom(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour).Format(http.TimeFormat)

	tests := []struct {
		name   string
		header http.Header
		want   time.Time
	}{
		{name: "no headers", header: http.Header{}, want: time.Time{}},
		{name: "max-age", header: http.Header{"Cache-Control": {"public, max-age=300"}}, want: now.Add(5 * time.Minute)},
		{name: "expires", header: http.Header{"Expires": {expires}}, want: now.Add(time.Hour)},
		{
			name:   "max-age wins over expires",
			header: http.Header{"Cache-Control": {"max-age=60"}, "Expires": {expires}},
			want:   now.Add(time.Minute),
		},
		{name: "malformed max-age", header: http.Header{"Cache-Control": {"max-age=soon"}}, want: time.Time{}},
		{name: "malformed expires", header: http.Header{"Expires": {"0"}}, want: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.want.Equal(expiryFrom(tt.header, now)), "got %v", expiryFrom(tt.header, now))
		})
	}
}

func TestHTTPFetcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jwks":
			w.Header().Set("Cache-Control", "max-age=30")
			_, _ = w.Write([]byte(`{"keys":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	f := NewHTTPFetcher(WithHTTPClient(srv.Client()))

	resp, err := f.Get(context.Background(), srv.URL+"/jwks")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "max-age=30", resp.Header.Get("Cache-Control"))
	assert.JSONEq(t, `{"keys":[]}`, string(resp.Body))

	resp, err = f.Get(context.Background(), srv.URL+"/missing")
	require.NoError(t, err, "non-200 responses are returned, not retried")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPFetcherRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 2 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	f := NewHTTPFetcher(WithHTTPClient(srv.Client()), WithInitialRetryDelay(time.Millisecond))
	resp, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(2), attempts.Load())

	f = NewHTTPFetcher(WithMaxTries(2), WithInitialRetryDelay(time.Millisecond))
	_, err = f.Get(context.Background(), "http://127.0.0.1:1/unreachable")
	require.Error(t, err)
}

func TestHTTPFetcherRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		if r.URL.Path == "/large" {
			_, _ = w.Write([]byte("0123456789abcdefX"))
			return
		}
		_, _ = w.Write([]byte("0123456789abcdef"))
	}))
	t.Cleanup(srv.Close)

	f := NewHTTPFetcher(WithHTTPClient(srv.Client()))
	f.maxBodySize = 16

	resp, err := f.Get(context.Background(), srv.URL+"/exact")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(resp.Body))

	_, err = f.Get(context.Background(), srv.URL+"/large")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")
	assert.Equal(t, int32(2), attempts.Load(), "an oversized body is not retried")
}

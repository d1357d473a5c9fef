// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
	"github.com/stacklok/toolhive-core/logging"
)

func TestUnstructuredLogsWithEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"unset defaults to text", "", true},
		{"explicit true", "true", true},
		{"explicit false", "false", false},
		{"garbage defaults to text", "yes please", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv(UnstructuredLogsEnv).Return(tt.envValue)

			assert.Equal(t, tt.expected, unstructuredLogsWithEnv(mockEnv))
		})
	}
}

func captureForTest(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := singleton.Load()
	singleton.Store(logging.New(logging.WithOutput(&buf), logging.WithLevel(slog.LevelDebug)))
	t.Cleanup(func() { singleton.Store(prev) })
	return &buf
}

func TestLevelHelpers(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name     string
		logFn    func()
		contains string
	}{
		{"Debugw", func() { Debugw("resolving reference", "uri", "https://rp.example/jwks") }, "resolving reference"},
		{"Debugf", func() { Debugf("cache %s", "miss") }, "cache miss"},
		{"Infow", func() { Infow("server listening", "addr", ":8080") }, "server listening"},
		{"Warnw", func() { Warnw("cache write failed", "error", "timeout") }, "cache write failed"},
		{"Errorf", func() { Errorf("failed to %s", "render") }, "failed to render"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			buf := captureForTest(t)
			tc.logFn()
			assert.Contains(t, buf.String(), tc.contains)
		})
	}
}

func TestWithAddsAttributes(t *testing.T) { //nolint:paralleltest // mutates singleton
	buf := captureForTest(t)

	With("component", "vor").Info("fetched")

	assert.Contains(t, buf.String(), "component")
	assert.Contains(t, buf.String(), "vor")
}

func TestInitializeWithEnv(t *testing.T) { //nolint:paralleltest // mutates singleton
	prev := singleton.Load()
	t.Cleanup(func() { singleton.Store(prev) })

	ctrl := gomock.NewController(t)
	mockEnv := mocks.NewMockReader(ctrl)
	mockEnv.EXPECT().Getenv(UnstructuredLogsEnv).Return("false")

	InitializeWithEnv(mockEnv)

	got := Get()
	require.NotNil(t, got)
	assert.NotSame(t, prev, got)
}

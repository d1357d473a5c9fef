// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
)

// timedEntry wraps a snapshot with its expiry and invalidation state.
type timedEntry struct {
	value       *request.Request
	expiresAt   time.Time
	invalidated bool
}

// MemoryStorage implements Storage with in-memory maps.
// It is thread-safe and suitable for single-replica deployments and tests.
type MemoryStorage struct {
	mu sync.RWMutex

	// entries maps kind -> token signature -> snapshot.
	entries map[Kind]map[string]*timedEntry

	now func() time.Time

	// cleanupInterval is how often the background cleanup runs
	cleanupInterval time.Duration

	// stopCleanup is used to signal the cleanup goroutine to stop
	stopCleanup chan struct{}

	// cleanupDone is closed when the cleanup goroutine has fully stopped
	cleanupDone chan struct{}

	closeOnce sync.Once
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage creates a new MemoryStorage instance and starts the
// background cleanup goroutine.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		entries:         make(map[Kind]map[string]*timedEntry, len(Kinds)),
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	for _, k := range Kinds {
		s.entries[k] = make(map[string]*timedEntry)
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Store returns the store for kind.
func (s *MemoryStorage) Store(kind Kind) Store {
	return &memoryStore{s: s, kind: kind}
}

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStorage) Health(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired collects expired keys under the read lock, then deletes
// them under the write lock.
func (s *MemoryStorage) cleanupExpired() {
	now := s.now()

	expired := make(map[Kind][]string)
	s.mu.RLock()
	for kind, m := range s.entries {
		for k, e := range m {
			if now.After(e.expiresAt) {
				expired[kind] = append(expired[kind], k)
			}
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, keys := range expired {
		for _, k := range keys {
			delete(s.entries[kind], k)
		}
	}
}

// expiresAt reads the expiry for kind from the request session, falling back
// to the kind's default TTL.
func expiresAt(req *request.Request, kind Kind, now time.Time) time.Time {
	if req.Session != nil {
		if exp := req.Session.GetExpiresAt(kind.TokenType()); !exp.IsZero() {
			return exp
		}
	}
	return now.Add(defaultTTL(kind))
}

type memoryStore struct {
	s    *MemoryStorage
	kind Kind
}

func (m *memoryStore) Create(_ context.Context, key string, req *request.Request) error {
	if key == "" {
		return idperrors.ServerError("", fmt.Sprintf("%s key cannot be empty", describe(m.kind)))
	}
	if req == nil {
		return idperrors.ServerError("", "request cannot be nil")
	}

	entry := &timedEntry{
		value:     req.Sanitize(),
		expiresAt: expiresAt(req, m.kind, m.s.now()),
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.entries[m.kind][key] = entry
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (*request.Request, error) {
	m.s.mu.RLock()
	e, ok := m.s.entries[m.kind][key]
	m.s.mu.RUnlock()

	switch {
	case !ok:
		return nil, errNotFound(m.kind)
	case e.invalidated:
		return nil, errInvalidated(m.kind)
	case m.s.now().After(e.expiresAt):
		return nil, errExpired(m.kind)
	}
	return e.value.Clone(), nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.entries[m.kind], key)
	return nil
}

func (m *memoryStore) Invalidate(_ context.Context, key string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	e, ok := m.s.entries[m.kind][key]
	switch {
	case !ok:
		return errNotFound(m.kind)
	case e.invalidated:
		return errInvalidated(m.kind)
	case m.s.now().After(e.expiresAt):
		return errExpired(m.kind)
	}
	e.invalidated = true
	if keep := m.s.now().Add(DefaultInvalidatedTTL); keep.After(e.expiresAt) {
		e.expiresAt = keep
	}
	return nil
}

func (m *memoryStore) DeleteByRequestID(_ context.Context, requestID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for k, e := range m.s.entries[m.kind] {
		if e.value.ID == requestID {
			delete(m.s.entries[m.kind], k)
		}
	}
	return nil
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Store   = (*memoryStore)(nil)
)

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/request"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
)

// RedisStorage implements Storage on Redis, so several server replicas can
// redeem each other's tokens.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	lookup    client.Lookup
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured client.
// Snapshots are re-attached to their client through lookup.
func NewRedisStorageWithClient(rc redis.UniversalClient, keyPrefix string, lookup client.Lookup) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStorage{
		client:    rc,
		keyPrefix: keyPrefix,
		lookup:    lookup,
	}
}

// Store returns the store for kind.
func (s *RedisStorage) Store(kind Kind) Store {
	return &redisStore{s: s, kind: kind}
}

// Health checks Redis connectivity.
func (s *RedisStorage) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) key(kind Kind, id string) string {
	return fmt.Sprintf("%s%s:%s", s.keyPrefix, kind, id)
}

func (s *RedisStorage) invalidatedKey(kind Kind, id string) string {
	return fmt.Sprintf("%s%s:invalidated:%s", s.keyPrefix, kind, id)
}

func (s *RedisStorage) requestIndexKey(kind Kind, requestID string) string {
	return fmt.Sprintf("%s%s:reqid:{%s}", s.keyPrefix, kind, requestID)
}

type redisStore struct {
	s    *RedisStorage
	kind Kind
}

func (r *redisStore) Create(ctx context.Context, key string, req *request.Request) error {
	if key == "" {
		return idperrors.ServerError("", fmt.Sprintf("%s key cannot be empty", describe(r.kind)))
	}
	if req == nil {
		return idperrors.ServerError("", "request cannot be nil")
	}

	ttl := time.Until(expiresAt(req, r.kind, time.Now()))
	if ttl <= 0 {
		ttl = defaultTTL(r.kind)
	}

	data, err := marshalRequest(req.Sanitize())
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	dataKey := r.s.key(r.kind, key)
	if err := r.s.client.Set(ctx, dataKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", describe(r.kind), err)
	}

	// Secondary index for request ID -> key. If it cannot be written, remove
	// the entry so nothing is left that DeleteByRequestID cannot reach.
	indexKey := r.s.requestIndexKey(r.kind, req.ID)
	if err := r.s.client.SAdd(ctx, indexKey, key).Err(); err != nil {
		_ = r.s.client.Del(ctx, dataKey).Err()
		return fmt.Errorf("failed to index %s: %w", describe(r.kind), err)
	}
	if err := r.s.client.Expire(ctx, indexKey, ttl).Err(); err != nil {
		_ = r.s.client.Del(ctx, dataKey).Err()
		_ = r.s.client.SRem(ctx, indexKey, key).Err()
		return fmt.Errorf("failed to index %s: %w", describe(r.kind), err)
	}
	return nil
}

func (r *redisStore) Get(ctx context.Context, key string) (*request.Request, error) {
	invalidated, err := r.s.client.Exists(ctx, r.s.invalidatedKey(r.kind, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check invalidation status: %w", err)
	}
	if invalidated > 0 {
		return nil, errInvalidated(r.kind)
	}

	data, err := r.s.client.Get(ctx, r.s.key(r.kind, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNotFound(r.kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", describe(r.kind), err)
	}

	return unmarshalRequest(ctx, data, r.s.lookup)
}

func (r *redisStore) Delete(ctx context.Context, key string) error {
	dataKey := r.s.key(r.kind, key)

	data, err := r.s.client.Get(ctx, dataKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", describe(r.kind), err)
	}

	if err := r.s.client.Del(ctx, dataKey).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", describe(r.kind), err)
	}

	var stored storedRequest
	if err := json.Unmarshal(data, &stored); err == nil && stored.ID != "" {
		// best effort
		_ = r.s.client.SRem(ctx, r.s.requestIndexKey(r.kind, stored.ID), key).Err()
	}
	return nil
}

func (r *redisStore) Invalidate(ctx context.Context, key string) error {
	exists, err := r.s.client.Exists(ctx, r.s.key(r.kind, key)).Result()
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", describe(r.kind), err)
	}
	if exists == 0 {
		return errNotFound(r.kind)
	}
	// SET NX decides the winner when replicas race on one key.
	won, err := r.s.client.SetNX(ctx, r.s.invalidatedKey(r.kind, key), "1", DefaultInvalidatedTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", describe(r.kind), err)
	}
	if !won {
		return errInvalidated(r.kind)
	}
	return nil
}

func (r *redisStore) DeleteByRequestID(ctx context.Context, requestID string) error {
	indexKey := r.s.requestIndexKey(r.kind, requestID)
	keys, err := r.s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read request index: %w", err)
	}

	for _, k := range keys {
		if err := r.s.client.Del(ctx, r.s.key(r.kind, k)).Err(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", describe(r.kind), err)
		}
	}
	return r.s.client.Del(ctx, indexKey).Err()
}

var (
	_ Storage = (*RedisStorage)(nil)
	_ Store   = (*redisStore)(nil)
)

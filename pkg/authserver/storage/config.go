// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-memory storage (default).
	TypeMemory Type = "memory"

	// TypeRedis uses a Redis server.
	TypeRedis Type = "redis"

	// DefaultCleanupInterval is how often the background cleanup runs.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultAccessTokenTTL is the default TTL for access tokens when not extractable from session.
	DefaultAccessTokenTTL = 1 * time.Hour

	// DefaultRefreshTokenTTL is the default TTL for refresh tokens when not extractable from session.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour // 30 days

	// DefaultAuthCodeTTL is the default TTL for authorization codes (RFC 6749 recommendation).
	DefaultAuthCodeTTL = 10 * time.Minute

	// DefaultInvalidatedTTL is how long invalidated entries are kept for replay detection.
	DefaultInvalidatedTTL = 30 * time.Minute

	// DefaultKeyPrefix namespaces keys in a shared Redis.
	DefaultKeyPrefix = "thv-idp:"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

func defaultTTL(kind Kind) time.Duration {
	switch kind {
	case KindAccessToken:
		return DefaultAccessTokenTTL
	case KindRefreshToken:
		return DefaultRefreshTokenTTL
	default:
		return DefaultAuthCodeTTL
	}
}

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`

	// Redis is required when Type is redis.
	Redis *RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty" mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is host:port of a standalone server. Ignored when SentinelAddrs is set.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" mapstructure:"addr"`

	// MasterName and SentinelAddrs select a Sentinel deployment.
	MasterName    string   `json:"master_name,omitempty" yaml:"master_name,omitempty" mapstructure:"master_name"`
	SentinelAddrs []string `json:"sentinel_addrs,omitempty" yaml:"sentinel_addrs,omitempty" mapstructure:"sentinel_addrs"`

	DB       int    `json:"db,omitempty" yaml:"db,omitempty" mapstructure:"db"`
	Username string `json:"username,omitempty" yaml:"username,omitempty" mapstructure:"username"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`

	// KeyPrefix namespaces keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`

	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty" mapstructure:"write_timeout"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
		return nil
	case TypeRedis:
		if c.Redis == nil {
			return fmt.Errorf("redis configuration is required for storage type %q", c.Type)
		}
		if c.Redis.Addr == "" && len(c.Redis.SentinelAddrs) == 0 {
			return errors.New("redis addr or sentinel_addrs is required")
		}
		if len(c.Redis.SentinelAddrs) > 0 && c.Redis.MasterName == "" {
			return errors.New("redis master_name is required with sentinel_addrs")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage type %q", c.Type)
	}
}

// NewRedisClient creates a client from cfg and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg *RedisConfig) (redis.UniversalClient, error) {
	dial, read, write := cfg.DialTimeout, cfg.ReadTimeout, cfg.WriteTimeout
	if dial == 0 {
		dial = DefaultDialTimeout
	}
	if read == 0 {
		read = DefaultReadTimeout
	}
	if write == 0 {
		write = DefaultWriteTimeout
	}

	var rc redis.UniversalClient
	if len(cfg.SentinelAddrs) > 0 {
		rc = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			DB:            cfg.DB,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DialTimeout:   dial,
			ReadTimeout:   read,
			WriteTimeout:  write,
		})
	} else {
		rc = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			DB:           cfg.DB,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DialTimeout:  dial,
			ReadTimeout:  read,
			WriteTimeout: write,
		})
	}

	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rc, nil
}

// New creates the storage selected by cfg. Redis storage resolves clients
// through lookup when loading snapshots.
func New(ctx context.Context, cfg *Config, lookup client.Lookup) (Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Type != TypeRedis {
		return NewMemoryStorage(), nil
	}
	rc, err := NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	return NewRedisStorageWithClient(rc, cfg.Redis.KeyPrefix, lookup), nil
}

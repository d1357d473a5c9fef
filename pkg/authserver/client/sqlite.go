// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	kindOAuth = "oauth"
	kindOIDC  = "oidc"
)

// SQLiteRegistry is a Lookup backed by a SQLite database.
type SQLiteRegistry struct {
	db *sql.DB
}

// OpenSQLiteRegistry opens (creating if needed) the database at path and applies migrations.
func OpenSQLiteRegistry(ctx context.Context, path string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open client database: %w", err)
	}
	// modernc sqlite does not support concurrent writers on one file
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteRegistry{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

// Register validates and upserts a client.
func (r *SQLiteRegistry) Register(ctx context.Context, c Client) error {
	if err := c.Validate(); err != nil {
		return err
	}

	kind := kindOAuth
	if _, ok := AsOIDC(c); ok {
		kind = kindOIDC
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode client: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO clients (id, kind, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, data = excluded.data`,
		c.GetID(), kind, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

// Find returns the client with the given ID.
func (r *SQLiteRegistry) Find(ctx context.Context, id string) (Client, error) {
	var kind, data string
	err := r.db.QueryRowContext(ctx, `SELECT kind, data FROM clients WHERE id = ?`, id).Scan(&kind, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	var c Client
	switch kind {
	case kindOIDC:
		c = &OIDCClient{}
	case kindOAuth:
		c = &OAuthClient{}
	default:
		return nil, fmt.Errorf("client %s has unknown kind %q", id, kind)
	}
	if err := json.Unmarshal([]byte(data), c); err != nil {
		return nil, fmt.Errorf("failed to decode client: %w", err)
	}
	return c, nil
}

var _ Lookup = (*SQLiteRegistry)(nil)

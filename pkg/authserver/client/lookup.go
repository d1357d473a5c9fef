// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
)

//go:generate mockgen -destination=mocks/mock_lookup.go -package=mocks -source=lookup.go Lookup

// Lookup resolves registered clients by identifier.
type Lookup interface {
	// Find returns the client, or an invalid_client error with sub-code
	// client_not_found when it is unknown.
	Find(ctx context.Context, id string) (Client, error)
}

// ErrNotFound builds the error returned for unknown clients.
func ErrNotFound(id string) error {
	return idperrors.InvalidClient(idperrors.SubClientNotFound, fmt.Sprintf("client %q not found", id))
}

// MemoryRegistry is a concurrency-safe in-memory Lookup.
type MemoryRegistry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewMemoryRegistry creates a registry holding the given clients.
func NewMemoryRegistry(clients ...Client) (*MemoryRegistry, error) {
	r := &MemoryRegistry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds a client, replacing any client with the same ID.
func (r *MemoryRegistry) Register(c Client) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.GetID()] = c
	return nil
}

// Find returns the client with the given ID.
func (r *MemoryRegistry) Find(_ context.Context, id string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, ErrNotFound(id)
	}
	return c, nil
}

type registrationFile struct {
	Clients []Registration `yaml:"clients"`
}

// LoadYAML reads client registrations from a YAML file with a top-level "clients" list.
func LoadYAML(path string) ([]Registration, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read clients file: %w", err)
	}
	var file registrationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse clients file: %w", err)
	}
	return file.Clients, nil
}

// NewMemoryRegistryFromRegistrations builds every registration into a MemoryRegistry.
func NewMemoryRegistryFromRegistrations(regs []Registration, opts ...Option) (*MemoryRegistry, error) {
	clients := make([]Client, 0, len(regs))
	for i, reg := range regs {
		c, err := New(reg, opts...)
		if err != nil {
			return nil, fmt.Errorf("client %d: %w", i, err)
		}
		clients = append(clients, c)
	}
	return NewMemoryRegistry(clients...)
}

var _ Lookup = (*MemoryRegistry)(nil)

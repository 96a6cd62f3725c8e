// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package endpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/transferarr/transferarr/internal/domain"
)

// Registry holds one Client per configured download client, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry builds a Client for every entry in clients and returns a
// Registry ready to be queried by name. Only "qbittorrent" is a recognised
// kind today; an unrecognised kind is a configuration error.
func NewRegistry(clients map[string]domain.DownloadClient) (*Registry, error) {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for name, dc := range clients {
		switch dc.Kind {
		case "qbittorrent":
			r.clients[name] = NewQBittorrentClient(name, dc.Host, dc.Port, dc.Username, dc.Password)
		default:
			return nil, fmt.Errorf("download client %q: unsupported kind %q", name, dc.Kind)
		}
	}
	return r, nil
}

// NewRegistryWithClients builds a Registry directly from already-constructed
// clients, bypassing NewRegistry's kind-dispatch. Used by tests that need to
// wire in a fake Client.
func NewRegistryWithClients(clients map[string]Client) *Registry {
	return &Registry{clients: clients}
}

// Get returns the named client, or false if no such name is registered.
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// roleSetter is implemented by endpoint clients whose native->universal
// state mapping depends on which side of a connection they sit on. Not
// every future Client implementation need support this; type-asserting
// lets ApplyConnectionRoles skip ones that don't.
type roleSetter interface {
	SetRole(home bool)
}

// ApplyConnectionRoles assigns each registered client a fixed home or
// target role from the configured connections, so list() reports HOME_*
// or TARGET_* universal states without the orchestrator ever needing to
// know which side of a copy route an endpoint plays. A physical endpoint
// used as both a "from" and a "to" across different connections is a
// configuration this deployment model doesn't support; last write wins
// and nothing detects or logs it, since resolving a torrent's home/target is inherently
// per-connection while a client's native-state mapping is per-endpoint.
func (r *Registry) ApplyConnectionRoles(connections map[string]domain.ConnectionConfig) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range connections {
		if c, ok := r.clients[conn.From]; ok {
			if rs, ok := c.(roleSetter); ok {
				rs.SetRole(true)
			}
		}
		if c, ok := r.clients[conn.To]; ok {
			if rs, ok := c.(roleSetter); ok {
				rs.SetRole(false)
			}
		}
	}
}

// EnsureAllConnected calls EnsureConnected on every registered client,
// returning the first error encountered. Used once at startup; serve exits
// on a non-transient error and only logs a transient one.
func (r *Registry) EnsureAllConnected(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, c := range r.clients {
		if err := c.EnsureConnected(ctx); err != nil {
			return fmt.Errorf("endpoint %q: %w", name, err)
		}
	}
	return nil
}

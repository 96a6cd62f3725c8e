// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package endpoint provides the uniform capability surface over a torrent
// client, and the native-state -> universal-state boundary every
// implementation maps through so the orchestrator never interprets native
// states directly.
package endpoint

import (
	"context"

	"github.com/transferarr/transferarr/internal/store"
)

// TorrentInfo is the snapshot of one torrent as reported by list().
type TorrentInfo struct {
	Name     string
	State    store.TorrentState
	Progress float64 // 0..1
	SavePath string
	Files    []FileInfo
}

// FileInfo is one file within a torrent's payload.
type FileInfo struct {
	Name string // path relative to the torrent's root, forward-slash separated
	Size int64
}

// AddOptions configures AddMetainfo.
type AddOptions struct {
	SavePath string
	Paused   bool
	Category string
	Tags     []string
}

// Client is the capability surface required from every torrent-client
// implementation. All methods are safe for concurrent use; implementations
// serialize internally where the underlying client isn't already
// thread-safe, each owning its own (non-reentrant) lock.
type Client interface {
	// Name is the configured endpoint name.
	Name() string

	// EnsureConnected is idempotent; returns a transient error on failure.
	EnsureConnected(ctx context.Context) error

	// List returns a snapshot mapping lowercase hash -> info.
	List(ctx context.Context) (map[string]TorrentInfo, error)

	// Has reports whether hash is present, derived from List by default.
	Has(ctx context.Context, hash string) (bool, error)

	// AddMetainfo is idempotent by hash: adding an already-present hash is
	// a no-op success.
	AddMetainfo(ctx context.Context, metainfo []byte, opts AddOptions) error

	// Remove deletes hash; "not present" is treated as success.
	Remove(ctx context.Context, hash string, deleteData bool) error

	// Files returns the per-file manifest for hash, used once at the
	// HOME_SEEDING -> COPYING transition to snapshot what the executor
	// must copy; the executor never re-queries it mid-job.
	Files(ctx context.Context, hash string) ([]FileInfo, error)
}

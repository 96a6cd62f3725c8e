// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package manager adapts external media managers (movie/TV catalogers) to
// the capability surface the orchestrator drives: a queue of torrents the
// manager expects downloaded on its behalf, and an ingest confirmation the
// orchestrator polls before retiring a torrent from its home client.
package manager

import "context"

// QueueItem is one entry in a manager's download queue.
type QueueItem struct {
	// Hash is the torrent's infohash as the manager reports it (managers
	// uppercase; compare case-insensitively).
	Hash string
	Name string
	// QueueID is opaque; passed back to ReadyToRemove and persisted on the
	// record for dequeue on retirement.
	QueueID string
}

// Adapter is the capability surface required from every media-manager
// kind. Movies and series adapters are network-identical from the
// orchestrator's point of view; both use the same queue API paths and
// differ only in their Kind tag.
type Adapter interface {
	// Kind is a stable string tag, serialised on records so the adapter
	// can be rebound to a record on restart.
	Kind() string

	// Queue returns the manager's current download queue. A transient
	// failure here should make the caller skip this tick's ingest step
	// for this adapter, not fail the whole tick.
	Queue(ctx context.Context) ([]QueueItem, error)

	// ReadyToRemove reports whether the manager has ingested the payload
	// referenced by queueID and no longer needs the torrent kept around.
	ReadyToRemove(ctx context.Context, queueID string) (bool, error)
}

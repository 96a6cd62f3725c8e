// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package store

import (
	"time"
)

// WorkerHandle is the concurrency-safe wrapper exposing exactly the two
// fields a transfer worker may write: its progress view and its own
// terminal state. Workers never touch any other record field; all other
// mutation is driver-exclusive.
type WorkerHandle struct {
	store *Store
	hash  string
}

// Handle returns a WorkerHandle bound to hash. The handle is cheap; create
// one per job.
func (s *Store) Handle(hash string) *WorkerHandle {
	return &WorkerHandle{store: s, hash: NormalizeHash(hash)}
}

// PublishProgress writes a whole ProgressView atomically and persists it
// opportunistically. Callers throttle how often they call this;
// PublishProgress itself does not rate-limit.
//
// The record installed in the map is never mutated in place: a driver tick
// may be holding a clone returned by an earlier All()/Get() and reading its
// fields with no lock of its own, so in-place mutation here would race that
// read. Instead a fresh clone with the new ProgressView is built and swapped
// into the map under store.mu, so every reader only ever sees a value that
// was whole and consistent at the instant it was handed out.
func (h *WorkerHandle) PublishProgress(p ProgressView) {
	h.store.mu.Lock()
	rec, ok := h.store.records[h.hash]
	if ok {
		clone := rec.Clone()
		clone.ProgressView = p
		h.store.records[h.hash] = clone
	}
	h.store.mu.Unlock()
	if !ok {
		return
	}

	_ = h.store.save()
}

// CompleteWith sets the record's terminal state for this job (COPIED or
// ERROR) and persists. This is the only state transition a worker is
// permitted to make. Like PublishProgress, it swaps in a clone rather than
// mutating the shared record in place, for the same reason.
func (h *WorkerHandle) CompleteWith(state TorrentState, recErr *RecordError) error {
	h.store.mu.Lock()
	rec, ok := h.store.records[h.hash]
	if ok {
		clone := rec.Clone()
		clone.State = state
		clone.Error = recErr
		clone.UpdatedAt = time.Now().UTC()
		if state == StateCopied {
			clone.CopiedAt = clone.UpdatedAt
			clone.TicksSinceCopy = 0
		}
		h.store.records[h.hash] = clone
	}
	h.store.mu.Unlock()
	if !ok {
		return nil
	}
	return h.store.save()
}

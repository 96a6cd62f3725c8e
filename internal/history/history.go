// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package history implements the append-only transfer-history sink: a
// best-effort record of transfer lifecycle events, consumed externally
// for reporting. Nothing in the core ever blocks on it, and a sink
// failure is logged, never propagated.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventKind names one of the four reportable transfer transitions.
type EventKind string

const (
	EventTransferStarted  EventKind = "transfer_started"
	EventTransferProgress EventKind = "transfer_progress"
	EventTransferComplete EventKind = "transfer_completed"
	EventTransferFailed   EventKind = "transfer_failed"
)

// Event is one append-only record. Fields are a superset across kinds;
// unused fields are omitted.
type Event struct {
	Kind EventKind `json:"kind"`
	Hash string    `json:"hash"`
	When time.Time `json:"when"`

	Name string `json:"name,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	BytesDone  int64   `json:"bytesDone,omitempty"`
	BytesTotal int64   `json:"bytesTotal,omitempty"`
	Speed      float64 `json:"speed,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// Sink receives events at transitions the orchestrator considers
// reportable. Implementations must never fail the driver.
type Sink interface {
	TransferStarted(hash, name, from, to string, size int64)
	TransferProgress(hash string, bytesDone, bytesTotal int64, speed float64)
	TransferCompleted(hash string)
	TransferFailed(hash, reason string)
}

// NopSink discards every event; used where no history sink is configured.
type NopSink struct{}

func (NopSink) TransferStarted(string, string, string, string, int64) {}
func (NopSink) TransferProgress(string, int64, int64, float64)        {}
func (NopSink) TransferCompleted(string)                              {}
func (NopSink) TransferFailed(string, string)                         {}

// JSONLSink appends one JSON object per line to a file. Writes are
// best-effort: a failed write is logged and otherwise ignored, so the
// sink can never affect the driver.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewJSONLSink opens (creating if needed) path for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{path: path, f: f}, nil
}

func (s *JSONLSink) write(e Event) {
	e.When = time.Now().UTC()
	data, err := json.Marshal(e)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("[HISTORY] Failed to marshal event")
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(data); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("[HISTORY] Failed to append event")
	}
}

func (s *JSONLSink) TransferStarted(hash, name, from, to string, size int64) {
	s.write(Event{Kind: EventTransferStarted, Hash: hash, Name: name, From: from, To: to, BytesTotal: size})
}

func (s *JSONLSink) TransferProgress(hash string, bytesDone, bytesTotal int64, speed float64) {
	s.write(Event{Kind: EventTransferProgress, Hash: hash, BytesDone: bytesDone, BytesTotal: bytesTotal, Speed: speed})
}

func (s *JSONLSink) TransferCompleted(hash string) {
	s.write(Event{Kind: EventTransferComplete, Hash: hash})
}

func (s *JSONLSink) TransferFailed(hash, reason string) {
	s.write(Event{Kind: EventTransferFailed, Hash: hash, Reason: reason})
}

// Close releases the underlying file handle.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/transferarr/transferarr/internal/errkind"
)

// fileSchema is the on-disk shape of the state file.
type fileSchema struct {
	Torrents map[string]*TorrentRecord `json:"torrents"`
	// unknown preserves any fields a future version wrote that this
	// version doesn't understand, so round-tripping never drops data.
	unknown map[string]json.RawMessage
}

func (f *fileSchema) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.unknown = raw
	if torrentsRaw, ok := raw["torrents"]; ok {
		if err := json.Unmarshal(torrentsRaw, &f.Torrents); err != nil {
			return err
		}
	}
	if f.Torrents == nil {
		f.Torrents = map[string]*TorrentRecord{}
	}
	delete(f.unknown, "torrents")
	return nil
}

func (f *fileSchema) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range f.unknown {
		out[k] = v
	}
	torrentsRaw, err := json.Marshal(f.Torrents)
	if err != nil {
		return nil, err
	}
	out["torrents"] = torrentsRaw
	return json.Marshal(out)
}

// Store is the single persisted map of tracked torrents and their states.
// Every access to the record map takes mu, so the driver and executor
// workers may call it concurrently; saveLock serializes writes of the
// state file.
type Store struct {
	path string

	mu       sync.Mutex
	records  map[string]*TorrentRecord
	unknown  map[string]json.RawMessage // preserved for forwards compatibility
	saveLock sync.Mutex                 // serializes save() so two saves never overlap on disk
}

// New creates a Store backed by the given JSON file path. It does not load;
// call Load to rehydrate from disk.
func New(path string) *Store {
	return &Store{
		path:    path,
		records: map[string]*TorrentRecord{},
	}
}

// Load rehydrates records from disk. An unreadable or malformed file is
// recoverable: it is logged and the store starts empty.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", s.path).Msg("[STORE] No existing state file, starting empty")
			return nil
		}
		log.Warn().Err(err).Str("path", s.path).Msg("[STORE] Failed to read state file, starting empty")
		return nil
	}

	var schema fileSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("[STORE] State file malformed, starting empty")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string]*TorrentRecord{}
	for hash, rec := range schema.Torrents {
		norm := NormalizeHash(hash)
		rec.Hash = norm
		s.records[norm] = rec
	}
	s.unknown = schema.unknown

	log.Info().Int("count", len(s.records)).Str("path", s.path).Msg("[STORE] Loaded state")
	return nil
}

// All returns a snapshot slice of cloned records, safe to range over and
// read without holding the store's lock. Clones are required, not just
// convenient: a worker's WorkerHandle mutates the record installed in the
// map concurrently with the driver's own tick, so a caller holding an alias
// to that same object would be reading fields while another goroutine
// writes them. Cloning here is the read-side half of that guarantee; the
// write side is WorkerHandle installing its own clone (see progress.go).
func (s *Store) All() []*TorrentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*TorrentRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Get returns a clone of the record for hash, or nil if untracked. See All
// for why this can never return the live map pointer.
func (s *Store) Get(hash string) *TorrentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[NormalizeHash(hash)].Clone()
}

// Put inserts or replaces a record and persists the change: any change to
// state or error is durable before the caller that made it observes success.
func (s *Store) Put(rec *TorrentRecord) error {
	norm := NormalizeHash(rec.Hash)
	rec.Hash = norm
	rec.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.records[norm] = rec
	s.mu.Unlock()

	return s.save()
}

// Delete removes a record and persists.
func (s *Store) Delete(hash string) error {
	norm := NormalizeHash(hash)

	s.mu.Lock()
	_, existed := s.records[norm]
	delete(s.records, norm)
	s.mu.Unlock()

	if !existed {
		return nil
	}
	return s.save()
}

// save snapshots the current records and writes them atomically via
// write-to-temp then rename.
func (s *Store) save() error {
	s.saveLock.Lock()
	defer s.saveLock.Unlock()

	s.mu.Lock()
	snapshot := make(map[string]*TorrentRecord, len(s.records))
	for k, v := range s.records {
		snapshot[k] = v
	}
	unknown := s.unknown
	s.mu.Unlock()

	schema := fileSchema{Torrents: snapshot, unknown: unknown}
	data, err := json.MarshalIndent(&schema, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.StateStoreUnwritable, "marshal state", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Wrap(errkind.StateStoreUnwritable, "create state dir", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return errkind.Wrap(errkind.StateStoreUnwritable, "create temp state file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errkind.Wrap(errkind.StateStoreUnwritable, "write temp state file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errkind.Wrap(errkind.StateStoreUnwritable, "sync temp state file", err)
	}
	if err := tmp.Close(); err != nil {
		return errkind.Wrap(errkind.StateStoreUnwritable, "close temp state file", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return errkind.Wrap(errkind.StateStoreUnwritable, fmt.Sprintf("rename %s -> %s", tmpPath, s.path), err)
	}

	return nil
}

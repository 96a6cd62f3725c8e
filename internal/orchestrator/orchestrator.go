// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package orchestrator implements the reconciliation loop: a
// single-threaded driver, ticking on a fixed period, that ingests
// manager queues, locates torrents on configured endpoints, advances
// each record's state machine, retires completed transfers, and
// persists every change.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/transferarr/transferarr/internal/endpoint"
	"github.com/transferarr/transferarr/internal/executor"
	"github.com/transferarr/transferarr/internal/history"
	"github.com/transferarr/transferarr/internal/manager"
	"github.com/transferarr/transferarr/internal/store"
)

// Config carries the driver's tunables, each with a fixed default
// applied by config.applyDefaults before reaching here.
type Config struct {
	TickInterval    time.Duration
	MaxUnclaimed    int
	MaxCopyRetry    int
	PostIngestTicks int
	CallTimeout     time.Duration
}

// Driver is the single-threaded reconciliation loop. All record mutation
// happens from its own goroutine under its own lock; workers never touch
// anything but store.WorkerHandle.
type Driver struct {
	cfg Config

	store     *store.Store
	endpoints *endpoint.Registry
	adapters  []manager.Adapter
	executors map[string]*executor.Executor
	sink      history.Sink

	// connsByFrom indexes every configured Connection by its home endpoint
	// name, sorted by name for deterministic selection when more than one
	// connection shares a home.
	connsByFrom map[string][]*executor.Connection
	// homeCandidates is the sorted set of endpoint names that appear as a
	// connection's "from" — the only endpoints a record can ever be
	// resolved to as home, since an endpoint never wired into any
	// connection's "from" has nowhere to send a copy job.
	homeCandidates []string
	adapterByKind  map[string]manager.Adapter

	cancel context.CancelFunc
	done   chan struct{}

	fatalMu  sync.Mutex
	fatalErr error
}

// New builds a Driver. connections indexes every configured Connection so
// Locate and Advance can look up, for any home endpoint name, which
// connections originate from it.
func New(cfg Config, st *store.Store, endpoints *endpoint.Registry, adapters []manager.Adapter, connections map[string]*executor.Connection, executors map[string]*executor.Executor, sink history.Sink) *Driver {
	if sink == nil {
		sink = history.NopSink{}
	}
	byFrom := make(map[string][]*executor.Connection)
	for _, c := range connections {
		byFrom[c.From] = append(byFrom[c.From], c)
	}
	homeCandidates := make([]string, 0, len(byFrom))
	for name, conns := range byFrom {
		homeCandidates = append(homeCandidates, name)
		sort.Slice(conns, func(i, j int) bool { return conns[i].Name < conns[j].Name })
		byFrom[name] = conns
	}
	sort.Strings(homeCandidates)

	adapterByKind := make(map[string]manager.Adapter, len(adapters))
	for _, a := range adapters {
		adapterByKind[a.Kind()] = a
	}

	return &Driver{
		cfg:            cfg,
		store:          st,
		endpoints:      endpoints,
		adapters:       adapters,
		executors:      executors,
		connsByFrom:    byFrom,
		homeCandidates: homeCandidates,
		adapterByKind:  adapterByKind,
		sink:           sink,
		done:           make(chan struct{}),
	}
}

// Start launches the reconciliation loop on its own goroutine. ctx governs
// the loop's lifetime; Stop blocks until the current tick finishes.
func (d *Driver) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.loop(runCtx)
}

// Stop cancels the loop and waits for the in-progress tick, if any, to
// return.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	<-d.done
}

// Done is closed once the loop has exited, whether stopped cleanly or
// halted by an unrecoverable failure.
func (d *Driver) Done() <-chan struct{} { return d.done }

// Err returns the unrecoverable failure that halted the loop, or nil
// after a clean stop. The caller maps it to the process exit code.
func (d *Driver) Err() error {
	d.fatalMu.Lock()
	defer d.fatalMu.Unlock()
	return d.fatalErr
}

func (d *Driver) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs the five reconciliation steps — ingest, locate, drop stale,
// advance, persist — in order, against a timeout-bounded context so one
// slow manager or endpoint never blocks the whole tick indefinitely.
func (d *Driver) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, d.cfg.CallTimeout)
	defer cancel()

	d.ingestFromManagers(ctx)

	records := d.store.All()
	obs := d.locate(ctx, records)
	eligible := d.dropStale(records, obs)
	d.advance(ctx, eligible, obs)
}

// errRecordNotFound is returned by the administrative operations below
// when asked to act on a hash the store doesn't track.
type errRecordNotFound string

func (e errRecordNotFound) Error() string { return "no record tracked for hash " + string(e) }

// ClearError is the supplemented administrative operation that lets an
// operator acknowledge an ERROR record and make it eligible for rework:
// it resets the record to HOME_SEEDING (re-resolving home/target on the
// next tick) without resetting CopyRetries, so a record an operator keeps
// clearing still eventually exhausts its retry budget on its own.
func (d *Driver) ClearError(hash string) error {
	hash = store.NormalizeHash(hash)
	rec := d.store.Get(hash)
	if rec == nil {
		return errRecordNotFound(hash)
	}
	if rec.State != store.StateError {
		return nil
	}

	clone := rec.Clone()
	clone.State = store.StateHomeSeeding
	clone.TargetClient = ""
	clone.Error = nil
	log.Info().Str("hash", hash).Msg("[ORCH] Error cleared by operator, record re-queued")
	return d.store.Put(clone)
}

// PurgeRecord is the supplemented administrative operation for dropping a
// record the driver would otherwise keep tracking forever (e.g. an
// operator decided a stuck torrent isn't worth retrying). It only removes
// bookkeeping state; it never touches either endpoint.
func (d *Driver) PurgeRecord(hash string) error {
	hash = store.NormalizeHash(hash)
	if rec := d.store.Get(hash); rec == nil {
		return errRecordNotFound(hash)
	}
	log.Info().Str("hash", hash).Msg("[ORCH] Record purged by operator")
	return d.store.Delete(hash)
}

// fatalToProcess records the first unrecoverable failure (a state store
// that cannot be written leaves nothing safe to continue with) and stops
// the loop. The failure surfaces through Err so the caller can map it to
// the state-store exit code; the process supervisor is expected to
// restart us. Later failures within the same dying tick are redundant
// and dropped.
func (d *Driver) fatalToProcess(err error) {
	d.fatalMu.Lock()
	first := d.fatalErr == nil
	if first {
		d.fatalErr = err
	}
	d.fatalMu.Unlock()
	if !first {
		return
	}

	log.Error().Err(err).Msg("[ORCH] State store unwritable, stopping driver")
	if d.cancel != nil {
		d.cancel()
	}
}

// ingestFromManagers is step 1: merge every adapter's queue into the
// store, creating MANAGER_QUEUED records for newly-seen hashes and
// refreshing name/queue_id on existing ones.
func (d *Driver) ingestFromManagers(ctx context.Context) {
	for _, adapter := range d.adapters {
		items, err := adapter.Queue(ctx)
		if err != nil {
			log.Warn().Err(err).Str("manager", adapter.Kind()).Msg("[ORCH] Queue fetch failed, skipping this tick")
			continue
		}

		for _, item := range items {
			hash := store.NormalizeHash(item.Hash)
			if hash == "" {
				continue
			}

			rec := d.store.Get(hash)
			now := time.Now().UTC()
			if rec == nil {
				rec = &store.TorrentRecord{
					Hash:           hash,
					Name:           item.Name,
					State:          store.StateManagerQueued,
					ManagerKind:    adapter.Kind(),
					ManagerQueueID: item.QueueID,
					CreatedAt:      now,
				}
			} else {
				rec = rec.Clone()
				rec.Name = item.Name
				rec.ManagerQueueID = item.QueueID
			}

			if err := d.store.Put(rec); err != nil {
				d.fatalToProcess(err)
				return
			}
		}
	}
}

// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/transferarr/transferarr/internal/endpoint"
	"github.com/transferarr/transferarr/internal/errkind"
	"github.com/transferarr/transferarr/internal/executor"
	"github.com/transferarr/transferarr/internal/store"
)

// observation is what step 2 (Locate) learns about one record this tick,
// kept separate from the record itself so Advance can apply the
// transition table against a consistent snapshot instead of a value that
// changed mid-step.
type observation struct {
	Located   bool
	Home      string
	HomeState store.TorrentState

	TargetLocated bool
	TargetState   store.TorrentState

	// Degraded marks a record whose absence can't be trusted this tick:
	// at least one endpoint it would live on failed to list. A degraded
	// miss is a transient endpoint failure, not evidence the torrent is
	// gone, so it never feeds the unclaimed counter.
	Degraded bool
}

// locate is the tick's second step: resolve where every record currently
// lives. Endpoint listings are fetched at most once per endpoint per tick
// and shared across every record, since List is a full snapshot rather
// than a per-hash lookup.
func (d *Driver) locate(ctx context.Context, records []*store.TorrentRecord) map[string]observation {
	listings := make(map[string]map[string]endpoint.TorrentInfo)
	failed := make(map[string]bool)
	listFor := func(name string) map[string]endpoint.TorrentInfo {
		if l, ok := listings[name]; ok {
			return l
		}
		client, ok := d.endpoints.Get(name)
		if !ok {
			listings[name] = nil
			return nil
		}
		info, err := client.List(ctx)
		if err != nil {
			log.Warn().Err(err).Str("endpoint", name).Msg("[ORCH] List failed, treating as unreachable this tick")
			listings[name] = nil
			failed[name] = true
			return nil
		}
		listings[name] = info
		return info
	}

	out := make(map[string]observation, len(records))
	for _, rec := range records {
		var o observation
		consultedFailed := false

		if rec.HomeClient != "" {
			if info, ok := listFor(rec.HomeClient)[rec.Hash]; ok {
				o.Located = true
				o.Home = rec.HomeClient
				o.HomeState = info.State
			}
			consultedFailed = consultedFailed || failed[rec.HomeClient]
		}
		if !o.Located {
			for _, name := range d.homeCandidates {
				if info, ok := listFor(name)[rec.Hash]; ok {
					o.Located = true
					o.Home = name
					o.HomeState = info.State
					break
				}
				consultedFailed = consultedFailed || failed[name]
			}
		}

		if rec.TargetClient != "" {
			if info, ok := listFor(rec.TargetClient)[rec.Hash]; ok {
				o.TargetLocated = true
				o.TargetState = info.State
			}
			consultedFailed = consultedFailed || failed[rec.TargetClient]
		}

		o.Degraded = !o.Located && !o.TargetLocated && consultedFailed
		out[rec.Hash] = o
	}
	return out
}

// dropStale is the tick's third step: unclaimed bookkeeping. The
// any->UNCLAIMED and UNCLAIMED->prior transitions live here rather than
// in advance since they depend only on this tick's locate result, never
// on the executor or a manager. It returns the records still eligible
// for advance, each reflecting any unclaimed-state change already
// persisted.
func (d *Driver) dropStale(records []*store.TorrentRecord, obs map[string]observation) []*store.TorrentRecord {
	eligible := make([]*store.TorrentRecord, 0, len(records))

	for _, rec := range records {
		o := obs[rec.Hash]

		if !o.Located && !o.TargetLocated {
			// A failed listing is a transient endpoint error, not a
			// locate miss: leave the record untouched and retry next
			// tick.
			if o.Degraded {
				eligible = append(eligible, rec)
				continue
			}
			// ERROR records stay surfaced until operator intervention;
			// they never decay into UNCLAIMED or get dropped underneath
			// the operator inspecting them.
			if rec.State == store.StateError {
				eligible = append(eligible, rec)
				continue
			}

			clone := rec.Clone()
			if clone.State != store.StateUnclaimed {
				clone.PriorState = clone.State
				clone.State = store.StateUnclaimed
			}
			clone.UnclaimedCount++

			if clone.UnclaimedCount >= d.cfg.MaxUnclaimed {
				log.Info().Str("hash", clone.Hash).Int("unclaimedCount", clone.UnclaimedCount).
					Msg("[ORCH] Dropping record, exceeded unclaimed limit")
				if err := d.store.Delete(clone.Hash); err != nil {
					d.fatalToProcess(err)
				}
				continue
			}
			if err := d.store.Put(clone); err != nil {
				d.fatalToProcess(err)
				continue
			}
			continue
		}

		if rec.State == store.StateUnclaimed {
			clone := rec.Clone()
			clone.State = clone.PriorState
			clone.PriorState = ""
			clone.UnclaimedCount = 0
			if err := d.store.Put(clone); err != nil {
				d.fatalToProcess(err)
				continue
			}
			// Restoration is this record's one transition for the tick.
			// Advancing further (a HOME_SEEDING restore could otherwise
			// enqueue a copy immediately) waits for the next tick's
			// locate to confirm the torrent really is back.
			continue
		}

		if rec.UnclaimedCount != 0 {
			clone := rec.Clone()
			clone.UnclaimedCount = 0
			if err := d.store.Put(clone); err != nil {
				d.fatalToProcess(err)
				continue
			}
			eligible = append(eligible, clone)
			continue
		}

		eligible = append(eligible, rec)
	}

	return eligible
}

// advance is the tick's fourth step: at most one transition per record
// per tick. COPYING -> COPIED and COPYING -> ERROR are applied by the
// executor directly against the record (the driver only observes them
// here); everything else, including re-enqueuing a COPYING record whose
// job the executor has forgotten about, is this function's responsibility.
func (d *Driver) advance(ctx context.Context, records []*store.TorrentRecord, obs map[string]observation) {
	for _, rec := range records {
		o := obs[rec.Hash]

		switch {
		case rec.State == store.StateManagerQueued:
			d.advanceManagerQueued(rec, o)

		case rec.State.IsHome() && rec.State != store.StateHomeSeeding:
			d.advanceHomeRefresh(rec, o)

		case rec.State == store.StateHomeSeeding:
			d.advanceHomeSeeding(ctx, rec, o)

		case rec.State == store.StateCopying:
			d.advanceCopying(ctx, rec)

		case rec.State == store.StateCopied:
			d.advanceCopied(rec, o)

		case rec.State.IsTarget():
			d.advanceTarget(ctx, rec, o)

		case rec.State == store.StateError:
			d.advanceError(rec)
		}
	}
}

func (d *Driver) advanceManagerQueued(rec *store.TorrentRecord, o observation) {
	if !o.Located || !o.HomeState.IsHome() {
		return
	}
	clone := rec.Clone()
	clone.HomeClient = o.Home
	clone.State = o.HomeState
	d.persist(clone)
}

func (d *Driver) advanceHomeRefresh(rec *store.TorrentRecord, o observation) {
	if !o.Located || o.HomeState == rec.State || !o.HomeState.IsHome() {
		return
	}
	clone := rec.Clone()
	clone.HomeClient = o.Home
	clone.State = o.HomeState
	d.persist(clone)
}

// advanceHomeSeeding implements the HOME_SEEDING -> COPYING row: resolve a
// connection from this record's home, snapshot its file list, and enqueue
// a copy job. No matching connection is a no-op, not a failure.
func (d *Driver) advanceHomeSeeding(ctx context.Context, rec *store.TorrentRecord, o observation) {
	if o.Located && o.HomeState != store.StateHomeSeeding {
		clone := rec.Clone()
		clone.HomeClient = o.Home
		clone.State = o.HomeState
		d.persist(clone)
		return
	}

	if rec.TargetClient != "" {
		return // already resolved; COPYING was already attempted or is pending.
	}

	conns := d.connsByFrom[rec.HomeClient]
	if len(conns) == 0 {
		return // no connection leaves home, wait.
	}
	conn := conns[0]

	exec, ok := d.executors[conn.Name]
	if !ok {
		return
	}

	files, err := conn.FromClient.Files(ctx, rec.Hash)
	if err != nil {
		log.Warn().Err(err).Str("hash", rec.Hash).Str("connection", conn.Name).
			Msg("[ORCH] Failed to snapshot file list, retrying next tick")
		return
	}

	// The COPYING transition is durable before the job exists, so a crash
	// between the two leaves a COPYING record advanceCopying will resume,
	// never a job whose record still says HOME_SEEDING.
	clone := rec.Clone()
	clone.State = store.StateCopying
	clone.TargetClient = conn.To
	d.persist(clone)

	if !exec.TryEnqueue(executor.Job{Hash: clone.Hash, Name: clone.Name, Files: files}) {
		// Saturated queue: back out to HOME_SEEDING and retry next tick
		// rather than queue unboundedly.
		revert := clone.Clone()
		revert.State = store.StateHomeSeeding
		revert.TargetClient = ""
		d.persist(revert)
	}
}

// connectionFor returns the configured connection routing home to target,
// or nil if none is wired that way.
func (d *Driver) connectionFor(home, target string) *executor.Connection {
	for _, c := range d.connsByFrom[home] {
		if c.To == target {
			return c
		}
	}
	return nil
}

// advanceCopying re-enqueues a COPYING record whenever its executor has no
// job in flight for it. This is the normal case right after a restart: the
// record's state and TargetClient survive in the persisted store, but the
// executor's in-memory queue and in-flight set do not, so nothing would
// ever pick the job back up without this. The InFlight check below makes this a no-op (no
// file-list snapshot call, no enqueue attempt) for every tick a job is
// already running, so the normal multi-hour copy case costs nothing beyond
// a map lookup.
func (d *Driver) advanceCopying(ctx context.Context, rec *store.TorrentRecord) {
	if rec.HomeClient == "" || rec.TargetClient == "" {
		return // home/target not yet re-resolved; wait for locate to catch up.
	}

	conn := d.connectionFor(rec.HomeClient, rec.TargetClient)
	if conn == nil {
		log.Warn().Str("hash", rec.Hash).Str("home", rec.HomeClient).Str("target", rec.TargetClient).
			Msg("[ORCH] No connection wired for this record's home/target, cannot resume copy")
		return
	}

	exec, ok := d.executors[conn.Name]
	if !ok {
		return
	}
	if exec.InFlight(rec.Hash) {
		return // a worker already has this job; nothing to resume.
	}

	files, err := conn.FromClient.Files(ctx, rec.Hash)
	if err != nil {
		log.Warn().Err(err).Str("hash", rec.Hash).Str("connection", conn.Name).
			Msg("[ORCH] Failed to snapshot file list while resuming a COPYING record, retrying next tick")
		return
	}

	if exec.TryEnqueue(executor.Job{Hash: rec.Hash, Name: rec.Name, Files: files}) {
		log.Info().Str("hash", rec.Hash).Str("connection", conn.Name).
			Msg("[ORCH] Resumed COPYING record with no in-flight job")
	}
}

func (d *Driver) advanceCopied(rec *store.TorrentRecord, o observation) {
	if !o.TargetLocated {
		return
	}
	clone := rec.Clone()
	clone.State = o.TargetState
	d.persist(clone)
}

func (d *Driver) advanceTarget(ctx context.Context, rec *store.TorrentRecord, o observation) {
	if o.TargetLocated && o.TargetState != rec.State {
		clone := rec.Clone()
		clone.State = o.TargetState
		d.persist(clone)
		return
	}

	if rec.State != store.StateTargetSeeding {
		return
	}
	if rec.TicksSinceCopy < d.cfg.PostIngestTicks {
		clone := rec.Clone()
		clone.TicksSinceCopy++
		d.persist(clone)
		return
	}

	adapter, ok := d.adapterByKind[rec.ManagerKind]
	if !ok {
		return
	}
	ready, err := adapter.ReadyToRemove(ctx, rec.ManagerQueueID)
	if err != nil {
		log.Warn().Err(err).Str("hash", rec.Hash).Msg("[ORCH] ready_to_remove check failed, retrying next tick")
		return
	}
	if !ready {
		return
	}

	homeClient, ok := d.endpoints.Get(rec.HomeClient)
	if !ok {
		log.Warn().Str("hash", rec.Hash).Str("endpoint", rec.HomeClient).
			Msg("[ORCH] Home endpoint no longer configured, cannot retire")
		return
	}
	if err := homeClient.Remove(ctx, rec.Hash, true); err != nil {
		log.Warn().Err(err).Str("hash", rec.Hash).Msg("[ORCH] Remove from home failed, retrying next tick")
		return
	}

	log.Info().Str("hash", rec.Hash).Str("name", rec.Name).Msg("[ORCH] Retired torrent after confirmed ingest")
	if err := d.store.Delete(rec.Hash); err != nil {
		d.fatalToProcess(err)
	}
}

// advanceError implements bounded auto-retry: a transient-at-the-time
// copy failure gets re-queued up to K_COPY_RETRY times before becoming
// the permanent, manually-cleared ERROR the state table describes.
// Missing metainfo never auto-retries; nothing else about it can change
// between ticks.
func (d *Driver) advanceError(rec *store.TorrentRecord) {
	if rec.Error == nil || rec.Error.Kind != string(errkind.CopyFailed) {
		return
	}
	if rec.CopyRetries >= d.cfg.MaxCopyRetry {
		return
	}

	clone := rec.Clone()
	clone.CopyRetries++
	clone.State = store.StateHomeSeeding
	clone.TargetClient = ""
	clone.Error = nil
	log.Info().Str("hash", clone.Hash).Int("attempt", clone.CopyRetries).
		Msg("[ORCH] Retrying failed copy")
	d.persist(clone)
}

func (d *Driver) persist(rec *store.TorrentRecord) {
	if err := d.store.Put(rec); err != nil {
		d.fatalToProcess(err)
	}
}

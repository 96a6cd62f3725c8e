// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transferarr/transferarr/internal/endpoint"
	"github.com/transferarr/transferarr/internal/errkind"
	"github.com/transferarr/transferarr/internal/executor"
	"github.com/transferarr/transferarr/internal/history"
	"github.com/transferarr/transferarr/internal/manager"
	"github.com/transferarr/transferarr/internal/store"
)

// fakeEndpoint is a minimal endpoint.Client whose List result and removal
// calls a test controls directly.
type fakeEndpoint struct {
	mu        sync.Mutex
	name      string
	listing   map[string]endpoint.TorrentInfo
	listErr   error
	files     map[string][]endpoint.FileInfo
	filesErr  error
	removed   []string
	removeErr error
}

func (f *fakeEndpoint) Name() string                              { return f.name }
func (f *fakeEndpoint) EnsureConnected(ctx context.Context) error { return nil }
func (f *fakeEndpoint) List(ctx context.Context) (map[string]endpoint.TorrentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]endpoint.TorrentInfo, len(f.listing))
	for k, v := range f.listing {
		out[k] = v
	}
	return out, nil
}
func (f *fakeEndpoint) Has(ctx context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.listing[hash]
	return ok, nil
}
func (f *fakeEndpoint) AddMetainfo(ctx context.Context, metainfo []byte, opts endpoint.AddOptions) error {
	return nil
}
func (f *fakeEndpoint) Remove(ctx context.Context, hash string, deleteData bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, hash)
	delete(f.listing, hash)
	return nil
}
func (f *fakeEndpoint) Files(ctx context.Context, hash string) ([]endpoint.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filesErr != nil {
		return nil, f.filesErr
	}
	return f.files[hash], nil
}

func (f *fakeEndpoint) setState(hash string, s store.TorrentState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.listing[hash]
	info.State = s
	f.listing[hash] = info
}

func (f *fakeEndpoint) wasRemoved(hash string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.removed {
		if h == hash {
			return true
		}
	}
	return false
}

// fakeAdapter is a minimal manager.Adapter.
type fakeAdapter struct {
	kind     string
	queue    []manager.QueueItem
	queueErr error
	ready    map[string]bool
	readyErr error
}

func (a *fakeAdapter) Kind() string { return a.kind }
func (a *fakeAdapter) Queue(ctx context.Context) ([]manager.QueueItem, error) {
	if a.queueErr != nil {
		return nil, a.queueErr
	}
	return a.queue, nil
}
func (a *fakeAdapter) ReadyToRemove(ctx context.Context, queueID string) (bool, error) {
	if a.readyErr != nil {
		return false, a.readyErr
	}
	return a.ready[queueID], nil
}

func newTestDriver(t *testing.T, cfg Config, endpoints map[string]endpoint.Client, adapters []manager.Adapter, connections map[string]*executor.Connection, executors map[string]*executor.Executor) (*Driver, *store.Store) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "state.json"))
	reg := endpoint.NewRegistryWithClients(endpoints)
	d := New(cfg, st, reg, adapters, connections, executors, history.NopSink{})
	return d, st
}

func defaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		MaxUnclaimed:    3,
		MaxCopyRetry:    2,
		PostIngestTicks: 2,
		CallTimeout:     time.Second,
	}
}

func TestIngestCreatesAndRefreshesManagerQueuedRecords(t *testing.T) {
	const hash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	adapter := &fakeAdapter{kind: "sonarr", queue: []manager.QueueItem{
		{Hash: hash, Name: "Show S01E01", QueueID: "q1"},
	}}
	d, st := newTestDriver(t, defaultConfig(), nil, []manager.Adapter{adapter}, nil, nil)

	d.ingestFromManagers(context.Background())

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateManagerQueued, rec.State)
	assert.Equal(t, "Show S01E01", rec.Name)
	assert.Equal(t, "q1", rec.ManagerQueueID)

	adapter.queue[0].Name = "Show S01E01 Renamed"
	adapter.queue[0].QueueID = "q2"
	d.ingestFromManagers(context.Background())

	rec = st.Get(hash)
	assert.Equal(t, "Show S01E01 Renamed", rec.Name)
	assert.Equal(t, "q2", rec.ManagerQueueID)
	assert.Equal(t, store.StateManagerQueued, rec.State, "ingest must not clobber an already-advanced state")
}

func TestManagerQueuedAdvancesToHomeStateOnceLocated(t *testing.T) {
	const hash = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	home := &fakeEndpoint{name: "home", listing: map[string]endpoint.TorrentInfo{
		hash: {Name: "Movie", State: store.StateHomeDownloading},
	}}
	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"home": home}, nil,
		map[string]*executor.Connection{"c1": {Name: "c1", From: "home", To: "target"}}, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{Hash: hash, Name: "Movie", State: store.StateManagerQueued}))

	d.tick(context.Background())

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateHomeDownloading, rec.State)
	assert.Equal(t, "home", rec.HomeClient)
}

func TestUnclaimedLifecycleRestoresPriorStateWhenRelocated(t *testing.T) {
	const hash = "cccccccccccccccccccccccccccccccccccccccc"
	home := &fakeEndpoint{name: "home", listing: map[string]endpoint.TorrentInfo{}}
	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"home": home}, nil,
		map[string]*executor.Connection{"c1": {Name: "c1", From: "home", To: "target"}}, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateHomeSeeding, HomeClient: "home",
	}))

	d.tick(context.Background())
	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateUnclaimed, rec.State)
	assert.Equal(t, store.StateHomeSeeding, rec.PriorState)
	assert.Equal(t, 1, rec.UnclaimedCount)

	home.setState(hash, store.StateHomeSeeding)
	d.tick(context.Background())

	rec = st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateHomeSeeding, rec.State)
	assert.Equal(t, store.TorrentState(""), rec.PriorState)
	assert.Equal(t, 0, rec.UnclaimedCount)
}

// TestRestoredRecordAdvancesOnlyOnTheNextTick covers the combined
// restore-then-advance path: a record coming back from UNCLAIMED is
// restored to its prior state and nothing more that tick — a restored
// HOME_SEEDING record must not enqueue a copy until the following tick's
// locate has confirmed the torrent again.
func TestRestoredRecordAdvancesOnlyOnTheNextTick(t *testing.T) {
	const hash = "efef0000000000000000000000000000000000ef"
	home := &fakeEndpoint{
		name: "home",
		listing: map[string]endpoint.TorrentInfo{
			hash: {Name: "Movie", State: store.StateHomeSeeding},
		},
		files: map[string][]endpoint.FileInfo{hash: {{Name: "movie.mkv", Size: 1}}},
	}
	conn := &executor.Connection{Name: "c1", From: "home", To: "target", FromClient: home}
	exec := executor.NewExecutor(conn, 1, nil, nil, time.Second, time.Second)

	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"home": home}, nil,
		map[string]*executor.Connection{"c1": conn}, map[string]*executor.Executor{"c1": exec})

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateUnclaimed, PriorState: store.StateHomeSeeding,
		HomeClient: "home", UnclaimedCount: 2,
	}))

	d.tick(context.Background())

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateHomeSeeding, rec.State)
	assert.Equal(t, 0, rec.UnclaimedCount)
	assert.False(t, exec.InFlight(hash), "the restore tick must not also enqueue a copy")

	d.tick(context.Background())

	rec = st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateCopying, rec.State)
	assert.True(t, exec.InFlight(hash), "the tick after a confirmed restore advances normally")
}

// TestStateStoreFailureSurfacesThroughErr: a tick that cannot persist must
// record the failure and halt instead of carrying on with state it can't
// make durable; the caller reads it back via Err and maps it to the
// state-store exit code.
func TestStateStoreFailureSurfacesThroughErr(t *testing.T) {
	const hash = "deaddeaddeaddeaddeaddeaddeaddeaddeaddead"
	dir := t.TempDir()
	blocker := filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	// The state file's parent "directory" is a regular file, so every save
	// fails.
	st := store.New(filepath.Join(blocker, "state.json"))

	adapter := &fakeAdapter{kind: "sonarr", queue: []manager.QueueItem{{Hash: hash, Name: "Show", QueueID: "q1"}}}
	d := New(defaultConfig(), st, endpoint.NewRegistryWithClients(nil), []manager.Adapter{adapter}, nil, nil, history.NopSink{})

	d.tick(context.Background())

	err := d.Err()
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.StateStoreUnwritable))
}

// TestListFailureDoesNotFeedUnclaimedCounter covers the transient-failure
// rule: an endpoint that cannot be listed this tick is unreachable, not
// evidence the torrent vanished, so the record's state and unclaimed count
// must both survive the outage unchanged.
func TestListFailureDoesNotFeedUnclaimedCounter(t *testing.T) {
	const hash = "abab0000000000000000000000000000000000ab"
	home := &fakeEndpoint{name: "home", listErr: errkind.New(errkind.TransientEndpointError, "connection refused")}
	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"home": home}, nil,
		map[string]*executor.Connection{"c1": {Name: "c1", From: "home", To: "target"}}, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateHomeSeeding, HomeClient: "home",
	}))

	d.tick(context.Background())

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateHomeSeeding, rec.State, "a failed listing must leave state unchanged")
	assert.Equal(t, 0, rec.UnclaimedCount)
}

// TestTargetLocatedRecordIsNotUnclaimed pins down the "not located
// anywhere" wording: a record visible only on its target endpoint (home
// already gone, or never bound) is still located somewhere and must not
// start the unclaimed countdown.
func TestTargetLocatedRecordIsNotUnclaimed(t *testing.T) {
	const hash = "cdcd0000000000000000000000000000000000cd"
	target := &fakeEndpoint{name: "target", listing: map[string]endpoint.TorrentInfo{
		hash: {Name: "Movie", State: store.StateTargetSeeding},
	}}
	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"target": target}, nil, nil, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateTargetSeeding, TargetClient: "target",
	}))

	d.tick(context.Background())

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.NotEqual(t, store.StateUnclaimed, rec.State)
	assert.Equal(t, 0, rec.UnclaimedCount)
}

func TestUnclaimedRecordDroppedAfterMaxUnclaimedTicks(t *testing.T) {
	const hash = "dddddddddddddddddddddddddddddddddddddddd"
	home := &fakeEndpoint{name: "home", listing: map[string]endpoint.TorrentInfo{}}
	cfg := defaultConfig()
	cfg.MaxUnclaimed = 2
	d, st := newTestDriver(t, cfg, map[string]endpoint.Client{"home": home}, nil,
		map[string]*executor.Connection{"c1": {Name: "c1", From: "home", To: "target"}}, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateHomeSeeding, HomeClient: "home",
	}))

	d.tick(context.Background())
	require.NotNil(t, st.Get(hash))
	d.tick(context.Background())
	assert.Nil(t, st.Get(hash), "record must be dropped once unclaimed count reaches MaxUnclaimed")
}

func TestHomeSeedingEnqueuesCopyJobOnExecutor(t *testing.T) {
	const hash = "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	home := &fakeEndpoint{
		name: "home",
		listing: map[string]endpoint.TorrentInfo{
			hash: {Name: "Movie", State: store.StateHomeSeeding},
		},
		files: map[string][]endpoint.FileInfo{
			hash: {{Name: "movie.mkv", Size: 100}},
		},
	}
	conn := &executor.Connection{Name: "c1", From: "home", To: "target", FromClient: home}
	exec := executor.NewExecutor(conn, 1, nil, nil, time.Second, time.Second) // not started: job just sits in queue

	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"home": home}, nil,
		map[string]*executor.Connection{"c1": conn}, map[string]*executor.Executor{"c1": exec})

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateHomeSeeding, HomeClient: "home",
	}))

	d.tick(context.Background())

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateCopying, rec.State)
	assert.Equal(t, "target", rec.TargetClient)

	// While the job is in flight, the executor rejects a duplicate enqueue.
	ok := exec.TryEnqueue(executor.Job{Hash: hash})
	assert.False(t, ok, "job for hash is already in flight on the executor")
}

func TestHomeSeedingLeavesRecordUnchangedWhenQueueSaturated(t *testing.T) {
	const hash = "ffffffffffffffffffffffffffffffffffffffff"
	home := &fakeEndpoint{
		name: "home",
		listing: map[string]endpoint.TorrentInfo{
			hash: {Name: "Movie", State: store.StateHomeSeeding},
		},
		files: map[string][]endpoint.FileInfo{hash: {{Name: "movie.mkv", Size: 1}}},
	}
	conn := &executor.Connection{Name: "c1", From: "home", To: "target", FromClient: home}
	exec := executor.NewExecutor(conn, 1, nil, nil, time.Second, time.Second)
	// Saturate the queue (depth workers*4 = 4) with unrelated hashes so the
	// driver's enqueue attempt is rejected.
	for i := 0; i < 4; i++ {
		require.True(t, exec.TryEnqueue(executor.Job{Hash: string(rune('a' + i))}))
	}

	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"home": home}, nil,
		map[string]*executor.Connection{"c1": conn}, map[string]*executor.Executor{"c1": exec})

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateHomeSeeding, HomeClient: "home",
	}))

	d.tick(context.Background())

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateHomeSeeding, rec.State, "must stay in HOME_SEEDING when the executor's queue is saturated")
	assert.Empty(t, rec.TargetClient)
}

// TestCopyingRecordIsReenqueuedAfterRestart simulates crash recovery: a
// record rehydrated from disk in COPYING has a resolved home/target but
// no in-flight job on a freshly built executor (its in-memory queue and
// inFlight set don't survive a restart). The first tick of the new
// process must re-enqueue it.
func TestCopyingRecordIsReenqueuedAfterRestart(t *testing.T) {
	const hash = "cafebabecafebabecafebabecafebabecafebabe"
	home := &fakeEndpoint{
		name: "home",
		listing: map[string]endpoint.TorrentInfo{
			hash: {Name: "Movie", State: store.StateHomeSeeding},
		},
		files: map[string][]endpoint.FileInfo{
			hash: {{Name: "movie.mkv", Size: 100}},
		},
	}
	conn := &executor.Connection{Name: "c1", From: "home", To: "target", FromClient: home}
	// A brand new executor, exactly as a restarted process would build one:
	// nothing in flight, nothing queued.
	exec := executor.NewExecutor(conn, 1, nil, nil, time.Second, time.Second)

	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"home": home}, nil,
		map[string]*executor.Connection{"c1": conn}, map[string]*executor.Executor{"c1": exec})

	// The persisted record survives the crash exactly as it was mid-copy:
	// still COPYING, home and target already resolved.
	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateCopying,
		HomeClient: "home", TargetClient: "target",
	}))
	require.False(t, exec.InFlight(hash), "a freshly built executor must start with nothing in flight")

	d.tick(context.Background())

	assert.True(t, exec.InFlight(hash), "restart must re-enqueue a COPYING record onto its executor")

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateCopying, rec.State, "re-enqueuing must not itself change the record's state")

	// With the job still in flight, the executor rejects a duplicate enqueue.
	ok := exec.TryEnqueue(executor.Job{Hash: hash})
	assert.False(t, ok, "job for hash is already in flight; a second tick must not duplicate it")
}

// TestCopyingRecordWaitsForExecutorCapacity covers the same restart path
// but against an executor whose queue has no room: one tick leaves the job
// out of the executor and the record in COPYING, without erroring.
func TestCopyingRecordWaitsForExecutorCapacity(t *testing.T) {
	const hash = "0badf00d0badf00d0badf00d0badf00d0badf00d"
	home := &fakeEndpoint{
		name: "home",
		listing: map[string]endpoint.TorrentInfo{
			hash: {Name: "Movie", State: store.StateHomeSeeding},
		},
		files: map[string][]endpoint.FileInfo{
			hash: {{Name: "movie.mkv", Size: 1}},
		},
	}
	conn := &executor.Connection{Name: "c1", From: "home", To: "target", FromClient: home}
	exec := executor.NewExecutor(conn, 1, nil, nil, time.Second, time.Second)
	for i := 0; i < 4; i++ {
		require.True(t, exec.TryEnqueue(executor.Job{Hash: string(rune('a' + i))}))
	}

	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"home": home}, nil,
		map[string]*executor.Connection{"c1": conn}, map[string]*executor.Executor{"c1": exec})

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateCopying,
		HomeClient: "home", TargetClient: "target",
	}))

	d.tick(context.Background())

	assert.False(t, exec.InFlight(hash), "saturated queue must not be forced into accepting the job")
	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateCopying, rec.State)
}

func TestCopiedAdvancesToTargetStateOnceLocated(t *testing.T) {
	const hash = "1111111111111111111111111111111111111111"
	target := &fakeEndpoint{name: "target", listing: map[string]endpoint.TorrentInfo{
		hash: {Name: "Movie", State: store.StateTargetDownload},
	}}
	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"target": target}, nil, nil, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateCopied, TargetClient: "target",
	}))

	d.tick(context.Background())

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateTargetDownload, rec.State)
}

func TestTargetSeedingRetiresAfterPostIngestTicksAndReadyToRemove(t *testing.T) {
	const hash = "2222222222222222222222222222222222222222"
	home := &fakeEndpoint{name: "home", listing: map[string]endpoint.TorrentInfo{
		hash: {Name: "Movie", State: store.StateHomeSeeding},
	}}
	target := &fakeEndpoint{name: "target", listing: map[string]endpoint.TorrentInfo{
		hash: {Name: "Movie", State: store.StateTargetSeeding},
	}}
	adapter := &fakeAdapter{kind: "radarr", ready: map[string]bool{"q1": true}}

	cfg := defaultConfig()
	cfg.PostIngestTicks = 2
	d, st := newTestDriver(t, cfg, map[string]endpoint.Client{"home": home, "target": target},
		[]manager.Adapter{adapter}, nil, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateTargetSeeding,
		HomeClient: "home", TargetClient: "target",
		ManagerKind: "radarr", ManagerQueueID: "q1",
	}))

	d.tick(context.Background())
	rec := st.Get(hash)
	require.NotNil(t, rec, "must not retire before PostIngestTicks elapses")
	assert.Equal(t, 1, rec.TicksSinceCopy)

	d.tick(context.Background())
	rec = st.Get(hash)
	require.NotNil(t, rec, "TicksSinceCopy reaches PostIngestTicks but hasn't exceeded it yet this tick")

	d.tick(context.Background())
	assert.Nil(t, st.Get(hash), "record must be retired once ready_to_remove succeeds")
	assert.True(t, home.wasRemoved(hash))
}

func TestTargetSeedingWaitsWhenNotReadyToRemove(t *testing.T) {
	const hash = "3333333333333333333333333333333333333333"
	home := &fakeEndpoint{name: "home", listing: map[string]endpoint.TorrentInfo{
		hash: {Name: "Movie", State: store.StateHomeSeeding},
	}}
	target := &fakeEndpoint{name: "target", listing: map[string]endpoint.TorrentInfo{
		hash: {Name: "Movie", State: store.StateTargetSeeding},
	}}
	adapter := &fakeAdapter{kind: "radarr", ready: map[string]bool{}}

	cfg := defaultConfig()
	cfg.PostIngestTicks = 0
	d, st := newTestDriver(t, cfg, map[string]endpoint.Client{"home": home, "target": target},
		[]manager.Adapter{adapter}, nil, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateTargetSeeding,
		HomeClient: "home", TargetClient: "target",
		ManagerKind: "radarr", ManagerQueueID: "q1", TicksSinceCopy: 5,
	}))

	d.tick(context.Background())

	assert.NotNil(t, st.Get(hash), "must not retire while ready_to_remove reports false")
	assert.False(t, home.wasRemoved(hash))
}

func TestErrorRetriesCopyFailedUpToMaxCopyRetry(t *testing.T) {
	const hash = "4444444444444444444444444444444444444444"
	cfg := defaultConfig()
	cfg.MaxCopyRetry = 1
	d, st := newTestDriver(t, cfg, nil, nil, nil, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateError, TargetClient: "target",
		Error: &store.RecordError{Kind: string(errkind.CopyFailed), Message: "dropped session"},
	}))

	d.tick(context.Background())
	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateHomeSeeding, rec.State)
	assert.Equal(t, 1, rec.CopyRetries)
	assert.Empty(t, rec.TargetClient)
	assert.Nil(t, rec.Error)
}

func TestErrorDoesNotRetryAfterExhaustingBudget(t *testing.T) {
	const hash = "5555555555555555555555555555555555555555"
	cfg := defaultConfig()
	cfg.MaxCopyRetry = 1
	d, st := newTestDriver(t, cfg, nil, nil, nil, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateError, CopyRetries: 1,
		Error: &store.RecordError{Kind: string(errkind.CopyFailed), Message: "dropped session"},
	}))

	d.tick(context.Background())
	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateError, rec.State, "retry budget already exhausted")
}

func TestErrorNeverAutoRetriesMetainfoMissing(t *testing.T) {
	const hash = "6666666666666666666666666666666666666666"
	d, st := newTestDriver(t, defaultConfig(), nil, nil, nil, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateError,
		Error: &store.RecordError{Kind: string(errkind.MetainfoMissing), Message: "not found"},
	}))

	d.tick(context.Background())
	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateError, rec.State)
	assert.Equal(t, 0, rec.CopyRetries)
}

func TestClearErrorRequeuesToHomeSeeding(t *testing.T) {
	const hash = "7777777777777777777777777777777777777777"
	d, st := newTestDriver(t, defaultConfig(), nil, nil, nil, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{
		Hash: hash, Name: "Movie", State: store.StateError, TargetClient: "target", CopyRetries: 2,
		Error: &store.RecordError{Kind: string(errkind.MetainfoMissing), Message: "not found"},
	}))

	require.NoError(t, d.ClearError(hash))

	rec := st.Get(hash)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateHomeSeeding, rec.State)
	assert.Empty(t, rec.TargetClient)
	assert.Nil(t, rec.Error)
	assert.Equal(t, 2, rec.CopyRetries, "clearing an error must not reset the retry budget")
}

func TestClearErrorOnUnknownHashReturnsError(t *testing.T) {
	d, _ := newTestDriver(t, defaultConfig(), nil, nil, nil, nil)
	err := d.ClearError("0000000000000000000000000000000000000000")
	assert.Error(t, err)
}

func TestPurgeRecordDeletesWithoutTouchingEndpoints(t *testing.T) {
	const hash = "8888888888888888888888888888888888888888"
	home := &fakeEndpoint{name: "home", listing: map[string]endpoint.TorrentInfo{
		hash: {Name: "Movie", State: store.StateHomeSeeding},
	}}
	d, st := newTestDriver(t, defaultConfig(), map[string]endpoint.Client{"home": home}, nil, nil, nil)

	require.NoError(t, st.Put(&store.TorrentRecord{Hash: hash, Name: "Movie", State: store.StateError, HomeClient: "home"}))

	require.NoError(t, d.PurgeRecord(hash))

	assert.Nil(t, st.Get(hash))
	assert.False(t, home.wasRemoved(hash), "purge must never call Remove on an endpoint")
}

func TestStartAndStopRunsAtLeastOneTick(t *testing.T) {
	const hash = "9999999999999999999999999999999999999999"
	adapter := &fakeAdapter{kind: "sonarr", queue: []manager.QueueItem{{Hash: hash, Name: "Show", QueueID: "q1"}}}
	cfg := defaultConfig()
	cfg.TickInterval = time.Hour // rely on the immediate first tick, not the ticker
	d, st := newTestDriver(t, cfg, nil, []manager.Adapter{adapter}, nil, nil)

	d.Start(context.Background())
	require.Eventually(t, func() bool {
		return st.Get(hash) != nil
	}, time.Second, 5*time.Millisecond)
	d.Stop()
}

// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package executor implements the bounded per-connection worker pool that
// copies a torrent's payload plus its metainfo from a home endpoint to a
// target endpoint: a buffered job channel, a fixed goroutine count
// reading from it, and a step-by-step per-job pipeline.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/transferarr/transferarr/internal/domain"
	"github.com/transferarr/transferarr/internal/endpoint"
	"github.com/transferarr/transferarr/internal/errkind"
	"github.com/transferarr/transferarr/internal/history"
	"github.com/transferarr/transferarr/internal/store"
	"github.com/transferarr/transferarr/internal/transport"
)

// Connection binds one configured copy route to the live resources it
// needs: the two endpoint clients, one transport session pool per side
// (never shared across workers), and the route's metainfo and payload
// directories.
type Connection struct {
	Name string
	From string
	To   string

	FromClient endpoint.Client
	ToClient   endpoint.Client

	SourcePool *transport.Pool
	DestPool   *transport.Pool

	SourceMetainfoDir    string
	SourcePayloadDir     string
	TargetMetainfoTmpDir string
	TargetPayloadDir     string

	// Limiter caps this connection's aggregate copy throughput, shared by
	// every worker in its Executor. Nil means unlimited.
	Limiter *transport.Limiter
}

// NewConnections builds one Connection per configured entry, resolving
// endpoint clients from registry and building a session pool for each side
// from the connection's transfer descriptors; sessions are dialed on first
// Acquire, not here.
func NewConnections(cfgs map[string]domain.ConnectionConfig, registry *endpoint.Registry) (map[string]*Connection, error) {
	out := make(map[string]*Connection, len(cfgs))
	for name, cfg := range cfgs {
		fromClient, ok := registry.Get(cfg.From)
		if !ok {
			return nil, unknownEndpointError(name, cfg.From)
		}
		toClient, ok := registry.Get(cfg.To)
		if !ok {
			return nil, unknownEndpointError(name, cfg.To)
		}

		out[name] = &Connection{
			Name:                 name,
			From:                 cfg.From,
			To:                   cfg.To,
			FromClient:           fromClient,
			ToClient:             toClient,
			SourcePool:           transport.NewPool(toTransportDescriptor(cfg.TransferConfig.From)),
			DestPool:             transport.NewPool(toTransportDescriptor(cfg.TransferConfig.To)),
			SourceMetainfoDir:    cfg.SourceMetainfoDir,
			SourcePayloadDir:     cfg.SourcePayloadDir,
			TargetMetainfoTmpDir: cfg.TargetMetainfoTmpDir,
			TargetPayloadDir:     cfg.TargetPayloadDir,
			Limiter:              transport.NewLimiter(cfg.MaxBytesPerSec),
		}
	}
	return out, nil
}

func toTransportDescriptor(d domain.TransferDescriptor) transport.Descriptor {
	td := transport.Descriptor{Kind: d.Kind}
	if d.SFTP != nil {
		td.SFTP = &transport.SFTPDescriptor{
			Host:          d.SFTP.Host,
			Port:          d.SFTP.Port,
			Username:      d.SFTP.Username,
			Password:      d.SFTP.Password,
			KeyFile:       d.SFTP.KeyFile,
			SSHConfigFile: d.SFTP.SSHConfigFile,
			SSHConfigHost: d.SFTP.SSHConfigHost,
		}
	}
	return td
}

type unknownEndpointErr struct {
	connection, endpoint string
}

func (e unknownEndpointErr) Error() string {
	return "connection " + e.connection + ": unknown endpoint " + e.endpoint
}

func unknownEndpointError(connection, endpoint string) error {
	return unknownEndpointErr{connection: connection, endpoint: endpoint}
}

// Job is one unit of work: copy everything job.Files identifies for hash
// from conn's source side to its destination side, then add the metainfo
// on the target.
type Job struct {
	Hash  string
	Name  string
	Files []endpoint.FileInfo
}

// Executor is the bounded worker pool owned by exactly one Connection.
type Executor struct {
	conn             *Connection
	store            *store.Store
	sink             history.Sink
	progressThrottle time.Duration
	shutdownDeadline time.Duration

	queue  chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewExecutor builds an Executor with a bounded queue of depth workers*4,
// enough slack to decouple enqueue from dispatch without ever growing
// unbounded.
func NewExecutor(conn *Connection, workers int, st *store.Store, sink history.Sink, progressThrottle, shutdownDeadline time.Duration) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if sink == nil {
		sink = history.NopSink{}
	}
	return &Executor{
		conn:             conn,
		store:            st,
		sink:             sink,
		progressThrottle: progressThrottle,
		shutdownDeadline: shutdownDeadline,
		queue:            make(chan Job, workers*4),
		inFlight:         make(map[string]struct{}),
	}
}

// Start launches the worker pool. ctx governs the whole pool's lifetime;
// Stop additionally bounds how long shutdown waits for in-flight jobs.
func (e *Executor) Start(ctx context.Context, workers int) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		id := i
		e.wg.Add(1)
		go e.worker(id)
	}
}

// Stop cancels in-flight jobs' context (cooperative, honored at file
// boundaries only) and waits up to shutdownDeadline for workers to
// return.
func (e *Executor) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.shutdownDeadline):
		log.Warn().Str("connection", e.conn.Name).Msg("[EXEC] Shutdown deadline exceeded, workers still in flight")
	}

	e.conn.SourcePool.Close()
	e.conn.DestPool.Close()
}

// InFlight reports whether hash currently has a job queued or running on
// this executor, so a caller can skip redundant work (re-snapshotting a
// file list, say) for a record it already knows is being worked.
func (e *Executor) InFlight(hash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[hash]
	return ok
}

// TryEnqueue attempts a non-blocking send. It returns false if the queue
// is saturated or the hash is already in flight on this executor, so a
// record can never ride more than one job at a time and the queue can
// never grow unboundedly. The driver leaves the record in HOME_SEEDING
// and retries next tick on false.
func (e *Executor) TryEnqueue(job Job) bool {
	e.mu.Lock()
	if _, dup := e.inFlight[job.Hash]; dup {
		e.mu.Unlock()
		return false
	}
	e.inFlight[job.Hash] = struct{}{}
	e.mu.Unlock()

	select {
	case e.queue <- job:
		return true
	default:
		e.mu.Lock()
		delete(e.inFlight, job.Hash)
		e.mu.Unlock()
		log.Warn().Str("connection", e.conn.Name).Str("hash", job.Hash).Msg("[EXEC] Queue saturated, will retry next tick")
		return false
	}
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	log.Debug().Str("connection", e.conn.Name).Int("worker", id).Msg("[EXEC] Worker started")

	for {
		select {
		case <-e.ctx.Done():
			log.Debug().Str("connection", e.conn.Name).Int("worker", id).Msg("[EXEC] Worker stopping")
			return
		case job := <-e.queue:
			e.runJob(job)
			e.mu.Lock()
			delete(e.inFlight, job.Hash)
			e.mu.Unlock()
		}
	}
}

func (e *Executor) runJob(job Job) {
	handle := e.store.Handle(job.Hash)

	var totalBytes int64
	for _, f := range job.Files {
		totalBytes += f.Size
	}
	e.sink.TransferStarted(job.Hash, job.Name, e.conn.From, e.conn.To, totalBytes)

	if err := e.doCopy(e.ctx, job, handle); err != nil {
		e.fail(job, handle, err)
		return
	}

	e.sink.TransferCompleted(job.Hash)
	if err := handle.CompleteWith(store.StateCopied, nil); err != nil {
		log.Error().Err(err).Str("hash", job.Hash).Msg("[EXEC] Failed to persist COPIED transition")
	}
}

func (e *Executor) fail(job Job, handle *store.WorkerHandle, err error) {
	log.Warn().Err(err).Str("connection", e.conn.Name).Str("hash", job.Hash).Msg("[EXEC] Copy job failed")
	e.sink.TransferFailed(job.Hash, err.Error())
	recErr := &store.RecordError{Kind: string(kindOf(err)), Message: err.Error(), When: time.Now().UTC()}
	if cerr := handle.CompleteWith(store.StateError, recErr); cerr != nil {
		log.Error().Err(cerr).Str("hash", job.Hash).Msg("[EXEC] Failed to persist ERROR transition")
	}
}

// kindOf maps a job failure onto the kind recorded on the record.
// CopyFailed and MetainfoMissing keep their own kind; anything else — a
// transport error that survived its in-job retry, a transient endpoint
// error from the target add, an unclassified failure — means the job as
// a whole failed, which is a copy failure eligible for the driver's
// bounded retry rather than a permanently stranded record.
func kindOf(err error) errkind.Kind {
	var e *errkind.Error
	if errors.As(err, &e) && errkind.FatalToRecord(e) {
		return e.Kind
	}
	return errkind.CopyFailed
}

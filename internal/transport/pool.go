// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"sync"
)

// Pool hands out one Transport per worker and never shares a session
// across two callers at once. A worker acquires a session at the start of
// a job and releases it at the end; a broken session is discarded rather
// than returned, and the next Acquire dials fresh.
type Pool struct {
	descriptor Descriptor

	mu   sync.Mutex
	idle []Transport
}

// NewPool builds a Pool that dials d on demand.
func NewPool(d Descriptor) *Pool {
	return &Pool{descriptor: d}
}

// Acquire returns an idle session if one exists, or dials a new one. A
// failed dial is retried once, the same budget a failed file copy gets;
// the final failure comes back as a transport error for the caller to
// fold into its own failure classification.
func (p *Pool) Acquire(ctx context.Context) (Transport, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		t := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	var t Transport
	err := retryOnce(ctx, "dial transport", func() error {
		var derr error
		t, derr = Dial(ctx, p.descriptor)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Release returns t to the idle pool for reuse. Pass broken=true (the
// session failed mid-job) to discard it instead; the next Acquire then
// dials a fresh one.
func (p *Pool) Release(t Transport, broken bool) {
	if broken {
		t.Close()
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, t)
	p.mu.Unlock()
}

// Close closes every idle session. In-flight sessions a worker hasn't
// released yet are the worker's responsibility.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, t := range p.idle {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.idle = nil
	return firstErr
}

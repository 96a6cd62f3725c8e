// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter caps the rate at which a connection's executor may copy bytes:
// a token bucket with one token per byte, refilled at a fixed rate,
// burst sized to one second of traffic so short bursts below the cap
// never stall.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter returns a Limiter capping throughput at bytesPerSec. A
// non-positive bytesPerSec means unlimited, reported as a nil *Limiter so
// callers can skip the reservation entirely on the hot path.
func NewLimiter(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))}
}

// ReserveN blocks until n bytes' worth of tokens are available, or ctx is
// done. A nil receiver is a no-op, so callers don't need to branch on
// whether a limit is configured.
func (l *Limiter) ReserveN(ctx context.Context, n int64) error {
	if l == nil || n <= 0 {
		return nil
	}
	for n > 0 {
		take := n
		if burst := int64(l.bucket.Burst()); take > burst {
			take = burst
		}
		if err := l.bucket.WaitN(ctx, int(take)); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

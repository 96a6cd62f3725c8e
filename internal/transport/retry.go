// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/transferarr/transferarr/internal/errkind"
)

// retryOnce runs fn, retrying exactly once if it fails, per the "retry the
// current file once within the job" rule. A second failure is wrapped as a
// TransportError for the caller to classify into a fatal copy failure.
func retryOnce(ctx context.Context, what string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(2),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Str("op", what).Uint("attempt", n+1).Msg("[TRANSPORT] Retrying after failure")
		}),
	)
	if err != nil {
		return errkind.Wrap(errkind.TransportError, what, err)
	}
	return nil
}

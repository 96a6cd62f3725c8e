// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import "github.com/transferarr/transferarr/internal/errkind"

// isStateStoreError reports whether err should produce exit code 2 (an
// unrecoverable state-store error) rather than the generic exit code 1
// used for configuration errors.
func isStateStoreError(err error) bool {
	return errkind.FatalToProcess(err)
}

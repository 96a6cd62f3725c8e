// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transferarr/transferarr/internal/errkind"
)

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(nil))
	assert.Equal(t, 1, exitCodeFor(errkind.New(errkind.ConfigurationError, "bad config")))
	assert.Equal(t, 2, exitCodeFor(errkind.New(errkind.StateStoreUnwritable, "disk full")))
}

func TestVersionCommandRuns(t *testing.T) {
	cmd := runVersionCommand()
	cmd.SetArgs(nil)
	assert.NoError(t, cmd.Execute())
}

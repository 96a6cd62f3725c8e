// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReusesReleasedSession(t *testing.T) {
	p := NewPool(Descriptor{Kind: "local"})

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(first, false)

	second, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestPoolDiscardsBrokenSession(t *testing.T) {
	p := NewPool(Descriptor{Kind: "local"})

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(first, true)

	second, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

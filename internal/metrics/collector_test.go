// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/transferarr/transferarr/internal/store"
)

type fakeRecordSource struct {
	records []*store.TorrentRecord
}

func (f fakeRecordSource) All() []*store.TorrentRecord { return f.records }

func TestTorrentCollectorReportsCountsByState(t *testing.T) {
	src := fakeRecordSource{records: []*store.TorrentRecord{
		{Hash: "a", State: store.StateHomeSeeding},
		{Hash: "b", State: store.StateCopying, ProgressView: store.ProgressView{ByteProgress: 100, TransferSpeed: 5}},
		{Hash: "c", State: store.StateError, CopyRetries: 2},
	}}

	collector := NewTorrentCollector(src)
	count := testutil.CollectAndCount(collector)
	require.Greater(t, count, 0)
}

func TestManagerRegistersWithoutPanicking(t *testing.T) {
	src := fakeRecordSource{}
	require.NotPanics(t, func() {
		m := NewManager(src)
		require.NotNil(t, m.Registry())
	})
}

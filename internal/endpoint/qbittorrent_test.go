// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package endpoint

import (
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"

	"github.com/transferarr/transferarr/internal/store"
)

func TestNativeToUniversalHomeSide(t *testing.T) {
	cases := []struct {
		native qbt.TorrentState
		want   store.TorrentState
	}{
		{qbt.TorrentStateDownloading, store.StateHomeDownloading},
		{qbt.TorrentStateStalledDl, store.StateHomeDownloading},
		{qbt.TorrentStateForcedDl, store.StateHomeDownloading},
		{qbt.TorrentStateCheckingDl, store.StateHomeChecking},
		{qbt.TorrentStateCheckingResumeData, store.StateHomeChecking},
		{qbt.TorrentStateUploading, store.StateHomeSeeding},
		{qbt.TorrentStateForcedUp, store.StateHomeSeeding},
		{qbt.TorrentStatePausedDl, store.StateHomePaused},
		{qbt.TorrentStateStoppedUp, store.StateHomePaused},
		{qbt.TorrentStateError, store.StateHomeError},
		{qbt.TorrentStateMissingFiles, store.StateHomeError},
		{qbt.TorrentStateUnknown, store.StateHomeError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, nativeToUniversal(c.native, true), "native=%s", c.native)
	}
}

func TestNativeToUniversalTargetSide(t *testing.T) {
	assert.Equal(t, store.StateTargetDownload, nativeToUniversal(qbt.TorrentStateDownloading, false))
	assert.Equal(t, store.StateTargetSeeding, nativeToUniversal(qbt.TorrentStateUploading, false))
	assert.Equal(t, store.StateTargetPaused, nativeToUniversal(qbt.TorrentStatePausedUp, false))
	assert.Equal(t, store.StateTargetChecking, nativeToUniversal(qbt.TorrentStateCheckingUp, false))
	assert.Equal(t, store.StateTargetError, nativeToUniversal(qbt.TorrentStateError, false))
}

func TestSupportsSkipCheckingDefaultsTrueWhenVersionUnknown(t *testing.T) {
	c := &QBittorrentClient{}
	assert.True(t, c.supportsSkipChecking())
}

func TestSupportsSkipCheckingFalseBelowMinimum(t *testing.T) {
	c := &QBittorrentClient{webAPIVersion: "2.0.0"}
	assert.False(t, c.supportsSkipChecking())
}

func TestSupportsSkipCheckingTrueAtOrAboveMinimum(t *testing.T) {
	c := &QBittorrentClient{webAPIVersion: "2.8.3"}
	assert.True(t, c.supportsSkipChecking())
	c.webAPIVersion = "2.11.4"
	assert.True(t, c.supportsSkipChecking())
}

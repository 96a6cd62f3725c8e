// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package endpoint

import (
	"bytes"
	"fmt"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/transferarr/transferarr/internal/store"
)

// metainfoHash extracts the lowercase infohash a .torrent's bencoded info
// dictionary hashes to, so AddMetainfo can dedup against an existing
// torrent before talking to the client at all.
func metainfoHash(data []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse metainfo: %w", err)
	}
	return store.NormalizeHash(mi.HashInfoBytes().HexString()), nil
}

// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package endpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/transferarr/transferarr/internal/errkind"
	"github.com/transferarr/transferarr/internal/store"
)

// minSkipCheckingVersion is the webapi version at which "skip_checking" on
// add is known to behave the way this driver depends on.
var minSkipCheckingVersion = semver.MustParse("2.8.3")

// downloadingLike, seedingLike and pausedLike partition every qbt.TorrentState
// value into the three buckets the universal state machine distinguishes.
// The checking states (checkingDL, checkingUP, checkingResumeData) are
// taken out first and map to store.StateHomeChecking /
// store.StateTargetChecking. Anything not listed here (missing_files,
// error, moving, unknown) maps to store.StateHomeError /
// store.StateTargetError, since none of those indicate forward progress.
var downloadingLike = map[qbt.TorrentState]struct{}{
	qbt.TorrentStateDownloading: {},
	qbt.TorrentStateStalledDl:   {},
	qbt.TorrentStateMetaDl:      {},
	qbt.TorrentStateQueuedDl:    {},
	qbt.TorrentStateAllocating:  {},
	qbt.TorrentStateCheckingDl:  {},
	qbt.TorrentStateForcedDl:    {},
}

var seedingLike = map[qbt.TorrentState]struct{}{
	qbt.TorrentStateUploading:  {},
	qbt.TorrentStateStalledUp:  {},
	qbt.TorrentStateQueuedUp:   {},
	qbt.TorrentStateCheckingUp: {},
	qbt.TorrentStateForcedUp:   {},
}

var pausedLike = map[qbt.TorrentState]struct{}{
	qbt.TorrentStatePausedDl:  {},
	qbt.TorrentStatePausedUp:  {},
	qbt.TorrentStateStoppedDl: {},
	qbt.TorrentStateStoppedUp: {},
}

// nativeToUniversal maps a qBittorrent state into the universal vocabulary;
// home picks the Home* vs Target* variant.
func nativeToUniversal(native qbt.TorrentState, home bool) store.TorrentState {
	switch {
	case isErrorLike(native):
		if home {
			return store.StateHomeError
		}
		return store.StateTargetError
	case isChecking(native):
		if home {
			return store.StateHomeChecking
		}
		return store.StateTargetChecking
	case isDownloading(native):
		if home {
			return store.StateHomeDownloading
		}
		return store.StateTargetDownload
	case isSeeding(native):
		if home {
			return store.StateHomeSeeding
		}
		return store.StateTargetSeeding
	case isPaused(native):
		if home {
			return store.StateHomePaused
		}
		return store.StateTargetPaused
	default:
		if home {
			return store.StateHomeError
		}
		return store.StateTargetError
	}
}

func isChecking(s qbt.TorrentState) bool {
	return s == qbt.TorrentStateCheckingDl || s == qbt.TorrentStateCheckingUp || s == qbt.TorrentStateCheckingResumeData
}

func isDownloading(s qbt.TorrentState) bool {
	_, ok := downloadingLike[s]
	return ok && !isChecking(s)
}

func isSeeding(s qbt.TorrentState) bool {
	_, ok := seedingLike[s]
	return ok && !isChecking(s)
}

func isPaused(s qbt.TorrentState) bool {
	_, ok := pausedLike[s]
	return ok
}

func isErrorLike(s qbt.TorrentState) bool {
	return s == qbt.TorrentStateError || s == qbt.TorrentStateMissingFiles || s == qbt.TorrentStateUnknown
}

// QBittorrentClient adapts a qBittorrent WebAPI connection to the Client
// interface. One instance per configured download client; callers must not
// share it across endpoints with different credentials.
type QBittorrentClient struct {
	name string
	home bool // whether this endpoint plays the "home" role for state mapping

	mu            sync.Mutex
	client        *qbt.Client
	webAPIVersion string
	connected     bool
}

// NewQBittorrentClient builds an endpoint.Client against a qBittorrent
// WebAPI. The client starts in the target role; SetRole selects which
// universal-state partition native states map into (see registry.go).
func NewQBittorrentClient(name, host string, port int, username, password string) *QBittorrentClient {
	cfg := qbt.Config{
		Host:     fmt.Sprintf("http://%s:%d", host, port),
		Username: username,
		Password: password,
		Timeout:  30,
	}
	return &QBittorrentClient{
		name:   name,
		client: qbt.NewClient(cfg),
	}
}

// SetRole tells the client which universal-state partition to map native
// states into. Registry.ApplyConnectionRoles calls it for every connection
// the client appears in. The role is held per client, not per connection:
// an endpoint that is a "from" in one connection and a "to" in another
// keeps whichever role was set last.
func (c *QBittorrentClient) SetRole(home bool) {
	c.mu.Lock()
	c.home = home
	c.mu.Unlock()
}

func (c *QBittorrentClient) Name() string { return c.name }

// EnsureConnected logs in if not already connected, or re-validates the
// session with a lightweight API call otherwise.
func (c *QBittorrentClient) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		if _, err := c.client.GetWebAPIVersionCtx(ctx); err == nil {
			return nil
		}
		c.connected = false
	}

	if err := c.client.LoginCtx(ctx); err != nil {
		return errkind.Wrap(errkind.TransientEndpointError, fmt.Sprintf("login to %s", c.name), err)
	}

	version, err := c.client.GetWebAPIVersionCtx(ctx)
	if err != nil {
		version = ""
	}
	c.webAPIVersion = version
	c.connected = true

	log.Info().Str("endpoint", c.name).Str("webAPIVersion", version).Msg("[ENDPOINT] Connected")
	return nil
}

func (c *QBittorrentClient) supportsSkipChecking() bool {
	if c.webAPIVersion == "" {
		return true
	}
	v, err := semver.NewVersion(c.webAPIVersion)
	if err != nil {
		return true
	}
	return !v.LessThan(minSkipCheckingVersion)
}

// List returns every torrent currently known to this client.
func (c *QBittorrentClient) List(ctx context.Context) (map[string]TorrentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	torrents, err := c.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientEndpointError, fmt.Sprintf("list torrents on %s", c.name), err)
	}

	out := make(map[string]TorrentInfo, len(torrents))
	for _, t := range torrents {
		hash := store.NormalizeHash(t.Hash)
		out[hash] = TorrentInfo{
			Name:     t.Name,
			State:    nativeToUniversal(t.State, c.home),
			Progress: t.Progress,
			SavePath: t.SavePath,
		}
	}
	return out, nil
}

// Has reports presence by hash via a filtered listing, cheaper than a full List.
func (c *QBittorrentClient) Has(ctx context.Context, hash string) (bool, error) {
	c.mu.Lock()
	torrents, err := c.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	c.mu.Unlock()
	if err != nil {
		return false, errkind.Wrap(errkind.TransientEndpointError, fmt.Sprintf("probe %s on %s", hash, c.name), err)
	}
	return len(torrents) > 0, nil
}

// AddMetainfo adds a .torrent to this client, paused only when opts.Paused
// is set. skip_checking is requested when the webapi version is 2.8.3 or
// later, or unknown. A torrent whose hash is already present is left alone.
func (c *QBittorrentClient) AddMetainfo(ctx context.Context, metainfo []byte, opts AddOptions) error {
	hash, err := metainfoHash(metainfo)
	if err == nil {
		if present, _ := c.Has(ctx, hash); present {
			return nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	options := map[string]string{
		"autoTMM":  "false",
		"savepath": opts.SavePath,
		"paused":   fmt.Sprintf("%t", opts.Paused),
		"stopped":  fmt.Sprintf("%t", opts.Paused),
	}
	if c.supportsSkipChecking() {
		options["skip_checking"] = "true"
	}
	if opts.Category != "" {
		options["category"] = opts.Category
	}
	if len(opts.Tags) > 0 {
		options["tags"] = strings.Join(opts.Tags, ",")
	}

	if err := c.client.AddTorrentFromMemoryCtx(ctx, metainfo, options); err != nil {
		return errkind.Wrap(errkind.TransientEndpointError, fmt.Sprintf("add torrent to %s", c.name), err)
	}
	return nil
}

// Files returns the file manifest for hash, relative to the torrent's own
// save path, the same vocabulary the executor's copy pipeline expects.
func (c *QBittorrentClient) Files(ctx context.Context, hash string) ([]FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.client.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientEndpointError, fmt.Sprintf("get files for %s on %s", hash, c.name), err)
	}

	out := make([]FileInfo, 0, len(*files))
	for _, f := range *files {
		out = append(out, FileInfo{Name: f.Name, Size: f.Size})
	}
	return out, nil
}

// Remove deletes hash from this client; absence is treated as success.
func (c *QBittorrentClient) Remove(ctx context.Context, hash string, deleteData bool) error {
	if present, err := c.Has(ctx, hash); err == nil && !present {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.client.DeleteTorrentsCtx(ctx, []string{hash}, deleteData); err != nil {
		return errkind.Wrap(errkind.TransientEndpointError, fmt.Sprintf("remove %s from %s", hash, c.name), err)
	}
	return nil
}

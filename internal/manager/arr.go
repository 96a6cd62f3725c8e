// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/transferarr/transferarr/internal/errkind"
)

// Adapter kinds accepted in the mediaManagers config section.
const (
	KindMovies = "movies" // Radarr
	KindSeries = "series" // Sonarr
)

const arrRequestTimeout = 30 * time.Second

// ArrClient is a media-manager Adapter for Sonarr/Radarr's v3 queue API.
// Both apps expose an identical queue surface, so one client serves
// either, parameterised by kind for logging and record tagging only.
type ArrClient struct {
	kind       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewArrClient builds an Adapter against a Sonarr ("series") or Radarr
// ("movies") instance.
func NewArrClient(kind, host string, port int, apiKey string) *ArrClient {
	return &ArrClient{
		kind:    kind,
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: arrRequestTimeout,
		},
	}
}

func (c *ArrClient) Kind() string { return c.kind }

// queueRecord is the subset of a Sonarr/Radarr queue entry this adapter
// needs. Both apps return the same field names for these.
type queueRecord struct {
	ID                    int    `json:"id"`
	DownloadID            string `json:"downloadId"`
	Title                 string `json:"title"`
	TrackedDownloadStatus string `json:"trackedDownloadStatus"`
	TrackedDownloadState  string `json:"trackedDownloadState"`
}

type queueResponse struct {
	Page         int           `json:"page"`
	PageSize     int           `json:"pageSize"`
	TotalRecords int           `json:"totalRecords"`
	Records      []queueRecord `json:"records"`
}

// Queue returns every queue entry that names a torrent download (entries
// with no DownloadID are non-torrent grabs — usenet, or not yet
// registered with the download client — and are skipped).
func (c *ArrClient) Queue(ctx context.Context) ([]QueueItem, error) {
	var out []QueueItem
	page := 1
	for {
		var resp queueResponse
		if err := c.get(ctx, "/api/v3/queue", map[string]string{
			"page":                  strconv.Itoa(page),
			"pageSize":              "200",
			"includeUnknownItems":   "true",
			"includeDownloadClient": "false",
		}, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Records {
			if r.DownloadID == "" {
				continue
			}
			out = append(out, QueueItem{
				Hash:    r.DownloadID,
				Name:    r.Title,
				QueueID: strconv.Itoa(r.ID),
			})
		}
		if page*resp.PageSize >= resp.TotalRecords || len(resp.Records) == 0 {
			break
		}
		page++
	}
	return out, nil
}

// ReadyToRemove reports true once queueID no longer names an in-progress
// queue entry, or once the remaining entry is marked imported. A queue
// entry vanishing entirely is the common case: the *arr app dequeues as
// soon as import completes, so a 404 here is the expected success signal,
// not a failure.
func (c *ArrClient) ReadyToRemove(ctx context.Context, queueID string) (bool, error) {
	var rec queueRecord
	err := c.get(ctx, "/api/v3/queue/"+queueID, nil, &rec)
	if err != nil {
		if errkind.Is(err, errkind.TransientAdapterError) && isNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return rec.TrackedDownloadState == "imported" && rec.TrackedDownloadStatus == "ok", nil
}

func (c *ArrClient) get(ctx context.Context, path string, query map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errkind.Wrap(errkind.TransientAdapterError, "build request", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.TransientAdapterError, fmt.Sprintf("%s %s", c.kind, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errkind.Wrap(errkind.TransientAdapterError, fmt.Sprintf("%s %s: not found", c.kind, path), errNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errkind.Wrap(errkind.TransientAdapterError, fmt.Sprintf("%s %s: status %d", c.kind, path, resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Warn().Err(err).Str("path", path).Str("kind", c.kind).Msg("[MANAGER] Failed to decode response")
		return errkind.Wrap(errkind.TransientAdapterError, fmt.Sprintf("decode %s %s", c.kind, path), err)
	}
	return nil
}

var errNotFound = errors.New("not found")

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package executor

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/transferarr/transferarr/internal/endpoint"
	"github.com/transferarr/transferarr/internal/errkind"
	"github.com/transferarr/transferarr/internal/store"
	"github.com/transferarr/transferarr/internal/transport"
)

// doCopy is the job body: copy the deduplicated top-level payload paths,
// then stage and add the metainfo on the target. The COPYING transition
// before it and the COPIED transition after are the driver's and runJob's
// responsibility respectively, not this function's.
func (e *Executor) doCopy(ctx context.Context, job Job, handle *store.WorkerHandle) error {
	src, err := e.conn.SourcePool.Acquire(ctx)
	if err != nil {
		return errkind.Wrap(errkind.CopyFailed, "acquire source session", err)
	}
	srcBroken := false
	defer func() { e.conn.SourcePool.Release(src, srcBroken) }()

	dst, err := e.conn.DestPool.Acquire(ctx)
	if err != nil {
		return errkind.Wrap(errkind.CopyFailed, "acquire destination session", err)
	}
	dstBroken := false
	defer func() { e.conn.DestPool.Release(dst, dstBroken) }()

	roots := topLevelPaths(job.Files)
	if len(roots) == 0 {
		return errkind.New(errkind.MetainfoMissing, "torrent has no files to copy")
	}

	tracker := newSpeedTracker()
	thr := newThrottle(e.progressThrottle)

	var totalBytes int64
	for _, f := range job.Files {
		totalBytes += f.Size
	}

	var doneBytes int64
	for idx, root := range roots {
		srcRoot := path.Join(e.conn.SourcePayloadDir, root)
		dstRoot := path.Join(e.conn.TargetPayloadDir, root)

		rootStart := doneBytes
		withinRoot := int64(0)
		err := transport.CopyTree(ctx, src, dst, srcRoot, dstRoot, func(p transport.Progress) {
			if delta := p.ByteProgress - withinRoot; delta > 0 {
				if werr := e.conn.Limiter.ReserveN(ctx, delta); werr != nil {
					return
				}
				withinRoot = p.ByteProgress
			}
			doneBytes = rootStart + p.ByteProgress
			speed := tracker.Update(doneBytes)
			if thr.Due(idx) {
				handle.PublishProgress(store.ProgressView{
					CurrentFileIndex: idx,
					TotalFiles:       len(roots),
					CurrentFileName:  p.CurrentFileName,
					ByteProgress:     doneBytes,
					TotalBytes:       totalBytes,
					TransferSpeed:    speed,
				})
				e.sink.TransferProgress(job.Hash, doneBytes, totalBytes, speed)
			}
		})
		if err != nil {
			srcBroken, dstBroken = true, true
			return errkind.Wrap(errkind.CopyFailed, fmt.Sprintf("copy %s", root), err)
		}
	}

	handle.PublishProgress(store.ProgressView{
		CurrentFileIndex: len(roots),
		TotalFiles:       len(roots),
		ByteProgress:     totalBytes,
		TotalBytes:       totalBytes,
	})

	metainfo, err := readMetainfo(ctx, src, e.conn.SourceMetainfoDir, job.Hash)
	if err != nil {
		srcBroken = true
		return err
	}

	tmpPath := path.Join(e.conn.TargetMetainfoTmpDir, uuid.NewString()+".torrent")
	if err := writeMetainfo(ctx, dst, e.conn.TargetMetainfoTmpDir, tmpPath, metainfo); err != nil {
		dstBroken = true
		return errkind.Wrap(errkind.CopyFailed, "stage metainfo on target", err)
	}

	if err := e.conn.ToClient.AddMetainfo(ctx, metainfo, endpoint.AddOptions{
		SavePath: e.conn.TargetPayloadDir,
		Paused:   false,
	}); err != nil {
		return errkind.Wrap(errkind.CopyFailed, "add metainfo on target", err)
	}

	return nil
}

// topLevelPaths deduplicates files by their first path component: a
// multi-file torrent's shared root directory is copied once, not once
// per file within it.
func topLevelPaths(files []endpoint.FileInfo) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range files {
		name := strings.TrimPrefix(f.Name, "/")
		root := name
		if i := strings.IndexByte(name, '/'); i >= 0 {
			root = name[:i]
		}
		if root == "" {
			continue
		}
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		out = append(out, root)
	}
	return out
}

func readMetainfo(ctx context.Context, src transport.Transport, dir, hash string) ([]byte, error) {
	srcPath := path.Join(dir, hash+".torrent")
	r, err := src.OpenRead(ctx, srcPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.MetainfoMissing, "read source metainfo "+srcPath, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errkind.Wrap(errkind.MetainfoMissing, "read source metainfo "+srcPath, err)
	}
	return data, nil
}

func writeMetainfo(ctx context.Context, dst transport.Transport, dir, tmpPath string, data []byte) error {
	if err := dst.MkdirAll(ctx, dir); err != nil {
		return err
	}
	w, err := dst.OpenWrite(ctx, tmpPath)
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = w.Write(data)
	return err
}

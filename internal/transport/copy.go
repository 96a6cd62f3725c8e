// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"fmt"
	"io"
	"path"
)

// copyBufferSize matches the chunk size progress is reported at; small
// enough to keep progress reporting responsive on large files, large
// enough to not dominate copy overhead.
const copyBufferSize = 4 << 20 // 4 MiB

// Progress is one snapshot of a tree copy's advancement, transport's own
// vocabulary so this package never imports the record/store types.
type Progress struct {
	CurrentFileIndex int
	TotalFiles       int
	CurrentFileName  string
	ByteProgress     int64
	TotalBytes       int64
	TransferSpeed    float64 // bytes/sec, trailing ~2s window
}

// CopyTree replicates srcRoot from src into dstRoot on dst, copying files
// byte-for-byte and skipping any destination file whose size already
// matches the source (the cheap idempotency rule that lets a
// crashed-and-restarted job resume without re-transferring complete
// files). srcRoot may name either a directory (copied recursively,
// preserving structure) or a single file (the common case for a
// single-file torrent's lone top-level path component) — either way
// dstRoot is where it lands. onProgress is called after every copied
// chunk and once at the end of each file; throttling those calls is left
// to the caller.
func CopyTree(ctx context.Context, src, dst Transport, srcRoot, dstRoot string, onProgress func(Progress)) error {
	rootInfo, err := src.Stat(ctx, srcRoot)
	if err != nil {
		return fmt.Errorf("stat source root %s: %w", srcRoot, err)
	}
	if !rootInfo.IsDir {
		return copySingleFile(ctx, src, dst, srcRoot, dstRoot, rootInfo.Size, onProgress)
	}

	files, err := listFiles(ctx, src, srcRoot, "")
	if err != nil {
		return fmt.Errorf("list source tree %s: %w", srcRoot, err)
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += f.size
	}

	var doneBytes int64
	for i, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		srcPath := path.Join(srcRoot, f.rel)
		dstPath := path.Join(dstRoot, f.rel)

		if dstDir := path.Dir(dstPath); dstDir != "." {
			if err := dst.MkdirAll(ctx, dstDir); err != nil {
				return fmt.Errorf("mkdir %s: %w", dstDir, err)
			}
		}

		skipped, err := copyFileSkipIfSizeMatches(ctx, src, dst, srcPath, dstPath, f.size, func(delta int64) {
			doneBytes += delta
			if onProgress != nil {
				onProgress(Progress{
					CurrentFileIndex: i,
					TotalFiles:       len(files),
					CurrentFileName:  f.rel,
					ByteProgress:     doneBytes,
					TotalBytes:       totalBytes,
				})
			}
		})
		if err != nil {
			return fmt.Errorf("copy %s: %w", srcPath, err)
		}
		if skipped {
			doneBytes += f.size
		}
		if onProgress != nil {
			onProgress(Progress{
				CurrentFileIndex: i + 1,
				TotalFiles:       len(files),
				CurrentFileName:  f.rel,
				ByteProgress:     doneBytes,
				TotalBytes:       totalBytes,
			})
		}
	}
	return nil
}

// copySingleFile handles the case where a dedup'd top-level path is itself
// a plain file rather than a directory (the whole of a single-file
// torrent's payload).
func copySingleFile(ctx context.Context, src, dst Transport, srcPath, dstPath string, size int64, onProgress func(Progress)) error {
	if dstDir := path.Dir(dstPath); dstDir != "." {
		if err := dst.MkdirAll(ctx, dstDir); err != nil {
			return fmt.Errorf("mkdir %s: %w", dstDir, err)
		}
	}

	name := path.Base(srcPath)
	var doneBytes int64
	skipped, err := copyFileSkipIfSizeMatches(ctx, src, dst, srcPath, dstPath, size, func(delta int64) {
		doneBytes += delta
		if onProgress != nil {
			onProgress(Progress{CurrentFileIndex: 0, TotalFiles: 1, CurrentFileName: name, ByteProgress: doneBytes, TotalBytes: size})
		}
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", srcPath, err)
	}
	if skipped {
		doneBytes = size
	}
	if onProgress != nil {
		onProgress(Progress{CurrentFileIndex: 1, TotalFiles: 1, CurrentFileName: name, ByteProgress: doneBytes, TotalBytes: size})
	}
	return nil
}

type treeFile struct {
	rel  string
	size int64
}

func listFiles(ctx context.Context, t Transport, root, rel string) ([]treeFile, error) {
	entries, err := t.ReadDir(ctx, path.Join(root, rel))
	if err != nil {
		return nil, err
	}
	var out []treeFile
	for _, e := range entries {
		childRel := path.Join(rel, e.Name)
		if e.IsDir {
			children, err := listFiles(ctx, t, root, childRel)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
			continue
		}
		out = append(out, treeFile{rel: childRel, size: e.Size})
	}
	return out, nil
}

// copyFileSkipIfSizeMatches copies srcPath to dstPath unless dstPath already
// exists with the expected size, in which case it's left untouched. Returns
// whether the copy was skipped.
func copyFileSkipIfSizeMatches(ctx context.Context, src, dst Transport, srcPath, dstPath string, size int64, onChunk func(int64)) (bool, error) {
	if existing, err := dst.Stat(ctx, dstPath); err == nil && !existing.IsDir && existing.Size == size {
		return true, nil
	}

	err := retryOnce(ctx, fmt.Sprintf("copy %s", srcPath), func() error {
		r, err := src.OpenRead(ctx, srcPath)
		if err != nil {
			return err
		}
		defer r.Close()

		w, err := dst.OpenWrite(ctx, dstPath)
		if err != nil {
			return err
		}
		defer w.Close()

		return streamCopy(w, r, onChunk)
	})
	return false, err
}

// streamCopy copies every chunk read from r to w, reporting each chunk's
// size via onChunk. Throttling how often a caller turns these reports into
// a persisted progress write is the executor's job, not this function's.
func streamCopy(w io.Writer, r io.Reader, onChunk func(int64)) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if onChunk != nil {
				onChunk(int64(n))
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

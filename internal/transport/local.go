// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"io"
	"os"
)

// Local is a Transport over the machine's own filesystem. The unused field
// gives it a non-zero size, so each NewLocal call returns a distinct
// pointer (Go may place every zero-size allocation at the same address).
type Local struct {
	_ byte
}

// NewLocal returns a Transport that operates directly on the local
// filesystem. Sessionless; Close is a no-op.
func NewLocal() *Local { return &Local{} }

func (l *Local) Stat(_ context.Context, path string) (FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return toFileInfo(fi), nil
}

func (l *Local) ReadDir(_ context.Context, path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, toFileInfo(info))
	}
	return out, nil
}

func (l *Local) MkdirAll(_ context.Context, path string) error {
	return os.MkdirAll(path, 0o755)
}

func (l *Local) OpenRead(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (l *Local) OpenWrite(_ context.Context, path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func (l *Local) Close() error { return nil }

func toFileInfo(fi os.FileInfo) FileInfo {
	return FileInfo{
		Name:    fi.Name(),
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime().Unix(),
	}
}

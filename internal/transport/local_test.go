// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyTreeReplicatesNestedStructure(t *testing.T) {
	ctx := context.Background()
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(srcRoot, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "sub", "b.txt"), []byte("world!!"), 0o644))

	local := NewLocal()
	var reports []Progress
	err := CopyTree(ctx, local, local, srcRoot, dstRoot, func(p Progress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	gotA, err := os.ReadFile(filepath.Join(dstRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(gotA))

	gotB, err := os.ReadFile(filepath.Join(dstRoot, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world!!", string(gotB))

	assert.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.Equal(t, last.TotalBytes, last.ByteProgress)
}

func TestCopyTreeSkipsFileWithMatchingSize(t *testing.T) {
	ctx := context.Background()
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "a.txt"), []byte("REPLA"), 0o644)) // same size, different content

	local := NewLocal()
	require.NoError(t, CopyTree(ctx, local, local, srcRoot, dstRoot, nil))

	got, err := os.ReadFile(filepath.Join(dstRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "REPLA", string(got), "destination with matching size must not be overwritten")
}

func TestCopyTreeOverwritesFileWithMismatchedSize(t *testing.T) {
	ctx := context.Background()
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "a.txt"), []byte("x"), 0o644))

	local := NewLocal()
	require.NoError(t, CopyTree(ctx, local, local, srcRoot, dstRoot, nil))

	got, err := os.ReadFile(filepath.Join(dstRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestCopyTreeCopiesSingleFileRoot(t *testing.T) {
	ctx := context.Background()
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "movie.mkv"), []byte("payload"), 0o644))

	local := NewLocal()
	var reports []Progress
	err := CopyTree(ctx, local, local, filepath.Join(srcRoot, "movie.mkv"), filepath.Join(dstRoot, "movie.mkv"), func(p Progress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dstRoot, "movie.mkv"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.NotEmpty(t, reports)
	assert.Equal(t, 1, reports[len(reports)-1].TotalFiles)
}

func TestLocalStatReportsNotExist(t *testing.T) {
	local := NewLocal()
	_, err := local.Stat(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

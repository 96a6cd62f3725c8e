// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transport unifies local-filesystem and SFTP file access behind one
// interface, so the executor's copy pipeline never branches on which kind
// of endpoint it's talking to.
package transport

import (
	"context"
	"io"
	"os"
)

// FileInfo is the subset of os.FileInfo the copy pipeline needs, kept
// transport-agnostic so callers never import os or sftp.FileInfo directly.
type FileInfo struct {
	Name    string
	Size    int64
	Mode    os.FileMode
	IsDir   bool
	ModTime int64 // unix seconds; zero if unknown
}

// Transport is a single open session against one side (source or
// destination) of a connection. A session is bound to one worker for its
// lifetime; callers never share a Transport across goroutines.
type Transport interface {
	// Stat returns file metadata for path, or an error satisfying
	// os.IsNotExist(err) via errors.Is(err, os.ErrNotExist) if absent.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// ReadDir lists the immediate children of path.
	ReadDir(ctx context.Context, path string) ([]FileInfo, error)

	// MkdirAll recursively creates path, tolerating an already-existing
	// directory.
	MkdirAll(ctx context.Context, path string) error

	// OpenRead opens path for streaming read. Callers must Close the
	// returned ReadCloser.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite creates or truncates path for streaming write. Callers
	// must Close the returned WriteCloser.
	OpenWrite(ctx context.Context, path string) (io.WriteCloser, error)

	// Close releases the underlying connection (SFTP session/SSH client,
	// or a no-op for local filesystem access).
	Close() error
}

// Descriptor configures how to dial a Transport; exactly one transport
// implementation is selected by Kind.
type Descriptor struct {
	Kind string // "local" or "sftp"
	SFTP *SFTPDescriptor
}

// SFTPDescriptor carries both addressing forms a connection may use:
// inline host credentials, or an alias resolved from an SSH client config
// file.
type SFTPDescriptor struct {
	Host     string
	Port     int
	Username string
	Password string
	KeyFile  string

	SSHConfigFile string
	SSHConfigHost string
}

// ByAlias reports whether this descriptor addresses its host through an
// SSH client config alias rather than inline credentials.
func (d *SFTPDescriptor) ByAlias() bool {
	return d != nil && d.SSHConfigHost != ""
}

// Dial opens a new Transport for d. Each call produces an independent
// session; pooling lives one layer up, in pool.go.
func Dial(ctx context.Context, d Descriptor) (Transport, error) {
	switch d.Kind {
	case "local", "":
		return NewLocal(), nil
	case "sftp":
		return DialSFTP(ctx, d.SFTP)
	default:
		return nil, errUnsupportedKind(d.Kind)
	}
}

type unsupportedKindError string

func (e unsupportedKindError) Error() string { return "transport: unsupported kind " + string(e) }

func errUnsupportedKind(kind string) error { return unsupportedKindError(kind) }

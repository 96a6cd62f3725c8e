// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsAppliedWhenFieldsOmitted(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 10, cfg.MaxUnclaimed)
	assert.Equal(t, 3, cfg.MaxCopyRetry)
	assert.Equal(t, 2, cfg.PostIngestTicks)
}

func TestConnectionValidationRejectsSameEndpoint(t *testing.T) {
	path := writeConfig(t, `{
		"downloadClients": {"a": {"kind":"qbittorrent","host":"h","port":1}},
		"connections": {"bad": {"from":"a","to":"a"}}
	}`)

	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be different")
}

func TestConnectionValidationRejectsUnknownEndpoint(t *testing.T) {
	path := writeConfig(t, `{
		"downloadClients": {"a": {"kind":"qbittorrent","host":"h","port":1}},
		"connections": {"bad": {"from":"a","to":"missing"}}
	}`)

	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown download client")
}

func TestMediaManagerKindValidation(t *testing.T) {
	path := writeConfig(t, `{"mediaManagers":[{"kind":"bogus","host":"h","port":1}]}`)

	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind must be")
}

func TestEnvironmentVariableOverride(t *testing.T) {
	path := writeConfig(t, `{"logLevel":"INFO"}`)

	t.Setenv("TRANSFERARR_LOGLEVEL", "DEBUG")

	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestMissingConfigFileStartsWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

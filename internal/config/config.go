// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the JSON configuration file via viper: one
// New(path) constructor, environment-variable overrides on a fixed
// prefix, and defaults applied for anything the file omits.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/transferarr/transferarr/internal/domain"
)

const envPrefix = "TRANSFERARR"

// applyDefaults mirrors the tunables table.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "INFO")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("metricsEnabled", false)
	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 9074)
	v.SetDefault("tickInterval", "2s")
	v.SetDefault("workers", 3)
	v.SetDefault("maxUnclaimed", 10)
	v.SetDefault("maxCopyRetry", 3)
	v.SetDefault("postIngestTicks", 2)
	v.SetDefault("callTimeout", "30s")
	v.SetDefault("progressThrottle", "2s")
	v.SetDefault("shutdownDeadline", "30s")
}

// Config wraps domain.Config with the loading machinery: the viper
// instance and the config-file path used for relative-path resolution.
type Config struct {
	domain.Config

	v          *viper.Viper
	configPath string
}

// New loads configuration from path. If path does not exist, a config with
// only defaults applied is returned (the caller decides whether that's a
// fatal misconfiguration for its use case); nothing here generates a
// config file on first run.
func New(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	applyDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	c := &Config{Config: cfg, v: v, configPath: path}

	// Detect-only: the core doesn't support hot-reload, so changes are
	// logged but never re-applied to a running driver.
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Warn().Str("event", e.String()).Msg("[CONFIG] Config file changed on disk; restart to apply")
	})
	v.WatchConfig()

	return c, c.Validate()
}

// stringToDurationHookFunc decodes "2s"-style config scalars into
// domain.Duration; the stock StringToTimeDurationHookFunc only targets a
// bare time.Duration, not a wrapper type.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(domain.Duration{}) {
			return data, nil
		}
		parsed, err := time.ParseDuration(data.(string))
		if err != nil {
			return nil, err
		}
		return domain.Duration{Duration: parsed}, nil
	}
}

// Validate enforces structural rules that aren't expressible
// as viper defaults: connections must route between distinct endpoints and
// name endpoints that exist.
func (c *Config) Validate() error {
	for name, conn := range c.Connections {
		if conn.From == "" || conn.To == "" {
			return fmt.Errorf("connection %q: from and to are required", name)
		}
		if conn.From == conn.To {
			return fmt.Errorf("connection %q: from and to must be different", name)
		}
		if _, ok := c.DownloadClients[conn.From]; !ok {
			return fmt.Errorf("connection %q: unknown download client %q", name, conn.From)
		}
		if _, ok := c.DownloadClients[conn.To]; !ok {
			return fmt.Errorf("connection %q: unknown download client %q", name, conn.To)
		}
	}
	for _, mm := range c.MediaManagers {
		if mm.Kind != "movies" && mm.Kind != "series" {
			return fmt.Errorf("media manager %q: kind must be 'movies' or 'series'", mm.Kind)
		}
	}
	return nil
}

// ConfigDir returns the directory containing the loaded config file.
func (c *Config) ConfigDir() string {
	return filepath.Dir(c.configPath)
}

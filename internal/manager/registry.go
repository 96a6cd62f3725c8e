// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package manager

import (
	"fmt"

	"github.com/transferarr/transferarr/internal/domain"
)

// NewAdapters builds one Adapter per configured media manager. Unlike
// endpoint.Registry, adapters aren't looked up by name at runtime — the
// orchestrator simply ranges over all of them each tick — so this
// constructor returns a plain slice.
func NewAdapters(managers []domain.MediaManagerConfig) ([]Adapter, error) {
	out := make([]Adapter, 0, len(managers))
	for _, mm := range managers {
		switch mm.Kind {
		case KindMovies, KindSeries:
			out = append(out, NewArrClient(mm.Kind, mm.Host, mm.Port, mm.APIKey))
		default:
			return nil, fmt.Errorf("media manager: unsupported kind %q", mm.Kind)
		}
	}
	return out, nil
}

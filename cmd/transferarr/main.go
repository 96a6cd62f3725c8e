// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Command transferarr runs the torrent migration orchestrator: it wires
// the state store, endpoint registry, media-manager adapters, transfer
// executors and the reconciliation driver together and runs them until
// signalled to stop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "transferarr",
		Short:         "Automates torrent migration between download clients",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(runServeCommand())
	root.AddCommand(runVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error into an exit code: 0 normal, 1 configuration
// error, 2 unrecoverable state-store error.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case isStateStoreError(err):
		return 2
	default:
		return 1
	}
}

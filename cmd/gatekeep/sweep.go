// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions once",
		Long: `Delete every expired session and exit. Useful from cron when the
server runs with the background sweeper disabled.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	sweeper, err := auth.NewSessionSweeper(backend.Sessions, time.Hour, nil)
	if err != nil {
		return err
	}
	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Removed %d expired sessions\n", n)
	return nil
}

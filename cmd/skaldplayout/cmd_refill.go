/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"time"

	"github.com/spf13/cobra"
)

var refillCmd = &cobra.Command{
	Use:   "refill",
	Short: "Top up the music and bumper queues",
	Long:  "Check engine queue depths and, below the low-water mark, select and push tracks up to the high-water mark. Also keeps the fallback and safety loops loaded. Safe to run every minute from cron.",
	RunE:  runRefill,
}

func init() {
	rootCmd.AddCommand(refillCmd)
}

func runRefill(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	now := time.Now()

	if err := a.orch.RefillMusic(ctx, now); err != nil {
		return err
	}
	if err := a.orch.RefillBumpers(ctx, now); err != nil {
		return err
	}
	return a.orch.EnsureSafety(ctx, now)
}

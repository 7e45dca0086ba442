/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply retention to play history and aged bulletins",
	Long:  "Delete history entries older than the retention window and bulletin assets past their maximum age. Bulletins are the only asset kind ever deleted; music, bumpers, beds, and safety content stay.",
	RunE:  runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
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

	entries, err := a.ledger.Prune(ctx, now, cfg.HistoryRetention)
	if err != nil {
		return err
	}

	bulletins, err := a.catalog.DeleteAgedBreaks(ctx, now, cfg.BreakMaxAge)
	if err != nil {
		return err
	}

	fmt.Printf("pruned %d history entries, %d aged bulletins\n", entries, bulletins)
	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skald_playout/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine queue depths and recent plays",
	RunE:  runStatus,
}

var statusRecent int

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().IntVar(&statusRecent, "recent", 10, "Number of recent plays to show, 0 to skip")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	depths, err := a.orch.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Println("queue depths (priority order):")
	for _, queue := range engine.PriorityChain() {
		depth := depths[queue]
		if depth < 0 {
			fmt.Printf("  %-13s unknown\n", queue)
			continue
		}
		fmt.Printf("  %-13s %d\n", queue, depth)
	}

	if statusRecent <= 0 {
		return nil
	}

	plays, err := a.ledger.Recent(ctx, statusRecent)
	if err != nil {
		return err
	}
	fmt.Printf("\nlast %d plays:\n", len(plays))
	for _, play := range plays {
		title := "(asset gone)"
		if play.Asset != nil {
			title = play.Asset.Title
		}
		fmt.Printf("  %s  %-7s %s\n", play.Entry.PlayedAt.Format("2006-01-02 15:04:05"), play.Entry.SourceKind, title)
	}
	return nil
}

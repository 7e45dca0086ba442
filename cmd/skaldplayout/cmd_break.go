/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"time"

	"github.com/spf13/cobra"
)

var breakCmd = &cobra.Command{
	Use:   "break",
	Short: "Schedule the news bulletin if the window and freshness allow",
	Long:  "Inside the top-of-hour window, register the freshest bulletin slot and push it to the break queue. Stale bulletins are rejected outright so silence about an upstream failure never airs. Exit status 1 is the operator alert.",
	RunE:  runBreak,
}

func init() {
	rootCmd.AddCommand(breakCmd)
}

func runBreak(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	return a.orch.ScheduleBreak(cmd.Context(), time.Now())
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"time"

	"github.com/spf13/cobra"
)

var onairCmd = &cobra.Command{
	Use:   "onair <path>",
	Short: "Record that the engine started playing a file",
	Long:  "Called by the playout engine's track-start hook. Resolves the path to its catalog entry, by location first and content hash second, and appends the play to history.",
	Args:  cobra.ExactArgs(1),
	RunE:  runOnair,
}

func init() {
	rootCmd.AddCommand(onairCmd)
}

func runOnair(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	return a.orch.RecordPlay(cmd.Context(), args[0], time.Now())
}

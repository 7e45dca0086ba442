/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skald_playout/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Migrate a legacy name-keyed library into the catalog",
	Long:  "Ingest every audio file under the legacy directories, then rewrite play history from filenames to content ids in one transaction. Names with no surviving file become orphan markers so no play fact is lost. A JSON backup is written before any rewrite. Safe to re-run.",
	RunE:  runReconcile,
}

var reconcileLegacyDirs []string

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringArrayVar(&reconcileLegacyDirs, "legacy-dir", nil, "Legacy library directory, repeatable (required)")
	reconcileCmd.MarkFlagRequired("legacy-dir")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	runner := reconcile.New(a.db, a.catalog, cfg.ReconcileBackupDir, logger)
	report, err := runner.Run(cmd.Context(), reconcileLegacyDirs)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: scanned %d, ingested %d, deduplicated %d\n", report.RunID, report.Scanned, report.Ingested, report.Deduplicated)
	fmt.Printf("history: %d rows rewritten, %d legacy names orphaned\n", report.RowsRewritten, report.Orphans)
	fmt.Printf("backup: %s\n", report.BackupDir)
	return nil
}

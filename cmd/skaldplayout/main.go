/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_playout/internal/breaks"
	"github.com/friendsincode/skald_playout/internal/catalog"
	"github.com/friendsincode/skald_playout/internal/config"
	"github.com/friendsincode/skald_playout/internal/db"
	"github.com/friendsincode/skald_playout/internal/engine"
	"github.com/friendsincode/skald_playout/internal/ledger"
	"github.com/friendsincode/skald_playout/internal/logging"
	"github.com/friendsincode/skald_playout/internal/loudness"
	"github.com/friendsincode/skald_playout/internal/orchestrator"
	"github.com/friendsincode/skald_playout/internal/selector"
	"github.com/friendsincode/skald_playout/internal/telemetry"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "skaldplayout",
	Short: "Skald Playout - Continuous broadcast playout orchestration",
	Long:  "Skald Playout keeps an unattended audio stream on air: it catalogs loudness-normalized assets, selects rotation music, gates time-sensitive bulletins, and feeds the playout engine over its control socket.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

// app is the wired component graph for one command invocation. Commands
// are short-lived, so there is no lifecycle beyond open and close.
type app struct {
	db      *gorm.DB
	catalog *catalog.Service
	ledger  *ledger.Ledger
	orch    *orchestrator.Orchestrator
	metrics *telemetry.Metrics
}

func openApp() (*app, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	analyzer := loudness.NewFFmpegAnalyzer(cfg.FFmpegBin, cfg.FFprobeBin, logger)
	cat := catalog.NewService(database, analyzer, cfg, logger)
	hist := ledger.New(database, logger)
	sel := selector.New(database, hist, cfg.AntiRepeatWindow, logger)
	gate := breaks.NewGate(cfg, logger)
	client := engine.NewClient(cfg.EngineSocket, cfg.EngineTimeout, logger)
	metrics := telemetry.New(cfg.MetricsTextfile, logger)

	return &app{
		db:      database,
		catalog: cat,
		ledger:  hist,
		orch:    orchestrator.New(cfg, cat, hist, sel, gate, client, metrics, logger),
		metrics: metrics,
	}, nil
}

// close flushes metrics and releases the database. Flush failures are
// logged, not fatal: the on-air work already happened.
func (a *app) close() {
	a.metrics.LastRunTimestamp.SetToCurrentTime()
	if err := a.metrics.Flush(); err != nil {
		logger.Error().Err(err).Msg("flush metrics textfile")
	}
	if err := db.Close(a.db); err != nil {
		logger.Error().Err(err).Msg("close database")
	}
}

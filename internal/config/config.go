/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration. It is constructed once at
// startup and passed explicitly into every component constructor; there is
// no package-level settings singleton.
type Config struct {
	Environment string
	DBBackend   DatabaseBackend
	DBDSN       string

	// Catalog storage
	CatalogRoot string // managed, content-hash-named audio files
	ScratchDir  string // private staging area; must be on the same filesystem as CatalogRoot

	// Loudness targets applied at ingestion
	FFmpegBin      string
	FFprobeBin     string
	TargetLoudness float64 // integrated loudness target (LUFS)
	TargetTruePeak float64 // true-peak ceiling (dBTP)

	// Engine control socket
	EngineSocket  string
	EngineTimeout time.Duration

	// Selection
	AntiRepeatWindow time.Duration
	MusicPattern     string
	QueueLowWater    int
	QueueHighWater   int

	// Break scheduling
	BulletinDir         string
	BreakStaleThreshold time.Duration
	BreakWindowStartMin int // inclusive
	BreakWindowEndMin   int // inclusive
	ForceBreakFlag      string
	BreakMaxAge         time.Duration // bulletin assets older than this may be reaped

	// Housekeeping
	HistoryRetention   time.Duration
	MetricsTextfile    string // node_exporter textfile collector path, empty disables
	ReconcileBackupDir string
}

// fileDuration accepts time.ParseDuration strings ("5s", "2h30m") in the
// YAML overlay; a bare integer is taken as nanoseconds.
type fileDuration time.Duration

func (d *fileDuration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(strings.TrimSpace(s))
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = fileDuration(parsed)
		return nil
	}

	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", node.Value)
	}
	*d = fileDuration(n)
	return nil
}

// fileConfig is the YAML overlay shape. Pointer fields distinguish an
// explicitly configured zero (a window ending at minute 0, a zero
// low-water mark) from an absent key.
type fileConfig struct {
	Environment *string `yaml:"environment"`
	DBBackend   *string `yaml:"db_backend"`
	DBDSN       *string `yaml:"db_dsn"`

	CatalogRoot *string `yaml:"catalog_root"`
	ScratchDir  *string `yaml:"scratch_dir"`

	FFmpegBin      *string  `yaml:"ffmpeg_bin"`
	FFprobeBin     *string  `yaml:"ffprobe_bin"`
	TargetLoudness *float64 `yaml:"target_loudness_lufs"`
	TargetTruePeak *float64 `yaml:"target_true_peak_db"`

	EngineSocket  *string       `yaml:"engine_socket"`
	EngineTimeout *fileDuration `yaml:"engine_timeout"`

	AntiRepeatWindow *fileDuration `yaml:"anti_repeat_window"`
	MusicPattern     *string       `yaml:"music_pattern"`
	QueueLowWater    *int          `yaml:"queue_low_water"`
	QueueHighWater   *int          `yaml:"queue_high_water"`

	BulletinDir         *string       `yaml:"bulletin_dir"`
	BreakStaleThreshold *fileDuration `yaml:"break_stale_threshold"`
	BreakWindowStartMin *int          `yaml:"break_window_start_min"`
	BreakWindowEndMin   *int          `yaml:"break_window_end_min"`
	ForceBreakFlag      *string       `yaml:"force_break_flag"`
	BreakMaxAge         *fileDuration `yaml:"break_max_age"`

	HistoryRetention   *fileDuration `yaml:"history_retention"`
	MetricsTextfile    *string       `yaml:"metrics_textfile"`
	ReconcileBackupDir *string       `yaml:"reconcile_backup_dir"`
}

func (f *fileConfig) apply(cfg *Config) {
	setStr(&cfg.Environment, f.Environment)
	if f.DBBackend != nil {
		cfg.DBBackend = DatabaseBackend(*f.DBBackend)
	}
	setStr(&cfg.DBDSN, f.DBDSN)

	setStr(&cfg.CatalogRoot, f.CatalogRoot)
	setStr(&cfg.ScratchDir, f.ScratchDir)

	setStr(&cfg.FFmpegBin, f.FFmpegBin)
	setStr(&cfg.FFprobeBin, f.FFprobeBin)
	setFloat(&cfg.TargetLoudness, f.TargetLoudness)
	setFloat(&cfg.TargetTruePeak, f.TargetTruePeak)

	setStr(&cfg.EngineSocket, f.EngineSocket)
	setDur(&cfg.EngineTimeout, f.EngineTimeout)

	setDur(&cfg.AntiRepeatWindow, f.AntiRepeatWindow)
	setStr(&cfg.MusicPattern, f.MusicPattern)
	setInt(&cfg.QueueLowWater, f.QueueLowWater)
	setInt(&cfg.QueueHighWater, f.QueueHighWater)

	setStr(&cfg.BulletinDir, f.BulletinDir)
	setDur(&cfg.BreakStaleThreshold, f.BreakStaleThreshold)
	setInt(&cfg.BreakWindowStartMin, f.BreakWindowStartMin)
	setInt(&cfg.BreakWindowEndMin, f.BreakWindowEndMin)
	setStr(&cfg.ForceBreakFlag, f.ForceBreakFlag)
	setDur(&cfg.BreakMaxAge, f.BreakMaxAge)

	setDur(&cfg.HistoryRetention, f.HistoryRetention)
	setStr(&cfg.MetricsTextfile, f.MetricsTextfile)
	setStr(&cfg.ReconcileBackupDir, f.ReconcileBackupDir)
}

func defaults() *Config {
	return &Config{
		Environment:         "development",
		DBBackend:           DatabaseSQLite,
		DBDSN:               "skald.db",
		CatalogRoot:         "./catalog",
		FFmpegBin:           "ffmpeg",
		FFprobeBin:          "ffprobe",
		TargetLoudness:      -16.0,
		TargetTruePeak:      -1.5,
		EngineSocket:        "/var/run/skald/engine.sock",
		EngineTimeout:       5 * time.Second,
		AntiRepeatWindow:    4 * time.Hour,
		MusicPattern:        "wave",
		QueueLowWater:       4,
		QueueHighWater:      10,
		BulletinDir:         "./bulletins",
		BreakStaleThreshold: 50 * time.Minute,
		BreakWindowStartMin: 0,
		BreakWindowEndMin:   4,
		ForceBreakFlag:      "./force-break",
		BreakMaxAge:         14 * 24 * time.Hour,
		HistoryRetention:    90 * 24 * time.Hour,
		ReconcileBackupDir:  "./backups",
	}
}

// Load starts from defaults, overlays the optional YAML file named by
// SKALD_CONFIG, applies environment variables on top, and validates the
// result. Later layers only touch keys they actually carry, so an explicit
// zero in either layer sticks.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("SKALD_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		var overlay fileConfig
		if err := yaml.Unmarshal(raw, &overlay); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		overlay.apply(cfg)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(cfg.CatalogRoot, ".scratch")
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SKALD_DB_DSN must be provided")
	}
	if cfg.QueueLowWater < 0 || cfg.QueueHighWater <= cfg.QueueLowWater {
		return nil, fmt.Errorf("queue water marks invalid: low=%d high=%d", cfg.QueueLowWater, cfg.QueueHighWater)
	}
	if cfg.BreakWindowStartMin < 0 || cfg.BreakWindowStartMin > 59 ||
		cfg.BreakWindowEndMin < 0 || cfg.BreakWindowEndMin > 59 ||
		cfg.BreakWindowEndMin < cfg.BreakWindowStartMin {
		return nil, fmt.Errorf("break window invalid: start=%d end=%d", cfg.BreakWindowStartMin, cfg.BreakWindowEndMin)
	}
	if cfg.TargetLoudness >= 0 {
		return nil, fmt.Errorf("target loudness must be negative LUFS, got %.1f", cfg.TargetLoudness)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envStr(&cfg.Environment, "SKALD_ENV")
	if val := os.Getenv("SKALD_DB_BACKEND"); val != "" {
		cfg.DBBackend = DatabaseBackend(val)
	}
	envStr(&cfg.DBDSN, "SKALD_DB_DSN")

	envStr(&cfg.CatalogRoot, "SKALD_CATALOG_ROOT")
	envStr(&cfg.ScratchDir, "SKALD_SCRATCH_DIR")

	envStr(&cfg.FFmpegBin, "SKALD_FFMPEG_BIN")
	envStr(&cfg.FFprobeBin, "SKALD_FFPROBE_BIN")
	if err := envFloat(&cfg.TargetLoudness, "SKALD_TARGET_LOUDNESS_LUFS"); err != nil {
		return err
	}
	if err := envFloat(&cfg.TargetTruePeak, "SKALD_TARGET_TRUE_PEAK_DB"); err != nil {
		return err
	}

	envStr(&cfg.EngineSocket, "SKALD_ENGINE_SOCKET")
	if err := envDur(&cfg.EngineTimeout, "SKALD_ENGINE_TIMEOUT"); err != nil {
		return err
	}

	if err := envDur(&cfg.AntiRepeatWindow, "SKALD_ANTI_REPEAT_WINDOW"); err != nil {
		return err
	}
	envStr(&cfg.MusicPattern, "SKALD_MUSIC_PATTERN")
	if err := envInt(&cfg.QueueLowWater, "SKALD_QUEUE_LOW_WATER"); err != nil {
		return err
	}
	if err := envInt(&cfg.QueueHighWater, "SKALD_QUEUE_HIGH_WATER"); err != nil {
		return err
	}

	envStr(&cfg.BulletinDir, "SKALD_BULLETIN_DIR")
	if err := envDur(&cfg.BreakStaleThreshold, "SKALD_BREAK_STALE_THRESHOLD"); err != nil {
		return err
	}
	if err := envInt(&cfg.BreakWindowStartMin, "SKALD_BREAK_WINDOW_START_MIN"); err != nil {
		return err
	}
	if err := envInt(&cfg.BreakWindowEndMin, "SKALD_BREAK_WINDOW_END_MIN"); err != nil {
		return err
	}
	envStr(&cfg.ForceBreakFlag, "SKALD_FORCE_BREAK_FLAG")
	if err := envDur(&cfg.BreakMaxAge, "SKALD_BREAK_MAX_AGE"); err != nil {
		return err
	}

	if err := envDur(&cfg.HistoryRetention, "SKALD_HISTORY_RETENTION"); err != nil {
		return err
	}
	envStr(&cfg.MetricsTextfile, "SKALD_METRICS_TEXTFILE")
	envStr(&cfg.ReconcileBackupDir, "SKALD_RECONCILE_BACKUP_DIR")
	return nil
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setDur(dst *time.Duration, src *fileDuration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

func envStr(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(dst *int, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, val)
	}
	*dst = parsed
	return nil
}

func envFloat(dst *float64, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", key, val)
	}
	*dst = parsed
	return nil
}

func envDur(dst *time.Duration, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, val)
	}
	*dst = parsed
	return nil
}

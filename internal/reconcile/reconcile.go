/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reconcile migrates a legacy name-keyed library into the
// content-addressed catalog and rewrites play history to match. The run is
// idempotent: already-cataloged content deduplicates on ingest, and history
// rows already carrying content ids are left alone.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_playout/internal/catalog"
	"github.com/friendsincode/skald_playout/internal/models"
)

var audioExtensions = map[string]bool{
	".mp3":  true,
	".ogg":  true,
	".oga":  true,
	".flac": true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
	".opus": true,
}

// Report summarizes one reconciliation run.
type Report struct {
	RunID         string
	Scanned       int
	Ingested      int
	Deduplicated  int
	RowsRewritten int64
	Orphans       int
	BackupDir     string
}

// Runner executes the one-time migration. It only ever rewrites the
// asset_id column of play history; play facts themselves are never dropped.
type Runner struct {
	db        *gorm.DB
	catalog   *catalog.Service
	backupDir string
	logger    zerolog.Logger
}

// New creates a reconciliation runner.
func New(database *gorm.DB, cat *catalog.Service, backupDir string, logger zerolog.Logger) *Runner {
	return &Runner{
		db:        database,
		catalog:   cat,
		backupDir: backupDir,
		logger:    logger.With().Str("component", "reconcile").Logger(),
	}
}

// Run ingests every audio file under the legacy directories, then rewrites
// play history from legacy names to content ids in a single transaction.
// Legacy names with no surviving file become orphan markers so no play fact
// is lost. The database is snapshotted to JSON before any rewrite.
func (r *Runner) Run(ctx context.Context, legacyDirs []string) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}

	files, err := scanLegacyDirs(legacyDirs)
	if err != nil {
		return nil, err
	}
	report.Scanned = len(files)
	r.logger.Info().Int("files", len(files)).Strs("dirs", legacyDirs).Msg("legacy scan complete")

	backup, err := r.snapshot(ctx, report.RunID)
	if err != nil {
		return nil, fmt.Errorf("pre-flight backup: %w", err)
	}
	report.BackupDir = backup

	// Legacy history rows key assets by filename, sometimes without the
	// extension. Map both spellings to the content id.
	// Legacy files are registered where they sit: the engine may still
	// hold their paths, and re-encoding a whole library in one run is not
	// worth it. Loudness conformance arrives as content is re-ingested.
	nameToID := make(map[string]string, 2*len(files))
	for _, file := range files {
		asset, created, err := r.catalog.Ingest(ctx, file, kindFromName(file), catalog.IngestOptions{RegisterInPlace: true})
		if err != nil {
			return nil, fmt.Errorf("ingest legacy file %s: %w", file, err)
		}
		if created {
			report.Ingested++
		} else {
			report.Deduplicated++
		}

		base := filepath.Base(file)
		nameToID[base] = asset.ID
		nameToID[strings.TrimSuffix(base, filepath.Ext(base))] = asset.ID
	}

	if err := r.rewriteHistory(ctx, nameToID, report); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("run_id", report.RunID).
		Int("ingested", report.Ingested).
		Int("deduplicated", report.Deduplicated).
		Int64("rows_rewritten", report.RowsRewritten).
		Int("orphans", report.Orphans).
		Msg("reconciliation complete")
	return report, nil
}

// rewriteHistory maps every legacy asset_id in play history to a content id
// or an orphan marker, atomically. The closing validation query runs inside
// the same transaction so a partial mapping can never commit.
func (r *Runner) rewriteHistory(ctx context.Context, nameToID map[string]string, report *Report) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var legacyIDs []string
		err := tx.Model(&models.PlayHistory{}).
			Distinct("asset_id").
			Where("asset_id NOT IN (?)", tx.Model(&models.Asset{}).Select("id")).
			Pluck("asset_id", &legacyIDs).Error
		if err != nil {
			return fmt.Errorf("find legacy history ids: %w", err)
		}

		for _, legacy := range legacyIDs {
			newID, ok := nameToID[legacy]
			if !ok {
				// Synthesize a marker asset so the play facts keep a
				// resolvable target even though the file is gone.
				newID = models.OrphanID(legacy)
				marker := models.Asset{
					ID:    newID,
					Kind:  kindFromName(legacy),
					Title: legacy,
				}
				if err := tx.Create(&marker).Error; err != nil {
					return fmt.Errorf("create orphan marker for %s: %w", legacy, err)
				}
				report.Orphans++
				r.logger.Warn().Str("legacy_name", legacy).Str("marker", newID).Msg("no surviving file for legacy name, orphaning")
			}

			res := tx.Model(&models.PlayHistory{}).
				Where("asset_id = ?", legacy).
				Update("asset_id", newID)
			if res.Error != nil {
				return fmt.Errorf("rewrite history for %s: %w", legacy, res.Error)
			}
			report.RowsRewritten += res.RowsAffected
		}

		var dangling int64
		err = tx.Model(&models.PlayHistory{}).
			Where("asset_id NOT IN (?)", tx.Model(&models.Asset{}).Select("id")).
			Count(&dangling).Error
		if err != nil {
			return fmt.Errorf("post-flight validation: %w", err)
		}
		if dangling > 0 {
			return fmt.Errorf("post-flight validation failed: %d history rows still dangling", dangling)
		}
		return nil
	})
}

// snapshot dumps assets and play history to JSON under the backup
// directory so the rewrite can be reverted by hand if it goes wrong.
func (r *Runner) snapshot(ctx context.Context, runID string) (string, error) {
	dir := filepath.Join(r.backupDir, "reconcile-"+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	var assets []models.Asset
	if err := r.db.WithContext(ctx).Find(&assets).Error; err != nil {
		return "", fmt.Errorf("dump assets: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "assets.json"), assets); err != nil {
		return "", err
	}

	var history []models.PlayHistory
	if err := r.db.WithContext(ctx).Find(&history).Error; err != nil {
		return "", fmt.Errorf("dump play history: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "play_history.json"), history); err != nil {
		return "", err
	}

	r.logger.Info().Str("dir", dir).Int("assets", len(assets)).Int("history_rows", len(history)).Msg("pre-flight backup written")
	return dir, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write backup %s: %w", path, err)
	}
	return nil
}

func scanLegacyDirs(dirs []string) ([]string, error) {
	var files []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if audioExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan legacy dir %s: %w", dir, err)
		}
	}
	return files, nil
}

// kindFromName guesses the asset kind from legacy naming conventions.
// Anything unrecognized is music, the dominant kind in legacy libraries.
func kindFromName(path string) models.AssetKind {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, "bumper"), strings.Contains(name, "ident"):
		return models.KindBumper
	case strings.Contains(name, "break"), strings.Contains(name, "news"), strings.Contains(name, "weather"):
		return models.KindBreak
	case strings.Contains(name, "bed"):
		return models.KindBed
	default:
		return models.KindMusic
	}
}

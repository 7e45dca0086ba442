/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_playout/internal/catalog"
	"github.com/friendsincode/skald_playout/internal/config"
	"github.com/friendsincode/skald_playout/internal/loudness"
	"github.com/friendsincode/skald_playout/internal/models"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Measure(ctx context.Context, path string) (loudness.Measurement, error) {
	return loudness.Measurement{IntegratedLUFS: -16.0, TruePeakDB: -1.5, Duration: 2 * time.Minute}, nil
}

func (stubAnalyzer) Normalize(ctx context.Context, src, dst string, targetLUFS, targetTP float64) (loudness.Measurement, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return loudness.Measurement{}, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return loudness.Measurement{}, err
	}
	return loudness.Measurement{IntegratedLUFS: targetLUFS, TruePeakDB: targetTP}, nil
}

func newTestRunner(t *testing.T) (*Runner, *gorm.DB, string) {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&models.Asset{}, &models.PlayHistory{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	root := t.TempDir()
	cfg := &config.Config{
		CatalogRoot:    filepath.Join(root, "catalog"),
		ScratchDir:     filepath.Join(root, "catalog", ".scratch"),
		TargetLoudness: -16.0,
		TargetTruePeak: -1.5,
	}
	cat := catalog.NewService(database, stubAnalyzer{}, cfg, zerolog.Nop())
	backupDir := filepath.Join(root, "backups")
	return New(database, cat, backupDir, zerolog.Nop()), database, backupDir
}

func writeLegacy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func seedHistory(t *testing.T, database *gorm.DB, assetID string, playedAt time.Time) {
	t.Helper()
	row := models.PlayHistory{AssetID: assetID, PlayedAt: playedAt, SourceKind: models.KindMusic}
	if err := database.Create(&row).Error; err != nil {
		t.Fatal(err)
	}
}

func TestRunRewritesLegacyNames(t *testing.T) {
	runner, database, _ := newTestRunner(t)
	legacy := t.TempDir()
	writeLegacy(t, legacy, "sunrise.mp3", "sunrise audio")
	writeLegacy(t, legacy, "midnight.mp3", "midnight audio")

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	seedHistory(t, database, "sunrise.mp3", now.Add(-2*time.Hour))
	seedHistory(t, database, "sunrise", now.Add(-time.Hour)) // extension-less spelling
	seedHistory(t, database, "midnight.mp3", now)

	report, err := runner.Run(context.Background(), []string{legacy})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Scanned != 2 || report.Ingested != 2 {
		t.Errorf("scanned=%d ingested=%d, want 2/2", report.Scanned, report.Ingested)
	}
	if report.RowsRewritten != 3 {
		t.Errorf("rows rewritten = %d, want 3", report.RowsRewritten)
	}
	if report.Orphans != 0 {
		t.Errorf("orphans = %d, want 0", report.Orphans)
	}

	// Both spellings of the same track must map to one content id.
	var ids []string
	if err := database.Model(&models.PlayHistory{}).Distinct("asset_id").Order("asset_id").Pluck("asset_id", &ids).Error; err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("distinct history ids = %d, want 2", len(ids))
	}
	for _, id := range ids {
		var asset models.Asset
		if err := database.First(&asset, "id = ?", id).Error; err != nil {
			t.Errorf("history id %s has no catalog row: %v", id, err)
		}
	}
}

func TestRunOrphansVanishedNames(t *testing.T) {
	runner, database, _ := newTestRunner(t)
	legacy := t.TempDir()
	writeLegacy(t, legacy, "kept.mp3", "kept audio")

	now := time.Now()
	seedHistory(t, database, "kept.mp3", now)
	seedHistory(t, database, "deleted-track.mp3", now)
	seedHistory(t, database, "deleted-track.mp3", now.Add(time.Minute))

	report, err := runner.Run(context.Background(), []string{legacy})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Orphans != 1 {
		t.Errorf("orphans = %d, want 1", report.Orphans)
	}

	// Every history row points at a catalog row or carries an orphan
	// marker; no play fact was dropped.
	var rows []models.PlayHistory
	if err := database.Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("history rows = %d, want 3", len(rows))
	}
	orphaned := 0
	for _, row := range rows {
		var asset models.Asset
		if err := database.First(&asset, "id = ?", row.AssetID).Error; err != nil {
			t.Errorf("row %d id %s is dangling: %v", row.ID, row.AssetID, err)
			continue
		}
		if models.IsOrphanID(row.AssetID) {
			orphaned++
			if asset.Title != "deleted-track.mp3" {
				t.Errorf("marker title = %q, want legacy name", asset.Title)
			}
			if asset.Path != "" {
				t.Errorf("marker has path %q, want none", asset.Path)
			}
		}
	}
	if orphaned != 2 {
		t.Errorf("orphan-marked rows = %d, want 2", orphaned)
	}
	if report.RowsRewritten != 3 {
		t.Errorf("rows rewritten = %d, want 3", report.RowsRewritten)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	runner, database, _ := newTestRunner(t)
	legacy := t.TempDir()
	writeLegacy(t, legacy, "evergreen.mp3", "evergreen audio")
	seedHistory(t, database, "evergreen.mp3", time.Now())
	seedHistory(t, database, "gone.mp3", time.Now())

	first, err := runner.Run(context.Background(), []string{legacy})
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	second, err := runner.Run(context.Background(), []string{legacy})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.Ingested != 0 {
		t.Errorf("second run ingested %d files, want 0 (dedup)", second.Ingested)
	}
	if second.Deduplicated != first.Scanned {
		t.Errorf("second run deduplicated %d, want %d", second.Deduplicated, first.Scanned)
	}
	if second.RowsRewritten != 0 {
		t.Errorf("second run rewrote %d rows, want 0", second.RowsRewritten)
	}
	if second.Orphans != 0 {
		t.Errorf("second run created %d orphans, want 0", second.Orphans)
	}
}

func TestRunWritesBackup(t *testing.T) {
	runner, database, backupDir := newTestRunner(t)
	legacy := t.TempDir()
	writeLegacy(t, legacy, "track.mp3", "track audio")
	seedHistory(t, database, "track.mp3", time.Now())

	report, err := runner.Run(context.Background(), []string{legacy})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !filepath.IsAbs(report.BackupDir) && report.BackupDir == "" {
		t.Fatal("report has no backup dir")
	}
	for _, name := range []string{"assets.json", "play_history.json"} {
		if _, err := os.Stat(filepath.Join(report.BackupDir, name)); err != nil {
			t.Errorf("backup file %s missing: %v", name, err)
		}
	}
	entries, err := os.ReadDir(backupDir)
	if err != nil || len(entries) != 1 {
		t.Errorf("backup dir entries = %d (err %v), want 1", len(entries), err)
	}
}

func TestRunSkipsNonAudioFiles(t *testing.T) {
	runner, _, _ := newTestRunner(t)
	legacy := t.TempDir()
	writeLegacy(t, legacy, "track.mp3", "track audio")
	writeLegacy(t, legacy, "notes.txt", "not audio")
	writeLegacy(t, legacy, "cover.jpg", "image")

	report, err := runner.Run(context.Background(), []string{legacy})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Scanned != 1 {
		t.Errorf("scanned = %d, want 1", report.Scanned)
	}
}

func TestKindFromName(t *testing.T) {
	cases := []struct {
		name string
		want models.AssetKind
	}{
		{"morning-news-break.mp3", models.KindBreak},
		{"weather-update.mp3", models.KindBreak},
		{"station-bumper-03.mp3", models.KindBumper},
		{"talk-bed-ambient.mp3", models.KindBed},
		{"some-song.mp3", models.KindMusic},
	}
	for _, tc := range cases {
		if got := kindFromName(tc.name); got != tc.want {
			t.Errorf("kindFromName(%s) = %s, want %s", tc.name, got, tc.want)
		}
	}
}

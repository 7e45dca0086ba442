/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_playout/internal/config"
	"github.com/friendsincode/skald_playout/internal/loudness"
	"github.com/friendsincode/skald_playout/internal/models"
)

// stubAnalyzer avoids the ffmpeg dependency in tests. Normalize copies the
// source so the atomic-rename path is exercised for real.
type stubAnalyzer struct {
	measureErr   error
	normalizeErr error
	measured     loudness.Measurement
}

func (s *stubAnalyzer) Measure(ctx context.Context, path string) (loudness.Measurement, error) {
	if s.measureErr != nil {
		return loudness.Measurement{}, s.measureErr
	}
	return s.measured, nil
}

func (s *stubAnalyzer) Normalize(ctx context.Context, src, dst string, targetLUFS, targetTP float64) (loudness.Measurement, error) {
	if s.normalizeErr != nil {
		return loudness.Measurement{}, s.normalizeErr
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return loudness.Measurement{}, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return loudness.Measurement{}, err
	}
	return loudness.Measurement{IntegratedLUFS: targetLUFS, TruePeakDB: targetTP, Duration: s.measured.Duration}, nil
}

func newTestService(t *testing.T, analyzer loudness.Analyzer) (*Service, *gorm.DB) {
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
		CatalogRoot:    root,
		ScratchDir:     filepath.Join(root, ".scratch"),
		TargetLoudness: -16.0,
		TargetTruePeak: -1.5,
	}
	return NewService(database, analyzer, cfg, zerolog.Nop()), database
}

func writeAudio(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIngestCreatesRow(t *testing.T) {
	stub := &stubAnalyzer{measured: loudness.Measurement{IntegratedLUFS: -16.0, TruePeakDB: -1.5, Duration: 3 * time.Minute}}
	svc, database := newTestService(t, stub)
	dir := t.TempDir()
	src := writeAudio(t, dir, "song.mp3", []byte("fake mp3 bytes"))

	asset, created, err := svc.Ingest(context.Background(), src, models.KindMusic, IngestOptions{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !created {
		t.Error("Ingest() created = false, want true")
	}
	if asset.Title != "song" {
		t.Errorf("synthesized title = %q, want song", asset.Title)
	}
	if asset.LoudnessLUFS == nil || *asset.LoudnessLUFS != -16.0 {
		t.Errorf("LoudnessLUFS = %v, want -16.0", asset.LoudnessLUFS)
	}
	if _, err := os.Stat(asset.Path); err != nil {
		t.Errorf("normalized file missing at %s: %v", asset.Path, err)
	}

	var count int64
	database.Model(&models.Asset{}).Count(&count)
	if count != 1 {
		t.Errorf("asset rows = %d, want 1", count)
	}
}

// Byte-identical files under different names must resolve to the same asset
// and never create a second row.
func TestIngestDeduplicatesByContent(t *testing.T) {
	stub := &stubAnalyzer{measured: loudness.Measurement{IntegratedLUFS: -16.0, Duration: time.Minute}}
	svc, database := newTestService(t, stub)
	dir := t.TempDir()

	content := []byte("identical audio bytes")
	p1 := writeAudio(t, dir, "original.mp3", content)
	p2 := writeAudio(t, dir, "copied-elsewhere.mp3", content)

	first, created, err := svc.Ingest(context.Background(), p1, models.KindMusic, IngestOptions{})
	if err != nil || !created {
		t.Fatalf("first Ingest() = created %v, err %v", created, err)
	}

	second, created, err := svc.Ingest(context.Background(), p2, models.KindMusic, IngestOptions{})
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if created {
		t.Error("second Ingest() created = true, want dedup")
	}
	if second.ID != first.ID {
		t.Errorf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if second.Path != first.Path {
		t.Errorf("dedup returned different path: %s vs %s", first.Path, second.Path)
	}

	var count int64
	database.Model(&models.Asset{}).Count(&count)
	if count != 1 {
		t.Errorf("asset rows = %d, want exactly 1", count)
	}
}

func TestIngestRegisterInPlace(t *testing.T) {
	stub := &stubAnalyzer{measured: loudness.Measurement{IntegratedLUFS: -15.2, TruePeakDB: -2.0, Duration: 90 * time.Second}}
	svc, _ := newTestService(t, stub)
	dir := t.TempDir()
	src := writeAudio(t, dir, "news_current.mp3", []byte("bulletin bytes"))

	asset, created, err := svc.Ingest(context.Background(), src, models.KindBreak, IngestOptions{RegisterInPlace: true})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}

	abs, _ := filepath.Abs(src)
	if asset.Path != abs {
		t.Errorf("in-place path = %s, want %s", asset.Path, abs)
	}
	if *asset.LoudnessLUFS != -15.2 {
		t.Errorf("recorded loudness = %v, want measured -15.2", *asset.LoudnessLUFS)
	}
}

// Measurement failure aborts ingestion with no partial row or file.
func TestIngestMeasurementFailureIsAtomic(t *testing.T) {
	stub := &stubAnalyzer{normalizeErr: loudness.ErrMeasurement, measureErr: loudness.ErrMeasurement}
	svc, database := newTestService(t, stub)
	dir := t.TempDir()
	src := writeAudio(t, dir, "broken.mp3", []byte("unreadable"))

	if _, _, err := svc.Ingest(context.Background(), src, models.KindMusic, IngestOptions{}); !errors.Is(err, loudness.ErrMeasurement) {
		t.Fatalf("Ingest() err = %v, want ErrMeasurement", err)
	}

	var count int64
	database.Model(&models.Asset{}).Count(&count)
	if count != 0 {
		t.Errorf("asset rows after failed ingest = %d, want 0", count)
	}

	entries, err := os.ReadDir(svc.cfg.CatalogRoot)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != ".scratch" {
			t.Errorf("unexpected catalog entry after failed ingest: %s", e.Name())
		}
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	stub := &stubAnalyzer{}
	svc, _ := newTestService(t, stub)
	dir := t.TempDir()
	src := writeAudio(t, dir, "x.mp3", []byte("bytes"))

	if _, _, err := svc.Ingest(context.Background(), src, models.AssetKind("podcast"), IngestOptions{}); !errors.Is(err, models.ErrInvalidKind) {
		t.Errorf("bad kind err = %v, want ErrInvalidKind", err)
	}

	bad := 150
	if _, _, err := svc.Ingest(context.Background(), src, models.KindMusic, IngestOptions{EnergyLevel: &bad}); !errors.Is(err, models.ErrInvalidEnergy) {
		t.Errorf("bad energy err = %v, want ErrInvalidEnergy", err)
	}
}

func TestDeleteAgedBreaks(t *testing.T) {
	stub := &stubAnalyzer{measured: loudness.Measurement{IntegratedLUFS: -16}}
	svc, database := newTestService(t, stub)

	now := time.Now()
	old := models.Asset{ID: "aaa1", Path: "/x/a", Kind: models.KindBreak, CreatedAt: now.Add(-30 * 24 * time.Hour)}
	fresh := models.Asset{ID: "bbb2", Path: "/x/b", Kind: models.KindBreak, CreatedAt: now.Add(-time.Hour)}
	music := models.Asset{ID: "ccc3", Path: "/x/c", Kind: models.KindMusic, CreatedAt: now.Add(-365 * 24 * time.Hour)}
	for _, a := range []models.Asset{old, fresh, music} {
		if err := database.Create(&a).Error; err != nil {
			t.Fatal(err)
		}
	}

	n, err := svc.DeleteAgedBreaks(context.Background(), now, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteAgedBreaks() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	// Music is immutable regardless of age.
	if _, err := svc.ByID(context.Background(), "ccc3"); err != nil {
		t.Errorf("music asset deleted: %v", err)
	}
	if _, err := svc.ByID(context.Background(), "aaa1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("aged break still present: err = %v", err)
	}
}

func TestIngestSlotRewriteReassignsPath(t *testing.T) {
	stub := &stubAnalyzer{measured: loudness.Measurement{IntegratedLUFS: -16, Duration: 90 * time.Second}}
	svc, _ := newTestService(t, stub)

	dir := t.TempDir()
	slot := writeAudio(t, dir, "current.mp3", []byte("monday bulletin"))

	first, _, err := svc.Ingest(context.Background(), slot, models.KindBreak, IngestOptions{RegisterInPlace: true})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// The producer rewrites the slot with the next bulletin.
	if err := os.WriteFile(slot, []byte("tuesday bulletin"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, created, err := svc.Ingest(context.Background(), slot, models.KindBreak, IngestOptions{RegisterInPlace: true})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !created {
		t.Fatal("rewritten slot content was not cataloged as a new asset")
	}

	resolved, err := svc.ByPath(context.Background(), slot)
	if err != nil {
		t.Fatalf("ByPath after rewrite: %v", err)
	}
	if resolved.ID != second.ID {
		t.Errorf("slot resolves to %s, want current generation %s", resolved.ID, second.ID)
	}

	prior, err := svc.ByID(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("prior generation row vanished: %v", err)
	}
	if prior.Path != "" {
		t.Errorf("prior generation still claims path %q", prior.Path)
	}
}

func TestIngestSlotRevertReclaimsPath(t *testing.T) {
	stub := &stubAnalyzer{measured: loudness.Measurement{IntegratedLUFS: -16}}
	svc, _ := newTestService(t, stub)

	dir := t.TempDir()
	slot := writeAudio(t, dir, "current.mp3", []byte("monday bulletin"))

	first, _, err := svc.Ingest(context.Background(), slot, models.KindBreak, IngestOptions{RegisterInPlace: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(slot, []byte("tuesday bulletin"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, _, err := svc.Ingest(context.Background(), slot, models.KindBreak, IngestOptions{RegisterInPlace: true})
	if err != nil {
		t.Fatal(err)
	}

	// The producer restores the earlier bulletin into the slot; dedup
	// returns the known asset and the path follows the bytes back.
	if err := os.WriteFile(slot, []byte("monday bulletin"), 0o644); err != nil {
		t.Fatal(err)
	}
	reverted, created, err := svc.Ingest(context.Background(), slot, models.KindBreak, IngestOptions{RegisterInPlace: true})
	if err != nil {
		t.Fatal(err)
	}
	if created || reverted.ID != first.ID {
		t.Fatalf("revert ingested id %s (created=%v), want dedup to %s", reverted.ID, created, first.ID)
	}
	if reverted.Path != slot {
		t.Errorf("reverted asset path = %q, want %q", reverted.Path, slot)
	}

	displaced, err := svc.ByID(context.Background(), second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if displaced.Path != "" {
		t.Errorf("displaced generation still claims path %q", displaced.Path)
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_playout/internal/config"
	"github.com/friendsincode/skald_playout/internal/loudness"
	"github.com/friendsincode/skald_playout/internal/models"
)

// ErrNotFound indicates no catalog row matched the lookup.
var ErrNotFound = errors.New("asset not found")

// Service is the content-addressable asset catalog. Identity is the sha256
// of the source bytes; ingestion deduplicates by hash lookup before any
// transcoding work.
type Service struct {
	db       *gorm.DB
	analyzer loudness.Analyzer
	cfg      *config.Config
	logger   zerolog.Logger
}

// NewService creates the catalog service.
func NewService(database *gorm.DB, analyzer loudness.Analyzer, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		db:       database,
		analyzer: analyzer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "catalog").Logger(),
	}
}

// IngestOptions control one ingestion.
type IngestOptions struct {
	// RegisterInPlace skips normalization and catalogs the file where it
	// sits. Used for bulletins produced at final loudness in the rotation
	// slots, whose paths must stay stable.
	RegisterInPlace bool

	Title       string // synthesized from the filename when empty
	Artist      string
	Album       string
	EnergyLevel *int // optional 0-100
}

// Ingest admits a finished audio file into the catalog. The returned bool
// is true when a new row was created; byte-identical content returns the
// existing row untouched regardless of the file's name or location.
// Ingestion is all-or-nothing: on error no row and no managed file remain.
func (s *Service) Ingest(ctx context.Context, sourceFile string, kind models.AssetKind, opts IngestOptions) (*models.Asset, bool, error) {
	if _, err := models.ParseKind(string(kind)); err != nil {
		return nil, false, err
	}
	if opts.EnergyLevel != nil {
		if err := models.ValidateEnergy(*opts.EnergyLevel); err != nil {
			return nil, false, err
		}
	}

	id, err := hashFile(sourceFile)
	if err != nil {
		return nil, false, fmt.Errorf("hash %s: %w", sourceFile, err)
	}

	// Dedup by content id before spending any ffmpeg time.
	var existing models.Asset
	err = s.db.WithContext(ctx).First(&existing, "id = ?", id).Error
	if err == nil {
		if opts.RegisterInPlace {
			// A rotation slot may have been rewritten back to content we
			// already know; the path must follow the bytes.
			abs, aerr := filepath.Abs(sourceFile)
			if aerr != nil {
				return nil, false, fmt.Errorf("resolve %s: %w", sourceFile, aerr)
			}
			if cerr := s.claimPath(ctx, &existing, abs); cerr != nil {
				return nil, false, cerr
			}
		}
		s.logger.Debug().Str("asset_id", shortID(id)).Str("source", sourceFile).Msg("duplicate content, returning existing asset")
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("catalog lookup: %w", err)
	}

	var (
		finalPath string
		measured  loudness.Measurement
		ownsFile  bool // true when we wrote a managed file that needs cleanup on failure
	)

	if opts.RegisterInPlace {
		finalPath, err = filepath.Abs(sourceFile)
		if err != nil {
			return nil, false, fmt.Errorf("resolve %s: %w", sourceFile, err)
		}
		measured, err = s.analyzer.Measure(ctx, finalPath)
		if err != nil {
			return nil, false, err
		}
	} else {
		finalPath, measured, err = s.normalizeIntoCatalog(ctx, sourceFile, id)
		if err != nil {
			return nil, false, err
		}
		ownsFile = true
	}

	asset := models.Asset{
		ID:           id,
		Path:         finalPath,
		Kind:         kind,
		Duration:     measured.Duration,
		LoudnessLUFS: &measured.IntegratedLUFS,
		TruePeakDB:   &measured.TruePeakDB,
		EnergyLevel:  opts.EnergyLevel,
		Title:        synthesizeTitle(opts.Title, sourceFile),
		Artist:       opts.Artist,
		Album:        opts.Album,
	}

	if err := s.db.WithContext(ctx).Create(&asset).Error; err != nil {
		// An overlapping invocation may have ingested the same bytes
		// between our lookup and insert; the primary key keeps that safe.
		var raced models.Asset
		if ferr := s.db.WithContext(ctx).First(&raced, "id = ?", id).Error; ferr == nil {
			if ownsFile && raced.Path != finalPath {
				os.Remove(finalPath)
			}
			return &raced, false, nil
		}
		if ownsFile {
			os.Remove(finalPath)
		}
		return nil, false, fmt.Errorf("insert asset: %w", err)
	}

	if opts.RegisterInPlace {
		// In-place paths are reused slots; any prior generation's row must
		// stop claiming a file it no longer describes.
		if cerr := s.claimPath(ctx, &asset, finalPath); cerr != nil {
			return nil, false, cerr
		}
	}

	s.logger.Info().
		Str("asset_id", shortID(id)).
		Str("kind", string(kind)).
		Str("path", finalPath).
		Float64("loudness_lufs", measured.IntegratedLUFS).
		Dur("duration", measured.Duration).
		Bool("in_place", opts.RegisterInPlace).
		Msg("asset ingested")

	return &asset, true, nil
}

// normalizeIntoCatalog writes the loudness-normalized rendition under a
// private scratch name and renames it into the managed tree only once the
// normalization succeeded, so a failure never leaves a partial file.
func (s *Service) normalizeIntoCatalog(ctx context.Context, sourceFile, id string) (string, loudness.Measurement, error) {
	ext := filepath.Ext(sourceFile)
	if ext == "" {
		ext = ".mp3"
	}

	if err := os.MkdirAll(s.cfg.ScratchDir, 0o755); err != nil {
		return "", loudness.Measurement{}, fmt.Errorf("create scratch dir: %w", err)
	}
	scratch := filepath.Join(s.cfg.ScratchDir, uuid.NewString()+ext)

	measured, err := s.analyzer.Normalize(ctx, sourceFile, scratch, s.cfg.TargetLoudness, s.cfg.TargetTruePeak)
	if err != nil {
		os.Remove(scratch)
		return "", loudness.Measurement{}, err
	}

	dest := s.AssetPath(id, ext)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		os.Remove(scratch)
		return "", loudness.Measurement{}, fmt.Errorf("create catalog dir: %w", err)
	}
	if err := os.Rename(scratch, dest); err != nil {
		os.Remove(scratch)
		return "", loudness.Measurement{}, fmt.Errorf("move into catalog: %w", err)
	}

	return dest, measured, nil
}

// AssetPath returns the managed location for a content id. The two-level
// fan-out keeps directory sizes bounded.
func (s *Service) AssetPath(id, ext string) string {
	if len(id) < 4 {
		return filepath.Join(s.cfg.CatalogRoot, id+ext)
	}
	return filepath.Join(s.cfg.CatalogRoot, id[0:2], id[2:4], id+ext)
}

// claimPath makes path resolve to the asset whose bytes the file now
// holds. Older rows still pointing at the path lose it, keeping the
// path-to-asset mapping unambiguous across rotation slot rewrites; assets
// whose managed file still exists elsewhere keep their own path.
func (s *Service) claimPath(ctx context.Context, asset *models.Asset, path string) error {
	err := s.db.WithContext(ctx).Model(&models.Asset{}).
		Where("path = ?", path).
		Where("id <> ?", asset.ID).
		Update("path", "").Error
	if err != nil {
		return fmt.Errorf("release path %s: %w", path, err)
	}

	if asset.Path == "" {
		if err := s.db.WithContext(ctx).Model(asset).Update("path", path).Error; err != nil {
			return fmt.Errorf("claim path %s: %w", path, err)
		}
		asset.Path = path
	}
	return nil
}

// ByID fetches one asset by content id.
func (s *Service) ByID(ctx context.Context, id string) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).First(&asset, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, shortID(id))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	return &asset, nil
}

// ByPath fetches one asset by its cataloged file path.
func (s *Service) ByPath(ctx context.Context, path string) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).First(&asset, "path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: path %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	return &asset, nil
}

// ByKind returns all playable assets of one kind, oldest first. Orphan
// markers carry no path and are skipped.
func (s *Service) ByKind(ctx context.Context, kind models.AssetKind) ([]models.Asset, error) {
	var assets []models.Asset
	err := s.db.WithContext(ctx).
		Where("kind = ?", kind).
		Where("path <> ''").
		Order("created_at ASC").
		Find(&assets).Error
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	return assets, nil
}

// DeleteAgedBreaks removes bulletin-kind rows older than maxAge. This is
// the only permitted catalog delete: bulletins go stale, everything else is
// immutable.
func (s *Service) DeleteAgedBreaks(ctx context.Context, now time.Time, maxAge time.Duration) (int64, error) {
	cutoff := now.Add(-maxAge)
	res := s.db.WithContext(ctx).
		Where("kind = ?", models.KindBreak).
		Where("created_at < ?", cutoff).
		Delete(&models.Asset{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete aged breaks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info().Int64("count", res.RowsAffected).Time("cutoff", cutoff).Msg("reaped aged bulletin assets")
	}
	return res.RowsAffected, nil
}

// HashFile computes the content identity of a file: sha256 over the full
// byte stream, hex encoded.
func HashFile(path string) (string, error) {
	return hashFile(path)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func synthesizeTitle(title, sourceFile string) string {
	if title != "" {
		return title
	}
	base := strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile))
	return strings.ReplaceAll(strings.ReplaceAll(base, "_", " "), "-", " ")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_playout/internal/models"
)

// Ledger is the append-only record of what played and when. Entries are
// never updated; deletion happens only through the retention policy.
type Ledger struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a ledger over the shared database.
func New(database *gorm.DB, logger zerolog.Logger) *Ledger {
	return &Ledger{
		db:     database,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Record appends one play fact. sourceKind is denormalized from the asset
// at play time so history survives later asset deletion.
func (l *Ledger) Record(ctx context.Context, assetID string, sourceKind models.AssetKind, playedAt time.Time) error {
	entry := models.PlayHistory{
		AssetID:    assetID,
		PlayedAt:   playedAt,
		SourceKind: sourceKind,
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("record play: %w", err)
	}

	l.logger.Info().
		Str("asset_id", assetID).
		Str("source_kind", string(sourceKind)).
		Time("played_at", playedAt).
		Msg("play recorded")
	return nil
}

// Window returns the set of asset ids played within the trailing duration
// ending at now. This is the anti-repetition exclusion set; it is derived
// on demand and never persisted.
func (l *Ledger) Window(ctx context.Context, now time.Time, trailing time.Duration) (map[string]struct{}, error) {
	cutoff := now.Add(-trailing)

	var ids []string
	err := l.db.WithContext(ctx).
		Model(&models.PlayHistory{}).
		Where("played_at >= ?", cutoff).
		Distinct().
		Pluck("asset_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("selection window: %w", err)
	}

	window := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		window[id] = struct{}{}
	}
	return window, nil
}

// ResolvedPlay pairs a history entry with its asset when the asset still
// exists. Asset is nil for entries referencing deleted content; that is
// expected, not an error.
type ResolvedPlay struct {
	Entry models.PlayHistory
	Asset *models.Asset
}

// Recent returns the latest entries, newest first, with left-join asset
// resolution.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]ResolvedPlay, error) {
	var entries []models.PlayHistory
	err := l.db.WithContext(ctx).
		Order("played_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("recent plays: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.AssetID)
	}

	var assets []models.Asset
	if err := l.db.WithContext(ctx).Where("id IN ?", ids).Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("resolve assets: %w", err)
	}
	byID := make(map[string]*models.Asset, len(assets))
	for i := range assets {
		byID[assets[i].ID] = &assets[i]
	}

	resolved := make([]ResolvedPlay, 0, len(entries))
	for _, e := range entries {
		resolved = append(resolved, ResolvedPlay{Entry: e, Asset: byID[e.AssetID]})
	}
	return resolved, nil
}

// Prune applies the retention policy, deleting entries older than the
// retention duration.
func (l *Ledger) Prune(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	cutoff := now.Add(-retention)
	res := l.db.WithContext(ctx).
		Where("played_at < ?", cutoff).
		Delete(&models.PlayHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune history: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		l.logger.Info().Int64("count", res.RowsAffected).Time("cutoff", cutoff).Msg("history entries pruned")
	}
	return res.RowsAffected, nil
}

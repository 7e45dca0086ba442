/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package selector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_playout/internal/ledger"
	"github.com/friendsincode/skald_playout/internal/models"
)

// ErrInvalidPattern indicates an unknown energy flow pattern name.
var ErrInvalidPattern = errors.New("invalid energy pattern")

// Pattern names an energy flow shape mapping queue position to a band.
type Pattern string

const (
	PatternWave       Pattern = "wave"       // medium, high, medium, low, cyclic
	PatternAscending  Pattern = "ascending"  // low, medium, high, cyclic
	PatternDescending Pattern = "descending" // high, medium, low, cyclic
	PatternMixed      Pattern = "mixed"      // uniform random band per position
)

// ParsePattern validates a pattern name.
func ParsePattern(s string) (Pattern, error) {
	p := Pattern(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PatternWave, PatternAscending, PatternDescending, PatternMixed:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPattern, s)
}

var (
	waveBands       = []models.EnergyBand{models.BandMedium, models.BandHigh, models.BandMedium, models.BandLow}
	ascendingBands  = []models.EnergyBand{models.BandLow, models.BandMedium, models.BandHigh}
	descendingBands = []models.EnergyBand{models.BandHigh, models.BandMedium, models.BandLow}
	randomBands     = []models.EnergyBand{models.BandLow, models.BandMedium, models.BandHigh}
)

func bandAt(pattern Pattern, pos int, rng *rand.Rand) models.EnergyBand {
	switch pattern {
	case PatternWave:
		return waveBands[pos%len(waveBands)]
	case PatternAscending:
		return ascendingBands[pos%len(ascendingBands)]
	case PatternDescending:
		return descendingBands[pos%len(descendingBands)]
	default:
		return randomBands[rng.Intn(len(randomBands))]
	}
}

// Selector chooses continuous-music assets for the queue. Anti-repetition
// is enforced purely by exclusion; within the eligible set the pick is
// uniform random, which keeps the behavior easy to reason about and test.
type Selector struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	window time.Duration
	logger zerolog.Logger
}

// New creates a selector. window is the trailing anti-repetition span.
func New(database *gorm.DB, hist *ledger.Ledger, window time.Duration, logger zerolog.Logger) *Selector {
	return &Selector{
		db:     database,
		ledger: hist,
		window: window,
		logger: logger.With().Str("component", "selector").Logger(),
	}
}

// Select returns up to n music assets following the pattern. Assets played
// within the trailing window are excluded, as is anything already chosen in
// this call. When a band runs dry the band filter is dropped before the
// history filter; when even that yields nothing the result is short rather
// than an error.
func (s *Selector) Select(ctx context.Context, now time.Time, n int, pattern Pattern, seed int64) ([]models.Asset, error) {
	if n <= 0 {
		return nil, nil
	}
	if _, err := ParsePattern(string(pattern)); err != nil {
		return nil, err
	}

	exclude, err := s.ledger.Window(ctx, now, s.window)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	picked := make([]models.Asset, 0, n)

	for pos := 0; pos < n; pos++ {
		band := bandAt(pattern, pos, rng)

		asset, ok, err := s.pickOne(ctx, band, exclude, rng)
		if err != nil {
			return nil, err
		}
		if !ok && band != models.BandAny {
			// Widen: keep the history exclusion, drop the band filter.
			asset, ok, err = s.pickOne(ctx, models.BandAny, exclude, rng)
			if err != nil {
				return nil, err
			}
		}
		if !ok {
			s.logger.Warn().
				Int("requested", n).
				Int("selected", len(picked)).
				Str("pattern", string(pattern)).
				Msg("selection underflow, returning short")
			break
		}

		picked = append(picked, *asset)
		exclude[asset.ID] = struct{}{}
	}

	return picked, nil
}

func (s *Selector) pickOne(ctx context.Context, band models.EnergyBand, exclude map[string]struct{}, rng *rand.Rand) (*models.Asset, bool, error) {
	// Orphan markers from reconciliation have no file behind them.
	query := s.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("kind = ?", models.KindMusic).
		Where("path <> ''")

	if band != models.BandAny {
		min, max := models.BandBounds(band)
		query = query.Where("energy_level IS NOT NULL").
			Where("energy_level >= ?", min).
			Where("energy_level <= ?", max)
	}

	if len(exclude) > 0 {
		ids := make([]string, 0, len(exclude))
		for id := range exclude {
			ids = append(ids, id)
		}
		query = query.Where("id NOT IN ?", ids)
	}

	var candidates []models.Asset
	if err := query.Find(&candidates).Error; err != nil {
		return nil, false, fmt.Errorf("candidate query: %w", err)
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}

	pick := candidates[rng.Intn(len(candidates))]
	return &pick, true, nil
}

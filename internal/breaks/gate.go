/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package breaks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_playout/internal/config"
)

var (
	// ErrStale indicates every bulletin candidate is older than the
	// freshness threshold. This is a hard rejection: airing stale content
	// would mask an upstream producer failure, so the caller must exit
	// non-zero instead of substituting.
	ErrStale = errors.New("bulletin content is stale")

	// ErrNoCandidate indicates no bulletin file exists in either rotation
	// slot.
	ErrNoCandidate = errors.New("no bulletin candidate available")
)

// Rotation slot filenames under the bulletin directory. Producers write the
// new bulletin to the current slot and move the prior one to previous, so a
// failed regeneration still leaves a fallback candidate.
const (
	CurrentSlot  = "current.mp3"
	PreviousSlot = "previous.mp3"
)

// Gate decides whether a pending bulletin is fresh enough to air and
// whether the current time calls for scheduling one.
type Gate struct {
	bulletinDir string
	flagPath    string
	threshold   time.Duration
	windowStart int
	windowEnd   int
	logger      zerolog.Logger
}

// NewGate creates a freshness gate from configuration.
func NewGate(cfg *config.Config, logger zerolog.Logger) *Gate {
	return &Gate{
		bulletinDir: cfg.BulletinDir,
		flagPath:    cfg.ForceBreakFlag,
		threshold:   cfg.BreakStaleThreshold,
		windowStart: cfg.BreakWindowStartMin,
		windowEnd:   cfg.BreakWindowEndMin,
		logger:      logger.With().Str("component", "break_gate").Logger(),
	}
}

// IsStale reports whether the file at path is older than the threshold.
// Age comes from the file's modification time, not from anything encoded in
// the name; whatever copies bulletins around must preserve mtime. Age
// exactly equal to the threshold is still fresh.
func (g *Gate) IsStale(path string, now time.Time) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat bulletin %s: %w", path, err)
	}

	age := now.Sub(info.ModTime())
	return age > g.threshold, nil
}

// InWindow reports whether now falls inside the scheduling window. The
// lower bound is inclusive: minute >= start. Outside the window scheduling
// is a no-op even when fresh content exists, which keeps an every-minute
// scheduler from double-inserting.
func (g *Gate) InWindow(now time.Time) bool {
	minute := now.Minute()
	return minute >= g.windowStart && minute <= g.windowEnd
}

// Candidate resolves the bulletin to air through the two-slot rotation:
// the current slot if fresh, else the previous-good slot if fresh. A slot
// that exists but fails the freshness check is never silently substituted.
func (g *Gate) Candidate(now time.Time) (string, error) {
	current := filepath.Join(g.bulletinDir, CurrentSlot)
	previous := filepath.Join(g.bulletinDir, PreviousSlot)

	sawStale := false
	for i, path := range []string{current, previous} {
		stale, err := g.IsStale(path, now)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", err
		}
		if stale {
			g.logger.Warn().Str("slot", path).Dur("threshold", g.threshold).Msg("bulletin slot is stale")
			sawStale = true
			continue
		}
		if i > 0 {
			g.logger.Warn().Str("slot", path).Msg("current bulletin unusable, using previous-good slot")
		}
		return path, nil
	}

	if sawStale {
		return "", fmt.Errorf("%w: threshold %s, dir %s", ErrStale, g.threshold, g.bulletinDir)
	}
	return "", fmt.Errorf("%w: dir %s", ErrNoCandidate, g.bulletinDir)
}

// ForceRequested reports whether the operator flag file is present. The
// flag's mere existence requests an immediate forced break.
func (g *Gate) ForceRequested() bool {
	_, err := os.Stat(g.flagPath)
	return err == nil
}

// ConsumeForce removes the operator flag. Called exactly once, after the
// forced break was successfully pushed.
func (g *Gate) ConsumeForce() error {
	if err := os.Remove(g.flagPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("consume force flag: %w", err)
	}
	g.logger.Info().Str("flag", g.flagPath).Msg("force-break flag consumed")
	return nil
}

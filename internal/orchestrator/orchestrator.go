/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_playout/internal/breaks"
	"github.com/friendsincode/skald_playout/internal/catalog"
	"github.com/friendsincode/skald_playout/internal/config"
	"github.com/friendsincode/skald_playout/internal/engine"
	"github.com/friendsincode/skald_playout/internal/ledger"
	"github.com/friendsincode/skald_playout/internal/models"
	"github.com/friendsincode/skald_playout/internal/selector"
	"github.com/friendsincode/skald_playout/internal/telemetry"
)

// EngineClient is the slice of the control protocol the orchestrator uses.
type EngineClient interface {
	Push(ctx context.Context, queue engine.Queue, assetPath string) error
	QueueLength(ctx context.Context, queue engine.Queue) (int, error)
}

// Orchestrator owns the priority/fallback model and the push protocol
// toward the external engine. It holds no state of its own: every cycle is
// one short-lived unit of work, and correctness under overlapping
// invocations comes from idempotent checks, not locks.
type Orchestrator struct {
	cfg      *config.Config
	catalog  *catalog.Service
	ledger   *ledger.Ledger
	selector *selector.Selector
	gate     *breaks.Gate
	engine   EngineClient
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

// New wires the orchestrator from its collaborators.
func New(cfg *config.Config, cat *catalog.Service, hist *ledger.Ledger, sel *selector.Selector, gate *breaks.Gate, eng EngineClient, metrics *telemetry.Metrics, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		catalog:  cat,
		ledger:   hist,
		selector: sel,
		gate:     gate,
		engine:   eng,
		metrics:  metrics,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// RefillMusic tops up the continuous queue. Depth below the low-water mark
// triggers a refill up to the high-water mark; anything else is a no-op, so
// the queue neither starves nor grows without bound.
func (o *Orchestrator) RefillMusic(ctx context.Context, now time.Time) error {
	depth, err := o.engine.QueueLength(ctx, engine.QueueMusic)
	if err != nil {
		return fmt.Errorf("music queue depth: %w", err)
	}
	if depth >= o.cfg.QueueLowWater {
		o.logger.Debug().Int("depth", depth).Int("low_water", o.cfg.QueueLowWater).Msg("music queue above low water, nothing to do")
		return nil
	}

	pattern, err := selector.ParsePattern(o.cfg.MusicPattern)
	if err != nil {
		return err
	}

	want := o.cfg.QueueHighWater - depth
	tracks, err := o.selector.Select(ctx, now, want, pattern, now.UnixNano())
	if err != nil {
		return fmt.Errorf("select tracks: %w", err)
	}
	if len(tracks) < want {
		o.metrics.SelectionUnderflows.Inc()
	}
	if len(tracks) == 0 {
		// The fallback chain keeps audio on air; an empty selection is
		// alert-worthy but not a push failure.
		o.logger.Warn().Int("wanted", want).Msg("no eligible tracks, music queue left to fallback chain")
		return nil
	}

	for _, track := range tracks {
		if err := o.engine.Push(ctx, engine.QueueMusic, track.Path); err != nil {
			return fmt.Errorf("push %s: %w", track.ID, err)
		}
		o.metrics.PushesTotal.WithLabelValues(string(engine.QueueMusic)).Inc()
	}

	o.logger.Info().
		Int("depth_before", depth).
		Int("pushed", len(tracks)).
		Str("pattern", o.cfg.MusicPattern).
		Msg("music queue refilled")
	return nil
}

// RefillBumpers keeps the short-filler queue stocked with random bumpers.
func (o *Orchestrator) RefillBumpers(ctx context.Context, now time.Time) error {
	depth, err := o.engine.QueueLength(ctx, engine.QueueBumper)
	if err != nil {
		return fmt.Errorf("bumper queue depth: %w", err)
	}
	if depth >= o.cfg.QueueLowWater {
		return nil
	}

	pushed, err := o.pushRandomOfKind(ctx, engine.QueueBumper, models.KindBumper, o.cfg.QueueHighWater-depth, now)
	if err != nil {
		return err
	}
	if pushed > 0 {
		o.logger.Info().Int("pushed", pushed).Msg("bumper queue refilled")
	}
	return nil
}

// EnsureSafety keeps the two bottom rungs of the priority chain loaded.
// The safety loop is the liveness guarantee; finding it empty with nothing
// to push is an operator-visible failure.
func (o *Orchestrator) EnsureSafety(ctx context.Context, now time.Time) error {
	fallbackDepth, err := o.engine.QueueLength(ctx, engine.QueueFallback)
	if err != nil {
		return fmt.Errorf("fallback queue depth: %w", err)
	}
	if fallbackDepth == 0 {
		if _, err := o.pushRandomOfKind(ctx, engine.QueueFallback, models.KindMusic, o.cfg.QueueLowWater, now); err != nil {
			return err
		}
	}

	safetyDepth, err := o.engine.QueueLength(ctx, engine.QueueSafety)
	if err != nil {
		return fmt.Errorf("safety queue depth: %w", err)
	}
	if safetyDepth > 0 {
		return nil
	}

	pushed, err := o.pushRandomOfKind(ctx, engine.QueueSafety, models.KindSafety, o.cfg.QueueLowWater, now)
	if err != nil {
		return err
	}
	if pushed == 0 {
		return fmt.Errorf("safety queue empty and no safety assets cataloged")
	}
	o.logger.Info().Int("pushed", pushed).Msg("safety loop replenished")
	return nil
}

func (o *Orchestrator) pushRandomOfKind(ctx context.Context, queue engine.Queue, kind models.AssetKind, n int, now time.Time) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	assets, err := o.catalog.ByKind(ctx, kind)
	if err != nil {
		return 0, err
	}
	if len(assets) == 0 {
		o.logger.Warn().Str("kind", string(kind)).Str("queue", string(queue)).Msg("no assets of kind to push")
		return 0, nil
	}

	rng := rand.New(rand.NewSource(now.UnixNano()))
	rng.Shuffle(len(assets), func(i, j int) { assets[i], assets[j] = assets[j], assets[i] })
	if n > len(assets) {
		n = len(assets)
	}

	for _, asset := range assets[:n] {
		if err := o.engine.Push(ctx, queue, asset.Path); err != nil {
			return 0, fmt.Errorf("push %s: %w", asset.ID, err)
		}
		o.metrics.PushesTotal.WithLabelValues(string(queue)).Inc()
	}
	return n, nil
}

// ScheduleBreak runs one bulletin scheduling cycle. An operator force flag
// bypasses the time window but never the freshness gate; the flag is
// consumed only once the break is actually queued. Outside the window the
// cycle is a no-op, which makes an every-minute scheduler safe against
// double insertion.
func (o *Orchestrator) ScheduleBreak(ctx context.Context, now time.Time) error {
	forced := o.gate.ForceRequested()
	if !forced && !o.gate.InWindow(now) {
		o.logger.Debug().Int("minute", now.Minute()).Msg("outside scheduling window, nothing to do")
		return nil
	}

	queue := engine.QueueBreak
	if forced {
		queue = engine.QueueBreakForced
	}

	depth, err := o.engine.QueueLength(ctx, queue)
	if err != nil {
		return fmt.Errorf("break queue depth: %w", err)
	}
	if depth > 0 {
		// Already queued by an earlier overlapping invocation. A forced
		// request is thereby honored, so the flag still gets consumed.
		o.logger.Debug().Str("queue", string(queue)).Int("depth", depth).Msg("break already queued")
		if forced {
			return o.gate.ConsumeForce()
		}
		return nil
	}

	candidate, err := o.gate.Candidate(now)
	if err != nil {
		if errors.Is(err, breaks.ErrStale) {
			o.metrics.StaleRejections.Inc()
		}
		return err
	}

	asset, created, err := o.catalog.Ingest(ctx, candidate, models.KindBreak, catalog.IngestOptions{RegisterInPlace: true})
	if err != nil {
		return fmt.Errorf("ingest bulletin: %w", err)
	}
	o.metrics.IngestsTotal.WithLabelValues(ingestOutcome(created)).Inc()

	if err := o.engine.Push(ctx, queue, asset.Path); err != nil {
		return fmt.Errorf("push bulletin: %w", err)
	}
	o.metrics.PushesTotal.WithLabelValues(string(queue)).Inc()

	if forced {
		if err := o.gate.ConsumeForce(); err != nil {
			return err
		}
	}

	o.logger.Info().
		Str("queue", string(queue)).
		Str("asset_id", asset.ID).
		Bool("forced", forced).
		Msg("bulletin scheduled")
	return nil
}

// RecordPlay is the engine's completion callback: resolve the played path
// to its catalog entry and append the ledger fact.
func (o *Orchestrator) RecordPlay(ctx context.Context, playedPath string, now time.Time) error {
	abs, err := filepath.Abs(playedPath)
	if err != nil {
		return fmt.Errorf("resolve played path: %w", err)
	}

	asset, err := o.catalog.ByPath(ctx, abs)
	if errors.Is(err, catalog.ErrNotFound) {
		// The engine may report a path the catalog knows under another
		// location (bulletin slots get rewritten); fall back to content
		// identity.
		id, herr := catalog.HashFile(abs)
		if herr != nil {
			return fmt.Errorf("played path not cataloged and unreadable: %w", herr)
		}
		asset, err = o.catalog.ByID(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("resolve played asset %s: %w", playedPath, err)
	}

	return o.ledger.Record(ctx, asset.ID, asset.Kind, now)
}

// Status reports the depth of every queue in the priority chain. A depth
// of -1 means the engine could not determine it.
func (o *Orchestrator) Status(ctx context.Context) (map[engine.Queue]int, error) {
	depths := make(map[engine.Queue]int, len(engine.PriorityChain()))
	for _, queue := range engine.PriorityChain() {
		depth, err := o.engine.QueueLength(ctx, queue)
		if errors.Is(err, engine.ErrUnknownLength) {
			depths[queue] = -1
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("depth of %s: %w", queue, err)
		}
		depths[queue] = depth
	}
	return depths, nil
}

func ingestOutcome(created bool) string {
	if created {
		return "created"
	}
	return "deduplicated"
}

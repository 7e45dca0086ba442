/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
)

// Metrics collects counters for one invocation and flushes them in
// Prometheus exposition format to a node_exporter textfile-collector path.
// A short-lived cron process has no HTTP surface to scrape, so the
// textfile is the handoff.
type Metrics struct {
	registry *prometheus.Registry
	path     string
	logger   zerolog.Logger

	PushesTotal         *prometheus.CounterVec
	IngestsTotal        *prometheus.CounterVec
	SelectionUnderflows prometheus.Counter
	StaleRejections     prometheus.Counter
	LastRunTimestamp    prometheus.Gauge
}

// New creates a metrics set. An empty path disables flushing.
func New(path string, logger zerolog.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		path:     path,
		logger:   logger.With().Str("component", "telemetry").Logger(),
		PushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skald_queue_pushes_total",
			Help: "Assets pushed to engine queues, by queue.",
		}, []string{"queue"}),
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skald_catalog_ingests_total",
			Help: "Catalog ingestions, by outcome (created, deduplicated).",
		}, []string{"outcome"}),
		SelectionUnderflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skald_selection_underflows_total",
			Help: "Selection calls that returned fewer tracks than requested.",
		}),
		StaleRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skald_break_stale_rejections_total",
			Help: "Bulletin candidates rejected as stale.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skald_last_run_timestamp_seconds",
			Help: "Unix time of the last completed invocation.",
		}),
	}

	m.registry.MustRegister(
		m.PushesTotal,
		m.IngestsTotal,
		m.SelectionUnderflows,
		m.StaleRejections,
		m.LastRunTimestamp,
	)
	return m
}

// Flush writes the gathered metrics atomically to the textfile path.
func (m *Metrics) Flush() error {
	if m.path == "" {
		return nil
	}

	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create metrics textfile: %w", err)
	}

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(f, family); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close metrics textfile: %w", err)
	}

	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish metrics textfile: %w", err)
	}

	m.logger.Debug().Str("path", filepath.Clean(m.path)).Msg("metrics textfile written")
	return nil
}

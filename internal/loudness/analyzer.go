/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package loudness

import (
	"context"
	"errors"
	"time"
)

// ErrMeasurement indicates loudness measurement or normalization failed.
// Ingestion treats this as fatal: no asset is cataloged without a
// measurement.
var ErrMeasurement = errors.New("loudness measurement failed")

// Measurement is the EBU R128 summary for one audio file.
type Measurement struct {
	IntegratedLUFS float64
	TruePeakDB     float64
	Duration       time.Duration
}

// Analyzer measures and normalizes program loudness. The catalog depends on
// this interface so tests can substitute a stub for the ffmpeg binary.
type Analyzer interface {
	// Measure returns the integrated loudness, true peak, and duration of
	// the file at path without modifying it.
	Measure(ctx context.Context, path string) (Measurement, error)

	// Normalize writes a copy of src to dst at the target integrated
	// loudness and true-peak ceiling, returning the measurement of the
	// written file. dst must not exist; on error no file is left at dst.
	Normalize(ctx context.Context, src, dst string, targetLUFS, targetTP float64) (Measurement, error)
}

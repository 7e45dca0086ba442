/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package loudness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FFmpegAnalyzer implements Analyzer by shelling out to ffmpeg/ffprobe.
type FFmpegAnalyzer struct {
	ffmpegBin  string
	ffprobeBin string
	logger     zerolog.Logger
}

// NewFFmpegAnalyzer creates an analyzer using the given binaries.
func NewFFmpegAnalyzer(ffmpegBin, ffprobeBin string, logger zerolog.Logger) *FFmpegAnalyzer {
	return &FFmpegAnalyzer{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		logger:     logger.With().Str("component", "loudness").Logger(),
	}
}

var (
	integratedRegex = regexp.MustCompile(`I:\s*([-0-9.]+)\s*LUFS`)
	truePeakRegex   = regexp.MustCompile(`Peak:\s*([-0-9.]+)\s*dBFS`)
)

// Measure runs an ebur128 analysis pass and an ffprobe duration query.
func (a *FFmpegAnalyzer) Measure(ctx context.Context, path string) (Measurement, error) {
	cmd := exec.CommandContext(ctx, a.ffmpegBin,
		"-hide_banner",
		"-i", path,
		"-af", "ebur128=peak=true",
		"-f", "null", "-",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: ebur128 pass on %s: %v", ErrMeasurement, path, err)
	}

	m, err := parseEBUR128(string(output))
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: %s: %v", ErrMeasurement, path, err)
	}

	m.Duration, err = a.probeDuration(ctx, path)
	if err != nil {
		return Measurement{}, err
	}
	return m, nil
}

// parseEBUR128 extracts the summary block values from ffmpeg stderr.
// Format: "Integrated loudness: I: -14.5 LUFS" / "True peak: Peak: -1.0 dBFS".
func parseEBUR128(output string) (Measurement, error) {
	var m Measurement

	matches := integratedRegex.FindStringSubmatch(output)
	if matches == nil {
		return m, fmt.Errorf("no integrated loudness in ffmpeg output")
	}
	lufs, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return m, fmt.Errorf("parse integrated loudness %q: %v", matches[1], err)
	}
	m.IntegratedLUFS = lufs

	if matches := truePeakRegex.FindStringSubmatch(output); matches != nil {
		if peak, err := strconv.ParseFloat(matches[1], 64); err == nil {
			m.TruePeakDB = peak
		}
	}

	return m, nil
}

func (a *FFmpegAnalyzer) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, a.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe duration on %s: %v", ErrMeasurement, path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse duration %q: %v", ErrMeasurement, strings.TrimSpace(string(output)), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// loudnormStats is the JSON block loudnorm prints after a measurement pass.
type loudnormStats struct {
	InputI      string `json:"input_i"`
	InputTP     string `json:"input_tp"`
	InputLRA    string `json:"input_lra"`
	InputThresh string `json:"input_thresh"`
	TargetOff   string `json:"target_offset"`
}

// Normalize applies two-pass loudnorm: the first pass measures, the second
// applies linear gain toward the targets and writes dst.
func (a *FFmpegAnalyzer) Normalize(ctx context.Context, src, dst string, targetLUFS, targetTP float64) (Measurement, error) {
	stats, err := a.loudnormFirstPass(ctx, src, targetLUFS, targetTP)
	if err != nil {
		return Measurement{}, err
	}

	filter := fmt.Sprintf(
		"loudnorm=I=%.1f:TP=%.1f:LRA=11:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		targetLUFS, targetTP,
		stats.InputI, stats.InputTP, stats.InputLRA, stats.InputThresh, stats.TargetOff,
	)

	cmd := exec.CommandContext(ctx, a.ffmpegBin,
		"-hide_banner", "-y",
		"-i", src,
		"-af", filter,
		"-ar", "48000",
		dst,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(dst)
		a.logger.Error().Err(err).Str("src", src).Msg("loudnorm second pass failed")
		return Measurement{}, fmt.Errorf("%w: loudnorm on %s: %v: %s", ErrMeasurement, src, err, tail(string(output)))
	}

	// Re-measure the written file so the catalog records what actually
	// shipped rather than the nominal target.
	m, err := a.Measure(ctx, dst)
	if err != nil {
		os.Remove(dst)
		return Measurement{}, err
	}
	return m, nil
}

func (a *FFmpegAnalyzer) loudnormFirstPass(ctx context.Context, src string, targetLUFS, targetTP float64) (loudnormStats, error) {
	cmd := exec.CommandContext(ctx, a.ffmpegBin,
		"-hide_banner",
		"-i", src,
		"-af", fmt.Sprintf("loudnorm=I=%.1f:TP=%.1f:LRA=11:print_format=json", targetLUFS, targetTP),
		"-f", "null", "-",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return loudnormStats{}, fmt.Errorf("%w: loudnorm measurement pass on %s: %v", ErrMeasurement, src, err)
	}

	stats, err := parseLoudnormJSON(string(output))
	if err != nil {
		return loudnormStats{}, fmt.Errorf("%w: %s: %v", ErrMeasurement, src, err)
	}
	return stats, nil
}

// parseLoudnormJSON finds the trailing JSON object loudnorm writes to
// stderr after the measurement pass.
func parseLoudnormJSON(output string) (loudnormStats, error) {
	var stats loudnormStats

	start := strings.LastIndex(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end <= start {
		return stats, fmt.Errorf("no loudnorm stats block in ffmpeg output")
	}

	if err := json.Unmarshal([]byte(output[start:end+1]), &stats); err != nil {
		return stats, fmt.Errorf("parse loudnorm stats: %v", err)
	}
	if stats.InputI == "" {
		return stats, fmt.Errorf("loudnorm stats missing input_i")
	}
	return stats, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		return s[len(s)-400:]
	}
	return s
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFlushWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skald.prom")
	m := New(path, zerolog.Nop())

	m.PushesTotal.WithLabelValues("music").Add(3)
	m.StaleRejections.Inc()
	m.LastRunTimestamp.Set(1700000000)

	if err := m.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)

	if !strings.Contains(body, `skald_queue_pushes_total{queue="music"} 3`) {
		t.Errorf("pushes counter missing:\n%s", body)
	}
	if !strings.Contains(body, "skald_break_stale_rejections_total 1") {
		t.Errorf("stale counter missing:\n%s", body)
	}
	if !strings.Contains(body, "skald_last_run_timestamp_seconds") {
		t.Errorf("last-run gauge missing:\n%s", body)
	}

	// The temp file must not linger after publish.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary metrics file left behind")
	}
}

func TestFlushDisabledWithoutPath(t *testing.T) {
	m := New("", zerolog.Nop())
	if err := m.Flush(); err != nil {
		t.Errorf("Flush() with empty path error = %v, want nil", err)
	}
}

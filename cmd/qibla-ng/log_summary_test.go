package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qibla-ng/internal/replay"
)

func TestSummarizeSensorLog(t *testing.T) {
	recs := []replay.Record{
		{Kind: replay.KindStart},
		{At: 0, Kind: replay.KindLocation},
		{At: 100 * time.Millisecond, Kind: replay.KindHeading, Accuracy: 3},
		{At: 200 * time.Millisecond, Kind: replay.KindHeading, Accuracy: 0},
		{At: 5 * time.Second, Kind: replay.KindStart},
		{At: 6 * time.Second, Kind: replay.KindHeading, Accuracy: 3},
	}

	s := summarizeSensorLog(recs)
	if s.Segments != 2 {
		t.Fatalf("segments=%d want %d", s.Segments, 2)
	}
	if s.Headings != 3 || s.Locations != 1 {
		t.Fatalf("headings=%d locations=%d", s.Headings, s.Locations)
	}
	if s.AccuracyCounts[3] != 2 || s.AccuracyCounts[0] != 1 {
		t.Fatalf("accuracy=%v", s.AccuracyCounts)
	}
	if s.MaxDuration != 1*time.Second {
		t.Fatalf("maxDuration=%s want %s", s.MaxDuration, 1*time.Second)
	}
}

func TestSummarizeSensorLog_NoStartMarker(t *testing.T) {
	s := summarizeSensorLog([]replay.Record{{Kind: replay.KindHeading}})
	if s.Segments != 1 {
		t.Fatalf("segments=%d want 1", s.Segments)
	}
	if s := summarizeSensorLog(nil); s.Segments != 0 {
		t.Fatalf("empty segments=%d", s.Segments)
	}
}

func TestLogSummaryCommand(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sensors.log")
	if err := os.WriteFile(p, []byte("START\n0,L,21.4,39.8,0,5\n1000000,H,250,3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"log-summary", "--log", p})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	for _, want := range []string{"segments: 1", "headings: 1", "locations: 1", "max_duration: 1ms", "  3: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

package main

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"qibla-ng/internal/replay"
)

type logSummary struct {
	Segments       int
	Headings       int
	Locations      int
	MaxDuration    time.Duration
	AccuracyCounts map[int]int
}

func summarizeSensorLog(records []replay.Record) logSummary {
	s := logSummary{AccuracyCounts: map[int]int{}}
	var origin time.Duration
	segments := 0
	hasData := false

	for _, r := range records {
		switch r.Kind {
		case replay.KindStart:
			segments++
			origin = r.At
			continue
		case replay.KindHeading:
			s.Headings++
			s.AccuracyCounts[r.Accuracy]++
		case replay.KindLocation:
			s.Locations++
		}
		hasData = true
		if at := r.At - origin; at > s.MaxDuration {
			s.MaxDuration = at
		}
	}
	if segments == 0 && hasData {
		segments = 1
	}
	s.Segments = segments
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is empty")
	}
	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeSensorLog(recs)

	fprintf(w, "path: %s\n", path)
	fprintf(w, "segments: %d\n", s.Segments)
	fprintf(w, "headings: %d\n", s.Headings)
	fprintf(w, "locations: %d\n", s.Locations)
	fprintf(w, "max_duration: %s\n", s.MaxDuration)

	keys := make([]int, 0, len(s.AccuracyCounts))
	for k := range s.AccuracyCounts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	fprintf(w, "accuracy_counts:\n")
	for _, k := range keys {
		fprintf(w, "  %d: %d\n", k, s.AccuracyCounts[k])
	}
	return nil
}

package replay

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return nil
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0,H,13.5,3
10, L, 21.4, 39.8, 277, 4.5
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	want := []Record{
		{Kind: KindStart},
		{At: 0, Kind: KindHeading, HeadingDeg: 13.5, Accuracy: 3},
		{At: 10, Kind: KindLocation, LatDeg: 21.4, LonDeg: 39.8, AltM: 277, HorizAccM: 4.5},
	}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("records=%+v\nwant %+v", recs, want)
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	cases := []string{
		"not-a-valid-line",
		"x,H,1,2",
		"-5,H,1,2",
		"0,H,1",
		"0,L,1,2,3",
		"0,Q,1",
		"0,H,NaN,3",
	}
	for _, line := range cases {
		t.Run(line, func(t *testing.T) {
			if _, err := NewReader(strings.NewReader(line + "\n")).ReadAll(); err == nil {
				t.Fatalf("expected error for %q", line)
			}
		})
	}
}

func TestPlay_TimingAndSpeed(t *testing.T) {
	recs := []Record{
		{Kind: KindStart},
		{At: 0, Kind: KindHeading, HeadingDeg: 1},
		{At: 100 * time.Millisecond, Kind: KindHeading, HeadingDeg: 2},
		{At: 300 * time.Millisecond, Kind: KindLocation, LatDeg: 3},
	}
	fs := &fakeSleeper{}
	var kinds []Kind
	err := Play(context.Background(), recs, 2.0, false, fs, func(r Record) error {
		kinds = append(kinds, r.Kind)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(kinds, []Kind{KindHeading, KindHeading, KindLocation}) {
		t.Fatalf("kinds=%v", kinds)
	}
	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}
	if !reflect.DeepEqual(fs.slept, want) {
		t.Fatalf("slept=%v want %v", fs.slept, want)
	}
}

func TestPlay_LoopStopsOnCallbackError(t *testing.T) {
	recs := []Record{{Kind: KindStart}, {Kind: KindHeading}}
	stop := errors.New("stop")
	n := 0
	err := Play(context.Background(), recs, 1, true, &fakeSleeper{}, func(Record) error {
		n++
		if n == 5 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 5 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestPlay_Validation(t *testing.T) {
	recs := []Record{{Kind: KindHeading}}
	cb := func(Record) error { return nil }
	if err := Play(context.Background(), recs, 0, false, nil, cb); err == nil {
		t.Fatalf("expected speed error")
	}
	if err := Play(context.Background(), recs, 1, false, nil, nil); err == nil {
		t.Fatalf("expected callback error")
	}
	if err := Play(context.Background(), nil, 1, false, nil, cb); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestPlay_StartOnlyLog(t *testing.T) {
	recs, err := NewReader(strings.NewReader("START\nSTART\n")).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if err := Playable(recs); !errors.Is(err, ErrNoData) {
		t.Fatalf("Playable() err=%v want ErrNoData", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- Play(context.Background(), recs, 1, true, nil, func(Record) error { return nil })
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrNoData) {
			t.Fatalf("Play() err=%v want ErrNoData", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Play() did not return for a log without data")
	}
}

func TestPlay_CancelDuringGap(t *testing.T) {
	recs := []Record{
		{Kind: KindStart},
		{At: 0, Kind: KindHeading, HeadingDeg: 1},
		{At: time.Hour, Kind: KindHeading, HeadingDeg: 2},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	delivered := make(chan struct{}, 2)
	done := make(chan error, 1)
	go func() {
		done <- Play(ctx, recs, 1, true, nil, func(Record) error {
			delivered <- struct{}{}
			return nil
		})
	}()

	<-delivered
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Play() err=%v want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Play() still sleeping after cancel")
	}
	if len(delivered) != 0 {
		t.Fatalf("record delivered after cancel")
	}
}

func TestPlay_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := 0
	err := Play(ctx, []Record{{Kind: KindHeading}}, 1, true, &fakeSleeper{}, func(Record) error {
		n++
		return nil
	})
	if !errors.Is(err, context.Canceled) || n != 0 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestRecordReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	now := time.Now()
	if err := w.WriteLocation(now, 21.4225, 39.8262, 277, 3); err != nil {
		t.Fatalf("WriteLocation: %v", err)
	}
	if err := w.WriteHeading(now, 247.25, 2); err != nil {
		t.Fatalf("WriteHeading: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteHeading(now, 1, 1); err == nil {
		t.Fatalf("expected error after close")
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if len(recs) != 3 || recs[0].Kind != KindStart {
		t.Fatalf("records=%+v", recs)
	}
	if recs[1].Kind != KindLocation || recs[1].LatDeg != 21.4225 || recs[1].LonDeg != 39.8262 {
		t.Fatalf("location=%+v", recs[1])
	}
	if recs[2].Kind != KindHeading || recs[2].HeadingDeg != 247.25 || recs[2].Accuracy != 2 {
		t.Fatalf("heading=%+v", recs[2])
	}
	if recs[2].At != recs[1].At {
		t.Fatalf("same timestamp expected, got %v and %v", recs[1].At, recs[2].At)
	}
}

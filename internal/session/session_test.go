package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"qibla-ng/internal/angle"
	"qibla-ng/internal/compass"
	"qibla-ng/internal/engine"
	"qibla-ng/internal/gps"
	"qibla-ng/internal/qibla"
	"qibla-ng/internal/settings"
)

var london = gps.Fix{LatDeg: 51.5074, LonDeg: -0.1278, AltM: 11, At: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

type flakyDeclinator struct {
	vals []float64
	errs []error
	n    int
}

func (f *flakyDeclinator) DeclinationDeg(_, _, _ float64, _ time.Time) (float64, error) {
	i := f.n
	f.n++
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, f.errs[i]
	}
	if i < len(f.vals) {
		return f.vals[i], nil
	}
	return 0, nil
}

type memRecorder struct {
	mu        sync.Mutex
	headings  []float64
	locations [][2]float64
}

func (m *memRecorder) WriteHeading(_ time.Time, h float64, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headings = append(m.headings, h)
	return nil
}

func (m *memRecorder) WriteLocation(_ time.Time, lat, lon, _, _ float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, [2]float64{lat, lon})
	return nil
}

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Log == nil {
		l, _ := test.NewNullLogger()
		opts.Log = l
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func TestHandleSample_NoTarget(t *testing.T) {
	s := newTestSession(t, Options{})
	if _, ok := s.HandleSample(compass.Sample{HeadingDeg: 10, Accuracy: compass.High}); ok {
		t.Fatalf("expected no reading without a target")
	}
	if _, ok := s.Broadcaster().Latest(); ok {
		t.Fatalf("nothing should have been published")
	}
}

func TestHandleSample_TrueNorthReading(t *testing.T) {
	s := newTestSession(t, Options{Declinator: qibla.FixedDeclination(3)})
	tgt, ok := s.UpdateLocation(london)
	if !ok {
		t.Fatalf("UpdateLocation() not ok")
	}
	if tgt.DeclinationSource != DeclinationModel || tgt.DeclinationDeg != 3 {
		t.Fatalf("declination=%v/%s want 3/model", tgt.DeclinationDeg, tgt.DeclinationSource)
	}

	r, ok := s.HandleSample(compass.Sample{HeadingDeg: 10, Accuracy: compass.High})
	if !ok {
		t.Fatalf("HandleSample() not ok")
	}
	if !r.Valid || r.SessionID == "" {
		t.Fatalf("reading=%+v", r)
	}
	if r.SmoothedHeadingDeg != 13 {
		t.Fatalf("smoothed=%v want 13", r.SmoothedHeadingDeg)
	}
	want := angle.SignedDiff(tgt.BearingDeg, 13)
	if math.Abs(r.RotationErrorDeg-want) > 1e-9 {
		t.Fatalf("error=%v want %v", r.RotationErrorDeg, want)
	}
	if r.TargetBearingDeg != tgt.BearingDeg || r.DistanceKm != tgt.DistanceKm {
		t.Fatalf("target fields=%v/%v want %v/%v", r.TargetBearingDeg, r.DistanceKm, tgt.BearingDeg, tgt.DistanceKm)
	}
	if r.NeedsCalibration {
		t.Fatalf("unexpected calibration flag")
	}
	latest, ok := s.Broadcaster().Latest()
	if !ok || latest.At != r.At {
		t.Fatalf("latest=%+v ok=%v", latest, ok)
	}
}

func TestHandleSample_MagneticNorthUsesSettings(t *testing.T) {
	store, err := settings.New(engine.Settings{UseTrueNorth: false, Smoothing: 0.25, AlignmentToleranceDeg: 6}, "")
	if err != nil {
		t.Fatalf("settings.New() error: %v", err)
	}
	s := newTestSession(t, Options{Settings: store, Declinator: qibla.FixedDeclination(3)})
	s.UpdateLocation(london)
	r, _ := s.HandleSample(compass.Sample{HeadingDeg: 10, Accuracy: compass.High})
	if r.SmoothedHeadingDeg != 10 || r.UseTrueNorth {
		t.Fatalf("smoothed=%v trueNorth=%v want 10/false", r.SmoothedHeadingDeg, r.UseTrueNorth)
	}
}

func TestUpdateLocation_DeclinationFallbacks(t *testing.T) {
	boom := errors.New("boom")
	d := &flakyDeclinator{vals: []float64{0, 4.5, 0}, errs: []error{boom, nil, boom}}
	s := newTestSession(t, Options{Declinator: d, FallbackDeclinationDeg: -1.5})

	fix := london
	tgt, _ := s.UpdateLocation(fix)
	if tgt.DeclinationSource != DeclinationFallback || tgt.DeclinationDeg != -1.5 {
		t.Fatalf("first=%v/%s want -1.5/fallback", tgt.DeclinationDeg, tgt.DeclinationSource)
	}

	fix.At = fix.At.Add(time.Second)
	tgt, _ = s.UpdateLocation(fix)
	if tgt.DeclinationSource != DeclinationModel || tgt.DeclinationDeg != 4.5 {
		t.Fatalf("second=%v/%s want 4.5/model", tgt.DeclinationDeg, tgt.DeclinationSource)
	}

	fix.At = fix.At.Add(time.Second)
	tgt, _ = s.UpdateLocation(fix)
	if tgt.DeclinationSource != DeclinationLast || tgt.DeclinationDeg != 4.5 {
		t.Fatalf("third=%v/%s want 4.5/last", tgt.DeclinationDeg, tgt.DeclinationSource)
	}
}

func TestUpdateLocation_IgnoresRepeatsAndInvalid(t *testing.T) {
	d := &flakyDeclinator{}
	rec := &memRecorder{}
	s := newTestSession(t, Options{Declinator: d, Recorder: rec})

	if _, ok := s.UpdateLocation(gps.Fix{LatDeg: 95, LonDeg: 0}); ok {
		t.Fatalf("invalid fix accepted")
	}
	s.UpdateLocation(london)
	s.UpdateLocation(london)
	if d.n != 1 {
		t.Fatalf("declination calls=%d want 1", d.n)
	}
	if len(rec.locations) != 1 {
		t.Fatalf("recorded locations=%d want 1", len(rec.locations))
	}
}

func TestReset_NewSessionAndSnap(t *testing.T) {
	rec := &memRecorder{}
	s := newTestSession(t, Options{Declinator: qibla.FixedDeclination(0), Recorder: rec})
	s.UpdateLocation(london)

	first, _ := s.HandleSample(compass.Sample{HeadingDeg: 10, Accuracy: compass.High})
	s.HandleSample(compass.Sample{HeadingDeg: 11, Accuracy: compass.High})
	id := s.Reset()
	if id == first.SessionID || s.ID() != id {
		t.Fatalf("session id not rotated: %s -> %s", first.SessionID, id)
	}
	r, _ := s.HandleSample(compass.Sample{HeadingDeg: 200, Accuracy: compass.High})
	if r.SmoothedHeadingDeg != 200 {
		t.Fatalf("smoothed after reset=%v want 200", r.SmoothedHeadingDeg)
	}
	if r.SessionID != id {
		t.Fatalf("reading session=%s want %s", r.SessionID, id)
	}
	if len(rec.headings) != 3 {
		t.Fatalf("recorded headings=%d want 3", len(rec.headings))
	}
	if st := s.Stats(); st.Handled != 3 || !st.HaveTarget || st.Diagnostics.Samples != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRevoke_PublishesInvalid(t *testing.T) {
	s := newTestSession(t, Options{Declinator: qibla.FixedDeclination(0)})
	s.UpdateLocation(london)
	s.HandleSample(compass.Sample{HeadingDeg: 10, Accuracy: compass.High})

	_, ch := s.Broadcaster().Subscribe(4)
	<-ch // last value

	s.Revoke()
	r := <-ch
	if r.Valid {
		t.Fatalf("revoked reading should be invalid")
	}
	if r.TargetBearingDeg == 0 {
		t.Fatalf("target bearing missing from revoked reading")
	}
}

type staticLocator struct{ fix gps.Fix }

func (l staticLocator) Fix() (gps.Fix, bool) { return l.fix, true }

func TestRun_StaleHeadingRevokes(t *testing.T) {
	s := newTestSession(t, Options{Declinator: qibla.FixedDeclination(0)})
	_, ch := s.Broadcaster().Subscribe(8)

	samples := make(chan compass.Sample, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, samples, staticLocator{fix: london}, RunConfig{PollInterval: 10 * time.Millisecond, StaleAfter: 50 * time.Millisecond})
	}()

	samples <- compass.Sample{HeadingDeg: 10, Accuracy: compass.High}

	deadline := time.After(2 * time.Second)
	sawValid := false
	for {
		select {
		case r := <-ch:
			if r.Valid {
				sawValid = true
				continue
			}
			if !sawValid {
				t.Fatalf("invalid reading before any valid one")
			}
			cancel()
			if err := <-done; !errors.Is(err, context.Canceled) {
				t.Fatalf("Run() err=%v want context.Canceled", err)
			}
			return
		case <-deadline:
			t.Fatalf("timed out waiting for stale revoke")
		}
	}
}

func TestRun_ClosedSamplesReturns(t *testing.T) {
	s := newTestSession(t, Options{})
	samples := make(chan compass.Sample)
	close(samples)
	if err := s.Run(context.Background(), samples, nil, RunConfig{}); err != nil {
		t.Fatalf("Run() err=%v", err)
	}
}

func TestBroadcaster_DropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe(1)
	b.Publish(Reading{RawHeadingDeg: 1})
	b.Publish(Reading{RawHeadingDeg: 2})
	if r := <-ch; r.RawHeadingDeg != 1 {
		t.Fatalf("first=%v want 1", r.RawHeadingDeg)
	}
	if last, _ := b.Latest(); last.RawHeadingDeg != 2 {
		t.Fatalf("latest=%v want 2", last.RawHeadingDeg)
	}
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestBroadcaster_ConcurrentSubscribeSeesLatest(t *testing.T) {
	const n = 200
	b := NewBroadcaster()

	var wg sync.WaitGroup
	chans := make([]<-chan Reading, 50)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			b.Publish(Reading{RawHeadingDeg: float64(i)})
		}
	}()
	for i := range chans {
		_, chans[i] = b.Subscribe(n + 1)
	}
	wg.Wait()

	for i, ch := range chans {
		prev := 0.0
		for len(ch) > 0 {
			r := <-ch
			if r.RawHeadingDeg <= prev {
				t.Fatalf("sub %d: reading %v after %v", i, r.RawHeadingDeg, prev)
			}
			prev = r.RawHeadingDeg
		}
		if prev != n {
			t.Fatalf("sub %d: last=%v want %d", i, prev, n)
		}
	}
}

// Package replay records the heading and location streams to a text log and
// plays them back with their original relative timing.
package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Log format: line-oriented text.
//
//   - Blank lines and lines starting with '#' are ignored.
//   - "START" resets the origin; following times are relative to it.
//   - Heading:  <t_ns>,H,<heading_deg>,<accuracy>
//   - Location: <t_ns>,L,<lat_deg>,<lon_deg>,<alt_m>,<horiz_acc_m>

type Kind byte

const (
	KindStart    Kind = 0
	KindHeading  Kind = 'H'
	KindLocation Kind = 'L'
)

type Record struct {
	At   time.Duration
	Kind Kind

	HeadingDeg float64
	Accuracy   int

	LatDeg    float64
	LonDeg    float64
	AltM      float64
	HorizAccM float64
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 4096), 64*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Kind: KindStart})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "replay line %d", lineNo)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 {
		return Record{}, errors.Errorf("invalid replay line (missing comma): %q", line)
	}
	tsNs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Record{}, errors.Errorf("invalid replay timestamp %q", parts[0])
	}
	if tsNs < 0 {
		return Record{}, errors.Errorf("invalid replay timestamp (negative): %d", tsNs)
	}
	rec := Record{At: time.Duration(tsNs)}

	floats := func(want int) ([]float64, error) {
		if len(parts) != 2+want {
			return nil, errors.Errorf("record %s wants %d fields, got %d", parts[1], want, len(parts)-2)
		}
		out := make([]float64, want)
		for i := range out {
			v, err := strconv.ParseFloat(parts[2+i], 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("invalid number %q", parts[2+i])
			}
			out[i] = v
		}
		return out, nil
	}

	switch parts[1] {
	case "H":
		v, err := floats(2)
		if err != nil {
			return Record{}, err
		}
		rec.Kind = KindHeading
		rec.HeadingDeg = v[0]
		rec.Accuracy = int(v[1])
	case "L":
		v, err := floats(4)
		if err != nil {
			return Record{}, err
		}
		rec.Kind = KindLocation
		rec.LatDeg, rec.LonDeg, rec.AltM, rec.HorizAccM = v[0], v[1], v[2], v[3]
	default:
		return Record{}, errors.Errorf("unknown record kind %q", parts[1])
	}
	return rec, nil
}

// Writer appends records; it is safe for concurrent use by the heading and
// location loops.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) offset(now time.Time) int64 {
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	return d.Nanoseconds()
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func (ww *Writer) WriteHeading(now time.Time, headingDeg float64, accuracy int) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	_, err := fmt.Fprintf(ww.w, "%d,H,%s,%d\n", ww.offset(now), ff(headingDeg), accuracy)
	return err
}

func (ww *Writer) WriteLocation(now time.Time, latDeg, lonDeg, altM, horizAccM float64) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	_, err := fmt.Fprintf(ww.w, "%d,L,%s,%s,%s,%s\n", ww.offset(now), ff(latDeg), ff(lonDeg), ff(altM), ff(horizAccM))
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Sleeper waits between records. Sleep returns early with ctx.Err() when
// ctx is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrNoData is returned for a log holding only START markers, such as one
// left by a recording that captured nothing.
var ErrNoData = errors.New("no heading or location records")

// Playable reports ErrNoData when records contain nothing Play would deliver.
func Playable(records []Record) error {
	for _, r := range records {
		if r.Kind != KindStart {
			return nil
		}
	}
	return ErrNoData
}

// Play replays records with their relative timing, invoking cb for every
// heading and location record. START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = twice as fast. A callback error
// or a cancelled ctx stops playback and is returned.
func Play(ctx context.Context, records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}
	if err := Playable(records); err != nil {
		return err
	}

	for {
		var origin, lastAt time.Duration
		haveLast := false

		for _, r := range records {
			if r.Kind == KindStart {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait > 0 {
					if err := sleeper.Sleep(ctx, time.Duration(float64(wait)/speedMultiplier)); err != nil {
						return err
					}
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := cb(r); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}

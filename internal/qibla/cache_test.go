package qibla

import (
	"testing"
	"time"
)

func TestSolveCache_HitsWithinGridCell(t *testing.T) {
	c, err := NewSolveCache(4, 0.001)
	if err != nil {
		t.Fatalf("NewSolveCache: %v", err)
	}
	a := c.Solve(48.8566, 2.3522)
	b := c.Solve(48.85661, 2.35221)
	if a != b {
		t.Fatalf("expected cached value, got %v and %v", a, b)
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d want 1", c.Len())
	}
	c.Solve(10, 10)
	if c.Len() != 2 {
		t.Fatalf("len=%d want 2", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("len=%d after purge", c.Len())
	}
}

func TestSolveCache_Evicts(t *testing.T) {
	c, err := NewSolveCache(2, 0)
	if err != nil {
		t.Fatalf("NewSolveCache: %v", err)
	}
	for i := 0; i < 5; i++ {
		c.Solve(float64(i), float64(i))
	}
	if c.Len() != 2 {
		t.Fatalf("len=%d want 2", c.Len())
	}
}

func TestFixedDeclination(t *testing.T) {
	d, err := FixedDeclination(3).DeclinationDeg(0, 0, 0, time.Time{})
	if err != nil || d != 3 {
		t.Fatalf("declination=%v err=%v want 3", d, err)
	}
}

func TestWMM_RejectsInvalidPosition(t *testing.T) {
	if _, err := NewWMM().DeclinationDeg(95, 0, 0, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWMM_Boulder(t *testing.T) {
	at := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	d, err := NewWMM().DeclinationDeg(40.015, -105.2705, 1600, at)
	if err != nil {
		t.Fatalf("DeclinationDeg: %v", err)
	}
	// Boulder sits around 8 degrees east.
	if d < 6 || d > 10 {
		t.Fatalf("declination=%v want ~8", d)
	}
}

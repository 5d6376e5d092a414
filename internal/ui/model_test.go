package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"qibla-ng/internal/engine"
	"qibla-ng/internal/session"
)

func TestModel_WaitingView(t *testing.T) {
	m := New(nil, nil)
	if !strings.Contains(m.View(), "waiting") {
		t.Fatalf("view=%q", m.View())
	}
}

func TestModel_ReadingUpdatesView(t *testing.T) {
	ch := make(chan session.Reading, 1)
	m := New(ch, nil)

	next, cmd := m.Update(ReadingMsg(session.Reading{
		Valid:            true,
		Output:           engine.Output{SmoothedHeadingDeg: 13, RotationErrorDeg: -123, NeedsCalibration: true},
		TargetBearingDeg: 250,
		DistanceKm:       4790,
	}))
	if cmd == nil {
		t.Fatalf("expected a follow-up wait command")
	}
	view := next.View()
	for _, want := range []string{"TURN LEFT 123°", "4790 km", "calibrate"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	ch <- session.Reading{SessionID: "0123456789", Valid: true, Output: engine.Output{IsFacing: true}}
	msg := cmd()
	next, _ = next.Update(msg)
	view = next.View()
	if !strings.Contains(view, "FACING QIBLA") || !strings.Contains(view, "01234567") {
		t.Fatalf("view=%s", view)
	}
}

func TestModel_InvalidReading(t *testing.T) {
	m := New(nil, nil)
	next, _ := m.Update(ReadingMsg(session.Reading{Valid: false}))
	if !strings.Contains(next.View(), "HEADING SENSOR LOST") {
		t.Fatalf("view=%s", next.View())
	}
}

func TestModel_Keys(t *testing.T) {
	resets := 0
	m := New(nil, func() string { resets++; return "x" })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd != nil || resets != 1 {
		t.Fatalf("reset key: cmd=%v resets=%d", cmd, resets)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestModel_StreamClosed(t *testing.T) {
	ch := make(chan session.Reading)
	close(ch)
	m := New(ch, nil)
	next, _ := m.Update(m.Init()())
	if !strings.Contains(next.View(), "stream ended") {
		t.Fatalf("view=%s", next.View())
	}
}

func TestTurnHint(t *testing.T) {
	cases := []struct {
		err  float64
		want string
	}{
		{12, "turn right 12°"},
		{-123, "turn left 123°"},
		{0, "on target"},
	}
	for _, tc := range cases {
		if got := turnHint(tc.err); got != tc.want {
			t.Fatalf("turnHint(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}

func TestRenderRose_Size(t *testing.T) {
	if RenderRose(5, 5, 0, false) != "" {
		t.Fatalf("expected empty rose for tiny area")
	}
	out := RenderRose(31, 15, 90, true)
	if n := strings.Count(out, "\n") + 1; n != 15 {
		t.Fatalf("rows=%d want 15", n)
	}
	if !strings.Contains(out, "◆") || !strings.Contains(out, "▲") {
		t.Fatalf("rose missing markers:\n%s", out)
	}
}

// Package ui is the terminal compass shown by "qibla-ng watch".
package ui

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"qibla-ng/internal/session"
)

// ReadingMsg carries one reading into the program.
type ReadingMsg session.Reading

type streamClosedMsg struct{}

// Model is the root Bubble Tea model. The reset hook runs on the
// program goroutine.
type Model struct {
	width  int
	height int

	readings <-chan session.Reading
	reset    func() string

	reading session.Reading
	have    bool
	closed  bool
}

func New(readings <-chan session.Reading, reset func() string) Model {
	return Model{readings: readings, reset: reset}
}

func waitForReading(ch <-chan session.Reading) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return ReadingMsg(r)
	}
}

func (m Model) Init() tea.Cmd {
	return waitForReading(m.readings)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ReadingMsg:
		m.reading = session.Reading(msg)
		m.have = true
		return m, waitForReading(m.readings)

	case streamClosedMsg:
		m.closed = true
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r", "R":
			if m.reset != nil {
				m.reset()
			}
		}
	}
	return m, nil
}

func turnHint(errDeg float64) string {
	switch {
	case errDeg > 0:
		return fmt.Sprintf("turn right %.0f°", errDeg)
	case errDeg < 0:
		return fmt.Sprintf("turn left %.0f°", -errDeg)
	default:
		return "on target"
	}
}

func (m Model) View() string {
	title := StyleTitle.Render("qibla-ng")
	help := StyleDim.Render("r reset · q quit")

	if !m.have {
		msg := "waiting for location and heading..."
		if m.closed {
			msg = "heading stream ended"
		}
		return lipgloss.JoinVertical(lipgloss.Left, title, StylePanel.Render(msg), help)
	}

	r := m.reading
	roseW, roseH := 31, 15
	if m.width > 0 && m.height > 0 {
		roseH = int(math.Max(7, math.Min(21, float64(m.height-10))))
		roseW = int(math.Max(11, math.Min(float64(m.width-30), float64(roseH*2+1))))
	}

	var lines []string
	if !r.Valid {
		lines = append(lines, StyleWarning.Render("HEADING SENSOR LOST"))
	} else if r.IsFacing {
		lines = append(lines, StyleFacing.Render("FACING QIBLA"))
	} else {
		lines = append(lines, StyleTurn.Render(strings.ToUpper(turnHint(r.RotationErrorDeg))))
	}
	north := "magnetic"
	if r.UseTrueNorth {
		north = "true"
	}
	lines = append(lines,
		"",
		fmt.Sprintf("heading   %6.1f° (%s)", r.SmoothedHeadingDeg, north),
		fmt.Sprintf("qibla     %6.1f°", r.TargetBearingDeg),
		fmt.Sprintf("error     %+6.1f°", r.RotationErrorDeg),
		fmt.Sprintf("decl      %+6.1f°", r.DeclinationDeg),
		fmt.Sprintf("distance  %6.0f km", r.DistanceKm),
		fmt.Sprintf("accuracy  %d", r.Accuracy),
	)
	if r.NeedsCalibration {
		lines = append(lines, "", StyleWarning.Render("calibrate: move in a figure eight"))
	}
	lines = append(lines, "", StyleDim.Render("session "+shortID(r.SessionID)))

	var rose string
	if r.Valid {
		rose = RenderRose(roseW, roseH, r.RotationErrorDeg, r.IsFacing)
	} else {
		rose = RenderRose(roseW, roseH, 0, false)
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		StylePanel.Render(rose),
		StylePanel.Render(strings.Join(lines, "\n")),
	)
	return lipgloss.JoinVertical(lipgloss.Left, title, body, help)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

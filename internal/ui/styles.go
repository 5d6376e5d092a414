package ui

import "github.com/charmbracelet/lipgloss"

var (
	ColorFacing  = lipgloss.Color("#33DD66")
	ColorTurn    = lipgloss.Color("#FF5533")
	ColorRing    = lipgloss.Color("#557755")
	ColorMark    = lipgloss.Color("#DDDDDD")
	ColorWarning = lipgloss.Color("#FFAA00")
	ColorDim     = lipgloss.Color("#777777")
)

var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorMark).
			Padding(0, 1)

	StylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorRing).
			Padding(0, 1)

	StyleFacing = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorFacing)

	StyleTurn = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorTurn)

	StyleWarning = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWarning)

	StyleDim = lipgloss.NewStyle().Foreground(ColorDim)
)

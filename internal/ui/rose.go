package ui

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"qibla-ng/internal/angle"
)

// RenderRose draws a ring with the device's forward direction at the top
// and an arrow toward the qibla, errorDeg clockwise from forward. Terminal
// cells are about twice as tall as wide, so the horizontal radius is
// doubled.
func RenderRose(width, height int, errorDeg float64, facing bool) string {
	if width < 11 || height < 7 {
		return ""
	}
	grid := make([][]rune, height)
	arrow := make([][]bool, height)
	for r := range grid {
		grid[r] = []rune(strings.Repeat(" ", width))
		arrow[r] = make([]bool, width)
	}
	set := func(col, row int, ch rune, isArrow bool) {
		if col >= 0 && col < width && row >= 0 && row < height {
			grid[row][col] = ch
			arrow[row][col] = isArrow
		}
	}

	cx := float64(width-1) / 2
	cy := float64(height-1) / 2
	ry := cy - 1
	rx := math.Min(cx-1, ry*2)

	for i := 0; i < 96; i++ {
		a := float64(i) * 2 * math.Pi / 96
		set(int(math.Round(cx+rx*math.Sin(a))), int(math.Round(cy-ry*math.Cos(a))), '·', false)
	}
	// Forward marker.
	set(int(math.Round(cx)), int(math.Round(cy-ry))-1, '▲', false)

	a := angle.DegToRad(errorDeg)
	steps := int(math.Max(rx, ry) * 2)
	for s := 1; s <= steps; s++ {
		t := 0.85 * float64(s) / float64(steps)
		set(int(math.Round(cx+t*rx*math.Sin(a))), int(math.Round(cy-t*ry*math.Cos(a))), '•', true)
	}
	set(int(math.Round(cx+0.9*rx*math.Sin(a))), int(math.Round(cy-0.9*ry*math.Cos(a))), '◆', true)
	set(int(math.Round(cx)), int(math.Round(cy)), '+', false)

	arrowSty := StyleTurn
	if facing {
		arrowSty = StyleFacing
	}
	ringSty := lipgloss.NewStyle().Foreground(ColorRing)

	var sb strings.Builder
	for r := range grid {
		for c, ch := range grid[r] {
			switch {
			case ch == ' ':
				sb.WriteRune(' ')
			case arrow[r][c]:
				sb.WriteString(arrowSty.Render(string(ch)))
			default:
				sb.WriteString(ringSty.Render(string(ch)))
			}
		}
		if r < height-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

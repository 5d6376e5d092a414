//go:build linux && (arm || arm64)

package indicator

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// openLine requests offset on chip as an output driven low (inactive)
// through the GPIO character device.
func openLine(chip string, offset int, activeLow bool) (line, error) {
	if offset < 0 {
		return nil, errors.Errorf("indicator: invalid line offset %d", offset)
	}
	if !strings.HasPrefix(chip, "/") {
		chip = filepath.Join("/dev", chip)
	}
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer("qibla-ng-facing"))
	if err != nil {
		return nil, errors.Wrapf(err, "indicator: open %s", chip)
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := c.RequestLine(offset, opts...)
	if err != nil {
		_ = c.Close()
		return nil, errors.Wrapf(err, "indicator: request %s line %d", chip, offset)
	}
	return &gpiodLine{chip: c, line: l}, nil
}

type gpiodLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodLine) SetValue(v int) error {
	if g.line == nil {
		return errors.New("indicator: line closed")
	}
	return g.line.SetValue(v)
}

func (g *gpiodLine) Close() error {
	if g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}

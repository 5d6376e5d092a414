//go:build !linux || (!arm && !arm64)

package indicator

import "github.com/pkg/errors"

func openLine(chip string, offset int, activeLow bool) (line, error) {
	return nil, errors.New("indicator: gpio unsupported on this platform")
}

package compass

import (
	"math"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/pkg/errors"
)

var errNotHeading = errors.New("not a heading sentence")

// headingFromSentence extracts a magnetic heading from HDG or HDM.
//
// HDG carries the raw sensor heading plus an optional deviation; magnetic
// heading is sensor heading corrected by deviation (east positive).
func headingFromSentence(s nmea.Sentence) (float64, error) {
	switch s.DataType() {
	case nmea.TypeHDG:
		m := s.(nmea.HDG)
		h := m.Heading
		switch strings.ToUpper(m.DeviationDirection) {
		case "E":
			h += m.Deviation
		case "W":
			h -= m.Deviation
		}
		return checkHeading(h)
	case nmea.TypeHDM:
		return checkHeading(s.(nmea.HDM).Heading)
	default:
		return 0, errNotHeading
	}
}

func checkHeading(h float64) (float64, error) {
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return 0, errors.New("heading is not finite")
	}
	return h, nil
}

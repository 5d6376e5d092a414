package main

import (
	"encoding/json"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"qibla-ng/internal/angle"
	"qibla-ng/internal/qibla"
)

type bearingResult struct {
	LatDeg             float64 `json:"lat_deg"`
	LonDeg             float64 `json:"lon_deg"`
	At                 string  `json:"at"`
	BearingDeg         float64 `json:"bearing_deg"`
	DistanceKm         float64 `json:"distance_km"`
	DeclinationDeg     float64 `json:"declination_deg"`
	MagneticBearingDeg float64 `json:"magnetic_bearing_deg"`
}

func computeBearing(lat, lon, altM float64, at time.Time, d qibla.Declinator) (bearingResult, error) {
	if !qibla.ValidCoordinates(lat, lon) {
		return bearingResult{}, errors.Errorf("coordinates out of range: lat=%v lon=%v", lat, lon)
	}
	t := qibla.Solve(lat, lon)
	decl, err := d.DeclinationDeg(lat, lon, altM, at)
	if err != nil {
		return bearingResult{}, errors.Wrap(err, "declination")
	}
	return bearingResult{
		LatDeg:             lat,
		LonDeg:             lon,
		At:                 at.UTC().Format(time.RFC3339),
		BearingDeg:         t.BearingDeg,
		DistanceKm:         t.DistanceKm,
		DeclinationDeg:     decl,
		MagneticBearingDeg: angle.Normalize360(t.BearingDeg - decl),
	}, nil
}

func writeBearing(w io.Writer, r bearingResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fprintf(w, "position: %.5f, %.5f\n", r.LatDeg, r.LonDeg)
	fprintf(w, "time: %s\n", r.At)
	fprintf(w, "qibla_true: %.2f°\n", r.BearingDeg)
	fprintf(w, "qibla_magnetic: %.2f°\n", r.MagneticBearingDeg)
	fprintf(w, "declination: %+.2f°\n", r.DeclinationDeg)
	fprintf(w, "distance: %.1f km\n", r.DistanceKm)
	return nil
}

func newBearingCmd() *cobra.Command {
	var (
		lat, lon, alt float64
		at            string
		fixedDecl     float64
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "bearing",
		Short: "Print the qibla bearing, distance and declination for a position",
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return errors.Wrap(err, "--time must be RFC3339")
				}
				when = t
			}
			var d qibla.Declinator = qibla.NewWMM()
			if cmd.Flags().Changed("declination") {
				if math.IsNaN(fixedDecl) {
					return errors.New("--declination is not a number")
				}
				d = qibla.FixedDeclination(fixedDecl)
			}
			r, err := computeBearing(lat, lon, alt, when, d)
			if err != nil {
				return err
			}
			return writeBearing(cmd.OutOrStdout(), r, asJSON)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude in degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude in degrees")
	cmd.Flags().Float64Var(&alt, "alt", 0, "Altitude in metres")
	cmd.Flags().StringVar(&at, "time", "", "Time for the declination model (RFC3339, default now)")
	cmd.Flags().Float64Var(&fixedDecl, "declination", 0, "Use this declination instead of the model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

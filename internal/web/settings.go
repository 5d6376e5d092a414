package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"qibla-ng/internal/engine"
	"qibla-ng/internal/settings"
)

// SettingsPayloadIn is the strict POST schema. Every key is required; there
// are no partial updates.
type SettingsPayloadIn struct {
	UseTrueNorth          *bool    `json:"use_true_north"`
	Smoothing             *float64 `json:"smoothing"`
	AlignmentToleranceDeg *int     `json:"alignment_tolerance_deg"`
}

var settingsPostKeys = []string{
	"use_true_north",
	"smoothing",
	"alignment_tolerance_deg",
}

// decodeSettingsStrict rejects unknown, duplicate, null and missing keys
// before decoding into the typed payload.
func decodeSettingsStrict(body []byte) (SettingsPayloadIn, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	allowed := make(map[string]bool, len(settingsPostKeys))
	for _, k := range settingsPostKeys {
		allowed[k] = true
	}
	seen := make(map[string]bool, len(settingsPostKeys))

	if err := expectDelim(dec, '{'); err != nil {
		return SettingsPayloadIn{}, err
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		key, _ := kt.(string)
		switch {
		case !allowed[key]:
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: unknown key %q", key)
		case seen[key]:
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return SettingsPayloadIn{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return SettingsPayloadIn{}, errors.New("invalid json: trailing data")
	}
	for _, k := range settingsPostKeys {
		if !seen[k] {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	var out SettingsPayloadIn
	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(&out); err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	return out, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("invalid json: expected %q", string(want))
	}
	return nil
}

func (p SettingsPayloadIn) settings() (engine.Settings, error) {
	if p.UseTrueNorth == nil || p.Smoothing == nil || p.AlignmentToleranceDeg == nil {
		return engine.Settings{}, errors.New("all settings keys are required")
	}
	if *p.Smoothing < 0 || *p.Smoothing > 1 {
		return engine.Settings{}, errors.New("smoothing must be within [0,1]")
	}
	tol := *p.AlignmentToleranceDeg
	if tol < engine.MinAlignmentToleranceDeg || tol > engine.MaxAlignmentToleranceDeg {
		return engine.Settings{}, fmt.Errorf("alignment_tolerance_deg must be within [%d,%d]",
			engine.MinAlignmentToleranceDeg, engine.MaxAlignmentToleranceDeg)
	}
	return engine.Settings{
		UseTrueNorth:          *p.UseTrueNorth,
		Smoothing:             *p.Smoothing,
		AlignmentToleranceDeg: tol,
	}, nil
}

// SettingsHandler serves GET/POST /api/settings against the live store.
func SettingsHandler(store *settings.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "settings not available", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, store.Get())

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}
			p, err := decodeSettingsStrict(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			next, err := p.settings()
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid settings: %v", err), http.StatusBadRequest)
				return
			}
			applied, err := store.Set(next)
			if err != nil {
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, applied)

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"qibla-ng/internal/engine"
	"qibla-ng/internal/settings"
)

func newTestStore(t *testing.T) (*settings.Store, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "settings.yaml")
	s, err := settings.New(engine.DefaultSettings(), p)
	if err != nil {
		t.Fatalf("settings.New() error: %v", err)
	}
	return s, p
}

func postSettings(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url+"/api/settings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/settings error: %v", err)
	}
	return resp
}

func TestSettingsGET(t *testing.T) {
	store, _ := newTestStore(t)
	ts := httptest.NewServer(SettingsHandler(store))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	var got engine.Settings
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != engine.DefaultSettings() {
		t.Fatalf("settings=%+v want %+v", got, engine.DefaultSettings())
	}
}

func TestSettingsPOST_AppliesAndSaves(t *testing.T) {
	store, path := newTestStore(t)
	_, watch := store.Watch()
	ts := httptest.NewServer(SettingsHandler(store))
	defer ts.Close()

	resp := postSettings(t, ts.URL, []byte(`{"use_true_north":false,"smoothing":0.5,"alignment_tolerance_deg":9}`))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d body=%s", resp.StatusCode, string(body))
	}

	want := engine.Settings{UseTrueNorth: false, Smoothing: 0.5, AlignmentToleranceDeg: 9}
	if got := store.Get(); got != want {
		t.Fatalf("store=%+v want %+v", got, want)
	}
	select {
	case got := <-watch:
		if got != want {
			t.Fatalf("watched=%+v want %+v", got, want)
		}
	default:
		t.Fatalf("watcher not notified")
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if !strings.Contains(string(onDisk), "alignment_tolerance_deg: 9") {
		t.Fatalf("expected saved tolerance in yaml, got: %s", onDisk)
	}
}

func TestSettingsPOST_Rejected(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing key", `{"use_true_north":true,"smoothing":0.2}`},
		{"duplicate key", `{"use_true_north":true,"use_true_north":false,"smoothing":0.2,"alignment_tolerance_deg":6}`},
		{"unknown key", `{"use_true_north":true,"smoothing":0.2,"alignment_tolerance_deg":6,"offset":1}`},
		{"null value", `{"use_true_north":null,"smoothing":0.2,"alignment_tolerance_deg":6}`},
		{"smoothing range", `{"use_true_north":true,"smoothing":1.5,"alignment_tolerance_deg":6}`},
		{"tolerance range", `{"use_true_north":true,"smoothing":0.2,"alignment_tolerance_deg":40}`},
		{"trailing data", `{"use_true_north":true,"smoothing":0.2,"alignment_tolerance_deg":6} {}`},
		{"not an object", `[1,2,3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, path := newTestStore(t)
			ts := httptest.NewServer(SettingsHandler(store))
			defer ts.Close()

			resp := postSettings(t, ts.URL, []byte(tc.body))
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				body, _ := io.ReadAll(resp.Body)
				t.Fatalf("status=%d body=%s", resp.StatusCode, string(body))
			}
			if store.Get() != engine.DefaultSettings() {
				t.Fatalf("store changed: %+v", store.Get())
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Fatalf("settings file should not exist, stat err=%v", err)
			}
		})
	}
}

func TestSettingsPOST_ContentType(t *testing.T) {
	store, _ := newTestStore(t)
	ts := httptest.NewServer(SettingsHandler(store))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/settings", "text/plain", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestSettings_NoStore(t *testing.T) {
	ts := httptest.NewServer(SettingsHandler(nil))
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

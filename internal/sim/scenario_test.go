package sim

import (
	"testing"
	"time"
)

func TestScenario_ParseAndInterpolateAngleWrap(t *testing.T) {
	yaml := []byte(`
version: 1
# duration derived from last keyframe
keyframes:
  - t: 0s
    heading_deg: 350
    accuracy: 3
  - t: 10s
    heading_deg: 10
    accuracy: 1
`)

	script, err := ParseScenarioScriptYAML(yaml)
	if err != nil {
		t.Fatalf("ParseScenarioScriptYAML: %v", err)
	}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	if scn.Duration() != 10*time.Second {
		t.Fatalf("duration: got %s want %s", scn.Duration(), 10*time.Second)
	}

	// 350 -> 10 goes the short way through north.
	st := scn.StateAt(5*time.Second, false)
	if st.HeadingDeg != 0 {
		t.Fatalf("heading wrap interpolation: got %v want 0", st.HeadingDeg)
	}
	if st.Accuracy != 3 {
		t.Fatalf("accuracy=%d want 3 (held from earlier keyframe)", st.Accuracy)
	}
	if end := scn.StateAt(10*time.Second, false); end.Accuracy != 1 || end.HeadingDeg != 10 {
		t.Fatalf("end state=%+v", end)
	}
}

func TestScenario_LoopAndClamp(t *testing.T) {
	yaml := []byte(`
version: 1
duration: 10s
keyframes:
  - t: 0s
    heading_deg: 0
    accuracy: 3
  - t: 10s
    heading_deg: 100
    accuracy: 3
`)

	script, err := ParseScenarioScriptYAML(yaml)
	if err != nil {
		t.Fatalf("ParseScenarioScriptYAML: %v", err)
	}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}

	if st := scn.StateAt(11*time.Second, false); st.HeadingDeg != 100 {
		t.Fatalf("clamp heading: got %v want 100", st.HeadingDeg)
	}
	if st := scn.StateAt(11*time.Second, true); st.HeadingDeg != 10 {
		t.Fatalf("loop heading: got %v want 10", st.HeadingDeg)
	}
}

func TestNewScenario_Validation(t *testing.T) {
	cases := []struct {
		name   string
		script ScenarioScript
		want   string
	}{
		{"NoKeyframes", ScenarioScript{}, "keyframes is required"},
		{"Version", ScenarioScript{Version: 2, Keyframes: []Keyframe{{}}}, "unsupported scenario version 2"},
		{"Unsorted", ScenarioScript{Keyframes: []Keyframe{{T: time.Second}, {T: 0}}}, "keyframes must be sorted by t (index 1)"},
		{"Accuracy", ScenarioScript{Keyframes: []Keyframe{{T: time.Second, Accuracy: 5}}}, "keyframes[0].accuracy must be within [0,3]"},
		{"NoDuration", ScenarioScript{Keyframes: []Keyframe{{}}}, "duration is required (or deriveable from keyframes)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewScenario(tc.script)
			if err == nil || err.Error() != tc.want {
				t.Fatalf("err=%v want %q", err, tc.want)
			}
		})
	}
}

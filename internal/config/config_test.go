package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/photonlab/stage_interface/servo"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stage.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
stage:
  gear_ratio: 17.0
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bus.Transport != "simulator" {
		t.Errorf("transport %q, want simulator", cfg.Bus.Transport)
	}
	if cfg.Stage.PulsesPerRev != 16384 {
		t.Errorf("pulses per rev %d, want 16384", cfg.Stage.PulsesPerRev)
	}
	if got := cfg.PollInterval(); got != 100*time.Millisecond {
		t.Errorf("poll interval %v, want 100ms", got)
	}
	if !cfg.Interpolation() {
		t.Error("interpolation should default to on")
	}
	if cfg.Stage.DefaultSpeedRPM != 1000 || cfg.Stage.DefaultAccel != 255 {
		t.Errorf("motion defaults %d/%d, want 1000/255", cfg.Stage.DefaultSpeedRPM, cfg.Stage.DefaultAccel)
	}
	hp := cfg.HomingParams()
	if hp.Direction != servo.CW || hp.SpeedRPM != 50 {
		t.Errorf("homing params %+v, want cw at 50 RPM", hp)
	}
	if cfg.Server.Listen != "127.0.0.1:8502" {
		t.Errorf("listen %q", cfg.Server.Listen)
	}
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
bus:
  transport: can
  interface: can1
  servo_id: 2
stage:
  gear_ratio: 17.0
  subdivision: 16
  interpolation: false
  poll_interval_ms: 50
homing:
  direction: ccw
  speed_rpm: 100
  end_limit: true
calibration:
  16: 45.6
server:
  listen: 0.0.0.0:9000
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bus.Interface != "can1" || cfg.Bus.ServoID != 2 {
		t.Errorf("bus %+v", cfg.Bus)
	}
	if cfg.Interpolation() {
		t.Error("interpolation should be off")
	}
	hp := cfg.HomingParams()
	if hp.Direction != servo.CCW || hp.SpeedRPM != 100 || !hp.EndLimit {
		t.Errorf("homing params %+v", hp)
	}
	cal := cfg.StageCalibration()
	if got, _ := cal.Lookup(16); got != 45.6 {
		t.Errorf("calibration override for 16 = %g, want 45.6", got)
	}
	// Untouched codes keep the built-in scales.
	if _, ok := cal.Lookup(8); !ok {
		t.Error("built-in calibration for 8 lost")
	}
	params := cfg.StageParams()
	if params.Subdivision != 16 || params.PollInterval != 50*time.Millisecond {
		t.Errorf("stage params %+v", params)
	}
}

func TestLoadRejects(t *testing.T) {
	for _, test := range []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing gear ratio", "stage: {}", "gear_ratio must be > 0"},
		{"negative gear ratio", "stage: {gear_ratio: -17}", "gear_ratio must be > 0"},
		{"bad transport", "bus: {transport: zigbee}\nstage: {gear_ratio: 17}", "bus.transport"},
		{"bad direction", "stage: {gear_ratio: 17}\nhoming: {direction: widdershins}", "homing.direction"},
		{"bad calibration code", "stage: {gear_ratio: 17}\ncalibration: {300: 45.5}", "invalid subdivision code"},
		{"bad calibration scale", "stage: {gear_ratio: 17}\ncalibration: {16: -1}", "must be > 0"},
		{"bad yaml", ":", "unmarshal"},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, test.content))
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Load: got %v, want %q", err, test.wantErr)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Bus.Transport != "simulator" {
		t.Errorf("transport %q", cfg.Bus.Transport)
	}
	if cfg.Stage.GearRatio != 17.0 {
		t.Errorf("gear ratio %g", cfg.Stage.GearRatio)
	}
	if _, ok := cfg.StageParams().Calibration.Lookup(1); !ok {
		t.Error("default calibration missing code 1")
	}
}

package stage

import (
	"strings"
	"testing"
)

func TestCalibrationLookup(t *testing.T) {
	cal := DefaultCalibration()
	if scale, ok := cal.Lookup(16); !ok || scale != 16378.0/360 {
		t.Errorf("Lookup(16) = %g, %v", scale, ok)
	}
	if _, ok := cal.Lookup(3); ok {
		t.Error("Lookup(3) should miss")
	}
}

func TestCalibrationValidate(t *testing.T) {
	for _, test := range []struct {
		name    string
		cal     Calibration
		wantErr string
	}{
		{"default", DefaultCalibration(), ""},
		{"empty", Calibration{}, ""},
		{"zero scale", Calibration{8: 0}, "must be > 0"},
		{"negative scale", Calibration{8: -45.5}, "must be > 0"},
		{"code too low", Calibration{0: 45.5}, "invalid subdivision code"},
		{"code too high", Calibration{256: 45.5}, "invalid subdivision code"},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := test.cal.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Errorf("Validate failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Validate: got %v, want %q", err, test.wantErr)
			}
		})
	}
}

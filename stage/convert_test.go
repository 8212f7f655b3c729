package stage

import (
	"errors"
	"math"
	"testing"
)

func TestOutputToPulses(t *testing.T) {
	for _, test := range []struct {
		name         string
		outputDeg    float64
		gearRatio    float64
		pulsesPerRev int
		want         int32
	}{
		{"ten degrees geared", 10, 17, 16384, 7737},
		{"zero", 0, 17, 16384, 0},
		{"negative", -10, 17, 16384, -7737},
		{"full output turn", 360, 17, 16384, 17 * 16384},
		{"ungeared", 90, 1, 16384, 4096},
		{"rounds nearest", 1, 1, 360, 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := OutputToPulses(test.outputDeg, test.gearRatio, test.pulsesPerRev)
			if err != nil {
				t.Fatalf("OutputToPulses failed: %v", err)
			}
			if got != test.want {
				t.Errorf("got %d pulses, want %d", got, test.want)
			}
		})
	}
}

func TestOutputToPulsesRange(t *testing.T) {
	// With one pulse per degree the pulse count equals the angle, making the
	// 24-bit boundary easy to hit exactly.
	for _, test := range []struct {
		deg float64
		ok  bool
	}{
		{1<<23 - 1, true},
		{-(1 << 23), true},
		{1 << 23, false},
		{-(1<<23 + 1), false},
	} {
		_, err := OutputToPulses(test.deg, 1, 360)
		if test.ok && err != nil {
			t.Errorf("OutputToPulses(%g) failed: %v", test.deg, err)
		}
		if !test.ok {
			var re *RangeError
			if !errors.As(err, &re) {
				t.Errorf("OutputToPulses(%g): got %v, want RangeError", test.deg, err)
			}
		}
	}
}

func TestTicksToOutputDeg(t *testing.T) {
	deg, ok := TicksToOutputDeg(4549, 0, 16378.0/360, 17)
	if !ok {
		t.Fatal("conversion reported uncalibrated")
	}
	if want := 5.882; math.Abs(deg-want) > 1e-3 {
		t.Errorf("got %g°, want %g°", deg, want)
	}
}

func TestTicksToOutputDegOffset(t *testing.T) {
	scale := 16378.0 / 360
	base, _ := TicksToOutputDeg(20000, 0, scale, 17)
	shifted, _ := TicksToOutputDeg(20000, 10000, scale, 17)
	rezeroed, _ := TicksToOutputDeg(10000, 0, scale, 17)
	if math.Abs(base-shifted-rezeroed) > 1e-9 {
		t.Errorf("offset not linear: base %g, shifted %g, rezeroed %g", base, shifted, rezeroed)
	}
}

func TestTicksToOutputDegUncalibrated(t *testing.T) {
	if _, ok := TicksToOutputDeg(1234, 0, 0, 17); ok {
		t.Error("zero scale should report uncalibrated")
	}
}

// Converting an angle to pulses, treating the arrived pulses as motor degrees
// and converting back through the feedback scale must land near the original
// angle for every calibrated subdivision.
func TestRoundTrip(t *testing.T) {
	const gearRatio = 17.0
	for code, scale := range DefaultCalibration() {
		for _, deg := range []float64{0, 1, -1, 45.5, 359.9, -270} {
			pulses, err := OutputToPulses(deg, gearRatio, DefaultPulsesPerRev)
			if err != nil {
				t.Fatalf("code %d: OutputToPulses(%g) failed: %v", code, deg, err)
			}
			motorDeg := float64(pulses) / DefaultPulsesPerRev * 360
			ticks := int64(math.Round(motorDeg * scale))
			got, ok := TicksToOutputDeg(ticks, 0, scale, gearRatio)
			if !ok {
				t.Fatalf("code %d: unexpectedly uncalibrated", code)
			}
			if math.Abs(got-deg) > 0.01 {
				t.Errorf("code %d: round trip of %g° gave %g°", code, deg, got)
			}
		}
	}
}

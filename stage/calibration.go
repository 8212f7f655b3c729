package stage

import "fmt"

// Calibration maps a subdivision (microstepping) code to the measured number
// of raw feedback ticks per motor degree at that resolution. Entries are
// loaded once at startup and never mutated.
type Calibration map[int]float64

// DefaultCalibration returns the feedback scales measured on the reference
// stage with a calibration fixture. Codes missing here put the display into
// uncalibrated (raw ticks) mode rather than failing.
func DefaultCalibration() Calibration {
	return Calibration{
		1:   15941.0 / 360.0,
		2:   16231.0 / 360.0,
		4:   16401.0 / 360.0,
		8:   16378.0 / 360.0,
		16:  16378.0 / 360.0,
		32:  16378.0 / 360.0,
		64:  16377.0 / 360.0,
		128: 16383.0 / 360.0,
		255: 16321.0 / 360.0,
	}
}

// Lookup returns the feedback scale for a subdivision code. ok is false on a
// miss; callers must fall back to uncalibrated display, not error out.
func (c Calibration) Lookup(code int) (scale float64, ok bool) {
	scale, ok = c[code]
	return scale, ok
}

func (c Calibration) Validate() error {
	for code, scale := range c {
		if code < 1 || code > 255 {
			return fmt.Errorf("calibration: invalid subdivision code %d", code)
		}
		if scale <= 0 {
			return fmt.Errorf("calibration: scale for subdivision %d must be > 0, got %g", code, scale)
		}
	}
	return nil
}

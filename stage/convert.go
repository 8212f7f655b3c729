package stage

import (
	"fmt"
	"math"
)

// Command pulses are a signed 24-bit quantity on the wire.
const (
	MinCommandPulses = -(1 << 23)
	MaxCommandPulses = 1<<23 - 1
)

// DefaultPulsesPerRev is the number of command pulses the servo firmware
// expects for one full motor revolution in absolute positioning mode. This
// is fixed by the command protocol, not by the encoder resolution.
const DefaultPulsesPerRev = 16384

// RangeError reports a target angle whose command-pulse equivalent does not
// fit the wire format.
type RangeError struct {
	OutputDeg float64
	Pulses    int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("target %g° needs %d command pulses, outside [%d, %d]",
		e.OutputDeg, e.Pulses, MinCommandPulses, MaxCommandPulses)
}

// OutputToPulses converts an output-shaft angle to the absolute command
// pulses the servo expects. gearRatio is motor turns per output turn.
func OutputToPulses(outputDeg, gearRatio float64, pulsesPerRev int) (int32, error) {
	motorDeg := outputDeg * gearRatio
	pulses := int64(math.Round(motorDeg / 360 * float64(pulsesPerRev)))
	if pulses < MinCommandPulses || pulses > MaxCommandPulses {
		return 0, &RangeError{OutputDeg: outputDeg, Pulses: pulses}
	}
	return int32(pulses), nil
}

// TicksToOutputDeg converts raw accumulated encoder ticks to an output-shaft
// angle relative to zeroOffset. scale is feedback ticks per motor degree for
// the active subdivision; ok is false when no scale is known, in which case
// callers fall back to displaying raw relative ticks.
func TicksToOutputDeg(rawTicks, zeroOffset int64, scale, gearRatio float64) (deg float64, ok bool) {
	if scale == 0 {
		return 0, false
	}
	motorDeg := float64(rawTicks-zeroOffset) / scale
	return motorDeg / gearRatio, true
}

package servo

import (
	"fmt"
	"math"
	"sync"
)

// Simulator models a servo at the Driver level: moves arrive instantly and
// the encoder tracks the commanded axis position. Used by the daemon's
// -simulator flag and by tests.
type Simulator struct {
	mu sync.Mutex

	// Lim is reported from Limits. The zero value declares no limits so
	// callers exercise their own defaults.
	Lim Limits
	// UnparseableZeroAck makes SetZeroAxis answer like firmware that mangles
	// the zeroing acknowledgement frame.
	UnparseableZeroAck bool
	// FailHoming makes homing runs end in failure.
	FailHoming bool

	ticks        int64
	subdivision  uint8
	interpolated bool
	homing       HomingParams
}

// simTicksPerDeg matches the feedback scale of the real unit at its common
// subdivision settings.
const simTicksPerDeg = 16378.0 / 360

const simPulsesPerRev = 16384

func NewSimulator() *Simulator {
	return &Simulator{subdivision: 1}
}

func (s *Simulator) Limits() Limits {
	return s.Lim
}

func (s *Simulator) SetSubdivision(code uint8) error {
	s.mu.Lock()
	s.subdivision = code
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetSubdivisionInterpolation(enabled bool) error {
	s.mu.Lock()
	s.interpolated = enabled
	s.mu.Unlock()
	return nil
}

func (s *Simulator) ReadEncoder() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, nil
}

func (s *Simulator) RunAbsoluteMotion(speedRPM uint16, accel uint8, pulses int32) error {
	motorDeg := float64(pulses) / simPulsesPerRev * 360
	s.mu.Lock()
	s.ticks = int64(math.Round(motorDeg * simTicksPerDeg))
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetZeroAxis() error {
	s.mu.Lock()
	s.ticks = 0
	s.mu.Unlock()
	if s.UnparseableZeroAck {
		return fmt.Errorf("%w: simulated mangled ack", ErrUnparseableAck)
	}
	return nil
}

func (s *Simulator) ConfigureHoming(p HomingParams) error {
	s.mu.Lock()
	s.homing = p
	s.mu.Unlock()
	return nil
}

func (s *Simulator) TriggerHoming() (HomeResult, error) {
	if s.FailHoming {
		return HomeFail, nil
	}
	s.mu.Lock()
	s.ticks = 0
	s.mu.Unlock()
	return HomeSuccess, nil
}

func (s *Simulator) EmergencyStop() error {
	return nil
}

func (s *Simulator) Close() error {
	return nil
}

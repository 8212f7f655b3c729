// Package stage coordinates motion of a geared rotation stage driven by a
// closed-loop stepper servo. It owns unit conversion between output-shaft
// degrees and servo command pulses, the zero-offset tracking that turns raw
// encoder feedback into display angles, the emergency-stop latch, and the
// background position poller.
package stage

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/photonlab/stage_interface/servo"
)

// Command limits used when the driver does not declare its own.
const (
	DefaultMaxSpeedRPM     = 3000
	DefaultMaxAcceleration = 255
)

// defaultSettle is how long the stage waits after zeroing before trusting an
// encoder read; the servo needs a moment to commit the new zero internally.
const defaultSettle = 200 * time.Millisecond

// DefaultPollInterval is the position poll period.
const DefaultPollInterval = 100 * time.Millisecond

// Params describe the mechanics and startup configuration of one stage.
type Params struct {
	// GearRatio is motor turns per output turn. Must be > 0.
	GearRatio float64
	// PulsesPerRev defaults to DefaultPulsesPerRev.
	PulsesPerRev int
	// Calibration maps subdivision codes to feedback scales. Nil uses
	// DefaultCalibration.
	Calibration Calibration
	// Subdivision is applied at connect. Defaults to 1.
	Subdivision uint8
	// Interpolation is applied at connect.
	Interpolation bool
	// Homing parameters are pushed to the servo before each homing run.
	Homing servo.HomingParams
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// AngleSample is one position report. Value is the output angle in degrees
// when Calibrated, raw relative feedback ticks otherwise, and nil when the
// read failed.
type AngleSample struct {
	Value      *float64  `json:"value"`
	Calibrated bool      `json:"calibrated"`
	Time       time.Time `json:"time"`
}

// Advisory codes surfaced to operators.
const (
	AdvisoryUncalibrated = "uncalibrated-subdivision"
	AdvisoryReZero       = "re-zero-recommended"
)

// Advisory is a non-fatal operator notice.
type Advisory struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ZeroOutcome reports how a zeroing operation (set-zero or homing) ended.
// Confirmed means a fresh encoder read was captured as the new offset; when
// false the previous offset is still in effect and the display may be stale.
type ZeroOutcome struct {
	Confirmed bool   `json:"confirmed"`
	Warning   string `json:"warning,omitempty"`
}

// SampleFunc receives position samples from the poller.
type SampleFunc func(AngleSample)

// AdvisoryFunc receives operator advisories.
type AdvisoryFunc func(Advisory)

// Stage is the motion coordinator for one axis. All exported methods are safe
// for concurrent use; the emergency-stop latch gates every command that would
// reach the servo.
type Stage struct {
	drv        servo.Driver
	params     Params
	sampleCb   SampleFunc
	advisoryCb AdvisoryFunc

	maxSpeedRPM int
	maxAccel    int

	safety Safety
	offset Offset

	// settle is overridable so tests do not sleep.
	settle time.Duration

	mu            sync.Mutex
	subdivision   uint8
	interpolation bool
	scale         float64 // feedback ticks per motor degree; 0 = uncalibrated
	advised       map[uint8]bool
}

// Connect validates params, applies the startup configuration to the servo
// and captures the initial zero offset. Configuration failures at connect are
// logged but not fatal, matching an operator bringing up a bench that may not
// be fully wired yet.
func Connect(drv servo.Driver, params Params, sampleCb SampleFunc, advisoryCb AdvisoryFunc) (*Stage, error) {
	if params.GearRatio <= 0 {
		return nil, fmt.Errorf("stage: gear ratio must be > 0, got %g", params.GearRatio)
	}
	if params.PulsesPerRev == 0 {
		params.PulsesPerRev = DefaultPulsesPerRev
	}
	if params.PulsesPerRev < 0 {
		return nil, fmt.Errorf("stage: pulses per revolution must be > 0, got %d", params.PulsesPerRev)
	}
	if params.Calibration == nil {
		params.Calibration = DefaultCalibration()
	}
	if err := params.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	if params.Subdivision == 0 {
		params.Subdivision = 1
	}
	if params.PollInterval == 0 {
		params.PollInterval = DefaultPollInterval
	}

	s := &Stage{
		drv:        drv,
		params:     params,
		sampleCb:   sampleCb,
		advisoryCb: advisoryCb,
		settle:     defaultSettle,
		advised:    make(map[uint8]bool),
	}
	lim := drv.Limits()
	s.maxSpeedRPM = lim.MaxSpeedRPM
	if s.maxSpeedRPM == 0 {
		s.maxSpeedRPM = DefaultMaxSpeedRPM
	}
	s.maxAccel = lim.MaxAcceleration
	if s.maxAccel == 0 {
		s.maxAccel = DefaultMaxAcceleration
	}

	if err := drv.SetSubdivision(params.Subdivision); err != nil {
		log.Printf("applying startup subdivision %d: %v", params.Subdivision, err)
	}
	s.applySubdivision(params.Subdivision)
	if err := drv.SetSubdivisionInterpolation(params.Interpolation); err != nil {
		log.Printf("applying startup interpolation: %v", err)
	}
	s.mu.Lock()
	s.interpolation = params.Interpolation
	s.mu.Unlock()

	// Whatever the encoder reads now is the session's starting zero; the
	// previous session's zero does not survive reconnection.
	if raw, err := drv.ReadEncoder(); err != nil {
		log.Printf("initial encoder read: %v", err)
	} else {
		s.offset.Capture(raw)
	}
	return s, nil
}

// applySubdivision records the active code, resolves its feedback scale and
// invalidates the old zero offset.
func (s *Stage) applySubdivision(code uint8) {
	s.mu.Lock()
	s.subdivision = code
	scale, calibrated := s.params.Calibration.Lookup(int(code))
	if calibrated {
		s.scale = scale
	} else {
		s.scale = 0
	}
	firstMiss := !calibrated && !s.advised[code]
	if firstMiss {
		s.advised[code] = true
	}
	s.mu.Unlock()

	s.offset.Reset()

	if firstMiss {
		s.advise(Advisory{
			Code:    AdvisoryUncalibrated,
			Message: fmt.Sprintf("no calibration for subdivision %d; showing raw feedback ticks", code),
		})
	}
	s.advise(Advisory{
		Code:    AdvisoryReZero,
		Message: "zero offset invalidated; set zero or home before trusting displayed angles",
	})
}

func (s *Stage) advise(a Advisory) {
	if s.advisoryCb != nil {
		s.advisoryCb(a)
	}
}

// Configure pushes a new subdivision code and interpolation setting to the
// servo. On a partial failure the returned ConfigError lists what was already
// applied; nothing is rolled back.
func (s *Stage) Configure(code uint8, interpolation bool) error {
	if !s.safety.MotionAllowed() {
		return ErrSafetyBlocked
	}
	if err := s.drv.SetSubdivision(code); err != nil {
		return &ConfigError{Setting: "subdivision", Err: err}
	}
	s.applySubdivision(code)
	if err := s.drv.SetSubdivisionInterpolation(interpolation); err != nil {
		return &ConfigError{Setting: "interpolation", Applied: []string{"subdivision"}, Err: err}
	}
	s.mu.Lock()
	s.interpolation = interpolation
	s.mu.Unlock()
	return nil
}

// MoveToOutputAngle commands an absolute move of the output shaft. Every
// violated constraint is reported in one ValidationError; the servo is only
// contacted when the whole command is valid.
func (s *Stage) MoveToOutputAngle(outputDeg float64, speedRPM, accel int) error {
	if !s.safety.MotionAllowed() {
		return ErrSafetyBlocked
	}
	var violations []string
	if speedRPM <= 0 || speedRPM > s.maxSpeedRPM {
		violations = append(violations, fmt.Sprintf("speed %d RPM outside (0, %d]", speedRPM, s.maxSpeedRPM))
	}
	if accel <= 0 || accel > s.maxAccel {
		violations = append(violations, fmt.Sprintf("acceleration %d outside (0, %d]", accel, s.maxAccel))
	}
	pulses, err := OutputToPulses(outputDeg, s.params.GearRatio, s.params.PulsesPerRev)
	if err != nil {
		violations = append(violations, err.Error())
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	if err := s.drv.RunAbsoluteMotion(uint16(speedRPM), uint8(accel), pulses); err != nil {
		return &DriverError{Op: "move", Err: err}
	}
	return nil
}

// SetZero declares the current position to be zero. The servo command is
// issued first; a mangled acknowledgement is tolerated because the servo
// executes the command regardless. The offset is then re-captured from a
// fresh encoder read; if that read fails the outcome is unconfirmed and the
// old offset stays in effect.
func (s *Stage) SetZero() (ZeroOutcome, error) {
	if !s.safety.MotionAllowed() {
		return ZeroOutcome{}, ErrSafetyBlocked
	}
	var out ZeroOutcome
	if err := s.drv.SetZeroAxis(); err != nil {
		if !errors.Is(err, servo.ErrUnparseableAck) {
			return ZeroOutcome{}, &DriverError{Op: "set zero", Err: err}
		}
		out.Warning = fmt.Sprintf("zero command acknowledgement unparseable: %v", err)
	}
	return s.captureZero(out)
}

// captureZero finishes a zeroing operation by reading back the encoder after
// the settle delay.
func (s *Stage) captureZero(out ZeroOutcome) (ZeroOutcome, error) {
	time.Sleep(s.settle)
	raw, err := s.drv.ReadEncoder()
	if err != nil {
		log.Printf("confirming zero: %v", err)
		out.Confirmed = false
		if out.Warning == "" {
			out.Warning = fmt.Sprintf("zero not confirmed: %v", err)
		}
		return out, nil
	}
	s.offset.Capture(raw)
	out.Confirmed = true
	return out, nil
}

// Home runs the servo's built-in homing routine and, on success, adopts the
// home position as the new zero. A failed run leaves the offset untouched and
// no encoder read is attempted.
func (s *Stage) Home() (ZeroOutcome, error) {
	if !s.safety.MotionAllowed() {
		return ZeroOutcome{}, ErrSafetyBlocked
	}
	if err := s.drv.ConfigureHoming(s.params.Homing); err != nil {
		return ZeroOutcome{}, &DriverError{Op: "configure homing", Err: err}
	}
	res, err := s.drv.TriggerHoming()
	if err != nil {
		return ZeroOutcome{}, &HomingError{Result: res, Err: err}
	}
	if res != servo.HomeSuccess {
		return ZeroOutcome{}, &HomingError{Result: res}
	}
	return s.captureZero(ZeroOutcome{})
}

// EmergencyStop halts the servo and latches the safety state. The latch is
// set even when the stop command itself fails; from then on every command is
// refused until a new session is connected.
func (s *Stage) EmergencyStop() error {
	err := s.drv.EmergencyStop()
	s.safety.TriggerEStop()
	if err != nil {
		return &DriverError{Op: "emergency stop", Err: err}
	}
	return nil
}

// SafetyState reports the current safety latch state.
func (s *Stage) SafetyState() SafetyState {
	return s.safety.State()
}

// Snapshot describes the stage's current configuration for status reporting.
type Snapshot struct {
	Subdivision   uint8       `json:"subdivision"`
	Interpolation bool        `json:"interpolation"`
	Calibrated    bool        `json:"calibrated"`
	GearRatio     float64     `json:"gear_ratio"`
	ZeroOffset    int64       `json:"zero_offset"`
	Safety        SafetyState `json:"-"`
	SafetyName    string      `json:"safety"`
	MaxSpeedRPM   int         `json:"max_speed_rpm"`
	MaxAccel      int         `json:"max_acceleration"`
}

func (s *Stage) Snapshot() Snapshot {
	s.mu.Lock()
	sub, interp, scale := s.subdivision, s.interpolation, s.scale
	s.mu.Unlock()
	st := s.safety.State()
	return Snapshot{
		Subdivision:   sub,
		Interpolation: interp,
		Calibrated:    scale != 0,
		GearRatio:     s.params.GearRatio,
		ZeroOffset:    s.offset.Current(),
		Safety:        st,
		SafetyName:    st.String(),
		MaxSpeedRPM:   s.maxSpeedRPM,
		MaxAccel:      s.maxAccel,
	}
}

// Package servo drives an MKS SERVO42D closed-loop stepper over a field bus.
// The same command set is reachable over CAN (socketcan), the vendor's RS485
// framing, or Modbus RTU; the stage core only sees the Driver interface.
package servo

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type Direction uint8

const (
	CW  Direction = 0
	CCW Direction = 1
)

func (d Direction) String() string {
	if d == CCW {
		return "ccw"
	}
	return "cw"
}

// HomeResult is the servo's answer to a go-home command.
type HomeResult uint8

const (
	HomeFail    HomeResult = 0
	HomeStart   HomeResult = 1
	HomeSuccess HomeResult = 2
)

func (r HomeResult) String() string {
	switch r {
	case HomeFail:
		return "fail"
	case HomeStart:
		return "start"
	case HomeSuccess:
		return "success"
	}
	return fmt.Sprintf("unknown(%d)", uint8(r))
}

// HomingParams configure the servo's built-in homing routine. In stall
// (noLimit) mode the trigger level is ignored and the servo must be
// pre-configured for stall homing via its own menu.
type HomingParams struct {
	TriggerLow bool
	Direction  Direction
	SpeedRPM   uint16
	EndLimit   bool
}

// Limits are the command limits a driver declares. Zero values mean the
// driver does not declare a limit and the caller should apply its defaults.
type Limits struct {
	MaxSpeedRPM     int
	MaxAcceleration int
}

var (
	// ErrUnparseableAck marks a reply that could not be parsed for a command
	// the servo is known to execute anyway. Callers may tolerate it.
	ErrUnparseableAck = errors.New("servo: unparseable acknowledgement")

	ErrNotConnected = errors.New("servo: not connected")

	// ErrTimeout means no matching reply arrived within the transport's
	// read timeout.
	ErrTimeout = errors.New("timeout")
)

// Driver is the capability set the motion core consumes.
type Driver interface {
	SetSubdivision(code uint8) error
	SetSubdivisionInterpolation(enabled bool) error
	// ReadEncoder returns the accumulated encoder value (raw feedback ticks).
	ReadEncoder() (int64, error)
	RunAbsoluteMotion(speedRPM uint16, accel uint8, pulses int32) error
	SetZeroAxis() error
	ConfigureHoming(p HomingParams) error
	TriggerHoming() (HomeResult, error)
	EmergencyStop() error
	Limits() Limits
	Close() error
}

// Transport moves single command frames to one servo and returns the reply
// payload. Implementations handle framing and checksums for their bus.
type Transport interface {
	// Roundtrip sends cmd with data and waits for the matching reply.
	// respLen is the expected reply payload length in bytes.
	Roundtrip(cmd byte, data []byte, respLen int) ([]byte, error)
	// Await waits for an unsolicited report frame for cmd. The servo sends a
	// second go-home reply when the homing run finishes.
	Await(cmd byte, respLen int, timeout time.Duration) ([]byte, error)
	Close() error
}

// DefaultHomingTimeout bounds how long TriggerHoming waits for the servo to
// report the end of a homing run.
const DefaultHomingTimeout = 60 * time.Second

// Device implements Driver on top of a frame Transport (CAN or RS485).
type Device struct {
	mu            sync.Mutex
	t             Transport
	homingTimeout time.Duration
}

func NewDevice(t Transport) *Device {
	return &Device{t: t, homingTimeout: DefaultHomingTimeout}
}

// Limits reports the limits fixed by the vendor command protocol.
func (d *Device) Limits() Limits {
	return Limits{MaxSpeedRPM: 3000, MaxAcceleration: 255}
}

func (d *Device) roundtrip(cmd byte, data []byte, respLen int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.t.Roundtrip(cmd, data, respLen)
}

// statusCmd issues a command whose reply is a single accept/reject byte.
func (d *Device) statusCmd(op string, cmd byte, data []byte) error {
	resp, err := d.roundtrip(cmd, data, 1)
	if err != nil {
		return fmt.Errorf("servo: %s: %w", op, err)
	}
	if resp[0] != statusAccepted {
		return fmt.Errorf("servo: %s rejected (status %d)", op, resp[0])
	}
	return nil
}

func (d *Device) SetSubdivision(code uint8) error {
	return d.statusCmd("set subdivision", cmdSetSubdivision, []byte{code})
}

func (d *Device) SetSubdivisionInterpolation(enabled bool) error {
	b := byte(0)
	if enabled {
		b = 1
	}
	return d.statusCmd("set interpolation", cmdSetInterpolation, []byte{b})
}

func (d *Device) ReadEncoder() (int64, error) {
	resp, err := d.roundtrip(cmdReadEncoder, nil, 6)
	if err != nil {
		return 0, fmt.Errorf("servo: read encoder: %w", err)
	}
	return decodeInt48(resp), nil
}

func (d *Device) RunAbsoluteMotion(speedRPM uint16, accel uint8, pulses int32) error {
	resp, err := d.roundtrip(cmdRunAbsolute, packAbsoluteMove(speedRPM, accel, pulses), 1)
	if err != nil {
		return fmt.Errorf("servo: run absolute motion: %w", err)
	}
	// 1 = run starting, 2 = already in position. 0 means rejected.
	if resp[0] == 0 {
		return errors.New("servo: run absolute motion rejected")
	}
	return nil
}

func (d *Device) SetZeroAxis() error {
	resp, err := d.roundtrip(cmdSetZeroAxis, nil, 1)
	if err != nil {
		// The servo routinely executes this command and then answers with a
		// frame some firmware revisions mangle. Surface that as the benign
		// variant so callers can proceed.
		var fe *FrameError
		if errors.As(err, &fe) {
			return fmt.Errorf("%w: %v", ErrUnparseableAck, fe)
		}
		return fmt.Errorf("servo: set zero axis: %w", err)
	}
	if resp[0] != statusAccepted {
		return fmt.Errorf("servo: set zero axis rejected (status %d)", resp[0])
	}
	return nil
}

func (d *Device) ConfigureHoming(p HomingParams) error {
	trig := byte(1)
	if p.TriggerLow {
		trig = 0
	}
	end := byte(0)
	if p.EndLimit {
		end = 1
	}
	data := []byte{trig, byte(p.Direction), byte(p.SpeedRPM >> 8), byte(p.SpeedRPM), end}
	return d.statusCmd("configure homing", cmdSetHomeParams, data)
}

func (d *Device) TriggerHoming() (HomeResult, error) {
	// Hold the bus for the whole run: a concurrent roundtrip would consume
	// and drop the unsolicited completion frame.
	d.mu.Lock()
	defer d.mu.Unlock()
	resp, err := d.t.Roundtrip(cmdGoHome, nil, 1)
	if err != nil {
		return HomeFail, fmt.Errorf("servo: trigger homing: %w", err)
	}
	res := HomeResult(resp[0])
	if res == HomeStart {
		// The run result arrives in a second, unsolicited reply.
		resp, err := d.t.Await(cmdGoHome, 1, d.homingTimeout)
		if err != nil {
			return HomeFail, fmt.Errorf("servo: homing result: %w", err)
		}
		res = HomeResult(resp[0])
	}
	if res > HomeSuccess {
		return HomeFail, fmt.Errorf("servo: unknown homing result %d", uint8(res))
	}
	return res, nil
}

func (d *Device) EmergencyStop() error {
	return d.statusCmd("emergency stop", cmdEmergencyStop, nil)
}

func (d *Device) Close() error {
	return d.t.Close()
}

package servo

import (
	"fmt"
	"sync"
	"time"

	"github.com/photonlab/stage_interface/internal/modbus"
)

// Register map of the servo's Modbus RTU gateway. Each holding register
// mirrors the corresponding frame command code.
const (
	regReadEncoder      uint16 = 0x31 // 3 registers, big-endian int48
	regSetSubdivision   uint16 = 0x84
	regSetInterpolation uint16 = 0x89
	regSetHomeParams    uint16 = 0x90 // 3 registers
	regGoHome           uint16 = 0x91 // write 1 to start, read back for result
	regSetZeroAxis      uint16 = 0x92
	regRunAbsolute      uint16 = 0xF5 // 3 registers
	regEmergencyStop    uint16 = 0xF7
)

// homePollInterval is how often the Modbus driver re-reads the go-home
// register while a homing run is in progress.
const homePollInterval = 200 * time.Millisecond

// ModbusDevice implements Driver over the servo's Modbus RTU gateway.
// Unlike the frame transports there are no unsolicited replies; long-running
// commands are finished by polling their register.
type ModbusDevice struct {
	mu            sync.Mutex
	client        *modbus.Client
	homingTimeout time.Duration
}

func NewModbusDevice(client *modbus.Client) *ModbusDevice {
	return &ModbusDevice{client: client, homingTimeout: DefaultHomingTimeout}
}

func (d *ModbusDevice) Limits() Limits {
	return Limits{MaxSpeedRPM: 3000, MaxAcceleration: 255}
}

func (d *ModbusDevice) writeReg(op string, addr uint16, value uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.client.WriteSingleRegister(addr, value); err != nil {
		return fmt.Errorf("servo: %s: %w", op, err)
	}
	return nil
}

func (d *ModbusDevice) SetSubdivision(code uint8) error {
	return d.writeReg("set subdivision", regSetSubdivision, uint16(code))
}

func (d *ModbusDevice) SetSubdivisionInterpolation(enabled bool) error {
	var v uint16
	if enabled {
		v = 1
	}
	return d.writeReg("set interpolation", regSetInterpolation, v)
}

func (d *ModbusDevice) ReadEncoder() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp, err := d.client.ReadHoldingRegisters(regReadEncoder, 3)
	if err != nil {
		return 0, fmt.Errorf("servo: read encoder: %w", err)
	}
	if len(resp) != 6 {
		return 0, fmt.Errorf("servo: read encoder: got %d bytes, want 6", len(resp))
	}
	return decodeInt48(resp), nil
}

func (d *ModbusDevice) RunAbsoluteMotion(speedRPM uint16, accel uint8, pulses int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	data := []byte{
		byte(speedRPM >> 8), byte(speedRPM),
		accel, byte(pulses >> 16),
		byte(pulses >> 8), byte(pulses),
	}
	if _, err := d.client.WriteMultipleRegisters(regRunAbsolute, 3, data); err != nil {
		return fmt.Errorf("servo: run absolute motion: %w", err)
	}
	return nil
}

func (d *ModbusDevice) SetZeroAxis() error {
	return d.writeReg("set zero axis", regSetZeroAxis, 1)
}

func (d *ModbusDevice) ConfigureHoming(p HomingParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	trig := byte(1)
	if p.TriggerLow {
		trig = 0
	}
	end := byte(0)
	if p.EndLimit {
		end = 1
	}
	data := []byte{
		trig, byte(p.Direction),
		byte(p.SpeedRPM >> 8), byte(p.SpeedRPM),
		0, end,
	}
	if _, err := d.client.WriteMultipleRegisters(regSetHomeParams, 3, data); err != nil {
		return fmt.Errorf("servo: configure homing: %w", err)
	}
	return nil
}

func (d *ModbusDevice) TriggerHoming() (HomeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.client.WriteSingleRegister(regGoHome, 1); err != nil {
		return HomeFail, fmt.Errorf("servo: trigger homing: %w", err)
	}
	deadline := time.Now().Add(d.homingTimeout)
	for {
		resp, err := d.client.ReadHoldingRegisters(regGoHome, 1)
		if err != nil {
			return HomeFail, fmt.Errorf("servo: homing result: %w", err)
		}
		if len(resp) != 2 {
			return HomeFail, fmt.Errorf("servo: homing result: got %d bytes, want 2", len(resp))
		}
		res := HomeResult(resp[1])
		if res != HomeStart {
			if res > HomeSuccess {
				return HomeFail, fmt.Errorf("servo: unknown homing result %d", uint8(res))
			}
			return res, nil
		}
		if time.Now().After(deadline) {
			return HomeFail, fmt.Errorf("servo: homing result: %w", ErrTimeout)
		}
		time.Sleep(homePollInterval)
	}
}

func (d *ModbusDevice) EmergencyStop() error {
	return d.writeReg("emergency stop", regEmergencyStop, 1)
}

func (d *ModbusDevice) Close() error {
	return d.client.Close()
}

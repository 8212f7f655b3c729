// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/photonlab/stage_interface/servo"
	"github.com/photonlab/stage_interface/stage"
)

// BusConfig selects and configures the field-bus transport.
type BusConfig struct {
	// Transport is one of "can", "serial", "modbus", "modbus-remote" or
	// "simulator".
	Transport string `yaml:"transport"`
	// Interface is the CAN network interface (transport "can").
	Interface string `yaml:"interface"`
	// ServoID is the servo's bus address / arbitration ID.
	ServoID uint16 `yaml:"servo_id"`
	// Port and Baud configure the serial transports.
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	// URL and Password reach a modbus_proxy instance (transport "modbus-remote").
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// StageConfig describes the mechanics of the rotation stage.
type StageConfig struct {
	GearRatio       float64 `yaml:"gear_ratio"`
	PulsesPerRev    int     `yaml:"pulses_per_rev"`
	PollIntervalMs  int     `yaml:"poll_interval_ms"`
	Subdivision     int     `yaml:"subdivision"`
	Interpolation   *bool   `yaml:"interpolation"`
	DefaultSpeedRPM int     `yaml:"default_speed_rpm"`
	DefaultAccel    int     `yaml:"default_acceleration"`
}

// HomingConfig configures the servo's built-in homing routine.
type HomingConfig struct {
	Direction string `yaml:"direction"` // "cw" or "ccw"
	SpeedRPM  int    `yaml:"speed_rpm"`
	EndLimit  bool   `yaml:"end_limit"`
}

// ServerConfig configures the HTTP/websocket surface.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Config aggregates the daemon configuration.
type Config struct {
	Bus    BusConfig    `yaml:"bus"`
	Stage  StageConfig  `yaml:"stage"`
	Homing HomingConfig `yaml:"homing"`
	// Calibration entries override the built-in feedback scales per
	// subdivision code.
	Calibration map[int]float64 `yaml:"calibration"`
	Server      ServerConfig    `yaml:"server"`
}

// Default returns the configuration used when no file is given: a simulated
// servo on a 17:1 stage.
func Default() *Config {
	cfg := &Config{}
	cfg.Bus.Transport = "simulator"
	cfg.Stage.GearRatio = 17.0
	applyDefaults(cfg)
	return cfg
}

// Load reads a YAML file, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if cfg.Bus.Transport == "" {
		cfg.Bus.Transport = "simulator"
	}
	switch cfg.Bus.Transport {
	case "can", "serial", "modbus", "modbus-remote", "simulator":
	default:
		return nil, fmt.Errorf("bus.transport must be can, serial, modbus, modbus-remote or simulator, got %q", cfg.Bus.Transport)
	}
	if cfg.Stage.GearRatio <= 0 {
		return nil, fmt.Errorf("stage.gear_ratio must be > 0, got %g", cfg.Stage.GearRatio)
	}
	if cfg.Homing.Direction != "" && cfg.Homing.Direction != "cw" && cfg.Homing.Direction != "ccw" {
		return nil, fmt.Errorf("homing.direction must be cw or ccw, got %q", cfg.Homing.Direction)
	}
	if cfg.Stage.Subdivision < 0 || cfg.Stage.Subdivision > 255 {
		return nil, fmt.Errorf("stage.subdivision must be in [1, 255], got %d", cfg.Stage.Subdivision)
	}
	for code, scale := range cfg.Calibration {
		if code < 1 || code > 255 {
			return nil, fmt.Errorf("calibration: invalid subdivision code %d", code)
		}
		if scale <= 0 {
			return nil, fmt.Errorf("calibration: scale for subdivision %d must be > 0, got %g", code, scale)
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Stage.PulsesPerRev <= 0 {
		cfg.Stage.PulsesPerRev = stage.DefaultPulsesPerRev
	}
	if cfg.Stage.PollIntervalMs <= 0 {
		cfg.Stage.PollIntervalMs = 100
	}
	if cfg.Stage.Subdivision == 0 {
		cfg.Stage.Subdivision = 1
	}
	if cfg.Stage.DefaultSpeedRPM <= 0 {
		cfg.Stage.DefaultSpeedRPM = 1000
	}
	if cfg.Stage.DefaultAccel <= 0 {
		cfg.Stage.DefaultAccel = 255
	}
	if cfg.Homing.SpeedRPM <= 0 {
		cfg.Homing.SpeedRPM = 50
	}
	if cfg.Bus.Baud <= 0 {
		cfg.Bus.Baud = 38400
	}
	if cfg.Bus.ServoID == 0 {
		cfg.Bus.ServoID = 1
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:8502"
	}
}

// PollInterval returns the position poll period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Stage.PollIntervalMs) * time.Millisecond
}

// Interpolation returns the startup interpolation setting, defaulting to on.
func (c *Config) Interpolation() bool {
	if c.Stage.Interpolation == nil {
		return true
	}
	return *c.Stage.Interpolation
}

// HomingParams converts the homing section to servo parameters.
func (c *Config) HomingParams() servo.HomingParams {
	dir := servo.CW
	if c.Homing.Direction == "ccw" {
		dir = servo.CCW
	}
	return servo.HomingParams{
		Direction: dir,
		SpeedRPM:  uint16(c.Homing.SpeedRPM),
		EndLimit:  c.Homing.EndLimit,
	}
}

// StageCalibration merges any per-code overrides over the built-in scales.
func (c *Config) StageCalibration() stage.Calibration {
	cal := stage.DefaultCalibration()
	for code, scale := range c.Calibration {
		cal[code] = scale
	}
	return cal
}

// StageParams assembles the stage parameters from the loaded configuration.
func (c *Config) StageParams() stage.Params {
	return stage.Params{
		GearRatio:     c.Stage.GearRatio,
		PulsesPerRev:  c.Stage.PulsesPerRev,
		Calibration:   c.StageCalibration(),
		Subdivision:   uint8(c.Stage.Subdivision),
		Interpolation: c.Interpolation(),
		Homing:        c.HomingParams(),
		PollInterval:  c.PollInterval(),
	}
}

//go:build !linux

package servo

import (
	"errors"
	"time"
)

// CANConfig configures the socketcan transport. Socketcan only exists on
// Linux; this stub keeps the package building elsewhere.
type CANConfig struct {
	Interface   string
	ID          uint16
	ReadTimeout time.Duration
}

func DialCAN(cfg CANConfig) (Transport, error) {
	return nil, errors.New("servo: socketcan transport requires linux")
}

package stage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/photonlab/stage_interface/servo"
)

// ErrSafetyBlocked is returned by every command while the emergency stop is
// latched. The driver is never contacted in that case.
var ErrSafetyBlocked = errors.New("stage: emergency stop active")

// ValidationError collects every violated constraint of a command so the
// caller can show all problems at once instead of fixing them one by one.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "stage: " + strings.Join(e.Violations, "; ")
}

// DriverError wraps a command that failed at the protocol layer. The
// operation is not retried; the decision is left to the operator.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("stage: %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// ConfigError reports which configuration step failed. Settings listed in
// Applied were already accepted by the servo and are not rolled back.
type ConfigError struct {
	Setting string
	Applied []string
	Err     error
}

func (e *ConfigError) Error() string {
	if len(e.Applied) > 0 {
		return fmt.Sprintf("stage: applying %s (after %s): %v",
			e.Setting, strings.Join(e.Applied, ", "), e.Err)
	}
	return fmt.Sprintf("stage: applying %s: %v", e.Setting, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// HomingError reports a homing run that did not end in an explicit success
// result. Responses the driver could not parse count as failures too.
type HomingError struct {
	Result servo.HomeResult
	Err    error
}

func (e *HomingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage: homing: %v", e.Err)
	}
	return fmt.Sprintf("stage: homing failed (servo result %s)", e.Result)
}

func (e *HomingError) Unwrap() error { return e.Err }

package stage

import "sync"

// SafetyState gates whether motion and configuration commands may be issued.
type SafetyState int

const (
	Normal SafetyState = iota
	EmergencyStopped
)

func (s SafetyState) String() string {
	switch s {
	case Normal:
		return "normal"
	case EmergencyStopped:
		return "emergency_stopped"
	}
	return "unknown"
}

// Safety is the emergency-stop latch. The transition to EmergencyStopped is
// one-way: there is no programmatic recovery, matching the physical safety
// semantics. Clearing the stop requires a fresh connection.
type Safety struct {
	mu    sync.RWMutex
	state SafetyState
}

// TriggerEStop latches the emergency stop. Idempotent.
func (s *Safety) TriggerEStop() {
	s.mu.Lock()
	s.state = EmergencyStopped
	s.mu.Unlock()
}

func (s *Safety) MotionAllowed() bool {
	return s.State() == Normal
}

func (s *Safety) State() SafetyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

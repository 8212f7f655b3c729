package stage

import "testing"

func TestSafetyLatch(t *testing.T) {
	var s Safety
	if !s.MotionAllowed() {
		t.Fatal("new latch should allow motion")
	}
	if got := s.State(); got != Normal {
		t.Errorf("state %v, want Normal", got)
	}
	s.TriggerEStop()
	if s.MotionAllowed() {
		t.Error("motion allowed after estop")
	}
	if got := s.State(); got != EmergencyStopped {
		t.Errorf("state %v, want EmergencyStopped", got)
	}
	// Idempotent, and one-way: there is no API to clear it.
	s.TriggerEStop()
	if s.MotionAllowed() {
		t.Error("motion allowed after repeated estop")
	}
}

func TestSafetyStateString(t *testing.T) {
	if got := Normal.String(); got != "normal" {
		t.Errorf("Normal = %q", got)
	}
	if got := EmergencyStopped.String(); got != "emergency_stopped" {
		t.Errorf("EmergencyStopped = %q", got)
	}
}

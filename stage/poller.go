package stage

import (
	"context"
	"log"
	"time"
)

// Run polls the encoder until ctx is cancelled and delivers one AngleSample
// per tick to the sample callback. While the emergency stop is latched the
// bus is left alone and no samples are published.
func (s *Stage) Run(ctx context.Context) error {
	t := time.NewTicker(s.params.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if !s.safety.MotionAllowed() {
			// Keep the display honest while stopped: an empty sample
			// each tick rather than freezing on the last angle. The
			// bus is left alone.
			s.publish(AngleSample{Time: time.Now()})
			continue
		}
		s.pollOnce()
	}
}

func (s *Stage) pollOnce() {
	sample := AngleSample{Time: time.Now()}
	raw, err := s.drv.ReadEncoder()
	if err != nil {
		log.Printf("polling encoder: %v", err)
		s.publish(sample)
		return
	}
	s.mu.Lock()
	scale := s.scale
	s.mu.Unlock()
	offset := s.offset.Current()
	if deg, ok := TicksToOutputDeg(raw, offset, scale, s.params.GearRatio); ok {
		sample.Value = &deg
		sample.Calibrated = true
	} else {
		// No feedback scale for the active subdivision; report raw
		// relative ticks so the operator still sees movement.
		rel := float64(raw - offset)
		sample.Value = &rel
	}
	s.publish(sample)
}

func (s *Stage) publish(sample AngleSample) {
	if s.sampleCb != nil {
		s.sampleCb(sample)
	}
}

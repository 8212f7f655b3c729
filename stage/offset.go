package stage

import "sync"

// Offset owns the raw feedback value that currently represents logical zero.
// It is replaced on set-zero and after successful homing, and reset whenever
// the calibration scale changes. Reads and writes are linearizable: the
// poller never observes a torn update.
type Offset struct {
	mu  sync.Mutex
	raw int64
}

// Capture atomically replaces the offset with the given raw reading.
func (o *Offset) Capture(raw int64) {
	o.mu.Lock()
	o.raw = raw
	o.mu.Unlock()
}

// Reset sets the offset back to zero. Used when the subdivision changes and
// the old offset no longer means anything.
func (o *Offset) Reset() {
	o.Capture(0)
}

func (o *Offset) Current() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.raw
}

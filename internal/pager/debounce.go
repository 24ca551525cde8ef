package pager

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period required after the last resize.
const DefaultDebounce = 150 * time.Millisecond

// Timer is the part of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// Clock schedules single shot callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer collapses bursts of triggers into one call made after the
// burst has been quiet for the configured delay. Fire runs on the clock's
// goroutine, so it should only hand work over to the owning event loop.
type Debouncer struct {
	mu    sync.Mutex
	clock Clock
	delay time.Duration
	fire  func()
	timer Timer
	seq   uint64
	done  bool
}

// NewDebouncer returns a debouncer using the system clock when clock is nil.
func NewDebouncer(delay time.Duration, clock Clock, fire func()) *Debouncer {
	if clock == nil {
		clock = systemClock{}
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{clock: clock, delay: delay, fire: fire}
}

// Trigger restarts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = d.clock.AfterFunc(d.delay, func() { d.expire(seq) })
}

func (d *Debouncer) expire(seq uint64) {
	d.mu.Lock()
	// a timer which already fired cannot be stopped, drop it here instead
	current := !d.done && seq == d.seq
	if current {
		d.timer = nil
	}
	d.mu.Unlock()

	if current {
		d.fire()
	}
}

// Stop cancels a pending call and disables the debouncer.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.done = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

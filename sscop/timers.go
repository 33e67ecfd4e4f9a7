package sscop

import (
	"sync"
	"time"
)

// AfterFuncTimers is a [TimerService] backed by [time.AfterFunc]. Each Arm or Disarm
// call starts a new generation for the timer; expiry callbacks carry the generation
// they were armed with so the receiver can discard expiries that raced with a re-arm.
type AfterFuncTimers struct {
	mu     sync.Mutex
	fire   func(id TimerID, gen uint64)
	timers [numTimers]*time.Timer
	gen    [numTimers]uint64
}

// NewAfterFuncTimers returns a timer service which calls fire on expiry from the timer's goroutine.
func NewAfterFuncTimers(fire func(id TimerID, gen uint64)) *AfterFuncTimers {
	return &AfterFuncTimers{fire: fire}
}

func (t *AfterFuncTimers) Arm(id TimerID, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm := t.timers[id]; tm != nil {
		tm.Stop()
	}
	t.gen[id]++
	gen := t.gen[id]
	t.timers[id] = time.AfterFunc(d, func() { t.fire(id, gen) })
}

func (t *AfterFuncTimers) Disarm(id TimerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen[id]++
	if tm := t.timers[id]; tm != nil {
		tm.Stop()
		t.timers[id] = nil
	}
}

// Current reports whether gen is the latest generation of timer id.
func (t *AfterFuncTimers) Current(id TimerID, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen[id] == gen
}

// Stop disarms all timers.
func (t *AfterFuncTimers) Stop() {
	for id := TimerID(0); id < numTimers; id++ {
		t.Disarm(id)
	}
}

package internal

import "time"

// Backoff sleeps with exponentially growing waits between failed attempts.
// The zero value is not usable; see [NewBackoff].
type Backoff struct {
	wait    time.Duration
	start   time.Duration
	maxWait time.Duration
}

// NewBackoff returns a Backoff that starts waiting start and doubles up to maxWait.
func NewBackoff(start, maxWait time.Duration) Backoff {
	if start <= 0 || maxWait < start {
		panic("invalid backoff bounds")
	}
	return Backoff{wait: start, start: start, maxWait: maxWait}
}

// Hit resets the wait after a successful attempt.
func (b *Backoff) Hit() { b.wait = b.start }

// Miss sleeps for the current wait and doubles it.
func (b *Backoff) Miss() {
	time.Sleep(b.wait)
	b.wait = min(2*b.wait, b.maxWait)
}

package client

import "time"

// Backoff yields reconnect delays that start at Base, double on every
// failed attempt, and stop growing at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	delay    time.Duration
	attempts int
}

// NewBackoff returns a backoff at its base delay.
func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max, delay: base}
}

// Next returns the delay before the next attempt and grows the one after it.
func (b *Backoff) Next() time.Duration {
	d := b.delay
	b.attempts++
	b.delay *= 2
	if b.delay > b.Max || b.delay <= 0 {
		b.delay = b.Max
	}
	return d
}

// Reset returns to the base delay after a successful connection.
func (b *Backoff) Reset() {
	b.delay = b.Base
	b.attempts = 0
}

// Attempts counts failures since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

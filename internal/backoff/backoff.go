// Package backoff computes retry delays. A Backoff whose Base equals Max
// yields a fixed interval.
package backoff

import "time"

type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

func New(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

// Fixed returns a Backoff that always waits d.
func Fixed(d time.Duration) *Backoff {
	return New(d, d)
}

func (b *Backoff) Next() time.Duration {
	d := b.Base << b.attempt
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	if d < b.Max {
		b.attempt++
	}
	return d
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

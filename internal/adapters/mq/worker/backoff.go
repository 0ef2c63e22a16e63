package worker

import (
	"math/rand/v2"
	"time"
)

const maxBackoffShift = 20

// Backoff computes exponential retry delays with ±25% jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// Int63n draws jitter; nil uses math/rand/v2.
	Int63n func(n int64) int64
}

// DefaultBackoff starts at 5s and caps at one hour.
func DefaultBackoff() Backoff {
	return Backoff{Base: 5 * time.Second, Max: time.Hour}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := b.Base * time.Duration(1<<shift)
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	if d < 4 {
		return d
	}
	draw := b.Int63n
	if draw == nil {
		draw = rand.Int64N
	}
	jitter := time.Duration(draw(int64(d/2))) - d/4
	return d + jitter
}

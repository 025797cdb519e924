package supervisor

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the sleep taken after repeated faults.
//
// Duration(n) is zero for n <= 1 and base*2^(n-1) otherwise, stretched by a
// random factor in [1, 1+Jitter) and clamped to Max. Jitter is capped at 1 so
// the result never decreases as n grows.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	rand func() float64
}

// DefaultBackoff returns the retrieval loop's backoff policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   time.Second,
		Max:    30 * time.Second,
		Jitter: 0.25,
	}
}

// Duration returns the sleep for the given consecutive failure count.
func (b Backoff) Duration(failures int) time.Duration {
	if failures <= 1 || b.Max <= 0 {
		return 0
	}

	exp := failures - 1
	if exp > 32 {
		exp = 32
	}
	d := float64(b.Base) * math.Pow(2, float64(exp))

	jitter := math.Min(math.Max(b.Jitter, 0), 1)
	if jitter > 0 {
		rnd := b.rand
		if rnd == nil {
			rnd = rand.Float64
		}
		d *= 1 + jitter*rnd()
	}

	if d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

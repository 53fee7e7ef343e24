package core

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Random is a seedable, concurrency-safe source used for opener selection,
// pair caps, turn jitter and demo encounters.
type Random struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandom returns a deterministic source for the given seed.
func NewRandom(seed uint64) *Random {
	return &Random{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewTimeSeededRandom returns a source seeded from the current time.
func NewTimeSeededRandom() *Random {
	return NewRandom(uint64(time.Now().UnixNano()))
}

// Float64 returns a value in [0,1).
func (r *Random) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// IntBetween returns a uniform integer in [lo, hi]. Reversed bounds are swapped.
func (r *Random) IntBetween(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.r.IntN(hi-lo+1)
}

// DurationBetween returns a uniform duration in [lo, hi).
func (r *Random) DurationBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.Float64()*float64(hi-lo))
}

// Pick returns a or b with equal probability.
func (r *Random) Pick(a, b string) string {
	if r.Float64() < 0.5 {
		return a
	}
	return b
}

package client

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: Min grows by Multiplier per failed attempt
// up to Max, plus up to Jitter (a fraction of the delay) of random spread.
type Backoff struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.Min <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(b.Min) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 && rng != nil {
		delay += delay * b.Jitter * rng.Float64()
	}
	return time.Duration(delay)
}

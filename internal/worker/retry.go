package worker

import (
	"math"
	"time"
)

// RetryPolicy spaces out batch rounds after systemic failures.
type RetryPolicy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy backs off from 5s up to 5 minutes.
var DefaultRetryPolicy = RetryPolicy{InitialDelay: 5 * time.Second, MaxDelay: 5 * time.Minute, BackoffFactor: 2}

// NextDelay returns delay for a given consecutive failure (1-based) with clamping.
func (r RetryPolicy) NextDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(failures-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && (d > r.MaxDelay || delay > float64(math.MaxInt64)) {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

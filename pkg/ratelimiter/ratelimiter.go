// Package ratelimiter implements the 500/50/5 ramping token bucket from
// spec §4.5: start at 500 ops/s, grow the permitted rate by 50% every 5
// minutes, with bucket capacity tracking the current rate.
package ratelimiter

import (
	"math"
	"time"
)

// Defaults for the 500/50/5 rule.
const (
	DefaultStartRate     = 500.0
	DefaultMultiplier    = 1.5
	DefaultPhaseDuration = 5 * time.Minute
)

// Limiter is a single token bucket whose capacity ramps over time. It is
// not safe for concurrent use without external synchronization; each
// BulkWriter owns one instance and serializes access to it under its mutex.
type Limiter struct {
	startTime     time.Time
	startRate     float64
	multiplier    float64
	phaseDuration time.Duration

	availableTokens float64
	lastRefill      time.Time
}

// New builds a Limiter starting its ramp at startTime, with the bucket
// initially full at the starting rate.
func New(startTime time.Time) *Limiter {
	return &Limiter{
		startTime:       startTime,
		startRate:       DefaultStartRate,
		multiplier:      DefaultMultiplier,
		phaseDuration:   DefaultPhaseDuration,
		availableTokens: DefaultStartRate,
		lastRefill:      startTime,
	}
}

// CapacityAt returns the permitted steady-state rate (and bucket capacity)
// at t: start * multiplier^floor((t-start)/phase).
func (l *Limiter) CapacityAt(t time.Time) float64 {
	elapsed := t.Sub(l.startTime).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	phases := math.Floor(elapsed / l.phaseDuration.Seconds())
	return l.startRate * math.Pow(l.multiplier, phases)
}

// refill tops up availableTokens for the time elapsed since the last call,
// accruing at the rate in effect at now and never exceeding that rate's
// capacity.
func (l *Limiter) refill(now time.Time) float64 {
	capacity := l.CapacityAt(now)
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.availableTokens = math.Min(capacity, l.availableTokens+elapsed*capacity)
	} else if l.availableTokens > capacity {
		l.availableTokens = capacity
	}
	l.lastRefill = now
	return capacity
}

// TryMakeRequest attempts to deduct n tokens at time now. It reports
// whether the request is permitted; on success, n tokens are deducted.
func (l *Limiter) TryMakeRequest(n float64, now time.Time) bool {
	l.refill(now)
	if l.availableTokens < n {
		return false
	}
	l.availableTokens -= n
	return true
}

// GetNextRequestDelayMs returns how long the caller must wait before n
// tokens would be available, in milliseconds. It returns -1 if n exceeds
// the capacity the bucket could ever hold at the current phase ("never").
func (l *Limiter) GetNextRequestDelayMs(n float64, now time.Time) int64 {
	capacity := l.refill(now)
	if n > capacity {
		return -1
	}
	if l.availableTokens >= n {
		return 0
	}
	needed := n - l.availableTokens
	seconds := needed / capacity
	return int64(math.Ceil(seconds * 1000))
}

// AvailableTokens reports the current token count as of the last refill,
// for tests and metrics.
func (l *Limiter) AvailableTokens() float64 {
	return l.availableTokens
}

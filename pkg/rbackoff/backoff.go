// Package rbackoff implements the exponential-backoff-with-jitter policy
// from spec §4.2, wrapping github.com/cenkalti/backoff/v4.
package rbackoff

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// InitialInterval is the first retry delay.
	InitialInterval = 1000 * time.Millisecond
	// Multiplier grows the delay between attempts.
	Multiplier = 1.5
	// MaxInterval caps the delay regardless of attempt count.
	MaxInterval = 60 * time.Second
	// RandomizationFactor is the multiplicative jitter: actual delay is
	// drawn uniformly from [interval*(1-f), interval*(1+f)].
	RandomizationFactor = 0.5
)

// Policy is a stateful backoff sequence: each call to Next advances the
// underlying exponential interval and returns a jittered delay.
type Policy struct {
	bo  *backoff.ExponentialBackOff
	rng *rand.Rand
}

// NewPolicy returns a Policy configured to spec §4.2's parameters.
func NewPolicy() *Policy {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = InitialInterval
	bo.Multiplier = Multiplier
	bo.MaxInterval = MaxInterval
	bo.RandomizationFactor = RandomizationFactor
	bo.MaxElapsedTime = 0 // attempt counts, not elapsed time, bound retries
	bo.Reset()
	return &Policy{
		bo:  bo,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next advances the policy and returns the next jittered delay.
func (p *Policy) Next() time.Duration {
	d := p.bo.NextBackOff()
	if d == backoff.Stop {
		return p.jitter(p.bo.MaxInterval)
	}
	return d
}

// PegToMax forces the policy to its maximum interval immediately — the
// "max" path spec §4.2 requires for resource-exhaustion errors — and
// returns a jittered delay drawn from that interval. Subsequent Next calls
// continue to return max-interval delays until Reset.
func (p *Policy) PegToMax() time.Duration {
	p.bo.CurrentInterval = p.bo.MaxInterval
	return p.jitter(p.bo.MaxInterval)
}

// Reset restarts the policy at its initial interval, for a fresh retry
// sequence (e.g. a new transaction attempt or a new Watch reconnect cycle).
func (p *Policy) Reset() {
	p.bo.Reset()
}

func (p *Policy) jitter(base time.Duration) time.Duration {
	if RandomizationFactor <= 0 {
		return base
	}
	delta := RandomizationFactor * float64(base)
	lo := float64(base) - delta
	hi := float64(base) + delta
	return time.Duration(lo + p.rng.Float64()*(hi-lo))
}

// Package pool implements the channel-multiplexed client pool from spec
// §4.1: it leases underlying RPC clients respecting a per-client
// concurrent-request cap, creating new clients on demand and retiring idle
// ones beyond a configurable watermark.
package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/firekit/pkg/log"
	"github.com/cuemby/firekit/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultCapacity is C from spec §4.1: the maximum number of concurrent
// outstanding operations a single underlying client may carry.
const DefaultCapacity = 100

// DefaultMaxIdle is the default number of idle (zero-in-flight) clients
// retained for reuse; 0 disables idle caching entirely.
const DefaultMaxIdle = 1

// ErrTerminated is returned by Run once Terminate has been called.
var ErrTerminated = errors.New("pool: terminated")

// Factory creates a new underlying client.
type Factory[C any] func(ctx context.Context) (C, error)

// Destroyer releases an underlying client's resources.
type Destroyer[C any] func(C) error

type entry[C any] struct {
	id       string
	client   C
	inFlight int
}

// Pool leases clients of type C, each capped at Capacity concurrent
// operations, and garbage-collects idle clients beyond MaxIdle.
type Pool[C any] struct {
	Capacity int
	MaxIdle  int

	factory Factory[C]
	destroy Destroyer[C]
	logger  zerolog.Logger

	mu          sync.Mutex
	entries     []*entry[C]
	terminating bool
	wg          sync.WaitGroup
}

// New builds a Pool. capacity <= 0 uses DefaultCapacity; maxIdle < 0 uses
// DefaultMaxIdle.
func New[C any](capacity, maxIdle int, factory Factory[C], destroy Destroyer[C]) *Pool[C] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxIdle < 0 {
		maxIdle = DefaultMaxIdle
	}
	return &Pool[C]{
		Capacity: capacity,
		MaxIdle:  maxIdle,
		factory:  factory,
		destroy:  destroy,
		logger:   log.WithComponent("pool"),
	}
}

// Run leases a client with spare capacity (creating one via the factory if
// none is available), invokes fn, and releases the lease when fn returns.
func (p *Pool[C]) Run(ctx context.Context, tag string, fn func(C) error) error {
	p.mu.Lock()
	if p.terminating {
		p.mu.Unlock()
		return ErrTerminated
	}
	e := p.leaseLocked()
	if e == nil {
		p.mu.Unlock()
		client, err := p.factory(ctx)
		if err != nil {
			return err
		}
		p.mu.Lock()
		if p.terminating {
			p.mu.Unlock()
			_ = p.destroy(client)
			return ErrTerminated
		}
		e = &entry[C]{id: uuid.NewString(), client: client}
		p.entries = append(p.entries, e)
		p.logger.Debug().Str("tag", tag).Str("client_id", e.id).Msg("created client")
		metrics.PoolChannelsOpen.Set(float64(len(p.entries)))
	}
	e.inFlight++
	p.wg.Add(1)
	metrics.PoolLeasesInFlight.Inc()
	p.mu.Unlock()

	err := fn(e.client)

	p.mu.Lock()
	e.inFlight--
	p.wg.Done()
	victims := p.gcLocked()
	if len(victims) > 0 {
		metrics.PoolChannelsOpen.Set(float64(len(p.entries)))
	}
	p.mu.Unlock()
	metrics.PoolLeasesInFlight.Dec()

	for _, v := range victims {
		_ = p.destroy(v.client)
	}
	return err
}

// leaseLocked returns the first entry with spare capacity, or nil.
// mu must be held.
func (p *Pool[C]) leaseLocked() *entry[C] {
	for _, e := range p.entries {
		if e.inFlight < p.Capacity {
			return e
		}
	}
	return nil
}

// gcLocked removes idle entries beyond MaxIdle from p.entries and returns
// them for destruction outside the lock. mu must be held.
func (p *Pool[C]) gcLocked() []*entry[C] {
	idleCount := 0
	for _, e := range p.entries {
		if e.inFlight == 0 {
			idleCount++
		}
	}
	if idleCount <= p.MaxIdle {
		return nil
	}
	toRemove := idleCount - p.MaxIdle
	var victims []*entry[C]
	kept := p.entries[:0:0]
	for _, e := range p.entries {
		if e.inFlight == 0 && toRemove > 0 {
			victims = append(victims, e)
			toRemove--
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
	return victims
}

// Terminate forbids new leases, waits for all in-flight operations to
// complete, and destroys every remaining client.
func (p *Pool[C]) Terminate(ctx context.Context) error {
	p.mu.Lock()
	p.terminating = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := p.destroy(e.client); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats reports the current number of pooled clients and the total
// in-flight operation count, for tests and metrics.
type Stats struct {
	Clients   int
	InFlight  int
	MaxInUse  int
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Clients: len(p.entries)}
	for _, e := range p.entries {
		s.InFlight += e.inFlight
		if e.inFlight > s.MaxInUse {
			s.MaxInUse = e.inFlight
		}
	}
	return s
}

package ratelimit

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// maxLag bounds how far the schedule may fall behind the clock before it is
// reset, so a stalled poll loop does not release a burst afterwards.
const maxLag = time.Second

// PoissonGate admits attempts at exponentially distributed intervals, which
// approximates a Poisson arrival process with the given mean rate.
type PoissonGate struct {
	mu     sync.Mutex
	clock  Clock
	rate   float64
	sample func() float64
	next   time.Time
}

// NewPoissonGate creates a gate. sample must return Exp(1) variates; nil uses
// a source seeded with seed.
func NewPoissonGate(rate float64, sample func() float64, seed int64, opts ...Option) (*PoissonGate, error) {
	if !positiveFinite(rate) {
		return nil, fmt.Errorf("poisson gate: %w (got %v)", ErrInvalidRate, rate)
	}
	if sample == nil {
		sample = rand.New(rand.NewSource(seed)).ExpFloat64
	}
	o := buildOptions(opts)
	return &PoissonGate{
		clock:  o.clock,
		rate:   rate,
		sample: sample,
		next:   o.clock.Now(),
	}, nil
}

// Allow admits when the scheduled arrival time has been reached and then
// schedules the following arrival.
func (p *PoissonGate) Allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if now.Before(p.next) {
		return false
	}
	if now.Sub(p.next) > maxLag {
		p.next = now
	}
	p.next = p.next.Add(p.nextDelay())
	return true
}

func (p *PoissonGate) nextDelay() time.Duration {
	delay := float64(time.Second) * p.sample() / p.rate
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	// ErrInvalidRate is returned when the refill rate is not a positive finite number.
	ErrInvalidRate = errors.New("rate must be > 0")
	// ErrInvalidCapacity is returned when the bucket capacity is not a positive finite number.
	ErrInvalidCapacity = errors.New("capacity must be > 0")
)

// Admitter reports whether the next attempt may proceed.
type Admitter interface {
	Allow() bool
}

// Option customizes an admitter.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TokenBucket is a continuous-refill token bucket. Tokens accrue at rate per
// second up to capacity and each admitted attempt consumes exactly one.
type TokenBucket struct {
	mu         sync.Mutex
	clock      Clock
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(rate, capacity float64, opts ...Option) (*TokenBucket, error) {
	if !positiveFinite(rate) {
		return nil, fmt.Errorf("token bucket: %w (got %v)", ErrInvalidRate, rate)
	}
	if !positiveFinite(capacity) {
		return nil, fmt.Errorf("token bucket: %w (got %v)", ErrInvalidCapacity, capacity)
	}
	o := buildOptions(opts)
	return &TokenBucket{
		clock:      o.clock,
		rate:       rate,
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: o.clock.Now(),
	}, nil
}

// Allow refills the bucket for the time elapsed since the previous call and
// consumes one token if at least one is available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.clock.Now())
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// Tokens returns the current token count without refilling.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (b *TokenBucket) Rate() float64     { return b.rate }
func (b *TokenBucket) Capacity() float64 { return b.capacity }

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
	}
	b.lastRefill = now
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

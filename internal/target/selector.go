package target

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

var (
	// ErrNoTargets is returned when a selector is built from an empty list.
	ErrNoTargets = errors.New("at least one target is required")
	// ErrZeroWeight is returned when all target weights sum to zero.
	ErrZeroWeight = errors.New("target weights must sum to > 0")
)

// Selector picks targets with probability proportional to their weight.
type Selector struct {
	targets     []Target
	totalWeight uint64
	mu          sync.Mutex
	rnd         *rand.Rand
}

// NewSelector validates targets and captures them in order. A nil rnd is
// seeded from the current time.
func NewSelector(targets []Target, rnd *rand.Rand) (*Selector, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	total := TotalWeight(targets)
	if total == 0 {
		return nil, ErrZeroWeight
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{
		targets:     append([]Target(nil), targets...),
		totalWeight: total,
		rnd:         rnd,
	}, nil
}

// Pick draws r uniformly from [0, totalWeight) and returns Select(targets, r).
func (s *Selector) Pick() Target {
	s.mu.Lock()
	r := uint64(s.rnd.Int63n(int64(s.totalWeight)))
	s.mu.Unlock()
	return Select(s.targets, r)
}

func (s *Selector) TotalWeight() uint64 { return s.totalWeight }

// Targets returns a copy of the configured targets.
func (s *Selector) Targets() []Target {
	return append([]Target(nil), s.targets...)
}

// Select walks targets in order, subtracting each weight from r until r falls
// below the current weight. Zero-weight targets are never returned. If r is
// not consumed by the last target the first target is returned.
func Select(targets []Target, r uint64) Target {
	if len(targets) == 0 {
		return Target{}
	}
	for _, t := range targets {
		w := uint64(t.Weight)
		if r < w {
			return t
		}
		r -= w
	}
	return targets[0]
}

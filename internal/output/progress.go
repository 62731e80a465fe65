package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/yalt-io/yalt/internal/metrics"
)

// InFlightFunc reports outstanding attempts for the progress line.
type InFlightFunc func() int64

// ProgressReporter rewrites a single status line at a fixed interval.
type ProgressReporter struct {
	collector *metrics.Collector
	inFlight  InFlightFunc
	interval  time.Duration
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. inFlight may be nil.
func NewProgressReporter(collector *metrics.Collector, inFlight InFlightFunc, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		inFlight:  inFlight,
		interval:  interval,
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	p.start = time.Now()
	go p.run()
}

// Stop halts progress updates. It is safe to call without Start.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(p.writer, "\r"+p.line(time.Since(p.start)))
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line(elapsed time.Duration) string {
	stats := p.collector.Stats(elapsed)
	line := fmt.Sprintf("Attempts: %d | Successes: %d | Failures: %d | Rate: %.1f/s",
		stats.Total, stats.Successes, stats.Failures, stats.AttemptsPerSec)
	if p.inFlight != nil {
		line += fmt.Sprintf(" | In flight: %d", p.inFlight())
	}
	if stats.Total > 0 {
		line += fmt.Sprintf(" | P99 %.1fms", stats.P99LatencyMs)
	}
	return line
}

package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector records per-attempt metrics in a thread-safe manner.
type Collector struct {
	mu         sync.Mutex
	hist       *hdrhistogram.Histogram
	successes  int64
	failures   int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
	errorKinds map[string]int64
	targets    map[string]*targetCounters
	start      time.Time
}

type targetCounters struct {
	successes int64
	failures  int64
	hist      *hdrhistogram.Histogram
}

// Stats represents aggregated metrics.
type Stats struct {
	Total          int64         `json:"total" yaml:"total"`
	Successes      int64         `json:"successes" yaml:"successes"`
	Failures       int64         `json:"failures" yaml:"failures"`
	MinLatency     time.Duration `json:"-" yaml:"-"`
	MaxLatency     time.Duration `json:"-" yaml:"-"`
	MeanLatency    time.Duration `json:"-" yaml:"-"`
	P50Latency     time.Duration `json:"-" yaml:"-"`
	P90Latency     time.Duration `json:"-" yaml:"-"`
	P95Latency     time.Duration `json:"-" yaml:"-"`
	P99Latency     time.Duration `json:"-" yaml:"-"`
	Duration       time.Duration `json:"-" yaml:"-"`
	AttemptsPerSec float64       `json:"attempts_per_sec" yaml:"attempts_per_sec"`

	MinLatencyMs  float64                `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64                `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64                `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64                `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64                `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P95LatencyMs  float64                `json:"p95_latency_ms" yaml:"p95_latency_ms"`
	P99LatencyMs  float64                `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	DurationMs    float64                `json:"duration_ms" yaml:"duration_ms"`
	Errors        map[string]int         `json:"errors,omitempty" yaml:"errors,omitempty"`
	Targets       map[string]TargetStats `json:"targets,omitempty" yaml:"targets,omitempty"`
}

// TargetStats is the per-target slice of Stats.
type TargetStats struct {
	Total        int64         `json:"total" yaml:"total"`
	Successes    int64         `json:"successes" yaml:"successes"`
	Failures     int64         `json:"failures" yaml:"failures"`
	Share        float64       `json:"share" yaml:"share"`
	P99Latency   time.Duration `json:"-" yaml:"-"`
	P99LatencyMs float64       `json:"p99_latency_ms" yaml:"p99_latency_ms"`
}

func newHistogram() *hdrhistogram.Histogram {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return hdrhistogram.New(1, 60_000_000, 3)
}

func NewCollector() *Collector {
	return &Collector{
		hist:       newHistogram(),
		errorKinds: make(map[string]int64),
		targets:    make(map[string]*targetCounters),
		start:      time.Now(),
	}
}

// Start resets the reference time used by Elapsed.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Elapsed returns the time since NewCollector or the last Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// RecordAttempt records a single attempt's latency and error state against
// the target address.
func (c *Collector) RecordAttempt(target string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tc, ok := c.targets[target]
	if !ok {
		tc = &targetCounters{hist: newHistogram()}
		c.targets[target] = tc
	}

	if latency > 0 {
		us := clampMicros(c.hist, latency)
		_ = c.hist.RecordValue(us)
		_ = tc.hist.RecordValue(us)
	}
	c.sumLatency += latency
	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}

	if err == nil {
		c.successes++
		tc.successes++
		return
	}
	c.failures++
	tc.failures++
	c.errorKinds[ErrorKind(err)]++
}

func clampMicros(h *hdrhistogram.Histogram, latency time.Duration) int64 {
	us := latency.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	return us
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Total:      total,
		Successes:  c.successes,
		Failures:   c.failures,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}

	if total > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / total)
	}
	if c.hist.TotalCount() > 0 {
		stats.P50Latency = quantile(c.hist, 50)
		stats.P90Latency = quantile(c.hist, 90)
		stats.P95Latency = quantile(c.hist, 95)
		stats.P99Latency = quantile(c.hist, 99)
	}

	stats.MinLatencyMs = millis(stats.MinLatency)
	stats.MaxLatencyMs = millis(stats.MaxLatency)
	stats.MeanLatencyMs = millis(stats.MeanLatency)
	stats.P50LatencyMs = millis(stats.P50Latency)
	stats.P90LatencyMs = millis(stats.P90Latency)
	stats.P95LatencyMs = millis(stats.P95Latency)
	stats.P99LatencyMs = millis(stats.P99Latency)

	stats.Duration = elapsed
	stats.DurationMs = millis(elapsed)
	if elapsed > 0 && total > 0 {
		stats.AttemptsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.errorKinds) > 0 {
		stats.Errors = make(map[string]int, len(c.errorKinds))
		for k, v := range c.errorKinds {
			stats.Errors[k] = int(v)
		}
	}

	if len(c.targets) > 0 {
		stats.Targets = make(map[string]TargetStats, len(c.targets))
		for name, tc := range c.targets {
			ts := TargetStats{
				Total:     tc.successes + tc.failures,
				Successes: tc.successes,
				Failures:  tc.failures,
			}
			if total > 0 {
				ts.Share = float64(ts.Total) / float64(total)
			}
			if tc.hist.TotalCount() > 0 {
				ts.P99Latency = quantile(tc.hist, 99)
				ts.P99LatencyMs = millis(ts.P99Latency)
			}
			stats.Targets[name] = ts
		}
	}

	return stats
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ErrorKind labels err for the failure breakdown.
func ErrorKind(err error) string {
	var k interface{ Kind() string }
	switch {
	case err == nil:
		return ""
	case errors.As(err, &k):
		return k.Kind()
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

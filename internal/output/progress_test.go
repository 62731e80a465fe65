package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yalt-io/yalt/internal/metrics"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressLine(t *testing.T) {
	collector := metrics.NewCollector()
	for i := 0; i < 5; i++ {
		collector.RecordAttempt("a:1", 30*time.Millisecond, nil)
	}

	p := NewProgressReporter(collector, func() int64 { return 3 }, time.Second, nil)
	line := p.line(time.Second)

	for _, want := range []string{"Attempts: 5", "Successes: 5", "Failures: 0", "Rate: 5.0/s", "In flight: 3", "P99 30.0ms"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestProgressReporterWrites(t *testing.T) {
	collector := metrics.NewCollector()
	collector.RecordAttempt("a:1", time.Millisecond, nil)

	var buf syncBuffer
	reporter := NewProgressReporter(collector, nil, 20*time.Millisecond, &buf)
	reporter.Start()
	reporter.Start()
	time.Sleep(100 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	out := buf.String()
	if !strings.Contains(out, "\rAttempts: 1") {
		t.Errorf("output = %q, want a progress line", out)
	}
	if strings.Contains(out, "In flight") {
		t.Error("in-flight count shown without a source")
	}
}

func TestProgressReporterStopWithoutStart(t *testing.T) {
	reporter := NewProgressReporter(metrics.NewCollector(), nil, time.Second, nil)
	reporter.Stop()
}

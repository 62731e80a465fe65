// Package output renders run results: the summary lines, the extended
// report in text, JSON or YAML, and the live progress line.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yalt-io/yalt/internal/metrics"
	"github.com/yalt-io/yalt/internal/store"
	"github.com/yalt-io/yalt/internal/threshold"
)

// Report is everything printed after a run.
type Report struct {
	Sent               uint64             `json:"sent" yaml:"sent"`
	AverageRPS         float64            `json:"average_rps" yaml:"average_rps"`
	Database           string             `json:"database,omitempty" yaml:"database,omitempty"`
	Persisted          *store.Counts      `json:"persisted,omitempty" yaml:"persisted,omitempty"`
	InFlight           int64              `json:"in_flight" yaml:"in_flight"`
	PersistFailures    int64              `json:"persist_failures" yaml:"persist_failures"`
	SuppressedFailures int64              `json:"suppressed_failure_logs" yaml:"suppressed_failure_logs"`
	Stats              metrics.Stats      `json:"attempts" yaml:"attempts"`
	Thresholds         []threshold.Result `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// PrintSummary writes the two summary lines.
func PrintSummary(w io.Writer, sent uint64, averageRPS float64) {
	fmt.Fprintf(w, "Total requests sent: %d\n", sent)
	fmt.Fprintf(w, "Average RPS: %.2f\n", averageRPS)
}

// PrintReport outputs a human-readable report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintln(w, "\n--- Attempt Results ---")
	fmt.Fprintf(w, "Completed:         %d\n", stats.Total)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failures)
	fmt.Fprintf(w, "Elapsed:           %s\n", stats.Duration)
	fmt.Fprintf(w, "Attempts/sec:      %.2f\n", stats.AttemptsPerSec)
	if r.InFlight > 0 {
		fmt.Fprintf(w, "Still in flight:   %d\n", r.InFlight)
	}
	fmt.Fprintln(w, "\nLatency (connect + write):")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)

	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, kind := range sortedKeys(stats.Errors) {
			fmt.Fprintf(w, "  %s: %d\n", kind, stats.Errors[kind])
		}
	}

	if len(stats.Targets) > 0 {
		fmt.Fprintln(w, "\nTarget Breakdown:")
		names := make([]string, 0, len(stats.Targets))
		for name := range stats.Targets {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			a, b := stats.Targets[names[i]], stats.Targets[names[j]]
			if a.Total != b.Total {
				return a.Total > b.Total
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			t := stats.Targets[name]
			fmt.Fprintf(w, "  - %s: total=%d (%.1f%%), successes=%d, failures=%d, p99=%s\n",
				name, t.Total, t.Share*100, t.Successes, t.Failures, t.P99Latency)
		}
	}

	if r.Database != "" {
		fmt.Fprintf(w, "\nMetrics database:  %s\n", r.Database)
		if r.Persisted != nil {
			fmt.Fprintf(w, "  Rows:            %d (%d successes, %d failures)\n",
				r.Persisted.Total, r.Persisted.Successes, r.Persisted.Failures)
		}
	}
	if r.PersistFailures > 0 {
		fmt.Fprintf(w, "Unpersisted:       %d\n", r.PersistFailures)
	}
	if r.SuppressedFailures > 0 {
		fmt.Fprintf(w, "Suppressed logs:   %d\n", r.SuppressedFailures)
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

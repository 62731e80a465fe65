package threshold

import (
	"strings"
	"testing"
	"time"

	"github.com/yalt-io/yalt/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "p99 latency",
			input: "attempt_duration:p99 < 50",
			want:  Threshold{Metric: "attempt_duration", Aggregate: "p99", Operator: "<", Value: 50, Raw: "attempt_duration:p99 < 50"},
		},
		{
			name:  "failure rate",
			input: "attempt_failed:rate < 0.01",
			want:  Threshold{Metric: "attempt_failed", Aggregate: "rate", Operator: "<", Value: 0.01, Raw: "attempt_failed:rate < 0.01"},
		},
		{
			name:  "attempt rate with >=",
			input: "  attempts:rate >= 190  ",
			want:  Threshold{Metric: "attempts", Aggregate: "rate", Operator: ">=", Value: 190, Raw: "attempts:rate >= 190"},
		},
		{
			name:  "no spaces",
			input: "attempt_failed:count==0",
			want:  Threshold{Metric: "attempt_failed", Aggregate: "count", Operator: "==", Value: 0, Raw: "attempt_failed:count==0"},
		},
		{name: "empty string", input: "", wantError: true},
		{name: "missing aggregate", input: "attempt_duration < 5", wantError: true},
		{name: "unknown metric", input: "http_req_duration:p99 < 5", wantError: true},
		{name: "aggregate not valid for metric", input: "attempts:p99 < 5", wantError: true},
		{name: "bad operator", input: "attempts:rate != 5", wantError: true},
		{name: "negative value", input: "attempts:rate > -5", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantError {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %+v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMultipleReportsEveryError(t *testing.T) {
	_, err := ParseMultiple([]string{"attempts:rate > 1", "bogus", "attempts:p50 < 1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "threshold[1]") || !strings.Contains(err.Error(), "threshold[2]") {
		t.Errorf("error = %v, want both bad indexes", err)
	}

	got, err := ParseMultiple(nil)
	if err != nil || got != nil {
		t.Errorf("ParseMultiple(nil) = %v, %v", got, err)
	}
}

func sampleStats() metrics.Stats {
	c := metrics.NewCollector()
	for i := 1; i <= 100; i++ {
		c.RecordAttempt("a:1", time.Duration(i)*time.Millisecond, nil)
	}
	c.RecordAttempt("a:1", time.Millisecond, errBoom{})
	return c.Stats(time.Second)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestEvaluate(t *testing.T) {
	stats := sampleStats()

	tests := []struct {
		expr string
		pass bool
	}{
		{"attempt_duration:p99 < 150", true},
		{"attempt_duration:p50 > 60", false},
		{"attempt_duration:max <= 100", true},
		{"attempt_duration:min >= 1", true},
		{"attempt_failed:count == 1", true},
		{"attempt_failed:rate < 0.001", false},
		{"attempts:count == 101", true},
		{"attempts:rate > 100", true},
	}

	for _, tt := range tests {
		th, err := Parse(tt.expr)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", tt.expr, err)
		}
		results := NewEvaluator([]Threshold{th}).Evaluate(stats)
		if len(results) != 1 {
			t.Fatalf("Evaluate returned %d results", len(results))
		}
		if results[0].Pass != tt.pass {
			t.Errorf("%s: pass = %v, want %v (actual %.3f)", tt.expr, results[0].Pass, tt.pass, results[0].Actual)
		}
		if results[0].Expr != tt.expr {
			t.Errorf("Expr = %q", results[0].Expr)
		}
	}
}

func TestAllPassed(t *testing.T) {
	if !AllPassed(nil) {
		t.Error("AllPassed(nil) = false")
	}
	if AllPassed([]Result{{Pass: true}, {Pass: false}}) {
		t.Error("AllPassed with a failure = true")
	}
}

func TestEvaluateNoThresholds(t *testing.T) {
	if got := NewEvaluator(nil).Evaluate(sampleStats()); got != nil {
		t.Errorf("Evaluate() = %v, want nil", got)
	}
}

func TestMessageFormat(t *testing.T) {
	th, _ := Parse("attempts:count > 500")
	r := NewEvaluator([]Threshold{th}).Evaluate(sampleStats())[0]
	if !strings.HasPrefix(r.Message, "✗ attempts:count > 500: 101.00 > 500.00") {
		t.Errorf("Message = %q", r.Message)
	}
}

func TestCompare(t *testing.T) {
	if !compare(1.0000000001, "==", 1) {
		t.Error("== should tolerate epsilon")
	}
	if compare(1, "~", 1) {
		t.Error("unknown operator should fail")
	}
}

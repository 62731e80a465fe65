package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yalt-io/yalt/internal/metrics"
	"github.com/yalt-io/yalt/internal/store"
	"github.com/yalt-io/yalt/internal/threshold"
)

func sampleReport() Report {
	c := metrics.NewCollector()
	c.RecordAttempt("127.0.0.1:9000", 2*time.Millisecond, nil)
	c.RecordAttempt("127.0.0.1:9000", 3*time.Millisecond, nil)
	c.RecordAttempt("127.0.0.1:9001", time.Millisecond, errKind("connect"))
	return Report{
		Sent:       3,
		AverageRPS: 1.5,
		Database:   "databases/run.db",
		Persisted:  &store.Counts{Total: 3, Successes: 2, Failures: 1},
		Stats:      c.Stats(2 * time.Second),
		Thresholds: []threshold.Result{{Expr: "attempt_failed:count == 0", Pass: false, Message: "✗ attempt_failed:count == 0: 1.00 == 0.00"}},
	}
}

type errKind string

func (e errKind) Error() string { return string(e) + " failed" }
func (e errKind) Kind() string  { return string(e) }

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, 1998, 199.8)
	want := "Total requests sent: 1998\nAverage RPS: 199.80\n"
	if buf.String() != want {
		t.Errorf("PrintSummary = %q, want %q", buf.String(), want)
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())
	out := buf.String()

	for _, want := range []string{
		"Completed:         3",
		"Successful:        2",
		"Failed:            1",
		"connect: 1",
		"127.0.0.1:9000: total=2 (66.7%)",
		"127.0.0.1:9001: total=1 (33.3%)",
		"Metrics database:  databases/run.db",
		"Rows:            3 (2 successes, 1 failures)",
		"✗ attempt_failed:count == 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
	if strings.Index(out, "127.0.0.1:9000") > strings.Index(out, "127.0.0.1:9001") {
		t.Error("targets should be ordered by volume")
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintJSONReport error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"sent", "average_rps", "persisted", "attempts", "thresholds"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	attempts := decoded["attempts"].(map[string]interface{})
	if attempts["total"].(float64) != 3 {
		t.Errorf("attempts.total = %v", attempts["total"])
	}
}

func TestPrintYAMLReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintYAMLReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintYAMLReport error = %v", err)
	}
	var decoded struct {
		Sent     uint64 `yaml:"sent"`
		Attempts struct {
			Failures int64          `yaml:"failures"`
			Errors   map[string]int `yaml:"errors"`
		} `yaml:"attempts"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if decoded.Sent != 3 || decoded.Attempts.Failures != 1 || decoded.Attempts.Errors["connect"] != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

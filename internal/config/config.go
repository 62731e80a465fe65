package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yalt-io/yalt/internal/target"
)

type ArrivalModel string

const (
	ArrivalBucket  ArrivalModel = "bucket"
	ArrivalPoisson ArrivalModel = "poisson"
)

type ReportFormat string

const (
	ReportText ReportFormat = "text"
	ReportJSON ReportFormat = "json"
	ReportYAML ReportFormat = "yaml"
)

const (
	DefaultDBDir           = "databases"
	DefaultTick            = time.Millisecond
	DefaultDrainTimeout    = 5 * time.Second
	DefaultLogErrorsPerSec = 10
)

// Config is the immutable description of one run.
type Config struct {
	Targets         []string      `mapstructure:"targets"`
	Rate            float64       `mapstructure:"rate"`
	Duration        time.Duration `mapstructure:"duration"`
	Payload         string        `mapstructure:"payload"`
	PayloadFile     string        `mapstructure:"payload_file"`
	DB              string        `mapstructure:"db"`
	DBDir           string        `mapstructure:"db_dir"`
	Arrival         ArrivalModel  `mapstructure:"arrival"`
	Burst           float64       `mapstructure:"burst"`
	Tick            time.Duration `mapstructure:"tick"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	LogEncoding     string        `mapstructure:"log_encoding"`
	LogErrorsPerSec float64       `mapstructure:"log_errors_per_sec"`
	Progress        bool          `mapstructure:"progress"`
	Report          ReportFormat  `mapstructure:"report"`
	Thresholds      []string      `mapstructure:"thresholds"`
	History         string        `mapstructure:"history"`
	Seed            int64         `mapstructure:"seed"`
	Tracing         TracingConfig `mapstructure:"tracing"`
	ConfigFile      string        `mapstructure:"-"`
}

// TracingConfig controls OTLP span export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Enabled reports whether an endpoint is configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	issues []string
	errs   []error
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Unwrap exposes typed causes such as *target.ParseError.
func (e ValidationError) Unwrap() []error {
	return e.errs
}

func (c Config) Validate() error {
	var v ValidationError
	add := func(format string, args ...interface{}) {
		v.issues = append(v.issues, fmt.Sprintf(format, args...))
	}

	if len(c.Targets) == 0 {
		add("at least one target is required (host:port:weight)")
	} else if targets, err := target.ParseAll(c.Targets); err != nil {
		v.issues = append(v.issues, err.Error())
		v.errs = append(v.errs, err)
	} else if target.TotalWeight(targets) == 0 {
		add("total target weight must be greater than 0")
		v.errs = append(v.errs, target.ErrZeroWeight)
	}

	if c.Rate <= 0 || math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0) {
		add("rate must be a positive number")
	}
	if c.Duration <= 0 {
		add("duration must be at least 1 second")
	}
	if c.Burst < 0 || (c.Burst > 0 && c.Burst < 1) {
		add("burst must be 0 (use rate) or at least 1")
	}
	if c.Tick <= 0 {
		add("tick must be positive")
	}
	if c.Payload != "" && c.PayloadFile != "" {
		add("payload and payload-file are mutually exclusive")
	}

	switch c.Arrival {
	case "", ArrivalBucket, ArrivalPoisson:
	default:
		add("arrival must be bucket or poisson, got %q", c.Arrival)
	}
	switch c.Report {
	case "", ReportText, ReportJSON, ReportYAML:
	default:
		add("report must be text, json or yaml, got %q", c.Report)
	}

	if c.ConnectTimeout < 0 {
		add("connect-timeout must be non-negative")
	}
	if c.WriteTimeout < 0 {
		add("write-timeout must be non-negative")
	}
	if c.DrainTimeout < 0 {
		add("drain-timeout must be non-negative")
	}
	if c.LogErrorsPerSec < 0 {
		add("log-errors-per-sec must be non-negative")
	}

	switch strings.ToLower(c.LogEncoding) {
	case "", "console", "json":
	default:
		add("log-encoding must be console or json, got %q", c.LogEncoding)
	}

	if c.Tracing.Enabled() {
		switch strings.ToLower(c.Tracing.Protocol) {
		case "", "grpc", "http":
		default:
			add("tracing protocol must be grpc or http, got %q", c.Tracing.Protocol)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			add("tracing sample rate must be between 0.0 and 1.0")
		}
	}

	if len(v.issues) > 0 {
		return v
	}
	return nil
}

// Warnings returns non-fatal observations about the configuration.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Tick > 0 {
		perSecond := float64(time.Second) / float64(c.Tick)
		if c.Rate > perSecond {
			warnings = append(warnings, fmt.Sprintf(
				"rate %g exceeds one admission per tick (%s allows at most %.0f/s); lower --tick", c.Rate, c.Tick, perSecond))
		}
	}
	if c.Rate > 1000 {
		warnings = append(warnings, fmt.Sprintf(
			"high rate configured (%g/s); ensure you are authorized to load the targets", c.Rate))
	}
	return warnings
}

// ParsedTargets parses Targets. Validate reports the same errors.
func (c Config) ParsedTargets() ([]target.Target, error) {
	return target.ParseAll(c.Targets)
}

// Capacity is the token bucket size: Burst when set, otherwise Rate.
func (c Config) Capacity() float64 {
	if c.Burst > 0 {
		return c.Burst
	}
	return c.Rate
}

// DurationSeconds is the run length in whole seconds.
func (c Config) DurationSeconds() uint64 {
	return uint64(c.Duration / time.Second)
}

// PayloadBytes returns the inline payload or the payload file contents.
func (c Config) PayloadBytes() ([]byte, error) {
	if c.PayloadFile == "" {
		return []byte(c.Payload), nil
	}
	data, err := os.ReadFile(c.PayloadFile)
	if err != nil {
		return nil, fmt.Errorf("payload file: %w", err)
	}
	return data, nil
}

// DBFileName derives the store name from the run parameters, for example
// 127.0.0.1_9000_50_rate200_dur10.db.
func (c Config) DBFileName() string {
	parts := make([]string, len(c.Targets))
	for i, t := range c.Targets {
		parts[i] = strings.ReplaceAll(t, ":", "_")
	}
	return fmt.Sprintf("%s_rate%s_dur%d.db",
		strings.Join(parts, "_"),
		strconv.FormatFloat(c.Rate, 'f', -1, 64),
		c.DurationSeconds())
}

// DBPath returns the store path. An explicit DB wins; otherwise the derived
// file name inside DBDir, which is created if missing.
func (c Config) DBPath() (string, error) {
	if c.DB != "" {
		return c.DB, nil
	}
	dir := c.DBDir
	if dir == "" {
		dir = DefaultDBDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	return filepath.Join(dir, c.DBFileName()), nil
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

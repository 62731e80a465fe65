package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const usage = "yalt [flags] [host:port:weight ...]\n  yalt host:port:weight ... <rate> <duration-seconds> <payload>"

// newFlagCommand creates a cobra command with all run flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           usage,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Load
	flags.StringArray("target", nil, "Target in host:port:weight form (repeatable; IPv6 hosts in brackets)")
	flags.Float64P("rate", "r", 0, "Attempts per second")
	flags.Uint64P("duration", "d", 0, "Run duration in seconds")
	flags.StringP("payload", "p", "", "Payload written to every connection")
	flags.String("payload-file", "", "Read the payload from a file")
	flags.String("arrival", string(ArrivalBucket), "Admission model: bucket or poisson")
	flags.Float64("burst", 0, "Token bucket capacity (0 means equal to rate)")
	flags.Duration("tick", DefaultTick, "Admission loop poll interval")
	flags.Duration("connect-timeout", 0, "Per-attempt connect timeout (0 uses the OS default)")
	flags.Duration("write-timeout", 0, "Per-attempt write timeout (0 means none)")
	flags.Duration("drain-timeout", DefaultDrainTimeout, "Max time to wait for in-flight attempts after the run")
	flags.Int64("seed", 0, "Seed for target selection (0 picks one from the clock)")

	// Storage
	flags.String("db", "", "Metrics database path (overrides the derived name)")
	flags.String("db-dir", DefaultDBDir, "Directory for derived metrics database names")
	flags.String("history", "", "Append a run summary to this history database")

	// Output
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-encoding", "console", "Log encoding: console or json")
	flags.Float64("log-errors-per-sec", DefaultLogErrorsPerSec, "Max failed-attempt log lines per second (0 means unlimited)")
	flags.Bool("progress", false, "Print a progress line every second")
	flags.String("report", string(ReportText), "Report format: text, json or yaml")
	flags.StringSlice("threshold", nil, "Pass/fail threshold (repeatable, e.g. 'attempt_duration:p99 < 50')")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of attempts to trace")
	flags.Bool("tracing-insecure", false, "Disable TLS to the collector")
}

func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage:\n  %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies explicitly set flags on top of file and
// environment values.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetString(name)
			*dst = strings.TrimSpace(*dst)
		}
	}
	float := func(name string, dst *float64) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetFloat64(name)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetDuration(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetBool(name)
		}
	}

	float("rate", &cfg.Rate)
	if err == nil && fs.Changed("duration") {
		var secs uint64
		secs, err = fs.GetUint64("duration")
		cfg.Duration = time.Duration(secs) * time.Second
	}
	if err == nil && fs.Changed("payload") {
		// Payload bytes are sent verbatim; no trimming.
		cfg.Payload, err = fs.GetString("payload")
	}
	str("payload-file", &cfg.PayloadFile)
	if err == nil && fs.Changed("arrival") {
		var v string
		v, err = fs.GetString("arrival")
		cfg.Arrival = ArrivalModel(strings.ToLower(strings.TrimSpace(v)))
	}
	float("burst", &cfg.Burst)
	dur("tick", &cfg.Tick)
	dur("connect-timeout", &cfg.ConnectTimeout)
	dur("write-timeout", &cfg.WriteTimeout)
	dur("drain-timeout", &cfg.DrainTimeout)
	if err == nil && fs.Changed("seed") {
		cfg.Seed, err = fs.GetInt64("seed")
	}

	str("db", &cfg.DB)
	str("db-dir", &cfg.DBDir)
	str("history", &cfg.History)

	str("log-level", &cfg.LogLevel)
	str("log-encoding", &cfg.LogEncoding)
	float("log-errors-per-sec", &cfg.LogErrorsPerSec)
	boolean("progress", &cfg.Progress)
	if err == nil && fs.Changed("report") {
		var v string
		v, err = fs.GetString("report")
		cfg.Report = ReportFormat(strings.ToLower(strings.TrimSpace(v)))
	}
	if err == nil && fs.Changed("threshold") {
		cfg.Thresholds, err = fs.GetStringSlice("threshold")
	}

	str("tracing-endpoint", &cfg.Tracing.Endpoint)
	str("tracing-protocol", &cfg.Tracing.Protocol)
	str("tracing-service-name", &cfg.Tracing.ServiceName)
	float("tracing-sample-rate", &cfg.Tracing.SampleRate)
	boolean("tracing-insecure", &cfg.Tracing.Insecure)

	return err
}

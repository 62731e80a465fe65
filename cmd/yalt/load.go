package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/yalt-io/yalt/internal/config"
	"github.com/yalt-io/yalt/internal/dispatch"
	"github.com/yalt-io/yalt/internal/history"
	"github.com/yalt-io/yalt/internal/logging"
	"github.com/yalt-io/yalt/internal/metrics"
	"github.com/yalt-io/yalt/internal/output"
	"github.com/yalt-io/yalt/internal/ratelimit"
	"github.com/yalt-io/yalt/internal/sender"
	"github.com/yalt-io/yalt/internal/store"
	"github.com/yalt-io/yalt/internal/target"
	"github.com/yalt-io/yalt/internal/threshold"
	"github.com/yalt-io/yalt/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

var errThresholdsFailed = errors.New("one or more thresholds failed")

func runLoad(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	targets, err := cfg.ParsedTargets()
	if err != nil {
		return err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	selector, err := target.NewSelector(targets, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}
	limiter, err := newAdmitter(cfg, seed)
	if err != nil {
		return err
	}
	payload, err := cfg.PayloadBytes()
	if err != nil {
		return err
	}

	dbPath, err := cfg.DBPath()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorw("close metrics store", "path", dbPath, "error", err)
		}
	}()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warnw("flush traces", "error", err)
		}
	}()

	collector := metrics.NewCollector()
	failures := logging.NewFailureLogger(log, cfg.LogErrorsPerSec)

	d, err := dispatch.New(dispatch.Options{
		Duration: cfg.Duration,
		Payload:  payload,
		Tick:     cfg.Tick,
		Limiter:  limiter,
		Selector: selector,
		Sender: sender.New(sender.Options{
			ConnectTimeout: cfg.ConnectTimeout,
			WriteTimeout:   cfg.WriteTimeout,
		}),
		Recorder: st,
		Observer: collector,
		Failures: failures,
		Logger:   log,
		Tracer:   tp.Tracer(),
	})
	if err != nil {
		return err
	}

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(collector, d.InFlight, progressInterval, stdout)
	}

	log.Infow("starting run",
		"targets", len(targets),
		"rate", cfg.Rate,
		"capacity", cfg.Capacity(),
		"arrival", cfg.Arrival,
		"duration", cfg.Duration,
		"db", dbPath,
		"tracing", tp.Enabled(),
	)

	startedAt := time.Now()
	collector.Start()
	if progress != nil {
		progress.Start()
	}
	summary, runErr := d.Run(ctx)
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(stdout)
	}
	if runErr != nil {
		log.Warnw("run interrupted", "error", runErr, "elapsed", summary.Elapsed)
	}

	output.PrintSummary(stdout, summary.Sent, summary.AverageRPS())

	drain(ctx, d, cfg.DrainTimeout, log)

	stats := collector.Stats(summary.Elapsed)
	var results []threshold.Result
	if len(thresholds) > 0 {
		results = threshold.NewEvaluator(thresholds).Evaluate(stats)
	}

	report := output.Report{
		Sent:               summary.Sent,
		AverageRPS:         summary.AverageRPS(),
		Database:           dbPath,
		InFlight:           d.InFlight(),
		PersistFailures:    d.PersistFailures(),
		SuppressedFailures: failures.Suppressed(),
		Stats:              stats,
		Thresholds:         results,
	}
	if counts, err := st.Count(context.WithoutCancel(ctx)); err != nil {
		log.Warnw("read back metrics store", "error", err)
	} else {
		report.Persisted = &counts
	}

	if err := writeReport(stdout, cfg.Report, report); err != nil {
		return err
	}

	passed := threshold.AllPassed(results)
	if cfg.History != "" {
		saveHistory(cfg, startedAt, report, passed, runErr != nil, log)
	}

	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	if !passed {
		return errThresholdsFailed
	}
	return nil
}

func newAdmitter(cfg *config.Config, seed int64) (dispatch.Admitter, error) {
	if cfg.Arrival == config.ArrivalPoisson {
		return ratelimit.NewPoissonGate(cfg.Rate, nil, seed)
	}
	return ratelimit.NewTokenBucket(cfg.Rate, cfg.Capacity())
}

// drain waits for in-flight attempts so their outcomes reach the store
// before it is closed.
func drain(ctx context.Context, d *dispatch.Dispatcher, timeout time.Duration, log *zap.SugaredLogger) {
	if timeout <= 0 || d.InFlight() == 0 {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := d.Wait(dctx); err != nil {
		log.Warnw("in-flight attempts still running after drain timeout",
			"in_flight", d.InFlight(), "timeout", timeout)
	}
}

func writeReport(w io.Writer, format config.ReportFormat, r output.Report) error {
	switch format {
	case config.ReportJSON:
		return output.PrintJSONReport(w, r)
	case config.ReportYAML:
		return output.PrintYAMLReport(w, r)
	default:
		output.PrintReport(w, r)
		return nil
	}
}

func saveHistory(cfg *config.Config, startedAt time.Time, r output.Report, passed, interrupted bool, log *zap.SugaredLogger) {
	hs, err := history.Open(cfg.History)
	if err != nil {
		log.Warnw("open run history", "error", err)
		return
	}
	defer hs.Close()

	entry := history.Entry{
		StartedAt:        startedAt,
		Targets:          cfg.Targets,
		Rate:             cfg.Rate,
		DurationSeconds:  cfg.DurationSeconds(),
		Sent:             r.Sent,
		AverageRPS:       r.AverageRPS,
		Successes:        r.Stats.Successes,
		Failures:         r.Stats.Failures,
		P99LatencyMs:     r.Stats.P99LatencyMs,
		Database:         r.Database,
		ThresholdsPassed: passed,
		Interrupted:      interrupted,
	}
	saved, err := hs.Save(entry)
	if err != nil {
		log.Warnw("save run history", "error", err)
		return
	}
	log.Debugw("run saved to history", "id", saved.ID, "file", cfg.History)
}

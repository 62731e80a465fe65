package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/yalt-io/yalt/internal/metrics"
	"github.com/yalt-io/yalt/internal/store"
	"github.com/yalt-io/yalt/internal/target"
	"github.com/yalt-io/yalt/internal/tracing"
)

// DefaultTick is the poll interval of the admission loop.
const DefaultTick = time.Millisecond

// ErrNotIdle is returned when Run is called more than once.
var ErrNotIdle = errors.New("dispatcher already started")

// Admitter decides whether the next attempt may start.
type Admitter interface {
	Allow() bool
}

// Picker chooses the target of an admitted attempt.
type Picker interface {
	Pick() target.Target
}

// Sender performs one connect-and-write attempt.
type Sender interface {
	Send(ctx context.Context, host string, port uint16, payload []byte) error
}

// Recorder persists one outcome.
type Recorder interface {
	Record(ctx context.Context, rec store.Record) error
}

// Observer receives every attempt for in-memory aggregation.
type Observer interface {
	RecordAttempt(target string, latency time.Duration, err error)
}

// FailureLogger reports failed attempts.
type FailureLogger interface {
	LogFailure(target string, err error)
}

// Options configures a Dispatcher. Limiter, Selector, Sender and Recorder
// are required.
type Options struct {
	Duration time.Duration
	Payload  []byte
	Tick     time.Duration

	Limiter  Admitter
	Selector Picker
	Sender   Sender
	Recorder Recorder

	Observer Observer
	Failures FailureLogger
	Logger   *zap.SugaredLogger
	Tracer   trace.Tracer
}

func (o *Options) normalize() {
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("yalt")
	}
}

// Summary is the result of a finished run.
type Summary struct {
	Sent     uint64
	Duration time.Duration
	Elapsed  time.Duration
}

// AverageRPS is admitted attempts divided by the configured duration.
func (s Summary) AverageRPS() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Sent) / s.Duration.Seconds()
}

// Dispatcher drives one run. It is single-use.
type Dispatcher struct {
	opt Options

	// mu makes check, count, pick and spawn one atomic admission step.
	mu       sync.Mutex
	state    atomic.Int32
	sent     atomic.Uint64
	inflight atomic.Int64
	persist  atomic.Int64
	wg       sync.WaitGroup
}

func New(opt Options) (*Dispatcher, error) {
	switch {
	case opt.Limiter == nil:
		return nil, errors.New("dispatch: limiter is required")
	case opt.Selector == nil:
		return nil, errors.New("dispatch: selector is required")
	case opt.Sender == nil:
		return nil, errors.New("dispatch: sender is required")
	case opt.Recorder == nil:
		return nil, errors.New("dispatch: recorder is required")
	case opt.Duration <= 0:
		return nil, errors.New("dispatch: duration must be positive")
	}
	opt.normalize()
	return &Dispatcher{opt: opt}, nil
}

// Run admits attempts until the configured duration has elapsed or ctx is
// done, then returns without waiting for in-flight attempts. When ctx ends
// the run early the summary is still returned together with ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	if !d.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return Summary{}, ErrNotIdle
	}
	defer d.state.Store(int32(Finished))

	d.opt.Logger.Debugw("run started", "duration", d.opt.Duration, "tick", d.opt.Tick)

	start := time.Now()
	ticker := time.NewTicker(d.opt.Tick)
	defer ticker.Stop()

	var runErr error
loop:
	for time.Since(start) < d.opt.Duration {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		d.admit(ctx)
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case <-ticker.C:
		}
	}

	summary := Summary{
		Sent:     d.sent.Load(),
		Duration: d.opt.Duration,
		Elapsed:  time.Since(start),
	}
	d.opt.Logger.Debugw("run finished", "sent", summary.Sent, "in_flight", d.inflight.Load())
	return summary, runErr
}

func (d *Dispatcher) admit(ctx context.Context) {
	d.mu.Lock()
	if !d.opt.Limiter.Allow() {
		d.mu.Unlock()
		return
	}
	d.sent.Add(1)
	t := d.opt.Selector.Pick()
	d.inflight.Add(1)
	d.wg.Add(1)
	d.mu.Unlock()

	go d.attempt(ctx, t)
}

func (d *Dispatcher) attempt(ctx context.Context, t target.Target) {
	defer d.wg.Done()
	defer d.inflight.Add(-1)

	addr := t.Addr()
	spanCtx, span := tracing.StartAttempt(ctx, d.opt.Tracer, t, len(d.opt.Payload))

	started := time.Now()
	err := d.opt.Sender.Send(spanCtx, t.Host, t.Port, d.opt.Payload)
	latency := time.Since(started)

	if d.opt.Observer != nil {
		d.opt.Observer.RecordAttempt(addr, latency, err)
	}
	if err != nil && d.opt.Failures != nil {
		d.opt.Failures.LogFailure(addr, err)
	}

	rec := store.Record{
		Timestamp: time.Now().Unix(),
		Host:      t.Host,
		Payload:   d.opt.Payload,
		Success:   err == nil,
	}
	// The attempt already happened; record it even if the run is being cancelled.
	if perr := d.opt.Recorder.Record(context.WithoutCancel(ctx), rec); perr != nil {
		d.persist.Add(1)
		d.opt.Logger.Errorw("persist outcome", "target", addr, "error", perr)
	}

	span.End(err, metrics.ErrorKind(err))
}

// Wait blocks until every admitted attempt has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent returns the number of admitted attempts so far.
func (d *Dispatcher) Sent() uint64 { return d.sent.Load() }

// InFlight returns the number of attempts that have not finished yet.
func (d *Dispatcher) InFlight() int64 { return d.inflight.Load() }

// PersistFailures returns how many outcomes could not be recorded.
func (d *Dispatcher) PersistFailures() int64 { return d.persist.Load() }

func (d *Dispatcher) State() State { return State(d.state.Load()) }

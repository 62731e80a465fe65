package dispatch_test

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yalt-io/yalt/internal/dispatch"
	"github.com/yalt-io/yalt/internal/echoserver"
	"github.com/yalt-io/yalt/internal/metrics"
	"github.com/yalt-io/yalt/internal/ratelimit"
	"github.com/yalt-io/yalt/internal/sender"
	"github.com/yalt-io/yalt/internal/store"
	"github.com/yalt-io/yalt/internal/target"
)

type okSender struct {
	calls atomic.Int64
}

func (s *okSender) Send(context.Context, string, uint16, []byte) error {
	s.calls.Add(1)
	return nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []store.Record
	err  error
}

func (r *memRecorder) Record(_ context.Context, rec store.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.recs = append(r.recs, rec)
	return nil
}

func (r *memRecorder) snapshot() []store.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Record(nil), r.recs...)
}

func newSelector(t *testing.T, targets ...target.Target) *target.Selector {
	t.Helper()
	sel, err := target.NewSelector(targets, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return sel
}

func newBucket(t *testing.T, rate, capacity float64) *ratelimit.TokenBucket {
	t.Helper()
	b, err := ratelimit.NewTokenBucket(rate, capacity)
	require.NoError(t, err)
	return b
}

func TestRunHonoursRate(t *testing.T) {
	rec := &memRecorder{}
	snd := &okSender{}
	d, err := dispatch.New(dispatch.Options{
		Duration: time.Second,
		Payload:  []byte("x"),
		Limiter:  newBucket(t, 100, 1),
		Selector: newSelector(t, target.Target{Host: "a", Port: 1, Weight: 1}),
		Sender:   snd,
		Recorder: rec,
	})
	require.NoError(t, err)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background()))

	assert.InDelta(t, 100, float64(summary.Sent), 10)
	assert.Len(t, rec.snapshot(), int(summary.Sent))
	assert.Equal(t, int64(summary.Sent), snd.calls.Load())
	assert.Equal(t, time.Second, summary.Duration)
	assert.GreaterOrEqual(t, summary.Elapsed, time.Second)
	assert.InDelta(t, float64(summary.Sent), summary.AverageRPS(), 0.001)
	assert.Equal(t, dispatch.Finished, d.State())
	assert.Zero(t, d.InFlight())
}

func TestRunIsSingleUse(t *testing.T) {
	d, err := dispatch.New(dispatch.Options{
		Duration: 10 * time.Millisecond,
		Limiter:  newBucket(t, 10, 1),
		Selector: newSelector(t, target.Target{Host: "a", Port: 1, Weight: 1}),
		Sender:   &okSender{},
		Recorder: &memRecorder{},
	})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Idle, d.State())

	_, err = d.Run(context.Background())
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	assert.ErrorIs(t, err, dispatch.ErrNotIdle)
}

func TestRunStopsOnCancel(t *testing.T) {
	d, err := dispatch.New(dispatch.Options{
		Duration: time.Hour,
		Limiter:  newBucket(t, 10, 1),
		Selector: newSelector(t, target.Target{Host: "a", Port: 1, Weight: 1}),
		Sender:   &okSender{},
		Recorder: &memRecorder{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	summary, err := d.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, uint64(1), summary.Sent)
	assert.Equal(t, dispatch.Finished, d.State())
}

func TestRunWithCancelledContextAdmitsNothing(t *testing.T) {
	snd := &okSender{}
	d, err := dispatch.New(dispatch.Options{
		Duration: time.Second,
		Limiter:  newBucket(t, 10, 10),
		Selector: newSelector(t, target.Target{Host: "a", Port: 1, Weight: 1}),
		Sender:   snd,
		Recorder: &memRecorder{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Sent)
	require.NoError(t, d.Wait(context.Background()))
	assert.Zero(t, snd.calls.Load())
	assert.Equal(t, dispatch.Finished, d.State())
}

func TestPersistFailureDoesNotStopRun(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	d, err := dispatch.New(dispatch.Options{
		Duration: 100 * time.Millisecond,
		Limiter:  newBucket(t, 100, 1),
		Selector: newSelector(t, target.Target{Host: "a", Port: 1, Weight: 1}),
		Sender:   &okSender{},
		Recorder: rec,
	})
	require.NoError(t, err)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background()))
	assert.NotZero(t, summary.Sent)
	assert.Equal(t, int64(summary.Sent), d.PersistFailures())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := dispatch.New(dispatch.Options{Duration: time.Second})
	assert.Error(t, err)

	_, err = dispatch.New(dispatch.Options{
		Limiter:  newBucket(t, 1, 1),
		Selector: newSelector(t, target.Target{Host: "a", Port: 1, Weight: 1}),
		Sender:   &okSender{},
		Recorder: &memRecorder{},
	})
	assert.Error(t, err, "zero duration must be rejected")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", dispatch.Idle.String())
	assert.Equal(t, "running", dispatch.Running.String())
	assert.Equal(t, "finished", dispatch.Finished.String())
	assert.Equal(t, "unknown", dispatch.State(9).String())
}

func TestAverageRPSUsesConfiguredDuration(t *testing.T) {
	s := dispatch.Summary{Sent: 2000, Duration: 10 * time.Second, Elapsed: 10500 * time.Millisecond}
	assert.Equal(t, 200.0, s.AverageRPS())
	assert.Zero(t, dispatch.Summary{Sent: 5}.AverageRPS())
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return uint16(port)
}

func TestRefusedTargetRecordsFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	st, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	defer st.Close()

	collector := metrics.NewCollector()
	d, err := dispatch.New(dispatch.Options{
		Duration: 300 * time.Millisecond,
		Payload:  []byte("hello"),
		Limiter:  newBucket(t, 50, 1),
		Selector: newSelector(t, target.Target{Host: "127.0.0.1", Port: freePort(t), Weight: 1}),
		Sender:   sender.New(sender.Options{ConnectTimeout: time.Second}),
		Recorder: st,
		Observer: collector,
	})
	require.NoError(t, err)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background()))

	require.NotZero(t, summary.Sent)
	counts, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(summary.Sent), counts.Total)
	assert.Equal(t, int64(summary.Sent), counts.Failures)
	assert.Zero(t, counts.Successes)

	stats := collector.Stats(summary.Elapsed)
	assert.Equal(t, int(summary.Sent), stats.Errors["connect"])
}

func TestEndToEndTwoListeners(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for 10 seconds")
	}

	srvA, err := echoserver.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer srvA.Close()
	srvB, err := echoserver.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer srvB.Close()

	targets, err := target.ParseAll([]string{
		srvA.Addr() + ":50",
		srvB.Addr() + ":50",
	})
	require.NoError(t, err)

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer st.Close()

	// A bucket that starts full with capacity = rate admits rate*duration
	// plus the initial burst, which lands right on the 2200 ceiling. A
	// capacity of one keeps the expected count near 2000.
	const rate = 200.0
	d, err := dispatch.New(dispatch.Options{
		Duration: 10 * time.Second,
		Payload:  []byte("Test payload"),
		Limiter:  newBucket(t, rate, 1),
		Selector: newSelector(t, targets...),
		Sender:   sender.New(sender.Options{ConnectTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second}),
		Recorder: st,
	})
	require.NoError(t, err)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	counts, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts.Successes, int64(1800))
	assert.LessOrEqual(t, counts.Successes, int64(2200))
	assert.Equal(t, int64(summary.Sent), counts.Total)

	// Connections may still be draining on the listener side.
	require.Eventually(t, func() bool {
		return srvA.Connections()+srvB.Connections() >= counts.Successes
	}, 5*time.Second, 10*time.Millisecond)

	total := float64(srvA.Connections() + srvB.Connections())
	assert.InDelta(t, 0.5, float64(srvA.Connections())/total, 0.075)
	assert.InDelta(t, 0.5, float64(srvB.Connections())/total, 0.075)
}

package logging

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FailureLogger writes one warning per failed attempt, limited to a fixed
// number of lines per second. Lines over the limit are counted, not written.
type FailureLogger struct {
	log        *zap.SugaredLogger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewFailureLogger limits output to perSecond lines. perSecond <= 0 disables
// the limit.
func NewFailureLogger(log *zap.SugaredLogger, perSecond float64) *FailureLogger {
	limit, burst := rate.Inf, 0
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &FailureLogger{log: log, limiter: rate.NewLimiter(limit, burst)}
}

// LogFailure reports err for the attempt against target.
func (f *FailureLogger) LogFailure(target string, err error) {
	if err == nil {
		return
	}
	if !f.limiter.Allow() {
		f.suppressed.Add(1)
		return
	}
	f.log.Warnw("attempt failed", "target", target, "error", err)
}

// Suppressed returns how many failure lines were dropped by the limit.
func (f *FailureLogger) Suppressed() int64 {
	return f.suppressed.Load()
}

package sweeper

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Metrics interface {
	ObserveSweep(schedule string, d time.Duration)
	IncSweepError(schedule string)
}

// Sweeper deletes expired refresh tokens on one or more fixed schedules.
// Schedules run independently, so runs may overlap; a purge is idempotent.
type Sweeper struct {
	purger    Purger
	intervals []time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	metrics   Metrics
	now       func() time.Time
}

func New(purger Purger, intervals []time.Duration, timeout time.Duration, logger *slog.Logger, metrics Metrics) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sweeper{
		purger:    purger,
		intervals: intervals,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, interval := range s.intervals {
		if interval <= 0 {
			s.logger.Warn("expiry sweep schedule disabled", "interval", interval)
			continue
		}
		wg.Add(1)
		go func(interval time.Duration) {
			defer wg.Done()
			s.loop(ctx, interval)
		}(interval)
	}
	wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration) {
	name := ScheduleName(interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweep scheduled", "schedule", name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx, name)
		}
	}
}

// RunOnce performs a single purge. Errors are logged and counted; the caller
// may ignore them.
func (s *Sweeper) RunOnce(ctx context.Context, schedule string) (int64, error) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.purger.PurgeExpired(sweepCtx, s.now())
	if err != nil {
		s.logger.Error("expiry sweep failed", "schedule", schedule, "error", err)
		if s.metrics != nil {
			s.metrics.IncSweepError(schedule)
		}
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.ObserveSweep(schedule, time.Since(start))
	}
	s.logger.Info("expiry sweep completed", "schedule", schedule, "deleted", n)
	return n, nil
}

// ScheduleName renders an interval as a short label, e.g. "1h" or "24h".
func ScheduleName(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = s[:len(s)-2]
	}
	if strings.HasSuffix(s, "h0m") {
		s = s[:len(s)-2]
	}
	return s
}

package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AfshinJalili/audioshop/libs/logging"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	mu    sync.Mutex
	calls int
	times []time.Time
	n     int64
	err   error
}

func (f *fakePurger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.times = append(f.times, now)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("purge called without deadline")
	}
	return f.n, f.err
}

func (f *fakePurger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMetrics struct {
	mu       sync.Mutex
	observed map[string]int
	errors   map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{observed: map[string]int{}, errors: map[string]int{}}
}

func (m *fakeMetrics) ObserveSweep(schedule string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed[schedule]++
}

func (m *fakeMetrics) IncSweepError(schedule string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[schedule]++
}

func TestRunOnce(t *testing.T) {
	purger := &fakePurger{n: 4}
	metrics := newFakeMetrics()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(purger, nil, time.Second, logging.Discard(), metrics)
	s.now = func() time.Time { return fixed }

	n, err := s.RunOnce(context.Background(), "manual")
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
	require.Equal(t, []time.Time{fixed}, purger.times)
	require.Equal(t, 1, metrics.observed["manual"])
}

func TestRunOnceErrorIsCounted(t *testing.T) {
	purger := &fakePurger{err: errors.New("db down")}
	metrics := newFakeMetrics()
	s := New(purger, nil, time.Second, logging.Discard(), metrics)

	_, err := s.RunOnce(context.Background(), "1h")
	require.Error(t, err)
	require.Equal(t, 1, metrics.errors["1h"])
	require.Zero(t, metrics.observed["1h"])
}

func TestRunSweepsOnEverySchedule(t *testing.T) {
	purger := &fakePurger{err: errors.New("transient")}
	metrics := newFakeMetrics()
	s := New(purger, []time.Duration{5 * time.Millisecond, 7 * time.Millisecond, 0}, time.Second, logging.Discard(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		return metrics.errors["5ms"] >= 2 && metrics.errors["7ms"] >= 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}

	calls := purger.count()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, calls, purger.count())
}

func TestScheduleName(t *testing.T) {
	cases := map[time.Duration]string{
		time.Hour:               "1h",
		24 * time.Hour:          "24h",
		90 * time.Minute:        "1h30m",
		10 * time.Minute:        "10m",
		30 * time.Second:        "30s",
		5 * time.Millisecond:    "5ms",
		time.Hour + time.Second: "1h0m1s",
	}
	for d, want := range cases {
		require.Equal(t, want, ScheduleName(d), d.String())
	}
}

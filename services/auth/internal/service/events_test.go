package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// stalledPublisher blocks every publish until release is closed, like a
// producer retrying against an unreachable broker.
type stalledPublisher struct {
	started   chan struct{}
	release   chan struct{}
	once      sync.Once
	delivered atomic.Int32
	deadlines atomic.Int32
}

func newStalledPublisher() *stalledPublisher {
	return &stalledPublisher{started: make(chan struct{}), release: make(chan struct{})}
}

func (p *stalledPublisher) PublishJSON(ctx context.Context, _, _ string, _ any) (int32, int64, error) {
	p.once.Do(func() { close(p.started) })
	if _, ok := ctx.Deadline(); ok {
		p.deadlines.Add(1)
	}
	<-p.release
	p.delivered.Add(1)
	return 0, 0, nil
}

func TestAsyncEventsDeliverAndDrainOnClose(t *testing.T) {
	pub := &fakePublisher{}
	events := NewAsyncEvents(pub, "auth.sessions", 8, time.Second, nil, nil)

	ctx := WithCorrelationID(context.Background(), "req-7")
	events.publish(ctx, EventSessionCreated, "u1", time.Now(), SessionEvent{UserID: "u1"})
	events.publish(ctx, EventSessionRevoked, "u1", time.Now(), SessionEvent{UserID: "u1"})
	events.Close()

	require.Equal(t, []string{EventSessionCreated, EventSessionRevoked}, pub.types())
	require.Equal(t, "req-7", pub.msgs[0].event.CorrelationID)

	// publishing after close is a no-op
	events.publish(ctx, EventSessionsRevokedAll, "u1", time.Now(), SessionEvent{UserID: "u1"})
	events.Close()
	require.Len(t, pub.types(), 2)
}

func TestAsyncEventsDropWhenQueueFull(t *testing.T) {
	pub := newStalledPublisher()
	metrics := NewMetrics(prometheus.NewRegistry())
	events := NewAsyncEvents(pub, "auth.sessions", 1, time.Second, nil, metrics)

	ctx := context.Background()
	events.publish(ctx, EventSessionCreated, "u1", time.Now(), SessionEvent{})
	<-pub.started

	events.publish(ctx, EventSessionCreated, "u2", time.Now(), SessionEvent{})
	events.publish(ctx, EventSessionCreated, "u3", time.Now(), SessionEvent{})
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsDropped))

	close(pub.release)
	events.Close()
	require.EqualValues(t, 2, pub.delivered.Load())
	require.EqualValues(t, 2, pub.deadlines.Load())
}

func TestLoginNotDelayedByStalledBroker(t *testing.T) {
	h := newHarness(t)
	pub := newStalledPublisher()
	events := NewAsyncEvents(pub, "auth.sessions", 4, time.Second, nil, nil)
	h.sessions.events = events
	h.register(t, "rue", "pw-rue")

	res := h.login(t, "rue", "pw-rue")
	<-pub.started
	_, err := h.sessions.Revoke(context.Background(), res.RefreshToken)
	require.NoError(t, err)
	require.Zero(t, pub.delivered.Load())

	close(pub.release)
	events.Close()
	require.EqualValues(t, 2, pub.delivered.Load())
}

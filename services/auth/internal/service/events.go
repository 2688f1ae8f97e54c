package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AfshinJalili/audioshop/libs/kafka"
)

const (
	EventSessionCreated     = "session.created"
	EventSessionRevoked     = "session.revoked"
	EventSessionsRevokedAll = "sessions.revoked_all"
	EventSessionsPurged     = "sessions.purged"

	eventSource = "auth"
)

type EventPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
}

// SessionEvent is the payload published on the sessions topic. It never
// carries the refresh token or its digest.
type SessionEvent struct {
	kafka.Envelope
	UserID    string     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	IPAddress string     `json:"ip_address,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Count     int64      `json:"count,omitempty"`
}

// Events publishes session lifecycle events. Failures are logged and
// swallowed. A nil *Events publishes nothing.
type Events struct {
	publisher EventPublisher
	topic     string
	logger    *slog.Logger

	// queue is nil for synchronous delivery.
	queue   chan queuedEvent
	timeout time.Duration
	metrics *Metrics
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

type queuedEvent struct {
	key   string
	event SessionEvent
}

// NewEvents publishes on the caller's goroutine.
func NewEvents(publisher EventPublisher, topic string, logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{publisher: publisher, topic: topic, logger: logger}
}

// NewAsyncEvents hands events to a single background publisher through a
// queue of size buffer. When the queue is full the event is dropped and
// counted. Each publish runs under timeout. Close drains the queue.
func NewAsyncEvents(publisher EventPublisher, topic string, buffer int, timeout time.Duration, logger *slog.Logger, metrics *Metrics) *Events {
	e := NewEvents(publisher, topic, logger)
	if buffer <= 0 {
		buffer = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	e.queue = make(chan queuedEvent, buffer)
	e.timeout = timeout
	e.metrics = metrics

	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Events) loop() {
	defer e.wg.Done()
	for q := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		e.send(ctx, q.key, q.event)
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (e *Events) Close() {
	if e == nil || e.queue == nil {
		return
	}
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

type correlationKey struct{}

// WithCorrelationID attaches the request id that events emitted for ctx carry.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func (e *Events) publish(ctx context.Context, eventType, key string, at time.Time, event SessionEvent) {
	if e == nil || e.publisher == nil || e.topic == "" {
		return
	}
	env, err := kafka.NewEnvelope(eventType, 1, eventSource, correlationID(ctx), at)
	if err != nil {
		e.logger.Error("build session event envelope failed", "event_type", eventType, "error", err)
		return
	}
	event.Envelope = env

	if e.queue == nil {
		e.send(ctx, key, event)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.logger.Warn("session event after close dropped", "event_type", eventType)
		return
	}
	select {
	case e.queue <- queuedEvent{key: key, event: event}:
	default:
		e.metrics.IncEventDropped()
		e.logger.Warn("session event queue full, event dropped", "event_type", eventType)
	}
}

func (e *Events) send(ctx context.Context, key string, event SessionEvent) {
	if _, _, err := e.publisher.PublishJSON(ctx, e.topic, key, event); err != nil {
		e.logger.Error("publish session event failed", "event_type", event.EventType, "error", err)
	}
}

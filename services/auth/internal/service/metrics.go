package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	loginSuccess = "success"
	loginInvalid = "invalid_credentials"
	loginError   = "error"
)

// Metrics methods are safe to call on a nil receiver.
type Metrics struct {
	Logins        *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	Revocations   *prometheus.CounterVec
	PurgedTokens  prometheus.Counter
	SweepDuration *prometheus.HistogramVec
	SweepErrors   *prometheus.CounterVec
	EventsDropped prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_logins_total",
				Help: "Total login attempts.",
			},
			[]string{"status"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_token_refreshes_total",
				Help: "Total access token refresh attempts.",
			},
			[]string{"status"},
		),
		Revocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_revocations_total",
				Help: "Total refresh token revocations.",
			},
			[]string{"scope"},
		),
		PurgedTokens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_refresh_tokens_purged_total",
				Help: "Expired refresh tokens deleted by the sweeper.",
			},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auth_sweep_duration_seconds",
				Help:    "Expiry sweep duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"schedule"},
		),
		SweepErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_sweep_errors_total",
				Help: "Failed expiry sweeps.",
			},
			[]string{"schedule"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_session_events_dropped_total",
				Help: "Session events dropped because the publish queue was full.",
			},
		),
	}

	registry.MustRegister(m.Logins, m.Refreshes, m.Revocations, m.PurgedTokens, m.SweepDuration, m.SweepErrors, m.EventsDropped)
	return m
}

func (m *Metrics) IncLogin(status string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(status).Inc()
}

func (m *Metrics) IncRefresh(status string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(status).Inc()
}

func (m *Metrics) IncRevocation(scope string) {
	if m == nil {
		return
	}
	m.Revocations.WithLabelValues(scope).Inc()
}

func (m *Metrics) AddPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.PurgedTokens.Add(float64(n))
}

func (m *Metrics) ObserveSweep(schedule string, d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(schedule).Observe(d.Seconds())
}

func (m *Metrics) IncSweepError(schedule string) {
	if m == nil {
		return
	}
	m.SweepErrors.WithLabelValues(schedule).Inc()
}

func (m *Metrics) IncEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// Package telemetry builds the process-wide logger and metrics registry
// and hands them to callers as explicit values — nothing here is a package
// global. Every request-scoped log call should chain conversation_id,
// source, and entry_id fields so a log line can be traced back to a store
// entry without grepping two places.
package telemetry

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Logger is an alias for zerolog.Logger, so call sites read
// "telemetry.Logger" instead of the library name.
type Logger = zerolog.Logger

// NewLogger builds the process logger. pretty=true writes a human-readable
// console format (for local `go run`); pretty=false writes ndjson, the
// shape a log aggregator expects in production.
func NewLogger(pretty bool, level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		l = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return l
}

// Metrics is the set of Prometheus collectors the daemon exposes at
// GET /metrics. Constructed once at startup and threaded through the
// store, proxy, and API layers via constructor parameters.
type Metrics struct {
	Registry *prometheus.Registry

	EntriesTotal      prometheus.Counter
	StoreRevision     prometheus.Gauge
	UpstreamDuration  *prometheus.HistogramVec
	SSESubscribers    prometheus.Gauge
	SecurityAlerts    *prometheus.CounterVec
	ConversationsEvicted prometheus.Counter
}

// NewMetrics registers and returns the metric collectors against a fresh
// registry (never the global default — tests construct their own Metrics
// without polluting process-wide state).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		EntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "context_lens_entries_total",
			Help: "Total number of captured request/response entries stored.",
		}),
		StoreRevision: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "context_lens_store_revision",
			Help: "Current store revision counter.",
		}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "context_lens_proxy_upstream_duration_seconds",
			Help:    "Upstream round-trip latency observed by the reverse proxy.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "api_format"}),
		SSESubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "context_lens_sse_subscribers",
			Help: "Number of connected /api/events subscribers.",
		}),
		SecurityAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "context_lens_security_alerts_total",
			Help: "Security scan alerts raised, by severity.",
		}, []string{"severity"}),
		ConversationsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "context_lens_conversations_evicted_total",
			Help: "Conversations evicted because maxSessions was exceeded.",
		}),
	}

	reg.MustRegister(
		m.EntriesTotal,
		m.StoreRevision,
		m.UpstreamDuration,
		m.SSESubscribers,
		m.SecurityAlerts,
		m.ConversationsEvicted,
	)

	return m
}

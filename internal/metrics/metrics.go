// Package metrics exposes Prometheus metrics for the telemetry pipeline.
package metrics

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ingest and fan-out pipeline.
type Metrics struct {
	MessagesConsumed *prometheus.CounterVec // labels: topic
	HandlerErrors    *prometheus.CounterVec // labels: topic
	BroadcastsTotal  *prometheus.CounterVec // labels: stream
	BroadcastDrops   *prometheus.CounterVec // labels: stream
	AlertsRaised     *prometheus.CounterVec // labels: name
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	UpsertDur        prometheus.Histogram
	Subscribers      prometheus.Gauge
	WindowQueries    *prometheus.CounterVec // labels: endpoint
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		MessagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetryd_messages_consumed_total",
			Help: "Messages consumed from the bus (by topic)",
		}, []string{"topic"}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetryd_handler_errors_total",
			Help: "Handler failures that skipped the offset commit",
		}, []string{"topic"}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetryd_broadcasts_total",
			Help: "Messages fanned out to subscribers (by stream)",
		}, []string{"stream"}),
		BroadcastDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetryd_broadcast_drops_total",
			Help: "Subscriber sends dropped (buffer full or send failure)",
		}, []string{"stream"}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetryd_alerts_raised_total",
			Help: "Alert documents upserted (by alert name)",
		}, []string{"name"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_enrichment_cache_hits_total",
			Help: "Enrichment cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_enrichment_cache_misses_total",
			Help: "Enrichment cache misses",
		}),
		UpsertDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetryd_docstore_upsert_duration_seconds",
			Help:    "Document store upsert latency",
			Buckets: prometheus.DefBuckets,
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetryd_subscribers_connected",
			Help: "Currently connected WebSocket subscribers",
		}),
		WindowQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetryd_bootstrap_window_queries_total",
			Help: "Bootstrap time-window aggregations executed (by endpoint)",
		}, []string{"endpoint"}),
	}

	prometheus.MustRegister(
		m.MessagesConsumed,
		m.HandlerErrors,
		m.BroadcastsTotal,
		m.BroadcastDrops,
		m.AlertsRaised,
		m.CacheHits,
		m.CacheMisses,
		m.UpsertDur,
		m.Subscribers,
		m.WindowQueries,
	)
	return m
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer creates the metrics server.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "provenance",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "provenance",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	txCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "ledger",
			Name:      "transactions_committed_total",
			Help:      "Total number of committed ledger transactions.",
		},
	)

	txAborted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "ledger",
			Name:      "transactions_aborted_total",
			Help:      "Total number of aborted ledger transactions by error code.",
		},
		[]string{"reason"},
	)

	txDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "provenance",
			Subsystem: "ledger",
			Name:      "commit_duration_seconds",
			Help:      "Duration of committed ledger transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	txWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "ledger",
			Name:      "object_writes_total",
			Help:      "Total number of objects written by committed transactions.",
		},
	)

	domainEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Total number of committed domain events by type.",
		},
		[]string{"type"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "provenance",
			Subsystem: "events",
			Name:      "websocket_clients",
			Help:      "Current number of connected event stream clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		txCommitted,
		txAborted,
		txDuration,
		txWrites,
		domainEvents,
		wsClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// LedgerObserver feeds transaction outcomes into the registry.
type LedgerObserver struct{}

var _ ledger.Observer = LedgerObserver{}

func (LedgerObserver) TxCommitted(writes, records int, elapsed time.Duration) {
	txCommitted.Inc()
	txWrites.Add(float64(writes))
	txDuration.Observe(elapsed.Seconds())
}

func (LedgerObserver) TxAborted(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	txAborted.WithLabelValues(reason).Inc()
}

// CountEvents subscribes to rb and counts committed events by type.
func CountEvents(rb *events.RingBuffer) func() {
	return rb.Subscribe(func(rec events.Record) {
		domainEvents.WithLabelValues(string(rec.Type)).Inc()
	})
}

// StreamClientConnected tracks websocket event clients.
func StreamClientConnected() { wsClients.Inc() }

// StreamClientDisconnected tracks websocket event clients.
func StreamClientDisconnected() { wsClients.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// canonicalPath collapses identifiers so label cardinality stays bounded:
// /content/<id>/transfer becomes /content/:id/transfer and
// /content/by-fingerprint/<fp> becomes /content/by-fingerprint/:id.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	if len(parts) > 1 {
		if !isAction(parts[1]) {
			parts[1] = ":id"
		} else if len(parts) > 2 {
			parts[2] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

var collectionActions = map[string]bool{
	"by-fingerprint": true, "by-owner": true, "ws": true, "status": true,
	"login": true, "challenge": true, "capabilities": true, "sweep": true,
	"register": true, "open": true, "settlements": true, "withdraw": true,
	"deactivate": true, "redeem": true,
}

func isAction(segment string) bool { return collectionActions[segment] }

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	discountLookups *prometheus.CounterVec
	searchQueries   *prometheus.CounterVec
	sessions        prometheus.Gauge
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik komposer.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_discount_lookups_total",
		Help: "Jumlah pencarian diskon terbaik berdasarkan hasil.",
	}, []string{"outcome"})
	searches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_search_queries_total",
		Help: "Jumlah kueri pencarian inline berdasarkan jenis dan status.",
	}, []string{"kind", "status"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_composer_sessions",
		Help: "Jumlah sesi komposer yang sedang terbuka.",
	})
	registry.MustRegister(requests, duration, lookups, searches, sessions)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		discountLookups: lookups,
		searchQueries:   searches,
		sessions:        sessions,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveDiscountLookup mencatat hasil pencarian diskon (found, none, failure).
func (m *Metrics) ObserveDiscountLookup(outcome string) {
	if m == nil {
		return
	}
	m.discountLookups.WithLabelValues(outcome).Inc()
}

// ObserveSearch mencatat satu kueri pencarian inline.
func (m *Metrics) ObserveSearch(kind, status string) {
	if m == nil {
		return
	}
	m.searchQueries.WithLabelValues(kind, status).Inc()
}

// SessionOpened menambah jumlah sesi terbuka.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed mengurangi jumlah sesi terbuka.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yarntrack/yarn-track-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the order lifecycle engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	ordersCreated   prometheus.Counter
	statusUpdates   *prometheus.CounterVec
	crDecisions     *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of production orders created",
	})

	statusUpdates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_item_status_updates_total",
		Help: "Total item status transitions by target stage",
	}, []string{"status"})

	crDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "change_request_decisions_total",
		Help: "Total processed change requests by decision",
	}, []string{"decision"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	registry.MustRegister(requestDuration, requestTotal, ordersCreated, statusUpdates, crDecisions, cacheHits, cacheMisses)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		ordersCreated:   ordersCreated,
		statusUpdates:   statusUpdates,
		crDecisions:     crDecisions,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler serves the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// RecordOrderCreated increments the created-orders counter.
func (s *MetricsService) RecordOrderCreated() {
	if s != nil {
		s.ordersCreated.Inc()
	}
}

// RecordStatusUpdate counts an item status transition.
func (s *MetricsService) RecordStatusUpdate(status models.ItemStatus) {
	if s != nil {
		s.statusUpdates.WithLabelValues(string(status)).Inc()
	}
}

// RecordChangeRequestDecision counts a processed change request.
func (s *MetricsService) RecordChangeRequestDecision(decision models.ChangeRequestStatus) {
	if s != nil {
		s.crDecisions.WithLabelValues(string(decision)).Inc()
	}
}

// RecordCacheLookup counts a cache hit or miss.
func (s *MetricsService) RecordCacheLookup(hit bool) {
	if s == nil {
		return
	}
	if hit {
		s.cacheHits.Inc()
	} else {
		s.cacheMisses.Inc()
	}
}

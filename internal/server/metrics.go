package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/docstream/internal/pipeline"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstream_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstream_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Document processing metrics
	documentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstream_documents_total",
			Help: "Total number of documents streamed",
		},
		[]string{"status"}, // status: processed, cached, failed, cancelled
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstream_pages_total",
			Help: "Finalized pages by text extraction tier",
		},
		[]string{"tier"},
	)

	regionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstream_regions_total",
			Help: "Detected regions by label and source",
		},
		[]string{"label", "source"},
	)

	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstream_phase_duration_seconds",
			Help:    "Duration of one page processing phase",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"phase"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstream_cache_lookups_total",
			Help: "Document cache lookups by result",
		},
		[]string{"result"}, // result: hit, miss
	)

	explanationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstream_explanations_total",
			Help: "Region explanation requests",
		},
		[]string{"status"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docstream_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docstream_upload_size_bytes",
			Help:    "Size of uploaded documents in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstream_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstream_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// streamStats records per-event metrics for one document stream.
type streamStats struct {
	seen bool
}

func (s *streamStats) observe(ev pipeline.Event) {
	if !s.seen {
		s.seen = true
		if ev.Cached {
			cacheLookups.WithLabelValues("hit").Inc()
		} else {
			cacheLookups.WithLabelValues("miss").Inc()
		}
	}

	switch ev.Type {
	case pipeline.EventDone:
		if ev.Cached {
			documentsTotal.WithLabelValues("cached").Inc()
		} else {
			documentsTotal.WithLabelValues("processed").Inc()
		}
	case pipeline.EventPage:
		if ev.Page == nil || ev.Cached {
			return
		}
		phaseDuration.WithLabelValues(string(ev.Page.Phase)).Observe(ev.Elapsed.Seconds())
		if !ev.Final() {
			return
		}
		pagesTotal.WithLabelValues(string(ev.Page.Tier)).Inc()
		for _, r := range ev.Page.Regions {
			regionsTotal.WithLabelValues(string(r.Label), string(r.Source)).Inc()
		}
	}
}

func (s *streamStats) fail(cancelled bool) {
	if cancelled {
		documentsTotal.WithLabelValues("cancelled").Inc()
		return
	}
	documentsTotal.WithLabelValues("failed").Inc()
}

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vision_gateway",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vision_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vision_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	analysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vision_gateway",
			Subsystem: "analysis",
			Name:      "requests_total",
			Help:      "Total number of image analyses by mode.",
		},
		[]string{"mode", "outcome"},
	)

	analysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vision_gateway",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "End-to-end duration of image analyses.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"mode"},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vision_gateway",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of upstream provider calls.",
		},
		[]string{"provider", "outcome"},
	)

	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vision_gateway",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider"},
	)

	chatCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vision_gateway",
			Subsystem: "chat",
			Name:      "completions_total",
			Help:      "Total number of chat completion turns.",
		},
		[]string{"outcome"},
	)

	chatTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vision_gateway",
			Subsystem: "chat",
			Name:      "tokens_total",
			Help:      "Total tokens consumed by chat completions.",
		},
		[]string{"kind"},
	)

	cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vision_gateway",
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Analysis cache lookups by result.",
		},
		[]string{"result"},
	)

	translations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vision_gateway",
			Subsystem: "translate",
			Name:      "requests_total",
			Help:      "Total number of translation calls.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		analysisTotal,
		analysisDuration,
		providerRequests,
		providerDuration,
		chatCompletions,
		chatTokens,
		cacheEvents,
		translations,
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

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordAnalysis records one completed (or failed) analysis request.
func RecordAnalysis(mode string, duration time.Duration, success bool) {
	if mode == "" {
		mode = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	analysisTotal.WithLabelValues(mode, outcomeLabel(success)).Inc()
	analysisDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordProviderCall records one upstream provider round trip.
func RecordProviderCall(provider string, duration time.Duration, success bool) {
	if provider == "" {
		provider = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	providerRequests.WithLabelValues(provider, outcomeLabel(success)).Inc()
	providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordChatCompletion records a chat turn and its token usage.
func RecordChatCompletion(promptTokens, completionTokens int, success bool) {
	chatCompletions.WithLabelValues(outcomeLabel(success)).Inc()
	if promptTokens > 0 {
		chatTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		chatTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// RecordCacheLookup records an analysis cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheEvents.WithLabelValues(result).Inc()
}

// RecordTranslation records one translation call.
func RecordTranslation(success bool) {
	translations.WithLabelValues(outcomeLabel(success)).Inc()
}

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

// canonicalPath collapses request paths onto route shapes so identifier
// segments do not explode label cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")

	prefix := parts[0]
	if prefix != "api" && prefix != "admin" {
		return "/" + prefix
	}
	if len(parts) == 1 {
		return "/" + prefix
	}

	resource := parts[1]
	switch len(parts) {
	case 2:
		return "/" + prefix + "/" + resource
	case 3:
		return "/" + prefix + "/" + resource + "/:id"
	default:
		return "/" + prefix + "/" + resource + "/:id/" + parts[3]
	}
}

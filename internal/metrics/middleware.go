// Package metrics exposes the small set of Prometheus series the router
// needs for operators to see vendor health at a glance: request outcomes,
// breaker state, queue depth, and rate-limit cooldowns. This is pure
// instrumentation; nothing here feeds back into a routing decision.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blueberrycongee/llmux/pkg/types"
)

var (
	// RequestsTotal counts completed attempts by vendor, requested model,
	// and HTTP status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airouter",
			Name:      "requests_total",
			Help:      "Total number of routed LLM requests by vendor, model, and status",
		},
		[]string{"vendor", "model", "status"},
	)

	// RequestLatency tracks end-to-end request latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "airouter",
			Name:      "request_latency_seconds",
			Help:      "Request latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"vendor", "model"},
	)

	// BreakerState exposes each vendor's circuit breaker state
	// (0=closed, 1=open, 2=half-open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "airouter",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per vendor (0=closed, 1=open, 2=half-open)",
		},
		[]string{"vendor"},
	)

	// QueueSize tracks the current number of jobs held in the request queue.
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "airouter",
			Name:      "queue_size",
			Help:      "Current number of jobs in the request queue",
		},
	)

	// RateLimitCooldown exposes whether a (vendor, model) pair is currently
	// cooling down from a 429 (1) or not (0).
	RateLimitCooldown = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "airouter",
			Name:      "rate_limit_cooldown",
			Help:      "Whether a (vendor, model) pair is currently cooling down from a rate limit",
		},
		[]string{"vendor", "model"},
	)
)

// RecordRequest records the outcome of one routed attempt.
func RecordRequest(vendor, model string, statusCode int, latency time.Duration) {
	model = sanitizeModelLabel(model)
	RequestsTotal.WithLabelValues(vendor, model, statusLabel(statusCode)).Inc()
	RequestLatency.WithLabelValues(vendor, model).Observe(latency.Seconds())
}

// RecordBreakerState publishes vendor's current circuit breaker state.
// state is an int rather than breaker.State to avoid a metrics->breaker
// import; callers pass int(breaker.State).
func RecordBreakerState(vendor string, state int) {
	BreakerState.WithLabelValues(vendor).Set(float64(state))
}

// SetQueueSize publishes the request queue's current depth.
func SetQueueSize(n int) {
	QueueSize.Set(float64(n))
}

// RecordRateLimitCooldown publishes whether (vendor, model) is currently
// cooling down from a rate limit.
func RecordRateLimitCooldown(vendor, model string, coolingDown bool) {
	v := 0.0
	if coolingDown {
		v = 1.0
	}
	RateLimitCooldown.WithLabelValues(vendor, model).Set(v)
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher so streaming responses keep working when
// wrapped by this middleware.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware records the inbound HTTP request's wall-clock latency and
// final status under the "gateway" vendor label. Per-vendor attempt
// outcomes are recorded separately by the router via RecordRequest.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		RequestLatency.WithLabelValues("gateway", "all").Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues("gateway", "all", statusLabel(recorder.statusCode)).Inc()
	})
}

const maxModelLabelLen = 64

func sanitizeModelLabel(model string) string {
	_, modelName := types.SplitProviderModel(model)
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(minInt(len(modelName), maxModelLabelLen))
	for _, r := range modelName {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

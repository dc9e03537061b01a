// Package metrics provides Prometheus metrics collection for the proxy.
// It tracks breaker state, cache hit/miss, budget rejections, and provider
// request latency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gaud",
			Name:      "requests_total",
			Help:      "Total number of chat completion requests by provider, model and status",
		},
		[]string{"provider", "model", "status"},
	)

	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gaud",
			Name:      "request_latency_seconds",
			Help:      "Upstream request latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gaud",
			Name:      "tokens_total",
			Help:      "Total tokens processed by provider, model and kind (input/output/cached)",
		},
		[]string{"provider", "model", "kind"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gaud",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=half_open, 2=open)",
		},
		[]string{"provider"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gaud",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result",
		},
		[]string{"tier", "result"}, // tier: exact|semantic, result: hit|miss
	)

	BudgetRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gaud",
			Name:      "budget_rejections_total",
			Help:      "Requests rejected because a monthly or daily budget was exceeded",
		},
		[]string{"period"}, // monthly|daily
	)
)

// RecordRequest records outcome metrics for one completed upstream call.
func RecordRequest(provider, model string, statusCode int, latency time.Duration) {
	RequestsTotal.WithLabelValues(provider, model, strconv.Itoa(statusCode)).Inc()
	RequestLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
}

// RecordTokens records token usage split by kind.
func RecordTokens(provider, model string, input, output, cached int) {
	if input > 0 {
		TokensTotal.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		TokensTotal.WithLabelValues(provider, model, "output").Add(float64(output))
	}
	if cached > 0 {
		TokensTotal.WithLabelValues(provider, model, "cached").Add(float64(cached))
	}
}

// breakerStateValue maps a breaker state name to the gauge value.
func breakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// SetBreakerState publishes the current breaker state for a provider.
func SetBreakerState(provider, state string) {
	BreakerState.WithLabelValues(provider).Set(breakerStateValue(state))
}

// RecordCacheLookup records a cache tier lookup outcome.
func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordBudgetRejection records a pre-check rejection for the given period.
func RecordBudgetRejection(period string) {
	BudgetRejections.WithLabelValues(period).Inc()
}

// Middleware wraps an http.Handler and passes every request straight
// through; it records no HTTP-level metrics itself. Provider-specific
// outcomes are recorded by the pipeline via RecordRequest, which has access
// to the resolved provider/model.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
	})
}

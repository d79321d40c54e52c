/**
 * @description
 * Prometheus metrics for the funnel-service: funnel progression, charge
 * issuance and gateway retry counters, plus an HTTP middleware recording
 * request durations. Exposed on /metrics via promhttp in cmd/main.go.
 */

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	StageTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_stage_transitions_total",
			Help: "Number of funnel stage transitions, labeled by target stage",
		},
		[]string{"stage"},
	)

	ChargesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "funnel_charges_created_total",
			Help: "Number of PIX charges successfully installed",
		},
	)

	ChargeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "funnel_charge_failures_total",
			Help: "Number of failed charge generation attempts",
		},
	)

	GatewayRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "funnel_gateway_retries_total",
			Help: "Number of backoff retries against the payment gateway",
		},
	)

	OrdersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "funnel_orders_created_total",
			Help: "Number of order records persisted",
		},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration by method and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// Register installs all collectors on the default registry. Call once at
// startup.
func Register() {
	prometheus.MustRegister(StageTransitions, ChargesCreated, ChargeFailures, GatewayRetries, OrdersCreated, httpDuration)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request durations for every route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

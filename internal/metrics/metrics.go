// Package metrics exposes the Prometheus counters and histograms
// shared across the HTTP edge and every saga consumer, generalizing
// the pack's MetricsMiddleware/RecordPaymentProcessed idiom to every
// stage of the saga.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route, method and status text.",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds",
		Help: "HTTP request latency.",
	}, []string{"route"})

	ConsumerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "consumer_handler_duration_seconds",
		Help: "Saga consumer handler latency by topic.",
	}, []string{"topic"})

	ReservationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_outcomes_total",
		Help: "Reservation attempts by outcome: reserved, rejected, expired.",
	}, []string{"outcome"})

	PaymentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outcomes_total",
		Help: "Payment attempts by outcome: processed, failed_fraud, failed_processor, failed_declined.",
	}, []string{"outcome"})

	RefundOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refund_outcomes_total",
		Help: "Refund attempts by outcome: processed, failed.",
	}, []string{"outcome"})
)

func Handler() http.Handler { return promhttp.Handler() }

// ObserveHTTP records a single request's latency and status; the chi
// middleware wrapper in internal/httpx calls it once the request has
// been served.
func ObserveHTTP(route, method string, status int, start time.Time) {
	HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	HTTPRequests.WithLabelValues(route, method, http.StatusText(status)).Inc()
}

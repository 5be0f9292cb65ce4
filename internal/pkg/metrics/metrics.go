package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tipqueue_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tipqueue_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// WebhookEvents counts provider events by type and outcome
	// (processed, duplicate, ignored, invalid_signature, failed).
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tipqueue_webhook_events_total",
			Help: "Provider webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// PaymentsRecorded counts ledger writes (created) and idempotent no-ops (duplicate).
	PaymentsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tipqueue_payments_recorded_total",
			Help: "Ledger record attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	// PayoutsScheduled counts per-creator scheduler results (created, updated, skipped, settled, failed).
	PayoutsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tipqueue_payouts_scheduled_total",
			Help: "Payout scheduler results per creator",
		},
		[]string{"result"},
	)

	TicketTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tipqueue_ticket_transitions_total",
			Help: "Ticket payment state transitions",
		},
		[]string{"from", "to"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(PaymentsRecorded)
	prometheus.MustRegister(PayoutsScheduled)
	prometheus.MustRegister(TicketTransitions)
}

// Middleware records request counts and latency per route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		httpRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the Prometheus registry on a Fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of booking sagas accepted",
	})

	BookingsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_confirmed_total",
		Help: "Total number of bookings confirmed end to end",
	})

	BookingsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_failed_total",
		Help: "Total number of failed booking sagas",
	}, []string{"reason"})

	BookingsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_expired_total",
		Help: "Total number of sagas expired by the recovery sweep",
	})

	BookingsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_cancelled_total",
		Help: "Total number of confirmed bookings cancelled",
	})

	ProviderReserveLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_reserve_latency_seconds",
		Help:    "Latency of supplier reserve calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider_id"})

	ProviderFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_failures_total",
		Help: "Total number of failed supplier calls",
	}, []string{"provider_id"})

	BreakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"provider_id", "state"})

	BreakerShortCircuitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_short_circuits_total",
		Help: "Calls rejected without contacting the provider",
	}, []string{"provider_id"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Requests blocked by the rate limiter",
	}, []string{"action"})

	RateLimiterErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rate_limiter_errors_total",
		Help: "Rate limiter store errors (request allowed, fail-open)",
	})

	QuotaUsagePct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "provider_quota_usage_pct",
		Help: "Quota consumption per provider (0-100)",
	}, []string{"provider_id"})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment capture attempts",
	})

	PaymentFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	})

	PaymentCaptureLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_capture_latency_seconds",
		Help:    "Latency of payment intent creation and capture",
		Buckets: prometheus.DefBuckets,
	})

	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compensations_total",
		Help: "Compensating actions attempted",
	}, []string{"step", "outcome"})

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_sweep_runs_total",
		Help: "Recovery sweep passes completed",
	})

	SweepResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_sweep_resolved_total",
		Help: "Stuck sagas resolved by the recovery sweep",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

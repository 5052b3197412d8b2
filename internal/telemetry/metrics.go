// Package telemetry exposes Prometheus metrics for the delivery queue.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_records_enqueued_total", Help: "Records accepted into the queue"})
	DeliveredCounter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_records_delivered_total", Help: "Records delivered to the sink"})
	RetryCounter      = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_records_retried_total", Help: "Delivery attempts that failed and were rescheduled"})
	DeadLetterCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_records_dead_letter_total", Help: "Records moved to the dead-letter queue"})
	CycleSkipCounter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_cycles_skipped_total", Help: "Dispatcher cycles skipped with the circuit open"})
	RecoveredCounter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_records_recovered_total", Help: "Stale in-flight records reverted to pending"})

	PendingGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relay_records_pending", Help: "Records waiting for delivery"})
	InFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relay_records_inflight", Help: "Records currently claimed"})
	DeadLetterGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relay_records_dead_letter", Help: "Records retained in the dead-letter queue"})
	BreakerGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relay_breaker_state", Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)"})
)

// Handler exposes the /metrics HTTP handler with a singleton registration.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			DeliveredCounter,
			RetryCounter,
			DeadLetterCounter,
			CycleSkipCounter,
			RecoveredCounter,
			PendingGauge,
			InFlightGauge,
			DeadLetterGauge,
			BreakerGauge,
		)
	})
	return promhttp.Handler()
}

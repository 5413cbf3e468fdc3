// Package obs holds the prometheus instruments of the push service.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SendResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "push_send_results_total",
		Help: "Classified gateway send outcomes",
	}, []string{"kind", "reason"})
	SendRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_send_retries_total",
		Help: "Sends repeated after a retryable outcome",
	})
	ContractViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_contract_violations_total",
		Help: "Gateway responses outside the documented contract",
	})
	SkippedTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_skipped_tokens_total",
		Help: "Tokens skipped because they were previously invalidated",
	})
	DispatchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "push_dispatch_duration_seconds",
		Help:    "Time to deliver one notification batch",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})
)

// SessionStats is the view of a push session exported as gauges.
type SessionStats interface {
	IdleConnections() int
	InFlight() int
}

// RegisterSessionGauges exports the pool size and in-flight sends of s.
func RegisterSessionGauges(reg prometheus.Registerer, s SessionStats) error {
	idle := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "push_idle_connections",
		Help: "Idle gateway connections in the pool",
	}, func() float64 { return float64(s.IdleConnections()) })
	inFlight := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "push_in_flight_sends",
		Help: "Sends currently holding an admission slot",
	}, func() float64 { return float64(s.InFlight()) })
	if err := reg.Register(idle); err != nil {
		return err
	}
	return reg.Register(inFlight)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	commandsTotal     *prometheus.CounterVec
	instructionsTotal *prometheus.CounterVec
	reconciled        *prometheus.CounterVec
	lastDrift         *prometheus.GaugeVec
	errorsTotal       *prometheus.CounterVec
	latency           *prometheus.HistogramVec
}

// New creates a recorder registered with the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		commandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintreasury_commands_total",
				Help: "Treasury commands by outcome",
			},
			[]string{"command", "result"},
		),
		instructionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintreasury_instructions_dispatched_total",
				Help: "Instructions handed to the executor",
			},
			[]string{"kind", "asset"},
		),
		reconciled: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintreasury_reconciliations_total",
				Help: "Gain or loss bookings to the treasury holder",
			},
			[]string{"asset", "direction"},
		),
		lastDrift: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fintreasury_last_drift",
				Help: "Last reconciled drift in base units, negative for losses",
			},
			[]string{"asset"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintreasury_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fintreasury_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordCommand counts a finished command.
func (r *Recorder) RecordCommand(command, result string) {
	r.commandsTotal.WithLabelValues(command, result).Inc()
}

// RecordInstruction counts a dispatched instruction.
func (r *Recorder) RecordInstruction(kind, asset string) {
	r.instructionsTotal.WithLabelValues(kind, asset).Inc()
}

// RecordReconciliation records a gain (positive) or loss (negative).
func (r *Recorder) RecordReconciliation(asset string, delta float64) {
	direction := "gain"
	if delta < 0 {
		direction = "loss"
	}
	r.reconciled.WithLabelValues(asset, direction).Inc()
	r.lastDrift.WithLabelValues(asset).Set(delta)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Package metrics exposes Prometheus collectors for dispatch, the worker
// pool, the quota ledger and the rate gate. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "ocrgate"

	// --- Subsystems ---
	DispatchComponent  = "dispatch"
	WorkerComponent    = "worker"
	QuotaComponent     = "quota"
	RateLimitComponent = "rate_limit"
	SecondaryComponent = "secondary"
)

var (
	// LatencyBuckets cover recognition calls from 10ms to 5 minutes.
	LatencyBuckets = []float64{
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10, 15, 20, 30, 45, 60, 120, 300,
	}
)

// Metrics holds the collectors registered for one server.
type Metrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	workerAttempts   *prometheus.CounterVec
	workerRetries    *prometheus.CounterVec
	leaseWait        prometheus.Histogram
	leasesInUse      prometheus.Gauge
	quotaDecisions   *prometheus.CounterVec
	rateRejections   prometheus.Counter
	secondaryCalls   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: DispatchComponent,
				Name:      "requests_total",
				Help:      "Dispatched recognition jobs by final source or failure reason.",
			},
			[]string{"result"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: DispatchComponent,
				Name:      "duration_seconds",
				Help:      "End-to-end dispatch latency.",
				Buckets:   LatencyBuckets,
			},
			[]string{"result"},
		),
		workerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: WorkerComponent,
				Name:      "attempts_total",
				Help:      "Primary recognition attempts by worker and outcome.",
			},
			[]string{"worker", "outcome"},
		),
		workerRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: WorkerComponent,
				Name:      "retries_total",
				Help:      "Transport-level retries issued by the recognition clients.",
			},
			[]string{"client"},
		),
		leaseWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: WorkerComponent,
				Name:      "lease_wait_seconds",
				Help:      "Time spent waiting for a worker lease.",
				Buckets:   LatencyBuckets,
			},
		),
		leasesInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: WorkerComponent,
				Name:      "leases_in_use",
				Help:      "Worker leases currently held.",
			},
		),
		quotaDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: QuotaComponent,
				Name:      "decisions_total",
				Help:      "Secondary engine quota decisions.",
			},
			[]string{"decision"},
		),
		rateRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: RateLimitComponent,
				Name:      "rejections_total",
				Help:      "Requests rejected by the admission gate.",
			},
		),
		secondaryCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: SecondaryComponent,
				Name:      "calls_total",
				Help:      "Secondary engine calls by outcome.",
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.dispatchTotal,
			m.dispatchDuration,
			m.workerAttempts,
			m.workerRetries,
			m.leaseWait,
			m.leasesInUse,
			m.quotaDecisions,
			m.rateRejections,
			m.secondaryCalls,
		)
	}
	return m
}

// RecordDispatch counts a finished dispatch and observes its latency.
func (m *Metrics) RecordDispatch(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(result).Inc()
	m.dispatchDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// RecordAttempt counts one primary attempt against worker.
func (m *Metrics) RecordAttempt(worker string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.workerAttempts.WithLabelValues(worker, outcome).Inc()
}

// RecordRetry counts one retry issued by client.
func (m *Metrics) RecordRetry(client string) {
	if m == nil {
		return
	}
	m.workerRetries.WithLabelValues(client).Inc()
}

// ObserveLeaseWait records how long an acquisition waited.
func (m *Metrics) ObserveLeaseWait(d time.Duration) {
	if m == nil {
		return
	}
	m.leaseWait.Observe(d.Seconds())
}

// LeaseAcquired and LeaseReleased track held leases.
func (m *Metrics) LeaseAcquired() {
	if m == nil {
		return
	}
	m.leasesInUse.Inc()
}

func (m *Metrics) LeaseReleased() {
	if m == nil {
		return
	}
	m.leasesInUse.Dec()
}

// RecordQuota counts an admitted, denied or failed quota check.
func (m *Metrics) RecordQuota(decision string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(decision).Inc()
}

// RecordRateRejection counts a request turned away by the admission gate.
func (m *Metrics) RecordRateRejection() {
	if m == nil {
		return
	}
	m.rateRejections.Inc()
}

// RecordSecondary counts a secondary engine call by outcome.
func (m *Metrics) RecordSecondary(outcome string) {
	if m == nil {
		return
	}
	m.secondaryCalls.WithLabelValues(outcome).Inc()
}

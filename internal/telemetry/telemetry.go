// Package telemetry exposes Prometheus instrumentation for the
// remediation control loop.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors published on /metrics.
type Metrics struct {
	IncidentsDetected      prometheus.Counter
	IncidentsResolved      prometheus.Counter
	RemediationsExecuted   prometheus.Counter
	RemediationsSuccessful prometheus.Counter
	RemediationsFailed     prometheus.Counter
	RemediationsRolledBack prometheus.Counter
	PlansAwaitingApproval  prometheus.Gauge
	IncidentsInFlight      prometheus.Gauge
	TotalRemediationCost   prometheus.Counter
	RemediationDuration    prometheus.Histogram
	SafetyChecksFailed     *prometheus.CounterVec
	DiagnosisConfidence    prometheus.Histogram
	DetectorCycles         prometheus.Counter
	VerificationFailures   prometheus.Counter
}

// New registers the remedymgr collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IncidentsDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "incidents_detected_total",
			Help:      "Number of incidents raised by the detector.",
		}),
		IncidentsResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "incidents_resolved_total",
			Help:      "Number of incidents that reached the resolved state.",
		}),
		RemediationsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "remediations_executed_total",
			Help:      "Number of remediation pipelines started.",
		}),
		RemediationsSuccessful: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "remediations_successful_total",
			Help:      "Number of remediations that applied and verified cleanly.",
		}),
		RemediationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "remediations_failed_total",
			Help:      "Number of remediations that ended in failure.",
		}),
		RemediationsRolledBack: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "remediations_rolled_back_total",
			Help:      "Number of remediations whose rollback plan was executed.",
		}),
		PlansAwaitingApproval: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "remedymgr",
			Name:      "plans_awaiting_approval",
			Help:      "Remediation plans currently pending operator approval.",
		}),
		IncidentsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "remedymgr",
			Name:      "incidents_in_flight",
			Help:      "Incidents currently being diagnosed or remediated.",
		}),
		TotalRemediationCost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "remediation_cost_dollars_total",
			Help:      "Cumulative estimated monthly cost of applied remediations.",
		}),
		RemediationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remedymgr",
			Name:      "remediation_duration_seconds",
			Help:      "Wall-clock duration of remediation pipelines.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		SafetyChecksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "safety_checks_failed_total",
			Help:      "Safety check failures by check name.",
		}, []string{"check"}),
		DiagnosisConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remedymgr",
			Name:      "diagnosis_confidence",
			Help:      "Confidence scores produced by the diagnosis provider.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DetectorCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "detector_cycles_total",
			Help:      "Detector polling cycles completed.",
		}),
		VerificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remedymgr",
			Name:      "verification_failures_total",
			Help:      "Post-remediation verifications that did not pass.",
		}),
	}
}

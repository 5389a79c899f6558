package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry             = prometheus.NewRegistry()
	registerOnce         sync.Once
	apiRequestsTotal     *prometheus.CounterVec
	apiLatencySeconds    *prometheus.HistogramVec
	apiErrorsTotal       *prometheus.CounterVec
	phaseSwitchesTotal   *prometheus.CounterVec
	allocationRunsTotal  *prometheus.CounterVec
	allocationEdgesTotal *prometheus.CounterVec
	evaluationsTotal     *prometheus.CounterVec
	eventsEmittedTotal   *prometheus.CounterVec
	sweepDuration        *prometheus.HistogramVec
	attachmentsRejected  *prometheus.CounterVec
)

// RegisterMetrics initialises the workshop collectors on the service registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_api_requests_total",
			Help: "Total number of workshop API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workshop_api_latency_seconds",
			Help:    "Latency distribution for workshop API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_api_errors_total",
			Help: "Total number of error responses returned by workshop endpoints.",
		}, []string{"method", "route", "status"})

		phaseSwitchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_phase_switches_total",
			Help: "Phase transitions performed, by trigger and target phase.",
		}, []string{"trigger", "target"})

		allocationRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_allocation_runs_total",
			Help: "Allocation runs, by policy and outcome.",
		}, []string{"policy", "status"})

		allocationEdgesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_allocation_edges_total",
			Help: "Allocation edges changed, by policy and change kind.",
		}, []string{"policy", "change"})

		evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_evaluations_total",
			Help: "Grading grade evaluations, by method.",
		}, []string{"method"})

		eventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_events_emitted_total",
			Help: "Domain events emitted, by name.",
		}, []string{"event"})

		sweepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workshop_sweep_duration_seconds",
			Help:    "Duration of background sweeps.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"})

		attachmentsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_attachments_rejected_total",
			Help: "Submission attachments rejected, by reason.",
		}, []string{"reason"})

		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			phaseSwitchesTotal, allocationRunsTotal, allocationEdgesTotal,
			evaluationsTotal, eventsEmittedTotal, sweepDuration,
			attachmentsRejected,
		)
	})
}

// APIRequests exposes the counter for workshop API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for workshop API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

func PhaseSwitches() *prometheus.CounterVec {
	RegisterMetrics()
	return phaseSwitchesTotal
}

func AllocationRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return allocationRunsTotal
}

func AllocationEdges() *prometheus.CounterVec {
	RegisterMetrics()
	return allocationEdgesTotal
}

func Evaluations() *prometheus.CounterVec {
	RegisterMetrics()
	return evaluationsTotal
}

func EventsEmitted() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsEmittedTotal
}

// SweepDuration exposes the histogram observed by the cron jobs.
func SweepDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return sweepDuration
}

func AttachmentsRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return attachmentsRejected
}

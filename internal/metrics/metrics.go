package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts triage runs, labeled by diff mode and outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_runs_total",
		Help: "The total number of triage runs",
	}, []string{"mode", "status"}) // status: success, error, cancelled

	// RunDuration measures end-to-end triage run time.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_run_duration_seconds",
		Help:    "Time taken for one triage run",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"}) // result: success, error, cancelled

	// UnitsBuilt counts review units produced from diffs.
	UnitsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_units_built_total",
		Help: "The total number of review units built from hunks",
	})

	// PlannerRequests counts planner calls, labeled by backend and status.
	PlannerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_planner_requests_total",
		Help: "The total number of planner backend requests",
	}, []string{"backend", "status"}) // status: success, error

	// PlannerDuration measures planner round-trip time per backend.
	PlannerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_planner_duration_seconds",
		Help:    "Time taken for one planner request",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	// IntentCacheLookups counts planner intent cache lookups by result.
	IntentCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_intent_cache_lookups_total",
		Help: "The total number of planner intent cache lookups",
	}, []string{"result"}) // result: hit, miss

	// ScannerInvocations counts scanner runs per file, labeled by scanner
	// and status.
	ScannerInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_scanner_invocations_total",
		Help: "The total number of scanner invocations",
	}, []string{"scanner", "status"}) // status: ok, error, cache_hit

	// ScanDuration measures whole static scan runs.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triage_scan_duration_seconds",
		Help:    "Time taken for one static scan run",
		Buckets: prometheus.DefBuckets,
	})

	// ConflictsDetected counts rule/planner conflicts by type.
	ConflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_conflicts_detected_total",
		Help: "The total number of rule vs planner conflicts recorded",
	}, []string{"type"})

	// SessionSaves counts session persistence attempts by status.
	SessionSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_session_saves_total",
		Help: "The total number of session save attempts",
	}, []string{"status"}) // status: success, fallback, error
)

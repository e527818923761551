// Package metrics publishes the coordinator's operational counters through
// the default Prometheus registry, exposed by the API server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive is the number of live playback sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamwatch_sessions_active",
		Help: "Number of live playback sessions",
	})

	// SessionsStarted counts sessions ever created.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_sessions_started_total",
		Help: "Total number of playback sessions created",
	})

	// ProgressSaves counts watch progress persistence attempts by result.
	ProgressSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwatch_progress_saves_total",
		Help: "Total watch progress saves by result",
	}, []string{"result"})

	// GateReady counts readiness grants by how they were earned.
	GateReady = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwatch_gate_ready_total",
		Help: "Total readiness grants by mode",
	}, []string{"mode"})

	// EnginePollErrors counts failed engine status or info fetches.
	EnginePollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_engine_poll_errors_total",
		Help: "Total failed download engine polls",
	})

	// RecoveryReloads counts stream reloads issued by the recovery supervisor.
	RecoveryReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_recovery_reloads_total",
		Help: "Total stream reloads after transient playback stalls",
	})

	// PlaybackFatals counts playback errors surfaced as fatal.
	PlaybackFatals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_playback_fatal_total",
		Help: "Total playback errors surfaced as fatal",
	})

	// ResumePrompts counts resume prompt outcomes.
	ResumePrompts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwatch_resume_prompts_total",
		Help: "Total resume prompt outcomes",
	}, []string{"outcome"})
)

// CountSave records one save attempt outcome: ok, skipped or error.
func CountSave(result string) {
	ProgressSaves.WithLabelValues(result).Inc()
}

// CountGateReady records a readiness grant: earned or forced.
func CountGateReady(mode string) {
	GateReady.WithLabelValues(mode).Inc()
}

// CountResume records a resume prompt outcome: offered, accepted, declined
// or timeout.
func CountResume(outcome string) {
	ResumePrompts.WithLabelValues(outcome).Inc()
}

package run

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/inhabit/pkg/report"
)

var (
	metricUnitsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inhabit",
		Name:      "units_started_total",
		Help:      "Number of benchmark units picked up by the orchestrator.",
	})
	metricUnitsScored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inhabit",
		Name:      "units_scored_total",
		Help:      "Number of units that finished with a score recorded.",
	})
	metricUnitsErrored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inhabit",
		Name:      "units_errored_total",
		Help:      "Number of units that finished with an error recorded.",
	})
	metricUnitsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inhabit",
		Name:      "units_timed_out_total",
		Help:      "Number of units stopped by the per-unit deadline.",
	})
	metricTargetHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inhabit",
		Name:      "target_hits_total",
		Help:      "Key-type targets matched by created objects across all units.",
	})
	metricOracleCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inhabit",
		Name:      "oracle_calls_total",
		Help:      "Planning oracle completions consumed.",
	})
	metricSimAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inhabit",
		Name:      "sim_attempts_total",
		Help:      "Simulator submissions, counting every gas ladder rung.",
	})
	metricGasEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inhabit",
		Name:      "gas_escalations_total",
		Help:      "Gas ladder rungs climbed past each unit's opening budget.",
	})
	metricCheckpoints = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inhabit",
		Name:      "checkpoints_written_total",
		Help:      "Periodic run checkpoints persisted to disk.",
	})
	metricRunDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "inhabit",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of the most recent run.",
	})
)

func recordUnitStart() {
	metricUnitsStarted.Inc()
}

func recordUnitOutcome(row report.UnitResult) {
	if row.Score != nil {
		metricUnitsScored.Inc()
		if row.Score.CreatedHits > 0 {
			metricTargetHits.Add(float64(row.Score.CreatedHits))
		}
	}
	if unitErrored(row) {
		metricUnitsErrored.Inc()
	}
	if row.TimedOut {
		metricUnitsTimedOut.Inc()
	}
	if row.OracleCalls > 0 {
		metricOracleCalls.Add(float64(row.OracleCalls))
	}
	if row.SimAttempts > 0 {
		metricSimAttempts.Add(float64(row.SimAttempts))
	}
	// The first submission is not an escalation, and neither is an
	// advisory fallback attempt.
	escalations := row.SimAttempts - 1
	if row.FellBackToDevInspect {
		escalations--
	}
	if escalations > 0 {
		metricGasEscalations.Add(float64(escalations))
	}
}

func recordCheckpoint() {
	metricCheckpoints.Inc()
}

func recordRunDuration(d time.Duration) {
	metricRunDuration.Set(d.Seconds())
}

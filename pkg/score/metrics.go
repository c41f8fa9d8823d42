package score

// Aggregate summarizes a whole run's unit scores.
//
// The macro average covers only rated units (targets > 0); units with
// nothing to inhabit would otherwise drag the mean toward zero without
// saying anything about the agent. The micro rate pools hits and
// targets across every unit instead.
type Aggregate struct {
	Packages           int     `json:"packages"`
	Rated              int     `json:"rated"`
	AvgHitRate         float64 `json:"avg_hit_rate"`
	MaxHitRate         float64 `json:"max_hit_rate"`
	MicroHitRate       float64 `json:"micro_hit_rate"`
	AnyHit             int     `json:"any_hit"`
	DryRunOK           int     `json:"dry_run_ok"`
	Errors             int     `json:"errors"`
	Timeouts           int     `json:"timeouts"`
	Hits               int     `json:"hits"`
	Targets            int     `json:"targets"`
	CreatedDistinctSum int     `json:"created_distinct_sum"`
}

// Accumulator folds per-unit outcomes into an Aggregate. The zero
// value is ready to use.
type Accumulator struct {
	agg      Aggregate
	macroSum float64
}

// Add records one finished unit. errored and timedOut describe the
// harness outcome for the unit; dryRunOK reports whether the simulator
// both accepted and successfully executed the unit's plan.
func (a *Accumulator) Add(s Score, errored, timedOut, dryRunOK bool) {
	a.agg.Packages++
	a.agg.Hits += s.CreatedHits
	a.agg.Targets += s.Targets
	a.agg.CreatedDistinctSum += s.CreatedDistinct
	if s.CreatedHits > 0 {
		a.agg.AnyHit++
	}
	if dryRunOK {
		a.agg.DryRunOK++
	}
	if errored {
		a.agg.Errors++
	}
	if timedOut {
		a.agg.Timeouts++
	}
	if rate, ok := s.HitRate(); ok {
		a.agg.Rated++
		a.macroSum += rate
		if rate > a.agg.MaxHitRate {
			a.agg.MaxHitRate = rate
		}
	}
}

// Aggregate returns the summary over everything added so far.
func (a *Accumulator) Aggregate() Aggregate {
	agg := a.agg
	if agg.Rated > 0 {
		agg.AvgHitRate = a.macroSum / float64(agg.Rated)
	}
	if agg.Targets > 0 {
		agg.MicroHitRate = float64(agg.Hits) / float64(agg.Targets)
	}
	return agg
}

// Package score compares created-object evidence against a unit's
// target key types using base-type equality.
package score

import (
	"sort"

	"github.com/odvcencio/inhabit/pkg/iface"
)

// missingSampleCap bounds the number of missing base types echoed in
// a score record so huge target sets cannot bloat reports.
const missingSampleCap = 50

// Score is the per-unit scoring record.
type Score struct {
	Targets         int      `json:"targets"`
	CreatedDistinct int      `json:"created_distinct"`
	CreatedHits     int      `json:"created_hits"`
	Missing         int      `json:"missing"`
	MissingSample   []string `json:"missing_sample,omitempty"`
}

// Inhabitation scores a simulation's created-object type list against
// the target set. Both sides are canonicalized to base types first,
// so address padding and generic arguments never affect the result.
func Inhabitation(targets, created []string) Score {
	canonTargets := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		canonTargets[iface.CanonicalBaseType(t)] = struct{}{}
	}

	canonCreated := make(map[string]struct{}, len(created))
	for _, c := range created {
		canonCreated[iface.CanonicalBaseType(c)] = struct{}{}
	}

	hits := 0
	var missing []string
	for t := range canonTargets {
		if _, ok := canonCreated[t]; ok {
			hits++
		} else {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	sample := missing
	if len(sample) > missingSampleCap {
		sample = sample[:missingSampleCap]
	}

	return Score{
		Targets:         len(canonTargets),
		CreatedDistinct: len(canonCreated),
		CreatedHits:     hits,
		Missing:         len(missing),
		MissingSample:   sample,
	}
}

// HitRate returns created_hits / targets. The second return is false
// when the unit has no targets: such units are excluded from macro
// averages rather than counted as zero.
func (s Score) HitRate() (float64, bool) {
	if s.Targets == 0 {
		return 0, false
	}
	return float64(s.CreatedHits) / float64(s.Targets), true
}

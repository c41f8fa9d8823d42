package main

import (
	"flag"
	"fmt"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/manifest"
	"github.com/odvcencio/inhabit/pkg/report"
)

// runFilterCommand derives a roster manifest from a prior report, so a
// scan over the full corpus can focus later runs on packages that are
// worth the oracle budget.
func runFilterCommand(args []string) error {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	reportPath := fs.String("report", "", "report to filter (required)")
	minTargets := fs.Int("min-targets", -1, "keep packages with at least this many key targets")
	minHits := fs.Int("min-hits", -1, "keep packages with at least this many created target hits")
	out := fs.String("out", "", "manifest output path (default stdout)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	if *reportPath == "" {
		return withExitCode(errors.New(errors.ErrCodeInvalidInput, "no report given").
			WithRemediation("pass -report with the path of a run or scan report"), 2)
	}
	if *minTargets < 0 && *minHits < 0 {
		return withExitCode(errors.New(errors.ErrCodeInvalidInput, "no filter criteria given").
			WithRemediation("pass -min-targets, -min-hits, or both"), 2)
	}

	rep, err := report.Load(*reportPath)
	if err != nil {
		return err
	}

	var ids []string
	switch {
	case *minTargets >= 0 && *minHits >= 0:
		byHits := make(map[string]bool)
		for _, id := range rep.UnitIDsWithMinHits(*minHits) {
			byHits[id] = true
		}
		for _, id := range rep.UnitIDsWithMinTargets(*minTargets) {
			if byHits[id] {
				ids = append(ids, id)
			}
		}
	case *minTargets >= 0:
		ids = rep.UnitIDsWithMinTargets(*minTargets)
	default:
		ids = rep.UnitIDsWithMinHits(*minHits)
	}
	if len(ids) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "no packages matched the filter").
			WithContext("report", *reportPath)
	}

	if *out == "" {
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}
	if err := manifest.Write(*out, ids); err != nil {
		return err
	}
	fmt.Printf("wrote %d package ids to %s\n", len(ids), *out)
	return nil
}

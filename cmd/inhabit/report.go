package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/report"
)

// runReportCommand loads a sealed report, verifies its checksum, and
// prints the aggregate. It is the quick way to eyeball a finished run
// without opening the JSON.
func runReportCommand(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	in := fs.String("in", "", "report path (also accepted as a positional argument)")
	units := fs.Bool("units", false, "list per-package rows")
	xlsxPath := fs.String("xlsx", "", "export the report as a workbook to this path")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	path := *in
	if path == "" {
		path = fs.Arg(0)
	}
	if path == "" {
		return withExitCode(errors.New(errors.ErrCodeInvalidInput, "no report given").
			WithRemediation("pass -in or a report path"), 2)
	}

	rep, err := report.Load(path)
	if err != nil {
		return err
	}

	started := time.Unix(rep.StartedAtUnixSeconds, 0).UTC()
	fmt.Printf("run %s: agent %s, corpus %s, started %s\n",
		rep.RunID, rep.Agent, rep.CorpusRootName, started.Format(time.RFC3339))
	if rep.SimulationMode != "" {
		line := "simulation: " + rep.SimulationMode
		if rep.RPCURL != "" {
			line += " via " + rep.RPCURL
		}
		fmt.Println(line)
	}
	printReportSummary(rep)

	if *units {
		fmt.Println()
		for _, u := range rep.Packages {
			printUnitRow(u)
		}
	}

	if *xlsxPath != "" {
		if err := report.ExportXLSX(*xlsxPath, rep); err != nil {
			return err
		}
		fmt.Printf("wrote workbook to %s\n", *xlsxPath)
	}
	return nil
}

func printReportSummary(r *report.Report) {
	agg := r.Aggregate
	fmt.Printf("packages %d  rated %d  errors %d  timeouts %d\n",
		agg.Packages, agg.Rated, agg.Errors, agg.Timeouts)
	fmt.Printf("hits %d/%d  avg %.4f  micro %.4f  max %.4f  any-hit %d  dry-run-ok %d\n",
		agg.Hits, agg.Targets, agg.AvgHitRate, agg.MicroHitRate, agg.MaxHitRate, agg.AnyHit, agg.DryRunOK)
}

func printUnitRow(u report.UnitResult) {
	status := "ok"
	switch {
	case u.TimedOut:
		status = "timeout"
	case u.Error != "":
		status = u.ErrorCode
		if status == "" {
			status = "error"
		}
	}
	hits, targets := 0, 0
	if u.Score != nil {
		hits, targets = u.Score.CreatedHits, u.Score.Targets
	}
	fmt.Printf("%s  %-18s hits %d/%d  %.1fs\n", u.PackageID, status, hits, targets, u.ElapsedSeconds)
}

package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/odvcencio/inhabit/pkg/errors"
)

// ExportXLSX writes the report as a two-sheet workbook: run-level
// numbers on Summary, one row per package on Packages.
func ExportXLSX(path string, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to prepare workbook")
	}

	summaryRows := [][]any{
		{"run_id", r.RunID},
		{"agent", r.Agent},
		{"corpus_root", r.CorpusRootName},
		{"simulation_mode", r.SimulationMode},
		{"samples", r.Samples},
		{"seed", r.Seed},
		{"started", time.Unix(r.StartedAtUnixSeconds, 0).UTC().Format(time.RFC3339)},
		{"finished", time.Unix(r.FinishedAtUnixSeconds, 0).UTC().Format(time.RFC3339)},
		{"packages", r.Aggregate.Packages},
		{"rated", r.Aggregate.Rated},
		{"avg_hit_rate", r.Aggregate.AvgHitRate},
		{"max_hit_rate", r.Aggregate.MaxHitRate},
		{"micro_hit_rate", r.Aggregate.MicroHitRate},
		{"any_hit", r.Aggregate.AnyHit},
		{"dry_run_ok", r.Aggregate.DryRunOK},
		{"hits", r.Aggregate.Hits},
		{"targets", r.Aggregate.Targets},
		{"created_distinct_sum", r.Aggregate.CreatedDistinctSum},
		{"errors", r.Aggregate.Errors},
		{"timeouts", r.Aggregate.Timeouts},
	}
	if err := writeRows(f, summary, summaryRows); err != nil {
		return err
	}

	const packages = "Packages"
	if _, err := f.NewSheet(packages); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to prepare workbook")
	}

	header := []any{
		"package_id", "targets", "created_distinct", "created_hits", "hit_rate",
		"dry_run_ok", "dry_run_exec_ok", "timed_out", "plan_variant",
		"plan_attempts", "sim_attempts", "gas_budget_used",
		"dry_run_abort_code", "dry_run_abort_location",
		"error_code", "error", "elapsed_seconds", "created_object_types",
	}
	rows := [][]any{header}
	for _, u := range r.Packages {
		var targets, distinct, hits any
		var hitRate any
		if u.Score != nil {
			targets, distinct, hits = u.Score.Targets, u.Score.CreatedDistinct, u.Score.CreatedHits
			if rate, ok := u.Score.HitRate(); ok {
				hitRate = rate
			}
		}
		var abortCode any
		if u.DryRunAbortCode != nil {
			abortCode = *u.DryRunAbortCode
		}
		rows = append(rows, []any{
			u.PackageID, targets, distinct, hits, hitRate,
			u.DryRunOK, u.DryRunExecOK, u.TimedOut, u.PlanVariant,
			u.PlanAttempts, u.SimAttempts, u.GasBudgetUsed,
			abortCode, u.DryRunAbortLocation,
			u.ErrorCode, u.Error, u.ElapsedSeconds,
			strings.Join(u.CreatedObjectTypes, "\n"),
		})
	}
	if err := writeRows(f, packages, rows); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to save workbook").
			WithContext("path", path)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		for j, value := range row {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal,
					fmt.Sprintf("invalid cell coordinates %d,%d", j+1, i+1))
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write cell").
					WithContext("sheet", sheet).
					WithContext("cell", cell)
			}
		}
	}
	return nil
}

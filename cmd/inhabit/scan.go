package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/inhabit/pkg/config"
	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/iface"
	"github.com/odvcencio/inhabit/pkg/logging"
	"github.com/odvcencio/inhabit/pkg/report"
	"github.com/odvcencio/inhabit/pkg/run"
	"github.com/odvcencio/inhabit/pkg/score"
	"github.com/odvcencio/inhabit/pkg/search"
	"github.com/odvcencio/inhabit/pkg/sim"
)

const defaultScanOut = "results/scan_report.json"

var scanLoadConfigFn = config.LoadFrom

// scanSummary is the sidecar written by -stats-out.
type scanSummary struct {
	Stats     search.Stats     `json:"stats"`
	Viability search.Viability `json:"viability"`
}

// runScanCommand walks the corpus offline: no oracle, no RPC. Every
// unit gets a row with its target count even when search finds
// nothing, so the scan report can seed filter -min-targets.
func runScanCommand(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default inhabit.yaml)")
	envFile := fs.String("env-file", "", "env file path (default .env)")
	corpusRoot := fs.String("corpus-root", "", "corpus directory of package interfaces")
	packageIDsFile := fs.String("package-ids-file", "", "manifest restricting the roster to listed package ids")
	samples := fs.Int("samples", 0, "sample this many packages from the roster (0 = all)")
	seed := fs.Int64("seed", 0, "seed for sampling")
	out := fs.String("out", defaultScanOut, "scan report output path")
	statsOut := fs.String("stats-out", "", "write search statistics to this path")
	noLog := fs.Bool("no-log", false, "disable the JSONL event log")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	cfg, err := scanLoadConfigFn(*configPath, *envFile)
	if err != nil {
		return withExitCode(err, 2)
	}
	apply := map[string]func(){
		"corpus-root":      func() { cfg.Run.CorpusRoot = *corpusRoot },
		"package-ids-file": func() { cfg.Run.PackageIDsFile = *packageIDsFile },
		"samples":          func() { cfg.Run.Samples = *samples },
		"seed":             func() { cfg.Run.Seed = *seed },
	}
	fs.Visit(func(f *flag.Flag) {
		if fn, ok := apply[f.Name]; ok {
			fn()
		}
	})
	if err := cfg.Validate(); err != nil {
		return withExitCode(err, 2)
	}

	ids, err := resolveRoster(cfg)
	if err != nil {
		return withExitCode(err, 2)
	}

	runID := ulid.Make().String()
	log, err := buildLogger(cfg, runID, *noLog)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := search.NewEngine(search.DefaultPolicy(), search.Limits{})
	loader := iface.DirLoader{Root: cfg.Run.CorpusRoot}
	gasBudget := sim.DefaultGasLadder[0]
	if len(cfg.Simulation.GasLadder) > 0 {
		gasBudget = cfg.Simulation.GasLadder[0]
	}

	startedAt := time.Now()
	var stats search.Stats
	var viability search.Viability
	units := make([]report.UnitResult, 0, len(ids))

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		row := scanUnit(ctx, loader, engine, id, cfg.Simulation.Sender, gasBudget, cfg.Simulation.GasCoin, &stats, &viability)
		log.Debug(logging.CategorySearch, "unit_scanned", "package scanned", map[string]any{
			"package_id": row.PackageID,
			"error_code": row.ErrorCode,
		})
		units = append(units, row)
	}

	var haltErr error
	if ctx.Err() != nil {
		haltErr = errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "scan interrupted")
	}

	var acc score.Accumulator
	for _, row := range units {
		var s score.Score
		if row.Score != nil {
			s = *row.Score
		}
		// An exhausted search is a counted zero, not an error.
		errored := row.Error != "" && row.ErrorCode != string(errors.ErrCodeSearchExhausted)
		acc.Add(s, errored, row.TimedOut, row.DryRunOK)
	}
	sampleCount := cfg.Run.Samples
	if sampleCount == 0 {
		sampleCount = len(ids)
	}
	rep := &report.Report{
		SchemaVersion:         report.SchemaVersion,
		RunID:                 runID,
		StartedAtUnixSeconds:  startedAt.Unix(),
		FinishedAtUnixSeconds: time.Now().Unix(),
		CorpusRootName:        filepath.Base(cfg.Run.CorpusRoot),
		Samples:               sampleCount,
		Seed:                  cfg.Run.Seed,
		Agent:                 run.AgentBaselineSearch,
		Sender:                cfg.Simulation.Sender,
		GasBudget:             gasBudget,
		SimulationMode:        string(sim.ModeBuildOnly),
		Aggregate:             acc.Aggregate(),
		Packages:              units,
	}
	if err := writeReport(*out, rep); err != nil {
		return err
	}
	if *statsOut != "" {
		if err := writeScanStats(*statsOut, scanSummary{Stats: stats, Viability: viability}); err != nil {
			return err
		}
		fmt.Printf("wrote stats to %s\n", *statsOut)
	}

	fmt.Printf("scanned %d packages: %d with candidates, %d without, %d failed to load\n",
		stats.PackagesTotal, stats.PackagesSelected, stats.PackagesNoCandidates, stats.PackagesFailedInterface)
	fmt.Printf("entry points: %d public entry, %d without type params, %d fully fillable\n",
		viability.PublicEntryTotal, viability.PublicEntryNoTypeParams, viability.PublicEntrySupportedArgs)

	if haltErr != nil {
		return withExitCode(haltErr, 3)
	}
	return nil
}

// scanUnit runs the offline pipeline for one package: load, analyze,
// search, and encode the found plan without submitting it anywhere.
func scanUnit(ctx context.Context, loader iface.Loader, engine *search.Engine, id, sender string, gasBudget uint64, gasCoin string, stats *search.Stats, viability *search.Viability) (row report.UnitResult) {
	start := time.Now()
	row = report.UnitResult{PackageID: id, SimulationMode: string(sim.ModeBuildOnly)}
	defer func() {
		row.ElapsedSeconds = time.Since(start).Seconds()
	}()

	doc, err := loader.Load(ctx, id)
	if err != nil {
		row.Error = err.Error()
		row.ErrorCode = string(errors.GetCode(err))
		stats.AddFailedInterface()
		return row
	}

	sc := score.Inhabitation(doc.KeyTypes(), nil)
	row.Score = &sc
	stats.AddAnalysis(engine.Analyze(doc))
	v := engine.Viability(doc)
	viability.PublicEntryTotal += v.PublicEntryTotal
	viability.PublicEntryNoTypeParams += v.PublicEntryNoTypeParams
	viability.PublicEntrySupportedArgs += v.PublicEntrySupportedArgs

	p, _ := engine.ExecutablePlan(doc)
	if p == nil {
		row.Error = "no executable constructor plan found"
		row.ErrorCode = string(errors.ErrCodeSearchExhausted)
		return row
	}
	row.PTBParseOK = true
	row.PlanVariant = run.VariantSearch

	if _, err := (sim.EnvelopeEncoder{}).Encode(p, sender, gasBudget, gasCoin); err != nil {
		row.Error = err.Error()
		row.ErrorCode = string(errors.GetCode(err))
		return row
	}
	row.TxBuildOK = true
	row.GasBudgetUsed = gasBudget
	return row
}

func writeScanStats(path string, summary scanSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode scan stats")
	}
	data = append(data, '\n')
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create stats directory").
				WithContext("dir", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write scan stats").
			WithContext("path", path)
	}
	return nil
}

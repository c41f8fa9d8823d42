package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/inhabit/pkg/api"
	"github.com/odvcencio/inhabit/pkg/checkpoint"
	"github.com/odvcencio/inhabit/pkg/config"
	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/iface"
	"github.com/odvcencio/inhabit/pkg/logging"
	"github.com/odvcencio/inhabit/pkg/notify"
	"github.com/odvcencio/inhabit/pkg/observability"
	"github.com/odvcencio/inhabit/pkg/oracle"
	"github.com/odvcencio/inhabit/pkg/report"
	"github.com/odvcencio/inhabit/pkg/run"
	"github.com/odvcencio/inhabit/pkg/session"
	"github.com/odvcencio/inhabit/pkg/sim"
	"github.com/odvcencio/inhabit/pkg/store"
)

// orchestratorRunner is the slice of run.Orchestrator the command
// needs, kept narrow so tests can substitute a fake.
type orchestratorRunner interface {
	RunID() string
	Run(ctx context.Context, ids []string) (*report.Report, error)
}

var (
	runLoadConfigFn      = config.LoadFrom
	runNewOrchestratorFn = func(opts run.Options) (orchestratorRunner, error) {
		return run.New(opts)
	}
)

func runRunCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default inhabit.yaml)")
	envFile := fs.String("env-file", "", "env file path (default .env)")
	corpusRoot := fs.String("corpus-root", "", "corpus directory of package interfaces")
	packageIDsFile := fs.String("package-ids-file", "", "manifest restricting the roster to listed package ids")
	samples := fs.Int("samples", 0, "sample this many packages from the roster (0 = all)")
	seed := fs.Int64("seed", 0, "seed for sampling and mock agents")
	agent := fs.String("agent", "", "agent to run (baseline-search, real-openai-compatible, mock-*)")
	workers := fs.Int("workers", 0, "concurrent units (default 1)")
	simulationMode := fs.String("simulation-mode", "", "dry-run, advisory-inspect, or build-only")
	rpcURL := fs.String("rpc-url", "", "fullnode RPC endpoint")
	sender := fs.String("sender", "", "sender address for simulated transactions")
	gasCoin := fs.String("gas-coin", "", "gas coin object id (optional)")
	timeoutSeconds := fs.Float64("per-package-timeout-seconds", 0, "wall-clock budget per package")
	maxPlanAttempts := fs.Int("max-plan-attempts", 0, "invalid plan replies tolerated per session")
	maxPlanningCalls := fs.Int("max-planning-calls", 0, "oracle calls allowed per package")
	fidelity := fs.String("fidelity", "", "interface disclosure level (names, entry, public, focused)")
	continueOnError := fs.Bool("continue-on-error", false, "record unit failures and keep going")
	resume := fs.Bool("resume", false, "resume from the latest checkpoint or prior report")
	checkpointEvery := fs.Int("checkpoint-every", 0, "checkpoint cadence in units (0 disables)")
	checkpointDir := fs.String("checkpoint-dir", "", "checkpoint directory")
	out := fs.String("out", "", "report output path")
	statusAddr := fs.String("status-addr", "", "serve the status API on this address while running")
	dbPath := fs.String("db", "", "archive finished runs into this SQLite database")
	noLog := fs.Bool("no-log", false, "disable the JSONL event log")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	cfg, err := runLoadConfigFn(*configPath, *envFile)
	if err != nil {
		return withExitCode(err, 2)
	}

	// Only flags the user actually set override the file and env
	// layers. Checking parsed values against zero would erase
	// legitimate zero overrides like -checkpoint-every=0.
	apply := map[string]func(){
		"corpus-root":                 func() { cfg.Run.CorpusRoot = *corpusRoot },
		"package-ids-file":            func() { cfg.Run.PackageIDsFile = *packageIDsFile },
		"samples":                     func() { cfg.Run.Samples = *samples },
		"seed":                        func() { cfg.Run.Seed = *seed },
		"agent":                       func() { cfg.Run.Agent = *agent },
		"workers":                     func() { cfg.Run.Workers = *workers },
		"simulation-mode":             func() { cfg.Simulation.Mode = *simulationMode },
		"rpc-url":                     func() { cfg.Simulation.RPCURL = *rpcURL },
		"sender":                      func() { cfg.Simulation.Sender = *sender },
		"gas-coin":                    func() { cfg.Simulation.GasCoin = *gasCoin },
		"per-package-timeout-seconds": func() { cfg.Run.PerPackageTimeoutSeconds = *timeoutSeconds },
		"max-plan-attempts":           func() { cfg.Planning.MaxPlanAttempts = *maxPlanAttempts },
		"max-planning-calls":          func() { cfg.Planning.MaxPlanningCalls = *maxPlanningCalls },
		"fidelity":                    func() { cfg.Planning.Fidelity = *fidelity },
		"continue-on-error":           func() { cfg.Run.ContinueOnError = *continueOnError },
		"resume":                      func() { cfg.Run.Resume = *resume },
		"checkpoint-every":            func() { cfg.Run.CheckpointEvery = *checkpointEvery },
		"checkpoint-dir":              func() { cfg.Run.CheckpointDir = *checkpointDir },
		"out":                         func() { cfg.Run.Out = *out },
		"status-addr":                 func() { cfg.API.Address = *statusAddr },
		"db":                          func() { cfg.Store.Path = *dbPath },
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

	checkpoints := checkpoint.NewStore(cfg.Run.CheckpointDir)
	var prior *report.Report
	if cfg.Run.Resume {
		prior, err = loadResumePoint(checkpoints, cfg.Run.Out)
		if err != nil {
			return err
		}
		if prior == nil {
			fmt.Fprintln(os.Stderr, "no checkpoint or prior report found, starting fresh")
		}
	}
	runID := ulid.Make().String()
	if prior != nil && prior.RunID != "" {
		runID = prior.RunID
	}

	log, err := buildLogger(cfg, runID, *noLog)
	if err != nil {
		return err
	}
	defer log.Close()

	agentImpl, err := buildAgent(cfg, log)
	if err != nil {
		return err
	}

	mode, err := sim.ParseMode(cfg.Simulation.Mode)
	if err != nil {
		return withExitCode(err, 2)
	}
	adapter := sim.NewAdapter(
		sim.NewClient(cfg.Simulation.RPCURL, cfg.Simulation.RequestTimeout()),
		nil,
		sim.Config{
			Sender:            cfg.Simulation.Sender,
			GasCoin:           cfg.Simulation.GasCoin,
			GasLadder:         cfg.Simulation.GasLadder,
			FallBackToInspect: cfg.Simulation.FallbackToInspect,
		},
		log,
	)

	var events notify.Publisher
	if cfg.Notify.NATSURL != "" {
		pub, err := notify.NewNATSPublisher(notify.NATSConfig{
			URL:     cfg.Notify.NATSURL,
			Subject: cfg.Notify.Subject,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		events = pub
	}

	if cfg.Tracing.Enabled {
		tp, err := observability.NewTracerProvider("inhabit", version)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	var archive *store.Store
	if cfg.Store.Path != "" {
		archive, err = store.New(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer archive.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.API.Address != "" {
		apiCfg := api.Config{Address: cfg.API.Address, Logger: log}
		if archive != nil {
			apiCfg.Archive = archive
		}
		srv := api.NewServer(apiCfg)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Warn(logging.CategoryRun, "status_api_failed", "status API stopped", map[string]any{
					"error": err.Error(),
				})
			}
		}()
	}

	gasBudget := sim.DefaultGasLadder[0]
	if len(cfg.Simulation.GasLadder) > 0 {
		gasBudget = cfg.Simulation.GasLadder[0]
	}
	var cpStore *checkpoint.Store
	if cfg.Run.CheckpointEvery > 0 {
		cpStore = checkpoints
	}

	orch, err := runNewOrchestratorFn(run.Options{
		RunID:           runID,
		Agent:           agentImpl,
		Loader:          iface.DirLoader{Root: cfg.Run.CorpusRoot},
		Simulator:       adapter,
		Mode:            mode,
		UnitTimeout:     cfg.Run.UnitTimeout(),
		ContinueOnError: cfg.Run.ContinueOnError,
		Workers:         cfg.Run.Workers,
		CheckpointEvery: cfg.Run.CheckpointEvery,
		Checkpoints:     cpStore,
		Resume:          prior,
		Events:          events,
		Logger:          log,
		CorpusRootName:  filepath.Base(cfg.Run.CorpusRoot),
		Samples:         cfg.Run.Samples,
		Seed:            cfg.Run.Seed,
		RPCURL:          cfg.Simulation.RPCURL,
		Sender:          cfg.Simulation.Sender,
		GasBudget:       gasBudget,
		GasCoin:         cfg.Simulation.GasCoin,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %d packages, agent %s, mode %s\n", orch.RunID(), len(ids), cfg.Run.Agent, mode)
	rep, runErr := orch.Run(ctx, ids)
	if rep != nil {
		if err := writeReport(cfg.Run.Out, rep); err != nil {
			return err
		}
		if archive != nil {
			status := "completed"
			if runErr != nil {
				status = "failed"
			}
			if err := archive.SaveRun(rep, status); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to archive run: %v\n", err)
			}
		}
		printReportSummary(rep)
	}
	if runErr != nil {
		return withExitCode(runErr, 3)
	}
	return nil
}

// buildAgent assembles the configured agent, wiring an oracle client
// only when the agent actually calls one.
func buildAgent(cfg *config.Config, log *logging.Logger) (run.Agent, error) {
	var completer session.Completer
	if cfg.Run.Agent == run.AgentOracle {
		if cfg.Oracle.APIKey == "" {
			return nil, withExitCode(errors.New(errors.ErrCodeConfigLoad,
				"the real-openai-compatible agent needs an api key").
				WithRemediation("set SMI_API_KEY or OPENAI_API_KEY, or put it in the env file"), 2)
		}
		completer = oracle.NewClient(oracle.Config{
			BaseURL:           cfg.Oracle.BaseURL,
			APIKey:            cfg.Oracle.APIKey,
			Model:             cfg.Oracle.Model,
			Temperature:       cfg.Oracle.Temperature,
			MaxTokens:         cfg.Oracle.MaxTokens,
			RequestTimeout:    cfg.Oracle.RequestTimeout(),
			RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
		})
	}

	fidelity, err := session.ParseFidelity(cfg.Planning.Fidelity)
	if err != nil {
		return nil, withExitCode(err, 2)
	}
	agent, err := run.NewAgent(cfg.Run.Agent, run.AgentDeps{
		Oracle: completer,
		SessionConfig: session.Config{
			Fidelity:        fidelity,
			FocusFunctions:  cfg.Planning.FocusFunctions,
			MaxFunctions:    cfg.Planning.MaxFunctions,
			MaxOracleCalls:  cfg.Planning.MaxPlanningCalls,
			MaxPlanAttempts: cfg.Planning.MaxPlanAttempts,
		},
		Seed:   cfg.Run.Seed,
		Logger: log,
	})
	if err != nil {
		return nil, withExitCode(err, 2)
	}
	return agent, nil
}

// loadResumePoint prefers the latest checkpoint and falls back to the
// configured report path, so a run killed between checkpoints can
// still pick up from its last full save. Nothing to resume from is
// fine; prior state that exists but cannot be loaded is fatal, since
// starting fresh would silently overwrite it.
func loadResumePoint(checkpoints *checkpoint.Store, reportPath string) (*report.Report, error) {
	ids, err := checkpoints.List()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHarnessFatal, "failed to read checkpoint directory")
	}
	if len(ids) > 0 {
		prior, err := checkpoints.Latest()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeHarnessFatal, "resume checkpoint is unreadable").
				WithRemediation("delete or restore the corrupted checkpoint, or run without --resume")
		}
		return prior, nil
	}
	if reportPath == "" {
		return nil, nil
	}
	if _, statErr := os.Stat(reportPath); statErr != nil {
		return nil, nil
	}
	prior, err := report.Load(reportPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHarnessFatal, "resume report is unreadable").
			WithRemediation("delete or restore the corrupted report, or run without --resume")
	}
	return prior, nil
}

// writeReport seals and writes the report, creating parent directories
// as needed.
func writeReport(path string, rep *report.Report) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create report directory").
				WithContext("dir", dir)
		}
	}
	if err := report.Save(path, rep); err != nil {
		return err
	}
	fmt.Printf("wrote report to %s\n", path)
	return nil
}

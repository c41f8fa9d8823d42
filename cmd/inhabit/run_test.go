package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/inhabit/pkg/checkpoint"
	"github.com/odvcencio/inhabit/pkg/config"
	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/report"
	"github.com/odvcencio/inhabit/pkg/run"
)

func writeCorpusUnit(t *testing.T, root, id, doc string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir corpus unit: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "interface.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write interface: %v", err)
	}
}

// testRunConfig builds a config rooted in a temp corpus with one unit,
// with logging off and nothing external wired.
func testRunConfig(t *testing.T) *config.Config {
	t.Helper()
	tmp := t.TempDir()
	corpus := filepath.Join(tmp, "corpus")
	writeCorpusUnit(t, corpus, "0x2", `{"package_id": "0x2", "modules": {}}`)

	cfg := config.DefaultConfig()
	cfg.Run.Agent = run.AgentBaselineSearch
	cfg.Run.CorpusRoot = corpus
	cfg.Run.Out = filepath.Join(tmp, "report.json")
	cfg.Run.CheckpointDir = filepath.Join(tmp, "checkpoints")
	cfg.Logging.Disabled = true
	return cfg
}

func stubRunConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	orig := runLoadConfigFn
	t.Cleanup(func() { runLoadConfigFn = orig })
	runLoadConfigFn = func(_, _ string) (*config.Config, error) {
		return cfg, nil
	}
}

type fakeRunner struct {
	runID  string
	gotIDs []string
	rep    *report.Report
	err    error
}

func (f *fakeRunner) RunID() string { return f.runID }

func (f *fakeRunner) Run(_ context.Context, ids []string) (*report.Report, error) {
	f.gotIDs = ids
	return f.rep, f.err
}

func stubOrchestrator(t *testing.T, fake *fakeRunner) *run.Options {
	t.Helper()
	orig := runNewOrchestratorFn
	t.Cleanup(func() { runNewOrchestratorFn = orig })
	captured := &run.Options{}
	runNewOrchestratorFn = func(opts run.Options) (orchestratorRunner, error) {
		*captured = opts
		return fake, nil
	}
	return captured
}

func TestRunRunCommandWritesReport(t *testing.T) {
	cfg := testRunConfig(t)
	stubRunConfig(t, cfg)

	fake := &fakeRunner{
		runID: "run-test",
		rep: &report.Report{
			SchemaVersion: report.SchemaVersion,
			RunID:         "run-test",
			Agent:         run.AgentBaselineSearch,
			Packages: []report.UnitResult{
				{PackageID: "0x2", PTBParseOK: true},
			},
		},
	}
	captured := stubOrchestrator(t, fake)

	out := captureStdout(t, func() {
		if err := runRunCommand([]string{"--checkpoint-every=0"}); err != nil {
			t.Fatalf("runRunCommand: %v", err)
		}
	})

	if len(fake.gotIDs) != 1 || fake.gotIDs[0] != "0x2" {
		t.Fatalf("roster=%v want [0x2]", fake.gotIDs)
	}
	if captured.CorpusRootName != "corpus" {
		t.Fatalf("CorpusRootName=%q want corpus", captured.CorpusRootName)
	}
	if captured.Agent == nil || captured.Agent.Name() != run.AgentBaselineSearch {
		t.Fatalf("expected baseline-search agent, got %+v", captured.Agent)
	}
	// -checkpoint-every=0 must override the file default of 10 and
	// disable checkpointing entirely.
	if captured.CheckpointEvery != 0 || captured.Checkpoints != nil {
		t.Fatalf("CheckpointEvery=%d Checkpoints=%v want 0,nil", captured.CheckpointEvery, captured.Checkpoints)
	}
	if !strings.Contains(out, "wrote report to") {
		t.Fatalf("expected report path in output, got %q", out)
	}

	loaded, err := report.Load(cfg.Run.Out)
	if err != nil {
		t.Fatalf("loading written report: %v", err)
	}
	if loaded.RunID != "run-test" || len(loaded.Packages) != 1 {
		t.Fatalf("unexpected report: run_id=%q packages=%d", loaded.RunID, len(loaded.Packages))
	}
}

func TestRunRunCommandFlagOverrides(t *testing.T) {
	cfg := testRunConfig(t)
	stubRunConfig(t, cfg)

	fake := &fakeRunner{runID: "run-test", rep: &report.Report{SchemaVersion: report.SchemaVersion, RunID: "run-test"}}
	captured := stubOrchestrator(t, fake)

	_ = captureStdout(t, func() {
		err := runRunCommand([]string{
			"--agent", "mock-perfect",
			"--workers", "3",
			"--seed", "42",
			"--simulation-mode", "build-only",
			"--continue-on-error=false",
			"--checkpoint-every=0",
		})
		if err != nil {
			t.Fatalf("runRunCommand: %v", err)
		}
	})

	if captured.Agent == nil || captured.Agent.Name() != "mock-perfect" {
		t.Fatalf("expected mock-perfect agent, got %+v", captured.Agent)
	}
	if captured.Workers != 3 || captured.Seed != 42 {
		t.Fatalf("Workers=%d Seed=%d want 3,42", captured.Workers, captured.Seed)
	}
	if string(captured.Mode) != "build-only" {
		t.Fatalf("Mode=%q want build-only", captured.Mode)
	}
	// The file default is true; the explicit false must survive.
	if captured.ContinueOnError {
		t.Fatal("expected ContinueOnError=false from flag")
	}
}

func TestRunRunCommandHaltExitCode(t *testing.T) {
	cfg := testRunConfig(t)
	stubRunConfig(t, cfg)

	fake := &fakeRunner{
		runID: "run-test",
		rep:   &report.Report{SchemaVersion: report.SchemaVersion, RunID: "run-test"},
		err:   errors.New(errors.ErrCodeHarnessFatal, "run halted on unit failure"),
	}
	stubOrchestrator(t, fake)

	var err error
	_ = captureStdout(t, func() {
		err = runRunCommand([]string{"--checkpoint-every=0"})
	})
	if err == nil {
		t.Fatal("expected halt error")
	}
	if got := exitCodeForError(err); got != 3 {
		t.Fatalf("exit code=%d want 3", got)
	}
	// The partial report is still written before the halt surfaces.
	if _, statErr := os.Stat(cfg.Run.Out); statErr != nil {
		t.Fatalf("expected report despite halt: %v", statErr)
	}
}

func TestRunRunCommandOracleAgentNeedsKey(t *testing.T) {
	cfg := testRunConfig(t)
	cfg.Run.Agent = run.AgentOracle
	cfg.Oracle.APIKey = ""
	stubRunConfig(t, cfg)

	err := runRunCommand([]string{"--checkpoint-every=0"})
	if err == nil {
		t.Fatal("expected missing api key error")
	}
	if got := exitCodeForError(err); got != 2 {
		t.Fatalf("exit code=%d want 2", got)
	}
	if !strings.Contains(err.Error(), "api key") {
		t.Fatalf("expected api key message, got %q", err.Error())
	}
}

func TestRunRunCommandMissingCorpusRoot(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Disabled = true
	stubRunConfig(t, cfg)

	err := runRunCommand(nil)
	if err == nil {
		t.Fatal("expected missing corpus root error")
	}
	if got := exitCodeForError(err); got != 2 {
		t.Fatalf("exit code=%d want 2", got)
	}
}

func TestLoadResumePointNothingToResume(t *testing.T) {
	cps := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoints"))
	prior, err := loadResumePoint(cps, filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("loadResumePoint: %v", err)
	}
	if prior != nil {
		t.Fatalf("expected a fresh start, got %+v", prior)
	}
}

func TestLoadResumePointPrefersCheckpoint(t *testing.T) {
	cps := checkpoint.NewStore(t.TempDir())
	saved := &report.Report{SchemaVersion: report.SchemaVersion, RunID: "run-ckpt"}
	if err := cps.Save(saved); err != nil {
		t.Fatal(err)
	}

	prior, err := loadResumePoint(cps, "")
	if err != nil {
		t.Fatalf("loadResumePoint: %v", err)
	}
	if prior == nil || prior.RunID != "run-ckpt" {
		t.Fatalf("expected the saved checkpoint, got %+v", prior)
	}
}

func TestLoadResumePointCorruptedCheckpointIsFatal(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run-bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := loadResumePoint(checkpoint.NewStore(dir), "")
	if err == nil {
		t.Fatal("expected corrupted checkpoint to be fatal")
	}
	if !errors.IsCode(err, errors.ErrCodeHarnessFatal) {
		t.Fatalf("error code=%v want HARNESS_FATAL", errors.GetCode(err))
	}
}

func TestLoadResumePointCorruptedReportIsFatal(t *testing.T) {
	cps := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoints"))
	reportPath := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(reportPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := loadResumePoint(cps, reportPath)
	if err == nil {
		t.Fatal("expected corrupted report to be fatal")
	}
	if !errors.IsCode(err, errors.ErrCodeHarnessFatal) {
		t.Fatalf("error code=%v want HARNESS_FATAL", errors.GetCode(err))
	}
}

func TestRunRunCommandBadFlagExitsTwo(t *testing.T) {
	_ = captureStderr(t, func() {
		err := runRunCommand([]string{"--workers", "not-a-number"})
		if err == nil {
			t.Fatal("expected flag parse error")
		}
		if got := exitCodeForError(err); got != 2 {
			t.Fatalf("exit code=%d want 2", got)
		}
	})
}

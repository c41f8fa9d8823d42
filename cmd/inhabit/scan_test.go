package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/inhabit/pkg/config"
	"github.com/odvcencio/inhabit/pkg/report"
	"github.com/odvcencio/inhabit/pkg/run"
	"github.com/odvcencio/inhabit/pkg/sim"
)

// One public entry taking a u64: search should produce a plan.
const viableUnitDoc = `{
  "package_id": "0x7",
  "modules": {
    "reg": {
      "functions": {
        "init_registry": {
          "visibility": "public",
          "is_entry": true,
          "params": [{"kind": "u64"}],
          "returns": []
        }
      },
      "structs": {
        "Registry": {"abilities": ["key"]}
      }
    }
  }
}`

// The only entry needs a foreign capability nothing here produces, so
// the unit still counts a key target but yields no plan.
const stuckUnitDoc = `{
  "package_id": "0x8",
  "modules": {
    "vault": {
      "functions": {
        "make": {
          "visibility": "public",
          "is_entry": true,
          "params": [{"kind": "datatype", "address": "0x9", "module": "caps", "name": "Cap"}],
          "returns": []
        }
      },
      "structs": {
        "Vault": {"abilities": ["key"]}
      }
    }
  }
}`

func stubScanConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	orig := scanLoadConfigFn
	t.Cleanup(func() { scanLoadConfigFn = orig })
	scanLoadConfigFn = func(_, _ string) (*config.Config, error) {
		return cfg, nil
	}
}

func TestRunScanCommand(t *testing.T) {
	tmp := t.TempDir()
	corpus := filepath.Join(tmp, "corpus")
	writeCorpusUnit(t, corpus, "0x7", viableUnitDoc)
	writeCorpusUnit(t, corpus, "0x8", stuckUnitDoc)
	writeCorpusUnit(t, corpus, "0xbad", `{not json`)

	cfg := config.DefaultConfig()
	cfg.Run.CorpusRoot = corpus
	cfg.Logging.Disabled = true
	stubScanConfig(t, cfg)

	outPath := filepath.Join(tmp, "scan.json")
	statsPath := filepath.Join(tmp, "stats.json")
	out := captureStdout(t, func() {
		if err := runScanCommand([]string{"--out", outPath, "--stats-out", statsPath}); err != nil {
			t.Fatalf("runScanCommand: %v", err)
		}
	})
	if !strings.Contains(out, "scanned 3 packages: 1 with candidates, 1 without, 1 failed to load") {
		t.Fatalf("unexpected scan output: %q", out)
	}

	rep, err := report.Load(outPath)
	if err != nil {
		t.Fatalf("loading scan report: %v", err)
	}
	if rep.Agent != run.AgentBaselineSearch {
		t.Fatalf("agent=%q want %q", rep.Agent, run.AgentBaselineSearch)
	}
	if rep.SimulationMode != string(sim.ModeBuildOnly) {
		t.Fatalf("mode=%q want build-only", rep.SimulationMode)
	}
	if len(rep.Packages) != 3 {
		t.Fatalf("packages=%d want 3", len(rep.Packages))
	}

	viable, ok := rep.Unit("0x7")
	if !ok {
		t.Fatal("missing 0x7 row")
	}
	if !viable.PTBParseOK || !viable.TxBuildOK {
		t.Fatalf("0x7 parse=%v build=%v want true,true", viable.PTBParseOK, viable.TxBuildOK)
	}
	if viable.PlanVariant != run.VariantSearch {
		t.Fatalf("0x7 variant=%q want %q", viable.PlanVariant, run.VariantSearch)
	}
	if viable.GasBudgetUsed != sim.DefaultGasLadder[0] {
		t.Fatalf("0x7 gas=%d want %d", viable.GasBudgetUsed, sim.DefaultGasLadder[0])
	}
	if viable.Score == nil || viable.Score.Targets != 1 {
		t.Fatalf("0x7 score=%+v want 1 target", viable.Score)
	}

	stuck, ok := rep.Unit("0x8")
	if !ok {
		t.Fatal("missing 0x8 row")
	}
	if stuck.ErrorCode != "SEARCH_EXHAUSTED" {
		t.Fatalf("0x8 error code=%q want SEARCH_EXHAUSTED", stuck.ErrorCode)
	}
	// The target count survives even though search found nothing; the
	// filter command depends on this.
	if stuck.Score == nil || stuck.Score.Targets != 1 {
		t.Fatalf("0x8 score=%+v want 1 target", stuck.Score)
	}
	if stuck.PTBParseOK || stuck.TxBuildOK {
		t.Fatalf("0x8 parse=%v build=%v want false,false", stuck.PTBParseOK, stuck.TxBuildOK)
	}

	bad, ok := rep.Unit("0xbad")
	if !ok {
		t.Fatal("missing 0xbad row")
	}
	if bad.ErrorCode != "INTERFACE_LOAD" {
		t.Fatalf("0xbad error code=%q want INTERFACE_LOAD", bad.ErrorCode)
	}
	if bad.Score != nil {
		t.Fatalf("0xbad score=%+v want nil", bad.Score)
	}

	// Only the unloadable package is an error; the exhausted search is
	// a legitimate zero.
	if rep.Aggregate.Packages != 3 || rep.Aggregate.Errors != 1 {
		t.Fatalf("aggregate=%+v want 3 packages, 1 error", rep.Aggregate)
	}
	if rep.Aggregate.Targets != 2 {
		t.Fatalf("aggregate targets=%d want 2", rep.Aggregate.Targets)
	}

	data, err := os.ReadFile(statsPath)
	if err != nil {
		t.Fatalf("reading stats: %v", err)
	}
	var summary scanSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if summary.Stats.PackagesTotal != 3 || summary.Stats.PackagesSelected != 1 ||
		summary.Stats.PackagesNoCandidates != 1 || summary.Stats.PackagesFailedInterface != 1 {
		t.Fatalf("stats=%+v", summary.Stats)
	}
	if summary.Viability.PublicEntryTotal != 2 ||
		summary.Viability.PublicEntryNoTypeParams != 2 ||
		summary.Viability.PublicEntrySupportedArgs != 1 {
		t.Fatalf("viability=%+v", summary.Viability)
	}
}

func TestRunScanCommandMissingCorpusRoot(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Disabled = true
	stubScanConfig(t, cfg)

	err := runScanCommand([]string{"--out", filepath.Join(t.TempDir(), "scan.json")})
	if err == nil {
		t.Fatal("expected missing corpus root error")
	}
	if got := exitCodeForError(err); got != 2 {
		t.Fatalf("exit code=%d want 2", got)
	}
}

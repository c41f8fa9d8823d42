package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/inhabit/pkg/config"
	"github.com/odvcencio/inhabit/pkg/errors"
)

// clearOracleEnv blanks every documented oracle override so host
// credentials cannot leak into assertions.
func clearOracleEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SMI_API_KEY", "OPENAI_API_KEY", "ZAI_API_KEY", "ZHIPUAI_API_KEY",
		"SMI_API_BASE_URL", "OPENAI_BASE_URL", "OPENAI_API_BASE",
		"SMI_MODEL", "OPENAI_MODEL",
		"SMI_TEMPERATURE", "SMI_MAX_TOKENS",
		"SMI_DEFAULT_RPC_URL", "SMI_SENDER",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Run.Agent != "real-openai-compatible" {
		t.Errorf("Agent = %q, want real-openai-compatible", cfg.Run.Agent)
	}
	if cfg.Run.Workers != 1 {
		t.Errorf("Workers = %d, want 1", cfg.Run.Workers)
	}
	if !cfg.Run.ContinueOnError {
		t.Error("ContinueOnError = false, want true")
	}
	if cfg.Run.PerPackageTimeoutSeconds != 300 {
		t.Errorf("PerPackageTimeoutSeconds = %v, want 300", cfg.Run.PerPackageTimeoutSeconds)
	}
	if cfg.Simulation.RPCURL != "https://fullnode.mainnet.sui.io:443" {
		t.Errorf("RPCURL = %q, want the mainnet fullnode", cfg.Simulation.RPCURL)
	}
	if cfg.Simulation.Mode != "dry-run" {
		t.Errorf("Mode = %q, want dry-run", cfg.Simulation.Mode)
	}
	if cfg.Simulation.Sender != "0x0" {
		t.Errorf("Sender = %q, want 0x0", cfg.Simulation.Sender)
	}
	if cfg.Planning.Fidelity != "entry" {
		t.Errorf("Fidelity = %q, want entry", cfg.Planning.Fidelity)
	}
	if cfg.Planning.MaxPlanAttempts != 2 {
		t.Errorf("MaxPlanAttempts = %d, want 2", cfg.Planning.MaxPlanAttempts)
	}
	if cfg.Store.Path != "" {
		t.Errorf("Store.Path = %q, want empty (archive disabled)", cfg.Store.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFromFileOverrides(t *testing.T) {
	clearOracleEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "bench.yaml")
	writeFile(t, path, `
run:
  corpus_root: /corpus
  package_ids_file: manifests/phase2.txt
  samples: 25
  seed: 42
  workers: 4
  continue_on_error: false
  checkpoint_every: 0
planning:
  fidelity: public
  focus_functions: ["counter::create", "counter::share"]
  max_plan_attempts: 3
simulation:
  simulation_mode: build-only
  gas_ladder: [1000, 2000, 3000]
oracle:
  model: file-model
store:
  path: runs.db
`)

	cfg, err := config.LoadFrom(path, "")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Run.CorpusRoot != "/corpus" {
		t.Errorf("CorpusRoot = %q, want /corpus", cfg.Run.CorpusRoot)
	}
	if cfg.Run.Samples != 25 || cfg.Run.Seed != 42 || cfg.Run.Workers != 4 {
		t.Errorf("run knobs = %d/%d/%d, want 25/42/4",
			cfg.Run.Samples, cfg.Run.Seed, cfg.Run.Workers)
	}
	if cfg.Run.ContinueOnError {
		t.Error("ContinueOnError = true, file said false")
	}
	if cfg.Run.CheckpointEvery != 0 {
		t.Errorf("CheckpointEvery = %d, file explicitly disabled checkpointing", cfg.Run.CheckpointEvery)
	}
	if cfg.Planning.Fidelity != "public" || cfg.Planning.MaxPlanAttempts != 3 {
		t.Errorf("planning = %q/%d, want public/3", cfg.Planning.Fidelity, cfg.Planning.MaxPlanAttempts)
	}
	if len(cfg.Planning.FocusFunctions) != 2 || cfg.Planning.FocusFunctions[0] != "counter::create" {
		t.Errorf("FocusFunctions = %v, want the file's list", cfg.Planning.FocusFunctions)
	}
	if cfg.Simulation.Mode != "build-only" {
		t.Errorf("Mode = %q, want build-only", cfg.Simulation.Mode)
	}
	if len(cfg.Simulation.GasLadder) != 3 || cfg.Simulation.GasLadder[0] != 1000 {
		t.Errorf("GasLadder = %v, want [1000 2000 3000]", cfg.Simulation.GasLadder)
	}
	if cfg.Oracle.Model != "file-model" {
		t.Errorf("Model = %q, want file-model", cfg.Oracle.Model)
	}
	if cfg.Store.Path != "runs.db" {
		t.Errorf("Store.Path = %q, want runs.db", cfg.Store.Path)
	}

	// Fields the file never named keep their defaults.
	if cfg.Simulation.RPCURL != "https://fullnode.mainnet.sui.io:443" {
		t.Errorf("RPCURL = %q, want the default preserved", cfg.Simulation.RPCURL)
	}
	if cfg.Run.PerPackageTimeoutSeconds != 300 {
		t.Errorf("PerPackageTimeoutSeconds = %v, want the default preserved", cfg.Run.PerPackageTimeoutSeconds)
	}
	if cfg.Oracle.MaxTokens != 800 {
		t.Errorf("MaxTokens = %d, want the default preserved", cfg.Oracle.MaxTokens)
	}
}

func TestLoadMissingDefaultConfigTolerated(t *testing.T) {
	clearOracleEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load with no config file: %v", err)
	}
	if cfg.Run.Agent != "real-openai-compatible" {
		t.Errorf("Agent = %q, want the default", cfg.Run.Agent)
	}
}

func TestLoadExplicitConfigMissingFails(t *testing.T) {
	clearOracleEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := config.LoadFrom(filepath.Join(dir, "absent.yaml"), "")
	if err == nil {
		t.Fatal("expected an error for an explicitly named missing config")
	}
	if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("code = %v, want CONFIG_LOAD", errors.GetCode(err))
	}
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	clearOracleEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "bad.yaml")
	writeFile(t, path, "run: [not, a, mapping\n")

	if _, err := config.LoadFrom(path, ""); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	clearOracleEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "bench.yaml")
	writeFile(t, path, `
oracle:
  model: file-model
simulation:
  rpc_url: https://file.example:443
`)

	t.Setenv("SMI_MODEL", "env-model")
	t.Setenv("SMI_DEFAULT_RPC_URL", "https://env.example:443")
	t.Setenv("SMI_SENDER", "0xabc")
	t.Setenv("SMI_API_BASE_URL", "https://oracle.example/v1/")

	cfg, err := config.LoadFrom(path, "")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Oracle.Model != "env-model" {
		t.Errorf("Model = %q, want the environment to win", cfg.Oracle.Model)
	}
	if cfg.Simulation.RPCURL != "https://env.example:443" {
		t.Errorf("RPCURL = %q, want the environment to win", cfg.Simulation.RPCURL)
	}
	if cfg.Simulation.Sender != "0xabc" {
		t.Errorf("Sender = %q, want 0xabc", cfg.Simulation.Sender)
	}
	if cfg.Oracle.BaseURL != "https://oracle.example/v1" {
		t.Errorf("BaseURL = %q, want the trailing slash trimmed", cfg.Oracle.BaseURL)
	}
}

func TestEnvFileFillsGapsOnly(t *testing.T) {
	clearOracleEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	envPath := filepath.Join(dir, "secrets.env")
	writeFile(t, envPath, `
# benchmark credentials
export SMI_API_KEY="file-key"
OPENAI_API_KEY=file-openai
SMI_MAX_TOKENS=1200
`)

	cfg, err := config.LoadFrom("", envPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Oracle.APIKey != "file-key" {
		t.Errorf("APIKey = %q, want SMI_API_KEY from the env file", cfg.Oracle.APIKey)
	}
	if cfg.Oracle.MaxTokens != 1200 {
		t.Errorf("MaxTokens = %d, want 1200 from the env file", cfg.Oracle.MaxTokens)
	}

	// A real environment variable beats the env file even when the
	// file names a higher-priority key.
	t.Setenv("OPENAI_API_KEY", "proc-key")
	cfg, err = config.LoadFrom("", envPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Oracle.APIKey != "proc-key" {
		t.Errorf("APIKey = %q, want the process environment to win", cfg.Oracle.APIKey)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	writeFile(t, path, `
# comment
export SMI_API_KEY='quoted'
SMI_MODEL = spaced-value
MALFORMED LINE
=nokey
EMPTY=
`)

	vars, err := config.LoadEnvFile(path)
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if vars["SMI_API_KEY"] != "quoted" {
		t.Errorf("SMI_API_KEY = %q, want quotes trimmed", vars["SMI_API_KEY"])
	}
	if vars["SMI_MODEL"] != "spaced-value" {
		t.Errorf("SMI_MODEL = %q, want surrounding spaces trimmed", vars["SMI_MODEL"])
	}
	if _, ok := vars["MALFORMED LINE"]; ok {
		t.Error("lines without = should be skipped")
	}
	if v := vars["EMPTY"]; v != "" {
		t.Errorf("EMPTY = %q, want empty string", v)
	}

	missing, err := config.LoadEnvFile(filepath.Join(dir, "absent.env"))
	if err != nil {
		t.Fatalf("missing env file should not error: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("missing env file yielded %d vars, want 0", len(missing))
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown agent", func(c *config.Config) { c.Run.Agent = "psychic" }},
		{"bad simulation mode", func(c *config.Config) { c.Simulation.Mode = "wet-run" }},
		{"bad fidelity", func(c *config.Config) { c.Planning.Fidelity = "everything" }},
		{"focused fidelity without functions", func(c *config.Config) { c.Planning.Fidelity = "focused" }},
		{"zero workers", func(c *config.Config) { c.Run.Workers = 0 }},
		{"negative timeout", func(c *config.Config) { c.Run.PerPackageTimeoutSeconds = -1 }},
		{"negative samples", func(c *config.Config) { c.Run.Samples = -1 }},
		{"negative checkpoint cadence", func(c *config.Config) { c.Run.CheckpointEvery = -1 }},
		{"negative plan attempts", func(c *config.Config) { c.Planning.MaxPlanAttempts = -1 }},
		{"descending gas ladder", func(c *config.Config) { c.Simulation.GasLadder = []uint64{5000, 1000} }},
		{"flat gas ladder", func(c *config.Config) { c.Simulation.GasLadder = []uint64{1000, 1000} }},
		{"unknown log level", func(c *config.Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !errors.IsCode(err, errors.ErrCodeConfigInvalid) {
				t.Errorf("code = %v, want CONFIG_INVALID", errors.GetCode(err))
			}
		})
	}
}

func TestValidateAcceptsMockAgents(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Run.Agent = "mock-perfect"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("mock agent should validate: %v", err)
	}
}

func TestValidateFocusedFidelity(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Planning.Fidelity = "focused"
	cfg.Planning.FocusFunctions = []string{"registry::make"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("focused fidelity with functions should validate: %v", err)
	}
}

func TestTimeoutConversions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Run.PerPackageTimeoutSeconds = 90.5
	if got, want := cfg.Run.UnitTimeout(), 90500*time.Millisecond; got != want {
		t.Errorf("UnitTimeout = %v, want %v", got, want)
	}
	cfg.Oracle.RequestTimeoutSeconds = 15
	if got, want := cfg.Oracle.RequestTimeout(), 15*time.Second; got != want {
		t.Errorf("Oracle RequestTimeout = %v, want %v", got, want)
	}
	cfg.Simulation.RequestTimeoutSeconds = 45
	if got, want := cfg.Simulation.RequestTimeout(), 45*time.Second; got != want {
		t.Errorf("Simulation RequestTimeout = %v, want %v", got, want)
	}
}

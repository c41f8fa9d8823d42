// Package config loads the benchmark configuration: defaults, an
// optional YAML file, an optional dotenv file for secrets, and
// process-environment overrides, applied in that order so the
// process environment always wins.
//
// Environment overrides:
//   - SMI_API_KEY / OPENAI_API_KEY / ZAI_API_KEY / ZHIPUAI_API_KEY: oracle key
//   - SMI_API_BASE_URL / OPENAI_BASE_URL / OPENAI_API_BASE: oracle endpoint
//   - SMI_MODEL / OPENAI_MODEL: oracle model
//   - SMI_TEMPERATURE, SMI_MAX_TOKENS: oracle sampling
//   - SMI_DEFAULT_RPC_URL: simulator endpoint
//   - SMI_SENDER: transaction sender address
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/inhabit/pkg/errors"
)

// Default file locations. Both tolerate absence; explicitly named
// files must exist.
const (
	DefaultConfigPath = "inhabit.yaml"
	DefaultEnvFile    = ".env"
)

// Default configuration values exported for documentation and flags.
const (
	DefaultRPCURL                   = "https://fullnode.mainnet.sui.io:443"
	DefaultSender                   = "0x0"
	DefaultAgent                    = "real-openai-compatible"
	DefaultSimulationMode           = "dry-run"
	DefaultPerPackageTimeoutSeconds = 300.0
	DefaultMaxPlanAttempts          = 2
	DefaultMaxPlanningCalls         = 6
	DefaultMaxFunctions             = 200
	DefaultFidelity                 = "entry"
	DefaultCheckpointEvery          = 10
	DefaultOracleBaseURL            = "https://api.openai.com/v1"
	DefaultOracleModel              = "gpt-4o-mini"
	DefaultOracleMaxTokens          = 800
)

// Config is the complete benchmark configuration.
type Config struct {
	Run        RunConfig      `yaml:"run"`
	Oracle     OracleConfig   `yaml:"oracle"`
	Planning   PlanningConfig `yaml:"planning"`
	Simulation SimConfig      `yaml:"simulation"`
	Store      StoreConfig    `yaml:"store"`
	Notify     NotifyConfig   `yaml:"notify"`
	API        APIConfig      `yaml:"api"`
	Tracing    TracingConfig  `yaml:"tracing"`
	Logging    LoggingConfig  `yaml:"logging"`
}

// RunConfig controls unit selection and run scheduling.
type RunConfig struct {
	CorpusRoot     string `yaml:"corpus_root"`
	PackageIDsFile string `yaml:"package_ids_file"`
	// Samples bounds the number of units drawn from the manifest;
	// 0 processes every unit.
	Samples int    `yaml:"samples"`
	Seed    int64  `yaml:"seed"`
	Agent   string `yaml:"agent"`
	Workers int    `yaml:"workers"`
	// PerPackageTimeoutSeconds is the wall-clock budget spanning
	// planning and simulation for one unit.
	PerPackageTimeoutSeconds float64 `yaml:"per_package_timeout_seconds"`
	ContinueOnError          bool    `yaml:"continue_on_error"`
	// CheckpointEvery persists run state after every N completed
	// units; 0 disables checkpointing.
	CheckpointEvery int    `yaml:"checkpoint_every"`
	CheckpointDir   string `yaml:"checkpoint_dir"`
	Resume          bool   `yaml:"resume"`
	Out             string `yaml:"out"`
}

// UnitTimeout converts the per-package budget to a duration.
func (c RunConfig) UnitTimeout() time.Duration {
	return time.Duration(c.PerPackageTimeoutSeconds * float64(time.Second))
}

// OracleConfig holds planning oracle transport settings. The API key
// normally arrives via environment override rather than the file.
type OracleConfig struct {
	BaseURL               string  `yaml:"base_url"`
	APIKey                string  `yaml:"api_key"`
	Model                 string  `yaml:"model"`
	Temperature           float64 `yaml:"temperature"`
	MaxTokens             int     `yaml:"max_tokens"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	RequestsPerSecond     float64 `yaml:"requests_per_second"`
}

// RequestTimeout converts the per-call budget to a duration.
func (c OracleConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// PlanningConfig bounds the oracle planning session.
type PlanningConfig struct {
	// Fidelity selects the interface summary level: names, entry,
	// public, or focused.
	Fidelity string `yaml:"fidelity"`
	// FocusFunctions names the functions disclosed at the focused
	// fidelity, as module::function or fully qualified.
	FocusFunctions   []string `yaml:"focus_functions"`
	MaxFunctions     int      `yaml:"max_functions"`
	MaxPlanningCalls int      `yaml:"max_planning_calls"`
	MaxPlanAttempts  int      `yaml:"max_plan_attempts"`
}

// SimConfig controls the transaction simulator.
type SimConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	Mode    string `yaml:"simulation_mode"`
	Sender  string `yaml:"sender"`
	GasCoin string `yaml:"gas_coin"`
	// GasLadder overrides the budget escalation sequence; empty
	// keeps the adapter default.
	GasLadder             []uint64 `yaml:"gas_ladder"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	// FallbackToInspect reruns a failed dry run through the
	// advisory endpoint. Off unless asked for.
	FallbackToInspect bool `yaml:"fallback_to_inspect"`
}

// RequestTimeout converts the per-request budget to a duration.
func (c SimConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// StoreConfig enables the sqlite run archive when a path is set.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig enables NATS progress events when a URL is set.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// APIConfig enables the status HTTP server when an address is set.
type APIConfig struct {
	Address string `yaml:"address"`
}

// TracingConfig controls the opt-in stdout trace exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig controls the JSONL event log.
type LoggingConfig struct {
	Dir      string `yaml:"dir"`
	Level    string `yaml:"level"`
	Disabled bool   `yaml:"disabled"`
}

// DefaultConfig returns the benchmark defaults.
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			Agent:                    DefaultAgent,
			Workers:                  1,
			PerPackageTimeoutSeconds: DefaultPerPackageTimeoutSeconds,
			ContinueOnError:          true,
			CheckpointEvery:          DefaultCheckpointEvery,
			CheckpointDir:            "results/checkpoints",
			Out:                      "results/run_report.json",
		},
		Oracle: OracleConfig{
			BaseURL:               DefaultOracleBaseURL,
			Model:                 DefaultOracleModel,
			Temperature:           0,
			MaxTokens:             DefaultOracleMaxTokens,
			RequestTimeoutSeconds: 120,
			RequestsPerSecond:     2,
		},
		Planning: PlanningConfig{
			Fidelity:         DefaultFidelity,
			MaxFunctions:     DefaultMaxFunctions,
			MaxPlanningCalls: DefaultMaxPlanningCalls,
			MaxPlanAttempts:  DefaultMaxPlanAttempts,
		},
		Simulation: SimConfig{
			RPCURL:                DefaultRPCURL,
			Mode:                  DefaultSimulationMode,
			Sender:                DefaultSender,
			RequestTimeoutSeconds: 30,
		},
		Notify: NotifyConfig{
			Subject: "inhabit.runs",
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations: inhabit.yaml
// in the working directory when present, then .env for secrets, then
// process-environment overrides.
func Load() (*Config, error) {
	return LoadFrom("", "")
}

// LoadFrom loads configuration from an explicit config file and
// dotenv file. Empty paths fall back to the defaults and tolerate
// absence; a named config file must exist. Dotenv values apply only
// where the process environment is silent.
func LoadFrom(configPath, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	path := configPath
	if path == "" {
		path = DefaultConfigPath
	}
	if err := loadAndMerge(cfg, path); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad,
				fmt.Sprintf("failed to load config from %s", path))
		}
		if configPath != "" {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad,
				fmt.Sprintf("config file not found: %s", configPath))
		}
	}

	if envFile == "" {
		envFile = DefaultEnvFile
	}
	envVars, err := LoadEnvFile(envFile)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg, envVars)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAndMerge reads a YAML file and merges the fields it sets into
// the config. The raw document distinguishes an absent field from an
// explicit zero.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "failed to parse config YAML")
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "failed to parse config YAML")
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Strings win when
// non-empty, numbers when non-zero; bools and zero-meaningful fields
// win when the raw document names them.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override.Run.CorpusRoot != "" {
		base.Run.CorpusRoot = override.Run.CorpusRoot
	}
	if override.Run.PackageIDsFile != "" {
		base.Run.PackageIDsFile = override.Run.PackageIDsFile
	}
	if fieldSet(raw, "run", "samples") {
		base.Run.Samples = override.Run.Samples
	}
	if fieldSet(raw, "run", "seed") {
		base.Run.Seed = override.Run.Seed
	}
	if override.Run.Agent != "" {
		base.Run.Agent = override.Run.Agent
	}
	if override.Run.Workers != 0 {
		base.Run.Workers = override.Run.Workers
	}
	if override.Run.PerPackageTimeoutSeconds != 0 {
		base.Run.PerPackageTimeoutSeconds = override.Run.PerPackageTimeoutSeconds
	}
	if fieldSet(raw, "run", "continue_on_error") {
		base.Run.ContinueOnError = override.Run.ContinueOnError
	}
	if fieldSet(raw, "run", "checkpoint_every") {
		base.Run.CheckpointEvery = override.Run.CheckpointEvery
	}
	if override.Run.CheckpointDir != "" {
		base.Run.CheckpointDir = override.Run.CheckpointDir
	}
	if fieldSet(raw, "run", "resume") {
		base.Run.Resume = override.Run.Resume
	}
	if override.Run.Out != "" {
		base.Run.Out = override.Run.Out
	}

	if override.Oracle.BaseURL != "" {
		base.Oracle.BaseURL = override.Oracle.BaseURL
	}
	if override.Oracle.APIKey != "" {
		base.Oracle.APIKey = override.Oracle.APIKey
	}
	if override.Oracle.Model != "" {
		base.Oracle.Model = override.Oracle.Model
	}
	if fieldSet(raw, "oracle", "temperature") {
		base.Oracle.Temperature = override.Oracle.Temperature
	}
	if override.Oracle.MaxTokens != 0 {
		base.Oracle.MaxTokens = override.Oracle.MaxTokens
	}
	if override.Oracle.RequestTimeoutSeconds != 0 {
		base.Oracle.RequestTimeoutSeconds = override.Oracle.RequestTimeoutSeconds
	}
	if override.Oracle.RequestsPerSecond != 0 {
		base.Oracle.RequestsPerSecond = override.Oracle.RequestsPerSecond
	}

	if override.Planning.Fidelity != "" {
		base.Planning.Fidelity = override.Planning.Fidelity
	}
	if fieldSet(raw, "planning", "focus_functions") {
		base.Planning.FocusFunctions = append([]string{}, override.Planning.FocusFunctions...)
	}
	if override.Planning.MaxFunctions != 0 {
		base.Planning.MaxFunctions = override.Planning.MaxFunctions
	}
	if override.Planning.MaxPlanningCalls != 0 {
		base.Planning.MaxPlanningCalls = override.Planning.MaxPlanningCalls
	}
	if override.Planning.MaxPlanAttempts != 0 {
		base.Planning.MaxPlanAttempts = override.Planning.MaxPlanAttempts
	}

	if override.Simulation.RPCURL != "" {
		base.Simulation.RPCURL = override.Simulation.RPCURL
	}
	if override.Simulation.Mode != "" {
		base.Simulation.Mode = override.Simulation.Mode
	}
	if override.Simulation.Sender != "" {
		base.Simulation.Sender = override.Simulation.Sender
	}
	if override.Simulation.GasCoin != "" {
		base.Simulation.GasCoin = override.Simulation.GasCoin
	}
	if fieldSet(raw, "simulation", "gas_ladder") {
		base.Simulation.GasLadder = append([]uint64{}, override.Simulation.GasLadder...)
	}
	if override.Simulation.RequestTimeoutSeconds != 0 {
		base.Simulation.RequestTimeoutSeconds = override.Simulation.RequestTimeoutSeconds
	}
	if fieldSet(raw, "simulation", "fallback_to_inspect") {
		base.Simulation.FallbackToInspect = override.Simulation.FallbackToInspect
	}

	if override.Store.Path != "" {
		base.Store.Path = override.Store.Path
	}

	if override.Notify.NATSURL != "" {
		base.Notify.NATSURL = override.Notify.NATSURL
	}
	if override.Notify.Subject != "" {
		base.Notify.Subject = override.Notify.Subject
	}

	if override.API.Address != "" {
		base.API.Address = override.API.Address
	}

	if fieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if fieldSet(raw, "logging", "disabled") {
		base.Logging.Disabled = override.Logging.Disabled
	}
}

// fieldSet reports whether the raw YAML document names the field at
// the given path.
func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}

// applyEnvOverrides layers the process environment, then the dotenv
// map, over the config. Only documented keys are consulted.
func applyEnvOverrides(cfg *Config, envVars map[string]string) {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				return v
			}
		}
		for _, k := range keys {
			if v := envVars[k]; v != "" {
				return v
			}
		}
		return ""
	}

	if v := get("SMI_API_KEY", "OPENAI_API_KEY", "ZAI_API_KEY", "ZHIPUAI_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := get("SMI_API_BASE_URL", "OPENAI_BASE_URL", "OPENAI_API_BASE"); v != "" {
		cfg.Oracle.BaseURL = strings.TrimRight(v, "/")
	}
	if v := get("SMI_MODEL", "OPENAI_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := get("SMI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Oracle.Temperature = f
		}
	}
	if v := get("SMI_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Oracle.MaxTokens = n
		}
	}
	if v := get("SMI_DEFAULT_RPC_URL"); v != "" {
		cfg.Simulation.RPCURL = v
	}
	if v := get("SMI_SENDER"); v != "" {
		cfg.Simulation.Sender = v
	}
}

var validSimulationModes = map[string]bool{
	"dry-run":          true,
	"advisory-inspect": true,
	"build-only":       true,
}

var validFidelities = map[string]bool{
	"names":   true,
	"entry":   true,
	"public":  true,
	"focused": true,
}

var validLogLevels = map[string]bool{
	"":      true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validAgent(name string) bool {
	switch name {
	case "baseline-search", "real-openai-compatible":
		return true
	}
	return strings.HasPrefix(name, "mock-")
}

// Validate checks structural validity. Credentials are not checked
// here; subcommands that need the oracle verify the key at wiring
// time.
func (c *Config) Validate() error {
	if !validAgent(c.Run.Agent) {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown agent: %s", c.Run.Agent)).
			WithRemediation("use baseline-search, real-openai-compatible, or a mock-* behavior")
	}
	if !validSimulationModes[c.Simulation.Mode] {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid simulation mode: %s", c.Simulation.Mode)).
			WithRemediation("use one of: dry-run, advisory-inspect, build-only")
	}
	if !validFidelities[c.Planning.Fidelity] {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid planning fidelity: %s", c.Planning.Fidelity)).
			WithRemediation("use one of: names, entry, public, focused")
	}
	if c.Planning.Fidelity == "focused" && len(c.Planning.FocusFunctions) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			"focused fidelity requires planning.focus_functions").
			WithRemediation("list the functions to disclose, as module::function")
	}
	if c.Run.Workers < 1 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("run.workers must be >= 1, got %d", c.Run.Workers))
	}
	if c.Run.PerPackageTimeoutSeconds <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			"run.per_package_timeout_seconds must be > 0")
	}
	if c.Run.Samples < 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("run.samples must be >= 0, got %d", c.Run.Samples))
	}
	if c.Run.CheckpointEvery < 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("run.checkpoint_every must be >= 0, got %d", c.Run.CheckpointEvery))
	}
	if c.Planning.MaxFunctions < 1 {
		return errors.New(errors.ErrCodeConfigInvalid,
			"planning.max_functions must be >= 1")
	}
	if c.Planning.MaxPlanningCalls < 1 {
		return errors.New(errors.ErrCodeConfigInvalid,
			"planning.max_planning_calls must be >= 1")
	}
	if c.Planning.MaxPlanAttempts < 1 {
		return errors.New(errors.ErrCodeConfigInvalid,
			"planning.max_plan_attempts must be >= 1")
	}
	for i := 1; i < len(c.Simulation.GasLadder); i++ {
		if c.Simulation.GasLadder[i] <= c.Simulation.GasLadder[i-1] {
			return errors.New(errors.ErrCodeConfigInvalid,
				"simulation.gas_ladder must be strictly ascending")
		}
	}
	if c.Oracle.RequestsPerSecond < 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			"oracle.requests_per_second must be >= 0")
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid logging level: %s", c.Logging.Level)).
			WithRemediation("use one of: debug, info, warn, error")
	}
	return nil
}

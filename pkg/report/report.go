// Package report defines the run output schema, its integrity
// checksum, and disk round-tripping.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/score"
)

// SchemaVersion is written to new reports. Version 1 files are still
// accepted on read.
const SchemaVersion = 2

const checksumKey = "_checksum"

// UnitResult is one package row in the report.
type UnitResult struct {
	PackageID string       `json:"package_id"`
	Score     *score.Score `json:"score,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
	TimedOut       bool    `json:"timed_out,omitempty"`

	CreatedObjectTypes []string `json:"created_object_types_list,omitempty"`

	SimulationMode       string `json:"simulation_mode,omitempty"`
	FellBackToDevInspect bool   `json:"fell_back_to_dev_inspect,omitempty"`

	PTBParseOK          bool   `json:"ptb_parse_ok"`
	TxBuildOK           bool   `json:"tx_build_ok"`
	DryRunOK            bool   `json:"dry_run_ok"`
	DryRunExecOK        bool   `json:"dry_run_exec_ok"`
	DevInspectOK        bool   `json:"dev_inspect_ok"`
	DryRunStatus        string `json:"dry_run_status,omitempty"`
	DryRunEffectsError  string `json:"dry_run_effects_error,omitempty"`
	DryRunAbortCode     *int64 `json:"dry_run_abort_code,omitempty"`
	DryRunAbortLocation string `json:"dry_run_abort_location,omitempty"`

	PlanAttempts  int    `json:"plan_attempts,omitempty"`
	OracleCalls   int    `json:"oracle_calls,omitempty"`
	SimAttempts   int    `json:"sim_attempts,omitempty"`
	GasBudgetUsed uint64 `json:"gas_budget_used,omitempty"`

	// PlanVariant records where the scored evidence came from, for
	// example "search", "oracle", or "predicted-types".
	PlanVariant string `json:"plan_variant,omitempty"`
}

// Report is the complete output of one benchmark run.
type Report struct {
	SchemaVersion         int    `json:"schema_version"`
	RunID                 string `json:"run_id,omitempty"`
	StartedAtUnixSeconds  int64  `json:"started_at_unix_seconds"`
	FinishedAtUnixSeconds int64  `json:"finished_at_unix_seconds"`

	CorpusRootName string `json:"corpus_root_name"`
	Samples        int    `json:"samples"`
	Seed           int64  `json:"seed"`
	Agent          string `json:"agent"`

	RPCURL         string `json:"rpc_url,omitempty"`
	Sender         string `json:"sender,omitempty"`
	GasBudget      uint64 `json:"gas_budget,omitempty"`
	GasCoin        string `json:"gas_coin,omitempty"`
	SimulationMode string `json:"simulation_mode,omitempty"`

	Aggregate score.Aggregate `json:"aggregate"`
	Packages  []UnitResult    `json:"packages"`

	Checksum string `json:"_checksum,omitempty"`
}

// ComputeChecksum computes the report digest: the canonical JSON
// encoding with the checksum field removed, hashed and truncated to
// eight hex characters.
func (r *Report) ComputeChecksum() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to encode report")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to canonicalize report")
	}
	delete(m, checksumKey)
	canonical, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to canonicalize report")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:8], nil
}

// Seal stamps the report with its checksum.
func (r *Report) Seal() error {
	sum, err := r.ComputeChecksum()
	if err != nil {
		return err
	}
	r.Checksum = sum
	return nil
}

// Verify checks the schema version and, when a checksum is present,
// that the content still matches it.
func (r *Report) Verify() error {
	if r.SchemaVersion != 1 && r.SchemaVersion != SchemaVersion {
		return errors.New(errors.ErrCodeStorageRead,
			fmt.Sprintf("unsupported schema_version %d", r.SchemaVersion)).
			WithContext("supported", []int{1, SchemaVersion})
	}
	if r.Checksum == "" {
		return nil
	}
	want, err := r.ComputeChecksum()
	if err != nil {
		return err
	}
	if r.Checksum != want {
		return errors.New(errors.ErrCodeStorageRead, "report checksum mismatch").
			WithContext("stored", r.Checksum).
			WithContext("computed", want).
			WithRemediation("the file was corrupted or hand-edited; rerun or restore from a checkpoint")
	}
	return nil
}

// Unit returns the row for a package id, if recorded.
func (r *Report) Unit(packageID string) (UnitResult, bool) {
	for _, u := range r.Packages {
		if u.PackageID == packageID {
			return u, true
		}
	}
	return UnitResult{}, false
}

// UnitIDsWithMinTargets returns the ids of packages whose score shows
// at least min key targets. Used to focus a roster after a scan pass.
func (r *Report) UnitIDsWithMinTargets(min int) []string {
	var ids []string
	for _, u := range r.Packages {
		if u.Score != nil && u.Score.Targets >= min {
			ids = append(ids, u.PackageID)
		}
	}
	return ids
}

// UnitIDsWithMinHits returns the ids of packages with at least min
// created target hits. Used to isolate signal after a run.
func (r *Report) UnitIDsWithMinHits(min int) []string {
	var ids []string
	for _, u := range r.Packages {
		if u.Score != nil && u.Score.CreatedHits >= min {
			ids = append(ids, u.PackageID)
		}
	}
	return ids
}

// Save seals the report and writes it as indented JSON.
func Save(path string, r *Report) error {
	if err := r.Seal(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to encode report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write report").
			WithContext("path", path)
	}
	return nil
}

// Load reads a report and verifies its version and checksum.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to read report").
			WithContext("path", path)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to decode report").
			WithContext("path", path)
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return &r, nil
}

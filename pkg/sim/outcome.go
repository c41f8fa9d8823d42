// Package sim submits plans to an external transaction simulator and
// classifies what came back: executed, aborted with a code, failed to
// build, or never answered. Execution evidence is the list of created
// object types pulled from the response.
package sim

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
)

// Status summarizes one simulation.
type Status string

const (
	StatusOK           Status = "ok"
	StatusAborted      Status = "aborted"
	StatusBuildFailed  Status = "build_failed"
	StatusTimedOut     Status = "timed_out"
	StatusHarnessError Status = "harness_error"
)

// Failure carries the best-effort decoding of a failed execution.
type Failure struct {
	Status        string `json:"status,omitempty"`
	Error         string `json:"error,omitempty"`
	AbortCode     *int64 `json:"abort_code,omitempty"`
	AbortLocation string `json:"abort_location,omitempty"`
}

// Outcome is the full result of simulating one plan, including the
// stage booleans reports break out per unit.
type Outcome struct {
	Status       Status   `json:"status"`
	Mode         Mode     `json:"mode"`
	CreatedTypes []string `json:"created_types,omitempty"`
	Failure      *Failure `json:"failure,omitempty"`

	// Attempts counts simulator submissions, one per gas budget tried.
	Attempts  int    `json:"attempts"`
	GasBudget uint64 `json:"gas_budget,omitempty"`

	BuildOK   bool `json:"tx_build_ok"`
	DryRunOK  bool `json:"dry_run_ok"`
	ExecOK    bool `json:"dry_run_exec_ok"`
	InspectOK bool `json:"dev_inspect_ok"`
	// FellBack marks evidence gathered through the advisory
	// inspection path after the authoritative run failed.
	FellBack bool `json:"fell_back_to_dev_inspect,omitempty"`
}

// Abort details are buried in free-form error strings; two code
// spellings and a module-location pattern cover the simulator's
// formats.
var (
	abortCodeRE     = regexp.MustCompile(`\b([Aa]bort|MoveAbort)\b.*?\bcode\b[^0-9]*([0-9]+)`)
	abortCodeBareRE = regexp.MustCompile(`\bMoveAbort\b.*?[, ]\s*([0-9]+)\b`)
	abortLocRE      = regexp.MustCompile(`\b0x[0-9a-fA-F]{1,64}::[A-Za-z_][A-Za-z0-9_]*::[A-Za-z_][A-Za-z0-9_]*\b`)
)

func parseAbortCode(errText string) *int64 {
	if m := abortCodeRE.FindStringSubmatch(errText); m != nil {
		if code, err := strconv.ParseInt(m[2], 10, 64); err == nil {
			return &code
		}
	}
	if m := abortCodeBareRE.FindStringSubmatch(errText); m != nil {
		if code, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return &code
		}
	}
	return nil
}

func parseAbortLocation(errText string) string {
	return abortLocRE.FindString(errText)
}

// dryRunEnvelope is the slice of the simulator response the
// classifier needs.
type dryRunEnvelope struct {
	Effects *struct {
		Status *struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
		ObjectChanges []objectChange `json:"objectChanges"`
	} `json:"effects"`
	ObjectChanges        []objectChange `json:"objectChanges"`
	ExecutionErrorSource string         `json:"executionErrorSource"`
	Error                string         `json:"error"`
}

type objectChange struct {
	Type       string `json:"type"`
	ObjectType string `json:"objectType"`
}

// Classify reads a transaction-block response and reports whether
// execution succeeded. On failure it decodes the status, error text,
// and any abort code or location it can find.
func Classify(raw json.RawMessage) (bool, *Failure) {
	var env dryRunEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, &Failure{Error: "unparseable response: " + err.Error()}
	}
	if env.Effects == nil {
		return false, &Failure{Error: "missing effects"}
	}
	if env.Effects.Status == nil {
		return false, &Failure{Error: "missing effects.status"}
	}
	if env.Effects.Status.Status == "success" {
		return true, nil
	}

	errText := env.Effects.Status.Error
	if errText == "" {
		errText = env.ExecutionErrorSource
	}
	if errText == "" {
		errText = env.Error
	}
	return false, &Failure{
		Status:        env.Effects.Status.Status,
		Error:         errText,
		AbortCode:     parseAbortCode(errText),
		AbortLocation: parseAbortLocation(errText),
	}
}

// ExtractCreatedTypes collects the object types of every created
// object in the response, looking both at the top level and inside
// the effects envelope, and returns them sorted.
func ExtractCreatedTypes(raw json.RawMessage) []string {
	var env dryRunEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	collect := func(changes []objectChange) {
		for _, ch := range changes {
			if ch.Type == "created" && ch.ObjectType != "" {
				seen[ch.ObjectType] = struct{}{}
			}
		}
	}
	collect(env.ObjectChanges)
	if env.Effects != nil {
		collect(env.Effects.ObjectChanges)
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// insufficientGasRE matches the simulator's gas shortfall spellings.
// Only these failures climb the gas ladder; anything else is a real
// execution result.
var insufficientGasRE = regexp.MustCompile(
	`(?i)insufficient\s*(gas|funds?|balance)|gas\s*budget[^.]*(too\s*low|less\s*than)|GasBalanceTooLow|GasBudgetTooLow|InsufficientGas`)

// IsInsufficientGas reports whether the error text indicates the
// budget, not the plan, was the problem.
func IsInsufficientGas(errText string) bool {
	return errText != "" && insufficientGasRE.MatchString(errText)
}

package sim

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/logging"
	"github.com/odvcencio/inhabit/pkg/plan"
)

// Mode selects how much execution evidence a simulation gathers.
type Mode string

const (
	// ModeDryRun executes against current chain state and is the only
	// mode whose created objects count as authoritative evidence.
	ModeDryRun Mode = "dry-run"
	// ModeInspect uses the advisory inspection endpoint.
	ModeInspect Mode = "advisory-inspect"
	// ModeBuildOnly stops after encoding the transaction.
	ModeBuildOnly Mode = "build-only"
)

// ParseMode validates a mode spelling from config or flags.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDryRun, ModeInspect, ModeBuildOnly:
		return Mode(s), nil
	case "":
		return ModeBuildOnly, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput,
		fmt.Sprintf("unknown simulation mode %q", s)).
		WithRemediation("use one of: dry-run, advisory-inspect, build-only")
}

// Encoder turns a validated plan into the base64 payload the
// simulator endpoint accepts.
type Encoder interface {
	Encode(p *plan.Plan, sender string, gasBudget uint64, gasCoin string) (string, error)
}

// EnvelopeEncoder wraps the plan in its JSON transaction envelope and
// base64-encodes it.
type EnvelopeEncoder struct{}

type txEnvelope struct {
	Sender    string      `json:"sender"`
	GasBudget uint64      `json:"gas_budget"`
	GasCoin   string      `json:"gas_coin,omitempty"`
	Calls     []plan.Call `json:"calls"`
}

func (EnvelopeEncoder) Encode(p *plan.Plan, sender string, gasBudget uint64, gasCoin string) (string, error) {
	if p == nil || len(p.Calls) == 0 {
		return "", errors.New(errors.ErrCodeSimBuild, "cannot encode an empty plan")
	}
	data, err := json.Marshal(txEnvelope{
		Sender:    sender,
		GasBudget: gasBudget,
		GasCoin:   gasCoin,
		Calls:     p.Calls,
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSimBuild, "failed to encode transaction")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DefaultGasLadder is the budget escalation sequence in MIST. Each
// rung is only climbed when the simulator blames the budget.
var DefaultGasLadder = []uint64{10_000_000, 50_000_000, 250_000_000}

// Config controls how the adapter drives the simulator.
type Config struct {
	Sender    string
	GasCoin   string
	GasLadder []uint64
	// FallBackToInspect reruns a failed dry run through the advisory
	// endpoint so the unit still yields created-type evidence.
	FallBackToInspect bool
}

// Adapter submits plans under a gas ladder and folds every failure
// shape into an Outcome.
type Adapter struct {
	rpc RPC
	enc Encoder
	cfg Config
	log *logging.Logger
}

// NewAdapter wires a simulation adapter. A nil encoder gets the JSON
// envelope encoder, a nil logger discards events, and an empty ladder
// gets the default.
func NewAdapter(rpc RPC, enc Encoder, cfg Config, log *logging.Logger) *Adapter {
	if enc == nil {
		enc = EnvelopeEncoder{}
	}
	if len(cfg.GasLadder) == 0 {
		cfg.GasLadder = DefaultGasLadder
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Adapter{rpc: rpc, enc: enc, cfg: cfg, log: log}
}

// Simulate runs one plan in the given mode. All failures are folded
// into the returned outcome rather than an error so callers always
// get the stage booleans.
func (a *Adapter) Simulate(ctx context.Context, p *plan.Plan, mode Mode) *Outcome {
	out := &Outcome{Status: StatusHarnessError, Mode: mode}

	switch mode {
	case ModeBuildOnly:
		budget := a.cfg.GasLadder[0]
		if _, err := a.enc.Encode(p, a.cfg.Sender, budget, a.cfg.GasCoin); err != nil {
			return a.buildFailed(out, err)
		}
		out.Status = StatusOK
		out.BuildOK = true
		out.GasBudget = budget
		return out

	case ModeInspect:
		a.inspect(ctx, p, out)
		return out

	case ModeDryRun:
		a.dryRun(ctx, p, out)
		if out.Status != StatusOK && out.Status != StatusTimedOut && a.cfg.FallBackToInspect {
			prior, priorStatus := out.Failure, out.Status
			a.inspect(ctx, p, out)
			out.FellBack = true
			// The authoritative failure record stands even when the
			// advisory rerun changes the verdict.
			if prior != nil {
				out.Failure = prior
			}
			if out.Status != StatusOK {
				out.Status = priorStatus
			}
		}
		return out
	}

	out.Failure = &Failure{Error: fmt.Sprintf("unknown simulation mode %q", mode)}
	return out
}

// dryRun walks the gas ladder until the simulator stops blaming the
// budget.
func (a *Adapter) dryRun(ctx context.Context, p *plan.Plan, out *Outcome) {
	for i, budget := range a.cfg.GasLadder {
		txBytes, err := a.enc.Encode(p, a.cfg.Sender, budget, a.cfg.GasCoin)
		if err != nil {
			a.buildFailed(out, err)
			return
		}
		out.BuildOK = true
		out.GasBudget = budget
		out.Attempts = i + 1

		raw, err := a.rpc.DryRunTransactionBlock(ctx, txBytes)
		if err != nil {
			if ctx.Err() != nil {
				out.Status = StatusTimedOut
				out.Failure = &Failure{Error: ctx.Err().Error()}
				return
			}
			if IsInsufficientGas(err.Error()) && i+1 < len(a.cfg.GasLadder) {
				a.logGasRetry(budget, a.cfg.GasLadder[i+1], err.Error())
				continue
			}
			out.Status = StatusHarnessError
			out.Failure = &Failure{Error: err.Error()}
			return
		}
		out.DryRunOK = true

		ok, failure := Classify(raw)
		if ok {
			out.Status = StatusOK
			out.ExecOK = true
			out.CreatedTypes = ExtractCreatedTypes(raw)
			return
		}
		if IsInsufficientGas(failure.Error) && i+1 < len(a.cfg.GasLadder) {
			a.logGasRetry(budget, a.cfg.GasLadder[i+1], failure.Error)
			continue
		}
		out.Status = StatusAborted
		out.Failure = failure
		return
	}
}

// inspect runs the advisory endpoint once, at the top rung. It never
// climbs the ladder since the endpoint does not charge real gas.
func (a *Adapter) inspect(ctx context.Context, p *plan.Plan, out *Outcome) {
	budget := a.cfg.GasLadder[len(a.cfg.GasLadder)-1]
	txBytes, err := a.enc.Encode(p, a.cfg.Sender, budget, a.cfg.GasCoin)
	if err != nil {
		a.buildFailed(out, err)
		return
	}
	out.BuildOK = true
	out.GasBudget = budget
	out.Attempts++

	raw, err := a.rpc.DevInspectTransactionBlock(ctx, a.cfg.Sender, txBytes)
	if err != nil {
		if ctx.Err() != nil {
			out.Status = StatusTimedOut
		} else {
			out.Status = StatusHarnessError
		}
		out.Failure = &Failure{Error: err.Error()}
		return
	}
	out.InspectOK = true

	ok, failure := Classify(raw)
	if ok {
		out.Status = StatusOK
		out.CreatedTypes = ExtractCreatedTypes(raw)
		return
	}
	out.Status = StatusAborted
	out.Failure = failure
}

func (a *Adapter) buildFailed(out *Outcome, err error) *Outcome {
	out.Status = StatusBuildFailed
	out.Failure = &Failure{Error: err.Error()}
	return out
}

func (a *Adapter) logGasRetry(budget, next uint64, errText string) {
	a.log.Info(logging.CategorySimulation, "gas_retry",
		"retrying with a larger gas budget", map[string]any{
			"budget":      budget,
			"next_budget": next,
			"error":       errText,
		})
}

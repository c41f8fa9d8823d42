// Package plan defines the transaction plan model: an ordered call
// sequence forming a DAG, where later calls may consume earlier
// calls' results. Plans arrive from two producers, the constructor
// search engine and the planning oracle, and are validated once here
// before anything downstream touches them.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/iface"
)

// Call is one invocation in a plan. Target is a fully-qualified
// "package::module::function" string.
type Call struct {
	Target   string   `json:"target"`
	TypeArgs []string `json:"type_args,omitempty"`
	Args     []Arg    `json:"args"`
}

// Plan is an ordered sequence of calls. Valid plans satisfy the DAG
// invariant checked by Validate.
type Plan struct {
	Calls []Call `json:"calls"`
}

// Parse decodes a plan from its wire form and validates the DAG
// invariant. Argument bindings are normalized during decoding; a
// binding that cannot be normalized fails the parse.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePlanValidation, "failed to decode plan")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate enforces structural invariants: every call has a
// three-part target, every binding has exactly one arm, and every
// result reference points to a strictly earlier call.
func (p *Plan) Validate() error {
	for i, call := range p.Calls {
		if parts := strings.Split(call.Target, "::"); len(parts) != 3 ||
			parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return errors.New(errors.ErrCodePlanValidation, "call target must be package::module::function").
				WithContext("call", i).
				WithContext("target", call.Target)
		}

		for j, arg := range call.Args {
			if arg.armCount() != 1 {
				return errors.New(errors.ErrCodePlanValidation, "argument binding must have exactly one arm").
					WithContext("call", i).
					WithContext("arg", j)
			}
			if ref := arg.Result; ref != nil {
				if ref.Call < 0 || ref.Call >= i {
					return errors.New(errors.ErrCodePlanValidation, "result reference must point to an earlier call").
						WithContext("call", i).
						WithContext("arg", j).
						WithContext("references", ref.Call)
				}
				if ref.Output < 0 {
					return errors.New(errors.ErrCodePlanValidation, "result reference output must be non-negative").
						WithContext("call", i).
						WithContext("arg", j)
				}
			}
		}
	}
	return nil
}

// ValidateAgainst checks the plan against an interface document:
// every target must resolve to a publicly callable function with
// matching argument and type-argument counts.
func (p *Plan) ValidateAgainst(doc *iface.Package) error {
	if err := p.Validate(); err != nil {
		return err
	}

	for i, call := range p.Calls {
		fn, ok := doc.ResolveTarget(call.Target)
		if !ok {
			return errors.New(errors.ErrCodePlanValidation, "plan references unknown function").
				WithContext("call", i).
				WithContext("target", call.Target)
		}
		if !fn.IsPubliclyCallable() {
			return errors.New(errors.ErrCodePlanValidation, "plan references non-callable function").
				WithContext("call", i).
				WithContext("target", call.Target)
		}
		if want := len(fn.PlanParams()); len(call.Args) != want {
			return errors.New(errors.ErrCodePlanValidation, "argument count mismatch").
				WithContext("call", i).
				WithContext("target", call.Target).
				WithContext("have", len(call.Args)).
				WithContext("want", want)
		}
		if want := len(fn.TypeParams); len(call.TypeArgs) != want {
			return errors.New(errors.ErrCodePlanValidation, "type argument count mismatch").
				WithContext("call", i).
				WithContext("target", call.Target).
				WithContext("have", len(call.TypeArgs)).
				WithContext("want", want)
		}
	}
	return nil
}

// String summarizes the plan for logs.
func (p *Plan) String() string {
	if p == nil || len(p.Calls) == 0 {
		return "plan(empty)"
	}
	targets := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		targets[i] = c.Target
	}
	return fmt.Sprintf("plan(%d calls: %s)", len(p.Calls), strings.Join(targets, " -> "))
}

// Builder accumulates calls in dependency order, handing out indices
// so producer results can be wired into consumer arguments.
type Builder struct {
	calls []Call
}

// Append adds a call and returns its index.
func (b *Builder) Append(target string, typeArgs []string, args []Arg) int {
	b.calls = append(b.calls, Call{Target: target, TypeArgs: typeArgs, Args: args})
	return len(b.calls) - 1
}

// Len reports the number of calls appended so far.
func (b *Builder) Len() int {
	return len(b.calls)
}

// Build finalizes the plan, rejecting anything that breaks the DAG
// invariant.
func (b *Builder) Build() (*Plan, error) {
	p := &Plan{Calls: b.calls}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

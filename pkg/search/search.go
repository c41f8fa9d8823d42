// Package search enumerates constructor plans for a package. Given an
// interface document it finds callable functions, fills their
// arguments from the fill policy, and resolves parameters nothing in
// the policy can satisfy by searching for producer functions whose
// single return value has the needed type. Enumeration is always in
// lexicographic module/function order, so the same document yields
// the same plans on every run.
package search

import (
	"fmt"
	"strings"

	"github.com/odvcencio/inhabit/pkg/iface"
	"github.com/odvcencio/inhabit/pkg/plan"
)

// Exclusion reasons recorded when a function or package yields no
// candidate.
const (
	ReasonNotPublicEntry   = "not_public_entry"
	ReasonHasTypeParams    = "has_type_params"
	ReasonUnsupportedParam = "unsupported_param_type"
	ReasonNoCandidates     = "no_candidates"
	ReasonInterfaceInvalid = "interface_missing_or_invalid"
)

// Default limits for the stock engine.
const (
	DefaultMaxDepth      = 3
	DefaultMaxCandidates = 8
	DefaultMaxCalls      = 16
)

// Limits bounds the search. MaxDepth caps producer chain depth,
// MaxCandidates caps the number of alternative plans returned for one
// target, and MaxCalls caps how many entry functions a combined
// package plan may invoke.
type Limits struct {
	MaxDepth      int
	MaxCandidates int
	MaxCalls      int
}

// Engine resolves arguments and enumerates candidate plans.
type Engine struct {
	Policy Policy
	Limits Limits
}

// NewEngine builds an engine, substituting defaults for zero limits.
func NewEngine(policy Policy, limits Limits) *Engine {
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultMaxDepth
	}
	if limits.MaxCandidates <= 0 {
		limits.MaxCandidates = DefaultMaxCandidates
	}
	if limits.MaxCalls <= 0 {
		limits.MaxCalls = DefaultMaxCalls
	}
	return &Engine{Policy: policy, Limits: limits}
}

// FunctionAnalysis classifies a single function for the conservative
// single-call selection: either runnable with fully filled arguments
// or rejected with reasons.
type FunctionAnalysis struct {
	Runnable bool       `json:"runnable"`
	Reasons  []string   `json:"reasons,omitempty"`
	Args     []plan.Arg `json:"args,omitempty"`
	TypeArgs []string   `json:"type_args,omitempty"`
}

// Candidate is one directly runnable call.
type Candidate struct {
	Target   string     `json:"target"`
	TypeArgs []string   `json:"type_args,omitempty"`
	Args     []plan.Arg `json:"args"`
}

// Rejection records why a function was excluded.
type Rejection struct {
	Target  string   `json:"target"`
	Reasons []string `json:"reasons"`
}

// Analysis is the per-package candidate listing used by scans.
type Analysis struct {
	PackageID    string         `json:"package_id"`
	OK           []Candidate    `json:"candidates_ok"`
	Rejected     []Rejection    `json:"candidates_rejected"`
	ReasonCounts map[string]int `json:"reasons_summary"`
}

// Viability counts entry points surviving each selection filter in
// turn: public entry, then no type parameters, then only directly
// fillable arguments.
type Viability struct {
	PublicEntryTotal         int `json:"public_entry_total"`
	PublicEntryNoTypeParams  int `json:"public_entry_no_type_params_total"`
	PublicEntrySupportedArgs int `json:"public_entry_no_type_params_supported_args_total"`
}

// Stats accumulates scan results across packages.
type Stats struct {
	PackagesTotal           int            `json:"packages_total"`
	PackagesSelected        int            `json:"packages_selected"`
	PackagesFailedInterface int            `json:"packages_failed_interface"`
	PackagesNoCandidates    int            `json:"packages_no_candidates"`
	CandidateFunctionsTotal int            `json:"candidate_functions_total"`
	RejectionReasons        map[string]int `json:"rejection_reasons_counts"`
}

// AddAnalysis folds one package's analysis into the stats.
func (s *Stats) AddAnalysis(a *Analysis) {
	if s.RejectionReasons == nil {
		s.RejectionReasons = make(map[string]int)
	}
	s.PackagesTotal++
	s.CandidateFunctionsTotal += len(a.OK)
	if len(a.OK) > 0 {
		s.PackagesSelected++
	} else {
		s.PackagesNoCandidates++
	}
	for reason, n := range a.ReasonCounts {
		s.RejectionReasons[reason] += n
	}
}

// AddFailedInterface records a unit whose interface document could
// not be loaded at all.
func (s *Stats) AddFailedInterface() {
	if s.RejectionReasons == nil {
		s.RejectionReasons = make(map[string]int)
	}
	s.PackagesTotal++
	s.PackagesFailedInterface++
	s.RejectionReasons[ReasonInterfaceInvalid]++
}

// analyzeFunction applies the conservative policy to one function:
// public entry only, generics instantiated with the default type
// argument, every parameter filled directly.
func (e *Engine) analyzeFunction(fn iface.Function) FunctionAnalysis {
	var reasons []string
	if fn.Visibility != "public" || !fn.IsEntry {
		reasons = append(reasons, ReasonNotPublicEntry)
	}
	if !e.Policy.fillsTypeParams(len(fn.TypeParams)) {
		reasons = append(reasons, ReasonHasTypeParams)
	}

	inst := e.defaultInstances(len(fn.TypeParams))
	typeArgs := e.Policy.TypeArgs(len(fn.TypeParams))
	var args []plan.Arg
	for _, p := range instantiateAll(fn.PlanParams(), inst) {
		arg, ok := e.Policy.FillDirect(p)
		if !ok {
			reasons = append(reasons, ReasonUnsupportedParam)
			break
		}
		args = append(args, arg)
	}

	if len(reasons) > 0 {
		return FunctionAnalysis{Reasons: reasons}
	}
	return FunctionAnalysis{Runnable: true, Args: args, TypeArgs: typeArgs}
}

// Analyze lists every directly runnable call in the package along
// with the rejected functions and a reason tally.
func (e *Engine) Analyze(doc *iface.Package) *Analysis {
	a := &Analysis{
		PackageID:    doc.PackageID,
		OK:           []Candidate{},
		Rejected:     []Rejection{},
		ReasonCounts: make(map[string]int),
	}
	for _, modName := range doc.ModuleNames() {
		mod := doc.Modules[modName]
		for _, fnName := range mod.FunctionNames() {
			target := fmt.Sprintf("%s::%s::%s", doc.PackageID, modName, fnName)
			fa := e.analyzeFunction(mod.Functions[fnName])
			if fa.Runnable {
				a.OK = append(a.OK, Candidate{Target: target, TypeArgs: fa.TypeArgs, Args: fa.Args})
			} else {
				a.Rejected = append(a.Rejected, Rejection{Target: target, Reasons: fa.Reasons})
				for _, r := range fa.Reasons {
					a.ReasonCounts[r]++
				}
			}
		}
	}
	if len(a.OK) == 0 {
		a.ReasonCounts[ReasonNoCandidates] = 1
	}
	return a
}

// Viability computes the nested entry-point counts for one package.
func (e *Engine) Viability(doc *iface.Package) Viability {
	var v Viability
	for _, modName := range doc.ModuleNames() {
		mod := doc.Modules[modName]
		for _, fnName := range mod.FunctionNames() {
			fn := mod.Functions[fnName]
			if fn.Visibility != "public" || !fn.IsEntry {
				continue
			}
			v.PublicEntryTotal++
			if len(fn.TypeParams) > 0 {
				continue
			}
			v.PublicEntryNoTypeParams++
			supported := true
			for _, p := range fn.PlanParams() {
				if _, ok := e.Policy.FillDirect(p); !ok {
					supported = false
					break
				}
			}
			if supported {
				v.PublicEntrySupportedArgs++
			}
		}
	}
	return v
}

// state is the transient resolution state of one search branch. It is
// cloned whenever a branch forks, so sibling branches never observe
// each other's producer calls or cycle marks.
type state struct {
	calls   []plan.Call
	pending map[string]bool
}

func newState() state {
	return state{pending: make(map[string]bool)}
}

func (s state) clone() state {
	calls := make([]plan.Call, len(s.calls))
	copy(calls, s.calls)
	pending := make(map[string]bool, len(s.pending))
	for k, v := range s.pending {
		pending[k] = v
	}
	return state{calls: calls, pending: pending}
}

// valueBinding is one way to bind a single parameter.
type valueBinding struct {
	st  state
	arg plan.Arg
}

// paramsResolution is one way to bind a whole parameter list.
type paramsResolution struct {
	st   state
	args []plan.Arg
}

// resolveValue enumerates bindings for one parameter: the direct fill
// when the policy has one, otherwise producer calls whose single
// return value has the needed type. Reference parameters borrow the
// produced value. At most budget bindings are returned.
func (e *Engine) resolveValue(doc *iface.Package, t iface.Type, st state, depth, budget int) []valueBinding {
	if budget <= 0 {
		return nil
	}
	if arg, ok := e.Policy.FillDirect(t); ok {
		return []valueBinding{{st: st, arg: arg}}
	}

	need, _ := t.Deref()
	switch need.Kind {
	case iface.KindTypeParam, iface.KindSigner:
		return nil
	}
	if depth <= 0 {
		return nil
	}
	key := need.String()
	if st.pending[key] {
		return nil
	}

	var out []valueBinding
	for _, modName := range doc.ModuleNames() {
		mod := doc.Modules[modName]
		for _, fnName := range mod.FunctionNames() {
			if len(out) >= budget {
				return out
			}
			fn := mod.Functions[fnName]
			if !fn.IsPubliclyCallable() || len(fn.Returns) != 1 {
				continue
			}
			if !e.Policy.fillsTypeParams(len(fn.TypeParams)) {
				continue
			}
			inst := e.defaultInstances(len(fn.TypeParams))
			ret := instantiate(fn.Returns[0], inst)
			if ret.Kind == iface.KindRef || ret.String() != key {
				continue
			}

			base := st.clone()
			base.pending[key] = true
			params := instantiateAll(fn.PlanParams(), inst)
			target := fmt.Sprintf("%s::%s::%s", doc.PackageID, modName, fnName)
			for _, r := range e.resolveParams(doc, params, base, depth-1, budget-len(out)) {
				rs := r.st.clone()
				delete(rs.pending, key)
				idx := len(rs.calls)
				rs.calls = append(rs.calls, plan.Call{
					Target:   target,
					TypeArgs: e.Policy.TypeArgs(len(fn.TypeParams)),
					Args:     r.args,
				})
				out = append(out, valueBinding{st: rs, arg: plan.Result(idx)})
				if len(out) >= budget {
					return out
				}
			}
		}
	}
	return out
}

// resolveParams enumerates bindings for a parameter list, threading
// each branch's state left to right.
func (e *Engine) resolveParams(doc *iface.Package, params []iface.Type, st state, depth, budget int) []paramsResolution {
	current := []paramsResolution{{st: st}}
	for _, p := range params {
		var next []paramsResolution
		for _, cur := range current {
			remaining := budget - len(next)
			if remaining <= 0 {
				break
			}
			for _, b := range e.resolveValue(doc, p, cur.st, depth, remaining) {
				args := make([]plan.Arg, len(cur.args)+1)
				copy(args, cur.args)
				args[len(cur.args)] = b.arg
				next = append(next, paramsResolution{st: b.st, args: args})
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

// PlansForTarget returns candidate plans that end by calling the
// named function, ranked in discovery order. When no plan exists the
// second return carries the exclusion reasons.
func (e *Engine) PlansForTarget(doc *iface.Package, module, name string) ([]*plan.Plan, []string) {
	fn, ok := doc.Function(module, name)
	if !ok {
		return nil, []string{ReasonInterfaceInvalid}
	}
	if !fn.IsPubliclyCallable() {
		return nil, []string{ReasonNotPublicEntry}
	}
	if !e.Policy.fillsTypeParams(len(fn.TypeParams)) {
		return nil, []string{ReasonHasTypeParams}
	}

	inst := e.defaultInstances(len(fn.TypeParams))
	params := instantiateAll(fn.PlanParams(), inst)
	resolutions := e.resolveParams(doc, params, newState(), e.Limits.MaxDepth, e.Limits.MaxCandidates)
	if len(resolutions) == 0 {
		return nil, []string{ReasonUnsupportedParam}
	}

	target := fmt.Sprintf("%s::%s::%s", doc.PackageID, module, name)
	typeArgs := e.Policy.TypeArgs(len(fn.TypeParams))
	var plans []*plan.Plan
	for _, r := range resolutions {
		var b plan.Builder
		appendChain(&b, r.st.calls, target, typeArgs, r.args)
		p, err := b.Build()
		if err != nil {
			continue
		}
		plans = append(plans, p)
		if len(plans) >= e.Limits.MaxCandidates {
			break
		}
	}
	return plans, nil
}

// ExecutablePlan assembles one combined plan invoking up to MaxCalls
// public entry functions, each with its arguments fully resolved.
// Functions whose arguments cannot be resolved are skipped. The
// second return lists the selected targets in call order; both
// returns are empty when nothing in the package is runnable.
func (e *Engine) ExecutablePlan(doc *iface.Package) (*plan.Plan, []string) {
	var b plan.Builder
	var selected []string
	for _, modName := range doc.ModuleNames() {
		mod := doc.Modules[modName]
		for _, fnName := range mod.FunctionNames() {
			if len(selected) >= e.Limits.MaxCalls {
				break
			}
			fn := mod.Functions[fnName]
			if fn.Visibility != "public" || !fn.IsEntry {
				continue
			}
			if !e.Policy.fillsTypeParams(len(fn.TypeParams)) {
				continue
			}

			inst := e.defaultInstances(len(fn.TypeParams))
			params := instantiateAll(fn.PlanParams(), inst)
			resolutions := e.resolveParams(doc, params, newState(), e.Limits.MaxDepth, 1)
			if len(resolutions) == 0 {
				continue
			}

			r := resolutions[0]
			target := fmt.Sprintf("%s::%s::%s", doc.PackageID, modName, fnName)
			appendChain(&b, r.st.calls, target, e.Policy.TypeArgs(len(fn.TypeParams)), r.args)
			selected = append(selected, target)
		}
	}
	if b.Len() == 0 {
		return nil, nil
	}
	p, err := b.Build()
	if err != nil {
		return nil, nil
	}
	return p, selected
}

// appendChain copies a producer chain plus its final call into the
// builder, shifting result references past whatever the builder
// already holds.
func appendChain(b *plan.Builder, chain []plan.Call, target string, typeArgs []string, args []plan.Arg) {
	offset := b.Len()
	for _, c := range chain {
		b.Append(c.Target, c.TypeArgs, shiftResults(c.Args, offset))
	}
	b.Append(target, typeArgs, shiftResults(args, offset))
}

func shiftResults(args []plan.Arg, offset int) []plan.Arg {
	if offset == 0 {
		return args
	}
	out := make([]plan.Arg, len(args))
	for i, a := range args {
		if a.Result != nil {
			ref := *a.Result
			ref.Call += offset
			out[i] = plan.Arg{Result: &ref}
		} else {
			out[i] = a
		}
	}
	return out
}

// defaultInstances returns n copies of the policy's default type
// argument as parsed types, for substituting into generic signatures.
func (e *Engine) defaultInstances(n int) []iface.Type {
	if n == 0 {
		return nil
	}
	inst := make([]iface.Type, n)
	for i := range inst {
		inst[i] = typeFromTag(e.Policy.TypeArg)
	}
	return inst
}

func typeFromTag(tag string) iface.Type {
	parts := strings.Split(tag, "::")
	if len(parts) != 3 {
		return iface.Type{Kind: iface.KindDatatype, Name: tag}
	}
	return iface.Type{Kind: iface.KindDatatype, Address: parts[0], Module: parts[1], Name: parts[2]}
}

// instantiate substitutes type parameters with concrete types,
// leaving the input untouched.
func instantiate(t iface.Type, args []iface.Type) iface.Type {
	switch t.Kind {
	case iface.KindTypeParam:
		if t.Index >= 0 && t.Index < len(args) {
			return args[t.Index]
		}
	case iface.KindVector:
		if t.Elem != nil {
			elem := instantiate(*t.Elem, args)
			t.Elem = &elem
		}
	case iface.KindRef:
		if t.To != nil {
			to := instantiate(*t.To, args)
			t.To = &to
		}
	case iface.KindDatatype:
		if len(t.TypeArgs) > 0 {
			ta := make([]iface.Type, len(t.TypeArgs))
			for i, a := range t.TypeArgs {
				ta[i] = instantiate(a, args)
			}
			t.TypeArgs = ta
		}
	}
	return t
}

func instantiateAll(params []iface.Type, args []iface.Type) []iface.Type {
	if len(args) == 0 {
		return params
	}
	out := make([]iface.Type, len(params))
	for i, p := range params {
		out[i] = instantiate(p, args)
	}
	return out
}

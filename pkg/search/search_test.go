package search

import (
	"testing"

	"github.com/odvcencio/inhabit/pkg/iface"
	"github.com/odvcencio/inhabit/pkg/plan"
)

func datatype(address, module, name string, typeArgs ...iface.Type) iface.Type {
	return iface.Type{Kind: iface.KindDatatype, Address: address, Module: module, Name: name, TypeArgs: typeArgs}
}

func ref(to iface.Type, mutable bool) iface.Type {
	return iface.Type{Kind: iface.KindRef, Mutable: mutable, To: &to}
}

func prim(kind string) iface.Type {
	return iface.Type{Kind: kind}
}

func txContextRef() iface.Type {
	return ref(datatype(iface.FrameworkAddress, "tx_context", "TxContext"), true)
}

func newEngine() *Engine {
	return NewEngine(DefaultPolicy(), Limits{})
}

func TestFillDirectDefaults(t *testing.T) {
	policy := DefaultPolicy()
	tests := []struct {
		name string
		typ  iface.Type
		want plan.Arg
	}{
		{"bool", prim(iface.KindBool), plan.Bool(false)},
		{"u8", prim(iface.KindU8), plan.Uint(plan.LitU8, 1)},
		{"u64", prim(iface.KindU64), plan.Uint(plan.LitU64, 1)},
		{"address", prim(iface.KindAddress), plan.Address(iface.DefaultAddress)},
		{
			"vector u8",
			iface.Type{Kind: iface.KindVector, Elem: &iface.Type{Kind: iface.KindU8}},
			plan.VecU8Hex("0x01"),
		},
		{
			"vector address",
			iface.Type{Kind: iface.KindVector, Elem: &iface.Type{Kind: iface.KindAddress}},
			plan.VecAddress(iface.DefaultAddress),
		},
		{
			"clock ref",
			ref(datatype(iface.FrameworkAddress, "clock", "Clock"), false),
			plan.SharedObject(iface.ClockObjectID, false),
		},
		{
			"mutable random ref",
			ref(datatype(iface.FrameworkAddress, "random", "Random"), true),
			plan.SharedObject(iface.RandomObjectID, true),
		},
		{
			"deny list ref",
			ref(datatype(iface.FrameworkAddress, "deny_list", "DenyList"), false),
			plan.SharedObject(iface.DenyListObjectID, false),
		},
		{
			"coin sui by value",
			datatype(iface.FrameworkAddress, "coin", "Coin", datatype(iface.FrameworkAddress, "sui", "SUI")),
			plan.SenderCoin(0, true),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := policy.FillDirect(tt.typ)
			if !ok {
				t.Fatal("FillDirect not ok")
			}
			gotJSON, _ := got.MarshalJSON()
			wantJSON, _ := tt.want.MarshalJSON()
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("FillDirect = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestFillDirectUnsupported(t *testing.T) {
	policy := DefaultPolicy()
	tests := []struct {
		name string
		typ  iface.Type
	}{
		{"u128", prim(iface.KindU128)},
		{"u256", prim(iface.KindU256)},
		{"signer", prim(iface.KindSigner)},
		{"plain datatype", datatype("0x7", "m", "T")},
		{"coin of other type", datatype(iface.FrameworkAddress, "coin", "Coin", datatype("0x7", "m", "T"))},
		{"vector of datatypes", iface.Type{Kind: iface.KindVector, Elem: &iface.Type{Kind: iface.KindDatatype, Address: "0x7", Module: "m", Name: "T"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := policy.FillDirect(tt.typ); ok {
				t.Error("FillDirect ok, want unsupported")
			}
		})
	}
}

// widgetDoc models a package whose only key type is returned by one
// public constructor and consumed by one entry function.
func widgetDoc() *iface.Package {
	widget := datatype("0x7", "widgets", "Widget")
	return &iface.Package{
		PackageID: "0x7",
		Modules: map[string]iface.Module{
			"widgets": {
				Functions: map[string]iface.Function{
					"mint": {
						Visibility: "public",
						Params:     []iface.Type{prim(iface.KindU64), txContextRef()},
						Returns:    []iface.Type{widget},
					},
					"consume": {
						Visibility: "public",
						IsEntry:    true,
						Params:     []iface.Type{widget, txContextRef()},
					},
				},
				Structs: map[string]iface.Struct{
					"Widget": {Abilities: []string{"key"}},
				},
			},
		},
	}
}

func TestPlansForTargetProducerChain(t *testing.T) {
	doc := widgetDoc()
	plans, reasons := newEngine().PlansForTarget(doc, "widgets", "consume")
	if len(reasons) != 0 {
		t.Fatalf("reasons = %v, want none", reasons)
	}
	if len(plans) != 1 {
		t.Fatalf("got %d plans, want 1", len(plans))
	}

	p := plans[0]
	if len(p.Calls) != 2 {
		t.Fatalf("got %d calls, want 2: %s", len(p.Calls), p)
	}
	if p.Calls[0].Target != "0x7::widgets::mint" {
		t.Errorf("call 0 target = %q, want mint", p.Calls[0].Target)
	}
	if p.Calls[1].Target != "0x7::widgets::consume" {
		t.Errorf("call 1 target = %q, want consume", p.Calls[1].Target)
	}
	arg := p.Calls[1].Args[0]
	if arg.Result == nil || arg.Result.Call != 0 {
		t.Errorf("consume arg = %+v, want result of call 0", arg)
	}
}

func TestPlansForTargetDeterministic(t *testing.T) {
	doc := widgetDoc()
	e := newEngine()
	first, _ := e.PlansForTarget(doc, "widgets", "consume")
	second, _ := e.PlansForTarget(doc, "widgets", "consume")
	if len(first) != len(second) {
		t.Fatalf("plan counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].String() != second[i].String() {
			t.Errorf("plan %d differs: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestPlansForTargetRanksProducersLexicographically(t *testing.T) {
	widget := datatype("0x7", "m", "Widget")
	doc := &iface.Package{
		PackageID: "0x7",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"consume": {Visibility: "public", IsEntry: true, Params: []iface.Type{widget}},
					"mint_a":  {Visibility: "public", Returns: []iface.Type{widget}},
					"mint_b":  {Visibility: "public", Returns: []iface.Type{widget}},
				},
			},
		},
	}

	plans, _ := newEngine().PlansForTarget(doc, "m", "consume")
	if len(plans) != 2 {
		t.Fatalf("got %d plans, want 2", len(plans))
	}
	if got := plans[0].Calls[0].Target; got != "0x7::m::mint_a" {
		t.Errorf("first plan uses %q, want mint_a", got)
	}
	if got := plans[1].Calls[0].Target; got != "0x7::m::mint_b" {
		t.Errorf("second plan uses %q, want mint_b", got)
	}
}

// chainDoc needs three producer levels to satisfy the entry function.
func chainDoc() *iface.Package {
	a := datatype("0x9", "chain", "A")
	b := datatype("0x9", "chain", "B")
	c := datatype("0x9", "chain", "C")
	return &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"chain": {
				Functions: map[string]iface.Function{
					"finish": {Visibility: "public", IsEntry: true, Params: []iface.Type{a}},
					"mk_a":   {Visibility: "public", Params: []iface.Type{b}, Returns: []iface.Type{a}},
					"mk_b":   {Visibility: "public", Params: []iface.Type{c}, Returns: []iface.Type{b}},
					"mk_c":   {Visibility: "public", Returns: []iface.Type{c}},
				},
			},
		},
	}
}

func TestPlansForTargetDepthLimit(t *testing.T) {
	doc := chainDoc()

	deep := NewEngine(DefaultPolicy(), Limits{MaxDepth: 3})
	plans, _ := deep.PlansForTarget(doc, "chain", "finish")
	if len(plans) != 1 {
		t.Fatalf("depth 3: got %d plans, want 1", len(plans))
	}
	if n := len(plans[0].Calls); n != 4 {
		t.Errorf("depth 3: got %d calls, want 4", n)
	}

	shallow := NewEngine(DefaultPolicy(), Limits{MaxDepth: 2})
	plans, reasons := shallow.PlansForTarget(doc, "chain", "finish")
	if len(plans) != 0 {
		t.Fatalf("depth 2: got %d plans, want 0", len(plans))
	}
	if len(reasons) != 1 || reasons[0] != ReasonUnsupportedParam {
		t.Errorf("depth 2 reasons = %v, want unsupported_param_type", reasons)
	}
}

func TestPlansForTargetDepthMonotonic(t *testing.T) {
	widget := datatype("0x8", "m", "Widget")
	part := datatype("0x8", "m", "Part")
	doc := &iface.Package{
		PackageID: "0x8",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"consume":   {Visibility: "public", IsEntry: true, Params: []iface.Type{widget}},
					"mint_easy": {Visibility: "public", Params: []iface.Type{prim(iface.KindU64)}, Returns: []iface.Type{widget}},
					"mint_hard": {Visibility: "public", Params: []iface.Type{part}, Returns: []iface.Type{widget}},
					"mk_part":   {Visibility: "public", Returns: []iface.Type{part}},
				},
			},
		},
	}

	var rendered [][]string
	for depth := 1; depth <= 3; depth++ {
		e := NewEngine(DefaultPolicy(), Limits{MaxDepth: depth})
		plans, _ := e.PlansForTarget(doc, "m", "consume")
		keys := make([]string, len(plans))
		for i, p := range plans {
			keys[i] = p.String()
		}
		rendered = append(rendered, keys)
	}

	if len(rendered[0]) != 1 {
		t.Fatalf("depth 1: got %d plans, want 1 (mint_easy only)", len(rendered[0]))
	}
	if len(rendered[1]) != 2 {
		t.Fatalf("depth 2: got %d plans, want 2", len(rendered[1]))
	}
	for d := 1; d < len(rendered); d++ {
		prior := make(map[string]struct{}, len(rendered[d]))
		for _, k := range rendered[d] {
			prior[k] = struct{}{}
		}
		for _, k := range rendered[d-1] {
			if _, ok := prior[k]; !ok {
				t.Errorf("plan %q found at depth %d but not at depth %d", k, d, d+1)
			}
		}
	}
}

func TestPlansForTargetCycleTerminates(t *testing.T) {
	tt := datatype("0x9", "m", "T")
	doc := &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"use_t": {Visibility: "public", IsEntry: true, Params: []iface.Type{tt}},
					"dup":   {Visibility: "public", Params: []iface.Type{tt}, Returns: []iface.Type{tt}},
				},
			},
		},
	}

	plans, reasons := newEngine().PlansForTarget(doc, "m", "use_t")
	if len(plans) != 0 {
		t.Fatalf("got %d plans, want 0", len(plans))
	}
	if len(reasons) != 1 || reasons[0] != ReasonUnsupportedParam {
		t.Errorf("reasons = %v, want unsupported_param_type", reasons)
	}
}

func TestPlansForTargetGenericInstantiation(t *testing.T) {
	doc := &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"store": {
						Visibility: "public",
						IsEntry:    true,
						TypeParams: []iface.TypeParam{{}},
						Params:     []iface.Type{prim(iface.KindU64)},
					},
				},
			},
		},
	}

	plans, _ := newEngine().PlansForTarget(doc, "m", "store")
	if len(plans) != 1 {
		t.Fatalf("got %d plans, want 1", len(plans))
	}
	call := plans[0].Calls[0]
	if len(call.TypeArgs) != 1 || call.TypeArgs[0] != iface.SuiTypeTag {
		t.Errorf("TypeArgs = %v, want [%s]", call.TypeArgs, iface.SuiTypeTag)
	}
}

func TestPlansForTargetUnfillableGenerics(t *testing.T) {
	doc := &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"store": {
						Visibility: "public",
						IsEntry:    true,
						TypeParams: []iface.TypeParam{{}},
						Params:     []iface.Type{prim(iface.KindU64)},
					},
				},
			},
		},
	}

	policy := DefaultPolicy()
	policy.TypeArg = ""
	e := NewEngine(policy, Limits{})

	plans, reasons := e.PlansForTarget(doc, "m", "store")
	if len(plans) != 0 {
		t.Fatalf("got %d plans, want 0", len(plans))
	}
	if len(reasons) != 1 || reasons[0] != ReasonHasTypeParams {
		t.Errorf("reasons = %v, want has_type_params", reasons)
	}

	a := e.Analyze(doc)
	if a.ReasonCounts[ReasonHasTypeParams] != 1 {
		t.Errorf("has_type_params count = %d, want 1", a.ReasonCounts[ReasonHasTypeParams])
	}
	if p, _ := e.ExecutablePlan(doc); p != nil {
		t.Errorf("ExecutablePlan = %s, want nil", p)
	}
}

func TestAnalyzeGenericCoinParam(t *testing.T) {
	doc := &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"deposit": {
						Visibility: "public",
						IsEntry:    true,
						TypeParams: []iface.TypeParam{{}},
						Params: []iface.Type{
							datatype(iface.FrameworkAddress, "coin", "Coin", iface.Type{Kind: iface.KindTypeParam, Index: 0}),
							txContextRef(),
						},
					},
				},
			},
		},
	}

	a := newEngine().Analyze(doc)
	if len(a.OK) != 1 {
		t.Fatalf("OK = %+v, want deposit runnable", a.OK)
	}
	got, _ := a.OK[0].Args[0].MarshalJSON()
	want, _ := plan.SenderCoin(0, true).MarshalJSON()
	if string(got) != string(want) {
		t.Errorf("arg = %s, want %s", got, want)
	}
}

func TestExecutablePlanCombinesChains(t *testing.T) {
	a := datatype("0x9", "m", "A")
	b := datatype("0x9", "m", "B")
	doc := &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"consume_a": {Visibility: "public", IsEntry: true, Params: []iface.Type{a}},
					"consume_b": {Visibility: "public", IsEntry: true, Params: []iface.Type{b}},
					"mk_a":      {Visibility: "public", Returns: []iface.Type{a}},
					"mk_b":      {Visibility: "public", Returns: []iface.Type{b}},
				},
			},
		},
	}

	p, selected := newEngine().ExecutablePlan(doc)
	if p == nil {
		t.Fatal("ExecutablePlan returned nil")
	}
	if len(selected) != 2 {
		t.Fatalf("selected = %v, want 2 targets", selected)
	}
	if len(p.Calls) != 4 {
		t.Fatalf("got %d calls, want 4: %s", len(p.Calls), p)
	}

	// Second chain's result reference must point past the first chain.
	arg := p.Calls[3].Args[0]
	if arg.Result == nil || arg.Result.Call != 2 {
		t.Errorf("consume_b arg = %+v, want result of call 2", arg)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("combined plan invalid: %v", err)
	}
}

func TestExecutablePlanMaxCalls(t *testing.T) {
	doc := &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"e1": {Visibility: "public", IsEntry: true},
					"e2": {Visibility: "public", IsEntry: true},
					"e3": {Visibility: "public", IsEntry: true},
				},
			},
		},
	}

	e := NewEngine(DefaultPolicy(), Limits{MaxCalls: 2})
	p, selected := e.ExecutablePlan(doc)
	if p == nil || len(p.Calls) != 2 {
		t.Fatalf("got %v, want 2 calls", p)
	}
	if len(selected) != 2 {
		t.Errorf("selected = %v, want 2", selected)
	}
}

func TestExecutablePlanEmptyPackage(t *testing.T) {
	doc := &iface.Package{PackageID: "0x9", Modules: map[string]iface.Module{}}
	p, selected := newEngine().ExecutablePlan(doc)
	if p != nil || selected != nil {
		t.Errorf("got %v %v, want nil nil", p, selected)
	}
}

func TestAnalyzeClassifiesFunctions(t *testing.T) {
	doc := &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"good":       {Visibility: "public", IsEntry: true, Params: []iface.Type{prim(iface.KindU64), txContextRef()}},
					"not_entry":  {Visibility: "public", Params: []iface.Type{prim(iface.KindU64)}},
					"big_number": {Visibility: "public", IsEntry: true, Params: []iface.Type{prim(iface.KindU128)}},
				},
			},
		},
	}

	a := newEngine().Analyze(doc)
	if len(a.OK) != 1 || a.OK[0].Target != "0x9::m::good" {
		t.Fatalf("OK = %+v, want only good", a.OK)
	}
	if len(a.Rejected) != 2 {
		t.Fatalf("Rejected = %+v, want 2", a.Rejected)
	}
	if a.ReasonCounts[ReasonNotPublicEntry] != 1 {
		t.Errorf("not_public_entry count = %d, want 1", a.ReasonCounts[ReasonNotPublicEntry])
	}
	if a.ReasonCounts[ReasonUnsupportedParam] != 1 {
		t.Errorf("unsupported_param_type count = %d, want 1", a.ReasonCounts[ReasonUnsupportedParam])
	}
}

func TestAnalyzeNoCandidates(t *testing.T) {
	doc := &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"m": {Functions: map[string]iface.Function{
				"hidden": {Visibility: "private"},
			}},
		},
	}
	a := newEngine().Analyze(doc)
	if len(a.OK) != 0 {
		t.Fatalf("OK = %+v, want none", a.OK)
	}
	if a.ReasonCounts[ReasonNoCandidates] != 1 {
		t.Errorf("no_candidates = %d, want 1", a.ReasonCounts[ReasonNoCandidates])
	}
}

func TestViabilityCounts(t *testing.T) {
	doc := &iface.Package{
		PackageID: "0x9",
		Modules: map[string]iface.Module{
			"m": {
				Functions: map[string]iface.Function{
					"plain":     {Visibility: "public", IsEntry: true, Params: []iface.Type{prim(iface.KindU64)}},
					"generic":   {Visibility: "public", IsEntry: true, TypeParams: []iface.TypeParam{{}}},
					"hard_args": {Visibility: "public", IsEntry: true, Params: []iface.Type{prim(iface.KindU128)}},
					"internal":  {Visibility: "private"},
				},
			},
		},
	}

	v := newEngine().Viability(doc)
	if v.PublicEntryTotal != 3 {
		t.Errorf("PublicEntryTotal = %d, want 3", v.PublicEntryTotal)
	}
	if v.PublicEntryNoTypeParams != 2 {
		t.Errorf("PublicEntryNoTypeParams = %d, want 2", v.PublicEntryNoTypeParams)
	}
	if v.PublicEntrySupportedArgs != 1 {
		t.Errorf("PublicEntrySupportedArgs = %d, want 1", v.PublicEntrySupportedArgs)
	}
}

func TestStatsAccumulation(t *testing.T) {
	var s Stats
	e := newEngine()
	s.AddAnalysis(e.Analyze(widgetDoc()))
	s.AddFailedInterface()

	if s.PackagesTotal != 2 {
		t.Errorf("PackagesTotal = %d, want 2", s.PackagesTotal)
	}
	if s.PackagesFailedInterface != 1 {
		t.Errorf("PackagesFailedInterface = %d, want 1", s.PackagesFailedInterface)
	}
	if s.RejectionReasons[ReasonInterfaceInvalid] != 1 {
		t.Errorf("interface_missing_or_invalid = %d, want 1", s.RejectionReasons[ReasonInterfaceInvalid])
	}
}

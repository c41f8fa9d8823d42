package session

import (
	"fmt"
	"strings"

	"github.com/odvcencio/inhabit/pkg/iface"
)

// Fidelity selects how much of the interface the opening prompt
// discloses. Higher levels cost more tokens but spare the oracle
// refinement rounds.
type Fidelity string

const (
	// FidelityNames lists modules, functions, and structs by name only.
	FidelityNames Fidelity = "names"
	// FidelityEntry adds full signatures for public entry functions.
	FidelityEntry Fidelity = "entry"
	// FidelityPublic adds full signatures for every public function.
	FidelityPublic Fidelity = "public"
	// FidelityFocused discloses only the functions named in the
	// session config, with full signatures.
	FidelityFocused Fidelity = "focused"
)

// ParseFidelity validates a fidelity spelling from config or flags.
func ParseFidelity(s string) (Fidelity, error) {
	switch Fidelity(s) {
	case FidelityNames, FidelityEntry, FidelityPublic, FidelityFocused:
		return Fidelity(s), nil
	case "":
		return FidelityEntry, nil
	}
	return "", fmt.Errorf("unknown fidelity %q (names, entry, public, focused)", s)
}

// Summary renders the interface document at the given fidelity,
// disclosing at most maxFunctions function lines.
func Summary(doc *iface.Package, level Fidelity, maxFunctions int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "package %s\n", iface.NormalizeAddress(doc.PackageID))

	shown, omitted := 0, 0
	for _, modName := range doc.ModuleNames() {
		mod := doc.Modules[modName]
		fmt.Fprintf(&b, "module %s\n", modName)

		for _, structName := range mod.StructNames() {
			st := mod.Structs[structName]
			if len(st.Abilities) > 0 {
				fmt.Fprintf(&b, "  struct %s has %s\n", structName, strings.Join(st.Abilities, ", "))
			} else {
				fmt.Fprintf(&b, "  struct %s\n", structName)
			}
		}

		for _, fnName := range mod.FunctionNames() {
			fn := mod.Functions[fnName]
			if !disclose(fn, level) {
				continue
			}
			if shown >= maxFunctions {
				omitted++
				continue
			}
			shown++
			if level == FidelityNames {
				fmt.Fprintf(&b, "  fun %s\n", fnName)
			} else {
				fmt.Fprintf(&b, "  %s\n", renderFunction(fnName, fn))
			}
		}
	}
	if omitted > 0 {
		fmt.Fprintf(&b, "(%d more functions omitted)\n", omitted)
	}
	return b.String()
}

// disclose decides whether a function appears at the given fidelity.
// Name listings cover everything callable; signature levels narrow to
// what the level names.
func disclose(fn iface.Function, level Fidelity) bool {
	switch level {
	case FidelityEntry:
		return fn.Visibility == "public" && fn.IsEntry
	case FidelityPublic:
		return fn.IsPubliclyCallable()
	}
	return fn.IsPubliclyCallable()
}

// FocusedSummary answers a refinement request with full signatures
// for the named functions. Names may be "module::function" or fully
// qualified; unknown names are reported so the oracle can correct
// itself.
func FocusedSummary(doc *iface.Package, requests []string, maxFunctions int) string {
	var b strings.Builder
	b.WriteString("Requested signatures:\n")
	if len(requests) > maxFunctions {
		requests = requests[:maxFunctions]
	}
	for _, req := range requests {
		parts := strings.Split(strings.TrimSpace(req), "::")
		var modName, fnName string
		switch len(parts) {
		case 2:
			modName, fnName = parts[0], parts[1]
		case 3:
			modName, fnName = parts[1], parts[2]
		default:
			fmt.Fprintf(&b, "unknown function: %s\n", req)
			continue
		}
		fn, ok := doc.Function(modName, fnName)
		if !ok {
			fmt.Fprintf(&b, "unknown function: %s\n", req)
			continue
		}
		fmt.Fprintf(&b, "module %s: %s\n", modName, renderFunction(fnName, fn))
	}
	return b.String()
}

// renderFunction prints one signature in source-like notation,
// omitting the implicit trailing transaction context.
func renderFunction(name string, fn iface.Function) string {
	var b strings.Builder
	if fn.Visibility == "public" {
		b.WriteString("public ")
	}
	if fn.IsEntry {
		b.WriteString("entry ")
	}
	b.WriteString("fun ")
	b.WriteString(name)

	if n := len(fn.TypeParams); n > 0 {
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("T%d", i)
		}
		b.WriteString("<" + strings.Join(names, ", ") + ">")
	}

	params := fn.PlanParams()
	rendered := make([]string, len(params))
	for i, p := range params {
		rendered[i] = p.String()
	}
	b.WriteString("(" + strings.Join(rendered, ", ") + ")")

	switch len(fn.Returns) {
	case 0:
	case 1:
		b.WriteString(": " + fn.Returns[0].String())
	default:
		rets := make([]string, len(fn.Returns))
		for i, r := range fn.Returns {
			rets[i] = r.String()
		}
		b.WriteString(": (" + strings.Join(rets, ", ") + ")")
	}
	return b.String()
}

// initialPrompt assembles the opening user message: the disclosed
// interface, the target list, and the reply contract.
func initialPrompt(doc *iface.Package, targets []string, cfg Config) string {
	var b strings.Builder
	b.WriteString("You are planning one programmable transaction block against the package below. ")
	b.WriteString("Goal: make the transaction create objects whose types cover the target list.\n\n")

	var disclosed string
	if cfg.Fidelity == FidelityFocused {
		disclosed = FocusedSummary(doc, cfg.FocusFunctions, cfg.MaxFunctions)
	} else {
		disclosed = Summary(doc, cfg.Fidelity, cfg.MaxFunctions)
	}
	fmt.Fprintf(&b, "Interface (fidelity: %s):\n%s\n", cfg.Fidelity, disclosed)

	b.WriteString("Targets:\n")
	for _, t := range targets {
		b.WriteString("  " + t + "\n")
	}

	b.WriteString(`
Reply with exactly one JSON object and no prose. Accepted shapes:
- {"request_more": ["<module>::<function>", ...], "reason": "..."} to see full signatures before committing
- {"calls": [{"target": "<package>::<module>::<function>", "type_args": ["0x2::sui::SUI"], "args": [...]}]} to submit the plan

Argument bindings, one JSON object each:
  {"bool": false} {"u8": 1} {"u16": 1} {"u32": 1} {"u64": 1}
  {"u128": "1"} {"u256": "1"} {"address": "0x..."}
  {"vector_u8_hex": "0x01"} {"vector_bool": [false]} {"vector_u64": [1]} {"vector_address": ["0x..."]}
  {"result": {"call": 0}} references the first output of an earlier call
  {"shared_object": {"id": "0x6", "mutable": false}}
  {"imm_or_owned_object": {"id": "0x..."}}
  {"sender_sui_coin": {"index": 0, "exclude_gas": true}}

The implicit trailing &mut TxContext parameter is supplied by the
runtime; never bind it. Later calls may consume earlier calls'
results. Keep the plan as short as possible.
`)
	return b.String()
}

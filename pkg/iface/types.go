// Package iface models the typed interface document describing a
// package's callable surface: its modules, functions, and declared
// data types. Documents are produced by the external bytecode
// extractor and are treated as read-only input.
package iface

import (
	"fmt"
	"sort"
	"strings"
)

// Type kinds as they appear in interface documents.
const (
	KindBool      = "bool"
	KindU8        = "u8"
	KindU16       = "u16"
	KindU32       = "u32"
	KindU64       = "u64"
	KindU128      = "u128"
	KindU256      = "u256"
	KindAddress   = "address"
	KindSigner    = "signer"
	KindVector    = "vector"
	KindDatatype  = "datatype"
	KindRef       = "ref"
	KindTypeParam = "type_param"
)

// Type is one node in a Move type expression. Exactly the fields
// relevant to Kind are populated; the rest stay at their zero value.
type Type struct {
	Kind string `json:"kind"`

	// vector
	Elem *Type `json:"type,omitempty"`

	// ref
	Mutable bool  `json:"mutable,omitempty"`
	To      *Type `json:"to,omitempty"`

	// datatype
	Address  string `json:"address,omitempty"`
	Module   string `json:"module,omitempty"`
	Name     string `json:"name,omitempty"`
	TypeArgs []Type `json:"type_args,omitempty"`

	// type_param
	Index int `json:"index,omitempty"`
}

// TypeParam declares one generic parameter on a function or struct.
type TypeParam struct {
	Constraints []string `json:"constraints,omitempty"`
	IsPhantom   bool     `json:"is_phantom,omitempty"`
}

// Function declares one callable function.
type Function struct {
	Visibility string      `json:"visibility"`
	IsEntry    bool        `json:"is_entry"`
	TypeParams []TypeParam `json:"type_params,omitempty"`
	Params     []Type      `json:"params"`
	Returns    []Type      `json:"returns"`
}

// Field is a named struct field.
type Field struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Struct declares one data type with its abilities.
type Struct struct {
	Abilities  []string    `json:"abilities,omitempty"`
	TypeParams []TypeParam `json:"type_params,omitempty"`
	Fields     []Field     `json:"fields,omitempty"`
}

// Module groups the functions and structs declared under one name.
type Module struct {
	Functions map[string]Function `json:"functions"`
	Structs   map[string]Struct   `json:"structs"`
}

// Package is the root of an interface document.
type Package struct {
	PackageID string            `json:"package_id"`
	Modules   map[string]Module `json:"modules"`
}

// IsPubliclyCallable reports whether the function may appear as a
// transaction call target.
func (f Function) IsPubliclyCallable() bool {
	return f.Visibility == "public" || f.IsEntry
}

// PlanParams returns the parameters a plan must actually bind: the
// declared list with a trailing TxContext reference stripped, since
// the runtime injects that one itself.
func (f Function) PlanParams() []Type {
	params := f.Params
	if n := len(params); n > 0 && IsTxContextRef(params[n-1]) {
		params = params[:n-1]
	}
	return params
}

// HasKey reports whether the struct carries the key ability.
func (s Struct) HasKey() bool {
	for _, a := range s.Abilities {
		if a == "key" {
			return true
		}
	}
	return false
}

// Deref unwraps one level of reference. The second return is false
// when the type is not a reference.
func (t Type) Deref() (Type, bool) {
	if t.Kind == KindRef && t.To != nil {
		return *t.To, true
	}
	return t, false
}

// IsPrimitive reports whether the type is a scalar primitive.
func (t Type) IsPrimitive() bool {
	switch t.Kind {
	case KindBool, KindU8, KindU16, KindU32, KindU64, KindU128, KindU256, KindAddress, KindSigner:
		return true
	}
	return false
}

// DatatypeIs reports whether the type is the named datatype. The
// address is compared after normalization so short and padded forms
// of the same address match.
func (t Type) DatatypeIs(address, module, name string) bool {
	if t.Kind != KindDatatype {
		return false
	}
	return t.Module == module && t.Name == name &&
		NormalizeAddress(t.Address) == NormalizeAddress(address)
}

// String renders the type in the canonical textual form used in
// created-object type strings, e.g. "0x2::coin::Coin<0x2::sui::SUI>".
func (t Type) String() string {
	switch t.Kind {
	case KindVector:
		if t.Elem == nil {
			return "vector<>"
		}
		return "vector<" + t.Elem.String() + ">"
	case KindRef:
		inner := ""
		if t.To != nil {
			inner = t.To.String()
		}
		if t.Mutable {
			return "&mut " + inner
		}
		return "&" + inner
	case KindDatatype:
		base := fmt.Sprintf("%s::%s::%s", NormalizeAddress(t.Address), t.Module, t.Name)
		if len(t.TypeArgs) == 0 {
			return base
		}
		args := make([]string, len(t.TypeArgs))
		for i, a := range t.TypeArgs {
			args[i] = a.String()
		}
		return base + "<" + strings.Join(args, ",") + ">"
	case KindTypeParam:
		return fmt.Sprintf("T%d", t.Index)
	default:
		return t.Kind
	}
}

// ModuleNames returns module names in lexicographic order. All
// enumeration over a document goes through sorted accessors so
// repeated runs see the same order.
func (p *Package) ModuleNames() []string {
	names := make([]string, 0, len(p.Modules))
	for name := range p.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FunctionNames returns function names in lexicographic order.
func (m Module) FunctionNames() []string {
	names := make([]string, 0, len(m.Functions))
	for name := range m.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StructNames returns struct names in lexicographic order.
func (m Module) StructNames() []string {
	names := make([]string, 0, len(m.Structs))
	for name := range m.Structs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Function looks up a function by module and name.
func (p *Package) Function(module, name string) (Function, bool) {
	m, ok := p.Modules[module]
	if !ok {
		return Function{}, false
	}
	fn, ok := m.Functions[name]
	return fn, ok
}

// ResolveTarget resolves a fully-qualified "package::module::function"
// target string against this document. The package part must
// normalize to this document's package ID.
func (p *Package) ResolveTarget(target string) (Function, bool) {
	parts := strings.Split(target, "::")
	if len(parts) != 3 {
		return Function{}, false
	}
	if NormalizeAddress(parts[0]) != NormalizeAddress(p.PackageID) {
		return Function{}, false
	}
	return p.Function(parts[1], parts[2])
}

// KeyTypes returns the fully-qualified names of every struct carrying
// the key ability, sorted. These are the unit's scoring targets.
func (p *Package) KeyTypes() []string {
	addr := NormalizeAddress(p.PackageID)
	var targets []string
	for _, modName := range p.ModuleNames() {
		mod := p.Modules[modName]
		for _, structName := range mod.StructNames() {
			if mod.Structs[structName].HasKey() {
				targets = append(targets, fmt.Sprintf("%s::%s::%s", addr, modName, structName))
			}
		}
	}
	return targets
}

package search

import (
	"github.com/odvcencio/inhabit/pkg/iface"
	"github.com/odvcencio/inhabit/pkg/plan"
)

// Policy decides how parameters with no producer get filled: scalar
// defaults, the shared-object table, and the type argument used to
// instantiate generic functions. Callers that know better values for
// a corpus can override any field.
type Policy struct {
	// TypeArg instantiates every generic parameter. The framework SUI
	// type satisfies most ability constraints, so it makes a usable
	// default even though it is only a heuristic.
	TypeArg string

	// Address fills literal address parameters.
	Address string

	// SharedObjects maps a canonical base type to the ID of the
	// runtime singleton of that type. Parameters referencing one of
	// these are bound to the shared object directly.
	SharedObjects map[string]string
}

// suiSystemAddress is where the system package lives; its state
// object is a runtime singleton like the framework's Clock.
const suiSystemAddress = "0x3"

// DefaultPolicy returns the fill policy used by the stock engine.
func DefaultPolicy() Policy {
	shared := make(map[string]string)
	shared[sharedKey(iface.FrameworkAddress, "clock", "Clock")] = iface.ClockObjectID
	shared[sharedKey(iface.FrameworkAddress, "random", "Random")] = iface.RandomObjectID
	shared[sharedKey(iface.FrameworkAddress, "deny_list", "DenyList")] = iface.DenyListObjectID
	shared[sharedKey(iface.FrameworkAddress, "authenticator_state", "AuthenticatorState")] = iface.AuthenticatorStateObjectID
	shared[sharedKey(iface.FrameworkAddress, "coin_registry", "CoinRegistry")] = iface.CoinRegistryObjectID
	shared[sharedKey(suiSystemAddress, "sui_system", "SuiSystemState")] = iface.SystemStateObjectID
	return Policy{
		TypeArg:       iface.SuiTypeTag,
		Address:       iface.DefaultAddress,
		SharedObjects: shared,
	}
}

func sharedKey(address, module, name string) string {
	return iface.NormalizeAddress(address) + "::" + module + "::" + name
}

// TypeArgs returns n copies of the default type argument.
func (p Policy) TypeArgs(n int) []string {
	if n == 0 {
		return nil
	}
	args := make([]string, n)
	for i := range args {
		args[i] = p.TypeArg
	}
	return args
}

// fillsTypeParams reports whether the policy can instantiate a
// function carrying n type parameters.
func (p Policy) fillsTypeParams(n int) bool {
	return n == 0 || p.TypeArg != ""
}

// FillDirect binds a parameter that needs no producer call: scalar
// defaults, simple vectors, runtime singletons, and the sender's gas
// coin. The second return is false when the type has no direct
// binding; u128, u256, and signer parameters are deliberately left
// unfilled because default values for them are never meaningful.
func (p Policy) FillDirect(t iface.Type) (plan.Arg, bool) {
	switch t.Kind {
	case iface.KindRef:
		if t.To == nil || t.To.Kind != iface.KindDatatype {
			return plan.Arg{}, false
		}
		if id, ok := p.SharedObjects[sharedKey(t.To.Address, t.To.Module, t.To.Name)]; ok && len(t.To.TypeArgs) == 0 {
			return plan.SharedObject(id, t.Mutable), true
		}
		if isCoinSui(*t.To) {
			return plan.SenderCoin(0, true), true
		}
		return plan.Arg{}, false
	case iface.KindDatatype:
		if isCoinSui(t) {
			return plan.SenderCoin(0, true), true
		}
		return plan.Arg{}, false
	case iface.KindBool:
		return plan.Bool(false), true
	case iface.KindU8:
		return plan.Uint(plan.LitU8, 1), true
	case iface.KindU16:
		return plan.Uint(plan.LitU16, 1), true
	case iface.KindU32:
		return plan.Uint(plan.LitU32, 1), true
	case iface.KindU64:
		return plan.Uint(plan.LitU64, 1), true
	case iface.KindAddress:
		return plan.Address(p.Address), true
	case iface.KindVector:
		if t.Elem == nil {
			return plan.Arg{}, false
		}
		switch t.Elem.Kind {
		case iface.KindU8:
			return plan.VecU8Hex("0x01"), true
		case iface.KindBool:
			return plan.VecBool(false), true
		case iface.KindU16:
			return plan.VecUint(plan.LitVecU16, 1), true
		case iface.KindU32:
			return plan.VecUint(plan.LitVecU32, 1), true
		case iface.KindU64:
			return plan.VecUint(plan.LitVecU64, 1), true
		case iface.KindAddress:
			return plan.VecAddress(p.Address), true
		}
		return plan.Arg{}, false
	}
	return plan.Arg{}, false
}

// isCoinSui reports whether the type is exactly Coin<SUI>, the one
// generic instantiation the sender's own coins can satisfy.
func isCoinSui(t iface.Type) bool {
	if !t.DatatypeIs(iface.FrameworkAddress, "coin", "Coin") || len(t.TypeArgs) != 1 {
		return false
	}
	arg := t.TypeArgs[0]
	return arg.DatatypeIs(iface.FrameworkAddress, "sui", "SUI") && len(arg.TypeArgs) == 0
}

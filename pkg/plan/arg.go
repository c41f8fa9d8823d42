package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Literal kinds, named after their wire keys.
const (
	LitBool       = "bool"
	LitU8         = "u8"
	LitU16        = "u16"
	LitU32        = "u32"
	LitU64        = "u64"
	LitU128       = "u128"
	LitU256       = "u256"
	LitAddress    = "address"
	LitVecU8Hex   = "vector_u8_hex"
	LitVecBool    = "vector_bool"
	LitVecU16     = "vector_u16"
	LitVecU32     = "vector_u32"
	LitVecU64     = "vector_u64"
	LitVecAddress = "vector_address"
)

// ObjectKind discriminates external object handles.
type ObjectKind string

const (
	ObjectShared     ObjectKind = "shared_object"
	ObjectOwned      ObjectKind = "imm_or_owned_object"
	ObjectSenderCoin ObjectKind = "sender_sui_coin"
)

// Literal is a self-contained argument value. Kind selects which
// value field is meaningful.
type Literal struct {
	Kind      string
	Bool      bool
	Uint      uint64   // u8 through u64
	Big       string   // u128 and u256, decimal digits
	Address   string   // address, 0x-prefixed
	Hex       string   // vector_u8_hex payload, 0x-prefixed
	Bools     []bool   // vector_bool
	Uints     []uint64 // vector_u16/u32/u64
	Addresses []string // vector_address
}

// ResultRef points at the Output-th result of an earlier call.
type ResultRef struct {
	Call   int
	Output int
}

// ObjectRef names an externally supplied object handle.
type ObjectRef struct {
	Kind       ObjectKind
	ID         string // shared and owned objects
	Mutable    bool   // shared objects
	Index      int    // sender coin selection
	ExcludeGas bool   // sender coin selection
}

// Arg is one argument binding in a call. Exactly one arm is set. The
// wire form is a single-key JSON object; parsing happens here once,
// so downstream code only ever sees the closed variant.
type Arg struct {
	Literal *Literal
	Result  *ResultRef
	Object  *ObjectRef
}

// Constructors for the literal arms.

func Bool(v bool) Arg { return Arg{Literal: &Literal{Kind: LitBool, Bool: v}} }
func Uint(kind string, v uint64) Arg {
	return Arg{Literal: &Literal{Kind: kind, Uint: v}}
}
func Big(kind, digits string) Arg { return Arg{Literal: &Literal{Kind: kind, Big: digits}} }
func Address(addr string) Arg     { return Arg{Literal: &Literal{Kind: LitAddress, Address: addr}} }
func VecU8Hex(hex string) Arg     { return Arg{Literal: &Literal{Kind: LitVecU8Hex, Hex: hex}} }
func VecBool(vs ...bool) Arg      { return Arg{Literal: &Literal{Kind: LitVecBool, Bools: vs}} }
func VecUint(kind string, vs ...uint64) Arg {
	return Arg{Literal: &Literal{Kind: kind, Uints: vs}}
}
func VecAddress(addrs ...string) Arg {
	return Arg{Literal: &Literal{Kind: LitVecAddress, Addresses: addrs}}
}

// Result references the first output of an earlier call.
func Result(call int) Arg { return Arg{Result: &ResultRef{Call: call}} }

// ResultAt references the output-th result of an earlier call.
func ResultAt(call, output int) Arg { return Arg{Result: &ResultRef{Call: call, Output: output}} }

// SharedObject references a shared object by ID.
func SharedObject(id string, mutable bool) Arg {
	return Arg{Object: &ObjectRef{Kind: ObjectShared, ID: id, Mutable: mutable}}
}

// OwnedObject references an owned or immutable object by ID.
func OwnedObject(id string) Arg {
	return Arg{Object: &ObjectRef{Kind: ObjectOwned, ID: id}}
}

// SenderCoin selects the index-th gas-denominated coin owned by the
// sender, optionally excluding the coin funding the transaction.
func SenderCoin(index int, excludeGas bool) Arg {
	return Arg{Object: &ObjectRef{Kind: ObjectSenderCoin, Index: index, ExcludeGas: excludeGas}}
}

// armCount reports how many arms are populated.
func (a Arg) armCount() int {
	n := 0
	if a.Literal != nil {
		n++
	}
	if a.Result != nil {
		n++
	}
	if a.Object != nil {
		n++
	}
	return n
}

// MarshalJSON renders the single-key wire form.
func (a Arg) MarshalJSON() ([]byte, error) {
	if a.armCount() != 1 {
		return nil, fmt.Errorf("argument binding must have exactly one arm, has %d", a.armCount())
	}

	switch {
	case a.Result != nil:
		if a.Result.Output == 0 {
			return json.Marshal(map[string]int{"result": a.Result.Call})
		}
		return json.Marshal(map[string]map[string]int{
			"result": {"call": a.Result.Call, "output": a.Result.Output},
		})

	case a.Object != nil:
		switch a.Object.Kind {
		case ObjectShared:
			return json.Marshal(map[string]any{
				string(ObjectShared): map[string]any{"id": a.Object.ID, "mutable": a.Object.Mutable},
			})
		case ObjectOwned:
			return json.Marshal(map[string]any{
				string(ObjectOwned): map[string]any{"id": a.Object.ID},
			})
		case ObjectSenderCoin:
			return json.Marshal(map[string]any{
				string(ObjectSenderCoin): map[string]any{"index": a.Object.Index, "exclude_gas": a.Object.ExcludeGas},
			})
		default:
			return nil, fmt.Errorf("unknown object kind %q", a.Object.Kind)
		}

	default:
		lit := a.Literal
		var value any
		switch lit.Kind {
		case LitBool:
			value = lit.Bool
		case LitU8, LitU16, LitU32, LitU64:
			value = lit.Uint
		case LitU128, LitU256:
			value = lit.Big
		case LitAddress:
			value = lit.Address
		case LitVecU8Hex:
			value = lit.Hex
		case LitVecBool:
			value = emptyNotNil(lit.Bools)
		case LitVecU16, LitVecU32, LitVecU64:
			value = emptyNotNil(lit.Uints)
		case LitVecAddress:
			value = emptyNotNil(lit.Addresses)
		default:
			return nil, fmt.Errorf("unknown literal kind %q", lit.Kind)
		}
		return json.Marshal(map[string]any{lit.Kind: value})
	}
}

func emptyNotNil[T any](vs []T) []T {
	if vs == nil {
		return []T{}
	}
	return vs
}

// UnmarshalJSON parses the wire form, coercing the loose spellings an
// oracle tends to produce: stringified integers become numbers and a
// bare hex body gains its 0x prefix. Anything that cannot be coerced
// is a parse error, not a silent default.
func (a *Arg) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("argument binding must be an object: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("argument binding must have exactly one key, has %d", len(raw))
	}

	for key, val := range raw {
		switch key {
		case LitBool:
			var v bool
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("bool binding: %w", err)
			}
			*a = Bool(v)

		case LitU8, LitU16, LitU32, LitU64:
			v, err := coerceUint(val)
			if err != nil {
				return fmt.Errorf("%s binding: %w", key, err)
			}
			*a = Uint(key, v)

		case LitU128, LitU256:
			digits, err := coerceBig(val)
			if err != nil {
				return fmt.Errorf("%s binding: %w", key, err)
			}
			*a = Big(key, digits)

		case LitAddress:
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				return fmt.Errorf("address binding: %w", err)
			}
			addr, err := coerceAddress(s)
			if err != nil {
				return fmt.Errorf("address binding: %w", err)
			}
			*a = Address(addr)

		case LitVecU8Hex:
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				return fmt.Errorf("vector_u8_hex binding: %w", err)
			}
			hex, err := coerceHex(s)
			if err != nil {
				return fmt.Errorf("vector_u8_hex binding: %w", err)
			}
			*a = VecU8Hex(hex)

		case LitVecBool:
			var vs []bool
			if err := json.Unmarshal(val, &vs); err != nil {
				return fmt.Errorf("vector_bool binding: %w", err)
			}
			*a = Arg{Literal: &Literal{Kind: LitVecBool, Bools: vs}}

		case LitVecU16, LitVecU32, LitVecU64:
			var rawVals []json.RawMessage
			if err := json.Unmarshal(val, &rawVals); err != nil {
				return fmt.Errorf("%s binding: %w", key, err)
			}
			vs := make([]uint64, len(rawVals))
			for i, rv := range rawVals {
				v, err := coerceUint(rv)
				if err != nil {
					return fmt.Errorf("%s binding element %d: %w", key, i, err)
				}
				vs[i] = v
			}
			*a = Arg{Literal: &Literal{Kind: key, Uints: vs}}

		case LitVecAddress:
			var ss []string
			if err := json.Unmarshal(val, &ss); err != nil {
				return fmt.Errorf("vector_address binding: %w", err)
			}
			addrs := make([]string, len(ss))
			for i, s := range ss {
				addr, err := coerceAddress(s)
				if err != nil {
					return fmt.Errorf("vector_address binding element %d: %w", i, err)
				}
				addrs[i] = addr
			}
			*a = Arg{Literal: &Literal{Kind: LitVecAddress, Addresses: addrs}}

		case "result":
			ref, err := parseResultRef(val)
			if err != nil {
				return err
			}
			*a = Arg{Result: ref}

		case string(ObjectShared):
			var obj struct {
				ID      string `json:"id"`
				Mutable bool   `json:"mutable"`
			}
			if err := json.Unmarshal(val, &obj); err != nil {
				return fmt.Errorf("shared_object binding: %w", err)
			}
			if obj.ID == "" {
				return fmt.Errorf("shared_object binding missing id")
			}
			*a = SharedObject(obj.ID, obj.Mutable)

		case string(ObjectOwned):
			var obj struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(val, &obj); err != nil {
				return fmt.Errorf("imm_or_owned_object binding: %w", err)
			}
			if obj.ID == "" {
				return fmt.Errorf("imm_or_owned_object binding missing id")
			}
			*a = OwnedObject(obj.ID)

		case string(ObjectSenderCoin):
			var obj struct {
				Index      int  `json:"index"`
				ExcludeGas bool `json:"exclude_gas"`
			}
			if err := json.Unmarshal(val, &obj); err != nil {
				return fmt.Errorf("sender_sui_coin binding: %w", err)
			}
			if obj.Index < 0 {
				return fmt.Errorf("sender_sui_coin binding has negative index")
			}
			*a = SenderCoin(obj.Index, obj.ExcludeGas)

		default:
			return fmt.Errorf("unknown argument binding %q", key)
		}
	}

	return nil
}

func parseResultRef(val json.RawMessage) (*ResultRef, error) {
	// Plain number: the first output of that call.
	if v, err := coerceUint(val); err == nil {
		return &ResultRef{Call: int(v)}, nil
	}

	var obj struct {
		Call   *int `json:"call"`
		Output int  `json:"output"`
	}
	if err := json.Unmarshal(val, &obj); err != nil || obj.Call == nil {
		return nil, fmt.Errorf("result binding must be a call index or {call, output} object")
	}
	if *obj.Call < 0 || obj.Output < 0 {
		return nil, fmt.Errorf("result binding indices must be non-negative")
	}
	return &ResultRef{Call: *obj.Call, Output: obj.Output}, nil
}

// coerceUint accepts a JSON number or a decimal string.
func coerceUint(val json.RawMessage) (uint64, error) {
	s := strings.TrimSpace(string(val))
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, fmt.Errorf("empty integer")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer: %q", s)
	}
	return v, nil
}

// coerceBig accepts a JSON number or decimal string and keeps it as
// digits, since u128/u256 exceed uint64 range.
func coerceBig(val json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(val))
	s = strings.Trim(s, `"`)
	if s == "" {
		return "", fmt.Errorf("empty integer")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("not an unsigned integer: %q", s)
		}
	}
	return s, nil
}

// coerceAddress normalizes a hex address, adding the 0x prefix when
// missing.
func coerceAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty address")
	}
	body := strings.TrimPrefix(strings.ToLower(s), "0x")
	if body == "" || !isHex(body) {
		return "", fmt.Errorf("not a hex address: %q", s)
	}
	return "0x" + body, nil
}

// coerceHex normalizes a hex byte string, adding the 0x prefix when
// missing.
func coerceHex(s string) (string, error) {
	s = strings.TrimSpace(s)
	body := strings.TrimPrefix(strings.ToLower(s), "0x")
	if body == "" || !isHex(body) || len(body)%2 != 0 {
		return "", fmt.Errorf("not a hex byte string: %q", s)
	}
	return "0x" + body, nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

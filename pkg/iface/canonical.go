package iface

import "strings"

// DefaultAddress is the placeholder address used for literal address
// arguments that have no natural value.
const DefaultAddress = "0x1111111111111111111111111111111111111111111111111111111111111111"

// FrameworkAddress is the canonical address of the system framework
// package.
const FrameworkAddress = "0x0000000000000000000000000000000000000000000000000000000000000002"

// SuiTypeTag is the default type argument used to instantiate generic
// parameters when no better choice is known.
const SuiTypeTag = FrameworkAddress + "::sui::SUI"

// Well-known singleton shared objects provided by the runtime.
const (
	ClockObjectID              = "0x6"
	SystemStateObjectID        = "0x5"
	AuthenticatorStateObjectID = "0x7"
	RandomObjectID             = "0x8"
	DenyListObjectID           = "0x403"
	CoinRegistryObjectID       = "0xc"
)

// NormalizeAddress lowercases a hex address and pads it to the full
// 32-byte form. Strings without the 0x prefix and hex bodies longer
// than 64 digits are returned as-is (lowercased) rather than guessed
// at.
func NormalizeAddress(addr string) string {
	a := strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(a, "0x") {
		return a
	}
	hexPart := a[2:]
	if hexPart == "" {
		return "0x" + strings.Repeat("0", 64)
	}
	if len(hexPart) > 64 {
		return a
	}
	return "0x" + strings.Repeat("0", 64-len(hexPart)) + hexPart
}

// CanonicalBaseType strips generic type arguments and normalizes the
// address part of a fully-qualified type string. "0x2::coin::Coin<T>"
// and the padded form of the same address compare equal afterwards.
// Strings that do not look like a qualified type are returned
// unchanged.
func CanonicalBaseType(typeStr string) string {
	s := strings.TrimSpace(typeStr)
	if i := strings.Index(s, "<"); i != -1 {
		s = s[:i]
	}
	parts := strings.Split(s, "::")
	if len(parts) < 3 {
		return s
	}
	return NormalizeAddress(parts[0]) + "::" + parts[1] + "::" + parts[2]
}

// IsTxContextRef reports whether the type is a reference to the
// runtime's tx_context::TxContext. Such trailing parameters are
// injected by the runtime and never appear as plan arguments.
func IsTxContextRef(t Type) bool {
	inner, ok := t.Deref()
	if !ok {
		return false
	}
	return inner.DatatypeIs(FrameworkAddress, "tx_context", "TxContext")
}

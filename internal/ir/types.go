// Completion: 100% - IR types complete
package ir

import (
	"fmt"
	"strings"
)

// Type is the machine-level type of an IR value. Every value occupies one
// 64-bit register; narrower integers are kept sign- or zero-extended and
// f64 is kept as raw bits.
type Type int

const (
	TypeNone Type = iota
	TypeBox       // tagged word
	TypePInt      // pointer-sized integer
	TypeRPtr      // raw pointer
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeF64
	TypeBool
)

var typeNames = []string{
	TypeNone: "none",
	TypeBox:  "box",
	TypePInt: "pint",
	TypeRPtr: "rptr",
	TypeI8:   "i8",
	TypeI16:  "i16",
	TypeI32:  "i32",
	TypeI64:  "i64",
	TypeU8:   "u8",
	TypeU16:  "u16",
	TypeU32:  "u32",
	TypeU64:  "u64",
	TypeF64:  "f64",
	TypeBool: "bool",
}

func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType parses a type name such as "pint" or "u8"
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name == strings.ToLower(s) {
			return Type(i), nil
		}
	}
	return TypeNone, fmt.Errorf("unknown IR type %q", s)
}

// Size returns the width in bytes
func (t Type) Size() int {
	switch t {
	case TypeI8, TypeU8, TypeBool:
		return 1
	case TypeI16, TypeU16:
		return 2
	case TypeI32, TypeU32:
		return 4
	case TypeNone:
		return 0
	default:
		return 8
	}
}

// IsInt reports whether integer arithmetic is defined on t
func (t Type) IsInt() bool {
	switch t {
	case TypePInt, TypeI8, TypeI16, TypeI32, TypeI64, TypeU8, TypeU16, TypeU32, TypeU64:
		return true
	}
	return false
}

// IsSigned reports whether t sign-extends
func (t Type) IsSigned() bool {
	switch t {
	case TypePInt, TypeI8, TypeI16, TypeI32, TypeI64:
		return true
	}
	return false
}

// IsWord reports whether t is one of the pointer-sized bit patterns
// that icast may reinterpret freely
func (t Type) IsWord() bool {
	switch t {
	case TypeBox, TypePInt, TypeRPtr, TypeI64, TypeU64:
		return true
	}
	return false
}

// IsPointer reports whether t may be used as a load/store base
func (t Type) IsPointer() bool {
	return t == TypeRPtr || t == TypePInt || t == TypeBox
}

package box

import (
	"fmt"
	"strings"
)

// Tag is the dynamic type of a boxed word
type Tag int

const (
	TagInt Tag = iota
	TagOther
	TagString
	TagFloat
	TagArray
	TagFunction
	TagObject
)

var tagNames = map[Tag]string{
	TagInt:      "int",
	TagOther:    "other",
	TagString:   "string",
	TagFloat:    "float",
	TagArray:    "array",
	TagFunction: "function",
	TagObject:   "object",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// IsRef reports whether words with this tag carry an address
func (t Tag) IsRef() bool {
	switch t {
	case TagString, TagFloat, TagArray, TagFunction, TagObject:
		return true
	}
	return false
}

// ParseTag parses a tag name such as "int" or "array"
func ParseTag(s string) (Tag, error) {
	for t, name := range tagNames {
		if name == strings.ToLower(s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTag, s)
}

// Value is the host-side view of a boxed word. Conversion to and from words
// happens only through a Scheme.
type Value interface {
	isValue()
	String() string
}

// Int is a boxed integer
type Int int64

// Ref is a reference to memory owned by the runtime
type Ref struct {
	Kind Tag
	Addr uintptr
}

// Bool is a boxed boolean
type Bool bool

// Null is the null constant
type Null struct{}

// Undefined is the undefined constant
type Undefined struct{}

func (Int) isValue()       {}
func (Ref) isValue()       {}
func (Bool) isValue()      {}
func (Null) isValue()      {}
func (Undefined) isValue() {}

func (v Int) String() string  { return fmt.Sprintf("%d", int64(v)) }
func (v Ref) String() string  { return fmt.Sprintf("<%s %#x>", v.Kind, v.Addr) }
func (v Bool) String() string { return fmt.Sprintf("%t", bool(v)) }
func (Null) String() string      { return "null" }
func (Undefined) String() string { return "undefined" }

// Encode converts a host value to its boxed word
func (s *Scheme) Encode(v Value) (Word, error) {
	switch v := v.(type) {
	case Int:
		return s.Box(int64(v), TagInt)
	case Ref:
		if !v.Kind.IsRef() {
			return 0, fmt.Errorf("%w: %s is not a reference tag", ErrUnknownTag, v.Kind)
		}
		return s.Box(int64(v.Addr), v.Kind)
	case Bool:
		return s.FromBool(bool(v)), nil
	case Null:
		return s.Null(), nil
	case Undefined:
		return s.Undefined(), nil
	case nil:
		return 0, fmt.Errorf("%w: nil value", ErrUnknownTag)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownTag, v)
	}
}

// Decode converts a boxed word to its host value
func (s *Scheme) Decode(w Word) (Value, error) {
	t, err := s.TagOf(w)
	if err != nil {
		return nil, err
	}
	n, err := s.Unbox(w, t)
	if err != nil {
		return nil, err
	}
	switch {
	case t == TagInt:
		return Int(n), nil
	case t == TagOther:
		switch uint64(n) {
		case specialFalse:
			return Bool(false), nil
		case specialTrue:
			return Bool(true), nil
		case specialNull:
			return Null{}, nil
		case specialUndefined:
			return Undefined{}, nil
		}
		return nil, fmt.Errorf("%w: special id %d", ErrUnknownTag, n)
	default:
		return Ref{Kind: t, Addr: uintptr(n)}, nil
	}
}

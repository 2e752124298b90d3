package bridge

import (
	"fmt"

	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/ir"
)

// Spec says how one argument or result crosses the bridge: what the host
// passes or gets back, and what the generated code sees
type Spec int

const (
	// IntAsBox is a host integer that the code sees boxed
	IntAsBox Spec = iota
	// IntAsInt is a host integer passed through as a raw pint
	IntAsInt
	// PtrAsPtr is a host reference passed through as a raw pointer
	PtrAsPtr
	// PtrAsBox is a host reference that the code sees as a boxed reference
	PtrAsBox
)

func (s Spec) String() string {
	switch s {
	case IntAsBox:
		return "IntAsBox"
	case IntAsInt:
		return "IntAsInt"
	case PtrAsPtr:
		return "PtrAsPtr"
	case PtrAsBox:
		return "PtrAsBox"
	default:
		return fmt.Sprintf("Spec(%d)", int(s))
	}
}

// IRType is the type the generated code uses for the value
func (s Spec) IRType() ir.Type {
	switch s {
	case IntAsBox, PtrAsBox:
		return ir.TypeBox
	case IntAsInt:
		return ir.TypePInt
	case PtrAsPtr:
		return ir.TypeRPtr
	default:
		return ir.TypeNone
	}
}

func (s Spec) isInt() bool { return s == IntAsBox || s == IntAsInt }

// toWord converts a host value to the word the code receives
func (s Spec) toWord(scheme *box.Scheme, v box.Value) (uint64, error) {
	if s.isInt() {
		n, ok := v.(box.Int)
		if !ok {
			return 0, fmt.Errorf("%w: %s needs an integer, got %v", ErrBridge, s, v)
		}
		if s == IntAsInt {
			return uint64(n), nil
		}
		w, err := scheme.Encode(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrBridge, err)
		}
		return uint64(w), nil
	}
	r, ok := v.(box.Ref)
	if !ok {
		return 0, fmt.Errorf("%w: %s needs a reference, got %v", ErrBridge, s, v)
	}
	if s == PtrAsPtr {
		return uint64(r.Addr), nil
	}
	w, err := scheme.Encode(r)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBridge, err)
	}
	return uint64(w), nil
}

// fromWord converts the word the code returned to a host value. A boxed
// integer result may also decode to another boxed value, such as undefined
// after an overflow. Raw pointers come back as object references.
func (s Spec) fromWord(scheme *box.Scheme, w uint64) (box.Value, error) {
	switch s {
	case IntAsInt:
		return box.Int(int64(w)), nil
	case PtrAsPtr:
		return box.Ref{Kind: box.TagObject, Addr: uintptr(w)}, nil
	case IntAsBox:
		v, err := scheme.Decode(box.Word(w))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBridge, err)
		}
		return v, nil
	default:
		v, err := scheme.Decode(box.Word(w))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBridge, err)
		}
		if _, ok := v.(box.Ref); !ok {
			return nil, fmt.Errorf("%w: %s result %v is not a reference", ErrBridge, s, v)
		}
		return v, nil
	}
}

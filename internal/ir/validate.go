package ir

import (
	"errors"
	"fmt"

	"github.com/xyproto/tachyon/internal/box"
)

// ErrInvalidIR is wrapped by every ValidationError
var ErrInvalidIR = errors.New("invalid IR")

// ValidationError locates a malformed instruction or block
type ValidationError struct {
	Func  string
	Block string
	Instr string
	Msg   string
}

func (e *ValidationError) Error() string {
	loc := e.Func
	if e.Block != "" {
		loc += ":" + e.Block
	}
	if e.Instr != "" {
		return fmt.Sprintf("%s: %s: %s", loc, e.Instr, e.Msg)
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidIR }

// Validate checks every function of the module
func (m *Module) Validate() error {
	names := make(map[string]bool)
	for _, f := range m.Reachable() {
		if names[f.Name] {
			return &ValidationError{Func: f.Name, Msg: "duplicate function name"}
		}
		names[f.Name] = true
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks block structure, phi placement and operand types.
//
// Blocks that start with phis may only be entered by Jump, so phi moves
// always have a single-successor edge to live on.
func (f *Function) Validate() error {
	fail := func(b *Block, in *Instr, format string, args ...any) error {
		e := &ValidationError{Func: f.Name, Msg: fmt.Sprintf(format, args...)}
		if b != nil {
			e.Block = b.Name
		}
		if in != nil {
			e.Instr = in.Format()
		}
		return e
	}

	if len(f.Blocks) == 0 {
		return fail(nil, nil, "function has no blocks")
	}
	own := make(map[*Block]bool, len(f.Blocks))
	defined := make(map[*Instr]bool)
	for _, b := range f.Blocks {
		own[b] = true
		for _, in := range b.Instrs {
			defined[in] = true
		}
	}
	preds := f.Preds()
	if len(preds[f.Entry()]) > 0 {
		return fail(f.Entry(), nil, "entry block has predecessors")
	}

	for _, b := range f.Blocks {
		if len(b.Instrs) == 0 {
			return fail(b, nil, "empty block")
		}
		for k, in := range b.Instrs {
			last := k == len(b.Instrs)-1
			if in.IsTerminator() != last {
				if last {
					return fail(b, in, "block does not end in a terminator")
				}
				return fail(b, in, "terminator in the middle of a block")
			}
			if in.Op == OpPhi && k >= len(b.Phis()) {
				return fail(b, in, "phi after a non-phi instruction")
			}
			for _, t := range in.Targets {
				if t == nil {
					return fail(b, in, "missing branch target")
				}
				if !own[t] {
					return fail(b, in, "branch to block %s of another function", t.Name)
				}
			}
			for _, v := range in.Args {
				switch v := v.(type) {
				case nil:
					return fail(b, in, "nil operand")
				case *Instr:
					if !defined[v] {
						return fail(b, in, "operand %s is not defined in this function", v)
					}
					if v.Typ == TypeNone {
						return fail(b, in, "operand %s has no value", v)
					}
				case *Arg:
					if v.Func != f {
						return fail(b, in, "argument %s belongs to another function", v)
					}
				}
			}
			if err := checkTypes(in, f); err != "" {
				return fail(b, in, "%s", err)
			}
		}
		if phis := b.Phis(); len(phis) > 0 {
			for _, p := range preds[b] {
				if p.Terminator().Op != OpJump {
					return fail(b, nil, "phi block entered from %s by %s, want jump", p.Name, p.Terminator().Op)
				}
			}
			for _, phi := range phis {
				if len(phi.Incoming) != len(preds[b]) {
					return fail(b, phi, "phi has %d incoming values for %d predecessors", len(phi.Incoming), len(preds[b]))
				}
				for _, p := range preds[b] {
					if _, ok := phi.IncomingFrom(p); !ok {
						return fail(b, phi, "no incoming value from %s", p.Name)
					}
				}
			}
		}
	}
	return nil
}

// checkTypes returns a description of the first type error, or ""
func checkTypes(in *Instr, f *Function) string {
	argc := func(n int) string {
		if len(in.Args) != n {
			return fmt.Sprintf("%s takes %d operands, got %d", in.Op, n, len(in.Args))
		}
		return ""
	}
	targets := func(n int) string {
		if len(in.Targets) != n {
			return fmt.Sprintf("%s takes %d targets, got %d", in.Op, n, len(in.Targets))
		}
		return ""
	}
	sameInt := func() string {
		if s := argc(2); s != "" {
			return s
		}
		x, y := in.Args[0].Type(), in.Args[1].Type()
		if !x.IsInt() || x != y {
			return fmt.Sprintf("%s needs two operands of one integer type, got %s and %s", in.Op, x, y)
		}
		if in.Typ != x {
			return fmt.Sprintf("%s result type %s differs from operand type %s", in.Op, in.Typ, x)
		}
		return ""
	}

	switch {
	case in.Op.IsBinary():
		return sameInt()
	case in.Op.IsOverflow():
		if s := targets(2); s != "" {
			return s
		}
		if s := sameInt(); s != "" {
			return s
		}
		if in.Typ != TypePInt && in.Typ != TypeI64 {
			return fmt.Sprintf("%s needs 64-bit operands (pint or i64), got %s", in.Op, in.Typ)
		}
	case in.Op.IsCompare():
		if s := argc(2); s != "" {
			return s
		}
		x, y := in.Args[0].Type(), in.Args[1].Type()
		if x != y || x == TypeNone || x == TypeF64 {
			return fmt.Sprintf("cannot compare %s with %s", x, y)
		}
	}

	switch in.Op {
	case OpLoad:
		if s := argc(2); s != "" {
			return s
		}
		if !in.Args[0].Type().IsPointer() || in.Args[1].Type() != TypePInt {
			return fmt.Sprintf("load needs (pointer, pint), got (%s, %s)", in.Args[0].Type(), in.Args[1].Type())
		}
		if in.Typ == TypeNone {
			return "load of type none"
		}
	case OpStore:
		if s := argc(3); s != "" {
			return s
		}
		if !in.Args[0].Type().IsPointer() || in.Args[1].Type() != TypePInt {
			return fmt.Sprintf("store needs (pointer, pint, value), got (%s, %s, ...)", in.Args[0].Type(), in.Args[1].Type())
		}
		if in.Width == TypeNone || in.Args[2].Type().Size() < in.Width.Size() {
			return fmt.Sprintf("cannot store %s as %s", in.Args[2].Type(), in.Width)
		}
	case OpBox:
		if s := argc(1); s != "" {
			return s
		}
		t := in.Args[0].Type()
		switch {
		case in.Tag == box.TagInt || in.Tag == box.TagOther:
			if !t.IsInt() {
				return fmt.Sprintf("cannot box %s as %s", t, in.Tag)
			}
		case in.Tag.IsRef():
			if t != TypeRPtr && t != TypePInt {
				return fmt.Sprintf("cannot box %s as %s", t, in.Tag)
			}
		default:
			return fmt.Sprintf("unknown tag %s", in.Tag)
		}
	case OpUnbox:
		if s := argc(1); s != "" {
			return s
		}
		if in.Args[0].Type() != TypeBox {
			return fmt.Sprintf("unbox of non-box %s", in.Args[0].Type())
		}
		if !in.Tag.IsRef() && in.Tag != box.TagInt && in.Tag != box.TagOther {
			return fmt.Sprintf("unknown tag %s", in.Tag)
		}
	case OpICast:
		if s := argc(1); s != "" {
			return s
		}
		from := in.Args[0].Type()
		ok := func(t Type) bool { return t.IsInt() || t.IsWord() || t == TypeBool }
		if !ok(from) || !ok(in.Typ) {
			return fmt.Sprintf("icast from %s to %s", from, in.Typ)
		}
	case OpIToF:
		if s := argc(1); s != "" {
			return s
		}
		if !in.Args[0].Type().IsInt() {
			return fmt.Sprintf("itof of %s", in.Args[0].Type())
		}
	case OpFToI:
		if s := argc(1); s != "" {
			return s
		}
		if in.Args[0].Type() != TypeF64 || !in.Typ.IsInt() {
			return fmt.Sprintf("ftoi from %s to %s", in.Args[0].Type(), in.Typ)
		}
	case OpCall:
		if in.Callee == nil {
			return "call without callee"
		}
		if len(in.Args) != len(in.Callee.Params) {
			return fmt.Sprintf("%s takes %d arguments, got %d", in.Callee.Name, len(in.Callee.Params), len(in.Args))
		}
		for k, a := range in.Args {
			if a.Type() != in.Callee.Params[k].Typ {
				return fmt.Sprintf("argument %d of %s: want %s, got %s", k, in.Callee.Name, in.Callee.Params[k].Typ, a.Type())
			}
		}
		if in.Typ != in.Callee.Ret {
			return fmt.Sprintf("call result type %s, callee returns %s", in.Typ, in.Callee.Ret)
		}
	case OpPhi:
		for _, a := range in.Args {
			if a.Type() != in.Typ {
				return fmt.Sprintf("phi of %s has %s operand", in.Typ, a.Type())
			}
		}
	case OpIf:
		if s := argc(1); s != "" {
			return s
		}
		if s := targets(2); s != "" {
			return s
		}
		t := in.Args[0].Type()
		if t != TypeBool && !t.IsInt() {
			return fmt.Sprintf("if on %s", t)
		}
	case OpJump:
		return targets(1)
	case OpRet:
		switch {
		case f.Ret == TypeNone && len(in.Args) != 0:
			return "ret with a value from a function returning none"
		case f.Ret != TypeNone && (len(in.Args) != 1 || in.Args[0].Type() != f.Ret):
			return fmt.Sprintf("function returns %s", f.Ret)
		}
	}
	return ""
}

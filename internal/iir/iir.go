// Completion: 100% - Inline IR catalog complete
package iir

import (
	"errors"
	"fmt"
	"sort"

	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/ir"
)

// Inline IR: the low-level instruction vocabulary runtime primitives are
// written in. Each constructor checks the shape of its arguments and
// returns a detached ir instruction (or constant) for a Builder to append.
//
//	const(type, *ir.Const)            typed constant
//	load(type, ptr, offset)           read type at ptr+offset
//	store(type, ptr, offset, value)   write value as type at ptr+offset
//	box(tag, value) / unbox(tag, v)   tag conversions
//	icast(type, value)                unchecked bit reinterpretation
//	itof(value) / ftoi(type, value)   int <-> f64
//	add_ovf/sub_ovf/mul_ovf(x, y, normal, overflow)

var (
	ErrArity   = errors.New("arity error")
	ErrType    = errors.New("type error")
	ErrUnknown = errors.New("unknown inline IR instruction")
)

// ArityError reports a wrong number of constructor arguments
type ArityError struct {
	Name string
	Want int
	Got  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("iir.%s: expected %d arguments, got %d", e.Name, e.Want, e.Got)
}

func (e *ArityError) Unwrap() error { return ErrArity }

// TypeError reports a constructor argument of the wrong kind
type TypeError struct {
	Name  string
	Index int
	Want  string
	Got   any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("iir.%s: argument %d must be %s, got %s", e.Name, e.Index, e.Want, describe(e.Got))
}

func (e *TypeError) Unwrap() error { return ErrType }

func describe(v any) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case ir.Value:
		return fmt.Sprintf("%s (%T)", v, v)
	default:
		return fmt.Sprintf("%v (%T)", v, v)
	}
}

// Constructor builds one inline IR node
type Constructor func(args ...any) (ir.Value, error)

var catalog = map[string]Constructor{
	"const":   Const,
	"load":    Load,
	"store":   Store,
	"unbox":   Unbox,
	"box":     Box,
	"icast":   ICast,
	"itof":    IToF,
	"ftoi":    FToI,
	"add_ovf": AddOvf,
	"sub_ovf": SubOvf,
	"mul_ovf": MulOvf,
}

// Lookup returns the constructor registered under name
func Lookup(name string) (Constructor, bool) {
	c, ok := catalog[name]
	return c, ok
}

// Names lists the catalog in sorted order
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build looks up and invokes a constructor
func Build(name string, args ...any) (ir.Value, error) {
	c, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return c(args...)
}

// argument helpers

type args struct {
	name string
	list []any
}

func (a args) arity(n int) error {
	if len(a.list) != n {
		return &ArityError{Name: a.name, Want: n, Got: len(a.list)}
	}
	return nil
}

func (a args) typ(i int) (ir.Type, error) {
	switch t := a.list[i].(type) {
	case ir.Type:
		if t == ir.TypeNone {
			break
		}
		return t, nil
	case string:
		if parsed, err := ir.ParseType(t); err == nil && parsed != ir.TypeNone {
			return parsed, nil
		}
	}
	return 0, &TypeError{Name: a.name, Index: i, Want: "an IR type", Got: a.list[i]}
}

func (a args) tag(i int) (box.Tag, error) {
	switch t := a.list[i].(type) {
	case box.Tag:
		if t == box.TagInt || t == box.TagOther || t.IsRef() {
			return t, nil
		}
	case string:
		if parsed, err := box.ParseTag(t); err == nil {
			return parsed, nil
		}
	}
	return 0, &TypeError{Name: a.name, Index: i, Want: "a box tag", Got: a.list[i]}
}

func (a args) value(i int, ok func(ir.Type) bool, want string) (ir.Value, error) {
	v, isValue := a.list[i].(ir.Value)
	if !isValue || v == nil || isNilValue(v) {
		return nil, &TypeError{Name: a.name, Index: i, Want: want, Got: a.list[i]}
	}
	if ok != nil && !ok(v.Type()) {
		return nil, &TypeError{Name: a.name, Index: i, Want: want, Got: v}
	}
	return v, nil
}

func (a args) block(i int) (*ir.Block, error) {
	b, ok := a.list[i].(*ir.Block)
	if !ok || b == nil {
		return nil, &TypeError{Name: a.name, Index: i, Want: "a branch target block", Got: a.list[i]}
	}
	return b, nil
}

func isNilValue(v ir.Value) bool {
	switch v := v.(type) {
	case *ir.Instr:
		return v == nil
	case *ir.Const:
		return v == nil
	case *ir.Arg:
		return v == nil
	}
	return false
}

func isPointer(t ir.Type) bool { return t.IsPointer() }
func isPInt(t ir.Type) bool    { return t == ir.TypePInt }
func isBox(t ir.Type) bool     { return t == ir.TypeBox }
func isInt(t ir.Type) bool     { return t.IsInt() }
func isF64(t ir.Type) bool     { return t == ir.TypeF64 }
func isWide(t ir.Type) bool    { return t == ir.TypePInt || t == ir.TypeI64 }
func castable(t ir.Type) bool  { return t.IsInt() || t.IsWord() || t == ir.TypeBool }

// Const re-types a constant-value wrapper: const(type, *ir.Const)
func Const(list ...any) (ir.Value, error) {
	a := args{"const", list}
	if err := a.arity(2); err != nil {
		return nil, err
	}
	t, err := a.typ(0)
	if err != nil {
		return nil, err
	}
	c, ok := list[1].(*ir.Const)
	if !ok || c == nil {
		return nil, &TypeError{Name: "const", Index: 1, Want: "a constant value (*ir.Const)", Got: list[1]}
	}
	return ir.NewConst(t, c.Bits), nil
}

// Load reads memory: load(type, ptr, offset)
func Load(list ...any) (ir.Value, error) {
	a := args{"load", list}
	if err := a.arity(3); err != nil {
		return nil, err
	}
	t, err := a.typ(0)
	if err != nil {
		return nil, err
	}
	ptr, err := a.value(1, isPointer, "a pointer (rptr, pint or box)")
	if err != nil {
		return nil, err
	}
	off, err := a.value(2, isPInt, "a pint offset")
	if err != nil {
		return nil, err
	}
	return ir.NewLoad(t, ptr, off), nil
}

// Store writes memory: store(type, ptr, offset, value)
func Store(list ...any) (ir.Value, error) {
	a := args{"store", list}
	if err := a.arity(4); err != nil {
		return nil, err
	}
	t, err := a.typ(0)
	if err != nil {
		return nil, err
	}
	ptr, err := a.value(1, isPointer, "a pointer (rptr, pint or box)")
	if err != nil {
		return nil, err
	}
	off, err := a.value(2, isPInt, "a pint offset")
	if err != nil {
		return nil, err
	}
	v, err := a.value(3, func(vt ir.Type) bool { return vt != ir.TypeNone && vt.Size() >= t.Size() }, "a value at least as wide as "+t.String())
	if err != nil {
		return nil, err
	}
	return ir.NewStore(t, ptr, off, v), nil
}

// Box tags a value: box(tag, value)
func Box(list ...any) (ir.Value, error) {
	a := args{"box", list}
	if err := a.arity(2); err != nil {
		return nil, err
	}
	tag, err := a.tag(0)
	if err != nil {
		return nil, err
	}
	want, desc := isInt, "an integer"
	if tag.IsRef() {
		want = func(t ir.Type) bool { return t == ir.TypeRPtr || t == ir.TypePInt }
		desc = "a pointer (rptr or pint)"
	}
	v, err := a.value(1, want, desc)
	if err != nil {
		return nil, err
	}
	return ir.NewBox(tag, v), nil
}

// Unbox strips a tag: unbox(tag, value)
func Unbox(list ...any) (ir.Value, error) {
	a := args{"unbox", list}
	if err := a.arity(2); err != nil {
		return nil, err
	}
	tag, err := a.tag(0)
	if err != nil {
		return nil, err
	}
	v, err := a.value(1, isBox, "a box")
	if err != nil {
		return nil, err
	}
	return ir.NewUnbox(tag, v), nil
}

// ICast reinterprets bits: icast(type, value)
func ICast(list ...any) (ir.Value, error) {
	a := args{"icast", list}
	if err := a.arity(2); err != nil {
		return nil, err
	}
	t, err := a.typ(0)
	if err != nil {
		return nil, err
	}
	if !castable(t) {
		return nil, &TypeError{Name: "icast", Index: 0, Want: "an integer or word type", Got: t}
	}
	v, err := a.value(1, castable, "an integer, word or bool value")
	if err != nil {
		return nil, err
	}
	return ir.NewICast(t, v), nil
}

// IToF converts an integer to f64: itof(value)
func IToF(list ...any) (ir.Value, error) {
	a := args{"itof", list}
	if err := a.arity(1); err != nil {
		return nil, err
	}
	v, err := a.value(0, isInt, "an integer")
	if err != nil {
		return nil, err
	}
	return ir.NewIToF(v), nil
}

// FToI truncates an f64: ftoi(type, value)
func FToI(list ...any) (ir.Value, error) {
	a := args{"ftoi", list}
	if err := a.arity(2); err != nil {
		return nil, err
	}
	t, err := a.typ(0)
	if err != nil {
		return nil, err
	}
	if !t.IsInt() {
		return nil, &TypeError{Name: "ftoi", Index: 0, Want: "an integer type", Got: t}
	}
	v, err := a.value(1, isF64, "an f64")
	if err != nil {
		return nil, err
	}
	return ir.NewFToI(t, v), nil
}

func overflow(name string, op ir.Op, list []any) (ir.Value, error) {
	a := args{name, list}
	if err := a.arity(4); err != nil {
		return nil, err
	}
	// the flags are only checked on 64-bit arithmetic
	x, err := a.value(0, isWide, "a pint or i64")
	if err != nil {
		return nil, err
	}
	y, err := a.value(1, func(t ir.Type) bool { return t == x.Type() }, "an integer of type "+x.Type().String())
	if err != nil {
		return nil, err
	}
	normal, err := a.block(2)
	if err != nil {
		return nil, err
	}
	ovf, err := a.block(3)
	if err != nil {
		return nil, err
	}
	return ir.NewOverflow(op, x, y, normal, ovf), nil
}

// AddOvf is add_ovf(x, y, normal, overflow)
func AddOvf(list ...any) (ir.Value, error) { return overflow("add_ovf", ir.OpAddOvf, list) }

// SubOvf is sub_ovf(x, y, normal, overflow)
func SubOvf(list ...any) (ir.Value, error) { return overflow("sub_ovf", ir.OpSubOvf, list) }

// MulOvf is mul_ovf(x, y, normal, overflow)
func MulOvf(list ...any) (ir.Value, error) { return overflow("mul_ovf", ir.OpMulOvf, list) }

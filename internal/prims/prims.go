// Completion: 100% - Runtime primitives complete
package prims

import (
	"fmt"

	"github.com/tliron/commonlog"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/iir"
	"github.com/xyproto/tachyon/internal/ir"
)

var log = commonlog.GetLogger("tachyon.prims")

// Layouts gives the heap object offsets the primitives read and write.
// An array is an i64 element count followed by boxed elements.
type Layouts struct {
	ArrayLength int64
	ArrayData   int64
	ElemSize    int64
}

// DefaultLayouts matches the runtime's array header
func DefaultLayouts() Layouts {
	return Layouts{ArrayLength: 0, ArrayData: 8, ElemSize: 8}
}

// Set is the primitive library for one boxing layout. The functions are
// built once and never mutated afterwards, so a Set can be shared by every
// module compiled with the same parameters.
type Set struct {
	Layouts Layouts

	scheme *box.Scheme
	funcs  map[string]*ir.Function
	order  []string
}

// New builds and validates every primitive
func New(p *engine.Params, layouts Layouts) (*Set, error) {
	scheme, err := box.NewScheme(p.Boxing)
	if err != nil {
		return nil, err
	}
	s := &Set{Layouts: layouts, scheme: scheme, funcs: make(map[string]*ir.Function)}
	defs := []struct {
		name   string
		ret    ir.Type
		params []ir.Type
		body   func(s *Set, b *fnBuilder, args []*ir.Arg)
	}{
		{"boxInt", ir.TypeBox, []ir.Type{ir.TypePInt}, (*Set).buildBoxInt},
		{"unboxInt", ir.TypePInt, []ir.Type{ir.TypeBox}, (*Set).buildUnboxInt},
		{"boxIsInt", ir.TypeBox, []ir.Type{ir.TypeBox}, (*Set).buildBoxIsInt},
		{"boxToBool", ir.TypeBool, []ir.Type{ir.TypeBox}, (*Set).buildBoxToBool},
		{"not", ir.TypeBox, []ir.Type{ir.TypeBox}, (*Set).buildNot},
		{"add", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, arith("add_ovf")},
		{"sub", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, arith("sub_ovf")},
		{"mul", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, arith("mul_ovf")},
		{"lt", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, compare(ir.OpLt)},
		{"le", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, compare(ir.OpLe)},
		{"gt", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, compare(ir.OpGt)},
		{"ge", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, compare(ir.OpGe)},
		{"eq", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, identity(ir.OpEq)},
		{"ne", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, identity(ir.OpNe)},
		{"toInt32", ir.TypeBox, []ir.Type{ir.TypeBox}, (*Set).buildToInt32},
		{"arrayLength", ir.TypeBox, []ir.Type{ir.TypeBox}, (*Set).buildArrayLength},
		{"arrayGet", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox}, (*Set).buildArrayGet},
		{"arraySet", ir.TypeBox, []ir.Type{ir.TypeBox, ir.TypeBox, ir.TypeBox}, (*Set).buildArraySet},
	}
	for _, d := range defs {
		fn := ir.NewFunction(d.name, d.ret)
		fn.Primitive = true
		args := make([]*ir.Arg, len(d.params))
		for i, t := range d.params {
			args[i] = fn.AddParam(fmt.Sprintf("a%d", i), t)
		}
		b := &fnBuilder{Builder: ir.NewBuilder(fn)}
		d.body(s, b, args)
		if b.err != nil {
			return nil, fmt.Errorf("primitive %s: %w", d.name, b.err)
		}
		if err := fn.Validate(); err != nil {
			return nil, fmt.Errorf("primitive %s: %w", d.name, err)
		}
		s.funcs[d.name] = fn
		s.order = append(s.order, d.name)
	}
	log.Debugf("built %d primitives", len(s.order))
	return s, nil
}

// Lookup returns a primitive by name, or nil
func (s *Set) Lookup(name string) *ir.Function { return s.funcs[name] }

// Names lists the primitives in definition order
func (s *Set) Names() []string { return append([]string(nil), s.order...) }

// Scheme returns the boxing scheme the primitives were built for
func (s *Set) Scheme() *box.Scheme { return s.scheme }

// IsPrimitive reports whether name is one of the primitives
func (s *Set) IsPrimitive(name string) bool {
	_, ok := s.funcs[name]
	return ok
}

// fnBuilder keeps the first catalog error so primitive bodies read straight
type fnBuilder struct {
	*ir.Builder
	err error
}

// inline appends an inline IR node from the catalog
func (b *fnBuilder) inline(name string, args ...any) ir.Value {
	v, err := iir.Build(name, args...)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return ir.ConstInt(ir.TypePInt, 0)
	}
	return b.Append(v)
}

func (b *fnBuilder) word(w box.Word) ir.Value {
	return b.inline("const", ir.TypeBox, ir.NewConst(ir.TypeU64, uint64(w)))
}

func (b *fnBuilder) pint(v int64) ir.Value {
	return b.inline("const", ir.TypePInt, ir.ConstInt(ir.TypeI64, v))
}

// retBlock returns a block that returns v
func (b *fnBuilder) retBlock(name string, v ir.Value) *ir.Block {
	cur := b.Block()
	blk := b.NewBlock(name)
	b.SetBlock(blk)
	b.Ret(v)
	b.SetBlock(cur)
	return blk
}

// bothInts branches to then when x and y are both boxed integers
func (s *Set) bothInts(b *fnBuilder, x, y ir.Value, then, els *ir.Block) {
	bx := b.inline("icast", ir.TypePInt, x)
	by := b.inline("icast", ir.TypePInt, y)
	tags := b.And(b.Binary(ir.OpOr, bx, by), b.pint(int64(s.scheme.Layout().IntMask())))
	b.If(b.Compare(ir.OpEq, tags, b.pint(0)), then, els)
}

// hasTag branches to then when x carries reference tag t
func (s *Set) hasTag(b *fnBuilder, x ir.Value, t box.Tag, then, els *ir.Block) {
	bits, err := s.scheme.TagBits(t)
	if err != nil {
		b.err = err
		return
	}
	w := b.inline("icast", ir.TypePInt, x)
	low := b.And(w, b.pint(int64(s.scheme.Layout().RefMask())))
	b.If(b.Compare(ir.OpEq, low, b.pint(int64(bits))), then, els)
}

func (s *Set) buildBoxInt(b *fnBuilder, a []*ir.Arg) {
	b.Ret(b.inline("box", box.TagInt, a[0]))
}

func (s *Set) buildUnboxInt(b *fnBuilder, a []*ir.Arg) {
	b.Ret(b.inline("unbox", box.TagInt, a[0]))
}

func (s *Set) buildBoxIsInt(b *fnBuilder, a []*ir.Arg) {
	yes := b.retBlock("yes", b.word(s.scheme.True()))
	no := b.retBlock("no", b.word(s.scheme.False()))
	w := b.inline("icast", ir.TypePInt, a[0])
	low := b.And(w, b.pint(int64(s.scheme.Layout().IntMask())))
	b.If(b.Compare(ir.OpEq, low, b.pint(0)), yes, no)
}

// boxToBool is false for false, null, undefined and the integer zero
func (s *Set) buildBoxToBool(b *fnBuilder, a []*ir.Arg) {
	falsy := b.retBlock("falsy", ir.ConstBool(false))
	truthy := b.retBlock("truthy", ir.ConstBool(true))
	zero, err := s.scheme.Box(0, box.TagInt)
	if err != nil {
		b.err = err
		return
	}
	checks := []box.Word{s.scheme.False(), s.scheme.Null(), s.scheme.Undefined(), zero}
	for i, w := range checks {
		next := truthy
		if i < len(checks)-1 {
			next = b.NewBlock("check")
		}
		b.If(b.Compare(ir.OpEq, a[0], b.word(w)), falsy, next)
		b.SetBlock(next)
	}
}

func (s *Set) buildNot(b *fnBuilder, a []*ir.Arg) {
	yes := b.retBlock("yes", b.word(s.scheme.True()))
	no := b.retBlock("no", b.word(s.scheme.False()))
	truth := s.funcs["boxToBool"]
	b.If(b.Call(truth, a[0]), no, yes)
}

// arith builds add, sub and mul on boxed integers. Because the integer tag
// is zero, boxed words add and subtract directly; for mul one side is
// unboxed first. Overflow and non-integer operands give undefined.
func arith(op string) func(s *Set, b *fnBuilder, a []*ir.Arg) {
	return func(s *Set, b *fnBuilder, a []*ir.Arg) {
		undef := b.retBlock("undefined", b.word(s.scheme.Undefined()))
		fast := b.NewBlock("fast")
		s.bothInts(b, a[0], a[1], fast, undef)

		b.SetBlock(fast)
		x := b.inline("icast", ir.TypePInt, a[0])
		var y ir.Value
		if op == "mul_ovf" {
			y = b.inline("unbox", box.TagInt, a[1])
		} else {
			y = b.inline("icast", ir.TypePInt, a[1])
		}
		normal := b.NewBlock("normal")
		overflow := b.NewBlock("overflow")
		r := b.inline(op, x, y, normal, overflow)

		b.SetBlock(normal)
		b.Ret(b.inline("icast", ir.TypeBox, r))
		b.SetBlock(overflow)
		b.Ret(b.word(s.scheme.Undefined()))
	}
}

// compare builds the ordered comparisons. Boxed integers order like their
// payloads; any other operand compares false.
func compare(op ir.Op) func(s *Set, b *fnBuilder, a []*ir.Arg) {
	return func(s *Set, b *fnBuilder, a []*ir.Arg) {
		yes := b.retBlock("yes", b.word(s.scheme.True()))
		no := b.retBlock("no", b.word(s.scheme.False()))
		ints := b.NewBlock("ints")
		s.bothInts(b, a[0], a[1], ints, no)
		b.SetBlock(ints)
		b.If(b.Compare(op, a[0], a[1]), yes, no)
	}
}

// identity builds eq and ne as word identity
func identity(op ir.Op) func(s *Set, b *fnBuilder, a []*ir.Arg) {
	return func(s *Set, b *fnBuilder, a []*ir.Arg) {
		yes := b.retBlock("yes", b.word(s.scheme.True()))
		no := b.retBlock("no", b.word(s.scheme.False()))
		b.If(b.Compare(op, a[0], a[1]), yes, no)
	}
}

// toInt32 wraps a boxed integer to 32 bits
func (s *Set) buildToInt32(b *fnBuilder, a []*ir.Arg) {
	undef := b.retBlock("undefined", b.word(s.scheme.Undefined()))
	ok := b.NewBlock("int")
	s.bothInts(b, a[0], a[0], ok, undef)
	b.SetBlock(ok)
	n := b.inline("unbox", box.TagInt, a[0])
	narrow := b.inline("icast", ir.TypeI32, n)
	wide := b.inline("icast", ir.TypePInt, narrow)
	b.Ret(b.inline("box", box.TagInt, wide))
}

func (s *Set) buildArrayLength(b *fnBuilder, a []*ir.Arg) {
	undef := b.retBlock("undefined", b.word(s.scheme.Undefined()))
	ok := b.NewBlock("array")
	s.hasTag(b, a[0], box.TagArray, ok, undef)
	b.SetBlock(ok)
	p := b.inline("unbox", box.TagArray, a[0])
	n := b.inline("load", ir.TypeI64, p, b.pint(s.Layouts.ArrayLength))
	b.Ret(b.inline("box", box.TagInt, b.inline("icast", ir.TypePInt, n)))
}

// element computes the byte offset of element idx, branching to undef when
// the array tag or bounds check fails. It leaves the builder in the block
// where the access is safe.
func (s *Set) element(b *fnBuilder, arr, idx ir.Value, undef *ir.Block) (ir.Value, ir.Value) {
	isArray := b.NewBlock("array")
	s.hasTag(b, arr, box.TagArray, isArray, undef)
	b.SetBlock(isArray)
	isInt := b.NewBlock("index")
	s.bothInts(b, idx, idx, isInt, undef)

	b.SetBlock(isInt)
	p := b.inline("unbox", box.TagArray, arr)
	i := b.inline("unbox", box.TagInt, idx)
	n := b.inline("icast", ir.TypePInt, b.inline("load", ir.TypeI64, p, b.pint(s.Layouts.ArrayLength)))
	nonNeg := b.NewBlock("nonneg")
	b.If(b.Compare(ir.OpLt, i, b.pint(0)), undef, nonNeg)
	b.SetBlock(nonNeg)
	inBounds := b.NewBlock("inbounds")
	b.If(b.Compare(ir.OpGe, i, n), undef, inBounds)

	b.SetBlock(inBounds)
	off := b.Add(b.Mul(i, b.pint(s.Layouts.ElemSize)), b.pint(s.Layouts.ArrayData))
	return p, off
}

func (s *Set) buildArrayGet(b *fnBuilder, a []*ir.Arg) {
	undef := b.retBlock("undefined", b.word(s.scheme.Undefined()))
	p, off := s.element(b, a[0], a[1], undef)
	b.Ret(b.inline("load", ir.TypeBox, p, off))
}

func (s *Set) buildArraySet(b *fnBuilder, a []*ir.Arg) {
	undef := b.retBlock("undefined", b.word(s.scheme.Undefined()))
	p, off := s.element(b, a[0], a[1], undef)
	b.inline("store", ir.TypeBox, p, off, a[2])
	b.Ret(a[2])
}

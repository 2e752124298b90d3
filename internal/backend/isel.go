// Completion: 100% - x86-64 instruction selection complete
package backend

import (
	"fmt"
	"math"

	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/ir"
)

// Frame layout of every generated function:
//
//	[rbp+8]            return address
//	[rbp]              saved rbp
//	[rbp-8*k, rbp)     saved callee-saved registers
//	below that         spill slots, then padding and shadow space down to rsp
//
// rsp is 16-byte aligned at every call.

// Scratch registers. Value homes never use them.
var (
	rA = asm.RAX
	rB = asm.R10
)

type gen struct {
	a      *asm.Assembler
	fn     *ir.Function
	alloc  *Allocation
	p      *engine.Params
	scheme *box.Scheme

	argRegs []asm.Register
	shadow  int
	frame   int // bytes below the saved registers

	uses  map[ir.Value]int
	next  map[*ir.Block]*ir.Block
	traps int
	err   error
}

func newGen(a *asm.Assembler, fn *ir.Function, alloc *Allocation, p *engine.Params, scheme *box.Scheme) *gen {
	cc := p.CallingConvention()
	g := &gen{
		a:      a,
		fn:     fn,
		alloc:  alloc,
		p:      p,
		scheme: scheme,
		shadow: cc.ShadowSpaceSize(),
		uses:   make(map[ir.Value]int),
		next:   make(map[*ir.Block]*ir.Block),
	}
	for _, name := range cc.IntegerArgRegs() {
		g.argRegs = append(g.argRegs, asm.MustReg(name))
	}
	for i, b := range fn.Blocks {
		if i+1 < len(fn.Blocks) {
			g.next[b] = fn.Blocks[i+1]
		}
		for _, in := range b.Instrs {
			for _, v := range in.Args {
				g.uses[v]++
			}
		}
	}
	g.frame = 8*alloc.Slots + g.shadow
	if (8*len(alloc.Saved)+g.frame)%16 != 0 {
		g.frame += 8
	}
	return g
}

func (g *gen) fail(format string, args ...any) {
	if g.err == nil {
		g.err = fmt.Errorf("%w: "+format, append([]any{ErrUnsupported}, args...)...)
	}
}

func (g *gen) label(b *ir.Block) *asm.Label {
	if b == g.fn.Entry() {
		return g.a.Label(g.fn.Name)
	}
	return g.a.Label(g.fn.Name + "." + b.Name)
}

func (g *gen) slot(n int) asm.Memory {
	return asm.Mem(int32(-8*len(g.alloc.Saved)-8*(n+1)), asm.RBP)
}

func (g *gen) home(l Location) asm.Operand {
	if l.Spilled {
		return g.slot(l.Slot)
	}
	return l.Reg
}

func fits32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

// get loads v into r
func (g *gen) get(v ir.Value, r asm.Register) {
	if c, ok := v.(*ir.Const); ok {
		imm := int64(c.Bits)
		if fits32(imm) {
			g.a.Mov(asm.Imm(imm), r)
		} else {
			g.a.Movabs(imm, r)
		}
		return
	}
	loc, ok := g.alloc.Lookup(v)
	if !ok {
		g.fail("%s: value %s has no location", g.fn.Name, v)
		return
	}
	if !loc.Spilled && loc.Reg == r {
		return
	}
	g.a.Mov(g.home(loc), r)
}

// immOrReg returns v as an immediate when it is a small constant, otherwise
// loads it into r
func (g *gen) immOrReg(v ir.Value, r asm.Register) asm.Operand {
	if c, ok := v.(*ir.Const); ok && fits32(int64(c.Bits)) {
		return asm.Imm(int64(c.Bits))
	}
	g.get(v, r)
	return r
}

// put stores r into the home of v, if v has one
func (g *gen) put(v ir.Value, r asm.Register) {
	loc, ok := g.alloc.Lookup(v)
	if !ok {
		return
	}
	if !loc.Spilled && loc.Reg == r {
		return
	}
	g.a.Mov(r, g.home(loc))
}

// normalize re-extends r after an operation that produced type t
func (g *gen) normalize(t ir.Type, r asm.Register) {
	switch t {
	case ir.TypeI8:
		g.a.Movsbq(r.Sized(8), r)
	case ir.TypeU8, ir.TypeBool:
		g.a.Movzbq(r.Sized(8), r)
	case ir.TypeI16:
		g.a.Movswq(r.Sized(16), r)
	case ir.TypeU16:
		g.a.Movzwq(r.Sized(16), r)
	case ir.TypeI32:
		g.a.Movslq(r.Sized(32), r)
	case ir.TypeU32:
		g.a.Movl(r.Sized(32), r.Sized(32))
	}
}

func (g *gen) prologue() {
	g.a.Define(g.a.Label(g.fn.Name))
	g.a.Push(asm.RBP)
	g.a.Mov(asm.RSP, asm.RBP)
	for _, r := range g.alloc.Saved {
		g.a.Push(r)
	}
	if g.frame > 0 {
		g.a.Sub(asm.Imm(int64(g.frame)), asm.RSP)
	}
	if len(g.fn.Params) > len(g.argRegs) {
		g.fail("%s takes %d parameters, the %s convention passes %d in registers",
			g.fn.Name, len(g.fn.Params), g.p.CallConv, len(g.argRegs))
		return
	}
	for i, p := range g.fn.Params {
		g.put(p, g.argRegs[i])
	}
}

func (g *gen) epilogue() {
	if g.frame > 0 {
		g.a.Add(asm.Imm(int64(g.frame)), asm.RSP)
	}
	for i := len(g.alloc.Saved) - 1; i >= 0; i-- {
		g.a.Pop(g.alloc.Saved[i])
	}
	g.a.Pop(asm.RBP)
	g.a.Ret()
}

// function emits the whole function
func (g *gen) function() error {
	g.a.At(g.fn.Name)
	g.prologue()
	for i, b := range g.fn.Blocks {
		if i > 0 {
			g.a.Define(g.label(b))
		}
		g.a.At(g.fn.Name + ":" + b.Name)
		for k, in := range b.Instrs {
			if in.Op == ir.OpPhi || g.fused(b, k) {
				continue
			}
			g.instr(b, in)
		}
	}
	if g.err != nil {
		return g.err
	}
	return g.a.Err()
}

// fused reports a comparison whose only use is the branch right after it;
// the branch emits it as cmp + jcc
func (g *gen) fused(b *ir.Block, k int) bool {
	in := b.Instrs[k]
	if !in.Op.IsCompare() || k != len(b.Instrs)-2 || g.uses[in] != 1 {
		return false
	}
	term := b.Instrs[k+1]
	return term.Op == ir.OpIf && term.Args[0] == ir.Value(in)
}

func unsignedCompare(t ir.Type) bool {
	switch t {
	case ir.TypeU8, ir.TypeU16, ir.TypeU32, ir.TypeU64, ir.TypeRPtr, ir.TypeBool:
		return true
	}
	return false
}

// compare emits cmp and returns the condition that holds when in is true
func (g *gen) compare(in *ir.Instr) asm.Cond {
	g.get(in.Args[0], rA)
	g.a.Cmp(g.immOrReg(in.Args[1], rB), rA)
	unsigned := unsignedCompare(in.Args[0].Type())
	switch in.Op {
	case ir.OpLt:
		if unsigned {
			return asm.CondBelow
		}
		return asm.CondLess
	case ir.OpLe:
		if unsigned {
			return asm.CondBelowOrEqual
		}
		return asm.CondLessOrEqual
	case ir.OpGt:
		if unsigned {
			return asm.CondAbove
		}
		return asm.CondGreater
	case ir.OpGe:
		if unsigned {
			return asm.CondAboveOrEqual
		}
		return asm.CondGreaterOrEqual
	case ir.OpEq:
		return asm.CondEqual
	}
	return asm.CondNotEqual
}

// branch jumps to then when c holds and to els otherwise, falling through
// to whichever is laid out next
func (g *gen) branch(b *ir.Block, c asm.Cond, then, els *ir.Block) {
	switch g.next[b] {
	case els:
		g.a.Jcc(c, g.label(then))
	case then:
		g.a.Jcc(c.Negate(), g.label(els))
	default:
		g.a.Jcc(c, g.label(then))
		g.a.Jmp(g.label(els))
	}
}

var binaryMnemonics = map[ir.Op]string{
	ir.OpAdd: "add", ir.OpSub: "sub", ir.OpMul: "imul",
	ir.OpAnd: "and", ir.OpOr: "or", ir.OpXor: "xor",
	ir.OpShl: "shl", ir.OpSar: "sar", ir.OpShr: "shr",
	ir.OpAddOvf: "add", ir.OpSubOvf: "sub", ir.OpMulOvf: "imul",
}

func (g *gen) instr(b *ir.Block, in *ir.Instr) {
	switch {
	case in.Op.IsBinary():
		g.binary(in)
		return
	case in.Op.IsCompare():
		c := g.compare(in)
		g.a.Setcc(c, rA.Sized(8))
		g.a.Movzbq(rA.Sized(8), rA)
		g.put(in, rA)
		return
	case in.Op.IsOverflow():
		g.overflow(in)
		return
	}

	switch in.Op {
	case ir.OpLoad:
		g.load(in)
	case ir.OpStore:
		g.store(in)
	case ir.OpBox:
		g.box(in)
	case ir.OpUnbox:
		g.unbox(in)
	case ir.OpICast:
		g.get(in.Args[0], rA)
		g.normalize(in.Typ, rA)
		g.put(in, rA)
	case ir.OpIToF:
		g.get(in.Args[0], rA)
		g.a.Cvtsi2sd(rA, asm.XMM0)
		g.a.Movq(asm.XMM0, rA)
		g.put(in, rA)
	case ir.OpFToI:
		g.get(in.Args[0], rA)
		g.a.Movq(rA, asm.XMM0)
		g.a.Cvttsd2si(asm.XMM0, rA)
		g.normalize(in.Typ, rA)
		g.put(in, rA)
	case ir.OpCall:
		g.call(in)
	case ir.OpIf:
		then, els := in.Targets[0], in.Targets[1]
		if k := len(b.Instrs) - 2; k >= 0 && g.fused(b, k) {
			g.branch(b, g.compare(b.Instrs[k]), then, els)
			return
		}
		g.get(in.Args[0], rA)
		g.a.Test(rA, rA)
		g.branch(b, asm.CondNotEqual, then, els)
	case ir.OpJump:
		to := in.Targets[0]
		g.phiMoves(b, to)
		if g.next[b] != to {
			g.a.Jmp(g.label(to))
		}
	case ir.OpRet:
		if len(in.Args) == 1 {
			g.get(in.Args[0], rA)
		}
		g.epilogue()
	default:
		g.fail("%s: no instruction selection for %s", g.fn.Name, in.Op)
	}
}

func (g *gen) binary(in *ir.Instr) {
	mnemonic := binaryMnemonics[in.Op]
	g.get(in.Args[0], rA)
	switch in.Op {
	case ir.OpShl, ir.OpSar, ir.OpShr:
		if c, ok := in.Args[1].(*ir.Const); ok {
			g.a.Emit(mnemonic, asm.Imm(int64(c.Bits&63)), rA)
		} else {
			g.get(in.Args[1], asm.RCX)
			g.a.Emit(mnemonic, asm.RCX.Sized(8), rA)
		}
	default:
		g.a.Emit(mnemonic, g.immOrReg(in.Args[1], rB), rA)
	}
	g.normalize(in.Typ, rA)
	g.put(in, rA)
}

// overflow lowers checked arithmetic to op; mov; jo overflow; jmp normal
func (g *gen) overflow(in *ir.Instr) {
	if in.Typ != ir.TypePInt && in.Typ != ir.TypeI64 {
		g.fail("%s: overflow-checked %s on %s", g.fn.Name, in.Op, in.Typ)
		return
	}
	g.get(in.Args[0], rA)
	g.get(in.Args[1], rB)
	g.a.Emit(binaryMnemonics[in.Op], rB, rA)
	g.put(in, rA)
	g.a.Jo(g.label(in.Targets[1]))
	g.a.Jmp(g.label(in.Targets[0]))
}

// address loads ptr into rA and returns ptr+offset as a memory operand
func (g *gen) address(ptr, offset ir.Value) asm.Memory {
	g.get(ptr, rA)
	if c, ok := offset.(*ir.Const); ok && fits32(int64(c.Bits)) {
		return asm.Mem(int32(int64(c.Bits)), rA)
	}
	g.get(offset, rB)
	g.a.Add(rB, rA)
	return asm.Mem(0, rA)
}

func (g *gen) load(in *ir.Instr) {
	m := g.address(in.Args[0], in.Args[1])
	switch in.Typ {
	case ir.TypeI8:
		g.a.Movsbq(m, rA)
	case ir.TypeU8, ir.TypeBool:
		g.a.Movzbq(m, rA)
	case ir.TypeI16:
		g.a.Movswq(m, rA)
	case ir.TypeU16:
		g.a.Movzwq(m, rA)
	case ir.TypeI32:
		g.a.Movslq(m, rA)
	case ir.TypeU32:
		g.a.Movl(m, rA.Sized(32))
	default:
		g.a.Mov(m, rA)
	}
	g.put(in, rA)
}

func (g *gen) store(in *ir.Instr) {
	m := g.address(in.Args[0], in.Args[1])
	g.get(in.Args[2], rB)
	switch in.Width.Size() {
	case 1:
		g.a.Movb(rB.Sized(8), m)
	case 2:
		g.a.Movw(rB.Sized(16), m)
	case 4:
		g.a.Movl(rB.Sized(32), m)
	default:
		g.a.Mov(rB, m)
	}
}

func (g *gen) box(in *ir.Instr) {
	layout := g.scheme.Layout()
	g.get(in.Args[0], rA)
	switch {
	case in.Tag == box.TagInt:
		if layout.IntTagBits > 0 {
			g.a.Shl(asm.Imm(int64(layout.IntTagBits)), rA)
		}
	default:
		bits, err := g.scheme.TagBits(in.Tag)
		if err != nil {
			g.fail("%s: %v", g.fn.Name, err)
			return
		}
		if in.Tag == box.TagOther {
			g.a.Shl(asm.Imm(int64(layout.RefTagBits)), rA)
		}
		if bits != 0 {
			g.a.Or(asm.Imm(int64(bits)), rA)
		}
	}
	g.put(in, rA)
}

// trap emits a check that jumps over ud2 when the flags say the tag matched
func (g *gen) trap(ok asm.Cond) {
	g.traps++
	pass := g.a.Label(fmt.Sprintf("%s.tagok%d", g.fn.Name, g.traps))
	g.a.Jcc(ok, pass)
	g.a.Ud2()
	g.a.Define(pass)
}

func (g *gen) unbox(in *ir.Instr) {
	layout := g.scheme.Layout()
	g.get(in.Args[0], rA)
	if in.Tag == box.TagInt {
		if g.p.Debug {
			g.a.Test(asm.Imm(int64(layout.IntMask())), rA)
			g.trap(asm.CondEqual)
		}
		if layout.IntTagBits > 0 {
			g.a.Sar(asm.Imm(int64(layout.IntTagBits)), rA)
		}
		g.put(in, rA)
		return
	}
	bits, err := g.scheme.TagBits(in.Tag)
	if err != nil {
		g.fail("%s: %v", g.fn.Name, err)
		return
	}
	if g.p.Debug {
		g.a.Mov(rA, rB)
		g.a.And(asm.Imm(int64(layout.RefMask())), rB)
		g.a.Cmp(asm.Imm(int64(bits)), rB)
		g.trap(asm.CondEqual)
	}
	if in.Tag == box.TagOther {
		g.a.Shr(asm.Imm(int64(layout.RefTagBits)), rA)
	} else {
		g.a.And(asm.Imm(^int64(layout.RefMask())), rA)
	}
	g.put(in, rA)
}

func (g *gen) call(in *ir.Instr) {
	if len(in.Args) > len(g.argRegs) {
		g.fail("call to %s passes %d arguments, the %s convention passes %d in registers",
			in.Callee.Name, len(in.Args), g.p.CallConv, len(g.argRegs))
		return
	}
	// homes are never argument registers, so the loads cannot interfere
	for i, v := range in.Args {
		g.get(v, g.argRegs[i])
	}
	g.a.Call(g.a.Label(in.Callee.Name))
	if in.Typ != ir.TypeNone {
		g.put(in, rA)
	}
}

// phiMoves copies the incoming values for the edge from -> to into the phi
// homes. Several moves go through the stack so that they behave as one
// parallel copy.
func (g *gen) phiMoves(from, to *ir.Block) {
	type move struct {
		src ir.Value
		dst Location
	}
	var moves []move
	for _, phi := range to.Phis() {
		dst, ok := g.alloc.Lookup(phi)
		if !ok {
			continue
		}
		src, _ := phi.IncomingFrom(from)
		if loc, ok := g.alloc.Lookup(src); ok && loc == dst {
			continue
		}
		moves = append(moves, move{src, dst})
	}
	switch len(moves) {
	case 0:
		return
	case 1:
		g.get(moves[0].src, rA)
		g.a.Mov(rA, g.home(moves[0].dst))
		return
	}
	for _, m := range moves {
		if c, ok := m.src.(*ir.Const); ok {
			g.get(c, rA)
			g.a.Push(rA)
			continue
		}
		loc, ok := g.alloc.Lookup(m.src)
		if !ok {
			g.fail("%s: phi operand %s has no location", g.fn.Name, m.src)
			return
		}
		g.a.Push(g.home(loc))
	}
	for i := len(moves) - 1; i >= 0; i-- {
		g.a.Pop(g.home(moves[i].dst))
	}
}

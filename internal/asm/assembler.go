// Completion: 100% - Assembler front end complete
package asm

import "github.com/xyproto/tachyon/internal/engine"

// Assembler emits symbolic instructions into a CodeBlock. Every method
// returns the assembler so emission can be chained; errors are recorded on
// the block and reported by Err and Assemble.
type Assembler struct {
	cb  *CodeBlock
	pos string
}

// NewAssembler returns an assembler with a fresh little-endian code block
func NewAssembler() *Assembler {
	return &Assembler{cb: NewCodeBlock()}
}

// NewAssemblerFor returns an assembler whose block uses the byte order and
// calling convention of p
func NewAssemblerFor(p *engine.Params) *Assembler {
	a := NewAssembler()
	a.cb.BigEndian = p.Endian == engine.BigEndian
	a.cb.CallConv = p.CallingConvention().Name()
	return a
}

// CodeBlock returns the block being emitted into
func (a *Assembler) CodeBlock() *CodeBlock { return a.cb }

// Err returns the first recorded error
func (a *Assembler) Err() error { return a.cb.err }

// At sets the source position attached to the following instructions
func (a *Assembler) At(pos string) *Assembler {
	a.pos = pos
	return a
}

// Label creates or looks up a label in this assembler's block
func (a *Assembler) Label(name string) *Label { return a.cb.Label(name) }

// Define binds l to the next emitted instruction
func (a *Assembler) Define(l *Label) *Assembler {
	if err := a.cb.define(l); err != nil {
		a.cb.record(err)
	}
	return a
}

// Here defines the named label at the current position
func (a *Assembler) Here(name string) *Assembler { return a.Define(a.cb.Label(name)) }

// Emit appends an instruction by mnemonic, operands source first
func (a *Assembler) Emit(mnemonic string, ops ...Operand) *Assembler {
	a.cb.append(&Instruction{Mnemonic: mnemonic, Operands: ops, Pos: a.pos})
	return a
}

func (a *Assembler) Push(src Operand) *Assembler      { return a.Emit("push", src) }
func (a *Assembler) Pop(dst Operand) *Assembler       { return a.Emit("pop", dst) }
func (a *Assembler) Mov(src, dst Operand) *Assembler  { return a.Emit("mov", src, dst) }
func (a *Assembler) Movl(src, dst Operand) *Assembler { return a.Emit("movl", src, dst) }
func (a *Assembler) Movw(src, dst Operand) *Assembler { return a.Emit("movw", src, dst) }
func (a *Assembler) Movb(src, dst Operand) *Assembler { return a.Emit("movb", src, dst) }
func (a *Assembler) Lea(src, dst Operand) *Assembler  { return a.Emit("lea", src, dst) }

// Movabs loads a full 64-bit immediate
func (a *Assembler) Movabs(v int64, dst Register) *Assembler { return a.Emit("movabs", Imm(v), dst) }

// Zero and sign extensions into a 64-bit register
func (a *Assembler) Movzbq(src, dst Operand) *Assembler { return a.Emit("movzbq", src, dst) }
func (a *Assembler) Movsbq(src, dst Operand) *Assembler { return a.Emit("movsbq", src, dst) }
func (a *Assembler) Movzwq(src, dst Operand) *Assembler { return a.Emit("movzwq", src, dst) }
func (a *Assembler) Movswq(src, dst Operand) *Assembler { return a.Emit("movswq", src, dst) }
func (a *Assembler) Movslq(src, dst Operand) *Assembler { return a.Emit("movslq", src, dst) }

func (a *Assembler) Add(src, dst Operand) *Assembler  { return a.Emit("add", src, dst) }
func (a *Assembler) Sub(src, dst Operand) *Assembler  { return a.Emit("sub", src, dst) }
func (a *Assembler) Imul(src, dst Operand) *Assembler { return a.Emit("imul", src, dst) }
func (a *Assembler) And(src, dst Operand) *Assembler  { return a.Emit("and", src, dst) }
func (a *Assembler) Or(src, dst Operand) *Assembler   { return a.Emit("or", src, dst) }
func (a *Assembler) Xor(src, dst Operand) *Assembler  { return a.Emit("xor", src, dst) }
func (a *Assembler) Cmp(src, dst Operand) *Assembler  { return a.Emit("cmp", src, dst) }
func (a *Assembler) Test(src, dst Operand) *Assembler { return a.Emit("test", src, dst) }
func (a *Assembler) Neg(dst Operand) *Assembler       { return a.Emit("neg", dst) }
func (a *Assembler) Not(dst Operand) *Assembler       { return a.Emit("not", dst) }

// Shifts take an immediate count or cl
func (a *Assembler) Shl(count, dst Operand) *Assembler { return a.Emit("shl", count, dst) }
func (a *Assembler) Sar(count, dst Operand) *Assembler { return a.Emit("sar", count, dst) }
func (a *Assembler) Shr(count, dst Operand) *Assembler { return a.Emit("shr", count, dst) }

// Jmp takes a label, a register or a memory operand
func (a *Assembler) Jmp(target Operand) *Assembler { return a.Emit("jmp", target) }

// Jcc jumps to l when c holds
func (a *Assembler) Jcc(c Cond, l *Label) *Assembler { return a.Emit("j"+c.Suffix(), l) }

func (a *Assembler) Je(l *Label) *Assembler  { return a.Jcc(CondEqual, l) }
func (a *Assembler) Jne(l *Label) *Assembler { return a.Jcc(CondNotEqual, l) }
func (a *Assembler) Jl(l *Label) *Assembler  { return a.Jcc(CondLess, l) }
func (a *Assembler) Jle(l *Label) *Assembler { return a.Jcc(CondLessOrEqual, l) }
func (a *Assembler) Jg(l *Label) *Assembler  { return a.Jcc(CondGreater, l) }
func (a *Assembler) Jge(l *Label) *Assembler { return a.Jcc(CondGreaterOrEqual, l) }
func (a *Assembler) Jo(l *Label) *Assembler  { return a.Jcc(CondOverflow, l) }
func (a *Assembler) Jno(l *Label) *Assembler { return a.Jcc(CondNoOverflow, l) }
func (a *Assembler) Jb(l *Label) *Assembler  { return a.Jcc(CondBelow, l) }
func (a *Assembler) Jae(l *Label) *Assembler { return a.Jcc(CondAboveOrEqual, l) }

func (a *Assembler) Call(target Operand) *Assembler { return a.Emit("call", target) }
func (a *Assembler) Ret() *Assembler                { return a.Emit("ret") }
func (a *Assembler) Nop() *Assembler                { return a.Emit("nop") }
func (a *Assembler) Ud2() *Assembler                { return a.Emit("ud2") }

// Setcc writes 1 or 0 to an 8-bit register
func (a *Assembler) Setcc(c Cond, dst Operand) *Assembler { return a.Emit("set"+c.Suffix(), dst) }

func (a *Assembler) Sete(dst Operand) *Assembler  { return a.Setcc(CondEqual, dst) }
func (a *Assembler) Setne(dst Operand) *Assembler { return a.Setcc(CondNotEqual, dst) }
func (a *Assembler) Setl(dst Operand) *Assembler  { return a.Setcc(CondLess, dst) }
func (a *Assembler) Setle(dst Operand) *Assembler { return a.Setcc(CondLessOrEqual, dst) }
func (a *Assembler) Setg(dst Operand) *Assembler  { return a.Setcc(CondGreater, dst) }
func (a *Assembler) Setge(dst Operand) *Assembler { return a.Setcc(CondGreaterOrEqual, dst) }

func (a *Assembler) Cvtsi2sd(src, dst Operand) *Assembler  { return a.Emit("cvtsi2sd", src, dst) }
func (a *Assembler) Cvttsd2si(src, dst Operand) *Assembler { return a.Emit("cvttsd2si", src, dst) }
func (a *Assembler) Movq(src, dst Operand) *Assembler      { return a.Emit("movq", src, dst) }

// Assemble assembles the underlying block
func (a *Assembler) Assemble() (*CodeBlock, error) {
	if err := a.cb.Assemble(); err != nil {
		return a.cb, err
	}
	return a.cb, nil
}

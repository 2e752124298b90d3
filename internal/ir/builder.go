package ir

import "github.com/xyproto/tachyon/internal/box"

// Builder appends instructions to a current block
type Builder struct {
	fn  *Function
	cur *Block
}

// NewBuilder starts building fn. If fn has no blocks an "entry" block is
// created.
func NewBuilder(fn *Function) *Builder {
	b := &Builder{fn: fn}
	if len(fn.Blocks) == 0 {
		fn.NewBlock("entry")
	}
	b.cur = fn.Blocks[len(fn.Blocks)-1]
	return b
}

// Func returns the function being built
func (b *Builder) Func() *Function { return b.fn }

// Block returns the current block
func (b *Builder) Block() *Block { return b.cur }

// SetBlock moves the insertion point to the end of blk
func (b *Builder) SetBlock(blk *Block) { b.cur = blk }

// NewBlock creates a block without moving the insertion point
func (b *Builder) NewBlock(name string) *Block { return b.fn.NewBlock(name) }

// Terminated reports whether the current block already ends in a terminator
func (b *Builder) Terminated() bool { return b.cur.Terminator() != nil }

// Append attaches a detached instruction to the current block. Non
// instruction values (constants, arguments) are returned unchanged.
func (b *Builder) Append(v Value) Value {
	in, ok := v.(*Instr)
	if !ok {
		return v
	}
	b.insert(in)
	return in
}

func (b *Builder) insert(in *Instr) *Instr {
	in.ID = b.fn.nextID
	b.fn.nextID++
	in.Block = b.cur
	if in.Op == OpPhi {
		n := len(b.cur.Phis())
		b.cur.Instrs = append(b.cur.Instrs, nil)
		copy(b.cur.Instrs[n+1:], b.cur.Instrs[n:])
		b.cur.Instrs[n] = in
		return in
	}
	b.cur.Instrs = append(b.cur.Instrs, in)
	return in
}

func (b *Builder) Binary(op Op, x, y Value) *Instr { return b.insert(NewBinary(op, x, y)) }
func (b *Builder) Add(x, y Value) *Instr           { return b.Binary(OpAdd, x, y) }
func (b *Builder) Sub(x, y Value) *Instr           { return b.Binary(OpSub, x, y) }
func (b *Builder) Mul(x, y Value) *Instr           { return b.Binary(OpMul, x, y) }
func (b *Builder) And(x, y Value) *Instr           { return b.Binary(OpAnd, x, y) }

func (b *Builder) Compare(op Op, x, y Value) *Instr { return b.insert(NewCompare(op, x, y)) }

func (b *Builder) Load(t Type, ptr, offset Value) *Instr {
	return b.insert(NewLoad(t, ptr, offset))
}

func (b *Builder) Store(t Type, ptr, offset, v Value) *Instr {
	return b.insert(NewStore(t, ptr, offset, v))
}

func (b *Builder) Box(tag box.Tag, v Value) *Instr   { return b.insert(NewBox(tag, v)) }
func (b *Builder) Unbox(tag box.Tag, v Value) *Instr { return b.insert(NewUnbox(tag, v)) }
func (b *Builder) ICast(t Type, v Value) *Instr      { return b.insert(NewICast(t, v)) }
func (b *Builder) IToF(v Value) *Instr               { return b.insert(NewIToF(v)) }
func (b *Builder) FToI(t Type, v Value) *Instr       { return b.insert(NewFToI(t, v)) }

// Overflow ends the current block with a checked arithmetic branch
func (b *Builder) Overflow(op Op, x, y Value, normal, overflow *Block) *Instr {
	return b.insert(NewOverflow(op, x, y, normal, overflow))
}

func (b *Builder) Call(fn *Function, args ...Value) *Instr { return b.insert(NewCall(fn, args...)) }

// Phi inserts a phi at the head of the current block
func (b *Builder) Phi(t Type) *Instr { return b.insert(NewPhi(t)) }

func (b *Builder) If(cond Value, then, els *Block) *Instr { return b.insert(NewIf(cond, then, els)) }
func (b *Builder) Jump(to *Block) *Instr                  { return b.insert(NewJump(to)) }
func (b *Builder) Ret(v Value) *Instr                     { return b.insert(NewRet(v)) }

// Completion: 100% - IR graph complete
package ir

import (
	"fmt"
	"math"

	"github.com/xyproto/tachyon/internal/box"
)

// The IR is a typed control-flow graph in SSA form. A Module holds
// Functions, a Function holds Blocks, and a Block holds Instrs ending in
// exactly one terminator (If, Jump, Ret or an overflow-checked arithmetic
// instruction). Operands are Values: constants, function arguments or the
// results of other instructions.

// Value is anything that can be used as an operand
type Value interface {
	Type() Type
	String() string
}

// Const is a constant of a fixed type. Bits holds the raw 64-bit pattern:
// a boxed word for TypeBox, the IEEE bits for TypeF64.
type Const struct {
	Typ  Type
	Bits uint64
}

// NewConst wraps a raw bit pattern as a typed constant
func NewConst(t Type, bits uint64) *Const {
	return &Const{Typ: t, Bits: bits}
}

// ConstInt is a constant integer of type t
func ConstInt(t Type, v int64) *Const {
	return &Const{Typ: t, Bits: uint64(v)}
}

// ConstF64 is a constant float
func ConstF64(f float64) *Const {
	return &Const{Typ: TypeF64, Bits: math.Float64bits(f)}
}

// ConstBool is true or false
func ConstBool(b bool) *Const {
	if b {
		return &Const{Typ: TypeBool, Bits: 1}
	}
	return &Const{Typ: TypeBool}
}

func (c *Const) Type() Type { return c.Typ }

// Int returns the constant as a signed integer
func (c *Const) Int() int64 { return int64(c.Bits) }

func (c *Const) String() string {
	switch c.Typ {
	case TypeF64:
		return fmt.Sprintf("f64 %g", math.Float64frombits(c.Bits))
	case TypeBox:
		return fmt.Sprintf("box %#x", c.Bits)
	case TypeBool:
		return fmt.Sprintf("bool %t", c.Bits != 0)
	default:
		if c.Typ.IsSigned() {
			return fmt.Sprintf("%s %d", c.Typ, int64(c.Bits))
		}
		return fmt.Sprintf("%s %d", c.Typ, c.Bits)
	}
}

// Arg is a function parameter
type Arg struct {
	Index int
	Typ   Type
	Name  string
	Func  *Function
}

func (a *Arg) Type() Type     { return a.Typ }
func (a *Arg) String() string { return "%" + a.Name }

// Instr is one IR instruction. Which fields are meaningful depends on Op:
//   - Targets: If (then, else), Jump (to), overflow ops (normal, overflow)
//   - Callee: Call
//   - Tag: Box, Unbox
//   - Width: Store
//   - Incoming: Phi, paired index-wise with Args
type Instr struct {
	Op       Op
	Typ      Type
	Args     []Value
	Targets  []*Block
	Callee   *Function
	Tag      box.Tag
	Width    Type
	Incoming []*Block

	ID    int
	Block *Block
}

func (i *Instr) Type() Type { return i.Typ }

func (i *Instr) String() string {
	return fmt.Sprintf("%%t%d", i.ID)
}

// IsTerminator reports whether the instruction ends its block
func (i *Instr) IsTerminator() bool {
	return i.Op.IsTerminator()
}

// AddIncoming records that the phi takes v when control arrives from pred
func (i *Instr) AddIncoming(pred *Block, v Value) {
	i.Incoming = append(i.Incoming, pred)
	i.Args = append(i.Args, v)
}

// IncomingFrom returns the phi operand for a predecessor
func (i *Instr) IncomingFrom(pred *Block) (Value, bool) {
	for k, b := range i.Incoming {
		if b == pred {
			return i.Args[k], true
		}
	}
	return nil, false
}

// Block is a basic block
type Block struct {
	Name   string
	Instrs []*Instr
	Func   *Function
}

// Terminator returns the last instruction if it is a terminator
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if !last.IsTerminator() {
		return nil
	}
	return last
}

// Succs returns the successor blocks in terminator order
func (b *Block) Succs() []*Block {
	if t := b.Terminator(); t != nil {
		return t.Targets
	}
	return nil
}

// Phis returns the leading phi instructions
func (b *Block) Phis() []*Instr {
	n := 0
	for n < len(b.Instrs) && b.Instrs[n].Op == OpPhi {
		n++
	}
	return b.Instrs[:n]
}

func (b *Block) String() string { return b.Name }

// Function is a unit of compilation
type Function struct {
	Name      string
	Params    []*Arg
	Ret       Type
	Blocks    []*Block
	Primitive bool

	nextID     int
	blockNames map[string]int
}

// NewFunction creates an empty function with the result type ret
func NewFunction(name string, ret Type) *Function {
	return &Function{Name: name, Ret: ret, blockNames: make(map[string]int)}
}

// AddParam appends a parameter
func (f *Function) AddParam(name string, t Type) *Arg {
	a := &Arg{Index: len(f.Params), Typ: t, Name: name, Func: f}
	f.Params = append(f.Params, a)
	return a
}

// ParamTypes lists the parameter types in order
func (f *Function) ParamTypes() []Type {
	ts := make([]Type, len(f.Params))
	for i, p := range f.Params {
		ts[i] = p.Typ
	}
	return ts
}

// NewBlock appends a block; names are made unique within the function
func (f *Function) NewBlock(name string) *Block {
	if f.blockNames == nil {
		f.blockNames = make(map[string]int)
	}
	unique := name
	if n, ok := f.blockNames[name]; ok {
		unique = fmt.Sprintf("%s.%d", name, n)
	}
	f.blockNames[name]++
	b := &Block{Name: unique, Func: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Entry returns the first block
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Preds computes the predecessor lists of every block. A block that
// branches twice to the same successor appears twice.
func (f *Function) Preds() map[*Block][]*Block {
	preds := make(map[*Block][]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			preds[s] = append(preds[s], b)
		}
	}
	return preds
}

// Callees returns the distinct functions called from f, in first-call order
func (f *Function) Callees() []*Function {
	var out []*Function
	seen := make(map[*Function]bool)
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Op == OpCall && in.Callee != nil && !seen[in.Callee] {
				seen[in.Callee] = true
				out = append(out, in.Callee)
			}
		}
	}
	return out
}

// Module is an ordered collection of functions
type Module struct {
	Name  string
	Funcs []*Function
}

// NewModule creates an empty module
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// Add appends a function
func (m *Module) Add(f *Function) {
	m.Funcs = append(m.Funcs, f)
}

// Lookup finds a function by name
func (m *Module) Lookup(name string) *Function {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Reachable returns the module's functions followed by every function they
// transitively call that is not itself in the module, in discovery order.
func (m *Module) Reachable() []*Function {
	var out []*Function
	seen := make(map[*Function]bool)
	var visit func(f *Function)
	visit = func(f *Function) {
		if seen[f] {
			return
		}
		seen[f] = true
		out = append(out, f)
		for _, c := range f.Callees() {
			visit(c)
		}
	}
	for _, f := range m.Funcs {
		seen[f] = true
		out = append(out, f)
	}
	for _, f := range m.Funcs {
		for _, c := range f.Callees() {
			visit(c)
		}
	}
	return out
}

package ir

import (
	"fmt"

	"github.com/xyproto/tachyon/internal/box"
)

// Op identifies an instruction kind
type Op int

const (
	OpInvalid Op = iota

	// integer arithmetic, both operands and the result share one type
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpSar
	OpShr

	// signed comparisons producing bool
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe

	OpLoad
	OpStore
	OpBox
	OpUnbox
	OpICast
	OpIToF
	OpFToI

	OpCall
	OpPhi

	// terminators
	OpAddOvf
	OpSubOvf
	OpMulOvf
	OpIf
	OpJump
	OpRet
)

var opNames = map[Op]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul",
	OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpShl: "shl", OpSar: "sar", OpShr: "shr",
	OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge", OpEq: "eq", OpNe: "ne",
	OpLoad: "load", OpStore: "store",
	OpBox: "box", OpUnbox: "unbox", OpICast: "icast", OpIToF: "itof", OpFToI: "ftoi",
	OpCall: "call", OpPhi: "phi",
	OpAddOvf: "add_ovf", OpSubOvf: "sub_ovf", OpMulOvf: "mul_ovf",
	OpIf: "if", OpJump: "jump", OpRet: "ret",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// IsTerminator reports whether instructions of this kind end a block
func (o Op) IsTerminator() bool {
	return o >= OpAddOvf && o <= OpRet
}

// IsBinary reports plain two-operand integer arithmetic
func (o Op) IsBinary() bool {
	return o >= OpAdd && o <= OpShr
}

// IsCompare reports a comparison
func (o Op) IsCompare() bool {
	return o >= OpLt && o <= OpNe
}

// IsOverflow reports an overflow-checked arithmetic branch
func (o Op) IsOverflow() bool {
	return o >= OpAddOvf && o <= OpMulOvf
}

// Unchecked returns the plain arithmetic op behind an overflow op
func (o Op) Unchecked() Op {
	switch o {
	case OpAddOvf:
		return OpAdd
	case OpSubOvf:
		return OpSub
	case OpMulOvf:
		return OpMul
	}
	return o
}

// Detached instruction constructors. They do not validate operand types;
// Validate and the inline IR catalog do.

func NewBinary(op Op, x, y Value) *Instr {
	return &Instr{Op: op, Typ: x.Type(), Args: []Value{x, y}}
}

func NewCompare(op Op, x, y Value) *Instr {
	return &Instr{Op: op, Typ: TypeBool, Args: []Value{x, y}}
}

func NewLoad(t Type, ptr, offset Value) *Instr {
	return &Instr{Op: OpLoad, Typ: t, Args: []Value{ptr, offset}}
}

// NewStore writes v, which is converted to width t, at ptr+offset
func NewStore(t Type, ptr, offset, v Value) *Instr {
	return &Instr{Op: OpStore, Typ: TypeNone, Width: t, Args: []Value{ptr, offset, v}}
}

func NewBox(tag box.Tag, v Value) *Instr {
	return &Instr{Op: OpBox, Typ: TypeBox, Tag: tag, Args: []Value{v}}
}

// NewUnbox yields pint for integers and specials, rptr for references
func NewUnbox(tag box.Tag, v Value) *Instr {
	t := TypePInt
	if tag.IsRef() {
		t = TypeRPtr
	}
	return &Instr{Op: OpUnbox, Typ: t, Tag: tag, Args: []Value{v}}
}

func NewICast(t Type, v Value) *Instr {
	return &Instr{Op: OpICast, Typ: t, Args: []Value{v}}
}

func NewIToF(v Value) *Instr {
	return &Instr{Op: OpIToF, Typ: TypeF64, Args: []Value{v}}
}

func NewFToI(t Type, v Value) *Instr {
	return &Instr{Op: OpFToI, Typ: t, Args: []Value{v}}
}

// NewOverflow builds an overflow-checked branch. The result is defined
// only in normal and the blocks it dominates.
func NewOverflow(op Op, x, y Value, normal, overflow *Block) *Instr {
	return &Instr{Op: op, Typ: x.Type(), Args: []Value{x, y}, Targets: []*Block{normal, overflow}}
}

func NewCall(fn *Function, args ...Value) *Instr {
	return &Instr{Op: OpCall, Typ: fn.Ret, Callee: fn, Args: args}
}

func NewPhi(t Type) *Instr {
	return &Instr{Op: OpPhi, Typ: t}
}

func NewIf(cond Value, then, els *Block) *Instr {
	return &Instr{Op: OpIf, Typ: TypeNone, Args: []Value{cond}, Targets: []*Block{then, els}}
}

func NewJump(to *Block) *Instr {
	return &Instr{Op: OpJump, Typ: TypeNone, Targets: []*Block{to}}
}

// NewRet returns v, or nothing when v is nil
func NewRet(v Value) *Instr {
	in := &Instr{Op: OpRet, Typ: TypeNone}
	if v != nil {
		in.Args = []Value{v}
	}
	return in
}

// MemType returns the memory width accessed by a load or store
func (i *Instr) MemType() Type {
	switch i.Op {
	case OpLoad:
		return i.Typ
	case OpStore:
		return i.Width
	}
	return TypeNone
}

package asm

import (
	"fmt"
	"math"
)

// Operand is one of Register, Immediate, Memory or *Label
type Operand interface {
	operand()
	String() string
}

// Immediate is a constant operand, listed as $value
type Immediate struct {
	Value int64
}

// Imm makes an immediate operand
func Imm(v int64) Immediate { return Immediate{v} }

func (Immediate) operand() {}

func (i Immediate) String() string { return fmt.Sprintf("$%d", i.Value) }

// Memory is a base register plus displacement, listed as disp(base)
type Memory struct {
	Disp int32
	Base Register
}

// Mem makes a memory operand
func Mem(disp int32, base Register) Memory { return Memory{Disp: disp, Base: base} }

func (Memory) operand() {}

func (m Memory) String() string { return fmt.Sprintf("%d(%s)", m.Disp, m.Base.Name) }

func fits8(v int64) bool  { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fits32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

// operand kind predicates used by the encoders

func isGPR(o Operand, bits int) (Register, bool) {
	r, ok := o.(Register)
	if !ok || r.Class != ClassGPR || r.Size != bits {
		return Register{}, false
	}
	return r, true
}

func isXMM(o Operand) (Register, bool) {
	r, ok := o.(Register)
	if !ok || r.Class != ClassXMM {
		return Register{}, false
	}
	return r, true
}

func isMem(o Operand) (Memory, bool) {
	m, ok := o.(Memory)
	if !ok || m.Base.Class != ClassGPR || m.Base.Size != 64 {
		return Memory{}, false
	}
	return m, true
}

func isImm(o Operand) (int64, bool) {
	i, ok := o.(Immediate)
	return i.Value, ok
}

func isLabel(o Operand) (*Label, bool) {
	l, ok := o.(*Label)
	return l, ok && l != nil
}

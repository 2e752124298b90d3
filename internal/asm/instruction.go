package asm

import (
	"strings"
)

// Instruction is one symbolic instruction. Operands are listed source
// first, destination last.
type Instruction struct {
	Mnemonic string
	Operands []Operand
	Pos      string

	// Offset is set by Assemble
	Offset int

	bytes []byte
	fixup int // index of the rel32 field in bytes, -1 if none
	label *Label
}

// Bytes returns the encoded bytes once assembled
func (in *Instruction) Bytes() []byte { return in.bytes }

// Len returns the encoded length once assembled
func (in *Instruction) Len() int { return len(in.bytes) }

// Target returns the label an instruction branches to, if any
func (in *Instruction) Target() *Label { return in.label }

// Text renders "mnemonic op, op"
func (in *Instruction) Text() string {
	if len(in.Operands) == 0 {
		return in.Mnemonic
	}
	ops := make([]string, len(in.Operands))
	for i, o := range in.Operands {
		ops[i] = o.String()
	}
	return in.Mnemonic + " " + strings.Join(ops, ", ")
}

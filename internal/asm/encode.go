// Completion: 100% - Instruction encoding complete
package asm

import (
	"encoding/binary"
	"fmt"
)

// x86-64 instruction encoding.
//
// Layout of an encoded instruction:
//
//	[legacy prefix 66/F2] [REX 0100WRXB] opcode [ModRM] [SIB] [disp8/32] [imm]
//
// REX.W selects 64-bit operand size, REX.R extends ModRM.reg and REX.B
// extends ModRM.rm or the SIB base. Relative branch targets are always
// encoded as rel32 so instruction lengths never depend on label offsets.

type encoder struct {
	buf   []byte
	order binary.ByteOrder
	fixup int
	label *Label
}

type encodeFunc func(e *encoder, ops []Operand) error

func (e *encoder) emit(b ...byte) { e.buf = append(e.buf, b...) }

func (e *encoder) imm8(v int64) { e.emit(byte(int8(v))) }

func (e *encoder) imm16(v int64) {
	var b [2]byte
	e.order.PutUint16(b[:], uint16(v))
	e.emit(b[:]...)
}

func (e *encoder) imm32(v int64) {
	var b [4]byte
	e.order.PutUint32(b[:], uint32(v))
	e.emit(b[:]...)
}

func (e *encoder) imm64(v int64) {
	var b [8]byte
	e.order.PutUint64(b[:], uint64(v))
	e.emit(b[:]...)
}

// rel32 reserves a zeroed displacement field patched by Assemble
func (e *encoder) rel32(l *Label) {
	e.fixup = len(e.buf)
	e.label = l
	e.imm32(0)
}

// rex emits a REX prefix if any bit is needed or force is set
func (e *encoder) rex(w bool, reg, rm uint8, force bool) {
	b := byte(0x40)
	if w {
		b |= 0x08 // REX.W
	}
	if reg&8 != 0 {
		b |= 0x04 // REX.R
	}
	if rm&8 != 0 {
		b |= 0x01 // REX.B
	}
	if b != 0x40 || force {
		e.emit(b)
	}
}

// needsRex8 reports spl, bpl, sil and dil, which are only addressable with
// a REX prefix (without one the encodings mean ah, ch, dh, bh)
func needsRex8(r Register) bool {
	return r.Class == ClassGPR && r.Size == 8 && r.Encoding >= 4 && r.Encoding < 8
}

// rm emits [prefix] [REX] opcode ModRM for a register or memory r/m operand.
// reg is either a register encoding or an opcode extension (/digit).
func (e *encoder) rm(prefix byte, w bool, opcode []byte, reg uint8, rm Operand, force bool) error {
	if prefix != 0 {
		e.emit(prefix)
	}
	switch rm := rm.(type) {
	case Register:
		e.rex(w, reg, rm.Encoding, force || needsRex8(rm))
		e.emit(opcode...)
		e.emit(0xC0 | (reg&7)<<3 | rm.Low())
	case Memory:
		e.rex(w, reg, rm.Base.Encoding, force)
		e.emit(opcode...)
		e.mem(reg, rm)
	default:
		return ErrUnsupportedOperand
	}
	return nil
}

// mem emits ModRM, SIB and displacement for disp(base)
func (e *encoder) mem(reg uint8, m Memory) {
	base := m.Base.Low()
	var mod byte
	switch {
	case m.Disp == 0 && base != 5: // rbp/r13 have no disp-less form
		mod = 0
	case fits8(int64(m.Disp)):
		mod = 1
	default:
		mod = 2
	}
	e.emit(mod<<6 | (reg&7)<<3 | base)
	if base == 4 { // rsp/r12 need a SIB byte
		e.emit(0x24)
	}
	switch mod {
	case 1:
		e.imm8(int64(m.Disp))
	case 2:
		e.imm32(int64(m.Disp))
	}
}

func rm64(o Operand) bool {
	if _, ok := isGPR(o, 64); ok {
		return true
	}
	_, ok := isMem(o)
	return ok
}

func rmSized(o Operand, bits int) bool {
	if _, ok := isGPR(o, bits); ok {
		return true
	}
	_, ok := isMem(o)
	return ok
}

func arity(ops []Operand, n int) error {
	if len(ops) != n {
		return fmt.Errorf("%w: expected %d operands, got %d", ErrUnsupportedOperand, n, len(ops))
	}
	return nil
}

var encoders map[string]encodeFunc

func init() {
	encoders = map[string]encodeFunc{
		"push":      encPush,
		"pop":       encPop,
		"mov":       encMov,
		"movabs":    encMovabs,
		"movl":      encMovl,
		"movw":      encMovw,
		"movb":      encMovb,
		"movzbq":    encExtend(0x0F, 0xB6, 8),
		"movsbq":    encExtend(0x0F, 0xBE, 8),
		"movzwq":    encExtend(0x0F, 0xB7, 16),
		"movswq":    encExtend(0x0F, 0xBF, 16),
		"movslq":    encExtend(0x63, 0, 32),
		"lea":       encLea,
		"add":       encALU(0),
		"or":        encALU(1),
		"and":       encALU(4),
		"sub":       encALU(5),
		"xor":       encALU(6),
		"cmp":       encALU(7),
		"test":      encTest,
		"imul":      encImul,
		"not":       encUnary(2),
		"neg":       encUnary(3),
		"shl":       encShift(4),
		"shr":       encShift(5),
		"sar":       encShift(7),
		"jmp":       encBranch(0xE9, 4),
		"call":      encBranch(0xE8, 2),
		"ret":       encFixed(0xC3),
		"nop":       encFixed(0x90),
		"int3":      encFixed(0xCC),
		"ud2":       encFixed(0x0F, 0x0B),
		"cqo":       encFixed(0x48, 0x99),
		"cvtsi2sd":  encCvtsi2sd,
		"cvttsd2si": encCvttsd2si,
		"movq":      encMovq,
	}
}

// encode fills in the bytes, fixup position and label of an instruction
func encode(in *Instruction, order binary.ByteOrder) error {
	e := &encoder{order: order, fixup: -1}
	var err error
	if c, ok := jccByName[in.Mnemonic]; ok {
		err = encJcc(e, c, in.Operands)
	} else if c, ok := setccByName[in.Mnemonic]; ok {
		err = encSetcc(e, c, in.Operands)
	} else if f, ok := encoders[in.Mnemonic]; ok {
		err = f(e, in.Operands)
	} else {
		err = fmt.Errorf("%w: %s", ErrUnknownMnemonic, in.Mnemonic)
	}
	if err != nil {
		return err
	}
	in.bytes = e.buf
	in.fixup = e.fixup
	in.label = e.label
	return nil
}

func encFixed(b ...byte) encodeFunc {
	return func(e *encoder, ops []Operand) error {
		if err := arity(ops, 0); err != nil {
			return err
		}
		e.emit(b...)
		return nil
	}
}

// PUSH r64 (50+r), imm (6A ib / 68 id), m64 (FF /6)
func encPush(e *encoder, ops []Operand) error {
	if err := arity(ops, 1); err != nil {
		return err
	}
	if r, ok := isGPR(ops[0], 64); ok {
		e.rex(false, 0, r.Encoding, false)
		e.emit(0x50 + r.Low())
		return nil
	}
	if v, ok := isImm(ops[0]); ok {
		switch {
		case fits8(v):
			e.emit(0x6A)
			e.imm8(v)
		case fits32(v):
			e.emit(0x68)
			e.imm32(v)
		default:
			return fmt.Errorf("%w: push immediate %d does not fit in 32 bits", ErrUnsupportedOperand, v)
		}
		return nil
	}
	if m, ok := isMem(ops[0]); ok {
		return e.rm(0, false, []byte{0xFF}, 6, m, false)
	}
	return ErrUnsupportedOperand
}

// POP r64 (58+r), m64 (8F /0)
func encPop(e *encoder, ops []Operand) error {
	if err := arity(ops, 1); err != nil {
		return err
	}
	if r, ok := isGPR(ops[0], 64); ok {
		e.rex(false, 0, r.Encoding, false)
		e.emit(0x58 + r.Low())
		return nil
	}
	if m, ok := isMem(ops[0]); ok {
		return e.rm(0, false, []byte{0x8F}, 0, m, false)
	}
	return ErrUnsupportedOperand
}

// MOV in its 64-bit forms:
//
//	r64 -> r/m64   REX.W 89 /r
//	m64 -> r64     REX.W 8B /r
//	imm32 -> r/m64 REX.W C7 /0 id (sign-extended)
//	imm64 -> r64   REX.W B8+r io
func encMov(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	src, dst := ops[0], ops[1]
	if s, ok := isGPR(src, 64); ok && rm64(dst) {
		return e.rm(0, true, []byte{0x89}, s.Encoding, dst, false)
	}
	if m, ok := isMem(src); ok {
		if d, ok := isGPR(dst, 64); ok {
			return e.rm(0, true, []byte{0x8B}, d.Encoding, m, false)
		}
	}
	if v, ok := isImm(src); ok && rm64(dst) {
		if fits32(v) {
			if err := e.rm(0, true, []byte{0xC7}, 0, dst, false); err != nil {
				return err
			}
			e.imm32(v)
			return nil
		}
		if d, ok := isGPR(dst, 64); ok {
			e.rex(true, 0, d.Encoding, false)
			e.emit(0xB8 + d.Low())
			e.imm64(v)
			return nil
		}
		return fmt.Errorf("%w: 64-bit immediate store to memory", ErrUnsupportedOperand)
	}
	return ErrUnsupportedOperand
}

// MOVABS imm64 -> r64, always the ten-byte form
func encMovabs(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	v, ok := isImm(ops[0])
	d, ok2 := isGPR(ops[1], 64)
	if !ok || !ok2 {
		return ErrUnsupportedOperand
	}
	e.rex(true, 0, d.Encoding, false)
	e.emit(0xB8 + d.Low())
	e.imm64(v)
	return nil
}

// MOVL: 32-bit moves, which zero the upper half of a register destination
func encMovl(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	src, dst := ops[0], ops[1]
	if d, ok := isGPR(dst, 32); ok {
		if v, ok := isImm(src); ok {
			e.rex(false, 0, d.Encoding, false)
			e.emit(0xB8 + d.Low())
			e.imm32(v)
			return nil
		}
		if rmSized(src, 32) {
			return e.rm(0, false, []byte{0x8B}, d.Encoding, src, false)
		}
	}
	if s, ok := isGPR(src, 32); ok {
		if m, ok := isMem(dst); ok {
			return e.rm(0, false, []byte{0x89}, s.Encoding, m, false)
		}
	}
	if v, ok := isImm(src); ok {
		if m, ok := isMem(dst); ok {
			if err := e.rm(0, false, []byte{0xC7}, 0, m, false); err != nil {
				return err
			}
			e.imm32(v)
			return nil
		}
	}
	return ErrUnsupportedOperand
}

// MOVW: 16-bit stores (66 89 /r, 66 C7 /0 iw)
func encMovw(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	m, ok := isMem(ops[1])
	if !ok {
		return ErrUnsupportedOperand
	}
	if s, ok := isGPR(ops[0], 16); ok {
		return e.rm(0x66, false, []byte{0x89}, s.Encoding, m, false)
	}
	if v, ok := isImm(ops[0]); ok {
		if err := e.rm(0x66, false, []byte{0xC7}, 0, m, false); err != nil {
			return err
		}
		e.imm16(v)
		return nil
	}
	return ErrUnsupportedOperand
}

// MOVB: byte stores (88 /r, C6 /0 ib)
func encMovb(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	m, ok := isMem(ops[1])
	if !ok {
		return ErrUnsupportedOperand
	}
	if s, ok := isGPR(ops[0], 8); ok {
		return e.rm(0, false, []byte{0x88}, s.Encoding, m, needsRex8(s))
	}
	if v, ok := isImm(ops[0]); ok {
		if err := e.rm(0, false, []byte{0xC6}, 0, m, false); err != nil {
			return err
		}
		e.imm8(v)
		return nil
	}
	return ErrUnsupportedOperand
}

// encExtend covers movzbq/movsbq/movzwq/movswq (REX.W 0F xx /r) and
// movslq (REX.W 63 /r). op2 == 0 marks a one-byte opcode.
func encExtend(op1, op2 byte, srcBits int) encodeFunc {
	opcode := []byte{op1, op2}
	if op2 == 0 {
		opcode = []byte{op1}
	}
	return func(e *encoder, ops []Operand) error {
		if err := arity(ops, 2); err != nil {
			return err
		}
		d, ok := isGPR(ops[1], 64)
		if !ok || !rmSized(ops[0], srcBits) {
			return ErrUnsupportedOperand
		}
		return e.rm(0, true, opcode, d.Encoding, ops[0], false)
	}
}

// LEA m -> r64 (REX.W 8D /r)
func encLea(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	m, ok := isMem(ops[0])
	d, ok2 := isGPR(ops[1], 64)
	if !ok || !ok2 {
		return ErrUnsupportedOperand
	}
	return e.rm(0, true, []byte{0x8D}, d.Encoding, m, false)
}

// encALU covers the classic two-operand group selected by ext:
// add=0 or=1 and=4 sub=5 xor=6 cmp=7. The r/m,r opcode is ext*8+1,
// the r,r/m opcode ext*8+3, and immediates use 83 /ext ib or 81 /ext id.
func encALU(ext byte) encodeFunc {
	return func(e *encoder, ops []Operand) error {
		if err := arity(ops, 2); err != nil {
			return err
		}
		src, dst := ops[0], ops[1]
		if v, ok := isImm(src); ok && rm64(dst) {
			switch {
			case fits8(v):
				if err := e.rm(0, true, []byte{0x83}, ext, dst, false); err != nil {
					return err
				}
				e.imm8(v)
			case fits32(v):
				if err := e.rm(0, true, []byte{0x81}, ext, dst, false); err != nil {
					return err
				}
				e.imm32(v)
			default:
				return fmt.Errorf("%w: immediate %d does not fit in 32 bits", ErrUnsupportedOperand, v)
			}
			return nil
		}
		if s, ok := isGPR(src, 64); ok && rm64(dst) {
			return e.rm(0, true, []byte{ext<<3 | 1}, s.Encoding, dst, false)
		}
		if m, ok := isMem(src); ok {
			if d, ok := isGPR(dst, 64); ok {
				return e.rm(0, true, []byte{ext<<3 | 3}, d.Encoding, m, false)
			}
		}
		return ErrUnsupportedOperand
	}
}

// TEST r64, r/m64 (REX.W 85 /r) and imm32, r/m64 (REX.W F7 /0 id)
func encTest(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	src, dst := ops[0], ops[1]
	if s, ok := isGPR(src, 64); ok && rm64(dst) {
		return e.rm(0, true, []byte{0x85}, s.Encoding, dst, false)
	}
	if v, ok := isImm(src); ok && fits32(v) && rm64(dst) {
		if err := e.rm(0, true, []byte{0xF7}, 0, dst, false); err != nil {
			return err
		}
		e.imm32(v)
		return nil
	}
	return ErrUnsupportedOperand
}

// IMUL r/m64, r64 (REX.W 0F AF /r) and imm, r64 (REX.W 6B /r ib, 69 /r id)
func encImul(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	d, ok := isGPR(ops[1], 64)
	if !ok {
		return ErrUnsupportedOperand
	}
	if v, ok := isImm(ops[0]); ok {
		switch {
		case fits8(v):
			if err := e.rm(0, true, []byte{0x6B}, d.Encoding, d, false); err != nil {
				return err
			}
			e.imm8(v)
		case fits32(v):
			if err := e.rm(0, true, []byte{0x69}, d.Encoding, d, false); err != nil {
				return err
			}
			e.imm32(v)
		default:
			return fmt.Errorf("%w: immediate %d does not fit in 32 bits", ErrUnsupportedOperand, v)
		}
		return nil
	}
	if rm64(ops[0]) {
		return e.rm(0, true, []byte{0x0F, 0xAF}, d.Encoding, ops[0], false)
	}
	return ErrUnsupportedOperand
}

// NOT (F7 /2) and NEG (F7 /3)
func encUnary(ext byte) encodeFunc {
	return func(e *encoder, ops []Operand) error {
		if err := arity(ops, 1); err != nil {
			return err
		}
		if !rm64(ops[0]) {
			return ErrUnsupportedOperand
		}
		return e.rm(0, true, []byte{0xF7}, ext, ops[0], false)
	}
}

// Shifts: shl=4 shr=5 sar=7. D1 /ext by one, C1 /ext ib by an immediate,
// D3 /ext by cl.
func encShift(ext byte) encodeFunc {
	return func(e *encoder, ops []Operand) error {
		if err := arity(ops, 2); err != nil {
			return err
		}
		dst := ops[1]
		if !rm64(dst) {
			return ErrUnsupportedOperand
		}
		if v, ok := isImm(ops[0]); ok {
			if v < 0 || v > 63 {
				return fmt.Errorf("%w: shift count %d", ErrUnsupportedOperand, v)
			}
			if v == 1 {
				return e.rm(0, true, []byte{0xD1}, ext, dst, false)
			}
			if err := e.rm(0, true, []byte{0xC1}, ext, dst, false); err != nil {
				return err
			}
			e.imm8(v)
			return nil
		}
		if r, ok := isGPR(ops[0], 8); ok && r.Encoding == 1 {
			return e.rm(0, true, []byte{0xD3}, ext, dst, false)
		}
		return fmt.Errorf("%w: variable shift count must be cl", ErrUnsupportedOperand)
	}
}

// encBranch covers jmp (E9 rel32, FF /4) and call (E8 rel32, FF /2)
func encBranch(rel byte, ext byte) encodeFunc {
	return func(e *encoder, ops []Operand) error {
		if err := arity(ops, 1); err != nil {
			return err
		}
		if l, ok := isLabel(ops[0]); ok {
			e.emit(rel)
			e.rel32(l)
			return nil
		}
		if rm64(ops[0]) {
			return e.rm(0, false, []byte{0xFF}, ext, ops[0], false)
		}
		return ErrUnsupportedOperand
	}
}

// Jcc rel32 (0F 80+cc)
func encJcc(e *encoder, c Cond, ops []Operand) error {
	if err := arity(ops, 1); err != nil {
		return err
	}
	l, ok := isLabel(ops[0])
	if !ok {
		return fmt.Errorf("%w: conditional jump needs a label", ErrUnsupportedOperand)
	}
	e.emit(0x0F, 0x80|byte(c))
	e.rel32(l)
	return nil
}

// SETcc r8 (0F 90+cc /0)
func encSetcc(e *encoder, c Cond, ops []Operand) error {
	if err := arity(ops, 1); err != nil {
		return err
	}
	if !rmSized(ops[0], 8) {
		return ErrUnsupportedOperand
	}
	return e.rm(0, false, []byte{0x0F, 0x90 | byte(c)}, 0, ops[0], false)
}

// CVTSI2SD r/m64, xmm (F2 REX.W 0F 2A /r)
func encCvtsi2sd(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	x, ok := isXMM(ops[1])
	if !ok || !rm64(ops[0]) {
		return ErrUnsupportedOperand
	}
	return e.rm(0xF2, true, []byte{0x0F, 0x2A}, x.Encoding, ops[0], false)
}

// CVTTSD2SI xmm, r64 (F2 REX.W 0F 2C /r)
func encCvttsd2si(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	d, ok := isGPR(ops[1], 64)
	if !ok {
		return ErrUnsupportedOperand
	}
	if x, ok := isXMM(ops[0]); ok {
		return e.rm(0xF2, true, []byte{0x0F, 0x2C}, d.Encoding, x, false)
	}
	if m, ok := isMem(ops[0]); ok {
		return e.rm(0xF2, true, []byte{0x0F, 0x2C}, d.Encoding, m, false)
	}
	return ErrUnsupportedOperand
}

// MOVQ between a general purpose and an SSE register:
// r/m64 -> xmm is 66 REX.W 0F 6E /r, xmm -> r/m64 is 66 REX.W 0F 7E /r
func encMovq(e *encoder, ops []Operand) error {
	if err := arity(ops, 2); err != nil {
		return err
	}
	if x, ok := isXMM(ops[1]); ok && rm64(ops[0]) {
		return e.rm(0x66, true, []byte{0x0F, 0x6E}, x.Encoding, ops[0], false)
	}
	if x, ok := isXMM(ops[0]); ok && rm64(ops[1]) {
		return e.rm(0x66, true, []byte{0x0F, 0x7E}, x.Encoding, ops[1], false)
	}
	return ErrUnsupportedOperand
}

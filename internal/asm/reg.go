// Completion: 100% - Utility module complete
package asm

import "fmt"

// Register definitions for x86_64

// RegClass separates general purpose from SSE registers
type RegClass uint8

const (
	ClassGPR RegClass = iota
	ClassXMM
)

type Register struct {
	Name     string
	Size     int   // Size in bits
	Encoding uint8 // Encoding for instruction generation
	Class    RegClass
}

func (r Register) operand() {}

func (r Register) String() string { return r.Name }

// Ext reports whether the register needs a REX extension bit
func (r Register) Ext() bool { return r.Encoding&8 != 0 }

// Low returns the low three encoding bits
func (r Register) Low() uint8 { return r.Encoding & 7 }

var (
	RAX = Register{"rax", 64, 0, ClassGPR}
	RCX = Register{"rcx", 64, 1, ClassGPR}
	RDX = Register{"rdx", 64, 2, ClassGPR}
	RBX = Register{"rbx", 64, 3, ClassGPR}
	RSP = Register{"rsp", 64, 4, ClassGPR}
	RBP = Register{"rbp", 64, 5, ClassGPR}
	RSI = Register{"rsi", 64, 6, ClassGPR}
	RDI = Register{"rdi", 64, 7, ClassGPR}
	R8  = Register{"r8", 64, 8, ClassGPR}
	R9  = Register{"r9", 64, 9, ClassGPR}
	R10 = Register{"r10", 64, 10, ClassGPR}
	R11 = Register{"r11", 64, 11, ClassGPR}
	R12 = Register{"r12", 64, 12, ClassGPR}
	R13 = Register{"r13", 64, 13, ClassGPR}
	R14 = Register{"r14", 64, 14, ClassGPR}
	R15 = Register{"r15", 64, 15, ClassGPR}
)

var (
	XMM0  = Register{"xmm0", 128, 0, ClassXMM}
	XMM1  = Register{"xmm1", 128, 1, ClassXMM}
	XMM2  = Register{"xmm2", 128, 2, ClassXMM}
	XMM3  = Register{"xmm3", 128, 3, ClassXMM}
	XMM4  = Register{"xmm4", 128, 4, ClassXMM}
	XMM5  = Register{"xmm5", 128, 5, ClassXMM}
	XMM6  = Register{"xmm6", 128, 6, ClassXMM}
	XMM7  = Register{"xmm7", 128, 7, ClassXMM}
	XMM8  = Register{"xmm8", 128, 8, ClassXMM}
	XMM9  = Register{"xmm9", 128, 9, ClassXMM}
	XMM10 = Register{"xmm10", 128, 10, ClassXMM}
	XMM11 = Register{"xmm11", 128, 11, ClassXMM}
	XMM12 = Register{"xmm12", 128, 12, ClassXMM}
	XMM13 = Register{"xmm13", 128, 13, ClassXMM}
	XMM14 = Register{"xmm14", 128, 14, ClassXMM}
	XMM15 = Register{"xmm15", 128, 15, ClassXMM}
)

var xmms = []Register{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7,
	XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14, XMM15}

var gpr64 = []Register{RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15}

var (
	names32 = []string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
		"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}
	names16 = []string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
		"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"}
	// spl..dil need a REX prefix to be addressable; ah..bh are never used
	names8 = []string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil",
		"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"}
)

var x86_64Registers = map[string]Register{}

func init() {
	for _, r := range gpr64 {
		x86_64Registers[r.Name] = r
		e := r.Encoding
		x86_64Registers[names32[e]] = Register{names32[e], 32, e, ClassGPR}
		x86_64Registers[names16[e]] = Register{names16[e], 16, e, ClassGPR}
		x86_64Registers[names8[e]] = Register{names8[e], 8, e, ClassGPR}
	}
	for _, x := range xmms {
		x86_64Registers[x.Name] = x
	}
}

// XMM returns SSE register n
func XMM(n int) Register {
	if n < 0 || n >= len(xmms) {
		panic(fmt.Sprintf("asm: no xmm%d", n))
	}
	return xmms[n]
}

// Reg looks up a register by name, e.g. "rax", "r12d" or "xmm3"
func Reg(name string) (Register, bool) {
	r, ok := x86_64Registers[name]
	return r, ok
}

// MustReg is Reg for names known at compile time
func MustReg(name string) Register {
	r, ok := x86_64Registers[name]
	if !ok {
		panic("asm: unknown register " + name)
	}
	return r
}

// Sized returns the alias of a general purpose register at another width
func (r Register) Sized(bits int) Register {
	if r.Class != ClassGPR {
		return r
	}
	switch bits {
	case 8:
		return x86_64Registers[names8[r.Encoding]]
	case 16:
		return x86_64Registers[names16[r.Encoding]]
	case 32:
		return x86_64Registers[names32[r.Encoding]]
	default:
		return gpr64[r.Encoding]
	}
}

// R64 returns the 64-bit alias
func (r Register) R64() Register { return r.Sized(64) }

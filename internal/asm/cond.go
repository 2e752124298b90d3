// Completion: 100% - Condition codes complete
package asm

// Condition codes shared by jcc and setcc. The value is the low nibble of
// the opcode: jcc rel32 is 0F 80+cc, setcc r/m8 is 0F 90+cc.
type Cond uint8

const (
	CondOverflow       Cond = 0x0 // JO
	CondNoOverflow     Cond = 0x1 // JNO
	CondBelow          Cond = 0x2 // JB/JNAE - below (unsigned)
	CondAboveOrEqual   Cond = 0x3 // JAE/JNB - above or equal (unsigned)
	CondEqual          Cond = 0x4 // JE/JZ - equal/zero
	CondNotEqual       Cond = 0x5 // JNE/JNZ - not equal/not zero
	CondBelowOrEqual   Cond = 0x6 // JBE/JNA - below or equal (unsigned)
	CondAbove          Cond = 0x7 // JA/JNBE - above (unsigned)
	CondSign           Cond = 0x8 // JS
	CondNoSign         Cond = 0x9 // JNS
	CondParity         Cond = 0xA // JP - parity/NaN
	CondNotParity      Cond = 0xB // JNP
	CondLess           Cond = 0xC // JL/JNGE - less (signed)
	CondGreaterOrEqual Cond = 0xD // JGE/JNL - greater or equal (signed)
	CondLessOrEqual    Cond = 0xE // JLE/JNG - less or equal (signed)
	CondGreater        Cond = 0xF // JG/JNLE - greater (signed)
)

var condSuffix = [16]string{"o", "no", "b", "ae", "e", "ne", "be", "a", "s", "ns", "p", "np", "l", "ge", "le", "g"}

// Suffix returns the mnemonic suffix, e.g. "ge"
func (c Cond) Suffix() string { return condSuffix[c&0xF] }

func (c Cond) String() string { return c.Suffix() }

// Negate returns the opposite condition
func (c Cond) Negate() Cond { return c ^ 1 }

var (
	jccByName   = map[string]Cond{}
	setccByName = map[string]Cond{}
)

func init() {
	for i, s := range condSuffix {
		jccByName["j"+s] = Cond(i)
		setccByName["set"+s] = Cond(i)
	}
	jccByName["jz"] = CondEqual
	jccByName["jnz"] = CondNotEqual
	setccByName["setz"] = CondEqual
	setccByName["setnz"] = CondNotEqual
}

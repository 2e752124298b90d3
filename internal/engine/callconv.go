// Completion: 100% - Helper module complete
package engine

import "fmt"

// Calling convention descriptors for x86_64.
//
// Generated code follows the convention named in Params for both its own
// internal calls and the calls a bridge makes into it:
// - System V AMD64 ABI (Linux, macOS, BSD)
// - Microsoft x64 ABI (Windows)

// CallingConvention describes where integer arguments and results live and
// which registers a callee must preserve.
type CallingConvention interface {
	Name() string

	// IntegerArgRegs returns the argument registers in order
	IntegerArgRegs() []string

	IntegerReturnReg() string

	// CallerSavedRegs returns registers that a call may clobber
	CallerSavedRegs() []string

	// CalleeSavedRegs returns registers that the callee must save/restore
	CalleeSavedRegs() []string

	// ShadowSpaceSize returns the bytes reserved above the return address for
	// the callee (Windows: 32, others: 0)
	ShadowSpaceSize() int

	StackAlignment() int
}

// SystemVAMD64 implements the System V AMD64 calling convention
type SystemVAMD64 struct{}

func (cc *SystemVAMD64) Name() string { return "sysv" }

func (cc *SystemVAMD64) IntegerArgRegs() []string {
	return []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
}

func (cc *SystemVAMD64) IntegerReturnReg() string {
	return "rax"
}

func (cc *SystemVAMD64) CallerSavedRegs() []string {
	return []string{"rax", "rcx", "rdx", "rsi", "rdi", "r8", "r9", "r10", "r11"}
}

func (cc *SystemVAMD64) CalleeSavedRegs() []string {
	return []string{"rbx", "rbp", "r12", "r13", "r14", "r15"}
}

func (cc *SystemVAMD64) ShadowSpaceSize() int {
	return 0
}

func (cc *SystemVAMD64) StackAlignment() int {
	return 16
}

// MicrosoftX64 implements the Microsoft x64 calling convention
type MicrosoftX64 struct{}

func (cc *MicrosoftX64) Name() string { return "win64" }

func (cc *MicrosoftX64) IntegerArgRegs() []string {
	return []string{"rcx", "rdx", "r8", "r9"}
}

func (cc *MicrosoftX64) IntegerReturnReg() string {
	return "rax"
}

func (cc *MicrosoftX64) CallerSavedRegs() []string {
	return []string{"rax", "rcx", "rdx", "r8", "r9", "r10", "r11"}
}

func (cc *MicrosoftX64) CalleeSavedRegs() []string {
	return []string{"rbx", "rbp", "rdi", "rsi", "r12", "r13", "r14", "r15"}
}

func (cc *MicrosoftX64) ShadowSpaceSize() int {
	return 32
}

func (cc *MicrosoftX64) StackAlignment() int {
	return 16
}

// LookupCallingConvention maps a convention name to its descriptor
func LookupCallingConvention(name string) (CallingConvention, error) {
	switch name {
	case "sysv", "systemv", "":
		return &SystemVAMD64{}, nil
	case "win64", "microsoft":
		return &MicrosoftX64{}, nil
	default:
		return nil, fmt.Errorf("unknown calling convention %q (known: sysv, win64)", name)
	}
}

// CallingConventionFor returns the native convention of a platform
func CallingConventionFor(p Platform) CallingConvention {
	if p.OS == OSWindows {
		return &MicrosoftX64{}
	}
	return &SystemVAMD64{}
}

package backend

import (
	"errors"
	"fmt"

	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/mcb"
)

// trampolineSaved are preserved by a trampoline for its Go caller
var trampolineSaved = []asm.Register{asm.RBX, asm.RBP, asm.R12, asm.R13, asm.R14, asm.R15}

// Trampoline assembles the code that calls an entry point with argc words
// from an mcb call frame. It is entered with the frame address in rdi, loads
// the argument registers of cc from the frame, calls the entry and stores
// rax in the result slot.
func Trampoline(cc engine.CallingConvention, argc int) (*asm.CodeBlock, error) {
	regs := cc.IntegerArgRegs()
	if argc < 0 || argc > len(regs) || argc > mcb.MaxArgs {
		return nil, fmt.Errorf("%w: %d arguments, the %s convention passes %d in registers",
			ErrUnsupported, argc, cc.Name(), min(len(regs), mcb.MaxArgs))
	}
	// six pushes after the return address leave rsp 8 bytes off alignment
	reserve := int64(8 + cc.ShadowSpaceSize())

	a := asm.NewAssembler()
	a.Here("bridge")
	for _, r := range trampolineSaved {
		a.Push(r)
	}
	a.Sub(asm.Imm(reserve), asm.RSP)
	a.Mov(asm.RDI, asm.RBX)
	for i := 0; i < argc; i++ {
		a.Mov(asm.Mem(int32(8*(mcb.FrameArgs+i)), asm.RBX), asm.MustReg(regs[i]))
	}
	a.Mov(asm.Mem(8*mcb.FrameEntry, asm.RBX), asm.RAX)
	a.Call(asm.RAX)
	a.Mov(asm.RAX, asm.Mem(8*mcb.FrameResult, asm.RBX))
	a.Add(asm.Imm(reserve), asm.RSP)
	for i := len(trampolineSaved) - 1; i >= 0; i-- {
		a.Pop(trampolineSaved[i])
	}
	a.Ret()
	return a.Assemble()
}

// Invoke calls the code at offset in blk with the argument registers of cc.
// System V calls share mcb's fixed trampoline; other conventions get a
// generated one that lives for the duration of the call.
func Invoke(blk *mcb.Block, cc engine.CallingConvention, offset int, args ...uint64) (result uint64, err error) {
	if cc == nil || cc.Name() == "sysv" {
		return blk.Execute(offset, args...)
	}
	entry, err := blk.Entry(offset)
	if err != nil {
		return 0, err
	}
	tcb, err := Trampoline(cc, len(args))
	if err != nil {
		return 0, err
	}
	tramp, err := tcb.AssembleToMachineCodeBlock()
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, tramp.Free())
	}()
	frame := make([]uint64, mcb.FrameWords)
	frame[mcb.FrameEntry] = uint64(entry)
	copy(frame[mcb.FrameArgs:], args)
	if err := mcb.Call(tramp.Addr(), frame); err != nil {
		return 0, err
	}
	return frame[mcb.FrameResult], nil
}

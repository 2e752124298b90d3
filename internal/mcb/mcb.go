// Completion: 100% - Executable memory blocks complete
package mcb

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tachyon.mcb")

var (
	ErrDoubleFree      = errors.New("machine code block freed twice")
	ErrUseAfterFree    = errors.New("machine code block used after free")
	ErrUnsupportedHost = errors.New("native execution needs an amd64 unix host")
	ErrEmpty           = errors.New("machine code block is empty")
	ErrBadOffset       = errors.New("entry offset outside machine code block")
	ErrTooManyArgs     = errors.New("too many arguments for a native call")
)

// MaxArgs is the number of integer argument registers the trampoline fills
const MaxArgs = 6

// Frame layout shared by the Go stub and every trampoline:
// word 0 is the entry address, words 1-6 the arguments, word 7 the result.
const (
	FrameEntry  = 0
	FrameArgs   = 1
	FrameResult = FrameArgs + MaxArgs
	FrameWords  = FrameResult + 1
)

// Block is a region of executable memory. Its bytes are written while the
// pages are read/write and never again once they are read/execute.
type Block struct {
	mem   []byte
	size  int
	freed bool
}

// Supported reports whether generated code can run on this host
func Supported() bool { return nativeCalls && execMemory }

// New copies code into freshly mapped memory and makes it executable
func New(code []byte) (*Block, error) {
	if len(code) == 0 {
		return nil, ErrEmpty
	}
	mem, err := mapExecutable(code)
	if err != nil {
		return nil, err
	}
	log.Debugf("mapped %d bytes (%d reserved)", len(code), len(mem))
	return &Block{mem: mem, size: len(code)}, nil
}

// Size returns the number of code bytes
func (b *Block) Size() int { return b.size }

// Addr returns the address of the first code byte, 0 once freed
func (b *Block) Addr() uintptr {
	if b.freed || len(b.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.mem[0]))
}

// Bytes returns a copy of the installed code
func (b *Block) Bytes() ([]byte, error) {
	if b.freed {
		return nil, ErrUseAfterFree
	}
	out := make([]byte, b.size)
	copy(out, b.mem[:b.size])
	return out, nil
}

// Freed reports whether Free has been called
func (b *Block) Freed() bool { return b.freed }

// Free unmaps the block. A second call fails with ErrDoubleFree.
func (b *Block) Free() error {
	if b.freed {
		return ErrDoubleFree
	}
	b.freed = true
	mem := b.mem
	b.mem = nil
	if err := unmap(mem); err != nil {
		return fmt.Errorf("cannot unmap machine code block: %w", err)
	}
	return nil
}

// Entry returns the absolute address of offset inside the block
func (b *Block) Entry(offset int) (uintptr, error) {
	if b.freed {
		return 0, ErrUseAfterFree
	}
	if offset < 0 || offset >= b.size {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrBadOffset, offset, b.size)
	}
	return b.Addr() + uintptr(offset), nil
}

// Execute calls the code at offset with up to six integer arguments using
// the System V AMD64 convention and returns rax
func (b *Block) Execute(offset int, args ...uint64) (uint64, error) {
	entry, err := b.Entry(offset)
	if err != nil {
		return 0, err
	}
	if len(args) > MaxArgs {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooManyArgs, len(args), MaxArgs)
	}
	t, err := sysvTrampoline()
	if err != nil {
		return 0, err
	}
	frame := make([]uint64, FrameWords)
	frame[FrameEntry] = uint64(entry)
	copy(frame[FrameArgs:], args)
	if err := Call(t.Addr(), frame); err != nil {
		return 0, err
	}
	return frame[FrameResult], nil
}

// Call runs a trampoline at entry with rdi pointing at frame. The trampoline
// owns the frame layout.
//
// The call itself grows the goroutine stack, and a grown stack is copied to
// a new address. Memory handed to generated code as a raw address, such as a
// PtrAsPtr bridge argument, must therefore live on the heap and stay
// reachable for the duration of the call (pin it with runtime.Pinner).
func Call(entry uintptr, frame []uint64) error {
	if !Supported() {
		return ErrUnsupportedHost
	}
	if entry == 0 || len(frame) == 0 {
		return ErrUseAfterFree
	}
	callNative(entry, unsafe.Pointer(&frame[0]))
	runtime.KeepAlive(frame)
	return nil
}

// trampolineCode loads the frame words into the System V argument
// registers, calls the entry and stores rax in the result slot:
//
//	push rbx; push rbp; push r12; push r13; push r14; push r15
//	sub $8, rsp
//	mov rdi, rbx
//	mov 8(rbx), rdi ... mov 48(rbx), r9
//	mov 0(rbx), rax
//	call rax
//	mov rax, 56(rbx)
//	add $8, rsp
//	pop r15; pop r14; pop r13; pop r12; pop rbp; pop rbx
//	ret
var trampolineCode = []byte{
	0x53, 0x55, 0x41, 0x54, 0x41, 0x55, 0x41, 0x56, 0x41, 0x57,
	0x48, 0x83, 0xec, 0x08,
	0x48, 0x89, 0xfb,
	0x48, 0x8b, 0x7b, 0x08,
	0x48, 0x8b, 0x73, 0x10,
	0x48, 0x8b, 0x53, 0x18,
	0x48, 0x8b, 0x4b, 0x20,
	0x4c, 0x8b, 0x43, 0x28,
	0x4c, 0x8b, 0x4b, 0x30,
	0x48, 0x8b, 0x03,
	0xff, 0xd0,
	0x48, 0x89, 0x43, 0x38,
	0x48, 0x83, 0xc4, 0x08,
	0x41, 0x5f, 0x41, 0x5e, 0x41, 0x5d, 0x41, 0x5c, 0x5d, 0x5b,
	0xc3,
}

// TrampolineCode returns a copy of the shared System V trampoline
func TrampolineCode() []byte {
	return append([]byte(nil), trampolineCode...)
}

var (
	trampolineOnce  sync.Once
	trampolineBlock *Block
	trampolineErr   error
)

// sysvTrampoline installs the shared trampoline once; it is never freed
func sysvTrampoline() (*Block, error) {
	trampolineOnce.Do(func() {
		trampolineBlock, trampolineErr = New(trampolineCode)
	})
	return trampolineBlock, trampolineErr
}

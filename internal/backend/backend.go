// Completion: 100% - Backend entry points complete
package backend

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/ir"
)

var log = commonlog.GetLogger("tachyon.backend")

var (
	ErrUnsupported = errors.New("unsupported by the x86-64 backend")
	ErrEmptyModule = errors.New("module has no functions")
	ErrNoFunction  = errors.New("no such function in code block")
)

// CompileError names the function that failed to compile
type CompileError struct {
	Func string
	Err  error
}

func (e *CompileError) Error() string { return fmt.Sprintf("compiling %s: %v", e.Func, e.Err) }

func (e *CompileError) Unwrap() error { return e.Err }

// Compile lowers a module to an assembled code block. The module's
// functions are laid out in source order, the first at offset 0, followed
// by every primitive they transitively call.
func Compile(m *ir.Module, p *engine.Params) (*asm.CodeBlock, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(m.Funcs) == 0 {
		return nil, ErrEmptyModule
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	alloc, err := NewAllocator(p.RegAlloc)
	if err != nil {
		return nil, err
	}
	scheme, err := box.NewScheme(p.Boxing)
	if err != nil {
		return nil, err
	}

	a := asm.NewAssemblerFor(p)
	funcs := m.Reachable()
	for _, fn := range funcs {
		g := newGen(a, fn, alloc.Allocate(fn), p, scheme)
		if err := g.function(); err != nil {
			return nil, &CompileError{Func: fn.Name, Err: err}
		}
	}
	cb, err := a.Assemble()
	if err != nil {
		return nil, err
	}
	log.Debugf("compiled %s: %d functions, %d bytes (%s)", m.Name, len(funcs), len(cb.Bytes()), alloc.Name())
	if p.DebugTrace {
		log.Debugf("listing of %s:\n%s", m.Name, cb.ListingString())
	}
	return cb, nil
}

// Execute installs cb, runs the code at offset 0 with the calling convention
// cb was compiled for and releases it
func Execute(cb *asm.CodeBlock, args ...uint64) (uint64, error) {
	if err := cb.Assemble(); err != nil {
		return 0, err
	}
	cc, err := engine.LookupCallingConvention(cb.CallConv)
	if err != nil {
		return 0, err
	}
	blk, err := cb.AssembleToMachineCodeBlock()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := blk.Free(); err != nil {
			log.Errorf("release after execute: %v", err)
		}
	}()
	return Invoke(blk, cc, 0, args...)
}

// Listing renders cb in the assembler's listing format
func Listing(cb *asm.CodeBlock) string {
	return cb.ListingString()
}

// UsedPrimitives lists the primitives the module reaches, in layout order
func UsedPrimitives(m *ir.Module) []string {
	var names []string
	for _, fn := range m.Reachable() {
		if fn.Primitive {
			names = append(names, fn.Name)
		}
	}
	return names
}

// EntryOffset returns the offset of a compiled function inside cb
func EntryOffset(cb *asm.CodeBlock, name string) (int, error) {
	off, ok := cb.LabelOffset(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoFunction, name)
	}
	return off, nil
}

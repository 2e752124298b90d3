// Completion: 100% - Calling bridge complete
package bridge

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/backend"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/ir"
	"github.com/xyproto/tachyon/internal/mcb"
)

var log = commonlog.GetLogger("tachyon.bridge")

// ErrBridge is wrapped by every bridge construction and call failure
var ErrBridge = errors.New("bridge error")

// Bridge makes one compiled function callable from Go. It owns two
// executable blocks: the function's code and a trampoline that moves the
// call frame into argument registers. Call and Close must not run
// concurrently.
type Bridge struct {
	fn     *ir.Function
	args   []Spec
	ret    Spec
	scheme *box.Scheme

	code  *mcb.Block
	tramp *mcb.Block
	entry uintptr

	closed bool
}

// Trampoline assembles the code that calls an entry point with argc words
// from a call frame using the calling convention of p
func Trampoline(p *engine.Params, argc int) (*asm.CodeBlock, error) {
	cb, err := backend.Trampoline(p.CallingConvention(), argc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBridge, err)
	}
	return cb, nil
}

// MakeBridge compiles fn together with everything it calls and prepares it
// for calls from Go. The specs must match fn's parameter and result types.
func MakeBridge(fn *ir.Function, p *engine.Params, args []Spec, ret Spec) (*Bridge, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil function", ErrBridge)
	}
	if len(args) != len(fn.Params) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, %d specs given", ErrBridge, fn.Name, len(fn.Params), len(args))
	}
	for i, s := range args {
		if t := fn.Params[i].Typ; s.IRType() != t {
			return nil, fmt.Errorf("%w: argument %d of %s is %s, %s passes %s", ErrBridge, i, fn.Name, t, s, s.IRType())
		}
	}
	if ret.IRType() != fn.Ret {
		return nil, fmt.Errorf("%w: %s returns %s, %s expects %s", ErrBridge, fn.Name, fn.Ret, ret, ret.IRType())
	}
	scheme, err := box.NewScheme(p.Boxing)
	if err != nil {
		return nil, err
	}

	trampCB, err := Trampoline(p, len(args))
	if err != nil {
		return nil, err
	}
	m := ir.NewModule(fn.Name)
	m.Add(fn)
	cb, err := backend.Compile(m, p)
	if err != nil {
		return nil, err
	}

	b := &Bridge{fn: fn, args: append([]Spec(nil), args...), ret: ret, scheme: scheme}
	if b.code, err = cb.AssembleToMachineCodeBlock(); err != nil {
		return nil, err
	}
	if b.tramp, err = trampCB.AssembleToMachineCodeBlock(); err != nil {
		_ = b.code.Free()
		return nil, err
	}
	if b.entry, err = b.code.Entry(0); err != nil {
		b.release()
		return nil, err
	}
	log.Debugf("bridge to %s: %d code bytes, %d trampoline bytes", fn.Name, b.code.Size(), b.tramp.Size())
	return b, nil
}

// Name returns the bridged function's name
func (b *Bridge) Name() string { return b.fn.Name }

// Call converts args by their specs, runs the function and converts the
// result back
func (b *Bridge) Call(args ...box.Value) (box.Value, error) {
	if b.closed {
		return nil, fmt.Errorf("%w: %s: %w", ErrBridge, b.fn.Name, mcb.ErrUseAfterFree)
	}
	if len(args) != len(b.args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBridge, b.fn.Name, len(b.args), len(args))
	}
	frame := make([]uint64, mcb.FrameWords)
	frame[mcb.FrameEntry] = uint64(b.entry)
	for i, s := range b.args {
		w, err := s.toWord(b.scheme, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		frame[mcb.FrameArgs+i] = w
	}
	if err := mcb.Call(b.tramp.Addr(), frame); err != nil {
		return nil, err
	}
	return b.ret.fromWord(b.scheme, frame[mcb.FrameResult])
}

// Func returns Call as a plain function value
func (b *Bridge) Func() func(args ...box.Value) (box.Value, error) {
	return b.Call
}

// Close releases both executable blocks. Closing twice is an error.
func (b *Bridge) Close() error {
	if b.closed {
		return fmt.Errorf("%w: %s: %w", ErrBridge, b.fn.Name, mcb.ErrDoubleFree)
	}
	b.closed = true
	return b.release()
}

func (b *Bridge) release() error {
	var errs []error
	if b.code != nil && !b.code.Freed() {
		errs = append(errs, b.code.Free())
	}
	if b.tramp != nil && !b.tramp.Freed() {
		errs = append(errs, b.tramp.Free())
	}
	return errors.Join(errs...)
}

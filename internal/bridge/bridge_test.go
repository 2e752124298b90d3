package bridge_test

import (
	"runtime"
	"unsafe"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/bridge"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/ir"
	"github.com/xyproto/tachyon/internal/mcb"
	"github.com/xyproto/tachyon/internal/pipeline"
)

const fibSource = `
function fib(n) {
    if (n < 2) return n;
    return fib(n - 1) + fib(n - 2);
}
`

func sysvParams() *engine.Params {
	p := engine.DefaultParams()
	p.Platform = engine.Platform{Arch: engine.ArchX86_64, OS: engine.OSLinux}
	p.CallConv = "sysv"
	return p
}

// pinned copies words to the heap and keeps them at one address until the
// current spec finishes
func pinned(words ...uint64) []uint64 {
	buf := append([]uint64(nil), words...)
	var pin runtime.Pinner
	pin.Pin(&buf[0])
	DeferCleanup(pin.Unpin)
	return buf
}

// triple(x pint) pint = x + x + x
func triple() *ir.Function {
	fn := ir.NewFunction("triple", ir.TypePInt)
	x := fn.AddParam("x", ir.TypePInt)
	b := ir.NewBuilder(fn)
	b.Ret(b.Add(b.Add(x, x), x))
	return fn
}

// peek(p rptr) pint loads the word at p+8
func peek() *ir.Function {
	fn := ir.NewFunction("peek", ir.TypePInt)
	p := fn.AddParam("p", ir.TypeRPtr)
	b := ir.NewBuilder(fn)
	b.Ret(b.ICast(ir.TypePInt, b.Load(ir.TypeI64, p, ir.ConstInt(ir.TypePInt, 8))))
	return fn
}

var _ = Describe("Spec", func() {
	It("should map every spec to its code side type", func() {
		Expect(bridge.IntAsBox.IRType()).To(Equal(ir.TypeBox))
		Expect(bridge.IntAsInt.IRType()).To(Equal(ir.TypePInt))
		Expect(bridge.PtrAsPtr.IRType()).To(Equal(ir.TypeRPtr))
		Expect(bridge.PtrAsBox.IRType()).To(Equal(ir.TypeBox))
		Expect(bridge.PtrAsBox.String()).To(Equal("PtrAsBox"))
	})
})

var _ = Describe("Trampoline", func() {
	It("should load System V argument registers from the frame", func() {
		cb, err := bridge.Trampoline(sysvParams(), 2)
		Expect(err).NotTo(HaveOccurred())
		listing := cb.ListingString()
		Expect(listing).To(HavePrefix("0000: bridge:\n"))
		Expect(listing).To(ContainSubstring("mov 8(rbx), rdi"))
		Expect(listing).To(ContainSubstring("mov 16(rbx), rsi"))
		Expect(listing).NotTo(ContainSubstring("rdx"))
		Expect(listing).To(ContainSubstring("call rax"))
		Expect(listing).To(ContainSubstring("mov rax, 56(rbx)"))
		Expect(listing).To(ContainSubstring("sub $8, rsp"))
	})

	It("should reserve shadow space for win64", func() {
		p := sysvParams()
		p.CallConv = "win64"
		cb, err := bridge.Trampoline(p, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(cb.ListingString()).To(ContainSubstring("mov 8(rbx), rcx"))
		Expect(cb.ListingString()).To(ContainSubstring("sub $40, rsp"))
	})

	It("should refuse more arguments than registers", func() {
		p := sysvParams()
		p.CallConv = "win64"
		_, err := bridge.Trampoline(p, 5)
		Expect(err).To(MatchError(bridge.ErrBridge))
	})
})

var _ = Describe("MakeBridge", func() {
	var (
		pl *pipeline.Pipeline
		p  *engine.Params
	)

	BeforeEach(func() {
		p = sysvParams()
		var err error
		pl, err = pipeline.New(p)
		Expect(err).NotTo(HaveOccurred())
	})

	Context("when the specs do not match the function", func() {
		It("should reject a wrong argument count", func() {
			_, err := bridge.MakeBridge(triple(), p, nil, bridge.IntAsInt)
			Expect(err).To(MatchError(bridge.ErrBridge))
		})

		It("should reject a wrong argument type", func() {
			_, err := bridge.MakeBridge(triple(), p, []bridge.Spec{bridge.IntAsBox}, bridge.IntAsInt)
			Expect(err).To(MatchError(bridge.ErrBridge))
		})

		It("should reject a wrong result type", func() {
			_, err := bridge.MakeBridge(triple(), p, []bridge.Spec{bridge.IntAsInt}, bridge.PtrAsPtr)
			Expect(err).To(MatchError(bridge.ErrBridge))
		})

		It("should reject a nil function", func() {
			_, err := bridge.MakeBridge(nil, p, nil, bridge.IntAsBox)
			Expect(err).To(MatchError(bridge.ErrBridge))
		})
	})

	Context("when running native code", func() {
		BeforeEach(func() {
			if !mcb.Supported() {
				Skip("native execution is not supported on this host")
			}
		})

		It("should call fib compiled from source", func() {
			m, err := pl.CompileSrcString(fibSource)
			Expect(err).NotTo(HaveOccurred())
			b, err := bridge.MakeBridge(m.Lookup("fib"), p, []bridge.Spec{bridge.IntAsBox}, bridge.IntAsBox)
			Expect(err).NotTo(HaveOccurred())
			defer b.Close()

			Expect(b.Name()).To(Equal("fib"))
			v, err := b.Call(box.Int(10))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(box.Value(box.Int(55))))

			fib := b.Func()
			v, err = fib(box.Int(15))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(box.Value(box.Int(610))))
		})

		It("should pass raw integers through", func() {
			b, err := bridge.MakeBridge(triple(), p, []bridge.Spec{bridge.IntAsInt}, bridge.IntAsInt)
			Expect(err).NotTo(HaveOccurred())
			defer b.Close()

			v, err := b.Call(box.Int(-14))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(box.Value(box.Int(-42))))
		})

		It("should pass raw pointers through", func() {
			buf := pinned(0, 1234)
			b, err := bridge.MakeBridge(peek(), p, []bridge.Spec{bridge.PtrAsPtr}, bridge.IntAsInt)
			Expect(err).NotTo(HaveOccurred())
			defer b.Close()

			ref := box.Ref{Kind: box.TagObject, Addr: uintptr(unsafe.Pointer(&buf[0]))}
			v, err := b.Call(ref)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(box.Value(box.Int(1234))))
		})

		It("should box references for arrayLength", func() {
			arr := pinned(3, 0, 0, 0)
			b, err := bridge.MakeBridge(pl.Primitives().Lookup("arrayLength"), p,
				[]bridge.Spec{bridge.PtrAsBox}, bridge.IntAsBox)
			Expect(err).NotTo(HaveOccurred())
			defer b.Close()

			v, err := b.Call(box.Ref{Kind: box.TagArray, Addr: uintptr(unsafe.Pointer(&arr[0]))})
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(box.Value(box.Int(3))))

			// a string is not an array
			v, err = b.Call(box.Ref{Kind: box.TagString, Addr: uintptr(unsafe.Pointer(&arr[0]))})
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(box.Value(box.Undefined{})))
		})

		It("should check host values at call time", func() {
			b, err := bridge.MakeBridge(triple(), p, []bridge.Spec{bridge.IntAsInt}, bridge.IntAsInt)
			Expect(err).NotTo(HaveOccurred())
			defer b.Close()

			_, err = b.Call(box.Null{})
			Expect(err).To(MatchError(bridge.ErrBridge))
			_, err = b.Call()
			Expect(err).To(MatchError(bridge.ErrBridge))
		})

		It("should fail on a second close and on calls after close", func() {
			b, err := bridge.MakeBridge(triple(), p, []bridge.Spec{bridge.IntAsInt}, bridge.IntAsInt)
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Close()).To(Succeed())
			err = b.Close()
			Expect(err).To(MatchError(bridge.ErrBridge))
			Expect(err).To(MatchError(mcb.ErrDoubleFree))

			_, err = b.Call(box.Int(1))
			Expect(err).To(MatchError(mcb.ErrUseAfterFree))
		})
	})
})

package backend

import (
	"errors"
	"strings"
	"testing"

	"github.com/xyproto/tachyon/internal/asm"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/frontend"
	"github.com/xyproto/tachyon/internal/ir"
	"github.com/xyproto/tachyon/internal/mcb"
	"github.com/xyproto/tachyon/internal/prims"
)

const fibSource = `
function fib(n) {
    if (n < 2) return n;
    return fib(n - 1) + fib(n - 2);
}
`

const sumSource = `
function sum(n) {
    var i = 0;
    var s = 0;
    while (i < n) {
        s = s + i;
        i = i + 1;
    }
    return s;
}
`

func compileSource(t *testing.T, p *engine.Params, src string) (*ir.Module, *asm.CodeBlock) {
	t.Helper()
	set, err := prims.New(p, prims.DefaultLayouts())
	if err != nil {
		t.Fatalf("Failed to build primitives: %v", err)
	}
	m, err := frontend.New(set).Compile("test.js", src)
	if err != nil {
		t.Fatalf("Failed to compile source: %v", err)
	}
	cb, err := Compile(m, p)
	if err != nil {
		t.Fatalf("Failed to compile module: %v", err)
	}
	return m, cb
}

func boxInt(t *testing.T, p *engine.Params, v int64) uint64 {
	t.Helper()
	w, err := box.MustScheme(p.Boxing).Box(v, box.TagInt)
	if err != nil {
		t.Fatalf("Failed to box %d: %v", v, err)
	}
	return uint64(w)
}

func unboxInt(t *testing.T, p *engine.Params, w uint64) int64 {
	t.Helper()
	v, err := box.MustScheme(p.Boxing).Unbox(box.Word(w), box.TagInt)
	if err != nil {
		t.Fatalf("Result %#x is not an integer: %v", w, err)
	}
	return v
}

func TestCompileFibListing(t *testing.T) {
	p := testParams()
	m, cb := compileSource(t, p, fibSource)
	listing := Listing(cb)
	if !strings.HasPrefix(listing, "0000: fib:\n") {
		t.Errorf("Expected fib at offset 0, got:\n%s", listing)
	}
	for _, want := range []string{"call fib", "call lt", "call sub", "call add", "lt:", "jl lt.yes"} {
		if !strings.Contains(listing, want) {
			t.Errorf("Expected %q in listing:\n%s", want, listing)
		}
	}
	if strings.Contains(listing, "ud2") {
		t.Errorf("Expected no tag traps without debug params")
	}
	got := strings.Join(UsedPrimitives(m), " ")
	if got != "lt sub add" {
		t.Errorf("Expected primitives lt sub add, got %s", got)
	}
	if off, err := EntryOffset(cb, "fib"); err != nil || off != 0 {
		t.Errorf("Expected fib at offset 0, got %d, %v", off, err)
	}
	if _, err := EntryOffset(cb, "fob"); !errors.Is(err, ErrNoFunction) {
		t.Errorf("Expected ErrNoFunction, got %v", err)
	}
}

func TestCompileDeterministic(t *testing.T) {
	p := testParams()
	_, a := compileSource(t, p, fibSource)
	_, b := compileSource(t, p, fibSource)
	if Listing(a) != Listing(b) || string(a.Bytes()) != string(b.Bytes()) {
		t.Errorf("Expected identical output for identical input")
	}
}

func TestExecuteFib(t *testing.T) {
	if !mcb.Supported() {
		t.Skip("native execution is not supported on this host")
	}
	p := testParams()
	_, cb := compileSource(t, p, fibSource)
	tests := []struct{ n, expected int64 }{{0, 0}, {1, 1}, {2, 1}, {10, 55}, {20, 6765}}
	for _, tt := range tests {
		w, err := Execute(cb, boxInt(t, p, tt.n))
		if err != nil {
			t.Fatalf("Failed to execute: %v", err)
		}
		if got := unboxInt(t, p, w); got != tt.expected {
			t.Errorf("fib(%d): expected %d, got %d", tt.n, tt.expected, got)
		}
	}
}

func TestExecuteLoopWithBothAllocators(t *testing.T) {
	if !mcb.Supported() {
		t.Skip("native execution is not supported on this host")
	}
	for _, name := range []string{engine.RegAllocLinearScan, engine.RegAllocSpillAll} {
		t.Run(name, func(t *testing.T) {
			p := testParams()
			p.RegAlloc = name
			_, cb := compileSource(t, p, sumSource)
			w, err := Execute(cb, boxInt(t, p, 10))
			if err != nil {
				t.Fatalf("Failed to execute: %v", err)
			}
			if got := unboxInt(t, p, w); got != 45 {
				t.Errorf("Expected 45, got %d", got)
			}
		})
	}
}

func TestOverflowGivesUndefined(t *testing.T) {
	if !mcb.Supported() {
		t.Skip("native execution is not supported on this host")
	}
	p := testParams()
	_, cb := compileSource(t, p, "function sq(a) { return a * a; }")
	w, err := Execute(cb, boxInt(t, p, 1<<40))
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if box.Word(w) != box.MustScheme(p.Boxing).Undefined() {
		t.Errorf("Expected undefined on overflow, got %#x", w)
	}
	w, err = Execute(cb, boxInt(t, p, -12))
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if got := unboxInt(t, p, w); got != 144 {
		t.Errorf("Expected 144, got %d", got)
	}
}

func TestDebugParamsEmitTagTraps(t *testing.T) {
	p := testParams()
	p.Debug = true
	_, cb := compileSource(t, p, "function sq(a) { return a * a; }")
	if !strings.Contains(Listing(cb), "ud2") {
		t.Errorf("Expected a tag trap in mul:\n%s", Listing(cb))
	}
}

func TestWin64Listing(t *testing.T) {
	p := testParams()
	p.CallConv = "win64"
	_, cb := compileSource(t, p, fibSource)
	if cb.CallConv != "win64" {
		t.Errorf("Expected the block to record win64, got %q", cb.CallConv)
	}
	listing := Listing(cb)
	// n arrives in rcx and the frame reserves shadow space
	for _, want := range []string{"mov rcx, rbx", "sub $40, rsp"} {
		if !strings.Contains(listing, want) {
			t.Errorf("Expected %q in listing:\n%s", want, listing)
		}
	}
}

func TestExecuteWin64(t *testing.T) {
	if !mcb.Supported() {
		t.Skip("native execution is not supported on this host")
	}
	p := testParams()
	p.CallConv = "win64"
	_, cb := compileSource(t, p, fibSource)
	w, err := Execute(cb, boxInt(t, p, 10))
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if got := unboxInt(t, p, w); got != 55 {
		t.Errorf("Expected 55, got %d", got)
	}
}

func TestTrampoline(t *testing.T) {
	sysv, _ := engine.LookupCallingConvention("sysv")
	win64, _ := engine.LookupCallingConvention("win64")
	cb, err := Trampoline(win64, 2)
	if err != nil {
		t.Fatalf("Failed to build trampoline: %v", err)
	}
	for _, want := range []string{"mov 8(rbx), rcx", "mov 16(rbx), rdx", "sub $40, rsp", "call rax"} {
		if !strings.Contains(cb.ListingString(), want) {
			t.Errorf("Expected %q in:\n%s", want, cb.ListingString())
		}
	}
	if _, err := Trampoline(win64, 5); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for 5 win64 arguments, got %v", err)
	}
	if _, err := Trampoline(sysv, 6); err != nil {
		t.Errorf("Expected 6 System V arguments to fit, got %v", err)
	}
}

func TestCompileErrors(t *testing.T) {
	p := testParams()
	if _, err := Compile(ir.NewModule("empty"), p); !errors.Is(err, ErrEmptyModule) {
		t.Errorf("Expected ErrEmptyModule, got %v", err)
	}

	bad := p.Clone()
	bad.Platform.Arch = engine.ArchARM64
	m := ir.NewModule("m")
	fn := ir.NewFunction("f", ir.TypePInt)
	ir.NewBuilder(fn).Ret(ir.ConstInt(ir.TypePInt, 1))
	m.Add(fn)
	if _, err := Compile(m, bad); !errors.Is(err, engine.ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams, got %v", err)
	}

	set, err := prims.New(p, prims.DefaultLayouts())
	if err != nil {
		t.Fatalf("Failed to build primitives: %v", err)
	}
	wide, err := frontend.New(set).Compile("t", "function f(a, b, c, d, e, g, h) { return a; }")
	if err != nil {
		t.Fatalf("Failed to compile source: %v", err)
	}
	_, err = Compile(wide, p)
	var ce *CompileError
	if !errors.As(err, &ce) || ce.Func != "f" || !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected CompileError for f wrapping ErrUnsupported, got %v", err)
	}
}

// sumParams builds f(p0..p5) = p0+...+p5 on raw integers
func sumParams() *ir.Module {
	fn := ir.NewFunction("f", ir.TypePInt)
	var params []ir.Value
	for _, name := range []string{"a", "b", "c", "d", "e", "g"} {
		params = append(params, fn.AddParam(name, ir.TypePInt))
	}
	b := ir.NewBuilder(fn)
	acc := b.Add(params[5], params[4])
	for i := 3; i >= 0; i-- {
		acc = b.Add(acc, params[i])
	}
	b.Ret(acc)
	m := ir.NewModule("sum6")
	m.Add(fn)
	return m
}

func TestSixArguments(t *testing.T) {
	if !mcb.Supported() {
		t.Skip("native execution is not supported on this host")
	}
	for _, name := range []string{engine.RegAllocLinearScan, engine.RegAllocSpillAll} {
		p := testParams()
		p.RegAlloc = name
		cb, err := Compile(sumParams(), p)
		if err != nil {
			t.Fatalf("%s: failed to compile: %v", name, err)
		}
		got, err := Execute(cb, 1, 2, 3, 4, 5, 6)
		if err != nil {
			t.Fatalf("%s: failed to execute: %v", name, err)
		}
		if got != 21 {
			t.Errorf("%s: expected 21, got %d", name, got)
		}
	}
}

func TestNarrowTypesAndMemory(t *testing.T) {
	if !mcb.Supported() {
		t.Skip("native execution is not supported on this host")
	}
	// f(p) stores 0x1ff as u8 at p+8 and reads it back as i8 and u8
	fn := ir.NewFunction("f", ir.TypePInt)
	ptr := fn.AddParam("p", ir.TypeRPtr)
	b := ir.NewBuilder(fn)
	off := ir.ConstInt(ir.TypePInt, 8)
	b.Store(ir.TypeU8, ptr, off, ir.ConstInt(ir.TypePInt, 0x1ff))
	s := b.ICast(ir.TypePInt, b.Load(ir.TypeI8, ptr, off))
	u := b.ICast(ir.TypePInt, b.Load(ir.TypeU8, ptr, off))
	b.Ret(b.Add(b.Mul(s, ir.ConstInt(ir.TypePInt, 1000)), u))
	m := ir.NewModule("mem")
	m.Add(fn)

	cb, err := Compile(m, testParams())
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	buf := pinnedWords(t, 4)
	got, err := Execute(cb, uint64(addressOf(buf)))
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	// -1*1000 + 255
	if int64(got) != -745 {
		t.Errorf("Expected -745, got %d", int64(got))
	}
	if buf[1]&0xff != 0xff {
		t.Errorf("Expected the byte to be stored, got %#x", buf[1])
	}
}

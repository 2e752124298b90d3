package iir

import (
	"errors"
	"testing"

	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/ir"
)

func TestConstArity(t *testing.T) {
	_, err := Build("const", ir.TypePInt)
	if !errors.Is(err, ErrArity) {
		t.Fatalf("got %v, want ErrArity", err)
	}
	var ae *ArityError
	if !errors.As(err, &ae) || ae.Want != 2 || ae.Got != 1 {
		t.Errorf("unexpected arity detail: %+v", ae)
	}
}

func TestConstType(t *testing.T) {
	_, err := Build("const", ir.TypePInt, 42)
	if !errors.Is(err, ErrType) {
		t.Fatalf("unwrapped constant: got %v, want ErrType", err)
	}
	_, err = Build("const", "nosuchtype", ir.ConstInt(ir.TypePInt, 1))
	if !errors.Is(err, ErrType) {
		t.Fatalf("bad type: got %v, want ErrType", err)
	}
}

func TestConst(t *testing.T) {
	v, err := Build("const", "u8", ir.ConstInt(ir.TypePInt, 7))
	if err != nil {
		t.Fatal(err)
	}
	c, ok := v.(*ir.Const)
	if !ok || c.Typ != ir.TypeU8 || c.Bits != 7 {
		t.Errorf("const = %v", v)
	}
}

func TestOverflowNeedsBothTargets(t *testing.T) {
	f := ir.NewFunction("f", ir.TypePInt)
	normal := f.NewBlock("normal")
	x := ir.ConstInt(ir.TypePInt, 1)

	if _, err := AddOvf(x, x, normal); !errors.Is(err, ErrArity) {
		t.Errorf("three args: got %v, want ErrArity", err)
	}
	var missing *ir.Block
	if _, err := SubOvf(x, x, normal, missing); !errors.Is(err, ErrType) {
		t.Errorf("nil overflow target: got %v, want ErrType", err)
	}
	if _, err := MulOvf(x, ir.ConstInt(ir.TypeI32, 1), normal, normal); !errors.Is(err, ErrType) {
		t.Errorf("mixed types: got %v, want ErrType", err)
	}

	narrow := ir.ConstInt(ir.TypeI32, 1)
	_, err := AddOvf(narrow, narrow, normal, normal)
	var te *TypeError
	if !errors.As(err, &te) || te.Index != 0 {
		t.Errorf("i32 operands: got %v, want a TypeError for argument 0", err)
	}

	ovf := f.NewBlock("ovf")
	v, err := Build("mul_ovf", x, x, normal, ovf)
	if err != nil {
		t.Fatal(err)
	}
	in := v.(*ir.Instr)
	if in.Op != ir.OpMulOvf || in.Targets[0] != normal || in.Targets[1] != ovf {
		t.Errorf("mul_ovf targets out of order: %s", in.Format())
	}
}

func TestMemoryAndConversions(t *testing.T) {
	ptr := ir.ConstInt(ir.TypeRPtr, 0x1000)
	off := ir.ConstInt(ir.TypePInt, 8)
	word := ir.NewConst(ir.TypeBox, 40)

	tests := []struct {
		name string
		args []any
		op   ir.Op
		typ  ir.Type
	}{
		{"load", []any{ir.TypeI32, ptr, off}, ir.OpLoad, ir.TypeI32},
		{"store", []any{"u16", ptr, off, ir.ConstInt(ir.TypePInt, 3)}, ir.OpStore, ir.TypeNone},
		{"box", []any{box.TagInt, ir.ConstInt(ir.TypePInt, 10)}, ir.OpBox, ir.TypeBox},
		{"box", []any{"array", ptr}, ir.OpBox, ir.TypeBox},
		{"unbox", []any{box.TagInt, word}, ir.OpUnbox, ir.TypePInt},
		{"unbox", []any{box.TagObject, word}, ir.OpUnbox, ir.TypeRPtr},
		{"icast", []any{ir.TypePInt, word}, ir.OpICast, ir.TypePInt},
		{"itof", []any{ir.ConstInt(ir.TypeI64, 3)}, ir.OpIToF, ir.TypeF64},
		{"ftoi", []any{ir.TypeI64, ir.ConstF64(2.5)}, ir.OpFToI, ir.TypeI64},
	}
	for _, tt := range tests {
		v, err := Build(tt.name, tt.args...)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		in := v.(*ir.Instr)
		if in.Op != tt.op || in.Typ != tt.typ {
			t.Errorf("%s: got %s", tt.name, in.Format())
		}
	}
}

func TestShapeErrors(t *testing.T) {
	ptr := ir.ConstInt(ir.TypeRPtr, 0x1000)
	tests := []struct {
		name string
		args []any
	}{
		{"load", []any{ir.TypeI64, ir.ConstF64(1), ir.ConstInt(ir.TypePInt, 0)}},
		{"load", []any{ir.TypeI64, ptr, ir.ConstInt(ir.TypeI32, 0)}},
		{"store", []any{ir.TypeI64, ptr, ir.ConstInt(ir.TypePInt, 0), ir.ConstInt(ir.TypeI8, 1)}},
		{"box", []any{box.Tag(99), ir.ConstInt(ir.TypePInt, 1)}},
		{"box", []any{box.TagString, ir.ConstF64(1)}},
		{"unbox", []any{box.TagInt, ir.ConstInt(ir.TypePInt, 4)}},
		{"icast", []any{ir.TypeF64, ir.ConstInt(ir.TypePInt, 4)}},
		{"itof", []any{ir.ConstF64(1)}},
		{"ftoi", []any{ir.TypeI64, ir.ConstInt(ir.TypeI64, 1)}},
	}
	for _, tt := range tests {
		if _, err := Build(tt.name, tt.args...); !errors.Is(err, ErrType) {
			t.Errorf("%s%v: got %v, want ErrType", tt.name, tt.args, err)
		}
	}
}

func TestCatalog(t *testing.T) {
	want := []string{"add_ovf", "box", "const", "ftoi", "icast", "itof", "load", "mul_ovf", "store", "sub_ovf", "unbox"}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("Names = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names[%d] = %s, want %s", i, got[i], want[i])
		}
		if _, ok := Lookup(want[i]); !ok {
			t.Errorf("Lookup(%s) failed", want[i])
		}
	}
	if _, err := Build("jmp"); !errors.Is(err, ErrUnknown) {
		t.Errorf("got %v, want ErrUnknown", err)
	}
}

func TestBuiltNodesAppend(t *testing.T) {
	f := ir.NewFunction("inc", ir.TypeBox)
	arg := f.AddParam("x", ir.TypeBox)
	b := ir.NewBuilder(f)
	normal := b.NewBlock("normal")
	ovf := b.NewBlock("ovf")

	raw, _ := ICast(ir.TypePInt, arg)
	b.Append(raw)
	one, _ := Const(ir.TypePInt, ir.ConstInt(ir.TypePInt, 4))
	sum, err := AddOvf(raw, one, normal, ovf)
	if err != nil {
		t.Fatal(err)
	}
	b.Append(sum)

	b.SetBlock(normal)
	res, _ := ICast(ir.TypeBox, sum)
	b.Append(res)
	b.Ret(res)

	b.SetBlock(ovf)
	b.Ret(ir.NewConst(ir.TypeBox, 0x19))

	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v\n%s", err, f)
	}
}

package ir

import (
	"errors"
	"strings"
	"testing"

	"github.com/xyproto/tachyon/internal/box"
)

// buildSum builds sum(n) = 0 + 1 + ... + n-1 with a loop and phis
func buildSum() *Function {
	f := NewFunction("sum", TypePInt)
	n := f.AddParam("n", TypePInt)
	b := NewBuilder(f)
	entry := b.Block()
	header := b.NewBlock("header")
	body := b.NewBlock("body")
	exit := b.NewBlock("exit")

	b.Jump(header)

	b.SetBlock(header)
	i := b.Phi(TypePInt)
	acc := b.Phi(TypePInt)
	cond := b.Compare(OpLt, i, n)
	b.If(cond, body, exit)

	b.SetBlock(body)
	acc2 := b.Add(acc, i)
	i2 := b.Add(i, ConstInt(TypePInt, 1))
	b.Jump(header)

	i.AddIncoming(entry, ConstInt(TypePInt, 0))
	i.AddIncoming(body, i2)
	acc.AddIncoming(entry, ConstInt(TypePInt, 0))
	acc.AddIncoming(body, acc2)

	b.SetBlock(exit)
	b.Ret(acc)
	return f
}

func TestValidateLoop(t *testing.T) {
	f := buildSum()
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v\n%s", err, f)
	}
	preds := f.Preds()
	if len(preds[f.Blocks[1]]) != 2 {
		t.Errorf("header should have 2 preds, got %d", len(preds[f.Blocks[1]]))
	}
}

func TestPrint(t *testing.T) {
	f := buildSum()
	s := f.String()
	for _, want := range []string{
		"function sum(pint %n) pint {",
		"header:",
		"= pint phi [pint 0, entry], [%t",
		"= bool lt %t1, %n",
		"if %t3, body, exit",
		"ret %t2",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("listing lacks %q:\n%s", want, s)
		}
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Function
		want  string
	}{
		{"no terminator", func() *Function {
			f := NewFunction("f", TypePInt)
			b := NewBuilder(f)
			b.Add(ConstInt(TypePInt, 1), ConstInt(TypePInt, 2))
			return f
		}, "does not end in a terminator"},
		{"mixed types", func() *Function {
			f := NewFunction("f", TypePInt)
			b := NewBuilder(f)
			v := b.Add(ConstInt(TypePInt, 1), ConstInt(TypeI32, 2))
			b.Ret(v)
			return f
		}, "one integer type"},
		{"ret type", func() *Function {
			f := NewFunction("f", TypeBox)
			b := NewBuilder(f)
			b.Ret(ConstInt(TypePInt, 0))
			return f
		}, "function returns box"},
		{"phi after if", func() *Function {
			f := NewFunction("f", TypePInt)
			b := NewBuilder(f)
			join := b.NewBlock("join")
			b.If(ConstBool(true), join, join)
			b.SetBlock(join)
			p := b.Phi(TypePInt)
			p.AddIncoming(f.Entry(), ConstInt(TypePInt, 1))
			p.AddIncoming(f.Entry(), ConstInt(TypePInt, 2))
			b.Ret(p)
			return f
		}, "want jump"},
		{"missing overflow target", func() *Function {
			f := NewFunction("f", TypePInt)
			b := NewBuilder(f)
			ok := b.NewBlock("ok")
			x := b.Overflow(OpAddOvf, ConstInt(TypePInt, 1), ConstInt(TypePInt, 2), ok, nil)
			b.SetBlock(ok)
			b.Ret(x)
			return f
		}, "missing branch target"},
		{"narrow overflow", func() *Function {
			f := NewFunction("f", TypeI32)
			b := NewBuilder(f)
			ok, ovf := b.NewBlock("ok"), b.NewBlock("ovf")
			x := b.Overflow(OpMulOvf, ConstInt(TypeI32, 3), ConstInt(TypeI32, 2), ok, ovf)
			b.SetBlock(ok)
			b.Ret(x)
			b.SetBlock(ovf)
			b.Ret(ConstInt(TypeI32, 0))
			return f
		}, "needs 64-bit operands"},
		{"unbox non-box", func() *Function {
			f := NewFunction("f", TypePInt)
			b := NewBuilder(f)
			b.Ret(b.Unbox(box.TagInt, ConstInt(TypePInt, 4)))
			return f
		}, "unbox of non-box"},
		{"call arity", func() *Function {
			g := NewFunction("g", TypePInt)
			g.AddParam("x", TypePInt)
			f := NewFunction("f", TypePInt)
			b := NewBuilder(f)
			b.Ret(b.Call(g))
			return f
		}, "takes 1 arguments"},
	}
	for _, tt := range tests {
		err := tt.build().Validate()
		if !errors.Is(err, ErrInvalidIR) {
			t.Errorf("%s: got %v, want ErrInvalidIR", tt.name, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error %q lacks %q", tt.name, err, tt.want)
		}
	}
}

func TestReachable(t *testing.T) {
	leaf := NewFunction("leaf", TypePInt)
	lb := NewBuilder(leaf)
	lb.Ret(ConstInt(TypePInt, 1))
	leaf.Primitive = true

	mid := NewFunction("mid", TypePInt)
	mb := NewBuilder(mid)
	mb.Ret(mb.Call(leaf))
	mid.Primitive = true

	main := NewFunction("main", TypePInt)
	b := NewBuilder(main)
	b.Ret(b.Call(mid))

	m := NewModule("test")
	m.Add(main)
	got := m.Reachable()
	if len(got) != 3 || got[0] != main || got[1] != mid || got[2] != leaf {
		t.Fatalf("Reachable = %v", got)
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestBlockNamesUnique(t *testing.T) {
	f := NewFunction("f", TypeNone)
	a := f.NewBlock("then")
	b := f.NewBlock("then")
	if a.Name == b.Name {
		t.Errorf("duplicate block names %q", a.Name)
	}
}

func TestParseType(t *testing.T) {
	for _, name := range []string{"box", "pint", "u8", "F64"} {
		if _, err := ParseType(name); err != nil {
			t.Errorf("ParseType(%q): %v", name, err)
		}
	}
	if _, err := ParseType("i128"); err == nil {
		t.Error("expected error")
	}
}

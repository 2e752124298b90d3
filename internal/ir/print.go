package ir

import (
	"fmt"
	"strings"
)

// String renders the function in a readable textual form
func (f *Function) String() string {
	var sb strings.Builder
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("%s %s", p.Typ, p)
	}
	kind := "function"
	if f.Primitive {
		kind = "primitive"
	}
	fmt.Fprintf(&sb, "%s %s(%s) %s {\n", kind, f.Name, strings.Join(params, ", "), f.Ret)
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b.Name)
		for _, in := range b.Instrs {
			fmt.Fprintf(&sb, "  %s\n", in.Format())
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// String renders every function of the module
func (m *Module) String() string {
	parts := make([]string, len(m.Funcs))
	for i, f := range m.Funcs {
		parts[i] = f.String()
	}
	return strings.Join(parts, "\n")
}

// Format renders the instruction as "%tN = op operands"
func (i *Instr) Format() string {
	var ops []string
	switch i.Op {
	case OpPhi:
		for k, v := range i.Args {
			ops = append(ops, fmt.Sprintf("[%s, %s]", v, i.Incoming[k].Name))
		}
	case OpCall:
		name := "<nil>"
		if i.Callee != nil {
			name = i.Callee.Name
		}
		ops = append(ops, name)
		for _, v := range i.Args {
			ops = append(ops, v.String())
		}
	case OpBox, OpUnbox:
		ops = append(ops, i.Tag.String())
		for _, v := range i.Args {
			ops = append(ops, v.String())
		}
	case OpStore:
		ops = append(ops, i.Width.String())
		for _, v := range i.Args {
			ops = append(ops, v.String())
		}
	default:
		for _, v := range i.Args {
			ops = append(ops, v.String())
		}
	}
	for _, t := range i.Targets {
		if t == nil {
			ops = append(ops, "<nil>")
			continue
		}
		ops = append(ops, t.Name)
	}
	s := i.Op.String()
	if len(ops) > 0 {
		s += " " + strings.Join(ops, ", ")
	}
	if i.Typ != TypeNone {
		return fmt.Sprintf("%s = %s %s", i, i.Typ, s)
	}
	return s
}

package frontend

import (
	"errors"
	"strings"
	"testing"

	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/ir"
	"github.com/xyproto/tachyon/internal/prims"
)

const fibSource = `
// recursive fibonacci
function fib(n) {
    if (n < 2) return n;
    return fib(n - 1) + fib(n - 2);
}
`

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	set, err := prims.New(engine.DefaultParams(), prims.DefaultLayouts())
	if err != nil {
		t.Fatalf("Failed to build primitives: %v", err)
	}
	return New(set)
}

func calleeNames(fn *ir.Function) []string {
	var names []string
	for _, c := range fn.Callees() {
		names = append(names, c.Name)
	}
	return names
}

func TestParseProgram(t *testing.T) {
	prog, err := Parse(fibSource)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if len(prog.Funcs) != 1 {
		t.Fatalf("Expected 1 function, got %d", len(prog.Funcs))
	}
	fn := prog.Funcs[0]
	if fn.Name != "fib" || len(fn.Params) != 1 || fn.Params[0] != "n" {
		t.Errorf("Unexpected declaration %s(%v)", fn.Name, fn.Params)
	}
	if len(fn.Body.Statements) != 2 {
		t.Errorf("Expected 2 statements, got %d: %s", len(fn.Body.Statements), fn.Body)
	}
	if fn.Loc.Line != 3 {
		t.Errorf("Expected fib on line 3, got %d", fn.Loc.Line)
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		expr     string
		expected string
	}{
		{"a + b * c < a - -1", "((a + (b * c)) < (a - -1))"},
		{"a - b - c", "((a - b) - c)"},
		{"a == b < c", "(a == (b < c))"},
		{"!a === false", "((!a) === false)"},
		{"(a + b) * c", "((a + b) * c)"},
		{"f(a, g(b), 0x10)", "f(a, g(b), 16)"},
		{"-x", "(-x)"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			prog, err := Parse("function f(a, b, c, x) { return " + tt.expr + "; }")
			if err != nil {
				t.Fatalf("Failed to parse: %v", err)
			}
			ret := prog.Funcs[0].Body.Statements[0].(*ReturnStmt)
			if got := ret.Value.String(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestOptionalSemicolons(t *testing.T) {
	src := `function f(x) {
    var y = x
    y = y + 1
    return y
}
function g() { return }`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if len(prog.Funcs) != 2 || len(prog.Funcs[0].Body.Statements) != 3 {
		t.Errorf("Unexpected program: %s", prog)
	}
	if ret := prog.Funcs[1].Body.Statements[0].(*ReturnStmt); ret.Value != nil {
		t.Errorf("Expected bare return, got %s", ret)
	}
}

func TestSyntaxErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		message string
		line    int
	}{
		{"missing paren", "function f(a { return a; }", "expected ')'", 1},
		{"top level statement", "var x = 1;", "expected function declaration", 1},
		{"unterminated block", "function f() {\n return 1;\n", "expected '}'", 3},
		{"illegal character", "function f() { return 1 @ 2; }", "character '@'", 1},
		{"unterminated comment", "function f() { /* never closed", "unterminated comment", 1},
		{"bad number", "function f() { return 0xzz; }", "invalid number literal", 1},
		{"nested function", "function f() { function g() {} }", "nested function", 1},
		{"missing operand", "function f(a) { return a + ; }", "unexpected ';'", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.source)
			if err == nil {
				t.Fatalf("Expected a syntax error")
			}
			if !errors.Is(err, ErrSyntax) {
				t.Errorf("Expected ErrSyntax, got %v", err)
			}
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("Expected *SyntaxError, got %T", err)
			}
			if !strings.Contains(se.Message, tt.message) {
				t.Errorf("Expected message containing %q, got %q", tt.message, se.Message)
			}
			if se.Location.Line != tt.line {
				t.Errorf("Expected line %d, got %d", tt.line, se.Location.Line)
			}
		})
	}
}

func TestLowerFib(t *testing.T) {
	c := newCompiler(t)
	m, err := c.Compile("fib.js", fibSource)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	fib := m.Lookup("fib")
	if fib == nil {
		t.Fatalf("Expected fib in module")
	}
	if fib.Ret != ir.TypeBox || len(fib.Params) != 1 || fib.Params[0].Typ != ir.TypeBox {
		t.Errorf("Expected fib(box) box, got %s", fib)
	}
	got := strings.Join(calleeNames(fib), " ")
	if got != "lt sub fib add" {
		t.Errorf("Expected callees lt sub fib add, got %s", got)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Module does not validate: %v", err)
	}
}

func TestComparisonConditionSkipsBoxToBool(t *testing.T) {
	c := newCompiler(t)
	m, err := c.Compile("t", "function f(a, b) { if (a < b) return 1; return 2; }")
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	entry := m.Lookup("f").Entry()
	text := m.Lookup("f").String()
	if strings.Contains(text, "boxToBool") {
		t.Errorf("Expected no boxToBool call:\n%s", text)
	}
	term := entry.Terminator()
	if term.Op != ir.OpIf {
		t.Fatalf("Expected entry to end in if, got %s", term.Format())
	}
	cmp, ok := term.Args[0].(*ir.Instr)
	if !ok || cmp.Op != ir.OpEq {
		t.Errorf("Expected the branch to test eq against true, got %s", term.Args[0])
	}

	m, err = c.Compile("t", "function g(a) { if (a) return 1; return 2; }")
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	if got := calleeNames(m.Lookup("g")); len(got) != 1 || got[0] != "boxToBool" {
		t.Errorf("Expected a boxToBool call, got %v", got)
	}
}

func TestNegatedConditionSwapsTargets(t *testing.T) {
	c := newCompiler(t)
	m, err := c.Compile("t", "function f(a) { if (!a) return 1; return 2; }")
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	f := m.Lookup("f")
	for _, name := range calleeNames(f) {
		if name == "not" {
			t.Errorf("Expected ! in a condition to swap branch targets:\n%s", f)
		}
	}
	term := f.Entry().Terminator()
	if term.Targets[0].Name != "else" || term.Targets[1].Name != "then" {
		t.Errorf("Expected targets else, then; got %s", term.Format())
	}
}

func TestWhileLoopPhis(t *testing.T) {
	c := newCompiler(t)
	src := `function sum(n) {
    var i = 0;
    var s = 0;
    while (i < n) {
        s = s + i;
        i = i + 1;
    }
    return s;
}`
	m, err := c.Compile("t", src)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	f := m.Lookup("sum")
	var header *ir.Block
	for _, b := range f.Blocks {
		if b.Name == "loop" {
			header = b
		}
	}
	if header == nil {
		t.Fatalf("Expected a loop block:\n%s", f)
	}
	// n never changes inside the loop
	if got := len(header.Phis()); got != 2 {
		t.Errorf("Expected 2 phis in the loop header, got %d:\n%s", got, f)
	}
	for _, phi := range header.Phis() {
		if len(phi.Incoming) != 2 {
			t.Errorf("Expected 2 incoming edges, got %s", phi.Format())
		}
	}
}

func TestIfJoin(t *testing.T) {
	c := newCompiler(t)
	m, err := c.Compile("t", `
function f(x) {
    var y = 1;
    if (x) { y = 2; }
    return y;
}
function g(x) {
    if (x) return 1; else return 2;
}`)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	f := m.Lookup("f")
	last := f.Blocks[len(f.Blocks)-1]
	if last.Name != "join" || len(last.Phis()) != 1 {
		t.Errorf("Expected a join block with one phi:\n%s", f)
	}
	g := m.Lookup("g")
	for _, b := range g.Blocks {
		if strings.HasPrefix(b.Name, "join") {
			t.Errorf("Expected no join block when both arms return:\n%s", g)
		}
	}
	if len(g.Blocks) != 3 {
		t.Errorf("Expected entry, then and else blocks, got %d", len(g.Blocks))
	}
}

func TestImplicitReturnAndDeadCode(t *testing.T) {
	c := newCompiler(t)
	m, err := c.Compile("t", "function f() { return 1; return 2; } function g() { var x; }")
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	f := m.Lookup("f")
	if len(f.Blocks) != 1 || len(f.Entry().Instrs) != 1 {
		t.Errorf("Expected the second return to be dropped:\n%s", f)
	}
	g := m.Lookup("g")
	ret := g.Entry().Terminator()
	if ret == nil || ret.Op != ir.OpRet {
		t.Fatalf("Expected g to return, got:\n%s", g)
	}
	undef := c.scheme.Undefined()
	if k, ok := ret.Args[0].(*ir.Const); !ok || k.Bits != uint64(undef) {
		t.Errorf("Expected g to return undefined, got %s", ret.Format())
	}
}

func TestForwardCalls(t *testing.T) {
	c := newCompiler(t)
	m, err := c.Compile("t", "function a() { return b(); } function b() { return 7; }")
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	if got := calleeNames(m.Lookup("a")); len(got) != 1 || got[0] != "b" {
		t.Errorf("Expected a to call b, got %v", got)
	}
}

func TestLoweringErrors(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		message    string
		suggestion string
	}{
		{"undefined variable", "function f(count) { return cout; }", "undefined variable 'cout'", "count"},
		{"undeclared assignment", "function f(total) { totl = 1; }", "undeclared variable 'totl'", "total"},
		{"undefined function", "function fib(n) { return fob(n); }", "undefined function 'fob'", "fib"},
		{"arity", "function f(a) { return f(1, 2); }", "takes 1 arguments, got 2", ""},
		{"primitive arity", "function f(a) { return add(a); }", "takes 2 arguments, got 1", ""},
		{"duplicate function", "function f() {} function f() {}", "already declared", ""},
		{"duplicate parameter", "function f(a, a) {}", "duplicate parameter 'a'", ""},
		{"shadows primitive", "function add(a, b) { return a; }", "shadows a primitive", ""},
		{"unboxed primitive", "function f() { return boxInt(1); }", "cannot be called from source", ""},
		{"literal range", "function f() { return 0x7fffffffffffffff; }", "out of range", ""},
	}
	c := newCompiler(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile("t.js", tt.source)
			if err == nil {
				t.Fatalf("Expected a lowering error")
			}
			if !errors.Is(err, ErrLowering) {
				t.Errorf("Expected ErrLowering, got %v", err)
			}
			var le *LoweringError
			if !errors.As(err, &le) {
				t.Fatalf("Expected *LoweringError, got %T", err)
			}
			if !strings.Contains(le.Message, tt.message) {
				t.Errorf("Expected message containing %q, got %q", tt.message, le.Message)
			}
			if tt.suggestion != "" && !strings.Contains(le.Suggestion, tt.suggestion) {
				t.Errorf("Expected suggestion %q, got %q", tt.suggestion, le.Suggestion)
			}
			if le.Location.File != "t.js" {
				t.Errorf("Expected file t.js in location, got %q", le.Location.File)
			}
		})
	}
}

func TestErrorFormat(t *testing.T) {
	c := newCompiler(t)
	_, err := c.Compile("t.js", "function f(count) {\n    return cout;\n}")
	var le *LoweringError
	if !errors.As(err, &le) {
		t.Fatalf("Expected *LoweringError, got %v", err)
	}
	out := le.Format()
	for _, want := range []string{"--> t.js:2:12", "return cout;", "^^^^", "help: did you mean 'count'?"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
}

// Completion: 100% - SSA lowering complete for the supported subset
package frontend

import (
	"fmt"
	"sort"

	"github.com/tliron/commonlog"
	"github.com/xyproto/tachyon/internal/box"
	"github.com/xyproto/tachyon/internal/engine"
	"github.com/xyproto/tachyon/internal/ir"
	"github.com/xyproto/tachyon/internal/prims"
)

var log = commonlog.GetLogger("tachyon.frontend")

// binaryPrims maps source operators to the primitive implementing them
var binaryPrims = map[string]string{
	"+": "add", "-": "sub", "*": "mul",
	"<": "lt", "<=": "le", ">": "gt", ">=": "ge",
	"==": "eq", "===": "eq", "!=": "ne", "!==": "ne",
}

// Compiler turns source text into an IR module. Every value in user code
// is a box: parameters, locals and results. Operators and comparisons are
// calls to the primitive library.
type Compiler struct {
	set    *prims.Set
	scheme *box.Scheme
}

// New returns a compiler that lowers onto the primitives in set
func New(set *prims.Set) *Compiler {
	return &Compiler{set: set, scheme: set.Scheme()}
}

// Compile parses and lowers src into a module called name
func (c *Compiler) Compile(name, src string) (*ir.Module, error) {
	prog, err := NewParserWithFilename(src, name).ParseProgram()
	if err != nil {
		return nil, err
	}
	return c.Lower(name, src, prog)
}

// lowerBailout carries the first lowering error out of the recursion
type lowerBailout struct{ err *LoweringError }

// Lower builds an IR module from a parsed program. src is only used to
// quote source lines in errors.
func (c *Compiler) Lower(name, src string, prog *Program) (m *ir.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(lowerBailout)
			if !ok {
				panic(r)
			}
			m, err = nil, b.err
		}
	}()

	l := &lowering{c: c, src: src, funcs: make(map[string]*ir.Function)}
	m = ir.NewModule(name)

	// Pass 1: declare every function so calls may refer forward
	for _, decl := range prog.Funcs {
		if c.set.IsPrimitive(decl.Name) {
			l.fail(decl.Loc, nil, "function '%s' shadows a primitive", decl.Name)
		}
		if _, dup := l.funcs[decl.Name]; dup {
			l.fail(decl.Loc, nil, "function '%s' is already declared", decl.Name)
		}
		fn := ir.NewFunction(decl.Name, ir.TypeBox)
		seen := make(map[string]bool)
		for _, p := range decl.Params {
			if seen[p] {
				l.fail(decl.Loc, nil, "duplicate parameter '%s' in function '%s'", p, decl.Name)
			}
			seen[p] = true
			fn.AddParam(p, ir.TypeBox)
		}
		l.funcs[decl.Name] = fn
		m.Add(fn)
	}

	// Pass 2: bodies
	for _, decl := range prog.Funcs {
		l.function(decl, l.funcs[decl.Name])
	}

	if err := m.Validate(); err != nil {
		return nil, &CompilerError{Category: CategoryInternal, Message: err.Error()}
	}
	log.Debugf("lowered %d functions from %s", len(m.Funcs), name)
	return m, nil
}

// env maps each variable to its current SSA value
type env map[string]ir.Value

func (e env) clone() env {
	out := make(env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// names returns the variables in sorted order so phis are deterministic
func (e env) names() []string {
	out := make([]string, 0, len(e))
	for k := range e {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type lowering struct {
	c     *Compiler
	src   string
	funcs map[string]*ir.Function

	fn  *ir.Function
	b   *ir.Builder
	env env
}

func (l *lowering) fail(loc SourceLocation, suggestions []string, format string, args ...any) {
	panic(lowerBailout{newLoweringError(l.src, fmt.Sprintf(format, args...), loc, suggestions)})
}

func (l *lowering) word(w box.Word) ir.Value { return ir.NewConst(ir.TypeBox, uint64(w)) }

func (l *lowering) undefined() ir.Value { return l.word(l.c.scheme.Undefined()) }

func (l *lowering) prim(name string) *ir.Function {
	fn := l.c.set.Lookup(name)
	if fn == nil {
		panic(fmt.Sprintf("primitive %s is missing from the library", name))
	}
	return fn
}

func (l *lowering) function(decl *FuncDecl, fn *ir.Function) {
	l.fn = fn
	l.b = ir.NewBuilder(fn)
	l.env = make(env)
	for _, p := range fn.Params {
		l.env[p.Name] = p
	}
	// var declarations are hoisted and start out undefined
	hoist(decl.Body, func(name string) {
		if _, ok := l.env[name]; !ok {
			l.env[name] = l.undefined()
		}
	})
	l.block(decl.Body)
	if !l.b.Terminated() {
		l.b.Ret(l.undefined())
	}
}

func hoist(s Statement, declare func(string)) {
	switch s := s.(type) {
	case *BlockStmt:
		for _, st := range s.Statements {
			hoist(st, declare)
		}
	case *VarStmt:
		declare(s.Name)
	case *IfStmt:
		hoist(s.Then, declare)
		if s.Else != nil {
			hoist(s.Else, declare)
		}
	case *WhileStmt:
		hoist(s.Body, declare)
	}
}

func (l *lowering) block(b *BlockStmt) {
	for _, s := range b.Statements {
		if l.b.Terminated() {
			// unreachable after return
			return
		}
		l.statement(s)
	}
}

func (l *lowering) statement(s Statement) {
	switch s := s.(type) {
	case *BlockStmt:
		l.block(s)
	case *VarStmt:
		if s.Value != nil {
			l.env[s.Name] = l.expr(s.Value)
		}
	case *AssignStmt:
		if _, ok := l.env[s.Name]; !ok {
			l.fail(s.Loc, engine.SimilarNames(s.Name, l.env.names(), 3), "assignment to undeclared variable '%s'", s.Name)
		}
		l.env[s.Name] = l.expr(s.Value)
	case *ExprStmt:
		l.expr(s.Expr)
	case *ReturnStmt:
		v := l.undefined()
		if s.Value != nil {
			v = l.expr(s.Value)
		}
		l.b.Ret(v)
	case *IfStmt:
		l.ifStmt(s)
	case *WhileStmt:
		l.whileStmt(s)
	default:
		panic(fmt.Sprintf("unhandled statement %T", s))
	}
}

// branch is a predecessor of a join block with the bindings it carries
type branch struct {
	from *ir.Block
	env  env
}

func (l *lowering) ifStmt(s *IfStmt) {
	then := l.b.NewBlock("then")
	els := l.b.NewBlock("else")
	l.cond(s.Cond, then, els)
	before := l.env

	var arrivals []branch
	var join *ir.Block
	arm := func(blk *ir.Block, body Statement) {
		l.b.SetBlock(blk)
		l.env = before.clone()
		if body != nil {
			l.statement(body)
		}
		if l.b.Terminated() {
			return
		}
		if join == nil {
			join = l.b.NewBlock("join")
		}
		arrivals = append(arrivals, branch{l.b.Block(), l.env})
		l.b.Jump(join)
	}
	arm(then, s.Then)
	arm(els, s.Else)

	if join == nil {
		// both arms returned; leave the builder on a terminated block
		l.env = before
		return
	}
	l.b.SetBlock(join)
	l.env = l.merge(arrivals)
}

// merge binds each variable in a join block, inserting a phi where the
// incoming values differ
func (l *lowering) merge(arrivals []branch) env {
	out := make(env)
	for _, name := range arrivals[0].env.names() {
		first := arrivals[0].env[name]
		same := true
		for _, a := range arrivals[1:] {
			if a.env[name] != first {
				same = false
				break
			}
		}
		if same {
			out[name] = first
			continue
		}
		phi := l.b.Phi(ir.TypeBox)
		for _, a := range arrivals {
			phi.AddIncoming(a.from, a.env[name])
		}
		out[name] = phi
	}
	return out
}

func (l *lowering) whileStmt(s *WhileStmt) {
	header := l.b.NewBlock("loop")
	pre := l.b.Block()
	l.b.Jump(header)

	l.b.SetBlock(header)
	phis := make(map[string]*ir.Instr)
	for _, name := range l.env.names() {
		phi := l.b.Phi(ir.TypeBox)
		phi.AddIncoming(pre, l.env[name])
		phis[name] = phi
		l.env[name] = phi
	}
	loopEnv := l.env.clone()

	body := l.b.NewBlock("body")
	exit := l.b.NewBlock("exit")
	l.cond(s.Cond, body, exit)

	l.b.SetBlock(body)
	l.statement(s.Body)
	if !l.b.Terminated() {
		for name, phi := range phis {
			phi.AddIncoming(l.b.Block(), l.env[name])
		}
		l.b.Jump(header)
	}

	l.b.SetBlock(exit)
	l.env = loopEnv
	l.simplifyPhis(header)
}

// simplifyPhis removes loop phis whose incoming values are all the phi
// itself or one other value, rewriting every use
func (l *lowering) simplifyPhis(header *ir.Block) {
	for {
		removed := false
		for _, phi := range header.Phis() {
			var only ir.Value
			trivial := true
			for _, v := range phi.Args {
				if v == ir.Value(phi) || v == only {
					continue
				}
				if only != nil {
					trivial = false
					break
				}
				only = v
			}
			if !trivial || only == nil {
				continue
			}
			l.replaceUses(phi, only)
			for k, in := range header.Instrs {
				if in == phi {
					header.Instrs = append(header.Instrs[:k], header.Instrs[k+1:]...)
					break
				}
			}
			removed = true
		}
		if !removed {
			return
		}
	}
}

func (l *lowering) replaceUses(old *ir.Instr, v ir.Value) {
	for _, b := range l.fn.Blocks {
		for _, in := range b.Instrs {
			for k, a := range in.Args {
				if a == ir.Value(old) {
					in.Args[k] = v
				}
			}
		}
	}
	for name, cur := range l.env {
		if cur == ir.Value(old) {
			l.env[name] = v
		}
	}
}

// cond ends the current block with a branch on the truth of e
func (l *lowering) cond(e Expression, then, els *ir.Block) {
	switch e := e.(type) {
	case *UnaryExpr:
		if e.Operator == "!" {
			l.cond(e.Operand, els, then)
			return
		}
	case *BinaryExpr:
		if e.IsComparison() {
			r := l.expr(e)
			t := l.word(l.c.scheme.True())
			l.b.If(l.b.Compare(ir.OpEq, r, t), then, els)
			return
		}
	}
	v := l.expr(e)
	l.b.If(l.b.Call(l.prim("boxToBool"), v), then, els)
}

func (l *lowering) expr(e Expression) ir.Value {
	switch e := e.(type) {
	case *NumberExpr:
		w, err := l.c.scheme.Box(e.Value, box.TagInt)
		if err != nil {
			lo, hi := l.c.scheme.IntRange()
			l.fail(e.Loc, nil, "integer literal %d is out of range [%d, %d]", e.Value, lo, hi)
		}
		return l.word(w)
	case *LiteralExpr:
		s := l.c.scheme
		switch e.Kind {
		case TOKEN_TRUE:
			return l.word(s.True())
		case TOKEN_FALSE:
			return l.word(s.False())
		case TOKEN_NULL:
			return l.word(s.Null())
		default:
			return l.undefined()
		}
	case *IdentExpr:
		v, ok := l.env[e.Name]
		if !ok {
			l.fail(e.Loc, engine.SimilarNames(e.Name, l.env.names(), 3), "undefined variable '%s'", e.Name)
		}
		return v
	case *UnaryExpr:
		x := l.expr(e.Operand)
		if e.Operator == "-" {
			zero, _ := l.c.scheme.Box(0, box.TagInt)
			return l.b.Call(l.prim("sub"), l.word(zero), x)
		}
		return l.b.Call(l.prim("not"), x)
	case *BinaryExpr:
		x := l.expr(e.Left)
		y := l.expr(e.Right)
		name, ok := binaryPrims[e.Operator]
		if !ok {
			l.fail(e.Loc, nil, "unsupported operator '%s'", e.Operator)
		}
		return l.b.Call(l.prim(name), x, y)
	case *CallExpr:
		return l.call(e)
	}
	panic(fmt.Sprintf("unhandled expression %T", e))
}

func (l *lowering) call(e *CallExpr) ir.Value {
	fn, ok := l.funcs[e.Name]
	if !ok {
		fn = l.c.set.Lookup(e.Name)
		if fn == nil {
			candidates := l.c.set.Names()
			for name := range l.funcs {
				candidates = append(candidates, name)
			}
			sort.Strings(candidates)
			l.fail(e.Loc, engine.SimilarNames(e.Name, candidates, 3), "undefined function '%s'", e.Name)
		}
		if !boxedSignature(fn) {
			l.fail(e.Loc, nil, "primitive '%s' takes or returns unboxed values and cannot be called from source", e.Name)
		}
	}
	if len(e.Args) != len(fn.Params) {
		l.fail(e.Loc, nil, "function '%s' takes %d arguments, got %d", e.Name, len(fn.Params), len(e.Args))
	}
	args := make([]ir.Value, len(e.Args))
	for i, a := range e.Args {
		args[i] = l.expr(a)
	}
	return l.b.Call(fn, args...)
}

func boxedSignature(fn *ir.Function) bool {
	if fn.Ret != ir.TypeBox {
		return false
	}
	for _, p := range fn.Params {
		if p.Typ != ir.TypeBox {
			return false
		}
	}
	return true
}

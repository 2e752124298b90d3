// Completion: 100% - AST nodes complete for the supported subset
package frontend

import (
	"fmt"
	"strings"
)

// AST Nodes
type Node interface {
	String() string
}

type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

// Program is a list of function declarations in source order
type Program struct {
	Funcs []*FuncDecl
}

func (p *Program) String() string {
	var out strings.Builder
	for _, f := range p.Funcs {
		out.WriteString(f.String())
		out.WriteString("\n")
	}
	return out.String()
}

type FuncDecl struct {
	Name   string
	Params []string
	Body   *BlockStmt
	Loc    SourceLocation
}

func (f *FuncDecl) String() string {
	return fmt.Sprintf("function %s(%s) %s", f.Name, strings.Join(f.Params, ", "), f.Body)
}

type BlockStmt struct {
	Statements []Statement
}

func (b *BlockStmt) statementNode() {}
func (b *BlockStmt) String() string {
	parts := make([]string, len(b.Statements))
	for i, s := range b.Statements {
		parts[i] = s.String()
	}
	return "{ " + strings.Join(parts, " ") + " }"
}

type VarStmt struct {
	Name  string
	Value Expression // nil for a bare declaration
	Loc   SourceLocation
}

func (v *VarStmt) statementNode() {}
func (v *VarStmt) String() string {
	if v.Value == nil {
		return "var " + v.Name + ";"
	}
	return "var " + v.Name + " = " + v.Value.String() + ";"
}

type AssignStmt struct {
	Name  string
	Value Expression
	Loc   SourceLocation
}

func (a *AssignStmt) statementNode() {}
func (a *AssignStmt) String() string { return a.Name + " = " + a.Value.String() + ";" }

type IfStmt struct {
	Cond Expression
	Then Statement
	Else Statement // nil without an else branch
}

func (s *IfStmt) statementNode() {}
func (s *IfStmt) String() string {
	out := "if (" + s.Cond.String() + ") " + s.Then.String()
	if s.Else != nil {
		out += " else " + s.Else.String()
	}
	return out
}

type WhileStmt struct {
	Cond Expression
	Body Statement
}

func (s *WhileStmt) statementNode() {}
func (s *WhileStmt) String() string { return "while (" + s.Cond.String() + ") " + s.Body.String() }

type ReturnStmt struct {
	Value Expression // nil returns undefined
	Loc   SourceLocation
}

func (r *ReturnStmt) statementNode() {}
func (r *ReturnStmt) String() string {
	if r.Value == nil {
		return "return;"
	}
	return "return " + r.Value.String() + ";"
}

type ExprStmt struct {
	Expr Expression
}

func (e *ExprStmt) statementNode() {}
func (e *ExprStmt) String() string { return e.Expr.String() + ";" }

type NumberExpr struct {
	Value int64
	Loc   SourceLocation
}

func (n *NumberExpr) expressionNode() {}
func (n *NumberExpr) String() string  { return fmt.Sprintf("%d", n.Value) }

// LiteralExpr is one of true, false, null or undefined
type LiteralExpr struct {
	Kind TokenType
	Text string
}

func (l *LiteralExpr) expressionNode() {}
func (l *LiteralExpr) String() string  { return l.Text }

type IdentExpr struct {
	Name string
	Loc  SourceLocation
}

func (i *IdentExpr) expressionNode() {}
func (i *IdentExpr) String() string  { return i.Name }

type CallExpr struct {
	Name string
	Args []Expression
	Loc  SourceLocation
}

func (c *CallExpr) expressionNode() {}
func (c *CallExpr) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Name + "(" + strings.Join(args, ", ") + ")"
}

type UnaryExpr struct {
	Operator string
	Operand  Expression
	Loc      SourceLocation
}

func (u *UnaryExpr) expressionNode() {}
func (u *UnaryExpr) String() string  { return "(" + u.Operator + u.Operand.String() + ")" }

type BinaryExpr struct {
	Left     Expression
	Operator string
	Right    Expression
	Loc      SourceLocation
}

func (b *BinaryExpr) expressionNode() {}
func (b *BinaryExpr) String() string {
	return "(" + b.Left.String() + " " + b.Operator + " " + b.Right.String() + ")"
}

// IsComparison reports whether the operator yields a boolean
func (b *BinaryExpr) IsComparison() bool {
	switch b.Operator {
	case "<", "<=", ">", ">=", "==", "!=", "===", "!==":
		return true
	}
	return false
}

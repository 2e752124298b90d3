// Completion: 100% - Parser complete for the supported subset
package frontend

import (
	"fmt"
	"strconv"
)

// Parser is a recursive descent parser. Each parse function starts with
// current on the first token of its construct and returns with current on
// the last one.
type Parser struct {
	lexer    *Lexer
	current  Token
	peek     Token
	filename string
	source   string
}

// bailout carries the first syntax error out of the recursion
type bailout struct{ err *SyntaxError }

func NewParser(input string) *Parser {
	return NewParserWithFilename(input, "")
}

func NewParserWithFilename(input, filename string) *Parser {
	p := &Parser{lexer: NewLexer(input), filename: filename, source: input}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a whole program
func Parse(src string) (*Program, error) {
	return NewParser(src).ParseProgram()
}

func (p *Parser) nextToken() {
	p.current = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) loc(t Token) SourceLocation {
	return SourceLocation{File: p.filename, Line: t.Line, Column: t.Column, Length: len(t.Value)}
}

func (p *Parser) errorAt(t Token, format string, args ...any) {
	panic(bailout{newSyntaxError(p.source, fmt.Sprintf(format, args...), p.loc(t))})
}

func describe(t Token) string {
	switch t.Type {
	case TOKEN_EOF:
		return "end of input"
	case TOKEN_ILLEGAL:
		if len(t.Value) == 1 {
			return fmt.Sprintf("character '%s'", t.Value)
		}
		return t.Value
	case TOKEN_IDENT, TOKEN_NUMBER:
		return fmt.Sprintf("%s '%s'", t.Type, t.Value)
	}
	return "'" + t.Value + "'"
}

// expectPeek advances if the next token has type t
func (p *Parser) expectPeek(t TokenType) {
	if p.peek.Type != t {
		p.errorAt(p.peek, "expected %s, got %s", t, describe(p.peek))
	}
	p.nextToken()
}

func (p *Parser) optionalSemicolon() {
	if p.peek.Type == TOKEN_SEMICOLON {
		p.nextToken()
	}
}

// ParseProgram parses function declarations until the end of input
func (p *Parser) ParseProgram() (prog *Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			prog, err = nil, b.err
		}
	}()
	prog = &Program{}
	for p.current.Type != TOKEN_EOF {
		if p.current.Type != TOKEN_FUNCTION {
			p.errorAt(p.current, "expected function declaration, got %s", describe(p.current))
		}
		prog.Funcs = append(prog.Funcs, p.parseFuncDecl())
		p.nextToken()
	}
	return prog, nil
}

func (p *Parser) parseFuncDecl() *FuncDecl {
	p.expectPeek(TOKEN_IDENT)
	fn := &FuncDecl{Name: p.current.Value, Loc: p.loc(p.current)}
	p.expectPeek(TOKEN_LPAREN)
	if p.peek.Type == TOKEN_RPAREN {
		p.nextToken()
	} else {
		for {
			p.expectPeek(TOKEN_IDENT)
			fn.Params = append(fn.Params, p.current.Value)
			if p.peek.Type == TOKEN_COMMA {
				p.nextToken()
				continue
			}
			p.expectPeek(TOKEN_RPAREN)
			break
		}
	}
	p.expectPeek(TOKEN_LBRACE)
	fn.Body = p.parseBlock()
	return fn
}

func (p *Parser) parseBlock() *BlockStmt {
	block := &BlockStmt{}
	for {
		p.nextToken()
		switch p.current.Type {
		case TOKEN_RBRACE:
			return block
		case TOKEN_EOF:
			p.errorAt(p.current, "expected '}', got end of input")
		}
		block.Statements = append(block.Statements, p.parseStatement())
	}
}

func (p *Parser) parseStatement() Statement {
	switch p.current.Type {
	case TOKEN_LBRACE:
		return p.parseBlock()
	case TOKEN_VAR:
		p.expectPeek(TOKEN_IDENT)
		s := &VarStmt{Name: p.current.Value, Loc: p.loc(p.current)}
		if p.peek.Type == TOKEN_ASSIGN {
			p.nextToken()
			p.nextToken()
			s.Value = p.parseExpression()
		}
		p.optionalSemicolon()
		return s
	case TOKEN_IF:
		p.expectPeek(TOKEN_LPAREN)
		p.nextToken()
		s := &IfStmt{Cond: p.parseExpression()}
		p.expectPeek(TOKEN_RPAREN)
		p.nextToken()
		s.Then = p.parseStatement()
		if p.peek.Type == TOKEN_ELSE {
			p.nextToken()
			p.nextToken()
			s.Else = p.parseStatement()
		}
		return s
	case TOKEN_WHILE:
		p.expectPeek(TOKEN_LPAREN)
		p.nextToken()
		s := &WhileStmt{Cond: p.parseExpression()}
		p.expectPeek(TOKEN_RPAREN)
		p.nextToken()
		s.Body = p.parseStatement()
		return s
	case TOKEN_RETURN:
		s := &ReturnStmt{Loc: p.loc(p.current)}
		switch p.peek.Type {
		case TOKEN_SEMICOLON, TOKEN_RBRACE, TOKEN_EOF:
		default:
			p.nextToken()
			s.Value = p.parseExpression()
		}
		p.optionalSemicolon()
		return s
	case TOKEN_SEMICOLON:
		return &BlockStmt{}
	case TOKEN_IDENT:
		if p.peek.Type == TOKEN_ASSIGN {
			s := &AssignStmt{Name: p.current.Value, Loc: p.loc(p.current)}
			p.nextToken()
			p.nextToken()
			s.Value = p.parseExpression()
			p.optionalSemicolon()
			return s
		}
	case TOKEN_FUNCTION:
		p.errorAt(p.current, "nested function declarations are not supported")
	}
	s := &ExprStmt{Expr: p.parseExpression()}
	p.optionalSemicolon()
	return s
}

func (p *Parser) parseExpression() Expression {
	return p.parseEquality()
}

// binary parses a left-associative level whose operators are in ops
func (p *Parser) binary(next func() Expression, ops ...TokenType) Expression {
	left := next()
	for {
		found := false
		for _, t := range ops {
			if p.peek.Type == t {
				found = true
				break
			}
		}
		if !found {
			return left
		}
		p.nextToken()
		op, loc := p.current.Value, p.loc(p.current)
		p.nextToken()
		right := next()
		left = &BinaryExpr{Left: left, Operator: op, Right: right, Loc: loc}
	}
}

func (p *Parser) parseEquality() Expression {
	return p.binary(p.parseRelational, TOKEN_EQ, TOKEN_NE, TOKEN_SEQ, TOKEN_SNE)
}

func (p *Parser) parseRelational() Expression {
	return p.binary(p.parseAdditive, TOKEN_LT, TOKEN_LE, TOKEN_GT, TOKEN_GE)
}

func (p *Parser) parseAdditive() Expression {
	return p.binary(p.parseMultiplicative, TOKEN_PLUS, TOKEN_MINUS)
}

func (p *Parser) parseMultiplicative() Expression {
	return p.binary(p.parseUnary, TOKEN_STAR)
}

func (p *Parser) parseUnary() Expression {
	if p.current.Type == TOKEN_MINUS || p.current.Type == TOKEN_BANG {
		op, loc := p.current.Value, p.loc(p.current)
		p.nextToken()
		operand := p.parseUnary()
		if n, ok := operand.(*NumberExpr); ok && op == "-" {
			return &NumberExpr{Value: -n.Value, Loc: loc}
		}
		return &UnaryExpr{Operator: op, Operand: operand, Loc: loc}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() Expression {
	tok := p.current
	switch tok.Type {
	case TOKEN_NUMBER:
		v, err := strconv.ParseInt(tok.Value, 0, 64)
		if err != nil {
			p.errorAt(tok, "invalid number literal '%s'", tok.Value)
		}
		return &NumberExpr{Value: v, Loc: p.loc(tok)}
	case TOKEN_TRUE, TOKEN_FALSE, TOKEN_NULL, TOKEN_UNDEFINED:
		return &LiteralExpr{Kind: tok.Type, Text: tok.Value}
	case TOKEN_IDENT:
		if p.peek.Type != TOKEN_LPAREN {
			return &IdentExpr{Name: tok.Value, Loc: p.loc(tok)}
		}
		call := &CallExpr{Name: tok.Value, Loc: p.loc(tok)}
		p.nextToken()
		if p.peek.Type == TOKEN_RPAREN {
			p.nextToken()
			return call
		}
		for {
			p.nextToken()
			call.Args = append(call.Args, p.parseExpression())
			if p.peek.Type == TOKEN_COMMA {
				p.nextToken()
				continue
			}
			p.expectPeek(TOKEN_RPAREN)
			return call
		}
	case TOKEN_LPAREN:
		p.nextToken()
		e := p.parseExpression()
		p.expectPeek(TOKEN_RPAREN)
		return e
	}
	p.errorAt(tok, "unexpected %s", describe(tok))
	return nil
}

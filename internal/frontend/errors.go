// Completion: 100% - Error handling complete, clear and helpful messages
package frontend

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSyntax   = errors.New("syntax error")
	ErrLowering = errors.New("lowering error")
)

// ErrorCategory classifies the type of error
type ErrorCategory int

const (
	CategorySyntax ErrorCategory = iota
	CategorySemantic
	CategoryInternal
)

func (c ErrorCategory) String() string {
	switch c {
	case CategorySyntax:
		return "syntax"
	case CategorySemantic:
		return "semantic"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// SourceLocation represents a position in source code
type SourceLocation struct {
	File   string
	Line   int
	Column int
	Length int // Length of the problematic token/expression
}

func (loc SourceLocation) String() string {
	if loc.File == "" {
		return fmt.Sprintf("%d:%d", loc.Line, loc.Column)
	}
	return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Column)
}

// CompilerError is the common shape of frontend errors
type CompilerError struct {
	Category   ErrorCategory
	Message    string
	Location   SourceLocation
	SourceLine string
	Suggestion string // "did you mean 'x'?"
}

func (e *CompilerError) Error() string {
	return fmt.Sprintf("%s: %s error: %s", e.Location, e.Category, e.Message)
}

// Format renders the error with the offending source line underlined
func (e *CompilerError) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "error: %s\n  --> %s\n", e.Message, e.Location)
	if e.SourceLine != "" {
		lineNum := fmt.Sprintf("%d", e.Location.Line)
		padding := strings.Repeat(" ", len(lineNum)+1)
		fmt.Fprintf(&sb, "%s|\n%s | %s\n%s| ", padding, lineNum, e.SourceLine, padding)
		if e.Location.Column > 0 {
			sb.WriteString(strings.Repeat(" ", e.Location.Column-1))
		}
		sb.WriteString(strings.Repeat("^", max(e.Location.Length, 1)))
		sb.WriteString("\n")
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&sb, "   help: %s\n", e.Suggestion)
	}
	return sb.String()
}

// SyntaxError is raised by the lexer and parser
type SyntaxError struct {
	CompilerError
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// LoweringError is raised while turning a syntax tree into IR
type LoweringError struct {
	CompilerError
}

func (e *LoweringError) Unwrap() error { return ErrLowering }

func sourceLine(src string, line int) string {
	lines := strings.Split(src, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[line-1], "\r")
}

func newSyntaxError(src, msg string, loc SourceLocation) *SyntaxError {
	return &SyntaxError{CompilerError{
		Category:   CategorySyntax,
		Message:    msg,
		Location:   loc,
		SourceLine: sourceLine(src, loc.Line),
	}}
}

func newLoweringError(src, msg string, loc SourceLocation, suggestions []string) *LoweringError {
	e := &LoweringError{CompilerError{
		Category:   CategorySemantic,
		Message:    msg,
		Location:   loc,
		SourceLine: sourceLine(src, loc.Line),
	}}
	if len(suggestions) > 0 {
		e.Suggestion = fmt.Sprintf("did you mean '%s'?", strings.Join(suggestions, "' or '"))
	}
	return e
}

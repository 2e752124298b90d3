// Completion: 100% - Lexer complete for the supported JavaScript subset
package frontend

import "unicode"

// Token types
type TokenType int

const (
	TOKEN_EOF TokenType = iota
	TOKEN_ILLEGAL
	TOKEN_IDENT
	TOKEN_NUMBER
	// keywords
	TOKEN_FUNCTION
	TOKEN_VAR
	TOKEN_IF
	TOKEN_ELSE
	TOKEN_WHILE
	TOKEN_RETURN
	TOKEN_TRUE
	TOKEN_FALSE
	TOKEN_NULL
	TOKEN_UNDEFINED
	// operators
	TOKEN_PLUS
	TOKEN_MINUS
	TOKEN_STAR
	TOKEN_BANG
	TOKEN_ASSIGN // =
	TOKEN_LT     // <
	TOKEN_LE     // <=
	TOKEN_GT     // >
	TOKEN_GE     // >=
	TOKEN_EQ     // ==
	TOKEN_NE     // !=
	TOKEN_SEQ    // ===
	TOKEN_SNE    // !==
	// punctuation
	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_LBRACE
	TOKEN_RBRACE
	TOKEN_COMMA
	TOKEN_SEMICOLON
)

var keywords = map[string]TokenType{
	"function":  TOKEN_FUNCTION,
	"var":       TOKEN_VAR,
	"if":        TOKEN_IF,
	"else":      TOKEN_ELSE,
	"while":     TOKEN_WHILE,
	"return":    TOKEN_RETURN,
	"true":      TOKEN_TRUE,
	"false":     TOKEN_FALSE,
	"null":      TOKEN_NULL,
	"undefined": TOKEN_UNDEFINED,
}

var tokenNames = map[TokenType]string{
	TOKEN_EOF: "end of input", TOKEN_ILLEGAL: "illegal token",
	TOKEN_IDENT: "identifier", TOKEN_NUMBER: "number",
	TOKEN_LPAREN: "'('", TOKEN_RPAREN: "')'", TOKEN_LBRACE: "'{'", TOKEN_RBRACE: "'}'",
	TOKEN_COMMA: "','", TOKEN_SEMICOLON: "';'", TOKEN_ASSIGN: "'='",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	for word, kw := range keywords {
		if kw == t {
			return "'" + word + "'"
		}
	}
	return "operator"
}

type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int // Column position (1-indexed) where the token starts
}

// Lexer for the JavaScript subset
type Lexer struct {
	input     string
	pos       int
	line      int
	lineStart int // Position where current line starts
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1}
}

func (l *Lexer) peek() byte {
	if l.pos+1 < len(l.input) {
		return l.input[l.pos+1]
	}
	return 0
}

func (l *Lexer) newline() {
	l.line++
	l.lineStart = l.pos + 1
}

// skipSpace skips whitespace and comments. It returns false on an
// unterminated block comment.
func (l *Lexer) skipSpace() bool {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '\n':
			l.newline()
			l.pos++
		case ch == ' ' || ch == '\t' || ch == '\r':
			l.pos++
		case ch == '/' && l.peek() == '/':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		case ch == '/' && l.peek() == '*':
			l.pos += 2
			for {
				if l.pos+1 >= len(l.input) {
					l.pos = len(l.input)
					return false
				}
				if l.input[l.pos] == '*' && l.input[l.pos+1] == '/' {
					l.pos += 2
					break
				}
				if l.input[l.pos] == '\n' {
					l.newline()
				}
				l.pos++
			}
		default:
			return true
		}
	}
	return true
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch == '$' || unicode.IsLetter(rune(ch))
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || unicode.IsDigit(rune(ch))
}

func (l *Lexer) NextToken() Token {
	startLine, startCol := l.line, l.pos-l.lineStart+1
	if !l.skipSpace() {
		return Token{Type: TOKEN_ILLEGAL, Value: "unterminated comment", Line: startLine, Column: startCol}
	}
	tok := Token{Line: l.line, Column: l.pos - l.lineStart + 1}
	if l.pos >= len(l.input) {
		tok.Type = TOKEN_EOF
		return tok
	}
	ch := l.input[l.pos]
	start := l.pos

	switch {
	case isIdentStart(ch):
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		tok.Value = l.input[start:l.pos]
		if kw, ok := keywords[tok.Value]; ok {
			tok.Type = kw
		} else {
			tok.Type = TOKEN_IDENT
		}
		return tok
	case unicode.IsDigit(rune(ch)):
		if ch == '0' && (l.peek() == 'x' || l.peek() == 'X') {
			l.pos += 2
		}
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		tok.Type = TOKEN_NUMBER
		tok.Value = l.input[start:l.pos]
		return tok
	}

	// operators, longest match first
	three := ""
	if l.pos+3 <= len(l.input) {
		three = l.input[l.pos : l.pos+3]
	}
	switch three {
	case "===":
		l.pos += 3
		tok.Type, tok.Value = TOKEN_SEQ, three
		return tok
	case "!==":
		l.pos += 3
		tok.Type, tok.Value = TOKEN_SNE, three
		return tok
	}
	two := ""
	if l.pos+2 <= len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}
	twos := map[string]TokenType{"<=": TOKEN_LE, ">=": TOKEN_GE, "==": TOKEN_EQ, "!=": TOKEN_NE}
	if t, ok := twos[two]; ok {
		l.pos += 2
		tok.Type, tok.Value = t, two
		return tok
	}
	ones := map[byte]TokenType{
		'+': TOKEN_PLUS, '-': TOKEN_MINUS, '*': TOKEN_STAR, '!': TOKEN_BANG,
		'=': TOKEN_ASSIGN, '<': TOKEN_LT, '>': TOKEN_GT,
		'(': TOKEN_LPAREN, ')': TOKEN_RPAREN, '{': TOKEN_LBRACE, '}': TOKEN_RBRACE,
		',': TOKEN_COMMA, ';': TOKEN_SEMICOLON,
	}
	l.pos++
	tok.Value = string(ch)
	if t, ok := ones[ch]; ok {
		tok.Type = t
		return tok
	}
	tok.Type = TOKEN_ILLEGAL
	return tok
}

package parser

import (
	"strings"
	"unicode"

	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.col++
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// currentPos returns the current position.
func (l *Lexer) currentPos() token.Position {
	return token.Position{
		Line:   l.line,
		Column: l.col,
		Offset: min(l.pos, len(l.input)),
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() token.Token {
	tok := l.scan()
	tok.End = l.currentPos()
	return tok
}

func (l *Lexer) scan() token.Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()
	tok := token.Token{Pos: pos}

	switch l.ch {
	case 0:
		tok.Type = token.EOF
		return tok
	case '+':
		tok = l.single(pos, token.PLUS)
	case '-':
		tok = l.single(pos, token.MINUS)
	case '*':
		tok = l.single(pos, token.STAR)
	case '/':
		tok = l.single(pos, token.SLASH)
	case '%':
		tok = l.single(pos, token.PERCENT)
	case '=':
		tok = l.single(pos, token.EQ)
	case '<':
		switch l.peekChar() {
		case '=':
			tok = l.double(pos, token.LE)
		case '>':
			tok = l.double(pos, token.NE)
		default:
			tok = l.single(pos, token.LT)
		}
	case '>':
		if l.peekChar() == '=' {
			tok = l.double(pos, token.GE)
		} else {
			tok = l.single(pos, token.GT)
		}
	case '!':
		if l.peekChar() == '=' {
			tok = l.double(pos, token.NE)
		} else {
			tok = l.single(pos, token.ILLEGAL)
		}
	case '|':
		if l.peekChar() == '|' {
			tok = l.double(pos, token.DPIPE)
		} else {
			tok = l.single(pos, token.ILLEGAL)
		}
	case ':':
		if l.peekChar() == ':' {
			tok = l.double(pos, token.DCOLON)
		} else {
			tok = l.single(pos, token.ILLEGAL)
		}
	case '.':
		if isDigit(l.peekChar()) {
			tok.Type = token.NUMBER
			tok.Literal = l.readNumber()
			return tok
		}
		tok = l.single(pos, token.DOT)
	case ',':
		tok = l.single(pos, token.COMMA)
	case ';':
		tok = l.single(pos, token.SEMICOLON)
	case '(':
		tok = l.single(pos, token.LPAREN)
	case ')':
		tok = l.single(pos, token.RPAREN)
	case '[':
		tok = l.single(pos, token.LBRACKET)
	case ']':
		tok = l.single(pos, token.RBRACKET)
	case '\'':
		lit, ok := l.readQuoted('\'')
		tok.Type = token.STRING
		tok.Literal = lit
		if !ok {
			tok.Type = token.ILLEGAL
		}
		return tok
	case '"', '`':
		lit, ok := l.readQuoted(l.ch)
		tok.Type = token.IDENT
		tok.Literal = lit
		if !ok {
			tok.Type = token.ILLEGAL
		}
		return tok
	default:
		switch {
		case isLetter(l.ch) || l.ch == '_':
			tok.Literal = l.readIdentifier()
			tok.Type = token.LookupIdent(strings.ToLower(tok.Literal))
			return tok
		case isDigit(l.ch):
			tok.Type = token.NUMBER
			tok.Literal = l.readNumber()
			return tok
		default:
			tok = l.single(pos, token.ILLEGAL)
		}
	}
	return tok
}

// single consumes one character as a token.
func (l *Lexer) single(pos token.Position, t token.TokenType) token.Token {
	lit := string(l.ch)
	l.readChar()
	return token.Token{Type: t, Literal: lit, Pos: pos}
}

// double consumes two characters as a token.
func (l *Lexer) double(pos token.Position, t token.TokenType) token.Token {
	lit := l.input[l.pos : l.pos+2]
	l.readChar()
	l.readChar()
	return token.Token{Type: t, Literal: lit, Pos: pos}
}

// skipWhitespaceAndComments skips whitespace, line comments and block comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}

		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}

		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for l.ch != 0 {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
			continue
		}

		break
	}
}

// readQuoted reads a quoted string or identifier.
// A doubled quote character is an escaped quote: 'it''s' -> it's.
// The second result is false when the input ends before the closing quote.
func (l *Lexer) readQuoted(quote byte) (string, bool) {
	l.readChar() // skip opening quote

	var result strings.Builder
	for l.ch != 0 {
		if l.ch == quote {
			if l.peekChar() == quote {
				result.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			return result.String(), true
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	return result.String(), false
}

// readIdentifier reads an unquoted identifier.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (l *Lexer) readNumber() string {
	start := l.pos

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}

	return l.input[start:l.pos]
}

// isLetter returns true if ch is a letter or the start of a UTF-8 sequence.
func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch >= 0x80
}

// isDigit returns true if ch is a digit.
func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens from the input.
func Tokenize(input string) []token.Token {
	l := NewLexer(input)
	var tokens []token.Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			break
		}
	}
	return tokens
}

// Package parser provides SQL parsing for lineage analysis.
//
// # Usage
//
//	stmt, err := parser.Parse("INSERT INTO t SELECT a, b FROM s")
//	if err != nil {
//	    // handle error
//	}
//
// # Grammar Overview
//
// The parser implements a recursive descent parser for an ANSI-like subset of SQL:
//
//	script        → statement [";"]
//	statement     → [INSERT INTO table ["(" ident_list ")"]] query
//	              | CREATE [OR REPLACE] (TABLE|VIEW) table AS query
//	query         → [WITH [RECURSIVE] cte_list] select_body
//	select_body   → select_core [(UNION|INTERSECT|EXCEPT) [ALL] select_body]
//	select_core   → SELECT [DISTINCT] select_list [FROM from_clause]
//	                [WHERE expr] [GROUP BY expr_list] [HAVING expr]
//	                [WINDOW window_list] [QUALIFY expr]
//	                [ORDER BY order_list] [LIMIT expr] [OFFSET expr]
//
// Every SelectStmt and SelectBody records its source span so callers can
// recover the exact SQL text of any nested query.
//
// See each file for detailed grammar rules for that section.
package parser

import (
	"fmt"

	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// Parser parses SQL into an AST.
type Parser struct {
	lexer  *Lexer
	prev   token.Token // last consumed token
	token  token.Token // current token
	peek   token.Token // lookahead token
	peek2  token.Token // second lookahead token
	errors []error
}

// NewParser creates a new parser for the given SQL input.
func NewParser(sql string) *Parser {
	p := &Parser{
		lexer: NewLexer(sql),
	}
	// Read three tokens to initialize current, peek, and peek2
	p.nextToken()
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a script holding exactly one statement.
func Parse(sql string) (*Statement, error) {
	p := NewParser(sql)
	stmt := p.parseScriptStatement()
	p.finish()
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	return stmt, nil
}

// ParseSelect parses a single query (an optional WITH clause and a SELECT body).
func ParseSelect(sql string) (*SelectStmt, error) {
	p := NewParser(sql)
	stmt := p.parseStatement()
	p.finish()
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	return stmt, nil
}

// ParseExpression parses a standalone expression such as a predicate.
func ParseExpression(sql string) (Expr, error) {
	p := NewParser(sql)
	expr := p.parseExpression()
	p.finish()
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	return expr, nil
}

// finish consumes an optional trailing semicolon and requires end of input.
func (p *Parser) finish() {
	p.match(token.SEMICOLON)
	if !p.check(token.EOF) && len(p.errors) == 0 {
		p.addError(fmt.Sprintf(ErrTrailingInput, p.token.Type))
	}
}

// ---------- Token Helpers ----------

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.prev = p.token
	p.token = p.peek
	p.peek = p.peek2
	p.peek2 = p.lexer.NextToken()
}

// check returns true if the current token is of the given type.
func (p *Parser) check(t token.TokenType) bool {
	return p.token.Type == t
}

// checkPeek returns true if the peek token is of the given type.
func (p *Parser) checkPeek(t token.TokenType) bool {
	return p.peek.Type == t
}

// checkPeek2 returns true if the peek2 token is of the given type.
func (p *Parser) checkPeek2(t token.TokenType) bool {
	return p.peek2.Type == t
}

// match consumes the current token if it matches and returns true.
func (p *Parser) match(t token.TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes the current token if it matches, otherwise adds an error.
func (p *Parser) expect(t token.TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, t))
	return false
}

// addError adds a parse error.
func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, &ParseError{
		Pos:     p.token.Pos,
		Message: msg,
	})
}

// spanFrom closes a span that started at start with the last consumed token.
func (p *Parser) spanFrom(start token.Position) token.Span {
	return token.Span{Start: start, End: p.prev.End}
}

// ---------- Keyword Helpers ----------

// checkName returns true if the current token can be read as a name:
// an identifier or a non-reserved keyword.
func (p *Parser) checkName() bool {
	return p.check(token.IDENT) || token.IsNonReserved(p.token.Type)
}

// parseName consumes a name token and returns its literal.
func (p *Parser) parseName(what string) string {
	if !p.checkName() {
		p.addError(fmt.Sprintf(ErrExpectedName, what, p.token.Type))
		return ""
	}
	name := p.token.Literal
	p.nextToken()
	return name
}

// parseAlias parses an optional [AS] alias.
// Without AS only a plain identifier is accepted, so that clause keywords
// are never swallowed as aliases.
func (p *Parser) parseAlias() string {
	if p.match(token.AS) {
		return p.parseName("alias")
	}
	if p.check(token.IDENT) {
		alias := p.token.Literal
		p.nextToken()
		return alias
	}
	return ""
}

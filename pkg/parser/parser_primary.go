package parser

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// Primary expression parsing: literals, column refs, function calls.
//
// Grammar:
//
//	primary       → literal | column_ref | func_call | paren_expr | case_expr | cast_expr | exists_expr
//	literal       → NUMBER | STRING | TRUE | FALSE | NULL | (DATE|TIME|TIMESTAMP|INTERVAL) STRING
//	column_ref    → [table "."] column | [schema "." table "."] column
//	func_call     → name "(" [DISTINCT] [expr_list | "*"] ")" [FILTER "(" WHERE expr ")"] [OVER window_spec]

// typedLiteralPrefixes are identifiers that turn a following string into a typed literal.
var typedLiteralPrefixes = map[string]bool{
	"DATE":      true,
	"TIME":      true,
	"TIMESTAMP": true,
	"INTERVAL":  true,
}

// functionKeywords are reserved words that are also common function names.
var functionKeywords = map[token.TokenType]bool{
	token.LEFT:    true,
	token.RIGHT:   true,
	token.REPLACE: true,
}

// parsePrimary parses primary expressions.
func (p *Parser) parsePrimary() Expr {
	switch p.token.Type {
	case token.NUMBER:
		lit := &Literal{Type: LiteralNumber, Value: p.token.Literal}
		p.nextToken()
		return lit

	case token.STRING:
		lit := &Literal{Type: LiteralString, Value: p.token.Literal}
		p.nextToken()
		return lit

	case token.TRUE:
		p.nextToken()
		return &Literal{Type: LiteralBool, Value: "true"}

	case token.FALSE:
		p.nextToken()
		return &Literal{Type: LiteralBool, Value: "false"}

	case token.NULL:
		p.nextToken()
		return &Literal{Type: LiteralNull, Value: "null"}

	case token.CASE:
		return p.parseCaseExpr()

	case token.CAST:
		return p.parseCastExpr()

	case token.EXISTS:
		return p.parseExistsExpr(false)

	case token.LPAREN:
		return p.parseParenExpr()

	case token.STAR:
		p.nextToken()
		return &StarExpr{}

	case token.ILLEGAL:
		p.addError(fmt.Sprintf(ErrIllegalToken, p.token.Literal))
		return nil
	}

	if p.checkName() || (functionKeywords[p.token.Type] && p.checkPeek(token.LPAREN)) {
		return p.parseIdentifierExpr()
	}

	p.addError(fmt.Sprintf(ErrUnexpectedExpr, p.token.Type))
	return nil
}

// parseIdentifierExpr parses an identifier which could be a column ref,
// a typed literal, or a function call.
func (p *Parser) parseIdentifierExpr() Expr {
	name := p.token.Literal
	upper := strings.ToUpper(name)

	if p.check(token.IDENT) && typedLiteralPrefixes[upper] && p.checkPeek(token.STRING) {
		p.nextToken()
		lit := &Literal{Type: LiteralTyped, Prefix: upper, Value: p.token.Literal}
		p.nextToken()
		if upper == "INTERVAL" && p.check(token.IDENT) && isIntervalUnit(p.token.Literal) {
			lit.Suffix = strings.ToUpper(p.token.Literal)
			p.nextToken()
		}
		return lit
	}

	p.nextToken()

	if p.check(token.LPAREN) {
		if upper == "EXTRACT" {
			return p.parseExtractExpr()
		}
		return p.parseFuncCall(name)
	}

	if p.check(token.DOT) {
		return p.parseQualifiedRef(name)
	}

	return &ColumnRef{Column: name}
}

func isIntervalUnit(s string) bool {
	switch strings.ToUpper(s) {
	case "YEAR", "YEARS", "MONTH", "MONTHS", "WEEK", "WEEKS", "DAY", "DAYS",
		"HOUR", "HOURS", "MINUTE", "MINUTES", "SECOND", "SECONDS":
		return true
	}
	return false
}

// parseQualifiedRef parses a qualified column reference, t.* or a
// schema-qualified function call.
func (p *Parser) parseQualifiedRef(firstPart string) Expr {
	parts := []string{firstPart}

	for p.match(token.DOT) {
		if p.check(token.STAR) {
			p.nextToken()
			return &StarExpr{Table: strings.Join(parts, ".")}
		}
		parts = append(parts, p.parseName("column name"))
	}

	if p.check(token.LPAREN) {
		return p.parseFuncCall(strings.Join(parts, "."))
	}

	return &ColumnRef{
		Table:  strings.Join(parts[:len(parts)-1], "."),
		Column: parts[len(parts)-1],
	}
}

// parseFuncCall parses a function call.
func (p *Parser) parseFuncCall(name string) Expr {
	fn := &FuncCall{Name: strings.ToUpper(name)}

	p.expect(token.LPAREN)

	if p.check(token.STAR) {
		fn.Star = true
		p.nextToken()
	} else if !p.check(token.RPAREN) {
		if p.match(token.DISTINCT) {
			fn.Distinct = true
		}

		for {
			arg := p.parseExpression()
			fn.Args = append(fn.Args, arg)

			if !p.match(token.COMMA) {
				break
			}
		}
	}

	p.expect(token.RPAREN)

	// WITHIN GROUP (ORDER BY ...) is folded into the window order.
	if p.check(token.WITHIN) && p.checkPeek(token.GROUP) {
		p.nextToken()
		p.nextToken()
		p.expect(token.LPAREN)
		p.expect(token.ORDER)
		p.expect(token.BY)
		fn.Window = &WindowSpec{OrderBy: p.parseOrderByList()}
		p.expect(token.RPAREN)
	}

	if p.match(token.FILTER) {
		p.expect(token.LPAREN)
		p.expect(token.WHERE)
		fn.Filter = p.parseExpression()
		p.expect(token.RPAREN)
	}

	if p.match(token.OVER) {
		fn.Window = p.parseWindowSpec()
	}

	return fn
}

// parseExtractExpr parses EXTRACT(field FROM expr). The current token is "(".
func (p *Parser) parseExtractExpr() Expr {
	p.expect(token.LPAREN)
	extract := &ExtractExpr{}
	extract.Field = strings.ToUpper(p.parseName("date part"))
	p.expect(token.FROM)
	extract.Expr = p.parseExpression()
	p.expect(token.RPAREN)
	return extract
}

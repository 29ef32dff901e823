package parser

import (
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// Special expression parsing: CASE, CAST, EXISTS, parenthesized expressions, subqueries.
//
// Grammar:
//
//	case_expr     → CASE [expr] (WHEN expr THEN expr)+ [ELSE expr] END
//	cast_expr     → CAST "(" expr AS type_name ")"
//	exists_expr   → [NOT] EXISTS "(" query ")"
//	paren_expr    → "(" expression ")" | "(" query ")"
//	type_name     → identifier [identifier] ["(" number ["," number] ")"]

// parseCaseExpr parses a CASE expression.
func (p *Parser) parseCaseExpr() Expr {
	p.expect(token.CASE)
	caseExpr := &CaseExpr{}

	// Simple CASE: CASE expr WHEN ...
	if !p.check(token.WHEN) && !p.check(token.END) {
		caseExpr.Operand = p.parseExpression()
	}

	for p.match(token.WHEN) {
		when := WhenClause{}
		when.Condition = p.parseExpression()
		p.expect(token.THEN)
		when.Result = p.parseExpression()
		caseExpr.Whens = append(caseExpr.Whens, when)
	}

	if len(caseExpr.Whens) == 0 {
		p.addError("expected WHEN in CASE expression")
	}

	if p.match(token.ELSE) {
		caseExpr.Else = p.parseExpression()
	}

	p.expect(token.END)
	return caseExpr
}

// parseCastExpr parses a CAST expression.
func (p *Parser) parseCastExpr() Expr {
	p.expect(token.CAST)
	p.expect(token.LPAREN)

	cast := &CastExpr{}
	cast.Expr = p.parseExpression()

	p.expect(token.AS)
	cast.TypeName = p.parseTypeName()

	p.expect(token.RPAREN)
	return cast
}

// typeNameContinuations are the second words of multi-word type names.
var typeNameContinuations = map[string]bool{
	"PRECISION": true,
	"VARYING":   true,
}

// parseTypeName parses a type name with optional parameters.
// Multi-word names like DOUBLE PRECISION are joined with a space.
func (p *Parser) parseTypeName() string {
	if !p.checkName() {
		p.addError("expected type name")
		return ""
	}

	words := []string{strings.ToUpper(p.token.Literal)}
	p.nextToken()
	for p.check(token.IDENT) && typeNameContinuations[strings.ToUpper(p.token.Literal)] {
		words = append(words, strings.ToUpper(p.token.Literal))
		p.nextToken()
	}
	typeName := strings.Join(words, " ")

	// Type parameters like VARCHAR(255) or DECIMAL(10, 2)
	if p.match(token.LPAREN) {
		var params []string
		for {
			if p.check(token.NUMBER) || p.check(token.IDENT) {
				params = append(params, p.token.Literal)
				p.nextToken()
			}
			if !p.match(token.COMMA) {
				break
			}
		}
		p.expect(token.RPAREN)
		typeName += "(" + strings.Join(params, ", ") + ")"
	}

	// Array suffix: INT[]
	for p.check(token.LBRACKET) && p.checkPeek(token.RBRACKET) {
		p.nextToken()
		p.nextToken()
		typeName += "[]"
	}

	return typeName
}

// parseParenExpr parses a parenthesized expression or subquery.
func (p *Parser) parseParenExpr() Expr {
	p.expect(token.LPAREN)

	if p.check(token.SELECT) || p.check(token.WITH) {
		subquery := &SubqueryExpr{Select: p.parseStatement()}
		p.expect(token.RPAREN)
		return subquery
	}

	expr := p.parseExpression()
	p.expect(token.RPAREN)
	return &ParenExpr{Expr: expr}
}

// parseExistsExpr parses an EXISTS expression. The current token is EXISTS.
func (p *Parser) parseExistsExpr(not bool) Expr {
	p.nextToken()

	p.expect(token.LPAREN)
	exists := &ExistsExpr{Not: not, Select: p.parseStatement()}
	p.expect(token.RPAREN)

	return exists
}

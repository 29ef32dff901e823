package parser

import (
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// Statement parsing: write targets, WITH clause, CTEs, SELECT body, SELECT list, ORDER BY.
//
// Grammar:
//
//	statement     → insert_stmt | create_stmt | query
//	insert_stmt   → INSERT INTO table_name ["(" ident_list ")"] query
//	create_stmt   → CREATE [OR REPLACE] [TEMP|TEMPORARY] (TABLE|VIEW) table_name AS query
//	query         → [WITH cte_list] select_body
//	cte_list      → cte ("," cte)*
//	cte           → identifier ["(" ident_list ")"] AS "(" query ")"
//	select_body   → select_core [(UNION|INTERSECT|EXCEPT) [ALL|DISTINCT] select_body]
//	select_core   → SELECT [DISTINCT|ALL] select_list [FROM from_clause] clauses
//	select_list   → select_item ("," select_item)*
//	select_item   → "*" | table "." "*" | expr [AS identifier]
//	order_list    → order_item ("," order_item)*
//	order_item    → expr [ASC|DESC] [NULLS FIRST|LAST]

// parseScriptStatement parses a top-level statement with an optional write target.
func (p *Parser) parseScriptStatement() *Statement {
	start := p.token.Pos
	stmt := &Statement{Kind: StatementSelect}

	switch {
	case p.check(token.INSERT):
		p.nextToken()
		p.expect(token.INTO)
		stmt.Kind = StatementInsert
		stmt.Target = p.parseTableName(false)
		if p.check(token.LPAREN) && !p.checkPeek(token.SELECT) && !p.checkPeek(token.WITH) {
			stmt.Columns = p.parseIdentList()
		}
	case p.check(token.CREATE):
		p.nextToken()
		if p.match(token.OR) {
			p.expect(token.REPLACE)
			stmt.Replace = true
		}
		if p.check(token.IDENT) && isTemporary(p.token.Literal) {
			p.nextToken()
		}
		switch {
		case p.match(token.TABLE):
			stmt.Kind = StatementCreateTable
		case p.match(token.VIEW):
			stmt.Kind = StatementCreateView
		default:
			p.addError("expected TABLE or VIEW after CREATE")
			return stmt
		}
		stmt.Target = p.parseTableName(false)
		p.expect(token.AS)
	}

	// CREATE TABLE t AS (SELECT ...) wraps the query in parentheses.
	if stmt.Target != nil && p.check(token.LPAREN) {
		p.nextToken()
		stmt.Query = p.parseStatement()
		p.expect(token.RPAREN)
	} else {
		stmt.Query = p.parseStatement()
	}
	stmt.Span = p.spanFrom(start)
	return stmt
}

func isTemporary(s string) bool {
	s = strings.ToUpper(s)
	return s == "TEMP" || s == "TEMPORARY"
}

// parseStatement parses a complete query with optional WITH clause.
func (p *Parser) parseStatement() *SelectStmt {
	start := p.token.Pos
	stmt := &SelectStmt{}

	if p.check(token.WITH) {
		stmt.With = p.parseWithClause()
	}

	stmt.Body = p.parseSelectBody()
	stmt.Span = p.spanFrom(start)
	return stmt
}

// parseWithClause parses a WITH clause with CTEs.
func (p *Parser) parseWithClause() *WithClause {
	start := p.token.Pos
	p.expect(token.WITH)
	with := &WithClause{}

	if p.match(token.RECURSIVE) {
		with.Recursive = true
	}

	for {
		cte := p.parseCTE()
		with.CTEs = append(with.CTEs, cte)

		if !p.match(token.COMMA) {
			break
		}
	}

	with.Span = p.spanFrom(start)
	return with
}

// parseCTE parses a single CTE.
func (p *Parser) parseCTE() *CTE {
	start := p.token.Pos
	cte := &CTE{}

	cte.Name = p.parseName("CTE name")
	if cte.Name == "" {
		return cte
	}

	if p.check(token.LPAREN) {
		cte.Columns = p.parseIdentList()
	}

	p.expect(token.AS)

	p.expect(token.LPAREN)
	cte.Select = p.parseStatement()
	p.expect(token.RPAREN)

	cte.Span = p.spanFrom(start)
	return cte
}

// parseIdentList parses "(" name ("," name)* ")".
func (p *Parser) parseIdentList() []string {
	p.expect(token.LPAREN)
	var names []string
	for {
		name := p.parseName("column name")
		if name == "" {
			break
		}
		names = append(names, name)
		if !p.match(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN)
	return names
}

// parseSelectBody parses a SELECT body with possible set operations.
func (p *Parser) parseSelectBody() *SelectBody {
	start := p.token.Pos
	body := &SelectBody{}
	body.Left = p.parseSelectCore()

	if p.check(token.UNION) || p.check(token.INTERSECT) || p.check(token.EXCEPT) {
		switch p.token.Type {
		case token.UNION:
			p.nextToken()
			if p.match(token.ALL) {
				body.Op = SetOpUnionAll
				body.All = true
			} else {
				body.Op = SetOpUnion
				p.match(token.DISTINCT)
			}
		case token.INTERSECT:
			p.nextToken()
			body.Op = SetOpIntersect
			p.match(token.ALL)
		case token.EXCEPT:
			p.nextToken()
			body.Op = SetOpExcept
			p.match(token.ALL)
		}

		body.Right = p.parseSelectBody()
	}

	body.Span = p.spanFrom(start)
	return body
}

// parseSelectCore parses a single SELECT clause.
func (p *Parser) parseSelectCore() *SelectCore {
	start := p.token.Pos
	core := &SelectCore{}
	if !p.expect(token.SELECT) {
		return core
	}

	if p.match(token.DISTINCT) {
		core.Distinct = true
	} else {
		p.match(token.ALL)
	}

	core.Columns = p.parseSelectList()

	if p.match(token.FROM) {
		core.From = p.parseFromClause()
	}

	p.parseClauses(core)
	core.Span = p.spanFrom(start)
	return core
}

// parseClauses parses the optional clauses following FROM in their fixed order.
func (p *Parser) parseClauses(core *SelectCore) {
	if p.match(token.WHERE) {
		core.Where = p.parseExpression()
	}

	if p.match(token.GROUP) {
		p.expect(token.BY)
		if p.check(token.ALL) {
			// GROUP BY ALL groups by every non-aggregate projection.
			p.nextToken()
			core.GroupByAll = true
		} else {
			core.GroupBy = p.parseExpressionList()
		}
	}

	if p.match(token.HAVING) {
		core.Having = p.parseExpression()
	}

	if p.match(token.WINDOW) {
		core.Windows = p.parseWindowDefs()
	}

	if p.match(token.QUALIFY) {
		core.Qualify = p.parseExpression()
	}

	if p.match(token.ORDER) {
		p.expect(token.BY)
		core.OrderBy = p.parseOrderByList()
	}

	if p.match(token.LIMIT) {
		core.Limit = p.parseExpression()
	}

	if p.match(token.OFFSET) {
		core.Offset = p.parseExpression()
		if p.check(token.ROW) || p.check(token.ROWS) {
			p.nextToken()
		}
	}
}

// parseSelectList parses the list of SELECT items.
func (p *Parser) parseSelectList() []SelectItem {
	var items []SelectItem

	for {
		item := p.parseSelectItem()
		items = append(items, item)

		if !p.match(token.COMMA) {
			break
		}
	}

	return items
}

// parseSelectItem parses a single SELECT item.
func (p *Parser) parseSelectItem() SelectItem {
	item := SelectItem{}

	if p.check(token.STAR) {
		item.Star = true
		p.nextToken()
		return item
	}

	// table.* using 3-token lookahead (no rollback needed)
	if p.checkName() && p.checkPeek(token.DOT) && p.checkPeek2(token.STAR) {
		item.TableStar = p.token.Literal
		p.nextToken()
		p.nextToken()
		p.nextToken()
		return item
	}

	item.Expr = p.parseExpression()
	item.Alias = p.parseAlias()

	return item
}

// parseOrderByList parses a list of ORDER BY items.
func (p *Parser) parseOrderByList() []OrderByItem {
	var items []OrderByItem

	for {
		item := p.parseOrderByItem()
		items = append(items, item)

		if !p.match(token.COMMA) {
			break
		}
	}

	return items
}

// parseOrderByItem parses a single ORDER BY item.
func (p *Parser) parseOrderByItem() OrderByItem {
	item := OrderByItem{}
	item.Expr = p.parseExpression()

	if p.match(token.ASC) {
		item.Desc = false
	} else if p.match(token.DESC) {
		item.Desc = true
	}

	if p.match(token.NULLS) {
		if p.match(token.FIRST) {
			b := true
			item.NullsFirst = &b
		} else if p.match(token.LAST) {
			b := false
			item.NullsFirst = &b
		}
	}

	return item
}

// parseExpressionList parses a comma-separated list of expressions.
func (p *Parser) parseExpressionList() []Expr {
	var exprs []Expr

	for {
		expr := p.parseExpression()
		exprs = append(exprs, expr)

		if !p.match(token.COMMA) {
			break
		}
	}

	return exprs
}

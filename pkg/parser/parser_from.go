package parser

import (
	"fmt"

	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// FROM clause parsing: table references, derived tables, lateral joins, JOINs.
//
// Grammar:
//
//	from_clause   → table_ref (join)*
//	table_ref     → table_name | derived_table | LATERAL derived_table
//	table_name    → [catalog "."] [schema "."] identifier [[AS] identifier]
//	derived_table → "(" query ")" [AS] identifier
//	join          → [NATURAL] join_type JOIN table_ref [ON expr | USING "(" ident_list ")"]
//	              | "," table_ref
//	join_type     → [INNER] | LEFT [OUTER] | RIGHT [OUTER] | FULL [OUTER] | CROSS

// parseFromClause parses the FROM clause.
func (p *Parser) parseFromClause() *FromClause {
	from := &FromClause{}
	from.Source = p.parseTableRef()

	for {
		join := p.parseJoin()
		if join == nil {
			break
		}
		from.Joins = append(from.Joins, join)
	}

	return from
}

// parseTableRef parses a table reference.
func (p *Parser) parseTableRef() TableRef {
	if p.match(token.LATERAL) {
		derived := p.parseDerivedTable()
		derived.Lateral = true
		return derived
	}

	if p.check(token.LPAREN) {
		return p.parseDerivedTable()
	}

	return p.parseTableName(true)
}

// parseTableName parses a table name with optional schema/catalog and alias.
func (p *Parser) parseTableName(withAlias bool) *TableName {
	table := &TableName{}

	name := p.parseName("table name")
	if name == "" {
		return table
	}

	// Parse potentially qualified name: catalog.schema.table
	parts := []string{name}
	for p.match(token.DOT) {
		parts = append(parts, p.parseName("table name"))
	}

	switch len(parts) {
	case 1:
		table.Name = parts[0]
	case 2:
		table.Schema = parts[0]
		table.Name = parts[1]
	default:
		table.Catalog = parts[len(parts)-3]
		table.Schema = parts[len(parts)-2]
		table.Name = parts[len(parts)-1]
	}

	if withAlias {
		table.Alias = p.parseAlias()
	}

	return table
}

// parseDerivedTable parses a derived table (subquery in FROM).
func (p *Parser) parseDerivedTable() *DerivedTable {
	p.expect(token.LPAREN)
	derived := &DerivedTable{}
	derived.Select = p.parseStatement()
	p.expect(token.RPAREN)

	derived.Alias = p.parseAlias()

	// Column aliases on derived tables are accepted and ignored.
	if derived.Alias != "" && p.check(token.LPAREN) {
		p.parseIdentList()
	}

	return derived
}

// parseJoin parses a JOIN clause. Returns nil when no join follows.
func (p *Parser) parseJoin() *Join {
	join := &Join{}

	// Comma join (implicit cross join)
	if p.match(token.COMMA) {
		join.Type = JoinComma
		join.Right = p.parseTableRef()
		return join
	}

	if p.match(token.NATURAL) {
		join.Natural = true
	}

	switch p.token.Type {
	case token.JOIN:
		join.Type = JoinInner
	case token.INNER:
		p.nextToken()
		join.Type = JoinInner
	case token.LEFT:
		p.nextToken()
		p.match(token.OUTER)
		join.Type = JoinLeft
	case token.RIGHT:
		p.nextToken()
		p.match(token.OUTER)
		join.Type = JoinRight
	case token.FULL:
		p.nextToken()
		p.match(token.OUTER)
		join.Type = JoinFull
	case token.CROSS:
		p.nextToken()
		join.Type = JoinCross
	default:
		if join.Natural {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, token.JOIN))
		}
		return nil
	}

	if !p.expect(token.JOIN) {
		return nil
	}

	join.Right = p.parseTableRef()
	p.parseJoinCondition(join)
	return join
}

// parseJoinCondition handles ON/USING/NATURAL validation.
func (p *Parser) parseJoinCondition(join *Join) {
	switch {
	case join.Natural:
		if p.check(token.ON) {
			p.addError(ErrNaturalWithOn)
		}
		if p.check(token.USING) {
			p.addError(ErrNaturalUsing)
		}
	case p.match(token.ON):
		join.Condition = p.parseExpression()
	case p.match(token.USING):
		join.Using = p.parseIdentList()
	}
}

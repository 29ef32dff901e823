package format

import (
	"github.com/leapstack-labs/sqllineage/pkg/parser"
	"github.com/leapstack-labs/sqllineage/pkg/token"
)

func (p *Printer) formatSelectStmt(stmt *parser.SelectStmt) {
	if stmt == nil {
		return
	}

	if stmt.With != nil {
		p.kw(token.WITH)
		p.space()
		if stmt.With.Recursive {
			p.kw(token.RECURSIVE)
			p.space()
		}
		p.formatList(len(stmt.With.CTEs), func(i int) {
			cte := stmt.With.CTEs[i]
			p.ident(cte.Name)
			if len(cte.Columns) > 0 {
				p.write(" (")
				p.formatList(len(cte.Columns), func(j int) { p.ident(cte.Columns[j]) }, ", ")
				p.write(")")
			}
			p.space()
			p.kw(token.AS)
			p.write(" (")
			p.formatSelectStmt(cte.Select)
			p.write(")")
		}, ", ")
		p.space()
	}

	for body := stmt.Body; body != nil; body = body.Right {
		p.formatSelectCore(body.Left)
		if body.Right != nil {
			p.space()
			p.write(string(body.Op))
			p.space()
		}
	}
}

func (p *Printer) formatSelectCore(core *parser.SelectCore) {
	if core == nil {
		return
	}

	p.kw(token.SELECT)
	p.space()
	if core.Distinct {
		p.kw(token.DISTINCT)
		p.space()
	}

	p.formatList(len(core.Columns), func(i int) { p.formatSelectItem(core.Columns[i]) }, ", ")

	if core.From != nil {
		p.space()
		p.kw(token.FROM)
		p.space()
		p.formatTableRef(core.From.Source)
		for _, join := range core.From.Joins {
			p.formatJoin(join)
		}
	}

	if core.Where != nil {
		p.space()
		p.kw(token.WHERE)
		p.space()
		p.formatExpr(core.Where)
	}

	if core.GroupByAll {
		p.space()
		p.kw(token.GROUP, token.BY, token.ALL)
	} else if len(core.GroupBy) > 0 {
		p.space()
		p.kw(token.GROUP, token.BY)
		p.space()
		p.formatList(len(core.GroupBy), func(i int) { p.formatExpr(core.GroupBy[i]) }, ", ")
	}

	if core.Having != nil {
		p.space()
		p.kw(token.HAVING)
		p.space()
		p.formatExpr(core.Having)
	}

	if len(core.Windows) > 0 {
		p.space()
		p.kw(token.WINDOW)
		p.space()
		p.formatList(len(core.Windows), func(i int) {
			p.ident(core.Windows[i].Name)
			p.space()
			p.kw(token.AS)
			p.space()
			p.formatWindowSpec(core.Windows[i].Spec)
		}, ", ")
	}

	if core.Qualify != nil {
		p.space()
		p.kw(token.QUALIFY)
		p.space()
		p.formatExpr(core.Qualify)
	}

	if len(core.OrderBy) > 0 {
		p.space()
		p.kw(token.ORDER, token.BY)
		p.space()
		p.formatList(len(core.OrderBy), func(i int) { p.formatOrderByItem(core.OrderBy[i]) }, ", ")
	}

	if core.Limit != nil {
		p.space()
		p.kw(token.LIMIT)
		p.space()
		p.formatExpr(core.Limit)
	}

	if core.Offset != nil {
		p.space()
		p.kw(token.OFFSET)
		p.space()
		p.formatExpr(core.Offset)
	}
}

func (p *Printer) formatSelectItem(item parser.SelectItem) {
	switch {
	case item.Star:
		p.write("*")
	case item.TableStar != "":
		p.qualified(item.TableStar)
		p.write(".*")
	default:
		p.formatExpr(item.Expr)
		if item.Alias != "" {
			p.space()
			p.kw(token.AS)
			p.space()
			p.ident(item.Alias)
		}
	}
}

func (p *Printer) formatTableRef(ref parser.TableRef) {
	switch t := ref.(type) {
	case *parser.TableName:
		p.qualified(t.QualifiedName())
		if t.Alias != "" {
			p.space()
			p.kw(token.AS)
			p.space()
			p.ident(t.Alias)
		}
	case *parser.DerivedTable:
		if t.Lateral {
			p.kw(token.LATERAL)
			p.space()
		}
		p.write("(")
		p.formatSelectStmt(t.Select)
		p.write(")")
		if t.Alias != "" {
			p.space()
			p.kw(token.AS)
			p.space()
			p.ident(t.Alias)
		}
	}
}

func (p *Printer) formatJoin(join *parser.Join) {
	if join.Type == parser.JoinComma {
		p.write(", ")
		p.formatTableRef(join.Right)
		return
	}

	p.space()
	if join.Natural {
		p.kw(token.NATURAL)
		p.space()
	}
	p.write(string(join.Type))
	p.space()
	p.kw(token.JOIN)
	p.space()
	p.formatTableRef(join.Right)

	switch {
	case join.Condition != nil:
		p.space()
		p.kw(token.ON)
		p.space()
		p.formatExpr(join.Condition)
	case len(join.Using) > 0:
		p.space()
		p.write(UsingClause(join.Using))
	}
}

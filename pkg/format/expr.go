package format

import (
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/parser"
	"github.com/leapstack-labs/sqllineage/pkg/token"
)

func (p *Printer) formatExpr(e parser.Expr) {
	if e == nil {
		return
	}

	switch expr := e.(type) {
	case *parser.Literal:
		p.formatLiteral(expr)
	case *parser.ColumnRef:
		p.formatColumnRef(expr)
	case *parser.BinaryExpr:
		p.formatExpr(expr.Left)
		p.space()
		p.kw(expr.Op)
		p.space()
		p.formatExpr(expr.Right)
	case *parser.UnaryExpr:
		p.kw(expr.Op)
		if expr.Op == token.NOT {
			p.space()
		}
		p.formatExpr(expr.Expr)
	case *parser.FuncCall:
		p.formatFuncCall(expr)
	case *parser.ExtractExpr:
		p.write("EXTRACT(")
		p.keyword(expr.Field)
		p.space()
		p.kw(token.FROM)
		p.space()
		p.formatExpr(expr.Expr)
		p.write(")")
	case *parser.CaseExpr:
		p.formatCaseExpr(expr)
	case *parser.CastExpr:
		p.kw(token.CAST)
		p.write("(")
		p.formatExpr(expr.Expr)
		p.space()
		p.kw(token.AS)
		p.space()
		p.write(expr.TypeName)
		p.write(")")
	case *parser.InExpr:
		p.formatInExpr(expr)
	case *parser.BetweenExpr:
		p.formatExpr(expr.Expr)
		p.space()
		if expr.Not {
			p.kw(token.NOT)
			p.space()
		}
		p.kw(token.BETWEEN)
		p.space()
		p.formatExpr(expr.Low)
		p.space()
		p.kw(token.AND)
		p.space()
		p.formatExpr(expr.High)
	case *parser.IsNullExpr:
		p.formatExpr(expr.Expr)
		p.space()
		p.kw(token.IS)
		if expr.Not {
			p.space()
			p.kw(token.NOT)
		}
		p.space()
		p.kw(token.NULL)
	case *parser.IsBoolExpr:
		p.formatExpr(expr.Expr)
		p.space()
		p.kw(token.IS)
		if expr.Not {
			p.space()
			p.kw(token.NOT)
		}
		p.space()
		if expr.Value {
			p.kw(token.TRUE)
		} else {
			p.kw(token.FALSE)
		}
	case *parser.LikeExpr:
		p.formatExpr(expr.Expr)
		p.space()
		if expr.Not {
			p.kw(token.NOT)
			p.space()
		}
		p.kw(expr.Op)
		p.space()
		p.formatExpr(expr.Pattern)
	case *parser.ParenExpr:
		p.write("(")
		p.formatExpr(expr.Expr)
		p.write(")")
	case *parser.StarExpr:
		if expr.Table != "" {
			p.qualified(expr.Table)
			p.write(".")
		}
		p.write("*")
	case *parser.SubqueryExpr:
		p.write("(")
		p.formatNested(expr.Select)
		p.write(")")
	case *parser.ExistsExpr:
		if expr.Not {
			p.kw(token.NOT)
			p.space()
		}
		p.kw(token.EXISTS)
		p.write(" (")
		p.formatNested(expr.Select)
		p.write(")")
	}
}

func (p *Printer) formatLiteral(lit *parser.Literal) {
	switch lit.Type {
	case parser.LiteralString:
		p.quoted(lit.Value)
	case parser.LiteralBool:
		if strings.EqualFold(lit.Value, "true") {
			p.kw(token.TRUE)
		} else {
			p.kw(token.FALSE)
		}
	case parser.LiteralNull:
		p.kw(token.NULL)
	case parser.LiteralTyped:
		p.write(lit.Prefix)
		p.space()
		p.quoted(lit.Value)
		if lit.Suffix != "" {
			p.space()
			p.write(lit.Suffix)
		}
	default:
		p.write(lit.Value)
	}
}

func (p *Printer) quoted(s string) {
	p.write("'")
	p.write(strings.ReplaceAll(s, "'", "''"))
	p.write("'")
}

func (p *Printer) formatColumnRef(col *parser.ColumnRef) {
	if p.depth == 0 && p.opts.Column != nil {
		p.write(p.opts.Column(col))
		return
	}
	if col.Table != "" {
		p.qualified(col.Table)
		p.write(".")
	}
	p.ident(col.Column)
}

func (p *Printer) formatFuncCall(fn *parser.FuncCall) {
	p.write(fn.Name)
	p.write("(")

	if fn.Distinct {
		p.kw(token.DISTINCT)
		p.space()
	}

	if fn.Star {
		p.write("*")
	} else {
		p.formatList(len(fn.Args), func(i int) { p.formatExpr(fn.Args[i]) }, ", ")
	}

	p.write(")")

	if fn.Filter != nil {
		p.space()
		p.kw(token.FILTER)
		p.write(" (")
		p.kw(token.WHERE)
		p.space()
		p.formatExpr(fn.Filter)
		p.write(")")
	}

	if fn.Window != nil {
		p.space()
		p.kw(token.OVER)
		p.space()
		p.formatWindowSpec(fn.Window)
	}
}

func (p *Printer) formatWindowSpec(w *parser.WindowSpec) {
	if w.Name != "" && len(w.PartitionBy) == 0 && len(w.OrderBy) == 0 && w.Frame == nil {
		p.ident(w.Name)
		return
	}

	p.write("(")
	var parts []func()
	if w.Name != "" {
		parts = append(parts, func() { p.ident(w.Name) })
	}
	if len(w.PartitionBy) > 0 {
		parts = append(parts, func() {
			p.kw(token.PARTITION, token.BY)
			p.space()
			p.formatList(len(w.PartitionBy), func(i int) { p.formatExpr(w.PartitionBy[i]) }, ", ")
		})
	}
	if len(w.OrderBy) > 0 {
		parts = append(parts, func() {
			p.kw(token.ORDER, token.BY)
			p.space()
			p.formatList(len(w.OrderBy), func(i int) { p.formatOrderByItem(w.OrderBy[i]) }, ", ")
		})
	}
	if w.Frame != nil {
		parts = append(parts, func() { p.formatFrameSpec(w.Frame) })
	}
	p.formatList(len(parts), func(i int) { parts[i]() }, " ")
	p.write(")")
}

func (p *Printer) formatFrameSpec(f *parser.FrameSpec) {
	p.keyword(string(f.Type))
	p.space()
	if f.End == nil {
		p.formatFrameBound(f.Start)
		return
	}
	p.kw(token.BETWEEN)
	p.space()
	p.formatFrameBound(f.Start)
	p.space()
	p.kw(token.AND)
	p.space()
	p.formatFrameBound(f.End)
}

func (p *Printer) formatFrameBound(b *parser.FrameBound) {
	if b == nil {
		return
	}
	switch b.Type {
	case parser.FrameUnboundedPreceding:
		p.kw(token.UNBOUNDED, token.PRECEDING)
	case parser.FrameUnboundedFollowing:
		p.kw(token.UNBOUNDED, token.FOLLOWING)
	case parser.FrameCurrentRow:
		p.kw(token.CURRENT, token.ROW)
	case parser.FrameExprPreceding:
		p.formatExpr(b.Offset)
		p.space()
		p.kw(token.PRECEDING)
	case parser.FrameExprFollowing:
		p.formatExpr(b.Offset)
		p.space()
		p.kw(token.FOLLOWING)
	}
}

func (p *Printer) formatCaseExpr(c *parser.CaseExpr) {
	p.kw(token.CASE)

	if c.Operand != nil {
		p.space()
		p.formatExpr(c.Operand)
	}

	for _, w := range c.Whens {
		p.space()
		p.kw(token.WHEN)
		p.space()
		p.formatExpr(w.Condition)
		p.space()
		p.kw(token.THEN)
		p.space()
		p.formatExpr(w.Result)
	}

	if c.Else != nil {
		p.space()
		p.kw(token.ELSE)
		p.space()
		p.formatExpr(c.Else)
	}

	p.space()
	p.kw(token.END)
}

func (p *Printer) formatInExpr(in *parser.InExpr) {
	p.formatExpr(in.Expr)
	p.space()
	if in.Not {
		p.kw(token.NOT)
		p.space()
	}
	p.kw(token.IN)
	p.write(" (")
	if in.Query != nil {
		p.formatNested(in.Query)
	} else {
		p.formatList(len(in.Values), func(i int) { p.formatExpr(in.Values[i]) }, ", ")
	}
	p.write(")")
}

func (p *Printer) formatOrderByItem(item parser.OrderByItem) {
	p.formatExpr(item.Expr)
	if item.Desc {
		p.space()
		p.kw(token.DESC)
	}
	if item.NullsFirst != nil {
		p.space()
		p.kw(token.NULLS)
		p.space()
		if *item.NullsFirst {
			p.kw(token.FIRST)
		} else {
			p.kw(token.LAST)
		}
	}
}

// formatNested prints a subquery with column rewriting disabled.
func (p *Printer) formatNested(stmt *parser.SelectStmt) {
	p.depth++
	p.formatSelectStmt(stmt)
	p.depth--
}

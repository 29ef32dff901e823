package parser

import "github.com/leapstack-labs/sqllineage/pkg/token"

// Walk traverses an expression tree in depth-first order, calling fn for
// each node. If fn returns false, the children of that node are skipped.
// Walk does not descend into subqueries; callers see the SubqueryExpr,
// ExistsExpr or InExpr node and decide how to treat the nested query.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}

	switch expr := e.(type) {
	case *BinaryExpr:
		Walk(expr.Left, fn)
		Walk(expr.Right, fn)
	case *UnaryExpr:
		Walk(expr.Expr, fn)
	case *FuncCall:
		for _, arg := range expr.Args {
			Walk(arg, fn)
		}
		Walk(expr.Filter, fn)
		if expr.Window != nil {
			for _, pe := range expr.Window.PartitionBy {
				Walk(pe, fn)
			}
			for _, o := range expr.Window.OrderBy {
				Walk(o.Expr, fn)
			}
		}
	case *ExtractExpr:
		Walk(expr.Expr, fn)
	case *CaseExpr:
		Walk(expr.Operand, fn)
		for _, w := range expr.Whens {
			Walk(w.Condition, fn)
			Walk(w.Result, fn)
		}
		Walk(expr.Else, fn)
	case *CastExpr:
		Walk(expr.Expr, fn)
	case *InExpr:
		Walk(expr.Expr, fn)
		for _, v := range expr.Values {
			Walk(v, fn)
		}
	case *BetweenExpr:
		Walk(expr.Expr, fn)
		Walk(expr.Low, fn)
		Walk(expr.High, fn)
	case *IsNullExpr:
		Walk(expr.Expr, fn)
	case *IsBoolExpr:
		Walk(expr.Expr, fn)
	case *LikeExpr:
		Walk(expr.Expr, fn)
		Walk(expr.Pattern, fn)
	case *ParenExpr:
		Walk(expr.Expr, fn)
	}
}

// Subqueries returns the queries nested directly inside an expression, in
// source order. Queries nested inside those queries are not included.
func Subqueries(e Expr) []*SelectStmt {
	var out []*SelectStmt
	Walk(e, func(n Expr) bool {
		switch x := n.(type) {
		case *SubqueryExpr:
			out = append(out, x.Select)
		case *ExistsExpr:
			out = append(out, x.Select)
		case *InExpr:
			if x.Query != nil {
				out = append(out, x.Query)
			}
		}
		return true
	})
	return out
}

// Columns returns every column reference in an expression in source order,
// excluding references inside subqueries.
func Columns(e Expr) []*ColumnRef {
	var out []*ColumnRef
	Walk(e, func(n Expr) bool {
		if col, ok := n.(*ColumnRef); ok {
			out = append(out, col)
		}
		return true
	})
	return out
}

// Conjuncts splits an expression on top-level AND operators, unwrapping
// redundant parentheses around the whole expression.
func Conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if paren, ok := e.(*ParenExpr); ok {
		if bin, ok := paren.Expr.(*BinaryExpr); ok && bin.Op == token.AND {
			return Conjuncts(paren.Expr)
		}
	}
	if bin, ok := e.(*BinaryExpr); ok && bin.Op == token.AND {
		return append(Conjuncts(bin.Left), Conjuncts(bin.Right)...)
	}
	return []Expr{e}
}

package derive

import (
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/format"
	"github.com/leapstack-labs/sqllineage/pkg/parser"
	"github.com/leapstack-labs/sqllineage/pkg/token"
)

var caseFunctions = map[string]bool{"UPPER": true, "LOWER": true, "INITCAP": true}

var nullFunctions = map[string]bool{"COALESCE": true, "IFNULL": true, "NULLIF": true, "NVL": true, "NVL2": true}

var concatFunctions = map[string]bool{"CONCAT": true, "CONCAT_WS": true}

var hashFunctions = map[string]bool{
	"MD5": true, "SHA1": true, "SHA2": true, "SHA256": true, "SHA512": true,
	"HASH": true, "FARM_FINGERPRINT": true, "XXHASH64": true,
}

// features summarizes what an expression tree contains.
type features struct {
	aggregate *parser.FuncCall
	window    *parser.FuncCall
	caseFn    *parser.FuncCall
	hashFn    *parser.FuncCall
	concat    bool
	subquery  bool
}

func inspect(e parser.Expr) features {
	var f features
	parser.Walk(e, func(n parser.Expr) bool {
		switch x := n.(type) {
		case *parser.FuncCall:
			switch {
			case x.Window != nil:
				if f.window == nil {
					f.window = x
				}
			case core.IsAggregate(x.Name):
				if f.aggregate == nil {
					f.aggregate = x
				}
			}
			if caseFunctions[x.Name] && f.caseFn == nil {
				f.caseFn = x
			}
			if hashFunctions[x.Name] && f.hashFn == nil {
				f.hashFn = x
			}
			if concatFunctions[x.Name] {
				f.concat = true
			}
		case *parser.BinaryExpr:
			if x.Op == token.DPIPE {
				f.concat = true
			}
		case *parser.SubqueryExpr, *parser.ExistsExpr:
			f.subquery = true
		case *parser.InExpr:
			if x.Query != nil {
				f.subquery = true
			}
		}
		return true
	})
	return f
}

// describe names the transformation an output expression applies.
// hasSources is false when no column feeds the expression.
func (d *deriver) describe(e parser.Expr, hasSources bool) (string, core.TransformKind) {
	e = unparen(e)
	text := format.Expr(e)
	f := inspect(e)

	if _, ok := e.(*parser.ColumnRef); ok {
		if d.groups[exprKey(d.core, e)] {
			return "direct, group key", core.TransformGroupKey
		}
		return "direct", core.TransformDirect
	}

	desc, kind := phrase(e, f, hasSources)
	if kind != core.TransformAggregation && kind != core.TransformLiteral && d.groups[exprKey(d.core, e)] {
		desc = "group key, " + desc
	}
	return desc + ": " + text, kind
}

func phrase(e parser.Expr, f features, hasSources bool) (string, core.TransformKind) {
	switch {
	case f.aggregate != nil:
		return "aggregation", core.TransformAggregation
	case f.window != nil:
		return "window function " + f.window.Name + "()", core.TransformWindow
	}

	switch x := e.(type) {
	case *parser.SubqueryExpr:
		return "scalar subquery", core.TransformSubquery
	case *parser.Literal:
		if !f.subquery {
			return "literal", core.TransformLiteral
		}
	case *parser.CaseExpr:
		return "conditional", core.TransformConditional
	case *parser.CastExpr:
		return "cast to " + x.TypeName, core.TransformCast
	}

	if !hasSources && !f.subquery {
		return "constant", core.TransformLiteral
	}

	switch {
	case f.hashFn != nil:
		return "hash function " + f.hashFn.Name + "()", core.TransformExpression
	case f.concat && f.caseFn != nil:
		return "concatenation with case transformation " + f.caseFn.Name + "()", core.TransformExpression
	case f.concat:
		return "concatenation", core.TransformExpression
	}

	switch x := e.(type) {
	case *parser.FuncCall:
		switch {
		case caseFunctions[x.Name]:
			return "case transformation " + x.Name + "()", core.TransformExpression
		case nullFunctions[x.Name]:
			return "null handling " + x.Name + "()", core.TransformExpression
		case x.Name == "IF" || x.Name == "IIF":
			return "conditional", core.TransformConditional
		default:
			return "function " + x.Name + "()", core.TransformExpression
		}
	case *parser.ExtractExpr:
		return "function EXTRACT()", core.TransformExpression
	case *parser.BinaryExpr:
		if isArithmetic(x.Op) {
			return "arithmetic", core.TransformExpression
		}
		return "boolean expression", core.TransformExpression
	case *parser.UnaryExpr:
		if x.Op == token.MINUS || x.Op == token.PLUS {
			return "arithmetic", core.TransformExpression
		}
		return "boolean expression", core.TransformExpression
	case *parser.InExpr, *parser.ExistsExpr, *parser.BetweenExpr, *parser.IsNullExpr,
		*parser.IsBoolExpr, *parser.LikeExpr:
		return "boolean expression", core.TransformExpression
	}
	return "expression", core.TransformExpression
}

func isArithmetic(op token.TokenType) bool {
	switch op {
	case token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT:
		return true
	}
	return false
}

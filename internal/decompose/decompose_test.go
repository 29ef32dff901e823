package decompose

import (
	"context"
	"errors"
	"testing"

	"github.com/leapstack-labs/sqllineage/internal/testutil"
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decompose(t *testing.T, sql string) *core.Decomposition {
	t.Helper()
	d := New(Config{Logger: testutil.NewTestLogger(t)})
	out, err := d.Decompose(context.Background(), sql)
	require.NoError(t, err)
	return out
}

func decomposeErr(t *testing.T, sql string) *core.DecompositionError {
	t.Helper()
	_, err := New(Config{}).Decompose(context.Background(), sql)
	require.Error(t, err)
	var de *core.DecompositionError
	require.True(t, errors.As(err, &de), "expected DecompositionError, got %T: %v", err, err)
	return de
}

func TestDecompose_CTEAndMainQuery(t *testing.T) {
	out := decompose(t, `WITH t AS (SELECT id, value FROM a) SELECT * FROM t WHERE value > 100`)

	require.Len(t, out.Units, 2)
	assert.Equal(t, []string{"t", "main_query"}, out.Units.Names())

	assert.Equal(t, "sp1", out.Units[0].ID)
	assert.Equal(t, core.UnitCTE, out.Units[0].Kind)
	assert.Equal(t, "SELECT id, value FROM a", out.Units[0].SQL)

	assert.Equal(t, "sp2", out.Units[1].ID)
	assert.Equal(t, core.UnitMainQuery, out.Units[1].Kind)
	assert.Equal(t, "SELECT * FROM t WHERE value > 100", out.Units[1].SQL)

	assert.Equal(t, core.StatementSelect, out.Kind)
	assert.Empty(t, out.Target)
}

func TestDecompose_ChainedCTEs(t *testing.T) {
	sql := `WITH
  orders_2024 AS (SELECT * FROM orders WHERE order_date >= DATE '2024-01-01'),
  totals AS (SELECT customer_id, SUM(amount) AS total FROM orders_2024 GROUP BY customer_id),
  unused AS (SELECT 1 AS one)
SELECT c.name, t.total
FROM customers c
JOIN totals t ON c.id = t.customer_id`

	out := decompose(t, sql)
	assert.Equal(t, []string{"orders_2024", "totals", "unused", "main_query"}, out.Units.Names())
	require.NoError(t, core.ValidateUnits(out.Units))
}

func TestDecompose_CTEColumnList(t *testing.T) {
	out := decompose(t, `WITH t (a, b) AS (SELECT id, name FROM users) SELECT a, b FROM t`)
	assert.Equal(t, []string{"a", "b"}, out.Units[0].Columns)
}

func TestDecompose_CTEColumnListIsNotReused(t *testing.T) {
	out := decompose(t, `WITH t (k) AS (SELECT id FROM users) SELECT q.id FROM (SELECT id FROM users) q`)
	assert.Equal(t, []string{"t", "subquery_q", "main_query"}, out.Units.Names())
	assert.Equal(t, []string{"subquery_q"}, out.Reads["main_query"])
}

func TestDecompose_ForwardReference(t *testing.T) {
	err := decomposeErr(t, `WITH b AS (SELECT x FROM a), a AS (SELECT 1 AS x) SELECT x FROM b`)
	assert.Contains(t, err.Error(), `references "a" before it is defined`)
	assert.Equal(t, "b", err.Unit())
}

func TestDecompose_DuplicateCTE(t *testing.T) {
	err := decomposeErr(t, `WITH a AS (SELECT 1 AS x), a AS (SELECT 2 AS x) SELECT x FROM a`)
	assert.Contains(t, err.Error(), "defined more than once")
}

func TestDecompose_Recursive(t *testing.T) {
	sql := `WITH RECURSIVE r AS (SELECT 1 AS n UNION ALL SELECT n + 1 FROM r WHERE n < 5) SELECT n FROM r`
	out := decompose(t, sql)
	assert.Equal(t, []string{"r", "main_query"}, out.Units.Names())
}

func TestDecompose_SelfReferenceWithoutRecursive(t *testing.T) {
	err := decomposeErr(t, `WITH r AS (SELECT n FROM r) SELECT n FROM r`)
	assert.Contains(t, err.Error(), "without RECURSIVE")
}

func TestDecompose_ExistsSubquery(t *testing.T) {
	sql := `SELECT name FROM employees
WHERE EXISTS (SELECT 1 FROM timesheets WHERE employees.id = timesheets.emp_id AND hours > 40)`

	out := decompose(t, sql)
	require.Equal(t, []string{"subquery_exists", "main_query"}, out.Units.Names())
	assert.Equal(t, core.UnitSubquery, out.Units[0].Kind)
	assert.Equal(t, "SELECT 1 FROM timesheets WHERE employees.id = timesheets.emp_id AND hours > 40", out.Units[0].SQL)
	// The main query keeps the subquery inline.
	assert.Equal(t, sql, out.Units[1].SQL)
}

func TestDecompose_DerivedTable(t *testing.T) {
	sql := `SELECT s.customer_id, s.total
FROM (SELECT customer_id, SUM(amount) AS total FROM orders GROUP BY customer_id) s
WHERE s.total > 1000`

	out := decompose(t, sql)
	require.Equal(t, []string{"subquery_s", "main_query"}, out.Units.Names())
	assert.Equal(t, "SELECT customer_id, SUM(amount) AS total FROM orders GROUP BY customer_id", out.Units[0].SQL)
}

func TestDecompose_UnaliasedDerivedTable(t *testing.T) {
	out := decompose(t, `SELECT id FROM (SELECT id FROM users)`)
	assert.Equal(t, []string{"subquery_from", "main_query"}, out.Units.Names())
}

func TestDecompose_TrivialSubqueryStaysInline(t *testing.T) {
	out := decompose(t, `SELECT id FROM orders WHERE customer_id IN (SELECT id FROM customers)`)
	assert.Equal(t, []string{"main_query"}, out.Units.Names())
}

func TestDecompose_TrivialSubqueryOverCTE(t *testing.T) {
	sql := `WITH vip AS (SELECT id FROM customers WHERE tier = 'gold')
SELECT id, amount FROM orders WHERE customer_id IN (SELECT id FROM vip)`

	out := decompose(t, sql)
	assert.Equal(t, []string{"vip", "main_query"}, out.Units.Names())
}

func TestDecompose_InSubqueryNames(t *testing.T) {
	sql := `SELECT id FROM orders
WHERE customer_id IN (SELECT id FROM customers WHERE tier = 'gold')
  AND product_id IN (SELECT id FROM products WHERE price > 10)`

	out := decompose(t, sql)
	assert.Equal(t, []string{"subquery_in", "subquery_in_2", "main_query"}, out.Units.Names())
}

func TestDecompose_IdenticalSubqueriesCollapse(t *testing.T) {
	sql := `SELECT id, amount, (SELECT MAX(amount) FROM orders) AS top
FROM orders
WHERE amount < (SELECT MAX(amount) FROM orders)`

	out := decompose(t, sql)
	assert.Equal(t, []string{"subquery_scalar", "main_query"}, out.Units.Names())
}

func TestDecompose_NestedSubqueryOrder(t *testing.T) {
	sql := `WITH a AS (SELECT id FROM t1),
b AS (SELECT id FROM (SELECT id FROM a WHERE id > 1) f)
SELECT id FROM b`

	out := decompose(t, sql)
	assert.Equal(t, []string{"a", "subquery_f", "b", "main_query"}, out.Units.Names())
	assert.Equal(t, []string{"sp1", "sp2", "sp3", "sp4"}, []string{
		out.Units[0].ID, out.Units[1].ID, out.Units[2].ID, out.Units[3].ID,
	})
}

func TestDecompose_NestedWithIsHoisted(t *testing.T) {
	sql := `WITH outer_cte AS (WITH inner_cte AS (SELECT id FROM t) SELECT id FROM inner_cte)
SELECT id FROM outer_cte`

	out := decompose(t, sql)
	require.Equal(t, []string{"inner_cte", "outer_cte", "main_query"}, out.Units.Names())
	assert.Equal(t, "SELECT id FROM inner_cte", out.Units[1].SQL)
}

func TestDecompose_UnknownQualifier(t *testing.T) {
	err := decomposeErr(t, `SELECT x.id FROM orders o`)
	assert.Contains(t, err.Error(), `unknown table "x"`)
	assert.Equal(t, core.MainQueryName, err.Unit())
}

func TestDecompose_CorrelatedQualifierIsVisible(t *testing.T) {
	sql := `SELECT o.id FROM orders o
WHERE o.amount > (SELECT AVG(i.amount) FROM orders i WHERE i.customer_id = o.customer_id)`

	out := decompose(t, sql)
	assert.Equal(t, []string{"subquery_where", "main_query"}, out.Units.Names())
}

func TestDecompose_Insert(t *testing.T) {
	sql := `INSERT INTO mart.daily_totals (day, total)
SELECT order_date, SUM(amount) FROM orders GROUP BY order_date`

	out := decompose(t, sql)
	assert.Equal(t, core.StatementInsert, out.Kind)
	assert.Equal(t, "mart.daily_totals", out.Target)
	assert.Equal(t, []string{"day", "total"}, out.TargetColumns)
	main, ok := out.Main()
	require.True(t, ok)
	assert.Equal(t, "SELECT order_date, SUM(amount) FROM orders GROUP BY order_date", main.SQL)
}

func TestDecompose_CreateView(t *testing.T) {
	out := decompose(t, `CREATE OR REPLACE VIEW active_users AS SELECT id FROM users WHERE active`)
	assert.Equal(t, core.StatementCreateView, out.Kind)
	assert.Equal(t, "active_users", out.Target)
	assert.True(t, out.Replace)
}

func TestDecompose_ParseError(t *testing.T) {
	err := decomposeErr(t, `SELECT FROM WHERE`)
	var pe *parser.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestDecompose_Empty(t *testing.T) {
	err := decomposeErr(t, "   ")
	assert.Contains(t, err.Error(), "empty script")
}

func TestDecompose_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Decompose(ctx, "SELECT 1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecompose_NeverReferencesLaterUnit(t *testing.T) {
	sql := `WITH a AS (SELECT id, v FROM src),
b AS (SELECT id FROM a WHERE v IN (SELECT v FROM a WHERE id > 3)),
c AS (SELECT b.id FROM b JOIN a ON a.id = b.id)
SELECT id FROM c WHERE EXISTS (SELECT 1 FROM b WHERE b.id = c.id)`

	out := decompose(t, sql)
	position := make(map[string]int)
	for i, u := range out.Units {
		position[u.Name] = i
	}
	want := map[string][]string{
		"a":               {},
		"b":               {"a", "subquery_in"},
		"c":               {"a", "b"},
		"subquery_in":     {"a"},
		"subquery_exists": {"b"},
		"main_query":      {"c", "subquery_exists"},
	}
	require.Len(t, out.Reads, len(want))
	for unit, reads := range want {
		assert.ElementsMatch(t, reads, out.Reads[unit], "reads of %s", unit)
	}
	for unit, reads := range out.Reads {
		for _, dep := range reads {
			assert.Less(t, position[dep], position[unit], "%s must precede %s", dep, unit)
		}
	}
	assert.Equal(t, "main_query", out.Units[len(out.Units)-1].Name)
}

func TestBuildCatalog(t *testing.T) {
	out := decompose(t, `WITH t AS (SELECT id, value * 2 AS doubled FROM a),
s AS (SELECT * FROM t),
u AS (SELECT * FROM b)
SELECT * FROM s`)

	cat := BuildCatalog(out, core.Schema{})

	cols, ok := cat.Columns("t")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "doubled"}, cols)

	cols, ok = cat.Columns("s")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "doubled"}, cols)

	_, ok = cat.Columns("u")
	assert.False(t, ok, "star over an unknown table leaves columns unknown")
}

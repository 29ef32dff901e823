package lineage

import (
	"testing"

	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(name, sql string) core.LogicalUnit {
	return core.LogicalUnit{Name: name, SQL: sql, Kind: core.InferUnitKind(name)}
}

func names(outputs []Output) []string {
	out := make([]string, len(outputs))
	for i, o := range outputs {
		out[i] = o.Name
	}
	return out
}

var testSchema = core.Schema{
	"orders":    {{Name: "id"}, {Name: "customer_id"}, {Name: "amount"}},
	"customers": {{Name: "id"}, {Name: "name"}},
}

func TestLoad_ResolvesUnitsAndTables(t *testing.T) {
	cte := unit("totals", "SELECT customer_id, SUM(amount) AS total FROM orders GROUP BY customer_id")
	main := unit(core.MainQueryName, "SELECT c.name, t.total FROM customers c JOIN totals t ON c.id = t.customer_id")
	cat := core.NewCatalog(core.Units{cte, main}, testSchema)
	cat.SetColumns("totals", []string{"customer_id", "total"})

	u, err := Load(main, cat)
	require.NoError(t, err)
	require.Len(t, u.Cores, 1)

	tables := u.Cores[0].Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, parser.ScopeTable, tables[0].Type)
	assert.Equal(t, "customers", tables[0].Source)
	assert.Equal(t, parser.ScopeUnit, tables[1].Type)
	assert.Equal(t, "totals", tables[1].Source)

	srcs, err := u.Cores[0].Resolve(&parser.ColumnRef{Column: "total"})
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, core.ColumnRef{Table: "totals", Column: "total"}, srcs[0].Ref())
	assert.False(t, srcs[0].Outer)
}

func TestLoad_DerivedTableNeedsUnit(t *testing.T) {
	main := unit(core.MainQueryName, "SELECT s.id FROM (SELECT id FROM orders WHERE amount > 1) s")
	cat := core.NewCatalog(core.Units{main}, nil)

	_, err := Load(main, cat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `derived table "s" does not match any unit`)

	sub := unit("subquery_s", "SELECT id FROM orders WHERE amount > 1")
	cat = core.NewCatalog(core.Units{sub, main}, nil)
	cat.SetColumns("subquery_s", []string{"id"})

	u, err := Load(main, cat)
	require.NoError(t, err)
	entry := u.Cores[0].Tables()[0]
	assert.Equal(t, parser.ScopeDerived, entry.Type)
	assert.Equal(t, "s", entry.Name)
	assert.Equal(t, "subquery_s", entry.Source)
}

func TestResolve_Using(t *testing.T) {
	main := unit(core.MainQueryName, "SELECT id, name FROM orders JOIN customers USING (id)")
	cat := core.NewCatalog(core.Units{main}, testSchema)

	u, err := Load(main, cat)
	require.NoError(t, err)

	srcs, err := u.Cores[0].Resolve(&parser.ColumnRef{Column: "id"})
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.Equal(t, "orders", srcs[0].Entry.Source)
	assert.Equal(t, "customers", srcs[1].Entry.Source)
}

func TestResolve_OuterScope(t *testing.T) {
	main := unit(core.MainQueryName, "SELECT id FROM orders")
	cat := core.NewCatalog(core.Units{main}, testSchema)
	u, err := Load(main, cat)
	require.NoError(t, err)

	inner, err := parser.ParseSelect("SELECT 1 FROM customers c WHERE c.id = customer_id")
	require.NoError(t, err)
	cores, err := u.Scopes(inner, u.Cores[0].Scope)
	require.NoError(t, err)

	srcs, err := cores[0].Resolve(&parser.ColumnRef{Column: "customer_id"})
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.True(t, srcs[0].Outer)
	assert.Equal(t, "orders", srcs[0].Entry.Source)
}

func TestOutputs(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{"aliases and columns", "SELECT id, amount * 2 AS doubled FROM orders", []string{"id", "doubled"}},
		{"unaliased expression", "SELECT UPPER(name) FROM customers", []string{"UPPER(name)"}},
		{"star over schema", "SELECT * FROM orders", []string{"id", "customer_id", "amount"}},
		{"table star", "SELECT c.*, o.amount FROM customers c JOIN orders o ON o.customer_id = c.id", []string{"id", "name", "amount"}},
		{"duplicate names", "SELECT o.id, c.id FROM orders o JOIN customers c ON o.customer_id = c.id", []string{"id", "id_2"}},
		{"unknown star", "SELECT * FROM events", []string{"*"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main := unit(core.MainQueryName, tt.sql)
			u, err := Load(main, core.NewCatalog(core.Units{main}, testSchema))
			require.NoError(t, err)
			outputs, err := u.Outputs(u.Cores[0])
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(outputs))
		})
	}
}

func TestOutputs_DeclaredColumns(t *testing.T) {
	cte := core.LogicalUnit{Name: "t", SQL: "SELECT id, amount FROM orders", Kind: core.UnitCTE, Columns: []string{"order_id", "value"}}
	u, err := Load(cte, core.NewCatalog(core.Units{cte}, testSchema))
	require.NoError(t, err)

	outputs, err := u.Outputs(u.Cores[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "value"}, names(outputs))

	cte.Columns = []string{"only_one"}
	u, err = Load(cte, core.NewCatalog(core.Units{cte}, testSchema))
	require.NoError(t, err)
	_, err = u.Outputs(u.Cores[0])
	assert.ErrorContains(t, err, "declares 1 columns but selects 2")
}

func TestOutputs_UnknownTableStar(t *testing.T) {
	main := unit(core.MainQueryName, "SELECT x.* FROM orders")
	u, err := Load(main, core.NewCatalog(core.Units{main}, testSchema))
	require.NoError(t, err)
	_, err = u.Outputs(u.Cores[0])
	assert.ErrorContains(t, err, `unknown table or alias "x"`)
}

func TestColumnNames(t *testing.T) {
	main := unit(core.MainQueryName, "SELECT * FROM events")
	cols, err := ColumnNames(main, core.NewCatalog(core.Units{main}, nil))
	require.NoError(t, err)
	assert.Nil(t, cols)

	main = unit(core.MainQueryName, "SELECT id, name FROM customers")
	cols, err = ColumnNames(main, core.NewCatalog(core.Units{main}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
}

func TestQueryText(t *testing.T) {
	sql := "WITH a AS (SELECT 1 AS x) SELECT x FROM a"
	stmt, err := parser.ParseSelect(sql)
	require.NoError(t, err)
	assert.Equal(t, "SELECT x FROM a", QueryText(stmt, sql))
	assert.Equal(t, "SELECT 1 AS x", QueryText(stmt.With.CTEs[0].Select, sql))
}

func TestIsTrivial(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT id FROM customers", true},
		{"SELECT id, name FROM customers", true},
		{"SELECT c.id FROM customers c", false},
		{"SELECT id FROM customers WHERE tier = 'gold'", false},
		{"SELECT DISTINCT id FROM customers", false},
		{"SELECT MAX(id) FROM customers", false},
		{"SELECT * FROM customers", false},
		{"SELECT id FROM customers ORDER BY id", false},
		{"SELECT id FROM customers LIMIT 1", false},
		{"SELECT id FROM a UNION SELECT id FROM b", false},
		{"SELECT a.id FROM a JOIN b ON a.id = b.id", false},
		{"WITH x AS (SELECT 1 AS id) SELECT id FROM x", false},
		{"SELECT id FROM (SELECT id FROM t)", false},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			stmt, err := parser.ParseSelect(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, IsTrivial(stmt))
		})
	}
}

package trace

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/leapstack-labs/sqllineage/internal/decompose"
	"github.com/leapstack-labs/sqllineage/internal/testutil"
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trace(t *testing.T, sql, unit string) ([]core.TableOperationRecord, error) {
	t.Helper()
	ctx := context.Background()
	d, err := decompose.New(decompose.Config{}).Decompose(ctx, sql)
	require.NoError(t, err)
	cat := decompose.BuildCatalog(d, nil)
	u, ok := d.Units.Find(unit)
	require.True(t, ok, "unit %s not found in %v", unit, d.Units.Names())
	return New(Config{Logger: testutil.NewTestLogger(t)}).Trace(ctx, u, cat)
}

func mustTrace(t *testing.T, sql, unit string) []core.TableOperationRecord {
	t.Helper()
	records, err := trace(t, sql, unit)
	require.NoError(t, err)
	require.NoError(t, core.ValidateOperationRecords(unit, records))
	return records
}

func record(t *testing.T, records []core.TableOperationRecord, table string) core.TableOperationRecord {
	t.Helper()
	for _, r := range records {
		if r.SourceTable == table {
			return r
		}
	}
	t.Fatalf("no record for %s", table)
	return core.TableOperationRecord{}
}

func tables(records []core.TableOperationRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.SourceTable
	}
	return out
}

func TestTrace_GroupByAndHaving(t *testing.T) {
	sql := `SELECT customer_id, SUM(amount) AS total FROM orders GROUP BY customer_id HAVING SUM(amount) > 1000`
	records := mustTrace(t, sql, core.MainQueryName)

	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "orders", r.SourceTable)
	assert.Equal(t, []string{"customer_id", "amount"}, r.SourceFields)
	assert.Equal(t, []string{"customer_id"}, r.Operators.GroupBy)
	assert.Equal(t, []string{"SUM(amount) > 1000"}, r.Operators.Having)
	assert.Empty(t, r.Operators.Filters)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "order_by")
	assert.NotContains(t, string(data), "filters")
}

func TestTrace_JoinAttributesConditionToBothSides(t *testing.T) {
	sql := `SELECT c.name, o.amount
FROM customers c JOIN orders o ON o.customer_id = c.id
WHERE o.amount > 100
ORDER BY o.amount DESC`
	records := mustTrace(t, sql, core.MainQueryName)

	assert.Equal(t, []string{"customers", "orders"}, tables(records))

	customers := record(t, records, "customers")
	assert.Equal(t, []string{"o.customer_id = c.id"}, customers.Operators.Joins)
	assert.Equal(t, []string{"id"}, customers.SourceFields)
	assert.Empty(t, customers.Operators.Filters)

	orders := record(t, records, "orders")
	assert.Equal(t, []string{"o.customer_id = c.id"}, orders.Operators.Joins)
	assert.Equal(t, []string{"o.amount > 100"}, orders.Operators.Filters)
	assert.Equal(t, []string{"o.amount DESC"}, orders.Operators.OrderBy)
	assert.Equal(t, []string{"amount", "customer_id"}, orders.SourceFields)
}

func TestTrace_SingleTablePrintsBareColumns(t *testing.T) {
	records := mustTrace(t, "SELECT id FROM orders o WHERE o.status = 'open' AND o.amount >= 10", core.MainQueryName)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"status = 'open'", "amount >= 10"}, records[0].Operators.Filters)
	assert.Equal(t, []string{"status", "amount"}, records[0].SourceFields)
}

func TestTrace_CorrelatedExists(t *testing.T) {
	sql := `SELECT id FROM employees
WHERE EXISTS (SELECT 1 FROM timesheets WHERE employees.id = timesheets.emp_id AND hours > 40)`

	main := mustTrace(t, sql, core.MainQueryName)
	assert.Equal(t, []string{"employees", "subquery_exists"}, tables(main))
	pred := "EXISTS (SELECT 1 FROM timesheets WHERE employees.id = timesheets.emp_id AND hours > 40)"
	employees := record(t, main, "employees")
	assert.Equal(t, []string{pred}, employees.Operators.Filters)
	assert.Equal(t, []string{"id"}, employees.SourceFields)
	assert.Equal(t, []string{pred}, record(t, main, "subquery_exists").Operators.Filters)

	sub := mustTrace(t, sql, "subquery_exists")
	require.Len(t, sub, 1)
	assert.Equal(t, "timesheets", sub[0].SourceTable)
	assert.Equal(t, []string{"employees.id = timesheets.emp_id", "hours > 40"}, sub[0].Operators.Filters)
	assert.Equal(t, []string{"emp_id", "hours"}, sub[0].SourceFields)
}

func TestTrace_TrivialInSubquery(t *testing.T) {
	records := mustTrace(t, "SELECT id FROM orders WHERE customer_id IN (SELECT id FROM customers)", core.MainQueryName)

	assert.Equal(t, []string{"orders", "customers"}, tables(records))
	pred := "customer_id IN (SELECT id FROM customers)"
	assert.Equal(t, []string{pred}, record(t, records, "orders").Operators.Filters)
	assert.Equal(t, []string{"customer_id"}, record(t, records, "orders").SourceFields)
	assert.Equal(t, []string{pred}, record(t, records, "customers").Operators.Filters)
	assert.Equal(t, []string{"id"}, record(t, records, "customers").SourceFields)
}

func TestTrace_Using(t *testing.T) {
	records := mustTrace(t, "SELECT id FROM orders JOIN customers USING (id)", core.MainQueryName)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, []string{"USING (id)"}, r.Operators.Joins, r.SourceTable)
		assert.Equal(t, []string{"id"}, r.SourceFields, r.SourceTable)
	}
}

func TestTrace_OtherOperators(t *testing.T) {
	sql := `SELECT DISTINCT CASE WHEN amount > 100 THEN 'big' ELSE 'small' END AS size FROM orders LIMIT 10`
	records := mustTrace(t, sql, core.MainQueryName)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"amount > 100", "DISTINCT", "LIMIT 10"}, records[0].Operators.Other)
	assert.Equal(t, []string{"amount"}, records[0].SourceFields)
}

func TestTrace_SimpleCaseBecomesEquality(t *testing.T) {
	records := mustTrace(t, "SELECT CASE status WHEN 'open' THEN 1 ELSE 0 END AS is_open FROM orders", core.MainQueryName)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"status = 'open'"}, records[0].Operators.Other)
}

func TestTrace_OrderByAliasAndOrdinal(t *testing.T) {
	sql := `SELECT customer_id, SUM(amount) AS total FROM orders GROUP BY 1 ORDER BY total DESC`
	records := mustTrace(t, sql, core.MainQueryName)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, []string{"customer_id"}, r.Operators.GroupBy)
	assert.Equal(t, []string{"total DESC"}, r.Operators.OrderBy)
	assert.Equal(t, []string{"customer_id", "amount"}, r.SourceFields)
}

func TestTrace_ThroughCTE(t *testing.T) {
	sql := `WITH t AS (SELECT id, value FROM a) SELECT * FROM t WHERE value > 100`

	main := mustTrace(t, sql, core.MainQueryName)
	require.Len(t, main, 1)
	assert.Equal(t, "t", main[0].SourceTable)
	assert.Equal(t, []string{"value"}, main[0].SourceFields)
	assert.Equal(t, []string{"value > 100"}, main[0].Operators.Filters)

	cte := mustTrace(t, sql, "t")
	require.Len(t, cte, 1)
	assert.Equal(t, "a", cte[0].SourceTable)
	assert.True(t, cte[0].Operators.Empty())
	assert.NotNil(t, cte[0].SourceFields)
	assert.Empty(t, cte[0].SourceFields)
}

func TestTrace_SelfJoinHasOneRecord(t *testing.T) {
	sql := `SELECT e.name, m.name AS manager FROM employees e JOIN employees m ON e.manager_id = m.id`
	records := mustTrace(t, sql, core.MainQueryName)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"e.manager_id = m.id"}, records[0].Operators.Joins)
	assert.Equal(t, []string{"manager_id", "id"}, records[0].SourceFields)
}

func TestTrace_ScalarSubqueryIsRead(t *testing.T) {
	records := mustTrace(t, "SELECT id, (SELECT MAX(amount) FROM orders) AS top FROM customers", core.MainQueryName)
	assert.Equal(t, []string{"customers", "subquery_scalar"}, tables(records))
	for _, r := range records {
		assert.True(t, r.Operators.Empty(), r.SourceTable)
	}
}

func TestTrace_AmbiguousColumn(t *testing.T) {
	_, err := trace(t, "SELECT a.x FROM a JOIN b ON a.id = b.id WHERE id > 1", core.MainQueryName)
	var te *core.OperationTraceError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, core.MainQueryName, te.Unit())
	assert.Contains(t, err.Error(), "cannot resolve column id")
}

func TestTrace_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	unit := core.LogicalUnit{Name: core.MainQueryName, SQL: "SELECT 1", Kind: core.UnitMainQuery}
	_, err := New(Config{}).Trace(ctx, unit, core.NewCatalog(core.Units{unit}, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

package compose

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/leapstack-labs/sqllineage/internal/decompose"
	"github.com/leapstack-labs/sqllineage/internal/derive"
	"github.com/leapstack-labs/sqllineage/internal/testutil"
	"github.com/leapstack-labs/sqllineage/internal/trace"
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2025, 8, 2, 11, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) Config {
	return Config{
		Logger:    testutil.NewTestLogger(t),
		Namespace: "warehouse",
		Now:       func() time.Time { return fixedTime },
		RunID:     func() string { return "f3c7a42e-a2f6-11ed-a8fc-0242ac120002" },
	}
}

// analyze runs the per-unit stages over sql.
func analyze(t *testing.T, sql string) Analysis {
	t.Helper()
	ctx := context.Background()
	d, err := decompose.New(decompose.Config{}).Decompose(ctx, sql)
	require.NoError(t, err)
	cat := decompose.BuildCatalog(d, nil)

	a := Analysis{SQL: sql, Decomposition: d}
	for _, u := range d.Units {
		fields, err := derive.New(derive.Config{}).Analyze(ctx, u, cat)
		require.NoError(t, err, u.Name)
		records, err := trace.New(trace.Config{}).Trace(ctx, u, cat)
		require.NoError(t, err, u.Name)
		a.Fields = append(a.Fields, fields)
		a.Operations = append(a.Operations, records)
	}
	return a
}

func compose(t *testing.T, cfg Config, sql string) *openlineage.RunEvent {
	t.Helper()
	ev, err := New(cfg).Compose(context.Background(), analyze(t, sql))
	require.NoError(t, err)
	return ev
}

func inputNames(ev *openlineage.RunEvent) []string {
	out := make([]string, len(ev.Inputs))
	for i, in := range ev.Inputs {
		out[i] = in.Name
	}
	return out
}

func schemaFields(ds openlineage.Dataset) []string {
	out := make([]string, len(ds.Facets.Schema.Fields))
	for i, f := range ds.Facets.Schema.Fields {
		out[i] = f.Name
	}
	return out
}

func lineageOf(t *testing.T, ev *openlineage.RunEvent, field string) []openlineage.InputField {
	t.Helper()
	require.Len(t, ev.Outputs, 1)
	f, ok := ev.Outputs[0].Facets.ColumnLineage.Fields[field]
	require.True(t, ok, "no column lineage for %s", field)
	return f.InputFields
}

func TestCompose_ResolvesThroughCTE(t *testing.T) {
	ev := compose(t, testConfig(t), `WITH t AS (SELECT id, value FROM a) SELECT * FROM t WHERE value > 100`)

	assert.Equal(t, openlineage.EventStart, ev.EventType)
	assert.Equal(t, "2025-08-02T11:00:00Z", ev.EventTime)
	assert.Equal(t, []string{"a"}, inputNames(ev))
	assert.Equal(t, []string{"id", "value"}, schemaFields(ev.Inputs[0]))
	assert.Equal(t, openlineage.LifecycleRead, ev.Inputs[0].Facets.LifecycleStateChange.LifecycleStateChange)

	assert.Equal(t, DefaultJobName, ev.Outputs[0].Name)
	assert.Nil(t, ev.Outputs[0].Facets.LifecycleStateChange)
	assert.Equal(t, []openlineage.InputField{{
		Namespace: "warehouse",
		Name:      "a",
		Field:     "value",
		Transformations: []openlineage.Transformation{{
			Type:        openlineage.TransformationDirect,
			Subtype:     openlineage.SubtypeIdentity,
			Description: "direct -> direct",
		}},
	}}, lineageOf(t, ev, "value"))
}

func TestCompose_AggregationChain(t *testing.T) {
	sql := `WITH totals AS (SELECT customer_id, SUM(amount) AS total FROM orders GROUP BY customer_id)
SELECT c.name, t.total FROM customers c JOIN totals t ON c.id = t.customer_id`
	ev := compose(t, testConfig(t), sql)

	assert.Equal(t, []string{"orders", "customers"}, inputNames(ev))
	assert.Equal(t, []string{"customer_id", "amount"}, schemaFields(ev.Inputs[0]))
	assert.Equal(t, []string{"name", "id"}, schemaFields(ev.Inputs[1]))

	total := lineageOf(t, ev, "total")
	require.Len(t, total, 1)
	assert.Equal(t, "orders", total[0].Name)
	assert.Equal(t, "amount", total[0].Field)
	assert.Equal(t, openlineage.SubtypeAggregation, total[0].Transformations[0].Subtype)
	assert.Equal(t, "aggregation: SUM(amount) -> direct", total[0].Transformations[0].Description)
}

func TestCompose_InsertRenamesOutputs(t *testing.T) {
	sql := `INSERT INTO mart.daily_totals (day, total)
SELECT order_date, SUM(amount) FROM orders GROUP BY order_date`
	ev := compose(t, testConfig(t), sql)

	assert.Equal(t, "mart.daily_totals", ev.Outputs[0].Name)
	assert.Equal(t, "sql_insert_select", ev.Job.Facets.JobType.JobType)
	assert.Equal(t, sql, ev.Job.Facets.SQL.Query)
	assert.Equal(t, "order_date", lineageOf(t, ev, "day")[0].Field)
	assert.Equal(t, "amount", lineageOf(t, ev, "total")[0].Field)
}

func TestCompose_InsertColumnCountMismatch(t *testing.T) {
	a := analyze(t, `INSERT INTO out (a, b, c) SELECT x, y FROM src`)
	_, err := New(testConfig(t)).Compose(context.Background(), a)
	var ce *core.CompositionError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "lists 3 columns but the query selects 2")
}

func TestCompose_CreateLifecycle(t *testing.T) {
	ev := compose(t, testConfig(t), `CREATE TABLE snap AS SELECT id FROM users`)
	assert.Equal(t, "sql_create_table_as", ev.Job.Facets.JobType.JobType)
	require.NotNil(t, ev.Outputs[0].Facets.LifecycleStateChange)
	assert.Equal(t, openlineage.LifecycleCreate, ev.Outputs[0].Facets.LifecycleStateChange.LifecycleStateChange)

	ev = compose(t, testConfig(t), `CREATE OR REPLACE VIEW v AS SELECT id FROM users`)
	assert.Equal(t, openlineage.LifecycleOverwrite, ev.Outputs[0].Facets.LifecycleStateChange.LifecycleStateChange)
}

func TestCompose_Masking(t *testing.T) {
	ev := compose(t, testConfig(t), `SELECT MD5(email) AS email_hash, id FROM users`)
	tr := lineageOf(t, ev, "email_hash")[0].Transformations[0]
	assert.True(t, tr.Masking)
	assert.Equal(t, openlineage.SubtypeTransformation, tr.Subtype)
	assert.False(t, lineageOf(t, ev, "id")[0].Transformations[0].Masking)
}

func TestCompose_LiteralHasNoInputs(t *testing.T) {
	ev := compose(t, testConfig(t), `SELECT 1 AS one, id FROM a`)
	one := lineageOf(t, ev, "one")
	assert.NotNil(t, one)
	assert.Empty(t, one)

	data, err := json.Marshal(ev.Outputs[0].Facets.ColumnLineage.Fields["one"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"inputFields": []}`, string(data))
}

func TestCompose_ReadsThroughUnexpandedStar(t *testing.T) {
	ev := compose(t, testConfig(t), `WITH t AS (SELECT * FROM a) SELECT id FROM t`)
	id := lineageOf(t, ev, "id")
	require.Len(t, id, 1)
	assert.Equal(t, "a", id[0].Name)
	assert.Equal(t, "id", id[0].Field)
	assert.Equal(t, []string{"id"}, schemaFields(ev.Inputs[0]))
}

func TestCompose_RecursiveCTE(t *testing.T) {
	ev := compose(t, testConfig(t), `WITH RECURSIVE r AS (SELECT 1 AS n UNION ALL SELECT n + 1 FROM r WHERE n < 5) SELECT n FROM r`)
	assert.Empty(t, ev.Inputs)
	assert.Empty(t, lineageOf(t, ev, "n"))
}

func TestCompose_UnionSourcesMerge(t *testing.T) {
	ev := compose(t, testConfig(t), `SELECT id FROM customers UNION ALL SELECT id FROM vendors`)
	id := lineageOf(t, ev, "id")
	require.Len(t, id, 2)
	assert.Equal(t, "customers", id[0].Name)
	assert.Equal(t, "vendors", id[1].Name)
}

func TestCompose_FacetsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobName = "daily_order_metrics_job"
	cfg.Producer = "https://openlineage.io/sql"
	cfg.Integration = "custom-sql-runner"
	cfg.DatasetSubtype = "postgres"
	cfg.Owners = []openlineage.Owner{{Name: "dataops@example.com", Type: "group"}}
	cfg.Parent = &openlineage.ParentRunFacet{
		Job: openlineage.ParentJob{Name: "scheduler", Namespace: "scheduler.production"},
		Run: openlineage.ParentRun{RunID: "12345678-90ab-cdef-1234-567890abcdef"},
	}
	cfg.Schema = core.Schema{"orders": {{Name: "amount", Type: "decimal", Description: "Amount of each order"}}}

	ev := compose(t, cfg, `SELECT SUM(amount) AS total FROM orders WHERE status = 'complete'`)

	assert.Equal(t, "12345678-90ab-cdef-1234-567890abcdef", ev.Run.Facets.Parent.Run.RunID)
	assert.Equal(t, "daily_order_metrics_job", ev.Job.Name)
	assert.Equal(t, "daily_order_metrics_job", ev.Outputs[0].Name)
	assert.Equal(t, "custom-sql-runner", ev.Job.Facets.JobType.Integration)
	assert.Equal(t, openlineage.DefaultProcessingType, ev.Job.Facets.JobType.ProcessingType)
	assert.Equal(t, "https://openlineage.io/spec/facets/1-0-0/SqlJobFacet.json", ev.Job.Facets.SQL.SchemaURL)

	in := ev.Inputs[0]
	assert.Equal(t, "https://openlineage.io/sql", in.Facets.Storage.Producer)
	assert.Equal(t, DefaultStorageLayer, in.Facets.Storage.StorageLayer)
	assert.Equal(t, DefaultFileFormat, in.Facets.Storage.FileFormat)
	assert.Equal(t, "postgres", in.Facets.DatasetType.SubType)
	assert.Equal(t, cfg.Owners, in.Facets.Ownership.Owners)
	assert.Equal(t, []openlineage.SchemaField{
		{Name: "amount", Type: "decimal", Description: "Amount of each order"},
		{Name: "status"},
	}, in.Facets.Schema.Fields)
}

func TestCompose_Idempotent(t *testing.T) {
	sql := `WITH t AS (SELECT id, value FROM a) SELECT id, value * 2 AS doubled FROM t WHERE value > 100`
	first, err := json.Marshal(compose(t, testConfig(t), sql))
	require.NoError(t, err)
	second, err := json.Marshal(compose(t, testConfig(t), sql))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func handmade(fields ...[]core.OutputFieldMapping) Analysis {
	units := core.Units{}
	for i := range fields[:len(fields)-1] {
		units = append(units, core.LogicalUnit{ID: core.UnitID(i), Name: string(rune('t' + i)), SQL: "SELECT 1", Kind: core.UnitCTE})
	}
	units = append(units, core.LogicalUnit{ID: core.UnitID(len(units)), Name: core.MainQueryName, SQL: "SELECT 1", Kind: core.UnitMainQuery})
	return Analysis{
		Decomposition: &core.Decomposition{Units: units, Kind: core.StatementSelect},
		Fields:        fields,
		Operations:    make([][]core.TableOperationRecord, len(fields)),
	}
}

func mapping(name string, sources ...core.ColumnRef) core.OutputFieldMapping {
	return core.OutputFieldMapping{Name: name, Sources: sources, Transformation: "direct"}
}

func TestCompose_Errors(t *testing.T) {
	tests := []struct {
		name string
		a    Analysis
		ref  string
		msg  string
	}{
		{
			name: "unknown unit column",
			a: handmade(
				[]core.OutputFieldMapping{mapping("id", core.ColumnRef{Table: "a", Column: "id"})},
				[]core.OutputFieldMapping{mapping("x", core.ColumnRef{Table: "t", Column: "x"})},
			),
			ref: "t.x",
			msg: "unit t has no output column x",
		},
		{
			name: "reads a later unit",
			a: handmade(
				[]core.OutputFieldMapping{mapping("id", core.ColumnRef{Table: "u", Column: "id"})},
				[]core.OutputFieldMapping{mapping("id", core.ColumnRef{Table: "a", Column: "id"})},
				[]core.OutputFieldMapping{mapping("id", core.ColumnRef{Table: "t", Column: "id"})},
			),
			ref: "u.id",
			msg: "t reads u, which is defined after it",
		},
		{
			name: "table never read",
			a: handmade(
				[]core.OutputFieldMapping{mapping("id", core.ColumnRef{Table: "b", Column: "id"})},
			),
			ref: "b",
			msg: "table b feeds output id but no unit reads it",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(testConfig(t)).Compose(context.Background(), tt.a)
			var ce *core.CompositionError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.ref, ce.Reference)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCompose_RequiresMainQueryLast(t *testing.T) {
	a := Analysis{
		Decomposition: &core.Decomposition{Units: core.Units{{ID: "sp1", Name: "t", SQL: "SELECT 1", Kind: core.UnitCTE}}},
		Fields:        [][]core.OutputFieldMapping{{}},
		Operations:    [][]core.TableOperationRecord{{}},
	}
	_, err := New(Config{}).Compose(context.Background(), a)
	var ce *core.CompositionError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "last unit must be main_query")
}

func TestPathTransformation(t *testing.T) {
	tests := []struct {
		name string
		hops []hop
		want string
	}{
		{"identity", []hop{{"direct", core.TransformDirect}, {"direct, group key", core.TransformGroupKey}}, openlineage.SubtypeIdentity},
		{"expression", []hop{{"direct", core.TransformDirect}, {"arithmetic: x * 2", core.TransformExpression}}, openlineage.SubtypeTransformation},
		{"conditional", []hop{{"conditional: CASE WHEN x THEN 1 END", core.TransformConditional}, {"arithmetic: y + 1", core.TransformExpression}}, openlineage.SubtypeConditional},
		{"aggregation wins", []hop{{"aggregation: SUM(x)", core.TransformAggregation}, {"conditional: IF(y, 1, 0)", core.TransformConditional}}, openlineage.SubtypeAggregation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, path{table: "a", column: "x", hops: tt.hops}.transformation().Subtype)
		})
	}
}

func TestCompose_RunIDOverride(t *testing.T) {
	a := analyze(t, `SELECT id FROM a`)
	a.RunID = "5e2c0d43-9b1a-4c6e-8f47-1a2b3c4d5e6f"
	c := New(testConfig(t))
	ev, err := c.Compose(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, a.RunID, ev.Run.RunID)

	ns, job := c.Job()
	assert.Equal(t, "warehouse", ns)
	assert.Equal(t, DefaultJobName, job)
}

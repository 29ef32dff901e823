package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqllineage/internal/cli/testutil"
	"github.com/leapstack-labs/sqllineage/internal/compose"
	"github.com/leapstack-labs/sqllineage/internal/pipeline"
	"github.com/leapstack-labs/sqllineage/internal/state"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{cmd: NewDecomposeCommand(), use: "decompose [file|-]"},
		{cmd: NewFieldsCommand(), use: "fields [file|-]"},
		{cmd: NewOperationsCommand(), use: "operations [file|-]"},
		{cmd: NewAnalyzeCommand(), use: "analyze [file|-]", flags: []string{"watch", "persist", "job", "namespace"}},
		{cmd: NewGraphCommand(), use: "graph [file|-]"},
		{cmd: NewServeCommand(), use: "serve", flags: []string{"addr", "persist"}},
		{cmd: NewRunsCommand(), use: "runs"},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			assert.NotEmpty(t, tt.cmd.Long, "Long should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestNewRunsCommand_Subcommands(t *testing.T) {
	cmd := NewRunsCommand()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "show"}, names)
}

func analyzeSample(t *testing.T) *pipeline.Result {
	t.Helper()
	p := pipeline.New(pipeline.Config{
		Compose: compose.Config{
			Namespace: "warehouse",
			Now:       func() time.Time { return time.Date(2025, 8, 2, 11, 0, 0, 0, time.UTC) },
			RunID:     func() string { return "0b3f2a9e-1c55-4f0e-9a57-9d0c7a1e2b44" },
		},
	})
	res, err := p.Run(context.Background(), testutil.SampleScript)
	require.NoError(t, err)
	return res
}

func TestRenderUnits(t *testing.T) {
	res := analyzeSample(t)

	tr := testutil.NewTestRendererMarkdown()
	renderUnits(tr.Renderer, res.Decomposition)

	out := tr.Output()
	assert.Contains(t, out, "# Logical Units")
	assert.Contains(t, out, "| sp1 | recent | cte |")
	assert.Contains(t, out, "| sp3 | main_query | main_query |")
	assert.Contains(t, out, "3 units, select statement")
	testutil.AssertValidMarkdown(t, out)
	testutil.AssertNoANSI(t, out)
}

func TestRenderFields(t *testing.T) {
	res := analyzeSample(t)

	tr := testutil.NewTestRendererMarkdown()
	units := res.Decomposition.Units
	renderFields(tr.Renderer, units[1], res.Fields[1])

	out := tr.Output()
	assert.Contains(t, out, "## totals")
	assert.Contains(t, out, "| total | recent.amount | Aggregation |")
}

func TestRenderOperations(t *testing.T) {
	res := analyzeSample(t)

	tr := testutil.NewTestRendererMarkdown()
	units := res.Decomposition.Units
	renderOperations(tr.Renderer, units[0], res.Operations[0])
	assert.Contains(t, tr.Output(), "| orders |")
	assert.Contains(t, tr.Output(), "| Filters | amount > 0 |")

	tr.Reset()
	renderOperations(tr.Renderer, units[1], res.Operations[1])
	assert.Contains(t, tr.Output(), "| Group By | customer_id |")
}

func TestRenderEvent(t *testing.T) {
	res := analyzeSample(t)

	t.Run("json", func(t *testing.T) {
		tr := testutil.NewTestRendererJSON()
		require.NoError(t, renderEvent(tr.Renderer, res.Event))
		var ev map[string]any
		require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &ev))
		assert.Equal(t, "START", ev["eventType"])
	})

	t.Run("yaml", func(t *testing.T) {
		tr := testutil.NewTestRendererYAML()
		require.NoError(t, renderEvent(tr.Renderer, res.Event))
		assert.Contains(t, tr.Output(), "eventType: START")
		assert.Contains(t, tr.Output(), "runId: 0b3f2a9e-1c55-4f0e-9a57-9d0c7a1e2b44")
	})

	t.Run("markdown summary", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		require.NoError(t, renderEvent(tr.Renderer, res.Event))
		out := tr.Output()
		assert.Contains(t, out, "Run: 0b3f2a9e-1c55-4f0e-9a57-9d0c7a1e2b44")
		assert.Contains(t, out, "Job: warehouse/")
		assert.Contains(t, out, "| total | orders.amount |")
		testutil.AssertValidMarkdown(t, out)
	})

	t.Run("auto prints json", func(t *testing.T) {
		tr := testutil.NewTestRenderer("", false)
		require.NoError(t, renderEvent(tr.Renderer, res.Event))
		assert.True(t, json.Valid(tr.Out.Bytes()))
	})
}

func TestRenderGraph(t *testing.T) {
	res := analyzeSample(t)

	tr := testutil.NewTestRendererText()
	renderGraph(tr.Renderer, res.Graph)

	out := tr.Output()
	assert.Contains(t, out, "Knowledge Graph")
	assert.Contains(t, out, "Uses Table")
	assert.Contains(t, out, "subq_main_query")
	assert.Contains(t, out, "Total: ")
	testutil.AssertNoANSI(t, out)
}

func TestRenderRuns(t *testing.T) {
	started := time.Date(2025, 8, 2, 11, 0, 0, 0, time.UTC)
	completed := started.Add(1500 * time.Millisecond)
	runs := []*state.Run{
		{ID: "run-2", JobName: "nightly", Namespace: "warehouse", Status: state.RunStatusFailed, StartedAt: started, CompletedAt: &completed, Error: "boom"},
		{ID: "run-1", JobName: "nightly", Namespace: "warehouse", Status: state.RunStatusCompleted, Units: 3, StartedAt: started, CompletedAt: &completed},
	}

	tr := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderRuns(tr.Renderer, runs))
	assert.Contains(t, tr.Output(), "| run-2 | warehouse/nightly | failed |")
	assert.Contains(t, tr.Output(), "1.5s")

	tr = testutil.NewTestRendererJSON()
	require.NoError(t, renderRuns(tr.Renderer, runs))
	var decoded []state.Run
	require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &decoded))
	assert.Len(t, decoded, 2)

	tr = testutil.NewTestRendererMarkdown()
	require.NoError(t, renderRun(tr.Renderer, runs[0]))
	assert.Contains(t, tr.Output(), "Error: boom")
	testutil.AssertValidMarkdown(t, tr.Output())

	tr = testutil.NewTestRendererMarkdown()
	require.NoError(t, renderRuns(tr.Renderer, nil))
	assert.Contains(t, tr.Output(), "No runs archived yet")
}

func TestReadInput(t *testing.T) {
	_, script := testutil.SetupTestProject(t, "")

	cmd := &cobra.Command{}
	sql, name, err := readInput(cmd, []string{script})
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleScript, sql)
	assert.Equal(t, script, name)

	cmd.SetIn(strings.NewReader("SELECT 1"))
	sql, name, err = readInput(cmd, []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", sql)
	assert.Equal(t, "stdin", name)

	_, _, err = readInput(cmd, []string{"missing.sql"})
	assert.ErrorContains(t, err, "failed to read missing.sql")
}

func TestAnalyze_WatchNeedsFile(t *testing.T) {
	cmd := NewAnalyzeCommand()
	cmd.SetIn(strings.NewReader("SELECT 1"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--watch"})
	err := cmd.Execute()
	assert.EqualError(t, err, "--watch needs a file argument")
}

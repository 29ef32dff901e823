// Package pipeline wires the lineage stages together: decomposition, per-unit
// field derivation and operation tracing, composition and graph building.
//
// Per-unit analyses run concurrently and independently: a failing unit does
// not cancel the others. They meet at a barrier; if any unit failed the run
// stops there with *UnitFailures and nothing is composed. Composition and
// graph errors are always fatal.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/sqllineage/internal/compose"
	"github.com/leapstack-labs/sqllineage/internal/decompose"
	"github.com/leapstack-labs/sqllineage/internal/derive"
	"github.com/leapstack-labs/sqllineage/internal/graph"
	"github.com/leapstack-labs/sqllineage/internal/trace"
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
)

// Config holds pipeline configuration. Nil stages use the built-in
// rule-based implementations.
type Config struct {
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger

	Decomposer Decomposer
	Fields     FieldAnalyzer
	Operations OperationTracer

	// Compose configures the lineage event. Its Logger and Schema default to
	// the pipeline's.
	Compose compose.Config

	// Schema lists known base table columns for star expansion.
	Schema core.Schema

	// Concurrency bounds the per-unit analyses running at once.
	// Defaults to GOMAXPROCS.
	Concurrency int
}

// Pipeline runs SQL scripts through every stage.
type Pipeline struct {
	cfg      Config
	logger   *slog.Logger
	composer *compose.Composer
	graphs   *graph.Builder
}

// Result is the outcome of a full run.
type Result struct {
	compose.Analysis
	Event *openlineage.RunEvent
	Graph *graph.Graph
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Decomposer == nil {
		cfg.Decomposer = decompose.New(decompose.Config{Logger: logger})
	}
	if cfg.Fields == nil {
		cfg.Fields = derive.New(derive.Config{Logger: logger})
	}
	if cfg.Operations == nil {
		cfg.Operations = trace.New(trace.Config{Logger: logger})
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	if cfg.Compose.Logger == nil {
		cfg.Compose.Logger = logger
	}
	if cfg.Compose.Schema == nil {
		cfg.Compose.Schema = cfg.Schema
	}
	return &Pipeline{
		cfg:      cfg,
		logger:   logger,
		composer: compose.New(cfg.Compose),
		graphs:   graph.New(graph.Config{Logger: logger}),
	}
}

// Decompose runs the Block Decomposer and checks its output.
func (p *Pipeline) Decompose(ctx context.Context, sql string) (*core.Decomposition, error) {
	d, err := p.cfg.Decomposer.Decompose(ctx, sql)
	if err != nil {
		return nil, err
	}
	if err := core.ValidateUnits(d.Units); err != nil {
		return nil, err
	}
	return d, nil
}

// Analyze decomposes sql and analyzes every unit.
func (p *Pipeline) Analyze(ctx context.Context, sql string) (*compose.Analysis, error) {
	d, err := p.Decompose(ctx, sql)
	if err != nil {
		return nil, err
	}

	n := len(d.Units)
	a := &compose.Analysis{
		SQL:           sql,
		Decomposition: d,
		Fields:        make([][]core.OutputFieldMapping, n),
		Operations:    make([][]core.TableOperationRecord, n),
	}
	fieldErrs := make([]error, n)
	opErrs := make([]error, n)
	cat := decompose.BuildCatalog(d, p.cfg.Schema)

	// Each task writes only its own slots. Tasks never return an error so
	// that one failing unit leaves the others running.
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, u := range d.Units {
		g.Go(func() error {
			fields, err := p.cfg.Fields.Analyze(ctx, u, cat)
			if err == nil {
				err = core.ValidateFieldMappings(u.Name, fields)
			}
			a.Fields[i], fieldErrs[i] = fields, err
			return nil
		})
		g.Go(func() error {
			records, err := p.cfg.Operations.Trace(ctx, u, cat)
			if err == nil {
				err = core.ValidateOperationRecords(u.Name, records)
			}
			a.Operations[i], opErrs[i] = records, err
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	failures := &UnitFailures{Units: n}
	for i, u := range d.Units {
		if fieldErrs[i] != nil {
			failures.Failures = append(failures.Failures, UnitFailure{Unit: u.Name, Stage: StageFields, Err: fieldErrs[i]})
		}
		if opErrs[i] != nil {
			failures.Failures = append(failures.Failures, UnitFailure{Unit: u.Name, Stage: StageOperations, Err: opErrs[i]})
		}
		p.logger.Debug("analyzed unit",
			slog.String("unit", u.Name),
			slog.String("kind", string(u.Kind)),
			slog.Int("mappings", len(a.Fields[i])),
			slog.Int("records", len(a.Operations[i])))
	}
	if len(failures.Failures) > 0 {
		for _, f := range failures.Failures {
			p.logger.Warn("unit analysis failed", "unit", f.Unit, "stage", f.Stage, "error", f.Err)
		}
		return nil, failures
	}
	return a, nil
}

// Run takes sql through every stage.
func (p *Pipeline) Run(ctx context.Context, sql string) (*Result, error) {
	return p.run(ctx, sql, "")
}

func (p *Pipeline) run(ctx context.Context, sql, runID string) (*Result, error) {
	a, err := p.Analyze(ctx, sql)
	if err != nil {
		return nil, err
	}
	a.RunID = runID
	return p.finish(ctx, *a)
}

// Compose builds the event and graph from stage outputs produced elsewhere.
// The outputs are checked against the stage contracts first.
func (p *Pipeline) Compose(ctx context.Context, sql string, out *core.StageOutputs) (*Result, error) {
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return p.finish(ctx, compose.Analysis{
		SQL:           sql,
		Decomposition: &core.Decomposition{Units: out.Units, Kind: core.StatementSelect},
		Fields:        out.Fields,
		Operations:    out.Operations,
	})
}

func (p *Pipeline) finish(ctx context.Context, a compose.Analysis) (*Result, error) {
	ev, err := p.composer.Compose(ctx, a)
	if err != nil {
		return nil, err
	}
	g, err := p.graphs.Build(ctx, a.Decomposition.Units, a.Fields, a.Operations)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}

	p.logger.Info("lineage run completed",
		"run_id", ev.Run.RunID,
		"units", len(a.Decomposition.Units),
		"inputs", len(ev.Inputs),
		"nodes", len(g.Nodes),
		"edges", len(g.Edges))
	return &Result{Analysis: a, Event: ev, Graph: g}, nil
}

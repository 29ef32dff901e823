package pipeline

import (
	"context"

	"github.com/leapstack-labs/sqllineage/pkg/core"
)

// Decomposer splits a script into logical units.
type Decomposer interface {
	Decompose(ctx context.Context, sql string) (*core.Decomposition, error)
}

// FieldAnalyzer derives the output field mappings of one unit.
type FieldAnalyzer interface {
	Analyze(ctx context.Context, unit core.LogicalUnit, cat *core.Catalog) ([]core.OutputFieldMapping, error)
}

// OperationTracer lists the operators one unit applies to its sources.
type OperationTracer interface {
	Trace(ctx context.Context, unit core.LogicalUnit, cat *core.Catalog) ([]core.TableOperationRecord, error)
}

// DecomposerFunc adapts a function to Decomposer.
type DecomposerFunc func(ctx context.Context, sql string) (*core.Decomposition, error)

// Decompose calls f.
func (f DecomposerFunc) Decompose(ctx context.Context, sql string) (*core.Decomposition, error) {
	return f(ctx, sql)
}

// FieldAnalyzerFunc adapts a function to FieldAnalyzer.
type FieldAnalyzerFunc func(ctx context.Context, unit core.LogicalUnit, cat *core.Catalog) ([]core.OutputFieldMapping, error)

// Analyze calls f.
func (f FieldAnalyzerFunc) Analyze(ctx context.Context, unit core.LogicalUnit, cat *core.Catalog) ([]core.OutputFieldMapping, error) {
	return f(ctx, unit, cat)
}

// OperationTracerFunc adapts a function to OperationTracer.
type OperationTracerFunc func(ctx context.Context, unit core.LogicalUnit, cat *core.Catalog) ([]core.TableOperationRecord, error)

// Trace calls f.
func (f OperationTracerFunc) Trace(ctx context.Context, unit core.LogicalUnit, cat *core.Catalog) ([]core.TableOperationRecord, error) {
	return f(ctx, unit, cat)
}

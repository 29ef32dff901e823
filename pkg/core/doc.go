// Package core defines the shared language of the lineage pipeline.
//
// This package contains:
//   - Stage-boundary entities (LogicalUnit, OutputFieldMapping, TableOperationRecord)
//   - The analysis catalog shared by the per-unit stages (Catalog, Column)
//   - The pipeline error kinds (DecompositionError ... GraphConsistencyError)
//   - Contract validation for externally produced stage outputs
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core

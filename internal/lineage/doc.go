// Package lineage resolves one logical unit against the script catalog.
//
// It is the shared ground of the per-unit stages: the field derivation
// analyzer and the operation tracer both load a unit here, get one scope per
// SELECT core, and resolve column references to the unit or base table that
// provides them. The decomposer uses the same output naming to fill the
// catalog, so every stage agrees on a unit's column names.
//
// # Resolution
//
//   - Table names that match a unit resolve to that unit
//   - Derived tables resolve to the unit whose SQL text they match, among
//     the earlier units the unit reads
//   - Trivial EXISTS, IN and scalar subqueries stay inline
//   - Other names are base tables, with columns taken from the configured schema
//   - USING columns read from every joined side
//
// # Basic Usage
//
//	cat := core.NewCatalog(units, schema)
//	u, err := lineage.Load(units[0], cat)
//	if err != nil {
//	    return err
//	}
//	outputs, err := u.Outputs(u.Cores[0])
package lineage

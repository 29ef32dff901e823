package compose

import (
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
)

// hop is one unit's contribution to a column's derivation.
type hop struct {
	desc string
	kind core.TransformKind
}

// path is one base table column reaching an output, with the hops it passed
// through, base table first.
type path struct {
	table  string
	column string
	hops   []hop
}

func (p path) transformation() openlineage.Transformation {
	descs := make([]string, len(p.hops))
	subtype := openlineage.SubtypeIdentity
	masking := false
	for i, h := range p.hops {
		descs[i] = h.desc
		masking = masking || strings.Contains(strings.ToLower(h.desc), "hash function")
		switch {
		case h.kind == core.TransformAggregation:
			subtype = openlineage.SubtypeAggregation
		case subtype == openlineage.SubtypeAggregation:
		case h.kind == core.TransformConditional:
			subtype = openlineage.SubtypeConditional
		case !h.kind.Trivial() && subtype != openlineage.SubtypeConditional:
			subtype = openlineage.SubtypeTransformation
		}
	}
	return openlineage.Transformation{
		Type:        openlineage.TransformationDirect,
		Subtype:     subtype,
		Description: strings.Join(descs, ChainSeparator),
		Masking:     masking,
	}
}

// resolver maps unit columns to base table columns. Results are memoized
// per unit and column, so each unit of a CTE chain is resolved once.
type resolver struct {
	units  core.Units
	fields [][]core.OutputFieldMapping
	index  map[string]int
	memo   map[string][]path
	active map[string]bool
}

func newResolver(units core.Units, fields [][]core.OutputFieldMapping) *resolver {
	r := &resolver{
		units:  units,
		fields: fields,
		index:  make(map[string]int, len(units)),
		memo:   make(map[string][]path),
		active: make(map[string]bool),
	}
	for i, u := range units {
		r.index[strings.ToLower(u.Name)] = i
	}
	return r
}

// check rejects mappings of unit i that read a unit defined after it.
// A unit reading itself is a recursive CTE and is allowed.
func (r *resolver) check(i int) error {
	for _, m := range r.fields[i] {
		for _, src := range m.Sources {
			j, ok := r.index[strings.ToLower(src.Table)]
			if ok && j > i {
				return core.NewCompositionError(r.units[i].Name, src.String(),
					"%s reads %s, which is defined after it", r.units[i].Name, r.units[j].Name)
			}
		}
	}
	return nil
}

// field resolves one mapping of unit i.
func (r *resolver) field(i int, m core.OutputFieldMapping) ([]path, error) {
	return r.paths(i, m, "")
}

// paths resolves the sources of m. A non-empty column replaces the column
// of "*" sources; this is how a named column is read through an unexpanded
// star.
func (r *resolver) paths(i int, m core.OutputFieldMapping, column string) ([]path, error) {
	h := hop{desc: m.Transformation, kind: m.EffectiveKind()}
	if h.desc == "" {
		h.desc = string(h.kind)
	}

	var out []path
	for _, src := range m.Sources {
		col := src.Column
		if column != "" && col == "*" {
			col = column
		}
		j, isUnit := r.index[strings.ToLower(src.Table)]
		switch {
		case isUnit && j == i:
			// Recursive step of a recursive CTE; its anchor carries the lineage.
			continue
		case isUnit:
			sub, err := r.column(j, col)
			if err != nil {
				return nil, err
			}
			for _, p := range sub {
				hops := make([]hop, 0, len(p.hops)+1)
				hops = append(hops, p.hops...)
				out = append(out, path{table: p.table, column: p.column, hops: append(hops, h)})
			}
		default:
			out = append(out, path{table: src.Table, column: col, hops: []hop{h}})
		}
	}
	return out, nil
}

// column resolves output column col of unit j.
func (r *resolver) column(j int, col string) ([]path, error) {
	key := strings.ToLower(r.units[j].Name) + "\x00" + strings.ToLower(col)
	if p, ok := r.memo[key]; ok {
		return p, nil
	}
	ref := r.units[j].Name + "." + col
	if r.active[key] {
		return nil, core.NewCompositionError(r.units[j].Name, ref, "circular reference to %s", ref)
	}
	r.active[key] = true
	defer delete(r.active, key)

	var (
		paths []path
		err   error
		found bool
	)
	for _, m := range r.fields[j] {
		if strings.EqualFold(m.Name, col) {
			paths, err = r.paths(j, m, "")
			found = true
			break
		}
	}
	if !found {
		for _, m := range r.fields[j] {
			if m.Name == "*" {
				paths, err = r.paths(j, m, col)
				found = true
				break
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, core.NewCompositionError(r.units[j].Name, ref, "unit %s has no output column %s", r.units[j].Name, col)
	}

	r.memo[key] = paths
	return paths, nil
}

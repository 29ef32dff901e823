// Package graph implements the Graph Builder: a knowledge graph of
// subqueries, tables, fields and operations built from analyzed units or
// from a composed lineage event.
//
// Node ids are derived from the node type and a normalized name, so every
// reference to the same entity collapses into one node:
//
//	subq_<unit>            one per logical unit
//	tbl_<table>            one per base table
//	fld_<owner>.<column>   one per column of a unit or table
//	op_<digest>            one per distinct operator or transformation text
package graph

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/core"
)

// NodeType classifies a node.
type NodeType string

// Node types.
const (
	NodeSubquery  NodeType = "subquery"
	NodeTable     NodeType = "table"
	NodeField     NodeType = "field"
	NodeOperation NodeType = "operation"
)

// EdgeType classifies an edge.
type EdgeType string

// Edge types.
const (
	EdgeUsesTable       EdgeType = "uses_table"
	EdgeDependsOn       EdgeType = "depends_on"
	EdgeHasField        EdgeType = "has_field"
	EdgeProducesField   EdgeType = "produces_field"
	EdgeDerivedFrom     EdgeType = "derived_from"
	EdgeTransformation  EdgeType = "transformation"
	EdgeAppliesOperator EdgeType = "applies_operator"
	EdgeFiltersBy       EdgeType = "filters_by"
	EdgeJoinsWith       EdgeType = "joins_with"
	EdgeGroupedBy       EdgeType = "grouped_by"
	EdgeOrderedBy       EdgeType = "ordered_by"
)

// Node is one entity of the graph.
type Node struct {
	ID    string   `json:"id" yaml:"id"`
	Type  NodeType `json:"type" yaml:"type"`
	Label string   `json:"label" yaml:"label"`
}

// Edge is a typed relation between two nodes.
type Edge struct {
	Source string   `json:"source" yaml:"source"`
	Target string   `json:"target" yaml:"target"`
	Type   EdgeType `json:"type" yaml:"type"`
}

// Graph is the knowledge graph document.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// HasEdge reports whether the graph holds the edge.
func (g *Graph) HasEdge(source, target string, typ EdgeType) bool {
	for _, e := range g.Edges {
		if e.Source == source && e.Target == target && e.Type == typ {
			return true
		}
	}
	return false
}

// Validate checks that node ids are unique and every edge endpoint is a
// node.
func (g *Graph) Validate() error {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if ids[n.ID] {
			return core.NewDuplicateNodeError(n.ID)
		}
		ids[n.ID] = true
	}
	for _, e := range g.Edges {
		for _, end := range []string{e.Source, e.Target} {
			if !ids[end] {
				return core.NewGraphConsistencyError(e.Source, e.Target, string(e.Type), end)
			}
		}
	}
	return nil
}

// ID helpers. Names are compared case-insensitively, as SQL identifiers are.

// SubqueryID returns the id of a unit node.
func SubqueryID(unit string) string { return "subq_" + normalize(unit) }

// TableID returns the id of a table node.
func TableID(table string) string { return "tbl_" + normalize(table) }

// FieldID returns the id of a field node owned by a unit or table.
func FieldID(owner, column string) string {
	return "fld_" + normalize(owner) + "." + normalize(column)
}

// OperationID returns the id of an operation node. The kind keeps the same
// text used as, say, a filter and a having condition apart.
func OperationID(kind, text string) string {
	sum := sha256.Sum256([]byte(kind + "\x00" + text))
	return "op_" + hex.EncodeToString(sum[:])[:12]
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// arena collects nodes and edges, dropping repeats.
type arena struct {
	nodes map[string]Node
	order []string
	edges map[Edge]bool
	list  []Edge
}

func newArena() *arena {
	return &arena{nodes: make(map[string]Node), edges: make(map[Edge]bool)}
}

// node adds a node unless its id exists and returns the id.
func (a *arena) node(id string, typ NodeType, label string) string {
	if _, ok := a.nodes[id]; !ok {
		a.nodes[id] = Node{ID: id, Type: typ, Label: label}
		a.order = append(a.order, id)
	}
	return id
}

func (a *arena) edge(source, target string, typ EdgeType) {
	e := Edge{Source: source, Target: target, Type: typ}
	if !a.edges[e] {
		a.edges[e] = true
		a.list = append(a.list, e)
	}
}

// graph returns the collected graph, sorted by id and validated.
func (a *arena) graph() (*Graph, error) {
	g := &Graph{Nodes: make([]Node, 0, len(a.order)), Edges: slices.Clone(a.list)}
	for _, id := range a.order {
		g.Nodes = append(g.Nodes, a.nodes[id])
	}
	if g.Edges == nil {
		g.Edges = []Edge{}
	}
	slices.SortFunc(g.Nodes, func(x, y Node) int { return cmp.Compare(x.ID, y.ID) })
	slices.SortFunc(g.Edges, func(x, y Edge) int {
		return cmp.Or(cmp.Compare(x.Source, y.Source), cmp.Compare(x.Target, y.Target), cmp.Compare(x.Type, y.Type))
	})
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Package domain contains the core model of the price adjustment engine:
// formula graphs, their typed node configurations, execution contexts and
// results, calculation batches, and the error taxonomy shared by every
// layer above it.
// The domain layer has no dependencies on infrastructure and performs
// no I/O; everything in it is a plain value or a pure function.
package domain

import "fmt"

// NodeType identifies one of the five node variants a formula graph
// is composed of.
type NodeType string

// The node type variants of a price adjustment graph.
const (
	// NodeFactor produces a value from a constant or a timeseries lookup.
	// Factor nodes are the leaves of the graph and accept no inputs.
	NodeFactor NodeType = "factor"
	// NodeTransform applies a single-input mathematical transform
	// such as abs, sqrt, round, or pow.
	NodeTransform NodeType = "transform"
	// NodeConvert performs a unit or currency conversion on its
	// single input.
	NodeConvert NodeType = "convert"
	// NodeCombine folds two or more inputs with an N-ary operator
	// such as add, multiply, or weighted_average.
	NodeCombine NodeType = "combine"
	// NodeControls applies caps, floors, and spike sharing to its
	// single input.
	NodeControls NodeType = "controls"
)

// Valid reports whether t names one of the known node variants.
func (t NodeType) Valid() bool {
	switch t {
	case NodeFactor, NodeTransform, NodeConvert, NodeCombine, NodeControls:
		return true
	}
	return false
}

// GraphNode is a single typed node in a formula graph.
// Nodes are immutable during a compile/execute cycle; the engine never
// mutates a graph handed to it.
type GraphNode struct {
	// ID uniquely identifies the node within its graph and is the key
	// used by edges, execution plans, and contribution traces.
	ID string
	// Type selects the node variant and determines which Config
	// implementation the node carries.
	Type NodeType
	// Config holds the variant-specific parameters. Its concrete type
	// must agree with Type; the validator rejects mismatches.
	Config NodeConfig
	// Label is an optional human-readable name used in reports and
	// the visual builder. It has no semantic effect.
	Label string
}

// GraphEdge declares a data dependency: the value of From is an input
// to To. The order in which edges targeting the same node were declared
// is semantically significant; it fixes operand order for combine nodes
// and the positional mapping of weighted_average weights.
type GraphEdge struct {
	From string
	To   string
}

// GraphMetadata carries optional descriptive defaults for a graph.
type GraphMetadata struct {
	BaseCurrency string
	BaseUnit     string
	Description  string
}

// PAMGraph is a price adjustment mechanism: a directed acyclic formula
// graph whose output node yields the adjusted price.
// Node and edge declaration order is preserved and meaningful; treat a
// PAMGraph as an immutable value once handed to the engine.
type PAMGraph struct {
	// Nodes in declaration order. Declaration order is the tie-break
	// for topological scheduling.
	Nodes []GraphNode
	// Edges in declaration order. Per-target order defines operand
	// positions.
	Edges []GraphEdge
	// Output names the node whose value is the graph's result.
	Output string
	// Metadata is optional and descriptive only.
	Metadata GraphMetadata
}

// NodeByID returns the node with the given id and true when present.
func (g *PAMGraph) NodeByID(id string) (GraphNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return GraphNode{}, false
}

// NodeIndex returns the declaration index of the node with the given
// id, or -1 when the graph has no such node.
func (g *PAMGraph) NodeIndex(id string) int {
	for i, n := range g.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Incoming returns the ordered list of source node ids feeding the
// given target, preserving edge declaration order.
func (g *PAMGraph) Incoming(target string) []string {
	var in []string
	for _, e := range g.Edges {
		if e.To == target {
			in = append(in, e.From)
		}
	}
	return in
}

// Outgoing returns the ordered list of target node ids fed by the
// given source, preserving edge declaration order.
func (g *PAMGraph) Outgoing(source string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.From == source {
			out = append(out, e.To)
		}
	}
	return out
}

// CompiledGraph is the derived execution form of a PAMGraph: a stable
// topological plan plus the ordered dependency map needed for
// positional operand semantics.
// A CompiledGraph is only meaningful together with its source graph and
// is never persisted independently of it.
type CompiledGraph struct {
	// Graph is the source the plan was derived from.
	Graph *PAMGraph
	// ExecutionPlan lists every node id in a topological order with
	// ties broken by declaration order, so the plan is a deterministic
	// function of the graph alone.
	ExecutionPlan []string
	// Dependencies maps each node id to its inputs in declared edge
	// order. Nodes without inputs map to a nil slice.
	Dependencies map[string][]string
}

func (c *CompiledGraph) String() string {
	return fmt.Sprintf("compiled graph: %d nodes, output %s", len(c.ExecutionPlan), c.Graph.Output)
}

package application

import (
	"github.com/priceflow/pam-engine/internal/domain"
)

// Compiler turns a validated graph into a CompiledGraph: a stable
// topological execution plan plus the ordered dependency map the
// executor needs for positional operand semantics.
//
// The compiler fails closed. It always runs the validator first and
// refuses to produce a plan for a graph with any validation error, so
// downstream code never sees a partially compiled graph.
type Compiler struct {
	validator *Validator
}

// NewCompiler creates a compiler that validates with the given
// validator before planning.
func NewCompiler(validator *Validator) *Compiler {
	return &Compiler{validator: validator}
}

// Compile validates the graph and, when valid, produces its execution
// plan using Kahn's algorithm. The ready set is seeded with
// zero-indegree nodes in declaration order and ties are always broken
// by declaration order, so the plan is a deterministic function of the
// graph alone, independent of incidental edge ordering.
// On validation failure Compile returns a CompilationError wrapping
// every finding.
func (c *Compiler) Compile(graph *domain.PAMGraph) (*domain.CompiledGraph, error) {
	result := c.validator.Validate(graph)
	if !result.Valid() {
		return nil, domain.NewCompilationError(result)
	}

	declIndex := make(map[string]int, len(graph.Nodes))
	for i, n := range graph.Nodes {
		declIndex[n.ID] = i
	}

	// Dependency map entries preserve declared edge order per target;
	// combine operand order and weighted_average weight positions
	// depend on it.
	dependencies := make(map[string][]string, len(graph.Nodes))
	adjacency := make(map[string][]string, len(graph.Nodes))
	inDegree := make(map[string]int, len(graph.Nodes))
	for _, n := range graph.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range graph.Edges {
		dependencies[e.To] = append(dependencies[e.To], e.From)
		adjacency[e.From] = append(adjacency[e.From], e.To)
		inDegree[e.To]++
	}

	// Ready list kept sorted by declaration index; popping the lowest
	// index yields the stable tie-break.
	var ready []int
	insert := func(idx int) {
		pos := len(ready)
		for pos > 0 && ready[pos-1] > idx {
			pos--
		}
		ready = append(ready, 0)
		copy(ready[pos+1:], ready[pos:])
		ready[pos] = idx
	}

	for i, n := range graph.Nodes {
		if inDegree[n.ID] == 0 {
			insert(i)
		}
	}

	plan := make([]string, 0, len(graph.Nodes))
	for len(ready) > 0 {
		idx := ready[0]
		ready = ready[1:]
		id := graph.Nodes[idx].ID
		plan = append(plan, id)

		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				insert(declIndex[next])
			}
		}
	}

	// The validator already rejected cyclic graphs, so the plan is a
	// full permutation by construction. Guard anyway so a logic bug
	// cannot surface as a silently truncated plan.
	if len(plan) != len(graph.Nodes) {
		var r domain.ValidationResult
		r.AddError(domain.CyclicGraph, "execution plan covers %d of %d nodes", len(plan), len(graph.Nodes))
		return nil, domain.NewCompilationError(r)
	}

	return &domain.CompiledGraph{
		Graph:         graph,
		ExecutionPlan: plan,
		Dependencies:  dependencies,
	}, nil
}

// Package application implements the price adjustment engine: graph
// validation, compilation into a topological execution plan,
// deterministic decimal execution, canonical input hashing, batch
// orchestration, and the YAML graph loader.
package application

import (
	"context"

	"github.com/priceflow/pam-engine/internal/domain"
	"github.com/priceflow/pam-engine/internal/ports"
)

// Validator performs structural and semantic checks on a raw graph
// definition. It never mutates its input and never returns a Go error;
// every problem is reported through the returned ValidationResult.
//
// The optional metadata capability enables best-effort unit/currency
// consistency checks across Convert and Combine nodes. Without it those
// checks are skipped, never silently passed as verified.
type Validator struct {
	metadata ports.SeriesMetadata
}

// NewValidator creates a validator. metadata may be nil, in which case
// unit/currency consistency checks that depend on series metadata are
// skipped.
func NewValidator(metadata ports.SeriesMetadata) *Validator {
	return &Validator{metadata: metadata}
}

// Validate runs every check against the graph, accumulating independent
// findings rather than stopping at the first failure. Checks run in a
// fixed order: output existence, cycle detection, per-type arity,
// parameter completeness, reachability, and unit/currency consistency.
func (v *Validator) Validate(graph *domain.PAMGraph) domain.ValidationResult {
	var result domain.ValidationResult

	index := make(map[string]int, len(graph.Nodes))
	for i, n := range graph.Nodes {
		if prev, dup := index[n.ID]; dup {
			result.AddError(domain.InvalidOperation,
				"node id %q declared more than once (positions %d and %d)", n.ID, prev, i)
			continue
		}
		index[n.ID] = i
	}

	v.checkOutput(graph, index, &result)
	v.checkCycles(graph, index, &result)
	v.checkArity(graph, index, &result)
	v.checkParameters(graph, &result)
	v.checkReachability(graph, index, &result)
	v.checkUnitsAndCurrencies(graph, &result)

	return result
}

// checkOutput verifies that the graph's output id names a declared node.
func (v *Validator) checkOutput(graph *domain.PAMGraph, index map[string]int, result *domain.ValidationResult) {
	if graph.Output == "" {
		result.AddError(domain.MissingOutputNode, "graph declares no output node")
		return
	}
	if _, ok := index[graph.Output]; !ok {
		result.AddError(domain.MissingOutputNode, "output node %q does not exist in the graph", graph.Output)
	}
}

// checkCycles runs an iterative depth-first traversal over the edge
// relation with an explicit recursion stack. Any node revisited while
// still on the stack closes a cycle. The traversal visits each node and
// edge once, so it stays linear on graphs with thousands of nodes, and
// the explicit stack avoids deep call recursion on long chains.
func (v *Validator) checkCycles(graph *domain.PAMGraph, index map[string]int, result *domain.ValidationResult) {
	adjacency := make(map[string][]string, len(graph.Nodes))
	for _, e := range graph.Edges {
		if _, ok := index[e.From]; !ok {
			result.AddError(domain.InvalidOperation, "edge references unknown source node %q", e.From)
			continue
		}
		if _, ok := index[e.To]; !ok {
			result.AddError(domain.InvalidOperation, "edge references unknown target node %q", e.To)
			continue
		}
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)
	colors := make(map[string]int, len(graph.Nodes))

	type frame struct {
		id   string
		next int
	}

	for _, start := range graph.Nodes {
		if colors[start.ID] != white {
			continue
		}
		stack := []frame{{id: start.ID}}
		colors[start.ID] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := adjacency[top.id]
			if top.next < len(neighbors) {
				next := neighbors[top.next]
				top.next++
				switch colors[next] {
				case gray:
					result.AddError(domain.CyclicGraph,
						"graph contains a cycle through node %q", next)
					return
				case white:
					colors[next] = gray
					stack = append(stack, frame{id: next})
				}
				continue
			}
			colors[top.id] = black
			stack = stack[:len(stack)-1]
		}
	}
}

// arityBounds returns the permitted input count range for a node type.
func arityBounds(t domain.NodeType) (min, max int) {
	switch t {
	case domain.NodeFactor:
		return 0, 0
	case domain.NodeTransform, domain.NodeConvert, domain.NodeControls:
		return 1, 1
	case domain.NodeCombine:
		return 2, -1 // unbounded above
	default:
		return 0, -1
	}
}

// checkArity verifies each node's incoming edge count against its
// type's permitted range.
func (v *Validator) checkArity(graph *domain.PAMGraph, index map[string]int, result *domain.ValidationResult) {
	incoming := make(map[string]int, len(graph.Nodes))
	for _, e := range graph.Edges {
		if _, ok := index[e.From]; !ok {
			continue
		}
		if _, ok := index[e.To]; !ok {
			continue
		}
		incoming[e.To]++
	}

	for _, n := range graph.Nodes {
		if !n.Type.Valid() {
			result.AddError(domain.InvalidOperation, "node %q has unknown type %q", n.ID, n.Type)
			continue
		}
		min, max := arityBounds(n.Type)
		got := incoming[n.ID]
		switch {
		case got < min:
			result.AddError(domain.InvalidOperation,
				"node %q (%s) expects at least %d input(s), got %d", n.ID, n.Type, min, got)
		case max >= 0 && got > max:
			result.AddError(domain.InvalidOperation,
				"node %q (%s) expects at most %d input(s), got %d", n.ID, n.Type, max, got)
		}
	}
}

// checkParameters verifies per-type parameter completeness. Defaults
// that are filled at execution time (round decimals) are not errors.
func (v *Validator) checkParameters(graph *domain.PAMGraph, result *domain.ValidationResult) {
	for _, n := range graph.Nodes {
		if n.Config == nil {
			result.AddError(domain.InvalidOperation, "node %q has no configuration", n.ID)
			continue
		}
		if n.Config.NodeType() != n.Type {
			result.AddError(domain.InvalidOperation,
				"node %q declares type %s but carries %s configuration", n.ID, n.Type, n.Config.NodeType())
			continue
		}

		switch cfg := n.Config.(type) {
		case domain.FactorConfig:
			hasValue := cfg.Value != nil
			hasSeries := cfg.Series != nil && cfg.Series.Code != ""
			if hasValue == hasSeries {
				result.AddError(domain.InvalidOperation,
					"factor node %q requires exactly one of value or series", n.ID)
			}
		case domain.TransformConfig:
			if !cfg.Op.Valid() {
				result.AddError(domain.InvalidOperation,
					"transform node %q has unsupported operation %q", n.ID, cfg.Op)
				continue
			}
			if cfg.Op == domain.TransformPow && cfg.Exponent == nil {
				result.AddError(domain.InvalidOperation,
					"transform node %q operation pow requires params.exponent", n.ID)
			}
			if cfg.Op == domain.TransformPercentChange && cfg.BaseValue == nil {
				result.AddError(domain.InvalidOperation,
					"transform node %q operation percent_change requires params.baseValue", n.ID)
			}
		case domain.ConvertConfig:
			v.checkConvertParameters(n.ID, cfg, result)
		case domain.CombineConfig:
			if !cfg.Op.Valid() {
				result.AddError(domain.InvalidOperation,
					"combine node %q has unsupported operation %q", n.ID, cfg.Op)
				continue
			}
			if cfg.Op == domain.CombineWeightedAverage {
				inputs := len(graph.Incoming(n.ID))
				if len(cfg.Weights) != inputs {
					result.AddError(domain.InvalidOperation,
						"combine node %q weighted_average weights length %d does not match input count %d",
						n.ID, len(cfg.Weights), inputs)
				}
			}
		case domain.ControlsConfig:
			hasBandSharing := cfg.TriggerBand != nil && cfg.SpikeSharing != nil
			if cfg.Cap == nil && cfg.Floor == nil && !hasBandSharing {
				result.AddError(domain.InvalidOperation,
					"controls node %q requires at least one of cap, floor, or triggerBand with spikeSharing", n.ID)
			}
			if (cfg.TriggerBand == nil) != (cfg.SpikeSharing == nil) {
				result.AddError(domain.InvalidOperation,
					"controls node %q must set triggerBand and spikeSharing together", n.ID)
			}
		}
	}
}

// checkConvertParameters validates a Convert node's parameter bag.
func (v *Validator) checkConvertParameters(id string, cfg domain.ConvertConfig, result *domain.ValidationResult) {
	if cfg.From == "" || cfg.To == "" {
		result.AddError(domain.InvalidOperation,
			"convert node %q requires both from and to", id)
	}
	switch cfg.Kind {
	case domain.ConvertUnit:
		if cfg.ConversionFactor == nil && cfg.Density == nil {
			result.AddError(domain.InvalidOperation,
				"convert node %q unit conversion requires conversionFactor or density", id)
		}
	case domain.ConvertCurrency:
		if (cfg.FXSeries == nil || cfg.FXSeries.Code == "") && cfg.FixedRate == nil {
			result.AddError(domain.InvalidOperation,
				"convert node %q currency conversion requires fxSeries or fixedRate", id)
		}
		if cfg.From != "" && !domain.ValidISOCurrency(cfg.From) {
			result.AddError(domain.InvalidOperation,
				"convert node %q source currency %q is not a valid ISO 4217 code", id, cfg.From)
		}
		if cfg.To != "" && !domain.ValidISOCurrency(cfg.To) {
			result.AddError(domain.InvalidOperation,
				"convert node %q target currency %q is not a valid ISO 4217 code", id, cfg.To)
		}
	default:
		result.AddError(domain.InvalidOperation,
			"convert node %q has unknown conversion type %q", id, cfg.Kind)
	}
}

// checkReachability walks the edge relation in reverse from the output
// node and reports every node it cannot reach as a warning. Unreachable
// nodes are wasteful but harmless, so they never block compilation.
func (v *Validator) checkReachability(graph *domain.PAMGraph, index map[string]int, result *domain.ValidationResult) {
	if _, ok := index[graph.Output]; !ok {
		return // already reported by checkOutput
	}

	reverse := make(map[string][]string, len(graph.Nodes))
	for _, e := range graph.Edges {
		reverse[e.To] = append(reverse[e.To], e.From)
	}

	reached := map[string]struct{}{graph.Output: {}}
	queue := []string{graph.Output}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, src := range reverse[id] {
			if _, seen := reached[src]; !seen {
				reached[src] = struct{}{}
				queue = append(queue, src)
			}
		}
	}

	for _, n := range graph.Nodes {
		if _, ok := reached[n.ID]; !ok {
			result.AddWarning(domain.UnreachableNode,
				"node %q does not contribute to output %q", n.ID, graph.Output)
		}
	}
}

// checkUnitsAndCurrencies performs the best-effort metadata consistency
// check. Provenance of unit/currency metadata depends on external
// series metadata the engine does not own, so the check only fires when
// metadata is statically known; constant factors are metadata-less by
// design and are never flagged.
func (v *Validator) checkUnitsAndCurrencies(graph *domain.PAMGraph, result *domain.ValidationResult) {
	currencyOf := v.staticCurrencies(graph)

	for _, n := range graph.Nodes {
		if _, ok := n.Config.(domain.CombineConfig); !ok {
			continue
		}
		var first string
		for _, input := range graph.Incoming(n.ID) {
			cur, known := currencyOf[input]
			if !known || cur == "" {
				continue
			}
			if first == "" {
				first = cur
				continue
			}
			if cur != first {
				result.AddError(domain.CurrencyMismatch,
					"combine node %q mixes currencies %s and %s", n.ID, first, cur)
				break
			}
		}
	}
}

// staticCurrencies derives the currency each node is statically known
// to carry, propagating forward through the graph where determinable.
func (v *Validator) staticCurrencies(graph *domain.PAMGraph) map[string]string {
	known := make(map[string]string, len(graph.Nodes))
	ctx := context.Background()

	// Seed from factor annotations and series metadata where available.
	for _, n := range graph.Nodes {
		cfg, ok := n.Config.(domain.FactorConfig)
		if !ok {
			continue
		}
		switch {
		case cfg.Currency != "":
			known[n.ID] = cfg.Currency
		case cfg.Series != nil && v.metadata != nil:
			if _, cur, err := v.metadata.Metadata(ctx, "", cfg.Series.Code); err == nil && cur != "" {
				known[n.ID] = cur
			}
		}
	}

	// Propagate in declaration order; convert nodes rewrite the
	// currency, single-input nodes pass it through.
	for _, n := range graph.Nodes {
		switch cfg := n.Config.(type) {
		case domain.ConvertConfig:
			if cfg.Kind == domain.ConvertCurrency {
				known[n.ID] = cfg.To
			} else if in := graph.Incoming(n.ID); len(in) == 1 {
				if cur, ok := known[in[0]]; ok {
					known[n.ID] = cur
				}
			}
		case domain.TransformConfig, domain.ControlsConfig:
			if in := graph.Incoming(n.ID); len(in) == 1 {
				if cur, ok := known[in[0]]; ok {
					known[n.ID] = cur
				}
			}
		}
	}

	return known
}

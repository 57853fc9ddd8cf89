package application

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceflow/pam-engine/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func factorNode(id, value string) domain.GraphNode {
	return domain.GraphNode{
		ID:     id,
		Type:   domain.NodeFactor,
		Config: domain.FactorConfig{Value: decPtr(value)},
	}
}

func transformNode(id string, op domain.TransformOp) domain.GraphNode {
	return domain.GraphNode{
		ID:     id,
		Type:   domain.NodeTransform,
		Config: domain.TransformConfig{Op: op},
	}
}

func combineNode(id string, op domain.CombineOp) domain.GraphNode {
	return domain.GraphNode{
		ID:     id,
		Type:   domain.NodeCombine,
		Config: domain.CombineConfig{Op: op},
	}
}

func findIssues(issues []domain.Issue, kind domain.IssueKind) []domain.Issue {
	var found []domain.Issue
	for _, i := range issues {
		if i.Kind == kind {
			found = append(found, i)
		}
	}
	return found
}

func TestValidatorOutputNode(t *testing.T) {
	v := NewValidator(nil)

	t.Run("missing output id", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes:  []domain.GraphNode{factorNode("a", "1")},
			Output: "nope",
		}
		result := v.Validate(graph)
		assert.False(t, result.Valid())
		require.Len(t, findIssues(result.Errors, domain.MissingOutputNode), 1)
	})

	t.Run("empty output", func(t *testing.T) {
		graph := &domain.PAMGraph{Nodes: []domain.GraphNode{factorNode("a", "1")}}
		result := v.Validate(graph)
		assert.False(t, result.Valid())
		require.Len(t, findIssues(result.Errors, domain.MissingOutputNode), 1)
	})

	t.Run("valid single factor", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes:  []domain.GraphNode{factorNode("a", "1")},
			Output: "a",
		}
		result := v.Validate(graph)
		assert.True(t, result.Valid())
		assert.Empty(t, result.Errors)
	})
}

func TestValidatorCycleDetection(t *testing.T) {
	v := NewValidator(nil)

	t.Run("two node cycle reports exactly one error", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				transformNode("a", domain.TransformAbs),
				transformNode("b", domain.TransformAbs),
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "b"}, {From: "b", To: "a"}},
			Output: "b",
		}
		result := v.Validate(graph)
		assert.False(t, result.Valid())
		cyclic := findIssues(result.Errors, domain.CyclicGraph)
		require.Len(t, cyclic, 1)
		assert.Contains(t, cyclic[0].Message, "cycle")
	})

	t.Run("self loop", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes:  []domain.GraphNode{transformNode("a", domain.TransformAbs)},
			Edges:  []domain.GraphEdge{{From: "a", To: "a"}},
			Output: "a",
		}
		result := v.Validate(graph)
		require.Len(t, findIssues(result.Errors, domain.CyclicGraph), 1)
	})

	t.Run("long chain has no cycle", func(t *testing.T) {
		// Deep chains must not blow the stack; the DFS is iterative.
		const depth = 5000
		graph := &domain.PAMGraph{}
		graph.Nodes = append(graph.Nodes, factorNode("n0", "1"))
		for i := 1; i < depth; i++ {
			id := fmt.Sprintf("n%d", i)
			graph.Nodes = append(graph.Nodes, transformNode(id, domain.TransformAbs))
			graph.Edges = append(graph.Edges, domain.GraphEdge{From: fmt.Sprintf("n%d", i-1), To: id})
		}
		graph.Output = fmt.Sprintf("n%d", depth-1)

		result := v.Validate(graph)
		assert.True(t, result.Valid())
	})
}

func TestValidatorArity(t *testing.T) {
	v := NewValidator(nil)

	t.Run("factor with input", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				factorNode("a", "1"),
				factorNode("b", "2"),
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "b"}},
			Output: "b",
		}
		result := v.Validate(graph)
		errs := findIssues(result.Errors, domain.InvalidOperation)
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Message, `"b"`)
		assert.Contains(t, errs[0].Message, "factor")
	})

	t.Run("transform without input", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes:  []domain.GraphNode{transformNode("t", domain.TransformAbs)},
			Output: "t",
		}
		result := v.Validate(graph)
		errs := findIssues(result.Errors, domain.InvalidOperation)
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Message, "at least 1")
	})

	t.Run("combine with one input", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				factorNode("a", "1"),
				combineNode("c", domain.CombineAdd),
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "c"}},
			Output: "c",
		}
		result := v.Validate(graph)
		errs := findIssues(result.Errors, domain.InvalidOperation)
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Message, "at least 2")
	})

	t.Run("controls with two inputs", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				factorNode("a", "1"),
				factorNode("b", "2"),
				{ID: "ctl", Type: domain.NodeControls, Config: domain.ControlsConfig{Cap: decPtr("10")}},
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "ctl"}, {From: "b", To: "ctl"}},
			Output: "ctl",
		}
		result := v.Validate(graph)
		errs := findIssues(result.Errors, domain.InvalidOperation)
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Message, "at most 1")
	})
}

func TestValidatorParameters(t *testing.T) {
	v := NewValidator(nil)

	t.Run("factor with neither value nor series", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes:  []domain.GraphNode{{ID: "f", Type: domain.NodeFactor, Config: domain.FactorConfig{}}},
			Output: "f",
		}
		result := v.Validate(graph)
		errs := findIssues(result.Errors, domain.InvalidOperation)
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Message, "exactly one of value or series")
	})

	t.Run("factor with both value and series", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{{
				ID:   "f",
				Type: domain.NodeFactor,
				Config: domain.FactorConfig{
					Value:  decPtr("1"),
					Series: &domain.SeriesRef{Code: "BRENT"},
				},
			}},
			Output: "f",
		}
		result := v.Validate(graph)
		assert.False(t, result.Valid())
	})

	t.Run("pow without exponent", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				factorNode("a", "2"),
				transformNode("p", domain.TransformPow),
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "p"}},
			Output: "p",
		}
		result := v.Validate(graph)
		errs := findIssues(result.Errors, domain.InvalidOperation)
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Message, "exponent")
	})

	t.Run("round without decimals is not an error", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				factorNode("a", "2.345"),
				transformNode("r", domain.TransformRound),
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "r"}},
			Output: "r",
		}
		assert.True(t, v.Validate(graph).Valid())
	})

	t.Run("weighted_average weights mismatch", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				factorNode("a", "1"),
				factorNode("b", "2"),
				{
					ID:   "w",
					Type: domain.NodeCombine,
					Config: domain.CombineConfig{
						Op:      domain.CombineWeightedAverage,
						Weights: []decimal.Decimal{dec("0.5")},
					},
				},
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "w"}, {From: "b", To: "w"}},
			Output: "w",
		}
		result := v.Validate(graph)
		errs := findIssues(result.Errors, domain.InvalidOperation)
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Message, "weights")
	})

	t.Run("controls without any control", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				factorNode("a", "1"),
				{ID: "c", Type: domain.NodeControls, Config: domain.ControlsConfig{}},
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "c"}},
			Output: "c",
		}
		result := v.Validate(graph)
		assert.False(t, result.Valid())
	})

	t.Run("convert currency requires valid ISO codes", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				factorNode("a", "1"),
				{
					ID:   "fx",
					Type: domain.NodeConvert,
					Config: domain.ConvertConfig{
						Kind:      domain.ConvertCurrency,
						From:      "NOPE",
						To:        "EUR",
						FixedRate: decPtr("1.1"),
					},
				},
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "fx"}},
			Output: "fx",
		}
		result := v.Validate(graph)
		errs := findIssues(result.Errors, domain.InvalidOperation)
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Message, "ISO 4217")
	})

	t.Run("config type mismatch", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				{ID: "x", Type: domain.NodeTransform, Config: domain.FactorConfig{Value: decPtr("1")}},
			},
			Output: "x",
		}
		result := v.Validate(graph)
		assert.False(t, result.Valid())
	})
}

func TestValidatorReachability(t *testing.T) {
	v := NewValidator(nil)

	graph := &domain.PAMGraph{
		Nodes: []domain.GraphNode{
			factorNode("a", "1"),
			factorNode("orphan", "2"),
		},
		Output: "a",
	}
	result := v.Validate(graph)

	assert.True(t, result.Valid(), "unreachable nodes must not block compilation")
	warnings := findIssues(result.Warnings, domain.UnreachableNode)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "orphan")
}

func TestValidatorCurrencyConsistency(t *testing.T) {
	v := NewValidator(nil)

	t.Run("mixed currencies flagged when statically known", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				{ID: "eur", Type: domain.NodeFactor, Config: domain.FactorConfig{Value: decPtr("1"), Currency: "EUR"}},
				{ID: "usd", Type: domain.NodeFactor, Config: domain.FactorConfig{Value: decPtr("2"), Currency: "USD"}},
				combineNode("sum", domain.CombineAdd),
			},
			Edges:  []domain.GraphEdge{{From: "eur", To: "sum"}, {From: "usd", To: "sum"}},
			Output: "sum",
		}
		result := v.Validate(graph)
		require.Len(t, findIssues(result.Errors, domain.CurrencyMismatch), 1)
	})

	t.Run("constant factors are never flagged", func(t *testing.T) {
		graph := &domain.PAMGraph{
			Nodes: []domain.GraphNode{
				factorNode("a", "1"),
				factorNode("b", "2"),
				combineNode("sum", domain.CombineAdd),
			},
			Edges:  []domain.GraphEdge{{From: "a", To: "sum"}, {From: "b", To: "sum"}},
			Output: "sum",
		}
		assert.True(t, v.Validate(graph).Valid())
	})
}

func TestValidatorAccumulatesIndependentErrors(t *testing.T) {
	v := NewValidator(nil)

	// Missing output and a parameterless factor are orthogonal; both
	// must be reported in one pass.
	graph := &domain.PAMGraph{
		Nodes:  []domain.GraphNode{{ID: "f", Type: domain.NodeFactor, Config: domain.FactorConfig{}}},
		Output: "missing",
	}
	result := v.Validate(graph)

	assert.Len(t, findIssues(result.Errors, domain.MissingOutputNode), 1)
	assert.NotEmpty(t, findIssues(result.Errors, domain.InvalidOperation))
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contributions records the evaluated value of every node in execution
// plan order. Go maps do not preserve insertion order, so the trace
// keeps an explicit order slice alongside the lookup map; the order
// must survive serialization unchanged because downstream reports show
// contributions in plan order.
type Contributions struct {
	order  []string
	values map[string]decimal.Decimal
}

// NewContributions returns an empty trace with capacity for n nodes.
func NewContributions(n int) *Contributions {
	return &Contributions{
		order:  make([]string, 0, n),
		values: make(map[string]decimal.Decimal, n),
	}
}

// Set records the value for a node id. First insertion fixes the
// node's position; re-setting an id updates the value in place.
func (c *Contributions) Set(nodeID string, v decimal.Decimal) {
	if _, ok := c.values[nodeID]; !ok {
		c.order = append(c.order, nodeID)
	}
	c.values[nodeID] = v
}

// Get returns the recorded value for a node id and whether it exists.
func (c *Contributions) Get(nodeID string) (decimal.Decimal, bool) {
	v, ok := c.values[nodeID]
	return v, ok
}

// Len returns the number of recorded contributions.
func (c *Contributions) Len() int { return len(c.order) }

// NodeIDs returns the node ids in insertion (plan) order.
// The returned slice is a copy and safe to modify.
func (c *Contributions) NodeIDs() []string {
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	return ids
}

// ToMap returns an unordered copy of the trace for persistence layers
// that store contributions as a document.
func (c *Contributions) ToMap() map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(c.values))
	for k, v := range c.values {
		m[k] = v
	}
	return m
}

// ExecutionMetadata describes a single graph execution.
type ExecutionMetadata struct {
	ExecutedAt      time.Time
	AsOfDate        time.Time
	NodesEvaluated  int
	ExecutionTimeMs int64
}

// ExecutionResult is the output of executing a compiled graph against
// an execution context: the output node's value, its unit/currency
// metadata when known, and the full per-node contribution trace.
type ExecutionResult struct {
	Value         decimal.Decimal
	Currency      string
	Unit          string
	Contributions *Contributions
	Metadata      ExecutionMetadata
}

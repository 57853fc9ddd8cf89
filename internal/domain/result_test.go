package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContributionsPreserveInsertionOrder(t *testing.T) {
	c := NewContributions(3)
	c.Set("zebra", decimal.NewFromInt(1))
	c.Set("alpha", decimal.NewFromInt(2))
	c.Set("mid", decimal.NewFromInt(3))

	assert.Equal(t, []string{"zebra", "alpha", "mid"}, c.NodeIDs())
	assert.Equal(t, 3, c.Len())
}

func TestContributionsResetKeepsPosition(t *testing.T) {
	c := NewContributions(2)
	c.Set("a", decimal.NewFromInt(1))
	c.Set("b", decimal.NewFromInt(2))
	c.Set("a", decimal.NewFromInt(9))

	assert.Equal(t, []string{"a", "b"}, c.NodeIDs())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(9).Equal(v))
}

func TestContributionsGetMissing(t *testing.T) {
	c := NewContributions(0)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestContributionsToMap(t *testing.T) {
	c := NewContributions(2)
	c.Set("a", decimal.NewFromInt(1))
	c.Set("b", decimal.NewFromInt(2))

	m := c.ToMap()
	require.Len(t, m, 2)

	// The copy is detached from the trace.
	m["a"] = decimal.NewFromInt(99)
	v, _ := c.Get("a")
	assert.True(t, decimal.NewFromInt(1).Equal(v))
}

func TestContributionsNodeIDsCopy(t *testing.T) {
	c := NewContributions(1)
	c.Set("a", decimal.NewFromInt(1))

	ids := c.NodeIDs()
	ids[0] = "mutated"
	assert.Equal(t, []string{"a"}, c.NodeIDs())
}

package application

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceflow/pam-engine/internal/domain"
)

const brentEscalationYAML = `
version: "1.0.0"
metadata:
  name: brent-escalation
  description: Brent-linked escalation with cap and floor
  base_currency: USD
  base_unit: BBL
nodes:
  - id: brent
    type: factor
    label: Brent monthly average
    params:
      series:
        code: BRENT
        lag_days: 30
        aggregation: mean
  - id: markup
    type: factor
    params:
      value: "1.15"
  - id: scaled
    type: combine
    params:
      op: multiply
  - id: bounded
    type: controls
    params:
      cap: "120"
      floor: "40"
edges:
  - from: brent
    to: scaled
  - from: markup
    to: scaled
  - from: scaled
    to: bounded
output: bounded
`

func newTestLoader(t *testing.T) *GraphLoader {
	t.Helper()
	loader, err := NewGraphLoader(NewValidator(nil))
	require.NoError(t, err)
	return loader
}

func TestLoaderParsesFullDefinition(t *testing.T) {
	loader := newTestLoader(t)

	graph, err := loader.LoadFromReader(strings.NewReader(brentEscalationYAML))
	require.NoError(t, err)

	require.Len(t, graph.Nodes, 4)
	assert.Equal(t, "bounded", graph.Output)
	assert.Equal(t, "USD", graph.Metadata.BaseCurrency)
	assert.Equal(t, "BBL", graph.Metadata.BaseUnit)

	brent, ok := graph.NodeByID("brent")
	require.True(t, ok)
	factor, ok := brent.Config.(domain.FactorConfig)
	require.True(t, ok)
	require.NotNil(t, factor.Series)
	assert.Equal(t, "BRENT", factor.Series.Code)
	assert.Equal(t, 30, factor.Series.LagDays)
	assert.Equal(t, domain.AggMean, factor.Series.Aggregation)

	markup, ok := graph.NodeByID("markup")
	require.True(t, ok)
	value := markup.Config.(domain.FactorConfig).Value
	require.NotNil(t, value)
	assert.True(t, dec("1.15").Equal(*value))

	bounded, ok := graph.NodeByID("bounded")
	require.True(t, ok)
	controls := bounded.Config.(domain.ControlsConfig)
	require.NotNil(t, controls.Cap)
	assert.True(t, dec("120").Equal(*controls.Cap))
}

func TestLoaderPreservesDecimalText(t *testing.T) {
	loader := newTestLoader(t)

	// 100.1 is not exactly representable as a float; the loader must
	// take the scalar's literal text, not a float round-trip.
	yml := `
version: "1.0.0"
metadata:
  name: precision
nodes:
  - id: price
    type: factor
    params:
      value: 100.1
output: price
`
	graph, err := loader.LoadFromReader(strings.NewReader(yml))
	require.NoError(t, err)

	node, _ := graph.NodeByID("price")
	value := node.Config.(domain.FactorConfig).Value
	require.NotNil(t, value)
	assert.Equal(t, "100.1", value.String())
}

func TestLoaderCachesByContent(t *testing.T) {
	loader := newTestLoader(t)

	first, err := loader.LoadFromReader(strings.NewReader(brentEscalationYAML))
	require.NoError(t, err)
	second, err := loader.LoadFromReader(strings.NewReader(brentEscalationYAML))
	require.NoError(t, err)
	assert.Same(t, first, second, "identical definitions share one cached graph")

	loader.ClearCache()
	third, err := loader.LoadFromReader(strings.NewReader(brentEscalationYAML))
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestLoaderLoadFromFile(t *testing.T) {
	loader := newTestLoader(t)

	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(brentEscalationYAML), 0o600))

	graph, err := loader.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bounded", graph.Output)

	_, err = loader.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoaderRejections(t *testing.T) {
	loader := newTestLoader(t)

	cases := []struct {
		name    string
		yml     string
		wantErr string
	}{
		{
			name:    "unknown top-level field",
			yml:     "version: \"1.0.0\"\nbogus: true\nmetadata:\n  name: x\nnodes:\n  - id: a\n    type: factor\n    params:\n      value: \"1\"\noutput: a\n",
			wantErr: "bogus",
		},
		{
			name:    "missing version",
			yml:     "metadata:\n  name: x\nnodes:\n  - id: a\n    type: factor\n    params:\n      value: \"1\"\noutput: a\n",
			wantErr: "Version",
		},
		{
			name:    "bad version format",
			yml:     "version: \"not-semver\"\nmetadata:\n  name: x\nnodes:\n  - id: a\n    type: factor\n    params:\n      value: \"1\"\noutput: a\n",
			wantErr: "semver",
		},
		{
			name:    "unknown node type",
			yml:     "version: \"1.0.0\"\nmetadata:\n  name: x\nnodes:\n  - id: a\n    type: widget\noutput: a\n",
			wantErr: "oneof",
		},
		{
			name:    "invalid decimal literal",
			yml:     "version: \"1.0.0\"\nmetadata:\n  name: x\nnodes:\n  - id: a\n    type: factor\n    params:\n      value: \"1.2.3\"\noutput: a\n",
			wantErr: "invalid decimal",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loader.LoadFromReader(strings.NewReader(tc.yml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoaderRunsSemanticValidation(t *testing.T) {
	loader := newTestLoader(t)

	// Structurally sound YAML whose graph is semantically invalid: the
	// output node does not exist.
	yml := `
version: "1.0.0"
metadata:
  name: broken
nodes:
  - id: a
    type: factor
    params:
      value: "1"
output: missing
`
	_, err := loader.LoadFromReader(strings.NewReader(yml))
	require.Error(t, err)

	var compErr *domain.CompilationError
	require.ErrorAs(t, err, &compErr)
}

package application

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// GraphConfig is the YAML form of a price adjustment graph and the
// entry point for declaratively defined mechanisms.
type GraphConfig struct {
	// Version is the configuration schema version, semantic versioning.
	Version string `yaml:"version" validate:"required,semver"`
	// Metadata describes the mechanism.
	Metadata MetadataConfig `yaml:"metadata" validate:"required"`
	// Nodes declares the graph's nodes; declaration order is preserved
	// and is the topological tie-break.
	Nodes []NodeDef `yaml:"nodes" validate:"required,min=1,dive"`
	// Edges declares data dependencies; per-target order fixes
	// operand positions.
	Edges []EdgeDef `yaml:"edges" validate:"dive"`
	// Output names the node whose value is the graph's result.
	Output string `yaml:"output" validate:"required"`
}

// MetadataConfig carries descriptive defaults for a graph definition.
type MetadataConfig struct {
	// Name is the human-readable mechanism name.
	Name string `yaml:"name" validate:"required,min=1,max=255"`
	// Description documents the mechanism's commercial intent.
	Description string `yaml:"description" validate:"max=1000"`
	// BaseCurrency and BaseUnit seed item contexts that do not carry
	// their own.
	BaseCurrency string `yaml:"base_currency" validate:"omitempty,len=3"`
	BaseUnit     string `yaml:"base_unit" validate:"max=32"`
}

// NodeDef is the YAML form of one graph node. Params is kept as a raw
// YAML node and decoded against the schema of the declared type.
type NodeDef struct {
	ID     string    `yaml:"id" validate:"required,min=1,max=100"`
	Type   string    `yaml:"type" validate:"required,oneof=factor transform convert combine controls"`
	Label  string    `yaml:"label" validate:"max=255"`
	Params yaml.Node `yaml:"params"`
}

// EdgeDef is the YAML form of one dependency edge.
type EdgeDef struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to" validate:"required"`
}

// decValue wraps decimal.Decimal with YAML unmarshalling from the
// scalar's literal text, so "100.5" never round-trips through a float.
type decValue struct {
	decimal.Decimal
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *decValue) UnmarshalYAML(value *yaml.Node) error {
	dec, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", value.Value, err)
	}
	d.Decimal = dec
	return nil
}

// seriesParams is the YAML form of a timeseries reference.
type seriesParams struct {
	Code        string `yaml:"code"`
	LagDays     int    `yaml:"lag_days"`
	Aggregation string `yaml:"aggregation"`
}

// factorParams is the params schema for factor nodes.
type factorParams struct {
	Value    *decValue     `yaml:"value"`
	Series   *seriesParams `yaml:"series"`
	Unit     string        `yaml:"unit"`
	Currency string        `yaml:"currency"`
}

// transformParams is the params schema for transform nodes.
type transformParams struct {
	Op        string    `yaml:"op"`
	Exponent  *decValue `yaml:"exponent"`
	Decimals  *int32    `yaml:"decimals"`
	BaseValue *decValue `yaml:"base_value"`
}

// convertParams is the params schema for convert nodes.
type convertParams struct {
	Type             string        `yaml:"type"`
	From             string        `yaml:"from"`
	To               string        `yaml:"to"`
	ConversionFactor *decValue     `yaml:"conversion_factor"`
	Density          *decValue     `yaml:"density"`
	FXSeries         *seriesParams `yaml:"fx_series"`
	FixedRate        *decValue     `yaml:"fixed_rate"`
}

// combineParams is the params schema for combine nodes.
type combineParams struct {
	Op      string     `yaml:"op"`
	Weights []decValue `yaml:"weights"`
}

// controlsParams is the params schema for controls nodes.
type controlsParams struct {
	Cap         *decValue `yaml:"cap"`
	Floor       *decValue `yaml:"floor"`
	TriggerBand *struct {
		Lower decValue `yaml:"lower"`
		Upper decValue `yaml:"upper"`
	} `yaml:"trigger_band"`
	SpikeSharing *struct {
		SharePercent decValue `yaml:"share_percent"`
		Direction    string   `yaml:"direction"`
	} `yaml:"spike_sharing"`
}

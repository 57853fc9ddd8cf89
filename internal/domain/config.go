package domain

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// NodeConfig is the sealed sum type of per-variant node parameters.
// Exactly one concrete config type exists per NodeType; the validator
// and executor match exhaustively on the concrete type, which replaces
// the runtime property probing of untyped parameter bags.
type NodeConfig interface {
	// NodeType returns the variant this configuration belongs to.
	NodeType() NodeType
}

// SeriesRef identifies a timeseries lookup performed by a Factor node
// or a currency Convert node.
type SeriesRef struct {
	// Code is the provider series identifier, e.g. "TTF_MONTH_AHEAD".
	Code string
	// LagDays shifts the effective lookup date back from the as-of
	// date. Zero means no lag.
	LagDays int
	// Aggregation optionally folds the points inside the lag window
	// instead of taking the latest one.
	Aggregation AggregationOp
}

// AggregationOp names a fold applied to timeseries points inside a
// lookup window.
type AggregationOp string

// Supported timeseries aggregations.
const (
	AggLast AggregationOp = "last"
	AggMean AggregationOp = "mean"
	AggMin  AggregationOp = "min"
	AggMax  AggregationOp = "max"
)

// FactorConfig parameterizes a Factor node. Exactly one of Value or
// Series must be set.
type FactorConfig struct {
	// Value is a constant factor. Constant factors carry no unit or
	// currency metadata.
	Value *decimal.Decimal
	// Series requests a version-preferenced timeseries lookup.
	Series *SeriesRef
	// Unit and Currency optionally annotate the metadata a series
	// value is expected to carry; they are advisory for consistency
	// checking and never override resolver metadata.
	Unit     string
	Currency string
}

// NodeType implements NodeConfig.
func (FactorConfig) NodeType() NodeType { return NodeFactor }

// TransformOp names a single-input mathematical transform.
type TransformOp string

// Supported transform operations.
const (
	TransformAbs           TransformOp = "abs"
	TransformCeil          TransformOp = "ceil"
	TransformFloor         TransformOp = "floor"
	TransformSqrt          TransformOp = "sqrt"
	TransformLog           TransformOp = "log"
	TransformExp           TransformOp = "exp"
	TransformRound         TransformOp = "round"
	TransformPow           TransformOp = "pow"
	TransformPercentChange TransformOp = "percent_change"
)

// Valid reports whether op names a supported transform.
func (op TransformOp) Valid() bool {
	switch op {
	case TransformAbs, TransformCeil, TransformFloor, TransformSqrt,
		TransformLog, TransformExp, TransformRound, TransformPow,
		TransformPercentChange:
		return true
	}
	return false
}

// TransformConfig parameterizes a Transform node.
type TransformConfig struct {
	Op TransformOp
	// Exponent is required for pow.
	Exponent *decimal.Decimal
	// Decimals is the precision for round; nil defaults to 2.
	Decimals *int32
	// BaseValue is required for percent_change and must be non-zero.
	BaseValue *decimal.Decimal
}

// NodeType implements NodeConfig.
func (TransformConfig) NodeType() NodeType { return NodeTransform }

// ConversionKind distinguishes unit from currency conversions.
type ConversionKind string

const (
	ConvertUnit     ConversionKind = "unit"
	ConvertCurrency ConversionKind = "currency"
)

// ConvertConfig parameterizes a Convert node. Unit conversions require
// ConversionFactor or Density; currency conversions require FXSeries
// or FixedRate.
type ConvertConfig struct {
	Kind ConversionKind
	// From and To name the source and target unit or currency.
	From string
	To   string
	// ConversionFactor is a direct multiplicative factor for unit
	// conversions.
	ConversionFactor *decimal.Decimal
	// Density derives the factor for mass/volume unit conversions.
	Density *decimal.Decimal
	// FXSeries names the FX rate series for currency conversions.
	FXSeries *SeriesRef
	// FixedRate is a constant FX rate for currency conversions.
	FixedRate *decimal.Decimal
}

// NodeType implements NodeConfig.
func (ConvertConfig) NodeType() NodeType { return NodeConvert }

// ValidISOCurrency reports whether code is a well-formed ISO 4217
// currency code.
func ValidISOCurrency(code string) bool {
	_, err := currency.ParseISO(code)
	return err == nil
}

// CombineOp names an N-ary fold over a combine node's ordered inputs.
type CombineOp string

// Supported combine operations. Subtract and divide fold left-to-right
// from the first declared input; the rest are order-independent except
// weighted_average, which matches weights positionally.
const (
	CombineAdd             CombineOp = "add"
	CombineSubtract        CombineOp = "subtract"
	CombineMultiply        CombineOp = "multiply"
	CombineDivide          CombineOp = "divide"
	CombineMin             CombineOp = "min"
	CombineMax             CombineOp = "max"
	CombineAverage         CombineOp = "average"
	CombineWeightedAverage CombineOp = "weighted_average"
)

// Valid reports whether op names a supported combine operation.
func (op CombineOp) Valid() bool {
	switch op {
	case CombineAdd, CombineSubtract, CombineMultiply, CombineDivide,
		CombineMin, CombineMax, CombineAverage, CombineWeightedAverage:
		return true
	}
	return false
}

// CombineConfig parameterizes a Combine node.
type CombineConfig struct {
	Op CombineOp
	// Weights is required for weighted_average and must have exactly
	// one entry per declared input, matched positionally.
	Weights []decimal.Decimal
}

// NodeType implements NodeConfig.
func (CombineConfig) NodeType() NodeType { return NodeCombine }

// SpikeDirection selects which side of the trigger band spike sharing
// applies to.
type SpikeDirection string

const (
	SpikeAbove SpikeDirection = "above"
	SpikeBelow SpikeDirection = "below"
	SpikeBoth  SpikeDirection = "both"
)

// TriggerBand is the corridor outside which spike sharing engages.
type TriggerBand struct {
	Lower decimal.Decimal
	Upper decimal.Decimal
}

// SpikeSharing passes through a configured share of the movement beyond
// the trigger band instead of fully capping it.
type SpikeSharing struct {
	// SharePercent is the passed-through share of the excess, 0-100.
	SharePercent decimal.Decimal
	Direction    SpikeDirection
}

// ControlsConfig parameterizes a Controls node. At least one of Cap,
// Floor, or the TriggerBand+SpikeSharing pair must be set. Spike
// sharing is applied first, then cap, then floor.
type ControlsConfig struct {
	Cap          *decimal.Decimal
	Floor        *decimal.Decimal
	TriggerBand  *TriggerBand
	SpikeSharing *SpikeSharing
}

// NodeType implements NodeConfig.
func (ControlsConfig) NodeType() NodeType { return NodeControls }

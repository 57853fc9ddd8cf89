package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/priceflow/pam-engine/internal/domain"
	"github.com/priceflow/pam-engine/internal/ports"
)

// divisionPrecision is the number of fractional digits carried through
// divisions and transcendental transforms. All arithmetic is decimal
// end to end; native floats never enter the evaluation path.
const divisionPrecision int32 = 28

// defaultRoundDecimals applies when a round transform omits decimals.
const defaultRoundDecimals int32 = 2

// nodeValue is the evaluated output of a node: a decimal together with
// the unit/currency metadata it carries, when known. Constant factors
// carry no metadata.
type nodeValue struct {
	val      decimal.Decimal
	unit     string
	currency string
}

// Executor evaluates compiled graphs strictly in plan order, recording
// each node's decimal value into the contribution trace before any
// downstream node runs. Execution is a pure function of
// (compiled graph, context); concurrent executions share no mutable
// state and need no synchronization.
type Executor struct {
	compiler *Compiler
	series   ports.TimeseriesResolver
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeseriesResolver wires the resolver used for Factor series and
// currency FX lookups. Without one, series-backed nodes fail with a
// clearly labeled not-yet-implemented error instead of silently
// yielding zero.
func WithTimeseriesResolver(r ports.TimeseriesResolver) ExecutorOption {
	return func(e *Executor) { e.series = r }
}

// NewExecutor creates an executor that compiles raw graphs on demand
// through the given compiler.
func NewExecutor(compiler *Compiler, opts ...ExecutorOption) *Executor {
	e := &Executor{compiler: compiler}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute compiles the graph and evaluates it against the context.
// Compilation failures surface as a CompilationError.
func (e *Executor) Execute(ctx context.Context, graph *domain.PAMGraph, ec domain.ExecutionContext) (*domain.ExecutionResult, error) {
	compiled, err := e.compiler.Compile(graph)
	if err != nil {
		return nil, err
	}
	return e.ExecuteCompiled(ctx, compiled, ec)
}

// ExecuteCompiled evaluates an already compiled graph. Nodes run
// strictly in plan order and the first fatal error stops evaluation;
// downstream nodes are never evaluated after a failure.
func (e *Executor) ExecuteCompiled(ctx context.Context, compiled *domain.CompiledGraph, ec domain.ExecutionContext) (*domain.ExecutionResult, error) {
	start := time.Now()
	graph := compiled.Graph

	values := make(map[string]nodeValue, len(compiled.ExecutionPlan))
	contributions := domain.NewContributions(len(compiled.ExecutionPlan))

	for _, id := range compiled.ExecutionPlan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, ok := graph.NodeByID(id)
		if !ok {
			return nil, domain.NewNodeExecutionError(id, "execution plan references unknown node")
		}

		inputs := make([]nodeValue, 0, len(compiled.Dependencies[id]))
		for _, dep := range compiled.Dependencies[id] {
			in, ok := values[dep]
			if !ok {
				return nil, domain.NewNodeExecutionError(id, "dependency %q was not evaluated before its dependent", dep)
			}
			inputs = append(inputs, in)
		}

		out, err := e.evalNode(ctx, node, inputs, ec)
		if err != nil {
			return nil, err
		}

		values[id] = out
		contributions.Set(id, out.val)
	}

	final, ok := values[graph.Output]
	if !ok {
		return nil, domain.NewNodeExecutionError(graph.Output, "output node was not evaluated")
	}

	return &domain.ExecutionResult{
		Value:         final.val,
		Currency:      final.currency,
		Unit:          final.unit,
		Contributions: contributions,
		Metadata: domain.ExecutionMetadata{
			ExecutedAt:      start,
			AsOfDate:        ec.AsOfDate,
			NodesEvaluated:  contributions.Len(),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

// evalNode dispatches on the node's config variant. An unrecognized
// variant fails fast with UnsupportedNodeTypeError.
func (e *Executor) evalNode(ctx context.Context, node domain.GraphNode, inputs []nodeValue, ec domain.ExecutionContext) (nodeValue, error) {
	// Single-input variants re-check arity here despite upstream
	// validation; a caller-constructed compiled graph with a missing
	// dependency entry must fail, not panic.
	switch cfg := node.Config.(type) {
	case domain.FactorConfig:
		return e.evalFactor(ctx, node.ID, cfg, ec)
	case domain.TransformConfig:
		if len(inputs) != 1 {
			return nodeValue{}, domain.NewNodeExecutionError(node.ID, "transform requires exactly 1 input, got %d", len(inputs))
		}
		return evalTransform(node.ID, cfg, inputs[0])
	case domain.ConvertConfig:
		if len(inputs) != 1 {
			return nodeValue{}, domain.NewNodeExecutionError(node.ID, "convert requires exactly 1 input, got %d", len(inputs))
		}
		return e.evalConvert(ctx, node.ID, cfg, inputs[0], ec)
	case domain.CombineConfig:
		return evalCombine(node.ID, cfg, inputs)
	case domain.ControlsConfig:
		if len(inputs) != 1 {
			return nodeValue{}, domain.NewNodeExecutionError(node.ID, "controls requires exactly 1 input, got %d", len(inputs))
		}
		return evalControls(cfg, inputs[0]), nil
	default:
		return nodeValue{}, &domain.UnsupportedNodeTypeError{NodeID: node.ID, Type: node.Type}
	}
}

// evalFactor yields a constant or resolves a timeseries point. The
// validator's exactly-one-of check is duplicated here as a runtime
// guard because executors also accept graphs compiled elsewhere.
func (e *Executor) evalFactor(ctx context.Context, id string, cfg domain.FactorConfig, ec domain.ExecutionContext) (nodeValue, error) {
	hasValue := cfg.Value != nil
	hasSeries := cfg.Series != nil && cfg.Series.Code != ""
	if hasValue == hasSeries {
		return nodeValue{}, domain.NewNodeExecutionError(id, "factor requires exactly one of value or series")
	}

	if hasValue {
		return nodeValue{val: *cfg.Value}, nil
	}

	if e.series == nil {
		return nodeValue{}, &domain.NotImplementedError{NodeID: id, Capability: "timeseries lookup"}
	}

	point, err := e.series.Resolve(ctx, ports.SeriesQuery{
		TenantID:    ec.TenantID,
		Code:        cfg.Series.Code,
		AsOf:        ec.AsOfDate,
		LagDays:     cfg.Series.LagDays,
		Preference:  ec.VersionPreference,
		Aggregation: cfg.Series.Aggregation,
	})
	if err != nil {
		return nodeValue{}, &domain.NodeExecutionError{NodeID: id, Reason: "series lookup failed", Err: err}
	}

	return nodeValue{val: point.Value, unit: point.Unit, currency: point.Currency}, nil
}

// evalTransform applies a single-input mathematical transform.
func evalTransform(id string, cfg domain.TransformConfig, in nodeValue) (nodeValue, error) {
	out := in
	x := in.val

	switch cfg.Op {
	case domain.TransformAbs:
		out.val = x.Abs()
	case domain.TransformCeil:
		out.val = x.Ceil()
	case domain.TransformFloor:
		out.val = x.Floor()
	case domain.TransformSqrt:
		v, err := x.PowWithPrecision(decimal.NewFromFloat(0.5), divisionPrecision)
		if err != nil {
			return nodeValue{}, &domain.NodeExecutionError{NodeID: id, Reason: "sqrt failed", Err: err}
		}
		out.val = v
	case domain.TransformLog:
		v, err := x.Ln(divisionPrecision)
		if err != nil {
			return nodeValue{}, &domain.NodeExecutionError{NodeID: id, Reason: "log failed", Err: err}
		}
		out.val = v
	case domain.TransformExp:
		v, err := x.ExpHullAbrham(uint32(divisionPrecision))
		if err != nil {
			return nodeValue{}, &domain.NodeExecutionError{NodeID: id, Reason: "exp failed", Err: err}
		}
		out.val = v
	case domain.TransformRound:
		decimals := defaultRoundDecimals
		if cfg.Decimals != nil {
			decimals = *cfg.Decimals
		}
		// Round is half-up for the positive magnitudes price
		// adjustments operate on (half away from zero).
		out.val = x.Round(decimals)
	case domain.TransformPow:
		if cfg.Exponent == nil {
			return nodeValue{}, domain.NewNodeExecutionError(id, "pow requires params.exponent")
		}
		v, err := x.PowWithPrecision(*cfg.Exponent, divisionPrecision)
		if err != nil {
			return nodeValue{}, &domain.NodeExecutionError{NodeID: id, Reason: "pow failed", Err: err}
		}
		out.val = v
	case domain.TransformPercentChange:
		if cfg.BaseValue == nil {
			return nodeValue{}, domain.NewNodeExecutionError(id, "percent_change requires params.baseValue")
		}
		if cfg.BaseValue.IsZero() {
			return nodeValue{}, domain.NewNodeExecutionError(id, "percent_change baseValue must be non-zero")
		}
		out.val = x.Sub(*cfg.BaseValue).DivRound(*cfg.BaseValue, divisionPrecision)
	default:
		return nodeValue{}, domain.NewNodeExecutionError(id, "unsupported transform operation %q", cfg.Op)
	}

	return out, nil
}

// evalConvert performs a unit or currency conversion, failing when the
// input lacks the metadata the conversion needs.
func (e *Executor) evalConvert(ctx context.Context, id string, cfg domain.ConvertConfig, in nodeValue, ec domain.ExecutionContext) (nodeValue, error) {
	switch cfg.Kind {
	case domain.ConvertUnit:
		if in.unit == "" {
			return nodeValue{}, &domain.ConversionError{NodeID: id, Kind: cfg.Kind}
		}
		factor := cfg.ConversionFactor
		if factor == nil {
			factor = cfg.Density
		}
		if factor == nil {
			return nodeValue{}, domain.NewNodeExecutionError(id, "unit conversion requires conversionFactor or density")
		}
		return nodeValue{val: in.val.Mul(*factor), unit: cfg.To, currency: in.currency}, nil

	case domain.ConvertCurrency:
		if in.currency == "" {
			return nodeValue{}, &domain.ConversionError{NodeID: id, Kind: cfg.Kind}
		}
		rate, err := e.resolveRate(ctx, id, cfg, ec)
		if err != nil {
			return nodeValue{}, err
		}
		return nodeValue{val: in.val.Mul(rate), unit: in.unit, currency: cfg.To}, nil

	default:
		return nodeValue{}, domain.NewNodeExecutionError(id, "unknown conversion type %q", cfg.Kind)
	}
}

// resolveRate returns the FX rate for a currency conversion from its
// fixed rate or its FX series.
func (e *Executor) resolveRate(ctx context.Context, id string, cfg domain.ConvertConfig, ec domain.ExecutionContext) (decimal.Decimal, error) {
	if cfg.FixedRate != nil {
		return *cfg.FixedRate, nil
	}
	if cfg.FXSeries == nil || cfg.FXSeries.Code == "" {
		return decimal.Zero, domain.NewNodeExecutionError(id, "currency conversion requires fxSeries or fixedRate")
	}
	if e.series == nil {
		return decimal.Zero, &domain.NotImplementedError{NodeID: id, Capability: "fx series lookup"}
	}

	point, err := e.series.Resolve(ctx, ports.SeriesQuery{
		TenantID:    ec.TenantID,
		Code:        cfg.FXSeries.Code,
		AsOf:        ec.AsOfDate,
		LagDays:     cfg.FXSeries.LagDays,
		Preference:  ec.VersionPreference,
		Aggregation: cfg.FXSeries.Aggregation,
	})
	if err != nil {
		return decimal.Zero, &domain.NodeExecutionError{NodeID: id, Reason: "fx series lookup failed", Err: err}
	}
	return point.Value, nil
}

// evalCombine folds two or more inputs with the configured operator.
// Inputs arrive in declared edge order; subtract and divide fold
// left-to-right from the first declared input and weighted_average
// matches weights positionally.
func evalCombine(id string, cfg domain.CombineConfig, inputs []nodeValue) (nodeValue, error) {
	if len(inputs) < 2 {
		return nodeValue{}, domain.NewNodeExecutionError(id, "combine requires at least 2 inputs, got %d", len(inputs))
	}

	out := nodeValue{unit: sharedUnit(inputs), currency: sharedCurrency(inputs)}

	switch cfg.Op {
	case domain.CombineAdd:
		acc := inputs[0].val
		for _, in := range inputs[1:] {
			acc = acc.Add(in.val)
		}
		out.val = acc
	case domain.CombineSubtract:
		acc := inputs[0].val
		for _, in := range inputs[1:] {
			acc = acc.Sub(in.val)
		}
		out.val = acc
	case domain.CombineMultiply:
		acc := inputs[0].val
		for _, in := range inputs[1:] {
			acc = acc.Mul(in.val)
		}
		out.val = acc
	case domain.CombineDivide:
		acc := inputs[0].val
		for _, in := range inputs[1:] {
			if in.val.IsZero() {
				return nodeValue{}, domain.NewNodeExecutionError(id, "division by zero")
			}
			acc = acc.DivRound(in.val, divisionPrecision)
		}
		out.val = acc
	case domain.CombineMin:
		acc := inputs[0].val
		for _, in := range inputs[1:] {
			if in.val.LessThan(acc) {
				acc = in.val
			}
		}
		out.val = acc
	case domain.CombineMax:
		acc := inputs[0].val
		for _, in := range inputs[1:] {
			if in.val.GreaterThan(acc) {
				acc = in.val
			}
		}
		out.val = acc
	case domain.CombineAverage:
		acc := decimal.Zero
		for _, in := range inputs {
			acc = acc.Add(in.val)
		}
		out.val = acc.DivRound(decimal.NewFromInt(int64(len(inputs))), divisionPrecision)
	case domain.CombineWeightedAverage:
		// Re-checked here despite upstream validation; a stale
		// compiled graph must not read past the weights slice.
		if len(cfg.Weights) != len(inputs) {
			return nodeValue{}, domain.NewNodeExecutionError(id,
				"weighted_average weights length %d does not match input count %d", len(cfg.Weights), len(inputs))
		}
		acc := decimal.Zero
		for i, in := range inputs {
			acc = acc.Add(in.val.Mul(cfg.Weights[i]))
		}
		out.val = acc
	default:
		return nodeValue{}, domain.NewNodeExecutionError(id, "unsupported combine operation %q", cfg.Op)
	}

	return out, nil
}

// sharedUnit returns the inputs' unit when they all agree, else "".
func sharedUnit(inputs []nodeValue) string {
	unit := inputs[0].unit
	for _, in := range inputs[1:] {
		if in.unit != unit {
			return ""
		}
	}
	return unit
}

// sharedCurrency returns the inputs' currency when they all agree,
// else "".
func sharedCurrency(inputs []nodeValue) string {
	cur := inputs[0].currency
	for _, in := range inputs[1:] {
		if in.currency != cur {
			return ""
		}
	}
	return cur
}

// evalControls applies spike sharing first, then cap, then floor, in
// that order, on whatever value spike sharing produced.
func evalControls(cfg domain.ControlsConfig, in nodeValue) nodeValue {
	out := in
	x := in.val

	if cfg.TriggerBand != nil && cfg.SpikeSharing != nil {
		share := cfg.SpikeSharing.SharePercent.DivRound(decimal.NewFromInt(100), divisionPrecision)
		dir := cfg.SpikeSharing.Direction
		upper := cfg.TriggerBand.Upper
		lower := cfg.TriggerBand.Lower

		switch {
		case x.GreaterThan(upper) && (dir == domain.SpikeAbove || dir == domain.SpikeBoth):
			x = upper.Add(x.Sub(upper).Mul(share))
		case x.LessThan(lower) && (dir == domain.SpikeBelow || dir == domain.SpikeBoth):
			x = lower.Sub(lower.Sub(x).Mul(share))
		}
	}

	if cfg.Cap != nil && x.GreaterThan(*cfg.Cap) {
		x = *cfg.Cap
	}
	if cfg.Floor != nil && x.LessThan(*cfg.Floor) {
		x = *cfg.Floor
	}

	out.val = x
	return out
}

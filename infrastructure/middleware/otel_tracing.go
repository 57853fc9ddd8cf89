package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/priceflow/pam-engine/internal/domain"
	"github.com/priceflow/pam-engine/internal/ports"
)

// tracerName identifies this instrumentation scope.
const tracerName = "github.com/priceflow/pam-engine/infrastructure/middleware"

// TracedExecutor decorates a GraphExecutor with OpenTelemetry spans.
// The batch orchestrator accepts it unchanged because both satisfy
// ports.GraphExecutor.
type TracedExecutor struct {
	delegate ports.GraphExecutor
	tracer   trace.Tracer
}

// NewTracedExecutor wraps an executor with span instrumentation.
func NewTracedExecutor(delegate ports.GraphExecutor) *TracedExecutor {
	return &TracedExecutor{
		delegate: delegate,
		tracer:   otel.Tracer(tracerName),
	}
}

// Execute implements ports.GraphExecutor, recording one span per graph
// execution with node count and outcome attributes.
func (t *TracedExecutor) Execute(ctx context.Context, graph *domain.PAMGraph, ec domain.ExecutionContext) (*domain.ExecutionResult, error) {
	ctx, span := t.tracer.Start(ctx, "pam.execute",
		trace.WithAttributes(
			attribute.String("pam.tenant_id", ec.TenantID),
			attribute.Int("pam.node_count", len(graph.Nodes)),
			attribute.String("pam.version_preference", string(ec.VersionPreference)),
		),
	)
	defer span.End()

	result, err := t.delegate.Execute(ctx, graph, ec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("pam.nodes_evaluated", result.Metadata.NodesEvaluated),
		attribute.Int64("pam.execution_time_ms", result.Metadata.ExecutionTimeMs),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

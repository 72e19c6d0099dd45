package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "trustgate"

// StartPipelineSpan starts a span covering one full submission pipeline run.
func StartPipelineSpan(ctx context.Context, submissionID, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline",
		trace.WithAttributes(
			attribute.String("submission.id", submissionID),
			attribute.String("agent.id", agentID),
		),
	)
}

// StartStageSpan starts a span for one pipeline stage.
func StartStageSpan(ctx context.Context, submissionID, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage."+stage,
		trace.WithAttributes(
			attribute.String("submission.id", submissionID),
			attribute.String("stage.name", stage),
		),
	)
}

// StartJudgeSpan starts a span for judging one scenario.
func StartJudgeSpan(ctx context.Context, scenarioID string, panel bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "judge",
		trace.WithAttributes(
			attribute.String("scenario.id", scenarioID),
			attribute.Bool("judge.panel", panel),
		),
	)
}

package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"canon-mcp/internal/domain"
	"canon-mcp/internal/infra/tracer"
)

// Default tool guards, used when CameraToolsConfig leaves a field zero.
const (
	defaultMaxListImages        = 200
	defaultMaxCapturesPerMinute = 30
)

// noParams is the schema of tools that take no arguments.
var noParams = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)

// cameraTool carries the identity and dependencies shared by every camera
// tool. Concrete tools embed it and implement Execute.
type cameraTool struct {
	name        string
	description string
	params      json.RawMessage
	camera      domain.CameraClient
	logger      *slog.Logger
}

func (t *cameraTool) Name() string        { return t.name }
func (t *cameraTool) Description() string { return t.description }

func (t *cameraTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.name,
		Description: t.description,
		Parameters:  t.params,
	}
}

// spanName is the trace span and log prefix for this tool's executions.
func (t *cameraTool) spanName() string { return "tool." + t.name }

// annotate tags span with the camera endpoint the call is aimed at.
func (t *cameraTool) annotate(span trace.Span) {
	span.SetAttributes(tracer.StringAttr("camera.endpoint", t.camera.Endpoint().String()))
}

// run adapts a handler that ignores params to the Execute pipeline.
func (t *cameraTool) run(ctx context.Context, raw json.RawMessage, fn func(ctx context.Context) (any, error)) (*domain.ToolResult, error) {
	return Execute(ctx, t.spanName(), t.logger, raw,
		func(ctx context.Context, span trace.Span, _ struct{}) (any, error) {
			t.annotate(span)
			return fn(ctx)
		})
}

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"canon-mcp/internal/domain"
	"canon-mcp/internal/infra/tracer"
)

// Execute is the standard tool execution pipeline: parse params -> start trace -> run handler -> format result.
//
// The handler receives the parsed params and an active trace span. It should return:
//   - (any Go value, nil): the value is JSON-marshaled into a success ToolResult
//   - (string, nil): wrapped in a plain-text ToolResult
//   - (*domain.ToolResult, nil): returned as-is (for custom formatting, e.g. media)
//   - (nil, error): turned into an error ToolResult carrying the error code
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	var p P
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &p); err != nil {
			tracer.RecordError(span, err)
			return errorResult(fmt.Errorf("%w: invalid params: %v", domain.ErrInvalidInput, err)), nil
		}
	}

	result, err := handler(ctx, span, p)
	if err != nil {
		tracer.RecordError(span, err)
		res := errorResult(err)
		span.SetAttributes(tracer.StringAttr("tool.error_code", string(res.ErrorCode)))
		if res.ErrorCode == domain.CodeInvalidInput || res.ErrorCode == domain.CodeInvalidParameter {
			logger.Debug(spanName+" rejected", "error", err)
		} else {
			logger.Warn(spanName+" failed", "error", err, "code", res.ErrorCode, "retryable", res.IsRetryable)
		}
		return res, nil
	}

	return formatResult(span, result)
}

// errorResult converts err into an error ToolResult. The content is the
// error text without the operation prefix the camera client adds.
func errorResult(err error) *domain.ToolResult {
	content := err.Error()
	var ce *domain.CameraError
	if errors.As(err, &ce) {
		content = ce.Kind.Error()
		if ce.Detail != "" {
			content += ": " + ce.Detail
		}
	}
	return &domain.ToolResult{
		IsError:     true,
		IsRetryable: classifyToolError(err),
		ErrorCode:   domain.ErrorCodeOf(err),
		Content:     content,
	}
}

// formatResult converts the handler's return value into a ToolResult.
func formatResult(span trace.Span, result any) (*domain.ToolResult, error) {
	switch v := result.(type) {
	case *domain.ToolResult:
		if v.IsError {
			tracer.RecordError(span, fmt.Errorf("%s", v.Content))
		} else {
			tracer.SetOK(span)
		}
		return v, nil
	case string:
		tracer.SetOK(span)
		return &domain.ToolResult{Content: v}, nil
	default:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			tracer.RecordError(span, err)
			return &domain.ToolResult{
				IsError:   true,
				ErrorCode: domain.CodeUnknown,
				Content:   fmt.Sprintf("failed to format response: %v", err),
			}, nil
		}
		tracer.SetOK(span)
		return &domain.ToolResult{Content: string(data)}, nil
	}
}

// MediaResult returns an image attachment with metadata marshaled as the
// text content.
func MediaResult(mimeType string, data []byte, meta any) (*domain.ToolResult, error) {
	text, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &domain.ToolResult{
		Content: string(text),
		Media:   &domain.Media{MIMEType: mimeType, Data: data},
	}, nil
}

func joinComma(ss []string) string {
	switch len(ss) {
	case 0:
		return ""
	case 1:
		return ss[0]
	}
	out := ss[0]
	for _, s := range ss[1:] {
		out += ", " + s
	}
	return out
}

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"canon-mcp/internal/domain"
	"canon-mcp/internal/infra/tracer"
)

// ConnectTool verifies the camera speaks CCAPI and reports what it is.
type ConnectTool struct{ cameraTool }

var _ domain.Tool = (*ConnectTool)(nil)

// NewConnectTool creates the connect_camera tool.
func NewConnectTool(camera domain.CameraClient, logger *slog.Logger) *ConnectTool {
	return &ConnectTool{cameraTool{
		name: "connect_camera",
		description: "Connect to the configured Canon camera and report its model, firmware, " +
			"supported CCAPI versions and zoom range. Call this first to check the camera is reachable.",
		params: noParams,
		camera: camera,
		logger: logger,
	}}
}

type connectResult struct {
	Connected bool               `json:"connected"`
	Endpoint  string             `json:"endpoint"`
	Device    *domain.DeviceInfo `json:"device"`
}

func (t *ConnectTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return t.run(ctx, params, func(ctx context.Context) (any, error) {
		info, err := t.camera.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return connectResult{
			Connected: true,
			Endpoint:  t.camera.Endpoint().String(),
			Device:    info,
		}, nil
	})
}

// CaptureTool presses the shutter.
type CaptureTool struct {
	cameraTool
	limiter *RateLimiter
}

var _ domain.Tool = (*CaptureTool)(nil)

// NewCaptureTool creates the capture tool. A nil limiter disables the
// per-minute shutter cap.
func NewCaptureTool(camera domain.CameraClient, limiter *RateLimiter, logger *slog.Logger) *CaptureTool {
	return &CaptureTool{
		cameraTool: cameraTool{
			name: "capture",
			description: "Take a still photo with autofocus. Returns the id of the new image, " +
				"which can be passed to download_image. Never retried automatically.",
			params: noParams,
			camera: camera,
			logger: logger,
		},
		limiter: limiter,
	}
}

func (t *CaptureTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return t.run(ctx, params, func(ctx context.Context) (any, error) {
		if !t.limiter.Allow() {
			return nil, fmt.Errorf("%w: too many captures, retry in %s",
				domain.ErrRateLimit, t.limiter.RetryAfter().Round(time.Second))
		}
		return t.camera.Capture(ctx)
	})
}

// SetZoomTool drives the lens zoom.
type SetZoomTool struct{ cameraTool }

var _ domain.Tool = (*SetZoomTool)(nil)

// NewSetZoomTool creates the set_zoom tool.
func NewSetZoomTool(camera domain.CameraClient, logger *slog.Logger) *SetZoomTool {
	return &SetZoomTool{cameraTool{
		name: "set_zoom",
		description: "Set the lens zoom position. The valid range is reported by connect_camera " +
			"(zoom_range); values outside it are rejected without moving the lens.",
		params: json.RawMessage(`{
			"type": "object",
			"properties": {
				"level": {
					"type": "integer",
					"description": "Zoom position within the camera's zoom range"
				}
			},
			"required": ["level"],
			"additionalProperties": false
		}`),
		camera: camera,
		logger: logger,
	}}
}

type setZoomParams struct {
	Level *int `json:"level"`
}

func (t *SetZoomTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.spanName(), t.logger, params,
		func(ctx context.Context, span trace.Span, p setZoomParams) (any, error) {
			t.annotate(span)
			if p.Level == nil {
				return nil, fmt.Errorf("%w: 'level' is required", domain.ErrInvalidInput)
			}
			span.SetAttributes(tracer.IntAttr("camera.zoom", *p.Level))
			return t.camera.SetZoom(ctx, *p.Level)
		})
}

// SetFocusTool nudges the focus ring.
type SetFocusTool struct{ cameraTool }

var _ domain.Tool = (*SetFocusTool)(nil)

// NewSetFocusTool creates the set_focus tool.
func NewSetFocusTool(camera domain.CameraClient, logger *slog.Logger) *SetFocusTool {
	return &SetFocusTool{cameraTool{
		name: "set_focus",
		description: "Move the focus relative to its current position. Position is -3 to 3: " +
			"negative moves toward near, positive toward far, larger magnitude is a bigger step, 0 does nothing.",
		params: json.RawMessage(`{
			"type": "object",
			"properties": {
				"position": {
					"type": "integer",
					"description": "Focus step from -3 (near) to 3 (far)"
				}
			},
			"required": ["position"],
			"additionalProperties": false
		}`),
		camera: camera,
		logger: logger,
	}}
}

type setFocusParams struct {
	Position *int `json:"position"`
}

func (t *SetFocusTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.spanName(), t.logger, params,
		func(ctx context.Context, span trace.Span, p setFocusParams) (any, error) {
			t.annotate(span)
			if p.Position == nil {
				return nil, fmt.Errorf("%w: 'position' is required", domain.ErrInvalidInput)
			}
			if err := ValidateRange("position", *p.Position, -3, 3); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("camera.focus", *p.Position))
			return t.camera.SetFocus(ctx, *p.Position)
		})
}

// LiveViewTool returns the current live view frame.
type LiveViewTool struct{ cameraTool }

var _ domain.Tool = (*LiveViewTool)(nil)

// NewLiveViewTool creates the get_liveview tool.
func NewLiveViewTool(camera domain.CameraClient, logger *slog.Logger) *LiveViewTool {
	return &LiveViewTool{cameraTool{
		name: "get_liveview",
		description: "Get the current live view image from the camera. " +
			"Use this to check framing or whether new settings had the intended effect.",
		params: noParams,
		camera: camera,
		logger: logger,
	}}
}

func (t *LiveViewTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return t.run(ctx, params, func(ctx context.Context) (any, error) {
		frame, err := t.camera.LiveView(ctx)
		if err != nil {
			return nil, err
		}
		return MediaResult(frame.ContentType, frame.Data, frame)
	})
}

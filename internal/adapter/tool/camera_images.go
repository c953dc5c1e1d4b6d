package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"canon-mcp/internal/adapter/ccapi"
	"canon-mcp/internal/domain"
	"canon-mcp/internal/infra/tracer"
)

const maxImageIDLength = 512

// ListImagesTool lists files stored on the camera's cards.
type ListImagesTool struct {
	cameraTool
	max int
}

var _ domain.Tool = (*ListImagesTool)(nil)

// NewListImagesTool creates the list_images tool. Results are capped at max.
func NewListImagesTool(camera domain.CameraClient, max int, logger *slog.Logger) *ListImagesTool {
	return &ListImagesTool{
		cameraTool: cameraTool{
			name: "list_images",
			description: "List images stored on the camera's memory cards, oldest first. " +
				"Each entry has an id usable with download_image. The list is truncated at the limit.",
			params: json.RawMessage(`{
				"type": "object",
				"properties": {
					"limit": {
						"type": "integer",
						"minimum": 1,
						"description": "Maximum number of entries to return"
					}
				},
				"additionalProperties": false
			}`),
			camera: camera,
			logger: logger,
		},
		max: max,
	}
}

type listImagesParams struct {
	Limit int `json:"limit,omitempty"`
}

func (t *ListImagesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.spanName(), t.logger, params,
		func(ctx context.Context, span trace.Span, p listImagesParams) (any, error) {
			t.annotate(span)
			limit := p.Limit
			if limit <= 0 || limit > t.max {
				limit = t.max
			}
			list, err := ccapi.CollectImages(t.camera.ListImages(ctx), limit)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(
				tracer.IntAttr("camera.images", list.Count),
				tracer.BoolAttr("camera.truncated", list.Truncated),
			)
			return list, nil
		})
}

// DownloadImageTool fetches one stored image.
type DownloadImageTool struct{ cameraTool }

var _ domain.Tool = (*DownloadImageTool)(nil)

// NewDownloadImageTool creates the download_image tool.
func NewDownloadImageTool(camera domain.CameraClient, logger *slog.Logger) *DownloadImageTool {
	return &DownloadImageTool{cameraTool{
		name: "download_image",
		description: "Download an image from the camera by the id returned from list_images or capture. " +
			"By default the image is compressed to a size suitable for viewing; RAW files are " +
			"returned as the camera's JPEG rendition when compressed.",
		params: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {
					"type": "string",
					"minLength": 1,
					"description": "Image id, e.g. sd/100CANON/IMG_0001.JPG"
				},
				"compress": {
					"type": "boolean",
					"description": "Shrink the image before returning it (default true)"
				}
			},
			"required": ["id"],
			"additionalProperties": false
		}`),
		camera: camera,
		logger: logger,
	}}
}

type downloadImageParams struct {
	ID       string `json:"id"`
	Compress *bool  `json:"compress,omitempty"`
}

func (t *DownloadImageTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.spanName(), t.logger, params,
		func(ctx context.Context, span trace.Span, p downloadImageParams) (any, error) {
			t.annotate(span)
			id := strings.TrimSpace(p.ID)
			if err := ValidateAll(
				RequireField("id", id),
				ValidateMaxLength("id", id, maxImageIDLength),
			); err != nil {
				return nil, err
			}
			compress := p.Compress == nil || *p.Compress
			span.SetAttributes(
				tracer.StringAttr("camera.image", id),
				tracer.BoolAttr("camera.compress", compress),
			)

			img, err := t.camera.DownloadImage(ctx, id, compress)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("camera.bytes", img.Size))
			return MediaResult(img.ContentType, img.Data, img)
		})
}

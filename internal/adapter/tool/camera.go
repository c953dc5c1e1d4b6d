package tool

import (
	"log/slog"
	"time"

	"canon-mcp/internal/domain"
)

// CameraToolsConfig holds the tool-layer guards.
type CameraToolsConfig struct {
	MaxListImages        int // upper bound on list_images results
	MaxCapturesPerMinute int // sliding-window shutter limit, <0 disables
}

// NewCameraTools builds one tool per camera operation, all sharing camera.
func NewCameraTools(camera domain.CameraClient, cfg CameraToolsConfig, logger *slog.Logger) []domain.Tool {
	if cfg.MaxListImages <= 0 {
		cfg.MaxListImages = defaultMaxListImages
	}
	if cfg.MaxCapturesPerMinute == 0 {
		cfg.MaxCapturesPerMinute = defaultMaxCapturesPerMinute
	}
	return []domain.Tool{
		NewConnectTool(camera, logger),
		NewCaptureTool(camera, NewRateLimiter(cfg.MaxCapturesPerMinute, time.Minute), logger),
		NewSetZoomTool(camera, logger),
		NewSetFocusTool(camera, logger),
		NewLiveViewTool(camera, logger),
		NewListImagesTool(camera, cfg.MaxListImages, logger),
		NewDownloadImageTool(camera, logger),
		NewGetSettingsTool(camera, logger),
		NewGetSettingTool(camera, logger),
		NewSetSettingTool(camera, logger),
	}
}

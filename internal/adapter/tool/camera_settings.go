package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"canon-mcp/internal/domain"
	"canon-mcp/internal/infra/tracer"
)

const maxSettingValueLength = 64

const settingKeySchema = `{
	"type": "string",
	"pattern": "^[a-z0-9_]+$",
	"description": "CCAPI setting name, e.g. av, tv, iso, wb, shootingmodedial"
}`

// GetSettingsTool reads the shooting settings.
type GetSettingsTool struct{ cameraTool }

var _ domain.Tool = (*GetSettingsTool)(nil)

// NewGetSettingsTool creates the get_camera_settings tool.
func NewGetSettingsTool(camera domain.CameraClient, logger *slog.Logger) *GetSettingsTool {
	return &GetSettingsTool{cameraTool{
		name: "get_camera_settings",
		description: "Get the camera's shooting settings with their current values and allowed values. " +
			"Pass keys to return only some of them.",
		params: json.RawMessage(`{
			"type": "object",
			"properties": {
				"keys": {
					"type": "array",
					"items": ` + settingKeySchema + `,
					"description": "Only return these settings"
				}
			},
			"additionalProperties": false
		}`),
		camera: camera,
		logger: logger,
	}}
}

type getSettingsParams struct {
	Keys []string `json:"keys,omitempty"`
}

func (t *GetSettingsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.spanName(), t.logger, params,
		func(ctx context.Context, span trace.Span, p getSettingsParams) (any, error) {
			t.annotate(span)
			all, err := t.camera.GetSettings(ctx)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("camera.settings", len(all)))
			if len(p.Keys) == 0 {
				return all, nil
			}

			picked := make(domain.Settings, len(p.Keys))
			var missing []string
			for _, k := range p.Keys {
				s, ok := all[k]
				if !ok {
					missing = append(missing, k)
					continue
				}
				picked[k] = s
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				return nil, domain.NewCameraError(domain.OpGetSettings, domain.ErrNotFound,
					"unknown setting "+joinComma(missing))
			}
			return picked, nil
		})
}

// GetSettingTool reads one shooting setting.
type GetSettingTool struct{ cameraTool }

var _ domain.Tool = (*GetSettingTool)(nil)

// NewGetSettingTool creates the get_camera_setting tool.
func NewGetSettingTool(camera domain.CameraClient, logger *slog.Logger) *GetSettingTool {
	return &GetSettingTool{cameraTool{
		name:        "get_camera_setting",
		description: "Get one shooting setting, its current value and the values the camera accepts for it.",
		params: json.RawMessage(`{
			"type": "object",
			"properties": {
				"setting": ` + settingKeySchema + `
			},
			"required": ["setting"],
			"additionalProperties": false
		}`),
		camera: camera,
		logger: logger,
	}}
}

type getSettingParams struct {
	Setting string `json:"setting"`
}

func (t *GetSettingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.spanName(), t.logger, params,
		func(ctx context.Context, span trace.Span, p getSettingParams) (any, error) {
			t.annotate(span)
			if err := RequireField("setting", p.Setting); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("camera.setting", p.Setting))
			return t.camera.GetSetting(ctx, p.Setting)
		})
}

// SetSettingTool changes one shooting setting.
type SetSettingTool struct{ cameraTool }

var _ domain.Tool = (*SetSettingTool)(nil)

// NewSetSettingTool creates the set_camera_setting tool.
func NewSetSettingTool(camera domain.CameraClient, logger *slog.Logger) *SetSettingTool {
	return &SetSettingTool{cameraTool{
		name: "set_camera_setting",
		description: "Change a shooting setting such as aperture (av), shutter speed (tv) or ISO (iso). " +
			"The value must be one the camera lists for that setting; use get_camera_setting to see them.",
		params: json.RawMessage(`{
			"type": "object",
			"properties": {
				"setting": ` + settingKeySchema + `,
				"value": {
					"type": ["string", "number"],
					"description": "New value, e.g. f5.6, 1/250, 400"
				}
			},
			"required": ["setting", "value"],
			"additionalProperties": false
		}`),
		camera: camera,
		logger: logger,
	}}
}

type setSettingParams struct {
	Setting string          `json:"setting"`
	Value   json.RawMessage `json:"value"`
}

func (t *SetSettingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.spanName(), t.logger, params,
		func(ctx context.Context, span trace.Span, p setSettingParams) (any, error) {
			t.annotate(span)
			value, err := settingArg(p.Value)
			if err != nil {
				return nil, err
			}
			if err := ValidateAll(
				RequireField("setting", p.Setting),
				RequireField("value", value),
				ValidateMaxLength("value", value, maxSettingValueLength),
			); err != nil {
				return nil, err
			}
			span.SetAttributes(
				tracer.StringAttr("camera.setting", p.Setting),
				tracer.StringAttr("camera.value", value),
			)
			return t.camera.SetSetting(ctx, p.Setting, value)
		})
}

// settingArg accepts a JSON string or number and returns it as text.
func settingArg(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: 'value' must be a string or number", domain.ErrInvalidInput)
}

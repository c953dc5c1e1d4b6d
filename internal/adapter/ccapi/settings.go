package ccapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"canon-mcp/internal/domain"
)

var settingKeyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// rawSetting is one entry of the shooting settings document. The ability
// is either a list of allowed values or a {min,max,step} range.
type rawSetting struct {
	Value   any             `json:"value"`
	Ability json.RawMessage `json:"ability"`
}

func (rs rawSetting) toSetting(key string) domain.Setting {
	s := domain.Setting{Key: key, Value: rs.Value}
	if len(rs.Ability) == 0 || string(rs.Ability) == "null" {
		return s
	}
	var list []any
	if json.Unmarshal(rs.Ability, &list) == nil {
		s.Ability = make([]string, 0, len(list))
		for _, v := range list {
			s.Ability = append(s.Ability, fmt.Sprint(v))
		}
		return s
	}
	var r domain.Range
	if json.Unmarshal(rs.Ability, &r) == nil && r.Max > r.Min {
		s.Range = &r
	}
	return s
}

// GetSettings reads every shooting setting.
func (c *Client) GetSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := c.access(ctx, domain.OpGetSettings, func(ctx context.Context) error {
		resp, err := c.do(ctx, c.opts.Timeouts.Settings, request{
			op:     domain.OpGetSettings,
			method: http.MethodGet,
			path:   c.path(requiredVersion, "shooting", "settings"),
		})
		if err != nil {
			return err
		}
		var doc map[string]json.RawMessage
		if err := decode(domain.OpGetSettings, resp, &doc); err != nil {
			return err
		}
		settings = make(domain.Settings, len(doc))
		for key, raw := range doc {
			var rs rawSetting
			if json.Unmarshal(raw, &rs) != nil {
				continue
			}
			settings[key] = rs.toSetting(key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// GetSetting reads one shooting setting.
func (c *Client) GetSetting(ctx context.Context, key string) (*domain.Setting, error) {
	if err := validateSettingKey(domain.OpGetSetting, key); err != nil {
		return nil, err
	}
	var s *domain.Setting
	err := c.access(ctx, domain.OpGetSetting, func(ctx context.Context) error {
		var err error
		s, err = c.getSetting(ctx, domain.OpGetSetting, key)
		return err
	})
	return s, err
}

func (c *Client) getSetting(ctx context.Context, op domain.Operation, key string) (*domain.Setting, error) {
	resp, err := c.do(ctx, c.opts.Timeouts.Settings, request{
		op:     op,
		method: http.MethodGet,
		path:   c.path(requiredVersion, "shooting", "settings", key),
		on404:  domain.ErrNotFound,
	})
	if err != nil {
		return nil, err
	}
	var rs rawSetting
	if err := decode(op, resp, &rs); err != nil {
		return nil, err
	}
	s := rs.toSetting(key)
	return &s, nil
}

// SetSetting writes value to key. The current setting is read first and a
// value the camera does not offer is rejected without sending the write.
func (c *Client) SetSetting(ctx context.Context, key, value string) (*domain.SettingChange, error) {
	if err := validateSettingKey(domain.OpSetSetting, key); err != nil {
		return nil, err
	}
	if strings.TrimSpace(value) == "" {
		return nil, &domain.CameraError{Op: domain.OpSetSetting, Kind: domain.ErrInvalidParameter, Detail: "value must not be empty"}
	}

	var change *domain.SettingChange
	err := c.access(ctx, domain.OpSetSetting, func(ctx context.Context) error {
		current, err := c.getSetting(ctx, domain.OpSetSetting, key)
		if err != nil {
			return err
		}
		body, err := settingValue(current, value)
		if err != nil {
			return err
		}
		if _, err := c.do(ctx, c.opts.Timeouts.Settings, request{
			op:     domain.OpSetSetting,
			method: http.MethodPut,
			path:   c.path(requiredVersion, "shooting", "settings", key),
			body:   map[string]any{"value": body},
			on400:  domain.ErrRejected,
			on404:  domain.ErrNotFound,
		}); err != nil {
			return err
		}
		change = &domain.SettingChange{
			Key:           key,
			PreviousValue: current.Value,
			NewValue:      value,
			Success:       true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("setting changed", "setting", key, "from", change.PreviousValue, "to", value)
	return change, nil
}

// settingValue checks value against what the camera reported and returns
// the JSON value to send.
func settingValue(s *domain.Setting, value string) (any, error) {
	switch {
	case len(s.Ability) > 0:
		if !slices.Contains(s.Ability, value) {
			return nil, &domain.CameraError{
				Op:     domain.OpSetSetting,
				Kind:   domain.ErrRejected,
				Detail: fmt.Sprintf("invalid value %q for %s, available options: %s", value, s.Key, strings.Join(s.Ability, ", ")),
			}
		}
		return value, nil
	case s.Range != nil:
		n, err := strconv.Atoi(value)
		if err != nil || !s.Range.Contains(n) {
			return nil, &domain.CameraError{
				Op:     domain.OpSetSetting,
				Kind:   domain.ErrRejected,
				Detail: fmt.Sprintf("invalid value %q for %s, want integer in %s", value, s.Key, s.Range),
			}
		}
		return n, nil
	}
	return value, nil
}

func validateSettingKey(op domain.Operation, key string) error {
	if !settingKeyPattern.MatchString(key) {
		return &domain.CameraError{Op: op, Kind: domain.ErrInvalidParameter, Detail: fmt.Sprintf("invalid setting name %q", key)}
	}
	return nil
}

package ccapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"canon-mcp/internal/domain"
)

// requiredVersion is the CCAPI version every operation here depends on.
const requiredVersion = "ver100"

var focusRange = domain.Range{Min: -3, Max: 3, Step: 1}

type deviceInformation struct {
	Manufacturer    string `json:"manufacturer"`
	ProductName     string `json:"productname"`
	SerialNumber    string `json:"serialnumber"`
	FirmwareVersion string `json:"firmwareversion"`
}

type zoomControl struct {
	Value   int           `json:"value"`
	Ability *domain.Range `json:"ability"`
}

// Connect verifies the camera speaks a supported CCAPI version and reads
// its identity. The whole exchange is bounded by the connect timeout.
func (c *Client) Connect(ctx context.Context) (*domain.DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeouts.Connect)
	defer cancel()

	var (
		info   *domain.DeviceInfo
		noZoom bool
	)
	err := c.access(ctx, domain.OpConnect, func(ctx context.Context) error {
		versions, err := c.apiVersions(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(versions, requiredVersion) {
			return &domain.CameraError{
				Op:     domain.OpConnect,
				Kind:   domain.ErrProtocolMismatch,
				Detail: fmt.Sprintf("camera offers %s, need %s", strings.Join(versions, ","), requiredVersion),
			}
		}

		resp, err := c.exec(ctx, request{
			op:     domain.OpConnect,
			method: http.MethodGet,
			path:   c.path(requiredVersion, "deviceinformation"),
			on404:  domain.ErrProtocolMismatch,
		})
		if err != nil {
			return err
		}
		var di deviceInformation
		if err := decode(domain.OpConnect, resp, &di); err != nil {
			return err
		}

		zoom, absent := c.probeZoom(ctx)
		noZoom = absent
		info = &domain.DeviceInfo{
			Manufacturer:    di.Manufacturer,
			ProductName:     di.ProductName,
			SerialNumber:    di.SerialNumber,
			FirmwareVersion: di.FirmwareVersion,
			APIVersions:     versions,
			ZoomRange:       zoom,
			FocusRange:      focusRange,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.device = info
	c.noZoom = noZoom
	c.mu.Unlock()

	c.logger.Info("camera connected",
		"product", info.ProductName,
		"firmware", info.FirmwareVersion,
		"versions", info.APIVersions,
	)
	return info, nil
}

// apiVersions lists the version keys of the CCAPI root document.
func (c *Client) apiVersions(ctx context.Context) ([]string, error) {
	resp, err := c.exec(ctx, request{
		op:     domain.OpConnect,
		method: http.MethodGet,
		path:   c.ep.BasePath,
		on404:  domain.ErrProtocolMismatch,
	})
	if err != nil {
		return nil, err
	}
	var root map[string]json.RawMessage
	if err := decode(domain.OpConnect, resp, &root); err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(root))
	for k := range root {
		if strings.HasPrefix(k, "ver") {
			versions = append(versions, k)
		}
	}
	slices.Sort(versions)
	return versions, nil
}

// probeZoom asks for the zoom ability. absent is set when the camera
// answered that there is no power zoom; any other failure leaves the range
// unknown so the configured fallback still applies.
func (c *Client) probeZoom(ctx context.Context) (rng *domain.Range, absent bool) {
	resp, err := c.exec(ctx, request{
		op:     domain.OpConnect,
		method: http.MethodGet,
		path:   c.path(requiredVersion, "shooting", "control", "zoom"),
		on404:  domain.ErrNotFound,
	})
	if err != nil {
		c.logger.Debug("zoom not available", "error", err)
		return nil, errors.Is(err, domain.ErrNotFound)
	}
	var zc zoomControl
	if err := decode(domain.OpConnect, resp, &zc); err != nil {
		return nil, false
	}
	if zc.Ability == nil || zc.Ability.Max <= zc.Ability.Min {
		return nil, true
	}
	return zc.Ability, false
}

// zoomRange returns the range learned at Connect, or the configured fallback.
// ok is false once Connect has found the lens has no power zoom.
func (c *Client) zoomRange() (rng domain.Range, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.noZoom {
		return domain.Range{}, false
	}
	if c.device != nil && c.device.ZoomRange != nil {
		return *c.device.ZoomRange, true
	}
	return c.opts.ZoomFallback, true
}

package ccapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"canon-mcp/internal/adapter/imaging"
	"canon-mcp/internal/domain"
)

type eventPoll struct {
	AddedContents []string `json:"addedcontents"`
}

// Capture presses the shutter with autofocus. The shutter request is sent
// exactly once; a failure is reported, never retried. Files already queued
// in the event stream are drained first so the reported asset is the one
// this shot produced.
func (c *Client) Capture(ctx context.Context) (*domain.StatusResult, error) {
	var res *domain.StatusResult
	err := c.access(ctx, domain.OpCapture, func(ctx context.Context) error {
		stale, drained := c.pollEvents(ctx)
		if len(stale) > 0 {
			c.logger.Debug("discarded queued content before capture", "contents", stale)
		}

		_, err := c.do(ctx, c.opts.Timeouts.Capture, request{
			op:     domain.OpCapture,
			method: http.MethodPost,
			path:   c.path(requiredVersion, "shooting", "control", "shutterbutton"),
			body:   map[string]bool{"af": true},
		})
		if err != nil {
			return err
		}
		res = &domain.StatusResult{Operation: domain.OpCapture, Status: "captured"}
		if !drained {
			// Without a clean queue any reported file may predate the shot.
			return nil
		}
		res.AssetID = c.pollAddedContent(ctx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("capture complete", "asset", res.AssetID)
	return res, nil
}

// pollAddedContent reads the event queue until the camera reports a new
// file. It is best effort: the capture already succeeded.
func (c *Client) pollAddedContent(ctx context.Context) string {
	for attempt := range c.opts.EventPolls {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ""
			case <-time.After(c.opts.EventPollDelay):
			}
		}
		added, ok := c.pollEvents(ctx)
		if !ok {
			return ""
		}
		if len(added) > 0 {
			return contentID(added[len(added)-1])
		}
	}
	return ""
}

// pollEvents makes one non-blocking event poll and returns the content
// paths added since the previous poll. ok is false when the poll failed.
func (c *Client) pollEvents(ctx context.Context) (added []string, ok bool) {
	resp, err := c.do(ctx, c.opts.Timeouts.Settings, request{
		op:     domain.OpCapture,
		method: http.MethodGet,
		path:   c.path(requiredVersion, "event", "polling"),
		query:  url.Values{"continue": {"off"}},
	})
	if err != nil {
		c.logger.Debug("event polling failed", "error", err)
		return nil, false
	}
	var ev eventPoll
	if err := decode(domain.OpCapture, resp, &ev); err != nil {
		c.logger.Debug("event polling undecodable", "error", err)
		return nil, false
	}
	return ev.AddedContents, true
}

// SetZoom drives the power zoom to level. Levels outside the known range
// are refused without contacting the camera.
func (c *Client) SetZoom(ctx context.Context, level int) (*domain.StatusResult, error) {
	rng, ok := c.zoomRange()
	if !ok {
		return nil, &domain.CameraError{
			Op:     domain.OpSetZoom,
			Kind:   domain.ErrInvalidParameter,
			Detail: "lens has no power zoom",
		}
	}
	if !rng.Contains(level) {
		return nil, &domain.CameraError{
			Op:     domain.OpSetZoom,
			Kind:   domain.ErrInvalidParameter,
			Detail: fmt.Sprintf("zoom %d outside range %s", level, rng),
		}
	}

	err := c.access(ctx, domain.OpSetZoom, func(ctx context.Context) error {
		_, err := c.do(ctx, c.opts.Timeouts.Settings, request{
			op:     domain.OpSetZoom,
			method: http.MethodPost,
			path:   c.path(requiredVersion, "shooting", "control", "zoom"),
			body:   map[string]int{"value": level},
			on400:  domain.ErrInvalidParameter,
			on404:  domain.ErrDeviceError,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.StatusResult{
		Operation: domain.OpSetZoom,
		Status:    "ok",
		Details:   map[string]any{"zoom": level, "range": rng.String()},
	}, nil
}

// SetFocus drives focus by a relative step: negative towards near,
// positive towards far, magnitude 1-3. Zero does nothing.
func (c *Client) SetFocus(ctx context.Context, position int) (*domain.StatusResult, error) {
	if !focusRange.Contains(position) {
		return nil, &domain.CameraError{
			Op:     domain.OpSetFocus,
			Kind:   domain.ErrInvalidParameter,
			Detail: fmt.Sprintf("focus step %d outside range %s", position, focusRange),
		}
	}
	if position == 0 {
		return &domain.StatusResult{
			Operation: domain.OpSetFocus,
			Status:    "unchanged",
			Details:   map[string]any{"position": 0},
		}, nil
	}

	action := focusAction(position)
	err := c.access(ctx, domain.OpSetFocus, func(ctx context.Context) error {
		_, err := c.do(ctx, c.opts.Timeouts.Settings, request{
			op:     domain.OpSetFocus,
			method: http.MethodPost,
			path:   c.path(requiredVersion, "shooting", "control", "drivefocus"),
			body:   map[string]string{"value": action},
			on400:  domain.ErrInvalidParameter,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.StatusResult{
		Operation: domain.OpSetFocus,
		Status:    "ok",
		Details:   map[string]any{"position": position, "action": action},
	}, nil
}

func focusAction(position int) string {
	if position < 0 {
		return fmt.Sprintf("near%d", -position)
	}
	return fmt.Sprintf("far%d", position)
}

// LiveView returns one live view frame, starting live view on first use.
func (c *Client) LiveView(ctx context.Context) (*domain.ImagePayload, error) {
	if err := c.startLiveView(ctx); err != nil {
		return nil, err
	}

	var (
		data  []byte
		ctype string
	)
	err := c.access(ctx, domain.OpLiveView, func(ctx context.Context) error {
		resp, err := c.do(ctx, c.opts.Timeouts.Download, request{
			op:     domain.OpLiveView,
			method: http.MethodGet,
			path:   c.path(requiredVersion, "shooting", "liveview", "flip"),
		})
		if err != nil {
			return err
		}
		data = resp.Body()
		ctype = resp.Header().Get("Content-Type")
		return nil
	})
	if err != nil {
		// The camera drops live view on mode changes; start it again next time.
		if errors.Is(err, domain.ErrDeviceError) {
			c.liveView.Store(false)
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, &domain.CameraError{Op: domain.OpLiveView, Kind: domain.ErrDeviceError, Detail: "empty live view frame"}
	}

	payload := &domain.ImagePayload{
		ContentType:  ctype,
		Data:         data,
		OriginalSize: len(data),
		Size:         len(data),
	}
	if err := c.shrink(domain.OpLiveView, payload, c.opts.LiveViewTarget); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) startLiveView(ctx context.Context) error {
	if c.liveView.Load() {
		return nil
	}
	return c.access(ctx, domain.OpStartLiveView, func(ctx context.Context) error {
		if c.liveView.Load() {
			return nil
		}
		_, err := c.do(ctx, c.opts.Timeouts.Settings, request{
			op:     domain.OpStartLiveView,
			method: http.MethodPost,
			path:   c.path(requiredVersion, "shooting", "liveview"),
			body:   map[string]string{"liveviewsize": "small", "cameradisplay": "keep"},
		})
		if err != nil {
			return err
		}
		c.liveView.Store(true)
		c.logger.Info("live view started")
		return nil
	})
}

// shrink compresses payload in place to fit target. A zero target only
// fills in the image dimensions.
func (c *Client) shrink(op domain.Operation, p *domain.ImagePayload, target int) error {
	if target <= 0 {
		p.Width, p.Height = imaging.Dimensions(p.Data)
		return nil
	}
	res, err := imaging.Compress(p.Data, imaging.Options{TargetBytes: target})
	if err != nil {
		return &domain.CameraError{Op: op, Kind: domain.ErrDeviceError, Detail: err.Error()}
	}
	p.Data = res.Data
	p.Size = len(res.Data)
	p.Compressed = res.Compressed
	p.Width, p.Height = res.Width, res.Height
	if res.Compressed {
		p.ContentType = res.ContentType
	}
	return nil
}

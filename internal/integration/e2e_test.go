package integration

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"canon-mcp/internal/adapter/ccapi/ccapitest"
	"canon-mcp/internal/adapter/mcpserver"
	"canon-mcp/internal/domain"
)

func hasImage(res *mcp.CallToolResult) bool {
	for _, c := range res.Content {
		switch c.(type) {
		case mcp.ImageContent, *mcp.ImageContent:
			return true
		}
	}
	return false
}

func TestE2E_FakeCameraSession(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	ctx := NewTestContext(t, cfg.TestTimeout)

	cam := ccapitest.New()
	defer cam.Close()
	s := StartStack(t, cam.Host(), cam.Port())

	var conn struct {
		Connected bool               `json:"connected"`
		Device    *domain.DeviceInfo `json:"device"`
	}
	MustOK(t, s.Call(t, ctx, "connect_camera", nil), &conn)
	if !conn.Connected || conn.Device == nil || conn.Device.ProductName != "Canon EOS R5" {
		t.Fatalf("unexpected connect result %+v", conn)
	}

	var shot domain.StatusResult
	MustOK(t, s.Call(t, ctx, "capture", nil), &shot)
	if shot.AssetID == "" {
		t.Fatal("capture returned no asset id")
	}

	var list domain.ImageList
	MustOK(t, s.Call(t, ctx, "list_images", map[string]any{"limit": 10}), &list)
	found := false
	for _, img := range list.Images {
		if img.ID == shot.AssetID {
			found = true
		}
	}
	if !found {
		t.Fatalf("captured asset %s not in listing %+v", shot.AssetID, list.Images)
	}

	res := s.Call(t, ctx, "download_image", map[string]any{"id": "sd/100CANON/IMG_0001.JPG"})
	MustOK(t, res, nil)
	if !hasImage(res) {
		t.Error("download_image returned no image content")
	}

	MustOK(t, s.Call(t, ctx, "set_zoom", map[string]any{"level": 25}), nil)
	if cam.ZoomValue() != 25 {
		t.Errorf("zoom = %d, want 25", cam.ZoomValue())
	}

	var change domain.SettingChange
	MustOK(t, s.Call(t, ctx, "set_camera_setting", map[string]any{"setting": "av", "value": "f8.0"}), &change)
	if change.PreviousValue != "f5.6" || cam.Setting("av") != "f8.0" {
		t.Errorf("unexpected change %+v, camera av=%v", change, cam.Setting("av"))
	}

	lv := s.Call(t, ctx, "get_liveview", nil)
	MustOK(t, lv, nil)
	if !hasImage(lv) {
		t.Error("get_liveview returned no image content")
	}
}

func TestE2E_FakeCameraFailures(t *testing.T) {
	SkipIfShort(t)
	ctx := NewTestContext(t, LoadConfig().TestTimeout)

	cam := ccapitest.New()
	defer cam.Close()
	s := StartStack(t, cam.Host(), cam.Port())

	var body struct {
		Success   bool   `json:"success"`
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}

	cam.SetBusy(true)
	res := s.Call(t, ctx, "capture", nil)
	if !res.IsError {
		t.Fatal("expected busy error")
	}
	if err := json.Unmarshal([]byte(mcpserver.TextContent(res)), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != string(domain.CodeDeviceBusy) || !body.Retryable {
		t.Errorf("busy body = %+v", body)
	}
	cam.SetBusy(false)

	res = s.Call(t, ctx, "set_camera_setting", map[string]any{"setting": "av", "value": "f99"})
	if !res.IsError {
		t.Fatal("expected rejected setting error")
	}
	if err := json.Unmarshal([]byte(mcpserver.TextContent(res)), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != string(domain.CodeRejected) || body.Retryable {
		t.Errorf("rejected setting body = %+v", body)
	}
	if cam.Setting("av") != "f5.6" {
		t.Errorf("setting changed after rejection: %v", cam.Setting("av"))
	}
}

// TestE2E_RealCamera exercises read-only tools against real hardware, plus
// a capture when CANONMCP_IT_ALLOW_WRITES=1.
func TestE2E_RealCamera(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoCamera(t, cfg)
	ctx := NewTestContext(t, cfg.TestTimeout)

	s := StartStack(t, cfg.CameraIP, cfg.CameraPort)

	var conn struct {
		Connected bool `json:"connected"`
	}
	MustOK(t, s.Call(t, ctx, "connect_camera", nil), &conn)
	if !conn.Connected {
		t.Fatal("camera not connected")
	}

	var settings map[string]domain.Setting
	MustOK(t, s.Call(t, ctx, "get_camera_settings", nil), &settings)
	if len(settings) == 0 {
		t.Error("camera reported no settings")
	}

	var list domain.ImageList
	MustOK(t, s.Call(t, ctx, "list_images", map[string]any{"limit": 5}), &list)
	t.Logf("camera lists %d images (truncated=%v)", list.Count, list.Truncated)

	if !cfg.AllowWrites {
		return
	}
	var shot domain.StatusResult
	MustOK(t, s.Call(t, ctx, "capture", nil), &shot)
	t.Logf("captured %s", shot.AssetID)
}

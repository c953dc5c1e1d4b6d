package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Camera.IP = "192.168.1.2"
	return cfg
}

func TestValidateDefaultsWithCameraPass(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("defaults with camera ip should pass validation: %v", err)
	}
}

func TestValidateCameraIPRequired(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "camera.ip is required")
}

func TestValidateCameraIPShape(t *testing.T) {
	cfg := validConfig()
	cfg.Camera.IP = "http://192.168.1.2/"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "must be a bare host")
}

func TestValidateCameraPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Camera.Port = 70000
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "camera.port 70000")
}

func TestValidateCameraTimeouts(t *testing.T) {
	cfg := validConfig()
	cfg.Camera.CaptureTimeout = 0
	cfg.Camera.DownloadTimeout = -time.Second
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "camera.capture_timeout must be > 0")
	assertContains(t, err.Error(), "camera.download_timeout must be > 0")
}

func TestValidateZoomRange(t *testing.T) {
	cfg := validConfig()
	cfg.Camera.ZoomMin = 50
	cfg.Camera.ZoomMax = 10
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "camera.zoom_min (50)")
}

func TestValidatePasswordNeedsUsername(t *testing.T) {
	cfg := validConfig()
	cfg.Camera.Password = "x"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "camera.username is required")
}

func TestValidateServerTransport(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Transport = "websocket"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `server.transport "websocket"`)
}

func TestValidateStdioSkipsHTTPChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Transport = "stdio"
	cfg.Server.Port = 0
	cfg.Server.EndpointPath = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("stdio should not validate http fields: %v", err)
	}
}

func TestValidateTrustedProxies(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "garbage"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `server.trusted_proxies[1] "garbage"`)
}

func TestValidateTools(t *testing.T) {
	cfg := validConfig()
	cfg.Tools.CompressTargetBytes = 10
	cfg.Tools.MaxListImages = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "tools.compress_target_bytes must be >= 1024")
	assertContains(t, err.Error(), "tools.max_list_images must be > 0")
}

func TestValidateLogger(t *testing.T) {
	cfg := validConfig()
	cfg.Logger.Level = "verbose"
	cfg.Logger.Format = "xml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `logger.level "verbose"`)
	assertContains(t, err.Error(), `logger.format "xml"`)
}

func TestValidateTracerExporter(t *testing.T) {
	cfg := validConfig()
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "jaeger"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `tracer.exporter "jaeger"`)
}

func TestValidationErrorAccumulates(t *testing.T) {
	cfg := Defaults()
	cfg.Camera.Port = 0
	cfg.Server.BurstSize = 0
	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) < 3 {
		t.Errorf("expected at least 3 errors, got %d: %v", len(ve.Errors), ve.Errors)
	}
	if !strings.HasPrefix(err.Error(), "config validation failed:") {
		t.Errorf("unexpected format: %q", err.Error())
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

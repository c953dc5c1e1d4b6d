package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateCamera(cfg, ve)
	validateServer(cfg, ve)
	validateTools(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateCamera(cfg *Config, ve *ValidationError) {
	c := cfg.Camera
	if c.IP == "" {
		ve.Add("camera.ip is required (set CANON_IP or --camera-ip)")
	} else if strings.ContainsAny(c.IP, "/ ") {
		ve.Add("camera.ip %q must be a bare host or IP address", c.IP)
	}
	if c.Port < 1 || c.Port > 65535 {
		ve.Add("camera.port %d must be between 1 and 65535", c.Port)
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		ve.Add("camera.scheme %q must be http or https", c.Scheme)
	}
	if !strings.HasPrefix(c.BasePath, "/") {
		ve.Add("camera.base_path %q must start with /", c.BasePath)
	}
	if c.Password != "" && c.Username == "" {
		ve.Add("camera.username is required when camera.password is set")
	}
	if strings.HasPrefix(c.Password, "enc:") {
		ve.Add("camera.password is encrypted but CANONMCP_CONFIG_KEY is not set")
	}
	if c.ConnectTimeout <= 0 {
		ve.Add("camera.connect_timeout must be > 0")
	}
	if c.SettingsTimeout <= 0 {
		ve.Add("camera.settings_timeout must be > 0")
	}
	if c.CaptureTimeout <= 0 {
		ve.Add("camera.capture_timeout must be > 0")
	}
	if c.DownloadTimeout <= 0 {
		ve.Add("camera.download_timeout must be > 0")
	}
	if c.MinDownloadRate <= 0 {
		ve.Add("camera.min_download_rate must be > 0")
	}
	if c.ReadRetryBackoff < 0 {
		ve.Add("camera.read_retry_backoff must be >= 0")
	}
	if c.ZoomMin > c.ZoomMax {
		ve.Add("camera.zoom_min (%d) must be <= camera.zoom_max (%d)", c.ZoomMin, c.ZoomMax)
	}
	if c.Breaker.MaxFailures == 0 {
		ve.Add("camera.breaker.max_failures must be > 0")
	}
	if c.Breaker.Timeout <= 0 {
		ve.Add("camera.breaker.timeout must be > 0")
	}
}

var validTransports = map[string]bool{
	"http":  true,
	"stdio": true,
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if !validTransports[s.Transport] {
		ve.Add("server.transport %q is not valid (want http or stdio)", s.Transport)
	}
	if s.Transport != "http" {
		return
	}
	if s.Port < 1 || s.Port > 65535 {
		ve.Add("server.port %d must be between 1 and 65535", s.Port)
	}
	if !strings.HasPrefix(s.EndpointPath, "/") {
		ve.Add("server.endpoint_path %q must start with /", s.EndpointPath)
	}
	if s.RequestsPerMin <= 0 {
		ve.Add("server.requests_per_min must be > 0")
	}
	if s.BurstSize <= 0 {
		ve.Add("server.burst_size must be > 0")
	}
	for i, cidr := range s.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			ve.Add("server.trusted_proxies[%d] %q is not a valid CIDR", i, cidr)
		}
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	t := cfg.Tools
	if t.CompressTargetBytes < 1024 {
		ve.Add("tools.compress_target_bytes must be >= 1024")
	}
	if t.LiveViewTargetBytes < 1024 {
		ve.Add("tools.liveview_target_bytes must be >= 1024")
	}
	if t.MaxListImages <= 0 {
		ve.Add("tools.max_list_images must be > 0")
	}
	if t.MaxCapturesPerMinute < 0 {
		ve.Add("tools.max_captures_per_minute must be >= 0")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
	validExporters  = map[string]bool{"noop": true, "stdout": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not valid", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is not valid", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is not valid", cfg.Tracer.Exporter)
	}
}

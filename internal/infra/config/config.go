package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"canon-mcp/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Camera CameraConfig `yaml:"camera"`
	Server ServerConfig `yaml:"server"`
	Tools  ToolsConfig  `yaml:"tools"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
}

// CameraConfig holds the camera address and per-call bounds.
type CameraConfig struct {
	IP       string `yaml:"ip"`
	Port     int    `yaml:"port"`
	Scheme   string `yaml:"scheme"`    // "http" or "https"
	BasePath string `yaml:"base_path"` // CCAPI root, default "/ccapi"
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"` // may be "enc:..."

	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	SettingsTimeout time.Duration `yaml:"settings_timeout"`
	CaptureTimeout  time.Duration `yaml:"capture_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"` // base, extended by payload size

	// MinDownloadRate is the slowest acceptable transfer rate in bytes/sec;
	// it stretches the download deadline for large files.
	MinDownloadRate int `yaml:"min_download_rate"`

	ReadRetryBackoff time.Duration `yaml:"read_retry_backoff"`

	// Zoom range used until Connect learns the camera's own.
	ZoomMin int `yaml:"zoom_min"`
	ZoomMax int `yaml:"zoom_max"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the camera circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Transport      string        `yaml:"transport"` // "http" or "stdio"
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	EndpointPath   string        `yaml:"endpoint_path"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	RequestsPerMin int           `yaml:"requests_per_min"`
	BurstSize      int           `yaml:"burst_size"`
	TrustedProxies []string      `yaml:"trusted_proxies,omitempty"`
}

// ToolsConfig holds tool-layer guards.
type ToolsConfig struct {
	CompressTargetBytes  int `yaml:"compress_target_bytes"`
	LiveViewTargetBytes  int `yaml:"liveview_target_bytes"`
	MaxListImages        int `yaml:"max_list_images"`
	MaxCapturesPerMinute int `yaml:"max_captures_per_minute"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults. The camera IP has no
// default and must come from the file, the environment or a flag.
func Defaults() *Config {
	return &Config{
		Camera: CameraConfig{
			Port:             8080,
			Scheme:           "http",
			BasePath:         "/ccapi",
			ConnectTimeout:   5 * time.Second,
			SettingsTimeout:  5 * time.Second,
			CaptureTimeout:   30 * time.Second,
			DownloadTimeout:  30 * time.Second,
			MinDownloadRate:  1024 * 1024, // 1 MiB/s
			ReadRetryBackoff: 250 * time.Millisecond,
			ZoomMin:          0,
			ZoomMax:          100,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     15 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Server: ServerConfig{
			Transport:      "http",
			Host:           "localhost",
			Port:           3001,
			EndpointPath:   "/mcp",
			ReadTimeout:    30 * time.Second,
			RequestsPerMin: 120,
			BurstSize:      20,
		},
		Tools: ToolsConfig{
			CompressTargetBytes:  1024 * 1024, // 1 MiB
			LiveViewTargetBytes:  1024 * 1024,
			MaxListImages:        200,
			MaxCapturesPerMinute: 30,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWith is Load with a final override hook applied before validation,
// used by the CLI to layer flags on top of file and environment.
func LoadWith(path string, override func(*Config)) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve config path: %v", domain.ErrConfigLoad, err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CANONMCP_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("%w: decrypt secrets: %v", domain.ErrConfigLoad, err)
		}
	}
	return cfg, nil
}

// ApplyEnvOverrides maps environment variables to config fields. CANON_IP,
// CANON_PORT, MCP_HOST and MCP_PORT keep their historical names; everything
// else uses the CANONMCP_ prefix.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CANON_IP"); v != "" {
		cfg.Camera.IP = v
	}
	if v := envInt("CANON_PORT"); v != 0 {
		cfg.Camera.Port = v
	}
	if v := os.Getenv("CANON_USERNAME"); v != "" {
		cfg.Camera.Username = v
	}
	if v := os.Getenv("CANON_PASSWORD"); v != "" {
		cfg.Camera.Password = v
	}
	if v := os.Getenv("MCP_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := envInt("MCP_PORT"); v != 0 {
		cfg.Server.Port = v
	}
	if v := os.Getenv("CANONMCP_TRANSPORT"); v != "" {
		cfg.Server.Transport = v
	}
	if v := envDuration("CANONMCP_CAPTURE_TIMEOUT"); v != 0 {
		cfg.Camera.CaptureTimeout = v
	}
	if v := envDuration("CANONMCP_SETTINGS_TIMEOUT"); v != 0 {
		cfg.Camera.SettingsTimeout = v
	}
	if v := envDuration("CANONMCP_DOWNLOAD_TIMEOUT"); v != 0 {
		cfg.Camera.DownloadTimeout = v
	}
	if v := envInt("CANONMCP_COMPRESS_TARGET_BYTES"); v != 0 {
		cfg.Tools.CompressTargetBytes = v
	}
	if v := os.Getenv("CANONMCP_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CANONMCP_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CANONMCP_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CANONMCP_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// Endpoint builds the immutable camera endpoint from the camera section.
func (c *Config) Endpoint() (domain.CameraEndpoint, error) {
	ep, err := domain.NewCameraEndpoint(c.Camera.IP, c.Camera.Port)
	if err != nil {
		return domain.CameraEndpoint{}, err
	}
	if c.Camera.Scheme != "" {
		ep.Scheme = c.Camera.Scheme
	}
	if c.Camera.BasePath != "" {
		ep.BasePath = strings.TrimRight(c.Camera.BasePath, "/")
	}
	ep.Username = c.Camera.Username
	ep.Password = c.Camera.Password
	return ep, nil
}

// Timeouts returns the per-call camera bounds.
func (c *Config) Timeouts() domain.CameraTimeouts {
	return domain.CameraTimeouts{
		Connect:  c.Camera.ConnectTimeout,
		Settings: c.Camera.SettingsTimeout,
		Capture:  c.Camera.CaptureTimeout,
		Download: c.Camera.DownloadTimeout,
	}
}

// ServerAddress returns the listen address of the HTTP transport.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

// decryptSecrets finds "enc:..." values in credentials and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"camera.username": &cfg.Camera.Username,
		"camera.password": &cfg.Camera.Password,
	}
	for name, fp := range secrets {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

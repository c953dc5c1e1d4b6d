package domain

import (
	"context"
	"fmt"
	"iter"
	"net"
	"strconv"
	"time"
)

// Operation enumerates the camera operations exposed by the bridge.
type Operation string

const (
	OpConnect       Operation = "connect"
	OpCapture       Operation = "capture"
	OpSetZoom       Operation = "set_zoom"
	OpSetFocus      Operation = "set_focus"
	OpListImages    Operation = "list_images"
	OpDownloadImage Operation = "download_image"
	OpGetSettings   Operation = "get_settings"
	OpGetSetting    Operation = "get_setting"
	OpSetSetting    Operation = "set_setting"
	OpLiveView      Operation = "liveview"
	OpStartLiveView Operation = "start_liveview"
)

// IsWrite reports whether the operation moves hardware or changes camera
// state. Writes are serialized and never retried; everything else is a
// read that may share access and is retried once when the camera is
// unreachable.
func (o Operation) IsWrite() bool {
	switch o {
	case OpCapture, OpSetZoom, OpSetFocus, OpSetSetting, OpStartLiveView:
		return true
	}
	return false
}

// CameraEndpoint is the network location of the camera. It is built once at
// startup and never mutated.
type CameraEndpoint struct {
	Scheme   string
	Host     string
	Port     int
	BasePath string // CCAPI root, usually "/ccapi"
	Username string
	Password string
}

// NewCameraEndpoint validates and builds an endpoint. Zero port and empty
// scheme/base path fall back to CCAPI defaults.
func NewCameraEndpoint(host string, port int) (CameraEndpoint, error) {
	if host == "" {
		return CameraEndpoint{}, fmt.Errorf("%w: camera host is required", ErrInvalidInput)
	}
	if port == 0 {
		port = 8080
	}
	if port < 1 || port > 65535 {
		return CameraEndpoint{}, fmt.Errorf("%w: camera port %d out of range", ErrInvalidInput, port)
	}
	return CameraEndpoint{Scheme: "http", Host: host, Port: port, BasePath: "/ccapi"}, nil
}

// BaseURL renders scheme://host:port.
func (e CameraEndpoint) BaseURL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint without credentials.
func (e CameraEndpoint) String() string {
	base := e.BasePath
	if base == "" {
		base = "/ccapi"
	}
	return e.BaseURL() + base
}

// Range is an inclusive numeric range reported by the camera.
type Range struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Step int `json:"step,omitempty"`
}

// Contains reports whether v lies in [Min, Max] and on a Step boundary.
func (r Range) Contains(v int) bool {
	if v < r.Min || v > r.Max {
		return false
	}
	if r.Step > 1 && (v-r.Min)%r.Step != 0 {
		return false
	}
	return true
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// DeviceInfo identifies the connected camera and what it supports.
type DeviceInfo struct {
	Manufacturer    string   `json:"manufacturer"`
	ProductName     string   `json:"product_name"`
	SerialNumber    string   `json:"serial_number,omitempty"`
	FirmwareVersion string   `json:"firmware_version,omitempty"`
	APIVersions     []string `json:"api_versions"`
	ZoomRange       *Range   `json:"zoom_range,omitempty"`
	FocusRange      Range    `json:"focus_range"`
}

// StatusResult is the result of a state-changing operation.
type StatusResult struct {
	Operation Operation      `json:"operation"`
	Status    string         `json:"status"`
	AssetID   string         `json:"asset_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// ImageEntry is a single asset stored on the camera.
type ImageEntry struct {
	ID        string `json:"id"` // storage-relative path, e.g. "sd/100CANON/IMG_0001.JPG"
	Name      string `json:"name"`
	Storage   string `json:"storage"`
	Directory string `json:"directory"`
}

// ImageList is a bounded page of image entries.
type ImageList struct {
	Images    []ImageEntry `json:"images"`
	Count     int          `json:"count"`
	Truncated bool         `json:"truncated,omitempty"`
}

// ImagePayload carries raw image bytes returned by the camera.
type ImagePayload struct {
	ID           string `json:"id,omitempty"`
	ContentType  string `json:"content_type"`
	Data         []byte `json:"-"`
	OriginalSize int    `json:"original_size"`
	Size         int    `json:"size"`
	Compressed   bool   `json:"compressed"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// Setting is a single shooting parameter and what the camera allows for it.
type Setting struct {
	Key     string   `json:"key"`
	Value   any      `json:"value"`
	Ability []string `json:"ability,omitempty"`
	Range   *Range   `json:"range,omitempty"`
}

// Settings is a snapshot of shooting parameters keyed by name.
type Settings map[string]Setting

// SettingChange reports a successful setting write.
type SettingChange struct {
	Key           string `json:"setting"`
	PreviousValue any    `json:"previous_value"`
	NewValue      string `json:"new_value"`
	Success       bool   `json:"success"`
}

// CameraClient is the single point of contact with the camera.
type CameraClient interface {
	Endpoint() CameraEndpoint
	Connect(ctx context.Context) (*DeviceInfo, error)
	Capture(ctx context.Context) (*StatusResult, error)
	SetZoom(ctx context.Context, level int) (*StatusResult, error)
	SetFocus(ctx context.Context, position int) (*StatusResult, error)
	ListImages(ctx context.Context) iter.Seq2[ImageEntry, error]
	DownloadImage(ctx context.Context, id string, compress bool) (*ImagePayload, error)
	GetSettings(ctx context.Context) (Settings, error)
	GetSetting(ctx context.Context, key string) (*Setting, error)
	SetSetting(ctx context.Context, key, value string) (*SettingChange, error)
	LiveView(ctx context.Context) (*ImagePayload, error)
}

// CameraTimeouts bounds how long each class of camera call may block.
type CameraTimeouts struct {
	Connect  time.Duration
	Settings time.Duration
	Capture  time.Duration
	Download time.Duration // base; extended by payload size
}

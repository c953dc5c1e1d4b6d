// Package ccapi talks to a Canon camera over its HTTP control API.
package ccapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"

	"canon-mcp/internal/domain"
	"canon-mcp/internal/infra/tracer"
)

// Default client settings.
const (
	defaultTimeout        = 5 * time.Second
	defaultCaptureTimeout = 30 * time.Second
	defaultMinRate        = 1024 * 1024 // 1 MiB/s
	defaultRetryBackoff   = 250 * time.Millisecond
	defaultCBMaxFailures  = 5
	defaultCBTimeout      = 15 * time.Second
	defaultCBInterval     = 60 * time.Second
	defaultEventPolls     = 5
	defaultEventPollDelay = 300 * time.Millisecond
	maxErrorBody          = 64 << 10
)

// BreakerSettings configures the circuit breaker in front of the camera.
type BreakerSettings struct {
	MaxFailures uint32        // consecutive unreachable failures before opening
	Timeout     time.Duration // open -> half-open
	Interval    time.Duration // closed-state count reset period
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	Endpoint        domain.CameraEndpoint
	Timeouts        domain.CameraTimeouts
	MinDownloadRate int           // bytes/sec used to stretch the download deadline
	RetryBackoff    time.Duration // pause before the single read retry
	ZoomFallback    domain.Range  // used until Connect learns the real range
	Breaker         BreakerSettings
	CompressTarget  int // byte budget for compressed downloads
	LiveViewTarget  int // byte budget for live view frames, 0 = no compression
	EventPolls      int
	EventPollDelay  time.Duration
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeouts.Connect <= 0 {
		o.Timeouts.Connect = defaultTimeout
	}
	if o.Timeouts.Settings <= 0 {
		o.Timeouts.Settings = defaultTimeout
	}
	if o.Timeouts.Capture <= 0 {
		o.Timeouts.Capture = defaultCaptureTimeout
	}
	if o.Timeouts.Download <= 0 {
		o.Timeouts.Download = defaultCaptureTimeout
	}
	if o.MinDownloadRate <= 0 {
		o.MinDownloadRate = defaultMinRate
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.ZoomFallback == (domain.Range{}) {
		o.ZoomFallback = domain.Range{Min: 0, Max: 100, Step: 1}
	}
	if o.Breaker.MaxFailures == 0 {
		o.Breaker.MaxFailures = defaultCBMaxFailures
	}
	if o.Breaker.Timeout <= 0 {
		o.Breaker.Timeout = defaultCBTimeout
	}
	if o.Breaker.Interval <= 0 {
		o.Breaker.Interval = defaultCBInterval
	}
	if o.EventPolls <= 0 {
		o.EventPolls = defaultEventPolls
	}
	if o.EventPollDelay <= 0 {
		o.EventPollDelay = defaultEventPollDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Endpoint.BasePath == "" {
		o.Endpoint.BasePath = "/ccapi"
	}
	return o
}

// Client is the single point of contact with the camera. It is safe for
// concurrent use; the gate orders concurrent calls.
type Client struct {
	ep      domain.CameraEndpoint
	opts    Options
	http    *resty.Client
	gate    *Gate
	breaker *gobreaker.CircuitBreaker[*resty.Response]
	logger  *slog.Logger

	mu       sync.RWMutex
	device   *domain.DeviceInfo
	noZoom   bool
	liveView atomic.Bool
}

var _ domain.CameraClient = (*Client)(nil)

// New creates a camera client. No network traffic happens until the first
// operation.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	ep := opts.Endpoint
	logger := opts.Logger.With("component", "ccapi", "camera", ep.String())

	transport := &http.Transport{
		Proxy: nil, // cameras live on the local network
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeouts.Connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	hc := resty.New().
		SetTransport(transport).
		SetBaseURL(ep.BaseURL()).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "canon-mcp").
		SetLogger(restyLogger{logger}).
		SetRetryCount(0)
	if ep.Scheme == "https" {
		// Cameras ship self-signed certificates.
		hc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}
	if ep.Username != "" {
		hc.SetBasicAuth(ep.Username, ep.Password)
	}

	c := &Client{
		ep:     ep,
		opts:   opts,
		http:   hc,
		gate:   NewGate(),
		logger: logger,
	}
	maxFailures := opts.Breaker.MaxFailures
	c.breaker = gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "camera:" + ep.Host,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    opts.Breaker.Interval,
		Timeout:     opts.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Only an absent camera counts against it; a camera that answers
		// with an error is healthy from the breaker's point of view.
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, domain.ErrUnreachable)
		},
	})
	return c
}

// Endpoint returns the immutable camera endpoint.
func (c *Client) Endpoint() domain.CameraEndpoint { return c.ep }

// Close releases idle connections.
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}

// Status is a point-in-time view of the client used by health reporting.
type Status struct {
	Endpoint  string             `json:"endpoint"`
	Breaker   string             `json:"breaker"`
	Connected bool               `json:"connected"`
	Device    *domain.DeviceInfo `json:"device,omitempty"`
	LiveView  bool               `json:"liveview"`
	Gate      GateStats          `json:"gate"`
}

// Status reports breaker state, the last Connect result and gate usage.
func (c *Client) Status() Status {
	c.mu.RLock()
	device := c.device
	c.mu.RUnlock()
	return Status{
		Endpoint:  c.ep.String(),
		Breaker:   c.breaker.State().String(),
		Connected: device != nil,
		Device:    device,
		LiveView:  c.liveView.Load(),
		Gate:      c.gate.Stats(),
	}
}

// request describes a single CCAPI call.
type request struct {
	op     domain.Operation
	method string
	path   string
	query  url.Values
	body   any
	on404  error // taxonomy kind for 404, default ErrDeviceError
	on400  error // taxonomy kind for 400, default ErrDeviceError
	stream bool  // leave the body unread for the caller
}

// path joins CCAPI path segments under the endpoint's base path.
func (c *Client) path(segments ...string) string {
	return c.ep.BasePath + "/" + strings.Join(segments, "/")
}

// access runs fn under the gate mode the operation calls for.
func (c *Client) access(ctx context.Context, op domain.Operation, fn func(context.Context) error) error {
	if op.IsWrite() {
		return c.write(ctx, op, fn)
	}
	return c.read(ctx, op, fn)
}

// read runs fn under shared access, retrying once when the camera was
// unreachable.
func (c *Client) read(ctx context.Context, op domain.Operation, fn func(context.Context) error) error {
	unlock, err := c.gate.RLock(ctx)
	if err != nil {
		return waitError(op, err)
	}
	defer unlock()

	b := retry.WithMaxRetries(1, retry.NewConstant(c.opts.RetryBackoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, domain.ErrUnreachable) && c.breaker.State() != gobreaker.StateOpen {
			c.logger.Debug("retrying read", "op", op, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && !isCameraError(err) && errors.Is(err, context.DeadlineExceeded) {
		return &domain.CameraError{Op: op, Kind: domain.ErrUnreachable, Detail: "no response before deadline"}
	}
	return err
}

// write runs fn under exclusive access. Writes are never retried.
func (c *Client) write(ctx context.Context, op domain.Operation, fn func(context.Context) error) error {
	unlock, err := c.gate.Lock(ctx)
	if err != nil {
		return waitError(op, err)
	}
	defer unlock()
	return fn(ctx)
}

func waitError(op domain.Operation, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.CameraError{Op: op, Kind: domain.ErrDeviceBusy, Detail: "timed out waiting for camera access"}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isCameraError(err error) bool {
	var ce *domain.CameraError
	return errors.As(err, &ce)
}

// do executes rq bounded by timeout and returns the fully read response.
func (c *Client) do(ctx context.Context, timeout time.Duration, rq request) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.exec(ctx, rq)
}

// exec sends rq through the circuit breaker and maps failures onto the
// camera error taxonomy.
func (c *Client) exec(ctx context.Context, rq request) (*resty.Response, error) {
	ctx, span := tracer.StartSpan(ctx, "camera."+string(rq.op),
		trace.WithAttributes(
			tracer.StringAttr("http.method", rq.method),
			tracer.StringAttr("ccapi.path", rq.path),
		),
	)
	start := time.Now()

	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		r := c.http.R().SetContext(ctx)
		if rq.query != nil {
			r.SetQueryParamsFromValues(rq.query)
		}
		if rq.body != nil {
			r.SetHeader("Content-Type", "application/json").SetBody(rq.body)
		}
		if rq.stream {
			r.SetDoNotParseResponse(true)
		}
		resp, err := r.Execute(rq.method, rq.path)
		if err != nil {
			return nil, transportError(ctx, rq.op, err)
		}
		if resp.IsError() {
			return nil, c.statusError(rq, resp)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &domain.CameraError{Op: rq.op, Kind: domain.ErrUnreachable, Detail: "circuit open after repeated failures"}
	}

	if resp != nil {
		span.SetAttributes(tracer.IntAttr("http.status_code", resp.StatusCode()))
	}
	tracer.End(span, err)
	c.logger.Debug("ccapi request",
		"op", rq.op,
		"method", rq.method,
		"path", rq.path,
		"duration", time.Since(start),
		"error", err,
	)
	return resp, err
}

// transportError maps a failed round trip. Caller cancellation passes
// through untouched; everything else means the camera did not answer.
func transportError(ctx context.Context, op domain.Operation, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, context.Canceled) {
		return fmt.Errorf("%s: %w", op, cause)
	}
	detail := err.Error()
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, context.DeadlineExceeded):
		detail = "no response before deadline"
	case cause != nil:
		detail = cause.Error()
	}
	return &domain.CameraError{Op: op, Kind: domain.ErrUnreachable, Detail: detail}
}

func (c *Client) statusError(rq request, resp *resty.Response) error {
	body := resp.Body()
	if rq.stream {
		raw := resp.RawBody()
		body, _ = io.ReadAll(io.LimitReader(raw, maxErrorBody))
		raw.Close()
	}
	msg := ccapiMessage(body)
	status := resp.StatusCode()
	detail := fmt.Sprintf("HTTP %d", status)
	if msg != "" {
		detail += ": " + msg
	}
	return &domain.CameraError{
		Op:     rq.op,
		Kind:   classifyStatus(status, msg, rq),
		Detail: detail,
		Status: status,
	}
}

func classifyStatus(status int, msg string, rq request) error {
	switch {
	case status == http.StatusServiceUnavailable || isBusy(msg):
		return domain.ErrDeviceBusy
	case status == http.StatusNotFound && rq.on404 != nil:
		return rq.on404
	case status == http.StatusBadRequest && rq.on400 != nil:
		return rq.on400
	}
	return domain.ErrDeviceError
}

// isBusy recognises CCAPI replies such as "Device busy" and
// "During shooting or recording".
func isBusy(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "busy") || strings.HasPrefix(m, "during ")
}

// ccapiMessage extracts {"message": "..."} from an error body, falling back
// to the trimmed text.
func ccapiMessage(body []byte) string {
	var m struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &m) == nil && m.Message != "" {
		return m.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// decode unmarshals a JSON response body into v.
func decode(op domain.Operation, resp *resty.Response, v any) error {
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return &domain.CameraError{Op: op, Kind: domain.ErrDeviceError, Detail: "malformed response: " + err.Error()}
	}
	return nil
}

// restyLogger routes resty's internal messages to slog.
type restyLogger struct {
	l *slog.Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) {
	r.l.Error(fmt.Sprintf(format, v...), "source", "resty")
}

func (r restyLogger) Warnf(format string, v ...interface{}) {
	r.l.Warn(fmt.Sprintf(format, v...), "source", "resty")
}

func (r restyLogger) Debugf(format string, v ...interface{}) {
	r.l.Debug(fmt.Sprintf(format, v...), "source", "resty")
}

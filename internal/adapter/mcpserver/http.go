package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"canon-mcp/internal/adapter/ccapi"
	"canon-mcp/internal/infra/middleware"
)

const shutdownTimeout = 5 * time.Second

// CameraStatus reports the camera client's state for /health and /api/v1/status.
type CameraStatus interface {
	Status() ccapi.Status
}

// HTTPConfig configures the streamable HTTP transport.
type HTTPConfig struct {
	Addr         string
	EndpointPath string
	ReadTimeout  time.Duration
	RateLimit    middleware.RateLimitConfig
}

// HTTPServer serves MCP over streamable HTTP alongside health and status routes.
type HTTPServer struct {
	srv    *Server
	camera CameraStatus
	cfg    HTTPConfig
	logger *slog.Logger

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

// NewHTTPServer creates an HTTP transport for srv.
func NewHTTPServer(srv *Server, camera CameraStatus, cfg HTTPConfig, logger *slog.Logger) *HTTPServer {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{srv: srv, camera: camera, cfg: cfg, logger: logger}
}

// Handler returns the routed handler. ctx bounds the rate limiter's
// background sweeper.
func (h *HTTPServer) Handler(ctx context.Context) http.Handler {
	stream := server.NewStreamableHTTPServer(h.srv.mcp,
		server.WithEndpointPath(h.cfg.EndpointPath),
	)

	mux := http.NewServeMux()
	mux.Handle(h.cfg.EndpointPath, middleware.Chain(stream,
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, h.cfg.RateLimit, h.logger),
		middleware.RequestLogger(h.logger),
	))
	mux.Handle("GET /health", middleware.SecurityHeaders(http.HandlerFunc(h.health)))
	mux.Handle("GET /api/v1/status", middleware.SecurityHeaders(http.HandlerFunc(h.status)))
	return mux
}

// Start listens and serves until ctx is cancelled or Stop is called.
func (h *HTTPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen: %w", err)
	}

	hctx, cancel := context.WithCancel(ctx)
	httpSrv := &http.Server{
		Handler:           h.Handler(hctx),
		ReadHeaderTimeout: h.cfg.ReadTimeout,
	}

	h.mu.Lock()
	h.httpSrv = httpSrv
	h.boundAddr = listener.Addr().String()
	h.cancel = cancel
	h.mu.Unlock()

	h.logger.Info("mcp server started",
		"transport", "http",
		"addr", h.BoundAddr(),
		"endpoint", "http://"+h.BoundAddr()+h.cfg.EndpointPath,
		"tools", len(h.srv.tools.List()),
	)

	go func() {
		<-hctx.Done()
		h.Stop(context.Background())
	}()

	if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		cancel()
		return fmt.Errorf("mcp serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	httpSrv, cancel := h.httpSrv, h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if httpSrv == nil {
		return nil
	}
	shutdownCtx, done := context.WithTimeout(ctx, shutdownTimeout)
	defer done()
	return httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (h *HTTPServer) BoundAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boundAddr
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"` // "ok", or "degraded" while the breaker is open
	Camera  string `json:"camera"`
	Breaker string `json:"breaker"`
}

// StatusResponse is the JSON body of GET /api/v1/status.
type StatusResponse struct {
	Service ServiceStatus `json:"service"`
	Camera  ccapi.Status  `json:"camera"`
	Tools   ToolStatus    `json:"tools"`
}

// ServiceStatus holds server overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ToolStatus holds tool usage counters.
type ToolStatus struct {
	Registered  int   `json:"registered"`
	CallsTotal  int64 `json:"calls_total"`
	ErrorsTotal int64 `json:"errors_total"`
}

func (h *HTTPServer) health(w http.ResponseWriter, _ *http.Request) {
	st := h.camera.Status()
	resp := HealthResponse{Status: "ok", Camera: st.Endpoint, Breaker: st.Breaker}
	if st.Breaker == "open" {
		resp.Status = "degraded"
	}
	writeJSON(w, resp)
}

func (h *HTTPServer) status(w http.ResponseWriter, _ *http.Request) {
	m := h.srv.Metrics()
	writeJSON(w, StatusResponse{
		Service: ServiceStatus{
			Name:          h.srv.name,
			Version:       h.srv.version,
			UptimeSeconds: int64(h.srv.Uptime().Seconds()),
		},
		Camera: h.camera.Status(),
		Tools: ToolStatus{
			Registered:  len(h.srv.tools.List()),
			CallsTotal:  m.CallsTotal.Load(),
			ErrorsTotal: m.ErrorsTotal.Load(),
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Package integration runs the whole bridge, camera client to MCP transport,
// against the fake camera or a real one named by the environment.
package integration

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"canon-mcp/internal/adapter/ccapi"
	"canon-mcp/internal/adapter/mcpserver"
	"canon-mcp/internal/adapter/tool"
	"canon-mcp/internal/domain"
	"canon-mcp/internal/infra/logger"
	"canon-mcp/internal/infra/middleware"
)

// Config holds integration test configuration from environment.
type Config struct {
	CameraIP    string
	CameraPort  int
	TestTimeout time.Duration
	AllowWrites bool
}

// LoadConfig loads integration test configuration from environment.
func LoadConfig() *Config {
	port, _ := strconv.Atoi(os.Getenv("CANONMCP_IT_CAMERA_PORT"))
	return &Config{
		CameraIP:    os.Getenv("CANONMCP_IT_CAMERA_IP"),
		CameraPort:  port,
		TestTimeout: 60 * time.Second,
		AllowWrites: os.Getenv("CANONMCP_IT_ALLOW_WRITES") == "1",
	}
}

// SkipIfNoCamera skips the test unless a real camera is configured.
func SkipIfNoCamera(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.CameraIP == "" {
		t.Skip("Skipping real camera test: CANONMCP_IT_CAMERA_IP not set")
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Stack is a running bridge reachable over streamable HTTP.
type Stack struct {
	Camera *ccapi.Client
	HTTP   *httptest.Server
	MCP    *client.Client
}

// StartStack wires a camera client, the tool registry and the MCP HTTP
// server for the camera at host:port, then connects an MCP client to it.
func StartStack(t *testing.T, host string, port int) *Stack {
	t.Helper()
	log := logger.Discard()

	ep, err := domain.NewCameraEndpoint(host, port)
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	cam := ccapi.New(ccapi.Options{
		Endpoint:       ep,
		RetryBackoff:   10 * time.Millisecond,
		EventPollDelay: 10 * time.Millisecond,
		Logger:         log,
	})
	t.Cleanup(cam.Close)

	reg := tool.NewRegistry(log)
	if err := reg.RegisterAll(tool.NewCameraTools(cam, tool.CameraToolsConfig{}, log)...); err != nil {
		t.Fatalf("register tools: %v", err)
	}
	srv, err := mcpserver.New(reg, mcpserver.Options{Version: "integration", Logger: log})
	if err != nil {
		t.Fatalf("mcp server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := mcpserver.NewHTTPServer(srv, cam, mcpserver.HTTPConfig{
		EndpointPath: "/mcp",
		RateLimit:    middleware.RateLimitConfig{RequestsPerMin: 6000, BurstSize: 100},
	}, log)
	ts := httptest.NewServer(h.Handler(ctx))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	tr, err := transport.NewStreamableHTTP(ts.URL + "/mcp")
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	c := client.NewClient(tr)
	t.Cleanup(func() { c.Close() })
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start client: %v", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "canon-mcp-integration", Version: "test"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return &Stack{Camera: cam, HTTP: ts, MCP: c}
}

// Call invokes a tool and fails the test on transport errors. Tool errors are
// returned in the result for the caller to inspect.
func (s *Stack) Call(t *testing.T, ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.MCP.CallTool(ctx, req)
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	return res
}

// MustOK fails the test if res is a tool error and decodes its text into v.
func MustOK(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()
	text := mcpserver.TextContent(res)
	if res.IsError {
		t.Fatalf("tool error: %s", text)
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("decode %q: %v", text, err)
	}
}

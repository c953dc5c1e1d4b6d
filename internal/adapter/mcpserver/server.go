// Package mcpserver exposes the camera tools over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/oklog/ulid/v2"

	"canon-mcp/internal/domain"
)

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	Logger  *slog.Logger
}

// Metrics counts tool calls for the status endpoint.
type Metrics struct {
	CallsTotal  atomic.Int64
	ErrorsTotal atomic.Int64
}

// Server registers domain tools with an MCP server and converts their
// results to MCP content.
type Server struct {
	mcp     *server.MCPServer
	tools   domain.ToolExecutor
	logger  *slog.Logger
	metrics Metrics
	started time.Time
	name    string
	version string
}

// New builds the MCP server and registers every tool in tools.
func New(tools domain.ToolExecutor, opts Options) (*Server, error) {
	if opts.Name == "" {
		opts.Name = "canon-mcp"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		mcp: server.NewMCPServer(opts.Name, opts.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		tools:   tools,
		logger:  opts.Logger,
		started: time.Now(),
		name:    opts.Name,
		version: opts.Version,
	}

	for _, t := range tools.List() {
		schema := t.Schema()
		params := schema.Parameters
		if len(params) == 0 || string(params) == "null" {
			params = json.RawMessage(`{"type":"object"}`)
		}
		if !json.Valid(params) {
			return nil, fmt.Errorf("tool %q: schema is not valid JSON", t.Name())
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), params), s.handler(t))
	}

	s.logger.Debug("mcp tools registered", "count", len(tools.List()))
	return s, nil
}

// MCP returns the underlying mcp-go server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Metrics returns the call counters.
func (s *Server) Metrics() *Metrics { return &s.metrics }

// Uptime reports how long the server has existed.
func (s *Server) Uptime() time.Duration { return time.Since(s.started) }

// ServeStdio serves MCP over in/out until ctx is cancelled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("mcp server started", "transport", "stdio", "tools", len(s.tools.List()))
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio serve: %w", err)
	}
	return nil
}

func (s *Server) handler(t domain.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		callID := generateCallID(start)
		logger := s.logger.With("call_id", callID, "tool", t.Name())
		s.metrics.CallsTotal.Add(1)

		res := s.execute(ctx, t, req)
		res.ToolCallID = callID

		elapsed := time.Since(start)
		if res.IsError {
			s.metrics.ErrorsTotal.Add(1)
			logger.Info("tool call failed",
				"code", res.ErrorCode, "retryable", res.IsRetryable, "duration", elapsed)
		} else {
			logger.Info("tool call", "duration", elapsed)
		}
		return toCallResult(res), nil
	}
}

func (s *Server) execute(ctx context.Context, t domain.Tool, req mcp.CallToolRequest) *domain.ToolResult {
	args, err := rawArguments(req)
	if err != nil {
		return &domain.ToolResult{IsError: true, ErrorCode: domain.CodeInvalidInput, Content: err.Error()}
	}
	res, err := t.Execute(ctx, args)
	if err != nil {
		return &domain.ToolResult{
			IsError:     true,
			ErrorCode:   domain.ErrorCodeOf(err),
			IsRetryable: domain.IsRetryableError(err),
			Content:     err.Error(),
		}
	}
	if res == nil {
		return &domain.ToolResult{IsError: true, ErrorCode: domain.CodeUnknown, Content: "tool returned no result"}
	}
	return res
}

// rawArguments re-encodes the decoded MCP arguments for the tool pipeline.
func rawArguments(req mcp.CallToolRequest) (json.RawMessage, error) {
	if req.Params.Arguments == nil {
		return json.RawMessage(`{}`), nil
	}
	data, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return nil, fmt.Errorf("%w: arguments: %v", domain.ErrInvalidInput, err)
	}
	return data, nil
}

// errorBody is the text of every error result.
type errorBody struct {
	Success   bool             `json:"success"`
	Error     domain.ErrorCode `json:"error"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
}

// inlineImageTypes are the image formats assistant clients render inline.
var inlineImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

func toCallResult(res *domain.ToolResult) *mcp.CallToolResult {
	if res.IsError {
		code := res.ErrorCode
		if code == "" {
			code = domain.CodeUnknown
		}
		body, _ := json.Marshal(errorBody{
			Error:     code,
			Message:   res.Content,
			Retryable: res.IsRetryable,
		})
		return mcp.NewToolResultError(string(body))
	}

	if res.Media == nil {
		return mcp.NewToolResultText(res.Content)
	}

	mime := strings.ToLower(strings.TrimSpace(strings.Split(res.Media.MIMEType, ";")[0]))
	data := base64.StdEncoding.EncodeToString(res.Media.Data)
	if inlineImageTypes[mime] {
		return mcp.NewToolResultImage(res.Content, data, mime)
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(res.Content),
			mcp.NewEmbeddedResource(mcp.BlobResourceContents{
				URI:      "camera://media/" + res.ToolCallID,
				MIMEType: mime,
				Blob:     data,
			}),
		},
	}
}

func generateCallID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

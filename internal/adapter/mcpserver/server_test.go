package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canon-mcp/internal/adapter/ccapi"
	"canon-mcp/internal/adapter/ccapi/ccapitest"
	"canon-mcp/internal/adapter/tool"
	"canon-mcp/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	cam    *ccapitest.Camera
	client *ccapi.Client
	srv    *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cam := ccapitest.New()
	t.Cleanup(cam.Close)

	ep, err := domain.NewCameraEndpoint(cam.Host(), cam.Port())
	require.NoError(t, err)
	client := ccapi.New(ccapi.Options{
		Endpoint:       ep,
		RetryBackoff:   time.Millisecond,
		EventPollDelay: time.Millisecond,
		CompressTarget: 1 << 20,
		Logger:         discardLogger(),
	})
	t.Cleanup(client.Close)

	reg := tool.NewRegistry(discardLogger())
	require.NoError(t, reg.RegisterAll(tool.NewCameraTools(client, tool.CameraToolsConfig{}, discardLogger())...))

	srv, err := New(reg, Options{Version: "test", Logger: discardLogger()})
	require.NoError(t, err)
	return &fixture{cam: cam, client: client, srv: srv}
}

func (f *fixture) connect(t *testing.T) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewInProcessClient(f.srv.MCP())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "1.0.0"}
	_, err = c.Initialize(ctx, initReq)
	require.NoError(t, err)
	return c
}

func call(t *testing.T, c *mcpclient.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	return res
}

func decodeError(t *testing.T, res *mcp.CallToolResult) errorBody {
	t.Helper()
	require.True(t, res.IsError, "expected an error result")
	var body errorBody
	require.NoError(t, json.Unmarshal([]byte(TextContent(res)), &body))
	return body
}

func imageContent(res *mcp.CallToolResult) (mcp.ImageContent, bool) {
	for _, c := range res.Content {
		switch v := c.(type) {
		case mcp.ImageContent:
			return v, true
		case *mcp.ImageContent:
			return *v, true
		}
	}
	return mcp.ImageContent{}, false
}

func TestListTools(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	list, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Tools, 10)

	byName := make(map[string]mcp.Tool)
	for _, tl := range list.Tools {
		byName[tl.Name] = tl
	}
	zoom, ok := byName["set_zoom"]
	require.True(t, ok)
	assert.Contains(t, zoom.InputSchema.Properties, "level")
	assert.NotEmpty(t, zoom.Description)
}

func TestCallTool_Text(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	res := call(t, c, "connect_camera", nil)
	require.False(t, res.IsError, TextContent(res))
	assert.Contains(t, TextContent(res), `"connected": true`)
	assert.True(t, f.client.Status().Connected)
}

func TestCallTool_Image(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	res := call(t, c, "download_image", map[string]any{"id": "sd/100CANON/IMG_0001.JPG", "compress": false})
	require.False(t, res.IsError, TextContent(res))

	img, ok := imageContent(res)
	require.True(t, ok, "expected image content")
	assert.Equal(t, "image/jpeg", img.MIMEType)
	data, err := base64.StdEncoding.DecodeString(img.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])
	assert.Contains(t, TextContent(res), `"content_type": "image/jpeg"`)
}

func TestCallTool_CameraError(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	require.False(t, call(t, c, "connect_camera", nil).IsError)

	body := decodeError(t, call(t, c, "set_zoom", map[string]any{"level": 999}))
	assert.False(t, body.Success)
	assert.Equal(t, domain.CodeInvalidParameter, body.Error)
	assert.False(t, body.Retryable)
	assert.Contains(t, body.Message, "999")
}

func TestCallTool_SchemaError(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	before := len(f.cam.Requests())

	body := decodeError(t, call(t, c, "set_zoom", map[string]any{"level": "wide"}))
	assert.Equal(t, domain.CodeInvalidInput, body.Error)
	assert.Len(t, f.cam.Requests(), before)
}

func TestCallTool_BusyIsRetryable(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	f.cam.SetBusy(true)

	body := decodeError(t, call(t, c, "capture", nil))
	assert.Equal(t, domain.CodeDeviceBusy, body.Error)
	assert.True(t, body.Retryable)
}

func TestMetricsCountCalls(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	call(t, c, "connect_camera", nil)
	call(t, c, "set_focus", map[string]any{"position": 9})

	assert.Equal(t, int64(2), f.srv.Metrics().CallsTotal.Load())
	assert.Equal(t, int64(1), f.srv.Metrics().ErrorsTotal.Load())
}

// panicTool blows up on every call.
type panicTool struct{}

func (panicTool) Name() string        { return "explode" }
func (panicTool) Description() string { return "panics" }
func (panicTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: "explode", Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (panicTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	panic("boom")
}

func TestPanicDoesNotKillServer(t *testing.T) {
	reg := tool.NewRegistry(nil)
	require.NoError(t, reg.Register(panicTool{}))
	srv, err := New(reg, Options{Logger: discardLogger()})
	require.NoError(t, err)
	f := &fixture{srv: srv}
	c := f.connect(t)

	req := mcp.CallToolRequest{}
	req.Params.Name = "explode"
	_, err = c.CallTool(context.Background(), req)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "goroutine", "no stack trace in the reply")

	_, err = c.ListTools(context.Background(), mcp.ListToolsRequest{})
	assert.NoError(t, err, "server should keep serving after a panic")
}

func TestToCallResult(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		res := toCallResult(&domain.ToolResult{Content: "hello"})
		assert.False(t, res.IsError)
		assert.Equal(t, "hello", TextContent(res))
	})

	t.Run("error without code", func(t *testing.T) {
		res := toCallResult(&domain.ToolResult{IsError: true, Content: "bad"})
		body := decodeError(t, res)
		assert.Equal(t, domain.CodeUnknown, body.Error)
		assert.Equal(t, "bad", body.Message)
	})

	t.Run("inline image with parameters", func(t *testing.T) {
		res := toCallResult(&domain.ToolResult{
			Content: "{}",
			Media:   &domain.Media{MIMEType: "Image/JPEG; q=1", Data: []byte{1, 2, 3}},
		})
		img, ok := imageContent(res)
		require.True(t, ok)
		assert.Equal(t, "image/jpeg", img.MIMEType)
		assert.Equal(t, "AQID", img.Data)
	})

	t.Run("raw file as embedded resource", func(t *testing.T) {
		res := toCallResult(&domain.ToolResult{
			ToolCallID: "01J",
			Content:    "{}",
			Media:      &domain.Media{MIMEType: "image/x-canon-cr3", Data: []byte{1, 2, 3}},
		})
		require.Len(t, res.Content, 2)
		_, isImage := imageContent(res)
		assert.False(t, isImage)
		er, ok := res.Content[1].(mcp.EmbeddedResource)
		require.True(t, ok, "got %T", res.Content[1])
		blob, ok := er.Resource.(mcp.BlobResourceContents)
		require.True(t, ok, "got %T", er.Resource)
		assert.Equal(t, "image/x-canon-cr3", blob.MIMEType)
		assert.Equal(t, "camera://media/01J", blob.URI)
	})
}

func TestNewRejectsInvalidSchema(t *testing.T) {
	reg := tool.NewRegistry(nil)
	require.NoError(t, reg.Register(&rawSchemaTool{schema: json.RawMessage(`{"type":`)}))
	_, err := New(reg, Options{Logger: discardLogger()})
	assert.Error(t, err)
}

type rawSchemaTool struct{ schema json.RawMessage }

func (r *rawSchemaTool) Name() string        { return "raw" }
func (r *rawSchemaTool) Description() string { return "raw" }
func (r *rawSchemaTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: "raw", Parameters: r.schema}
}
func (r *rawSchemaTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	return &domain.ToolResult{Content: "ok"}, nil
}

func TestGenerateCallIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	now := time.Now()
	for i := 0; i < 100; i++ {
		id := generateCallID(now.Add(time.Duration(i) * time.Millisecond))
		assert.Len(t, id, 26)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"canon-mcp/internal/domain"
)

// ProbeResult describes a running MCP endpoint.
type ProbeResult struct {
	ServerName      string
	ServerVersion   string
	ProtocolVersion string
	Tools           []string
}

// mcpClient is the subset of the mcp-go client the probe uses.
type mcpClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	Close() error
}

// Probe connects to a streamable HTTP MCP endpoint, initializes a session
// and lists its tools.
func Probe(ctx context.Context, url string) (*ProbeResult, error) {
	t, err := transport.NewStreamableHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("create http transport: %w", err)
	}
	c := mcpclient.NewClient(t)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start http client: %w", err)
	}
	defer c.Close()
	return probe(ctx, c)
}

func probe(ctx context.Context, c mcpClient) (*ProbeResult, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "canon-mcp-doctor", Version: "1.0.0"}

	init, err := c.Initialize(ctx, initReq)
	if err != nil {
		return nil, domain.WrapOp("initialize", err)
	}

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, domain.WrapOp("list tools", err)
	}

	res := &ProbeResult{
		ServerName:      init.ServerInfo.Name,
		ServerVersion:   init.ServerInfo.Version,
		ProtocolVersion: init.ProtocolVersion,
	}
	for _, t := range list.Tools {
		res.Tools = append(res.Tools, t.Name)
	}
	sort.Strings(res.Tools)
	return res, nil
}

// TextContent joins the text blocks of an MCP tool result.
func TextContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}

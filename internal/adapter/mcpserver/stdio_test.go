package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStdio(t *testing.T) {
	f := newFixture(t)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- f.srv.ServeStdio(context.Background(), inR, outW)
		outW.Close()
	}()

	lines := bufio.NewScanner(outR)
	lines.Buffer(make([]byte, 0, 64<<10), 1<<20)
	send := func(msg string) map[string]any {
		t.Helper()
		_, err := io.WriteString(inW, msg+"\n")
		require.NoError(t, err)
		require.True(t, lines.Scan(), "no response: %v", lines.Err())
		var resp map[string]any
		require.NoError(t, json.Unmarshal(lines.Bytes(), &resp))
		return resp
	}

	initResp := send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)
	result, ok := initResp["result"].(map[string]any)
	require.True(t, ok, "initialize result: %v", initResp)
	info, _ := result["serverInfo"].(map[string]any)
	assert.Equal(t, "canon-mcp", info["name"])

	list := send(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	listResult, ok := list["result"].(map[string]any)
	require.True(t, ok, "tools/list result: %v", list)
	tools, _ := listResult["tools"].([]any)
	assert.Len(t, tools, 10)

	require.NoError(t, inW.Close())
	select {
	case err := <-done:
		assert.NoError(t, err, "EOF on stdin is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("ServeStdio did not return after stdin closed")
	}
}

func TestServeStdioContextCancel(t *testing.T) {
	f := newFixture(t)
	inR, inW := io.Pipe()
	defer inW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.ServeStdio(ctx, inR, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeStdio did not return after cancel")
	}
}

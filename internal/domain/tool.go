package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the assistant's function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Media is a binary attachment on a tool result, e.g. a downloaded image.
type Media struct {
	MIMEType string
	Data     []byte
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	ToolCallID  string    `json:"tool_call_id"`
	Content     string    `json:"content"`
	Media       *Media    `json:"-"`
	IsError     bool      `json:"is_error"`
	IsRetryable bool      `json:"is_retryable,omitempty"`
	ErrorCode   ErrorCode `json:"error_code,omitempty"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup and execution.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	List() []Tool
	Schemas() []ToolSchema
}

package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"canon-mcp/internal/domain"
)

// stubTool is a minimal tool for testing schema validation.
type stubTool struct {
	name   string
	schema json.RawMessage
	result *domain.ToolResult
	calls  int
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: s.name, Description: "stub", Parameters: s.schema}
}
func (s *stubTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	s.calls++
	return s.result, nil
}

const levelSchema = `{
	"type": "object",
	"properties": {"level": {"type": "integer"}},
	"required": ["level"],
	"additionalProperties": false
}`

func TestSchemaValidation(t *testing.T) {
	tests := []struct {
		name      string
		params    string
		wantError string // empty means the call reaches the inner tool
	}{
		{"valid", `{"level":10}`, ""},
		{"missing required", `{}`, "/: missing properties: 'level'"},
		{"empty params treated as object", ``, "missing properties"},
		{"wrong type", `{"level":"ten"}`, "/level: expected integer"},
		{"fractional", `{"level":1.5}`, "/level"},
		{"unknown property", `{"level":1,"speed":2}`, "additionalProperties"},
		{"not json", `{level`, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &stubTool{
				name:   "set_zoom",
				schema: json.RawMessage(levelSchema),
				result: &domain.ToolResult{Content: "ok"},
			}
			wrapped, err := WithSchemaValidation(inner)
			if err != nil {
				t.Fatalf("WithSchemaValidation: %v", err)
			}

			result, err := wrapped.Execute(context.Background(), json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantError == "" {
				if result.IsError || inner.calls != 1 {
					t.Fatalf("expected pass-through, got %+v (calls=%d)", result, inner.calls)
				}
				return
			}
			if !result.IsError {
				t.Fatal("expected error result")
			}
			if inner.calls != 0 {
				t.Errorf("inner tool ran %d times on invalid params", inner.calls)
			}
			if result.ErrorCode != domain.CodeInvalidInput {
				t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, domain.CodeInvalidInput)
			}
			if !strings.Contains(result.Content, tt.wantError) {
				t.Errorf("Content = %q, want it to contain %q", result.Content, tt.wantError)
			}
		})
	}
}

func TestSchemaValidation_Passthrough(t *testing.T) {
	for _, schema := range []json.RawMessage{nil, json.RawMessage(`null`)} {
		inner := &stubTool{name: "test", schema: schema}
		wrapped, err := WithSchemaValidation(inner)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if wrapped != inner {
			t.Errorf("expected passthrough for schema %q", schema)
		}
	}
}

func TestSchemaValidation_CompilationError(t *testing.T) {
	_, err := WithSchemaValidation(&stubTool{name: "test", schema: json.RawMessage(`{"type": "invalid_type"}`)})
	if err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestSchemaValidation_DelegatesMetadata(t *testing.T) {
	inner := &stubTool{name: "my_tool", schema: json.RawMessage(levelSchema)}
	wrapped, err := WithSchemaValidation(inner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wrapped.Name() != "my_tool" || wrapped.Description() != "stub" || wrapped.Schema().Name != "my_tool" {
		t.Errorf("metadata not delegated: %q %q %q", wrapped.Name(), wrapped.Description(), wrapped.Schema().Name)
	}
	if u, ok := wrapped.(*SchemaValidatingTool); !ok || u.inner != inner {
		t.Error("wrapper should hold the inner tool")
	}
}

func TestCameraToolSchemasCompile(t *testing.T) {
	for _, tl := range NewCameraTools(newMockCamera(), CameraToolsConfig{}, nopLogger()) {
		if _, err := WithSchemaValidation(tl); err != nil {
			t.Errorf("%s: %v", tl.Name(), err)
		}
	}
}

func TestRegistry_SchemaCompilationError_GracefulFallback(t *testing.T) {
	reg := NewRegistry(nopLogger())
	inner := &stubTool{
		name:   "bad_schema_tool",
		schema: json.RawMessage(`{"type": "invalid_type"}`),
		result: &domain.ToolResult{Content: "fallback ok"},
	}
	if err := reg.Register(inner); err != nil {
		t.Fatalf("register should succeed despite bad schema: %v", err)
	}

	got, _ := reg.Get("bad_schema_tool")
	result, err := got.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Content != "fallback ok" {
		t.Errorf("expected 'fallback ok', got %q", result.Content)
	}
}

func TestRegistry_NilLogger_NoSchemaValidation(t *testing.T) {
	reg := NewRegistry(nil)
	inner := &stubTool{
		name:   "unwrapped",
		schema: json.RawMessage(levelSchema),
		result: &domain.ToolResult{Content: "no validation"},
	}
	if err := reg.Register(inner); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, _ := reg.Get("unwrapped")
	result, _ := got.Execute(context.Background(), json.RawMessage(`{}`))
	if result.Content != "no validation" {
		t.Errorf("expected 'no validation', got %q", result.Content)
	}
}

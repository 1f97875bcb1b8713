// Package toolexecutor holds the tool registry and the sandboxed executor
// that runs model-requested tool calls with validation, timeouts and
// cancellation.
package toolexecutor

import (
	"context"
)

// Mode is the registry-level policy gate. ReadOnly hides mutating tools
// from the model entirely.
type Mode string

const (
	ModeReadOnly Mode = "read_only"
	ModeFull     Mode = "full"
)

// Tool is the capability set a tool implementation supplies. Execute runs
// on a worker goroutine that may block (file I/O, subprocess); it should
// honor ctx cancellation where it can.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	AllowedInMode(mode Mode) bool
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      map[string]interface{}
	ReadOnly        bool
	Handler         func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (t *FuncTool) Name() string                   { return t.ToolName }
func (t *FuncTool) Description() string            { return t.ToolDescription }
func (t *FuncTool) Schema() map[string]interface{} { return t.ToolSchema }

// AllowedInMode admits read-only tools everywhere and mutating tools only
// in Full mode.
func (t *FuncTool) AllowedInMode(mode Mode) bool {
	return t.ReadOnly || mode == ModeFull
}

func (t *FuncTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return t.Handler(ctx, args)
}

// ObjectSchema builds a draft-07 object schema from property definitions
// and a required list.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

package toolexecutor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/evanrhodes/tern/pkg/llm"
)

// Registry maps tool names to implementations and applies the current
// mode gate. Registration happens at construction time; afterwards the
// registry is read-only and needs no reader synchronization.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string
	mode    Mode
}

// NewRegistry creates a registry in the given mode.
func NewRegistry(mode Mode) *Registry {
	if mode == "" {
		mode = ModeReadOnly
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		mode:    mode,
	}
}

// Register adds a tool, compiling its schema once up front.
func (r *Registry) Register(tool Tool) error {
	if err := llm.ValidateToolName(tool.Name()); err != nil {
		return llm.WrapError(llm.CodeConfigInvalid, "tool registration failed", false, err)
	}
	if tool.Description() == "" {
		return llm.NewError(llm.CodeConfigInvalid, fmt.Sprintf("tool %s has no description", tool.Name()), false)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Schema()))
	if err != nil {
		return llm.WrapError(llm.CodeConfigInvalid, fmt.Sprintf("tool %s has an invalid schema", tool.Name()), false, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name()]; exists {
		return llm.NewError(llm.CodeConfigInvalid, fmt.Sprintf("tool %s is already registered", tool.Name()), false)
	}
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	r.order = append(r.order, tool.Name())

	log.Debug().Str("tool", tool.Name()).Msg("Tool registered")
	return nil
}

// Mode returns the registry's current mode.
func (r *Registry) Mode() Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// SetMode switches the policy gate.
func (r *Registry) SetMode(mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// Get returns the tool only when the current mode admits it.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok || !tool.AllowedInMode(r.mode) {
		return nil, false
	}
	return tool, true
}

// IsBlockedByMode reports that the tool exists but the mode forbids it.
func (r *Registry) IsBlockedByMode(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return ok && !tool.AllowedInMode(r.mode)
}

// schema returns the compiled schema for a registered tool.
func (r *Registry) schema(name string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[name]
}

// Definitions projects the currently visible tools to the shape exposed
// to the model, in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		if !tool.AllowedInMode(r.mode) {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return defs
}

// Names lists all registered tool names sorted, mode gate ignored.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

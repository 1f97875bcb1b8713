package llm

import (
	"fmt"
	"regexp"
)

// ReasoningLevel selects how much reasoning effort to request from
// providers that support it.
type ReasoningLevel string

const (
	ReasoningOff    ReasoningLevel = ""
	ReasoningLow    ReasoningLevel = "low"
	ReasoningMedium ReasoningLevel = "medium"
	ReasoningHigh   ReasoningLevel = "high"
)

// RequestOptions are the provider-neutral knobs for one send.
type RequestOptions struct {
	Model          string
	Stream         bool
	Temperature    *float64
	TopP           *float64
	MaxTokens      int
	ReasoningLevel ReasoningLevel
}

// ToolDefinition is the projection of a tool that is exposed to the model:
// name, description and a JSON Schema (draft-07 subset) for its arguments.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

var toolNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,63}$`)

// ValidateToolName checks tool names against the wire-format constraint.
func ValidateToolName(name string) error {
	if !toolNameRe.MatchString(name) {
		return fmt.Errorf("invalid tool name %q", name)
	}
	return nil
}

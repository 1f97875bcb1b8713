package agent

import (
	"time"

	"github.com/evanrhodes/tern/pkg/llm"
	"github.com/evanrhodes/tern/pkg/toolexecutor"
)

// Config bounds one agent loop.
type Config struct {
	MaxTurns            int           `json:"max_turns"`
	MaxToolCallsPerTurn int           `json:"max_tool_calls_per_turn"`
	RequestTimeout      time.Duration `json:"request_timeout"`
	ToolTimeout         time.Duration `json:"tool_timeout"`
	SystemPrompt        string        `json:"system_prompt,omitempty"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:            25,
		MaxToolCallsPerTurn: 10,
		RequestTimeout:      120 * time.Second,
		ToolTimeout:         30 * time.Second,
	}
}

// StopReason says why the loop terminated.
type StopReason string

const (
	StopComplete     StopReason = "complete"
	StopMaxTurns     StopReason = "max_turns"
	StopMaxToolCalls StopReason = "max_tool_calls"
	StopCancelled    StopReason = "cancelled"
	StopError        StopReason = "error"
)

// Turn is the outcome of one provider round-trip, including any tool
// calls the executor ran for it.
type Turn struct {
	Text         string
	Thinking     string
	ToolCalls    []toolexecutor.ExecutedCall
	FinishReason llm.FinishReason
	Usage        *llm.Usage
}

// Result is what RunWithMessages returns. NewMessages holds every message
// the loop appended beyond the initial list, in order.
type Result struct {
	Turns       []Turn
	FinalText   string
	TotalUsage  llm.Usage
	StopReason  StopReason
	NewMessages []llm.Message
	Err         error
}

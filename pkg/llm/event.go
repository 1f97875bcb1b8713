package llm

// EventType discriminates the variants of a streaming Event.
type EventType string

const (
	EventStreamStart       EventType = "stream_start"
	EventTextDelta         EventType = "text_delta"
	EventThinkingStart     EventType = "thinking_start"
	EventThinkingDelta     EventType = "thinking_delta"
	EventThinkingEnd       EventType = "thinking_end"
	EventToolCallStart     EventType = "tool_call_start"
	EventToolCallArgsDelta EventType = "tool_call_args_delta"
	EventToolCallEnd       EventType = "tool_call_end"
	EventStreamEnd         EventType = "stream_end"
	EventStreamError       EventType = "stream_error"
)

// Event is one normalized streaming event. Adapters translate vendor wire
// frames into this shape; only the fields relevant to Type are populated.
// Every non-empty stream is StreamStart ... StreamEnd, or StreamStart ...
// StreamError on fatal failure.
type Event struct {
	Type EventType

	// StreamStart
	RequestID string
	Model     string

	// TextDelta / ThinkingDelta
	Text string

	// ToolCall*
	CallID   string
	ToolName string
	ArgsJSON string

	// StreamEnd
	FinishReason FinishReason
	Usage        *Usage

	// StreamError
	Err error
}

// FinishReason is the normalized reason a single provider response ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishOther         FinishReason = "other"
)

// NormalizeFinishReason maps a vendor finish string onto the canonical enum.
// Profiles may rewrite vendor-specific strings before this table applies.
func NormalizeFinishReason(raw string) FinishReason {
	switch raw {
	case "stop", "end_turn", "stop_sequence":
		return FinishStop
	case "length", "max_tokens":
		return FinishLength
	case "tool_use", "tool_calls", "function_call":
		return FinishToolCalls
	case "content_filter", "safety":
		return FinishContentFilter
	default:
		return FinishOther
	}
}

package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanrhodes/tern/pkg/llm"
)

func TestAccumulatorTextAndUsage(t *testing.T) {
	acc := newAccumulator()

	usage := &llm.Usage{PromptTokens: 10, CompletionTokens: 4}
	events := []llm.Event{
		{Type: llm.EventStreamStart, RequestID: "r1"},
		{Type: llm.EventTextDelta, Text: "Hel"},
		{Type: llm.EventTextDelta, Text: "lo"},
		{Type: llm.EventStreamEnd, FinishReason: llm.FinishStop, Usage: usage},
	}
	for i, ev := range events {
		terminal := acc.consume(ev)
		assert.Equal(t, i == len(events)-1, terminal)
	}

	res, err := acc.result()
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.text)
	assert.Equal(t, llm.FinishStop, res.finishReason)
	assert.Equal(t, usage, res.usage)
	assert.Empty(t, res.calls)
}

func TestAccumulatorInterleavedToolCalls(t *testing.T) {
	acc := newAccumulator()

	events := []llm.Event{
		{Type: llm.EventStreamStart},
		{Type: llm.EventToolCallStart, CallID: "a", ToolName: "read_file"},
		{Type: llm.EventToolCallStart, CallID: "b", ToolName: "echo"},
		{Type: llm.EventToolCallArgsDelta, CallID: "b", ArgsJSON: `{"message":`},
		{Type: llm.EventToolCallArgsDelta, CallID: "a", ArgsJSON: `{"path":"x"}`},
		{Type: llm.EventToolCallArgsDelta, CallID: "b", ArgsJSON: `"hi"}`},
		{Type: llm.EventToolCallEnd, CallID: "a"},
		{Type: llm.EventToolCallEnd, CallID: "b"},
		{Type: llm.EventStreamEnd, FinishReason: llm.FinishToolCalls},
	}
	for _, ev := range events {
		acc.consume(ev)
	}

	res, err := acc.result()
	require.NoError(t, err)
	require.Len(t, res.calls, 2)

	// Announcement order, fragments routed by call id.
	assert.Equal(t, "a", res.calls[0].CallID)
	assert.Equal(t, `{"path":"x"}`, res.calls[0].ArgsJSON)
	assert.Equal(t, "b", res.calls[1].CallID)
	assert.Equal(t, `{"message":"hi"}`, res.calls[1].ArgsJSON)
}

func TestAccumulatorIgnoresArgsAfterEnd(t *testing.T) {
	acc := newAccumulator()
	acc.consume(llm.Event{Type: llm.EventToolCallStart, CallID: "a", ToolName: "echo"})
	acc.consume(llm.Event{Type: llm.EventToolCallArgsDelta, CallID: "a", ArgsJSON: "{}"})
	acc.consume(llm.Event{Type: llm.EventToolCallEnd, CallID: "a"})
	acc.consume(llm.Event{Type: llm.EventToolCallArgsDelta, CallID: "a", ArgsJSON: "junk"})
	acc.consume(llm.Event{Type: llm.EventStreamEnd, FinishReason: llm.FinishToolCalls})

	res, err := acc.result()
	require.NoError(t, err)
	assert.Equal(t, "{}", res.calls[0].ArgsJSON)
}

func TestAccumulatorThinking(t *testing.T) {
	acc := newAccumulator()
	acc.consume(llm.Event{Type: llm.EventThinkingStart})
	acc.consume(llm.Event{Type: llm.EventThinkingDelta, Text: "hmm "})
	acc.consume(llm.Event{Type: llm.EventThinkingDelta, Text: "ok"})
	acc.consume(llm.Event{Type: llm.EventThinkingEnd})
	acc.consume(llm.Event{Type: llm.EventTextDelta, Text: "answer"})
	acc.consume(llm.Event{Type: llm.EventStreamEnd, FinishReason: llm.FinishStop})

	res, err := acc.result()
	require.NoError(t, err)
	assert.Equal(t, "hmm ok", res.thinking)
	assert.Equal(t, "answer", res.text)
}

func TestAccumulatorStreamErrorKeepsPartialText(t *testing.T) {
	acc := newAccumulator()
	acc.consume(llm.Event{Type: llm.EventTextDelta, Text: "partial"})
	terminal := acc.consume(llm.Event{Type: llm.EventStreamError, Err: llm.StreamError("cut", errors.New("eof"))})
	assert.True(t, terminal)

	res, err := acc.result()
	require.Error(t, err)
	assert.Equal(t, llm.CodeStreamFailed, llm.ErrorCode(err))
	assert.Equal(t, "partial", res.text)
}

func TestAccumulatorMissingTerminalEvent(t *testing.T) {
	acc := newAccumulator()
	acc.consume(llm.Event{Type: llm.EventTextDelta, Text: "x"})

	_, err := acc.result()
	require.Error(t, err)
	assert.Equal(t, llm.CodeStreamFailed, llm.ErrorCode(err))
}

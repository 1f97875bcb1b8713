package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanrhodes/tern/pkg/llm"
	"github.com/evanrhodes/tern/pkg/retry"
	"github.com/evanrhodes/tern/pkg/toolexecutor"
)

// scriptStep is one scripted provider round-trip: either an immediate
// error or a fixed event sequence.
type scriptStep struct {
	err    error
	events []llm.Event
}

type scriptedProvider struct {
	mu    sync.Mutex
	steps []scriptStep
	calls int
	sent  [][]llm.Message
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Send(ctx context.Context, messages []llm.Message, opts llm.RequestOptions, tools []llm.ToolDefinition) (<-chan llm.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := append([]llm.Message{}, messages...)
	p.sent = append(p.sent, copied)

	step := p.steps[len(p.steps)-1]
	if p.calls < len(p.steps) {
		step = p.steps[p.calls]
	}
	p.calls++

	if step.err != nil {
		return nil, step.err
	}
	ch := make(chan llm.Event, len(step.events))
	for _, ev := range step.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func textStep(text string) scriptStep {
	return scriptStep{events: []llm.Event{
		{Type: llm.EventStreamStart, RequestID: "r"},
		{Type: llm.EventTextDelta, Text: text},
		{Type: llm.EventStreamEnd, FinishReason: llm.FinishStop, Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5}},
	}}
}

func toolStep(callID, name, args string) scriptStep {
	return scriptStep{events: []llm.Event{
		{Type: llm.EventStreamStart, RequestID: "r"},
		{Type: llm.EventToolCallStart, CallID: callID, ToolName: name},
		{Type: llm.EventToolCallArgsDelta, CallID: callID, ArgsJSON: args},
		{Type: llm.EventToolCallEnd, CallID: callID},
		{Type: llm.EventStreamEnd, FinishReason: llm.FinishToolCalls, Usage: &llm.Usage{PromptTokens: 20, CompletionTokens: 8}},
	}}
}

func testRegistry(t *testing.T) *toolexecutor.Registry {
	t.Helper()
	r := toolexecutor.NewRegistry(toolexecutor.ModeFull)
	require.NoError(t, r.Register(&toolexecutor.FuncTool{
		ToolName:        "echo",
		ToolDescription: "Echoes back the input.",
		ToolSchema: toolexecutor.ObjectSchema(map[string]interface{}{
			"message": map[string]interface{}{"type": "string"},
		}, "message"),
		ReadOnly: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			msg, _ := args["message"].(string)
			return msg, nil
		},
	}))
	return r
}

func newTestLoop(t *testing.T, p *scriptedProvider, mutate func(*LoopConfig)) *Loop {
	t.Helper()
	cfg := LoopConfig{
		Config:      DefaultConfig(),
		Options:     llm.RequestOptions{Model: "test-model"},
		Provider:    p,
		Registry:    testRegistry(t),
		RetryPolicy: &retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Logger:      zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	loop, err := NewLoop(cfg)
	require.NoError(t, err)
	return loop
}

func TestNewLoopValidation(t *testing.T) {
	_, err := NewLoop(LoopConfig{Registry: testRegistry(t)})
	assert.Equal(t, llm.CodeConfigInvalid, llm.ErrorCode(err))

	_, err = NewLoop(LoopConfig{Provider: &scriptedProvider{}})
	assert.Equal(t, llm.CodeConfigInvalid, llm.ErrorCode(err))

	cfg := DefaultConfig()
	cfg.MaxTurns = -1
	_, err = NewLoop(LoopConfig{Provider: &scriptedProvider{}, Registry: testRegistry(t), Config: cfg})
	assert.Equal(t, llm.CodeConfigInvalid, llm.ErrorCode(err))
}

func TestRunPlainTextTurn(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{textStep("Hello there")}}
	loop := newTestLoop(t, p, nil)

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})

	require.NoError(t, res.Err)
	assert.Equal(t, StopComplete, res.StopReason)
	assert.Equal(t, "Hello there", res.FinalText)
	assert.Equal(t, 15, res.TotalUsage.Total())
	require.Len(t, res.Turns, 1)
	require.Len(t, res.NewMessages, 1)
	assert.Equal(t, llm.RoleAssistant, res.NewMessages[0].Role)
	assert.Equal(t, 1, p.callCount())
}

func TestRunToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		toolStep("call_1", "echo", `{"message":"ping"}`),
		textStep("pong"),
	}}
	loop := newTestLoop(t, p, nil)

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("echo ping")})

	require.NoError(t, res.Err)
	assert.Equal(t, StopComplete, res.StopReason)
	assert.Equal(t, "pong", res.FinalText)
	require.Len(t, res.Turns, 2)
	require.Len(t, res.Turns[0].ToolCalls, 1)
	assert.True(t, res.Turns[0].ToolCalls[0].Result.Success)
	assert.Equal(t, "ping", res.Turns[0].ToolCalls[0].Result.Content)

	// assistant(tool calls), tool result, final assistant.
	require.Len(t, res.NewMessages, 3)
	assert.Equal(t, llm.RoleAssistant, res.NewMessages[0].Role)
	require.Len(t, res.NewMessages[0].ToolCalls, 1)
	assert.Equal(t, "call_1", res.NewMessages[0].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, res.NewMessages[1].Role)
	assert.Equal(t, "ping", res.NewMessages[1].Content)
	assert.Equal(t, "call_1", res.NewMessages[1].ToolCallID)
	assert.Equal(t, llm.RoleAssistant, res.NewMessages[2].Role)

	// Usage folds across both turns.
	assert.Equal(t, 30, res.TotalUsage.PromptTokens)
	assert.Equal(t, 13, res.TotalUsage.CompletionTokens)

	// The second request carries the tool result back to the provider.
	second := p.sent[1]
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
}

func TestRunToolFailureFeedsErrorBack(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		toolStep("call_1", "echo", `{"wrong":"field"}`),
		textStep("understood"),
	}}
	loop := newTestLoop(t, p, nil)

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("go")})

	require.NoError(t, res.Err)
	assert.Equal(t, StopComplete, res.StopReason)
	require.Len(t, res.Turns, 2)
	assert.False(t, res.Turns[0].ToolCalls[0].Result.Success)

	toolMsg := res.NewMessages[1]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "Error: ")
	assert.Contains(t, toolMsg.Content, "missing required field: message")
}

func TestRunSystemPromptPrepended(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{textStep("ok")}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.Config.SystemPrompt = "be terse"
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})
	require.NoError(t, res.Err)

	first := p.sent[0][0]
	assert.Equal(t, llm.RoleSystem, first.Role)
	assert.Equal(t, "be terse", first.Content)

	// An existing system message is left alone.
	p2 := &scriptedProvider{steps: []scriptStep{textStep("ok")}}
	loop2 := newTestLoop(t, p2, func(cfg *LoopConfig) {
		cfg.Config.SystemPrompt = "be terse"
	})
	loop2.RunWithMessages(context.Background(), []llm.Message{
		llm.SystemMessage("custom"),
		llm.UserMessage("hi"),
	})
	assert.Equal(t, "custom", p2.sent[0][0].Content)
	assert.Len(t, p2.sent[0], 2)
}

func TestRunMaxTurnsZeroNeverCallsProvider(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{textStep("unused")}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.Config.MaxTurns = 0
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})
	assert.Equal(t, StopMaxTurns, res.StopReason)
	assert.Equal(t, 0, p.callCount())
	assert.Empty(t, res.NewMessages)
}

func TestRunMaxTurnsBound(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		toolStep("call_1", "echo", `{"message":"a"}`),
	}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.Config.MaxTurns = 2
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("loop forever")})

	require.NoError(t, res.Err)
	assert.Equal(t, StopMaxTurns, res.StopReason)
	assert.Len(t, res.Turns, 2)
	assert.Equal(t, 2, p.callCount())
}

func TestRunMaxToolCallsPerTurn(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{{events: []llm.Event{
		{Type: llm.EventStreamStart},
		{Type: llm.EventToolCallStart, CallID: "a", ToolName: "echo"},
		{Type: llm.EventToolCallEnd, CallID: "a"},
		{Type: llm.EventToolCallStart, CallID: "b", ToolName: "echo"},
		{Type: llm.EventToolCallEnd, CallID: "b"},
		{Type: llm.EventStreamEnd, FinishReason: llm.FinishToolCalls},
	}}}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.Config.MaxToolCallsPerTurn = 1
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})

	assert.Equal(t, StopMaxToolCalls, res.StopReason)
	require.Len(t, res.Turns, 1)
	// The batch never executed.
	assert.Empty(t, res.Turns[0].ToolCalls)
	// The assistant message with the calls was still recorded.
	require.Len(t, res.NewMessages, 1)
	assert.Len(t, res.NewMessages[0].ToolCalls, 2)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{textStep("unused")}}
	loop := newTestLoop(t, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := loop.RunWithMessages(ctx, []llm.Message{llm.UserMessage("hi")})
	assert.Equal(t, StopCancelled, res.StopReason)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, p.callCount())
}

func TestRunCancelDuringToolBatch(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		toolStep("call_1", "slow", `{}`),
		textStep("unused"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		require.NoError(t, cfg.Registry.Register(&toolexecutor.FuncTool{
			ToolName:        "slow",
			ToolDescription: "Blocks until the caller gives up.",
			ToolSchema:      toolexecutor.ObjectSchema(map[string]interface{}{}),
			ReadOnly:        true,
			Handler: func(hctx context.Context, args map[string]interface{}) (string, error) {
				cancel()
				time.Sleep(2 * time.Second)
				return "too late", nil
			},
		}))
	})

	res := loop.RunWithMessages(ctx, []llm.Message{llm.UserMessage("hi")})

	assert.Equal(t, StopCancelled, res.StopReason)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, p.callCount())

	// The turn keeps the executed batch with its cancellation outcome.
	require.Len(t, res.Turns, 1)
	require.Len(t, res.Turns[0].ToolCalls, 1)
	assert.False(t, res.Turns[0].ToolCalls[0].Result.Success)
	assert.Contains(t, res.Turns[0].ToolCalls[0].Result.Error, "cancelled during execution")

	// No tool result follows the assistant's tool-call message.
	require.Len(t, res.NewMessages, 1)
	assert.Equal(t, llm.RoleAssistant, res.NewMessages[0].Role)
	require.Len(t, res.NewMessages[0].ToolCalls, 1)
	assert.Equal(t, "call_1", res.NewMessages[0].ToolCalls[0].ID)
}

// cancellingProvider cancels the caller's context from inside Send,
// then fails, mimicking a request aborted by a user interrupt.
type cancellingProvider struct {
	cancel context.CancelFunc
	calls  int
}

func (p *cancellingProvider) Name() string { return "cancelling" }

func (p *cancellingProvider) Send(ctx context.Context, messages []llm.Message, opts llm.RequestOptions, tools []llm.ToolDefinition) (<-chan llm.Event, error) {
	p.calls++
	p.cancel()
	return nil, llm.TimeoutError("request aborted", false)
}

func TestRunCancelDuringSendDoesNotTripBreaker(t *testing.T) {
	breaker := retry.NewBreaker(1, 30)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop, err := NewLoop(LoopConfig{
		Config:      DefaultConfig(),
		Options:     llm.RequestOptions{Model: "test-model"},
		Provider:    &cancellingProvider{cancel: cancel},
		Registry:    testRegistry(t),
		RetryPolicy: &retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Breaker:     breaker,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	res := loop.RunWithMessages(ctx, []llm.Message{llm.UserMessage("hi")})

	assert.Equal(t, StopCancelled, res.StopReason)
	assert.NoError(t, res.Err)
	assert.Equal(t, retry.BreakerClosed, breaker.State())
}

func TestRunBreakerDeniesWhenOpen(t *testing.T) {
	breaker := retry.NewBreaker(1, 30)
	breaker.RecordFailure()

	p := &scriptedProvider{steps: []scriptStep{textStep("unused")}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.Breaker = breaker
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})

	assert.Equal(t, StopError, res.StopReason)
	assert.Equal(t, llm.CodeCircuitOpen, llm.ErrorCode(res.Err))
	assert.Contains(t, res.Err.Error(), "retry in 30s")
	assert.Equal(t, 0, p.callCount())
}

func TestRunBreakerRecordsOutcomes(t *testing.T) {
	breaker := retry.NewBreaker(2, 30)

	p := &scriptedProvider{steps: []scriptStep{{err: llm.AuthError("bad key")}}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.Breaker = breaker
	})

	// Two exhausted sends trip a threshold-2 breaker.
	loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})
	assert.Equal(t, retry.BreakerClosed, breaker.State())
	loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})
	assert.Equal(t, retry.BreakerOpen, breaker.State())
}

func TestSendWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		{err: llm.ProviderError("503")},
		{err: llm.RateLimitError("429")},
		textStep("finally"),
	}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.RetryPolicy = &retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
			Multiplier:  1,
			Rand:        func() float64 { return 0 },
		}
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})

	require.NoError(t, res.Err)
	assert.Equal(t, "finally", res.FinalText)
	assert.Equal(t, 3, p.callCount())
}

func TestSendWithRetryExhaustion(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{{err: llm.ProviderError("down")}}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.RetryPolicy = &retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
			Multiplier:  1,
			Rand:        func() float64 { return 0 },
		}
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})

	assert.Equal(t, StopError, res.StopReason)
	assert.Equal(t, llm.CodeProviderFailed, llm.ErrorCode(res.Err))
	assert.Contains(t, res.Err.Error(), "after 3 attempts")
	assert.Equal(t, 3, p.callCount())
}

func TestSendWithRetryTerminalErrorImmediate(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{{err: llm.AuthError("bad key")}}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.RetryPolicy = &retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})

	assert.Equal(t, StopError, res.StopReason)
	assert.Equal(t, llm.CodeAuthFailed, llm.ErrorCode(res.Err))
	assert.Equal(t, 1, p.callCount())
}

func TestRunEmitsEventsToObserver(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{textStep("hi")}}

	var mu sync.Mutex
	var seen []llm.EventType
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.OnEvent = func(ev llm.Event) {
			mu.Lock()
			seen = append(seen, ev.Type)
			mu.Unlock()
		}
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})
	require.NoError(t, res.Err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []llm.EventType{llm.EventStreamStart, llm.EventTextDelta, llm.EventStreamEnd}, seen)
}

func TestRunStreamErrorSurfaces(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		{events: []llm.Event{
			{Type: llm.EventStreamStart},
			{Type: llm.EventTextDelta, Text: "par"},
			{Type: llm.EventStreamError, Err: llm.StreamError("cut", nil)},
		}},
	}}
	loop := newTestLoop(t, p, func(cfg *LoopConfig) {
		cfg.RetryPolicy = &retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	})

	res := loop.RunWithMessages(context.Background(), []llm.Message{llm.UserMessage("hi")})
	assert.Equal(t, StopError, res.StopReason)
	assert.Equal(t, llm.CodeProviderFailed, llm.ErrorCode(res.Err))
}

package toolexecutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanrhodes/tern/pkg/llm"
)

func newTestExecutor(t *testing.T, tools ...Tool) *Executor {
	t.Helper()
	r := NewRegistry(ModeFull)
	for _, tool := range tools {
		require.NoError(t, r.Register(tool))
	}
	return NewExecutor(r, 2*time.Second, zerolog.Nop())
}

func TestExecuteCallSuccess(t *testing.T) {
	e := newTestExecutor(t, echoTool())

	out := e.ExecuteCall(context.Background(), AccumulatedCall{
		CallID:   "c1",
		Name:     "echo",
		ArgsJSON: `{"text":"hello"}`,
	})

	assert.True(t, out.Result.Success)
	assert.Equal(t, "hello", out.Result.Content)
	assert.Equal(t, "c1", out.CallID)
	assert.Equal(t, "hello", out.Args["text"])
	assert.False(t, out.Result.Truncated)
}

func TestExecuteCallUnknownTool(t *testing.T) {
	e := newTestExecutor(t)

	out := e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c1", Name: "nope"})
	assert.False(t, out.Result.Success)
	assert.Equal(t, llm.CodeToolFailed, out.Result.Code)
	assert.Contains(t, out.Result.Error, "tool not found")
}

func TestExecuteCallBlockedByMode(t *testing.T) {
	r := NewRegistry(ModeReadOnly)
	require.NoError(t, r.Register(writerTool()))
	e := NewExecutor(r, time.Second, zerolog.Nop())

	out := e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c1", Name: "write_note"})
	assert.Equal(t, llm.CodeToolFailed, out.Result.Code)
	assert.Contains(t, out.Result.Error, "read_only mode")
}

func TestExecuteCallDeniedByPolicy(t *testing.T) {
	e := newTestExecutor(t, echoTool())
	e.SetPolicy(&Policy{Deny: []string{"echo"}})

	out := e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c1", Name: "echo", ArgsJSON: `{"text":"x"}`})
	assert.Equal(t, llm.CodeToolFailed, out.Result.Code)
	assert.Contains(t, out.Result.Error, "denied by policy")
}

func TestExecuteCallInvalidJSON(t *testing.T) {
	e := newTestExecutor(t, echoTool())

	out := e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c1", Name: "echo", ArgsJSON: `{"text":`})
	assert.Equal(t, llm.CodeToolInvalidArgs, out.Result.Code)
	assert.Contains(t, out.Result.Error, "invalid JSON arguments")
}

func TestExecuteCallSchemaViolations(t *testing.T) {
	e := newTestExecutor(t, echoTool())

	out := e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c1", Name: "echo", ArgsJSON: `{}`})
	assert.Equal(t, llm.CodeToolInvalidArgs, out.Result.Code)
	assert.Contains(t, out.Result.Error, "missing required field: text")

	out = e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c2", Name: "echo", ArgsJSON: `{"text":42}`})
	assert.Equal(t, llm.CodeToolInvalidArgs, out.Result.Code)
	assert.Contains(t, out.Result.Error, "type mismatch")
}

func TestExecuteCallEmptyArgsDefaultToObject(t *testing.T) {
	e := newTestExecutor(t, writerTool())

	out := e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c1", Name: "write_note", ArgsJSON: "  "})
	assert.True(t, out.Result.Success)
	assert.Equal(t, "written", out.Result.Content)
}

func TestExecuteCallToolError(t *testing.T) {
	failing := &FuncTool{
		ToolName:        "fail",
		ToolDescription: "Always fails.",
		ToolSchema:      ObjectSchema(map[string]interface{}{}),
		ReadOnly:        true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", errors.New("disk full")
		},
	}
	e := newTestExecutor(t, failing)

	out := e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c1", Name: "fail"})
	assert.Equal(t, llm.CodeToolFailed, out.Result.Code)
	assert.Equal(t, "disk full", out.Result.Error)
}

func TestExecuteCallPanicRecovery(t *testing.T) {
	panicking := &FuncTool{
		ToolName:        "panic",
		ToolDescription: "Panics.",
		ToolSchema:      ObjectSchema(map[string]interface{}{}),
		ReadOnly:        true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			panic("boom")
		},
	}
	e := newTestExecutor(t, panicking)

	out := e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c1", Name: "panic"})
	assert.Equal(t, llm.CodeToolFailed, out.Result.Code)
	assert.Contains(t, out.Result.Error, "execution panicked: boom")
}

func TestExecuteCallTimeout(t *testing.T) {
	slow := &FuncTool{
		ToolName:        "slow",
		ToolDescription: "Sleeps past the deadline.",
		ToolSchema:      ObjectSchema(map[string]interface{}{}),
		ReadOnly:        true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
	r := NewRegistry(ModeFull)
	require.NoError(t, r.Register(slow))
	e := NewExecutor(r, 50*time.Millisecond, zerolog.Nop())

	out := e.ExecuteCall(context.Background(), AccumulatedCall{CallID: "c1", Name: "slow"})
	assert.Equal(t, llm.CodeTimeout, out.Result.Code)
	assert.Contains(t, out.Result.Error, "timed out")
}

func TestExecuteCallCancellation(t *testing.T) {
	slow := &FuncTool{
		ToolName:        "slow",
		ToolDescription: "Waits for cancellation.",
		ToolSchema:      ObjectSchema(map[string]interface{}{}),
		ReadOnly:        true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			time.Sleep(10 * time.Second)
			return "late", nil
		},
	}
	e := newTestExecutor(t, slow)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	out := e.ExecuteCall(ctx, AccumulatedCall{CallID: "c1", Name: "slow"})
	assert.Equal(t, llm.CodeToolFailed, out.Result.Code)
	assert.Equal(t, "cancelled during execution", out.Result.Error)
}

func TestExecuteBatchShortCircuitsAfterCancel(t *testing.T) {
	e := newTestExecutor(t, echoTool())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.ExecuteBatch(ctx, []AccumulatedCall{
		{CallID: "c1", Name: "echo", ArgsJSON: `{"text":"a"}`},
		{CallID: "c2", Name: "echo", ArgsJSON: `{"text":"b"}`},
	})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Result.Success)
		assert.Equal(t, "cancelled before execution", r.Result.Error)
	}
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	e := newTestExecutor(t, echoTool())

	results := e.ExecuteBatch(context.Background(), []AccumulatedCall{
		{CallID: "c1", Name: "echo", ArgsJSON: `{"text":"first"}`},
		{CallID: "c2", Name: "echo", ArgsJSON: `{"text":"second"}`},
	})

	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Result.Content)
	assert.Equal(t, "second", results[1].Result.Content)
}

func TestTruncateOutput(t *testing.T) {
	big := strings.Repeat("x", maxOutputBytes+1)
	content, truncated := truncateOutput(big)
	assert.True(t, truncated)
	assert.True(t, strings.HasSuffix(content, "[output truncated]"))
	assert.Len(t, content, maxOutputBytes+len("\n... [output truncated]"))

	small, truncated := truncateOutput("ok")
	assert.False(t, truncated)
	assert.Equal(t, "ok", small)
}

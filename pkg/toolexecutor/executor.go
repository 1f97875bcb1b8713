package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/evanrhodes/tern/internal/observability"
	"github.com/evanrhodes/tern/internal/tracing"
	"github.com/evanrhodes/tern/pkg/llm"
)

// maxOutputBytes caps tool output reported back to the model.
const maxOutputBytes = 10 * 1024

// AccumulatedCall is a tool invocation reassembled from streamed
// fragments, ready to validate and execute.
type AccumulatedCall struct {
	CallID   string
	Name     string
	ArgsJSON string
}

// Result is the outcome of one call. Exactly one failure class is
// reported through Code: TOOL_INVALID_ARGS, TOOL_FAILED or TIMEOUT_ERROR.
type Result struct {
	Success   bool
	Content   string
	Error     string
	Code      string
	Truncated bool
}

// ExecutedCall pairs a call with its parsed arguments and result.
type ExecutedCall struct {
	CallID   string
	Name     string
	Args     map[string]interface{}
	Result   Result
	Duration time.Duration
}

// Executor wraps a registry with a per-call timeout and an optional
// allow/deny policy. Calls run sequentially; each executes on its own
// goroutine so blocking tools cannot stall cancellation.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	policy   *Policy
	logger   zerolog.Logger
}

// NewExecutor creates an executor over registry with the given per-tool
// timeout.
func NewExecutor(registry *Registry, timeout time.Duration, logger zerolog.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}
}

// SetPolicy installs an allow/deny policy layered on top of mode gating.
func (e *Executor) SetPolicy(policy *Policy) {
	e.policy = policy
}

// Registry exposes the wrapped registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// ExecuteBatch runs calls sequentially in input order. After cancellation
// the remaining calls short-circuit to "cancelled before execution". The
// result list matches the input in length and order.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []AccumulatedCall) []ExecutedCall {
	results := make([]ExecutedCall, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.ExecuteCall(ctx, call))
	}
	return results
}

// ExecuteCall validates and runs one call under the configured timeout,
// racing completion against cancellation.
func (e *Executor) ExecuteCall(ctx context.Context, call AccumulatedCall) ExecutedCall {
	start := time.Now()
	executed := ExecutedCall{CallID: call.CallID, Name: call.Name}

	fail := func(code, message string) ExecutedCall {
		executed.Result = Result{Success: false, Error: message, Code: code}
		executed.Duration = time.Since(start)
		observability.RecordToolExecution(call.Name, executed.Duration, false)
		observability.RecordToolAudit(ctx, call.Name, tracing.GetSessionID(ctx), "failure",
			map[string]interface{}{"code": code, "error": message})
		e.logger.Debug().
			Str("tool", call.Name).
			Str("call_id", call.CallID).
			Str("code", code).
			Str("error", message).
			Msg("Tool call failed")
		return executed
	}

	if ctx.Err() != nil {
		return fail(llm.CodeToolFailed, "cancelled before execution")
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		if e.registry.IsBlockedByMode(call.Name) {
			return fail(llm.CodeToolFailed, fmt.Sprintf("tool %q is not available in %s mode", call.Name, e.registry.Mode()))
		}
		return fail(llm.CodeToolFailed, fmt.Sprintf("tool not found: %s", call.Name))
	}

	if e.policy != nil && !e.policy.Allows(call.Name) {
		return fail(llm.CodeToolFailed, fmt.Sprintf("tool %q is denied by policy", call.Name))
	}

	args, verr := e.parseAndValidate(call)
	if verr != "" {
		return fail(llm.CodeToolInvalidArgs, verr)
	}
	executed.Args = args

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("execution panicked: %v", r)}
			}
		}()
		content, err := tool.Execute(runCtx, args)
		resultCh <- outcome{content: content, err: err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			return fail(llm.CodeToolFailed, out.err.Error())
		}
		content, truncated := truncateOutput(out.content)
		executed.Result = Result{Success: true, Content: content, Truncated: truncated}
		executed.Duration = time.Since(start)
		if truncated {
			observability.RecordToolOutputTruncated(call.Name)
		}
		observability.RecordToolExecution(call.Name, executed.Duration, true)
		observability.RecordToolAudit(ctx, call.Name, tracing.GetSessionID(ctx), "success", nil)
		e.logger.Debug().
			Str("tool", call.Name).
			Str("call_id", call.CallID).
			Dur("duration", executed.Duration).
			Bool("truncated", truncated).
			Msg("Tool call completed")
		return executed

	case <-runCtx.Done():
		if ctx.Err() != nil {
			return fail(llm.CodeToolFailed, "cancelled during execution")
		}
		return fail(llm.CodeTimeout, fmt.Sprintf("execution timed out after %ds", int(e.timeout.Seconds())))
	}
}

// parseAndValidate decodes the raw argument buffer and checks it against
// the tool's schema, returning an actionable message on failure.
func (e *Executor) parseAndValidate(call AccumulatedCall) (map[string]interface{}, string) {
	raw := call.ArgsJSON
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Sprintf("invalid JSON arguments: %v", err)
	}

	schema := e.registry.schema(call.Name)
	if schema == nil {
		return args, ""
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return nil, fmt.Sprintf("invalid JSON arguments: %v", err)
	}
	if !result.Valid() {
		return nil, describeSchemaErrors(result.Errors())
	}
	return args, ""
}

// describeSchemaErrors renders schema violations the model can act on.
func describeSchemaErrors(errs []gojsonschema.ResultError) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		switch err.Type() {
		case "required":
			if prop, ok := err.Details()["property"].(string); ok {
				parts = append(parts, fmt.Sprintf("missing required field: %s", prop))
				continue
			}
			parts = append(parts, err.Description())
		case "invalid_type":
			parts = append(parts, fmt.Sprintf("type mismatch for %s: %s", err.Field(), err.Description()))
		default:
			parts = append(parts, err.String())
		}
	}
	return strings.Join(parts, "; ")
}

func truncateOutput(content string) (string, bool) {
	if len(content) <= maxOutputBytes {
		return content, false
	}
	return content[:maxOutputBytes] + "\n... [output truncated]", true
}

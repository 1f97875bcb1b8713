// Package agent drives the turn loop: send the conversation to a
// provider, accumulate the streamed response, execute any requested tool
// calls, and repeat until the model stops or a bound is hit.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/evanrhodes/tern/internal/observability"
	"github.com/evanrhodes/tern/internal/tracing"
	"github.com/evanrhodes/tern/pkg/llm"
	"github.com/evanrhodes/tern/pkg/provider"
	"github.com/evanrhodes/tern/pkg/retry"
	"github.com/evanrhodes/tern/pkg/toolexecutor"
)

// LoopConfig wires a Loop together. Provider and Registry are required
// and shared immutable after construction; RetryPolicy and Breaker are
// optional.
type LoopConfig struct {
	Config      Config
	Options     llm.RequestOptions
	Provider    provider.Provider
	Registry    *toolexecutor.Registry
	RetryPolicy *retry.Policy
	Breaker     *retry.Breaker
	ToolPolicy  *toolexecutor.Policy
	Logger      zerolog.Logger

	// OnEvent, when set, observes every normalized event as it is
	// consumed. Intended for front-end streaming.
	OnEvent func(llm.Event)
}

// Loop orchestrates turns over one provider and one tool registry.
type Loop struct {
	config   Config
	options  llm.RequestOptions
	provider provider.Provider
	registry *toolexecutor.Registry
	executor *toolexecutor.Executor
	policy   retry.Policy
	breaker  *retry.Breaker
	logger   zerolog.Logger
	onEvent  func(llm.Event)
}

// NewLoop validates the wiring and builds a loop.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, llm.NewError(llm.CodeConfigInvalid, "provider is required", false)
	}
	if cfg.Registry == nil {
		return nil, llm.NewError(llm.CodeConfigInvalid, "tool registry is required", false)
	}
	if cfg.Config.MaxTurns < 0 || cfg.Config.MaxToolCallsPerTurn < 0 {
		return nil, llm.NewError(llm.CodeConfigInvalid, "loop bounds cannot be negative", false)
	}

	policy := retry.DefaultPolicy()
	if cfg.RetryPolicy != nil {
		policy = *cfg.RetryPolicy
	}

	options := cfg.Options
	options.Stream = true

	executor := toolexecutor.NewExecutor(cfg.Registry, cfg.Config.ToolTimeout, cfg.Logger)
	if cfg.ToolPolicy != nil {
		executor.SetPolicy(cfg.ToolPolicy)
	}

	return &Loop{
		config:   cfg.Config,
		options:  options,
		provider: cfg.Provider,
		registry: cfg.Registry,
		executor: executor,
		policy:   policy,
		breaker:  cfg.Breaker,
		logger:   cfg.Logger,
		onEvent:  cfg.OnEvent,
	}, nil
}

// RunWithMessages drives turns over the initial message list until the
// model completes, a bound is hit, the caller cancels, or an error
// surfaces. It never returns a partial Result: Turns and NewMessages
// always reflect everything that happened before the stop.
func (l *Loop) RunWithMessages(ctx context.Context, initial []llm.Message) Result {
	ctx, span := tracing.StartSpan(
		ctx,
		"agent.run",
		attribute.String("provider", l.provider.Name()),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger)
	start := time.Now()

	history := append([]llm.Message{}, initial...)
	var newMessages []llm.Message
	appendMessage := func(m llm.Message) {
		history = append(history, m)
		newMessages = append(newMessages, m)
	}

	var turns []Turn
	var total llm.Usage

	finish := func(reason StopReason, err error) Result {
		finalText := ""
		if len(turns) > 0 {
			finalText = turns[len(turns)-1].Text
		}
		observability.RecordAgentRun(l.provider.Name(), time.Since(start), err == nil)
		tokens := observability.TokenUsage{Prompt: total.PromptTokens, Completion: total.CompletionTokens}
		if total.ReasoningTokens != nil {
			tokens.Reasoning = *total.ReasoningTokens
		}
		observability.RecordTokens(l.provider.Name(), tokens)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		logger.Info().
			Str("stop_reason", string(reason)).
			Int("turns", len(turns)).
			Int("total_tokens", total.Total()).
			Msg("Agent loop finished")
		return Result{
			Turns:       turns,
			FinalText:   finalText,
			TotalUsage:  total,
			StopReason:  reason,
			NewMessages: newMessages,
			Err:         err,
		}
	}

	for turn := 0; turn < l.config.MaxTurns; turn++ {
		if ctx.Err() != nil {
			return finish(StopCancelled, nil)
		}

		outgoing := l.buildOutgoing(history)

		if l.breaker != nil && !l.breaker.Allow() {
			err := llm.NewError(llm.CodeCircuitOpen,
				fmt.Sprintf("circuit open; retry in %ds", l.breaker.RetryAfter()), false)
			return finish(StopError, err)
		}

		res, err := l.sendWithRetry(ctx, outgoing)
		if err != nil {
			// A caller interrupt is not a provider fault; the breaker
			// only counts failures the provider caused.
			if ctx.Err() != nil {
				return finish(StopCancelled, nil)
			}
			if l.breaker != nil {
				wasOpen := l.breaker.State() == retry.BreakerOpen
				l.breaker.RecordFailure()
				l.publishBreakerState()
				if !wasOpen && l.breaker.State() == retry.BreakerOpen {
					observability.RecordBreakerTrip(l.provider.Name())
				}
			}
			observability.RecordProviderAudit(ctx, l.provider.Name(), tracing.GetSessionID(ctx), "failure",
				map[string]interface{}{"error": err.Error()})
			return finish(StopError, err)
		}
		if l.breaker != nil {
			l.breaker.RecordSuccess()
			l.publishBreakerState()
		}
		observability.RecordProviderAudit(ctx, l.provider.Name(), tracing.GetSessionID(ctx), "success", nil)

		if res.usage != nil {
			total.Add(*res.usage)
		}

		if len(res.calls) == 0 && res.finishReason != llm.FinishToolCalls {
			// Terminal turn: Stop completes normally; Length,
			// ContentFilter and Other cannot drive further progress.
			appendMessage(llm.AssistantMessage(res.text))
			turns = append(turns, Turn{
				Text:         res.text,
				Thinking:     res.thinking,
				FinishReason: res.finishReason,
				Usage:        res.usage,
			})
			return finish(StopComplete, nil)
		}

		refs := make([]llm.ToolCall, 0, len(res.calls))
		for _, call := range res.calls {
			refs = append(refs, llm.ToolCall{ID: call.CallID, Name: call.Name, Arguments: call.ArgsJSON})
		}
		appendMessage(llm.AssistantMessage(res.text, refs...))

		if len(res.calls) > l.config.MaxToolCallsPerTurn {
			turns = append(turns, Turn{
				Text:         res.text,
				Thinking:     res.thinking,
				FinishReason: res.finishReason,
				Usage:        res.usage,
			})
			logger.Warn().
				Int("tool_calls", len(res.calls)).
				Int("limit", l.config.MaxToolCallsPerTurn).
				Msg("Tool call limit exceeded")
			return finish(StopMaxToolCalls, nil)
		}

		executed := l.executor.ExecuteBatch(ctx, res.calls)
		turns = append(turns, Turn{
			Text:         res.text,
			Thinking:     res.thinking,
			ToolCalls:    executed,
			FinishReason: res.finishReason,
			Usage:        res.usage,
		})

		if ctx.Err() != nil {
			// Discard the results of the cancelled batch; the session
			// keeps only what was appended before the cancelled turn.
			return finish(StopCancelled, nil)
		}

		for _, call := range executed {
			content := call.Result.Content
			if !call.Result.Success {
				content = "Error: " + call.Result.Error
			}
			appendMessage(llm.ToolMessage(call.CallID, content))
		}
	}

	return finish(StopMaxTurns, nil)
}

// publishBreakerState mirrors the breaker state onto the gauge.
func (l *Loop) publishBreakerState() {
	var state int
	switch l.breaker.State() {
	case retry.BreakerOpen:
		state = 1
	case retry.BreakerHalfOpen:
		state = 2
	}
	observability.SetBreakerState(l.provider.Name(), state)
}

// buildOutgoing prepends the configured system prompt unless one is
// already in the history.
func (l *Loop) buildOutgoing(history []llm.Message) []llm.Message {
	if l.config.SystemPrompt == "" {
		return history
	}
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			return history
		}
	}
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.SystemMessage(l.config.SystemPrompt))
	out = append(out, history...)
	return out
}

// sendWithRetry performs one provider round-trip under the retry policy.
// Each attempt gets its own request-timeout context; transient failures
// are retried with backoff raced against cancellation, terminal ones
// propagate immediately.
func (l *Loop) sendWithRetry(ctx context.Context, outgoing []llm.Message) (turnResult, error) {
	tools := l.registry.Definitions()
	maxAttempts := l.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if delay := l.policy.DelayForAttempt(attempt); delay > 0 {
			observability.RecordProviderRetry(l.provider.Name())
			l.logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying provider call")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return turnResult{}, llm.TimeoutError("cancelled while waiting to retry", false)
			}
		}

		attemptStart := time.Now()
		res, err := l.attempt(ctx, outgoing, tools)
		observability.RecordProviderRequest(l.provider.Name(), time.Since(attemptStart), err == nil)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || !llm.IsRetryable(err) {
			return turnResult{}, err
		}
		l.logger.Warn().Err(err).Int("attempt", attempt).Msg("Provider call failed")
	}

	return turnResult{}, llm.WrapError(llm.CodeProviderFailed,
		fmt.Sprintf("provider failed after %d attempts", maxAttempts), false, lastErr)
}

// attempt sends once and drains the stream to completion.
func (l *Loop) attempt(ctx context.Context, outgoing []llm.Message, tools []llm.ToolDefinition) (turnResult, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if l.config.RequestTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, l.config.RequestTimeout)
		defer cancel()
	}

	events, err := l.provider.Send(attemptCtx, outgoing, l.options, tools)
	if err != nil {
		return turnResult{}, err
	}

	acc := newAccumulator()
	for ev := range events {
		observability.RecordStreamEvent(l.provider.Name(), string(ev.Type))
		if l.onEvent != nil {
			l.onEvent(ev)
		}
		if acc.consume(ev) {
			break
		}
	}
	return acc.result()
}

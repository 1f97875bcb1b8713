package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/evanrhodes/tern/internal/tracing"
	"github.com/evanrhodes/tern/pkg/agent"
	"github.com/evanrhodes/tern/pkg/llm"
)

// Context composes a store with an agent loop: it owns one session and
// runs sends against it, persisting after every send whether or not the
// loop succeeded so the user's message is never silently lost.
type Context struct {
	store   Store
	loop    *agent.Loop
	session *Session
	logger  zerolog.Logger
}

// New creates and persists a fresh session. The loop config's system
// prompt, when set, becomes the session's first message.
func New(ctx context.Context, store Store, loopCfg agent.LoopConfig) (*Context, error) {
	loop, err := agent.NewLoop(loopCfg)
	if err != nil {
		return nil, err
	}
	s, err := store.Create(ctx, loopCfg.Config.SystemPrompt)
	if err != nil {
		return nil, err
	}
	loopCfg.Logger.Info().Str("session_id", s.Meta.ID).Msg("Session created")
	return &Context{
		store:   store,
		loop:    loop,
		session: s,
		logger:  loopCfg.Logger,
	}, nil
}

// Resume loads and validates an existing session. Validation failures
// are fatal for resume.
func Resume(ctx context.Context, store Store, id string, loopCfg agent.LoopConfig) (*Context, error) {
	loop, err := agent.NewLoop(loopCfg)
	if err != nil {
		return nil, err
	}
	s, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return &Context{
		store:   store,
		loop:    loop,
		session: s,
		logger:  loopCfg.Logger,
	}, nil
}

// ID returns the session id.
func (c *Context) ID() string {
	return c.session.Meta.ID
}

// Session returns a copy of the current session state.
func (c *Context) Session() *Session {
	return c.session.Clone()
}

// Send appends the user message, runs the agent loop over the full
// history, folds the loop's new messages and usage back into the
// session, and persists. On loop failure the session is still persisted
// with whatever accumulated, and the loop error is returned.
func (c *Context) Send(ctx context.Context, userText string) (agent.Result, error) {
	ctx = tracing.NewRunContext(ctx, c.session.Meta.ID)
	logger := tracing.LoggerFromContext(ctx, c.logger)

	c.session.Append(llm.UserMessage(userText))

	res := c.loop.RunWithMessages(ctx, c.session.Clone().Messages)

	for _, m := range res.NewMessages {
		if m.Role == llm.RoleSystem {
			continue
		}
		c.session.Append(m)
	}
	c.session.Meta.TurnCount++
	c.session.Meta.TotalTokens += res.TotalUsage.Total()
	c.session.Meta.UpdatedAt = time.Now().UTC()

	// Persist on a detached context so cancellation of the run cannot
	// lose the appended messages.
	saveErr := c.store.Save(tracing.CloneContext(ctx), c.session)
	if saveErr != nil {
		logger.Error().Err(saveErr).Msg("Session persist failed")
	}

	if res.Err != nil {
		return res, res.Err
	}
	if saveErr != nil {
		return res, saveErr
	}

	logger.Debug().
		Str("stop_reason", string(res.StopReason)).
		Int("turns", len(res.Turns)).
		Msg("Send completed")

	return res, nil
}

// Package session persists conversation history. A Session is an
// append-oriented record of messages plus bookkeeping metadata; stores
// provide durable or in-memory persistence keyed by session id, and
// Context composes a store with the agent loop.
package session

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/evanrhodes/tern/pkg/llm"
)

// SchemaVersion is the current persisted session schema. Loads accept
// only this version; anything else requires a migration.
const SchemaVersion = 1

const idPrefix = "sess_"

// Meta carries session bookkeeping updated on every send.
type Meta struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	TurnCount   int       `json:"turn_count"`
	TotalTokens int       `json:"total_tokens"`
}

// Session is the unit of persistence: metadata plus the ordered message
// history.
type Session struct {
	Meta          Meta          `json:"meta"`
	Messages      []llm.Message `json:"messages"`
	SchemaVersion int           `json:"schema_version"`
}

// NewID mints a session id with the sess_ prefix.
func NewID() string {
	return idPrefix + gonanoid.Must(21)
}

// NewSession builds an empty session with fresh metadata.
func NewSession() *Session {
	now := time.Now().UTC()
	return &Session{
		Meta: Meta{
			ID:        NewID(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		SchemaVersion: SchemaVersion,
	}
}

// Append adds messages to the history.
func (s *Session) Append(messages ...llm.Message) {
	s.Messages = append(s.Messages, messages...)
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's copy.
func (s *Session) Clone() *Session {
	out := &Session{
		Meta:          s.Meta,
		SchemaVersion: s.SchemaVersion,
	}
	if s.Messages != nil {
		out.Messages = make([]llm.Message, len(s.Messages))
		for i, m := range s.Messages {
			cm := m
			if m.ToolCalls != nil {
				cm.ToolCalls = append([]llm.ToolCall(nil), m.ToolCalls...)
			}
			out.Messages[i] = cm
		}
	}
	return out
}

// Validate checks the invariants required to resume a session: a
// non-empty history, a supported schema version, unique tool-call
// introductions, and every tool result referencing a known call id.
func Validate(s *Session) error {
	if s == nil {
		return llm.NewError(llm.CodeSessionFailed, "session is nil", false)
	}
	if s.SchemaVersion != SchemaVersion {
		return llm.NewError(llm.CodeSessionFailed,
			fmt.Sprintf("unsupported schema version %d", s.SchemaVersion), false)
	}
	if len(s.Messages) == 0 {
		return llm.NewError(llm.CodeSessionFailed, "session has no messages", false)
	}

	introduced := make(map[string]bool)
	for i, m := range s.Messages {
		switch m.Role {
		case llm.RoleAssistant:
			for _, call := range m.ToolCalls {
				if introduced[call.ID] {
					return llm.NewError(llm.CodeSessionFailed,
						fmt.Sprintf("duplicate tool call id %q at message %d", call.ID, i), false)
				}
				introduced[call.ID] = true
			}
		case llm.RoleTool:
			if !introduced[m.ToolCallID] {
				return llm.NewError(llm.CodeSessionFailed,
					fmt.Sprintf("tool message %d references unknown call id %q", i, m.ToolCallID), false)
			}
		}
	}
	return nil
}

package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanrhodes/tern/pkg/llm"
)

// Store is the pluggable persistence interface over session ids. A
// committed Save must survive process restart for durable
// implementations. Load returns the stored copy after validation;
// implementations serialize writes per session id.
type Store interface {
	// Create mints, persists and returns a fresh session. When
	// systemPrompt is non-empty it is appended as the first message
	// before the session is persisted.
	Create(ctx context.Context, systemPrompt string) (*Session, error)
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// validateID rejects ids that could escape the store's keyspace.
func validateID(id string) error {
	if id == "" {
		return llm.NewError(llm.CodeSessionFailed, "session id cannot be empty", false)
	}
	if !strings.HasPrefix(id, idPrefix) {
		return llm.NewError(llm.CodeSessionFailed,
			fmt.Sprintf("session id %q lacks the %s prefix", id, idPrefix), false)
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\") || strings.Contains(id, "\x00") {
		return llm.NewError(llm.CodeSessionFailed,
			fmt.Sprintf("session id %q contains forbidden characters", id), false)
	}
	return nil
}

// newSessionWithPrompt builds the initial session for Create.
func newSessionWithPrompt(systemPrompt string) *Session {
	s := NewSession()
	if systemPrompt != "" {
		s.Append(llm.SystemMessage(systemPrompt))
	}
	return s
}

// ErrNotFound reports an id with no stored session.
func ErrNotFound(id string) error {
	return llm.NewError(llm.CodeSessionFailed, fmt.Sprintf("session %s not found", id), false)
}

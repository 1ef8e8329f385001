package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
)

// ValidTransition reports whether the session state machine permits moving
// from the current status to the given one. Stop forces running back to idle;
// completed and error sessions may be resumed into running.
func (s SessionStatus) ValidTransition(to SessionStatus) bool {
	switch s {
	case SessionStatusIdle:
		return to == SessionStatusRunning
	case SessionStatusRunning:
		return to == SessionStatusCompleted || to == SessionStatusError || to == SessionStatusIdle
	case SessionStatusCompleted, SessionStatusError:
		return to == SessionStatusRunning
	default:
		return false
	}
}

// Terminal reports whether the status ends a run.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusError
}

// Session is one user-facing task/conversation. The worker process attached
// to a running session persists its conversation log out-of-band; Cursor
// tracks how far that log has been read and ConversationID binds the session
// to exactly one external log for its lifetime.
type Session struct {
	ID             uuid.UUID     `json:"id"`
	Title          string        `json:"title"`
	WorkingDir     string        `json:"working_dir"`
	Status         SessionStatus `json:"status"`
	Model          string        `json:"model,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Cursor         int           `json:"cursor"`
	LastPrompt     string        `json:"last_prompt,omitempty"`
	Interactive    bool          `json:"interactive"`
	LastError      string        `json:"last_error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// SessionUpdate is a partial-field merge: only non-nil fields are written,
// so concurrent updates to distinct fields never clobber each other.
type SessionUpdate struct {
	Title          *string
	Status         *SessionStatus
	Model          *string
	ConversationID *string
	Cursor         *int
	LastPrompt     *string
	LastError      *string
}

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Update(ctx context.Context, id uuid.UUID, upd SessionUpdate) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type MessageRepository interface {
	Append(ctx context.Context, sessionID uuid.UUID, msg *Message) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Message, error)
	ReplaceAll(ctx context.Context, sessionID uuid.UUID, msgs []*Message) error
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

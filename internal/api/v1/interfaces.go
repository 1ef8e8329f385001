package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/nautlabs/skiff/internal/convo"
	"github.com/nautlabs/skiff/internal/domain"
	"github.com/nautlabs/skiff/internal/runner"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *sqlite.Store satisfies this interface.
type DataStore interface {
	Sessions() domain.SessionRepository
	Messages() domain.MessageRepository
}

// SessionRunner abstracts worker lifecycle operations for handler testing.
// *runner.Runner satisfies this interface.
type SessionRunner interface {
	Start(ctx context.Context, sess *domain.Session, prompt string, resume bool) error
	Stop(ctx context.Context, sessionID uuid.UUID) error
	Resolve(sessionID uuid.UUID, toolUseID string, approve bool) bool
	Release(sessionID uuid.UUID)
	Active(sessionID uuid.UUID) bool
	Pending(sessionID uuid.UUID) []*runner.PendingPermission
}

// ConversationSync abstracts the conversation synchronizer for handler
// testing. *convo.Synchronizer satisfies this interface.
type ConversationSync interface {
	Sync(ctx context.Context, workingDir string, cursor int) (convo.SyncResult, error)
	UpdateModel(ctx context.Context, workingDir, model string) error
}

// EventPublisher abstracts the dispatcher's publish operation.
// *dispatch.Dispatcher satisfies this interface.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

package runner

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// PendingPermission correlates one worker-issued tool invocation awaiting a
// human decision. It resolves exactly once; later resolutions are no-ops.
type PendingPermission struct {
	SessionID uuid.UUID
	ToolUseID string
	ToolName  string
	ToolInput map[string]any

	once     sync.Once
	approved bool
	resolved chan struct{}
}

func newPendingPermission(sessionID uuid.UUID, toolUseID, toolName string, input map[string]any) *PendingPermission {
	return &PendingPermission{
		SessionID: sessionID,
		ToolUseID: toolUseID,
		ToolName:  toolName,
		ToolInput: input,
		resolved:  make(chan struct{}),
	}
}

// Wait blocks until the permission is resolved or the context ends.
func (p *PendingPermission) Wait(ctx context.Context) (bool, error) {
	select {
	case <-p.resolved:
		return p.approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resolve delivers the decision. Reports false when already resolved.
func (p *PendingPermission) resolve(approve bool) bool {
	did := false
	p.once.Do(func() {
		p.approved = approve
		close(p.resolved)
		did = true
	})
	return did
}

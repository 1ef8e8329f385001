package convo

import (
	"context"
	"fmt"

	"github.com/nautlabs/skiff/internal/domain"
)

// SyncResult carries the messages produced from the unread suffix of a
// conversation log plus the advanced cursor.
type SyncResult struct {
	Messages       []*domain.Message
	Cursor         int
	ConversationID string
}

// Synchronizer reads the external conversation log and converts only entries
// past the caller's cursor. The new cursor is the full history length at
// read time, so an entry is never re-adapted once covered.
type Synchronizer struct {
	logs *LogStore
}

func NewSynchronizer(logs *LogStore) *Synchronizer {
	return &Synchronizer{logs: logs}
}

func (s *Synchronizer) Sync(ctx context.Context, workingDir string, cursor int) (SyncResult, error) {
	doc, err := s.logs.Read(ctx, workingDir)
	if err != nil {
		return SyncResult{}, fmt.Errorf("convo.Synchronizer.Sync: %w", err)
	}

	total := len(doc.History)
	start := min(cursor, total)

	return SyncResult{
		Messages:       Convert(doc.History[start:], doc.ConversationID, doc.DefaultParams.Model),
		Cursor:         total,
		ConversationID: doc.ConversationID,
	}, nil
}

// UpdateModel rewrites the stored default model for a working directory.
// The only write this subsystem ever performs against the external log.
func (s *Synchronizer) UpdateModel(ctx context.Context, workingDir, model string) error {
	if err := s.logs.UpdateModel(ctx, workingDir, model); err != nil {
		return fmt.Errorf("convo.Synchronizer.UpdateModel: %w", err)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nautlabs/skiff/internal/domain"
)

// MessageRepo stores each session's canonical message history. Messages are
// append-only and ordered by insertion (rowid).
type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Append(ctx context.Context, sessionID uuid.UUID, msg *domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("messageRepo.Append: marshal: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, sessionID.String(), msg.Kind, string(payload), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.Append: %w", err)
	}

	return nil
}

func (r *MessageRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE session_id = ? ORDER BY rowid`,
		sessionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("messageRepo.ListBySession: scan: %w", err)
		}

		var msg domain.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("messageRepo.ListBySession: unmarshal: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.ListBySession: rows: %w", err)
	}

	return msgs, nil
}

// ReplaceAll swaps a session's entire history in one transaction. Used when
// rehydrating from the external conversation log after a restart.
func (r *MessageRepo) ReplaceAll(ctx context.Context, sessionID uuid.UUID, msgs []*domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("messageRepo.ReplaceAll: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID.String()); err != nil {
		return fmt.Errorf("messageRepo.ReplaceAll: delete: %w", err)
	}

	for _, msg := range msgs {
		payload, marshalErr := json.Marshal(msg)
		if marshalErr != nil {
			return fmt.Errorf("messageRepo.ReplaceAll: marshal: %w", marshalErr)
		}
		if _, execErr := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, sessionID.String(), msg.Kind, string(payload), msg.CreatedAt,
		); execErr != nil {
			return fmt.Errorf("messageRepo.ReplaceAll: insert: %w", execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("messageRepo.ReplaceAll: commit: %w", err)
	}

	return nil
}

func (r *MessageRepo) CountBySession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("messageRepo.CountBySession: %w", err)
	}

	return count, nil
}

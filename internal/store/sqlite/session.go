package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nautlabs/skiff/internal/domain"
)

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, working_dir, status, model, conversation_id, cursor, last_prompt, interactive, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.Title, s.WorkingDir, s.Status, s.Model, s.ConversationID,
		s.Cursor, s.LastPrompt, s.Interactive, s.LastError, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}

	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, title, working_dir, status, model, conversation_id, cursor, last_prompt, interactive, last_error, created_at, updated_at
		 FROM sessions WHERE id = ?`,
		id.String(),
	)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", err)
	}

	return s, nil
}

func (r *SessionRepo) List(ctx context.Context) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, working_dir, status, model, conversation_id, cursor, last_prompt, interactive, last_error, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.List: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sessionRepo.List: scan: %w", scanErr)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.List: rows: %w", err)
	}

	return sessions, nil
}

// Update writes only the non-nil fields, so concurrent updates to distinct
// fields of the same session never clobber each other.
func (r *SessionRepo) Update(ctx context.Context, id uuid.UUID, upd domain.SessionUpdate) error {
	var (
		sets []string
		args []any
	)

	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.Model != nil {
		sets = append(sets, "model = ?")
		args = append(args, *upd.Model)
	}
	if upd.ConversationID != nil {
		sets = append(sets, "conversation_id = ?")
		args = append(args, *upd.ConversationID)
	}
	if upd.Cursor != nil {
		sets = append(sets, "cursor = ?")
		args = append(args, *upd.Cursor)
	}
	if upd.LastPrompt != nil {
		sets = append(sets, "last_prompt = ?")
		args = append(args, *upd.LastPrompt)
	}
	if upd.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *upd.LastError)
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now(), id.String())

	res, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sessionRepo.Update: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sessionRepo.Update: %w", domain.ErrNotFound)
	}

	return nil
}

// Delete removes the session and its message history in one transaction.
func (r *SessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessionRepo.Delete: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id.String()); err != nil {
		return fmt.Errorf("sessionRepo.Delete: messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sessionRepo.Delete: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sessionRepo.Delete: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sessionRepo.Delete: %w", domain.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sessionRepo.Delete: commit: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s  domain.Session
		id string
	)

	err := row.Scan(
		&id, &s.Title, &s.WorkingDir, &s.Status, &s.Model, &s.ConversationID,
		&s.Cursor, &s.LastPrompt, &s.Interactive, &s.LastError, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}

	return &s, nil
}

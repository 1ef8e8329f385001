package v1

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nautlabs/skiff/internal/domain"
	"github.com/nautlabs/skiff/internal/export"
)

type CreateSessionInput struct {
	Body struct {
		Title       string `json:"title" maxLength:"200" doc:"Human-readable session title"`
		WorkingDir  string `json:"working_dir" minLength:"1" doc:"Absolute working directory for the worker"`
		Model       string `json:"model,omitempty" doc:"Model identifier passed to the worker"`
		Interactive bool   `json:"interactive,omitempty" doc:"Hold untrusted tool invocations for confirmation"`
	}
}

type CreateSessionOutput struct {
	Body *domain.Session
}

type GetSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body *domain.Session
}

type ListSessionsOutput struct {
	Body []*domain.Session
}

type GetHistoryInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type GetHistoryOutput struct {
	Body []*domain.Message
}

type DeleteSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type ExportSessionInput struct {
	ID     uuid.UUID `path:"id" doc:"Session ID"`
	Format string    `query:"format" enum:"json,yaml,md" default:"json" doc:"Export format"`
}

type ExportSessionOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func RegisterSessionRoutes(api huma.API, store DataStore, run SessionRunner, sync ConversationSync, events EventPublisher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List all sessions",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, _ *struct{}) (*ListSessionsOutput, error) {
		sessions, err := store.Sessions().List(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list sessions", err)
		}

		publish(ctx, events, domain.Event{Type: domain.EventSessionList, Sessions: sessions})

		return &ListSessionsOutput{Body: sessions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Create a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
		now := time.Now()
		sess := &domain.Session{
			ID:          uuid.New(),
			Title:       input.Body.Title,
			WorkingDir:  input.Body.WorkingDir,
			Status:      domain.SessionStatusIdle,
			Model:       input.Body.Model,
			Interactive: input.Body.Interactive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := store.Sessions().Create(ctx, sess); err != nil {
			return nil, huma.Error500InternalServerError("failed to create session", err)
		}

		return &CreateSessionOutput{Body: sess}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session by ID",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		sess, err := store.Sessions().GetByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		return &GetSessionOutput{Body: sess}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-history",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/history",
		Summary:     "Get a session's message history",
		Description: "Re-synchronizes the external conversation log before answering, so entries written out-of-band are never hidden by a stale cursor.",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetHistoryInput) (*GetHistoryOutput, error) {
		sess, err := store.Sessions().GetByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		hydrate(ctx, store, run, sync, events, sess)

		msgs, err := store.Messages().ListBySession(ctx, sess.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list messages", err)
		}

		publish(ctx, events, domain.Event{
			Type:      domain.EventSessionHistory,
			SessionID: sess.ID,
			Messages:  msgs,
		})

		return &GetHistoryOutput{Body: msgs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}",
		Summary:     "Delete a session",
		Description: "Aborts any in-flight run, releases pending permission waiters, and removes the session with its history.",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *DeleteSessionInput) (*struct{}, error) {
		run.Release(input.ID)

		if err := store.Sessions().Delete(ctx, input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to delete session", err)
		}

		publish(ctx, events, domain.Event{Type: domain.EventSessionDeleted, SessionID: input.ID})

		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/export",
		Summary:     "Export a session transcript",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ExportSessionInput) (*ExportSessionOutput, error) {
		sess, err := store.Sessions().GetByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		msgs, err := store.Messages().ListBySession(ctx, sess.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list messages", err)
		}

		exporter, err := export.NewExporter(input.Format)
		if err != nil {
			return nil, huma.Error400BadRequest("unsupported export format: " + input.Format)
		}

		var buf bytes.Buffer
		if err := exporter.Export(sess, msgs, &buf); err != nil {
			return nil, huma.Error500InternalServerError("failed to export session", err)
		}

		return &ExportSessionOutput{
			ContentType: exporter.ContentType(),
			Body:        buf.Bytes(),
		}, nil
	})
}

// hydrate refreshes the stored history from the external conversation log.
// Skipped while a run is active (the poll loop is already syncing). A store
// that lost its messages but kept a non-zero cursor (fresh database after a
// restart) is rebuilt from the full log. Sync failures here are best-effort:
// absence of a log is normal for a session that never ran.
func hydrate(ctx context.Context, store DataStore, run SessionRunner, sync ConversationSync, events EventPublisher, sess *domain.Session) {
	if sess.WorkingDir == "" || run.Active(sess.ID) {
		return
	}

	count, err := store.Messages().CountBySession(ctx, sess.ID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("v1.hydrate: count failed")
		return
	}

	if sess.Cursor > 0 && count == 0 {
		res, syncErr := sync.Sync(ctx, sess.WorkingDir, 0)
		if syncErr != nil {
			if !errors.Is(syncErr, domain.ErrNoConversation) {
				log.Error().Err(syncErr).Str("session_id", sess.ID.String()).Msg("v1.hydrate: full resync failed")
			}
			return
		}
		if err := store.Messages().ReplaceAll(ctx, sess.ID, res.Messages); err != nil {
			log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("v1.hydrate: replace failed")
			return
		}
		advanceCursor(ctx, store, sess, res.Cursor, res.ConversationID)
		return
	}

	res, syncErr := sync.Sync(ctx, sess.WorkingDir, sess.Cursor)
	if syncErr != nil {
		if !errors.Is(syncErr, domain.ErrNoConversation) {
			log.Error().Err(syncErr).Str("session_id", sess.ID.String()).Msg("v1.hydrate: sync failed")
		}
		return
	}

	for _, msg := range res.Messages {
		publish(ctx, events, domain.Event{
			Type:      domain.EventStreamMessage,
			SessionID: sess.ID,
			Message:   msg,
		})
	}
	advanceCursor(ctx, store, sess, res.Cursor, res.ConversationID)
}

func advanceCursor(ctx context.Context, store DataStore, sess *domain.Session, cursor int, convID string) {
	upd := domain.SessionUpdate{}
	if cursor != sess.Cursor {
		upd.Cursor = &cursor
		sess.Cursor = cursor
	}
	if convID != "" && sess.ConversationID == "" {
		upd.ConversationID = &convID
		sess.ConversationID = convID
	}
	if upd.Cursor == nil && upd.ConversationID == nil {
		return
	}
	if err := store.Sessions().Update(ctx, sess.ID, upd); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("v1.advanceCursor: update failed")
	}
}

func publish(ctx context.Context, events EventPublisher, evt domain.Event) {
	if err := events.Publish(ctx, evt); err != nil {
		log.Error().Err(err).Str("event", string(evt.Type)).Msg("v1: failed to publish event")
	}
}

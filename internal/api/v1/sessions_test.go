package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/nautlabs/skiff/internal/api/v1"
	"github.com/nautlabs/skiff/internal/convo"
	"github.com/nautlabs/skiff/internal/domain"
)

func fixtureSession(status domain.SessionStatus) *domain.Session {
	return &domain.Session{
		ID:         uuid.New(),
		Title:      "wire the exporter",
		WorkingDir: "/work/app",
		Status:     status,
		Model:      "fast-1",
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

// ---------------------------------------------------------------------------
// TestCreateSession
// ---------------------------------------------------------------------------

func TestCreateSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		var created *domain.Session
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				createFunc: func(_ context.Context, s *domain.Session) error {
					created = s
					return nil
				},
			},
		}
		v1.RegisterSessionRoutes(api, store, &mockRunner{}, &mockSync{}, &eventSink{})

		resp := api.Post("/sessions", map[string]any{
			"title":       "wire the exporter",
			"working_dir": "/work/app",
			"model":       "fast-1",
			"interactive": true,
		})
		require.Equal(t, http.StatusOK, resp.Code)

		require.NotNil(t, created)
		assert.Equal(t, "wire the exporter", created.Title)
		assert.Equal(t, "/work/app", created.WorkingDir)
		assert.Equal(t, domain.SessionStatusIdle, created.Status)
		assert.True(t, created.Interactive)
		assert.NotEqual(t, uuid.Nil, created.ID)
	})

	t.Run("missing_working_dir", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{sessions: &mockSessionRepo{}}
		v1.RegisterSessionRoutes(api, store, &mockRunner{}, &mockSync{}, &eventSink{})

		resp := api.Post("/sessions", map[string]any{"title": "no dir"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// TestListSessions
// ---------------------------------------------------------------------------

func TestListSessions(t *testing.T) {
	t.Parallel()

	sessions := []*domain.Session{fixtureSession(domain.SessionStatusIdle), fixtureSession(domain.SessionStatusRunning)}

	_, api := humatest.New(t)
	events := &eventSink{}
	store := &mockDataStore{
		sessions: &mockSessionRepo{
			listFunc: func(_ context.Context) ([]*domain.Session, error) {
				return sessions, nil
			},
		},
	}
	v1.RegisterSessionRoutes(api, store, &mockRunner{}, &mockSync{}, events)

	resp := api.Get("/sessions")
	require.Equal(t, http.StatusOK, resp.Code)

	var got []*domain.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	// Listing also broadcasts the roster.
	listEvents := events.byType(domain.EventSessionList)
	require.Len(t, listEvents, 1)
	assert.Len(t, listEvents[0].Sessions, 2)
}

// ---------------------------------------------------------------------------
// TestGetSession
// ---------------------------------------------------------------------------

func TestGetSession(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		sess := fixtureSession(domain.SessionStatusCompleted)
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, id uuid.UUID) (*domain.Session, error) {
					assert.Equal(t, sess.ID, id)
					return sess, nil
				},
			},
		}
		v1.RegisterSessionRoutes(api, store, &mockRunner{}, &mockSync{}, &eventSink{})

		resp := api.Get("/sessions/" + sess.ID.String())
		require.Equal(t, http.StatusOK, resp.Code)

		var got domain.Session
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
		assert.Equal(t, sess.ID, got.ID)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					return nil, domain.ErrNotFound
				},
			},
		}
		v1.RegisterSessionRoutes(api, store, &mockRunner{}, &mockSync{}, &eventSink{})

		resp := api.Get("/sessions/" + uuid.NewString())
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// TestGetSessionHistory
// ---------------------------------------------------------------------------

func TestGetSessionHistory(t *testing.T) {
	t.Parallel()

	t.Run("hydrates_from_log_before_answering", func(t *testing.T) {
		t.Parallel()

		sess := fixtureSession(domain.SessionStatusCompleted)
		sess.Cursor = 1

		synced := &domain.Message{ID: "m2", Kind: domain.MessageKindAssistant}
		stored := []*domain.Message{{ID: "m1", Kind: domain.MessageKindPrompt}}

		events := &eventSink{}
		var cursorWritten *int

		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					return sess, nil
				},
				updateFunc: func(_ context.Context, _ uuid.UUID, upd domain.SessionUpdate) error {
					if upd.Cursor != nil {
						cursorWritten = upd.Cursor
					}
					return nil
				},
			},
			messages: &mockMessageRepo{
				countFunc: func(_ context.Context, _ uuid.UUID) (int64, error) { return 1, nil },
				listFunc: func(_ context.Context, _ uuid.UUID) ([]*domain.Message, error) {
					return stored, nil
				},
			},
		}
		sync := &mockSync{
			syncFunc: func(_ context.Context, workingDir string, cursor int) (convo.SyncResult, error) {
				assert.Equal(t, "/work/app", workingDir)
				assert.Equal(t, 1, cursor)
				return convo.SyncResult{Messages: []*domain.Message{synced}, Cursor: 2, ConversationID: "conv-1"}, nil
			},
		}
		v1.RegisterSessionRoutes(api, store, &mockRunner{}, sync, events)

		resp := api.Get("/sessions/" + sess.ID.String() + "/history")
		require.Equal(t, http.StatusOK, resp.Code)

		// The out-of-band entry was published through the dispatcher.
		streamed := events.byType(domain.EventStreamMessage)
		require.Len(t, streamed, 1)
		assert.Equal(t, "m2", streamed[0].Message.ID)

		require.NotNil(t, cursorWritten)
		assert.Equal(t, 2, *cursorWritten)

		history := events.byType(domain.EventSessionHistory)
		require.Len(t, history, 1)
	})

	t.Run("rebuilds_lost_history_after_restart", func(t *testing.T) {
		t.Parallel()

		sess := fixtureSession(domain.SessionStatusCompleted)
		sess.Cursor = 3

		var replaced []*domain.Message
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					return sess, nil
				},
			},
			messages: &mockMessageRepo{
				countFunc: func(_ context.Context, _ uuid.UUID) (int64, error) { return 0, nil },
				replaceAllFunc: func(_ context.Context, _ uuid.UUID, msgs []*domain.Message) error {
					replaced = msgs
					return nil
				},
				listFunc: func(_ context.Context, _ uuid.UUID) ([]*domain.Message, error) {
					return replaced, nil
				},
			},
		}
		sync := &mockSync{
			syncFunc: func(_ context.Context, _ string, cursor int) (convo.SyncResult, error) {
				// Full resync starts over from the beginning of the log.
				assert.Zero(t, cursor)
				return convo.SyncResult{
					Messages: []*domain.Message{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}},
					Cursor:   3,
				}, nil
			},
		}
		v1.RegisterSessionRoutes(api, store, &mockRunner{}, sync, &eventSink{})

		resp := api.Get("/sessions/" + sess.ID.String() + "/history")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Len(t, replaced, 3)
	})

	t.Run("active_run_skips_hydration", func(t *testing.T) {
		t.Parallel()

		sess := fixtureSession(domain.SessionStatusRunning)
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					return sess, nil
				},
			},
			messages: &mockMessageRepo{
				listFunc: func(_ context.Context, _ uuid.UUID) ([]*domain.Message, error) {
					return nil, nil
				},
			},
		}
		sync := &mockSync{
			syncFunc: func(_ context.Context, _ string, _ int) (convo.SyncResult, error) {
				t.Fatal("must not sync while a run is active")
				return convo.SyncResult{}, nil
			},
		}
		run := &mockRunner{activeFunc: func(_ uuid.UUID) bool { return true }}
		v1.RegisterSessionRoutes(api, store, run, sync, &eventSink{})

		resp := api.Get("/sessions/" + sess.ID.String() + "/history")
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("absent_log_is_tolerated", func(t *testing.T) {
		t.Parallel()

		sess := fixtureSession(domain.SessionStatusIdle)
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					return sess, nil
				},
			},
			messages: &mockMessageRepo{
				listFunc: func(_ context.Context, _ uuid.UUID) ([]*domain.Message, error) {
					return nil, nil
				},
			},
		}
		sync := &mockSync{
			syncFunc: func(_ context.Context, _ string, _ int) (convo.SyncResult, error) {
				return convo.SyncResult{}, domain.ErrNoConversation
			},
		}
		v1.RegisterSessionRoutes(api, store, &mockRunner{}, sync, &eventSink{})

		resp := api.Get("/sessions/" + sess.ID.String() + "/history")
		assert.Equal(t, http.StatusOK, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// TestDeleteSession
// ---------------------------------------------------------------------------

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		sessionID := uuid.New()
		var released, deleted bool

		events := &eventSink{}
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				deleteFunc: func(_ context.Context, id uuid.UUID) error {
					assert.Equal(t, sessionID, id)
					deleted = true
					return nil
				},
			},
		}
		run := &mockRunner{releaseFunc: func(id uuid.UUID) {
			assert.Equal(t, sessionID, id)
			released = true
		}}
		v1.RegisterSessionRoutes(api, store, run, &mockSync{}, events)

		resp := api.Delete("/sessions/" + sessionID.String())
		require.Equal(t, http.StatusNoContent, resp.Code)

		assert.True(t, released)
		assert.True(t, deleted)
		assert.Len(t, events.byType(domain.EventSessionDeleted), 1)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				deleteFunc: func(_ context.Context, _ uuid.UUID) error {
					return domain.ErrNotFound
				},
			},
		}
		v1.RegisterSessionRoutes(api, store, &mockRunner{}, &mockSync{}, &eventSink{})

		resp := api.Delete("/sessions/" + uuid.NewString())
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// TestExportSession
// ---------------------------------------------------------------------------

func TestExportSession(t *testing.T) {
	t.Parallel()

	sess := fixtureSession(domain.SessionStatusCompleted)
	msgs := []*domain.Message{{ID: "m1", Kind: domain.MessageKindPrompt, Text: "hello"}}

	newAPI := func(t *testing.T) humatest.TestAPI {
		t.Helper()
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					return sess, nil
				},
			},
			messages: &mockMessageRepo{
				listFunc: func(_ context.Context, _ uuid.UUID) ([]*domain.Message, error) {
					return msgs, nil
				},
			},
		}
		v1.RegisterSessionRoutes(api, store, &mockRunner{}, &mockSync{}, &eventSink{})
		return api
	}

	t.Run("markdown", func(t *testing.T) {
		t.Parallel()

		resp := newAPI(t).Get("/sessions/" + sess.ID.String() + "/export?format=md")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "text/markdown", resp.Header().Get("Content-Type"))
		assert.Contains(t, resp.Body.String(), "hello")
	})

	t.Run("default_is_json", func(t *testing.T) {
		t.Parallel()

		resp := newAPI(t).Get("/sessions/" + sess.ID.String() + "/export")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	})

	t.Run("unsupported_format", func(t *testing.T) {
		t.Parallel()

		resp := newAPI(t).Get("/sessions/" + sess.ID.String() + "/export?format=pdf")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

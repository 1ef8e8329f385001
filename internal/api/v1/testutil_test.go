package v1_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nautlabs/skiff/internal/convo"
	"github.com/nautlabs/skiff/internal/domain"
	"github.com/nautlabs/skiff/internal/runner"
)

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	sessions domain.SessionRepository
	messages domain.MessageRepository
}

func (m *mockDataStore) Sessions() domain.SessionRepository { return m.sessions }
func (m *mockDataStore) Messages() domain.MessageRepository { return m.messages }

// ---------------------------------------------------------------------------
// Mock SessionRepository
// ---------------------------------------------------------------------------

type mockSessionRepo struct {
	createFunc  func(ctx context.Context, s *domain.Session) error
	getByIDFunc func(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	listFunc    func(ctx context.Context) ([]*domain.Session, error)
	updateFunc  func(ctx context.Context, id uuid.UUID, upd domain.SessionUpdate) error
	deleteFunc  func(ctx context.Context, id uuid.UUID) error
}

func (m *mockSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	return m.createFunc(ctx, s)
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockSessionRepo) List(ctx context.Context) ([]*domain.Session, error) {
	return m.listFunc(ctx)
}

func (m *mockSessionRepo) Update(ctx context.Context, id uuid.UUID, upd domain.SessionUpdate) error {
	if m.updateFunc == nil {
		return nil
	}
	return m.updateFunc(ctx, id, upd)
}

func (m *mockSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFunc(ctx, id)
}

// ---------------------------------------------------------------------------
// Mock MessageRepository
// ---------------------------------------------------------------------------

type mockMessageRepo struct {
	appendFunc     func(ctx context.Context, sessionID uuid.UUID, msg *domain.Message) error
	listFunc       func(ctx context.Context, sessionID uuid.UUID) ([]*domain.Message, error)
	replaceAllFunc func(ctx context.Context, sessionID uuid.UUID, msgs []*domain.Message) error
	countFunc      func(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

func (m *mockMessageRepo) Append(ctx context.Context, sessionID uuid.UUID, msg *domain.Message) error {
	if m.appendFunc == nil {
		return nil
	}
	return m.appendFunc(ctx, sessionID, msg)
}

func (m *mockMessageRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.Message, error) {
	return m.listFunc(ctx, sessionID)
}

func (m *mockMessageRepo) ReplaceAll(ctx context.Context, sessionID uuid.UUID, msgs []*domain.Message) error {
	if m.replaceAllFunc == nil {
		return nil
	}
	return m.replaceAllFunc(ctx, sessionID, msgs)
}

func (m *mockMessageRepo) CountBySession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	if m.countFunc == nil {
		return 0, nil
	}
	return m.countFunc(ctx, sessionID)
}

// ---------------------------------------------------------------------------
// Mock SessionRunner
// ---------------------------------------------------------------------------

type mockRunner struct {
	startFunc   func(ctx context.Context, sess *domain.Session, prompt string, resume bool) error
	stopFunc    func(ctx context.Context, sessionID uuid.UUID) error
	resolveFunc func(sessionID uuid.UUID, toolUseID string, approve bool) bool
	releaseFunc func(sessionID uuid.UUID)
	activeFunc  func(sessionID uuid.UUID) bool
	pendingFunc func(sessionID uuid.UUID) []*runner.PendingPermission
}

func (m *mockRunner) Start(ctx context.Context, sess *domain.Session, prompt string, resume bool) error {
	return m.startFunc(ctx, sess, prompt, resume)
}

func (m *mockRunner) Stop(ctx context.Context, sessionID uuid.UUID) error {
	return m.stopFunc(ctx, sessionID)
}

func (m *mockRunner) Resolve(sessionID uuid.UUID, toolUseID string, approve bool) bool {
	return m.resolveFunc(sessionID, toolUseID, approve)
}

func (m *mockRunner) Release(sessionID uuid.UUID) {
	if m.releaseFunc != nil {
		m.releaseFunc(sessionID)
	}
}

func (m *mockRunner) Active(sessionID uuid.UUID) bool {
	if m.activeFunc == nil {
		return false
	}
	return m.activeFunc(sessionID)
}

func (m *mockRunner) Pending(sessionID uuid.UUID) []*runner.PendingPermission {
	if m.pendingFunc == nil {
		return nil
	}
	return m.pendingFunc(sessionID)
}

// ---------------------------------------------------------------------------
// Mock ConversationSync
// ---------------------------------------------------------------------------

type mockSync struct {
	syncFunc        func(ctx context.Context, workingDir string, cursor int) (convo.SyncResult, error)
	updateModelFunc func(ctx context.Context, workingDir, model string) error
}

func (m *mockSync) Sync(ctx context.Context, workingDir string, cursor int) (convo.SyncResult, error) {
	if m.syncFunc == nil {
		return convo.SyncResult{Cursor: cursor}, nil
	}
	return m.syncFunc(ctx, workingDir, cursor)
}

func (m *mockSync) UpdateModel(ctx context.Context, workingDir, model string) error {
	if m.updateModelFunc == nil {
		return nil
	}
	return m.updateModelFunc(ctx, workingDir, model)
}

// ---------------------------------------------------------------------------
// Event sink
// ---------------------------------------------------------------------------

type eventSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *eventSink) Publish(_ context.Context, evt domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *eventSink) byType(t domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, evt := range s.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

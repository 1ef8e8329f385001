package convo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/nautlabs/skiff/internal/domain"
)

// ErrMalformedLog marks a conversation value that exists but cannot be
// decoded. Distinct from domain.ErrNoConversation: the log is present but
// unusable.
var ErrMalformedLog = errors.New("convo: malformed conversation log") //nolint:gochecknoglobals // sentinel error

// LogStore reads the worker's conversation database: a key-value table keyed
// by absolute working directory. Reads go through a lazily opened read-only
// handle that is cached until a write invalidates it, so subsequent reads
// observe the change.
type LogStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewLogStore(path string) *LogStore {
	return &LogStore{path: path}
}

// Read returns the full conversation document for a working directory.
// Returns domain.ErrNoConversation when the worker has not persisted a log
// for that key yet.
func (s *LogStore) Read(ctx context.Context, workingDir string) (*Document, error) {
	db, err := s.handle()
	if err != nil {
		return nil, fmt.Errorf("convo.LogStore.Read: %w", err)
	}

	var value string
	err = db.QueryRowContext(ctx,
		`SELECT value FROM conversations WHERE key = ?`, workingDir,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("convo.LogStore.Read: %w", domain.ErrNoConversation)
	}
	if err != nil {
		if isMissingTable(err) {
			return nil, fmt.Errorf("convo.LogStore.Read: %w", domain.ErrNoConversation)
		}
		return nil, fmt.Errorf("convo.LogStore.Read: %w", err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return nil, fmt.Errorf("convo.LogStore.Read: decode %q: %w", workingDir, ErrMalformedLog)
	}

	return &doc, nil
}

// UpdateModel rewrites default_params.model for a working directory in one
// transaction and invalidates the cached read handle. Unknown fields in the
// stored document survive the rewrite.
func (s *LogStore) UpdateModel(ctx context.Context, workingDir, model string) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("convo.LogStore.UpdateModel: open: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("convo.LogStore.UpdateModel: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var value string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM conversations WHERE key = ?`, workingDir,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("convo.LogStore.UpdateModel: %w", domain.ErrNoConversation)
	}
	if err != nil {
		if isMissingTable(err) {
			return fmt.Errorf("convo.LogStore.UpdateModel: %w", domain.ErrNoConversation)
		}
		return fmt.Errorf("convo.LogStore.UpdateModel: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return fmt.Errorf("convo.LogStore.UpdateModel: decode %q: %w", workingDir, ErrMalformedLog)
	}

	params, ok := doc["default_params"].(map[string]any)
	if !ok {
		params = map[string]any{}
	}
	params["model"] = model
	doc["default_params"] = params

	updated, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convo.LogStore.UpdateModel: encode: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET value = ? WHERE key = ?`, string(updated), workingDir,
	)
	if err != nil {
		return fmt.Errorf("convo.LogStore.UpdateModel: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("convo.LogStore.UpdateModel: commit: %w", err)
	}

	s.Invalidate()
	return nil
}

// Invalidate closes the cached read handle; the next read reopens it.
func (s *LogStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}

func (s *LogStore) Close() error {
	s.Invalidate()
	return nil
}

// handle returns the cached read-only handle, opening it on first use. A
// missing database file means the worker has never written a log.
func (s *LogStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	if _, err := os.Stat(s.path); err != nil {
		return nil, domain.ErrNoConversation
	}

	db, err := sql.Open("sqlite", s.path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", s.path, err)
	}

	s.db = db
	return s.db, nil
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

package convo_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/nautlabs/skiff/internal/convo"
	"github.com/nautlabs/skiff/internal/domain"
)

// seedLog writes a conversation database shaped like the worker's: a single
// key-value table keyed by working directory.
func seedLog(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS conversations (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	require.NoError(t, err)

	for key, value := range entries {
		_, err = db.Exec(`INSERT INTO conversations (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		require.NoError(t, err)
	}
}

func docJSON(t *testing.T, convID, model string, prompts ...string) string {
	t.Helper()

	history := make([]map[string]any, 0, len(prompts))
	for _, p := range prompts {
		history = append(history, map[string]any{
			"user": map[string]any{
				"content": map[string]any{"Prompt": map[string]any{"prompt": p}},
			},
		})
	}

	data, err := json.Marshal(map[string]any{
		"conversation_id": convID,
		"history":         history,
		"default_params":  map[string]any{"model": model},
	})
	require.NoError(t, err)
	return string(data)
}

// ---------------------------------------------------------------------------
// TestSynchronizerSync
// ---------------------------------------------------------------------------

func TestSynchronizerSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("full_read_from_zero_cursor", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conversations.db")
		seedLog(t, path, map[string]string{
			"/work/a": docJSON(t, "conv-a", "fast-1", "first", "second"),
		})

		logs := convo.NewLogStore(path)
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		res, err := sync.Sync(ctx, "/work/a", 0)
		require.NoError(t, err)

		assert.Equal(t, 2, res.Cursor)
		assert.Equal(t, "conv-a", res.ConversationID)
		require.Len(t, res.Messages, 2)
		assert.Equal(t, "first", res.Messages[0].Text)
		assert.Equal(t, "second", res.Messages[1].Text)
	})

	t.Run("cursor_skips_processed_entries", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conversations.db")
		seedLog(t, path, map[string]string{
			"/work/a": docJSON(t, "conv-a", "", "first", "second", "third"),
		})

		logs := convo.NewLogStore(path)
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		res, err := sync.Sync(ctx, "/work/a", 2)
		require.NoError(t, err)

		assert.Equal(t, 3, res.Cursor)
		require.Len(t, res.Messages, 1)
		assert.Equal(t, "third", res.Messages[0].Text)
	})

	t.Run("idempotent_at_head", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conversations.db")
		seedLog(t, path, map[string]string{
			"/work/a": docJSON(t, "conv-a", "", "only"),
		})

		logs := convo.NewLogStore(path)
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		res, err := sync.Sync(ctx, "/work/a", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Cursor)
		assert.Empty(t, res.Messages)
	})

	t.Run("cursor_beyond_history_is_clamped", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conversations.db")
		seedLog(t, path, map[string]string{
			"/work/a": docJSON(t, "conv-a", "", "only"),
		})

		logs := convo.NewLogStore(path)
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		res, err := sync.Sync(ctx, "/work/a", 99)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Cursor)
		assert.Empty(t, res.Messages)
	})

	t.Run("missing_database_file", func(t *testing.T) {
		t.Parallel()

		logs := convo.NewLogStore(filepath.Join(t.TempDir(), "absent.db"))
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		_, err := sync.Sync(ctx, "/work/a", 0)
		assert.ErrorIs(t, err, domain.ErrNoConversation)
	})

	t.Run("missing_key", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conversations.db")
		seedLog(t, path, map[string]string{
			"/work/a": docJSON(t, "conv-a", "", "only"),
		})

		logs := convo.NewLogStore(path)
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		_, err := sync.Sync(ctx, "/work/other", 0)
		assert.ErrorIs(t, err, domain.ErrNoConversation)
	})

	t.Run("malformed_value", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conversations.db")
		seedLog(t, path, map[string]string{
			"/work/a": `{not valid json`,
		})

		logs := convo.NewLogStore(path)
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		_, err := sync.Sync(ctx, "/work/a", 0)
		assert.ErrorIs(t, err, convo.ErrMalformedLog)
	})
}

// ---------------------------------------------------------------------------
// TestSynchronizerUpdateModel
// ---------------------------------------------------------------------------

func TestSynchronizerUpdateModel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rewrites_model_and_preserves_unknown_fields", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conversations.db")
		seedLog(t, path, map[string]string{
			"/work/a": `{
				"conversation_id": "conv-a",
				"history": [],
				"default_params": {"model": "old-model", "temperature": 0.3},
				"custom_field": "kept"
			}`,
		})

		logs := convo.NewLogStore(path)
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		require.NoError(t, sync.UpdateModel(ctx, "/work/a", "new-model"))

		db, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer db.Close()

		var value string
		require.NoError(t, db.QueryRow(`SELECT value FROM conversations WHERE key = ?`, "/work/a").Scan(&value))

		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(value), &doc))

		params := doc["default_params"].(map[string]any)
		assert.Equal(t, "new-model", params["model"])
		assert.Equal(t, 0.3, params["temperature"])
		assert.Equal(t, "kept", doc["custom_field"])
	})

	t.Run("next_read_observes_the_write", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conversations.db")
		seedLog(t, path, map[string]string{
			"/work/a": docJSON(t, "conv-a", "old-model", "hi"),
		})

		logs := convo.NewLogStore(path)
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		// Prime the cached read handle, then write through.
		_, err := sync.Sync(ctx, "/work/a", 0)
		require.NoError(t, err)

		require.NoError(t, sync.UpdateModel(ctx, "/work/a", "new-model"))

		res, err := sync.Sync(ctx, "/work/a", 0)
		require.NoError(t, err)
		require.NotEmpty(t, res.Messages)
	})

	t.Run("missing_key", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conversations.db")
		seedLog(t, path, map[string]string{})

		logs := convo.NewLogStore(path)
		defer logs.Close()
		sync := convo.NewSynchronizer(logs)

		err := sync.UpdateModel(ctx, "/work/missing", "m")
		assert.ErrorIs(t, err, domain.ErrNoConversation)
	})
}

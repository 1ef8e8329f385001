package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nautlabs/skiff/internal/domain"
)

// ---------------------------------------------------------------------------
// TestBuildArgs
// ---------------------------------------------------------------------------

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	r := New(Config{Bin: "pilot", Agent: "default"}, nil, nil, nil, nil)

	t.Run("non_interactive", func(t *testing.T) {
		t.Parallel()

		sess := &domain.Session{Model: "fast-1"}
		args := r.buildArgs(sess, "do it", false)
		assert.Equal(t, []string{
			"chat", "--trust-all-tools", "--wrap", "never",
			"--no-interactive",
			"--model", "fast-1",
			"--agent", "default",
			"do it",
		}, args)
	})

	t.Run("interactive_resume", func(t *testing.T) {
		t.Parallel()

		sess := &domain.Session{Interactive: true}
		args := r.buildArgs(sess, "continue", true)
		assert.Equal(t, []string{
			"chat", "--trust-all-tools", "--wrap", "never",
			"--agent", "default",
			"--resume",
			"continue",
		}, args)
	})

	t.Run("empty_prompt_omitted", func(t *testing.T) {
		t.Parallel()

		sess := &domain.Session{}
		args := r.buildArgs(sess, "", false)
		assert.Equal(t, []string{
			"chat", "--trust-all-tools", "--wrap", "never",
			"--no-interactive",
			"--agent", "default",
		}, args)
	})
}

// ---------------------------------------------------------------------------
// TestBuildEnv
// ---------------------------------------------------------------------------

func TestBuildEnv(t *testing.T) {
	r := New(Config{Bin: "pilot", PathPrefixes: []string{"/opt/tools/bin"}}, nil, nil, nil, nil)

	t.Setenv("PATH", "/usr/bin")

	env := r.buildEnv()

	var path string
	for _, kv := range env {
		if len(kv) > 5 && kv[:5] == "PATH=" {
			path = kv[5:]
		}
	}
	require.NotEmpty(t, path)
	assert.Equal(t, "/opt/tools/bin", path[:len("/opt/tools/bin")])
	assert.Contains(t, path, "/usr/bin")

	assert.Contains(t, env, "NO_COLOR=1")
	assert.Contains(t, env, "PAGER=cat")
	assert.Contains(t, env, "GIT_PAGER=cat")
	assert.Contains(t, env, "TERM=dumb")
}

// ---------------------------------------------------------------------------
// TestModelSelectionText
// ---------------------------------------------------------------------------

func TestModelSelectionText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "model: fast-1 (permission mode: trust-all)",
		modelSelectionText(&domain.Session{Model: "fast-1"}))
	assert.Equal(t, "model: default (permission mode: interactive)",
		modelSelectionText(&domain.Session{Interactive: true}))
}

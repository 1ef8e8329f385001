package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nautlabs/skiff/internal/convo"
	"github.com/nautlabs/skiff/internal/domain"
)

// EventPublisher abstracts the dispatcher's publish operation.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// ConversationSync abstracts the synchronizer for testing.
type ConversationSync interface {
	Sync(ctx context.Context, workingDir string, cursor int) (convo.SyncResult, error)
}

// Metrics is the slice of instrumentation the runner needs. A nil
// implementation is allowed.
type Metrics interface {
	RunStarted(ctx context.Context)
	RunFinished(ctx context.Context, outcome string)
	MessagesSynced(ctx context.Context, n int)
	SyncError(ctx context.Context)
	PermissionRequested(ctx context.Context)
}

// Config holds worker invocation settings.
type Config struct {
	Bin          string
	Agent        string
	PollInterval time.Duration
	PathPrefixes []string
	TrustedTools []string
}

// Runner owns the worker process lifecycle for every active session run. One
// worker process and one poll timer exist per running session; starting a
// second run on the same session fails with ErrRunActive. Start, Stop, and
// delete for one session are expected to be serialized by the caller.
type Runner struct {
	cfg      Config
	sync     ConversationSync
	sessions domain.SessionRepository
	events   EventPublisher
	metrics  Metrics

	mu      sync.Mutex
	runs    map[uuid.UUID]*run
	pending map[uuid.UUID]map[string]*PendingPermission
}

func New(cfg Config, sync ConversationSync, sessions domain.SessionRepository, events EventPublisher, metrics Metrics) *Runner {
	return &Runner{
		cfg:      cfg,
		sync:     sync,
		sessions: sessions,
		events:   events,
		metrics:  metrics,
		runs:     make(map[uuid.UUID]*run),
		pending:  make(map[uuid.UUID]map[string]*PendingPermission),
	}
}

// run is the per-session process state. The closed flag is a one-shot guard:
// the poll loop and the exit handler both reach for terminal actions, and
// only one may perform them. syncMu serializes conversation syncs; ticks use
// TryLock so a slow sync skips ticks instead of stacking.
type run struct {
	sessionID   uuid.UUID
	workingDir  string
	interactive bool

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	cancelPoll context.CancelFunc

	closed  atomic.Bool
	aborted atomic.Bool

	syncMu sync.Mutex
	cursor int
	convID string
}

// Start spawns a worker for the session and begins polling its conversation
// log. The session's Model and Interactive fields select the invocation;
// resume reuses the session's external conversation.
func (r *Runner) Start(ctx context.Context, sess *domain.Session, prompt string, resume bool) error {
	r.mu.Lock()
	if _, active := r.runs[sess.ID]; active {
		r.mu.Unlock()
		return fmt.Errorf("runner.Runner.Start: session %s: %w", sess.ID, domain.ErrRunActive)
	}
	r.mu.Unlock()

	r.publishStatus(ctx, sess.ID, domain.SessionStatusRunning, "")

	// Echo the prompt to listeners immediately; the durable copy arrives
	// through the conversation log.
	r.publish(ctx, domain.Event{
		Type:      domain.EventStreamUserPrompt,
		SessionID: sess.ID,
		Message: &domain.Message{
			ID:        uuid.NewString(),
			Kind:      domain.MessageKindPrompt,
			Text:      prompt,
			CreatedAt: time.Now(),
		},
	})

	if err := r.sessions.Update(ctx, sess.ID, domain.SessionUpdate{LastPrompt: &prompt}); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("runner.Start: failed to record prompt")
	}

	bin, err := exec.LookPath(r.cfg.Bin)
	if err != nil {
		r.publishTerminal(ctx, sess.ID, domain.SessionStatusError,
			fmt.Sprintf("worker binary %q not found in PATH", r.cfg.Bin))
		return fmt.Errorf("runner.Runner.Start: %w", domain.ErrWorkerNotFound)
	}

	// Synthetic model-selection announcement, independent of worker output.
	r.publish(ctx, domain.Event{
		Type:      domain.EventStreamMessage,
		SessionID: sess.ID,
		Message: &domain.Message{
			ID:        uuid.NewString(),
			Kind:      domain.MessageKindSystem,
			Text:      modelSelectionText(sess),
			Model:     sess.Model,
			CreatedAt: time.Now(),
		},
	})

	cmd := exec.Command(bin, r.buildArgs(sess, prompt, resume)...)
	cmd.Dir = sess.WorkingDir
	cmd.Env = r.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		r.publishTerminal(ctx, sess.ID, domain.SessionStatusError, "stdin pipe: "+err.Error())
		return fmt.Errorf("runner.Runner.Start: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.publishTerminal(ctx, sess.ID, domain.SessionStatusError, "stdout pipe: "+err.Error())
		return fmt.Errorf("runner.Runner.Start: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.publishTerminal(ctx, sess.ID, domain.SessionStatusError, "stderr pipe: "+err.Error())
		return fmt.Errorf("runner.Runner.Start: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		r.publishTerminal(ctx, sess.ID, domain.SessionStatusError, "failed to spawn worker: "+err.Error())
		return fmt.Errorf("runner.Runner.Start: spawn: %w", err)
	}

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	active := &run{
		sessionID:   sess.ID,
		workingDir:  sess.WorkingDir,
		interactive: sess.Interactive,
		cmd:         cmd,
		stdin:       stdin,
		cancelPoll:  cancelPoll,
		cursor:      sess.Cursor,
		convID:      sess.ConversationID,
	}

	r.mu.Lock()
	r.runs[sess.ID] = active
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RunStarted(ctx)
	}

	// Worker output carries no protocol; drain it for diagnostics only.
	go drainOutput(sess.ID, "stdout", stdout)
	go drainOutput(sess.ID, "stderr", stderr)
	go r.pollLoop(pollCtx, active)
	go func() {
		r.handleExit(active, cmd.Wait())
	}()

	return nil
}

// Stop aborts the session's run: the poll loop is cancelled, the close
// handler's terminal-status emission is suppressed, and the worker is asked
// to interrupt gracefully. Stop does not wait for the process to exit.
func (r *Runner) Stop(ctx context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	active := r.runs[sessionID]
	r.mu.Unlock()

	if active == nil {
		return fmt.Errorf("runner.Runner.Stop: session %s: %w", sessionID, domain.ErrNotFound)
	}

	active.aborted.Store(true)
	active.cancelPoll()
	if active.cmd.Process != nil {
		if err := active.cmd.Process.Signal(os.Interrupt); err != nil {
			log.Debug().Err(err).Str("session_id", sessionID.String()).Msg("runner.Stop: interrupt")
		}
	}

	// The explicit stop itself moves the session back to idle. The close
	// handler that follows emits nothing for an aborted run.
	r.publishStatus(ctx, sessionID, domain.SessionStatusIdle, "")
	return nil
}

// Release aborts any in-flight run and denies all pending permissions.
// Called when a session is deleted.
func (r *Runner) Release(sessionID uuid.UUID) {
	r.mu.Lock()
	active := r.runs[sessionID]
	r.mu.Unlock()

	if active != nil {
		active.aborted.Store(true)
		active.cancelPoll()
		if active.cmd.Process != nil {
			_ = active.cmd.Process.Signal(os.Interrupt)
		}
	}

	r.releasePending(sessionID)
}

// Active reports whether the session has a run in flight.
func (r *Runner) Active(sessionID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[sessionID] != nil
}

// Resolve delivers a permission decision for a tool-use id. Resolving an
// unknown or already-resolved entry is a no-op; reports whether this call
// resolved anything.
func (r *Runner) Resolve(sessionID uuid.UUID, toolUseID string, approve bool) bool {
	r.mu.Lock()
	var pend *PendingPermission
	if byTool := r.pending[sessionID]; byTool != nil {
		pend = byTool[toolUseID]
		delete(byTool, toolUseID)
	}
	var stdin io.Writer
	if active := r.runs[sessionID]; active != nil {
		stdin = active.stdin
	}
	r.mu.Unlock()

	if pend == nil || !pend.resolve(approve) {
		return false
	}

	if stdin != nil {
		reply := "n\n"
		if approve {
			reply = "y\n"
		}
		if _, err := io.WriteString(stdin, reply); err != nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Str("tool_use_id", toolUseID).Msg("runner.Resolve: failed to write decision")
		}
	}

	return true
}

// Pending returns the unresolved permission requests for a session.
func (r *Runner) Pending(sessionID uuid.UUID) []*PendingPermission {
	r.mu.Lock()
	defer r.mu.Unlock()

	byTool := r.pending[sessionID]
	out := make([]*PendingPermission, 0, len(byTool))
	for _, pend := range byTool {
		out = append(out, pend)
	}
	return out
}

// pollLoop syncs the conversation log at a fixed interval. A tick that finds
// a sync already in flight is skipped; transient failures are logged and
// swallowed so a single missed poll never aborts the run.
func (r *Runner) pollLoop(ctx context.Context, active *run) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !active.syncMu.TryLock() {
				continue
			}
			if err := r.doSync(ctx, active); err != nil {
				log.Debug().Err(err).Str("session_id", active.sessionID.String()).Msg("runner.pollLoop: transient sync failure")
				if r.metrics != nil && !errors.Is(err, domain.ErrNoConversation) {
					r.metrics.SyncError(ctx)
				}
			}
			active.syncMu.Unlock()
		}
	}
}

// doSync runs one synchronization pass. Caller holds active.syncMu.
func (r *Runner) doSync(ctx context.Context, active *run) error {
	res, err := r.sync.Sync(ctx, active.workingDir, active.cursor)
	if err != nil {
		return err
	}

	for _, msg := range res.Messages {
		r.publish(ctx, domain.Event{
			Type:      domain.EventStreamMessage,
			SessionID: active.sessionID,
			Message:   msg,
		})
		r.requestPermissions(ctx, active, msg)
	}

	if res.ConversationID != "" && active.convID == "" {
		active.convID = res.ConversationID
		convID := res.ConversationID
		if err := r.sessions.Update(ctx, active.sessionID, domain.SessionUpdate{ConversationID: &convID}); err != nil {
			log.Error().Err(err).Str("session_id", active.sessionID.String()).Msg("runner.doSync: failed to record conversation id")
		}
	}

	if res.Cursor != active.cursor {
		active.cursor = res.Cursor
		cursor := res.Cursor
		if err := r.sessions.Update(ctx, active.sessionID, domain.SessionUpdate{Cursor: &cursor}); err != nil {
			log.Error().Err(err).Str("session_id", active.sessionID.String()).Msg("runner.doSync: failed to advance cursor")
		}
	}

	if r.metrics != nil && len(res.Messages) > 0 {
		r.metrics.MessagesSynced(ctx, len(res.Messages))
	}

	return nil
}

// requestPermissions creates pending waiters for untrusted tool invocations
// on interactive sessions and announces them to listeners.
func (r *Runner) requestPermissions(ctx context.Context, active *run, msg *domain.Message) {
	if !active.interactive || msg.Kind != domain.MessageKindAssistant {
		return
	}

	for _, block := range msg.Blocks {
		if block.Kind != domain.BlockKindToolUse {
			continue
		}
		if slices.Contains(r.cfg.TrustedTools, block.ToolName) {
			continue
		}

		pend := newPendingPermission(active.sessionID, block.ToolUseID, block.ToolName, block.ToolInput)

		r.mu.Lock()
		byTool := r.pending[active.sessionID]
		if byTool == nil {
			byTool = make(map[string]*PendingPermission)
			r.pending[active.sessionID] = byTool
		}
		if _, exists := byTool[block.ToolUseID]; exists {
			r.mu.Unlock()
			continue
		}
		byTool[block.ToolUseID] = pend
		r.mu.Unlock()

		r.publish(ctx, domain.Event{
			Type:      domain.EventPermissionRequest,
			SessionID: active.sessionID,
			ToolUseID: block.ToolUseID,
			ToolName:  block.ToolName,
			ToolInput: block.ToolInput,
		})

		if r.metrics != nil {
			r.metrics.PermissionRequested(ctx)
		}
	}
}

// handleExit performs the terminal actions for a run exactly once, whichever
// of the exit and error paths fires first. One final authoritative sync runs
// before the terminal status; a worker that never produced a log is an error
// even on a zero exit code. An aborted run emits no terminal status.
func (r *Runner) handleExit(active *run, exitErr error) {
	if !active.closed.CompareAndSwap(false, true) {
		return
	}
	active.cancelPoll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	defer func() {
		r.mu.Lock()
		delete(r.runs, active.sessionID)
		r.mu.Unlock()
		r.releasePending(active.sessionID)
	}()

	if active.aborted.Load() {
		if r.metrics != nil {
			r.metrics.RunFinished(ctx, "aborted")
		}
		return
	}

	active.syncMu.Lock()
	syncErr := r.doSync(ctx, active)
	active.syncMu.Unlock()

	switch {
	case errors.Is(syncErr, domain.ErrNoConversation):
		r.publishTerminal(ctx, active.sessionID, domain.SessionStatusError, "worker produced no conversation log")
	case syncErr != nil:
		r.publishTerminal(ctx, active.sessionID, domain.SessionStatusError, "final conversation sync failed: "+syncErr.Error())
	case exitErr != nil:
		r.publishTerminal(ctx, active.sessionID, domain.SessionStatusError, exitMessage(exitErr))
	default:
		r.publishTerminal(ctx, active.sessionID, domain.SessionStatusCompleted, "")
	}
}

func (r *Runner) publishTerminal(ctx context.Context, sessionID uuid.UUID, status domain.SessionStatus, errMsg string) {
	if errMsg != "" {
		r.publish(ctx, domain.Event{
			Type:      domain.EventRunnerError,
			SessionID: sessionID,
			Error:     errMsg,
		})
	}
	r.publishStatus(ctx, sessionID, status, errMsg)

	if r.metrics != nil {
		outcome := "completed"
		if status == domain.SessionStatusError {
			outcome = "error"
		}
		r.metrics.RunFinished(ctx, outcome)
	}
}

func (r *Runner) publishStatus(ctx context.Context, sessionID uuid.UUID, status domain.SessionStatus, errMsg string) {
	r.publish(ctx, domain.Event{
		Type:      domain.EventSessionStatus,
		SessionID: sessionID,
		Status:    status,
		Error:     errMsg,
	})
}

func (r *Runner) publish(ctx context.Context, evt domain.Event) {
	if err := r.events.Publish(ctx, evt); err != nil {
		log.Error().Err(err).Str("session_id", evt.SessionID.String()).Str("event", string(evt.Type)).Msg("runner: failed to publish event")
	}
}

func (r *Runner) releasePending(sessionID uuid.UUID) {
	r.mu.Lock()
	byTool := r.pending[sessionID]
	delete(r.pending, sessionID)
	r.mu.Unlock()

	for _, pend := range byTool {
		pend.resolve(false)
	}
}

func (r *Runner) buildArgs(sess *domain.Session, prompt string, resume bool) []string {
	args := []string{"chat", "--trust-all-tools", "--wrap", "never"}
	if !sess.Interactive {
		args = append(args, "--no-interactive")
	}
	if sess.Model != "" {
		args = append(args, "--model", sess.Model)
	}
	if r.cfg.Agent != "" {
		args = append(args, "--agent", r.cfg.Agent)
	}
	if resume {
		args = append(args, "--resume")
	}
	if prompt != "" {
		args = append(args, prompt)
	}
	return args
}

// buildEnv returns the process environment with common tool-install prefixes
// prepended to PATH and color/paging disabled.
func (r *Runner) buildEnv() []string {
	env := os.Environ()
	prefix := strings.Join(r.cfg.PathPrefixes, string(os.PathListSeparator))

	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") && prefix != "" {
			env[i] = "PATH=" + prefix + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
		}
	}

	return append(env,
		"NO_COLOR=1",
		"PAGER=cat",
		"GIT_PAGER=cat",
		"TERM=dumb",
	)
}

func modelSelectionText(sess *domain.Session) string {
	model := sess.Model
	if model == "" {
		model = "default"
	}
	mode := "trust-all"
	if sess.Interactive {
		mode = "interactive"
	}
	return fmt.Sprintf("model: %s (permission mode: %s)", model, mode)
}

func exitMessage(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return fmt.Sprintf("worker exited with code %d", code)
		}
		return "worker terminated: " + exitErr.String()
	}
	return "worker failed: " + err.Error()
}

// drainOutput logs worker output lines at debug level. No protocol is parsed
// here; the authoritative stream comes from the conversation log.
func drainOutput(sessionID uuid.UUID, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.Debug().Str("session_id", sessionID.String()).Str("stream", stream).Msg(scanner.Text())
	}
}

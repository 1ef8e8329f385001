package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSessionStatus     EventType = "session-status"
	EventStreamMessage     EventType = "stream-message"
	EventStreamUserPrompt  EventType = "stream-user-prompt"
	EventRunnerError       EventType = "runner-error"
	EventSessionList       EventType = "session-list"
	EventSessionHistory    EventType = "session-history"
	EventSessionDeleted    EventType = "session-deleted"
	EventPermissionRequest EventType = "permission-request"
)

// Event is one lifecycle or content notification delivered to listeners.
// Events are persisted (where they carry durable state) before broadcast and
// are never reordered relative to emission.
type Event struct {
	Type      EventType     `json:"type"`
	SessionID uuid.UUID     `json:"session_id,omitempty"`
	Status    SessionStatus `json:"status,omitempty"`
	Message   *Message      `json:"message,omitempty"`
	Sessions  []*Session    `json:"sessions,omitempty"`
	Messages  []*Message    `json:"messages,omitempty"`
	Error     string        `json:"error,omitempty"`
	ToolUseID string        `json:"tool_use_id,omitempty"`
	ToolName  string        `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Time      time.Time     `json:"time"`
}

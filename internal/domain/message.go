package domain

import "time"

type MessageKind string

const (
	MessageKindPrompt     MessageKind = "prompt"
	MessageKindAssistant  MessageKind = "assistant"
	MessageKindToolResult MessageKind = "tool_result"
	MessageKindStatus     MessageKind = "status"
	MessageKindSystem     MessageKind = "system"
)

type BlockKind string

const (
	BlockKindText      BlockKind = "text"
	BlockKindReasoning BlockKind = "reasoning"
	BlockKindToolUse   BlockKind = "tool_use"
)

// ContentBlock is one piece of an assistant message: plain text, reasoning,
// or a tool invocation.
type ContentBlock struct {
	Kind      BlockKind      `json:"kind"`
	Text      string         `json:"text,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

// Message is one canonical conversation entry. The Kind discriminator decides
// which fields are meaningful. Messages are append-only; the only permitted
// late write is Transcript back-fill on an assistant message within a single
// adapter batch.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Kind           MessageKind    `json:"kind"`
	Text           string         `json:"text,omitempty"`
	Blocks         []ContentBlock `json:"blocks,omitempty"`
	Transcript     []ContentBlock `json:"transcript,omitempty"`
	Model          string         `json:"model,omitempty"`
	ToolUseID      string         `json:"tool_use_id,omitempty"`
	IsError        bool           `json:"is_error,omitempty"`
	Status         SessionStatus  `json:"status,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

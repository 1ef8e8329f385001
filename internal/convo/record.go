package convo

import "encoding/json"

// Document is the worker's full conversation value for one working directory:
// the append-only history plus the default request parameters.
type Document struct {
	ConversationID string        `json:"conversation_id"`
	History        []Record      `json:"history"`
	DefaultParams  DefaultParams `json:"default_params"`
}

type DefaultParams struct {
	Model string `json:"model"`
}

// Record is one raw per-turn log entry: at most one user sub-record and one
// assistant sub-record, plus request metadata. Records are read-only; only
// the worker writes them.
type Record struct {
	User            *UserRecord      `json:"user"`
	Assistant       *AssistantRecord `json:"assistant"`
	RequestMetadata map[string]any   `json:"request_metadata"`
}

// UnmarshalJSON accepts both the object form and the legacy two-element
// tuple form [user, assistant].
func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(data, &tuple); err != nil {
			return err
		}
		if len(tuple) > 0 && !isNull(tuple[0]) {
			r.User = &UserRecord{}
			if err := json.Unmarshal(tuple[0], r.User); err != nil {
				r.User = nil
			}
		}
		if len(tuple) > 1 && !isNull(tuple[1]) {
			r.Assistant = &AssistantRecord{}
			if err := json.Unmarshal(tuple[1], r.Assistant); err != nil {
				r.Assistant = nil
			}
		}
		return nil
	}

	type alias Record
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = Record(a)
	return nil
}

// UserRecord carries either a prompt or a batch of tool-use results. Content
// is kept raw; shape predicates decode it on demand.
type UserRecord struct {
	MessageID string          `json:"message_id"`
	Content   json.RawMessage `json:"content"`
}

// Prompt reports whether the user content is a non-empty prompt string.
func (u *UserRecord) Prompt() (string, bool) {
	if u == nil || len(u.Content) == 0 {
		return "", false
	}
	var shape struct {
		Prompt *struct {
			Prompt string `json:"prompt"`
		} `json:"Prompt"`
	}
	if err := json.Unmarshal(u.Content, &shape); err != nil || shape.Prompt == nil {
		return "", false
	}
	if shape.Prompt.Prompt == "" {
		return "", false
	}
	return shape.Prompt.Prompt, true
}

// ToolUseResults reports whether the user content is a batch of tool-use
// results.
func (u *UserRecord) ToolUseResults() ([]ToolUseResult, bool) {
	if u == nil || len(u.Content) == 0 {
		return nil, false
	}
	var shape struct {
		ToolUseResults *struct {
			Results []ToolUseResult `json:"tool_use_results"`
		} `json:"ToolUseResults"`
	}
	if err := json.Unmarshal(u.Content, &shape); err != nil || shape.ToolUseResults == nil {
		return nil, false
	}
	return shape.ToolUseResults.Results, true
}

// ToolUseResult is one result correlated back to a tool invocation.
type ToolUseResult struct {
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	Status    string          `json:"status"`
}

// AssistantRecord carries a batch of tool invocations, a text response, or
// both (one logical turn split across invocation and reply).
type AssistantRecord struct {
	ToolUse  *ToolUseBatch `json:"ToolUse"`
	Response *Response     `json:"Response"`
}

type ToolUseBatch struct {
	MessageID string    `json:"message_id"`
	ToolUses  []ToolUse `json:"tool_uses"`
}

type ToolUse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	OrigName string         `json:"orig_name"`
	Args     map[string]any `json:"args"`
	OrigArgs map[string]any `json:"orig_args"`
}

type Response struct {
	MessageID string          `json:"message_id"`
	Content   json.RawMessage `json:"content"`
}

func trimLeadingSpace(data []byte) []byte {
	for i, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return data[i:]
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := trimLeadingSpace(raw)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

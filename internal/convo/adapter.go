package convo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nautlabs/skiff/internal/domain"
)

const unknownToolName = "unknown_tool"

// metadata keys checked for a per-entry model identifier, in priority order.
// Top-level keys win over the same keys nested one level under a
// parameter-like container.
var (
	modelKeys     = []string{"model", "model_id", "modelId"}
	modelNestKeys = []string{"params", "parameters", "config", "options"}
)

// Convert transforms an ordered sequence of raw log entries into canonical
// messages. It is pure: no I/O and no state retained between calls. It never
// fails; malformed content degrades to a textual fallback.
//
// Within one call, a source message id always maps to the same canonical id,
// and generated ids never collide.
func Convert(entries []Record, conversationID, fallbackModel string) []*domain.Message {
	ids := newIDGen()
	now := time.Now()

	var out []*domain.Message
	for _, entry := range entries {
		model := metadataModel(entry.RequestMetadata)
		if model == "" {
			model = fallbackModel
		}

		if entry.User != nil {
			out = append(out, convertUser(entry.User, conversationID, ids, now)...)
		}

		if entry.Assistant != nil {
			out = append(out, convertAssistant(entry.Assistant, conversationID, model, ids, now)...)
		}
	}

	return out
}

func convertUser(user *UserRecord, conversationID string, ids *idGen, now time.Time) []*domain.Message {
	if prompt, ok := user.Prompt(); ok {
		return []*domain.Message{{
			ID:             ids.For(user.MessageID),
			ConversationID: conversationID,
			Kind:           domain.MessageKindPrompt,
			Text:           prompt,
			CreatedAt:      now,
		}}
	}

	results, ok := user.ToolUseResults()
	if !ok {
		return nil
	}

	msgs := make([]*domain.Message, 0, len(results))
	for _, res := range results {
		msgs = append(msgs, &domain.Message{
			ID:             ids.For(""),
			ConversationID: conversationID,
			Kind:           domain.MessageKindToolResult,
			ToolUseID:      res.ToolUseID,
			IsError:        strings.EqualFold(res.Status, "error"),
			Blocks:         normalizeContent(res.Content),
			CreatedAt:      now,
		})
	}
	return msgs
}

func convertAssistant(assistant *AssistantRecord, conversationID, model string, ids *idGen, now time.Time) []*domain.Message {
	var out []*domain.Message
	var toolMsg *domain.Message

	if assistant.ToolUse != nil {
		blocks := make([]domain.ContentBlock, 0, len(assistant.ToolUse.ToolUses))
		for _, tu := range assistant.ToolUse.ToolUses {
			blocks = append(blocks, toolUseBlock(tu))
		}
		toolMsg = &domain.Message{
			ID:             ids.For(assistant.ToolUse.MessageID),
			ConversationID: conversationID,
			Kind:           domain.MessageKindAssistant,
			Blocks:         blocks,
			Model:          model,
			CreatedAt:      now,
		}
		out = append(out, toolMsg)
	}

	if assistant.Response != nil {
		blocks := normalizeContent(assistant.Response.Content)
		out = append(out, &domain.Message{
			ID:             ids.For(assistant.Response.MessageID),
			ConversationID: conversationID,
			Kind:           domain.MessageKindAssistant,
			Blocks:         blocks,
			Transcript:     blocks,
			Model:          model,
			CreatedAt:      now,
		})

		// A tool-use message immediately followed by a response in the same
		// entry is one logical turn: back-fill the earlier message's
		// transcript with the reply text. Best-effort only.
		if toolMsg != nil {
			toolMsg.Transcript = blocks
		}
	}

	return out
}

func toolUseBlock(tu ToolUse) domain.ContentBlock {
	id := tu.ID
	if id == "" {
		id = uuid.NewString()
	}

	name := tu.Name
	if name == "" {
		name = tu.OrigName
	}
	if name == "" {
		name = unknownToolName
	}

	input := tu.Args
	if input == nil {
		input = tu.OrigArgs
	}
	if input == nil {
		input = map[string]any{}
	}

	return domain.ContentBlock{
		Kind:      domain.BlockKindToolUse,
		ToolUseID: id,
		ToolName:  name,
		ToolInput: input,
	}
}

// normalizeContent maps any raw content value to one or more text blocks.
// Each branch is total; the final catch-all is a JSON pretty-print so no
// shape ever produces an error or an empty result.
func normalizeContent(raw json.RawMessage) []domain.ContentBlock {
	if isNull(raw) {
		return []domain.ContentBlock{textBlock("(no content)")}
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return []domain.ContentBlock{textBlock(string(raw))}
	}

	switch v := value.(type) {
	case string:
		return []domain.ContentBlock{textBlock(v)}

	case []any:
		blocks := make([]domain.ContentBlock, 0, len(v))
		for _, elem := range v {
			blocks = append(blocks, textBlock(elementText(elem)))
		}
		if len(blocks) == 0 {
			return []domain.ContentBlock{textBlock("(no content)")}
		}
		return blocks

	case map[string]any:
		if blocks, ok := stdioBlocks(v); ok {
			return blocks
		}
		if text, ok := v["Text"].(string); ok {
			return []domain.ContentBlock{textBlock(text)}
		}
		return []domain.ContentBlock{textBlock(prettyJSON(v))}

	default:
		return []domain.ContentBlock{textBlock(prettyJSON(v))}
	}
}

// elementText extracts the best-effort text of one array element.
func elementText(elem any) string {
	switch e := elem.(type) {
	case string:
		return e
	case map[string]any:
		if text, ok := e["text"].(string); ok {
			return text
		}
		if text, ok := e["Text"].(string); ok {
			return text
		}
		return prettyJSON(e)
	default:
		return prettyJSON(e)
	}
}

// stdioBlocks renders an object carrying stdout/stderr fields as labeled
// blocks. Reports false when neither field holds text, so the caller falls
// through to the JSON fallback.
func stdioBlocks(obj map[string]any) ([]domain.ContentBlock, bool) {
	_, hasOut := obj["stdout"]
	_, hasErr := obj["stderr"]
	if !hasOut && !hasErr {
		return nil, false
	}

	var blocks []domain.ContentBlock
	if out, ok := obj["stdout"].(string); ok && out != "" {
		blocks = append(blocks, textBlock("Stdout:\n"+out))
	}
	if errText, ok := obj["stderr"].(string); ok && errText != "" {
		blocks = append(blocks, textBlock("Stderr:\n"+errText))
	}
	if len(blocks) == 0 {
		return nil, false
	}
	return blocks, true
}

func textBlock(text string) domain.ContentBlock {
	return domain.ContentBlock{Kind: domain.BlockKindText, Text: text}
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// metadataModel looks up a model identifier in an entry's request metadata:
// top-level keys first, then the same keys one level under parameter-like
// containers. Returns "" when nothing matches.
func metadataModel(md map[string]any) string {
	if md == nil {
		return ""
	}
	for _, key := range modelKeys {
		if s, ok := md[key].(string); ok && s != "" {
			return s
		}
	}
	for _, nest := range modelNestKeys {
		sub, ok := md[nest].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range modelKeys {
			if s, ok := sub[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// idGen assigns stable canonical ids: a source id maps to the same canonical
// id for the lifetime of one Convert call, and ids generated for sources
// without one never collide.
type idGen struct {
	bySource map[string]string
}

func newIDGen() *idGen {
	return &idGen{bySource: make(map[string]string)}
}

func (g *idGen) For(sourceID string) string {
	if sourceID == "" {
		return uuid.NewString()
	}
	if id, ok := g.bySource[sourceID]; ok {
		return id
	}
	g.bySource[sourceID] = sourceID
	return sourceID
}

package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/nautlabs/skiff/internal/domain"
)

// MarkdownExporter exports transcripts as human-readable Markdown.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(sess *domain.Session, msgs []*domain.Message, w io.Writer) error {
	title := sess.Title
	if title == "" {
		title = sess.ID.String()
	}
	_, _ = fmt.Fprintf(w, "# Session %s\n\n", title)
	_, _ = fmt.Fprintf(w, "**Working directory:** %s  \n", sess.WorkingDir)
	if sess.Model != "" {
		_, _ = fmt.Fprintf(w, "**Model:** %s  \n", sess.Model)
	}
	_, _ = fmt.Fprintf(w, "**Status:** %s  \n", sess.Status)
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(msgs))
	_, _ = fmt.Fprintf(w, "---\n\n")

	for i, msg := range msgs {
		e.writeMessage(w, msg)
		if i < len(msgs)-1 {
			_, _ = fmt.Fprintf(w, "\n---\n\n")
		}
	}

	return nil
}

func (e *MarkdownExporter) writeMessage(w io.Writer, msg *domain.Message) {
	switch msg.Kind {
	case domain.MessageKindPrompt:
		_, _ = fmt.Fprintf(w, "**User:**\n\n%s\n", msg.Text)
	case domain.MessageKindSystem:
		_, _ = fmt.Fprintf(w, "**System:** %s\n", msg.Text)
	case domain.MessageKindStatus:
		_, _ = fmt.Fprintf(w, "**Status:** %s\n", msg.Status)
	case domain.MessageKindToolResult:
		label := "Tool result"
		if msg.IsError {
			label = "Tool error"
		}
		_, _ = fmt.Fprintf(w, "**%s** (`%s`):\n\n%s\n", label, msg.ToolUseID, blocksText(msg.Blocks))
	case domain.MessageKindAssistant:
		_, _ = fmt.Fprintf(w, "**Assistant:**\n\n%s\n", blocksText(msg.Blocks))
	default:
		_, _ = fmt.Fprintf(w, "**%s:**\n\n%s\n", msg.Kind, msg.Text)
	}
}

func blocksText(blocks []domain.ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case domain.BlockKindToolUse:
			parts = append(parts, fmt.Sprintf("`%s(%v)`", b.ToolName, b.ToolInput))
		default:
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (e *MarkdownExporter) Extension() string   { return "md" }
func (e *MarkdownExporter) ContentType() string { return "text/markdown" }

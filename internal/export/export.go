// Package export renders a session's canonical message history in portable
// formats for archival or sharing.
package export

import (
	"fmt"
	"io"

	"github.com/nautlabs/skiff/internal/domain"
)

// Exporter writes a session transcript in one format.
type Exporter interface {
	Export(sess *domain.Session, msgs []*domain.Message, w io.Writer) error
	Extension() string
	ContentType() string
}

// NewExporter returns the exporter for a format name.
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "yaml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("export.NewExporter: unsupported format %q (supported: json, yaml, md)", format)
	}
}

// transcript is the shared export document shape.
type transcript struct {
	SessionID      string            `json:"session_id" yaml:"session_id"`
	Title          string            `json:"title,omitempty" yaml:"title,omitempty"`
	WorkingDir     string            `json:"working_dir" yaml:"working_dir"`
	ConversationID string            `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Model          string            `json:"model,omitempty" yaml:"model,omitempty"`
	Status         string            `json:"status" yaml:"status"`
	Messages       []*domain.Message `json:"messages" yaml:"messages"`
}

func newTranscript(sess *domain.Session, msgs []*domain.Message) *transcript {
	return &transcript{
		SessionID:      sess.ID.String(),
		Title:          sess.Title,
		WorkingDir:     sess.WorkingDir,
		ConversationID: sess.ConversationID,
		Model:          sess.Model,
		Status:         string(sess.Status),
		Messages:       msgs,
	}
}

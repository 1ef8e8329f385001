package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nautlabs/skiff/internal/domain"
)

// JSONExporter exports transcripts as indented JSON.
type JSONExporter struct{}

func (e *JSONExporter) Export(sess *domain.Session, msgs []*domain.Message, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(newTranscript(sess, msgs)); err != nil {
		return fmt.Errorf("export.JSONExporter.Export: %w", err)
	}
	return nil
}

func (e *JSONExporter) Extension() string   { return "json" }
func (e *JSONExporter) ContentType() string { return "application/json" }

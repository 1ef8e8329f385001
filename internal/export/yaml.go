package export

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/nautlabs/skiff/internal/domain"
)

// YAMLExporter exports transcripts as YAML.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(sess *domain.Session, msgs []*domain.Message, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()

	if err := enc.Encode(newTranscript(sess, msgs)); err != nil {
		return fmt.Errorf("export.YAMLExporter.Export: %w", err)
	}
	return nil
}

func (e *YAMLExporter) Extension() string   { return "yaml" }
func (e *YAMLExporter) ContentType() string { return "application/yaml" }

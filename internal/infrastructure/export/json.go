// Package export renders finalized certificates for download.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
)

// JSONWriter renders a certificate as indented JSON. Money fields are
// decimal strings so no precision is lost.
type JSONWriter struct{}

// NewJSONWriter creates a JSON certificate writer
func NewJSONWriter() *JSONWriter {
	return &JSONWriter{}
}

// Write encodes cert to w
func (jw *JSONWriter) Write(ctx context.Context, cert *entity.Certificate, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cert); err != nil {
		return fmt.Errorf("failed to encode certificate: %w", err)
	}
	return nil
}

// ContentType returns the MIME type of the output
func (jw *JSONWriter) ContentType() string { return "application/json" }

// Extension returns the file extension of the output
func (jw *JSONWriter) Extension() string { return ".json" }

var _ port.CertificateWriter = (*JSONWriter)(nil)

package storage

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	"github.com/garyjia/payapp-engine/internal/infrastructure/identity"
)

// CertificateSource produces the certificate of a finalized application
type CertificateSource interface {
	Export(ctx context.Context, appID int64) (*entity.Certificate, error)
}

// CertificateArchive files a copy of every finalized certificate, one per
// writer format, under project-<id>/.
type CertificateArchive struct {
	files   *LocalFileStorage
	source  CertificateSource
	writers []port.CertificateWriter
	logger  *zap.Logger
}

// NewCertificateArchive creates an archive rooted at baseDir
func NewCertificateArchive(baseDir string, source CertificateSource, writers []port.CertificateWriter, logger *zap.Logger) *CertificateArchive {
	return &CertificateArchive{
		files:   NewLocalFileStorage(baseDir, logger),
		source:  source,
		writers: writers,
		logger:  logger,
	}
}

// Path returns the archive path of a certificate rendered by w
func (a *CertificateArchive) Path(cert *entity.Certificate, w port.CertificateWriter) string {
	return fmt.Sprintf("project-%d/application-%03d-%s%s",
		cert.ProjectID, cert.ApplicationNumber, cert.Number, w.Extension())
}

// Archive renders cert with every writer. Files already present are kept,
// so re-archiving the same certificate is a no-op.
func (a *CertificateArchive) Archive(ctx context.Context, cert *entity.Certificate) ([]string, error) {
	var paths []string
	for _, w := range a.writers {
		path := a.Path(cert, w)
		if a.files.Exists(ctx, path) {
			paths = append(paths, path)
			continue
		}

		var buf bytes.Buffer
		if err := w.Write(ctx, cert, &buf); err != nil {
			return paths, fmt.Errorf("render %s: %w", w.Extension(), err)
		}
		if err := a.files.Save(ctx, path, buf.Bytes()); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// HandleFinalized archives the certificate of a finalized application,
// reading it as the director who finalized it.
func (a *CertificateArchive) HandleFinalized(ctx context.Context, evt *event.Event) error {
	cert, err := a.source.Export(identity.WithUserID(ctx, evt.ActorID), evt.AggregateID)
	if err != nil {
		return fmt.Errorf("export certificate for application %d: %w", evt.AggregateID, err)
	}

	paths, err := a.Archive(ctx, cert)
	if err != nil {
		a.logger.Error("Failed to archive certificate",
			zap.Int64("pay_application_id", evt.AggregateID),
			zap.Error(err))
		return err
	}

	a.logger.Info("Certificate archived",
		zap.Int64("pay_application_id", evt.AggregateID),
		zap.String("certificate_number", cert.Number),
		zap.Strings("paths", paths))
	return nil
}

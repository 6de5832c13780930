package port

import (
	"context"
	"io"

	"github.com/garyjia/payapp-engine/internal/domain/entity"
)

// CertificateWriter renders a settlement certificate to a document format
type CertificateWriter interface {
	Write(ctx context.Context, cert *entity.Certificate, w io.Writer) error
	ContentType() string
	Extension() string
}

// Notice is a message for a user, produced when review work changes hands
type Notice struct {
	RecipientID string
	Subject     string
	Body        string
	EventID     string
}

// Notifier delivers notices. Delivery itself is an external concern.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

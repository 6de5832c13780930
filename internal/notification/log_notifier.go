package notification

import (
	"context"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	"go.uber.org/zap"
)

// LogNotifier writes notices to the log in place of a delivery channel
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs each notice
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notice
func (n *LogNotifier) Notify(ctx context.Context, notice port.Notice) error {
	n.logger.Info("Notice",
		zap.String("recipient_id", notice.RecipientID),
		zap.String("subject", notice.Subject),
		zap.String("body", notice.Body),
		zap.String("event_id", notice.EventID))
	return nil
}

// AuditLog returns a handler that records every committed event
func AuditLog(logger *zap.Logger) func(ctx context.Context, evt *event.Event) error {
	return func(ctx context.Context, evt *event.Event) error {
		logger.Info("Domain event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.Int64("project_id", evt.ProjectID),
			zap.Int64("aggregate_id", evt.AggregateID),
			zap.String("actor_id", evt.ActorID),
			zap.String("correlation_id", evt.CorrelationID),
			zap.Any("payload", evt.Payload))
		return nil
	}
}

var _ port.Notifier = (*LogNotifier)(nil)

package notify

import (
	"context"

	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/event"
	"go.uber.org/zap"
)

// AuditLogger writes audit facts through a dedicated named zap logger
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates a new AuditLogger
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("audit")}
}

// Record implements port.AuditSink
func (a *AuditLogger) Record(ctx context.Context, evt *event.Event) error {
	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("event_type", string(evt.Type)),
		zap.String("actor_id", evt.ActorID),
		zap.String("company_id", evt.CompanyID),
		zap.String("correlation_id", evt.CorrelationID),
		zap.Time("at", evt.Timestamp),
	}
	if evt.DisbursementID != "" {
		fields = append(fields, zap.String("disbursement_id", evt.DisbursementID))
	}
	if len(evt.Payload) > 0 {
		fields = append(fields, zap.Any("payload", evt.Payload))
	}

	a.logger.Warn("Audit", fields...)
	return nil
}

// Verify interface compliance
var _ port.AuditSink = (*AuditLogger)(nil)

package service

import (
	"context"
	"fmt"

	"github.com/garyjia/disbursement-approvals/internal/application/dispatcher"
	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/event"
)

// NotificationService hands domain events to the notification and audit collaborators
type NotificationService interface {
	// Register subscribes the service to the dispatcher
	Register(d dispatcher.Dispatcher)

	// Forward publishes an event to the notification collaborator
	Forward(ctx context.Context, evt *event.Event) error

	// Audit records audit facts and ignores every other event
	Audit(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	publisher port.EventPublisher
	audit     port.AuditSink
	logger    Logger
}

// NewNotificationService creates a new NotificationService. publisher may be nil
// when no notification transport is configured.
func NewNotificationService(publisher port.EventPublisher, audit port.AuditSink, logger Logger) NotificationService {
	return &notificationServiceImpl{
		publisher: publisher,
		audit:     audit,
		logger:    logger,
	}
}

func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	if s.publisher != nil {
		for _, t := range []event.Type{
			event.TypeDisbursementCreated,
			event.TypeDisbursementTransitioned,
			event.TypeDisbursementStalled,
			event.TypeTemplateActivated,
		} {
			d.SubscribeNamed(t, "notification.forward", s.Forward)
		}
	}
	if s.audit != nil {
		d.SubscribeNamed(dispatcher.AllEvents, "audit.record", s.Audit)
	}
}

func (s *notificationServiceImpl) Forward(ctx context.Context, evt *event.Event) error {
	if s.publisher == nil {
		return nil
	}

	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error("Failed to publish event",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"disbursement_id", evt.DisbursementID,
			"error", err,
		)
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}

	s.logger.Info("Event published",
		"event_type", evt.Type,
		"event_id", evt.ID,
		"disbursement_id", evt.DisbursementID,
	)
	return nil
}

func (s *notificationServiceImpl) Audit(ctx context.Context, evt *event.Event) error {
	if s.audit == nil || !evt.Type.IsAudit() {
		return nil
	}
	if err := s.audit.Record(ctx, evt); err != nil {
		s.logger.Error("Failed to record audit fact", "event_type", evt.Type, "event_id", evt.ID, "error", err)
		return fmt.Errorf("record audit %s: %w", evt.Type, err)
	}
	return nil
}

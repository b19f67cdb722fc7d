package port

import (
	"context"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/domain/event"
)

// Identity is the verified subject of a bearer token
type Identity struct {
	UserID    string
	CompanyID string
	ExpiresAt time.Time
}

// Authenticator verifies bearer tokens. Any failure is errs.KindUnauthenticated.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// EventPublisher delivers domain events to the notification collaborator
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) error
	Close() error
}

// AuditSink records audit facts such as cross-tenant access and overrides
type AuditSink interface {
	Record(ctx context.Context, evt *event.Event) error
}

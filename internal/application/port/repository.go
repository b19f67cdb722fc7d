package port

import (
	"context"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
)

// DisbursementRepository defines persistence operations for Disbursement.
// Getters return nil, nil when the record does not exist.
type DisbursementRepository interface {
	Create(ctx context.Context, d *entity.Disbursement) error

	// GetByID loads the disbursement with its approval history ordered by sequence
	GetByID(ctx context.Context, id string) (*entity.Disbursement, error)

	// ApplyTransition stores d's status, step and template only if the stored
	// (status, current_step_order) still equals the expected pair, and appends
	// entry in the same write. Returns errs.ErrConcurrentModification otherwise.
	ApplyTransition(ctx context.Context, d *entity.Disbursement, expectedStatus string, expectedStep int, entry *entity.HistoryEntry) error

	// ListPendingSince returns non-draft, non-terminal disbursements last updated before cutoff
	ListPendingSince(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Disbursement, error)

	// CountByTemplate returns how many disbursements are bound to a template
	CountByTemplate(ctx context.Context, templateID string) (int, error)
}

// TemplateRepository defines persistence operations for WorkflowTemplate
type TemplateRepository interface {
	Create(ctx context.Context, t *entity.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error)

	// GetCompanyDefault returns the company's own default template
	GetCompanyDefault(ctx context.Context, companyID string) (*entity.WorkflowTemplate, error)

	// GetSystemDefault returns the seeded system-wide default template
	GetSystemDefault(ctx context.Context) (*entity.WorkflowTemplate, error)

	// ListForCompany returns the company's templates followed by system templates
	ListForCompany(ctx context.Context, companyID string) ([]*entity.WorkflowTemplate, error)

	// UpdateSteps and Delete refuse templates already in use with a ValidationError
	UpdateSteps(ctx context.Context, t *entity.WorkflowTemplate) error
	Delete(ctx context.Context, id string) error

	// MarkInUse freezes the template if its updated_at still equals resolvedAt,
	// returning ConcurrentModification otherwise
	MarkInUse(ctx context.Context, id string, resolvedAt time.Time) error

	// SetDefault marks templateID as the only default of companyID in a single statement
	SetDefault(ctx context.Context, companyID, templateID string) error

	// UpsertSystem creates or replaces a seeded system template; templates in use keep their steps
	UpsertSystem(ctx context.Context, t *entity.WorkflowTemplate) error
}

// DisbursementTypeRepository defines persistence operations for DisbursementType
type DisbursementTypeRepository interface {
	GetByID(ctx context.Context, id string) (*entity.DisbursementType, error)
	Upsert(ctx context.Context, t *entity.DisbursementType) error
}

// DirectoryRepository reads actors with their roles and permission grants
type DirectoryRepository interface {
	// GetActor loads the user with roles, role permissions and direct permissions
	GetActor(ctx context.Context, userID string) (*entity.Actor, error)

	// SaveActor upserts the user, its roles and permission grants
	SaveActor(ctx context.Context, actor *entity.Actor) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

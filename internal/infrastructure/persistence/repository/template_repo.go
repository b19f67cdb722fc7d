package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const templateColumns = `id, company_id, name, is_default, is_system, in_use, steps, created_at, updated_at`

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new workflow template repository
func NewTemplateRepository(db *sqldb.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new template. A default template displaces the previous default.
func (r *TemplateRepository) Create(ctx context.Context, t *entity.WorkflowTemplate) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		query := `INSERT INTO workflow_templates (` + templateColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query),
			t.ID,
			t.CompanyID,
			t.Name,
			false,
			t.IsSystem,
			false,
			string(steps),
			t.CreatedAt.UTC(),
			t.UpdatedAt.UTC(),
		)
		if err != nil {
			r.logger.Error("Failed to create template", zap.String("id", t.ID), zap.Error(err))
			return fmt.Errorf("failed to create template: %w", err)
		}

		if t.IsDefault {
			return r.SetDefault(ctx, t.CompanyID, t.ID)
		}
		return nil
	})
}

// GetByID retrieves a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = ?`
	return r.getOne(ctx, query, id)
}

// GetCompanyDefault retrieves the company's active default template
func (r *TemplateRepository) GetCompanyDefault(ctx context.Context, companyID string) (*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM workflow_templates
		WHERE company_id = ? AND is_default = ?
		ORDER BY updated_at DESC
		LIMIT 1`
	return r.getOne(ctx, query, companyID, true)
}

// GetSystemDefault retrieves the system-wide default template
func (r *TemplateRepository) GetSystemDefault(ctx context.Context) (*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM workflow_templates
		WHERE company_id = '' AND is_system = ? AND is_default = ?
		ORDER BY updated_at DESC
		LIMIT 1`
	return r.getOne(ctx, query, true, true)
}

// ListForCompany returns the company's templates followed by system templates
func (r *TemplateRepository) ListForCompany(ctx context.Context, companyID string) ([]*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM workflow_templates
		WHERE company_id = ? OR company_id = ''
		ORDER BY is_system ASC, created_at ASC, id ASC`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, r.db.Rebind(query), companyID)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var list []*entity.WorkflowTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		list = append(list, t)
	}

	return list, rows.Err()
}

// UpdateSteps replaces the name and steps of a template that no disbursement is bound to
func (r *TemplateRepository) UpdateSteps(ctx context.Context, t *entity.WorkflowTemplate) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `UPDATE workflow_templates SET name = ?, steps = ?, updated_at = ? WHERE id = ? AND in_use = ?`
	result, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query), t.Name, string(steps), t.UpdatedAt.UTC(), t.ID, false)
	if err != nil {
		r.logger.Error("Failed to update template steps", zap.String("id", t.ID), zap.Error(err))
		return fmt.Errorf("failed to update template: %w", err)
	}
	return frozenUnlessAffected(result, t.ID)
}

// Delete removes a template that no disbursement is bound to
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM workflow_templates WHERE id = ? AND in_use = ?`
	result, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query), id, false)
	if err != nil {
		r.logger.Error("Failed to delete template", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return frozenUnlessAffected(result, id)
}

// MarkInUse freezes the template, provided it still carries the updated_at the
// caller resolved. The row lock it takes orders it against UpdateSteps and Delete.
func (r *TemplateRepository) MarkInUse(ctx context.Context, id string, resolvedAt time.Time) error {
	query := `UPDATE workflow_templates SET in_use = ? WHERE id = ? AND updated_at = ?`
	result, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query), true, id, resolvedAt.UTC())
	if err != nil {
		r.logger.Error("Failed to mark template in use", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark template in use: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return errs.New(errs.KindConcurrentModification, "template %s changed while it was being bound", id)
	}
	return nil
}

// SetDefault flips is_default for every template of the company in one
// statement, so readers never observe zero or two defaults
func (r *TemplateRepository) SetDefault(ctx context.Context, companyID, templateID string) error {
	query := `UPDATE workflow_templates SET is_default = (id = ?) WHERE company_id = ?`
	_, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query), templateID, companyID)
	if err != nil {
		r.logger.Error("Failed to set default template",
			zap.String("company_id", companyID), zap.String("template_id", templateID), zap.Error(err))
		return fmt.Errorf("failed to set default template: %w", err)
	}
	return nil
}

// UpsertSystem creates or replaces a system template. A template already in use
// keeps its name and steps; only the default flag is applied.
func (r *TemplateRepository) UpsertSystem(ctx context.Context, t *entity.WorkflowTemplate) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO workflow_templates (` + templateColumns + `)
			VALUES (?, '', ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				company_id = '',
				name = excluded.name,
				is_system = excluded.is_system,
				steps = excluded.steps,
				updated_at = excluded.updated_at
			WHERE workflow_templates.in_use = ?
		`

		_, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query),
			t.ID,
			t.Name,
			false,
			true,
			false,
			string(steps),
			t.CreatedAt.UTC(),
			t.UpdatedAt.UTC(),
			false,
		)
		if err != nil {
			r.logger.Error("Failed to upsert system template", zap.String("id", t.ID), zap.Error(err))
			return fmt.Errorf("failed to upsert system template: %w", err)
		}

		if t.IsDefault {
			return r.SetDefault(ctx, "", t.ID)
		}
		return nil
	})
}

func (r *TemplateRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entity.WorkflowTemplate, error) {
	t, err := scanTemplate(r.db.Executor(ctx).QueryRowContext(ctx, r.db.Rebind(query), args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// frozenUnlessAffected reports a conditional edit that matched no row
func frozenUnlessAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return errs.New(errs.KindValidation, "template %s is bound to a disbursement and is immutable", id)
	}
	return nil
}

func scanTemplate(row rowScanner) (*entity.WorkflowTemplate, error) {
	var t entity.WorkflowTemplate
	var steps string

	err := row.Scan(
		&t.ID,
		&t.CompanyID,
		&t.Name,
		&t.IsDefault,
		&t.IsSystem,
		&t.InUse,
		&steps,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(steps), &t.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps of template %s: %w", t.ID, err)
	}
	return &t, nil
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)

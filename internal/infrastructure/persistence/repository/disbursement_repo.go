package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const disbursementColumns = `
	id, company_id, created_by, amount, currency, beneficiary_id,
	disbursement_type_id, department_id, office_id, priority, urgent, description,
	status, workflow_template_id, current_step_order, created_at, updated_at`

// DisbursementRepository implements port.DisbursementRepository
type DisbursementRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewDisbursementRepository creates a new disbursement repository
func NewDisbursementRepository(db *sqldb.DB, logger *zap.Logger) port.DisbursementRepository {
	return &DisbursementRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new disbursement together with any history it carries
func (r *DisbursementRepository) Create(ctx context.Context, d *entity.Disbursement) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		query := `INSERT INTO disbursements (` + disbursementColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query),
			d.ID,
			d.CompanyID,
			d.CreatedBy,
			d.Amount.String(),
			d.Currency,
			d.BeneficiaryID,
			d.DisbursementTypeID,
			d.DepartmentID,
			d.OfficeID,
			d.Priority,
			d.Urgent,
			d.Description,
			d.Status,
			d.WorkflowTemplateID,
			d.CurrentStepOrder,
			d.CreatedAt.UTC(),
			d.UpdatedAt.UTC(),
		)
		if err != nil {
			r.logger.Error("Failed to create disbursement", zap.String("id", d.ID), zap.Error(err))
			return fmt.Errorf("failed to create disbursement: %w", err)
		}

		for i := range d.History {
			if err := r.appendHistory(ctx, &d.History[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves a disbursement and its history ordered by sequence
func (r *DisbursementRepository) GetByID(ctx context.Context, id string) (*entity.Disbursement, error) {
	query := `SELECT ` + disbursementColumns + ` FROM disbursements WHERE id = ?`

	d, err := scanDisbursement(r.db.Executor(ctx).QueryRowContext(ctx, r.db.Rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get disbursement by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get disbursement: %w", err)
	}

	history, err := r.history(ctx, id)
	if err != nil {
		return nil, err
	}
	d.History = history

	return d, nil
}

// ApplyTransition performs a compare-and-set on (status, current_step_order)
// and appends the history entry within the same transaction
func (r *DisbursementRepository) ApplyTransition(ctx context.Context, d *entity.Disbursement, expectedStatus string, expectedStep int, entry *entity.HistoryEntry) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		query := `
			UPDATE disbursements
			SET status = ?, current_step_order = ?, workflow_template_id = ?, updated_at = ?
			WHERE id = ? AND status = ? AND current_step_order = ?
		`

		result, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query),
			d.Status,
			d.CurrentStepOrder,
			d.WorkflowTemplateID,
			d.UpdatedAt.UTC(),
			d.ID,
			expectedStatus,
			expectedStep,
		)
		if err != nil {
			r.logger.Error("Failed to update disbursement state", zap.String("id", d.ID), zap.Error(err))
			return fmt.Errorf("failed to update disbursement state: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return errs.New(errs.KindConcurrentModification,
				"disbursement %s is no longer %s at step %d", d.ID, expectedStatus, expectedStep)
		}

		if entry != nil {
			return r.appendHistory(ctx, entry)
		}
		return nil
	})
}

// ListPendingSince returns in-flight disbursements untouched since cutoff, oldest first
func (r *DisbursementRepository) ListPendingSince(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Disbursement, error) {
	query := `SELECT ` + disbursementColumns + `
		FROM disbursements
		WHERE status NOT IN (?, ?, ?, ?) AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, r.db.Rebind(query),
		entity.StatusDraft, entity.StatusCompleted, entity.StatusRejected, entity.StatusCancelled,
		cutoff.UTC(), limit)
	if err != nil {
		r.logger.Error("Failed to list pending disbursements", zap.Error(err))
		return nil, fmt.Errorf("failed to list pending disbursements: %w", err)
	}
	defer rows.Close()

	var list []*entity.Disbursement
	for rows.Next() {
		d, err := scanDisbursement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disbursement: %w", err)
		}
		list = append(list, d)
	}

	return list, rows.Err()
}

// CountByTemplate returns the number of disbursements bound to a template
func (r *DisbursementRepository) CountByTemplate(ctx context.Context, templateID string) (int, error) {
	var count int
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		r.db.Rebind(`SELECT COUNT(*) FROM disbursements WHERE workflow_template_id = ?`), templateID).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count disbursements by template", zap.String("template_id", templateID), zap.Error(err))
		return 0, fmt.Errorf("failed to count disbursements: %w", err)
	}
	return count, nil
}

func (r *DisbursementRepository) appendHistory(ctx context.Context, entry *entity.HistoryEntry) error {
	query := `
		INSERT INTO approval_history (
			disbursement_id, seq, step_order, actor_id, decision, comment,
			auto_approved, override, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query),
		entry.DisbursementID,
		entry.Seq,
		entry.StepOrder,
		entry.ActorID,
		entry.Decision,
		entry.Comment,
		entry.AutoApproved,
		entry.Override,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append history",
			zap.String("disbursement_id", entry.DisbursementID), zap.Int("seq", entry.Seq), zap.Error(err))
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (r *DisbursementRepository) history(ctx context.Context, disbursementID string) ([]entity.HistoryEntry, error) {
	query := `
		SELECT disbursement_id, seq, step_order, actor_id, decision, comment,
			auto_approved, override, created_at
		FROM approval_history
		WHERE disbursement_id = ?
		ORDER BY seq ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, r.db.Rebind(query), disbursementID)
	if err != nil {
		r.logger.Error("Failed to load history", zap.String("disbursement_id", disbursementID), zap.Error(err))
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	history := []entity.HistoryEntry{}
	for rows.Next() {
		var h entity.HistoryEntry
		if err := rows.Scan(
			&h.DisbursementID,
			&h.Seq,
			&h.StepOrder,
			&h.ActorID,
			&h.Decision,
			&h.Comment,
			&h.AutoApproved,
			&h.Override,
			&h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDisbursement(row rowScanner) (*entity.Disbursement, error) {
	var d entity.Disbursement
	err := row.Scan(
		&d.ID,
		&d.CompanyID,
		&d.CreatedBy,
		&d.Amount,
		&d.Currency,
		&d.BeneficiaryID,
		&d.DisbursementTypeID,
		&d.DepartmentID,
		&d.OfficeID,
		&d.Priority,
		&d.Urgent,
		&d.Description,
		&d.Status,
		&d.WorkflowTemplateID,
		&d.CurrentStepOrder,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.History = []entity.HistoryEntry{}
	return &d, nil
}

// Verify interface compliance
var _ port.DisbursementRepository = (*DisbursementRepository)(nil)

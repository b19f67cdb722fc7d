package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/persistence/sqldb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DisbursementTypeRepository implements port.DisbursementTypeRepository
type DisbursementTypeRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewDisbursementTypeRepository creates a new disbursement type repository
func NewDisbursementTypeRepository(db *sqldb.DB, logger *zap.Logger) port.DisbursementTypeRepository {
	return &DisbursementTypeRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a disbursement type by ID
func (r *DisbursementTypeRepository) GetByID(ctx context.Context, id string) (*entity.DisbursementType, error) {
	query := `
		SELECT id, company_id, name, auto_approve_under, threshold_currency, auto_approve_rule, created_at
		FROM disbursement_types
		WHERE id = ?
	`

	var t entity.DisbursementType
	var threshold decimal.NullDecimal

	err := r.db.Executor(ctx).QueryRowContext(ctx, r.db.Rebind(query), id).Scan(
		&t.ID,
		&t.CompanyID,
		&t.Name,
		&threshold,
		&t.ThresholdCurrency,
		&t.AutoApproveRule,
		&t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get disbursement type", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get disbursement type: %w", err)
	}

	if threshold.Valid {
		t.AutoApproveUnder = &threshold.Decimal
	}
	return &t, nil
}

// Upsert creates or replaces a disbursement type
func (r *DisbursementTypeRepository) Upsert(ctx context.Context, t *entity.DisbursementType) error {
	query := `
		INSERT INTO disbursement_types (
			id, company_id, name, auto_approve_under, threshold_currency, auto_approve_rule, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			auto_approve_under = excluded.auto_approve_under,
			threshold_currency = excluded.threshold_currency,
			auto_approve_rule = excluded.auto_approve_rule
	`

	var threshold sql.NullString
	if t.AutoApproveUnder != nil {
		threshold = sql.NullString{String: t.AutoApproveUnder.String(), Valid: true}
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(query),
		t.ID,
		t.CompanyID,
		t.Name,
		threshold,
		t.ThresholdCurrency,
		t.AutoApproveRule,
		t.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to upsert disbursement type", zap.String("id", t.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert disbursement type: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.DisbursementTypeRepository = (*DisbursementTypeRepository)(nil)

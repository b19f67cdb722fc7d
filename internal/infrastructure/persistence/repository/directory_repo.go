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

const permissionColumns = `p.id, p.company_id, p.code, p.resource, p.action,
	p.max_amount, p.department_restricted, p.office_restricted`

// DirectoryRepository implements port.DirectoryRepository
type DirectoryRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sqldb.DB, logger *zap.Logger) port.DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// GetActor loads a user with roles, role permissions and direct grants
func (r *DirectoryRepository) GetActor(ctx context.Context, userID string) (*entity.Actor, error) {
	query := `
		SELECT id, company_id, department_id, office_id, email, is_platform_operator
		FROM users
		WHERE id = ?
	`

	var a entity.Actor
	err := r.db.Executor(ctx).QueryRowContext(ctx, r.db.Rebind(query), userID).Scan(
		&a.ID,
		&a.CompanyID,
		&a.DepartmentID,
		&a.OfficeID,
		&a.Email,
		&a.IsPlatformOperator,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	roles, err := r.roles(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := r.permissions(ctx, `
			SELECT `+permissionColumns+`
			FROM permissions p
			JOIN role_permissions rp ON rp.permission_id = p.id
			WHERE rp.role_id = ?
			ORDER BY p.id`, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	a.Roles = roles

	direct, err := r.permissions(ctx, `
		SELECT `+permissionColumns+`
		FROM permissions p
		JOIN user_permissions up ON up.permission_id = p.id
		WHERE up.user_id = ?
		ORDER BY p.id`, userID)
	if err != nil {
		return nil, err
	}
	a.DirectPermissions = direct

	return &a, nil
}

// SaveActor upserts the user and replaces its role and permission grants
func (r *DirectoryRepository) SaveActor(ctx context.Context, a *entity.Actor) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		ex := r.db.Executor(ctx)

		_, err := ex.ExecContext(ctx, r.db.Rebind(`
			INSERT INTO users (id, company_id, department_id, office_id, email, is_platform_operator)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				company_id = excluded.company_id,
				department_id = excluded.department_id,
				office_id = excluded.office_id,
				email = excluded.email,
				is_platform_operator = excluded.is_platform_operator
		`), a.ID, a.CompanyID, a.DepartmentID, a.OfficeID, a.Email, a.IsPlatformOperator)
		if err != nil {
			r.logger.Error("Failed to upsert user", zap.String("user_id", a.ID), zap.Error(err))
			return fmt.Errorf("failed to upsert user: %w", err)
		}

		if _, err := ex.ExecContext(ctx, r.db.Rebind(`DELETE FROM user_roles WHERE user_id = ?`), a.ID); err != nil {
			return fmt.Errorf("failed to clear user roles: %w", err)
		}
		if _, err := ex.ExecContext(ctx, r.db.Rebind(`DELETE FROM user_permissions WHERE user_id = ?`), a.ID); err != nil {
			return fmt.Errorf("failed to clear user permissions: %w", err)
		}

		for _, role := range a.Roles {
			if err := r.upsertRole(ctx, role); err != nil {
				return err
			}
			if _, err := ex.ExecContext(ctx, r.db.Rebind(`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`), a.ID, role.ID); err != nil {
				return fmt.Errorf("failed to grant role %s: %w", role.ID, err)
			}
		}

		for _, p := range a.DirectPermissions {
			if err := r.upsertPermission(ctx, p); err != nil {
				return err
			}
			if _, err := ex.ExecContext(ctx, r.db.Rebind(`INSERT INTO user_permissions (user_id, permission_id) VALUES (?, ?)`), a.ID, p.ID); err != nil {
				return fmt.Errorf("failed to grant permission %s: %w", p.ID, err)
			}
		}

		return nil
	})
}

func (r *DirectoryRepository) upsertRole(ctx context.Context, role entity.Role) error {
	ex := r.db.Executor(ctx)

	_, err := ex.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO roles (id, company_id, name, role_type)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			role_type = excluded.role_type
	`), role.ID, role.CompanyID, role.Name, role.RoleType)
	if err != nil {
		r.logger.Error("Failed to upsert role", zap.String("role_id", role.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert role: %w", err)
	}

	if _, err := ex.ExecContext(ctx, r.db.Rebind(`DELETE FROM role_permissions WHERE role_id = ?`), role.ID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	for _, p := range role.Permissions {
		if err := r.upsertPermission(ctx, p); err != nil {
			return err
		}
		if _, err := ex.ExecContext(ctx, r.db.Rebind(`INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)`), role.ID, p.ID); err != nil {
			return fmt.Errorf("failed to attach permission %s to role %s: %w", p.ID, role.ID, err)
		}
	}
	return nil
}

func (r *DirectoryRepository) upsertPermission(ctx context.Context, p entity.Permission) error {
	var maxAmount sql.NullString
	if p.Conditions.MaxAmount != nil {
		maxAmount = sql.NullString{String: p.Conditions.MaxAmount.String(), Valid: true}
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, r.db.Rebind(`
		INSERT INTO permissions (id, company_id, code, resource, action, max_amount, department_restricted, office_restricted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			company_id = excluded.company_id,
			code = excluded.code,
			resource = excluded.resource,
			action = excluded.action,
			max_amount = excluded.max_amount,
			department_restricted = excluded.department_restricted,
			office_restricted = excluded.office_restricted
	`), p.ID, p.CompanyID, p.Code, p.Resource, p.Action, maxAmount,
		p.Conditions.DepartmentRestricted, p.Conditions.OfficeRestricted)
	if err != nil {
		r.logger.Error("Failed to upsert permission", zap.String("permission_id", p.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

func (r *DirectoryRepository) roles(ctx context.Context, userID string) ([]entity.Role, error) {
	query := `
		SELECT ro.id, ro.company_id, ro.name, ro.role_type
		FROM roles ro
		JOIN user_roles ur ON ur.role_id = ro.id
		WHERE ur.user_id = ?
		ORDER BY ro.id
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, r.db.Rebind(query), userID)
	if err != nil {
		r.logger.Error("Failed to load roles", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	defer rows.Close()

	var roles []entity.Role
	for rows.Next() {
		var role entity.Role
		if err := rows.Scan(&role.ID, &role.CompanyID, &role.Name, &role.RoleType); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *DirectoryRepository) permissions(ctx context.Context, query string, arg string) ([]entity.Permission, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, r.db.Rebind(query), arg)
	if err != nil {
		r.logger.Error("Failed to load permissions", zap.Error(err))
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}
	defer rows.Close()

	var perms []entity.Permission
	for rows.Next() {
		var p entity.Permission
		var maxAmount decimal.NullDecimal
		if err := rows.Scan(
			&p.ID,
			&p.CompanyID,
			&p.Code,
			&p.Resource,
			&p.Action,
			&maxAmount,
			&p.Conditions.DepartmentRestricted,
			&p.Conditions.OfficeRestricted,
		); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if maxAmount.Valid {
			amount := maxAmount.Decimal
			p.Conditions.MaxAmount = &amount
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Verify interface compliance
var _ port.DirectoryRepository = (*DirectoryRepository)(nil)

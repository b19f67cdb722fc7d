package access

import "github.com/garyjia/disbursement-approvals/internal/domain/entity"

// HoldsRole reports whether actor holds roleType for companyID. Roles owned by
// another company never count; system role types count everywhere.
func HoldsRole(actor *entity.Actor, roleType, companyID string) bool {
	if actor == nil || roleType == "" {
		return false
	}
	for _, r := range actor.Roles {
		if r.RoleType != roleType {
			continue
		}
		if r.CompanyID == "" || r.CompanyID == companyID {
			return true
		}
	}
	return false
}

// IsCompanyAdmin reports whether actor administers companyID
func IsCompanyAdmin(actor *entity.Actor, companyID string) bool {
	if actor == nil || actor.CompanyID != companyID {
		return false
	}
	return HoldsRole(actor, entity.RoleTypeCompanyAdmin, companyID)
}

// WithinStepScope checks the department/office narrowing of a step against the disbursement
func WithinStepScope(actor *entity.Actor, scope string, d *entity.Disbursement) bool {
	switch scope {
	case entity.ScopeDepartment:
		return actor.DepartmentID != "" && actor.DepartmentID == d.DepartmentID
	case entity.ScopeOffice:
		return actor.OfficeID != "" && actor.OfficeID == d.OfficeID
	default:
		return true
	}
}

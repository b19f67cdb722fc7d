package entity

import "github.com/shopspring/decimal"

// Actor is an authenticated user together with everything needed to
// evaluate what they may do
type Actor struct {
	ID           string `json:"id"`
	CompanyID    string `json:"company_id,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	OfficeID     string `json:"office_id,omitempty"`
	Email        string `json:"email"`

	// IsPlatformOperator marks cross-tenant support staff
	IsPlatformOperator bool `json:"is_platform_operator"`

	Roles             []Role       `json:"roles"`
	DirectPermissions []Permission `json:"direct_permissions"`
}

// Role is a named bundle of permissions
type Role struct {
	ID          string       `json:"id"`
	CompanyID   string       `json:"company_id,omitempty"` // empty for system role types
	Name        string       `json:"name"`
	RoleType    string       `json:"role_type"`
	Permissions []Permission `json:"permissions"`
}

// Permission grants an action on a resource, optionally narrowed by conditions
type Permission struct {
	ID         string               `json:"id"`
	CompanyID  string               `json:"company_id,omitempty"`
	Code       string               `json:"code"`
	Resource   string               `json:"resource"`
	Action     string               `json:"action"`
	Conditions PermissionConditions `json:"conditions"`
}

// PermissionConditions narrow when a grant applies; they never widen it
type PermissionConditions struct {
	MaxAmount            *decimal.Decimal `json:"max_amount,omitempty"`
	DepartmentRestricted bool             `json:"department_restricted"`
	OfficeRestricted     bool             `json:"office_restricted"`
}

package entity

// Terminal and initial disbursement statuses. Pending statuses are declared
// by workflow templates and are not listed here.
const (
	StatusDraft     = "draft"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// IsReservedStatus reports whether s is one of the fixed statuses that a
// template step may not claim as its pending status
func IsReservedStatus(s string) bool {
	switch s {
	case StatusDraft, StatusCompleted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority constants for Disbursement
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// IsValidPriority reports whether p is a known priority
func IsValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// History decision constants
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionCancel  = "cancel"
)

// Step scope constants
const (
	ScopeCompany    = "company"
	ScopeDepartment = "department"
	ScopeOffice     = "office"
)

// Role types the core relies on
const (
	RoleTypeCompanyAdmin = "company_admin"
)

// Permission codes evaluated by the core
const (
	PermissionDisbursementCreate  = "disbursement.create"
	PermissionDisbursementApprove = "disbursement.approve"
)

package event

// Type identifies the type of domain event
type Type string

const (
	TypeDisbursementCreated      Type = "disbursement.created"
	TypeDisbursementTransitioned Type = "disbursement.transitioned"
	TypeDisbursementStalled      Type = "disbursement.stalled"
	TypeTenantCrossAccess        Type = "tenant.cross_access"
	TypeWorkflowOverride         Type = "workflow.override"
	TypeTemplateActivated        Type = "template.activated"
)

// Payload keys shared by publishers and subscribers
const (
	KeyFromStatus   = "from_status"
	KeyToStatus     = "to_status"
	KeyAction       = "action"
	KeyStepOrder    = "step_order"
	KeyReason       = "reason"
	KeyTemplateID   = "template_id"
	KeyPendingFor   = "pending_seconds"
	KeyAutoApproved = "auto_approved"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDisbursementCreated,
		TypeDisbursementTransitioned,
		TypeDisbursementStalled,
		TypeTenantCrossAccess,
		TypeWorkflowOverride,
		TypeTemplateActivated:
		return true
	default:
		return false
	}
}

// IsAudit reports whether events of this type are audit facts
func (t Type) IsAudit() bool {
	return t == TypeTenantCrossAccess || t == TypeWorkflowOverride
}

package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Disbursement is a company's request to pay money out
type Disbursement struct {
	ID                 string          `json:"id"`
	CompanyID          string          `json:"company_id"`
	CreatedBy          string          `json:"created_by"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	BeneficiaryID      string          `json:"beneficiary_id"`
	DisbursementTypeID string          `json:"disbursement_type_id"`
	DepartmentID       string          `json:"department_id,omitempty"`
	OfficeID           string          `json:"office_id,omitempty"`
	Priority           string          `json:"priority"`
	Urgent             bool            `json:"urgent"`
	Description        string          `json:"description,omitempty"`

	// Status is template-relative outside of the reserved statuses
	Status             string `json:"status"`
	WorkflowTemplateID string `json:"workflow_template_id,omitempty"`
	CurrentStepOrder   int    `json:"current_step_order"`

	History []HistoryEntry `json:"approval_history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDraft returns true while the disbursement has not been submitted
func (d *Disbursement) IsDraft() bool {
	return d.Status == StatusDraft
}

// IsTerminal returns true once the disbursement reached a final status
func (d *Disbursement) IsTerminal() bool {
	switch d.Status {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// NextSeq returns the sequence number for the next history entry
func (d *Disbursement) NextSeq() int {
	return len(d.History) + 1
}

// DisbursementType classifies disbursements and carries the straight-through threshold
type DisbursementType struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`

	// AutoApproveUnder is exclusive; nil disables auto-approval
	AutoApproveUnder *decimal.Decimal `json:"auto_approve_under,omitempty"`
	// ThresholdCurrency is the currency AutoApproveUnder is expressed in
	ThresholdCurrency string `json:"threshold_currency,omitempty"`
	// AutoApproveRule optionally narrows auto-approval further
	AutoApproveRule string `json:"auto_approve_rule,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

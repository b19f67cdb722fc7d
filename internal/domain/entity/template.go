package entity

import "time"

// WorkflowTemplate is an ordered approval chain owned by a company or the system
type WorkflowTemplate struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id,omitempty"` // empty for system-wide templates
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	IsSystem  bool      `json:"is_system"`
	InUse     bool      `json:"in_use"` // set once a disbursement is bound; the steps are then frozen
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step is one stage of a workflow template
type Step struct {
	Order            int    `json:"order"`
	Name             string `json:"name"`
	RoleRequired     string `json:"role_required"`
	Scope            string `json:"scope"`
	StatusOnPending  string `json:"status_on_pending"`
	StatusOnComplete string `json:"status_on_complete"`
}

// IsSystemWide returns true when the template is available to every company
func (t *WorkflowTemplate) IsSystemWide() bool {
	return t.CompanyID == ""
}

// StepAt returns the step with the given order, or nil
func (t *WorkflowTemplate) StepAt(order int) *Step {
	for i := range t.Steps {
		if t.Steps[i].Order == order {
			return &t.Steps[i]
		}
	}
	return nil
}

package entity

import "time"

// HistoryEntry is one append-only record in a disbursement's approval history
type HistoryEntry struct {
	DisbursementID string    `json:"disbursement_id"`
	Seq            int       `json:"seq"`
	StepOrder      int       `json:"step_order"`
	ActorID        string    `json:"actor_id"`
	Decision       string    `json:"decision"`
	Comment        string    `json:"comment,omitempty"`
	AutoApproved   bool      `json:"auto_approved"`
	Override       bool      `json:"override"`
	CreatedAt      time.Time `json:"created_at"`
}

package workflow

import (
	"fmt"

	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
)

// Phase is the kind of node a disbursement sits on
type Phase int

const (
	PhaseDraft Phase = iota
	PhasePending
	PhaseCompleted
	PhaseRejected
	PhaseCancelled
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseDraft:
		return "draft"
	case PhasePending:
		return "pending"
	case PhaseCompleted:
		return "completed"
	case PhaseRejected:
		return "rejected"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a node of the approval graph. StepOrder is only meaningful while pending.
type State struct {
	Phase     Phase
	StepOrder int
}

var (
	Draft     = State{Phase: PhaseDraft}
	Completed = State{Phase: PhaseCompleted}
	Rejected  = State{Phase: PhaseRejected}
	Cancelled = State{Phase: PhaseCancelled}
)

// Pending returns the state of a disbursement waiting on the given step
func Pending(order int) State {
	return State{Phase: PhasePending, StepOrder: order}
}

// IsTerminal returns true if the state is absorbing
func (s State) IsTerminal() bool {
	switch s.Phase {
	case PhaseCompleted, PhaseRejected, PhaseCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the state
func (s State) String() string {
	if s.Phase == PhasePending {
		return fmt.Sprintf("pending(%d)", s.StepOrder)
	}
	return s.Phase.String()
}

// reservedStatus maps non-pending phases to their fixed status strings
func reservedStatus(p Phase) string {
	switch p {
	case PhaseDraft:
		return entity.StatusDraft
	case PhaseCompleted:
		return entity.StatusCompleted
	case PhaseRejected:
		return entity.StatusRejected
	case PhaseCancelled:
		return entity.StatusCancelled
	default:
		return ""
	}
}

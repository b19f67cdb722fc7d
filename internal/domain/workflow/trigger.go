package workflow

// Trigger represents an action that requests a state transition
type Trigger string

const (
	TriggerSubmit        Trigger = "submit"
	TriggerApprove       Trigger = "approve"
	TriggerReject        Trigger = "reject"
	TriggerCancel        Trigger = "cancel"
	TriggerForceComplete Trigger = "force-complete"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// IsValid returns true if the trigger is one of the defined constants
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerSubmit, TriggerApprove, TriggerReject, TriggerCancel, TriggerForceComplete:
		return true
	default:
		return false
	}
}

// NeedsGraph returns false for the triggers that never consult the step graph
func (t Trigger) NeedsGraph() bool {
	switch t {
	case TriggerCancel, TriggerForceComplete:
		return false
	default:
		return true
	}
}

package workflow

import (
	"strings"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/domain/access"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
)

// RuleEvaluator evaluates a boolean auto-approve rule against a disbursement environment
type RuleEvaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// Input carries everything a transition needs. The machine never reads storage.
type Input struct {
	Disbursement *entity.Disbursement
	// Graph is the bound template's graph, or the resolved template's graph on submit
	Graph       *Graph
	Actor       *entity.Actor
	Permissions access.EffectivePermissionSet
	// Comment is the approval comment or the reject/cancel/override reason
	Comment string
	// DisbursementType is consulted on submit for straight-through processing
	DisbursementType *entity.DisbursementType
	Now              time.Time
}

// Outcome is a validated transition that has not been applied yet
type Outcome struct {
	Trigger    Trigger
	From       State
	To         State
	FromStatus string
	ToStatus   string
	// StepOrder is the disbursement's CurrentStepOrder after the transition
	StepOrder  int
	TemplateID string
	Entry      *entity.HistoryEntry
}

// ApplyTo mutates d to the outcome's target state and appends its history entry
func (o *Outcome) ApplyTo(d *entity.Disbursement) {
	d.Status = o.ToStatus
	d.CurrentStepOrder = o.StepOrder
	d.WorkflowTemplateID = o.TemplateID
	if o.Entry != nil {
		d.History = append(d.History, *o.Entry)
	}
}

// Machine validates transitions of the approval graph
type Machine struct {
	rules RuleEvaluator
}

// NewMachine creates a machine. rules may be nil, in which case any
// disbursement type carrying a rule is never auto-approved.
func NewMachine(rules RuleEvaluator) *Machine {
	return &Machine{rules: rules}
}

// PermittedTriggers returns the triggers legal from s, ignoring entitlement
func PermittedTriggers(s State) []Trigger {
	switch s.Phase {
	case PhaseDraft:
		return []Trigger{TriggerSubmit, TriggerCancel, TriggerForceComplete}
	case PhasePending:
		return []Trigger{TriggerApprove, TriggerReject, TriggerCancel, TriggerForceComplete}
	default:
		return nil
	}
}

// CanFire returns true if the trigger is legal from s
func CanFire(s State, t Trigger) bool {
	for _, p := range PermittedTriggers(s) {
		if p == t {
			return true
		}
	}
	return false
}

// Fire dispatches to the transition named by t
func (m *Machine) Fire(t Trigger, in Input) (*Outcome, error) {
	switch t {
	case TriggerSubmit:
		return m.Submit(in)
	case TriggerApprove:
		return m.Approve(in)
	case TriggerReject:
		return m.Reject(in)
	case TriggerCancel:
		return m.Cancel(in)
	case TriggerForceComplete:
		return m.ForceComplete(in)
	default:
		return nil, errs.New(errs.KindInvalidTransition, "unknown action %q", t)
	}
}

// begin resolves the current state and applies the finalized and legality checks
func begin(t Trigger, in Input) (State, error) {
	if in.Disbursement == nil || in.Actor == nil {
		return State{}, errs.New(errs.KindInternal, "transition %s without disbursement or actor", t)
	}

	graph := in.Graph
	if in.Disbursement.IsDraft() {
		graph = nil
	}
	current, err := ResolveState(in.Disbursement, graph)
	if err != nil && !t.NeedsGraph() && !in.Disbursement.IsDraft() {
		// the bound template is gone or no longer declares the status
		current, err = Pending(in.Disbursement.CurrentStepOrder), nil
	}
	if err != nil {
		return State{}, err
	}

	if current.IsTerminal() {
		return current, errs.New(errs.KindAlreadyFinalized,
			"disbursement %s is %s", in.Disbursement.ID, in.Disbursement.Status)
	}
	if !CanFire(current, t) {
		return current, errs.New(errs.KindInvalidTransition,
			"cannot %s a disbursement in status %s", t, in.Disbursement.Status)
	}
	return current, nil
}

func (in Input) timestamp() time.Time {
	if in.Now.IsZero() {
		return time.Now().UTC()
	}
	return in.Now
}

func (in Input) entry(stepOrder int, decision string) *entity.HistoryEntry {
	return &entity.HistoryEntry{
		DisbursementID: in.Disbursement.ID,
		Seq:            in.Disbursement.NextSeq(),
		StepOrder:      stepOrder,
		ActorID:        in.Actor.ID,
		Decision:       decision,
		Comment:        strings.TrimSpace(in.Comment),
		CreatedAt:      in.timestamp(),
	}
}

func (in Input) permissionContext() access.PermissionContext {
	return access.PermissionContext{
		Amount:       in.Disbursement.Amount,
		DepartmentID: in.Disbursement.DepartmentID,
		OfficeID:     in.Disbursement.OfficeID,
	}
}

// entitledAtStep checks role, step scope and the approval permission for the current step
func entitledAtStep(in Input, step entity.Step) bool {
	d := in.Disbursement
	if !access.HoldsRole(in.Actor, step.RoleRequired, d.CompanyID) {
		return false
	}
	if !access.WithinStepScope(in.Actor, step.Scope, d) {
		return false
	}
	return in.Permissions.HasPermission(in.Actor, entity.PermissionDisbursementApprove, in.permissionContext())
}

// Submit moves a draft onto step 1 of the resolved template, or straight to completed
// when the disbursement type's auto-approve threshold applies
func (m *Machine) Submit(in Input) (*Outcome, error) {
	from, err := begin(TriggerSubmit, in)
	if err != nil {
		return nil, err
	}

	d := in.Disbursement
	if in.Actor.ID != d.CreatedBy &&
		!in.Permissions.HasPermission(in.Actor, entity.PermissionDisbursementCreate, in.permissionContext()) {
		return nil, errs.New(errs.KindPermissionDenied, "actor %s may not submit disbursement %s", in.Actor.ID, d.ID)
	}

	if !d.Amount.IsPositive() {
		return nil, errs.New(errs.KindValidation, "amount must be positive")
	}
	if in.Graph == nil {
		return nil, errs.ErrNoTemplateAvailable
	}

	out := &Outcome{
		Trigger:    TriggerSubmit,
		From:       from,
		FromStatus: d.Status,
		TemplateID: in.Graph.TemplateID(),
	}

	if m.autoApproves(d, in.DisbursementType) {
		entry := in.entry(0, entity.DecisionApprove)
		entry.AutoApproved = true
		if entry.Comment == "" {
			entry.Comment = "auto-approved below threshold"
		}
		out.To = Completed
		out.ToStatus = entity.StatusCompleted
		out.Entry = entry
		return out, nil
	}

	out.To = in.Graph.First()
	out.ToStatus = in.Graph.StatusOf(out.To)
	out.StepOrder = out.To.StepOrder
	return out, nil
}

// autoApproves reports whether d qualifies for straight-through processing.
// The threshold is exclusive and a rule can only narrow it.
func (m *Machine) autoApproves(d *entity.Disbursement, typ *entity.DisbursementType) bool {
	if typ == nil || typ.AutoApproveUnder == nil {
		return false
	}
	if typ.ThresholdCurrency != "" && !strings.EqualFold(typ.ThresholdCurrency, d.Currency) {
		return false
	}
	if !d.Amount.LessThan(*typ.AutoApproveUnder) {
		return false
	}
	if strings.TrimSpace(typ.AutoApproveRule) == "" {
		return true
	}
	if m.rules == nil {
		return false
	}

	amount, _ := d.Amount.Float64()
	ok, err := m.rules.Evaluate(typ.AutoApproveRule, map[string]interface{}{
		"amount":        amount,
		"currency":      d.Currency,
		"priority":      d.Priority,
		"urgent":        d.Urgent,
		"department_id": d.DepartmentID,
		"office_id":     d.OfficeID,
		"type_id":       d.DisbursementTypeID,
	})
	return err == nil && ok
}

// Approve records the current step's approval and advances or completes
func (m *Machine) Approve(in Input) (*Outcome, error) {
	from, err := begin(TriggerApprove, in)
	if err != nil {
		return nil, err
	}

	step, ok := in.Graph.Step(from.StepOrder)
	if !ok {
		return nil, errs.New(errs.KindInternal, "step %d missing from template %s", from.StepOrder, in.Graph.TemplateID())
	}
	if !entitledAtStep(in, step) {
		return nil, errs.New(errs.KindPermissionDenied,
			"actor %s is not entitled to approve step %d (%s)", in.Actor.ID, step.Order, step.Name)
	}

	to := in.Graph.Advance(step.Order)
	out := &Outcome{
		Trigger:    TriggerApprove,
		From:       from,
		To:         to,
		FromStatus: in.Disbursement.Status,
		ToStatus:   step.StatusOnComplete,
		StepOrder:  step.Order,
		TemplateID: in.Graph.TemplateID(),
		Entry:      in.entry(step.Order, entity.DecisionApprove),
	}
	if to.Phase == PhasePending {
		out.StepOrder = to.StepOrder
	}
	return out, nil
}

// Reject ends the workflow at the current step
func (m *Machine) Reject(in Input) (*Outcome, error) {
	from, err := begin(TriggerReject, in)
	if err != nil {
		return nil, err
	}

	step, ok := in.Graph.Step(from.StepOrder)
	if !ok {
		return nil, errs.New(errs.KindInternal, "step %d missing from template %s", from.StepOrder, in.Graph.TemplateID())
	}
	if !entitledAtStep(in, step) {
		return nil, errs.New(errs.KindPermissionDenied,
			"actor %s is not entitled to reject step %d (%s)", in.Actor.ID, step.Order, step.Name)
	}
	if strings.TrimSpace(in.Comment) == "" {
		return nil, errs.New(errs.KindValidation, "a reason is required to reject")
	}

	return &Outcome{
		Trigger:    TriggerReject,
		From:       from,
		To:         Rejected,
		FromStatus: in.Disbursement.Status,
		ToStatus:   entity.StatusRejected,
		StepOrder:  step.Order,
		TemplateID: in.Graph.TemplateID(),
		Entry:      in.entry(step.Order, entity.DecisionReject),
	}, nil
}

// Cancel withdraws a disbursement. Only the creator or a company admin may cancel.
func (m *Machine) Cancel(in Input) (*Outcome, error) {
	from, err := begin(TriggerCancel, in)
	if err != nil {
		return nil, err
	}

	d := in.Disbursement
	if in.Actor.ID != d.CreatedBy && !access.IsCompanyAdmin(in.Actor, d.CompanyID) {
		return nil, errs.New(errs.KindPermissionDenied, "only the creator or a company admin may cancel")
	}

	return &Outcome{
		Trigger:    TriggerCancel,
		From:       from,
		To:         Cancelled,
		FromStatus: d.Status,
		ToStatus:   entity.StatusCancelled,
		StepOrder:  d.CurrentStepOrder,
		TemplateID: d.WorkflowTemplateID,
		Entry:      in.entry(d.CurrentStepOrder, entity.DecisionCancel),
	}, nil
}

// ForceComplete is the platform operator override for stuck workflows
func (m *Machine) ForceComplete(in Input) (*Outcome, error) {
	from, err := begin(TriggerForceComplete, in)
	if err != nil {
		return nil, err
	}

	if !in.Actor.IsPlatformOperator {
		return nil, errs.New(errs.KindPermissionDenied, "force-complete is reserved to platform operators")
	}
	if strings.TrimSpace(in.Comment) == "" {
		return nil, errs.New(errs.KindValidation, "a reason is required to force-complete")
	}

	d := in.Disbursement
	templateID := d.WorkflowTemplateID
	if templateID == "" && in.Graph != nil {
		templateID = in.Graph.TemplateID()
	}

	entry := in.entry(d.CurrentStepOrder, entity.DecisionApprove)
	entry.Override = true

	return &Outcome{
		Trigger:    TriggerForceComplete,
		From:       from,
		To:         Completed,
		FromStatus: d.Status,
		ToStatus:   entity.StatusCompleted,
		StepOrder:  d.CurrentStepOrder,
		TemplateID: templateID,
		Entry:      entry,
	}, nil
}

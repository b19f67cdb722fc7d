package workflow

import (
	"strings"

	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
)

// Graph is the validated approval graph of one template. It translates between
// the machine's States and the template's declared status strings.
type Graph struct {
	templateID string
	steps      []entity.Step
	byPending  map[string]int
}

// ValidateSteps enforces contiguous 1-based ordering and the status chaining invariant.
// Role names are not checked against existing roles; that only happens at transition time.
func ValidateSteps(steps []entity.Step) error {
	if len(steps) == 0 {
		return errs.New(errs.KindTemplateInvariantViolation, "template must declare at least one step")
	}

	seen := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.Order != i+1 {
			return errs.New(errs.KindTemplateInvariantViolation,
				"step at position %d has order %d, want %d", i+1, s.Order, i+1)
		}
		if strings.TrimSpace(s.Name) == "" {
			return errs.New(errs.KindTemplateInvariantViolation, "step %d has no name", s.Order)
		}
		if strings.TrimSpace(s.RoleRequired) == "" {
			return errs.New(errs.KindTemplateInvariantViolation, "step %d has no required role", s.Order)
		}
		switch s.Scope {
		case "", entity.ScopeCompany, entity.ScopeDepartment, entity.ScopeOffice:
		default:
			return errs.New(errs.KindTemplateInvariantViolation, "step %d has unknown scope %q", s.Order, s.Scope)
		}

		if s.StatusOnPending == "" || entity.IsReservedStatus(s.StatusOnPending) {
			return errs.New(errs.KindTemplateInvariantViolation,
				"step %d pending status %q is empty or reserved", s.Order, s.StatusOnPending)
		}
		if prev, dup := seen[s.StatusOnPending]; dup {
			return errs.New(errs.KindTemplateInvariantViolation,
				"steps %d and %d share pending status %q", prev, s.Order, s.StatusOnPending)
		}
		seen[s.StatusOnPending] = s.Order

		if i == len(steps)-1 {
			if s.StatusOnComplete != entity.StatusCompleted {
				return errs.New(errs.KindTemplateInvariantViolation,
					"last step %d must complete to %q, got %q", s.Order, entity.StatusCompleted, s.StatusOnComplete)
			}
			continue
		}
		if s.StatusOnComplete != steps[i+1].StatusOnPending {
			return errs.New(errs.KindTemplateInvariantViolation,
				"step %d completes to %q but step %d is pending on %q",
				s.Order, s.StatusOnComplete, steps[i+1].Order, steps[i+1].StatusOnPending)
		}
	}

	return nil
}

// NewGraph validates a template and builds its graph
func NewGraph(tpl *entity.WorkflowTemplate) (*Graph, error) {
	if tpl == nil {
		return nil, errs.ErrNoTemplateAvailable
	}
	if err := ValidateSteps(tpl.Steps); err != nil {
		return nil, err
	}

	g := &Graph{
		templateID: tpl.ID,
		steps:      append([]entity.Step(nil), tpl.Steps...),
		byPending:  make(map[string]int, len(tpl.Steps)),
	}
	for _, s := range tpl.Steps {
		g.byPending[s.StatusOnPending] = s.Order
	}
	return g, nil
}

// TemplateID returns the template the graph was built from
func (g *Graph) TemplateID() string {
	return g.templateID
}

// StepCount returns the number of steps
func (g *Graph) StepCount() int {
	return len(g.steps)
}

// Step returns the step with the given order
func (g *Graph) Step(order int) (entity.Step, bool) {
	if order < 1 || order > len(g.steps) {
		return entity.Step{}, false
	}
	return g.steps[order-1], true
}

// First returns the state entered on submit
func (g *Graph) First() State {
	return Pending(1)
}

// Advance returns the state that follows approval of the given step
func (g *Graph) Advance(order int) State {
	if order >= len(g.steps) {
		return Completed
	}
	return Pending(order + 1)
}

// StatusOf maps a state to the status string stored on the disbursement
func (g *Graph) StatusOf(s State) string {
	if s.Phase != PhasePending {
		return reservedStatus(s.Phase)
	}
	step, ok := g.Step(s.StepOrder)
	if !ok {
		return ""
	}
	return step.StatusOnPending
}

// StateOf maps a stored (status, currentStepOrder) pair back to a State and
// rejects pairs that diverge from the graph
func (g *Graph) StateOf(status string, currentStep int) (State, error) {
	switch status {
	case entity.StatusCompleted:
		return Completed, nil
	case entity.StatusRejected:
		return Rejected, nil
	case entity.StatusCancelled:
		return Cancelled, nil
	case entity.StatusDraft:
		return State{}, errs.New(errs.KindInternal, "draft disbursement is bound to template %s", g.templateID)
	}

	order, ok := g.byPending[status]
	if !ok {
		return State{}, errs.New(errs.KindInternal, "status %q is not declared by template %s", status, g.templateID)
	}
	if order != currentStep {
		return State{}, errs.New(errs.KindInternal,
			"status %q belongs to step %d but current step is %d", status, order, currentStep)
	}
	return Pending(order), nil
}

// ResolveState returns the machine state of a stored disbursement. g may be nil
// while the disbursement is still a draft.
func ResolveState(d *entity.Disbursement, g *Graph) (State, error) {
	switch d.Status {
	case entity.StatusDraft:
		if d.CurrentStepOrder != 0 {
			return State{}, errs.New(errs.KindInternal, "draft disbursement %s has step %d", d.ID, d.CurrentStepOrder)
		}
		return Draft, nil
	case entity.StatusCompleted:
		return Completed, nil
	case entity.StatusRejected:
		return Rejected, nil
	case entity.StatusCancelled:
		return Cancelled, nil
	}

	if g == nil {
		return State{}, errs.New(errs.KindInternal, "disbursement %s is %q without a bound template", d.ID, d.Status)
	}
	return g.StateOf(d.Status, d.CurrentStepOrder)
}

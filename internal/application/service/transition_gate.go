package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/dispatcher"
	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/access"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
	"github.com/garyjia/disbursement-approvals/internal/domain/event"
	"github.com/garyjia/disbursement-approvals/internal/domain/workflow"
	"github.com/garyjia/disbursement-approvals/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// TransitionPayload carries the actor-supplied part of a transition
type TransitionPayload struct {
	// Comment is the approval comment, or the reason for reject, cancel and force-complete
	Comment string `json:"comment"`
}

// TransitionResult is the updated disbursement and the history entry the transition appended
type TransitionResult struct {
	Disbursement *entity.Disbursement `json:"disbursement"`
	Entry        *entity.HistoryEntry `json:"entry,omitempty"`
	FromStatus   string               `json:"from_status"`
	ToStatus     string               `json:"to_status"`
}

// TransitionGate authenticates, enforces the tenant boundary, resolves
// permissions and runs the approval state machine, in that order
type TransitionGate interface {
	// Authenticate verifies the bearer token and loads the actor
	Authenticate(ctx context.Context, token string) (*entity.Actor, error)

	// Authorize loads a disbursement and applies the tenant boundary check
	Authorize(ctx context.Context, actor *entity.Actor, disbursementID string) (*entity.Disbursement, error)

	// ApplyTransition runs action against the disbursement on behalf of the token's actor
	ApplyTransition(ctx context.Context, token, disbursementID string, action workflow.Trigger, payload TransitionPayload) (*TransitionResult, error)
}

type transitionGateImpl struct {
	auth          port.Authenticator
	directory     port.DirectoryRepository
	disbursements port.DisbursementRepository
	types         port.DisbursementTypeRepository
	templates     port.TemplateRepository
	resolver      TemplateService
	txManager     port.TransactionManager
	machine       *workflow.Machine
	events        dispatcher.Dispatcher
	logger        Logger
}

// NewTransitionGate creates a new TransitionGate
func NewTransitionGate(
	auth port.Authenticator,
	directory port.DirectoryRepository,
	disbursements port.DisbursementRepository,
	types port.DisbursementTypeRepository,
	templates port.TemplateRepository,
	resolver TemplateService,
	txManager port.TransactionManager,
	machine *workflow.Machine,
	events dispatcher.Dispatcher,
	logger Logger,
) TransitionGate {
	return &transitionGateImpl{
		auth:          auth,
		directory:     directory,
		disbursements: disbursements,
		types:         types,
		templates:     templates,
		resolver:      resolver,
		txManager:     txManager,
		machine:       machine,
		events:        events,
		logger:        logger,
	}
}

func (g *transitionGateImpl) Authenticate(ctx context.Context, token string) (*entity.Actor, error) {
	identity, err := g.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	actor, err := g.directory.GetActor(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load actor: %w", err)
	}
	if actor == nil {
		return nil, errs.New(errs.KindUnauthenticated, "unknown user %s", identity.UserID)
	}
	if identity.CompanyID != "" && identity.CompanyID != actor.CompanyID {
		return nil, errs.New(errs.KindUnauthenticated, "token company does not match user %s", identity.UserID)
	}
	return actor, nil
}

func (g *transitionGateImpl) Authorize(ctx context.Context, actor *entity.Actor, disbursementID string) (*entity.Disbursement, error) {
	d, err := g.disbursements.GetByID(ctx, disbursementID)
	if err != nil {
		return nil, fmt.Errorf("failed to load disbursement: %w", err)
	}
	if d == nil {
		// existence is only revealed to actors allowed to see every tenant
		if actor.IsPlatformOperator {
			return nil, errs.New(errs.KindNotFound, "disbursement %s not found", disbursementID)
		}
		return nil, errs.New(errs.KindTenantMismatch, "disbursement %s is not accessible", disbursementID)
	}

	decision := access.AuthorizeCompanyScope(actor, d.CompanyID)
	if !decision.Allowed {
		g.logger.Info("Tenant boundary denied access",
			"actor_id", actor.ID,
			"actor_company_id", actor.CompanyID,
			"disbursement_id", disbursementID,
		)
		return nil, errs.New(errs.KindTenantMismatch, "disbursement %s is not accessible", disbursementID)
	}
	if decision.CrossTenant {
		g.logger.Info("Cross-tenant access by platform operator",
			"actor_id", actor.ID,
			"company_id", d.CompanyID,
			"disbursement_id", d.ID,
		)
		g.events.DispatchAsync(ctx, event.NewEvent(event.TypeTenantCrossAccess, d.ID, d.CompanyID, actor.ID,
			map[string]interface{}{event.KeyReason: decision.Reason}))
	}
	return d, nil
}

func (g *transitionGateImpl) ApplyTransition(ctx context.Context, token, disbursementID string, action workflow.Trigger, payload TransitionPayload) (*TransitionResult, error) {
	actor, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, g.fail(action, disbursementID, "", err)
	}

	d, err := g.Authorize(ctx, actor, disbursementID)
	if err != nil {
		return nil, g.fail(action, disbursementID, actor.ID, err)
	}

	in, binding, err := g.buildInput(ctx, actor, d, action, payload)
	if err != nil {
		return nil, g.fail(action, disbursementID, actor.ID, err)
	}

	out, err := g.machine.Fire(action, in)
	if err != nil {
		return nil, g.fail(action, disbursementID, actor.ID, err)
	}

	updated := *d
	updated.History = append([]entity.HistoryEntry(nil), d.History...)
	out.ApplyTo(&updated)
	updated.UpdatedAt = in.Now

	err = g.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if binding != nil && updated.WorkflowTemplateID == binding.ID {
			if err := g.templates.MarkInUse(txCtx, binding.ID, binding.UpdatedAt); err != nil {
				return err
			}
		}
		return g.disbursements.ApplyTransition(txCtx, &updated, d.Status, d.CurrentStepOrder, out.Entry)
	})
	if err != nil {
		return nil, g.fail(action, disbursementID, actor.ID, err)
	}

	g.logger.Info("Disbursement transitioned",
		"disbursement_id", d.ID,
		"action", action,
		"from_status", out.FromStatus,
		"to_status", out.ToStatus,
		"actor_id", actor.ID,
	)
	g.emit(ctx, &updated, actor, out)

	return &TransitionResult{
		Disbursement: &updated,
		Entry:        out.Entry,
		FromStatus:   out.FromStatus,
		ToStatus:     out.ToStatus,
	}, nil
}

// buildInput loads the graph, the disbursement type and the permission set.
// On submit it also returns the template the draft is about to be bound to.
func (g *transitionGateImpl) buildInput(ctx context.Context, actor *entity.Actor, d *entity.Disbursement, action workflow.Trigger, payload TransitionPayload) (workflow.Input, *entity.WorkflowTemplate, error) {
	in := workflow.Input{
		Disbursement: d,
		Actor:        actor,
		Permissions:  access.ResolveEffectivePermissions(actor),
		Comment:      utils.SanitizeString(payload.Comment),
		Now:          time.Now().UTC(),
	}

	switch {
	case d.WorkflowTemplateID != "":
		tpl, err := g.templates.GetByID(ctx, d.WorkflowTemplateID)
		if err != nil {
			return in, nil, fmt.Errorf("failed to load bound template: %w", err)
		}
		graph, err := boundGraph(d, tpl)
		if err != nil {
			if action.NeedsGraph() {
				return in, nil, err
			}
			g.logger.Error("Bound template unusable, continuing without it",
				"disbursement_id", d.ID,
				"template_id", d.WorkflowTemplateID,
				"action", action,
				"error", err,
			)
		}
		in.Graph = graph

	case d.IsDraft() && action == workflow.TriggerSubmit:
		tpl, err := g.resolver.ResolveTemplateForCompany(ctx, d.CompanyID)
		if err != nil {
			return in, nil, err
		}
		graph, err := workflow.NewGraph(tpl)
		if err != nil {
			return in, nil, err
		}
		in.Graph = graph

		if d.DisbursementTypeID != "" {
			typ, err := g.types.GetByID(ctx, d.DisbursementTypeID)
			if err != nil {
				return in, nil, fmt.Errorf("failed to load disbursement type: %w", err)
			}
			in.DisbursementType = typ
		}
		return in, tpl, nil
	}

	return in, nil, nil
}

// boundGraph builds the graph of the template d is bound to.
// A missing or malformed template is reported as Internal.
func boundGraph(d *entity.Disbursement, tpl *entity.WorkflowTemplate) (*workflow.Graph, error) {
	if tpl == nil {
		return nil, errs.New(errs.KindInternal, "bound template %s is missing", d.WorkflowTemplateID)
	}
	graph, err := workflow.NewGraph(tpl)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "bound template %s is malformed", tpl.ID)
	}
	return graph, nil
}

func (g *transitionGateImpl) emit(ctx context.Context, d *entity.Disbursement, actor *entity.Actor, out *workflow.Outcome) {
	payload := map[string]interface{}{
		event.KeyFromStatus: out.FromStatus,
		event.KeyToStatus:   out.ToStatus,
		event.KeyAction:     out.Trigger.String(),
		event.KeyStepOrder:  d.CurrentStepOrder,
	}
	if out.Entry != nil && out.Entry.AutoApproved {
		payload[event.KeyAutoApproved] = true
	}

	evt := event.NewEvent(event.TypeDisbursementTransitioned, d.ID, d.CompanyID, actor.ID, payload)
	g.events.DispatchAsync(ctx, evt)

	if out.Entry != nil && out.Entry.Override {
		g.events.DispatchAsync(ctx, event.NewEventWithCorrelation(event.TypeWorkflowOverride, d.ID, d.CompanyID, actor.ID,
			map[string]interface{}{
				event.KeyFromStatus: out.FromStatus,
				event.KeyReason:     out.Entry.Comment,
			}, evt.CorrelationID))
	}
}

// fail logs err at the level its kind deserves and returns it unchanged
func (g *transitionGateImpl) fail(action workflow.Trigger, disbursementID, actorID string, err error) error {
	kind := errs.KindOf(err)
	if errs.IsExpected(err) {
		g.logger.Info("Transition refused",
			"action", action,
			"disbursement_id", disbursementID,
			"actor_id", actorID,
			"kind", kind,
			"reason", errs.MessageOf(err),
		)
		return err
	}

	g.logger.Error("Transition failed",
		"action", action,
		"disbursement_id", disbursementID,
		"actor_id", actorID,
		"error", err,
	)
	return err
}

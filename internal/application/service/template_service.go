package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/dispatcher"
	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/access"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
	"github.com/garyjia/disbursement-approvals/internal/domain/event"
	"github.com/garyjia/disbursement-approvals/internal/domain/workflow"
	"github.com/google/uuid"
)

// TemplateInput describes a company template to create
type TemplateInput struct {
	Name        string        `json:"name"`
	Steps       []entity.Step `json:"steps"`
	MakeDefault bool          `json:"make_default"`
}

// TemplateService is the workflow template store
type TemplateService interface {
	// ResolveTemplateForCompany returns the company default, else the system default
	ResolveTemplateForCompany(ctx context.Context, companyID string) (*entity.WorkflowTemplate, error)

	// ValidateTemplate checks ordering and the status chaining invariant
	ValidateTemplate(steps []entity.Step) error

	// Activate makes templateID the only default template of companyID
	Activate(ctx context.Context, actor *entity.Actor, templateID, companyID string) (*entity.WorkflowTemplate, error)

	Create(ctx context.Context, actor *entity.Actor, companyID string, in TemplateInput) (*entity.WorkflowTemplate, error)
	UpdateSteps(ctx context.Context, actor *entity.Actor, templateID string, steps []entity.Step) (*entity.WorkflowTemplate, error)
	Delete(ctx context.Context, actor *entity.Actor, templateID string) error
	Get(ctx context.Context, actor *entity.Actor, templateID string) (*entity.WorkflowTemplate, error)
	List(ctx context.Context, actor *entity.Actor, companyID string) ([]*entity.WorkflowTemplate, error)

	// SeedSystemTemplate installs or refreshes a system template. A template
	// already bound to disbursements keeps its steps.
	SeedSystemTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) error
}

type templateServiceImpl struct {
	templates     port.TemplateRepository
	disbursements port.DisbursementRepository
	txManager     port.TransactionManager
	events        dispatcher.Dispatcher
	logger        Logger
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(
	templates port.TemplateRepository,
	disbursements port.DisbursementRepository,
	txManager port.TransactionManager,
	events dispatcher.Dispatcher,
	logger Logger,
) TemplateService {
	return &templateServiceImpl{
		templates:     templates,
		disbursements: disbursements,
		txManager:     txManager,
		events:        events,
		logger:        logger,
	}
}

func (s *templateServiceImpl) ResolveTemplateForCompany(ctx context.Context, companyID string) (*entity.WorkflowTemplate, error) {
	if companyID != "" {
		tpl, err := s.templates.GetCompanyDefault(ctx, companyID)
		if err != nil {
			return nil, fmt.Errorf("failed to load company default template: %w", err)
		}
		if tpl != nil {
			return tpl, nil
		}
	}

	tpl, err := s.templates.GetSystemDefault(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load system default template: %w", err)
	}
	if tpl == nil {
		return nil, errs.New(errs.KindNoTemplateAvailable, "company %s has no default template and no system default is seeded", companyID)
	}
	return tpl, nil
}

func (s *templateServiceImpl) ValidateTemplate(steps []entity.Step) error {
	return workflow.ValidateSteps(steps)
}

func (s *templateServiceImpl) Activate(ctx context.Context, actor *entity.Actor, templateID, companyID string) (*entity.WorkflowTemplate, error) {
	if !access.IsCompanyAdmin(actor, companyID) {
		return nil, s.denyAdmin(actor, companyID)
	}

	var activated *entity.WorkflowTemplate
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tpl, err := s.ownedTemplate(txCtx, templateID, companyID)
		if err != nil {
			return err
		}
		if err := workflow.ValidateSteps(tpl.Steps); err != nil {
			return err
		}
		if err := s.templates.SetDefault(txCtx, companyID, tpl.ID); err != nil {
			return fmt.Errorf("failed to set default template: %w", err)
		}
		tpl.IsDefault = true
		activated = tpl
		return nil
	})
	if err != nil {
		s.logFailure("Failed to activate template", err, "template_id", templateID, "company_id", companyID)
		return nil, err
	}

	s.logger.Info("Template activated", "template_id", templateID, "company_id", companyID, "actor_id", actor.ID)
	s.events.DispatchAsync(ctx, event.NewEvent(event.TypeTemplateActivated, "", companyID, actor.ID,
		map[string]interface{}{event.KeyTemplateID: templateID}))
	return activated, nil
}

func (s *templateServiceImpl) Create(ctx context.Context, actor *entity.Actor, companyID string, in TemplateInput) (*entity.WorkflowTemplate, error) {
	if !access.IsCompanyAdmin(actor, companyID) {
		return nil, s.denyAdmin(actor, companyID)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, errs.New(errs.KindValidation, "template name is required")
	}

	steps := normalizeSteps(in.Steps)
	if err := workflow.ValidateSteps(steps); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tpl := &entity.WorkflowTemplate{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Name:      strings.TrimSpace(in.Name),
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.templates.Create(txCtx, tpl); err != nil {
			return fmt.Errorf("failed to create template: %w", err)
		}
		if in.MakeDefault {
			if err := s.templates.SetDefault(txCtx, companyID, tpl.ID); err != nil {
				return fmt.Errorf("failed to set default template: %w", err)
			}
			tpl.IsDefault = true
		}
		return nil
	})
	if err != nil {
		s.logFailure("Failed to create template", err, "company_id", companyID)
		return nil, err
	}

	s.logger.Info("Template created", "template_id", tpl.ID, "company_id", companyID, "steps", len(steps))
	return tpl, nil
}

func (s *templateServiceImpl) UpdateSteps(ctx context.Context, actor *entity.Actor, templateID string, steps []entity.Step) (*entity.WorkflowTemplate, error) {
	var updated *entity.WorkflowTemplate
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tpl, err := s.mutableTemplate(txCtx, actor, templateID)
		if err != nil {
			return err
		}

		steps = normalizeSteps(steps)
		if err := workflow.ValidateSteps(steps); err != nil {
			return err
		}
		tpl.Steps = steps
		tpl.UpdatedAt = time.Now().UTC()
		if err := s.templates.UpdateSteps(txCtx, tpl); err != nil {
			return fmt.Errorf("failed to update template steps: %w", err)
		}
		updated = tpl
		return nil
	})
	if err != nil {
		s.logFailure("Failed to update template", err, "template_id", templateID)
		return nil, err
	}
	return updated, nil
}

func (s *templateServiceImpl) Delete(ctx context.Context, actor *entity.Actor, templateID string) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.mutableTemplate(txCtx, actor, templateID); err != nil {
			return err
		}
		if err := s.templates.Delete(txCtx, templateID); err != nil {
			return fmt.Errorf("failed to delete template: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logFailure("Failed to delete template", err, "template_id", templateID)
		return err
	}

	s.logger.Info("Template deleted", "template_id", templateID, "actor_id", actor.ID)
	return nil
}

func (s *templateServiceImpl) Get(ctx context.Context, actor *entity.Actor, templateID string) (*entity.WorkflowTemplate, error) {
	tpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tpl == nil {
		return nil, errs.New(errs.KindNotFound, "template %s not found", templateID)
	}
	if tpl.IsSystemWide() {
		return tpl, nil
	}
	if err := s.authorizeRead(ctx, actor, tpl.CompanyID); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *templateServiceImpl) List(ctx context.Context, actor *entity.Actor, companyID string) ([]*entity.WorkflowTemplate, error) {
	if companyID == "" {
		companyID = actor.CompanyID
	}
	if err := s.authorizeRead(ctx, actor, companyID); err != nil {
		return nil, err
	}

	list, err := s.templates.ListForCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return list, nil
}

func (s *templateServiceImpl) SeedSystemTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	tpl.CompanyID = ""
	tpl.IsSystem = true
	tpl.Steps = normalizeSteps(tpl.Steps)
	if err := workflow.ValidateSteps(tpl.Steps); err != nil {
		return fmt.Errorf("system template %q: %w", tpl.Name, err)
	}

	existing, err := s.templates.GetByID(ctx, tpl.ID)
	if err != nil {
		return fmt.Errorf("failed to get system template %q: %w", tpl.Name, err)
	}
	if existing != nil {
		refs, err := s.disbursements.CountByTemplate(ctx, tpl.ID)
		if err != nil {
			return fmt.Errorf("failed to count template references: %w", err)
		}
		if (refs > 0 || existing.InUse) && !sameSteps(existing.Steps, tpl.Steps) {
			s.logger.Error("System template is in use, seeded steps ignored; seed the new chain under a new id",
				"template_id", tpl.ID,
				"references", refs,
				"stored_steps", len(existing.Steps),
				"seeded_steps", len(tpl.Steps),
			)
			tpl.Name = existing.Name
			tpl.Steps = existing.Steps
		}
	}

	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now

	if err := s.templates.UpsertSystem(ctx, tpl); err != nil {
		return fmt.Errorf("failed to seed system template %q: %w", tpl.Name, err)
	}
	s.logger.Info("System template seeded", "template_id", tpl.ID, "name", tpl.Name, "default", tpl.IsDefault)
	return nil
}

func sameSteps(a, b []entity.Step) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ownedTemplate loads a template that companyID may activate
func (s *templateServiceImpl) ownedTemplate(ctx context.Context, templateID, companyID string) (*entity.WorkflowTemplate, error) {
	tpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tpl == nil {
		return nil, errs.New(errs.KindNotFound, "template %s not found", templateID)
	}
	if tpl.IsSystem || tpl.IsSystemWide() {
		return nil, errs.New(errs.KindValidation, "system template %s cannot be activated by a company", templateID)
	}
	if tpl.CompanyID != companyID {
		return nil, errs.New(errs.KindTenantMismatch, "template %s belongs to another company", templateID)
	}
	return tpl, nil
}

// mutableTemplate loads a company template the actor may edit or delete.
// Templates bound to any disbursement are frozen.
func (s *templateServiceImpl) mutableTemplate(ctx context.Context, actor *entity.Actor, templateID string) (*entity.WorkflowTemplate, error) {
	tpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tpl == nil {
		return nil, errs.New(errs.KindNotFound, "template %s not found", templateID)
	}
	if tpl.IsSystem || tpl.IsSystemWide() {
		return nil, errs.New(errs.KindPermissionDenied, "system templates are not editable")
	}
	if !access.IsCompanyAdmin(actor, tpl.CompanyID) {
		return nil, s.denyAdmin(actor, tpl.CompanyID)
	}

	refs, err := s.disbursements.CountByTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to count template references: %w", err)
	}
	if refs > 0 {
		return nil, errs.New(errs.KindValidation, "template %s is referenced by %d disbursements and is immutable", templateID, refs)
	}
	return tpl, nil
}

func (s *templateServiceImpl) authorizeRead(ctx context.Context, actor *entity.Actor, companyID string) error {
	decision := access.AuthorizeCompanyScope(actor, companyID)
	if !decision.Allowed {
		return errs.New(errs.KindTenantMismatch, "%s", decision.Reason)
	}
	if decision.CrossTenant {
		s.logger.Info("Cross-tenant template access", "actor_id", actor.ID, "company_id", companyID)
		s.events.DispatchAsync(ctx, event.NewEvent(event.TypeTenantCrossAccess, "", companyID, actor.ID,
			map[string]interface{}{event.KeyAction: "template.read"}))
	}
	return nil
}

func (s *templateServiceImpl) denyAdmin(actor *entity.Actor, companyID string) error {
	if actor != nil && actor.CompanyID != companyID {
		return errs.New(errs.KindTenantMismatch, "actor does not belong to company %s", companyID)
	}
	return errs.New(errs.KindPermissionDenied, "company admin role required")
}

func (s *templateServiceImpl) logFailure(msg string, err error, keysAndValues ...interface{}) {
	keysAndValues = append(keysAndValues, "error", err)
	if errs.IsExpected(err) {
		s.logger.Info(msg, keysAndValues...)
		return
	}
	s.logger.Error(msg, keysAndValues...)
}

// normalizeSteps defaults empty scopes to company
func normalizeSteps(steps []entity.Step) []entity.Step {
	out := make([]entity.Step, len(steps))
	for i, st := range steps {
		st.Name = strings.TrimSpace(st.Name)
		st.RoleRequired = strings.TrimSpace(st.RoleRequired)
		if st.Scope == "" {
			st.Scope = entity.ScopeCompany
		}
		out[i] = st
	}
	return out
}

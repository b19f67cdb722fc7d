package service

import (
	"context"
	"sync"
	"testing"

	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
	"github.com/garyjia/disbursement-approvals/internal/domain/event"
	"github.com/garyjia/disbursement-approvals/internal/domain/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) draft(t *testing.T, amount string) *entity.Disbursement {
	t.Helper()
	d, err := h.drafts.CreateDraft(context.Background(), tokenFor("alice"), CreateDisbursementInput{
		Amount:             decimal.RequireFromString(amount),
		Currency:           "XAF",
		BeneficiaryID:      "benef-1",
		DisbursementTypeID: "type-supplier",
	})
	require.NoError(t, err)
	return d
}

func (h *harness) apply(t *testing.T, user, id string, action workflow.Trigger, comment string) *TransitionResult {
	t.Helper()
	res, err := h.gate.ApplyTransition(context.Background(), tokenFor(user), id, action, TransitionPayload{Comment: comment})
	require.NoError(t, err)
	return res
}

func TestTransitionGate_ScenarioA(t *testing.T) {
	h := newHarness()
	d := h.draft(t, "100000")

	res := h.apply(t, "alice", d.ID, workflow.TriggerSubmit, "")
	assert.Equal(t, "pending_dept_head", res.Disbursement.Status)
	assert.Equal(t, 1, res.Disbursement.CurrentStepOrder)
	assert.Equal(t, "tpl-standard", res.Disbursement.WorkflowTemplateID)
	assert.Nil(t, res.Entry)

	res = h.apply(t, "bob", d.ID, workflow.TriggerApprove, "budget ok")
	assert.Equal(t, "pending_cashier", res.Disbursement.Status)
	assert.Equal(t, "pending_dept_head", res.FromStatus)
	require.NotNil(t, res.Entry)
	assert.Equal(t, "bob", res.Entry.ActorID)

	res = h.apply(t, "carol", d.ID, workflow.TriggerApprove, "")
	assert.Equal(t, entity.StatusCompleted, res.Disbursement.Status)

	stored := h.disbursements.get(d.ID)
	assert.Equal(t, entity.StatusCompleted, stored.Status)
	assert.Len(t, stored.History, 2)

	h.flush()
	transitions := h.events.ofType(event.TypeDisbursementTransitioned)
	require.Len(t, transitions, 3)
	for _, e := range transitions {
		assert.Equal(t, d.ID, e.DisbursementID)
		assert.NotEmpty(t, e.GetPayloadString(event.KeyFromStatus))
		assert.NotEmpty(t, e.GetPayloadString(event.KeyToStatus))
	}
}

func TestTransitionGate_ScenarioB(t *testing.T) {
	h := newHarness()
	d := h.draft(t, "10000")

	res := h.apply(t, "alice", d.ID, workflow.TriggerSubmit, "")
	assert.Equal(t, entity.StatusCompleted, res.Disbursement.Status)
	require.Len(t, res.Disbursement.History, 1)
	assert.True(t, res.Disbursement.History[0].AutoApproved)

	h.flush()
	transitions := h.events.ofType(event.TypeDisbursementTransitioned)
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].GetPayloadBool(event.KeyAutoApproved))
}

func TestTransitionGate_ScenarioC_TenantMismatch(t *testing.T) {
	h := newHarness()
	d := h.draft(t, "100000")
	h.apply(t, "alice", d.ID, workflow.TriggerSubmit, "")

	for _, action := range []workflow.Trigger{
		workflow.TriggerSubmit, workflow.TriggerApprove, workflow.TriggerReject,
		workflow.TriggerCancel, workflow.TriggerForceComplete,
	} {
		t.Run(action.String(), func(t *testing.T) {
			_, err := h.gate.ApplyTransition(context.Background(), tokenFor("eve"), d.ID, action, TransitionPayload{Comment: "x"})
			assert.Equal(t, errs.KindTenantMismatch, errs.KindOf(err))
		})
	}

	stored := h.disbursements.get(d.ID)
	assert.Equal(t, "pending_dept_head", stored.Status)
	assert.Empty(t, stored.History)
}

func TestTransitionGate_MissingDisbursementDoesNotLeak(t *testing.T) {
	h := newHarness()

	_, err := h.gate.ApplyTransition(context.Background(), tokenFor("eve"), "nope", workflow.TriggerApprove, TransitionPayload{})
	assert.Equal(t, errs.KindTenantMismatch, errs.KindOf(err))

	_, err = h.gate.ApplyTransition(context.Background(), tokenFor("olga"), "nope", workflow.TriggerApprove, TransitionPayload{})
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestTransitionGate_Unauthenticated(t *testing.T) {
	h := newHarness()
	d := h.draft(t, "100000")

	_, err := h.gate.ApplyTransition(context.Background(), "garbage", d.ID, workflow.TriggerSubmit, TransitionPayload{})
	assert.Equal(t, errs.KindUnauthenticated, errs.KindOf(err))

	_, err = h.gate.ApplyTransition(context.Background(), tokenFor("ghost"), d.ID, workflow.TriggerSubmit, TransitionPayload{})
	assert.Equal(t, errs.KindUnauthenticated, errs.KindOf(err))
}

func TestTransitionGate_ScenarioD_ConcurrentApprove(t *testing.T) {
	h := newHarness()
	d := h.draft(t, "100000")
	h.apply(t, "alice", d.ID, workflow.TriggerSubmit, "")

	var rendezvous sync.WaitGroup
	rendezvous.Add(2)
	h.disbursements.mu.Lock()
	h.disbursements.holdReads = &rendezvous
	h.disbursements.mu.Unlock()

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.gate.ApplyTransition(context.Background(), tokenFor("bob"), d.ID, workflow.TriggerApprove, TransitionPayload{})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch errs.KindOf(err) {
		case "":
			ok++
		case errs.KindConcurrentModification:
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	stored := h.disbursements.get(d.ID)
	assert.Equal(t, "pending_cashier", stored.Status)
	assert.Len(t, stored.History, 1)
}

func TestTransitionGate_ForceCompleteByOperator(t *testing.T) {
	h := newHarness()
	d := h.draft(t, "100000")
	h.apply(t, "alice", d.ID, workflow.TriggerSubmit, "")

	res := h.apply(t, "olga", d.ID, workflow.TriggerForceComplete, "department head left the company")
	assert.Equal(t, entity.StatusCompleted, res.Disbursement.Status)
	require.NotNil(t, res.Entry)
	assert.True(t, res.Entry.Override)

	for i := 0; i < 2; i++ {
		_, err := h.gate.ApplyTransition(context.Background(), tokenFor("olga"), d.ID, workflow.TriggerForceComplete, TransitionPayload{Comment: "again"})
		assert.Equal(t, errs.KindAlreadyFinalized, errs.KindOf(err))
	}
	assert.Len(t, h.disbursements.get(d.ID).History, 1)

	h.flush()
	assert.NotEmpty(t, h.events.ofType(event.TypeTenantCrossAccess), "operator access must be audited")
	overrides := h.events.ofType(event.TypeWorkflowOverride)
	require.Len(t, overrides, 1)
	assert.Equal(t, "department head left the company", overrides[0].GetPayloadString(event.KeyReason))
}

func TestTransitionGate_ExpectedFailuresLeaveStateUnchanged(t *testing.T) {
	h := newHarness()
	d := h.draft(t, "100000")
	h.apply(t, "alice", d.ID, workflow.TriggerSubmit, "")

	tests := []struct {
		name   string
		user   string
		action workflow.Trigger
		reason string
		want   errs.Kind
	}{
		{"cashier approves out of order", "carol", workflow.TriggerApprove, "", errs.KindPermissionDenied},
		{"reject without reason", "bob", workflow.TriggerReject, "", errs.KindValidation},
		{"submit twice", "alice", workflow.TriggerSubmit, "", errs.KindInvalidTransition},
		{"non operator force-complete", "dave", workflow.TriggerForceComplete, "stuck", errs.KindPermissionDenied},
		{"approver cancels", "bob", workflow.TriggerCancel, "", errs.KindPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.gate.ApplyTransition(context.Background(), tokenFor(tt.user), d.ID, tt.action, TransitionPayload{Comment: tt.reason})
			assert.Equal(t, tt.want, errs.KindOf(err))

			stored := h.disbursements.get(d.ID)
			assert.Equal(t, "pending_dept_head", stored.Status)
			assert.Equal(t, 1, stored.CurrentStepOrder)
		})
	}
}

func TestTransitionGate_CompanyAdminCancels(t *testing.T) {
	h := newHarness()
	d := h.draft(t, "100000")
	h.apply(t, "alice", d.ID, workflow.TriggerSubmit, "")

	res := h.apply(t, "dave", d.ID, workflow.TriggerCancel, "duplicate request")
	assert.Equal(t, entity.StatusCancelled, res.Disbursement.Status)
	assert.Equal(t, entity.DecisionCancel, res.Entry.Decision)

	_, err := h.gate.ApplyTransition(context.Background(), tokenFor("bob"), d.ID, workflow.TriggerApprove, TransitionPayload{})
	assert.Equal(t, errs.KindAlreadyFinalized, errs.KindOf(err))
}

func TestTransitionGate_NoTemplateAvailable(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.templates.Delete(context.Background(), "tpl-standard"))
	d := h.draft(t, "100000")

	_, err := h.gate.ApplyTransition(context.Background(), tokenFor("alice"), d.ID, workflow.TriggerSubmit, TransitionPayload{})
	assert.Equal(t, errs.KindNoTemplateAvailable, errs.KindOf(err))
	assert.True(t, h.disbursements.get(d.ID).IsDraft())
}

func TestTransitionGate_CompanyTemplateIsBoundAtSubmit(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	tpl, err := h.templateSvc.Create(ctx, h.directory["dave"], companyA, TemplateInput{
		Name: "Cashier only",
		Steps: []entity.Step{{Order: 1, Name: "Cashier", RoleRequired: "cashier",
			StatusOnPending: "awaiting_cashier", StatusOnComplete: entity.StatusCompleted}},
		MakeDefault: true,
	})
	require.NoError(t, err)

	d := h.draft(t, "100000")
	res := h.apply(t, "alice", d.ID, workflow.TriggerSubmit, "")
	assert.Equal(t, tpl.ID, res.Disbursement.WorkflowTemplateID)
	assert.Equal(t, "awaiting_cashier", res.Disbursement.Status)

	assert.True(t, h.templates.inUse(tpl.ID))

	_, err = h.templateSvc.UpdateSteps(ctx, h.directory["dave"], tpl.ID, tpl.Steps)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err), "bound templates are immutable")

	res = h.apply(t, "carol", d.ID, workflow.TriggerApprove, "")
	assert.Equal(t, entity.StatusCompleted, res.Disbursement.Status)
}

// editingResolver changes the store after the template is resolved and before
// the gate writes the binding
type editingResolver struct {
	TemplateService
	edit func(ctx context.Context)
}

func (r *editingResolver) ResolveTemplateForCompany(ctx context.Context, companyID string) (*entity.WorkflowTemplate, error) {
	tpl, err := r.TemplateService.ResolveTemplateForCompany(ctx, companyID)
	if err == nil && r.edit != nil {
		r.edit(ctx)
		r.edit = nil
	}
	return tpl, err
}

func TestTransitionGate_SubmitRacingTemplateChange(t *testing.T) {
	cashierOnly := []entity.Step{{Order: 1, Name: "Cashier", RoleRequired: "cashier",
		StatusOnPending: "awaiting_cashier", StatusOnComplete: entity.StatusCompleted}}
	treasuryOnly := []entity.Step{{Order: 1, Name: "Treasury", RoleRequired: "cashier",
		StatusOnPending: "awaiting_treasury", StatusOnComplete: entity.StatusCompleted}}

	tests := []struct {
		name       string
		change     func(t *testing.T, h *harness, templateID string)
		wantStatus string
	}{
		{
			name: "steps edited",
			change: func(t *testing.T, h *harness, templateID string) {
				_, err := h.templateSvc.UpdateSteps(context.Background(), h.directory["dave"], templateID, treasuryOnly)
				assert.NoError(t, err)
			},
			wantStatus: "awaiting_treasury",
		},
		{
			name: "template deleted",
			change: func(t *testing.T, h *harness, templateID string) {
				assert.NoError(t, h.templateSvc.Delete(context.Background(), h.directory["dave"], templateID))
			},
			wantStatus: "pending_dept_head",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			ctx := context.Background()

			tpl, err := h.templateSvc.Create(ctx, h.directory["dave"], companyA, TemplateInput{
				Name: "Cashier only", Steps: cashierOnly, MakeDefault: true,
			})
			require.NoError(t, err)

			resolver := &editingResolver{
				TemplateService: h.templateSvc,
				edit:            func(ctx context.Context) { tt.change(t, h, tpl.ID) },
			}
			gate := NewTransitionGate(&fakeAuth{directory: h.directory}, h.directory, h.disbursements, h.types,
				h.templates, resolver, &mockTxManager{}, workflow.NewMachine(nil), h.dispatcher, &mockLogger{})

			d := h.draft(t, "100000")
			_, err = gate.ApplyTransition(ctx, tokenFor("alice"), d.ID, workflow.TriggerSubmit, TransitionPayload{})
			assert.Equal(t, errs.KindConcurrentModification, errs.KindOf(err))

			stored := h.disbursements.get(d.ID)
			assert.True(t, stored.IsDraft())
			assert.Empty(t, stored.WorkflowTemplateID)
			assert.Empty(t, stored.History)

			res, err := gate.ApplyTransition(ctx, tokenFor("alice"), d.ID, workflow.TriggerSubmit, TransitionPayload{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Disbursement.Status)
			assert.True(t, h.templates.inUse(res.Disbursement.WorkflowTemplateID))
		})
	}
}

func TestTransitionGate_OverridesSurviveUnusableTemplate(t *testing.T) {
	diverged := standardSystemTemplate()
	diverged.Steps = []entity.Step{{Order: 1, Name: "Cashier", RoleRequired: "cashier", Scope: entity.ScopeCompany,
		StatusOnPending: "awaiting_cashier", StatusOnComplete: entity.StatusCompleted}}

	tests := []struct {
		name    string
		replace *entity.WorkflowTemplate
	}{
		{name: "template missing"},
		{name: "template no longer declares the status", replace: diverged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			ctx := context.Background()

			forced := h.draft(t, "100000")
			cancelled := h.draft(t, "100000")
			h.apply(t, "alice", forced.ID, workflow.TriggerSubmit, "")
			h.apply(t, "alice", cancelled.ID, workflow.TriggerSubmit, "")

			h.templates.force("tpl-standard", tt.replace)

			_, err := h.gate.ApplyTransition(ctx, tokenFor("bob"), forced.ID, workflow.TriggerApprove, TransitionPayload{})
			assert.Equal(t, errs.KindInternal, errs.KindOf(err), "approve still needs the graph")

			res := h.apply(t, "olga", forced.ID, workflow.TriggerForceComplete, "stuck after template loss")
			assert.Equal(t, entity.StatusCompleted, res.Disbursement.Status)
			assert.Equal(t, "pending_dept_head", res.FromStatus)
			assert.True(t, res.Entry.Override)
			assert.Equal(t, 1, res.Entry.StepOrder)

			res = h.apply(t, "dave", cancelled.ID, workflow.TriggerCancel, "")
			assert.Equal(t, entity.StatusCancelled, res.Disbursement.Status)
			assert.Equal(t, "tpl-standard", res.Disbursement.WorkflowTemplateID)
		})
	}
}

package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/dispatcher"
	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
	"github.com/garyjia/disbursement-approvals/internal/domain/event"
	"github.com/garyjia/disbursement-approvals/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockTxManager struct{}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memDisbursements enforces the same conditional update as the SQL repository
type memDisbursements struct {
	mu    sync.Mutex
	items map[string]*entity.Disbursement

	// holdReads makes concurrent readers rendezvous after reading
	holdReads *sync.WaitGroup
}

func newMemDisbursements() *memDisbursements {
	return &memDisbursements{items: make(map[string]*entity.Disbursement)}
}

func cloneDisbursement(d *entity.Disbursement) *entity.Disbursement {
	cp := *d
	cp.History = append([]entity.HistoryEntry(nil), d.History...)
	return &cp
}

func (m *memDisbursements) Create(ctx context.Context, d *entity.Disbursement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[d.ID] = cloneDisbursement(d)
	return nil
}

func (m *memDisbursements) GetByID(ctx context.Context, id string) (*entity.Disbursement, error) {
	m.mu.Lock()
	d, ok := m.items[id]
	var cp *entity.Disbursement
	if ok {
		cp = cloneDisbursement(d)
	}
	hold := m.holdReads
	m.mu.Unlock()

	if hold != nil {
		hold.Done()
		hold.Wait()
	}
	return cp, nil
}

func (m *memDisbursements) ApplyTransition(ctx context.Context, d *entity.Disbursement, expectedStatus string, expectedStep int, entry *entity.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.items[d.ID]
	if !ok || stored.Status != expectedStatus || stored.CurrentStepOrder != expectedStep {
		return errs.New(errs.KindConcurrentModification, "disbursement %s changed", d.ID)
	}

	next := cloneDisbursement(stored)
	next.Status = d.Status
	next.CurrentStepOrder = d.CurrentStepOrder
	next.WorkflowTemplateID = d.WorkflowTemplateID
	next.UpdatedAt = d.UpdatedAt
	if entry != nil {
		next.History = append(next.History, *entry)
	}
	m.items[d.ID] = next
	return nil
}

func (m *memDisbursements) ListPendingSince(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Disbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entity.Disbursement
	for _, d := range m.items {
		if d.IsDraft() || d.IsTerminal() || !d.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, cloneDisbursement(d))
	}
	return out, nil
}

func (m *memDisbursements) CountByTemplate(ctx context.Context, templateID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, d := range m.items {
		if d.WorkflowTemplateID == templateID {
			n++
		}
	}
	return n, nil
}

func (m *memDisbursements) get(id string) *entity.Disbursement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneDisbursement(m.items[id])
}

type memTemplates struct {
	mu    sync.Mutex
	items map[string]*entity.WorkflowTemplate
}

func newMemTemplates(tpls ...*entity.WorkflowTemplate) *memTemplates {
	m := &memTemplates{items: make(map[string]*entity.WorkflowTemplate)}
	for _, t := range tpls {
		cp := *t
		m.items[t.ID] = &cp
	}
	return m
}

func (m *memTemplates) copyOf(t *entity.WorkflowTemplate) *entity.WorkflowTemplate {
	cp := *t
	cp.Steps = append([]entity.Step(nil), t.Steps...)
	return &cp
}

func (m *memTemplates) Create(ctx context.Context, t *entity.WorkflowTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[t.ID] = m.copyOf(t)
	return nil
}

func (m *memTemplates) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.items[id]; ok {
		return m.copyOf(t), nil
	}
	return nil, nil
}

func (m *memTemplates) GetCompanyDefault(ctx context.Context, companyID string) (*entity.WorkflowTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.items {
		if t.CompanyID == companyID && t.IsDefault {
			return m.copyOf(t), nil
		}
	}
	return nil, nil
}

func (m *memTemplates) GetSystemDefault(ctx context.Context) (*entity.WorkflowTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.items {
		if t.IsSystem && t.IsDefault {
			return m.copyOf(t), nil
		}
	}
	return nil, nil
}

func (m *memTemplates) ListForCompany(ctx context.Context, companyID string) ([]*entity.WorkflowTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.WorkflowTemplate
	for _, t := range m.items {
		if t.CompanyID == companyID || t.IsSystemWide() {
			out = append(out, m.copyOf(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateSteps, Delete and MarkInUse mirror the conditional statements of the SQL repository
func (m *memTemplates) UpdateSteps(ctx context.Context, t *entity.WorkflowTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[t.ID]
	if !ok || stored.InUse {
		return errs.New(errs.KindValidation, "template %s is bound to a disbursement and is immutable", t.ID)
	}
	stored.Name = t.Name
	stored.Steps = append([]entity.Step(nil), t.Steps...)
	stored.UpdatedAt = t.UpdatedAt
	return nil
}

func (m *memTemplates) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[id]
	if !ok || stored.InUse {
		return errs.New(errs.KindValidation, "template %s is bound to a disbursement and is immutable", id)
	}
	delete(m.items, id)
	return nil
}

func (m *memTemplates) MarkInUse(ctx context.Context, id string, resolvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[id]
	if !ok || !stored.UpdatedAt.Equal(resolvedAt) {
		return errs.New(errs.KindConcurrentModification, "template %s changed while it was being bound", id)
	}
	stored.InUse = true
	return nil
}

func (m *memTemplates) SetDefault(ctx context.Context, companyID, templateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.items {
		if t.CompanyID == companyID {
			t.IsDefault = t.ID == templateID
		}
	}
	return nil
}

func (m *memTemplates) UpsertSystem(ctx context.Context, t *entity.WorkflowTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.items[t.ID]; ok && stored.InUse {
		stored.IsDefault = t.IsDefault
		return nil
	}
	m.items[t.ID] = m.copyOf(t)
	return nil
}

// force replaces or removes a template behind the store's back
func (m *memTemplates) force(id string, t *entity.WorkflowTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil {
		delete(m.items, id)
		return
	}
	m.items[id] = m.copyOf(t)
}

func (m *memTemplates) inUse(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	return ok && t.InUse
}

func (m *memTemplates) defaultsOf(companyID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, t := range m.items {
		if t.CompanyID == companyID && t.IsDefault {
			ids = append(ids, t.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

type memTypes map[string]*entity.DisbursementType

func (m memTypes) GetByID(ctx context.Context, id string) (*entity.DisbursementType, error) {
	return m[id], nil
}

func (m memTypes) Upsert(ctx context.Context, t *entity.DisbursementType) error {
	m[t.ID] = t
	return nil
}

type memDirectory map[string]*entity.Actor

func (m memDirectory) GetActor(ctx context.Context, userID string) (*entity.Actor, error) {
	return m[userID], nil
}

func (m memDirectory) SaveActor(ctx context.Context, actor *entity.Actor) error {
	m[actor.ID] = actor
	return nil
}

// fakeAuth accepts tokens of the form "token-<userID>"
type fakeAuth struct {
	directory memDirectory
}

func (f *fakeAuth) Authenticate(ctx context.Context, token string) (*port.Identity, error) {
	const prefix = "token-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return nil, errs.New(errs.KindUnauthenticated, "invalid token")
	}
	userID := token[len(prefix):]
	identity := &port.Identity{UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}
	if a, ok := f.directory[userID]; ok {
		identity.CompanyID = a.CompanyID
	}
	return identity, nil
}

func tokenFor(userID string) string { return "token-" + userID }

// recorder collects every dispatched event
type recorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recorder) handle(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) ofType(t event.Type) []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*event.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

const (
	companyA = "company-a"
	companyB = "company-b"
)

func amountPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func standardSystemTemplate() *entity.WorkflowTemplate {
	return &entity.WorkflowTemplate{
		ID:        "tpl-standard",
		Name:      "Standard",
		IsDefault: true,
		IsSystem:  true,
		Steps: []entity.Step{
			{Order: 1, Name: "Department head", RoleRequired: "department_head", Scope: entity.ScopeDepartment,
				StatusOnPending: "pending_dept_head", StatusOnComplete: "pending_cashier"},
			{Order: 2, Name: "Cashier", RoleRequired: "cashier", Scope: entity.ScopeCompany,
				StatusOnPending: "pending_cashier", StatusOnComplete: entity.StatusCompleted},
		},
	}
}

func approveRole(companyID, roleType string) entity.Role {
	return entity.Role{
		ID:        companyID + "-" + roleType,
		CompanyID: companyID,
		Name:      roleType,
		RoleType:  roleType,
		Permissions: []entity.Permission{
			{ID: "perm-approve", Code: entity.PermissionDisbursementApprove, Resource: "disbursement", Action: "approve"},
		},
	}
}

func directoryFixture() memDirectory {
	return memDirectory{
		"alice": {ID: "alice", CompanyID: companyA, DepartmentID: "finance", OfficeID: "douala"},
		"bob": {ID: "bob", CompanyID: companyA, DepartmentID: "finance", OfficeID: "douala",
			Roles: []entity.Role{approveRole(companyA, "department_head")}},
		"carol": {ID: "carol", CompanyID: companyA, DepartmentID: "treasury", OfficeID: "douala",
			Roles: []entity.Role{approveRole(companyA, "cashier")}},
		"dave": {ID: "dave", CompanyID: companyA,
			Roles: []entity.Role{{ID: "admin-a", CompanyID: companyA, RoleType: entity.RoleTypeCompanyAdmin}}},
		"eve": {ID: "eve", CompanyID: companyB, DepartmentID: "finance", OfficeID: "douala",
			Roles: []entity.Role{approveRole(companyB, "department_head"), {ID: "admin-b", CompanyID: companyB, RoleType: entity.RoleTypeCompanyAdmin}}},
		"olga": {ID: "olga", CompanyID: "platform", IsPlatformOperator: true},
	}
}

type harness struct {
	disbursements *memDisbursements
	templates     *memTemplates
	types         memTypes
	directory     memDirectory
	events        *recorder
	dispatcher    dispatcher.Dispatcher
	templateSvc   TemplateService
	gate          TransitionGate
	drafts        DisbursementService
}

func newHarness() *harness {
	h := &harness{
		disbursements: newMemDisbursements(),
		templates:     newMemTemplates(standardSystemTemplate()),
		types: memTypes{
			"type-supplier": {ID: "type-supplier", CompanyID: companyA, Name: "Supplier payment",
				AutoApproveUnder: amountPtr("50000"), ThresholdCurrency: "XAF"},
		},
		directory: directoryFixture(),
		events:    &recorder{},
	}

	h.dispatcher = dispatcher.NewDispatcher()
	h.dispatcher.SubscribeNamed(dispatcher.AllEvents, "recorder", h.events.handle)

	logger := &mockLogger{}
	tx := &mockTxManager{}
	h.templateSvc = NewTemplateService(h.templates, h.disbursements, tx, h.dispatcher, logger)
	h.gate = NewTransitionGate(&fakeAuth{directory: h.directory}, h.directory, h.disbursements, h.types,
		h.templates, h.templateSvc, tx, workflow.NewMachine(nil), h.dispatcher, logger)
	h.drafts = NewDisbursementService(h.gate, h.disbursements, h.types, h.dispatcher, logger)
	return h
}

// flush waits for async handlers and returns a fresh dispatcher state
func (h *harness) flush() {
	_ = h.dispatcher.Close()
}

package seed

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/workflow"
	"github.com/garyjia/disbursement-approvals/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type templateSink struct {
	seeded []*entity.WorkflowTemplate
}

func (s *templateSink) SeedSystemTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	if err := workflow.ValidateSteps(tpl.Steps); err != nil {
		return err
	}
	s.seeded = append(s.seeded, tpl)
	return nil
}

type typeSink map[string]*entity.DisbursementType

func (s typeSink) GetByID(ctx context.Context, id string) (*entity.DisbursementType, error) {
	return s[id], nil
}

func (s typeSink) Upsert(ctx context.Context, t *entity.DisbursementType) error {
	s[t.ID] = t
	return nil
}

type directorySink map[string]*entity.Actor

func (s directorySink) GetActor(ctx context.Context, userID string) (*entity.Actor, error) {
	return s[userID], nil
}

func (s directorySink) SaveActor(ctx context.Context, actor *entity.Actor) error {
	s[actor.ID] = actor
	return nil
}

func TestLoadAndApply_ShippedSeed(t *testing.T) {
	f, err := Load("../../../configs/seed.yaml")
	require.NoError(t, err)

	templates := &templateSink{}
	types := typeSink{}
	directory := directorySink{}
	require.NoError(t, NewLoader(templates, types, directory, rules.NewExprEvaluator()).Apply(context.Background(), f))

	require.Len(t, templates.seeded, 2)
	assert.Equal(t, "tpl-standard", templates.seeded[0].ID)
	assert.True(t, templates.seeded[0].IsDefault)
	assert.Len(t, templates.seeded[0].Steps, 2)

	supplier := types["type-supplier"]
	require.NotNil(t, supplier)
	require.NotNil(t, supplier.AutoApproveUnder)
	assert.Equal(t, "50000", supplier.AutoApproveUnder.String())
	assert.Nil(t, types["type-payroll"].AutoApproveUnder)

	olga := directory["olga"]
	require.NotNil(t, olga)
	assert.True(t, olga.IsPlatformOperator)

	alice := directory["alice"]
	require.Len(t, alice.DirectPermissions, 1)
	assert.Equal(t, entity.PermissionDisbursementCreate, alice.DirectPermissions[0].ID, "id defaults to the code")

	eve := directory["eve"]
	require.Len(t, eve.Roles, 1)
	require.NotNil(t, eve.Roles[0].Permissions[0].Conditions.MaxAmount)
}

func TestApply_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed template", `
templates:
  - id: broken
    name: Broken
    steps:
      - {order: 2, name: x, role_required: y, status_on_pending: p, status_on_complete: completed}
`},
		{"template without id", `
templates:
  - name: Anonymous
    steps:
      - {order: 1, name: x, role_required: y, status_on_pending: p, status_on_complete: completed}
`},
		{"bad threshold", `
disbursement_types:
  - {id: t, name: T, auto_approve_under: "lots"}
`},
		{"negative threshold", `
disbursement_types:
  - {id: t, name: T, auto_approve_under: "-1"}
`},
		{"rule does not compile", `
disbursement_types:
  - {id: t, name: T, auto_approve_rule: "amount >"}
`},
		{"rule references unknown field", `
disbursement_types:
  - {id: t, name: T, auto_approve_rule: "salary < 10"}
`},
		{"actor without company", `
actors:
  - {id: x}
`},
		{"bad permission ceiling", `
actors:
  - id: x
    company_id: c
    permissions:
      - {code: disbursement.approve, max_amount: "abc"}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.doc))
			require.NoError(t, err)

			err = NewLoader(&templateSink{}, typeSink{}, directorySink{}, rules.NewExprEvaluator()).Apply(context.Background(), f)
			assert.Error(t, err)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("templates: [unterminated"))
	assert.Error(t, err)

	_, err = Load("does-not-exist.yaml")
	assert.True(t, errors.Unwrap(err) != nil)
}

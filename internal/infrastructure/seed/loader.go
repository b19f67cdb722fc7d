// Package seed loads system templates, disbursement types and directory
// fixtures from a YAML file at startup
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/pkg/utils"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File is the seed document
type File struct {
	Templates         []Template         `yaml:"templates"`
	DisbursementTypes []DisbursementType `yaml:"disbursement_types"`
	Actors            []Actor            `yaml:"actors"`
}

// Template is a system workflow template
type Template struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Default bool   `yaml:"default"`
	Steps   []Step `yaml:"steps"`
}

// Step of a seeded template
type Step struct {
	Order            int    `yaml:"order"`
	Name             string `yaml:"name"`
	RoleRequired     string `yaml:"role_required"`
	Scope            string `yaml:"scope"`
	StatusOnPending  string `yaml:"status_on_pending"`
	StatusOnComplete string `yaml:"status_on_complete"`
}

// DisbursementType with its optional auto-approve policy
type DisbursementType struct {
	ID                string `yaml:"id"`
	CompanyID         string `yaml:"company_id"`
	Name              string `yaml:"name"`
	AutoApproveUnder  string `yaml:"auto_approve_under"`
	ThresholdCurrency string `yaml:"threshold_currency"`
	AutoApproveRule   string `yaml:"auto_approve_rule"`
}

// Actor is a directory user with its grants
type Actor struct {
	ID               string       `yaml:"id"`
	CompanyID        string       `yaml:"company_id"`
	DepartmentID     string       `yaml:"department_id"`
	OfficeID         string       `yaml:"office_id"`
	Email            string       `yaml:"email"`
	PlatformOperator bool         `yaml:"platform_operator"`
	Roles            []Role       `yaml:"roles"`
	Permissions      []Permission `yaml:"permissions"`
}

// Role granted to an actor
type Role struct {
	ID          string       `yaml:"id"`
	CompanyID   string       `yaml:"company_id"`
	Name        string       `yaml:"name"`
	RoleType    string       `yaml:"role_type"`
	Permissions []Permission `yaml:"permissions"`
}

// Permission grant
type Permission struct {
	ID                   string `yaml:"id"`
	CompanyID            string `yaml:"company_id"`
	Code                 string `yaml:"code"`
	Resource             string `yaml:"resource"`
	Action               string `yaml:"action"`
	MaxAmount            string `yaml:"max_amount"`
	DepartmentRestricted bool   `yaml:"department_restricted"`
	OfficeRestricted     bool   `yaml:"office_restricted"`
}

// TemplateSeeder installs system templates
type TemplateSeeder interface {
	SeedSystemTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) error
}

// RuleCompiler validates auto-approve rules before they are stored
type RuleCompiler interface {
	Compile(expression string) error
}

// Load reads and parses a seed file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// Loader applies a seed file to the stores
type Loader struct {
	templates TemplateSeeder
	types     port.DisbursementTypeRepository
	directory port.DirectoryRepository
	rules     RuleCompiler
}

// NewLoader creates a new Loader
func NewLoader(templates TemplateSeeder, types port.DisbursementTypeRepository, directory port.DirectoryRepository, rules RuleCompiler) *Loader {
	return &Loader{
		templates: templates,
		types:     types,
		directory: directory,
		rules:     rules,
	}
}

// Apply installs everything in f. It is safe to run on every start.
func (l *Loader) Apply(ctx context.Context, f *File) error {
	now := time.Now().UTC()

	for _, t := range f.Templates {
		tpl := &entity.WorkflowTemplate{
			ID:        t.ID,
			Name:      t.Name,
			IsDefault: t.Default,
			IsSystem:  true,
			Steps:     make([]entity.Step, 0, len(t.Steps)),
			CreatedAt: now,
		}
		for _, s := range t.Steps {
			tpl.Steps = append(tpl.Steps, entity.Step{
				Order:            s.Order,
				Name:             s.Name,
				RoleRequired:     s.RoleRequired,
				Scope:            s.Scope,
				StatusOnPending:  s.StatusOnPending,
				StatusOnComplete: s.StatusOnComplete,
			})
		}
		if tpl.ID == "" {
			return fmt.Errorf("template %q: id is required", t.Name)
		}
		if err := l.templates.SeedSystemTemplate(ctx, tpl); err != nil {
			return err
		}
	}

	for _, dt := range f.DisbursementTypes {
		typ, err := l.disbursementType(dt, now)
		if err != nil {
			return err
		}
		if err := l.types.Upsert(ctx, typ); err != nil {
			return fmt.Errorf("failed to seed disbursement type %s: %w", dt.ID, err)
		}
	}

	for _, a := range f.Actors {
		actor, err := toActor(a)
		if err != nil {
			return err
		}
		if err := l.directory.SaveActor(ctx, actor); err != nil {
			return fmt.Errorf("failed to seed actor %s: %w", a.ID, err)
		}
	}

	return nil
}

func (l *Loader) disbursementType(dt DisbursementType, now time.Time) (*entity.DisbursementType, error) {
	if dt.ID == "" || dt.Name == "" {
		return nil, fmt.Errorf("disbursement type %q: id and name are required", dt.ID)
	}

	typ := &entity.DisbursementType{
		ID:                dt.ID,
		CompanyID:         dt.CompanyID,
		Name:              dt.Name,
		ThresholdCurrency: strings.ToUpper(dt.ThresholdCurrency),
		AutoApproveRule:   strings.TrimSpace(dt.AutoApproveRule),
		CreatedAt:         now,
	}

	if dt.AutoApproveUnder != "" {
		threshold, err := decimal.NewFromString(dt.AutoApproveUnder)
		if err != nil {
			return nil, fmt.Errorf("disbursement type %s: invalid auto_approve_under: %w", dt.ID, err)
		}
		if !threshold.IsPositive() {
			return nil, fmt.Errorf("disbursement type %s: auto_approve_under must be positive", dt.ID)
		}
		typ.AutoApproveUnder = &threshold
	}

	if typ.AutoApproveRule != "" {
		if l.rules == nil {
			return nil, fmt.Errorf("disbursement type %s: rules are not supported", dt.ID)
		}
		if err := l.rules.Compile(typ.AutoApproveRule); err != nil {
			return nil, fmt.Errorf("disbursement type %s: %w", dt.ID, err)
		}
	}

	return typ, nil
}

func toActor(a Actor) (*entity.Actor, error) {
	if a.ID == "" {
		return nil, fmt.Errorf("actor: id is required")
	}
	if a.CompanyID == "" && !a.PlatformOperator {
		return nil, fmt.Errorf("actor %s: company_id is required", a.ID)
	}
	if a.Email != "" {
		if err := utils.ValidateEmail(a.Email); err != nil {
			return nil, fmt.Errorf("actor %s: %w", a.ID, err)
		}
	}

	actor := &entity.Actor{
		ID:                 a.ID,
		CompanyID:          a.CompanyID,
		DepartmentID:       a.DepartmentID,
		OfficeID:           a.OfficeID,
		Email:              a.Email,
		IsPlatformOperator: a.PlatformOperator,
	}

	for _, r := range a.Roles {
		perms, err := toPermissions(r.Permissions)
		if err != nil {
			return nil, fmt.Errorf("actor %s role %s: %w", a.ID, r.ID, err)
		}
		actor.Roles = append(actor.Roles, entity.Role{
			ID:          r.ID,
			CompanyID:   r.CompanyID,
			Name:        r.Name,
			RoleType:    r.RoleType,
			Permissions: perms,
		})
	}

	direct, err := toPermissions(a.Permissions)
	if err != nil {
		return nil, fmt.Errorf("actor %s: %w", a.ID, err)
	}
	actor.DirectPermissions = direct

	return actor, nil
}

func toPermissions(in []Permission) ([]entity.Permission, error) {
	out := make([]entity.Permission, 0, len(in))
	for _, p := range in {
		perm := entity.Permission{
			ID:        p.ID,
			CompanyID: p.CompanyID,
			Code:      p.Code,
			Resource:  p.Resource,
			Action:    p.Action,
			Conditions: entity.PermissionConditions{
				DepartmentRestricted: p.DepartmentRestricted,
				OfficeRestricted:     p.OfficeRestricted,
			},
		}
		if perm.ID == "" {
			perm.ID = perm.Code
		}
		if p.MaxAmount != "" {
			limit, err := decimal.NewFromString(p.MaxAmount)
			if err != nil {
				return nil, fmt.Errorf("permission %s: invalid max_amount: %w", perm.ID, err)
			}
			perm.Conditions.MaxAmount = &limit
		}
		out = append(out, perm)
	}
	return out, nil
}

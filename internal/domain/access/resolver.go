// Package access evaluates what an actor may do: effective permissions,
// role holdings and the tenant boundary.
package access

import (
	"sort"

	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Grant is one effective permission after merging every source that grants the code
type Grant struct {
	Code       string
	Conditions entity.PermissionConditions
}

// EffectivePermissionSet is computed once per request and passed to every check
type EffectivePermissionSet struct {
	grants map[string]Grant
}

// PermissionContext describes the disbursement a permission is checked against
type PermissionContext struct {
	Amount       decimal.Decimal
	DepartmentID string
	OfficeID     string
}

// ResolveEffectivePermissions unions role grants and direct overrides.
// For a code granted by several sources the highest MaxAmount wins (no ceiling
// beats any ceiling) while a restriction flag set by any source applies.
func ResolveEffectivePermissions(actor *entity.Actor) EffectivePermissionSet {
	set := EffectivePermissionSet{grants: make(map[string]Grant)}
	if actor == nil {
		return set
	}
	if actor.CompanyID == "" && !actor.IsPlatformOperator {
		return set
	}

	for _, role := range actor.Roles {
		for _, p := range role.Permissions {
			set.merge(p)
		}
	}
	for _, p := range actor.DirectPermissions {
		set.merge(p)
	}

	return set
}

func (s *EffectivePermissionSet) merge(p entity.Permission) {
	if p.Code == "" {
		return
	}

	existing, ok := s.grants[p.Code]
	if !ok {
		s.grants[p.Code] = Grant{Code: p.Code, Conditions: copyConditions(p.Conditions)}
		return
	}

	merged := existing.Conditions
	merged.MaxAmount = looserCeiling(existing.Conditions.MaxAmount, p.Conditions.MaxAmount)
	merged.DepartmentRestricted = existing.Conditions.DepartmentRestricted || p.Conditions.DepartmentRestricted
	merged.OfficeRestricted = existing.Conditions.OfficeRestricted || p.Conditions.OfficeRestricted

	s.grants[p.Code] = Grant{Code: p.Code, Conditions: merged}
}

func looserCeiling(a, b *decimal.Decimal) *decimal.Decimal {
	if a == nil || b == nil {
		return nil
	}
	if a.GreaterThanOrEqual(*b) {
		v := *a
		return &v
	}
	v := *b
	return &v
}

func copyConditions(c entity.PermissionConditions) entity.PermissionConditions {
	if c.MaxAmount != nil {
		v := *c.MaxAmount
		c.MaxAmount = &v
	}
	return c
}

// Grant returns the merged grant for code
func (s EffectivePermissionSet) Grant(code string) (Grant, bool) {
	g, ok := s.grants[code]
	return g, ok
}

// Codes returns the granted codes in sorted order
func (s EffectivePermissionSet) Codes() []string {
	codes := make([]string, 0, len(s.grants))
	for code := range s.grants {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Len returns the number of distinct granted codes
func (s EffectivePermissionSet) Len() int {
	return len(s.grants)
}

// HasPermission checks a code against the target context.
// Conditions compare the context with the actor's own department and office.
func (s EffectivePermissionSet) HasPermission(actor *entity.Actor, code string, ctx PermissionContext) bool {
	g, ok := s.grants[code]
	if !ok || actor == nil {
		return false
	}

	c := g.Conditions
	if c.MaxAmount != nil && ctx.Amount.GreaterThan(*c.MaxAmount) {
		return false
	}
	if c.DepartmentRestricted && actor.DepartmentID != ctx.DepartmentID {
		return false
	}
	if c.OfficeRestricted && actor.OfficeID != ctx.OfficeID {
		return false
	}

	return true
}

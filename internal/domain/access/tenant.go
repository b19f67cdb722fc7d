package access

import (
	"fmt"

	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
)

// ScopeDecision is the outcome of a tenant boundary check
type ScopeDecision struct {
	Allowed bool
	// CrossTenant is set when a platform operator reaches into another company.
	// Callers must report these decisions to the audit collaborator.
	CrossTenant bool
	Reason      string
}

// AuthorizeCompanyScope decides whether actor may act on targetCompanyID's data
func AuthorizeCompanyScope(actor *entity.Actor, targetCompanyID string) ScopeDecision {
	if actor == nil {
		return ScopeDecision{Reason: "no actor"}
	}

	if actor.IsPlatformOperator {
		return ScopeDecision{
			Allowed:     true,
			CrossTenant: actor.CompanyID != targetCompanyID,
			Reason:      "platform operator",
		}
	}

	if actor.CompanyID == "" || actor.CompanyID != targetCompanyID {
		return ScopeDecision{Reason: fmt.Sprintf("actor company %q does not own the resource", actor.CompanyID)}
	}

	return ScopeDecision{Allowed: true}
}

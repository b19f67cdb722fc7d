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
	"github.com/garyjia/disbursement-approvals/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateDisbursementInput is the payload of a new draft
type CreateDisbursementInput struct {
	// CompanyID defaults to the actor's company. Platform operators must set it.
	CompanyID          string          `json:"company_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	BeneficiaryID      string          `json:"beneficiary_id"`
	DisbursementTypeID string          `json:"disbursement_type_id"`
	DepartmentID       string          `json:"department_id"`
	OfficeID           string          `json:"office_id"`
	Priority           string          `json:"priority"`
	Urgent             bool            `json:"urgent"`
	Description        string          `json:"description"`
}

// DisbursementService creates and reads disbursements behind the same
// authentication and tenant checks as transitions
type DisbursementService interface {
	CreateDraft(ctx context.Context, token string, in CreateDisbursementInput) (*entity.Disbursement, error)
	Get(ctx context.Context, token, disbursementID string) (*entity.Disbursement, error)
}

type disbursementServiceImpl struct {
	gate          TransitionGate
	disbursements port.DisbursementRepository
	types         port.DisbursementTypeRepository
	events        dispatcher.Dispatcher
	logger        Logger
}

// NewDisbursementService creates a new DisbursementService
func NewDisbursementService(
	gate TransitionGate,
	disbursements port.DisbursementRepository,
	types port.DisbursementTypeRepository,
	events dispatcher.Dispatcher,
	logger Logger,
) DisbursementService {
	return &disbursementServiceImpl{
		gate:          gate,
		disbursements: disbursements,
		types:         types,
		events:        events,
		logger:        logger,
	}
}

func (s *disbursementServiceImpl) CreateDraft(ctx context.Context, token string, in CreateDisbursementInput) (*entity.Disbursement, error) {
	actor, err := s.gate.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	companyID := in.CompanyID
	if companyID == "" {
		companyID = actor.CompanyID
	}
	if companyID == "" {
		return nil, errs.New(errs.KindValidation, "company_id is required")
	}

	decision := access.AuthorizeCompanyScope(actor, companyID)
	if !decision.Allowed {
		s.logger.Info("Tenant boundary denied draft creation", "actor_id", actor.ID, "company_id", companyID)
		return nil, errs.New(errs.KindTenantMismatch, "%s", decision.Reason)
	}

	d, err := s.newDraft(ctx, actor, companyID, in)
	if err != nil {
		return nil, err
	}

	if err := s.disbursements.Create(ctx, d); err != nil {
		s.logger.Error("Failed to create disbursement", "error", err, "company_id", companyID)
		return nil, fmt.Errorf("failed to create disbursement: %w", err)
	}

	s.logger.Info("Disbursement draft created", "disbursement_id", d.ID, "company_id", companyID, "actor_id", actor.ID)
	if decision.CrossTenant {
		s.events.DispatchAsync(ctx, event.NewEvent(event.TypeTenantCrossAccess, d.ID, companyID, actor.ID,
			map[string]interface{}{event.KeyAction: "disbursement.create"}))
	}
	s.events.DispatchAsync(ctx, event.NewEvent(event.TypeDisbursementCreated, d.ID, companyID, actor.ID,
		map[string]interface{}{event.KeyToStatus: d.Status}))

	return d, nil
}

// newDraft validates the input and builds the draft record
func (s *disbursementServiceImpl) newDraft(ctx context.Context, actor *entity.Actor, companyID string, in CreateDisbursementInput) (*entity.Disbursement, error) {
	if !in.Amount.IsPositive() {
		return nil, errs.New(errs.KindValidation, "amount must be positive")
	}
	currency, err := utils.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "currency must be a 3-letter ISO code")
	}
	if strings.TrimSpace(in.BeneficiaryID) == "" {
		return nil, errs.New(errs.KindValidation, "beneficiary_id is required")
	}
	if strings.TrimSpace(in.DisbursementTypeID) == "" {
		return nil, errs.New(errs.KindValidation, "disbursement_type_id is required")
	}

	priority := in.Priority
	if priority == "" {
		priority = entity.PriorityNormal
	}
	if !entity.IsValidPriority(priority) {
		return nil, errs.New(errs.KindValidation, "unknown priority %q", priority)
	}

	typ, err := s.types.GetByID(ctx, in.DisbursementTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load disbursement type: %w", err)
	}
	if typ == nil || (typ.CompanyID != "" && typ.CompanyID != companyID) {
		return nil, errs.New(errs.KindValidation, "unknown disbursement type %s", in.DisbursementTypeID)
	}

	departmentID, officeID := in.DepartmentID, in.OfficeID
	if actor.CompanyID == companyID {
		if departmentID == "" {
			departmentID = actor.DepartmentID
		}
		if officeID == "" {
			officeID = actor.OfficeID
		}
	}

	now := time.Now().UTC()
	return &entity.Disbursement{
		ID:                 uuid.NewString(),
		CompanyID:          companyID,
		CreatedBy:          actor.ID,
		Amount:             in.Amount,
		Currency:           currency,
		BeneficiaryID:      strings.TrimSpace(in.BeneficiaryID),
		DisbursementTypeID: typ.ID,
		DepartmentID:       departmentID,
		OfficeID:           officeID,
		Priority:           priority,
		Urgent:             in.Urgent,
		Description:        utils.SanitizeString(in.Description),
		Status:             entity.StatusDraft,
		History:            []entity.HistoryEntry{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (s *disbursementServiceImpl) Get(ctx context.Context, token, disbursementID string) (*entity.Disbursement, error) {
	actor, err := s.gate.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.gate.Authorize(ctx, actor, disbursementID)
}

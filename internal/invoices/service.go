package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// CardMetadata is the display-only payment instrument data attached once, at
// the paid transition.
type CardMetadata struct {
	Brand string
	Last4 string
}

// TransitionInput describes one settlement fact to apply to an invoice.
type TransitionInput struct {
	Gateway          enums.Gateway
	ExternalChargeID string
	Kind             enums.PaymentEventKind
	OccurredAt       time.Time
	Card             *CardMetadata
}

// TransitionResult reports what the state machine actually did. Applied is
// false when the transition was a legal no-op (the invoice already carried
// the target status).
type TransitionResult struct {
	Invoice *models.Invoice
	Applied bool
}

// Service owns the invoice lifecycle. Every status write in the system goes
// through Transition.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error)
	ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]models.Invoice, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// ServiceParams carries the invoice service dependencies.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

// NewService wires the invoice state machine with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	return &service{repo: params.Repo, logg: params.Logger, now: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), logg: s.logg, now: s.now}
}

func targetStatus(kind enums.PaymentEventKind) (enums.InvoiceStatus, error) {
	switch kind {
	case enums.PaymentEventChargeSucceeded:
		return enums.InvoiceStatusPaid, nil
	case enums.PaymentEventChargeFailed:
		return enums.InvoiceStatusFailed, nil
	case enums.PaymentEventChargeExpired:
		return enums.InvoiceStatusExpired, nil
	case enums.PaymentEventChargeCanceled:
		return enums.InvoiceStatusCanceled, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unhandled payment event kind "+kind.String())
	}
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error) {
	if input.ExternalChargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external charge id is required")
	}
	target, err := targetStatus(input.Kind)
	if err != nil {
		return nil, err
	}

	invoice, err := s.repo.FindByGatewayChargeForUpdate(ctx, input.Gateway, input.ExternalChargeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnknownInvoice, "no invoice for charge "+input.ExternalChargeID+" at "+input.Gateway.String())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice for transition")
	}

	if invoice.Status == target {
		// Duplicate settlement fact; already applied. Defense in depth under
		// the ledger dedup.
		return &TransitionResult{Invoice: invoice, Applied: false}, nil
	}
	if invoice.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("invoice %s is %s; cannot transition to %s", invoice.ID, invoice.Status, target))
	}

	invoice.Status = target
	if target == enums.InvoiceStatusPaid {
		paidAt := input.OccurredAt.UTC()
		if paidAt.IsZero() {
			paidAt = s.now().UTC()
		}
		invoice.PaidAt = &paidAt
		if input.Card != nil {
			if input.Card.Brand != "" {
				brand := input.Card.Brand
				invoice.CardBrand = &brand
			}
			if input.Card.Last4 != "" {
				last4 := input.Card.Last4
				invoice.CardLast4 = &last4
			}
		}
	}

	if err := s.repo.Update(ctx, invoice); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist invoice transition")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"invoice_id": invoice.ID.String(),
			"status":     invoice.Status.String(),
		})
		s.logg.Info(logCtx, "invoice transitioned")
	}
	return &TransitionResult{Invoice: invoice, Applied: true}, nil
}

func (s *service) ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]models.Invoice, error) {
	cutoff := s.now().UTC().Add(-age)
	invoices, err := s.repo.ListPendingOlderThan(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending invoices")
	}
	return invoices, nil
}

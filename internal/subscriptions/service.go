package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fidelizapay/fideliza-backend/internal/invoices"
	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// AdvanceResult reports the period advance. Advanced is false when the
// subscription already reflected the invoice's billing cycle; the result then
// carries the current state instead of a fresh mutation.
type AdvanceResult struct {
	Subscription *models.Subscription
	NextInvoice  *models.Invoice
	Advanced     bool
}

// Service advances billing periods after an invoice is confirmed paid. It is
// the only writer of subscription period fields.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Advance(ctx context.Context, invoice *models.Invoice) (*AdvanceResult, error)
}

type service struct {
	repo        Repository
	invoiceRepo invoices.Repository
	logg        *logger.Logger
}

// ServiceParams carries the subscription service dependencies.
type ServiceParams struct {
	Repo        Repository
	InvoiceRepo invoices.Repository
	Logger      *logger.Logger
}

// NewService wires the period advancer with its repositories.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.InvoiceRepo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	return &service{repo: params.Repo, invoiceRepo: params.InvoiceRepo, logg: params.Logger}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), invoiceRepo: s.invoiceRepo.WithTx(tx), logg: s.logg}
}

// addInterval computes the next period boundary from the previous one, never
// from the wall clock, so late-processed invoices do not drift the cycle.
func addInterval(t time.Time, interval enums.BillingInterval) time.Time {
	switch interval {
	case enums.BillingIntervalYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

func (s *service) Advance(ctx context.Context, invoice *models.Invoice) (*AdvanceResult, error) {
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice is required")
	}
	if invoice.Status != enums.InvoiceStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot advance a period for an unpaid invoice")
	}

	subscription, err := s.repo.FindByIDForUpdate(ctx, invoice.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription "+invoice.SubscriptionID.String()+" not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}

	// The invoice pays for the cycle ending at PeriodEnd. A period start at
	// or past that boundary means an earlier attempt already advanced for
	// this invoice.
	if !subscription.CurrentPeriodStart.Before(invoice.PeriodEnd) {
		return &AdvanceResult{Subscription: subscription, Advanced: false}, nil
	}

	plan, err := s.repo.FindPlan(ctx, subscription.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing plan "+subscription.PlanID.String()+" not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing plan")
	}

	newStart := invoice.PeriodEnd
	newEnd := addInterval(newStart, plan.Interval)

	subscription.CurrentPeriodStart = newStart
	subscription.CurrentPeriodEnd = newEnd
	subscription.NextInvoiceDate = &newEnd
	if subscription.Status == enums.SubscriptionStatusPastDue || subscription.Status == enums.SubscriptionStatusTrial {
		subscription.Status = enums.SubscriptionStatusActive
	}

	if err := s.repo.Update(ctx, subscription); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist subscription advance")
	}

	result := &AdvanceResult{Subscription: subscription, Advanced: true}
	if subscription.Status != enums.SubscriptionStatusCanceled && subscription.CanceledAt == nil {
		next := &models.Invoice{
			ID:             uuid.New(),
			SubscriptionID: subscription.ID,
			StoreID:        subscription.StoreID,
			AmountCents:    plan.Price.Mul(decimal.NewFromInt(100)).IntPart(),
			PeriodEnd:      newEnd,
			Gateway:        invoice.Gateway,
			Status:         enums.InvoiceStatusPending,
		}
		if err := s.invoiceRepo.Create(ctx, next); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create next invoice")
		}
		result.NextInvoice = next
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"subscription_id":    subscription.ID.String(),
			"current_period_end": newEnd.Format(time.RFC3339),
		})
		s.logg.Info(logCtx, "subscription period advanced")
	}
	return result, nil
}

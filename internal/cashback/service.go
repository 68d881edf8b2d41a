package cashback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// Credit is one applied accrual, reported back so callers can notify the
// client after commit.
type Credit struct {
	TransactionID uuid.UUID
	UserID        uuid.UUID
	StoreID       uuid.UUID
	InvoiceID     uuid.UUID
	AmountCents   int64
}

// Service applies cashback credits. The approved transition and the balance
// increment always land in the same unit of work.
type Service interface {
	WithTx(tx *gorm.DB) Service
	// CreditTransaction approves one pending transaction and credits its
	// balance. Returns nil, nil when the transaction was already approved.
	CreditTransaction(ctx context.Context, sourceTransactionID uuid.UUID) (*Credit, error)
	// CreditForInvoice applies every pending transaction funded by the
	// invoice and returns the credits actually applied.
	CreditForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]Credit, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// ServiceParams carries the cashback service dependencies.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

// NewService wires the credit applier with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cashback repository required")
	}
	return &service{repo: params.Repo, logg: params.Logger, now: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), logg: s.logg, now: s.now}
}

func (s *service) CreditTransaction(ctx context.Context, sourceTransactionID uuid.UUID) (*Credit, error) {
	if sourceTransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source transaction id is required")
	}

	txn, err := s.repo.FindTransactionForUpdate(ctx, sourceTransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cashback transaction "+sourceTransactionID.String()+" not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cashback transaction")
	}

	switch txn.Status {
	case enums.CashbackStatusApproved:
		// Second idempotency layer under the event ledger.
		return nil, nil
	case enums.CashbackStatusCanceled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cashback transaction "+txn.ID.String()+" is canceled")
	}

	if err := s.repo.IncrementBalance(ctx, txn.UserID, txn.StoreID, txn.AmountCents); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit cashback balance")
	}

	approvedAt := s.now().UTC()
	txn.Status = enums.CashbackStatusApproved
	txn.ApprovedAt = &approvedAt
	if err := s.repo.UpdateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approve cashback transaction")
	}

	if s.logg != nil {
		logCtx := s.logg.WithUserID(ctx, txn.UserID.String())
		logCtx = s.logg.WithStoreID(logCtx, txn.StoreID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"transaction_id": txn.ID.String(),
			"amount_cents":   txn.AmountCents,
		})
		s.logg.Info(logCtx, "cashback credited")
	}
	return &Credit{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		StoreID:       txn.StoreID,
		InvoiceID:     txn.InvoiceID,
		AmountCents:   txn.AmountCents,
	}, nil
}

func (s *service) CreditForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]Credit, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}

	txns, err := s.repo.ListPendingByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending cashback transactions")
	}

	credits := make([]Credit, 0, len(txns))
	for _, txn := range txns {
		credit, err := s.CreditTransaction(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		if credit != nil {
			credits = append(credits, *credit)
		}
	}
	return credits, nil
}

package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
)

// Repository manages persistence for invoices.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	// FindByGatewayChargeForUpdate locks the invoice row so concurrent events
	// for the same charge serialize on the transition.
	FindByGatewayChargeForUpdate(ctx context.Context, gateway enums.Gateway, externalChargeID string) (*models.Invoice, error)
	Update(ctx context.Context, invoice *models.Invoice) error
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Invoice, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByGatewayChargeForUpdate(ctx context.Context, gateway enums.Gateway, externalChargeID string) (*models.Invoice, error) {
	query := r.db.WithContext(ctx)
	// sqlite (tests) has no FOR UPDATE and serializes writers on its own.
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var invoice models.Invoice
	err := query.
		Where("gateway = ? AND external_charge_id = ?", gateway, externalChargeID).
		First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) Update(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Save(invoice).Error
}

func (r *repository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	query := r.db.WithContext(ctx).
		Where("status = ? AND external_charge_id IS NOT NULL AND created_at < ?", enums.InvoiceStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

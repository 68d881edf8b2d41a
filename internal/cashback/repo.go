package cashback

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
)

// Repository manages persistence for cashback transactions and balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.CashbackTransaction, error)
	ListPendingByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.CashbackTransaction, error)
	UpdateTransaction(ctx context.Context, txn *models.CashbackTransaction) error
	// IncrementBalance applies available += amount and total_credited +=
	// amount as one statement against the (user, store) row, creating the
	// row first if it does not exist.
	IncrementBalance(ctx context.Context, userID, storeID uuid.UUID, amountCents int64) error
	FindBalance(ctx context.Context, userID, storeID uuid.UUID) (*models.CashbackBalance, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a cashback repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.CashbackTransaction, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var txn models.CashbackTransaction
	if err := query.First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListPendingByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.CashbackTransaction, error) {
	var txns []models.CashbackTransaction
	err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND status = ?", invoiceID, enums.CashbackStatusPending).
		Order("created_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) UpdateTransaction(ctx context.Context, txn *models.CashbackTransaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}

func (r *repository) IncrementBalance(ctx context.Context, userID, storeID uuid.UUID, amountCents int64) error {
	// Ensure the row exists, then increment in place. Never read the amounts
	// into memory; concurrent credits for the same pair must not lose
	// updates.
	seed := &models.CashbackBalance{ID: uuid.New(), UserID: userID, StoreID: storeID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "store_id"}},
			DoNothing: true,
		}).
		Create(seed).Error
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Model(&models.CashbackBalance{}).
		Where("user_id = ? AND store_id = ?", userID, storeID).
		Updates(map[string]any{
			"available_cents":      gorm.Expr("available_cents + ?", amountCents),
			"total_credited_cents": gorm.Expr("total_credited_cents + ?", amountCents),
			"updated_at":           time.Now().UTC(),
		}).Error
}

func (r *repository) FindBalance(ctx context.Context, userID, storeID uuid.UUID) (*models.CashbackBalance, error) {
	var balance models.CashbackBalance
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND store_id = ?", userID, storeID).
		First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

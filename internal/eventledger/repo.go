package eventledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fidelizapay/fideliza-backend/pkg/db"
	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
)

// Repository manages persistence for the gateway event ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.GatewayEvent) error
	FindByDedupKey(ctx context.Context, gateway enums.Gateway, externalEventID string) (*models.GatewayEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, outcome enums.EventOutcome, processedAt time.Time) error
	ClearProcessed(ctx context.Context, id uuid.UUID) error
	ListUnprocessedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.GatewayEvent, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, event *models.GatewayEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindByDedupKey(ctx context.Context, gateway enums.Gateway, externalEventID string) (*models.GatewayEvent, error) {
	var event models.GatewayEvent
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND external_event_id = ?", gateway, externalEventID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, outcome enums.EventOutcome, processedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.GatewayEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": processedAt,
			"outcome":      outcome,
		}).Error
}

func (r *repository) ClearProcessed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.GatewayEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": nil,
			"outcome":      nil,
		}).Error
}

func (r *repository) ListUnprocessedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.GatewayEvent, error) {
	var events []models.GatewayEvent
	query := r.db.WithContext(ctx).
		Where("(processed_at IS NULL OR outcome = ?) AND received_at < ?", enums.EventOutcomeError, cutoff).
		Order("received_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", cutoff).
		Delete(&models.GatewayEvent{})
	return result.RowsAffected, result.Error
}

// isDuplicateEvent reports whether the insert lost the race on the dedup
// unique index.
func isDuplicateEvent(err error) bool {
	return db.IsUniqueViolation(err, "idx_gateway_events_dedup")
}

package eventledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fidelizapay/fideliza-backend/internal/gateways"
	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// Service is the exactly-once gate in front of event processing. TryBegin
// claims an event by inserting its ledger row; Commit stamps the outcome.
// A row with NULL processed_at belongs to an attempt that died mid-flight
// and may be claimed again by the sweep.
type Service interface {
	WithTx(tx *gorm.DB) Service
	TryBegin(ctx context.Context, event *gateways.PaymentEvent) (*models.GatewayEvent, error)
	Commit(ctx context.Context, id uuid.UUID, outcome enums.EventOutcome) error
	// Reopen clears a committed outcome so the event can run again. This is
	// the manual-reconciliation escape hatch, used after the condition that
	// produced the original outcome has been fixed.
	Reopen(ctx context.Context, gateway enums.Gateway, externalEventID string) (*models.GatewayEvent, error)
	ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]models.GatewayEvent, error)
	PruneProcessed(ctx context.Context, olderThan time.Duration) (int64, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// ServiceParams carries the ledger service dependencies.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

// NewService wires the ledger service with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("event ledger repository required")
	}
	return &service{repo: params.Repo, logg: params.Logger, now: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), logg: s.logg, now: s.now}
}

func (s *service) TryBegin(ctx context.Context, event *gateways.PaymentEvent) (*models.GatewayEvent, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment event is required")
	}
	if !event.Gateway.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid gateway "+event.Gateway.String())
	}
	if event.ExternalEventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external event id is required")
	}

	record := &models.GatewayEvent{
		ID:               uuid.New(),
		Gateway:          event.Gateway,
		ExternalEventID:  event.ExternalEventID,
		ExternalChargeID: event.ExternalChargeID,
		Kind:             event.Kind,
		RawPayload:       event.RawPayload,
		ReceivedAt:       s.now().UTC(),
	}
	err := s.repo.Insert(ctx, record)
	if err == nil {
		return record, nil
	}
	if !isDuplicateEvent(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert gateway event")
	}

	existing, findErr := s.repo.FindByDedupKey(ctx, event.Gateway, event.ExternalEventID)
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			// Insert lost the race but the row vanished before we read it;
			// let the provider retry.
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "load gateway event after duplicate insert")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "load gateway event")
	}
	if existing.ProcessedAt != nil {
		// An error outcome is not terminal; a provider retry may reprocess.
		if existing.Outcome == nil || *existing.Outcome != enums.EventOutcomeError {
			return nil, pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "event "+event.ExternalEventID+" already processed")
		}
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"gateway":           event.Gateway.String(),
			"external_event_id": event.ExternalEventID,
		})
		s.logg.Warn(logCtx, "resuming gateway event left unprocessed by a prior attempt")
	}
	return existing, nil
}

func (s *service) Commit(ctx context.Context, id uuid.UUID, outcome enums.EventOutcome) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway event id is required")
	}
	if !outcome.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid event outcome "+outcome.String())
	}
	if err := s.repo.MarkProcessed(ctx, id, outcome, s.now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark gateway event processed")
	}
	return nil
}

func (s *service) Reopen(ctx context.Context, gateway enums.Gateway, externalEventID string) (*models.GatewayEvent, error) {
	if !gateway.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid gateway "+gateway.String())
	}
	if externalEventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external event id is required")
	}

	record, err := s.repo.FindByDedupKey(ctx, gateway, externalEventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "gateway event "+externalEventID+" not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load gateway event")
	}
	if err := s.repo.ClearProcessed(ctx, record.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reopen gateway event")
	}
	record.ProcessedAt = nil
	record.Outcome = nil

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"gateway":           gateway.String(),
			"external_event_id": externalEventID,
		})
		s.logg.Info(logCtx, "gateway event reopened for reprocessing")
	}
	return record, nil
}

func (s *service) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]models.GatewayEvent, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	events, err := s.repo.ListUnprocessedOlderThan(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stuck gateway events")
	}
	return events, nil
}

func (s *service) PruneProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	deleted, err := s.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "prune processed gateway events")
	}
	return deleted, nil
}

package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fidelizapay/fideliza-backend/internal/cashback"
	"github.com/fidelizapay/fideliza-backend/internal/eventledger"
	"github.com/fidelizapay/fideliza-backend/internal/gateways"
	"github.com/fidelizapay/fideliza-backend/internal/invoices"
	"github.com/fidelizapay/fideliza-backend/internal/notify"
	"github.com/fidelizapay/fideliza-backend/internal/subscriptions"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
	"github.com/fidelizapay/fideliza-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// dedupCache is the optional redis fast path in front of the durable ledger.
// It only ever short-circuits events the ledger has already committed; a
// cache miss or cache failure always falls through to the ledger.
type dedupCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Receipt is what the orchestrator reports back to the transport boundary
// for one accepted event.
type Receipt struct {
	Outcome enums.EventOutcome
	// Credits applied by this event, already published to the notifier.
	Credits []cashback.Credit
}

// Service sequences adapters, the event ledger, and the aggregate mutators.
// It is the only component that maps component errors to ledger outcomes.
type Service interface {
	HandleWebhook(ctx context.Context, gateway enums.Gateway, header http.Header, body []byte) (*Receipt, error)
	ProcessEvent(ctx context.Context, event *gateways.PaymentEvent) (*Receipt, error)
	// Reprocess reopens a committed ledger event and runs it again. Meant for
	// operators resolving events flagged unknown_invoice after the missing
	// invoice has been created.
	Reprocess(ctx context.Context, gateway enums.Gateway, externalEventID string) (*Receipt, error)
}

// ServiceParams carries the orchestrator dependencies.
type ServiceParams struct {
	Adapters      *gateways.Registry
	Ledger        eventledger.Service
	Invoices      invoices.Service
	Subscriptions subscriptions.Service
	Cashback      cashback.Service
	Tx            txRunner
	Cache         dedupCache
	Notifier      notify.Notifier
	Metrics       *metrics.WebhookMetrics
	Logger        *logger.Logger
	DedupTTL      time.Duration
	Clock         func() time.Time
}

type service struct {
	adapters      *gateways.Registry
	ledger        eventledger.Service
	invoices      invoices.Service
	subscriptions subscriptions.Service
	cashback      cashback.Service
	tx            txRunner
	cache         dedupCache
	notifier      notify.Notifier
	metrics       *metrics.WebhookMetrics
	logg          *logger.Logger
	dedupTTL      time.Duration
	now           func() time.Time
}

// NewService wires the reconciliation orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Adapters == nil {
		return nil, fmt.Errorf("gateway adapter registry required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("event ledger required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.Cashback == nil {
		return nil, fmt.Errorf("cashback service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		adapters:      params.Adapters,
		ledger:        params.Ledger,
		invoices:      params.Invoices,
		subscriptions: params.Subscriptions,
		cashback:      params.Cashback,
		tx:            params.Tx,
		cache:         params.Cache,
		notifier:      params.Notifier,
		metrics:       params.Metrics,
		logg:          params.Logger,
		dedupTTL:      params.DedupTTL,
		now:           now,
	}, nil
}

func (s *service) HandleWebhook(ctx context.Context, gateway enums.Gateway, header http.Header, body []byte) (*Receipt, error) {
	start := s.now()
	s.metrics.IncReceived(gateway.String())

	adapter, err := s.adapters.Resolve(gateway)
	if err != nil {
		s.metrics.IncRejected(gateway.String(), "unknown_gateway")
		return nil, err
	}

	if err := adapter.VerifySignature(header, body); err != nil {
		s.metrics.IncRejected(gateway.String(), "invalid_signature")
		return nil, err
	}

	event, err := adapter.Normalize(header, body)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotActionable {
			s.metrics.IncOutcome(gateway.String(), "not_actionable")
		} else {
			s.metrics.IncRejected(gateway.String(), "malformed_payload")
		}
		return nil, err
	}

	if s.seenInCache(ctx, event) {
		s.metrics.IncOutcome(gateway.String(), "cache_duplicate")
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "event "+event.ExternalEventID+" already processed")
	}

	receipt, err := s.ProcessEvent(ctx, event)
	s.metrics.ObserveProcessing(gateway.String(), s.now().Sub(start))
	return receipt, err
}

func (s *service) ProcessEvent(ctx context.Context, event *gateways.PaymentEvent) (*Receipt, error) {
	record, err := s.ledger.TryBegin(ctx, event)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeAlreadyProcessed {
			s.rememberInCache(ctx, event)
			s.metrics.IncOutcome(event.Gateway.String(), "ledger_duplicate")
		}
		return nil, err
	}

	receipt := &Receipt{Outcome: enums.EventOutcomeSuccess}
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		result, err := s.invoices.WithTx(tx).Transition(ctx, invoices.TransitionInput{
			Gateway:          event.Gateway,
			ExternalChargeID: event.ExternalChargeID,
			Kind:             event.Kind,
			OccurredAt:       event.OccurredAt,
			Card:             cardMetadata(event),
		})
		if err != nil {
			return err
		}

		if event.Kind == enums.PaymentEventChargeSucceeded && result.Applied {
			if _, err := s.subscriptions.WithTx(tx).Advance(ctx, result.Invoice); err != nil {
				return err
			}
			credits, err := s.cashback.WithTx(tx).CreditForInvoice(ctx, result.Invoice.ID)
			if err != nil {
				return err
			}
			receipt.Credits = credits
		}

		return s.ledger.WithTx(tx).Commit(ctx, record.ID, enums.EventOutcomeSuccess)
	})
	if txErr != nil {
		return s.settleFailure(ctx, event, record.ID, txErr)
	}

	s.rememberInCache(ctx, event)
	s.metrics.IncOutcome(event.Gateway.String(), enums.EventOutcomeSuccess.String())
	s.publishCredits(ctx, receipt.Credits)
	return receipt, nil
}

func (s *service) Reprocess(ctx context.Context, gateway enums.Gateway, externalEventID string) (*Receipt, error) {
	record, err := s.ledger.Reopen(ctx, gateway, externalEventID)
	if err != nil {
		return nil, err
	}

	event := &gateways.PaymentEvent{
		Gateway:          record.Gateway,
		ExternalEventID:  record.ExternalEventID,
		ExternalChargeID: record.ExternalChargeID,
		Kind:             record.Kind,
		OccurredAt:       record.ReceivedAt,
		RawPayload:       record.RawPayload,
	}
	s.forgetInCache(ctx, event)
	return s.ProcessEvent(ctx, event)
}

// settleFailure records the terminal outcome for acknowledgeable integrity
// failures and leaves transient failures uncommitted for the sweep or a
// gateway retry.
func (s *service) settleFailure(ctx context.Context, event *gateways.PaymentEvent, recordID uuid.UUID, cause error) (*Receipt, error) {
	outcome := enums.EventOutcomeError
	switch pkgerrors.CodeOf(cause) {
	case pkgerrors.CodeUnknownInvoice:
		outcome = enums.EventOutcomeUnknownInvoice
	case pkgerrors.CodeStateConflict:
		outcome = enums.EventOutcomeStateConflict
	}

	if err := s.ledger.Commit(ctx, recordID, outcome); err != nil && s.logg != nil {
		s.logg.Error(ctx, "failed to commit ledger outcome", err)
	}
	s.metrics.IncOutcome(event.Gateway.String(), outcome.String())

	if outcome == enums.EventOutcomeUnknownInvoice && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"gateway":            event.Gateway.String(),
			"external_charge_id": event.ExternalChargeID,
		})
		s.logg.Warn(logCtx, "event references no known invoice; flagged for manual reconciliation")
	}
	if outcome != enums.EventOutcomeError {
		s.rememberInCache(ctx, event)
	}
	return nil, cause
}

func (s *service) publishCredits(ctx context.Context, credits []cashback.Credit) {
	if s.notifier == nil {
		return
	}
	for _, credit := range credits {
		s.notifier.CashbackCredited(ctx, notify.CashbackCredited{
			TransactionID: credit.TransactionID,
			UserID:        credit.UserID,
			StoreID:       credit.StoreID,
			InvoiceID:     credit.InvoiceID,
			AmountCents:   credit.AmountCents,
			CreditedAt:    s.now().UTC(),
		})
	}
}

func (s *service) seenInCache(ctx context.Context, event *gateways.PaymentEvent) bool {
	if s.cache == nil {
		return false
	}
	key := s.cache.IdempotencyKey("gateway-event", event.Gateway.String()+":"+event.ExternalEventID)
	value, err := s.cache.Get(ctx, key)
	return err == nil && value != ""
}

func (s *service) rememberInCache(ctx context.Context, event *gateways.PaymentEvent) {
	if s.cache == nil || s.dedupTTL <= 0 {
		return
	}
	key := s.cache.IdempotencyKey("gateway-event", event.Gateway.String()+":"+event.ExternalEventID)
	if err := s.cache.Set(ctx, key, "1", s.dedupTTL); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "failed to record event in dedup cache")
	}
}

func (s *service) forgetInCache(ctx context.Context, event *gateways.PaymentEvent) {
	if s.cache == nil {
		return
	}
	key := s.cache.IdempotencyKey("gateway-event", event.Gateway.String()+":"+event.ExternalEventID)
	if err := s.cache.Del(ctx, key); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "failed to drop event from dedup cache")
	}
}

func cardMetadata(event *gateways.PaymentEvent) *invoices.CardMetadata {
	// Card display metadata only arrives on the card processor's payloads.
	if event.Gateway != enums.GatewayPagarme {
		return nil
	}
	brand, last4 := gateways.CardDetails(event.RawPayload)
	if brand == "" && last4 == "" {
		return nil
	}
	return &invoices.CardMetadata{Brand: brand, Last4: last4}
}

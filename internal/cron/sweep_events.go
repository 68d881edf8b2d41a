package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/fidelizapay/fideliza-backend/internal/eventledger"
	"github.com/fidelizapay/fideliza-backend/internal/gateways"
	"github.com/fidelizapay/fideliza-backend/internal/reconcile"
	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

const sweepBatchSize = 200

// SweepEventsJob replays ledger rows whose processing died mid-flight: a
// claim with no outcome, or one that ended in a transient error. The replay
// rebuilds the event from the stored payload and runs it through the normal
// pipeline, where the ledger's resume rule takes over.
type SweepEventsJob struct {
	ledger    eventledger.Service
	reconcile reconcile.Service
	cfg       config.ReconcileConfig
	logg      *logger.Logger
}

// SweepEventsJobParams configure the stuck-event sweep job.
type SweepEventsJobParams struct {
	Ledger    eventledger.Service
	Reconcile reconcile.Service
	Config    config.ReconcileConfig
	Logger    *logger.Logger
}

// NewSweepEventsJob wires the stuck-event sweep job.
func NewSweepEventsJob(params SweepEventsJobParams) (*SweepEventsJob, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("event ledger required")
	}
	if params.Reconcile == nil {
		return nil, fmt.Errorf("reconcile service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &SweepEventsJob{
		ledger:    params.Ledger,
		reconcile: params.Reconcile,
		cfg:       params.Config,
		logg:      params.Logger,
	}, nil
}

// Name identifies the job in logs and metrics.
func (j *SweepEventsJob) Name() string {
	return "gateway-event-sweep"
}

// Run replays one batch of stuck gateway events.
func (j *SweepEventsJob) Run(ctx context.Context) error {
	stuck, err := j.ledger.ListStuck(ctx, j.cfg.StuckAge, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("list stuck gateway events: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}
	j.logg.Info(j.logg.WithField(ctx, "count", len(stuck)), "replaying stuck gateway events")

	var errs error
	var replayed int
	for _, record := range stuck {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := j.replay(ctx, record); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("event %s/%s: %w", record.Gateway, record.ExternalEventID, err))
			continue
		}
		replayed++
	}

	j.logg.Info(j.logg.WithField(ctx, "replayed", replayed), "stuck event sweep finished")
	return errs
}

func (j *SweepEventsJob) replay(ctx context.Context, record models.GatewayEvent) error {
	event := &gateways.PaymentEvent{
		Gateway:          record.Gateway,
		ExternalEventID:  record.ExternalEventID,
		ExternalChargeID: record.ExternalChargeID,
		Kind:             record.Kind,
		OccurredAt:       record.ReceivedAt,
		RawPayload:       record.RawPayload,
	}

	_, err := j.reconcile.ProcessEvent(ctx, event)
	if err != nil && pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).Acknowledge {
		// A concurrent webhook retry finished it first, or the conflict is
		// already committed as this event's terminal outcome.
		return nil
	}
	return err
}

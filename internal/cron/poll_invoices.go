package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/fidelizapay/fideliza-backend/internal/gateways"
	"github.com/fidelizapay/fideliza-backend/internal/invoices"
	"github.com/fidelizapay/fideliza-backend/internal/reconcile"
	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// PollInvoicesJob is the safety net behind webhooks: it asks each gateway for
// the status of invoices that stayed pending past the configured age and
// feeds settled answers through the same pipeline a webhook would take.
type PollInvoicesJob struct {
	invoices  invoices.Service
	statuses  map[enums.Gateway]gateways.StatusClient
	reconcile reconcile.Service
	cfg       config.ReconcileConfig
	logg      *logger.Logger
}

// PollInvoicesJobParams configure the pending-invoice poll job.
type PollInvoicesJobParams struct {
	Invoices  invoices.Service
	Statuses  map[enums.Gateway]gateways.StatusClient
	Reconcile reconcile.Service
	Config    config.ReconcileConfig
	Logger    *logger.Logger
}

// NewPollInvoicesJob wires the pending-invoice poll job.
func NewPollInvoicesJob(params PollInvoicesJobParams) (*PollInvoicesJob, error) {
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if params.Reconcile == nil {
		return nil, fmt.Errorf("reconcile service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &PollInvoicesJob{
		invoices:  params.Invoices,
		statuses:  params.Statuses,
		reconcile: params.Reconcile,
		cfg:       params.Config,
		logg:      params.Logger,
	}, nil
}

// Name identifies the job in logs and metrics.
func (j *PollInvoicesJob) Name() string {
	return "invoice-poll-reconcile"
}

// Run polls one batch of stale pending invoices.
func (j *PollInvoicesJob) Run(ctx context.Context) error {
	pending, err := j.invoices.ListPendingOlderThan(ctx, j.cfg.PendingAge, j.cfg.PollBatchSize)
	if err != nil {
		return fmt.Errorf("list pending invoices: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	j.logg.Info(j.logg.WithField(ctx, "count", len(pending)), "polling stale pending invoices")

	var errs error
	var settled, skipped int
	for _, invoice := range pending {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		applied, err := j.pollOne(ctx, invoice)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invoice %s: %w", invoice.ID, err))
			continue
		}
		if applied {
			settled++
		} else {
			skipped++
		}
	}

	doneCtx := j.logg.WithFields(ctx, map[string]any{
		"settled": settled,
		"skipped": skipped,
	})
	j.logg.Info(doneCtx, "pending invoice poll finished")
	return errs
}

func (j *PollInvoicesJob) pollOne(ctx context.Context, invoice models.Invoice) (bool, error) {
	client, ok := j.statuses[invoice.Gateway]
	if !ok {
		// No status API configured for this provider; webhooks remain the
		// only settlement source.
		j.logg.Debug(j.logg.WithGateway(ctx, invoice.Gateway.String()), "no status API for gateway; skipping invoice")
		return false, nil
	}
	if invoice.ExternalChargeID == nil {
		return false, nil
	}

	status, err := j.fetchStatus(ctx, client, *invoice.ExternalChargeID)
	if err != nil {
		return false, err
	}
	if !status.Settled {
		return false, nil
	}

	event, err := gateways.SynthesizeEvent(status)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotActionable {
			return false, nil
		}
		return false, err
	}

	_, err = j.reconcile.ProcessEvent(ctx, event)
	if err != nil {
		// Outcomes the ledger already settled, or integrity conflicts a
		// retry cannot fix, are not poll failures.
		if pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).Acknowledge {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (j *PollInvoicesJob) fetchStatus(ctx context.Context, client gateways.StatusClient, chargeID string) (*gateways.ChargeStatus, error) {
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))

	var status *gateways.ChargeStatus
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, j.cfg.StatusTimeout)
		defer cancel()

		result, err := client.GetChargeStatus(callCtx, chargeID)
		if err != nil {
			if pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).Retryable {
				return retry.RetryableError(err)
			}
			return err
		}
		status = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

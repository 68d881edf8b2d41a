package cron

import (
	"context"
	"fmt"

	"github.com/fidelizapay/fideliza-backend/internal/eventledger"
	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// RetentionJob prunes processed ledger rows past the audit window.
// Unprocessed rows are never touched; they stay visible to the sweep.
type RetentionJob struct {
	ledger eventledger.Service
	cfg    config.ReconcileConfig
	logg   *logger.Logger
}

// RetentionJobParams configure the ledger retention job.
type RetentionJobParams struct {
	Ledger eventledger.Service
	Config config.ReconcileConfig
	Logger *logger.Logger
}

// NewRetentionJob wires the ledger retention job.
func NewRetentionJob(params RetentionJobParams) (*RetentionJob, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("event ledger required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &RetentionJob{ledger: params.Ledger, cfg: params.Config, logg: params.Logger}, nil
}

// Name identifies the job in logs and metrics.
func (j *RetentionJob) Name() string {
	return "gateway-event-retention"
}

// Run deletes processed ledger rows older than the audit retention window.
func (j *RetentionJob) Run(ctx context.Context) error {
	deleted, err := j.ledger.PruneProcessed(ctx, j.cfg.AuditRetention)
	if err != nil {
		return fmt.Errorf("prune processed gateway events: %w", err)
	}
	if deleted > 0 {
		j.logg.Info(j.logg.WithField(ctx, "deleted", deleted), "pruned processed gateway events")
	}
	return nil
}

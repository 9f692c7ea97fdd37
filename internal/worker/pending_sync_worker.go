package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_ticketing/internal/models"
)

// PendingSyncer reconciles every pending payment.
type PendingSyncer interface {
	RunPendingSync(ctx context.Context, batchSize, scanPageSize int) (*models.SyncReport, error)
}

// PendingSyncWorker periodically reconciles pending payments against the gateway,
// for deployments without an external cron hitting /payments/cron/sync-pending.
type PendingSyncWorker struct {
	syncer   PendingSyncer
	interval time.Duration
}

// NewPendingSyncWorker constructs a PendingSyncWorker.
func NewPendingSyncWorker(syncer PendingSyncer, interval time.Duration) *PendingSyncWorker {
	return &PendingSyncWorker{
		syncer:   syncer,
		interval: interval,
	}
}

// Start begins the periodic sync loop until context is canceled. The first pass runs
// after one interval so the HTTP server is listening for the batch sub-requests.
func (w *PendingSyncWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting pending sync worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-ctx.Done():
			log.Info().Msg("Pending sync worker stopped")
			return
		}
	}
}

func (w *PendingSyncWorker) run(ctx context.Context) {
	start := time.Now()
	report, err := w.syncer.RunPendingSync(ctx, 0, 0)
	if err != nil {
		log.Error().Err(err).Msg("Pending payment sync failed")
		return
	}
	if report.Totals.Registrations == 0 {
		return
	}

	log.Info().
		Int("registrations", report.Totals.Registrations).
		Int("successful", report.Totals.Successful).
		Int("failed", report.Totals.Failed).
		Int("batches", len(report.Batches)).
		Int("processed_batches", report.ProcessedBatches).
		Dur("duration", time.Since(start)).
		Msg("Pending payment sync completed")
}

package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// processRefillSweepJob runs the cycle sweep over every due allocation. The
// sweep itself isolates per-account failures; the job only fails on a
// store-level error that stopped the run.
func (q *Queue) processRefillSweepJob(ctx context.Context, job *Job) error {
	stats, err := q.service.SweepAll(ctx)
	if err != nil {
		return fmt.Errorf("sweep aborted after %d accounts: %w", stats.Scanned, err)
	}
	log.Infof("[JobQueue] Sweep complete: scanned=%d refilled=%d failed=%d", stats.Scanned, stats.Refilled, stats.Failed)
	return nil
}

// processTierReconcileJob re-resolves one account's tier and applies a
// transition when the stored allocation disagrees.
func (q *Queue) processTierReconcileJob(ctx context.Context, job *Job) error {
	payload, err := TierReconcileJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid tier reconcile payload: %w", err)
	}
	if payload.AccountID == 0 {
		return fmt.Errorf("tier reconcile payload missing account_id")
	}

	changed, err := q.service.Reconcile(ctx, payload.AccountID)
	if err != nil {
		return err
	}
	if changed {
		log.Infof("[JobQueue] Reconciled tier for account %d (trigger=%s)", payload.AccountID, payload.Trigger)
	}
	return nil
}

// Package reconciler runs the periodic sweep that re-announces queued
// transfers to receivers that have come back online.
package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/logging"
	sc "github.com/peerdrop/peerdrop/internal/server/config"
	"github.com/peerdrop/peerdrop/internal/server/models"
	"github.com/peerdrop/peerdrop/internal/server/repositories/repomanager"
)

// Notifier delivers a transfer_ready announcement to the receiver.
type Notifier interface {
	NotifyReady(ctx context.Context, t *models.Transfer) error
}

// Reconciler periodically scans ready transfers that were never announced
// and notifies their receivers. It only ever writes the notified marker;
// the delivered transition stays with the receiver's acknowledgment.
type Reconciler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    Notifier
	config      *sc.Config
	logger      logging.Logger

	// runGuard keeps sweeps from overlapping when one pass outlives the
	// tick interval.
	runGuard sync.Mutex

	// now is a seam for tests.
	now func() time.Time
}

func New(db *sql.DB, rm repomanager.RepositoryManager, notifier Notifier,
	config *sc.Config, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		repomanager: rm,
		notifier:    notifier,
		config:      config,
		logger:      logger.With("module", "reconciler"),
		now:         time.Now,
	}
}

// Run sweeps on every tick until ctx is canceled. Cancellation stops the
// loop but an in-flight sweep always finishes its pass.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	r.logger.Info(ctx, "reconciler started", "interval", r.config.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(context.WithoutCancel(ctx), "reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(context.WithoutCancel(ctx)); err != nil {
				r.logger.Error(context.WithoutCancel(ctx), "sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass and reports how many receivers were
// notified. An overlapping invocation is skipped, not queued. Per-record
// failures are isolated: an unreachable or faulty receiver leaves its record
// unannounced for the next pass and never stops the sweep.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	if !r.runGuard.TryLock() {
		r.logger.Debug(ctx, "sweep already running, skipping")
		return 0, nil
	}
	defer r.runGuard.Unlock()

	repo := r.repomanager.Transfers(r.db)

	pending, err := repo.ListUnnotified(ctx, r.config.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, t := range pending {
		if err := r.notifier.NotifyReady(ctx, t); err != nil {
			if errors.Is(err, common.ErrPeerUnreachable) {
				r.logger.Debug(ctx, "receiver still offline", "transfer_id", t.ID, "receiver", t.ReceiverID)
			} else {
				r.logger.Warn(ctx, "notify failed", "transfer_id", t.ID, "receiver", t.ReceiverID, "error", err)
			}
			continue
		}

		// Marking after the push keeps the marker honest: a crash between
		// the two at worst re-announces, which the receiver tolerates.
		if err := repo.MarkNotified(ctx, t.ID, r.now().UTC()); err != nil {
			r.logger.Warn(ctx, "marking notified failed", "transfer_id", t.ID, "error", err)
			continue
		}
		notified++
	}

	if notified > 0 {
		r.logger.Info(ctx, "sweep finished", "notified", notified, "scanned", len(pending))
	}
	return notified, nil
}

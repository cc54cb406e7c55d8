/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically replays every customer's ledger and compares the result with
  the stored snapshot. Drift is logged and, when Repair is set, fixed.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each pass is recorded as a ReconciliationRun for audit and UI display

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Repair:        Write replayed snapshots for drifted customers
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(reconciler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReconciliation endpoint (manual reconciliation)
  - ledger/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/cylinder-ledger/ledger"
)

// ReconciliationScheduler runs ReconcileAll on a ticker.
type ReconciliationScheduler struct {
	Reconciler    *ledger.Reconciler
	Logger        *logrus.Logger
	CheckInterval time.Duration
	Repair        bool
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(reconciler *ledger.Reconciler, logger *logrus.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReconciliationScheduler{
		Reconciler:    reconciler,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("reconciliation scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Logger.WithFields(logrus.Fields{
		"interval": rs.CheckInterval.String(),
		"repair":   rs.Repair,
	}).Info("reconciliation scheduler started")
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.cancel()
	rs.wg.Wait()
	rs.ticker = nil
	rs.Logger.Info("reconciliation scheduler stopped")
}

func (rs *ReconciliationScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) checkAndProcess(ctx context.Context) *ledger.ReconciliationRun {
	run, err := rs.Reconciler.ReconcileAll(ctx, rs.Repair)
	if err != nil {
		rs.Logger.Error("reconciliation pass failed: " + err.Error())
		return run
	}

	entry := rs.Logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"checked":  run.Checked,
		"drifted":  len(run.Drifted),
		"repaired": len(run.Repaired),
	})
	if len(run.Drifted) > 0 && !rs.Repair {
		entry.Warn("reconciliation found drifted customers")
	} else {
		entry.Info("reconciliation pass completed")
	}
	return run
}

// RunNow triggers an immediate pass (for testing/admin).
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) *ledger.ReconciliationRun {
	return rs.checkAndProcess(ctx)
}

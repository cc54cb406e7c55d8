/*
reconcile.go - Replay-based snapshot repair

PURPOSE:
  The ledger is the source of truth. A customer's snapshot is correct when it
  equals Fold(customer's transactions). Reconciliation recomputes that fold
  and, when the stored snapshot disagrees, overwrites it.

WHEN IT RUNS:
  - After an InconsistencyError from the two-phase Recorder path
  - On demand via the API
  - Periodically from the api scheduler (verify-only unless repair is enabled)
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Drift compares a stored snapshot with the ledger replay.
type Drift struct {
	CustomerID  CustomerID
	Stored      Snapshot
	Replayed    Snapshot
	Count       int
	ChainBreaks []TransactionID
}

// InSync reports whether the stored snapshot matches the replay.
func (d Drift) InSync() bool { return d.Stored.Equal(d.Replayed) }

// Reconciler verifies and repairs customer snapshots.
type Reconciler struct {
	Store  Store
	Locker Locker
	Clock  Clock
	Logger *logrus.Logger
	// Runs is optional; when set ReconcileAll persists each run.
	Runs RunLog
}

func NewReconciler(store Store, locker Locker, clock Clock, logger *logrus.Logger) *Reconciler {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Reconciler{Store: store, Locker: locker, Clock: clock, Logger: logger}
	if runs, ok := store.(RunLog); ok {
		r.Runs = runs
	}
	return r
}

// Verify replays a customer's ledger without writing anything.
func (r *Reconciler) Verify(ctx context.Context, id CustomerID) (*Drift, error) {
	_, drift, err := r.drift(ctx, id)
	return drift, err
}

func (r *Reconciler) drift(ctx context.Context, id CustomerID) (*Customer, *Drift, error) {
	customer, err := r.Store.GetCustomer(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	txs, err := r.Store.LoadByCustomer(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	replay := Fold(id, txs)
	return customer, &Drift{
		CustomerID:  id,
		Stored:      customer.Snapshot(),
		Replayed:    replay.Snapshot,
		Count:       replay.Count,
		ChainBreaks: replay.ChainBreaks,
	}, nil
}

// Reconcile replays a customer's ledger under the customer lock and writes the
// replayed snapshot if it differs from the stored one. The returned Drift
// describes the state found before any repair.
func (r *Reconciler) Reconcile(ctx context.Context, id CustomerID) (*Drift, error) {
	unlock, err := r.Locker.Lock(ctx, CustomerLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockNotObtained, err)
	}
	defer unlock()

	customer, drift, err := r.drift(ctx, id)
	if err != nil {
		return nil, err
	}
	if drift.InSync() {
		return drift, nil
	}
	if err := r.Store.SaveSnapshot(ctx, drift.Replayed, customer.Version); err != nil {
		return nil, err
	}
	r.Logger.WithFields(logrus.Fields{
		"customer_id":      id,
		"stored_balance":   drift.Stored.Balance.String(),
		"replayed_balance": drift.Replayed.Balance.String(),
		"stored_gas":       drift.Stored.GasOnHand,
		"replayed_gas":     drift.Replayed.GasOnHand,
	}).Warn("customer snapshot repaired from ledger")
	return drift, nil
}

// ReconcileAll verifies every customer and, when repair is set, fixes those
// that drifted. Per-customer failures are recorded on the run, not returned.
func (r *Reconciler) ReconcileAll(ctx context.Context, repair bool) (*ReconciliationRun, error) {
	run := ReconciliationRun{
		ID:        uuid.NewString(),
		StartedAt: r.Clock.Now(),
		Repair:    repair,
	}

	customers, err := r.Store.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}

	var failures int
	for _, c := range customers {
		var drift *Drift
		if repair {
			drift, err = r.Reconcile(ctx, c.ID)
		} else {
			drift, err = r.Verify(ctx, c.ID)
		}
		if err != nil {
			failures++
			r.Logger.WithField("customer_id", c.ID).Error("reconciliation failed: " + err.Error())
			continue
		}
		run.Checked++
		if !drift.InSync() {
			run.Drifted = append(run.Drifted, c.ID)
			if repair {
				run.Repaired = append(run.Repaired, c.ID)
			}
		}
	}
	if failures > 0 {
		run.Error = fmt.Sprintf("%d customers could not be reconciled", failures)
	}
	run.FinishedAt = r.Clock.Now()

	if r.Runs != nil {
		if err := r.Runs.SaveRun(ctx, run); err != nil {
			return &run, err
		}
	}
	return &run, nil
}

/*
recorder.go - Unit of work for recording a sale or payment

FLOW:
  1. Validate input (no store access)
  2. Lock the customer
  3. Reject duplicate idempotency keys
  4. Read snapshot → Build → Append → SaveSnapshot

ATOMIC PATH (store implements TxStore):
  Step 4 runs inside WithTx. Any failure rolls back both writes. Version
  conflicts and transaction-id collisions are retried with a fresh read.
  After a collision the id allocator is moved past the store's highest id,
  so replicas sharing one store do not exhaust the retries.

TWO-PHASE PATH (plain Store):
  Append failure aborts before the snapshot is touched. A snapshot failure
  after a successful append returns *InconsistencyError; the ledger is kept
  and Reconciler.Reconcile repairs the snapshot by replay.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

const maxRecordAttempts = 3

// RecordResult is what a successful Record returns.
type RecordResult struct {
	Transaction Transaction
	// Before is the customer as read when the transaction was built; receipts
	// use it.
	Before Customer
	After  Customer
}

// Recorder ties the ledger append and the snapshot update together.
type Recorder struct {
	Store    Store
	Products Catalog[Product]
	Routes   Catalog[Route]
	Builder  *Builder
	Locker   Locker
	Logger   *logrus.Logger
}

func NewRecorder(store Store, products Catalog[Product], routes Catalog[Route], builder *Builder, locker Locker, logger *logrus.Logger) *Recorder {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{
		Store:    store,
		Products: products,
		Routes:   routes,
		Builder:  builder,
		Locker:   locker,
		Logger:   logger,
	}
}

// Record validates, persists and projects one transaction.
func (r *Recorder) Record(ctx context.Context, in TransactionInput) (*RecordResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	unlock, err := r.Locker.Lock(ctx, CustomerLockKey(in.CustomerID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockNotObtained, err)
	}
	defer unlock()

	if in.IdempotencyKey != "" {
		exists, err := r.Store.Exists(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateIdempotencyKey
		}
	}

	route, product, err := r.resolveCatalog(ctx, in)
	if err != nil {
		return nil, err
	}

	var result *RecordResult
	if txStore, ok := r.Store.(TxStore); ok {
		for attempt := 1; ; attempt++ {
			var attempted TransactionID
			err = txStore.WithTx(ctx, func(s Store) error {
				tx, res, err := r.apply(ctx, s, in, route, product)
				attempted = tx.ID
				if err != nil {
					return err
				}
				result = res
				return nil
			})
			if err == nil || attempt >= maxRecordAttempts || !IsRetryable(err) {
				break
			}
			if errors.Is(err, ErrDuplicateTransactionID) {
				r.catchUpIDs(ctx, attempted)
			}
			r.Logger.WithFields(logrus.Fields{
				"customer_id": in.CustomerID,
				"attempt":     attempt,
			}).Warn("retrying transaction after conflict: " + err.Error())
		}
	} else {
		result, err = r.recordTwoPhase(ctx, in, route, product)
	}
	if err != nil {
		return nil, err
	}

	r.Logger.WithFields(logrus.Fields{
		"customer_id":    result.Transaction.CustomerID,
		"transaction_id": result.Transaction.ID,
		"type":           result.Transaction.Type,
		"total_balance":  result.Transaction.TotalBalance.String(),
		"gas_on_hand":    result.After.CurrentGasOnHand,
	}).Info("transaction recorded")
	return result, nil
}

// catchUpIDs moves the allocator past a transaction id that another process
// already wrote. The store's highest id is preferred so a burst of ids from
// the other process costs one retry, not one per id.
func (r *Recorder) catchUpIDs(ctx context.Context, clashed TransactionID) {
	ids := r.Builder.IDs
	ids.Observe(clashed)

	reader, ok := r.Store.(TransactionIDReader)
	if !ok {
		return
	}
	latest, err := reader.MaxTransactionID(ctx, ids.Prefix)
	if err != nil {
		r.Logger.WithError(err).Warn("could not read highest transaction id")
		return
	}
	if latest != "" {
		ids.Observe(latest)
	}
}

// apply runs the read-build-append-save sequence against s. The built
// transaction is returned even when a later step fails.
func (r *Recorder) apply(ctx context.Context, s Store, in TransactionInput, route *Route, product *Product) (Transaction, *RecordResult, error) {
	customer, err := s.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		return Transaction{}, nil, err
	}
	tx, snap, err := r.Builder.Build(in, customer, route, product)
	if err != nil {
		return Transaction{}, nil, err
	}
	if err := s.Append(ctx, tx); err != nil {
		return tx, nil, err
	}
	if err := s.SaveSnapshot(ctx, snap, customer.Version); err != nil {
		return tx, nil, err
	}
	return tx, newResult(tx, customer, snap), nil
}

func (r *Recorder) recordTwoPhase(ctx context.Context, in TransactionInput, route *Route, product *Product) (*RecordResult, error) {
	var (
		customer *Customer
		tx       Transaction
		snap     Snapshot
	)
	for attempt := 1; ; attempt++ {
		c, err := r.Store.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return nil, err
		}
		tx, snap, err = r.Builder.Build(in, c, route, product)
		if err != nil {
			return nil, err
		}
		err = r.Store.Append(ctx, tx)
		if err == nil {
			customer = c
			break
		}
		if attempt >= maxRecordAttempts || !errors.Is(err, ErrDuplicateTransactionID) {
			return nil, err
		}
		r.catchUpIDs(ctx, tx.ID)
	}

	if err := r.Store.SaveSnapshot(ctx, snap, customer.Version); err != nil {
		inc := &InconsistencyError{CustomerID: customer.ID, TransactionID: tx.ID, Err: err}
		r.Logger.WithFields(logrus.Fields{
			"customer_id":    customer.ID,
			"transaction_id": tx.ID,
		}).Error(inc.Error())
		return nil, inc
	}
	return newResult(tx, customer, snap), nil
}

func newResult(tx Transaction, before *Customer, snap Snapshot) *RecordResult {
	after := before.WithSnapshot(snap)
	after.Version = before.Version + 1
	return &RecordResult{Transaction: tx, Before: *before, After: after}
}

// resolveCatalog loads the route and, for sales, the product. Catalog records
// are read-only to the engine so they are read outside the unit of work.
func (r *Recorder) resolveCatalog(ctx context.Context, in TransactionInput) (*Route, *Product, error) {
	route, err := r.Routes.Get(ctx, string(in.RouteID))
	if err != nil {
		return nil, nil, err
	}
	if in.Type != TxSale {
		return route, nil, nil
	}
	product, err := r.Products.Get(ctx, string(in.ProductID))
	if err != nil {
		return nil, nil, err
	}
	return route, product, nil
}

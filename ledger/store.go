/*
store.go - Persistence interfaces for the ledger and account snapshots

KEY INTERFACES:
  LedgerStore:  Append-only transaction log
  AccountStore: Customer records and their snapshots (versioned writes)
  Store:        Both of the above
  TxStore:      Store with an atomic unit of work
  Catalog[T]:   Read-only {Get, List} access to products and routes
  RunLog:       Optional history of reconciliation runs
  TransactionIDReader: Optional highest-id lookup for allocator catch-up

APPEND-ONLY CONTRACT:
  LedgerStore has exactly one write: Append. There is no Update or Delete.

ATOMICITY:
  A store that implements TxStore lets the Recorder commit the ledger append
  and the snapshot update together. Stores without it get the two-phase path
  with InconsistencyError reporting and replay repair.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE - Append-only
// =============================================================================

// LedgerStore persists transactions.
// IMPORTANT: append-only. No Update, No Delete.
type LedgerStore interface {
	// Append persists a transaction. Returns ErrDuplicateTransactionID or
	// ErrDuplicateIdempotencyKey on uniqueness violations.
	Append(ctx context.Context, tx Transaction) error

	// GetTransaction returns ErrTransactionNotFound if the id is unknown.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// LoadByCustomer returns a customer's transactions ordered by Timestamp, then ID.
	LoadByCustomer(ctx context.Context, customerID CustomerID) ([]Transaction, error)

	// LoadRange returns all transactions whose Date falls in r, chronologically.
	LoadRange(ctx context.Context, r DateRange) ([]Transaction, error)

	// Exists checks whether an idempotency key was already recorded.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TransactionIDReader is implemented by stores that can report the highest
// transaction id issued under a prefix. After an id collision the Recorder
// uses it to move its allocator past ids written by other processes.
type TransactionIDReader interface {
	// MaxTransactionID returns "" when no id has the prefix.
	MaxTransactionID(ctx context.Context, prefix string) (TransactionID, error)
}

// =============================================================================
// ACCOUNT STORE - Customer snapshots
// =============================================================================

type AccountStore interface {
	// GetCustomer returns ErrCustomerNotFound if the id is unknown.
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)

	ListCustomers(ctx context.Context) ([]Customer, error)

	// MaxCustomerID returns the numerically largest id, or "" when there are none.
	MaxCustomerID(ctx context.Context) (CustomerID, error)

	// InsertCustomer returns ErrDuplicateCustomerID if the id is taken.
	InsertCustomer(ctx context.Context, c Customer) error

	// UpdateProfile replaces profile fields and the credential code only.
	UpdateProfile(ctx context.Context, c Customer) error

	// SaveSnapshot writes balance, gas on hand and last purchase date if the
	// stored version equals expectedVersion, then bumps the version.
	// Returns ErrConcurrentModification otherwise.
	SaveSnapshot(ctx context.Context, s Snapshot, expectedVersion int64) error
}

// Store is everything the Recorder needs.
type Store interface {
	LedgerStore
	AccountStore
}

// TxStore wraps Store with a unit of work.
type TxStore interface {
	Store

	// WithTx executes fn atomically. If fn returns an error nothing it wrote
	// is kept.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CATALOG - Injected read capability
// =============================================================================

// Catalog is read-only access to catalog records by id.
// Get returns the record's not-found sentinel when the id is unknown.
type Catalog[T any] interface {
	Get(ctx context.Context, id string) (*T, error)
	List(ctx context.Context) ([]T, error)
}

// =============================================================================
// RUN LOG - Reconciliation history
// =============================================================================

// ReconciliationRun records one pass of ReconcileAll.
type ReconciliationRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Repair     bool
	Checked    int
	Drifted    []CustomerID
	Repaired   []CustomerID
	Error      string
}

type RunLog interface {
	SaveRun(ctx context.Context, run ReconciliationRun) error
	ListRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)
}

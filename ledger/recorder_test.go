package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cylinder-ledger/ledger"
	"github.com/warp/cylinder-ledger/ledger/store"
)

var errDiskFull = errors.New("disk full")

// failingAppend rejects every ledger append.
type failingAppend struct {
	*store.Memory
}

func (failingAppend) Append(context.Context, ledger.Transaction) error { return errDiskFull }

// =============================================================================
// ATOMIC PATH
// =============================================================================

func TestRecord_SaleThenPayment(t *testing.T) {
	ctx := context.Background()
	f, _ := newAtomicFixture(t)
	c := f.createCustomer(t, "Ravi Kumar", "9876543210")

	// WHEN: a sale and then a payment are recorded
	res, err := f.recorder.Record(ctx, sale(c.ID, 2, 0, "150"))
	require.NoError(t, err)
	assert.True(t, res.Transaction.TotalBalance.Equal(dec("50")))
	assert.True(t, res.Before.CurrentBalance.IsZero())
	assert.True(t, res.After.CurrentBalance.Equal(dec("50")))
	assert.Equal(t, int64(2), res.After.CurrentGasOnHand)

	f.clock.Advance(time.Minute)
	res, err = f.recorder.Record(ctx, payment(c.ID, "80"))
	require.NoError(t, err)

	// THEN: the chain links and the snapshot equals the replay
	assert.True(t, res.Transaction.PreviousBalance.Equal(dec("50")))
	assert.True(t, res.Transaction.TotalBalance.Equal(dec("-30")))

	stored, err := f.store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentBalance.Equal(dec("-30")))
	assert.Equal(t, int64(2), stored.CurrentGasOnHand)
	assert.Equal(t, int64(2), stored.Version)
	require.NotNil(t, stored.LastPurchaseDate)
	assertReplayMatches(t, f.store, c.ID)
}

func TestRecord_AtomicRollback(t *testing.T) {
	ctx := context.Background()
	f, mem := newAtomicFixture(t)
	c := f.createCustomer(t, "Ravi Kumar", "9876543210")

	// GIVEN: snapshot writes fail
	mem.FailSnapshot = func(ledger.Snapshot) error { return errDiskFull }

	// WHEN
	_, err := f.recorder.Record(ctx, sale(c.ID, 1, 0, "0"))

	// THEN: the error surfaces and the ledger append was rolled back
	require.ErrorIs(t, err, errDiskFull)
	txs, err := f.store.LoadByCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)

	stored, err := f.store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentBalance.IsZero())
	assert.Zero(t, stored.Version)
}

// =============================================================================
// TWO-PHASE PATH
// =============================================================================

func TestRecord_TwoPhaseInconsistencyThenRepair(t *testing.T) {
	ctx := context.Background()
	f, mem := newTwoPhaseFixture(t)
	c := f.createCustomer(t, "Ravi Kumar", "9876543210")

	// GIVEN: the snapshot write after a successful append fails
	mem.FailSnapshot = func(ledger.Snapshot) error { return errDiskFull }

	// WHEN
	_, err := f.recorder.Record(ctx, sale(c.ID, 3, 0, "100"))

	// THEN: the caller learns exactly which transaction diverged
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrSnapshotDiverged)
	assert.ErrorIs(t, err, errDiskFull)
	var inc *ledger.InconsistencyError
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, c.ID, inc.CustomerID)

	// AND: the ledger holds the transaction, the snapshot does not reflect it
	txs, err := f.store.LoadByCustomer(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, inc.TransactionID, txs[0].ID)

	stored, err := f.store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentBalance.IsZero())
	assert.Zero(t, stored.CurrentGasOnHand)

	drift, err := f.reconciler.Verify(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, drift.InSync())

	// WHEN: the store recovers and the customer is reconciled
	mem.FailSnapshot = nil
	drift, err = f.reconciler.Reconcile(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, drift.Replayed.Balance.Equal(dec("200")))

	// THEN
	stored, err = f.store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentBalance.Equal(dec("200")))
	assert.Equal(t, int64(3), stored.CurrentGasOnHand)
	assertReplayMatches(t, f.store, c.ID)

	// AND: later transactions chain from the repaired balance
	f.clock.Advance(time.Minute)
	res, err := f.recorder.Record(ctx, payment(c.ID, "200"))
	require.NoError(t, err)
	assert.True(t, res.Transaction.PreviousBalance.Equal(dec("200")))
	assert.True(t, res.After.CurrentBalance.IsZero())
	assertReplayMatches(t, f.store, c.ID)
}

func TestRecord_AppendFailureLeavesSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFixture(t, failingAppend{mem})
	c := f.createCustomer(t, "Ravi Kumar", "9876543210")

	_, err := f.recorder.Record(ctx, sale(c.ID, 1, 0, "0"))
	require.ErrorIs(t, err, errDiskFull)
	assert.NotErrorIs(t, err, ledger.ErrSnapshotDiverged)

	stored, err := mem.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Version, "snapshot never written")
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRecord_ConcurrentSameCustomer(t *testing.T) {
	for _, tc := range []struct {
		name string
		st   func() backend
	}{
		{"atomic", func() backend { return store.NewTxMemory() }},
		{"two-phase", func() backend { return store.NewMemory() }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tc.st())
			c := f.createCustomer(t, "Ravi Kumar", "9876543210")

			const n = 20
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.recorder.Record(ctx, sale(c.ID, 1, 0, "0"))
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			// No lost update: every sale of 100 is in the balance.
			stored, err := f.store.GetCustomer(ctx, c.ID)
			require.NoError(t, err)
			assert.True(t, stored.CurrentBalance.Equal(dec("2000")), "balance %s", stored.CurrentBalance)
			assert.Equal(t, int64(n), stored.CurrentGasOnHand)
			assertReplayMatches(t, f.store, c.ID)
		})
	}
}

// =============================================================================
// SHARED STORE
// =============================================================================

// plainStore hides every optional capability of the wrapped store.
type plainStore struct {
	ledger.Store
}

// otherProcess returns a recorder on the same store and clock with its own id
// allocator, as a second server replica would have.
func (f *fixture) otherProcess(st ledger.Store) *ledger.Recorder {
	builder := ledger.NewBuilder(ledger.NewTransactionIDs("TBG", f.clock), time.UTC)
	return ledger.NewRecorder(st, f.store.Products(), f.store.Routes(), builder, nil, quietLogger())
}

func TestRecord_SecondAllocatorCatchesUp(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *fixture
	}{
		{"atomic", func(t *testing.T) *fixture { f, _ := newAtomicFixture(t); return f }},
		{"two-phase", func(t *testing.T) *fixture { f, _ := newTwoPhaseFixture(t); return f }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: one process recorded a burst of sales inside one second
			ctx := context.Background()
			f := tt.setup(t)
			c := f.createCustomer(t, "Ravi Kumar", "9876543210")
			for i := 0; i < 4; i++ {
				_, err := f.recorder.Record(ctx, sale(c.ID, 1, 0, "0"))
				require.NoError(t, err)
			}

			// WHEN: another process with a fresh allocator records a sale
			other := f.otherProcess(f.store)
			res, err := other.Record(ctx, sale(c.ID, 1, 0, "0"))

			// THEN: it lands after the burst
			require.NoError(t, err)
			assert.Equal(t, ledger.TransactionID("TBG20240315103049"), res.Transaction.ID)

			// AND: the first process also moves past the other's id
			res, err = f.recorder.Record(ctx, sale(c.ID, 1, 0, "0"))
			require.NoError(t, err)
			assert.Equal(t, ledger.TransactionID("TBG20240315103050"), res.Transaction.ID)

			stored, err := f.store.GetCustomer(ctx, c.ID)
			require.NoError(t, err)
			assert.True(t, stored.CurrentBalance.Equal(dec("600")))
			assert.Equal(t, int64(6), stored.CurrentGasOnHand)
			assertReplayMatches(t, f.store, c.ID)
		})
	}
}

func TestRecord_CatchUpWithoutMaxLookup(t *testing.T) {
	ctx := context.Background()
	f, mem := newTwoPhaseFixture(t)
	c := f.createCustomer(t, "Ravi Kumar", "9876543210")
	for i := 0; i < 2; i++ {
		_, err := f.recorder.Record(ctx, sale(c.ID, 1, 0, "0"))
		require.NoError(t, err)
	}

	// Each collision moves the allocator past the clashing id.
	other := f.otherProcess(plainStore{mem})
	res, err := other.Record(ctx, sale(c.ID, 1, 0, "0"))
	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionID("TBG20240315103047"), res.Transaction.ID)
	assertReplayMatches(t, f.store, c.ID)
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestRecord_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f, _ := newAtomicFixture(t)
	c := f.createCustomer(t, "Ravi Kumar", "9876543210")

	in := payment(c.ID, "50")
	in.IdempotencyKey = "form-7f3a"

	_, err := f.recorder.Record(ctx, in)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	_, err = f.recorder.Record(ctx, in)
	require.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	assert.True(t, ledger.IsConflict(err))

	txs, err := f.store.LoadByCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestRecord_UnknownReferences(t *testing.T) {
	ctx := context.Background()
	f, _ := newAtomicFixture(t)
	c := f.createCustomer(t, "Ravi Kumar", "9876543210")

	in := sale(c.ID, 1, 0, "0")
	in.ProductID = "p404"
	_, err := f.recorder.Record(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrProductNotFound)

	in = payment(c.ID, "10")
	in.RouteID = "r404"
	_, err = f.recorder.Record(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrRouteNotFound)

	_, err = f.recorder.Record(ctx, payment("00999", "10"))
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
	assert.True(t, ledger.IsNotFound(err))

	_, err = f.recorder.Record(ctx, sale(c.ID, 0, 0, "0"))
	assert.True(t, ledger.IsClientError(err))

	txs, err := f.store.LoadRange(ctx, ledger.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

package ledger_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/warp/cylinder-ledger/ledger"
	"github.com/warp/cylinder-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2024, time.March, 15, 10, 30, 45, 0, time.UTC)

// backend is satisfied by both store.Memory and store.TxMemory.
type backend interface {
	ledger.Store
	SaveProduct(ctx context.Context, p ledger.Product) error
	SaveRoute(ctx context.Context, r ledger.Route) error
	Products() ledger.Catalog[ledger.Product]
	Routes() ledger.Catalog[ledger.Route]
}

type fixture struct {
	store      backend
	clock      *ledger.FixedClock
	registry   *ledger.Registry
	recorder   *ledger.Recorder
	reconciler *ledger.Reconciler
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// newFixture seeds route "r1" and product "p1" (price 100).
func newFixture(t *testing.T, st backend) *fixture {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveRoute(ctx, ledger.Route{ID: "r1", Name: "North"}))
	require.NoError(t, st.SaveProduct(ctx, ledger.Product{ID: "p1", Name: "14.2kg", Price: dec("100")}))

	clock := ledger.NewFixedClock(t0)
	logger := quietLogger()
	locker := ledger.NewKeyedMutex()
	builder := ledger.NewBuilder(ledger.NewTransactionIDs("TBG", clock), time.UTC)
	return &fixture{
		store:      st,
		clock:      clock,
		registry:   ledger.NewRegistry(st, st.Routes(), nil, clock),
		recorder:   ledger.NewRecorder(st, st.Products(), st.Routes(), builder, locker, logger),
		reconciler: ledger.NewReconciler(st, locker, clock, logger),
	}
}

func newAtomicFixture(t *testing.T) (*fixture, *store.TxMemory) {
	mem := store.NewTxMemory()
	return newFixture(t, mem), mem
}

func newTwoPhaseFixture(t *testing.T) (*fixture, *store.Memory) {
	mem := store.NewMemory()
	return newFixture(t, mem), mem
}

func (f *fixture) createCustomer(t *testing.T, name, phone string) *ledger.Customer {
	t.Helper()
	c, err := f.registry.Create(context.Background(), ledger.ProfileUpdate{
		Profile: ledger.Profile{Name: name, Phone: phone, Route: "r1"},
	})
	require.NoError(t, err)
	return c
}

func sale(id ledger.CustomerID, qty, empty int64, received string) ledger.TransactionInput {
	return ledger.TransactionInput{
		CustomerID:     id,
		RouteID:        "r1",
		Type:           ledger.TxSale,
		ProductID:      "p1",
		SalesQuantity:  qty,
		EmptyQuantity:  empty,
		AmountReceived: dec(received),
	}
}

func payment(id ledger.CustomerID, received string) ledger.TransactionInput {
	return ledger.TransactionInput{
		CustomerID:     id,
		RouteID:        "r1",
		Type:           ledger.TxPayment,
		AmountReceived: dec(received),
	}
}

// assertReplayMatches checks the central invariant: the stored snapshot
// equals the fold of the customer's ledger.
func assertReplayMatches(t *testing.T, st ledger.Store, id ledger.CustomerID) {
	t.Helper()
	ctx := context.Background()
	c, err := st.GetCustomer(ctx, id)
	require.NoError(t, err)
	txs, err := st.LoadByCustomer(ctx, id)
	require.NoError(t, err)

	replay := ledger.Fold(id, txs)
	require.Empty(t, replay.ChainBreaks, "chain breaks in ledger")
	require.True(t, replay.Snapshot.Balance.Equal(c.CurrentBalance),
		"balance: stored %s, replayed %s", c.CurrentBalance, replay.Snapshot.Balance)
	require.Equal(t, replay.Snapshot.GasOnHand, c.CurrentGasOnHand, "gas on hand")
}

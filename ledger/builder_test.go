package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cylinder-ledger/ledger"
)

// =============================================================================
// BUILDER TESTS
// =============================================================================

func newBuilder() *ledger.Builder {
	return ledger.NewBuilder(ledger.NewTransactionIDs("TBG", ledger.NewFixedClock(t0)), time.UTC)
}

var (
	testRoute   = &ledger.Route{ID: "r1", Name: "North"}
	testProduct = &ledger.Product{ID: "p1", Name: "14.2kg", Price: dec("100")}
)

func customerWith(balance string, gas int64) *ledger.Customer {
	return &ledger.Customer{
		ID:               "00001",
		Profile:          ledger.Profile{Name: "Ravi Kumar", Phone: "9876543210", Address: "12 Main St"},
		CurrentBalance:   dec(balance),
		CurrentGasOnHand: gas,
	}
}

func TestBuild_SaleAccrues(t *testing.T) {
	// GIVEN: a customer owing 500
	c := customerWith("500", 4)

	// WHEN: 2 cylinders at 100 are sold and 150 is received
	tx, snap, err := newBuilder().Build(sale("00001", 2, 1, "150"), c, testRoute, testProduct)
	require.NoError(t, err)

	// THEN
	assert.True(t, tx.TodayCredit.Equal(dec("200")), "todayCredit %s", tx.TodayCredit)
	assert.True(t, tx.PreviousBalance.Equal(dec("500")))
	assert.True(t, tx.TotalBalance.Equal(dec("550")), "totalBalance %s", tx.TotalBalance)
	assert.True(t, tx.EffectivePrice.Equal(dec("100")))
	assert.False(t, tx.IsCustomPrice())
	assert.Equal(t, ledger.TransactionID("TBG20240315103045"), tx.ID)
	assert.Equal(t, "Ravi Kumar", tx.CustomerName)
	assert.Equal(t, "North", tx.RouteName)
	assert.Equal(t, "14.2kg", tx.ProductName)
	assert.True(t, tx.BaseProductPrice.Equal(dec("100")))

	assert.True(t, snap.Balance.Equal(dec("550")))
	assert.Equal(t, int64(5), snap.GasOnHand)
}

func TestBuild_PaymentOnly(t *testing.T) {
	c := customerWith("550", 6)

	tx, snap, err := newBuilder().Build(payment("00001", "300"), c, testRoute, nil)
	require.NoError(t, err)

	assert.True(t, tx.TotalBalance.Equal(dec("250")))
	assert.True(t, tx.TodayCredit.IsZero())
	assert.Equal(t, int64(6), snap.GasOnHand, "payments never move inventory")
}

func TestBuild_PaymentZeroesProductFields(t *testing.T) {
	// GIVEN: a payment carrying stale sale form state
	in := payment("00001", "100")
	in.ProductID = "p1"
	in.SalesQuantity = 4
	in.EmptyQuantity = 2
	in.CustomPrice = decPtr("75")

	// WHEN: it is built, even with a product passed in
	tx, snap, err := newBuilder().Build(in, customerWith("0", 3), testRoute, testProduct)
	require.NoError(t, err)

	// THEN: every product-related field is zero
	assert.Empty(t, tx.ProductID)
	assert.Empty(t, tx.ProductName)
	assert.Zero(t, tx.SalesQuantity)
	assert.Zero(t, tx.EmptyQuantity)
	assert.Nil(t, tx.CustomPrice)
	assert.True(t, tx.EffectivePrice.IsZero())
	assert.True(t, tx.BaseProductPrice.IsZero())
	assert.True(t, tx.TotalBalance.Equal(dec("-100")), "credit balance allowed")
	assert.Equal(t, int64(3), snap.GasOnHand)
}

func TestBuild_CustomPrice(t *testing.T) {
	tests := []struct {
		name      string
		custom    string
		wantPrice string
		wantFlag  bool
	}{
		{"override applied", "90", "90", true},
		{"zero falls back to base", "0", "100", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sale("00001", 3, 0, "0")
			in.CustomPrice = decPtr(tt.custom)

			tx, _, err := newBuilder().Build(in, customerWith("0", 0), testRoute, testProduct)
			require.NoError(t, err)

			assert.True(t, tx.EffectivePrice.Equal(dec(tt.wantPrice)))
			assert.Equal(t, tt.wantFlag, tx.IsCustomPrice())
			assert.True(t, tx.TodayCredit.Equal(dec(tt.wantPrice).Mul(dec("3"))))
		})
	}
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		in    func() ledger.TransactionInput
		field string
	}{
		{"zero quantity sale", func() ledger.TransactionInput { return sale("00001", 0, 0, "0") }, "sales quantity"},
		{"negative empties", func() ledger.TransactionInput { return sale("00001", 1, -1, "0") }, "empty quantity"},
		{"negative received", func() ledger.TransactionInput { return payment("00001", "-5") }, "amount received"},
		{"no product", func() ledger.TransactionInput {
			in := sale("00001", 1, 0, "0")
			in.ProductID = ""
			return in
		}, "product"},
		{"no customer", func() ledger.TransactionInput { return sale("", 1, 0, "0") }, "customer"},
		{"no route", func() ledger.TransactionInput {
			in := payment("00001", "10")
			in.RouteID = ""
			return in
		}, "route"},
		{"bad type", func() ledger.TransactionInput {
			in := payment("00001", "10")
			in.Type = "refund"
			return in
		}, "transaction type"},
		{"negative custom price", func() ledger.TransactionInput {
			in := sale("00001", 1, 0, "0")
			in.CustomPrice = decPtr("-1")
			return in
		}, "custom price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newBuilder().Build(tt.in(), customerWith("0", 0), testRoute, testProduct)
			require.Error(t, err)
			assert.ErrorIs(t, err, ledger.ErrValidation)

			var verr *ledger.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBuild_LogicalDate(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on the 15th is already the 16th in IST.
	clock := ledger.NewFixedClock(time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC))
	b := ledger.NewBuilder(ledger.NewTransactionIDs("TBG", clock), ist)

	tx, _, err := b.Build(payment("00001", "10"), customerWith("0", 0), testRoute, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), tx.Date)

	// An explicit back-dated day is kept.
	in := payment("00001", "10")
	in.Date = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tx, _, err = b.Build(in, customerWith("0", 0), testRoute, nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", tx.Date.Format(ledger.DateLayout))
}

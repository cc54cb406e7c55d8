package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cylinder-ledger/ledger"
)

func TestProject_InventoryUpdate(t *testing.T) {
	tests := []struct {
		name    string
		gas     int64
		sales   int64
		empty   int64
		wantGas int64
	}{
		{"issue and collect", 10, 5, 3, 12},
		{"more empties than held", 10, 0, 20, -10},
		{"first sale", 0, 4, 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ledger.Customer{ID: "00001", CurrentGasOnHand: tt.gas, CurrentBalance: decimal.Zero}
			tx := ledger.Transaction{
				CustomerID:    "00001",
				Type:          ledger.TxSale,
				SalesQuantity: tt.sales,
				EmptyQuantity: tt.empty,
				TotalBalance:  dec("42"),
				Timestamp:     t0,
			}

			s := ledger.Project(c, tx)

			assert.Equal(t, tt.wantGas, s.GasOnHand)
			assert.True(t, s.Balance.Equal(dec("42")))
			require.NotNil(t, s.LastPurchaseDate)
			assert.True(t, s.LastPurchaseDate.Equal(t0))
		})
	}
}

func TestProject_PaymentIsolation(t *testing.T) {
	// GIVEN: a customer holding 7 cylinders
	c := ledger.Customer{ID: "00001", CurrentGasOnHand: 7, CurrentBalance: dec("550")}

	// WHEN: a payment carries stray quantities
	tx := ledger.Transaction{
		CustomerID:          "00001",
		Type:                ledger.TxPayment,
		SalesQuantity:       3,
		EmptyQuantity:       9,
		TotalAmountReceived: dec("300"),
		PreviousBalance:     dec("550"),
		TotalBalance:        dec("250"),
		Timestamp:           t0,
	}
	s := ledger.Project(c, tx)

	// THEN: inventory is untouched, balance and last purchase move
	assert.Equal(t, int64(7), s.GasOnHand)
	assert.True(t, s.Balance.Equal(dec("250")))
	require.NotNil(t, s.LastPurchaseDate)
}

func TestFold_ReplaysFromZero(t *testing.T) {
	txs := []ledger.Transaction{
		{ID: "a", Type: ledger.TxSale, SalesQuantity: 2, TodayCredit: dec("200"), TotalAmountReceived: dec("150"),
			PreviousBalance: dec("0"), TotalBalance: dec("50"), Timestamp: t0},
		{ID: "b", Type: ledger.TxPayment, TotalAmountReceived: dec("80"),
			PreviousBalance: dec("50"), TotalBalance: dec("-30"), Timestamp: t0.Add(time.Minute)},
		{ID: "c", Type: ledger.TxSale, SalesQuantity: 1, EmptyQuantity: 3, TodayCredit: dec("100"),
			PreviousBalance: dec("-30"), TotalBalance: dec("70"), Timestamp: t0.Add(2 * time.Minute)},
	}

	r := ledger.Fold("00001", txs)

	assert.Equal(t, 3, r.Count)
	assert.True(t, r.Snapshot.Balance.Equal(dec("70")), "got %s", r.Snapshot.Balance)
	assert.Equal(t, int64(0), r.Snapshot.GasOnHand)
	assert.Empty(t, r.ChainBreaks)
	require.NotNil(t, r.Snapshot.LastPurchaseDate)
	assert.True(t, r.Snapshot.LastPurchaseDate.Equal(t0.Add(2*time.Minute)))
}

func TestFold_ReportsChainBreaks(t *testing.T) {
	txs := []ledger.Transaction{
		{ID: "a", Type: ledger.TxSale, SalesQuantity: 1, TodayCredit: dec("100"),
			PreviousBalance: dec("0"), TotalBalance: dec("100"), Timestamp: t0},
		// Recorded against a stale balance.
		{ID: "b", Type: ledger.TxSale, SalesQuantity: 1, TodayCredit: dec("100"),
			PreviousBalance: dec("0"), TotalBalance: dec("100"), Timestamp: t0.Add(time.Second)},
	}

	r := ledger.Fold("00001", txs)

	assert.Equal(t, []ledger.TransactionID{"b"}, r.ChainBreaks)
	assert.True(t, r.Snapshot.Balance.Equal(dec("200")), "deltas are summed regardless")
}

func TestFold_Empty(t *testing.T) {
	r := ledger.Fold("00009", nil)
	assert.True(t, r.Snapshot.Balance.IsZero())
	assert.Zero(t, r.Snapshot.GasOnHand)
	assert.Nil(t, r.Snapshot.LastPurchaseDate)
	assert.True(t, r.Snapshot.Equal(ledger.Customer{ID: "00009"}.Snapshot()))
}

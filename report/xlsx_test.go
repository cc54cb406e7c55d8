package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/cylinder-ledger/ledger"
)

func TestWriteXLSX(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	txs := []ledger.Transaction{
		{
			ID: "TBG20240315100000", CustomerID: "00001", CustomerName: "Ravi", Type: ledger.TxSale,
			ProductName: "14.2kg", SalesQuantity: 2, EmptyQuantity: 1,
			EffectivePrice: decimal.NewFromInt(500), TodayCredit: decimal.NewFromInt(1000),
			TotalAmountReceived: decimal.NewFromInt(600), PreviousBalance: decimal.Zero,
			TotalBalance: decimal.NewFromInt(400), Date: day,
		},
		{
			ID: "TBG20240315110000", CustomerID: "00001", CustomerName: "Ravi", Type: ledger.TxPayment,
			TotalAmountReceived: decimal.NewFromInt(400), PreviousBalance: decimal.NewFromInt(400),
			TotalBalance: decimal.Zero, Date: day,
		},
	}
	customers := []ledger.Customer{{ID: "00001", Profile: ledger.Profile{Name: "Ravi"}, CurrentBalance: decimal.Zero, CurrentGasOnHand: 1}}
	summary := ledger.Summarize(ledger.Filter{Range: ledger.DateRange{From: &day, To: &day}}, txs, customers)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, summary, txs))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SummarySheet, CustomersSheet, TransactionsSheet}, f.GetSheetList())

	from, err := f.GetCellValue(SummarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", from)

	sale, err := f.GetCellValue(SummarySheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "1000", sale)

	rows, err := f.GetRows(TransactionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Transaction ID", rows[0][0])
	assert.Equal(t, "TBG20240315100000", rows[1][0])
	assert.Equal(t, "payment", rows[2][2])

	custRows, err := f.GetRows(CustomersSheet)
	require.NoError(t, err)
	require.Len(t, custRows, 2)
	assert.Equal(t, "00001", custRows[1][0])
}

// Package report exports dashboard ranges as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/cylinder-ledger/ledger"
)

const (
	SummarySheet      = "Summary"
	TransactionsSheet = "Transactions"
	CustomersSheet    = "Customers"
)

var transactionHeader = []any{
	"Transaction ID", "Date", "Type", "Customer ID", "Customer", "Route", "Product",
	"Quantity", "Empties", "Unit Price", "Custom Price", "Sale Amount", "Received",
	"Previous Balance", "Total Balance",
}

// WriteXLSX writes a workbook with the summary figures, per-customer totals
// and one row per transaction.
func WriteXLSX(w io.Writer, summary *ledger.Summary, txs []ledger.Transaction) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(CustomersSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(TransactionsSheet); err != nil {
		return err
	}

	if err := writeSummary(f, summary); err != nil {
		return err
	}
	if err := writeCustomers(f, summary.ByCustomer); err != nil {
		return err
	}
	if err := writeTransactions(f, txs); err != nil {
		return err
	}
	return f.Write(w)
}

func writeSummary(f *excelize.File, s *ledger.Summary) error {
	from, to := "all", "all"
	if s.Filter.Range.From != nil {
		from = s.Filter.Range.From.Format(ledger.DateLayout)
	}
	if s.Filter.Range.To != nil {
		to = s.Filter.Range.To.Format(ledger.DateLayout)
	}
	route := string(s.Filter.RouteID)
	if route == "" {
		route = "all"
	}

	rows := [][]any{
		{"From", from},
		{"To", to},
		{"Route", route},
		{"Total Sale Amount", s.SaleAmount.InexactFloat64()},
		{"Total Received", s.Received.InexactFloat64()},
		{"Total Credited", s.Credited.InexactFloat64()},
		{"Cylinders Sold", s.SalesQuantity},
		{"Empties Returned", s.EmptyQuantity},
		{"Transactions", s.TransactionCount},
		{"Outstanding Balance", s.OutstandingBalance.InexactFloat64()},
		{"Cylinders With Customers", s.GasOnHand},
		{"Customers", s.CustomerCount},
	}
	return writeRows(f, SummarySheet, rows)
}

func writeCustomers(f *excelize.File, totals []ledger.CustomerTotals) error {
	rows := [][]any{{"Customer ID", "Customer", "Sale Amount", "Received", "Credited", "Quantity", "Empties", "Transactions"}}
	for _, ct := range totals {
		rows = append(rows, []any{
			string(ct.CustomerID), ct.CustomerName,
			ct.SaleAmount.InexactFloat64(), ct.Received.InexactFloat64(), ct.Credited.InexactFloat64(),
			ct.SalesQuantity, ct.EmptyQuantity, ct.TransactionCount,
		})
	}
	return writeRows(f, CustomersSheet, rows)
}

func writeTransactions(f *excelize.File, txs []ledger.Transaction) error {
	rows := [][]any{transactionHeader}
	for _, tx := range txs {
		custom := ""
		if tx.CustomPrice != nil {
			custom = tx.CustomPrice.StringFixed(2)
		}
		rows = append(rows, []any{
			string(tx.ID), tx.Date.Format(ledger.DateLayout), string(tx.Type),
			string(tx.CustomerID), tx.CustomerName, tx.RouteName, tx.ProductName,
			tx.SalesQuantity, tx.EmptyQuantity, tx.EffectivePrice.InexactFloat64(), custom,
			tx.SaleAmount().InexactFloat64(), tx.TotalAmountReceived.InexactFloat64(),
			tx.PreviousBalance.InexactFloat64(), tx.TotalBalance.InexactFloat64(),
		})
	}
	return writeRows(f, TransactionsSheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

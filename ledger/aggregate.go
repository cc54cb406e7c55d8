/*
aggregate.go - Read-only rollups for dashboards and reports

RANGE RULES:
  Transactions are filtered by their logical Date, inclusive on both bounds.
  Customer totals (outstanding balance, cylinders on hand) always cover every
  customer; they are snapshot state, not range state.

FIGURES:
  totalSaleAmount = Σ effectivePrice × salesQuantity   over sales in range
  totalReceived   = Σ totalAmountReceived               over all in range
  totalCredited   = totalSaleAmount − totalReceived
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// DATE RANGE
// =============================================================================

type Period string

const (
	PeriodToday       Period = "today"
	PeriodLast7Days   Period = "last_7_days"
	PeriodLast30Days  Period = "last_30_days"
	PeriodLast365Days Period = "last_365_days"
	PeriodCustom      Period = "custom"
	PeriodAll         Period = "all"
)

// DateRange is an inclusive range of logical dates. A nil bound is open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether the logical date d lies in the range.
func (r DateRange) Contains(d time.Time) bool {
	d = DateOf(d)
	if r.From != nil && d.Before(DateOf(*r.From)) {
		return false
	}
	if r.To != nil && d.After(DateOf(*r.To)) {
		return false
	}
	return true
}

// ResolveRange turns a period preset into a DateRange relative to today.
// from and to are used only for PeriodCustom, where both are required.
func ResolveRange(p Period, today time.Time, from, to *time.Time) (DateRange, error) {
	day := DateOf(today)
	back := func(days int) DateRange {
		f := day.AddDate(0, 0, -days)
		return DateRange{From: &f, To: &day}
	}
	switch p {
	case PeriodToday:
		return DateRange{From: &day, To: &day}, nil
	case PeriodLast7Days:
		return back(7), nil
	case PeriodLast30Days:
		return back(30), nil
	case PeriodLast365Days:
		return back(365), nil
	case PeriodAll, "":
		return DateRange{}, nil
	case PeriodCustom:
		if from == nil || to == nil {
			return DateRange{}, fmt.Errorf("%w: custom period needs both from and to", ErrInvalidRange)
		}
		f, t := DateOf(*from), DateOf(*to)
		if t.Before(f) {
			return DateRange{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange,
				t.Format(DateLayout), f.Format(DateLayout))
		}
		return DateRange{From: &f, To: &t}, nil
	default:
		return DateRange{}, fmt.Errorf("%w: unknown period %q", ErrInvalidRange, p)
	}
}

// =============================================================================
// SUMMARY
// =============================================================================

// Filter selects the transactions a Summary covers.
type Filter struct {
	Range   DateRange
	RouteID RouteID // empty = all routes
}

// Totals are the range figures for a set of transactions.
type Totals struct {
	SaleAmount       decimal.Decimal
	Received         decimal.Decimal
	Credited         decimal.Decimal
	SalesQuantity    int64
	EmptyQuantity    int64
	TransactionCount int
}

func (t *Totals) add(tx Transaction) {
	t.SaleAmount = t.SaleAmount.Add(tx.SaleAmount())
	t.Received = t.Received.Add(tx.TotalAmountReceived)
	t.Credited = t.SaleAmount.Sub(t.Received)
	t.SalesQuantity += tx.SalesQuantity
	t.EmptyQuantity += tx.EmptyQuantity
	t.TransactionCount++
}

// CustomerTotals are range figures for one customer.
type CustomerTotals struct {
	CustomerID   CustomerID
	CustomerName string
	Totals
}

// Summary is the dashboard rollup.
type Summary struct {
	Filter Filter
	Totals

	// Over all customers, independent of the range.
	OutstandingBalance decimal.Decimal
	GasOnHand          int64
	CustomerCount      int

	ByCustomer []CustomerTotals
}

// Reporter computes read-only rollups over the ledger and snapshots.
type Reporter struct {
	Ledger   LedgerStore
	Accounts AccountStore
}

func NewReporter(ledger LedgerStore, accounts AccountStore) *Reporter {
	return &Reporter{Ledger: ledger, Accounts: accounts}
}

// Transactions returns the transactions matching f, chronologically.
func (r *Reporter) Transactions(ctx context.Context, f Filter) ([]Transaction, error) {
	txs, err := r.Ledger.LoadRange(ctx, f.Range)
	if err != nil {
		return nil, err
	}
	if f.RouteID == "" {
		return txs, nil
	}
	out := txs[:0]
	for _, tx := range txs {
		if tx.RouteID == f.RouteID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Summarize loads the range and the customer set concurrently and rolls them up.
func (r *Reporter) Summarize(ctx context.Context, f Filter) (*Summary, error) {
	var (
		txs       []Transaction
		customers []Customer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = r.Transactions(gctx, f)
		return err
	})
	g.Go(func() error {
		var err error
		customers, err = r.Accounts.ListCustomers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Summarize(f, txs, customers), nil
}

// CustomerTotals returns range figures for a single customer.
func (r *Reporter) CustomerTotals(ctx context.Context, id CustomerID, rng DateRange) (*CustomerTotals, error) {
	c, err := r.Accounts.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	txs, err := r.Ledger.LoadByCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	ct := &CustomerTotals{CustomerID: id, CustomerName: c.Name, Totals: zeroTotals()}
	for _, tx := range txs {
		if rng.Contains(tx.Date) {
			ct.add(tx)
		}
	}
	return ct, nil
}

// Summarize is the pure rollup used by Reporter.Summarize.
func Summarize(f Filter, txs []Transaction, customers []Customer) *Summary {
	s := &Summary{
		Filter:             f,
		Totals:             zeroTotals(),
		OutstandingBalance: decimal.Zero,
		CustomerCount:      len(customers),
	}
	names := make(map[CustomerID]string, len(customers))
	for _, c := range customers {
		s.OutstandingBalance = s.OutstandingBalance.Add(c.CurrentBalance)
		s.GasOnHand += c.CurrentGasOnHand
		names[c.ID] = c.Name
	}

	per := make(map[CustomerID]*CustomerTotals)
	for _, tx := range txs {
		if !f.Range.Contains(tx.Date) {
			continue
		}
		if f.RouteID != "" && tx.RouteID != f.RouteID {
			continue
		}
		s.add(tx)
		ct, ok := per[tx.CustomerID]
		if !ok {
			name := names[tx.CustomerID]
			if name == "" {
				name = tx.CustomerName
			}
			ct = &CustomerTotals{CustomerID: tx.CustomerID, CustomerName: name, Totals: zeroTotals()}
			per[tx.CustomerID] = ct
		}
		ct.add(tx)
	}

	s.ByCustomer = make([]CustomerTotals, 0, len(per))
	for _, ct := range per {
		s.ByCustomer = append(s.ByCustomer, *ct)
	}
	sort.Slice(s.ByCustomer, func(i, j int) bool {
		return s.ByCustomer[i].CustomerID < s.ByCustomer[j].CustomerID
	})
	return s
}

func zeroTotals() Totals {
	return Totals{SaleAmount: decimal.Zero, Received: decimal.Zero, Credited: decimal.Zero}
}

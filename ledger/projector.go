package ledger

import "github.com/shopspring/decimal"

// Project applies one transaction to its customer's snapshot:
//
//	balance          = tx.TotalBalance
//	gasOnHand        = gasOnHand − emptyQuantity + salesQuantity   (sale)
//	                 = unchanged                                   (payment)
//	lastPurchaseDate = tx.Timestamp
func Project(c Customer, tx Transaction) Snapshot {
	ts := tx.Timestamp
	return Snapshot{
		CustomerID:       c.ID,
		Balance:          tx.TotalBalance,
		GasOnHand:        c.CurrentGasOnHand + tx.GasDelta(),
		LastPurchaseDate: &ts,
	}
}

// =============================================================================
// REPLAY
// =============================================================================

// Replay is the result of folding a transaction history from zero.
type Replay struct {
	Snapshot Snapshot
	Count    int

	// ChainBreaks lists transactions whose PreviousBalance disagreed with the
	// running balance at that point in the history.
	ChainBreaks []TransactionID
}

// Fold replays txs, which must be in chronological order, from
// (balance=0, gasOnHand=0).
func Fold(customerID CustomerID, txs []Transaction) Replay {
	r := Replay{Snapshot: Snapshot{CustomerID: customerID, Balance: decimal.Zero}}
	for _, tx := range txs {
		if !tx.PreviousBalance.Equal(r.Snapshot.Balance) {
			r.ChainBreaks = append(r.ChainBreaks, tx.ID)
		}
		ts := tx.Timestamp
		r.Snapshot.Balance = r.Snapshot.Balance.Add(tx.BalanceDelta())
		r.Snapshot.GasOnHand += tx.GasDelta()
		r.Snapshot.LastPurchaseDate = &ts
		r.Count++
	}
	return r
}

/*
Package ledger provides the balance and inventory ledger engine for a gas-cylinder distributor.

PURPOSE:
  Turns a raw sale or payment into an immutable ledger Transaction and an
  updated customer account snapshot. The snapshot (balance, cylinders on hand)
  is a cache of the ledger: it must always equal the fold of the customer's
  transactions applied in chronological order from zero.

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer:    Mutable account snapshot plus profile fields
  - Transaction: Immutable ledger entry (sale or payment)
  - Snapshot:    The projected balance/inventory part of a Customer
  - Product/Route: Read-only catalog records

DESIGN PRINCIPLES:
  1. Immutability: Transactions are written once, never updated or deleted
  2. Precision: Money uses decimal.Decimal, never float64
  3. Type Safety: Distinct ID types for customers, routes, products, transactions
  4. Replayability: Every snapshot field is derivable from the ledger

SEE ALSO:
  - builder.go:   Transaction construction and validation
  - projector.go: Applying a transaction to a snapshot
  - recorder.go:  Unit of work tying ledger append and snapshot update together
  - reconcile.go: Replay-based repair
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type ProductID string
type RouteID string
type TransactionID string

// =============================================================================
// CATALOG - Read-only records owned by catalog screens
// =============================================================================

// Product is a cylinder product with its base unit price.
type Product struct {
	ID    ProductID
	Name  string
	Price decimal.Decimal
}

// Route is a delivery route.
type Route struct {
	ID   RouteID
	Name string
}

// =============================================================================
// CUSTOMER - Account snapshot plus profile
// =============================================================================

// Profile holds the free-text fields of a customer account.
type Profile struct {
	Name         string
	Organization string
	Phone        string
	Address      string
	OwnerName    string
	OwnerPhone   string
	GSTNumber    string
	Route        RouteID
}

// Customer is the mutable account snapshot.
//
// INVARIANT: CurrentBalance and CurrentGasOnHand equal the replay of every
// transaction for this customer, in chronological order, from zero.
type Customer struct {
	ID CustomerID
	Profile

	CredentialCode string

	// Positive = customer owes money, negative = customer has credit.
	CurrentBalance decimal.Decimal
	// May go negative when more empties are returned than cylinders issued.
	CurrentGasOnHand int64
	LastPurchaseDate *time.Time

	CreatedAt time.Time

	// Version is the optimistic-concurrency token for snapshot writes.
	Version int64
}

// Snapshot returns the projected part of the account.
func (c Customer) Snapshot() Snapshot {
	return Snapshot{
		CustomerID:       c.ID,
		Balance:          c.CurrentBalance,
		GasOnHand:        c.CurrentGasOnHand,
		LastPurchaseDate: c.LastPurchaseDate,
	}
}

// WithSnapshot returns a copy of the customer with the snapshot fields replaced.
func (c Customer) WithSnapshot(s Snapshot) Customer {
	c.CurrentBalance = s.Balance
	c.CurrentGasOnHand = s.GasOnHand
	c.LastPurchaseDate = s.LastPurchaseDate
	return c
}

// Snapshot is the balance/inventory state derived from the ledger.
type Snapshot struct {
	CustomerID       CustomerID
	Balance          decimal.Decimal
	GasOnHand        int64
	LastPurchaseDate *time.Time
}

// Equal reports whether two snapshots carry the same balance, inventory and
// last purchase instant.
func (s Snapshot) Equal(o Snapshot) bool {
	if !s.Balance.Equal(o.Balance) || s.GasOnHand != o.GasOnHand {
		return false
	}
	switch {
	case s.LastPurchaseDate == nil && o.LastPurchaseDate == nil:
		return true
	case s.LastPurchaseDate == nil || o.LastPurchaseDate == nil:
		return false
	default:
		return s.LastPurchaseDate.Equal(*o.LastPurchaseDate)
	}
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxSale    TransactionType = "sale"
	TxPayment TransactionType = "payment"
)

func (t TransactionType) Valid() bool {
	return t == TxSale || t == TxPayment
}

// Transaction is written once by the Recorder and never changed.
type Transaction struct {
	// ID is the prefix plus the UTC creation second. When that second is
	// already taken the id moves to the next free one, so it can run ahead
	// of Timestamp.
	ID         TransactionID
	CustomerID CustomerID
	RouteID    RouteID
	ProductID  ProductID // empty for payments

	Type          TransactionType
	SalesQuantity int64
	EmptyQuantity int64

	// CustomPrice is set only when an override was supplied and positive.
	CustomPrice    *decimal.Decimal
	EffectivePrice decimal.Decimal
	TodayCredit    decimal.Decimal

	TotalAmountReceived decimal.Decimal
	PreviousBalance     decimal.Decimal
	TotalBalance        decimal.Decimal

	// Date is the logical business day (midnight UTC of that calendar day).
	Date      time.Time
	Timestamp time.Time

	// Denormalized copies for receipts; never used in arithmetic.
	CustomerName     string
	CustomerPhone    string
	CustomerAddress  string
	RouteName        string
	ProductName      string
	BaseProductPrice decimal.Decimal

	IdempotencyKey string
}

// IsCustomPrice reports whether a price override was applied.
func (tx Transaction) IsCustomPrice() bool { return tx.CustomPrice != nil }

// SaleAmount is effectivePrice × salesQuantity (zero for payments).
func (tx Transaction) SaleAmount() decimal.Decimal {
	if tx.Type != TxSale {
		return decimal.Zero
	}
	return tx.EffectivePrice.Mul(decimal.NewFromInt(tx.SalesQuantity))
}

// BalanceDelta is the signed change this transaction makes to the balance.
func (tx Transaction) BalanceDelta() decimal.Decimal {
	return tx.TodayCredit.Sub(tx.TotalAmountReceived)
}

// GasDelta is the signed change this transaction makes to cylinders on hand.
func (tx Transaction) GasDelta() int64 {
	if tx.Type != TxSale {
		return 0
	}
	return tx.SalesQuantity - tx.EmptyQuantity
}

// =============================================================================
// DATES
// =============================================================================

// DateLayout is the wire and storage format of a logical date.
const DateLayout = "2006-01-02"

// DateOf returns the calendar day of t (in t's location) as midnight UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

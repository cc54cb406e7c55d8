/*
builder.go - Transaction construction

PURPOSE:
  Validates one sale-or-payment input and computes every derived field:

    effectivePrice = customPrice if present and > 0, else product.price
    todayCredit    = effectivePrice × salesQuantity        (sale)
                   = 0                                      (payment)
    totalBalance   = previousBalance + todayCredit − totalAmountReceived

  totalBalance is not clamped; a negative value means the customer is in credit.

PAYMENTS:
  Product-related fields are forced to their zero values no matter what the
  caller sent, so stale form state can never leak into a payment.

The builder is pure apart from the injected Clock and id allocator. It never
writes; the Recorder persists what it returns.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionInput is the raw request to record a sale or a payment.
type TransactionInput struct {
	CustomerID CustomerID
	RouteID    RouteID
	Type       TransactionType

	// Sale only.
	ProductID     ProductID
	SalesQuantity int64
	EmptyQuantity int64
	CustomPrice   *decimal.Decimal

	AmountReceived decimal.Decimal

	// Date is the logical day; zero means today in the builder's location.
	Date time.Time

	IdempotencyKey string
}

// Validate checks the input without consulting any store.
func (in TransactionInput) Validate() error {
	if in.CustomerID == "" {
		return invalid("customer", "required")
	}
	if in.RouteID == "" {
		return invalid("route", "required")
	}
	if !in.Type.Valid() {
		return invalid("transaction type", "must be sale or payment")
	}
	if in.Type == TxSale {
		if in.ProductID == "" {
			return invalid("product", "required for a sale")
		}
		if in.SalesQuantity <= 0 {
			return invalid("sales quantity", "must be greater than 0")
		}
		if in.EmptyQuantity < 0 {
			return invalid("empty quantity", "must not be negative")
		}
		if in.CustomPrice != nil && in.CustomPrice.IsNegative() {
			return invalid("custom price", "must not be negative")
		}
	}
	if in.AmountReceived.IsNegative() {
		return invalid("amount received", "must not be negative")
	}
	return nil
}

// Builder turns inputs into transactions.
type Builder struct {
	IDs *TransactionIDs
	// Location decides which calendar day "today" is.
	Location *time.Location
}

func NewBuilder(ids *TransactionIDs, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{IDs: ids, Location: loc}
}

// Build validates the input against the resolved records and returns the
// transaction together with the snapshot the projector will write.
// product must be nil for payments and is ignored if given.
func (b *Builder) Build(in TransactionInput, customer *Customer, route *Route, product *Product) (Transaction, Snapshot, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, Snapshot{}, err
	}
	if customer == nil {
		return Transaction{}, Snapshot{}, invalid("customer", "required")
	}
	if route == nil {
		return Transaction{}, Snapshot{}, invalid("route", "required")
	}
	if in.Type == TxSale && product == nil {
		return Transaction{}, Snapshot{}, invalid("product", "required for a sale")
	}

	id, now := b.IDs.Next()
	date := in.Date
	if date.IsZero() {
		date = now.In(b.Location)
	}

	tx := Transaction{
		ID:                  id,
		CustomerID:          customer.ID,
		RouteID:             route.ID,
		Type:                in.Type,
		TotalAmountReceived: in.AmountReceived,
		PreviousBalance:     customer.CurrentBalance,
		Date:                DateOf(date),
		Timestamp:           now,
		CustomerName:        customer.Name,
		CustomerPhone:       customer.Phone,
		CustomerAddress:     customer.Address,
		RouteName:           route.Name,
		IdempotencyKey:      in.IdempotencyKey,
	}

	if in.Type == TxSale {
		tx.ProductID = product.ID
		tx.ProductName = product.Name
		tx.BaseProductPrice = product.Price
		tx.SalesQuantity = in.SalesQuantity
		tx.EmptyQuantity = in.EmptyQuantity
		tx.CustomPrice, tx.EffectivePrice = ResolvePrice(in.CustomPrice, product.Price)
		tx.TodayCredit = tx.EffectivePrice.Mul(decimal.NewFromInt(in.SalesQuantity))
	}

	tx.TotalBalance = tx.PreviousBalance.Add(tx.TodayCredit).Sub(tx.TotalAmountReceived)

	return tx, Project(*customer, tx), nil
}

// ResolvePrice returns the override actually kept (nil unless positive) and
// the effective unit price.
func ResolvePrice(custom *decimal.Decimal, base decimal.Decimal) (*decimal.Decimal, decimal.Decimal) {
	if custom != nil && custom.IsPositive() {
		p := *custom
		return &p, p
	}
	return nil, base
}

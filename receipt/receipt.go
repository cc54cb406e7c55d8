/*
Package receipt assembles the printable receipt for one recorded transaction.

Every figure is copied verbatim from the stored transaction; nothing is
recomputed except saleAmount = effectivePrice × salesQuantity. A receipt
printed today for an old transaction shows the prices and balances that
applied when it was recorded.
*/
package receipt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/warp/cylinder-ledger/ledger"
)

// Shop is the letterhead.
type Shop struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	Phone           string `json:"phone"`
	GST             string `json:"gst"`
	DistributorCode string `json:"distributor_code"`
}

// Receipt is the fixed field set of a sale or payment receipt.
type Receipt struct {
	Shop Shop `json:"shop"`

	Number    ledger.TransactionID   `json:"number"`
	Type      ledger.TransactionType `json:"type"`
	Date      time.Time              `json:"date"`
	Timestamp time.Time              `json:"timestamp"`

	CustomerID      ledger.CustomerID `json:"customer_id"`
	CustomerName    string            `json:"customer_name"`
	CustomerPhone   string            `json:"customer_phone"`
	CustomerAddress string            `json:"customer_address"`
	RouteName       string            `json:"route_name"`

	ProductName    string          `json:"product_name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	IsCustomPrice  bool            `json:"is_custom_price"`
	BasePrice      decimal.Decimal `json:"base_price"`
	Quantity       int64           `json:"quantity"`
	EmptyCylinders int64           `json:"empty_cylinders"`
	SaleAmount     decimal.Decimal `json:"sale_amount"`

	AmountReceived  decimal.Decimal `json:"amount_received"`
	Credit          decimal.Decimal `json:"credit"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	TotalBalance    decimal.Decimal `json:"total_balance"`
}

// Build assembles a receipt. customer is the account as it was when the
// transaction was recorded; its fields fill any blanks in the transaction's
// own denormalized copies.
func Build(shop Shop, tx ledger.Transaction, customer *ledger.Customer) Receipt {
	r := Receipt{
		Shop:            shop,
		Number:          tx.ID,
		Type:            tx.Type,
		Date:            tx.Date,
		Timestamp:       tx.Timestamp,
		CustomerID:      tx.CustomerID,
		CustomerName:    tx.CustomerName,
		CustomerPhone:   tx.CustomerPhone,
		CustomerAddress: tx.CustomerAddress,
		RouteName:       tx.RouteName,
		ProductName:     tx.ProductName,
		UnitPrice:       tx.EffectivePrice,
		IsCustomPrice:   tx.IsCustomPrice(),
		BasePrice:       tx.BaseProductPrice,
		Quantity:        tx.SalesQuantity,
		EmptyCylinders:  tx.EmptyQuantity,
		SaleAmount:      tx.SaleAmount(),
		AmountReceived:  tx.TotalAmountReceived,
		Credit:          tx.TodayCredit,
		PreviousBalance: tx.PreviousBalance,
		TotalBalance:    tx.TotalBalance,
	}
	if customer != nil {
		if r.CustomerName == "" {
			r.CustomerName = customer.Name
		}
		if r.CustomerPhone == "" {
			r.CustomerPhone = customer.Phone
		}
		if r.CustomerAddress == "" {
			r.CustomerAddress = customer.Address
		}
	}
	return r
}

var printer = message.NewPrinter(language.MustParse("en-IN"))

// Money formats an amount in rupees with Indian digit grouping. Digits come
// from the decimal itself; only the whole part is grouped, and amounts past
// the int64 range are printed ungrouped.
func Money(d decimal.Decimal) string {
	d = d.Round(2)
	whole, frac, _ := strings.Cut(d.Abs().StringFixed(2), ".")
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		whole = printer.Sprintf("%d", n)
	}
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return "Rs. " + sign + whole + "." + frac
}

// Lines renders the receipt as plain text, one line per entry.
func (r Receipt) Lines() []string {
	lines := []string{
		r.Shop.Name,
	}
	for _, s := range []string{r.Shop.Address, r.Shop.Phone} {
		if s != "" {
			lines = append(lines, s)
		}
	}
	if r.Shop.GST != "" {
		lines = append(lines, "GSTIN: "+r.Shop.GST)
	}
	if r.Shop.DistributorCode != "" {
		lines = append(lines, "Distributor: "+r.Shop.DistributorCode)
	}

	title := "SALE RECEIPT"
	if r.Type == ledger.TxPayment {
		title = "PAYMENT RECEIPT"
	}
	lines = append(lines,
		strings.Repeat("-", 32),
		title,
		"Receipt No: "+string(r.Number),
		"Date: "+r.Date.Format("02-01-2006"),
		"Customer: "+string(r.CustomerID)+" "+r.CustomerName,
	)
	if r.CustomerPhone != "" {
		lines = append(lines, "Phone: "+r.CustomerPhone)
	}
	if r.CustomerAddress != "" {
		lines = append(lines, "Address: "+r.CustomerAddress)
	}
	lines = append(lines, strings.Repeat("-", 32))

	if r.Type == ledger.TxSale {
		price := Money(r.UnitPrice)
		if r.IsCustomPrice {
			price += " (list " + Money(r.BasePrice) + ")"
		}
		lines = append(lines,
			"Product: "+r.ProductName,
			"Unit Price: "+price,
			fmt.Sprintf("Quantity: %d", r.Quantity),
			fmt.Sprintf("Empty Cylinders: %d", r.EmptyCylinders),
			"Sale Amount: "+Money(r.SaleAmount),
		)
	}
	lines = append(lines,
		"Amount Received: "+Money(r.AmountReceived),
		"Credit: "+Money(r.Credit),
		"Previous Balance: "+Money(r.PreviousBalance),
		"Total Balance: "+Money(r.TotalBalance),
	)
	return lines
}

// String joins Lines with newlines.
func (r Receipt) String() string {
	return strings.Join(r.Lines(), "\n") + "\n"
}

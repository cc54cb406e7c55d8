/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts travel as decimal strings ("1250.50"). Requests also accept JSON
  numbers; shopspring/decimal parses both.

VALIDATION:
  Request shapes are checked with go-playground/validator struct tags.
  Business rules (quantities, prices, references) are checked by the ledger
  package so the same rules apply to every caller.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cylinder-ledger/ledger"
	"github.com/warp/cylinder-ledger/receipt"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

// CustomerDTO represents a customer account in API responses.
type CustomerDTO struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Organization     string          `json:"organization,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	Address          string          `json:"address,omitempty"`
	OwnerName        string          `json:"owner_name,omitempty"`
	OwnerPhone       string          `json:"owner_phone,omitempty"`
	GSTNumber        string          `json:"gst_number,omitempty"`
	RouteID          string          `json:"route_id,omitempty"`
	CredentialCode   string          `json:"credential_code"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	CurrentGasOnHand int64           `json:"current_gas_on_hand"`
	LastPurchaseDate *string         `json:"last_purchase_date,omitempty"`
	CreatedAt        string          `json:"created_at"`
	Version          int64           `json:"version"`
}

// CustomerRequest creates or edits a customer. Balance and inventory are
// not accepted; they only change through transactions.
type CustomerRequest struct {
	Name           string `json:"name" validate:"required,max=120"`
	Organization   string `json:"organization" validate:"max=200"`
	Phone          string `json:"phone" validate:"max=20"`
	Address        string `json:"address" validate:"max=500"`
	OwnerName      string `json:"owner_name" validate:"max=120"`
	OwnerPhone     string `json:"owner_phone" validate:"max=20"`
	GSTNumber      string `json:"gst_number" validate:"omitempty,alphanum,len=15"`
	RouteID        string `json:"route_id" validate:"max=64"`
	CredentialCode string `json:"credential_code" validate:"max=32"`
}

func (req CustomerRequest) toUpdate() ledger.ProfileUpdate {
	return ledger.ProfileUpdate{
		Profile: ledger.Profile{
			Name:         req.Name,
			Organization: req.Organization,
			Phone:        req.Phone,
			Address:      req.Address,
			OwnerName:    req.OwnerName,
			OwnerPhone:   req.OwnerPhone,
			GSTNumber:    req.GSTNumber,
			Route:        ledger.RouteID(req.RouteID),
		},
		CredentialCode: req.CredentialCode,
	}
}

// CustomerDetailDTO adds range totals to a customer.
type CustomerDetailDTO struct {
	CustomerDTO
	Totals TotalsDTO `json:"totals"`
}

// =============================================================================
// CATALOG
// =============================================================================

type ProductDTO struct {
	ID    string          `json:"id" validate:"required,max=64"`
	Name  string          `json:"name" validate:"required,max=120"`
	Price decimal.Decimal `json:"price"`
}

type RouteDTO struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=120"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// RecordTransactionRequest records a sale or a payment. For payments the
// product fields are ignored.
type RecordTransactionRequest struct {
	CustomerID     string           `json:"customer_id" validate:"required"`
	RouteID        string           `json:"route_id" validate:"required"`
	Type           string           `json:"type" validate:"required,oneof=sale payment"`
	ProductID      string           `json:"product_id"`
	SalesQuantity  int64            `json:"sales_quantity"`
	EmptyQuantity  int64            `json:"empty_quantity"`
	CustomPrice    *decimal.Decimal `json:"custom_price,omitempty"`
	AmountReceived decimal.Decimal  `json:"amount_received"`
	Date           string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
}

// TransactionDTO represents a ledger transaction in API responses.
type TransactionDTO struct {
	ID                  string           `json:"id"`
	CustomerID          string           `json:"customer_id"`
	RouteID             string           `json:"route_id"`
	ProductID           string           `json:"product_id,omitempty"`
	Type                string           `json:"type"`
	SalesQuantity       int64            `json:"sales_quantity"`
	EmptyQuantity       int64            `json:"empty_quantity"`
	CustomPrice         *decimal.Decimal `json:"custom_price,omitempty"`
	IsCustomPrice       bool             `json:"is_custom_price"`
	EffectivePrice      decimal.Decimal  `json:"effective_price"`
	TodayCredit         decimal.Decimal  `json:"today_credit"`
	TotalAmountReceived decimal.Decimal  `json:"total_amount_received"`
	PreviousBalance     decimal.Decimal  `json:"previous_balance"`
	TotalBalance        decimal.Decimal  `json:"total_balance"`
	Date                string           `json:"date"`
	Timestamp           string           `json:"timestamp"`
	CustomerName        string           `json:"customer_name,omitempty"`
	CustomerPhone       string           `json:"customer_phone,omitempty"`
	CustomerAddress     string           `json:"customer_address,omitempty"`
	RouteName           string           `json:"route_name,omitempty"`
	ProductName         string           `json:"product_name,omitempty"`
	BaseProductPrice    decimal.Decimal  `json:"base_product_price"`
	IdempotencyKey      string           `json:"idempotency_key,omitempty"`
}

// RecordTransactionResponse is returned after a successful Record.
type RecordTransactionResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Customer    CustomerDTO    `json:"customer"`
	Receipt     ReceiptDTO     `json:"receipt"`
}

// ReceiptDTO carries the receipt fields plus a plain-text rendering.
type ReceiptDTO struct {
	receipt.Receipt
	Text []string `json:"text"`
}

// =============================================================================
// REPORTS
// =============================================================================

type TotalsDTO struct {
	SaleAmount       decimal.Decimal `json:"total_sale_amount"`
	Received         decimal.Decimal `json:"total_received"`
	Credited         decimal.Decimal `json:"total_credited"`
	SalesQuantity    int64           `json:"total_sales_quantity"`
	EmptyQuantity    int64           `json:"total_empty_quantity"`
	TransactionCount int             `json:"transaction_count"`
}

type CustomerTotalsDTO struct {
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	TotalsDTO
}

// DashboardDTO is the range summary shown on the dashboard.
type DashboardDTO struct {
	Period  string  `json:"period"`
	From    *string `json:"from,omitempty"`
	To      *string `json:"to,omitempty"`
	RouteID string  `json:"route_id,omitempty"`
	TotalsDTO
	OutstandingBalance decimal.Decimal     `json:"outstanding_balance"`
	GasOnHand          int64               `json:"gas_on_hand"`
	CustomerCount      int                 `json:"customer_count"`
	ByCustomer         []CustomerTotalsDTO `json:"by_customer"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type SnapshotDTO struct {
	Balance          decimal.Decimal `json:"balance"`
	GasOnHand        int64           `json:"gas_on_hand"`
	LastPurchaseDate *string         `json:"last_purchase_date,omitempty"`
}

type DriftDTO struct {
	CustomerID   string      `json:"customer_id"`
	InSync       bool        `json:"in_sync"`
	Stored       SnapshotDTO `json:"stored"`
	Replayed     SnapshotDTO `json:"replayed"`
	Transactions int         `json:"transactions"`
	ChainBreaks  []string    `json:"chain_breaks,omitempty"`
}

type ReconciliationRunDTO struct {
	ID         string   `json:"id"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at"`
	Repair     bool     `json:"repair"`
	Checked    int      `json:"checked"`
	Drifted    []string `json:"drifted"`
	Repaired   []string `json:"repaired"`
	Error      string   `json:"error,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error         string            `json:"error"`
	Details       string            `json:"details,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:               string(c.ID),
		Name:             c.Name,
		Organization:     c.Organization,
		Phone:            c.Phone,
		Address:          c.Address,
		OwnerName:        c.OwnerName,
		OwnerPhone:       c.OwnerPhone,
		GSTNumber:        c.GSTNumber,
		RouteID:          string(c.Route),
		CredentialCode:   c.CredentialCode,
		CurrentBalance:   c.CurrentBalance,
		CurrentGasOnHand: c.CurrentGasOnHand,
		LastPurchaseDate: formatInstant(c.LastPurchaseDate),
		CreatedAt:        c.CreatedAt.Format(time.RFC3339),
		Version:          c.Version,
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                  string(tx.ID),
		CustomerID:          string(tx.CustomerID),
		RouteID:             string(tx.RouteID),
		ProductID:           string(tx.ProductID),
		Type:                string(tx.Type),
		SalesQuantity:       tx.SalesQuantity,
		EmptyQuantity:       tx.EmptyQuantity,
		CustomPrice:         tx.CustomPrice,
		IsCustomPrice:       tx.IsCustomPrice(),
		EffectivePrice:      tx.EffectivePrice,
		TodayCredit:         tx.TodayCredit,
		TotalAmountReceived: tx.TotalAmountReceived,
		PreviousBalance:     tx.PreviousBalance,
		TotalBalance:        tx.TotalBalance,
		Date:                tx.Date.Format(ledger.DateLayout),
		Timestamp:           tx.Timestamp.Format(time.RFC3339Nano),
		CustomerName:        tx.CustomerName,
		CustomerPhone:       tx.CustomerPhone,
		CustomerAddress:     tx.CustomerAddress,
		RouteName:           tx.RouteName,
		ProductName:         tx.ProductName,
		BaseProductPrice:    tx.BaseProductPrice,
		IdempotencyKey:      tx.IdempotencyKey,
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toReceiptDTO(r receipt.Receipt) ReceiptDTO {
	return ReceiptDTO{Receipt: r, Text: r.Lines()}
}

func toTotalsDTO(t ledger.Totals) TotalsDTO {
	return TotalsDTO{
		SaleAmount:       t.SaleAmount,
		Received:         t.Received,
		Credited:         t.Credited,
		SalesQuantity:    t.SalesQuantity,
		EmptyQuantity:    t.EmptyQuantity,
		TransactionCount: t.TransactionCount,
	}
}

func toDashboardDTO(period ledger.Period, s *ledger.Summary) DashboardDTO {
	dto := DashboardDTO{
		Period:             string(period),
		From:               formatDate(s.Filter.Range.From),
		To:                 formatDate(s.Filter.Range.To),
		RouteID:            string(s.Filter.RouteID),
		TotalsDTO:          toTotalsDTO(s.Totals),
		OutstandingBalance: s.OutstandingBalance,
		GasOnHand:          s.GasOnHand,
		CustomerCount:      s.CustomerCount,
		ByCustomer:         make([]CustomerTotalsDTO, len(s.ByCustomer)),
	}
	if dto.Period == "" {
		dto.Period = string(ledger.PeriodAll)
	}
	for i, ct := range s.ByCustomer {
		dto.ByCustomer[i] = CustomerTotalsDTO{
			CustomerID:   string(ct.CustomerID),
			CustomerName: ct.CustomerName,
			TotalsDTO:    toTotalsDTO(ct.Totals),
		}
	}
	return dto
}

func toSnapshotDTO(s ledger.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		Balance:          s.Balance,
		GasOnHand:        s.GasOnHand,
		LastPurchaseDate: formatInstant(s.LastPurchaseDate),
	}
}

func toDriftDTO(d *ledger.Drift) DriftDTO {
	dto := DriftDTO{
		CustomerID:   string(d.CustomerID),
		InSync:       d.InSync(),
		Stored:       toSnapshotDTO(d.Stored),
		Replayed:     toSnapshotDTO(d.Replayed),
		Transactions: d.Count,
	}
	for _, id := range d.ChainBreaks {
		dto.ChainBreaks = append(dto.ChainBreaks, string(id))
	}
	return dto
}

func toRunDTO(run ledger.ReconciliationRun) ReconciliationRunDTO {
	dto := ReconciliationRunDTO{
		ID:         run.ID,
		StartedAt:  run.StartedAt.Format(time.RFC3339),
		FinishedAt: run.FinishedAt.Format(time.RFC3339),
		Repair:     run.Repair,
		Checked:    run.Checked,
		Drifted:    make([]string, 0, len(run.Drifted)),
		Repaired:   make([]string, 0, len(run.Repaired)),
		Error:      run.Error,
	}
	for _, id := range run.Drifted {
		dto.Drifted = append(dto.Drifted, string(id))
	}
	for _, id := range run.Repaired {
		dto.Repaired = append(dto.Repaired, string(id))
	}
	return dto
}

func formatInstant(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(ledger.DateLayout)
	return &s
}

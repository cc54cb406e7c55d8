/*
handlers.go - HTTP API handlers for the cylinder ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger package.

ENDPOINTS:
  Customers:
    GET    /api/customers                    List customers
    POST   /api/customers                    Create customer (sequential id)
    GET    /api/customers/{id}               Customer with range totals
    PUT    /api/customers/{id}               Edit profile / credential
    GET    /api/customers/{id}/transactions  Ledger history
    GET    /api/customers/{id}/drift         Compare snapshot with replay
    POST   /api/customers/{id}/reconcile     Repair snapshot from ledger

  Transactions:
    POST   /api/transactions                 Record a sale or payment
    GET    /api/transactions/{id}            Single transaction
    GET    /api/transactions/{id}/receipt    Receipt (JSON, or ?format=text)

  Catalog:
    GET/POST /api/products, /api/routes

  Reports:
    GET    /api/dashboard                    Range summary
    GET    /api/reports/transactions.xlsx    Range export

  Reconciliation:
    POST   /api/reconciliation/run           ReconcileAll (?repair=true)
    GET    /api/reconciliation/runs          Run history

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid ranges
  - 404: Customer, product, route or transaction not found
  - 409: Duplicate ids or idempotency keys, concurrent modification
  - 500: Snapshot divergence (body carries the transaction id) and internal errors
  - 503: Customer lock not obtained

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/warp/cylinder-ledger/ledger"
	"github.com/warp/cylinder-ledger/receipt"
	"github.com/warp/cylinder-ledger/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the API runs on. Both the SQLite store and the
// in-memory TxMemory satisfy it.
type Backend interface {
	ledger.Store
	ledger.RunLog
	Products() ledger.Catalog[ledger.Product]
	Routes() ledger.Catalog[ledger.Route]
	SaveProduct(ctx context.Context, p ledger.Product) error
	SaveRoute(ctx context.Context, r ledger.Route) error
	Reset(ctx context.Context) error
}

// Options configure a Handler. Zero values take the ledger defaults.
type Options struct {
	Clock         ledger.Clock
	Location      *time.Location
	TxPrefix      string
	CredentialTag string
	Shop          receipt.Shop
	Locker        ledger.Locker
	Logger        *logrus.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Backend
	Registry   *ledger.Registry
	Recorder   *ledger.Recorder
	Reconciler *ledger.Reconciler
	Reporter   *ledger.Reporter

	Clock    ledger.Clock
	Location *time.Location
	Shop     receipt.Shop
	Logger   *logrus.Logger

	validate  *validator.Validate
	dashboard singleflight.Group

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the ledger services over store.
func NewHandler(store Backend, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = ledger.SystemClock
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Locker == nil {
		opts.Locker = ledger.NewKeyedMutex()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.CredentialTag == "" {
		opts.CredentialTag = ledger.DefaultCredentialTag
	}

	builder := ledger.NewBuilder(ledger.NewTransactionIDs(opts.TxPrefix, opts.Clock), opts.Location)
	return &Handler{
		Store: store,
		Registry: ledger.NewRegistry(store, store.Routes(),
			ledger.BrandCredentials{Tag: opts.CredentialTag}, opts.Clock),
		Recorder:   ledger.NewRecorder(store, store.Products(), store.Routes(), builder, opts.Locker, opts.Logger),
		Reconciler: ledger.NewReconciler(store, opts.Locker, opts.Clock, opts.Logger),
		Reporter:   ledger.NewReporter(store, store),
		Clock:      opts.Clock,
		Location:   opts.Location,
		Shop:       opts.Shop,
		Logger:     opts.Logger,
		validate:   validator.New(),
	}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCustomer returns a customer with totals over ?period= (default all).
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	c, err := h.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get customer", err)
		return
	}
	_, filter, err := h.parseFilter(r)
	if err != nil {
		writeLedgerError(w, "Invalid period", err)
		return
	}
	totals, err := h.Reporter.CustomerTotals(r.Context(), id, filter.Range)
	if err != nil {
		writeLedgerError(w, "Failed to total customer", err)
		return
	}

	writeJSON(w, http.StatusOK, CustomerDetailDTO{
		CustomerDTO: toCustomerDTO(*c),
		Totals:      toTotalsDTO(totals.Totals),
	})
}

// CreateCustomer opens a new account.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.Registry.Create(r.Context(), req.toUpdate())
	if err != nil {
		writeLedgerError(w, "Failed to create customer", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCustomerDTO(*c))
}

// UpdateCustomer edits profile fields and the credential code.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	var req CustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.Registry.UpdateProfile(r.Context(), id, req.toUpdate())
	if err != nil {
		writeLedgerError(w, "Failed to update customer", err)
		return
	}

	writeJSON(w, http.StatusOK, toCustomerDTO(*c))
}

// GetCustomerTransactions returns a customer's ledger, oldest first.
func (h *Handler) GetCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))
	ctx := r.Context()

	if _, err := h.Store.GetCustomer(ctx, id); err != nil {
		writeLedgerError(w, "Failed to get customer", err)
		return
	}
	txs, err := h.Store.LoadByCustomer(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetCustomerDrift compares the stored snapshot with a ledger replay.
func (h *Handler) GetCustomerDrift(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	drift, err := h.Reconciler.Verify(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to verify customer", err)
		return
	}

	writeJSON(w, http.StatusOK, toDriftDTO(drift))
}

// ReconcileCustomer repairs a customer snapshot from the ledger.
func (h *Handler) ReconcileCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	drift, err := h.Reconciler.Reconcile(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to reconcile customer", err)
		return
	}

	writeJSON(w, http.StatusOK, toDriftDTO(drift))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// RecordTransaction records a sale or a payment. An Idempotency-Key header
// takes precedence over the body field.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req RecordTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := ledger.TransactionInput{
		CustomerID:     ledger.CustomerID(req.CustomerID),
		RouteID:        ledger.RouteID(req.RouteID),
		Type:           ledger.TransactionType(req.Type),
		AmountReceived: req.AmountReceived,
		IdempotencyKey: req.IdempotencyKey,
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		in.IdempotencyKey = key
	}
	if in.Type == ledger.TxSale {
		in.ProductID = ledger.ProductID(req.ProductID)
		in.SalesQuantity = req.SalesQuantity
		in.EmptyQuantity = req.EmptyQuantity
		in.CustomPrice = req.CustomPrice
	}
	if req.Date != "" {
		d, err := ledger.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		in.Date = d
	}

	res, err := h.Recorder.Record(r.Context(), in)
	if err != nil {
		writeLedgerError(w, "Failed to record transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, RecordTransactionResponse{
		Transaction: toTransactionDTO(res.Transaction),
		Customer:    toCustomerDTO(res.After),
		Receipt:     toReceiptDTO(receipt.Build(h.Shop, res.Transaction, &res.Before)),
	})
}

// GetTransaction returns one ledger entry.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// GetReceipt rebuilds the receipt of a stored transaction.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	ctx := r.Context()

	tx, err := h.Store.GetTransaction(ctx, id)
	if err != nil {
		writeLedgerError(w, "Failed to get transaction", err)
		return
	}
	customer, err := h.Store.GetCustomer(ctx, tx.CustomerID)
	if err != nil && !errors.Is(err, ledger.ErrCustomerNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to get customer", err)
		return
	}

	rc := receipt.Build(h.Shop, *tx, customer)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(rc.String()))
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(rc))
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts returns the product catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.Products().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = ProductDTO{ID: string(p.ID), Name: p.Name, Price: p.Price}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct adds or replaces a product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.Price.IsNegative() {
		writeError(w, http.StatusBadRequest, "Price must not be negative", nil)
		return
	}

	p := ledger.Product{ID: ledger.ProductID(req.ID), Name: req.Name, Price: req.Price}
	if err := h.Store.SaveProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save product", err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// ListRoutes returns the route catalog.
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.Store.Routes().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list routes", err)
		return
	}

	dtos := make([]RouteDTO, len(routes))
	for i, rt := range routes {
		dtos[i] = RouteDTO{ID: string(rt.ID), Name: rt.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRoute adds or replaces a route.
func (h *Handler) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteDTO
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Store.SaveRoute(r.Context(), ledger.Route{ID: ledger.RouteID(req.ID), Name: req.Name}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save route", err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetDashboard returns the range summary. Identical concurrent requests share
// one computation.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	period, filter, err := h.parseFilter(r)
	if err != nil {
		writeLedgerError(w, "Invalid period", err)
		return
	}

	key := dashboardKey(filter)
	ch := h.dashboard.DoChan(key, func() (any, error) {
		// Detached from the first caller so its cancellation does not fail
		// the others waiting on the same key.
		return h.Reporter.Summarize(context.WithoutCancel(r.Context()), filter)
	})

	select {
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "Request cancelled", r.Context().Err())
	case res := <-ch:
		if res.Err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to build dashboard", res.Err)
			return
		}
		writeJSON(w, http.StatusOK, toDashboardDTO(period, res.Val.(*ledger.Summary)))
	}
}

// ExportTransactions streams the range as an XLSX workbook.
func (h *Handler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.parseFilter(r)
	if err != nil {
		writeLedgerError(w, "Invalid period", err)
		return
	}
	ctx := r.Context()

	summary, err := h.Reporter.Summarize(ctx, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize", err)
		return
	}
	txs, err := h.Reporter.Transactions(ctx, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=transactions.xlsx")
	if err := report.WriteXLSX(w, summary, txs); err != nil {
		h.Logger.WithField("route_id", filter.RouteID).Error("xlsx export failed: " + err.Error())
	}
}

// parseFilter reads period, from, to and route_id query parameters.
func (h *Handler) parseFilter(r *http.Request) (ledger.Period, ledger.Filter, error) {
	q := r.URL.Query()
	period := ledger.Period(q.Get("period"))

	var from, to *time.Time
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		d, err := ledger.ParseDate(raw)
		if err != nil {
			return "", ledger.Filter{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", ledger.ErrInvalidRange, p.name)
		}
		*p.dst = &d
	}
	if period == "" && (from != nil || to != nil) {
		period = ledger.PeriodCustom
	}

	today := h.Clock.Now().In(h.Location)
	rng, err := ledger.ResolveRange(period, today, from, to)
	if err != nil {
		return "", ledger.Filter{}, err
	}
	return period, ledger.Filter{Range: rng, RouteID: ledger.RouteID(q.Get("route_id"))}, nil
}

func dashboardKey(f ledger.Filter) string {
	var b strings.Builder
	for _, t := range []*time.Time{f.Range.From, f.Range.To} {
		if t != nil {
			b.WriteString(t.Format(ledger.DateLayout))
		}
		b.WriteByte('|')
	}
	b.WriteString(string(f.RouteID))
	return b.String()
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// RunReconciliation verifies every customer; ?repair=true also fixes drift.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))

	run, err := h.Reconciler.ReconcileAll(r.Context(), repair)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run reconciliation", err)
		return
	}

	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

// ListReconciliationRuns returns recent reconciliation runs.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]ReconciliationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Details: err.Error(),
				Fields:  fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps ledger errors onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, message string, err error) {
	var inc *ledger.InconsistencyError
	if errors.As(err, &inc) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:         message,
			Details:       err.Error(),
			TransactionID: string(inc.TransactionID),
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case ledger.IsClientError(err):
		status = http.StatusBadRequest
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case ledger.IsConflict(err):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrLockNotObtained):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, message, err)
}

// decimalOrZero is used by scenario loaders.
func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the database with realistic
	data for demos. Every transaction goes through the Recorder, so loaded
	data obeys the same rules as live traffic.

AVAILABLE SCENARIOS:

	single-route:  One route, two products, three customers, a week of sales
	multi-route:   Two routes, customer in credit, more empties than issued
	drifted:       Like single-route, with one snapshot deliberately corrupted
	               so the reconciliation endpoints have something to repair

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save routes and products
 3. Create customers through the Registry
 4. Record sales and payments through the Recorder, back-dated

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "multi-route"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/cylinder-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-route",
		Name:        "Single Route",
		Description: "One delivery route, domestic and commercial cylinders, a week of sales and payments",
	},
	{
		ID:          "multi-route",
		Name:        "Multi Route",
		Description: "Two routes, a customer in credit and a customer holding negative cylinders",
	},
	{
		ID:          "drifted",
		Name:        "Drifted Snapshot",
		Description: "Single route with one customer snapshot out of step with its ledger",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
	})
}

var errUnknownScenario = errors.New("unknown scenario")

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "single-route":
		load = h.loadSingleRouteScenario
	case "multi-route":
		load = h.loadMultiRouteScenario
	case "drifted":
		load = h.loadDriftedScenario
	default:
		return errUnknownScenario
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := load(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// scenarioTx is a back-dated transaction; daysAgo is relative to today.
type scenarioTx struct {
	customer int
	daysAgo  int
	route    ledger.RouteID
	typ      ledger.TransactionType
	product  ledger.ProductID
	qty      int64
	empty    int64
	custom   string
	received string
}

func (h *Handler) loadSingleRouteScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx, []ledger.Route{
		{ID: "north", Name: "North Route"},
	}); err != nil {
		return err
	}

	ids, err := h.seedCustomers(ctx, []ledger.Profile{
		{Name: "Ravi Kumar", Phone: "9876543210", Address: "12 MG Road", Route: "north"},
		{Name: "Lakshmi Stores", Organization: "Lakshmi Stores Pvt Ltd", Phone: "9845012345",
			OwnerName: "Lakshmi Devi", GSTNumber: "29ABCDE1234F1Z5", Route: "north"},
		{Name: "Hotel Annapurna", Phone: "08023456789", Address: "4 Station Road", Route: "north"},
	})
	if err != nil {
		return err
	}

	return h.seedTransactions(ctx, ids, []scenarioTx{
		{customer: 0, daysAgo: 6, route: "north", typ: ledger.TxSale, product: "dom-14", qty: 2, received: "1000"},
		{customer: 1, daysAgo: 6, route: "north", typ: ledger.TxSale, product: "dom-14", qty: 5, empty: 3, received: "4527.50"},
		{customer: 2, daysAgo: 5, route: "north", typ: ledger.TxSale, product: "com-19", qty: 3, received: "0"},
		{customer: 0, daysAgo: 3, route: "north", typ: ledger.TxPayment, received: "811"},
		{customer: 2, daysAgo: 2, route: "north", typ: ledger.TxSale, product: "com-19", qty: 2, empty: 3, custom: "1800", received: "5000"},
		{customer: 1, daysAgo: 0, route: "north", typ: ledger.TxSale, product: "dom-14", qty: 4, empty: 4, received: "3622"},
	})
}

func (h *Handler) loadMultiRouteScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx, []ledger.Route{
		{ID: "north", Name: "North Route"},
		{ID: "south", Name: "South Route"},
	}); err != nil {
		return err
	}

	ids, err := h.seedCustomers(ctx, []ledger.Profile{
		{Name: "Ravi Kumar", Phone: "9876543210", Route: "north"},
		{Name: "Meena Tiffin Centre", Phone: "9900112233", Route: "south"},
		{Name: "Sri Sai Caterers", Phone: "9123456780", Route: "south"},
	})
	if err != nil {
		return err
	}

	return h.seedTransactions(ctx, ids, []scenarioTx{
		{customer: 0, daysAgo: 20, route: "north", typ: ledger.TxSale, product: "dom-14", qty: 1, received: "905.50"},
		// Overpayment leaves Meena in credit.
		{customer: 1, daysAgo: 10, route: "south", typ: ledger.TxSale, product: "com-19", qty: 1, received: "2000"},
		// Returns more empties than issued.
		{customer: 2, daysAgo: 8, route: "south", typ: ledger.TxSale, product: "com-19", qty: 1, empty: 4, received: "1850"},
		{customer: 0, daysAgo: 1, route: "north", typ: ledger.TxSale, product: "dom-14", qty: 2, empty: 1, custom: "880", received: "1000"},
		{customer: 2, daysAgo: 0, route: "south", typ: ledger.TxPayment, received: "0"},
	})
}

func (h *Handler) loadDriftedScenario(ctx context.Context) error {
	if err := h.loadSingleRouteScenario(ctx); err != nil {
		return err
	}

	c, err := h.Store.GetCustomer(ctx, "00001")
	if err != nil {
		return err
	}
	corrupt := c.Snapshot()
	corrupt.Balance = corrupt.Balance.Add(decimal.NewFromInt(500))
	corrupt.GasOnHand += 2
	return h.Store.SaveSnapshot(ctx, corrupt, c.Version)
}

func (h *Handler) seedCatalog(ctx context.Context, routes []ledger.Route) error {
	for _, rt := range routes {
		if err := h.Store.SaveRoute(ctx, rt); err != nil {
			return err
		}
	}
	for _, p := range []ledger.Product{
		{ID: "dom-14", Name: "14.2kg Domestic", Price: decimalOrZero("905.50")},
		{ID: "com-19", Name: "19kg Commercial", Price: decimalOrZero("1850")},
	} {
		if err := h.Store.SaveProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedCustomers(ctx context.Context, profiles []ledger.Profile) ([]ledger.CustomerID, error) {
	ids := make([]ledger.CustomerID, len(profiles))
	for i, p := range profiles {
		c, err := h.Registry.Create(ctx, ledger.ProfileUpdate{Profile: p})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", p.Name, err)
		}
		ids[i] = c.ID
	}
	return ids, nil
}

func (h *Handler) seedTransactions(ctx context.Context, ids []ledger.CustomerID, txs []scenarioTx) error {
	today := ledger.DateOf(h.Clock.Now().In(h.Location))
	for i, st := range txs {
		in := ledger.TransactionInput{
			CustomerID:     ids[st.customer],
			RouteID:        st.route,
			Type:           st.typ,
			ProductID:      st.product,
			SalesQuantity:  st.qty,
			EmptyQuantity:  st.empty,
			AmountReceived: decimalOrZero(st.received),
			Date:           today.AddDate(0, 0, -st.daysAgo),
		}
		if st.custom != "" {
			p := decimalOrZero(st.custom)
			in.CustomPrice = &p
		}
		if _, err := h.Recorder.Record(ctx, in); err != nil {
			return fmt.Errorf("scenario transaction %d: %w", i+1, err)
		}
	}
	return nil
}

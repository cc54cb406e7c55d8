// Package store provides in-memory ledger stores for tests and development.
package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/warp/cylinder-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store without a unit of work, so the Recorder
// uses its two-phase path against it. Use TxMemory for atomic commits.
type Memory struct {
	mu           sync.RWMutex
	transactions []ledger.Transaction
	byID         map[ledger.TransactionID]int
	idempotency  map[string]bool
	customers    map[ledger.CustomerID]ledger.Customer
	runs         []ledger.ReconciliationRun

	catalogMu sync.RWMutex
	products  map[ledger.ProductID]ledger.Product
	routes    map[ledger.RouteID]ledger.Route

	// FailSnapshot, when set, is consulted before every snapshot write and
	// its error returned in place of the write. Tests use it to simulate a
	// crash between the ledger append and the snapshot update.
	FailSnapshot func(s ledger.Snapshot) error
}

func NewMemory() *Memory {
	return &Memory{
		byID:        make(map[ledger.TransactionID]int),
		idempotency: make(map[string]bool),
		customers:   make(map[ledger.CustomerID]ledger.Customer),
		products:    make(map[ledger.ProductID]ledger.Product),
		routes:      make(map[ledger.RouteID]ledger.Route),
	}
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx ledger.Transaction) error {
	if _, ok := m.byID[tx.ID]; ok {
		return ledger.ErrDuplicateTransactionID
	}
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}

	i := sort.Search(len(m.transactions), func(i int) bool {
		return chronologicallyAfter(m.transactions[i], tx)
	})
	m.transactions = append(m.transactions, ledger.Transaction{})
	copy(m.transactions[i+1:], m.transactions[i:])
	m.transactions[i] = tx
	for j := i; j < len(m.transactions); j++ {
		m.byID[m.transactions[j].ID] = j
	}

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func chronologicallyAfter(a, b ledger.Transaction) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	tx := m.transactions[i]
	return &tx, nil
}

func (m *Memory) LoadByCustomer(_ context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadByCustomerLocked(customerID), nil
}

func (m *Memory) loadByCustomerLocked(customerID ledger.CustomerID) []ledger.Transaction {
	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.CustomerID == customerID {
			result = append(result, tx)
		}
	}
	return result
}

func (m *Memory) LoadRange(_ context.Context, r ledger.DateRange) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if r.Contains(tx.Date) {
			result = append(result, tx)
		}
	}
	return result, nil
}

// MaxTransactionID returns the largest id with the given prefix.
func (m *Memory) MaxTransactionID(_ context.Context, prefix string) (ledger.TransactionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest ledger.TransactionID
	for id := range m.byID {
		if strings.HasPrefix(string(id), prefix) && id > latest {
			latest = id
		}
	}
	return latest, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

func (m *Memory) GetCustomer(_ context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCustomerLocked(id)
}

func (m *Memory) getCustomerLocked(id ledger.CustomerID) (*ledger.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, ledger.ErrCustomerNotFound
	}
	return &c, nil
}

func (m *Memory) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) MaxCustomerID(_ context.Context) (ledger.CustomerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		max   ledger.CustomerID
		maxN  uint64
		found bool
	)
	for id := range m.customers {
		n, err := strconv.ParseUint(string(id), 10, 64)
		if err != nil {
			continue
		}
		if !found || n > maxN {
			max, maxN, found = id, n, true
		}
	}
	return max, nil
}

func (m *Memory) InsertCustomer(_ context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.ID]; ok {
		return ledger.ErrDuplicateCustomerID
	}
	c.Version = 0
	m.customers[c.ID] = c
	return nil
}

func (m *Memory) UpdateProfile(_ context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.customers[c.ID]
	if !ok {
		return ledger.ErrCustomerNotFound
	}
	stored.Profile = c.Profile
	stored.CredentialCode = c.CredentialCode
	m.customers[c.ID] = stored
	return nil
}

func (m *Memory) SaveSnapshot(_ context.Context, s ledger.Snapshot, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSnapshotLocked(s, expectedVersion)
}

func (m *Memory) saveSnapshotLocked(s ledger.Snapshot, expectedVersion int64) error {
	if m.FailSnapshot != nil {
		if err := m.FailSnapshot(s); err != nil {
			return err
		}
	}
	c, ok := m.customers[s.CustomerID]
	if !ok {
		return ledger.ErrCustomerNotFound
	}
	if c.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	c = c.WithSnapshot(s)
	c.Version++
	m.customers[s.CustomerID] = c
	return nil
}

// -----------------------------------------------------------------------------
// Reconciliation runs
// -----------------------------------------------------------------------------

func (m *Memory) SaveRun(_ context.Context, run ledger.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// ListRuns returns the newest runs first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.ReconciliationRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, m.runs[i])
	}
	return result, nil
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

// Reset drops every record, catalog included.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	m.transactions = nil
	m.byID = make(map[ledger.TransactionID]int)
	m.idempotency = make(map[string]bool)
	m.customers = make(map[ledger.CustomerID]ledger.Customer)
	m.runs = nil
	m.mu.Unlock()

	m.catalogMu.Lock()
	m.products = make(map[ledger.ProductID]ledger.Product)
	m.routes = make(map[ledger.RouteID]ledger.Route)
	m.catalogMu.Unlock()
	return nil
}

func (m *Memory) SaveProduct(_ context.Context, p ledger.Product) error {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *Memory) SaveRoute(_ context.Context, r ledger.Route) error {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()
	m.routes[r.ID] = r
	return nil
}

// Products returns the product catalog reader.
func (m *Memory) Products() ledger.Catalog[ledger.Product] { return productCatalog{m} }

// Routes returns the route catalog reader.
func (m *Memory) Routes() ledger.Catalog[ledger.Route] { return routeCatalog{m} }

type productCatalog struct{ m *Memory }

func (c productCatalog) Get(_ context.Context, id string) (*ledger.Product, error) {
	c.m.catalogMu.RLock()
	defer c.m.catalogMu.RUnlock()
	p, ok := c.m.products[ledger.ProductID(id)]
	if !ok {
		return nil, ledger.ErrProductNotFound
	}
	return &p, nil
}

func (c productCatalog) List(_ context.Context) ([]ledger.Product, error) {
	c.m.catalogMu.RLock()
	defer c.m.catalogMu.RUnlock()
	result := make([]ledger.Product, 0, len(c.m.products))
	for _, p := range c.m.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

type routeCatalog struct{ m *Memory }

func (c routeCatalog) Get(_ context.Context, id string) (*ledger.Route, error) {
	c.m.catalogMu.RLock()
	defer c.m.catalogMu.RUnlock()
	r, ok := c.m.routes[ledger.RouteID(id)]
	if !ok {
		return nil, ledger.ErrRouteNotFound
	}
	return &r, nil
}

func (c routeCatalog) List(_ context.Context) ([]ledger.Route, error) {
	c.m.catalogMu.RLock()
	defer c.m.catalogMu.RUnlock()
	result := make([]ledger.Route, 0, len(c.m.routes))
	for _, r := range c.m.routes {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with a unit of work.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn with exclusive access, restoring the previous state if
// fn returns an error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions []ledger.Transaction
	byID         map[ledger.TransactionID]int
	idempotency  map[string]bool
	customers    map[ledger.CustomerID]ledger.Customer
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		transactions: append([]ledger.Transaction{}, tm.transactions...),
		byID:         make(map[ledger.TransactionID]int, len(tm.byID)),
		idempotency:  make(map[string]bool, len(tm.idempotency)),
		customers:    make(map[ledger.CustomerID]ledger.Customer, len(tm.customers)),
	}
	for k, v := range tm.byID {
		s.byID[k] = v
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range tm.customers {
		s.customers[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.transactions = s.transactions
	tm.byID = s.byID
	tm.idempotency = s.idempotency
	tm.customers = s.customers
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it only calls the *Locked helpers.
type txMemoryView struct {
	parent *Memory
}

func (v *txMemoryView) Append(_ context.Context, tx ledger.Transaction) error {
	return v.parent.appendLocked(tx)
}

func (v *txMemoryView) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	i, ok := v.parent.byID[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	tx := v.parent.transactions[i]
	return &tx, nil
}

func (v *txMemoryView) LoadByCustomer(_ context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return v.parent.loadByCustomerLocked(customerID), nil
}

func (v *txMemoryView) LoadRange(_ context.Context, r ledger.DateRange) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for _, tx := range v.parent.transactions {
		if r.Contains(tx.Date) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (v *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return v.parent.idempotency[idempotencyKey], nil
}

func (v *txMemoryView) GetCustomer(_ context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return v.parent.getCustomerLocked(id)
}

func (v *txMemoryView) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	result := make([]ledger.Customer, 0, len(v.parent.customers))
	for _, c := range v.parent.customers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (v *txMemoryView) MaxCustomerID(_ context.Context) (ledger.CustomerID, error) {
	var max ledger.CustomerID
	var maxN uint64
	for id := range v.parent.customers {
		if n, err := strconv.ParseUint(string(id), 10, 64); err == nil && (max == "" || n > maxN) {
			max, maxN = id, n
		}
	}
	return max, nil
}

func (v *txMemoryView) InsertCustomer(_ context.Context, c ledger.Customer) error {
	if _, ok := v.parent.customers[c.ID]; ok {
		return ledger.ErrDuplicateCustomerID
	}
	c.Version = 0
	v.parent.customers[c.ID] = c
	return nil
}

func (v *txMemoryView) UpdateProfile(_ context.Context, c ledger.Customer) error {
	stored, ok := v.parent.customers[c.ID]
	if !ok {
		return ledger.ErrCustomerNotFound
	}
	stored.Profile = c.Profile
	stored.CredentialCode = c.CredentialCode
	v.parent.customers[c.ID] = stored
	return nil
}

func (v *txMemoryView) SaveSnapshot(_ context.Context, s ledger.Snapshot, expectedVersion int64) error {
	return v.parent.saveSnapshotLocked(s, expectedVersion)
}

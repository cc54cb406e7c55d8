/*
Package sqlite provides a SQLite-backed implementation of the ledger storage interfaces.

INTERFACES IMPLEMENTED:
  ledger.TxStore:         Transactions + customer snapshots, atomic WithTx
  ledger.RunLog:          Reconciliation run history
  ledger.Catalog[T]:      Products() and Routes() readers

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the transactions table
  - No DELETE statements on the transactions table outside Reset, which
    only the demo scenario loader calls

KEY TABLES:
  transactions:        Immutable ledger of sales and payments
  customers:           Profile + snapshot (balance, gas on hand) + version
  products, routes:    Catalog records
  reconciliation_runs: History of ReconcileAll passes

OPTIMISTIC CONCURRENCY:
  Snapshot writes are
    UPDATE customers SET ..., version = version + 1 WHERE id = ? AND version = ?
  and report ledger.ErrConcurrentModification when no row matched.

CONNECTIONS:
  The pool is pinned to one connection. ":memory:" databases are per
  connection, and SQLite allows a single writer anyway.

USAGE:
  store, err := sqlite.New("./data/cylinders.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/cylinder-ledger/ledger"
)

// timestampLayout is fixed width so lexical order equals chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		route_id TEXT NOT NULL,
		product_id TEXT,
		tx_type TEXT NOT NULL,
		sales_quantity INTEGER NOT NULL DEFAULT 0,
		empty_quantity INTEGER NOT NULL DEFAULT 0,
		custom_price TEXT,
		effective_price TEXT NOT NULL,
		today_credit TEXT NOT NULL,
		total_amount_received TEXT NOT NULL,
		previous_balance TEXT NOT NULL,
		total_balance TEXT NOT NULL,
		date TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		details_json TEXT,
		idempotency_key TEXT UNIQUE
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_customer_ts
		ON transactions(customer_id, timestamp, id);
	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(date);
	CREATE INDEX IF NOT EXISTS idx_transactions_route_date
		ON transactions(route_id, date);

	-- Customers (profile + snapshot)
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		organization TEXT,
		phone TEXT,
		address TEXT,
		owner_name TEXT,
		owner_phone TEXT,
		gst_number TEXT,
		route_id TEXT,
		credential_code TEXT,
		current_balance TEXT NOT NULL DEFAULT '0',
		current_gas_on_hand INTEGER NOT NULL DEFAULT 0,
		last_purchase_date TEXT,
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	);

	-- Catalog
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	-- Reconciliation Runs
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		repair BOOLEAN NOT NULL DEFAULT FALSE,
		checked INTEGER NOT NULL DEFAULT 0,
		drifted_json TEXT,
		repaired_json TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer and querier are satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn interface {
	execer
	querier
}

// =============================================================================
// TRANSACTION STORE (ledger.LedgerStore)
// =============================================================================

// txDetails holds the denormalized receipt fields.
type txDetails struct {
	CustomerName     string `json:"customer_name,omitempty"`
	CustomerPhone    string `json:"customer_phone,omitempty"`
	CustomerAddress  string `json:"customer_address,omitempty"`
	RouteName        string `json:"route_name,omitempty"`
	ProductName      string `json:"product_name,omitempty"`
	BaseProductPrice string `json:"base_product_price,omitempty"`
}

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, db execer, tx ledger.Transaction) error {
	details, err := json.Marshal(txDetails{
		CustomerName:     tx.CustomerName,
		CustomerPhone:    tx.CustomerPhone,
		CustomerAddress:  tx.CustomerAddress,
		RouteName:        tx.RouteName,
		ProductName:      tx.ProductName,
		BaseProductPrice: tx.BaseProductPrice.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode transaction details: %w", err)
	}

	var customPrice sql.NullString
	if tx.CustomPrice != nil {
		customPrice = sql.NullString{String: tx.CustomPrice.String(), Valid: true}
	}

	query := `
		INSERT INTO transactions
		(id, customer_id, route_id, product_id, tx_type, sales_quantity, empty_quantity,
		 custom_price, effective_price, today_credit, total_amount_received,
		 previous_balance, total_balance, date, timestamp, details_json, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		tx.ID,
		tx.CustomerID,
		tx.RouteID,
		nullString(string(tx.ProductID)),
		tx.Type,
		tx.SalesQuantity,
		tx.EmptyQuantity,
		customPrice,
		tx.EffectivePrice.String(),
		tx.TodayCredit.String(),
		tx.TotalAmountReceived.String(),
		tx.PreviousBalance.String(),
		tx.TotalBalance.String(),
		tx.Date.Format(ledger.DateLayout),
		formatTimestamp(tx.Timestamp),
		string(details),
		nullString(tx.IdempotencyKey),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "idempotency_key") {
				return ledger.ErrDuplicateIdempotencyKey
			}
			return ledger.ErrDuplicateTransactionID
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

const selectTransactions = `
	SELECT id, customer_id, route_id, product_id, tx_type, sales_quantity, empty_quantity,
	       custom_price, effective_price, today_credit, total_amount_received,
	       previous_balance, total_balance, date, timestamp, details_json, idempotency_key
	FROM transactions
`

// GetTransaction retrieves a transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, db querier, id ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, db, selectTransactions+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, ledger.ErrTransactionNotFound
	}
	return &txs[0], nil
}

// LoadByCustomer returns a customer's transactions chronologically.
func (s *Store) LoadByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return loadByCustomer(ctx, s.db, customerID)
}

func loadByCustomer(ctx context.Context, db querier, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, db,
		selectTransactions+" WHERE customer_id = ? ORDER BY timestamp ASC, id ASC", customerID)
}

// LoadRange returns transactions whose logical date is in r.
func (s *Store) LoadRange(ctx context.Context, r ledger.DateRange) ([]ledger.Transaction, error) {
	return loadRange(ctx, s.db, r)
}

func loadRange(ctx context.Context, db querier, r ledger.DateRange) ([]ledger.Transaction, error) {
	query := selectTransactions + " WHERE 1 = 1"
	var args []any
	if r.From != nil {
		query += " AND date >= ?"
		args = append(args, ledger.DateOf(*r.From).Format(ledger.DateLayout))
	}
	if r.To != nil {
		query += " AND date <= ?"
		args = append(args, ledger.DateOf(*r.To).Format(ledger.DateLayout))
	}
	query += " ORDER BY timestamp ASC, id ASC"
	return queryTransactions(ctx, db, query, args...)
}

// MaxTransactionID returns the largest id starting with prefix, or "".
// Ids under one prefix have a fixed width, so text order is id order.
func (s *Store) MaxTransactionID(ctx context.Context, prefix string) (ledger.TransactionID, error) {
	var id sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(id) FROM transactions WHERE substr(id, 1, ?) = ?",
		len(prefix), prefix,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to read max transaction id: %w", err)
	}
	return ledger.TransactionID(id.String), nil
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return exists(ctx, s.db, idempotencyKey)
}

func exists(ctx context.Context, db querier, idempotencyKey string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func queryTransactions(ctx context.Context, db querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		productID      sql.NullString
		customPrice    sql.NullString
		effectivePrice string
		todayCredit    string
		received       string
		previous       string
		total          string
		date           string
		timestamp      string
		detailsJSON    sql.NullString
		idempotencyKey sql.NullString
	)

	err := rows.Scan(
		&tx.ID, &tx.CustomerID, &tx.RouteID, &productID, &tx.Type,
		&tx.SalesQuantity, &tx.EmptyQuantity, &customPrice, &effectivePrice,
		&todayCredit, &received, &previous, &total, &date, &timestamp,
		&detailsJSON, &idempotencyKey,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	var col columns
	tx.ProductID = ledger.ProductID(productID.String)
	if customPrice.Valid {
		p := col.decimal("custom_price", customPrice.String)
		tx.CustomPrice = &p
	}
	tx.EffectivePrice = col.decimal("effective_price", effectivePrice)
	tx.TodayCredit = col.decimal("today_credit", todayCredit)
	tx.TotalAmountReceived = col.decimal("total_amount_received", received)
	tx.PreviousBalance = col.decimal("previous_balance", previous)
	tx.TotalBalance = col.decimal("total_balance", total)
	tx.Date = col.date("date", date)
	tx.Timestamp = col.timestamp("timestamp", timestamp)
	tx.IdempotencyKey = idempotencyKey.String

	if detailsJSON.Valid && detailsJSON.String != "" {
		var d txDetails
		if err := json.Unmarshal([]byte(detailsJSON.String), &d); err != nil {
			return tx, fmt.Errorf("transaction %s: invalid details: %w", tx.ID, err)
		}
		tx.CustomerName = d.CustomerName
		tx.CustomerPhone = d.CustomerPhone
		tx.CustomerAddress = d.CustomerAddress
		tx.RouteName = d.RouteName
		tx.ProductName = d.ProductName
		if d.BaseProductPrice != "" {
			tx.BaseProductPrice = col.decimal("base_product_price", d.BaseProductPrice)
		}
	}
	if col.err != nil {
		return tx, fmt.Errorf("transaction %s: %w", tx.ID, col.err)
	}
	return tx, nil
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore)
// =============================================================================

const selectCustomers = `
	SELECT id, name, organization, phone, address, owner_name, owner_phone, gst_number,
	       route_id, credential_code, current_balance, current_gas_on_hand,
	       last_purchase_date, created_at, version
	FROM customers
`

// GetCustomer retrieves a customer by ID.
func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return getCustomer(ctx, s.db, id)
}

func getCustomer(ctx context.Context, db querier, id ledger.CustomerID) (*ledger.Customer, error) {
	customers, err := queryCustomers(ctx, db, selectCustomers+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, ledger.ErrCustomerNotFound
	}
	return &customers[0], nil
}

// ListCustomers returns all customers ordered by id.
func (s *Store) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return queryCustomers(ctx, s.db, selectCustomers+" ORDER BY id")
}

// MaxCustomerID returns the numerically largest customer id.
func (s *Store) MaxCustomerID(ctx context.Context) (ledger.CustomerID, error) {
	var id sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM customers WHERE id GLOB '[0-9]*' ORDER BY CAST(id AS INTEGER) DESC LIMIT 1",
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ledger.CustomerID(id.String), nil
}

// InsertCustomer creates a customer row.
func (s *Store) InsertCustomer(ctx context.Context, c ledger.Customer) error {
	query := `
		INSERT INTO customers
		(id, name, organization, phone, address, owner_name, owner_phone, gst_number,
		 route_id, credential_code, current_balance, current_gas_on_hand,
		 last_purchase_date, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Organization, c.Phone, c.Address, c.OwnerName, c.OwnerPhone,
		c.GSTNumber, nullString(string(c.Route)), c.CredentialCode,
		c.CurrentBalance.String(), c.CurrentGasOnHand,
		nullTimestamp(c.LastPurchaseDate), formatTimestamp(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateCustomerID
		}
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

// UpdateProfile replaces profile fields and the credential code.
func (s *Store) UpdateProfile(ctx context.Context, c ledger.Customer) error {
	query := `
		UPDATE customers SET
			name = ?, organization = ?, phone = ?, address = ?, owner_name = ?,
			owner_phone = ?, gst_number = ?, route_id = ?, credential_code = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		c.Name, c.Organization, c.Phone, c.Address, c.OwnerName, c.OwnerPhone,
		c.GSTNumber, nullString(string(c.Route)), c.CredentialCode, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrCustomerNotFound
	}
	return nil
}

// SaveSnapshot writes the projected fields guarded by the version token.
func (s *Store) SaveSnapshot(ctx context.Context, snap ledger.Snapshot, expectedVersion int64) error {
	return saveSnapshot(ctx, s.db, snap, expectedVersion)
}

func saveSnapshot(ctx context.Context, db conn, snap ledger.Snapshot, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE customers SET
			current_balance = ?, current_gas_on_hand = ?, last_purchase_date = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`, snap.Balance.String(), snap.GasOnHand, nullTimestamp(snap.LastPurchaseDate),
		snap.CustomerID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var found int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers WHERE id = ?", snap.CustomerID).Scan(&found); err != nil {
		return err
	}
	if found == 0 {
		return ledger.ErrCustomerNotFound
	}
	return ledger.ErrConcurrentModification
}

func queryCustomers(ctx context.Context, db querier, query string, args ...any) ([]ledger.Customer, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []ledger.Customer
	for rows.Next() {
		var (
			c                                                   ledger.Customer
			organization, phone, address, ownerName, ownerPhone sql.NullString
			gst, routeID, credential, lastPurchase              sql.NullString
			balance, createdAt                                  string
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &organization, &phone, &address, &ownerName, &ownerPhone, &gst,
			&routeID, &credential, &balance, &c.CurrentGasOnHand, &lastPurchase,
			&createdAt, &c.Version,
		); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		c.Organization = organization.String
		c.Phone = phone.String
		c.Address = address.String
		c.OwnerName = ownerName.String
		c.OwnerPhone = ownerPhone.String
		c.GSTNumber = gst.String
		c.Route = ledger.RouteID(routeID.String)
		c.CredentialCode = credential.String

		var col columns
		c.CurrentBalance = col.decimal("current_balance", balance)
		if lastPurchase.Valid {
			t := col.timestamp("last_purchase_date", lastPurchase.String)
			c.LastPurchaseDate = &t
		}
		c.CreatedAt = col.timestamp("created_at", createdAt)
		if col.err != nil {
			return nil, fmt.Errorf("customer %s: %w", c.ID, col.err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every call through the open *sql.Tx; the single pooled
// connection is held by it.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) LoadByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return loadByCustomer(ctx, ts.tx, customerID)
}

func (ts *txStore) LoadRange(ctx context.Context, r ledger.DateRange) ([]ledger.Transaction, error) {
	return loadRange(ctx, ts.tx, r)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return exists(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return getCustomer(ctx, ts.tx, id)
}

func (ts *txStore) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return queryCustomers(ctx, ts.tx, selectCustomers+" ORDER BY id")
}

func (ts *txStore) MaxCustomerID(ctx context.Context) (ledger.CustomerID, error) {
	return "", fmt.Errorf("sqlite: MaxCustomerID is not available inside a unit of work")
}

func (ts *txStore) InsertCustomer(ctx context.Context, c ledger.Customer) error {
	return fmt.Errorf("sqlite: InsertCustomer is not available inside a unit of work")
}

func (ts *txStore) UpdateProfile(ctx context.Context, c ledger.Customer) error {
	return fmt.Errorf("sqlite: UpdateProfile is not available inside a unit of work")
}

func (ts *txStore) SaveSnapshot(ctx context.Context, snap ledger.Snapshot, expectedVersion int64) error {
	return saveSnapshot(ctx, ts.tx, snap, expectedVersion)
}

// =============================================================================
// CATALOG
// =============================================================================

// SaveProduct upserts a product.
func (s *Store) SaveProduct(ctx context.Context, p ledger.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, price = excluded.price
	`, p.ID, p.Name, p.Price.String())
	return err
}

// SaveRoute upserts a route.
func (s *Store) SaveRoute(ctx context.Context, r ledger.Route) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routes (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, r.ID, r.Name)
	return err
}

// Products returns the product catalog reader.
func (s *Store) Products() ledger.Catalog[ledger.Product] { return productCatalog{s.db} }

// Routes returns the route catalog reader.
func (s *Store) Routes() ledger.Catalog[ledger.Route] { return routeCatalog{s.db} }

type productCatalog struct{ db *sql.DB }

func (c productCatalog) Get(ctx context.Context, id string) (*ledger.Product, error) {
	var p ledger.Product
	var price string
	err := c.db.QueryRowContext(ctx, "SELECT id, name, price FROM products WHERE id = ?", id).
		Scan(&p.ID, &p.Name, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	var col columns
	p.Price = col.decimal("price", price)
	if col.err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, col.err)
	}
	return &p, nil
}

func (c productCatalog) List(ctx context.Context) ([]ledger.Product, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, name, price FROM products ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []ledger.Product
	for rows.Next() {
		var p ledger.Product
		var price string
		if err := rows.Scan(&p.ID, &p.Name, &price); err != nil {
			return nil, err
		}
		var col columns
		p.Price = col.decimal("price", price)
		if col.err != nil {
			return nil, fmt.Errorf("product %s: %w", p.ID, col.err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type routeCatalog struct{ db *sql.DB }

func (c routeCatalog) Get(ctx context.Context, id string) (*ledger.Route, error) {
	var r ledger.Route
	err := c.db.QueryRowContext(ctx, "SELECT id, name FROM routes WHERE id = ?", id).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrRouteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c routeCatalog) List(ctx context.Context) ([]ledger.Route, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, name FROM routes ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []ledger.Route
	for rows.Next() {
		var r ledger.Route
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// =============================================================================
// RECONCILIATION RUNS (ledger.RunLog)
// =============================================================================

// SaveRun records a reconciliation run.
func (s *Store) SaveRun(ctx context.Context, run ledger.ReconciliationRun) error {
	drifted, _ := json.Marshal(run.Drifted)
	repaired, _ := json.Marshal(run.Repaired)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
		(id, started_at, finished_at, repair, checked, drifted_json, repaired_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, formatTimestamp(run.StartedAt), formatTimestamp(run.FinishedAt), run.Repair,
		run.Checked, string(drifted), string(repaired), nullString(run.Error))
	return err
}

// ListRuns returns the newest runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, repair, checked, drifted_json, repaired_json, error
		FROM reconciliation_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ledger.ReconciliationRun
	for rows.Next() {
		var (
			run               ledger.ReconciliationRun
			started, finished string
			drifted, repaired sql.NullString
			errText           sql.NullString
		)
		if err := rows.Scan(&run.ID, &started, &finished, &run.Repair, &run.Checked,
			&drifted, &repaired, &errText); err != nil {
			return nil, err
		}
		var col columns
		run.StartedAt = col.timestamp("started_at", started)
		run.FinishedAt = col.timestamp("finished_at", finished)
		col.json("drifted_json", drifted, &run.Drifted)
		col.json("repaired_json", repaired, &run.Repaired)
		if col.err != nil {
			return nil, fmt.Errorf("reconciliation run %s: %w", run.ID, col.err)
		}
		run.Error = errText.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Reset clears every table. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"transactions", "customers", "products", "routes", "reconciliation_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*t), Valid: true}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// columns decodes text columns and keeps the first failure, so a corrupt
// row surfaces as a read error instead of zero values.
type columns struct {
	err error
}

func (c *columns) fail(name, value string, err error) {
	if c.err == nil {
		c.err = fmt.Errorf("column %s: invalid value %q: %w", name, value, err)
	}
}

func (c *columns) decimal(name, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		c.fail(name, s, err)
	}
	return d
}

func (c *columns) timestamp(name, s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		c.fail(name, s, err)
	}
	return t
}

func (c *columns) date(name, s string) time.Time {
	t, err := time.Parse(ledger.DateLayout, s)
	if err != nil {
		c.fail(name, s, err)
	}
	return t
}

func (c *columns) json(name string, s sql.NullString, v any) {
	if !s.Valid {
		return
	}
	if err := json.Unmarshal([]byte(s.String), v); err != nil {
		c.fail(name, s.String, err)
	}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

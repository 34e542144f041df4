package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lofe-w/banksync/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the necessary tables if they don't exist
func (db *DB) Initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payment_methods (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			kind TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			bank_account INTEGER NOT NULL,
			fee_account INTEGER NOT NULL,
			refund_account INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			method_id INTEGER NOT NULL REFERENCES payment_methods(id),
			reference_number TEXT NOT NULL,
			transaction_date TEXT NOT NULL,
			amount_value TEXT NOT NULL,
			amount_currency TEXT NOT NULL,
			fee_value TEXT NOT NULL,
			fee_currency TEXT NOT NULL,
			trans_type TEXT,
			payment_ref TEXT,
			description TEXT,
			counterpart_name TEXT,
			counterpart_account TEXT,
			counterpart_valid_iban BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(method_id, reference_number)
		)`,
		`CREATE TABLE IF NOT EXISTS refunds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			method_id INTEGER NOT NULL REFERENCES payment_methods(id),
			transfer_id TEXT NOT NULL,
			refund_id INTEGER NOT NULL,
			issued_at TEXT NOT NULL,
			completed_at TEXT,
			completed_tx_id INTEGER REFERENCES transactions(id),
			UNIQUE(method_id, transfer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			num INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			object_requirement INTEGER NOT NULL DEFAULT 0,
			in_balance BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS journal_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			year INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			entry_date TEXT NOT NULL,
			closed BOOLEAN NOT NULL DEFAULT 0,
			UNIQUE(year, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS journal_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id INTEGER NOT NULL REFERENCES journal_entries(id),
			account_num INTEGER NOT NULL REFERENCES accounts(num),
			description TEXT NOT NULL,
			amount_value TEXT NOT NULL,
			amount_currency TEXT NOT NULL,
			object TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pending_bank_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			method_id INTEGER NOT NULL REFERENCES payment_methods(id),
			tx_id INTEGER NOT NULL UNIQUE REFERENCES transactions(id),
			amount_value TEXT NOT NULL,
			amount_currency TEXT NOT NULL,
			reference TEXT,
			description TEXT,
			trusted_iban BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Begin opens a unit of work backed by a database transaction.
func (db *DB) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlUnitOfWork{tx: tx}, nil
}

// UpsertPaymentMethod creates or updates a payment method by name.
func (db *DB) UpsertPaymentMethod(m *models.PaymentMethod) error {
	query := `
	INSERT INTO payment_methods (name, kind, active, bank_account, fee_account, refund_account)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(name)
	DO UPDATE SET
		kind = excluded.kind,
		active = excluded.active,
		bank_account = excluded.bank_account,
		fee_account = excluded.fee_account,
		refund_account = excluded.refund_account
	`
	if _, err := db.Exec(query, m.Name, m.Kind, m.Active, m.BankAccount, m.FeeAccount, m.RefundAccount); err != nil {
		return fmt.Errorf("failed to upsert payment method: %w", err)
	}

	row := db.QueryRow("SELECT id FROM payment_methods WHERE name = ?", m.Name)
	if err := row.Scan(&m.ID); err != nil {
		return fmt.Errorf("failed to read back payment method id: %w", err)
	}
	return nil
}

// GetActivePaymentMethods returns active methods, optionally filtered by kind.
func (db *DB) GetActivePaymentMethods(kind string) ([]*models.PaymentMethod, error) {
	query := `
	SELECT id, name, kind, active, bank_account, fee_account, refund_account
	FROM payment_methods
	WHERE active = 1
	`
	args := []interface{}{}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	defer rows.Close()

	var methods []*models.PaymentMethod
	for rows.Next() {
		var m models.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Name, &m.Kind, &m.Active, &m.BankAccount, &m.FeeAccount, &m.RefundAccount); err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate over payment methods: %w", err)
	}
	return methods, nil
}

// UpsertAccount creates or updates an account in the chart of accounts.
func (db *DB) UpsertAccount(a *models.Account) error {
	query := `
	INSERT INTO accounts (num, name, object_requirement, in_balance)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(num)
	DO UPDATE SET
		name = excluded.name,
		object_requirement = excluded.object_requirement,
		in_balance = excluded.in_balance
	`
	if _, err := db.Exec(query, a.Num, a.Name, a.ObjectRequirement, a.InBalance); err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (db *DB) GetAccount(num int) (*models.Account, error) {
	return getAccount(db.DB, num)
}

// CreateRefundRequest records an initiated refund awaiting completion.
func (db *DB) CreateRefundRequest(r *models.RefundRequest) error {
	query := `
	INSERT INTO refunds (method_id, transfer_id, refund_id, issued_at)
	VALUES (?, ?, ?, ?)
	`
	result, err := db.Exec(query, r.MethodID, r.TransferID, r.RefundID, r.IssuedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create refund request: %w", err)
	}
	r.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get refund request id: %w", err)
	}
	return nil
}

// LatestTransactionDate returns the newest ingested transaction date for a
// method, or nil when nothing has been ingested yet.
func (db *DB) LatestTransactionDate(methodID int64) (*time.Time, error) {
	row := db.QueryRow("SELECT MAX(transaction_date) FROM transactions WHERE method_id = ?", methodID)
	var raw sql.NullString
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to query latest transaction date: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse latest transaction date: %w", err)
	}
	return &t, nil
}

// GetTransactionByReference looks a transaction up outside any unit of work.
func (db *DB) GetTransactionByReference(methodID int64, reference string) (*models.LocalTransactionRecord, error) {
	return getTransactionWhere(db.DB, "method_id = ? AND reference_number = ?", methodID, reference)
}

// GetPendingBankTransactions lists transactions waiting for invoice matching
// or operator review.
func (db *DB) GetPendingBankTransactions() ([]*models.PendingBankTransaction, error) {
	query := `
	SELECT id, method_id, tx_id, amount_value, amount_currency, reference, description, trusted_iban, created_at
	FROM pending_bank_transactions
	ORDER BY created_at
	`
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending bank transactions: %w", err)
	}
	defer rows.Close()

	var pending []*models.PendingBankTransaction
	for rows.Next() {
		var p models.PendingBankTransaction
		if err := rows.Scan(&p.ID, &p.MethodID, &p.TxID, &p.Amount.Value, &p.Amount.Currency,
			&p.Reference, &p.Description, &p.TrustedIBAN, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending bank transaction: %w", err)
		}
		pending = append(pending, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate over pending bank transactions: %w", err)
	}
	return pending, nil
}

// queryer lets the lookup helpers run against both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func getAccount(q queryer, num int) (*models.Account, error) {
	row := q.QueryRow("SELECT num, name, object_requirement, in_balance FROM accounts WHERE num = ?", num)
	var a models.Account
	if err := row.Scan(&a.Num, &a.Name, &a.ObjectRequirement, &a.InBalance); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return &a, nil
}

func getTransactionWhere(q queryer, where string, args ...interface{}) (*models.LocalTransactionRecord, error) {
	query := `
	SELECT id, method_id, reference_number, transaction_date,
		amount_value, amount_currency, fee_value, fee_currency,
		trans_type, payment_ref, description,
		counterpart_name, counterpart_account, counterpart_valid_iban
	FROM transactions WHERE ` + where

	row := q.QueryRow(query, args...)
	var t models.LocalTransactionRecord
	var date string
	err := row.Scan(&t.ID, &t.MethodID, &t.ReferenceNumber, &date,
		&t.Amount.Value, &t.Amount.Currency, &t.FeeAmount.Value, &t.FeeAmount.Currency,
		&t.TransType, &t.PaymentRef, &t.Description,
		&t.CounterpartName, &t.CounterpartAccount, &t.CounterpartValidIBAN)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	t.Date, err = time.Parse(time.RFC3339, date)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction date: %w", err)
	}
	return &t, nil
}

package db

import (
	"context"
	"time"

	"github.com/lofe-w/banksync/pkg/models"
)

// DBInterface defines the interface for database operations
type DBInterface interface {
	Initialize() error
	Close() error

	// Begin opens a unit of work covering one reconciliation cycle.
	Begin(ctx context.Context) (UnitOfWork, error)

	UpsertPaymentMethod(m *models.PaymentMethod) error
	GetActivePaymentMethods(kind string) ([]*models.PaymentMethod, error)
	UpsertAccount(a *models.Account) error
	GetAccount(num int) (*models.Account, error)

	CreateRefundRequest(r *models.RefundRequest) error
	LatestTransactionDate(methodID int64) (*time.Time, error)
	GetTransactionByReference(methodID int64, reference string) (*models.LocalTransactionRecord, error)
	GetPendingBankTransactions() ([]*models.PendingBankTransaction, error)
}

// UnitOfWork scopes all writes of one reconciliation cycle to a single
// database transaction. Either Commit persists everything the cycle did, or
// Rollback discards it all; records created before a fatal classification
// error never become durable.
type UnitOfWork interface {
	// CreateTransaction records a remote transaction at most once per
	// (method, reference) pair. The second return is false when a record
	// already existed, in which case the existing record is returned.
	CreateTransaction(methodID int64, rt *models.RemoteTransaction) (*models.LocalTransactionRecord, bool, error)
	GetTransactionByID(id int64) (*models.LocalTransactionRecord, error)
	GetRefundRequestByTransferID(methodID int64, transferID string) (*models.RefundRequest, error)
	// CompleteRefundRequest sets both completion fields in one update and
	// fails if either is already set.
	CompleteRefundRequest(refundID int64, txID int64, completedAt time.Time) error
	GetAccount(num int) (*models.Account, error)
	InsertJournalEntry(e *models.JournalEntry) error
	InsertPendingBankTransaction(p *models.PendingBankTransaction) error

	Commit() error
	Rollback() error
}

// Ensure DB implements DBInterface
var _ DBInterface = (*DB)(nil)

// Ensure MockDB implements DBInterface
var _ DBInterface = (*MockDB)(nil)

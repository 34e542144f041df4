package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lofe-w/banksync/pkg/models"
)

// MockDB is a mock implementation of the DB for testing
type MockDB struct {
	// Mock data storage
	Methods                 map[int64]*models.PaymentMethod
	Accounts                map[int]*models.Account
	Transactions            map[string]*models.LocalTransactionRecord
	Refunds                 map[int64]*models.RefundRequest
	JournalEntries          []*models.JournalEntry
	PendingBankTransactions []*models.PendingBankTransaction

	nextTxID     int64
	nextRefundID int64

	// Error values to return
	BeginErr                 error
	CreateTransactionErr     error
	CompleteRefundRequestErr error
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		Methods:      make(map[int64]*models.PaymentMethod),
		Accounts:     make(map[int]*models.Account),
		Transactions: make(map[string]*models.LocalTransactionRecord),
		Refunds:      make(map[int64]*models.RefundRequest),
	}
}

func txKey(methodID int64, reference string) string {
	return fmt.Sprintf("%d/%s", methodID, reference)
}

// AddRefund registers a refund request directly in the mock store.
func (m *MockDB) AddRefund(r *models.RefundRequest) {
	if r.ID == 0 {
		m.nextRefundID++
		r.ID = m.nextRefundID
	}
	m.Refunds[r.ID] = r
}

// Initialize is a no-op for the mock database
func (m *MockDB) Initialize() error {
	return nil
}

// Close is a no-op for the mock database
func (m *MockDB) Close() error {
	return nil
}

// Begin returns a unit of work that records an undo log so Rollback can
// discard everything the cycle did, mirroring the real transaction.
func (m *MockDB) Begin(ctx context.Context) (UnitOfWork, error) {
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	return &mockUnitOfWork{db: m}, nil
}

func (m *MockDB) UpsertPaymentMethod(method *models.PaymentMethod) error {
	if method.ID == 0 {
		method.ID = int64(len(m.Methods) + 1)
	}
	m.Methods[method.ID] = method
	return nil
}

func (m *MockDB) GetActivePaymentMethods(kind string) ([]*models.PaymentMethod, error) {
	var methods []*models.PaymentMethod
	for _, method := range m.Methods {
		if method.Active && (kind == "" || method.Kind == kind) {
			methods = append(methods, method)
		}
	}
	return methods, nil
}

func (m *MockDB) UpsertAccount(a *models.Account) error {
	m.Accounts[a.Num] = a
	return nil
}

func (m *MockDB) GetAccount(num int) (*models.Account, error) {
	return m.Accounts[num], nil
}

func (m *MockDB) CreateRefundRequest(r *models.RefundRequest) error {
	m.AddRefund(r)
	return nil
}

func (m *MockDB) LatestTransactionDate(methodID int64) (*time.Time, error) {
	var latest *time.Time
	for _, tx := range m.Transactions {
		if tx.MethodID != methodID {
			continue
		}
		if latest == nil || tx.Date.After(*latest) {
			d := tx.Date
			latest = &d
		}
	}
	return latest, nil
}

func (m *MockDB) GetTransactionByReference(methodID int64, reference string) (*models.LocalTransactionRecord, error) {
	return m.Transactions[txKey(methodID, reference)], nil
}

func (m *MockDB) GetPendingBankTransactions() ([]*models.PendingBankTransaction, error) {
	return m.PendingBankTransactions, nil
}

// mockUnitOfWork applies writes directly to the MockDB maps while keeping
// enough undo state to reverse them on Rollback.
type mockUnitOfWork struct {
	db *MockDB

	createdTxKeys    []string
	completedRefunds []int64
	journalAdded     int
	pendingAdded     int
	finished         bool
}

var _ UnitOfWork = (*mockUnitOfWork)(nil)

func (u *mockUnitOfWork) CreateTransaction(methodID int64, rt *models.RemoteTransaction) (*models.LocalTransactionRecord, bool, error) {
	if u.db.CreateTransactionErr != nil {
		return nil, false, u.db.CreateTransactionErr
	}

	key := txKey(methodID, rt.ReferenceNumber)
	if existing, ok := u.db.Transactions[key]; ok {
		return existing, false, nil
	}

	u.db.nextTxID++
	record := &models.LocalTransactionRecord{
		ID:                   u.db.nextTxID,
		MethodID:             methodID,
		ReferenceNumber:      rt.ReferenceNumber,
		Date:                 rt.Date,
		Amount:               rt.Amount,
		FeeAmount:            rt.FeeAmount,
		TransType:            rt.TransType,
		PaymentRef:           rt.PaymentRef,
		Description:          rt.Description,
		CounterpartName:      rt.CounterpartName,
		CounterpartAccount:   rt.CounterpartAccount,
		CounterpartValidIBAN: rt.CounterpartValidIBAN,
	}
	u.db.Transactions[key] = record
	u.createdTxKeys = append(u.createdTxKeys, key)
	return record, true, nil
}

func (u *mockUnitOfWork) GetTransactionByID(id int64) (*models.LocalTransactionRecord, error) {
	for _, tx := range u.db.Transactions {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, nil
}

func (u *mockUnitOfWork) GetRefundRequestByTransferID(methodID int64, transferID string) (*models.RefundRequest, error) {
	for _, r := range u.db.Refunds {
		if r.MethodID == methodID && r.TransferID == transferID {
			return r, nil
		}
	}
	return nil, nil
}

func (u *mockUnitOfWork) CompleteRefundRequest(refundID int64, txID int64, completedAt time.Time) error {
	if u.db.CompleteRefundRequestErr != nil {
		return u.db.CompleteRefundRequestErr
	}

	r, ok := u.db.Refunds[refundID]
	if !ok || r.Completed() {
		return fmt.Errorf("refund request %d is already completed or missing", refundID)
	}
	at := completedAt
	r.CompletedAt = &at
	r.CompletedTxID = &txID
	u.completedRefunds = append(u.completedRefunds, refundID)
	return nil
}

func (u *mockUnitOfWork) GetAccount(num int) (*models.Account, error) {
	return u.db.Accounts[num], nil
}

func (u *mockUnitOfWork) InsertJournalEntry(e *models.JournalEntry) error {
	e.ID = int64(len(u.db.JournalEntries) + 1)
	e.Year = e.Date.Year()
	e.Seq = len(u.db.JournalEntries) + 1
	u.db.JournalEntries = append(u.db.JournalEntries, e)
	u.journalAdded++
	return nil
}

func (u *mockUnitOfWork) InsertPendingBankTransaction(p *models.PendingBankTransaction) error {
	p.ID = int64(len(u.db.PendingBankTransactions) + 1)
	u.db.PendingBankTransactions = append(u.db.PendingBankTransactions, p)
	u.pendingAdded++
	return nil
}

func (u *mockUnitOfWork) Commit() error {
	u.finished = true
	return nil
}

func (u *mockUnitOfWork) Rollback() error {
	if u.finished {
		return nil
	}
	u.finished = true

	for _, key := range u.createdTxKeys {
		delete(u.db.Transactions, key)
	}
	for _, id := range u.completedRefunds {
		if r, ok := u.db.Refunds[id]; ok {
			r.CompletedAt = nil
			r.CompletedTxID = nil
		}
	}
	u.db.JournalEntries = u.db.JournalEntries[:len(u.db.JournalEntries)-u.journalAdded]
	u.db.PendingBankTransactions = u.db.PendingBankTransactions[:len(u.db.PendingBankTransactions)-u.pendingAdded]
	return nil
}

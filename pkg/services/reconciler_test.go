package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lofe-w/banksync/db"
	"github.com/lofe-w/banksync/pkg/models"
	"github.com/lofe-w/banksync/pkg/provider"
)

type fakeFeed struct {
	transactions []models.RemoteTransaction
	err          error
}

func (f *fakeFeed) ListTransactions(ctx context.Context, from, to time.Time) ([]models.RemoteTransaction, error) {
	return f.transactions, f.err
}

func eur(value string) models.Amount {
	return models.Amount{Value: value, Currency: "EUR"}
}

func newReconcilerFixture(t *testing.T) (*db.MockDB, *fakeFeed, *Reconciler, *models.PaymentMethod) {
	t.Helper()

	mockDB := db.NewMockDB()
	mockDB.Accounts[1910] = &models.Account{Num: 1910, Name: "Bank", InBalance: true}
	mockDB.Accounts[6040] = &models.Account{Num: 6040, Name: "Bank fees"}
	mockDB.Accounts[1930] = &models.Account{Num: 1930, Name: "Pending refunds", InBalance: true}

	method := &models.PaymentMethod{
		Name:          "wise-eur",
		Kind:          models.MethodKindWise,
		Active:        true,
		BankAccount:   1910,
		FeeAccount:    6040,
		RefundAccount: 1930,
	}
	if err := mockDB.UpsertPaymentMethod(method); err != nil {
		t.Fatalf("Failed to upsert payment method: %v", err)
	}

	feed := &fakeFeed{}
	reconciler := NewReconciler(mockDB, &StoreInvoiceManager{}, func(m *models.PaymentMethod) (provider.FeedClient, error) {
		return feed, nil
	}, "ACME")
	return mockDB, feed, reconciler, method
}

func feedTransaction(reference string) models.RemoteTransaction {
	return models.RemoteTransaction{
		ReferenceNumber:      reference,
		Date:                 time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC),
		Amount:               eur("100.00"),
		FeeAmount:            eur("0.00"),
		PaymentRef:           "CONF INV 17",
		Description:          "Received money",
		CounterpartName:      "ACME Corp",
		CounterpartAccount:   "DE89370400440532013000",
		CounterpartValidIBAN: true,
	}
}

func TestReconcileMethodDefault(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	feed.transactions = []models.RemoteTransaction{feedTransaction("BANK-1")}

	if err := reconciler.ReconcileMethod(context.Background(), method); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	if len(mockDB.Transactions) != 1 {
		t.Fatalf("Expected 1 stored transaction, got %d", len(mockDB.Transactions))
	}
	if len(mockDB.PendingBankTransactions) != 1 {
		t.Fatalf("Expected 1 pending bank transaction, got %d", len(mockDB.PendingBankTransactions))
	}
	pending := mockDB.PendingBankTransactions[0]
	if !pending.TrustedIBAN {
		t.Error("Expected valid counterpart IBAN to mark the pending transaction trusted")
	}
	if pending.Reference != "CONF INV 17" {
		t.Errorf("Expected payment reference to carry over, got %q", pending.Reference)
	}
}

func TestReconcileMethodUntrustedCounterpart(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	rt := feedTransaction("BANK-1")
	rt.CounterpartAccount = "not-an-iban"
	rt.CounterpartValidIBAN = false
	feed.transactions = []models.RemoteTransaction{rt}

	if err := reconciler.ReconcileMethod(context.Background(), method); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}
	if mockDB.PendingBankTransactions[0].TrustedIBAN {
		t.Error("Expected invalid counterpart IBAN to mark the pending transaction untrusted")
	}
}

func TestReconcileMethodIdempotent(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	feed.transactions = []models.RemoteTransaction{feedTransaction("BANK-1")}

	for i := 0; i < 2; i++ {
		if err := reconciler.ReconcileMethod(context.Background(), method); err != nil {
			t.Fatalf("Failed to reconcile (run %d): %v", i+1, err)
		}
	}

	if len(mockDB.Transactions) != 1 {
		t.Errorf("Expected 1 stored transaction after refetch, got %d", len(mockDB.Transactions))
	}
	if len(mockDB.PendingBankTransactions) != 1 {
		t.Errorf("Expected side effects to run once, got %d pending transactions", len(mockDB.PendingBankTransactions))
	}
}

func refundTransfer() models.RemoteTransaction {
	return models.RemoteTransaction{
		ReferenceNumber: "TRANSFER-777",
		Date:            time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC),
		Amount:          eur("-50.00"),
		FeeAmount:       eur("-0.50"),
		TransType:       models.TransTypeTransfer,
		PaymentRef:      "ACME refund 881",
		Description:     "Sent money to John Doe",
	}
}

func TestReconcileRefundCompletion(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	refund := &models.RefundRequest{
		MethodID:   method.ID,
		TransferID: "777",
		RefundID:   881,
		IssuedAt:   time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	mockDB.AddRefund(refund)
	feed.transactions = []models.RemoteTransaction{refundTransfer()}

	if err := reconciler.ReconcileMethod(context.Background(), method); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	if !refund.Completed() {
		t.Fatal("Expected refund request to be completed")
	}
	tx, err := mockDB.GetTransactionByReference(method.ID, "TRANSFER-777")
	if err != nil || tx == nil {
		t.Fatalf("Expected stored transfer transaction, got %v (%v)", tx, err)
	}
	if refund.CompletedTxID == nil || *refund.CompletedTxID != tx.ID {
		t.Errorf("Expected refund to be completed by transaction %d, got %v", tx.ID, refund.CompletedTxID)
	}

	if len(mockDB.JournalEntries) != 1 {
		t.Fatalf("Expected 1 journal entry, got %d", len(mockDB.JournalEntries))
	}
	items := mockDB.JournalEntries[0].Items
	if len(items) != 3 {
		t.Fatalf("Expected 3 journal items, got %d", len(items))
	}
	// Net transfer on the bank account, fee as a positive expense, gross
	// refund against the clearing account.
	expectAmounts := map[int]string{1910: "-50.00", 6040: "0.50", 1930: "49.50"}
	for _, item := range items {
		if want := expectAmounts[item.AccountNum]; item.Amount.Value != want {
			t.Errorf("Expected account %d amount %s, got %s", item.AccountNum, want, item.Amount.Value)
		}
	}
	if len(mockDB.PendingBankTransactions) != 0 {
		t.Error("Expected no pending bank transaction for a matched refund")
	}
}

func TestReconcileRefundRunsOnce(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	mockDB.AddRefund(&models.RefundRequest{MethodID: method.ID, TransferID: "777", RefundID: 881, IssuedAt: time.Now()})
	feed.transactions = []models.RemoteTransaction{refundTransfer()}

	for i := 0; i < 2; i++ {
		if err := reconciler.ReconcileMethod(context.Background(), method); err != nil {
			t.Fatalf("Failed to reconcile (run %d): %v", i+1, err)
		}
	}
	if len(mockDB.JournalEntries) != 1 {
		t.Errorf("Expected refund to be booked once, got %d entries", len(mockDB.JournalEntries))
	}
}

func TestReconcileRefundAlreadyCompleted(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	completedAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	txID := int64(99)
	mockDB.AddRefund(&models.RefundRequest{
		MethodID:      method.ID,
		TransferID:    "777",
		RefundID:      881,
		IssuedAt:      completedAt,
		CompletedAt:   &completedAt,
		CompletedTxID: &txID,
	})
	feed.transactions = []models.RemoteTransaction{refundTransfer()}

	err := reconciler.ReconcileMethod(context.Background(), method)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("Expected IntegrityError, got %v", err)
	}

	// The whole cycle rolls back, including the ingested record.
	if len(mockDB.Transactions) != 0 {
		t.Error("Expected ingested transaction to be rolled back")
	}
	if len(mockDB.JournalEntries) != 0 {
		t.Error("Expected no journal entries after rollback")
	}
}

func TestReconcileRefundWithoutRequest(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	feed.transactions = []models.RemoteTransaction{refundTransfer()}

	if err := reconciler.ReconcileMethod(context.Background(), method); err != nil {
		t.Fatalf("Expected unmatched refund to be handled, got %v", err)
	}
	if len(mockDB.PendingBankTransactions) != 1 {
		t.Fatalf("Expected unmatched refund to be registered for manual processing")
	}
	if mockDB.PendingBankTransactions[0].TrustedIBAN {
		t.Error("Expected manually registered refund to be untrusted")
	}
	if len(mockDB.JournalEntries) != 0 {
		t.Error("Expected no journal entries for an unmatched refund")
	}
}

func TestReconcileRefundBadReference(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	rt := refundTransfer()
	rt.ReferenceNumber = "BANK-123"
	feed.transactions = []models.RemoteTransaction{rt}

	err := reconciler.ReconcileMethod(context.Background(), method)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("Expected IntegrityError for malformed transfer reference, got %v", err)
	}
	if len(mockDB.Transactions) != 0 {
		t.Error("Expected rollback to discard the ingested transaction")
	}
}

func addOriginalPayment(mockDB *db.MockDB, method *models.PaymentMethod, id int64, amount models.Amount) {
	mockDB.Transactions[fmt.Sprintf("%d/BANK-%d", method.ID, id)] = &models.LocalTransactionRecord{
		ID:              id,
		MethodID:        method.ID,
		ReferenceNumber: fmt.Sprintf("BANK-%d", id),
		Date:            time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		Amount:          amount,
	}
}

func returnedPayment(id int64) models.RemoteTransaction {
	return models.RemoteTransaction{
		ReferenceNumber: fmt.Sprintf("TRANSFER-9%d", id),
		Date:            time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC),
		Amount:          eur("-150.00"),
		FeeAmount:       eur("-1.12"),
		TransType:       models.TransTypeTransfer,
		PaymentRef:      fmt.Sprintf("ACME returned payment %d", id),
		Description:     "Sent money back",
	}
}

func TestReconcileReturnedPayment(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	addOriginalPayment(mockDB, method, 42, eur("-150.00"))
	feed.transactions = []models.RemoteTransaction{returnedPayment(42)}

	if err := reconciler.ReconcileMethod(context.Background(), method); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	if len(mockDB.JournalEntries) != 1 {
		t.Fatalf("Expected 1 journal entry, got %d", len(mockDB.JournalEntries))
	}
	items := mockDB.JournalEntries[0].Items
	if len(items) != 3 {
		t.Fatalf("Expected 3 journal items, got %d", len(items))
	}
	if items[0].AccountNum != 1910 || items[0].Amount.Value != "-150.00" {
		t.Errorf("Expected reversed payment on bank account, got %+v", items[0])
	}
	if items[1].AccountNum != 6040 || items[1].Amount.Value != "-1.12" {
		t.Errorf("Expected return fee on fee account, got %+v", items[1])
	}
	if items[2].AccountNum != 1910 || items[2].Amount.Value != "151.12" {
		t.Errorf("Expected balancing bank row, got %+v", items[2])
	}
	if len(mockDB.PendingBankTransactions) != 0 {
		t.Error("Expected no pending bank transaction for a returned payment")
	}
}

func TestReconcileReturnedPaymentAmountMismatch(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	addOriginalPayment(mockDB, method, 42, eur("-140.00"))
	feed.transactions = []models.RemoteTransaction{returnedPayment(42)}

	err := reconciler.ReconcileMethod(context.Background(), method)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("Expected IntegrityError for amount mismatch, got %v", err)
	}
	if len(mockDB.JournalEntries) != 0 {
		t.Error("Expected no journal entries after rollback")
	}
}

func TestReconcileReturnedPaymentUnknownOriginal(t *testing.T) {
	_, feed, reconciler, method := newReconcilerFixture(t)
	feed.transactions = []models.RemoteTransaction{returnedPayment(42)}

	err := reconciler.ReconcileMethod(context.Background(), method)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("Expected IntegrityError for unknown original, got %v", err)
	}
}

func TestReconcileCustomRule(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	handled := 0
	reconciler.AddRule(Rule{
		Name: "interest",
		Match: func(tx *models.LocalTransactionRecord) bool {
			return tx.Description == "Interest payment"
		},
		Handle: func(ctx context.Context, uow db.UnitOfWork, method *models.PaymentMethod, tx *models.LocalTransactionRecord) error {
			handled++
			return nil
		},
	})
	rt := feedTransaction("BANK-1")
	rt.Description = "Interest payment"
	feed.transactions = []models.RemoteTransaction{rt}

	if err := reconciler.ReconcileMethod(context.Background(), method); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}
	if handled != 1 {
		t.Errorf("Expected custom rule to handle the transaction, got %d calls", handled)
	}
	if len(mockDB.PendingBankTransactions) != 0 {
		t.Error("Expected custom rule to shadow the default handler")
	}
}

func TestReconcileAllContinuesOnFailure(t *testing.T) {
	mockDB, feed, reconciler, method := newReconcilerFixture(t)
	broken := &models.PaymentMethod{
		Name:          "trustly-eur",
		Kind:          models.MethodKindTrustly,
		Active:        true,
		BankAccount:   1910,
		FeeAccount:    6040,
		RefundAccount: 1930,
	}
	if err := mockDB.UpsertPaymentMethod(broken); err != nil {
		t.Fatalf("Failed to upsert payment method: %v", err)
	}

	feeds := map[int64]*fakeFeed{
		method.ID: feed,
		broken.ID: {err: errors.New("connection refused")},
	}
	reconciler.feedFor = func(m *models.PaymentMethod) (provider.FeedClient, error) {
		return feeds[m.ID], nil
	}
	feed.transactions = []models.RemoteTransaction{feedTransaction("BANK-1")}

	if err := reconciler.ReconcileAll(context.Background()); err == nil {
		t.Fatal("Expected failure to be reported")
	}
	// The healthy method still got processed.
	if len(mockDB.PendingBankTransactions) != 1 {
		t.Errorf("Expected healthy method to be reconciled, got %d pending transactions", len(mockDB.PendingBankTransactions))
	}
}

func TestSchedulerShouldRun(t *testing.T) {
	mockDB, _, reconciler, method := newReconcilerFixture(t)
	scheduler := NewScheduler(mockDB, reconciler, 0)
	if scheduler.interval != DefaultSchedulerInterval {
		t.Errorf("Expected default interval, got %v", scheduler.interval)
	}

	run, err := scheduler.ShouldRun()
	if err != nil {
		t.Fatalf("Failed to check scheduler gate: %v", err)
	}
	if !run {
		t.Error("Expected scheduler to run with an active method")
	}

	method.Active = false
	run, err = scheduler.ShouldRun()
	if err != nil {
		t.Fatalf("Failed to check scheduler gate: %v", err)
	}
	if run {
		t.Error("Expected scheduler to skip with no active methods")
	}
}

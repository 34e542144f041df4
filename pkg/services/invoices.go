package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lofe-w/banksync/db"
	"github.com/lofe-w/banksync/pkg/ledger"
	"github.com/lofe-w/banksync/pkg/models"
)

// InvoiceManager is the engine's hook into the invoice subsystem. The
// reconciliation engine only decides what happened to the money; what that
// means for invoices is this collaborator's business.
type InvoiceManager interface {
	// CompleteRefund finalizes a refund the provider has confirmed paid
	// out. Gross is the full refunded amount including the provider fee.
	CompleteRefund(ctx context.Context, uow db.UnitOfWork, refundID int64, gross, fee models.Amount, method *models.PaymentMethod, tx *models.LocalTransactionRecord) error
	// RegisterBankTransaction hands a transaction to invoice matching.
	// trustedIBAN signals that the counterpart account validated as an
	// IBAN and can be trusted for automatic matching.
	RegisterBankTransaction(ctx context.Context, uow db.UnitOfWork, method *models.PaymentMethod, tx *models.LocalTransactionRecord, trustedIBAN bool) error
}

// StoreInvoiceManager is the built-in InvoiceManager: it books the
// accounting side of refund completions and parks everything else as
// pending bank transactions for the invoice matcher.
type StoreInvoiceManager struct{}

var _ InvoiceManager = (*StoreInvoiceManager)(nil)

func (s *StoreInvoiceManager) CompleteRefund(ctx context.Context, uow db.UnitOfWork, refundID int64, gross, fee models.Amount, method *models.PaymentMethod, tx *models.LocalTransactionRecord) error {
	// The transfer amount is the net movement on the bank account; the
	// fee is booked as an expense and the gross refund clears against
	// the refund clearing account.
	amount, err := gross.Add(fee.Neg())
	if err != nil {
		return fmt.Errorf("failed to compute net refund amount: %w", err)
	}
	clearing, err := amount.Neg().Add(fee)
	if err != nil {
		return fmt.Errorf("failed to compute refund clearing amount: %w", err)
	}

	desc := fmt.Sprintf("Refund %d", refundID)
	_, err = ledger.CreateEntry(uow, time.Now(), []ledger.Row{
		{AccountNum: method.BankAccount, Description: desc, Amount: amount},
		{AccountNum: method.FeeAccount, Description: desc, Amount: fee.Neg()},
		{AccountNum: method.RefundAccount, Description: desc, Amount: clearing},
	})
	if err != nil {
		return fmt.Errorf("failed to book refund %d: %w", refundID, err)
	}

	log.Info().
		Int64("refund", refundID).
		Str("gross", gross.String()).
		Str("fee", fee.String()).
		Str("method", method.Name).
		Msg("Refund completed")
	return nil
}

func (s *StoreInvoiceManager) RegisterBankTransaction(ctx context.Context, uow db.UnitOfWork, method *models.PaymentMethod, tx *models.LocalTransactionRecord, trustedIBAN bool) error {
	err := uow.InsertPendingBankTransaction(&models.PendingBankTransaction{
		MethodID:    method.ID,
		TxID:        tx.ID,
		Amount:      tx.Amount,
		Reference:   tx.PaymentRef,
		Description: tx.Description,
		TrustedIBAN: trustedIBAN,
	})
	if err != nil {
		return fmt.Errorf("failed to register bank transaction: %w", err)
	}

	log.Info().
		Str("reference", tx.ReferenceNumber).
		Str("amount", tx.Amount.String()).
		Bool("trustedIban", trustedIBAN).
		Msg("Registered pending bank transaction")
	return nil
}

package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lofe-w/banksync/db"
	"github.com/lofe-w/banksync/pkg/ledger"
	"github.com/lofe-w/banksync/pkg/models"
)

// Handler processes one newly ingested transaction inside the cycle's unit
// of work. Returning an error aborts the whole cycle.
type Handler func(ctx context.Context, uow db.UnitOfWork, method *models.PaymentMethod, tx *models.LocalTransactionRecord) error

// Rule pairs a predicate with the handler to run when it matches. Rules are
// evaluated in order and the first match wins.
type Rule struct {
	Name   string
	Match  func(tx *models.LocalTransactionRecord) bool
	Handle Handler
}

// transferReferencePattern extracts the refund transfer id from the
// provider reference number of an outgoing transfer.
var transferReferencePattern = regexp.MustCompile(`^TRANSFER-(\d+)$`)

// defaultRules builds the standard classification chain for an
// organization: refund completions first, then returned payments. Anything
// unmatched falls through to the default handler.
func (r *Reconciler) defaultRules() []Rule {
	refundPrefix := r.orgShortname + " refund"
	returnedPrefix := r.orgShortname + " returned payment"
	returnedPattern := regexp.MustCompile(`^` + regexp.QuoteMeta(r.orgShortname) + ` returned payment (\d+)$`)

	return []Rule{
		{
			Name: "refund completion",
			Match: func(tx *models.LocalTransactionRecord) bool {
				return tx.TransType == models.TransTypeTransfer &&
					strings.HasPrefix(tx.PaymentRef, refundPrefix)
			},
			Handle: r.handleRefundCompletion,
		},
		{
			Name: "returned payment",
			Match: func(tx *models.LocalTransactionRecord) bool {
				return tx.TransType == models.TransTypeTransfer &&
					strings.HasPrefix(tx.PaymentRef, returnedPrefix)
			},
			Handle: r.returnedPaymentHandler(returnedPattern),
		},
	}
}

// handleRefundCompletion matches an outgoing transfer against a previously
// issued refund request and books its completion.
func (r *Reconciler) handleRefundCompletion(ctx context.Context, uow db.UnitOfWork, method *models.PaymentMethod, tx *models.LocalTransactionRecord) error {
	m := transferReferencePattern.FindStringSubmatch(tx.ReferenceNumber)
	if m == nil {
		return integrityf("refund transaction %s does not carry a transfer reference", tx.ReferenceNumber)
	}
	transferID := m[1]

	refund, err := uow.GetRefundRequestByTransferID(method.ID, transferID)
	if err != nil {
		return fmt.Errorf("failed to look up refund for transfer %s: %w", transferID, err)
	}
	if refund == nil {
		// A refund reference we never issued. Leave it for an operator
		// instead of failing the cycle.
		log.Warn().
			Str("reference", tx.ReferenceNumber).
			Str("transferId", transferID).
			Msg("No matching refund request, registering for manual processing")
		return r.invoices.RegisterBankTransaction(ctx, uow, method, tx, false)
	}
	if refund.Completed() {
		return integrityf("refund %d for transfer %s is already completed", refund.RefundID, transferID)
	}

	if err := uow.CompleteRefundRequest(refund.ID, tx.ID, r.now()); err != nil {
		return fmt.Errorf("failed to complete refund %d: %w", refund.RefundID, err)
	}

	// The feed reports the net transfer; the refunded gross includes the
	// provider fee taken on top of it.
	gross, err := tx.Amount.Add(tx.FeeAmount)
	if err != nil {
		return fmt.Errorf("failed to compute gross refund amount: %w", err)
	}
	return r.invoices.CompleteRefund(ctx, uow, refund.RefundID, gross, tx.FeeAmount, method, tx)
}

// returnedPaymentHandler books a payment the receiving bank bounced back:
// the original outgoing payment is reversed on the bank account with the
// return fee booked separately.
func (r *Reconciler) returnedPaymentHandler(pattern *regexp.Regexp) Handler {
	return func(ctx context.Context, uow db.UnitOfWork, method *models.PaymentMethod, tx *models.LocalTransactionRecord) error {
		m := pattern.FindStringSubmatch(tx.PaymentRef)
		if m == nil {
			return integrityf("returned payment %s does not carry the original transaction id", tx.ReferenceNumber)
		}
		originalID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return integrityf("returned payment %s carries invalid transaction id %q", tx.ReferenceNumber, m[1])
		}

		original, err := uow.GetTransactionByID(originalID)
		if err != nil {
			return fmt.Errorf("failed to look up original transaction %d: %w", originalID, err)
		}
		if original == nil {
			return integrityf("returned payment %s references unknown transaction %d", tx.ReferenceNumber, originalID)
		}
		if !original.Amount.Equals(tx.Amount) {
			return integrityf("returned payment %s amount %s does not match original %s",
				tx.ReferenceNumber, tx.Amount, original.Amount)
		}

		total, err := tx.Amount.Add(tx.FeeAmount)
		if err != nil {
			return fmt.Errorf("failed to sum returned payment amounts: %w", err)
		}
		desc := fmt.Sprintf("Returned payment %d", originalID)
		_, err = ledger.CreateEntry(uow, r.entryDate(tx), []ledger.Row{
			{AccountNum: method.BankAccount, Description: desc, Amount: tx.Amount},
			{AccountNum: method.FeeAccount, Description: desc, Amount: tx.FeeAmount},
			{AccountNum: method.BankAccount, Description: desc, Amount: total.Neg()},
		})
		if err != nil {
			return fmt.Errorf("failed to book returned payment %d: %w", originalID, err)
		}

		log.Info().
			Int64("original", originalID).
			Str("amount", tx.Amount.String()).
			Msg("Booked returned payment")
		return nil
	}
}

// handleDefault parks unclassified transactions for invoice matching.
func (r *Reconciler) handleDefault(ctx context.Context, uow db.UnitOfWork, method *models.PaymentMethod, tx *models.LocalTransactionRecord) error {
	return r.invoices.RegisterBankTransaction(ctx, uow, method, tx, tx.CounterpartValidIBAN)
}

func (r *Reconciler) entryDate(tx *models.LocalTransactionRecord) time.Time {
	if !tx.Date.IsZero() {
		return tx.Date
	}
	return r.now()
}

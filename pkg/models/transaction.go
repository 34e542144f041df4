package models

import (
	"fmt"
	"time"
)

// RemoteTransaction is one transaction as reported by a payment provider's
// feed. It is immutable once fetched; the provider reference number is the
// deduplication key.
type RemoteTransaction struct {
	ReferenceNumber      string    `json:"referenceNumber"`
	Date                 time.Time `json:"date"`
	Amount               Amount    `json:"amount"`
	FeeAmount            Amount    `json:"feeAmount"`
	TransType            string    `json:"transType"`
	PaymentRef           string    `json:"paymentRef"`
	Description          string    `json:"description"`
	CounterpartName      string    `json:"counterpartName"`
	CounterpartAccount   string    `json:"counterpartAccount"`
	CounterpartValidIBAN bool      `json:"counterpartValidIban"`
}

// TransTypeTransfer is the provider's type marker for bank transfers, the
// only type the refund and returned-payment classifiers consider.
const TransTypeTransfer = "TRANSFER"

// LocalTransactionRecord is the persisted mirror of a RemoteTransaction,
// created at most once per (payment method, provider reference) pair.
type LocalTransactionRecord struct {
	ID                   int64
	MethodID             int64
	ReferenceNumber      string
	Date                 time.Time
	Amount               Amount
	FeeAmount            Amount
	TransType            string
	PaymentRef           string
	Description          string
	CounterpartName      string
	CounterpartAccount   string
	CounterpartValidIBAN bool
}

// PrintFormatted prints the transaction in a formatted way
func (t *LocalTransactionRecord) PrintFormatted() {
	fmt.Printf("Transaction Details:\n")
	fmt.Printf("	Reference Number: %s\n", t.ReferenceNumber)
	fmt.Printf("	Amount: %s (fee %s)\n", t.Amount, t.FeeAmount)
	if t.TransType != "" {
		fmt.Printf("	Type: %s\n", t.TransType)
	}
	if t.PaymentRef != "" {
		fmt.Printf("	Payment Reference: %s\n", t.PaymentRef)
	}
	if t.CounterpartName != "" {
		fmt.Printf("	Counterpart: %s (%s)\n", t.CounterpartName, t.CounterpartAccount)
	}
	fmt.Printf("	Date: %s\n", t.Date.Format(time.DateOnly))
}

// PendingBankTransaction is a bank transaction handed over to the invoice
// subsystem for matching, either automatically or by an operator.
type PendingBankTransaction struct {
	ID          int64
	MethodID    int64
	TxID        int64
	Amount      Amount
	Reference   string
	Description string
	TrustedIBAN bool
	CreatedAt   time.Time
}

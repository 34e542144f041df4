package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lofe-w/banksync/pkg/models"
)

// sqlUnitOfWork implements UnitOfWork on a database transaction.
type sqlUnitOfWork struct {
	tx *sql.Tx
}

var _ UnitOfWork = (*sqlUnitOfWork)(nil)

func (u *sqlUnitOfWork) CreateTransaction(methodID int64, rt *models.RemoteTransaction) (*models.LocalTransactionRecord, bool, error) {
	existing, err := getTransactionWhere(u.tx, "method_id = ? AND reference_number = ?", methodID, rt.ReferenceNumber)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check for existing transaction: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	query := `
	INSERT INTO transactions (
		method_id, reference_number, transaction_date,
		amount_value, amount_currency, fee_value, fee_currency,
		trans_type, payment_ref, description,
		counterpart_name, counterpart_account, counterpart_valid_iban
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := u.tx.Exec(query,
		methodID,
		rt.ReferenceNumber,
		rt.Date.Format(time.RFC3339),
		rt.Amount.Value,
		rt.Amount.Currency,
		rt.FeeAmount.Value,
		rt.FeeAmount.Currency,
		rt.TransType,
		rt.PaymentRef,
		rt.Description,
		rt.CounterpartName,
		rt.CounterpartAccount,
		rt.CounterpartValidIBAN,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get transaction id: %w", err)
	}

	return &models.LocalTransactionRecord{
		ID:                   id,
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
	}, true, nil
}

func (u *sqlUnitOfWork) GetTransactionByID(id int64) (*models.LocalTransactionRecord, error) {
	return getTransactionWhere(u.tx, "id = ?", id)
}

func (u *sqlUnitOfWork) GetRefundRequestByTransferID(methodID int64, transferID string) (*models.RefundRequest, error) {
	query := `
	SELECT id, method_id, transfer_id, refund_id, issued_at, completed_at, completed_tx_id
	FROM refunds WHERE method_id = ? AND transfer_id = ?
	`
	row := u.tx.QueryRow(query, methodID, transferID)

	var r models.RefundRequest
	var issuedAt string
	var completedAt sql.NullString
	var completedTxID sql.NullInt64
	err := row.Scan(&r.ID, &r.MethodID, &r.TransferID, &r.RefundID, &issuedAt, &completedAt, &completedTxID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query refund request: %w", err)
	}

	if r.IssuedAt, err = time.Parse(time.RFC3339, issuedAt); err != nil {
		return nil, fmt.Errorf("failed to parse refund issue time: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse refund completion time: %w", err)
		}
		r.CompletedAt = &t
	}
	if completedTxID.Valid {
		r.CompletedTxID = &completedTxID.Int64
	}
	return &r, nil
}

func (u *sqlUnitOfWork) CompleteRefundRequest(refundID int64, txID int64, completedAt time.Time) error {
	// Both completion fields are set in one statement, guarded so an
	// already-completed request can never be completed again.
	query := `
	UPDATE refunds SET completed_at = ?, completed_tx_id = ?
	WHERE id = ? AND completed_at IS NULL AND completed_tx_id IS NULL
	`
	result, err := u.tx.Exec(query, completedAt.Format(time.RFC3339), txID, refundID)
	if err != nil {
		return fmt.Errorf("failed to complete refund request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("refund request %d is already completed or missing", refundID)
	}
	return nil
}

func (u *sqlUnitOfWork) GetAccount(num int) (*models.Account, error) {
	return getAccount(u.tx, num)
}

func (u *sqlUnitOfWork) InsertJournalEntry(e *models.JournalEntry) error {
	e.Year = e.Date.Year()

	// Sequence numbers restart every accounting year.
	row := u.tx.QueryRow("SELECT COALESCE(MAX(seq), 0) + 1 FROM journal_entries WHERE year = ?", e.Year)
	if err := row.Scan(&e.Seq); err != nil {
		return fmt.Errorf("failed to allocate journal sequence number: %w", err)
	}

	result, err := u.tx.Exec(
		"INSERT INTO journal_entries (year, seq, entry_date, closed) VALUES (?, ?, ?, ?)",
		e.Year, e.Seq, e.Date.Format(time.DateOnly), e.Closed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	if e.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get journal entry id: %w", err)
	}

	for _, item := range e.Items {
		var object interface{}
		if item.Object != nil {
			object = *item.Object
		}
		_, err := u.tx.Exec(
			"INSERT INTO journal_items (entry_id, account_num, description, amount_value, amount_currency, object) VALUES (?, ?, ?, ?, ?, ?)",
			e.ID, item.AccountNum, item.Description, item.Amount.Value, item.Amount.Currency, object,
		)
		if err != nil {
			return fmt.Errorf("failed to insert journal item: %w", err)
		}
	}
	return nil
}

func (u *sqlUnitOfWork) InsertPendingBankTransaction(p *models.PendingBankTransaction) error {
	query := `
	INSERT INTO pending_bank_transactions (method_id, tx_id, amount_value, amount_currency, reference, description, trusted_iban)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := u.tx.Exec(query, p.MethodID, p.TxID, p.Amount.Value, p.Amount.Currency,
		p.Reference, p.Description, p.TrustedIBAN)
	if err != nil {
		return fmt.Errorf("failed to insert pending bank transaction: %w", err)
	}
	if p.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get pending bank transaction id: %w", err)
	}
	return nil
}

func (u *sqlUnitOfWork) Commit() error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unit of work: %w", err)
	}
	return nil
}

func (u *sqlUnitOfWork) Rollback() error {
	if err := u.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to roll back unit of work: %w", err)
	}
	return nil
}

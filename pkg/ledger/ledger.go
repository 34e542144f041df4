package ledger

import (
	"fmt"
	"time"

	"github.com/Rhymond/go-money"

	"github.com/lofe-w/banksync/db"
	"github.com/lofe-w/banksync/pkg/models"
)

// Row is one leg of an accounting entry to be created: a signed amount
// (debit positive, credit negative) against an account, optionally tagged
// with an object.
type Row struct {
	AccountNum  int
	Description string
	Amount      models.Amount
	Object      *string
}

// UnbalancedEntryError rejects an entry whose rows do not satisfy the
// double-entry precondition.
type UnbalancedEntryError struct {
	Sum string
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("journal entry does not balance, sum is %s", e.Sum)
}

// ObjectRequirementError rejects a row violating the account's object
// linkage policy.
type ObjectRequirementError struct {
	AccountNum  int
	Requirement int
}

func (e *ObjectRequirementError) Error() string {
	if e.Requirement == models.ObjectRequired {
		return fmt.Sprintf("account %d requires an object to be specified", e.AccountNum)
	}
	return fmt.Sprintf("account %d does not allow an object to be specified", e.AccountNum)
}

// CreateEntry validates and persists a balanced journal entry inside the
// caller's unit of work. Either every row commits or nothing does; the
// entry is never adjusted to make it balance.
func CreateEntry(uow db.UnitOfWork, date time.Time, rows []Row) (*models.JournalEntry, error) {
	if len(rows) == 0 {
		return nil, &UnbalancedEntryError{Sum: "empty"}
	}

	var sum *money.Money
	nonzero := false
	for _, row := range rows {
		m := row.Amount.ToMoney()
		if !m.IsZero() {
			nonzero = true
		}
		if sum == nil {
			sum = m
			continue
		}
		var err error
		if sum, err = sum.Add(m); err != nil {
			return nil, fmt.Errorf("failed to sum journal rows: %w", err)
		}
	}
	if !sum.IsZero() {
		return nil, &UnbalancedEntryError{Sum: models.FromMoney(sum).String()}
	}
	if !nonzero {
		return nil, &UnbalancedEntryError{Sum: "all rows zero"}
	}

	entry := &models.JournalEntry{
		Date:   date,
		Closed: true,
		Items:  make([]models.JournalItem, 0, len(rows)),
	}

	for _, row := range rows {
		account, err := uow.GetAccount(row.AccountNum)
		if err != nil {
			return nil, fmt.Errorf("failed to look up account %d: %w", row.AccountNum, err)
		}
		if account == nil {
			return nil, fmt.Errorf("unknown account %d", row.AccountNum)
		}

		switch account.ObjectRequirement {
		case models.ObjectRequired:
			if row.Object == nil {
				return nil, &ObjectRequirementError{AccountNum: row.AccountNum, Requirement: account.ObjectRequirement}
			}
		case models.ObjectForbidden:
			if row.Object != nil {
				return nil, &ObjectRequirementError{AccountNum: row.AccountNum, Requirement: account.ObjectRequirement}
			}
		}

		entry.Items = append(entry.Items, models.JournalItem{
			AccountNum:  row.AccountNum,
			Description: row.Description,
			Amount:      row.Amount,
			Object:      row.Object,
		})
	}

	if err := uow.InsertJournalEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to persist journal entry: %w", err)
	}
	return entry, nil
}

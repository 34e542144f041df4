package models

import "time"

// Object linkage policy for an account, see Account.ObjectRequirement.
const (
	ObjectOptional  = 0
	ObjectRequired  = 1
	ObjectForbidden = 2
)

// Account is one account in the chart of accounts.
type Account struct {
	Num  int
	Name string
	// ObjectRequirement controls whether journal items on this account
	// must, may or must not carry an object.
	ObjectRequirement int
	// InBalance marks accounts whose balance carries over at year close.
	InBalance bool
}

// JournalEntry is a balanced double-entry accounting transaction. The sum of
// the signed item amounts is always zero.
type JournalEntry struct {
	ID     int64
	Year   int
	Seq    int
	Date   time.Time
	Closed bool
	Items  []JournalItem
}

// JournalItem is one leg of a journal entry. Amount is signed: positive for
// debit, negative for credit.
type JournalItem struct {
	AccountNum  int
	Description string
	Amount      Amount
	Object      *string
}

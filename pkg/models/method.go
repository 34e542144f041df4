package models

// Payment method kinds, matching the provider client packages.
const (
	MethodKindTrustly = "trustly"
	MethodKindWise    = "wise"
)

// PaymentMethod is one configured provider integration. The account numbers
// point into the chart of accounts and are used when the reconciliation
// engine creates journal entries for this method's transactions.
type PaymentMethod struct {
	ID            int64
	Name          string
	Kind          string
	Active        bool
	BankAccount   int
	FeeAccount    int
	RefundAccount int
}

package models

import "time"

// RefundRequest tracks a refund from the moment it is requested at the
// provider until the provider reports the outgoing transfer in its feed.
// Completion is terminal: both CompletedAt and CompletedTxID are set exactly
// once, by the reconciliation engine.
type RefundRequest struct {
	ID            int64
	MethodID      int64
	TransferID    string
	RefundID      int64
	IssuedAt      time.Time
	CompletedAt   *time.Time
	CompletedTxID *int64
}

// Completed reports whether either completion field has been set.
func (r *RefundRequest) Completed() bool {
	return r.CompletedAt != nil || r.CompletedTxID != nil
}

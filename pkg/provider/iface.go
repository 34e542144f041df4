package provider

import (
	"context"
	"time"

	"github.com/lofe-w/banksync/pkg/models"
)

// FeedClient lists the transactions a provider reports for an account.
// Implementations decide how the window maps onto their API; callers must
// tolerate overlapping windows since ingestion is idempotent.
type FeedClient interface {
	ListTransactions(ctx context.Context, from, to time.Time) ([]models.RemoteTransaction, error)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lofe-w/banksync/db"
	"github.com/lofe-w/banksync/pkg/models"
	"github.com/lofe-w/banksync/pkg/provider"
)

// fetchOverlap is subtracted from the latest known transaction date when
// computing the fetch window, so a transaction landing on the boundary is
// never missed. Ingestion is idempotent, so refetching is harmless.
const fetchOverlap = 24 * time.Hour

// initialFetchWindow bounds the first fetch of a method with no history.
const initialFetchWindow = 30 * 24 * time.Hour

// FeedFactory returns the feed client to pull transactions for a method.
type FeedFactory func(method *models.PaymentMethod) (provider.FeedClient, error)

// Reconciler pulls provider transaction feeds into the local store and
// dispatches every new transaction through its classification rules. Each
// method's cycle runs inside one unit of work: either every new record and
// every side effect commits, or the cycle rolls back whole.
type Reconciler struct {
	database db.DBInterface
	invoices InvoiceManager
	feedFor  FeedFactory

	rules          []Rule
	defaultHandler Handler

	orgShortname string

	// locks serializes cycles per method id, so a scheduler tick and a
	// manual fetch can never interleave on the same method.
	locks sync.Map

	now func() time.Time
}

// NewReconciler creates a reconciler with the standard rule chain for the
// given organization shortname.
func NewReconciler(database db.DBInterface, invoices InvoiceManager, feedFor FeedFactory, orgShortname string) *Reconciler {
	r := &Reconciler{
		database:     database,
		invoices:     invoices,
		feedFor:      feedFor,
		orgShortname: orgShortname,
		now:          time.Now,
	}
	r.rules = r.defaultRules()
	r.defaultHandler = r.handleDefault
	return r
}

// AddRule prepends a rule so it is consulted before the standard chain.
func (r *Reconciler) AddRule(rule Rule) {
	r.rules = append([]Rule{rule}, r.rules...)
}

func (r *Reconciler) methodLock(methodID int64) *sync.Mutex {
	lock, _ := r.locks.LoadOrStore(methodID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// ReconcileAll runs one cycle for every active payment method. Methods are
// independent: a failed cycle on one method is logged and does not stop the
// others.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	methods, err := r.database.GetActivePaymentMethods("")
	if err != nil {
		return fmt.Errorf("failed to list active payment methods: %w", err)
	}

	var failed int
	for _, method := range methods {
		if err := r.ReconcileMethod(ctx, method); err != nil {
			log.Error().Err(err).Str("method", method.Name).Msg("Reconciliation cycle failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d reconciliation cycles failed", failed, len(methods))
	}
	return nil
}

// ReconcileMethod fetches the feed for one method and processes every
// transaction not seen before.
func (r *Reconciler) ReconcileMethod(ctx context.Context, method *models.PaymentMethod) error {
	lock := r.methodLock(method.ID)
	lock.Lock()
	defer lock.Unlock()

	from, to, err := r.fetchWindow(method)
	if err != nil {
		return err
	}

	feed, err := r.feedFor(method)
	if err != nil {
		return fmt.Errorf("failed to build feed client for %s: %w", method.Name, err)
	}
	transactions, err := feed.ListTransactions(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to fetch feed for %s: %w", method.Name, err)
	}

	log.Debug().
		Str("method", method.Name).
		Time("from", from).
		Time("to", to).
		Int("count", len(transactions)).
		Msg("Fetched provider feed")

	uow, err := r.database.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin unit of work: %w", err)
	}

	processed, err := r.processFeed(ctx, uow, method, transactions)
	if err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Str("method", method.Name).Msg("Rollback failed")
		}
		var ierr *IntegrityError
		if errors.As(err, &ierr) {
			log.Error().Err(err).Str("method", method.Name).Msg("Aborting cycle on integrity violation")
		}
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit cycle for %s: %w", method.Name, err)
	}
	if processed > 0 {
		log.Info().
			Str("method", method.Name).
			Int("processed", processed).
			Msg("Reconciliation cycle complete")
	}
	return nil
}

func (r *Reconciler) processFeed(ctx context.Context, uow db.UnitOfWork, method *models.PaymentMethod, transactions []models.RemoteTransaction) (int, error) {
	processed := 0
	for i := range transactions {
		rt := &transactions[i]
		record, created, err := uow.CreateTransaction(method.ID, rt)
		if err != nil {
			return processed, fmt.Errorf("failed to record transaction %s: %w", rt.ReferenceNumber, err)
		}
		if !created {
			// Seen in an earlier cycle; its side effects already ran.
			continue
		}
		if err := r.classify(ctx, uow, method, record); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (r *Reconciler) classify(ctx context.Context, uow db.UnitOfWork, method *models.PaymentMethod, tx *models.LocalTransactionRecord) error {
	for _, rule := range r.rules {
		if rule.Match(tx) {
			log.Debug().
				Str("reference", tx.ReferenceNumber).
				Str("rule", rule.Name).
				Msg("Classified transaction")
			return rule.Handle(ctx, uow, method, tx)
		}
	}
	return r.defaultHandler(ctx, uow, method, tx)
}

// fetchWindow computes the feed interval for a method: from just before the
// latest transaction already stored, or a bounded initial window when the
// store is empty.
func (r *Reconciler) fetchWindow(method *models.PaymentMethod) (time.Time, time.Time, error) {
	to := r.now()
	latest, err := r.database.LatestTransactionDate(method.ID)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to find latest transaction for %s: %w", method.Name, err)
	}
	if latest == nil {
		return to.Add(-initialFetchWindow), to, nil
	}
	return latest.Add(-fetchOverlap), to, nil
}

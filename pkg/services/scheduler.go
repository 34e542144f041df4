package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lofe-w/banksync/db"
)

// DefaultSchedulerInterval is how often the scheduler runs a full
// reconciliation pass when no interval is configured.
const DefaultSchedulerInterval = 60 * time.Minute

// Scheduler periodically runs full reconciliation passes. Failures are
// logged and the loop keeps going; only context cancellation stops it.
type Scheduler struct {
	database   db.DBInterface
	reconciler *Reconciler
	interval   time.Duration
}

func NewScheduler(database db.DBInterface, reconciler *Reconciler, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	return &Scheduler{
		database:   database,
		reconciler: reconciler,
		interval:   interval,
	}
}

// ShouldRun reports whether a pass would do anything, which is the case
// only when at least one active payment method exists.
func (s *Scheduler) ShouldRun() (bool, error) {
	methods, err := s.database.GetActivePaymentMethods("")
	if err != nil {
		return false, err
	}
	return len(methods) > 0, nil
}

// Run executes passes on the configured interval until ctx is cancelled.
// The first pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Scheduler started")
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	run, err := s.ShouldRun()
	if err != nil {
		log.Error().Err(err).Msg("Failed to check for active payment methods")
		return
	}
	if !run {
		log.Debug().Msg("No active payment methods, skipping pass")
		return
	}
	if err := s.reconciler.ReconcileAll(ctx); err != nil {
		log.Error().Err(err).Msg("Reconciliation pass failed")
	}
}

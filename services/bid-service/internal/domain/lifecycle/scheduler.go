package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// Scheduler periodically moves auctions through their time-driven states.
// It keeps no state between sweeps: everything is derived from stored auctions.
type Scheduler struct {
	repo             auctions.Repository
	locks            *auctions.LockTable
	sink             auctions.EventSink
	interval         time.Duration
	endingSoonWindow time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

// NewScheduler creates a new lifecycle scheduler
func NewScheduler(
	repo auctions.Repository,
	locks *auctions.LockTable,
	sink auctions.EventSink,
	interval time.Duration,
	endingSoonWindow time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if endingSoonWindow <= 0 {
		endingSoonWindow = auctions.DefaultEndingSoonWindow
	}
	return &Scheduler{
		repo:             repo,
		locks:            locks,
		sink:             sink,
		interval:         interval,
		endingSoonWindow: endingSoonWindow,
		logger:           logger,
		now:              time.Now,
	}
}

// WithClock replaces the scheduler's time source
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run sweeps on every tick until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial run
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("Error sweeping auctions", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Error sweeping auctions", "error", err)
			}
		}
	}
}

// Sweep advances every auction whose deadline has been reached and returns how many changed.
// A failure on one auction is logged and does not stop the others.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListAuctionsByStatus(ctx,
		auctions.StatusScheduled, auctions.StatusActive, auctions.StatusEndingSoon)
	if err != nil {
		return 0, fmt.Errorf("failed to list auctions: %w", err)
	}

	now := s.now()
	changed := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return changed, nil
		}
		if !s.isDue(candidate, now) {
			continue
		}

		step, err := s.advance(ctx, candidate.ID)
		if err != nil {
			s.logger.Error("Failed to advance auction", "auction_id", candidate.ID, "error", err)
			continue
		}
		if step != auctions.StepNone {
			changed++
			s.logger.Info("Auction advanced", "auction_id", candidate.ID, "step", step.String())
		}
	}
	return changed, nil
}

// isDue filters the listing snapshot; the real decision is made again under the lock
func (s *Scheduler) isDue(a *auctions.Auction, now time.Time) bool {
	switch a.Status {
	case auctions.StatusScheduled:
		return !now.Before(a.StartTime)
	case auctions.StatusActive:
		return !now.Before(a.EndTime.Add(-s.endingSoonWindow))
	case auctions.StatusEndingSoon:
		return !now.Before(a.EndTime)
	}
	return false
}

// advance re-reads the auction under its lock and applies at most one lifecycle step
func (s *Scheduler) advance(ctx context.Context, auctionID uuid.UUID) (auctions.Step, error) {
	var (
		step   auctions.Step
		events []auctions.Event
	)
	err := s.locks.WithAuctionLock(ctx, auctionID, func(ctx context.Context) error {
		auction, err := s.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}

		now := s.now()
		step, err = auction.Advance(now, s.endingSoonWindow)
		if err != nil || step == auctions.StepNone {
			return err
		}

		if err := auctions.Persist(ctx, s.repo, auction); err != nil {
			return err
		}

		if event, ok := auctions.StepEvent(step, auction, now); ok {
			events = append(events, event)
		}
		return nil
	})
	if errors.Is(err, auctions.ErrAuctionNotFound) {
		s.logger.Debug("Auction vanished before it could be advanced", "auction_id", auctionID)
		return auctions.StepNone, nil
	}
	if err != nil {
		return auctions.StepNone, err
	}

	auctions.EmitAll(ctx, s.sink, events)
	return step, nil
}

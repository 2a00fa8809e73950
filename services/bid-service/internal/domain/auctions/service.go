package auctions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAutoExtendMinutes is used when auto-extend is enabled without a window
const DefaultAutoExtendMinutes = 5

// Validation errors
var (
	ErrInvalidPriceRange  = fmt.Errorf("%w: starting price must be greater than 0", ErrInvalidInput)
	ErrInvalidTimeRange   = fmt.Errorf("%w: start time must be before end time", ErrInvalidInput)
	ErrInvalidReserve     = fmt.Errorf("%w: reserve price must not be below the starting price", ErrInvalidInput)
	ErrInvalidBuyNow      = fmt.Errorf("%w: buy now price must be greater than the starting price and not below the reserve", ErrInvalidInput)
	ErrInvalidIncrement   = fmt.Errorf("%w: bid increment must be positive", ErrInvalidInput)
	ErrInvalidExtendRange = fmt.Errorf("%w: auto extend minutes must not be negative", ErrInvalidInput)
)

// CreateAuctionCommand represents the command to create a new auction
type CreateAuctionCommand struct {
	SellerID          uuid.UUID
	Title             string
	Description       string
	Category          string
	StartingPrice     decimal.Decimal
	ReservePrice      decimal.NullDecimal
	BuyNowPrice       decimal.NullDecimal
	BidIncrement      decimal.Decimal // zero selects the default tier
	StartTime         time.Time
	EndTime           time.Time
	AutoExtend        bool
	AutoExtendMinutes int

	ExternalSource string
	ExternalID     string
	ExternalURL    string
	// CurrentPrice is the price already reached elsewhere; it opens bidding when above StartingPrice
	CurrentPrice decimal.NullDecimal
}

// UpdateAuctionCommand represents the command to edit a draft or scheduled auction
type UpdateAuctionCommand struct {
	AuctionID uuid.UUID
	UserID    uuid.UUID
	CreateAuctionCommand
}

// CancelAuctionCommand represents the command to cancel an auction
type CancelAuctionCommand struct {
	AuctionID uuid.UUID
	UserID    uuid.UUID
	Reason    string
}

// DefaultIncrement returns the bid increment tier for a starting price
func DefaultIncrement(startingPrice decimal.Decimal) decimal.Decimal {
	switch {
	case startingPrice.LessThan(decimal.NewFromInt(1000)):
		return decimal.NewFromInt(50)
	case startingPrice.LessThan(decimal.NewFromInt(10000)):
		return decimal.NewFromInt(100)
	case startingPrice.LessThan(decimal.NewFromInt(100000)):
		return decimal.NewFromInt(1000)
	default:
		return decimal.NewFromInt(5000)
	}
}

// NewAuction validates cmd and builds a DRAFT auction from it
func NewAuction(cmd CreateAuctionCommand, now time.Time) (*Auction, error) {
	a := &Auction{
		ID:        uuid.New(),
		SellerID:  cmd.SellerID,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.apply(cmd); err != nil {
		return nil, err
	}
	return a, nil
}

// apply copies the editable fields of cmd onto the auction after validating them
func (a *Auction) apply(cmd CreateAuctionCommand) error {
	if !cmd.StartingPrice.IsPositive() {
		return ErrInvalidPriceRange
	}
	if !cmd.StartTime.Before(cmd.EndTime) {
		return ErrInvalidTimeRange
	}
	if cmd.ReservePrice.Valid && cmd.ReservePrice.Decimal.LessThan(cmd.StartingPrice) {
		return ErrInvalidReserve
	}
	if cmd.BuyNowPrice.Valid {
		if !cmd.BuyNowPrice.Decimal.GreaterThan(cmd.StartingPrice) {
			return ErrInvalidBuyNow
		}
		if cmd.ReservePrice.Valid && cmd.BuyNowPrice.Decimal.LessThan(cmd.ReservePrice.Decimal) {
			return ErrInvalidBuyNow
		}
	}
	if cmd.BidIncrement.IsNegative() {
		return ErrInvalidIncrement
	}
	if cmd.AutoExtendMinutes < 0 {
		return ErrInvalidExtendRange
	}

	increment := cmd.BidIncrement
	if increment.IsZero() {
		increment = DefaultIncrement(cmd.StartingPrice)
	}
	extendMinutes := cmd.AutoExtendMinutes
	if cmd.AutoExtend && extendMinutes == 0 {
		extendMinutes = DefaultAutoExtendMinutes
	}

	a.Title = cmd.Title
	a.Description = cmd.Description
	a.Category = cmd.Category
	a.StartingPrice = cmd.StartingPrice
	a.CurrentPrice = cmd.StartingPrice
	if cmd.CurrentPrice.Valid && cmd.CurrentPrice.Decimal.GreaterThan(cmd.StartingPrice) {
		a.CurrentPrice = cmd.CurrentPrice.Decimal
	}
	a.ReservePrice = cmd.ReservePrice
	a.BuyNowPrice = cmd.BuyNowPrice
	a.BidIncrement = increment
	a.StartTime = cmd.StartTime
	a.EndTime = cmd.EndTime
	a.AutoExtend = cmd.AutoExtend
	a.AutoExtendMinutes = extendMinutes
	a.ExternalSource = cmd.ExternalSource
	a.ExternalID = cmd.ExternalID
	a.ExternalURL = cmd.ExternalURL
	return nil
}

// Service implements the seller-facing operations on auctions
type Service struct {
	repo  Repository
	locks *LockTable
	sink  EventSink
	now   func() time.Time
}

// NewService creates a new auction service
func NewService(repo Repository, locks *LockTable, sink EventSink) *Service {
	return &Service{
		repo:  repo,
		locks: locks,
		sink:  sink,
		now:   time.Now,
	}
}

// WithClock replaces the service's time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateAuction creates a new auction in DRAFT
func (s *Service) CreateAuction(ctx context.Context, cmd CreateAuctionCommand) (*Auction, error) {
	now := s.now()
	auction, err := NewAuction(cmd, now)
	if err != nil {
		return nil, err
	}

	if err := Persist(ctx, s.repo, auction); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	EmitAll(ctx, s.sink, []Event{NewEvent(EventAuctionCreated, auction, now)})
	return auction, nil
}

// ImportAuction creates an auction that enters the system already SCHEDULED or ACTIVE
func (s *Service) ImportAuction(ctx context.Context, cmd CreateAuctionCommand, status Status) (*Auction, error) {
	now := s.now()
	auction, err := NewAuction(cmd, now)
	if err != nil {
		return nil, err
	}

	switch status {
	case StatusDraft:
	case StatusScheduled:
		err = auction.Schedule(now)
	case StatusActive:
		err = auction.Activate(now)
	default:
		err = fmt.Errorf("%w: cannot import an auction as %s", ErrInvalidTransition, status)
	}
	if err != nil {
		return nil, err
	}

	if err := Persist(ctx, s.repo, auction); err != nil {
		return nil, fmt.Errorf("failed to import auction: %w", err)
	}

	EmitAll(ctx, s.sink, []Event{NewEvent(EventAuctionCreated, auction, now)})
	return auction, nil
}

// GetAuction retrieves an auction by ID
func (s *Service) GetAuction(ctx context.Context, id uuid.UUID) (*Auction, error) {
	return s.repo.GetAuction(ctx, id)
}

// ListEndingSoon returns up to limit auctions in their final window, soonest ending first
func (s *Service) ListEndingSoon(ctx context.Context, limit int) ([]*Auction, error) {
	list, err := s.repo.ListAuctionsByStatus(ctx, StatusEndingSoon)
	if err != nil {
		return nil, fmt.Errorf("failed to list ending auctions: %w", err)
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// UpdateAuction edits an auction the seller still controls
func (s *Service) UpdateAuction(ctx context.Context, cmd UpdateAuctionCommand) (*Auction, error) {
	return s.mutate(ctx, cmd.AuctionID, cmd.UserID, EventAuctionUpdated, func(a *Auction, now time.Time) error {
		if !a.Status.IsEditable() {
			return ErrAuctionLocked
		}
		fields := cmd.CreateAuctionCommand
		if fields.ExternalSource == "" {
			fields.ExternalSource, fields.ExternalID, fields.ExternalURL = a.ExternalSource, a.ExternalID, a.ExternalURL
		}
		if err := a.apply(fields); err != nil {
			return err
		}
		a.UpdatedAt = now
		return nil
	})
}

// ScheduleAuction moves a draft auction to SCHEDULED
func (s *Service) ScheduleAuction(ctx context.Context, auctionID, userID uuid.UUID) (*Auction, error) {
	return s.mutate(ctx, auctionID, userID, EventAuctionScheduled, func(a *Auction, now time.Time) error {
		return a.Schedule(now)
	})
}

// ActivateAuction opens the auction for bidding ahead of the scheduler
func (s *Service) ActivateAuction(ctx context.Context, auctionID, userID uuid.UUID) (*Auction, error) {
	return s.mutate(ctx, auctionID, userID, EventAuctionActivated, func(a *Auction, now time.Time) error {
		return a.Activate(now)
	})
}

// CancelAuction cancels an auction that has not ended yet
func (s *Service) CancelAuction(ctx context.Context, cmd CancelAuctionCommand) (*Auction, error) {
	return s.mutate(ctx, cmd.AuctionID, cmd.UserID, EventAuctionCancelled, func(a *Auction, now time.Time) error {
		return a.Cancel(cmd.Reason, now)
	})
}

// SuspendAuction freezes an auction; it is an operator action and skips the ownership check
func (s *Service) SuspendAuction(ctx context.Context, auctionID uuid.UUID, reason string) (*Auction, error) {
	return s.mutate(ctx, auctionID, uuid.Nil, EventAuctionSuspended, func(a *Auction, now time.Time) error {
		if err := a.Suspend(now); err != nil {
			return err
		}
		a.CancellationReason = reason
		return nil
	})
}

// ResumeAuction lifts a suspension
func (s *Service) ResumeAuction(ctx context.Context, auctionID uuid.UUID) (*Auction, error) {
	return s.mutate(ctx, auctionID, uuid.Nil, EventAuctionResumed, func(a *Auction, now time.Time) error {
		if err := a.Resume(now); err != nil {
			return err
		}
		a.CancellationReason = ""
		return nil
	})
}

// mutate loads the auction under its lock, applies fn and persists the result.
// A nil userID skips the ownership check.
func (s *Service) mutate(
	ctx context.Context,
	auctionID, userID uuid.UUID,
	eventType EventType,
	fn func(a *Auction, now time.Time) error,
) (*Auction, error) {
	var (
		result *Auction
		event  Event
	)
	err := s.locks.WithAuctionLock(ctx, auctionID, func(ctx context.Context) error {
		auction, err := s.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if userID != uuid.Nil && !auction.IsOwnedBy(userID) {
			return ErrNotOwner
		}

		now := s.now()
		if err := fn(auction, now); err != nil {
			return err
		}
		if err := Persist(ctx, s.repo, auction); err != nil {
			return err
		}

		result = auction
		event = NewEvent(eventType, auction, now)
		if eventType == EventAuctionCancelled || eventType == EventAuctionSuspended {
			event = event.WithReason(auction.CancellationReason)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	EmitAll(ctx, s.sink, []Event{event})
	return result, nil
}

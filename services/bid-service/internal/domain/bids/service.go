package bids

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/proxy"
)

// Validation errors
var (
	ErrInvalidBidAmount = fmt.Errorf("%w: bid amount must be positive", auctions.ErrInvalidInput)
	ErrInvalidMaxAmount = fmt.Errorf("%w: max amount must not be below the bid amount", auctions.ErrInvalidInput)
	ErrBidNotCancelable = fmt.Errorf("%w: only the leading bid can be cancelled", auctions.ErrInvalidState)
)

// Engine admits bids. Every read-modify-write of an auction happens under that
// auction's lock, from loading it to persisting the result.
type Engine struct {
	repo      auctions.Repository
	locks     *auctions.LockTable
	validator BidValidator
	resolver  *proxy.Resolver
	sink      auctions.EventSink
	now       func() time.Time
}

// NewEngine creates a new bidding engine
func NewEngine(
	repo auctions.Repository,
	locks *auctions.LockTable,
	validator BidValidator,
	resolver *proxy.Resolver,
	sink auctions.EventSink,
) *Engine {
	return &Engine{
		repo:      repo,
		locks:     locks,
		validator: validator,
		resolver:  resolver,
		sink:      sink,
		now:       time.Now,
	}
}

// WithClock replaces the engine's time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// PlaceBid validates and applies a bid, then lets standing proxies respond.
// On any error nothing is persisted and no event is emitted.
func (e *Engine) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*auctions.Bid, error) {
	if !cmd.Amount.IsPositive() {
		return nil, ErrInvalidBidAmount
	}
	if cmd.MaxAmount.Valid && cmd.MaxAmount.Decimal.LessThan(cmd.Amount) {
		return nil, ErrInvalidMaxAmount
	}

	var (
		placed *auctions.Bid
		events []auctions.Event
	)
	err := e.locks.WithAuctionLock(ctx, cmd.AuctionID, func(ctx context.Context) error {
		auction, err := e.repo.GetAuction(ctx, cmd.AuctionID)
		if err != nil {
			return err
		}

		now := e.now()
		if err := e.checkAdmission(ctx, auction, cmd, now); err != nil {
			return err
		}

		bid := &auctions.Bid{
			ID:         uuid.New(),
			AuctionID:  auction.ID,
			BidderID:   cmd.BidderID,
			Amount:     cmd.Amount,
			MaxAmount:  cmd.MaxAmount,
			Type:       cmd.bidType(),
			IsProxyBid: cmd.MaxAmount.Valid,
			Metadata:   cmd.Metadata,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		displaced := auction.AcceptBid(bid, now)

		if auction.BuyNowReached(bid.Amount) {
			bid.Type = auctions.BidTypeBuyNow
			if err := auction.SellNow(bid, now); err != nil {
				return err
			}
		} else if outcome := e.resolver.Resolve(auction, now); outcome.Changed() {
			// when no standing proxy answers, the accepted bid already set the price
			outcome.Apply(auction, now)
			for _, id := range outcome.Outbid {
				displaced = append(displaced, auction.FindBid(id))
			}
			for _, b := range outcome.Created {
				if b.Status == auctions.BidStatusOutbid {
					displaced = append(displaced, b)
				}
			}
		}

		if err := auctions.Persist(ctx, e.repo, auction); err != nil {
			return err
		}

		placed = bid
		events = placementEvents(auction, bid, displaced, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	auctions.EmitAll(ctx, e.sink, events)
	return placed, nil
}

// checkAdmission runs the preconditions in order; each failure is a distinct error kind
func (e *Engine) checkAdmission(ctx context.Context, a *auctions.Auction, cmd PlaceBidCommand, now time.Time) error {
	if !a.Status.AcceptsBids() {
		return auctions.ErrAuctionNotActive
	}
	if !now.Before(a.EndTime) {
		return auctions.ErrAuctionEnded
	}
	if a.IsOwnedBy(cmd.BidderID) {
		return auctions.ErrSellerCannotBid
	}
	if minimum := a.MinimumNextBid(); cmd.Amount.LessThan(minimum) {
		return &auctions.BidTooLowError{Amount: cmd.Amount, Minimum: minimum}
	}
	if e.validator == nil {
		return nil
	}
	if err := e.validator.CheckEligibility(ctx, cmd.BidderID, a); err != nil {
		return err
	}
	// proxies bid on the bidder's behalf up to the ceiling, so the ceiling is what gets limited
	return e.validator.CheckLimits(ctx, cmd.BidderID, a, cmd.exposure())
}

// placementEvents announces the new bid, every displaced bidder and a buy-now sale
func placementEvents(a *auctions.Auction, bid *auctions.Bid, displaced []*auctions.Bid, now time.Time) []auctions.Event {
	events := []auctions.Event{auctions.NewEvent(auctions.EventBidPlaced, a, now).WithBid(bid)}

	leader := a.LeadingBid()
	if leader == nil {
		leader = a.WinningBid()
	}
	if leader != nil && leader.ID != bid.ID {
		events = append(events, auctions.NewEvent(auctions.EventBidPlaced, a, now).WithBid(leader))
	}

	notified := make(map[uuid.UUID]bool)
	for _, b := range displaced {
		if b == nil || notified[b.BidderID] || (leader != nil && b.BidderID == leader.BidderID) {
			continue
		}
		notified[b.BidderID] = true
		events = append(events, auctions.NewEvent(auctions.EventBidOutbid, a, now).WithBid(b))
	}

	if a.Status == auctions.StatusSold {
		events = append(events, auctions.NewEvent(auctions.EventAuctionSold, a, now).WithBid(bid))
	}
	return events
}

// CancelBid retracts the bidder's leading bid. The price falls back to the highest
// remaining accepted bid, or the starting price when there is none.
func (e *Engine) CancelBid(ctx context.Context, cmd CancelBidCommand) (*auctions.Bid, error) {
	var (
		cancelled *auctions.Bid
		event     auctions.Event
	)
	err := e.locks.WithAuctionLock(ctx, cmd.AuctionID, func(ctx context.Context) error {
		auction, err := e.repo.GetAuction(ctx, cmd.AuctionID)
		if err != nil {
			return err
		}
		bid := auction.FindBid(cmd.BidID)
		if bid == nil {
			return auctions.ErrBidNotFound
		}
		if bid.BidderID != cmd.BidderID {
			return auctions.ErrNotOwner
		}
		if !auction.Status.AcceptsBids() {
			return auctions.ErrAuctionNotActive
		}
		if bid.Status != auctions.BidStatusAccepted {
			return ErrBidNotCancelable
		}

		now := e.now()
		auction.SetBidStatus(bid, auctions.BidStatusCancelled, now)
		bid.CancellationReason = cmd.Reason
		cancelledAt := now
		bid.CancelledAt = &cancelledAt

		auction.CurrentPrice = auction.StartingPrice
		if leader := auction.LeadingBid(); leader != nil {
			auction.CurrentPrice = decimal.Max(auction.StartingPrice, leader.Amount)
		}
		auction.UpdatedAt = now

		if err := auctions.Persist(ctx, e.repo, auction); err != nil {
			return err
		}

		cancelled = bid
		event = auctions.NewEvent(auctions.EventBidCancelled, auction, now).WithBid(bid).WithReason(cmd.Reason)
		return nil
	})
	if err != nil {
		return nil, err
	}

	auctions.EmitAll(ctx, e.sink, []auctions.Event{event})
	return cancelled, nil
}

// NextMinimumBid returns the smallest amount the auction currently accepts
func (e *Engine) NextMinimumBid(ctx context.Context, auctionID uuid.UUID) (decimal.Decimal, error) {
	auction, err := e.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	return auction.MinimumNextBid(), nil
}

// LeadingBid returns the current leading bid, or nil if nobody has bid yet
func (e *Engine) LeadingBid(ctx context.Context, auctionID uuid.UUID) (*auctions.Bid, error) {
	bid, err := e.repo.HighestAcceptedBid(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get leading bid: %w", err)
	}
	return bid, nil
}

// ListBids returns the most recent bids of an auction
func (e *Engine) ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*auctions.Bid, error) {
	if _, err := e.repo.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := e.repo.ListBids(ctx, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bids, nil
}

// ListBidderBids returns one bidder's bids across auctions, newest first. An empty
// status returns bids in every status.
func (e *Engine) ListBidderBids(ctx context.Context, bidderID uuid.UUID, status auctions.BidStatus, limit int) ([]*auctions.Bid, error) {
	bids, err := e.repo.ListBidsByBidder(ctx, bidderID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bidder bids: %w", err)
	}
	return bids, nil
}

package auctions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Repository defines the interface for auction and bid persistence.
// Callers serialize writes to one auction with the LockTable; implementations
// only need optimistic versioning as a last line of defence.
type Repository interface {
	// RunInTx runs fn in a single unit of work. Writes made through the
	// context passed to fn are committed together or not at all.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// GetAuction returns a detached copy of the auction with all its bids.
	// Returns ErrAuctionNotFound if it does not exist.
	GetAuction(ctx context.Context, id uuid.UUID) (*Auction, error)

	// SaveAuction inserts the auction when Version is zero, otherwise updates it
	// if the stored version still matches. Version is bumped on success.
	SaveAuction(ctx context.Context, auction *Auction) error

	// SaveBid inserts or updates a single bid
	SaveBid(ctx context.Context, bid *Bid) error

	// HighestAcceptedBid returns the current leading bid, or nil if there is none
	HighestAcceptedBid(ctx context.Context, auctionID uuid.UUID) (*Bid, error)

	// ListBids returns the most recent bids of an auction, newest first
	ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*Bid, error)

	// ListBidsByBidder returns one bidder's bids across all auctions, newest first.
	// An empty status matches every status.
	ListBidsByBidder(ctx context.Context, bidderID uuid.UUID, status BidStatus, limit int) ([]*Bid, error)

	// ListAuctionsByStatus returns auctions in any of the given states, without bids
	ListAuctionsByStatus(ctx context.Context, statuses ...Status) ([]*Auction, error)

	// FindByExternalID looks up an ingested auction by its source and external ID.
	// Returns ErrAuctionNotFound if it does not exist.
	FindByExternalID(ctx context.Context, source, externalID string) (*Auction, error)
}

// Persist writes the auction and every bid changed since it was loaded in one unit of work
func Persist(ctx context.Context, repo Repository, auction *Auction) error {
	err := repo.RunInTx(ctx, func(ctx context.Context) error {
		if err := repo.SaveAuction(ctx, auction); err != nil {
			return err
		}
		for _, b := range auction.PendingBids() {
			if err := repo.SaveBid(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapPersistence(err)
	}
	auction.ClearPending()
	return nil
}

func wrapPersistence(err error) error {
	if IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

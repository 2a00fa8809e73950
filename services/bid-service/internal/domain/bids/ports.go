package bids

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// BidValidator runs the bidder checks the engine cannot decide on its own.
// Implementations must be stateless and safe for concurrent use.
type BidValidator interface {
	// CheckEligibility returns an error matching auctions.ErrEligibilityRejected if the bidder may not bid
	CheckEligibility(ctx context.Context, bidderID uuid.UUID, auction *auctions.Auction) error

	// CheckLimits returns an error matching auctions.ErrLimitExceeded if amount breaks a bidder limit.
	// For proxy bids amount is the ceiling.
	CheckLimits(ctx context.Context, bidderID uuid.UUID, auction *auctions.Auction, amount decimal.Decimal) error
}

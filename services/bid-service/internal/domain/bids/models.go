package bids

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// PlaceBidCommand represents a bid request.
// A valid MaxAmount turns the bid into a proxy bid with that ceiling.
type PlaceBidCommand struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	MaxAmount decimal.NullDecimal
	IsSnipe   bool
	Metadata  auctions.BidMetadata
}

// CancelBidCommand represents a bidder retracting their leading bid
type CancelBidCommand struct {
	AuctionID uuid.UUID
	BidID     uuid.UUID
	BidderID  uuid.UUID
	Reason    string
}

// bidType picks the type recorded for a direct bid
func (c PlaceBidCommand) bidType() auctions.BidType {
	switch {
	case c.MaxAmount.Valid:
		return auctions.BidTypeProxy
	case c.IsSnipe:
		return auctions.BidTypeSnipe
	default:
		return auctions.BidTypeManual
	}
}

// exposure is the most the bidder commits to: the proxy ceiling when one is set
func (c PlaceBidCommand) exposure() decimal.Decimal {
	if c.MaxAmount.Valid {
		return c.MaxAmount.Decimal
	}
	return c.Amount
}

package bids

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// LimitPolicy configures LimitValidator. Zero values disable a limit.
type LimitPolicy struct {
	// MaxBidAmount caps any single bid
	MaxBidAmount decimal.Decimal
	// MaxJumpFactor caps a bid at this multiple of the current price
	MaxJumpFactor decimal.Decimal
	// BlockedBidders may not bid at all
	BlockedBidders []uuid.UUID
}

// LimitValidator is the default BidValidator. It only looks at its arguments and
// its immutable policy, so one instance can be shared by all workers.
type LimitValidator struct {
	policy  LimitPolicy
	blocked map[uuid.UUID]struct{}
}

// NewLimitValidator creates a validator for the given policy
func NewLimitValidator(policy LimitPolicy) *LimitValidator {
	blocked := make(map[uuid.UUID]struct{}, len(policy.BlockedBidders))
	for _, id := range policy.BlockedBidders {
		blocked[id] = struct{}{}
	}
	return &LimitValidator{policy: policy, blocked: blocked}
}

// CheckEligibility rejects anonymous and blocked bidders
func (v *LimitValidator) CheckEligibility(_ context.Context, bidderID uuid.UUID, _ *auctions.Auction) error {
	if bidderID == uuid.Nil {
		return fmt.Errorf("%w: missing bidder identity", auctions.ErrEligibilityRejected)
	}
	if _, ok := v.blocked[bidderID]; ok {
		return fmt.Errorf("%w: bidder %s is blocked", auctions.ErrEligibilityRejected, bidderID)
	}
	return nil
}

// CheckLimits enforces the per-bid ceiling and the jump factor on the bidder's exposure
func (v *LimitValidator) CheckLimits(_ context.Context, _ uuid.UUID, auction *auctions.Auction, amount decimal.Decimal) error {
	if v.policy.MaxBidAmount.IsPositive() && amount.GreaterThan(v.policy.MaxBidAmount) {
		return fmt.Errorf("%w: %s exceeds the maximum bid of %s",
			auctions.ErrLimitExceeded, amount.StringFixed(2), v.policy.MaxBidAmount.StringFixed(2))
	}
	if v.policy.MaxJumpFactor.IsPositive() && auction.CurrentPrice.IsPositive() {
		ceiling := auction.CurrentPrice.Mul(v.policy.MaxJumpFactor)
		if amount.GreaterThan(ceiling) {
			return fmt.Errorf("%w: %s is more than %s times the current price",
				auctions.ErrLimitExceeded, amount.StringFixed(2), v.policy.MaxJumpFactor.String())
		}
	}
	return nil
}

package auctions

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds. Every error returned by the engine matches exactly one of these via errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid auction state")
	ErrBidTooLow           = errors.New("bid amount too low")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrEligibilityRejected = errors.New("bidder is not eligible")
	ErrLimitExceeded       = errors.New("bidder limit exceeded")
	ErrPersistence         = errors.New("persistence failure")
	ErrInvalidInput        = errors.New("invalid input")
)

var (
	ErrAuctionNotFound = fmt.Errorf("auction %w", ErrNotFound)
	ErrBidNotFound     = fmt.Errorf("bid %w", ErrNotFound)

	ErrAuctionNotActive  = fmt.Errorf("%w: auction is not accepting bids", ErrInvalidState)
	ErrAuctionEnded      = fmt.Errorf("%w: auction has ended", ErrInvalidState)
	ErrAuctionNotStarted = fmt.Errorf("%w: auction start time has not been reached", ErrInvalidState)
	ErrInvalidTransition = fmt.Errorf("%w: transition not allowed", ErrInvalidState)
	ErrAuctionLocked     = fmt.Errorf("%w: auction can no longer be edited", ErrInvalidState)

	ErrSellerCannotBid = fmt.Errorf("%w: seller cannot bid on their own auction", ErrUnauthorized)
	ErrNotOwner        = fmt.Errorf("%w: only the owner can perform this action", ErrUnauthorized)

	ErrConcurrentModification = fmt.Errorf("%w: auction was modified concurrently", ErrPersistence)
)

// BidTooLowError is returned when a bid does not reach the minimum next bid.
// Minimum is the smallest amount that would have been accepted.
type BidTooLowError struct {
	Amount  decimal.Decimal
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid amount too low: %s is below the minimum of %s", e.Amount.StringFixed(2), e.Minimum.StringFixed(2))
}

// Is lets errors.Is(err, ErrBidTooLow) match
func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// IsRetryable reports whether the operation may succeed if repeated unchanged
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// MinimumBid extracts the minimum acceptable amount from a BidTooLow error
func MinimumBid(err error) (decimal.Decimal, bool) {
	var tooLow *BidTooLowError
	if errors.As(err, &tooLow) {
		return tooLow.Minimum, true
	}
	return decimal.Zero, false
}

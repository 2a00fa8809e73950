package auctions

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultEndingSoonWindow is how long before the end time an auction is flagged ENDING_SOON
const DefaultEndingSoonWindow = 30 * time.Minute

// Step describes what a single call to Advance did to an auction
type Step int

const (
	StepNone Step = iota
	StepActivated
	StepEndingSoon
	StepExtended
	StepEnded
	StepSold
)

func (s Step) String() string {
	switch s {
	case StepActivated:
		return "activated"
	case StepEndingSoon:
		return "ending_soon"
	case StepExtended:
		return "extended"
	case StepEnded:
		return "ended"
	case StepSold:
		return "sold"
	default:
		return "none"
	}
}

// Advance drives the time-based part of the state machine by at most one step.
// It only reads the auction's stored fields, so repeated calls with the same now are idempotent.
func (a *Auction) Advance(now time.Time, endingSoonWindow time.Duration) (Step, error) {
	switch a.Status {
	case StatusScheduled:
		if now.Before(a.StartTime) {
			return StepNone, nil
		}
		if err := a.transition(StatusActive); err != nil {
			return StepNone, err
		}
		a.UpdatedAt = now
		return StepActivated, nil

	case StatusActive, StatusEndingSoon:
		if !now.Before(a.EndTime) {
			if a.shouldExtend() {
				a.EndTime = a.EndTime.Add(a.ExtendWindow())
				a.UpdatedAt = now
				return StepExtended, nil
			}
			return a.close(now)
		}
		if a.Status == StatusActive && !now.Before(a.EndTime.Add(-endingSoonWindow)) {
			if err := a.transition(StatusEndingSoon); err != nil {
				return StepNone, err
			}
			a.UpdatedAt = now
			return StepEndingSoon, nil
		}
	}
	return StepNone, nil
}

// shouldExtend applies the anti-snipe rule: the last bid landed inside the extension window
func (a *Auction) shouldExtend() bool {
	if !a.AutoExtend || a.AutoExtendMinutes <= 0 {
		return false
	}
	last, ok := a.LastBidTime()
	if !ok {
		return false
	}
	return last.After(a.EndTime.Add(-a.ExtendWindow()))
}

// close ends the auction and runs winner determination
func (a *Auction) close(now time.Time) (Step, error) {
	if err := a.transition(StatusEnded); err != nil {
		return StepNone, err
	}
	ended := now
	a.ActualEndTime = &ended
	a.UpdatedAt = now

	leader := a.LeadingBid()
	if leader == nil {
		return StepEnded, nil
	}
	if !a.ReserveMet(leader.Amount) {
		a.SetBidStatus(leader, BidStatusExpired, now)
		return StepEnded, nil
	}
	if err := a.declareWinner(leader, now); err != nil {
		return StepNone, err
	}
	return StepSold, nil
}

// ReserveMet reports whether amount satisfies the reserve price, if one is set
func (a *Auction) ReserveMet(amount decimal.Decimal) bool {
	return !a.ReservePrice.Valid || amount.GreaterThanOrEqual(a.ReservePrice.Decimal)
}

// BuyNowReached reports whether amount meets the buy-now price, if one is set
func (a *Auction) BuyNowReached(amount decimal.Decimal) bool {
	return a.BuyNowPrice.Valid && amount.GreaterThanOrEqual(a.BuyNowPrice.Decimal)
}

// AcceptBid records a new leading bid and returns the bids it displaced
func (a *Auction) AcceptBid(bid *Bid, now time.Time) []*Bid {
	var outbid []*Bid
	for _, b := range a.Bids {
		if b.Status == BidStatusAccepted {
			a.SetBidStatus(b, BidStatusOutbid, now)
			outbid = append(outbid, b)
		}
	}
	bid.Status = BidStatusAccepted
	a.AppendBid(bid)
	if bid.Amount.GreaterThan(a.CurrentPrice) {
		a.CurrentPrice = bid.Amount
	}
	a.UpdatedAt = now
	return outbid
}

// SellNow ends a live auction immediately in favour of bid
func (a *Auction) SellNow(bid *Bid, now time.Time) error {
	if !a.Status.AcceptsBids() {
		return fmt.Errorf("%w: cannot sell from %s", ErrInvalidTransition, a.Status)
	}
	ended := now
	a.ActualEndTime = &ended
	return a.declareWinner(bid, now)
}

func (a *Auction) declareWinner(bid *Bid, now time.Time) error {
	if err := a.transition(StatusSold); err != nil {
		return err
	}
	a.SetBidStatus(bid, BidStatusWinning, now)
	a.WinnerID = uuid.NullUUID{UUID: bid.BidderID, Valid: true}
	a.WinningAmount = decimal.NewNullDecimal(bid.Amount)
	a.UpdatedAt = now
	return nil
}

// Schedule moves a draft auction to SCHEDULED
func (a *Auction) Schedule(now time.Time) error {
	if a.Status != StatusDraft {
		return fmt.Errorf("%w: only draft auctions can be scheduled", ErrInvalidTransition)
	}
	if err := a.transition(StatusScheduled); err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

// Activate opens the auction for bidding once its start time has been reached
func (a *Auction) Activate(now time.Time) error {
	if a.Status != StatusDraft && a.Status != StatusScheduled {
		return fmt.Errorf("%w: cannot activate from %s", ErrInvalidTransition, a.Status)
	}
	if now.Before(a.StartTime) {
		return ErrAuctionNotStarted
	}
	if err := a.transition(StatusActive); err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

// Cancel stops the auction for good. The standing bid, if any, expires.
func (a *Auction) Cancel(reason string, now time.Time) error {
	if err := a.transition(StatusCancelled); err != nil {
		return err
	}
	a.CancellationReason = reason
	for _, b := range a.Bids {
		if b.Status == BidStatusAccepted {
			a.SetBidStatus(b, BidStatusExpired, now)
		}
	}
	ended := now
	a.ActualEndTime = &ended
	a.UpdatedAt = now
	return nil
}

// Suspend freezes a non-terminal auction
func (a *Auction) Suspend(now time.Time) error {
	if err := a.transition(StatusSuspended); err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

// Resume returns a suspended auction to ACTIVE, or SCHEDULED if it has not started yet
func (a *Auction) Resume(now time.Time) error {
	if a.Status != StatusSuspended {
		return fmt.Errorf("%w: auction is not suspended", ErrInvalidTransition)
	}
	next := StatusActive
	if now.Before(a.StartTime) {
		next = StatusScheduled
	}
	if err := a.transition(next); err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

package auctions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType is used as the routing key when events leave the service
type EventType string

const (
	EventAuctionCreated    EventType = "auction.created"
	EventAuctionUpdated    EventType = "auction.updated"
	EventAuctionScheduled  EventType = "auction.scheduled"
	EventAuctionActivated  EventType = "auction.activated"
	EventAuctionEndingSoon EventType = "auction.ending_soon"
	EventAuctionExtended   EventType = "auction.extended"
	EventAuctionEnded      EventType = "auction.ended"
	EventAuctionSold       EventType = "auction.sold"
	EventAuctionCancelled  EventType = "auction.cancelled"
	EventAuctionSuspended  EventType = "auction.suspended"
	EventAuctionResumed    EventType = "auction.resumed"
	EventBidPlaced         EventType = "bid.placed"
	EventBidOutbid         EventType = "bid.outbid"
	EventBidCancelled      EventType = "bid.cancelled"
)

// Event is a fact about an auction handed to the EventSink after the change was persisted
type Event struct {
	ID           uuid.UUID
	Type         EventType
	AuctionID    uuid.UUID
	Status       Status
	CurrentPrice decimal.Decimal
	EndTime      time.Time

	BidID    uuid.NullUUID
	BidderID uuid.NullUUID
	Amount   decimal.NullDecimal
	Reason   string

	OccurredAt time.Time
}

// NewEvent captures the auction's state at the time of the event
func NewEvent(t EventType, a *Auction, now time.Time) Event {
	return Event{
		ID:           uuid.New(),
		Type:         t,
		AuctionID:    a.ID,
		Status:       a.Status,
		CurrentPrice: a.CurrentPrice,
		EndTime:      a.EndTime,
		OccurredAt:   now,
	}
}

// WithBid attaches a bid to the event
func (e Event) WithBid(b *Bid) Event {
	e.BidID = uuid.NullUUID{UUID: b.ID, Valid: true}
	e.BidderID = uuid.NullUUID{UUID: b.BidderID, Valid: true}
	e.Amount = decimal.NewNullDecimal(b.Amount)
	return e
}

// WithReason attaches a free-form reason to the event
func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}

// EventSink receives events for broadcast and notification.
// Emit must not block the caller for long and never reports delivery failures.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EmitAll hands every event to the sink in order
func EmitAll(ctx context.Context, sink EventSink, events []Event) {
	if sink == nil {
		return
	}
	for _, e := range events {
		sink.Emit(ctx, e)
	}
}

// StepEvent maps a lifecycle step to the event that announces it
func StepEvent(step Step, a *Auction, now time.Time) (Event, bool) {
	switch step {
	case StepActivated:
		return NewEvent(EventAuctionActivated, a, now), true
	case StepEndingSoon:
		return NewEvent(EventAuctionEndingSoon, a, now), true
	case StepExtended:
		return NewEvent(EventAuctionExtended, a, now), true
	case StepEnded:
		return NewEvent(EventAuctionEnded, a, now), true
	case StepSold:
		e := NewEvent(EventAuctionSold, a, now)
		if winner := a.WinningBid(); winner != nil {
			e = e.WithBid(winner)
		}
		return e, true
	}
	return Event{}, false
}

// WinningBid returns the bid flagged as winning, if the auction was sold
func (a *Auction) WinningBid() *Bid {
	for _, b := range a.Bids {
		if b.Status == BidStatusWinning {
			return b
		}
	}
	return nil
}

package auctions

import "fmt"

// Status is the lifecycle state of an auction
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusScheduled  Status = "SCHEDULED"
	StatusActive     Status = "ACTIVE"
	StatusEndingSoon Status = "ENDING_SOON"
	StatusEnded      Status = "ENDED"
	StatusSold       Status = "SOLD"
	StatusCancelled  Status = "CANCELLED"
	StatusSuspended  Status = "SUSPENDED"
)

var transitions = map[Status][]Status{
	StatusDraft:      {StatusScheduled, StatusActive, StatusCancelled, StatusSuspended},
	StatusScheduled:  {StatusActive, StatusCancelled, StatusSuspended},
	StatusActive:     {StatusEndingSoon, StatusEnded, StatusSold, StatusCancelled, StatusSuspended},
	StatusEndingSoon: {StatusEnded, StatusSold, StatusCancelled, StatusSuspended},
	// winner determination runs on an auction that has just ended
	StatusEnded:     {StatusSold},
	StatusSuspended: {StatusScheduled, StatusActive, StatusCancelled},
}

// CanTransitionTo reports whether the state machine allows moving to next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no actor may change the auction any more
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusSold || s == StatusCancelled
}

// AcceptsBids reports whether bids may be placed in this state
func (s Status) AcceptsBids() bool {
	return s == StatusActive || s == StatusEndingSoon
}

// IsEditable reports whether the seller may still change auction details
func (s Status) IsEditable() bool {
	return s == StatusDraft || s == StatusScheduled
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a stored status name back into a Status
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	switch s {
	case StatusDraft, StatusScheduled, StatusActive, StatusEndingSoon,
		StatusEnded, StatusSold, StatusCancelled, StatusSuspended:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown auction status %q", ErrInvalidInput, v)
}

// ParseBidStatus converts a bid status name; the empty string is rejected too
func ParseBidStatus(v string) (BidStatus, error) {
	s := BidStatus(v)
	switch s {
	case BidStatusPending, BidStatusAccepted, BidStatusRejected, BidStatusOutbid,
		BidStatusWinning, BidStatusCancelled, BidStatusExpired:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown bid status %q", ErrInvalidInput, v)
}

// transition moves the auction to next if the state machine allows it
func (a *Auction) transition(next Status) error {
	if !a.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	a.Status = next
	return nil
}

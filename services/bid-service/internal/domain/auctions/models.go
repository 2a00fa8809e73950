package auctions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidType describes how a bid entered the auction
type BidType string

const (
	BidTypeManual  BidType = "manual"
	BidTypeProxy   BidType = "proxy"
	BidTypeSnipe   BidType = "snipe"
	BidTypeAutoBid BidType = "autobid"
	BidTypeBuyNow  BidType = "buy_now"
)

// BidStatus is the lifecycle state of a single bid
type BidStatus string

const (
	BidStatusPending   BidStatus = "pending"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusRejected  BidStatus = "rejected"
	BidStatusOutbid    BidStatus = "outbid"
	BidStatusWinning   BidStatus = "winning"
	BidStatusCancelled BidStatus = "cancelled"
	BidStatusExpired   BidStatus = "expired"
)

// BidSource is the channel a bid was submitted through
type BidSource string

const (
	BidSourceWeb       BidSource = "web"
	BidSourceMobileApp BidSource = "mobile_app"
	BidSourceAPI       BidSource = "api"
	BidSourcePhone     BidSource = "phone"
	BidSourceInPerson  BidSource = "in_person"
)

// BidMetadata holds request details recorded with a bid
type BidMetadata struct {
	IPAddress string
	UserAgent string
	DeviceID  string
	Source    BidSource
}

// Bid represents a single bid on an auction.
// Bids are never deleted; retired bids stay as an audit trail.
type Bid struct {
	ID          uuid.UUID
	AuctionID   uuid.UUID
	BidderID    uuid.UUID
	Amount      decimal.Decimal
	MaxAmount   decimal.NullDecimal
	Type        BidType
	Status      BidStatus
	IsProxyBid  bool
	ParentBidID uuid.NullUUID
	Metadata    BidMetadata
	// Sequence is the 1-based position of the bid within its auction
	Sequence           int
	CancellationReason string
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasMaxAmount reports whether the bid carries a proxy ceiling
func (b *Bid) HasMaxAmount() bool {
	return b.MaxAmount.Valid
}

// Ceiling returns the highest amount the bidder committed to with this bid
func (b *Bid) Ceiling() decimal.Decimal {
	if b.MaxAmount.Valid && b.MaxAmount.Decimal.GreaterThan(b.Amount) {
		return b.MaxAmount.Decimal
	}
	return b.Amount
}

// Before orders bids by submission time, falling back to sequence for equal timestamps
func (b *Bid) Before(other *Bid) bool {
	if !b.CreatedAt.Equal(other.CreatedAt) {
		return b.CreatedAt.Before(other.CreatedAt)
	}
	return b.Sequence < other.Sequence
}

// Clone returns a copy of the bid that shares no mutable state
func (b *Bid) Clone() *Bid {
	c := *b
	if b.CancelledAt != nil {
		t := *b.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// Auction is the aggregate the engine mutates under the auction lock
type Auction struct {
	ID          uuid.UUID
	SellerID    uuid.UUID
	Title       string
	Description string
	Category    string

	StartingPrice decimal.Decimal
	ReservePrice  decimal.NullDecimal
	BuyNowPrice   decimal.NullDecimal
	CurrentPrice  decimal.Decimal
	BidIncrement  decimal.Decimal

	StartTime         time.Time
	EndTime           time.Time
	ActualEndTime     *time.Time
	AutoExtend        bool
	AutoExtendMinutes int

	Status             Status
	WinnerID           uuid.NullUUID
	WinningAmount      decimal.NullDecimal
	CancellationReason string

	// Set for auctions seeded by the ingestion pipeline
	ExternalSource string
	ExternalID     string
	ExternalURL    string

	// Bids in insertion order
	Bids []*Bid

	// Version is bumped on every successful save; zero means not yet persisted
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	pending map[uuid.UUID]struct{}
}

// IsOwnedBy checks if the auction belongs to the given seller
func (a *Auction) IsOwnedBy(userID uuid.UUID) bool {
	return a.SellerID == userID
}

// MinimumNextBid is the lowest amount a new bid must reach
func (a *Auction) MinimumNextBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.BidIncrement)
}

// ExtendWindow returns the anti-snipe window as a duration
func (a *Auction) ExtendWindow() time.Duration {
	return time.Duration(a.AutoExtendMinutes) * time.Minute
}

// LeadingBid returns the bid currently holding the auction, if any
func (a *Auction) LeadingBid() *Bid {
	var leader *Bid
	for _, b := range a.Bids {
		if b.Status != BidStatusAccepted {
			continue
		}
		if leader == nil || b.Amount.GreaterThan(leader.Amount) ||
			(b.Amount.Equal(leader.Amount) && b.Before(leader)) {
			leader = b
		}
	}
	return leader
}

// FindBid looks up a bid by ID
func (a *Auction) FindBid(bidID uuid.UUID) *Bid {
	for _, b := range a.Bids {
		if b.ID == bidID {
			return b
		}
	}
	return nil
}

// LastBidTime returns the timestamp of the most recent live bid.
// Rejected and cancelled bids do not count.
func (a *Auction) LastBidTime() (time.Time, bool) {
	var last time.Time
	found := false
	for _, b := range a.Bids {
		if b.Status == BidStatusRejected || b.Status == BidStatusCancelled {
			continue
		}
		if !found || b.CreatedAt.After(last) {
			last = b.CreatedAt
			found = true
		}
	}
	return last, found
}

// AppendBid adds a bid at the end of the auction's bid list
func (a *Auction) AppendBid(b *Bid) {
	b.AuctionID = a.ID
	b.Sequence = len(a.Bids) + 1
	a.Bids = append(a.Bids, b)
	a.touch(b)
}

// SetBidStatus changes the status of a bid and records it as pending persistence
func (a *Auction) SetBidStatus(b *Bid, status BidStatus, now time.Time) {
	b.Status = status
	b.UpdatedAt = now
	a.touch(b)
}

// PendingBids returns the bids changed since the auction was loaded, in insertion order
func (a *Auction) PendingBids() []*Bid {
	if len(a.pending) == 0 {
		return nil
	}
	result := make([]*Bid, 0, len(a.pending))
	for _, b := range a.Bids {
		if _, ok := a.pending[b.ID]; ok {
			result = append(result, b)
		}
	}
	return result
}

// ClearPending forgets tracked bid changes after they were persisted
func (a *Auction) ClearPending() {
	a.pending = nil
}

func (a *Auction) touch(b *Bid) {
	if a.pending == nil {
		a.pending = make(map[uuid.UUID]struct{})
	}
	a.pending[b.ID] = struct{}{}
}

// Clone returns a deep copy of the auction and its bids.
// Pending changes are not carried over.
func (a *Auction) Clone() *Auction {
	c := *a
	c.pending = nil
	if a.ActualEndTime != nil {
		t := *a.ActualEndTime
		c.ActualEndTime = &t
	}
	if a.Bids != nil {
		c.Bids = make([]*Bid, len(a.Bids))
		for i, b := range a.Bids {
			c.Bids[i] = b.Clone()
		}
	}
	return &c
}

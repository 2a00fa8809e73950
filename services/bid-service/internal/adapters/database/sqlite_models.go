package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// Money columns are TEXT so SQLite never coerces them to floating point

type auctionRow struct {
	bun.BaseModel `bun:"table:auctions"`

	ID                 uuid.UUID           `bun:"id,pk,type:varchar(36)"`
	SellerID           uuid.UUID           `bun:"seller_id,type:varchar(36),notnull"`
	Title              string              `bun:"title,notnull"`
	Description        string              `bun:"description"`
	Category           string              `bun:"category"`
	StartingPrice      decimal.Decimal     `bun:"starting_price,type:text,notnull"`
	ReservePrice       decimal.NullDecimal `bun:"reserve_price,type:text"`
	BuyNowPrice        decimal.NullDecimal `bun:"buy_now_price,type:text"`
	CurrentPrice       decimal.Decimal     `bun:"current_price,type:text,notnull"`
	BidIncrement       decimal.Decimal     `bun:"bid_increment,type:text,notnull"`
	StartTime          time.Time           `bun:"start_time,notnull"`
	EndTime            time.Time           `bun:"end_time,notnull"`
	ActualEndTime      *time.Time          `bun:"actual_end_time"`
	AutoExtend         bool                `bun:"auto_extend"`
	AutoExtendMinutes  int                 `bun:"auto_extend_minutes"`
	Status             string              `bun:"status,notnull"`
	WinnerID           uuid.NullUUID       `bun:"winner_id,type:varchar(36)"`
	WinningAmount      decimal.NullDecimal `bun:"winning_amount,type:text"`
	CancellationReason string              `bun:"cancellation_reason"`
	ExternalSource     string              `bun:"external_source"`
	ExternalID         string              `bun:"external_id"`
	ExternalURL        string              `bun:"external_url"`
	Version            int64               `bun:"version,notnull"`
	CreatedAt          time.Time           `bun:"created_at,notnull"`
	UpdatedAt          time.Time           `bun:"updated_at,notnull"`
}

type bidRow struct {
	bun.BaseModel `bun:"table:bids"`

	ID                 uuid.UUID           `bun:"id,pk,type:varchar(36)"`
	AuctionID          uuid.UUID           `bun:"auction_id,type:varchar(36),notnull"`
	BidderID           uuid.UUID           `bun:"bidder_id,type:varchar(36),notnull"`
	Amount             decimal.Decimal     `bun:"amount,type:text,notnull"`
	MaxAmount          decimal.NullDecimal `bun:"max_amount,type:text"`
	BidType            string              `bun:"bid_type,notnull"`
	Status             string              `bun:"status,notnull"`
	IsProxyBid         bool                `bun:"is_proxy_bid"`
	ParentBidID        uuid.NullUUID       `bun:"parent_bid_id,type:varchar(36)"`
	Sequence           int                 `bun:"sequence,notnull"`
	IPAddress          string              `bun:"ip_address"`
	UserAgent          string              `bun:"user_agent"`
	DeviceID           string              `bun:"device_id"`
	Source             string              `bun:"source"`
	CancellationReason string              `bun:"cancellation_reason"`
	CancelledAt        *time.Time          `bun:"cancelled_at"`
	CreatedAt          time.Time           `bun:"created_at,notnull"`
	UpdatedAt          time.Time           `bun:"updated_at,notnull"`
}

func newAuctionRow(a *auctions.Auction) *auctionRow {
	return &auctionRow{
		ID:                 a.ID,
		SellerID:           a.SellerID,
		Title:              a.Title,
		Description:        a.Description,
		Category:           a.Category,
		StartingPrice:      a.StartingPrice,
		ReservePrice:       a.ReservePrice,
		BuyNowPrice:        a.BuyNowPrice,
		CurrentPrice:       a.CurrentPrice,
		BidIncrement:       a.BidIncrement,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		ActualEndTime:      a.ActualEndTime,
		AutoExtend:         a.AutoExtend,
		AutoExtendMinutes:  a.AutoExtendMinutes,
		Status:             string(a.Status),
		WinnerID:           a.WinnerID,
		WinningAmount:      a.WinningAmount,
		CancellationReason: a.CancellationReason,
		ExternalSource:     a.ExternalSource,
		ExternalID:         a.ExternalID,
		ExternalURL:        a.ExternalURL,
		Version:            a.Version,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func (r *auctionRow) toDomain() *auctions.Auction {
	return &auctions.Auction{
		ID:                 r.ID,
		SellerID:           r.SellerID,
		Title:              r.Title,
		Description:        r.Description,
		Category:           r.Category,
		StartingPrice:      r.StartingPrice,
		ReservePrice:       r.ReservePrice,
		BuyNowPrice:        r.BuyNowPrice,
		CurrentPrice:       r.CurrentPrice,
		BidIncrement:       r.BidIncrement,
		StartTime:          r.StartTime,
		EndTime:            r.EndTime,
		ActualEndTime:      r.ActualEndTime,
		AutoExtend:         r.AutoExtend,
		AutoExtendMinutes:  r.AutoExtendMinutes,
		Status:             auctions.Status(r.Status),
		WinnerID:           r.WinnerID,
		WinningAmount:      r.WinningAmount,
		CancellationReason: r.CancellationReason,
		ExternalSource:     r.ExternalSource,
		ExternalID:         r.ExternalID,
		ExternalURL:        r.ExternalURL,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func newBidRow(b *auctions.Bid) *bidRow {
	return &bidRow{
		ID:                 b.ID,
		AuctionID:          b.AuctionID,
		BidderID:           b.BidderID,
		Amount:             b.Amount,
		MaxAmount:          b.MaxAmount,
		BidType:            string(b.Type),
		Status:             string(b.Status),
		IsProxyBid:         b.IsProxyBid,
		ParentBidID:        b.ParentBidID,
		Sequence:           b.Sequence,
		IPAddress:          b.Metadata.IPAddress,
		UserAgent:          b.Metadata.UserAgent,
		DeviceID:           b.Metadata.DeviceID,
		Source:             string(b.Metadata.Source),
		CancellationReason: b.CancellationReason,
		CancelledAt:        b.CancelledAt,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

func (r *bidRow) toDomain() *auctions.Bid {
	return &auctions.Bid{
		ID:          r.ID,
		AuctionID:   r.AuctionID,
		BidderID:    r.BidderID,
		Amount:      r.Amount,
		MaxAmount:   r.MaxAmount,
		Type:        auctions.BidType(r.BidType),
		Status:      auctions.BidStatus(r.Status),
		IsProxyBid:  r.IsProxyBid,
		ParentBidID: r.ParentBidID,
		Metadata: auctions.BidMetadata{
			IPAddress: r.IPAddress,
			UserAgent: r.UserAgent,
			DeviceID:  r.DeviceID,
			Source:    auctions.BidSource(r.Source),
		},
		Sequence:           r.Sequence,
		CancellationReason: r.CancellationReason,
		CancelledAt:        r.CancelledAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// MinimumBidHeader carries the smallest acceptable amount on BidTooLow errors
const MinimumBidHeader = "X-Minimum-Bid"

// fields reads typed values out of a request struct
type fields map[string]*structpb.Value

func fieldsOf(s *structpb.Struct) fields {
	if s == nil {
		return fields{}
	}
	return s.GetFields()
}

func (f fields) str(key string) string {
	return f[key].GetStringValue()
}

func (f fields) boolean(key string) bool {
	return f[key].GetBoolValue()
}

func (f fields) integer(key string) int {
	v, ok := f[key]
	if !ok {
		return 0
	}
	return int(v.GetNumberValue())
}

func (f fields) id(key string) (uuid.UUID, error) {
	id, err := uuid.Parse(f.str(key))
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid %s", key))
	}
	return id, nil
}

// money accepts a decimal string or a JSON number
func (f fields) money(key string) (decimal.NullDecimal, error) {
	v, ok := f[key]
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return decimal.NullDecimal{}, nil
	case *structpb.Value_NumberValue:
		return decimal.NewNullDecimal(decimal.NewFromFloat(kind.NumberValue)), nil
	case *structpb.Value_StringValue:
		if kind.StringValue == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err := decimal.NewFromString(kind.StringValue)
		if err != nil {
			return decimal.NullDecimal{}, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid %s", key))
		}
		return decimal.NewNullDecimal(d), nil
	}
	return decimal.NullDecimal{}, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid %s", key))
}

func (f fields) requiredMoney(key string) (decimal.Decimal, error) {
	d, err := f.money(key)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.Valid {
		return decimal.Zero, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s is required", key))
	}
	return d.Decimal, nil
}

func (f fields) time(key string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, f.str(key))
	if err != nil {
		return time.Time{}, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid %s format", key))
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func auctionToMap(a *auctions.Auction) map[string]any {
	m := map[string]any{
		"id":                  a.ID.String(),
		"seller_id":           a.SellerID.String(),
		"title":               a.Title,
		"description":         a.Description,
		"category":            a.Category,
		"starting_price":      a.StartingPrice.StringFixed(2),
		"current_price":       a.CurrentPrice.StringFixed(2),
		"bid_increment":       a.BidIncrement.StringFixed(2),
		"minimum_next_bid":    a.MinimumNextBid().StringFixed(2),
		"start_time":          formatTime(a.StartTime),
		"end_time":            formatTime(a.EndTime),
		"auto_extend":         a.AutoExtend,
		"auto_extend_minutes": a.AutoExtendMinutes,
		"status":              string(a.Status),
		"bid_count":           len(a.Bids),
		"created_at":          formatTime(a.CreatedAt),
		"updated_at":          formatTime(a.UpdatedAt),
	}
	// the reserve amount stays private; buyers only learn whether it was met
	if a.ReservePrice.Valid {
		m["reserve_met"] = a.ReserveMet(a.CurrentPrice)
	}
	if a.BuyNowPrice.Valid {
		m["buy_now_price"] = a.BuyNowPrice.Decimal.StringFixed(2)
	}
	if a.ActualEndTime != nil {
		m["actual_end_time"] = formatTime(*a.ActualEndTime)
	}
	if a.WinnerID.Valid {
		m["winner_id"] = a.WinnerID.UUID.String()
	}
	if a.WinningAmount.Valid {
		m["winning_amount"] = a.WinningAmount.Decimal.StringFixed(2)
	}
	if a.CancellationReason != "" {
		m["cancellation_reason"] = a.CancellationReason
	}
	if a.ExternalSource != "" {
		m["external_source"] = a.ExternalSource
		m["external_url"] = a.ExternalURL
	}
	return m
}

// bidToMap leaves proxy ceilings out; they are never shown to other bidders
func bidToMap(b *auctions.Bid) map[string]any {
	m := map[string]any{
		"id":           b.ID.String(),
		"auction_id":   b.AuctionID.String(),
		"bidder_id":    b.BidderID.String(),
		"amount":       b.Amount.StringFixed(2),
		"bid_type":     string(b.Type),
		"status":       string(b.Status),
		"is_proxy_bid": b.IsProxyBid,
		"sequence":     b.Sequence,
		"created_at":   formatTime(b.CreatedAt),
	}
	if b.CancelledAt != nil {
		m["cancelled_at"] = formatTime(*b.CancelledAt)
	}
	return m
}

func newStruct(m map[string]any) (*connect.Response[structpb.Struct], error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(s), nil
}

// toConnectError maps engine error kinds onto RPC codes
func toConnectError(err error) error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return err
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, auctions.ErrInvalidInput):
		code = connect.CodeInvalidArgument
	case errors.Is(err, auctions.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, auctions.ErrBidTooLow), errors.Is(err, auctions.ErrInvalidState):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, auctions.ErrUnauthorized), errors.Is(err, auctions.ErrEligibilityRejected):
		code = connect.CodePermissionDenied
	case errors.Is(err, auctions.ErrLimitExceeded):
		code = connect.CodeResourceExhausted
	case errors.Is(err, auctions.ErrPersistence):
		code = connect.CodeUnavailable
	}

	connectErr = connect.NewError(code, err)
	if minimum, ok := auctions.MinimumBid(err); ok {
		connectErr.Meta().Set(MinimumBidHeader, minimum.StringFixed(2))
	}
	return connectErr
}

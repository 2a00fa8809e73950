package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// toStruct flattens an event into a protobuf Struct. Money travels as decimal strings.
func toStruct(e auctions.Event) (*structpb.Struct, error) {
	fields := map[string]any{
		"event_id":      e.ID.String(),
		"event_type":    string(e.Type),
		"auction_id":    e.AuctionID.String(),
		"status":        string(e.Status),
		"current_price": e.CurrentPrice.StringFixed(2),
		"end_time":      e.EndTime.UTC().Format(time.RFC3339Nano),
		"occurred_at":   e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if e.BidID.Valid {
		fields["bid_id"] = e.BidID.UUID.String()
	}
	if e.BidderID.Valid {
		fields["bidder_id"] = e.BidderID.UUID.String()
	}
	if e.Amount.Valid {
		fields["amount"] = e.Amount.Decimal.StringFixed(2)
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build event struct: %w", err)
	}
	return s, nil
}

// MarshalBinary encodes an event as protobuf wire format for the broker
func MarshalBinary(e auctions.Event) ([]byte, error) {
	s, err := toStruct(e)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// MarshalJSON encodes an event as JSON for live subscribers
func MarshalJSON(e auctions.Event) ([]byte, error) {
	s, err := toStruct(e)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(s)
}

// UnmarshalBinary decodes an event written by MarshalBinary
func UnmarshalBinary(data []byte) (auctions.Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return auctions.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return fromStruct(&s)
}

// UnmarshalJSON decodes an event written by MarshalJSON
func UnmarshalJSON(data []byte) (auctions.Event, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return auctions.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return fromStruct(&s)
}

func fromStruct(s *structpb.Struct) (auctions.Event, error) {
	f := s.GetFields()
	str := func(key string) string { return f[key].GetStringValue() }

	var (
		e   auctions.Event
		err error
	)
	if e.ID, err = uuid.Parse(str("event_id")); err != nil {
		return e, fmt.Errorf("invalid event_id: %w", err)
	}
	if e.AuctionID, err = uuid.Parse(str("auction_id")); err != nil {
		return e, fmt.Errorf("invalid auction_id: %w", err)
	}
	e.Type = auctions.EventType(str("event_type"))
	e.Status = auctions.Status(str("status"))
	e.Reason = str("reason")
	if e.CurrentPrice, err = decimal.NewFromString(str("current_price")); err != nil {
		return e, fmt.Errorf("invalid current_price: %w", err)
	}
	if e.EndTime, err = time.Parse(time.RFC3339Nano, str("end_time")); err != nil {
		return e, fmt.Errorf("invalid end_time: %w", err)
	}
	if e.OccurredAt, err = time.Parse(time.RFC3339Nano, str("occurred_at")); err != nil {
		return e, fmt.Errorf("invalid occurred_at: %w", err)
	}

	if v := str("bid_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return e, fmt.Errorf("invalid bid_id: %w", err)
		}
		e.BidID = uuid.NullUUID{UUID: id, Valid: true}
	}
	if v := str("bidder_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return e, fmt.Errorf("invalid bidder_id: %w", err)
		}
		e.BidderID = uuid.NullUUID{UUID: id, Valid: true}
	}
	if v := str("amount"); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return e, fmt.Errorf("invalid amount: %w", err)
		}
		e.Amount = decimal.NewNullDecimal(amount)
	}
	return e, nil
}

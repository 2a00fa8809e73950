package api

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/floroz/gavel-engine/pkg/auth"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/bids"
)

// ServiceName is the RPC service every procedure below is mounted under
const ServiceName = "gavel.auctions.v1.AuctionService"

const (
	PlaceBidProcedure               = "/" + ServiceName + "/PlaceBid"
	CancelBidProcedure              = "/" + ServiceName + "/CancelBid"
	GetAuctionProcedure             = "/" + ServiceName + "/GetAuction"
	ListBidsProcedure               = "/" + ServiceName + "/ListBids"
	GetNextMinimumBidProcedure      = "/" + ServiceName + "/GetNextMinimumBid"
	GetLeadingBidProcedure          = "/" + ServiceName + "/GetLeadingBid"
	ListEndingSoonAuctionsProcedure = "/" + ServiceName + "/ListEndingSoonAuctions"
	ListMyBidsProcedure             = "/" + ServiceName + "/ListMyBids"
	CreateAuctionProcedure          = "/" + ServiceName + "/CreateAuction"
	UpdateAuctionProcedure          = "/" + ServiceName + "/UpdateAuction"
	ScheduleAuctionProcedure        = "/" + ServiceName + "/ScheduleAuction"
	ActivateAuctionProcedure        = "/" + ServiceName + "/ActivateAuction"
	CancelAuctionProcedure          = "/" + ServiceName + "/CancelAuction"
	SuspendAuctionProcedure         = "/" + ServiceName + "/SuspendAuction"
	ResumeAuctionProcedure          = "/" + ServiceName + "/ResumeAuction"
)

// PermissionModerate lets operators suspend and resume any auction
const PermissionModerate = "auctions:moderate"

const defaultListLimit = 50

type (
	request  = connect.Request[structpb.Struct]
	response = connect.Response[structpb.Struct]
)

// AuctionServiceHandler exposes the engine over ConnectRPC. Messages are
// google.protobuf.Struct, so any Connect, gRPC or JSON client can call it.
type AuctionServiceHandler struct {
	bids     *bids.Dispatcher
	auctions *auctions.Service
}

func NewAuctionServiceHandler(dispatcher *bids.Dispatcher, service *auctions.Service) *AuctionServiceHandler {
	return &AuctionServiceHandler{bids: dispatcher, auctions: service}
}

// Routes mounts every procedure. Reads are public; writes go through the auth interceptor.
func (h *AuctionServiceHandler) Routes(signer *auth.Signer, opts ...connect.HandlerOption) (string, http.Handler) {
	authed := append([]connect.HandlerOption{connect.WithInterceptors(auth.NewAuthInterceptor(signer))}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetAuctionProcedure, connect.NewUnaryHandler(GetAuctionProcedure, h.GetAuction, opts...))
	mux.Handle(ListBidsProcedure, connect.NewUnaryHandler(ListBidsProcedure, h.ListBids, opts...))
	mux.Handle(GetNextMinimumBidProcedure, connect.NewUnaryHandler(GetNextMinimumBidProcedure, h.GetNextMinimumBid, opts...))
	mux.Handle(GetLeadingBidProcedure, connect.NewUnaryHandler(GetLeadingBidProcedure, h.GetLeadingBid, opts...))
	mux.Handle(ListEndingSoonAuctionsProcedure, connect.NewUnaryHandler(ListEndingSoonAuctionsProcedure, h.ListEndingSoonAuctions, opts...))

	mux.Handle(PlaceBidProcedure, connect.NewUnaryHandler(PlaceBidProcedure, h.PlaceBid, authed...))
	mux.Handle(CancelBidProcedure, connect.NewUnaryHandler(CancelBidProcedure, h.CancelBid, authed...))
	mux.Handle(ListMyBidsProcedure, connect.NewUnaryHandler(ListMyBidsProcedure, h.ListMyBids, authed...))
	mux.Handle(CreateAuctionProcedure, connect.NewUnaryHandler(CreateAuctionProcedure, h.CreateAuction, authed...))
	mux.Handle(UpdateAuctionProcedure, connect.NewUnaryHandler(UpdateAuctionProcedure, h.UpdateAuction, authed...))
	mux.Handle(ScheduleAuctionProcedure, connect.NewUnaryHandler(ScheduleAuctionProcedure, h.ScheduleAuction, authed...))
	mux.Handle(ActivateAuctionProcedure, connect.NewUnaryHandler(ActivateAuctionProcedure, h.ActivateAuction, authed...))
	mux.Handle(CancelAuctionProcedure, connect.NewUnaryHandler(CancelAuctionProcedure, h.CancelAuction, authed...))
	mux.Handle(SuspendAuctionProcedure, connect.NewUnaryHandler(SuspendAuctionProcedure, h.SuspendAuction, authed...))
	mux.Handle(ResumeAuctionProcedure, connect.NewUnaryHandler(ResumeAuctionProcedure, h.ResumeAuction, authed...))

	return "/" + ServiceName + "/", mux
}

// callerID reads the authenticated user (guaranteed by the auth interceptor)
func callerID(ctx context.Context) (uuid.UUID, error) {
	raw, ok := auth.GetUserID(ctx)
	if !ok {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing caller identity"))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInternal, errors.New("invalid user_id in token"))
	}
	return id, nil
}

func (h *AuctionServiceHandler) PlaceBid(ctx context.Context, req *request) (*response, error) {
	// 1. Identity
	bidderID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Validation / Mapping
	f := fieldsOf(req.Msg)
	auctionID, err := f.id("auction_id")
	if err != nil {
		return nil, err
	}
	amount, err := f.requiredMoney("amount")
	if err != nil {
		return nil, err
	}
	maxAmount, err := f.money("max_amount")
	if err != nil {
		return nil, err
	}

	source := auctions.BidSource(f.str("source"))
	if source == "" {
		source = auctions.BidSourceAPI
	}
	cmd := bids.PlaceBidCommand{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		MaxAmount: maxAmount,
		IsSnipe:   f.boolean("is_snipe"),
		Metadata: auctions.BidMetadata{
			IPAddress: req.Peer().Addr,
			UserAgent: req.Header().Get("User-Agent"),
			DeviceID:  req.Header().Get("X-Device-ID"),
			Source:    source,
		},
	}

	// 3. Execution
	bid, err := h.bids.PlaceBid(ctx, cmd)
	if err != nil {
		return nil, toConnectError(err)
	}

	// 4. Response Mapping
	result := map[string]any{"bid": bidToMap(bid)}
	if auction, err := h.auctions.GetAuction(ctx, auctionID); err == nil {
		result["auction"] = auctionToMap(auction)
	}
	return newStruct(result)
}

func (h *AuctionServiceHandler) CancelBid(ctx context.Context, req *request) (*response, error) {
	bidderID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	f := fieldsOf(req.Msg)
	auctionID, err := f.id("auction_id")
	if err != nil {
		return nil, err
	}
	bidID, err := f.id("bid_id")
	if err != nil {
		return nil, err
	}

	bid, err := h.bids.CancelBid(ctx, bids.CancelBidCommand{
		AuctionID: auctionID,
		BidID:     bidID,
		BidderID:  bidderID,
		Reason:    f.str("reason"),
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return newStruct(map[string]any{"bid": bidToMap(bid)})
}

// GetAuction returns the auction with its leading bid
func (h *AuctionServiceHandler) GetAuction(ctx context.Context, req *request) (*response, error) {
	auctionID, err := fieldsOf(req.Msg).id("auction_id")
	if err != nil {
		return nil, err
	}

	auction, err := h.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, toConnectError(err)
	}

	result := map[string]any{"auction": auctionToMap(auction)}
	if leader := auction.LeadingBid(); leader != nil {
		result["leading_bid"] = bidToMap(leader)
	}
	return newStruct(result)
}

// ListBids returns the most recent bids, newest first
func (h *AuctionServiceHandler) ListBids(ctx context.Context, req *request) (*response, error) {
	f := fieldsOf(req.Msg)
	auctionID, err := f.id("auction_id")
	if err != nil {
		return nil, err
	}
	limit := f.integer("limit")
	if limit <= 0 {
		limit = defaultListLimit
	}

	list, err := h.bids.Engine().ListBids(ctx, auctionID, limit)
	if err != nil {
		return nil, toConnectError(err)
	}

	items := make([]any, len(list))
	for i, b := range list {
		items[i] = bidToMap(b)
	}
	return newStruct(map[string]any{"bids": items})
}

// GetNextMinimumBid returns the smallest amount the auction accepts right now
func (h *AuctionServiceHandler) GetNextMinimumBid(ctx context.Context, req *request) (*response, error) {
	auctionID, err := fieldsOf(req.Msg).id("auction_id")
	if err != nil {
		return nil, err
	}

	minimum, err := h.bids.Engine().NextMinimumBid(ctx, auctionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return newStruct(map[string]any{
		"auction_id":       auctionID.String(),
		"minimum_next_bid": minimum.StringFixed(2),
	})
}

// GetLeadingBid returns the standing bid; the response has no "bid" field before the first bid
func (h *AuctionServiceHandler) GetLeadingBid(ctx context.Context, req *request) (*response, error) {
	auctionID, err := fieldsOf(req.Msg).id("auction_id")
	if err != nil {
		return nil, err
	}
	if _, err := h.auctions.GetAuction(ctx, auctionID); err != nil {
		return nil, toConnectError(err)
	}

	leader, err := h.bids.Engine().LeadingBid(ctx, auctionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	result := map[string]any{"auction_id": auctionID.String()}
	if leader != nil {
		result["bid"] = bidToMap(leader)
	}
	return newStruct(result)
}

func (h *AuctionServiceHandler) ListEndingSoonAuctions(ctx context.Context, req *request) (*response, error) {
	limit := fieldsOf(req.Msg).integer("limit")
	if limit <= 0 {
		limit = defaultListLimit
	}

	list, err := h.auctions.ListEndingSoon(ctx, limit)
	if err != nil {
		return nil, toConnectError(err)
	}
	items := make([]any, len(list))
	for i, a := range list {
		items[i] = auctionToMap(a)
	}
	return newStruct(map[string]any{"auctions": items})
}

// ListMyBids returns the caller's bids across auctions, optionally filtered by status
func (h *AuctionServiceHandler) ListMyBids(ctx context.Context, req *request) (*response, error) {
	bidderID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	f := fieldsOf(req.Msg)

	var status auctions.BidStatus
	if raw := f.str("status"); raw != "" {
		if status, err = auctions.ParseBidStatus(raw); err != nil {
			return nil, toConnectError(err)
		}
	}
	limit := f.integer("limit")
	if limit <= 0 {
		limit = defaultListLimit
	}

	list, err := h.bids.Engine().ListBidderBids(ctx, bidderID, status, limit)
	if err != nil {
		return nil, toConnectError(err)
	}
	items := make([]any, len(list))
	for i, b := range list {
		items[i] = bidToMap(b)
	}
	return newStruct(map[string]any{"bids": items})
}

func (h *AuctionServiceHandler) CreateAuction(ctx context.Context, req *request) (*response, error) {
	sellerID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	cmd, err := createCommand(fieldsOf(req.Msg), sellerID)
	if err != nil {
		return nil, err
	}

	auction, err := h.auctions.CreateAuction(ctx, cmd)
	if err != nil {
		return nil, toConnectError(err)
	}
	return newStruct(map[string]any{"auction": auctionToMap(auction)})
}

func (h *AuctionServiceHandler) UpdateAuction(ctx context.Context, req *request) (*response, error) {
	sellerID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	f := fieldsOf(req.Msg)
	auctionID, err := f.id("auction_id")
	if err != nil {
		return nil, err
	}
	cmd, err := createCommand(f, sellerID)
	if err != nil {
		return nil, err
	}

	auction, err := h.auctions.UpdateAuction(ctx, auctions.UpdateAuctionCommand{
		AuctionID:            auctionID,
		UserID:               sellerID,
		CreateAuctionCommand: cmd,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return newStruct(map[string]any{"auction": auctionToMap(auction)})
}

func createCommand(f fields, sellerID uuid.UUID) (auctions.CreateAuctionCommand, error) {
	var (
		cmd = auctions.CreateAuctionCommand{
			SellerID:          sellerID,
			Title:             f.str("title"),
			Description:       f.str("description"),
			Category:          f.str("category"),
			AutoExtend:        f.boolean("auto_extend"),
			AutoExtendMinutes: f.integer("auto_extend_minutes"),
		}
		err error
	)
	if cmd.StartingPrice, err = f.requiredMoney("starting_price"); err != nil {
		return cmd, err
	}
	if cmd.ReservePrice, err = f.money("reserve_price"); err != nil {
		return cmd, err
	}
	if cmd.BuyNowPrice, err = f.money("buy_now_price"); err != nil {
		return cmd, err
	}
	increment, err := f.money("bid_increment")
	if err != nil {
		return cmd, err
	}
	cmd.BidIncrement = increment.Decimal
	if cmd.StartTime, err = f.time("start_time"); err != nil {
		return cmd, err
	}
	if cmd.EndTime, err = f.time("end_time"); err != nil {
		return cmd, err
	}
	return cmd, nil
}

func (h *AuctionServiceHandler) ScheduleAuction(ctx context.Context, req *request) (*response, error) {
	return h.sellerAction(ctx, req, h.auctions.ScheduleAuction)
}

func (h *AuctionServiceHandler) ActivateAuction(ctx context.Context, req *request) (*response, error) {
	return h.sellerAction(ctx, req, h.auctions.ActivateAuction)
}

func (h *AuctionServiceHandler) CancelAuction(ctx context.Context, req *request) (*response, error) {
	reason := fieldsOf(req.Msg).str("reason")
	return h.sellerAction(ctx, req, func(ctx context.Context, auctionID, userID uuid.UUID) (*auctions.Auction, error) {
		return h.auctions.CancelAuction(ctx, auctions.CancelAuctionCommand{
			AuctionID: auctionID,
			UserID:    userID,
			Reason:    reason,
		})
	})
}

// SuspendAuction freezes an auction; operators only
func (h *AuctionServiceHandler) SuspendAuction(ctx context.Context, req *request) (*response, error) {
	reason := fieldsOf(req.Msg).str("reason")
	return h.operatorAction(ctx, req, func(ctx context.Context, auctionID uuid.UUID) (*auctions.Auction, error) {
		return h.auctions.SuspendAuction(ctx, auctionID, reason)
	})
}

// ResumeAuction lifts a suspension; operators only
func (h *AuctionServiceHandler) ResumeAuction(ctx context.Context, req *request) (*response, error) {
	return h.operatorAction(ctx, req, h.auctions.ResumeAuction)
}

func (h *AuctionServiceHandler) sellerAction(
	ctx context.Context,
	req *request,
	action func(ctx context.Context, auctionID, userID uuid.UUID) (*auctions.Auction, error),
) (*response, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	auctionID, err := fieldsOf(req.Msg).id("auction_id")
	if err != nil {
		return nil, err
	}

	auction, err := action(ctx, auctionID, userID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return newStruct(map[string]any{"auction": auctionToMap(auction)})
}

func (h *AuctionServiceHandler) operatorAction(
	ctx context.Context,
	req *request,
	action func(ctx context.Context, auctionID uuid.UUID) (*auctions.Auction, error),
) (*response, error) {
	if !auth.HasPermission(ctx, PermissionModerate) {
		return nil, connect.NewError(connect.CodePermissionDenied, errors.New("missing permission "+PermissionModerate))
	}
	auctionID, err := fieldsOf(req.Msg).id("auction_id")
	if err != nil {
		return nil, err
	}

	auction, err := action(ctx, auctionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return newStruct(map[string]any{"auction": auctionToMap(auction)})
}

package bids

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/floroz/gavel-engine/services/bid-service/internal/adapters/database"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/proxy"
)

// MockValidator is a mock implementation of BidValidator for testing
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) CheckEligibility(ctx context.Context, bidderID uuid.UUID, auction *auctions.Auction) error {
	args := m.Called(ctx, bidderID, auction)
	return args.Error(0)
}

func (m *MockValidator) CheckLimits(ctx context.Context, bidderID uuid.UUID, auction *auctions.Auction, amount decimal.Decimal) error {
	args := m.Called(ctx, bidderID, auction, amount)
	return args.Error(0)
}

type recordingSink struct {
	mu     sync.Mutex
	events []auctions.Event
}

func (s *recordingSink) Emit(_ context.Context, e auctions.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) snapshot() []auctions.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auctions.Event(nil), s.events...)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func eventTypes(events []auctions.Event) []auctions.EventType {
	result := make([]auctions.EventType, len(events))
	for i, e := range events {
		result[i] = e.Type
	}
	return result
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var startTime = time.Date(2025, 5, 10, 18, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

type fixture struct {
	repo   auctions.Repository
	sink   *recordingSink
	clock  *fakeClock
	engine *Engine
}

func newFixture(t *testing.T, repo auctions.Repository, validator BidValidator) *fixture {
	t.Helper()
	if repo == nil {
		repo = database.NewMemoryRepository()
	}
	if validator == nil {
		validator = NewLimitValidator(LimitPolicy{})
	}
	f := &fixture{
		repo:  repo,
		sink:  &recordingSink{},
		clock: &fakeClock{now: startTime},
	}
	f.engine = NewEngine(repo, auctions.NewLockTable(), validator, proxy.NewResolver(), f.sink).WithClock(f.clock.Now)
	return f
}

// seed stores an ACTIVE auction: start 100, increment 10, ending in one hour
func (f *fixture) seed(t *testing.T, modify func(*auctions.CreateAuctionCommand)) *auctions.Auction {
	t.Helper()
	cmd := auctions.CreateAuctionCommand{
		SellerID:      uuid.New(),
		Title:         "Gibson Les Paul 1959",
		StartingPrice: dec(100),
		BidIncrement:  dec(10),
		StartTime:     startTime.Add(-time.Hour),
		EndTime:       startTime.Add(time.Hour),
		AutoExtend:    true,
	}
	if modify != nil {
		modify(&cmd)
	}
	a, err := auctions.NewAuction(cmd, startTime)
	require.NoError(t, err)
	require.NoError(t, a.Activate(startTime))
	require.NoError(t, auctions.Persist(context.Background(), f.repo, a))
	return a
}

func (f *fixture) place(t *testing.T, auctionID, bidderID uuid.UUID, amount, max int64) (*auctions.Bid, error) {
	t.Helper()
	f.clock.Advance(time.Second)
	cmd := PlaceBidCommand{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    dec(amount),
		Metadata:  auctions.BidMetadata{IPAddress: "192.0.2.10", Source: auctions.BidSourceWeb},
	}
	if max > 0 {
		cmd.MaxAmount = decimal.NewNullDecimal(dec(max))
	}
	return f.engine.PlaceBid(context.Background(), cmd)
}

func (f *fixture) load(t *testing.T, id uuid.UUID) *auctions.Auction {
	t.Helper()
	a, err := f.repo.GetAuction(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestEngine_PlaceBid_FirstBid(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := f.seed(t, nil)
	bidder := uuid.New()

	bid, err := f.place(t, a.ID, bidder, 110, 0)
	require.NoError(t, err)

	assert.Equal(t, auctions.BidStatusAccepted, bid.Status)
	assert.Equal(t, auctions.BidTypeManual, bid.Type)
	assert.Equal(t, 1, bid.Sequence)
	assert.Equal(t, auctions.BidSourceWeb, bid.Metadata.Source)

	stored := f.load(t, a.ID)
	assert.True(t, stored.CurrentPrice.Equal(dec(110)))
	require.Len(t, stored.Bids, 1)
	assert.Equal(t, bid.ID, stored.Bids[0].ID)

	events := f.sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, auctions.EventBidPlaced, events[0].Type)
	assert.Equal(t, bidder, events[0].BidderID.UUID)
	assert.True(t, events[0].CurrentPrice.Equal(dec(110)))
}

func TestEngine_PlaceBid_SecondPrice(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := f.seed(t, nil)
	bidderA, bidderB := uuid.New(), uuid.New()

	_, err := f.place(t, a.ID, bidderA, 110, 500)
	require.NoError(t, err)
	f.sink.reset()

	placed, err := f.place(t, a.ID, bidderB, 120, 650)
	require.NoError(t, err)
	assert.Equal(t, auctions.BidTypeProxy, placed.Type)

	stored := f.load(t, a.ID)
	assert.True(t, stored.CurrentPrice.Equal(dec(510)), "got %s", stored.CurrentPrice)
	leader := stored.LeadingBid()
	require.NotNil(t, leader)
	assert.Equal(t, bidderB, leader.BidderID)
	assert.True(t, leader.Amount.Equal(dec(510)))

	events := f.sink.snapshot()
	assert.Equal(t, []auctions.EventType{
		auctions.EventBidPlaced,
		auctions.EventBidPlaced,
		auctions.EventBidOutbid,
	}, eventTypes(events))
	assert.Equal(t, bidderA, events[2].BidderID.UUID)

	minimum, err := f.engine.NextMinimumBid(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, minimum.Equal(dec(520)))

	top, err := f.engine.LeadingBid(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, bidderB, top.BidderID)
}

func TestEngine_PlaceBid_ManualBidAboveEveryCeiling(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := f.seed(t, nil)
	bidderA, bidderB := uuid.New(), uuid.New()

	_, err := f.place(t, a.ID, bidderA, 110, 300)
	require.NoError(t, err)
	f.sink.reset()

	placed, err := f.place(t, a.ID, bidderB, 400, 0)
	require.NoError(t, err)

	stored := f.load(t, a.ID)
	assert.True(t, stored.CurrentPrice.Equal(dec(400)), "got %s", stored.CurrentPrice)
	require.Len(t, stored.Bids, 2, "the outpriced proxy places no auto bid")
	assert.Equal(t, placed.ID, stored.LeadingBid().ID)
	assert.Equal(t, []auctions.EventType{
		auctions.EventBidPlaced,
		auctions.EventBidOutbid,
	}, eventTypes(f.sink.snapshot()))
}

func TestEngine_PlaceBid_TieGoesToEarlierBidder(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := f.seed(t, nil)
	bidderA, bidderB := uuid.New(), uuid.New()

	_, err := f.place(t, a.ID, bidderA, 110, 500)
	require.NoError(t, err)
	_, err = f.place(t, a.ID, bidderB, 120, 500)
	require.NoError(t, err)

	stored := f.load(t, a.ID)
	assert.Equal(t, bidderA, stored.LeadingBid().BidderID)
	assert.True(t, stored.CurrentPrice.Equal(dec(130)))
}

func TestEngine_PlaceBid_BuyNow(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := f.seed(t, func(c *auctions.CreateAuctionCommand) {
		c.BuyNowPrice = decimal.NewNullDecimal(dec(1000))
	})
	proxyBidder, buyer := uuid.New(), uuid.New()

	_, err := f.place(t, a.ID, proxyBidder, 110, 2000)
	require.NoError(t, err)
	f.sink.reset()

	bid, err := f.place(t, a.ID, buyer, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, auctions.BidTypeBuyNow, bid.Type)
	assert.Equal(t, auctions.BidStatusWinning, bid.Status)

	stored := f.load(t, a.ID)
	assert.Equal(t, auctions.StatusSold, stored.Status)
	assert.Equal(t, buyer, stored.WinnerID.UUID)
	assert.True(t, stored.WinningAmount.Decimal.Equal(dec(1000)))
	assert.NotNil(t, stored.ActualEndTime)
	assert.Len(t, stored.Bids, 2, "standing proxies do not answer a buy-now")

	assert.Equal(t, []auctions.EventType{
		auctions.EventBidPlaced,
		auctions.EventBidOutbid,
		auctions.EventAuctionSold,
	}, eventTypes(f.sink.snapshot()))

	// SOLD is terminal
	_, err = f.place(t, a.ID, proxyBidder, 1500, 0)
	assert.ErrorIs(t, err, auctions.ErrAuctionNotActive)
	assert.ErrorIs(t, err, auctions.ErrInvalidState)
}

func TestEngine_PlaceBid_Rejections(t *testing.T) {
	blocked := uuid.New()

	tests := []struct {
		name    string
		modify  func(*auctions.CreateAuctionCommand)
		prepare func(t *testing.T, f *fixture, a *auctions.Auction)
		bidder  func(a *auctions.Auction) uuid.UUID
		amount  int64
		max     int64
		wantErr error
	}{
		{
			name:    "non-positive amount",
			amount:  0,
			wantErr: ErrInvalidBidAmount,
		},
		{
			name:    "max below amount",
			amount:  200,
			max:     150,
			wantErr: ErrInvalidMaxAmount,
		},
		{
			name:    "below minimum next bid",
			amount:  105,
			wantErr: auctions.ErrBidTooLow,
		},
		{
			name:    "seller bids on own auction",
			bidder:  func(a *auctions.Auction) uuid.UUID { return a.SellerID },
			amount:  200,
			wantErr: auctions.ErrSellerCannotBid,
		},
		{
			name: "end time reached",
			prepare: func(t *testing.T, f *fixture, a *auctions.Auction) {
				f.clock.Advance(2 * time.Hour)
			},
			amount:  200,
			wantErr: auctions.ErrAuctionEnded,
		},
		{
			name: "auction suspended",
			prepare: func(t *testing.T, f *fixture, a *auctions.Auction) {
				stored := f.load(t, a.ID)
				require.NoError(t, stored.Suspend(startTime))
				require.NoError(t, auctions.Persist(context.Background(), f.repo, stored))
			},
			amount:  200,
			wantErr: auctions.ErrAuctionNotActive,
		},
		{
			name:    "blocked bidder",
			bidder:  func(*auctions.Auction) uuid.UUID { return blocked },
			amount:  200,
			wantErr: auctions.ErrEligibilityRejected,
		},
		{
			name:    "above bid ceiling",
			amount:  20000,
			wantErr: auctions.ErrLimitExceeded,
		},
		{
			name:    "proxy ceiling above bid ceiling",
			amount:  200,
			max:     20000,
			wantErr: auctions.ErrLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := NewLimitValidator(LimitPolicy{
				MaxBidAmount:   dec(10000),
				BlockedBidders: []uuid.UUID{blocked},
			})
			f := newFixture(t, nil, validator)
			a := f.seed(t, tt.modify)
			if tt.prepare != nil {
				tt.prepare(t, f, a)
			}
			bidder := uuid.New()
			if tt.bidder != nil {
				bidder = tt.bidder(a)
			}

			bid, err := f.place(t, a.ID, bidder, tt.amount, tt.max)
			assert.Nil(t, bid)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, auctions.IsRetryable(err))

			stored := f.load(t, a.ID)
			assert.Empty(t, stored.Bids)
			assert.True(t, stored.CurrentPrice.Equal(dec(100)))
			assert.Empty(t, f.sink.snapshot())
		})
	}
}

func TestEngine_PlaceBid_TooLowCarriesMinimum(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := f.seed(t, nil)
	_, err := f.place(t, a.ID, uuid.New(), 150, 0)
	require.NoError(t, err)

	_, err = f.place(t, a.ID, uuid.New(), 155, 0)
	minimum, ok := auctions.MinimumBid(err)
	require.True(t, ok)
	assert.True(t, minimum.Equal(dec(160)))
}

func TestEngine_PlaceBid_AuctionNotFound(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.place(t, uuid.New(), uuid.New(), 200, 0)
	assert.ErrorIs(t, err, auctions.ErrAuctionNotFound)
}

func TestEngine_PlaceBid_ValidatorOrdering(t *testing.T) {
	t.Run("Eligibility failure skips the limit check", func(t *testing.T) {
		validator := new(MockValidator)
		f := newFixture(t, nil, validator)
		a := f.seed(t, nil)
		bidder := uuid.New()

		validator.On("CheckEligibility", mock.Anything, bidder, mock.AnythingOfType("*auctions.Auction")).
			Return(auctions.ErrEligibilityRejected)

		_, err := f.place(t, a.ID, bidder, 200, 0)
		assert.ErrorIs(t, err, auctions.ErrEligibilityRejected)
		validator.AssertExpectations(t)
		validator.AssertNotCalled(t, "CheckLimits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Bids below the minimum never reach the validator", func(t *testing.T) {
		validator := new(MockValidator)
		f := newFixture(t, nil, validator)
		a := f.seed(t, nil)

		_, err := f.place(t, a.ID, uuid.New(), 100, 0)
		assert.ErrorIs(t, err, auctions.ErrBidTooLow)
		validator.AssertNotCalled(t, "CheckEligibility", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Limits see the requested amount", func(t *testing.T) {
		validator := new(MockValidator)
		f := newFixture(t, nil, validator)
		a := f.seed(t, nil)
		bidder := uuid.New()

		validator.On("CheckEligibility", mock.Anything, bidder, mock.Anything).Return(nil)
		validator.On("CheckLimits", mock.Anything, bidder, mock.Anything, mock.MatchedBy(func(d decimal.Decimal) bool {
			return d.Equal(dec(250))
		})).Return(nil)

		_, err := f.place(t, a.ID, bidder, 250, 0)
		require.NoError(t, err)
		validator.AssertExpectations(t)
	})

	t.Run("Limits see the proxy ceiling", func(t *testing.T) {
		validator := new(MockValidator)
		f := newFixture(t, nil, validator)
		a := f.seed(t, nil)
		bidder := uuid.New()

		validator.On("CheckEligibility", mock.Anything, bidder, mock.Anything).Return(nil)
		validator.On("CheckLimits", mock.Anything, bidder, mock.Anything, mock.MatchedBy(func(d decimal.Decimal) bool {
			return d.Equal(dec(900))
		})).Return(nil)

		_, err := f.place(t, a.ID, bidder, 250, 900)
		require.NoError(t, err)
		validator.AssertExpectations(t)
	})
}

func TestEngine_PlaceBid_ProxyNeverBidsPastTheLimit(t *testing.T) {
	f := newFixture(t, nil, NewLimitValidator(LimitPolicy{MaxBidAmount: dec(1000)}))
	a := f.seed(t, nil)
	bidderA, bidderB := uuid.New(), uuid.New()

	_, err := f.place(t, a.ID, bidderA, 110, 5000)
	require.ErrorIs(t, err, auctions.ErrLimitExceeded)

	_, err = f.place(t, a.ID, bidderA, 110, 1000)
	require.NoError(t, err)
	_, err = f.place(t, a.ID, bidderB, 1000, 0)
	require.NoError(t, err)

	stored := f.load(t, a.ID)
	for _, b := range stored.Bids {
		assert.False(t, b.Amount.GreaterThan(dec(1000)), "bid %s by %s", b.Amount, b.BidderID)
	}
	leader := stored.LeadingBid()
	require.NotNil(t, leader)
	assert.Equal(t, bidderB, leader.BidderID)
	assert.True(t, stored.CurrentPrice.Equal(dec(1000)))
}

type failingRepository struct {
	*database.MemoryRepository
	err error
}

func (r *failingRepository) SaveBid(ctx context.Context, b *auctions.Bid) error {
	return r.err
}

func TestEngine_PlaceBid_PersistenceFailure(t *testing.T) {
	repo := &failingRepository{MemoryRepository: database.NewMemoryRepository()}
	f := newFixture(t, repo, nil)
	a := f.seed(t, nil)
	repo.err = errors.New("disk full")

	_, err := f.place(t, a.ID, uuid.New(), 200, 0)
	assert.ErrorIs(t, err, auctions.ErrPersistence)
	assert.True(t, auctions.IsRetryable(err))

	stored := f.load(t, a.ID)
	assert.Empty(t, stored.Bids)
	assert.True(t, stored.CurrentPrice.Equal(dec(100)))
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, f.sink.snapshot())
}

func TestEngine_PlaceBid_ConcurrentBidsLoseNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := f.seed(t, nil)

	const bidders = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted = make(map[uuid.UUID]decimal.Decimal)
	)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			bid, err := f.engine.PlaceBid(context.Background(), PlaceBidCommand{
				AuctionID: a.ID,
				BidderID:  uuid.New(),
				Amount:    dec(amount),
			})
			if err != nil {
				assert.ErrorIs(t, err, auctions.ErrBidTooLow)
				return
			}
			mu.Lock()
			accepted[bid.ID] = bid.Amount
			mu.Unlock()
		}(int64(110 + i*10))
	}
	wg.Wait()

	stored := f.load(t, a.ID)
	require.Len(t, stored.Bids, len(accepted))
	assert.Equal(t, int64(len(accepted))+1, stored.Version)
	assert.True(t, stored.CurrentPrice.Equal(dec(600)), "the highest bid always wins, got %s", stored.CurrentPrice)

	leaders := 0
	for i, b := range stored.Bids {
		assert.Equal(t, i+1, b.Sequence)
		amount, ok := accepted[b.ID]
		assert.True(t, ok, "stored bid %s was never acknowledged", b.ID)
		assert.True(t, amount.Equal(b.Amount))
		if b.Status == auctions.BidStatusAccepted {
			leaders++
		}
		if i > 0 {
			assert.True(t, b.Amount.GreaterThan(stored.Bids[i-1].Amount), "accepted bids strictly increase")
		}
	}
	assert.Equal(t, 1, leaders)
	assert.Len(t, f.sink.snapshot(), len(accepted)+len(accepted)-1)
}

func TestEngine_CancelBid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	a := f.seed(t, nil)
	bidderA, bidderB := uuid.New(), uuid.New()

	first, err := f.place(t, a.ID, bidderA, 150, 0)
	require.NoError(t, err)
	second, err := f.place(t, a.ID, bidderB, 200, 0)
	require.NoError(t, err)

	_, err = f.engine.CancelBid(ctx, CancelBidCommand{AuctionID: a.ID, BidID: second.ID, BidderID: bidderA})
	assert.ErrorIs(t, err, auctions.ErrNotOwner)

	_, err = f.engine.CancelBid(ctx, CancelBidCommand{AuctionID: a.ID, BidID: first.ID, BidderID: bidderA})
	assert.ErrorIs(t, err, ErrBidNotCancelable)

	_, err = f.engine.CancelBid(ctx, CancelBidCommand{AuctionID: a.ID, BidID: uuid.New(), BidderID: bidderA})
	assert.ErrorIs(t, err, auctions.ErrBidNotFound)

	f.sink.reset()
	cancelled, err := f.engine.CancelBid(ctx, CancelBidCommand{
		AuctionID: a.ID, BidID: second.ID, BidderID: bidderB, Reason: "typo",
	})
	require.NoError(t, err)
	assert.Equal(t, auctions.BidStatusCancelled, cancelled.Status)
	assert.Equal(t, "typo", cancelled.CancellationReason)
	require.NotNil(t, cancelled.CancelledAt)

	stored := f.load(t, a.ID)
	assert.True(t, stored.CurrentPrice.Equal(dec(100)), "no accepted bid left, price returns to the start")
	assert.Nil(t, stored.LeadingBid())

	events := f.sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, auctions.EventBidCancelled, events[0].Type)
	assert.Equal(t, "typo", events[0].Reason)

	// bids are kept as an audit trail
	history, err := f.engine.ListBids(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestEngine_ListBids_MissingAuction(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.engine.ListBids(context.Background(), uuid.New(), 10)
	assert.ErrorIs(t, err, auctions.ErrAuctionNotFound)
}

func TestEngine_ListBidderBids(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	first, second := f.seed(t, nil), f.seed(t, nil)
	bidderA, bidderB := uuid.New(), uuid.New()

	_, err := f.place(t, first.ID, bidderA, 110, 0)
	require.NoError(t, err)
	_, err = f.place(t, first.ID, bidderB, 150, 0)
	require.NoError(t, err)
	latest, err := f.place(t, second.ID, bidderA, 200, 0)
	require.NoError(t, err)

	all, err := f.engine.ListBidderBids(ctx, bidderA, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, latest.ID, all[0].ID, "newest first")
	assert.Equal(t, first.ID, all[1].AuctionID)

	outbid, err := f.engine.ListBidderBids(ctx, bidderA, auctions.BidStatusOutbid, 0)
	require.NoError(t, err)
	require.Len(t, outbid, 1)
	assert.True(t, outbid[0].Amount.Equal(dec(110)))

	limited, err := f.engine.ListBidderBids(ctx, bidderA, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

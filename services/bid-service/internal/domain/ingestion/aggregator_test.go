package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/gavel-engine/services/bid-service/internal/adapters/database"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

var now = time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)

type stubSource struct {
	name    string
	enabled bool
	items   []ScrapedAuction
	err     error
	calls   int
}

func (s *stubSource) SourceName() string { return s.name }
func (s *stubSource) Enabled() bool      { return s.enabled }

func (s *stubSource) ScrapeAuctions(context.Context) ([]ScrapedAuction, error) {
	s.calls++
	return s.items, s.err
}

func scraped(id string, status ScrapedStatus, start time.Time) ScrapedAuction {
	return ScrapedAuction{
		ExternalID:    id,
		Title:         "Lot " + id,
		CurrentPrice:  decimal.NewFromInt(150),
		StartingPrice: decimal.NewFromInt(100),
		StartTime:     start,
		EndTime:       now.Add(48 * time.Hour),
		SourceURL:     "https://example.test/lots/" + id,
		Status:        status,
	}
}

func newTestAggregator(t *testing.T, sources ...Source) (*Aggregator, *database.MemoryRepository, *HealthRegistry) {
	t.Helper()
	registry, err := NewRegistry(sources...)
	require.NoError(t, err)

	repo := database.NewMemoryRepository()
	clock := func() time.Time { return now }
	service := auctions.NewService(repo, auctions.NewLockTable(), nil).WithClock(clock)
	health := NewHealthRegistry().WithClock(clock)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	agg := NewAggregator(registry, health, repo, service, 2, time.Hour, logger).WithClock(clock)
	return agg, repo, health
}

func TestRegistry(t *testing.T) {
	a := &stubSource{name: "b-source", enabled: true}
	b := &stubSource{name: "a-source", enabled: true}
	off := &stubSource{name: "c-source", enabled: false}

	registry, err := NewRegistry(a, b, off)
	require.NoError(t, err)

	assert.Equal(t, []string{"a-source", "b-source", "c-source"}, registry.Names())
	enabled := registry.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "a-source", enabled[0].SourceName())

	got, ok := registry.Get("c-source")
	assert.True(t, ok)
	assert.Same(t, off, got)

	assert.Error(t, registry.Register(&stubSource{name: "a-source"}))
	_, err = NewRegistry(a, a)
	assert.Error(t, err)
}

func TestAggregator_ImportsNewAuctions(t *testing.T) {
	source := &stubSource{name: "catawiki", enabled: true, items: []ScrapedAuction{
		scraped("live", ScrapedActive, now.Add(-time.Hour)),
		scraped("soon", ScrapedUpcoming, now.Add(time.Hour)),
		scraped("early", ScrapedActive, now.Add(time.Hour)),
		scraped("gone", ScrapedEnded, now.Add(-48*time.Hour)),
	}}
	agg, repo, _ := newTestAggregator(t, source)
	ctx := context.Background()

	report := agg.Collect(ctx)
	assert.Equal(t, 4, report.Scraped)
	assert.Equal(t, 3, report.Saved)
	assert.Empty(t, report.Failed)

	live, err := repo.FindByExternalID(ctx, "catawiki", "live")
	require.NoError(t, err)
	assert.Equal(t, auctions.StatusActive, live.Status)
	assert.Equal(t, ExternalSellerID("catawiki"), live.SellerID)
	assert.Equal(t, "https://example.test/lots/live", live.ExternalURL)

	soon, err := repo.FindByExternalID(ctx, "catawiki", "soon")
	require.NoError(t, err)
	assert.Equal(t, auctions.StatusScheduled, soon.Status)

	early, err := repo.FindByExternalID(ctx, "catawiki", "early")
	require.NoError(t, err)
	assert.Equal(t, auctions.StatusScheduled, early.Status, "not started yet, so the scheduler activates it")

	_, err = repo.FindByExternalID(ctx, "catawiki", "gone")
	assert.ErrorIs(t, err, auctions.ErrAuctionNotFound)
}

func TestAggregator_UpdatesOnlyEditableAuctions(t *testing.T) {
	source := &stubSource{name: "drouot", enabled: true, items: []ScrapedAuction{
		scraped("upcoming", ScrapedUpcoming, now.Add(time.Hour)),
		scraped("live", ScrapedActive, now.Add(-time.Hour)),
	}}
	agg, repo, _ := newTestAggregator(t, source)
	ctx := context.Background()
	agg.Collect(ctx)

	source.items[0].Title = "Renamed upcoming lot"
	source.items[1].Title = "Renamed live lot"
	report := agg.Collect(ctx)
	assert.Equal(t, 1, report.Saved)

	upcoming, err := repo.FindByExternalID(ctx, "drouot", "upcoming")
	require.NoError(t, err)
	assert.Equal(t, "Renamed upcoming lot", upcoming.Title)

	live, err := repo.FindByExternalID(ctx, "drouot", "live")
	require.NoError(t, err)
	assert.Equal(t, "Lot live", live.Title, "bidding has started, the engine owns it now")
}

func TestAggregator_FallsBackToCurrentPrice(t *testing.T) {
	item := scraped("no-start", ScrapedActive, now.Add(-time.Hour))
	item.StartingPrice = decimal.Zero
	source := &stubSource{name: "bonhams", enabled: true, items: []ScrapedAuction{item}}
	agg, repo, _ := newTestAggregator(t, source)

	agg.Collect(context.Background())
	a, err := repo.FindByExternalID(context.Background(), "bonhams", "no-start")
	require.NoError(t, err)
	assert.True(t, a.StartingPrice.Equal(decimal.NewFromInt(150)))
}

func TestAggregator_KeepsTheExternalPrice(t *testing.T) {
	item := scraped("running", ScrapedActive, now.Add(-time.Hour))
	item.CurrentPrice = decimal.NewFromInt(900)
	source := &stubSource{name: "catawiki", enabled: true, items: []ScrapedAuction{item}}
	agg, repo, _ := newTestAggregator(t, source)
	ctx := context.Background()

	agg.Collect(ctx)
	a, err := repo.FindByExternalID(ctx, "catawiki", "running")
	require.NoError(t, err)
	assert.Equal(t, auctions.StatusActive, a.Status)
	assert.True(t, a.StartingPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(900)), "got %s", a.CurrentPrice)
	assert.True(t, a.MinimumNextBid().Equal(decimal.NewFromInt(950)))
}

func TestAggregator_RefreshesThePriceOfUpcomingAuctions(t *testing.T) {
	source := &stubSource{name: "drouot", enabled: true, items: []ScrapedAuction{
		scraped("preview", ScrapedUpcoming, now.Add(time.Hour)),
	}}
	agg, repo, _ := newTestAggregator(t, source)
	ctx := context.Background()
	agg.Collect(ctx)

	source.items[0].CurrentPrice = decimal.NewFromInt(400)
	agg.Collect(ctx)

	a, err := repo.FindByExternalID(ctx, "drouot", "preview")
	require.NoError(t, err)
	assert.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(400)), "got %s", a.CurrentPrice)
}

func TestAggregator_SourceFailures(t *testing.T) {
	broken := &stubSource{name: "broken", enabled: true, err: errors.New("connection refused")}
	working := &stubSource{name: "working", enabled: true, items: []ScrapedAuction{
		scraped("one", ScrapedActive, now.Add(-time.Hour)),
	}}
	invalid := &stubSource{name: "invalid", enabled: true, items: []ScrapedAuction{
		{Title: "missing id", Status: ScrapedActive},
	}}
	disabled := &stubSource{name: "disabled", enabled: false}
	agg, _, health := newTestAggregator(t, broken, working, invalid, disabled)

	report := agg.Collect(context.Background())
	assert.Equal(t, []string{"broken"}, report.Failed)
	assert.Equal(t, 1, report.Saved, "one failing source does not stop the others")
	assert.Zero(t, disabled.calls)

	h, ok := health.Get("broken")
	require.True(t, ok)
	assert.False(t, h.LastRunSuccess)
	assert.Equal(t, "connection refused", h.LastError)

	// an invalid item is logged and skipped, the run itself succeeded
	h, ok = health.Get("invalid")
	require.True(t, ok)
	assert.True(t, h.LastRunSuccess)

	// the broken source is unhealthy and waits for the next retry
	report = agg.Collect(context.Background())
	assert.Equal(t, []string{"broken"}, report.Skipped)
	assert.Equal(t, 1, broken.calls)
}

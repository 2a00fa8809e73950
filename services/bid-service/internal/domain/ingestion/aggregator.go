package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// ExternalSellerID derives a stable seller identity for auctions imported from a source
func ExternalSellerID(source string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("EXTERNAL_"+source))
}

// Report summarizes one aggregation pass
type Report struct {
	Scraped int
	Saved   int
	Skipped []string
	Failed  []string
}

// Aggregator pulls auctions from every enabled source and upserts them.
// Imported auctions are handed over to the engine once they leave DRAFT/SCHEDULED.
type Aggregator struct {
	registry      *Registry
	health        *HealthRegistry
	repo          auctions.Repository
	service       *auctions.Service
	parallelism   int
	interval      time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewAggregator creates a new aggregator
func NewAggregator(
	registry *Registry,
	health *HealthRegistry,
	repo auctions.Repository,
	service *auctions.Service,
	parallelism int,
	interval time.Duration,
	logger *slog.Logger,
) *Aggregator {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Aggregator{
		registry:      registry,
		health:        health,
		repo:          repo,
		service:       service,
		parallelism:   parallelism,
		interval:      interval,
		retryInterval: recentRunWindow,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock replaces the aggregator's time source
func (g *Aggregator) WithClock(now func() time.Time) *Aggregator {
	g.now = now
	return g
}

// Run aggregates on every tick until ctx is cancelled
func (g *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report := g.Collect(ctx)
			g.logger.Info("Aggregation complete",
				"scraped", report.Scraped, "saved", report.Saved,
				"skipped", len(report.Skipped), "failed", len(report.Failed))
		}
	}
}

// Collect runs every enabled source once, in parallel
func (g *Aggregator) Collect(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		report Report
	)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.parallelism)
	for _, source := range g.registry.Enabled() {
		name := source.SourceName()
		if !g.health.ShouldAttempt(name, g.retryInterval) {
			g.logger.Warn("Skipping unhealthy source", "source", name)
			report.Skipped = append(report.Skipped, name)
			continue
		}

		group.Go(func() error {
			items, stored, err := g.collectSource(gctx, source)

			mu.Lock()
			defer mu.Unlock()
			report.Scraped += items
			report.Saved += stored
			if err != nil {
				report.Failed = append(report.Failed, name)
			}
			// one source failing never cancels the others
			return nil
		})
	}
	_ = group.Wait()

	sort.Strings(report.Failed)
	return report
}

func (g *Aggregator) collectSource(ctx context.Context, source Source) (int, int, error) {
	name := source.SourceName()
	start := time.Now()

	items, err := source.ScrapeAuctions(ctx)
	if err != nil {
		failures := g.health.RecordFailure(name, err, time.Since(start))
		if failures >= 3 {
			g.logger.Warn("Source keeps failing", "source", name, "consecutive_failures", failures, "error", err)
		} else {
			g.logger.Error("Error in source", "source", name, "error", err)
		}
		return 0, 0, err
	}

	stored := 0
	for _, item := range items {
		ok, err := g.upsert(ctx, name, item)
		if err != nil {
			g.logger.Error("Error saving auction", "source", name, "external_id", item.ExternalID, "error", err)
			continue
		}
		if ok {
			stored++
		}
	}

	g.health.RecordSuccess(name, len(items), time.Since(start))
	g.logger.Info("Source completed", "source", name, "scraped", len(items), "saved", stored)
	return len(items), stored, nil
}

// upsert creates or refreshes one imported auction and reports whether anything was written
func (g *Aggregator) upsert(ctx context.Context, sourceName string, item ScrapedAuction) (bool, error) {
	if item.ExternalID == "" {
		return false, fmt.Errorf("%w: scraped auction has no external id", auctions.ErrInvalidInput)
	}
	if item.Source == "" {
		item.Source = sourceName
	}

	cmd := auctions.CreateAuctionCommand{
		SellerID:       ExternalSellerID(item.Source),
		Title:          item.Title,
		Description:    item.Description,
		Category:       item.Category,
		StartingPrice:  item.StartingPrice,
		StartTime:      item.StartTime,
		EndTime:        item.EndTime,
		ExternalSource: item.Source,
		ExternalID:     item.ExternalID,
		ExternalURL:    item.SourceURL,
	}
	if !cmd.StartingPrice.IsPositive() {
		cmd.StartingPrice = item.CurrentPrice
	}
	if item.CurrentPrice.IsPositive() {
		cmd.CurrentPrice = decimal.NewNullDecimal(item.CurrentPrice)
	}

	existing, err := g.repo.FindByExternalID(ctx, item.Source, item.ExternalID)
	if errors.Is(err, auctions.ErrAuctionNotFound) {
		status, ok := item.targetStatus()
		if !ok {
			return false, nil
		}
		if status == auctions.StatusActive && g.now().Before(item.StartTime) {
			status = auctions.StatusScheduled
		}
		if _, err := g.service.ImportAuction(ctx, cmd, status); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if !existing.Status.IsEditable() {
		return false, nil
	}
	_, err = g.service.UpdateAuction(ctx, auctions.UpdateAuctionCommand{
		AuctionID:            existing.ID,
		UserID:               existing.SellerID,
		CreateAuctionCommand: cmd,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

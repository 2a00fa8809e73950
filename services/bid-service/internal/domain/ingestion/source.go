package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// ScrapedStatus is the lifecycle state reported by an external source
type ScrapedStatus string

const (
	ScrapedUpcoming   ScrapedStatus = "UPCOMING"
	ScrapedActive     ScrapedStatus = "ACTIVE"
	ScrapedEndingSoon ScrapedStatus = "ENDING_SOON"
	ScrapedEnded      ScrapedStatus = "ENDED"
)

// ScrapedAuction is an auction as seen on an external site
type ScrapedAuction struct {
	ExternalID    string          `json:"external_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Location      string          `json:"location"`
	ImageURLs     []string        `json:"image_urls"`
	SourceURL     string          `json:"source_url"`
	Source        string          `json:"source"`
	BidCount      int             `json:"bid_count"`
	SellerName    string          `json:"seller_name"`
	Status        ScrapedStatus   `json:"status"`
}

// targetStatus maps the external state onto the state the auction enters the system in.
// Auctions that are already live are imported as ACTIVE; ended ones are not imported.
func (s ScrapedAuction) targetStatus() (auctions.Status, bool) {
	switch s.Status {
	case ScrapedUpcoming:
		return auctions.StatusScheduled, true
	case ScrapedActive, ScrapedEndingSoon:
		return auctions.StatusActive, true
	default:
		return "", false
	}
}

// Source is a capability for pulling auctions from one external site
type Source interface {
	ScrapeAuctions(ctx context.Context) ([]ScrapedAuction, error)
	SourceName() string
	Enabled() bool
}

// Registry holds the configured sources by name
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates a registry with the given sources
func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range sources {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a source; names must be unique
func (r *Registry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.SourceName()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q is already registered", name)
	}
	r.sources[name] = s
	return nil
}

// Get returns the source registered under name
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

// Enabled returns the enabled sources sorted by name
func (r *Registry) Enabled() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Source
	for _, s := range r.sources {
		if s.Enabled() {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SourceName() < result[j].SourceName() })
	return result
}

// Names returns every registered source name, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

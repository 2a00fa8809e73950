package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxFeedBytes = 8 << 20

// FeedSource reads auctions from a JSON feed published by a partner site.
// The feed body is either an array of auctions or an object with an "auctions" array.
type FeedSource struct {
	name    string
	url     string
	enabled bool
	client  *http.Client
}

// NewFeedSource creates a source for the feed at url
func NewFeedSource(name, url string, enabled bool, timeout time.Duration) *FeedSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedSource{
		name:    name,
		url:     url,
		enabled: enabled,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *FeedSource) SourceName() string { return s.name }

func (s *FeedSource) Enabled() bool { return s.enabled && s.url != "" }

// ScrapeAuctions fetches and decodes the feed
func (s *FeedSource) ScrapeAuctions(ctx context.Context) ([]ScrapedAuction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", s.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed %s: %w", s.name, err)
	}

	items, err := decodeFeed(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode feed %s: %w", s.name, err)
	}
	for i := range items {
		if items[i].Source == "" {
			items[i].Source = s.name
		}
	}
	return items, nil
}

func decodeFeed(body []byte) ([]ScrapedAuction, error) {
	var items []ScrapedAuction
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}
	var envelope struct {
		Auctions []ScrapedAuction `json:"auctions"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Auctions, nil
}

package ingestion

import (
	"sync"
	"time"
)

const (
	minSuccessRate         = 70.0
	maxConsecutiveFailures = 5
	recentRunWindow        = time.Hour
)

// SourceHealth summarizes the run history of one source
type SourceHealth struct {
	SourceName          string
	LastRunTime         time.Time
	LastRunDuration     time.Duration
	LastRunSuccess      bool
	LastItemsScraped    int
	LastError           string
	TotalRuns           int
	SuccessfulRuns      int
	FailedRuns          int
	TotalItemsScraped   int
	ConsecutiveFailures int
}

// SuccessRate is the percentage of successful runs; a source with no runs scores 100
func (h SourceHealth) SuccessRate() float64 {
	if h.TotalRuns == 0 {
		return 100
	}
	return float64(h.SuccessfulRuns) / float64(h.TotalRuns) * 100
}

// HealthRegistry tracks source health. It is created once at startup and shared by reference.
type HealthRegistry struct {
	mu      sync.RWMutex
	sources map[string]*SourceHealth
	now     func() time.Time
}

// NewHealthRegistry creates an empty registry
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{
		sources: make(map[string]*SourceHealth),
		now:     time.Now,
	}
}

// WithClock replaces the registry's time source
func (r *HealthRegistry) WithClock(now func() time.Time) *HealthRegistry {
	r.now = now
	return r
}

// RecordSuccess registers a successful run
func (r *HealthRegistry) RecordSuccess(name string, items int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.entry(name)
	h.LastRunTime = r.now()
	h.LastRunDuration = duration
	h.LastRunSuccess = true
	h.LastItemsScraped = items
	h.LastError = ""
	h.TotalRuns++
	h.SuccessfulRuns++
	h.TotalItemsScraped += items
	h.ConsecutiveFailures = 0
}

// RecordFailure registers a failed run and returns the number of consecutive failures
func (r *HealthRegistry) RecordFailure(name string, err error, duration time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.entry(name)
	h.LastRunTime = r.now()
	h.LastRunDuration = duration
	h.LastRunSuccess = false
	h.LastItemsScraped = 0
	if err != nil {
		h.LastError = err.Error()
	}
	h.TotalRuns++
	h.FailedRuns++
	h.ConsecutiveFailures++
	return h.ConsecutiveFailures
}

// IsHealthy reports whether a source should be scraped on the regular schedule.
// Sources with no history are healthy.
func (r *HealthRegistry) IsHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.sources[name]
	if !ok {
		return true
	}
	return h.SuccessRate() >= minSuccessRate &&
		h.ConsecutiveFailures < maxConsecutiveFailures &&
		(h.LastRunSuccess || h.LastRunTime.After(r.now().Add(-recentRunWindow)))
}

// ShouldAttempt reports whether a source should run now: healthy sources always,
// unhealthy ones once per retry interval.
func (r *HealthRegistry) ShouldAttempt(name string, retryInterval time.Duration) bool {
	if r.IsHealthy(name) {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.sources[name]
	return !r.now().Before(h.LastRunTime.Add(retryInterval))
}

// Get returns a copy of the health record for a source
func (r *HealthRegistry) Get(name string) (SourceHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sources[name]
	if !ok {
		return SourceHealth{}, false
	}
	return *h, true
}

// Snapshot returns copies of every health record
func (r *HealthRegistry) Snapshot() map[string]SourceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]SourceHealth, len(r.sources))
	for name, h := range r.sources {
		result[name] = *h
	}
	return result
}

func (r *HealthRegistry) entry(name string) *SourceHealth {
	h, ok := r.sources[name]
	if !ok {
		h = &SourceHealth{SourceName: name}
		r.sources[name] = h
	}
	return h
}

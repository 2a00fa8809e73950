package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// MultiSink fans one event out to several sinks in order
type MultiSink []auctions.EventSink

func (m MultiSink) Emit(ctx context.Context, e auctions.Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// AsyncSink decouples callers from slow sinks with a bounded queue.
// When the queue is full the event is dropped and logged, so Emit never blocks.
type AsyncSink struct {
	next   auctions.EventSink
	queue  chan auctions.Event
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncSink starts a delivery goroutine in front of next
func NewAsyncSink(next auctions.EventSink, buffer int, logger *slog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 1
	}
	s := &AsyncSink{
		next:   next,
		queue:  make(chan auctions.Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.deliver()
	return s
}

func (s *AsyncSink) deliver() {
	defer close(s.done)
	for e := range s.queue {
		// the caller's context may be gone by now
		s.next.Emit(context.Background(), e)
	}
}

// Emit enqueues the event without waiting
func (s *AsyncSink) Emit(_ context.Context, e auctions.Event) {
	select {
	case s.queue <- e:
	default:
		s.logger.Warn("Event queue full, dropping event", "event_type", e.Type, "auction_id", e.AuctionID)
	}
}

// Close stops accepting events and waits until the queued ones are delivered.
// Emit must not be called after Close.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() { close(s.queue) })
	<-s.done
}

package analytics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bgde/vocab-platform/pkg/kafka"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers events in memory and publishes them from a single
// background goroutine so that request paths never block on Kafka. Search
// and review events go to separate publishers; a nil publisher discards its
// events.
type Collector struct {
	search  Publisher
	review  Publisher
	eventCh chan any
	logger  *slog.Logger
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewCollector(search, review Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		search:  search,
		review:  review,
		eventCh: make(chan any, bufferSize),
		logger:  slog.Default().With("component", "analytics-collector"),
		done:    make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues event without blocking. Events are dropped when the buffer
// is full or the collector has been closed.
func (c *Collector) Track(event any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Close stops accepting events and waits until the buffered ones have been
// published. Start must have been called.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.eventCh)
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event any) {
	var (
		pub Publisher
		key string
	)
	switch e := event.(type) {
	case SearchEvent:
		pub, key = c.search, e.Query
	case ReviewEvent:
		pub, key = c.review, e.ItemID
	default:
		c.logger.Warn("unknown analytics event", "event", event)
		return
	}
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, kafka.Event{Key: key, Value: event}); err != nil {
		c.logger.Error("failed to publish analytics event", "error", err)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}

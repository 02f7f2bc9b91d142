package analysis

import (
	"context"
	"log/slog"

	"github.com/bfsujason/llm-corpus-annotation/pkg/kafka"
	"github.com/bfsujason/llm-corpus-annotation/pkg/logger"
	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
)

// Publisher sends one event. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector publishes report events from a buffered channel so that report
// callers never wait on the broker. Events are dropped when the buffer is
// full.
type Collector struct {
	publisher Publisher
	eventCh   chan ReportEvent
	metrics   *metrics.Metrics
	logger    *slog.Logger
	done      chan struct{}
}

func NewCollector(publisher Publisher, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan ReportEvent, bufferSize),
		metrics:   m,
		logger:    logger.WithComponent("report-collector"),
		done:      make(chan struct{}),
	}
}

// Start runs the publish loop until Close or ctx is done. Events still
// buffered at cancellation are published with a background context.
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
	c.logger.Info("report collector started", "buffer_size", cap(c.eventCh))
}

// Track queues an event without blocking.
func (c *Collector) Track(event ReportEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.count("dropped")
		c.logger.Warn("report event dropped (buffer full)", "run_id", event.RunID, "kind", event.Kind)
	}
}

// Close stops accepting events and waits for the loop to finish.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
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

func (c *Collector) publish(ctx context.Context, event ReportEvent) {
	err := c.publisher.Publish(ctx, kafka.Event{Key: event.RunID, Value: event})
	if err != nil {
		c.count("failed")
		c.logger.Error("failed to publish report event", "run_id", event.RunID, "error", err)
		return
	}
	c.count("published")
}

func (c *Collector) count(status string) {
	if c.metrics != nil {
		c.metrics.ReportEventsTotal.WithLabelValues(status).Inc()
	}
}

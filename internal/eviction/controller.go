// Package eviction implements the preservation/eviction controller (spec
// §4.4): a FIFO queue of candidate registrations awaiting removal, drained
// only as fast as an externally-injected quota stream allows. Decoupling
// rate control from the registry lets a health-aware component gate
// eviction globally; under suspected mass failure the quota can be
// throttled to zero and nothing is removed.
//
// Grounded on the teacher's background-sweep idiom in
// internal/orchestrator/rotationsweep.go and retention.go, adapted from a
// cron-triggered sweep to a quota-triggered one.
package eviction

import (
	"context"
	"log/slog"
	"sync"

	"fleetregistry/internal/logging"
)

// Record is one queued candidate for eviction: the instance id and the
// source whose copy should be removed once quota allows. S is the
// registry's Source type; the controller is generic over it purely to
// avoid an import cycle with the registry package (the registry depends on
// this package, not the reverse).
type Record[S any] struct {
	ID     string
	Source S
}

// Completer performs the actual removal once a queued Record is drained.
// The registry implements this by routing to the holder's Remove path
// (spec §4.4: "completes each (removes the source's copies through the
// holder's remove path)").
type Completer[S any] interface {
	CompleteEviction(id string, source S) error
}

// QuotaStream is a lazy sequence of non-negative integers; each call to
// Next blocks for the next grant and is consumed as described in spec
// §4.4. Next returns an error when the stream ends or fails.
type QuotaStream interface {
	Next(ctx context.Context) (int, error)
}

// Controller is the preservation/eviction controller.
type Controller[S any] struct {
	mu        sync.Mutex
	queue     []Record[S]
	completer Completer[S]
	quota     QuotaStream
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a Controller that completes evictions through
// completer, gated by quota.
func NewController[S any](completer Completer[S], quota QuotaStream, logger *slog.Logger) *Controller[S] {
	return &Controller[S]{
		completer: completer,
		quota:     quota,
		logger:    logging.Default(logger).With("component", "eviction-controller"),
		done:      make(chan struct{}),
	}
}

// Enqueue appends a candidate eviction record to the FIFO queue. Safe to
// call concurrently with Run and Shutdown.
func (c *Controller[S]) Enqueue(rec Record[S]) {
	c.mu.Lock()
	c.queue = append(c.queue, rec)
	n := len(c.queue)
	c.mu.Unlock()
	c.logger.Debug("eviction candidate queued", "id", rec.ID, "queue_depth", n)
}

// QueueLen returns the number of records currently awaiting quota.
func (c *Controller[S]) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Run consumes quota grants until the stream errors or ctx is cancelled.
// On each grant q, it dequeues up to q records (fewer if the queue holds
// less) and completes each one. A grant received against an empty queue is
// simply discarded; the next grant is requested immediately. Run returns
// when the quota stream ends.
func (c *Controller[S]) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer close(c.done)

	for {
		q, err := c.quota.Next(ctx)
		if err != nil {
			return err
		}
		c.drain(q)
	}
}

// drain completes up to q queued records.
func (c *Controller[S]) drain(q int) {
	if q <= 0 {
		return
	}
	c.mu.Lock()
	n := q
	if n > len(c.queue) {
		n = len(c.queue)
	}
	batch := append([]Record[S](nil), c.queue[:n]...)
	c.queue = c.queue[n:]
	c.mu.Unlock()

	for _, rec := range batch {
		if err := c.completer.CompleteEviction(rec.ID, rec.Source); err != nil {
			// Failure semantics (spec §4.4): a registration stream erroring
			// before it reaches the front of the queue is still processed
			// as a normal eviction. Completion errors here are logged, not
			// retried or re-queued.
			c.logger.Warn("eviction completion failed", "id", rec.ID, "error", err)
		}
	}
}

// Shutdown stops consuming quota and completes every record still queued,
// synchronously, before returning (spec §5: "queued records are completed
// synchronously before returning"). Idempotent.
func (c *Controller[S]) Shutdown() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-c.done
	}

	c.mu.Lock()
	remaining := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, rec := range remaining {
		if err := c.completer.CompleteEviction(rec.ID, rec.Source); err != nil {
			c.logger.Warn("eviction completion failed during shutdown", "id", rec.ID, "error", err)
		}
	}
}

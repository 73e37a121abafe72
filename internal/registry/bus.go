package registry

import (
	"context"
	"sync"

	"fleetregistry/internal/notify"
)

// logEntry is one append-only bus record.
type logEntry struct {
	seq int64
	n   ChangeNotification
}

// Bus is the registry's single append-only broadcast log (spec §3/§4.3/§5).
// Publication is lock-free from the mutator's perspective in the sense that
// no subscriber can block it: Publish only ever appends and wakes waiters;
// slow subscribers are evicted, never awaited on.
//
// Cursors are per-subscription and never shared, matching spec §5's shared-
// resource policy. The log itself is trimmed back to the slowest live
// subscriber's cursor after every publish, so memory stays bounded by
// subscriber lag rather than growing without bound.
type Bus struct {
	mu      sync.Mutex
	entries []logEntry
	baseSeq int64
	nextSeq int64
	wake    *notify.Signal
	subs    map[*Subscription]struct{}
	closed  bool
}

// NewBus creates an empty, open Bus.
func NewBus() *Bus {
	return &Bus{wake: notify.NewSignal(), subs: make(map[*Subscription]struct{})}
}

// Publish appends n to the log, assigning it the next sequence number, then
// wakes waiters and evicts any subscriber whose lag now exceeds its
// high-watermark.
func (b *Bus) Publish(n ChangeNotification) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	seq := b.nextSeq
	b.entries = append(b.entries, logEntry{seq: seq, n: n})
	b.nextSeq++

	var evicted []*Subscription
	minCursor := b.nextSeq
	for s := range b.subs {
		if b.nextSeq-s.cursor > int64(s.highWatermark) {
			evicted = append(evicted, s)
			continue
		}
		if s.cursor < minCursor {
			minCursor = s.cursor
		}
	}
	for _, s := range evicted {
		s.failLocked(ErrSlowConsumer)
		delete(b.subs, s)
	}
	if len(b.subs) == 0 {
		minCursor = b.nextSeq
	}
	b.trimLocked(minCursor)
	b.mu.Unlock()

	b.wake.Notify()
}

// trimLocked drops log entries below minCursor. Must be called with b.mu held.
func (b *Bus) trimLocked(minCursor int64) {
	if minCursor <= b.baseSeq {
		return
	}
	drop := minCursor - b.baseSeq
	if drop > int64(len(b.entries)) {
		drop = int64(len(b.entries))
	}
	b.entries = b.entries[drop:]
	b.baseSeq += drop
}

// Shutdown closes the bus and every live subscription with
// ErrLifecycleClosed. Idempotent.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.failLocked(ErrLifecycleClosed)
	}
	b.subs = make(map[*Subscription]struct{})
	b.entries = nil
}

// Depth returns the current log length, exposed for the bus-depth metric.
func (b *Bus) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// subscribeLocked registers a new subscription with a cursor at the bus's
// current tail. Must be called with b.mu held so the cursor and the
// snapshot the caller takes immediately after are consistent: any
// notification published from this point on is visible to the
// subscription, and anything published before is already reflected in
// holder state.
func (b *Bus) subscribeLocked(interest Interest, source *Source, highWatermark int) *Subscription {
	s := &Subscription{
		bus:           b,
		interest:      interest,
		source:        source,
		highWatermark: highWatermark,
		cursor:        b.nextSeq,
		done:          make(chan struct{}),
	}
	b.subs[s] = struct{}{}
	return s
}

// Subscription is a single subscriber's live view into the bus, already
// past its snapshot/sentinel phase (constructed by Registry.ForInterest).
type Subscription struct {
	bus           *Bus
	interest      Interest
	source        *Source
	highWatermark int

	cursor int64 // guarded by bus.mu
	done   chan struct{}
	err    error // guarded by bus.mu, valid once done is closed
}

// failLocked marks the subscription terminated with err. Must be called
// with bus.mu held.
func (s *Subscription) failLocked(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}

// Next blocks until the next notification matching this subscription's
// interest (and, if set, source) is available, ctx is cancelled, or the
// subscription is terminated (cancelled, slow-consumer evicted, or the
// registry shut down).
func (s *Subscription) Next(ctx context.Context) (ChangeNotification, error) {
	for {
		s.bus.mu.Lock()
		select {
		case <-s.done:
			err := s.err
			s.bus.mu.Unlock()
			if err == nil {
				err = ErrLifecycleClosed
			}
			return ChangeNotification{}, err
		default:
		}

		if s.cursor < s.bus.nextSeq {
			idx := s.cursor - s.bus.baseSeq
			e := s.bus.entries[idx]
			s.cursor++
			s.bus.mu.Unlock()
			if !s.matchesEntry(e) {
				continue
			}
			return e.n, nil
		}

		waitCh := s.bus.wake.C()
		s.bus.mu.Unlock()

		select {
		case <-waitCh:
			continue
		case <-s.done:
			s.bus.mu.Lock()
			err := s.err
			s.bus.mu.Unlock()
			if err == nil {
				err = ErrLifecycleClosed
			}
			return ChangeNotification{}, err
		case <-ctx.Done():
			return ChangeNotification{}, ctx.Err()
		}
	}
}

func (s *Subscription) matchesEntry(e logEntry) bool {
	if !e.n.matches(s.interest) {
		return false
	}
	if s.source != nil && !e.n.Source.Equal(*s.source) {
		return false
	}
	return true
}

// Cancel releases the subscription's resources immediately. Safe to call
// more than once and concurrently with Next.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.failLocked(nil)
	delete(s.bus.subs, s)
}

// drainBuffered returns every entry published in the window between sub's
// cursor at subscribe time and now (the "buffered phase" of spec §4.3's
// duplicate suppression), then advances sub.cursor past that window so
// sub.Next does not redeliver the same entries once the replay prefix is
// exhausted. Cursor read, entry copy, and cursor advance all happen under
// one lock acquisition so no publish can land in the gap. Used only by
// Registry.ForInterest while assembling a subscription's initial replay.
func (b *Bus) drainBuffered(sub *Subscription) []logEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	cursor := sub.cursor
	if cursor < b.baseSeq {
		cursor = b.baseSeq
	}
	start := cursor - b.baseSeq
	if start < 0 || start > int64(len(b.entries)) {
		sub.cursor = b.nextSeq
		return nil
	}
	out := make([]logEntry, len(b.entries)-int(start))
	copy(out, b.entries[start:])
	sub.cursor = b.nextSeq
	return out
}

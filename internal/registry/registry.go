package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"fleetregistry/internal/eviction"
	"fleetregistry/internal/logging"
)

// Config configures a Registry.
type Config struct {
	// Comparator is the holder selection policy. Defaults to
	// DefaultComparator (spec §4.1).
	Comparator Comparator

	// SubscriberBufferHighWatermark bounds per-subscriber lag before the
	// subscription is terminated with ErrSlowConsumer (spec §6).
	// Defaults to 1024 if <= 0.
	SubscriberBufferHighWatermark int

	// Metrics receives counter/gauge updates. If nil, updates are discarded.
	Metrics MetricSink

	// Logger for structured logging. If nil, logging is disabled. Scoped
	// with component="registry" at construction time, matching the
	// teacher's logging.Default/With idiom.
	Logger *slog.Logger
}

// evictionController is the type alias used internally to avoid repeating
// the generic instantiation everywhere; the registry's Source type is the
// key the preservation controller carries per queued record.
type evictionController = eviction.Controller[Source]

// Registry is the sourced registry (spec §3/§4.2): the id→holder map, one
// broadcast bus, and the entry point for register/update/unregister/evict.
//
// Concurrency: each Holder owns its own mutex, so distinct instance ids
// never contend (spec §5, §9 "sharded locks ... rejected [is] a single
// global lock"). The holders map itself is guarded by a narrow RWMutex
// held only long enough to look up or insert/delete an entry.
type Registry struct {
	mu      sync.RWMutex
	holders map[string]*Holder
	cmp     Comparator

	bus     *Bus
	metrics MetricSink
	logger  *slog.Logger

	watermark int
	evictor   *evictionController

	closed atomic.Bool
}

// New creates a Registry. evictor may be nil; if so, EvictAll fails with
// ErrInternal (a preservation controller is required to gate eviction —
// spec §4.4 is the only sanctioned removal path for evictAll).
func New(cfg Config, evictor *evictionController) *Registry {
	if cfg.Comparator == nil {
		cfg.Comparator = DefaultComparator
	}
	if cfg.SubscriberBufferHighWatermark <= 0 {
		cfg.SubscriberBufferHighWatermark = 1024
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetricSink{}
	}

	r := &Registry{
		holders:   make(map[string]*Holder),
		cmp:       cfg.Comparator,
		bus:       NewBus(),
		metrics:   cfg.Metrics,
		logger:    logging.Default(cfg.Logger).With("component", "registry"),
		watermark: cfg.SubscriberBufferHighWatermark,
		evictor:   evictor,
	}
	return r
}

func (r *Registry) checkOpen() error {
	if r.closed.Load() {
		return fmt.Errorf("%w: registry", ErrLifecycleClosed)
	}
	return nil
}

func (r *Registry) holderFor(id string, create bool) (*Holder, bool) {
	r.mu.RLock()
	h, ok := r.holders[id]
	r.mu.RUnlock()
	if ok || !create {
		return h, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.holders[id]; ok {
		return h, false
	}
	h = NewHolder(id, r.cmp)
	r.holders[id] = h
	return h, true
}

// dropIfEmpty removes id from the map if its holder has no remaining
// copies. Called after every mutation that might have emptied a holder.
func (r *Registry) dropIfEmpty(id string, h *Holder) {
	if h.Size() > 0 {
		return
	}
	r.mu.Lock()
	if cur, ok := r.holders[id]; ok && cur == h && h.Size() == 0 {
		delete(r.holders, id)
	}
	r.mu.Unlock()
}

// Register upserts copies[source] = info on the holder for info.ID,
// creating the holder if absent. Returns true iff the holder was just
// created by this call (spec §4.2).
func (r *Registry) Register(source Source, info InstanceInfo) (bool, error) {
	return r.update(source, info, nil)
}

// Update is semantically equivalent to Register, except that when the
// holder's selected source equals source, deltas seed the emitted Modify
// notification verbatim instead of being recomputed (spec §4.1/§4.2).
func (r *Registry) Update(source Source, info InstanceInfo, deltas []Delta) (bool, error) {
	return r.update(source, info, deltas)
}

func (r *Registry) update(source Source, info InstanceInfo, deltas []Delta) (bool, error) {
	if err := r.checkOpen(); err != nil {
		return false, err
	}
	if info.ID == "" {
		return false, fmt.Errorf("%w: empty instance id", ErrInternal)
	}

	h, created := r.holderFor(info.ID, true)
	n, err := h.Update(source, info, deltas)
	if err != nil {
		if created {
			r.dropIfEmpty(info.ID, h)
		}
		return false, err
	}
	if n != nil {
		r.bus.Publish(*n)
	}
	if deltas == nil {
		r.metrics.IncRegistrations()
	} else {
		r.metrics.IncUpdates()
	}
	r.metrics.SetBusDepth(r.bus.Depth())
	return created, nil
}

// Unregister removes copies[source] from the holder for id. Returns
// true iff the holder's last copy was removed (holder destroyed).
func (r *Registry) Unregister(source Source, id string) (bool, error) {
	if err := r.checkOpen(); err != nil {
		return false, err
	}

	h, _ := r.holderFor(id, false)
	if h == nil {
		return false, nil
	}
	n := h.Remove(source)
	destroyed := h.Size() == 0
	r.dropIfEmpty(id, h)
	if n != nil {
		r.bus.Publish(*n)
	}
	r.metrics.IncUnregisters()
	r.metrics.SetBusDepth(r.bus.Depth())
	return destroyed, nil
}

// CompleteEviction implements eviction.Completer: it performs the actual
// removal for a queued eviction record, exactly as Unregister does. This
// is the only path evictAll's queued work takes to reach the holder.
func (r *Registry) CompleteEviction(id string, source Source) error {
	_, err := r.Unregister(source, id)
	if err == nil {
		r.metrics.IncEvictions()
	}
	return err
}

// EvictAll schedules removal of every copy whose source matches (or every
// copy, if source is nil) through the preservation controller. Returns the
// number of holders touched (spec §4.2).
func (r *Registry) EvictAll(source *Source) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	if r.evictor == nil {
		return 0, fmt.Errorf("%w: no preservation controller configured", ErrInternal)
	}

	r.mu.RLock()
	holders := make([]*Holder, 0, len(r.holders))
	for _, h := range r.holders {
		holders = append(holders, h)
	}
	r.mu.RUnlock()

	touched := 0
	for _, h := range holders {
		matched := false
		for _, src := range h.Sources() {
			if source == nil || src.Equal(*source) {
				r.evictor.Enqueue(eviction.Record[Source]{ID: h.ID(), Source: src})
				matched = true
			}
		}
		if matched {
			touched++
		}
	}
	return touched, nil
}

// ForSnapshot returns the currently selected views across all holders
// matching interest. Finite, not restartable once drained (spec §4.2).
func (r *Registry) ForSnapshot(interest Interest) ([]InstanceInfo, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	holders := make([]*Holder, 0, len(r.holders))
	for _, h := range r.holders {
		holders = append(holders, h)
	}
	r.mu.RUnlock()

	out := make([]InstanceInfo, 0, len(holders))
	for _, h := range holders {
		if view, ok := h.Get(); ok && interest.Matches(view) {
			out = append(out, view)
		}
	}
	return out, nil
}

// GetHolders returns a snapshot of all current holders. Not restartable.
func (r *Registry) GetHolders() []*Holder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Holder, 0, len(r.holders))
	for _, h := range r.holders {
		out = append(out, h)
	}
	return out
}

// ForInterest subscribes to the registry's change stream filtered by
// interest (and, if source is non-nil, further filtered to notifications
// originating from that source — used by replication channels to avoid
// echoing a peer's own updates). It implements the snapshot-then-live join
// described in spec §4.3.
func (r *Registry) ForInterest(interest Interest, source *Source) (*LiveFeed, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	r.bus.mu.Lock()
	sub := r.bus.subscribeLocked(interest, source, r.watermark)
	r.bus.mu.Unlock()

	r.mu.RLock()
	holders := make([]*Holder, 0, len(r.holders))
	for _, h := range r.holders {
		holders = append(holders, h)
	}
	r.mu.RUnlock()

	snapshotIDs := make(map[string]struct{}, len(holders))
	adds := make([]ChangeNotification, 0, len(holders))
	for _, h := range holders {
		view, ok := h.Get()
		if !ok || !interest.Matches(view) {
			continue
		}
		selSrc, ok := h.SelectedSource()
		if !ok {
			continue
		}
		if source != nil && !selSrc.Equal(*source) {
			continue
		}
		snapshotIDs[h.ID()] = struct{}{}
		adds = append(adds, ChangeNotification{Kind: Add, Info: view, Source: selSrc})
	}

	buffered := r.bus.drainBuffered(sub)
	replay := reconcileBuffered(buffered, sub, snapshotIDs)

	r.metrics.SetSubscribers(r.subscriberCount())
	return newLiveFeed(sub, adds, replay), nil
}

// subscriberCount is a best-effort count for the subscribers gauge.
func (r *Registry) subscriberCount() int {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	return len(r.bus.subs)
}

// reconcileBuffered applies spec §4.3's duplicate-suppression rules to the
// notifications published during the window between a subscription's
// cursor being set and its snapshot being read, filtered first by the
// subscription's own interest/source.
func reconcileBuffered(entries []logEntry, sub *Subscription, snapshotIDs map[string]struct{}) []ChangeNotification {
	out := make([]ChangeNotification, 0, len(entries))
	deletedAfterSnapshot := make(map[string]bool)

	for _, e := range entries {
		if !sub.matchesEntry(e) {
			continue
		}
		n := e.n
		_, inSnapshot := snapshotIDs[n.Info.ID]

		switch n.Kind {
		case Add:
			if inSnapshot && !deletedAfterSnapshot[n.Info.ID] {
				// Duplicate of the snapshot entry; suppressed unless an
				// intervening Delete already passed through for this id.
				continue
			}
		case Modify:
			if !inSnapshot {
				// Upgraded to Add: the consumer never saw a prior value
				// for this id.
				n = ChangeNotification{Kind: Add, Info: n.Info, Source: n.Source, HolderVersion: n.HolderVersion}
			}
		case Delete:
			if !inSnapshot {
				// Dropped: the consumer never saw this id to begin with.
				continue
			}
			deletedAfterSnapshot[n.Info.ID] = true
		}
		out = append(out, n)
	}
	return out
}

// Shutdown terminates every subscription with ErrLifecycleClosed, stops
// accepting further mutations, and shuts down the preservation controller
// (completing any queued evictions synchronously first). Idempotent.
func (r *Registry) Shutdown(ctx context.Context) {
	if r.closed.Load() {
		return
	}
	// Queued evictions complete through Unregister, which fails once closed
	// is set, so the controller is drained first.
	if r.evictor != nil {
		r.evictor.Shutdown()
	}
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.bus.Shutdown()
	_ = ctx
}

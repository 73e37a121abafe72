package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Comparator orders two sourced copies of the same instance id, returning
// true if a should be preferred over b as the holder's selected view.
// Spec §9 calls for the ordering to be injected rather than hard-coded, so
// that selection policy can be swapped without touching the holder.
type Comparator func(aSrc Source, aInfo InstanceInfo, bSrc Source, bInfo InstanceInfo) bool

// DefaultComparator implements spec §4.1's selection policy: LOCAL beats
// any other origin; among equal origins, higher version wins; ties break
// on lexicographic source name.
func DefaultComparator(aSrc Source, aInfo InstanceInfo, bSrc Source, bInfo InstanceInfo) bool {
	if (aSrc.Origin == Local) != (bSrc.Origin == Local) {
		return aSrc.Origin == Local
	}
	if aInfo.Version != bInfo.Version {
		return aInfo.Version > bInfo.Version
	}
	return aSrc.Name < bSrc.Name
}

// Holder is the per-instance-id multi-sourced container (spec §3/§4.1): one
// copy per source, a selected view, and a monotonic holderVersion.
//
// Holder owns its own mutex rather than relying on an external lock,
// implementing the "per-holder lock created on demand" sharding option
// from spec §9: distinct ids never contend with each other.
type Holder struct {
	mu sync.Mutex

	id         string
	copies     map[Source]InstanceInfo
	selected   *Source
	holderVers int64
	cmp        Comparator
}

// NewHolder creates an empty holder for id using cmp as its selection
// policy. A nil cmp falls back to DefaultComparator.
func NewHolder(id string, cmp Comparator) *Holder {
	if cmp == nil {
		cmp = DefaultComparator
	}
	return &Holder{id: id, copies: make(map[Source]InstanceInfo), cmp: cmp}
}

// ID returns the instance id this holder tracks.
func (h *Holder) ID() string { return h.id }

// Get returns the selected view, or false if the holder is empty.
func (h *Holder) Get() (InstanceInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getLocked()
}

func (h *Holder) getLocked() (InstanceInfo, bool) {
	if h.selected == nil {
		return InstanceInfo{}, false
	}
	return h.copies[*h.selected], true
}

// Size returns the number of copies currently held.
func (h *Holder) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.copies)
}

// Version returns the current holderVersion.
func (h *Holder) Version() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holderVers
}

// SelectedSource returns the source whose copy is currently selected, or
// false if the holder is empty.
func (h *Holder) SelectedSource() (Source, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selected == nil {
		return Source{}, false
	}
	return *h.selected, true
}

// Sources returns every source currently holding a copy in this holder, in
// no particular order. Used by Registry.EvictAll to enumerate eviction
// candidates.
func (h *Holder) Sources() []Source {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Source, 0, len(h.copies))
	for s := range h.copies {
		out = append(out, s)
	}
	return out
}

// Update sets copies[source] = info, recomputes the selected view, and
// returns the resulting notification, if any (spec §4.1).
//
// explicitDeltas, when non-nil, seeds the emitted Modify when the selected
// source equals the updating source and the view changed without a full
// replacement (i.e. the update did not just (re)select a previously
// non-selected copy) — this is how Registry.update's caller-supplied deltas
// reach the notification without recomputation.
func (h *Holder) Update(source Source, info InstanceInfo, explicitDeltas []Delta) (*ChangeNotification, error) {
	if info.ID != h.id {
		return nil, fmt.Errorf("%w: instance id %q does not match holder id %q", ErrInternal, info.ID, h.id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if prior, ok := h.copies[source]; ok {
		switch {
		case info.Version < prior.Version:
			return nil, fmt.Errorf("%w: source %s register version %d less than current %d for instance %q",
				ErrStaleVersion, source, info.Version, prior.Version, info.ID)
		case info.Version == prior.Version:
			if info.Equal(prior) {
				// Idempotent re-registration: spec §8 invariant 6, a no-op
				// at the holder layer.
				return nil, nil
			}
			return nil, fmt.Errorf("%w: source %s register version %d conflicts with existing copy for instance %q",
				ErrStaleVersion, source, info.Version, info.ID)
		}
	}

	wasEmpty := h.selected == nil
	priorSelectedSrc := h.selected
	priorView, _ := h.getLocked()

	h.copies[source] = info
	h.selectBest()
	h.holderVers++

	switch {
	case wasEmpty:
		view, _ := h.getLocked()
		return &ChangeNotification{Kind: Add, Info: view, Source: source, HolderVersion: h.holderVers}, nil

	case priorSelectedSrc != nil && priorSelectedSrc.Equal(source):
		// The updating source was already selected and remains selected
		// (its ranking only improves as its version climbs). The caller's
		// explicit deltas, if any, describe exactly this transition.
		view, _ := h.getLocked()
		deltas := explicitDeltas
		if deltas == nil {
			deltas = diffAttributes(priorView, view)
		}
		return &ChangeNotification{Kind: Modify, Info: view, Deltas: deltas, Source: source, HolderVersion: h.holderVers}, nil

	case h.selected != nil && h.selected.Equal(source):
		// A previously non-selected source just became selected (e.g. a
		// LOCAL copy outranking the prior REPLICATED view). The view
		// switches identity, so deltas are always recomputed in full,
		// never taken from the caller.
		view, _ := h.getLocked()
		return &ChangeNotification{Kind: Modify, Info: view, Deltas: diffAttributes(priorView, view), Source: source, HolderVersion: h.holderVers}, nil

	default:
		// The update affected a non-selected copy and selection did not
		// move to it; the exposed view is unchanged.
		return nil, nil
	}
}

// Remove deletes copies[source], recomputes the selected view, and returns
// the resulting notification, if any (spec §4.1).
func (h *Holder) Remove(source Source) *ChangeNotification {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.copies[source]; !ok {
		return nil
	}

	priorSelectedSrc := h.selected
	priorView, hadView := h.getLocked()
	wasSelected := priorSelectedSrc != nil && priorSelectedSrc.Equal(source)

	delete(h.copies, source)
	h.selectBest()
	h.holderVers++

	if len(h.copies) == 0 {
		if hadView {
			return &ChangeNotification{Kind: Delete, Info: priorView, Source: source, HolderVersion: h.holderVers}
		}
		return nil
	}

	if wasSelected {
		view, _ := h.getLocked()
		deltas := diffAttributes(priorView, view)
		return &ChangeNotification{Kind: Modify, Info: view, Deltas: deltas, Source: source, HolderVersion: h.holderVers}
	}

	return nil
}

// selectBest recomputes h.selected from h.copies using h.cmp. Must be
// called with h.mu held.
func (h *Holder) selectBest() {
	if len(h.copies) == 0 {
		h.selected = nil
		return
	}
	srcs := make([]Source, 0, len(h.copies))
	for s := range h.copies {
		srcs = append(srcs, s)
	}
	sort.Slice(srcs, func(i, j int) bool {
		return h.cmp(srcs[i], h.copies[srcs[i]], srcs[j], h.copies[srcs[j]])
	})
	best := srcs[0]
	h.selected = &best
}

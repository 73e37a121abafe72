package registry

import (
	"fmt"
	"maps"
)

// AttrTag names a single mutable attribute within an instance's attribute
// bag (e.g. "zone", "status", "vipAddress").
type AttrTag string

// Attributes is the mutable attribute bag carried by an InstanceInfo.
// Two Attributes values are structurally equal iff they contain the same
// set of tags mapped to the same values.
type Attributes map[AttrTag]string

// Equal reports whether a and b contain the same tags and values.
func (a Attributes) Equal(b Attributes) bool {
	return maps.Equal(a, b)
}

// Clone returns an independent copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// InstanceInfo is the value type for one registered instance, as seen from
// one source at one point in time. Id is non-empty and stable across the
// instance's lifetime; Version is monotonic within a single source.
type InstanceInfo struct {
	ID         string
	Version    int64
	Attributes Attributes
}

// Equal reports whether two InstanceInfo values are structurally equal:
// same id, version, and attribute bag.
func (i InstanceInfo) Equal(other InstanceInfo) bool {
	return i.ID == other.ID && i.Version == other.Version && i.Attributes.Equal(other.Attributes)
}

// withAttribute returns a copy of i with attribute tag set to value and
// Version bumped to version. Callers that need exact §3 applyDelta
// semantics should use Delta.Apply instead, which also validates tag
// presence.
func (i InstanceInfo) withAttribute(version int64, tag AttrTag, value string) InstanceInfo {
	attrs := i.Attributes.Clone()
	if attrs == nil {
		attrs = make(Attributes, 1)
	}
	attrs[tag] = value
	return InstanceInfo{ID: i.ID, Version: version, Attributes: attrs}
}

// Delta is an attribute-scoped diff: applying it to an InstanceInfo I
// yields a new InstanceInfo whose Version equals D.Version and whose named
// attribute is replaced by D.NewValue.
type Delta struct {
	ID       string
	Version  int64
	Attr     AttrTag
	NewValue string
}

// Apply applies d to i, returning the resulting InstanceInfo.
//
// Invariants enforced (spec §3): the result's ID equals i.ID, and
// d.Version must be greater than i.Version. Applying a delta against an
// info missing the targeted attribute is rejected as malformed (spec §4.2).
func (d Delta) Apply(i InstanceInfo) (InstanceInfo, error) {
	if d.ID != i.ID {
		return InstanceInfo{}, fmt.Errorf("%w: delta id %q does not match instance id %q", ErrInternal, d.ID, i.ID)
	}
	if d.Version <= i.Version {
		return InstanceInfo{}, fmt.Errorf("%w: delta version %d not greater than instance version %d", ErrStaleVersion, d.Version, i.Version)
	}
	if _, ok := i.Attributes[d.Attr]; !ok {
		return InstanceInfo{}, fmt.Errorf("%w: attribute %q absent from instance %q", ErrMalformedDelta, d.Attr, i.ID)
	}
	return i.withAttribute(d.Version, d.Attr, d.NewValue), nil
}

// diffAttributes computes one delta per attribute of current that is new or
// changed relative to prior. Both must share the same id and current's
// version is used for every emitted delta (they describe one transition).
// Attributes present in prior but absent from current produce no delta.
func diffAttributes(prior, current InstanceInfo) []Delta {
	var deltas []Delta
	for tag, v := range current.Attributes {
		if pv, ok := prior.Attributes[tag]; !ok || pv != v {
			deltas = append(deltas, Delta{ID: current.ID, Version: current.Version, Attr: tag, NewValue: v})
		}
	}
	return deltas
}

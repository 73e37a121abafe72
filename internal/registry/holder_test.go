package registry_test

import (
	"errors"
	"testing"

	"fleetregistry/internal/registry"
)

func mustLocal(name string) registry.Source  { return registry.Source{Origin: registry.Local, Name: name} }
func mustPeer(name string) registry.Source   { return registry.Source{Origin: registry.Replicated, Name: name} }

// S1 — single source lifecycle.
func TestHolderSingleSourceLifecycle(t *testing.T) {
	h := registry.NewHolder("A", nil)
	src := mustLocal("srv1")

	n, err := h.Update(src, registry.InstanceInfo{ID: "A", Version: 1, Attributes: registry.Attributes{"zone": "us-east"}}, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n == nil || n.Kind != registry.Add {
		t.Fatalf("expected Add notification, got %+v", n)
	}
	if h.Size() != 1 {
		t.Fatalf("expected size 1, got %d", h.Size())
	}

	n, err = h.Update(src, registry.InstanceInfo{ID: "A", Version: 2, Attributes: registry.Attributes{"zone": "us-west"}}, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n == nil || n.Kind != registry.Modify {
		t.Fatalf("expected Modify notification, got %+v", n)
	}
	if len(n.Deltas) != 1 || n.Deltas[0].NewValue != "us-west" {
		t.Fatalf("expected one delta to us-west, got %+v", n.Deltas)
	}

	n = h.Remove(src)
	if n == nil || n.Kind != registry.Delete {
		t.Fatalf("expected Delete notification, got %+v", n)
	}
	if h.Size() != 0 {
		t.Fatalf("expected holder empty after remove, got size %d", h.Size())
	}
}

// S2 — two sources, LOCAL wins.
func TestHolderLocalOutranksReplicated(t *testing.T) {
	h := registry.NewHolder("A", nil)
	peer := mustPeer("peer")
	self := mustLocal("self")

	n, err := h.Update(peer, registry.InstanceInfo{ID: "A", Version: 5}, nil)
	if err != nil || n == nil || n.Kind != registry.Add {
		t.Fatalf("expected Add from peer, got n=%+v err=%v", n, err)
	}

	n, err = h.Update(self, registry.InstanceInfo{ID: "A", Version: 1}, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n == nil || n.Kind != registry.Modify {
		t.Fatalf("expected Modify to self despite lower version, got %+v", n)
	}
	view, ok := h.Get()
	if !ok || !view.Equal(registry.InstanceInfo{ID: "A", Version: 1}) {
		t.Fatalf("expected selected view to be self's copy, got %+v ok=%v", view, ok)
	}

	n = h.Remove(self)
	if n == nil || n.Kind != registry.Modify {
		t.Fatalf("expected Modify back to peer's copy, got %+v", n)
	}
	view, ok = h.Get()
	if !ok || view.Version != 5 {
		t.Fatalf("expected peer's copy (v5) reselected, got %+v ok=%v", view, ok)
	}
}

// S3 — stale rejection.
func TestHolderStaleVersionRejected(t *testing.T) {
	h := registry.NewHolder("A", nil)
	src := mustLocal("self")

	if _, err := h.Update(src, registry.InstanceInfo{ID: "A", Version: 3}, nil); err != nil {
		t.Fatalf("seed Update: %v", err)
	}

	n, err := h.Update(src, registry.InstanceInfo{ID: "A", Version: 2}, nil)
	if !errors.Is(err, registry.ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got n=%+v err=%v", n, err)
	}
	if n != nil {
		t.Fatalf("expected no notification on stale rejection, got %+v", n)
	}
	view, _ := h.Get()
	if view.Version != 3 {
		t.Fatalf("holder should be unchanged, got version %d", view.Version)
	}
}

// Invariant 6 — idempotence: identical re-registration is a silent no-op.
func TestHolderIdempotentReregistration(t *testing.T) {
	h := registry.NewHolder("A", nil)
	src := mustLocal("self")
	info := registry.InstanceInfo{ID: "A", Version: 1, Attributes: registry.Attributes{"zone": "us-east"}}

	n, err := h.Update(src, info, nil)
	if err != nil || n == nil {
		t.Fatalf("seed Update: n=%+v err=%v", n, err)
	}

	n, err = h.Update(src, info, nil)
	if err != nil {
		t.Fatalf("expected no error on identical re-registration, got %v", err)
	}
	if n != nil {
		t.Fatalf("expected no-op notification, got %+v", n)
	}
}

func TestHolderInvariantsAfterMutations(t *testing.T) {
	h := registry.NewHolder("A", nil)
	if _, ok := h.Get(); ok {
		t.Fatal("empty holder should have no selected view")
	}

	src := mustLocal("self")
	if _, err := h.Update(src, registry.InstanceInfo{ID: "A", Version: 1}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	sel, ok := h.SelectedSource()
	if !ok || !sel.Equal(src) {
		t.Fatalf("expected selected source %v, got %v ok=%v", src, sel, ok)
	}

	h.Remove(src)
	if _, ok := h.SelectedSource(); ok {
		t.Fatal("expected no selected source after removing the only copy")
	}
}

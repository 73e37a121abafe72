package registry

import (
	"context"
	"testing"
)

// newLiveFeed must order the BufferSentinel ahead of the reconciled replay
// window (spec §4.3 steps 3→4→5): otherwise an event published in the
// window between subscribe and snapshot read would be mistaken for part of
// the snapshot itself.
func TestNewLiveFeedOrdersSentinelBeforeReplay(t *testing.T) {
	adds := []ChangeNotification{{Kind: Add, Info: InstanceInfo{ID: "A"}}}
	replay := []ChangeNotification{{Kind: Add, Info: InstanceInfo{ID: "C"}}}

	feed := newLiveFeed(&Subscription{}, adds, replay)

	want := []struct {
		kind Kind
		id   string
	}{
		{Add, "A"},
		{BufferSentinel, ""},
		{Add, "C"},
	}
	for i, w := range want {
		if i >= len(feed.prefix) {
			t.Fatalf("prefix too short: got %d entries, want at least %d", len(feed.prefix), i+1)
		}
		n := feed.prefix[i]
		if n.Kind != w.kind || n.Info.ID != w.id {
			t.Fatalf("prefix[%d] = %+v, want kind=%v id=%q", i, n, w.kind, w.id)
		}
	}
}

// drainBuffered must advance the subscription's cursor past whatever it
// hands back as the buffered window, so the same entries are never
// replayed a second time once the live tail takes over.
func TestDrainBufferedAdvancesCursorPastWindow(t *testing.T) {
	bus := NewBus()
	bus.mu.Lock()
	sub := bus.subscribeLocked(Full(), nil, 16)
	bus.mu.Unlock()
	startCursor := sub.cursor

	local := Source{Origin: Local, Name: "srv1"}
	bus.Publish(ChangeNotification{Kind: Add, Info: InstanceInfo{ID: "C"}, Source: local})

	entries := bus.drainBuffered(sub)
	if len(entries) != 1 {
		t.Fatalf("expected 1 buffered entry, got %d", len(entries))
	}
	if sub.cursor == startCursor {
		t.Fatal("expected cursor to advance past the buffered window")
	}
	if sub.cursor != bus.nextSeq {
		t.Fatalf("expected cursor to reach bus.nextSeq (%d), got %d", bus.nextSeq, sub.cursor)
	}

	// The entry already handed back via drainBuffered must not be
	// redelivered by the live subscription.
	bus.Publish(ChangeNotification{Kind: Add, Info: InstanceInfo{ID: "D"}, Source: local})
	n, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if n.Info.ID != "D" {
		t.Fatalf("expected live tail to deliver D next, got %+v", n)
	}
}

package registry

import "context"

// LiveFeed is the result of Registry.ForInterest: a finite prefix of
// snapshot Add notifications followed by a BufferSentinel, then an
// unbounded live tail drawn from the bus (spec §4.3). Consumers call Next
// repeatedly; once the prefix is exhausted the sentinel marks the boundary
// and subsequent calls block on the underlying subscription.
type LiveFeed struct {
	sub     *Subscription
	prefix  []ChangeNotification
	emitted bool
}

// newLiveFeed assembles the snapshot prefix: initial Adds, then the
// BufferSentinel, then the reconciled buffered notifications (spec §4.3
// steps 3→4→5 — snapshot, sentinel, drained buffer, live). The sentinel
// must precede replay: anything published in the window between the
// snapshot read and the subscribe call belongs to the live tail, not to
// the pre-sentinel snapshot.
func newLiveFeed(sub *Subscription, adds []ChangeNotification, replay []ChangeNotification) *LiveFeed {
	prefix := make([]ChangeNotification, 0, len(adds)+len(replay)+1)
	prefix = append(prefix, adds...)
	prefix = append(prefix, ChangeNotification{Kind: BufferSentinel})
	prefix = append(prefix, replay...)
	return &LiveFeed{sub: sub, prefix: prefix}
}

// Next returns the next notification: first draining the snapshot prefix
// (ending with exactly one BufferSentinel), then blocking on the live bus.
func (f *LiveFeed) Next(ctx context.Context) (ChangeNotification, error) {
	if len(f.prefix) > 0 {
		n := f.prefix[0]
		f.prefix = f.prefix[1:]
		return n, nil
	}
	return f.sub.Next(ctx)
}

// Cancel releases the feed's underlying subscription. Safe to call more
// than once.
func (f *LiveFeed) Cancel() {
	f.sub.Cancel()
}

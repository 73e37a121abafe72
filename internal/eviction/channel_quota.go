package eviction

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by ChannelQuotaStream.Next once its
// underlying channel has been closed.
var ErrStreamClosed = errors.New("eviction: quota stream closed")

// ChannelQuotaStream adapts a channel of quota grants into a QuotaStream.
// Useful for tests and for callers that already have their own
// health-aware component pushing grants (spec §4.4's "externally-provided
// quotaStream").
type ChannelQuotaStream struct {
	ch <-chan int
}

// NewChannelQuotaStream wraps ch as a QuotaStream. The stream ends (Next
// returns an error) when ch is closed.
func NewChannelQuotaStream(ch <-chan int) *ChannelQuotaStream {
	return &ChannelQuotaStream{ch: ch}
}

// Next returns the next value sent on the channel, or an error if the
// channel is closed or ctx is done first.
func (s *ChannelQuotaStream) Next(ctx context.Context) (int, error) {
	select {
	case q, ok := <-s.ch:
		if !ok {
			return 0, ErrStreamClosed
		}
		return q, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

package eviction

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedQuotaStream is the default QuotaStream: a single
// golang.org/x/time/rate limiter that, once per tick interval, grants
// whatever burst capacity has accumulated since the last grant, then
// resets. Grounded on the teacher's internal/server/ratelimit.go per-IP
// rate.Limiter usage, here applied to a single global eviction ceiling
// rather than per-client request admission.
//
// This gives an operator a configurable "evictions per interval" throttle
// without hand-rolling a token bucket: set Burst to the desired per-tick
// ceiling and Limit to the refill rate.
type RateLimitedQuotaStream struct {
	limiter  *rate.Limiter
	burst    int
	tick     time.Duration
	initial  int
	consumed bool
}

// RateLimitedQuotaStreamConfig configures a RateLimitedQuotaStream.
type RateLimitedQuotaStreamConfig struct {
	// Limit is the sustained refill rate, in quota units (evictions) per
	// second.
	Limit rate.Limit
	// Burst bounds the maximum grant size in a single tick.
	Burst int
	// Tick is how often a new quota value is produced.
	Tick time.Duration
	// Initial is the value of the very first grant (spec §6:
	// evictionQuotaInitial, "first quota request emitted at startup").
	Initial int
}

// NewRateLimitedQuotaStream creates a RateLimitedQuotaStream from cfg.
func NewRateLimitedQuotaStream(cfg RateLimitedQuotaStreamConfig) *RateLimitedQuotaStream {
	return &RateLimitedQuotaStream{
		limiter: rate.NewLimiter(cfg.Limit, cfg.Burst),
		burst:   cfg.Burst,
		tick:    cfg.Tick,
		initial: cfg.Initial,
	}
}

// Next blocks until the next tick (or ctx is done) and returns the number
// of tokens the limiter currently allows, reserving them so the next tick
// starts from empty.
func (s *RateLimitedQuotaStream) Next(ctx context.Context) (int, error) {
	if !s.consumed {
		s.consumed = true
		return s.initial, nil
	}

	timer := time.NewTimer(s.tick)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	granted := 0
	for granted < s.burst && s.limiter.Allow() {
		granted++
	}
	return granted, nil
}

package registry

import "errors"

// Error taxonomy (spec §7). Each sentinel is wrapped with context via
// fmt.Errorf("...: %w", ...) at the call site, matching the teacher's
// error style (no custom error type hierarchy).
var (
	// ErrLifecycleClosed is returned when an operation is attempted after
	// the registry (or a subscription, or a replication channel) has shut
	// down or closed.
	ErrLifecycleClosed = errors.New("registry: lifecycle closed")

	// ErrStaleVersion is returned when register/update supplies a version
	// not greater than the current copy from the same source.
	ErrStaleVersion = errors.New("registry: stale version")

	// ErrMalformedDelta is returned when a delta targets an attribute
	// absent from the current instance info.
	ErrMalformedDelta = errors.New("registry: malformed delta")

	// ErrSlowConsumer is returned (as a subscription's terminal error) when
	// a subscriber's bounded buffer overflows.
	ErrSlowConsumer = errors.New("registry: slow consumer")

	// ErrInternal marks an invariant violation. Receiving it should be
	// unreachable in a correct build; it triggers registry shutdown.
	ErrInternal = errors.New("registry: internal invariant violation")
)

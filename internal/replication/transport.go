package replication

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransportFailure wraps any error returned by a TransportConnection's
// Send or SendHeartbeat methods (spec §7's TransportFailure taxonomy
// member). The replication channel closes on the first occurrence.
var ErrTransportFailure = errors.New("replication: transport failure")

// TransportConnection is the injected collaborator a replication channel
// sends wire messages through (spec §6). A single TransportConnection is
// memoized and reused for the channel's entire Connected lifetime.
type TransportConnection interface {
	// Send delivers message (one of RegisterCopy, UpdateCopy,
	// UnregisterCopy) and blocks until acknowledged or failed.
	Send(ctx context.Context, message any) error

	// SendHeartbeat delivers a liveness ping.
	SendHeartbeat(ctx context.Context) error

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// TransportClient produces exactly one TransportConnection per channel
// lifetime (spec §6). Connect is called at most once by a Channel; the
// returned connection is memoized for the channel's Connected phase.
type TransportClient interface {
	Connect(ctx context.Context) (TransportConnection, error)
}

func wrapTransportFailure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransportFailure, err)
}

// Package replication implements the outbound replication channel (spec
// §4.5): a client-side state machine that subscribes to the local
// registry's LOCAL-origin view and mirrors every change to a peer over a
// single memoized connection, sustained by a periodic heartbeat.
//
// Grounded on the teacher's internal/cluster connection-pooling idiom
// (peer_conns.go, broadcaster.go: lazy-dialed, cached *grpc.ClientConn) and
// its cron-based scheduling idiom (internal/orchestrator/cronrotation.go),
// adapted from a raft-cluster broadcast fan-out to a single-peer channel.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"fleetregistry/internal/logging"
	"fleetregistry/internal/notify"
	"fleetregistry/internal/registry"
)

// State is the replication channel's lifecycle phase (spec §4.5).
type State int32

const (
	Idle State = iota
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Feed is the subset of *registry.Registry's subscription surface the
// channel needs. A *registry.LiveFeed can only be built by a Registry, so
// an implementation other than Registry itself delegates to one.
type Feed interface {
	ForInterest(interest registry.Interest, source *registry.Source) (*registry.LiveFeed, error)
}

// Config configures a Channel.
type Config struct {
	// HeartbeatInterval is the period of the liveness ping (spec §6:
	// heartbeatIntervalMs). Must be > 0.
	HeartbeatInterval time.Duration

	Logger *slog.Logger
}

// Channel is the outbound replication channel state machine (spec §4.5):
// Idle → Connected → Closed, terminal on Closed.
type Channel struct {
	registry Feed
	client   TransportClient
	cfg      Config
	logger   *slog.Logger

	state atomic.Int32
	conn  *notify.Once[TransportConnection]

	scheduler gocron.Scheduler

	lifecycleErr chan error
	cancel       context.CancelFunc
}

// NewChannel creates a Channel in the Idle state. The connection is not
// dialed until Start begins forwarding notifications.
func NewChannel(reg Feed, client TransportClient, cfg Config) (*Channel, error) {
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("%w: heartbeat interval must be positive", registry.ErrInternal)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create heartbeat scheduler: %w", err)
	}
	return &Channel{
		registry:     reg,
		client:       client,
		cfg:          cfg,
		logger:       logging.Default(cfg.Logger).With("component", "replication-channel"),
		conn:         notify.NewOnce[TransportConnection](),
		scheduler:    scheduler,
		lifecycleErr: make(chan error, 1),
	}, nil
}

// State returns the channel's current lifecycle phase.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Lifecycle returns a channel that receives exactly one value when the
// channel closes: nil for an explicit Close, or the error that caused the
// transition otherwise (spec §6's lifecycle stream).
func (c *Channel) Lifecycle() <-chan error {
	return c.lifecycleErr
}

// Start subscribes to the local registry's full, LOCAL-origin view and
// begins forwarding notifications and heartbeats. It blocks until the
// channel closes (by failure or explicit Close) or ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	feed, err := c.registry.ForInterest(registry.Full(), nil)
	if err != nil {
		c.fail(err)
		return err
	}
	defer feed.Cancel()

	if err := c.startHeartbeat(ctx); err != nil {
		c.fail(err)
		return err
	}
	defer func() { _ = c.scheduler.Shutdown() }()

	for {
		n, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				c.closeExplicit()
				return nil
			}
			c.fail(err)
			return err
		}
		if n.Kind == registry.BufferSentinel {
			continue
		}
		if n.Source.Origin != registry.Local {
			continue
		}
		if err := c.forward(ctx, n); err != nil {
			c.fail(err)
			return err
		}
	}
}

// forward sends the wire message for n over the channel's memoized
// connection, dialing it on first use.
func (c *Channel) forward(ctx context.Context, n registry.ChangeNotification) error {
	msg := wireMessageFor(n)
	if msg == nil {
		return nil
	}
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, msg); err != nil {
		return wrapTransportFailure(err)
	}
	return nil
}

// connection returns the channel's single connection, dialing it on the
// first call and memoizing it for every subsequent caller (spec §4.5,
// §9's replay-once broadcast cell).
func (c *Channel) connection(ctx context.Context) (TransportConnection, error) {
	if conn, ok := c.conn.TryGet(); ok {
		return conn, nil
	}
	conn, err := c.client.Connect(ctx)
	if err != nil {
		return nil, wrapTransportFailure(err)
	}
	c.conn.Set(conn)
	c.state.Store(int32(Connected))
	return conn, nil
}

// startHeartbeat schedules the periodic liveness ping. A heartbeat send
// failure closes the channel (spec §4.5).
func (c *Channel) startHeartbeat(ctx context.Context) error {
	_, err := c.scheduler.NewJob(
		gocron.DurationJob(c.cfg.HeartbeatInterval),
		gocron.NewTask(func() {
			conn, err := c.connection(ctx)
			if err != nil {
				c.logger.Warn("heartbeat: connect failed", "error", err)
				return
			}
			if err := conn.SendHeartbeat(ctx); err != nil {
				c.logger.Warn("heartbeat: send failed", "error", err)
				c.fail(wrapTransportFailure(err))
			}
		}),
		gocron.WithName("replication-heartbeat"),
	)
	if err != nil {
		return fmt.Errorf("schedule heartbeat job: %w", err)
	}
	c.scheduler.Start()
	return nil
}

// Close transitions the channel to Closed explicitly; Lifecycle receives
// nil. Idempotent.
func (c *Channel) Close() {
	c.closeExplicit()
}

func (c *Channel) closeExplicit() {
	if !c.state.CompareAndSwap(int32(Idle), int32(Closed)) &&
		!c.state.CompareAndSwap(int32(Connected), int32(Closed)) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if conn, ok := c.conn.TryGet(); ok {
		_ = conn.Close()
	}
	c.lifecycleErr <- nil
	close(c.lifecycleErr)
}

// fail transitions the channel to Closed due to err and propagates it
// through the lifecycle channel. Idempotent; only the first failure wins.
func (c *Channel) fail(err error) {
	if !c.state.CompareAndSwap(int32(Idle), int32(Closed)) &&
		!c.state.CompareAndSwap(int32(Connected), int32(Closed)) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if conn, ok := c.conn.TryGet(); ok {
		_ = conn.Close()
	}
	c.lifecycleErr <- err
	close(c.lifecycleErr)
}

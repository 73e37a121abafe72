package grpctransport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"fleetregistry/internal/replication"
)

const serviceMethod = "/fleetregistry.replication.v1.ReplicationService/"

// envelope is the single wire frame sent for every replication.TransportConnection.Send
// call; exactly one of its payload fields is set, tagged by Kind.
type envelope struct {
	Kind       string                       `json:"kind"`
	Register   *replication.RegisterCopy    `json:"register,omitempty"`
	Update     *replication.UpdateCopy      `json:"update,omitempty"`
	Unregister *replication.UnregisterCopy  `json:"unregister,omitempty"`
}

type ackResponse struct{}

func toEnvelope(message any) (*envelope, error) {
	switch m := message.(type) {
	case replication.RegisterCopy:
		return &envelope{Kind: "register", Register: &m}, nil
	case replication.UpdateCopy:
		return &envelope{Kind: "update", Update: &m}, nil
	case replication.UnregisterCopy:
		return &envelope{Kind: "unregister", Unregister: &m}, nil
	default:
		return nil, fmt.Errorf("grpctransport: unsupported wire message %T", message)
	}
}

// Client is the default replication.TransportClient, grounded on the
// teacher's PeerConns/Broadcaster idiom (internal/cluster). Each Connect
// creates a new *grpc.ClientConn; Client itself caches nothing. The
// returned Connection reuses its ClientConn for every call rather than
// redialing per RPC.
type Client struct {
	target string
	creds  credentials.TransportCredentials
}

// NewClient creates a Client dialing target on first Connect. If creds is
// nil, connections are established without transport security (matching
// the teacher's fallback to insecure.NewCredentials() when no cluster TLS
// is configured).
func NewClient(target string, creds credentials.TransportCredentials) *Client {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	return &Client{target: target, creds: creds}
}

// Connect dials the configured target and returns a ready Connection. A
// Client dials at most once per replication.Channel lifetime; the channel
// memoizes the result.
func (c *Client) Connect(ctx context.Context) (replication.TransportConnection, error) {
	conn, err := grpc.NewClient(c.target,
		grpc.WithTransportCredentials(c.creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dial %s: %w", c.target, err)
	}
	return &Connection{conn: conn}, nil
}

// Connection is the default replication.TransportConnection: one
// *grpc.ClientConn, invoked generically per spec §6's message kinds rather
// than through protobuf-generated service clients (see package doc).
type Connection struct {
	conn *grpc.ClientConn
}

// Send frames message into an envelope and invokes the replication
// service's Send RPC.
func (c *Connection) Send(ctx context.Context, message any) error {
	env, err := toEnvelope(message)
	if err != nil {
		return err
	}
	var ack ackResponse
	if err := c.conn.Invoke(ctx, serviceMethod+"Send", env, &ack); err != nil {
		return fmt.Errorf("grpctransport: send %s: %w", env.Kind, err)
	}
	return nil
}

// SendHeartbeat invokes the replication service's Heartbeat RPC.
func (c *Connection) SendHeartbeat(ctx context.Context) error {
	var ack ackResponse
	if err := c.conn.Invoke(ctx, serviceMethod+"Heartbeat", &replication.Heartbeat{}, &ack); err != nil {
		return fmt.Errorf("grpctransport: heartbeat: %w", err)
	}
	return nil
}

// Close tears down the underlying connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Package grpctransport provides the default TransportClient/
// TransportConnection implementation for the replication channel, built on
// google.golang.org/grpc.
//
// The teacher's cluster RPCs (internal/cluster) are served by
// protobuf-generated message types (gastrologv1), which this retrieval pack
// does not carry. Rather than hand-rolling a non-gRPC wire protocol, this
// package keeps grpc's dialing, connection lifecycle, and status-code
// semantics load-bearing by registering a small JSON codec and forcing it
// with grpc.ForceCodec, so the wire messages stay plain Go structs
// (replication.RegisterCopy and friends) without a .proto/codegen step.
package grpctransport

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "fleetregistry-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec by marshaling
// request/response values as JSON instead of protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpctransport: unmarshal %T: %w", v, err)
	}
	return nil
}

package requester

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// rawCodec name registered with grpc's encoding package so Invoke can
// ship an already-serialized []byte payload without a compiled .proto
// message type -- the Connection Requester service itself is out of
// scope (spec.md §1), so this package only needs to get bytes to the
// peer's RPC method, not decode a typed response.
const rawCodecName = "nsi-raw"

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	if b, ok := v.(*[]byte); ok {
		return *b, nil
	}
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return nil, fmt.Errorf("nsi-raw codec: unsupported type %T", v)
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	if b, ok := v.(*[]byte); ok {
		*b = append((*b)[:0], data...)
		return nil
	}
	return fmt.Errorf("nsi-raw codec: unsupported type %T", v)
}

func (rawCodec) Name() string { return rawCodecName }

func init() { encoding.RegisterCodec(rawCodec{}) }

// GRPCSender is the production Sender: it dials (and caches) a
// grpc.ClientConn per distinct ReplyTo target and invokes the requested
// method with the raw codec above.
type GRPCSender struct {
	mu       sync.Mutex
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
}

// NewGRPCSender constructs a GRPCSender. Callers needing TLS or other
// transport credentials should pass the corresponding grpc.DialOption.
func NewGRPCSender(extraOpts ...grpc.DialOption) *GRPCSender {
	var opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)),
	}, extraOpts...)
	return &GRPCSender{conns: make(map[string]*grpc.ClientConn), dialOpts: opts}
}

func (s *GRPCSender) connFor(target string) (*grpc.ClientConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cc, ok := s.conns[target]; ok {
		return cc, nil
	}
	var cc, err = grpc.Dial(target, s.dialOpts...)
	if err != nil {
		return nil, err
	}
	s.conns[target] = cc
	return cc, nil
}

// Send implements Sender by invoking the NSI-CS 2.1 Connection Requester
// RPC named method at replyTo with payload as the raw request body.
func (s *GRPCSender) Send(ctx context.Context, replyTo, method string, payload []byte) error {
	var cc, err = s.connFor(replyTo)
	if err != nil {
		return err
	}
	var resp []byte
	return cc.Invoke(ctx, "/nsi.cs.v2.ConnectionRequester/"+method, payload, &resp)
}

// Close tears down every cached connection.
func (s *GRPCSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cc := range s.conns {
		_ = cc.Close()
	}
}

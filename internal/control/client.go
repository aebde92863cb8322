package control

import (
	"context"
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the control socket at path. The connection is lazy; an
// absent server surfaces as ErrUnavailable on the first call.
func Dial(path string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+path,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial control socket: %w", err)
	}
	return &Client{conn: conn}, nil
}

func NewWithDialer(dialer func(ctx context.Context, addr string) (net.Conn, error)) (*Client, error) {
	conn, err := grpc.NewClient(
		"passthrough:///keepalive",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial with custom dialer: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, out any) error {
	return fromGRPCError(c.conn.Invoke(ctx, method, &emptypb.Empty{}, out))
}

// Check asks the running process to reassert liveness. A non-empty reason
// is logged by the server with the check.
func (c *Client) Check(ctx context.Context, reason string) error {
	if reason != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, reasonKey, reason)
	}
	return c.call(ctx, methodCheck, &emptypb.Empty{})
}

func (c *Client) Start(ctx context.Context) error {
	return c.call(ctx, methodStart, &emptypb.Empty{})
}

func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, methodStop, &emptypb.Empty{})
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out structpb.Struct
	if err := c.call(ctx, methodStatus, &out); err != nil {
		return Status{}, err
	}
	return decodeStatus(&out), nil
}

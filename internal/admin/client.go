package admin

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a running daemon over its admin socket.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials the daemon's Unix domain socket.
func NewClient(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Healthy reports whether the admin service answers SERVING.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Status returns the daemon's status fields.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Online returns the IDs of connected users.
func (c *Client) Online(ctx context.Context) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodListOnline, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var ids []string
	for _, v := range out.GetFields()["users"].GetListValue().GetValues() {
		ids = append(ids, v.GetStringValue())
	}
	return ids, nil
}

// CreateUser registers a user and returns its fields.
func (c *Client) CreateUser(ctx context.Context, name, username string) (map[string]any, error) {
	in, err := structpb.NewStruct(map[string]any{"name": name, "username": username})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodCreateUser, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// IssueToken mints a bearer token for userID.
func (c *Client) IssueToken(ctx context.Context, userID string) (string, error) {
	in, err := structpb.NewStruct(map[string]any{"user_id": userID})
	if err != nil {
		return "", err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodIssueToken, in, out); err != nil {
		return "", err
	}
	return out.GetFields()["token"].GetStringValue(), nil
}

// WatchEvents calls fn for every daemon event whose kind starts with prefix
// until ctx is cancelled or the stream ends.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(map[string]any)) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], methodWatchEvents)
	if err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(out.AsMap())
	}
}

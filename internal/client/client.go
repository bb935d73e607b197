// Package client talks to a running chatmaild over its Unix socket.
package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatmail/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes a unary method such as ("chatmail.v1.ChatService", "ListChats").
func (c *Client) Call(ctx context.Context, service, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Events is an open event subscription.
type Events struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event envelope.
func (e *Events) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := e.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe streams events whose kind starts with prefix. An empty prefix
// matches every event. Cancel ctx to end the stream.
func (c *Client) Subscribe(ctx context.Context, prefix string) (*Events, error) {
	desc := &api.EventServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, "/"+api.EventServiceName+"/"+desc.StreamName)
	if err != nil {
		return nil, err
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Events{stream: stream}, nil
}

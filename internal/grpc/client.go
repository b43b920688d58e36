package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client talks to a remote ViolationService
type Client struct {
	address string
	conn    *grpc.ClientConn
}

func NewClient(address string) *Client {
	return &Client{address: address}
}

func (c *Client) Connect(opts ...grpc.DialOption) error {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(c.address, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	c.conn = conn
	log.Printf("[gRPC] Connected to SiteGuard: %s", c.address)
	return nil
}

func (c *Client) Resolve(ctx context.Context, violationID string) (models.ResolveOutcome, error) {
	if c.conn == nil {
		return "", fmt.Errorf("client not connected")
	}

	out := new(ResolveResponse)
	if err := c.conn.Invoke(ctx, resolveMethod, &ResolveRequest{ViolationID: violationID}, out); err != nil {
		return "", err
	}
	return out.Outcome, nil
}

// BulkRead lists violations remotely; it satisfies reconcile.SnapshotSource
func (c *Client) BulkRead(ctx context.Context, filter store.Filter) ([]*models.Violation, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("client not connected")
	}

	out := new(ListResponse)
	if err := c.conn.Invoke(ctx, listMethod, listRequestFrom(filter), out); err != nil {
		return nil, err
	}
	if out.Violations == nil {
		out.Violations = []*models.Violation{}
	}
	return out.Violations, nil
}

// AlertStream is the receive side of StreamAlerts
type AlertStream struct {
	stream grpc.ClientStream
	err    error
}

func (c *Client) StreamAlerts(ctx context.Context, req *StreamRequest) (*AlertStream, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("client not connected")
	}

	desc := &serviceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, streamAlertsMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert stream: %w", err)
	}
	// io.EOF means the server already ended the stream; Recv reports its status
	if err := stream.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to send stream request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send side: %w", err)
	}
	return &AlertStream{stream: stream}, nil
}

func (s *AlertStream) Recv() (models.LifecycleEvent, error) {
	var ev models.LifecycleEvent
	err := s.stream.RecvMsg(&ev)
	return ev, err
}

// Events yields until the stream ends; Err reports why unless it ended cleanly
func (s *AlertStream) Events() iter.Seq[models.LifecycleEvent] {
	return func(yield func(models.LifecycleEvent) bool) {
		for {
			ev, err := s.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.err = err
				}
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func (s *AlertStream) Err() error {
	return s.err
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

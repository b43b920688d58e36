package grpc

import (
	"context"
	"errors"
	"log"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/alertbus"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Resolver applies an operator resolve; implemented by monitor.Monitor
type Resolver interface {
	Resolve(ctx context.Context, violationID string) (models.ResolveOutcome, error)
}

type Server struct {
	resolver Resolver
	store    store.Store
	bus      *alertbus.Bus
}

func NewServer(resolver Resolver, s store.Store, bus *alertbus.Bus) *Server {
	return &Server{resolver: resolver, store: s, bus: bus}
}

func (s *Server) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	if req.ViolationID == "" {
		return nil, status.Error(codes.InvalidArgument, "violation_id is required")
	}

	outcome, err := s.resolver.Resolve(ctx, req.ViolationID)
	if err != nil {
		log.Printf("[gRPC] Resolve %s failed: %v", req.ViolationID, err)
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	log.Printf("[gRPC] Resolve %s: %s", req.ViolationID, outcome)
	return &ResolveResponse{ViolationID: req.ViolationID, Outcome: outcome}, nil
}

func (s *Server) ListViolations(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	if req.HazardKind != "" && !req.HazardKind.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown hazard_kind %q", req.HazardKind)
	}
	if req.Limit < 0 || req.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit and offset must not be negative")
	}

	violations, err := s.store.BulkRead(ctx, req.Filter())
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &ListResponse{Violations: violations}, nil
}

// StreamAlerts relays an alert bus subscription. The stream starts with the latest
// event of every open violation and ends when the client goes away.
func (s *Server) StreamAlerts(req *StreamRequest, stream AlertStreamServer) error {
	id := req.SubscriberID
	if id == "" {
		id = "grpc-" + uuid.NewString()
	}

	sub, err := s.bus.Subscribe(id)
	switch {
	case errors.Is(err, alertbus.ErrSubscriberExists):
		return status.Errorf(codes.AlreadyExists, "subscriber %s already connected", id)
	case errors.Is(err, alertbus.ErrBusClosed):
		return status.Error(codes.Unavailable, "alert bus closed")
	case err != nil:
		return status.Error(codes.Internal, err.Error())
	}
	defer sub.Close()

	log.Printf("[gRPC] Alert stream opened for %s", id)

	ctx := stream.Context()
	for ev := range sub.Events(ctx) {
		if req.CameraID != "" && ev.CameraID() != req.CameraID {
			continue
		}
		if err := stream.Send(&ev); err != nil {
			log.Printf("[gRPC] Alert stream for %s ended: %v", id, err)
			return err
		}
	}

	stats := sub.Stats()
	log.Printf("[gRPC] Alert stream closed for %s (delivered %d, dropped %d)", id, stats.Delivered, stats.Dropped)
	if ctx.Err() != nil {
		return status.FromContextError(ctx.Err()).Err()
	}
	return nil
}

var _ ViolationService = (*Server)(nil)

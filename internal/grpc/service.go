package grpc

import (
	"context"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"google.golang.org/grpc"
)

const ServiceName = "siteguard.ViolationService"

const (
	resolveMethod      = "/" + ServiceName + "/Resolve"
	listMethod         = "/" + ServiceName + "/ListViolations"
	streamAlertsMethod = "/" + ServiceName + "/StreamAlerts"
)

type ResolveRequest struct {
	ViolationID string `json:"violation_id"`
}

type ResolveResponse struct {
	ViolationID string                `json:"violation_id"`
	Outcome     models.ResolveOutcome `json:"outcome"`
}

type ListRequest struct {
	CameraID   string                 `json:"camera_id,omitempty"`
	HazardKind models.HazardKind      `json:"hazard_kind,omitempty"`
	Status     models.ViolationStatus `json:"status,omitempty"`
	OpenedFrom time.Time              `json:"opened_from,omitzero"`
	OpenedTo   time.Time              `json:"opened_to,omitzero"`
	Limit      int                    `json:"limit,omitempty"`
	Offset     int                    `json:"offset,omitempty"`
}

func (r *ListRequest) Filter() store.Filter {
	return store.Filter{
		CameraID:   r.CameraID,
		Kind:       r.HazardKind,
		Status:     r.Status,
		OpenedFrom: r.OpenedFrom,
		OpenedTo:   r.OpenedTo,
		Limit:      r.Limit,
		Offset:     r.Offset,
	}
}

func listRequestFrom(f store.Filter) *ListRequest {
	return &ListRequest{
		CameraID:   f.CameraID,
		HazardKind: f.Kind,
		Status:     f.Status,
		OpenedFrom: f.OpenedFrom,
		OpenedTo:   f.OpenedTo,
		Limit:      f.Limit,
		Offset:     f.Offset,
	}
}

type ListResponse struct {
	Violations []*models.Violation `json:"violations"`
}

// StreamRequest opens a live alert stream. An empty SubscriberID gets a generated one.
type StreamRequest struct {
	SubscriberID string `json:"subscriber_id,omitempty"`
	CameraID     string `json:"camera_id,omitempty"`
}

// ViolationService is the server side of siteguard.ViolationService
type ViolationService interface {
	Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error)
	ListViolations(ctx context.Context, req *ListRequest) (*ListResponse, error)
	StreamAlerts(req *StreamRequest, stream AlertStreamServer) error
}

// AlertStreamServer is the send side of StreamAlerts
type AlertStreamServer interface {
	Send(ev *models.LifecycleEvent) error
	Context() context.Context
}

type alertStreamServer struct {
	grpc.ServerStream
}

func (s *alertStreamServer) Send(ev *models.LifecycleEvent) error {
	return s.ServerStream.SendMsg(ev)
}

// RegisterViolationService attaches srv to a grpc.Server
func RegisterViolationService(s grpc.ServiceRegistrar, srv ViolationService) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ViolationService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: resolveHandler},
		{MethodName: "ListViolations", Handler: listHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamAlerts", Handler: streamAlertsHandler, ServerStreams: true},
	},
	Metadata: "siteguard/violation_service",
}

func resolveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResolveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ViolationService).Resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resolveMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ViolationService).Resolve(ctx, req.(*ResolveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ViolationService).ListViolations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ViolationService).ListViolations(ctx, req.(*ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamAlertsHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ViolationService).StreamAlerts(in, &alertStreamServer{stream})
}

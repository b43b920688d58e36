package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/alertbus"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type storeResolver struct {
	store store.Store
}

func (r storeResolver) Resolve(ctx context.Context, id string) (models.ResolveOutcome, error) {
	return r.store.Resolve(ctx, id, base.Add(time.Hour), models.ResolvedByOperator)
}

type harness struct {
	store  *memory.Store
	bus    *alertbus.Bus
	client *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s := memory.New()
	bus := alertbus.New(16)
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer()
	RegisterViolationService(srv, NewServer(storeResolver{s}, s, bus))
	go func() { _ = srv.Serve(lis) }()

	client := NewClient("passthrough:///bufnet")
	require.NoError(t, client.Connect(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})))

	t.Cleanup(func() {
		_ = client.Close()
		bus.Close()
		srv.Stop()
	})
	return &harness{store: s, bus: bus, client: client}
}

func violation(id, camera string, opened time.Time) *models.Violation {
	subject := models.SubjectKey{CameraID: camera, WorkerID: "w-" + id}
	return &models.Violation{
		ID:         id,
		CameraID:   camera,
		Kind:       models.HazardGearMissing,
		Subject:    subject,
		SubjectKey: subject.String(),
		Status:     models.StatusOngoing,
		OpenedAt:   opened,
		LastSeenAt: opened,
		Attributes: models.Attributes{MissingGear: []string{"helmet"}},
		Version:    1,
		UpdatedAt:  opened,
	}
}

func event(kind models.EventKind, seq uint64, v *models.Violation) models.LifecycleEvent {
	return models.LifecycleEvent{Kind: kind, Sequence: seq, EmittedAt: v.LastSeenAt, Violation: *v}
}

func TestClient_ResolveOutcomes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Put(ctx, violation("v1", "cam-1", base)))

	outcome, err := h.client.Resolve(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.ResolveApplied, outcome)

	outcome, err = h.client.Resolve(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.ResolveAlreadyResolved, outcome)

	outcome, err = h.client.Resolve(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, models.ResolveNotFound, outcome)

	_, err = h.client.Resolve(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestClient_BulkRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Put(ctx, violation("a", "cam-1", base)))
	require.NoError(t, h.store.Put(ctx, violation("b", "cam-2", base.Add(time.Minute))))
	require.NoError(t, h.store.Put(ctx, violation("c", "cam-1", base.Add(2*time.Minute))))

	all, err := h.client.BulkRead(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, []string{"helmet"}, all[0].Attributes.MissingGear)
	assert.True(t, base.Add(2*time.Minute).Equal(all[0].OpenedAt))

	cam1, err := h.client.BulkRead(ctx, store.Filter{CameraID: "cam-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, cam1, 1)
	assert.Equal(t, "c", cam1[0].ID)

	window, err := h.client.BulkRead(ctx, store.Filter{OpenedTo: base.Add(30 * time.Second)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "a", window[0].ID)

	empty, err := h.client.BulkRead(ctx, store.Filter{CameraID: "cam-9"})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = h.client.BulkRead(ctx, store.Filter{Kind: "falling"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestClient_StreamAlertsReplaysAndFilters(t *testing.T) {
	h := newHarness(t)

	open := violation("v1", "cam-1", base)
	h.bus.Publish(event(models.EventOpened, 1, open))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.StreamAlerts(ctx, &StreamRequest{SubscriberID: "watch-1", CameraID: "cam-1"})
	require.NoError(t, err)

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, models.EventOpened, ev.Kind)
	assert.Equal(t, "v1", ev.Violation.ID)

	// wait for the server side subscription before publishing live events
	require.Eventually(t, func() bool { return h.bus.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	other := violation("v2", "cam-2", base)
	h.bus.Publish(event(models.EventOpened, 1, other))

	resolved := open.Clone()
	resolved.Status = models.StatusResolved
	resolved.Version = 2
	h.bus.Publish(event(models.EventResolved, 2, resolved))

	ev, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, models.EventResolved, ev.Kind, "cam-2 events are filtered out")
	assert.Equal(t, "v1", ev.Violation.ID)
	assert.Equal(t, int64(2), ev.Violation.Version)
}

func TestClient_StreamAlertsDuplicateSubscriber(t *testing.T) {
	h := newHarness(t)
	_, err := h.bus.Subscribe("taken")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.StreamAlerts(ctx, &StreamRequest{SubscriberID: "taken"})
	require.NoError(t, err)

	_, err = stream.Recv()
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient("localhost:0")

	_, err := c.Resolve(context.Background(), "v1")
	assert.Error(t, err)
	_, err = c.BulkRead(context.Background(), store.Filter{})
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}

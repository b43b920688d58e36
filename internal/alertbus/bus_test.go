package alertbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(kind models.EventKind, camera, worker, id string, seq uint64) models.LifecycleEvent {
	status := models.StatusOngoing
	if kind == models.EventResolved {
		status = models.StatusResolved
	}
	return models.LifecycleEvent{
		Kind:     kind,
		Sequence: seq,
		Violation: models.Violation{
			ID:       id,
			CameraID: camera,
			Kind:     models.HazardGearMissing,
			Subject:  models.SubjectKey{CameraID: camera, WorkerID: worker},
			Status:   status,
		},
	}
}

func drain(t *testing.T, sub *Subscription) []models.LifecycleEvent {
	t.Helper()
	var out []models.LifecycleEvent
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		ev, err := sub.Next(ctx)
		cancel()
		if err != nil {
			return out
		}
		out = append(out, ev)
	}
}

func TestBus_PublishSubscribe_PerKeyOrder(t *testing.T) {
	bus := New(16)
	sub, err := bus.Subscribe("viewer")
	require.NoError(t, err)

	bus.Publish(event(models.EventOpened, "cam-1", "w1", "v1", 1))
	bus.Publish(event(models.EventUpdated, "cam-1", "w1", "v1", 2))
	bus.Publish(event(models.EventResolved, "cam-1", "w1", "v1", 3))

	got := drain(t, sub)

	require.Len(t, got, 3)
	assert.Equal(t, models.EventOpened, got[0].Kind)
	assert.Equal(t, models.EventUpdated, got[1].Kind)
	assert.Equal(t, models.EventResolved, got[2].Kind)
}

func TestBus_DuplicateSubscriber(t *testing.T) {
	bus := New(4)
	_, err := bus.Subscribe("a")
	require.NoError(t, err)

	_, err = bus.Subscribe("a")
	assert.ErrorIs(t, err, ErrSubscriberExists)
}

func TestBus_SlowSubscriberDropsUpdatesFirst(t *testing.T) {
	bus := New(3)
	sub, err := bus.Subscribe("slow")
	require.NoError(t, err)

	bus.Publish(event(models.EventOpened, "cam-1", "w1", "v1", 1))
	bus.Publish(event(models.EventUpdated, "cam-1", "w1", "v1", 2))
	bus.Publish(event(models.EventUpdated, "cam-1", "w1", "v1", 3))
	bus.Publish(event(models.EventOpened, "cam-1", "w2", "v2", 4))
	bus.Publish(event(models.EventUpdated, "cam-1", "w1", "v1", 5))

	stats := sub.Stats()
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, 3, stats.Buffered)

	got := drain(t, sub)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].Sequence, "opened event survives overflow")
	assert.Equal(t, uint64(4), got[1].Sequence)
	assert.Equal(t, uint64(5), got[2].Sequence)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := New(2)
	_, err := bus.Subscribe("never-reads")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.Publish(event(models.EventUpdated, "cam-1", "w1", "v1", uint64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	stats, err := bus.Stats("never-reads")
	require.NoError(t, err)
	assert.Equal(t, uint64(9998), stats.Dropped)
}

func TestBus_LateSubscriberGetsOpenKeys(t *testing.T) {
	bus := New(8)

	bus.Publish(event(models.EventOpened, "cam-1", "w1", "v1", 1))
	bus.Publish(event(models.EventUpdated, "cam-1", "w1", "v1", 2))
	bus.Publish(event(models.EventOpened, "cam-2", "w9", "v2", 1))
	bus.Publish(event(models.EventResolved, "cam-2", "w9", "v2", 2))

	sub, err := bus.Subscribe("late")
	require.NoError(t, err)

	got := drain(t, sub)

	require.Len(t, got, 1, "resolved keys are not replayed")
	assert.Equal(t, "v1", got[0].Violation.ID)
	assert.Equal(t, uint64(2), got[0].Sequence, "latest event per key is replayed")
	assert.Len(t, bus.Open(), 1)
}

func TestBus_ReplayIsNeverDroppedByBufferSize(t *testing.T) {
	bus := New(1)
	bus.Publish(event(models.EventOpened, "cam-1", "w1", "v1", 1))
	bus.Publish(event(models.EventOpened, "cam-1", "w2", "v2", 2))
	bus.Publish(event(models.EventOpened, "cam-1", "w3", "v3", 3))

	sub, err := bus.Subscribe("late")
	require.NoError(t, err)

	assert.Len(t, drain(t, sub), 3)
	assert.Equal(t, uint64(0), sub.Stats().Dropped)
}

func TestSubscription_Events(t *testing.T) {
	bus := New(8)
	sub, err := bus.Subscribe("iter")
	require.NoError(t, err)

	bus.Publish(event(models.EventOpened, "cam-1", "w1", "v1", 1))
	bus.Publish(event(models.EventUpdated, "cam-1", "w1", "v1", 2))

	var ids []uint64
	for ev := range sub.Events(context.Background()) {
		ids = append(ids, ev.Sequence)
		if len(ids) == 2 {
			break
		}
	}

	assert.Equal(t, []uint64{1, 2}, ids)
}

func TestSubscription_CloseEndsNext(t *testing.T) {
	bus := New(8)
	sub, err := bus.Subscribe("closing")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var nextErr error
	go func() {
		defer wg.Done()
		_, nextErr = sub.Next(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Close()
	wg.Wait()

	assert.ErrorIs(t, nextErr, ErrSubscriptionClosed)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, err = bus.Stats("closing")
	assert.ErrorIs(t, err, ErrSubscriberNotFound)
}

func TestBus_Close(t *testing.T) {
	bus := New(8)
	sub, err := bus.Subscribe("a")
	require.NoError(t, err)

	bus.Publish(event(models.EventOpened, "cam-1", "w1", "v1", 1))
	bus.Close()
	bus.Publish(event(models.EventUpdated, "cam-1", "w1", "v1", 2))

	ev, err := sub.Next(context.Background())
	require.NoError(t, err, "buffered events survive close")
	assert.Equal(t, uint64(1), ev.Sequence)

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	_, err = bus.Subscribe("b")
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.Equal(t, uint64(1), bus.TotalPublished())
}

func TestBus_ConcurrentPublishersKeepPerCameraOrder(t *testing.T) {
	bus := New(10000)
	sub, err := bus.Subscribe("viewer")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, camera := range []string{"cam-1", "cam-2", "cam-3"} {
		wg.Add(1)
		go func(camera string) {
			defer wg.Done()
			for i := uint64(1); i <= 500; i++ {
				bus.Publish(event(models.EventUpdated, camera, "w1", camera+"-v", i))
			}
		}(camera)
	}
	wg.Wait()

	last := map[string]uint64{}
	for _, ev := range drain(t, sub) {
		assert.Greater(t, ev.Sequence, last[ev.CameraID()])
		last[ev.CameraID()] = ev.Sequence
	}
	assert.Len(t, last, 3)
}

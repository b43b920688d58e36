package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	dbpkg "github.com/EricMurray-e-m-dev/SiteGuard/internal/db"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(context.Background(), dbpkg.Config{
		Path: filepath.Join(t.TempDir(), "siteguard.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func violation(id, camera string, kind models.HazardKind, openedOffset time.Duration, version int64) *models.Violation {
	opened := base.Add(openedOffset)
	subject := models.SubjectKey{CameraID: camera, WorkerID: "w-" + id}
	attrs := models.Attributes{MissingGear: []string{"vest"}}
	if kind == models.HazardTooClose {
		subject.MachineID = "m-1"
		attrs = models.Attributes{MachineID: "m-1", Distance: 42.5}
	}
	return &models.Violation{
		ID:         id,
		CameraID:   camera,
		Kind:       kind,
		Subject:    subject,
		SubjectKey: subject.String(),
		Status:     models.StatusOngoing,
		OpenedAt:   opened,
		LastSeenAt: opened.Add(2 * time.Second),
		Attributes: attrs,
		Screenshot: "violations/" + string(kind) + "/" + id + ".jpg",
		Version:    version,
		UpdatedAt:  opened.Add(2 * time.Second),
	}
}

func TestStore_PutAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	in := violation("v1", "cam-1", models.HazardTooClose, 0, 1)
	require.NoError(t, s.Put(ctx, in))

	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, in.Subject, got.Subject)
	assert.Equal(t, in.OpenedAt, got.OpenedAt)
	assert.Equal(t, in.LastSeenAt, got.LastSeenAt)
	assert.Equal(t, "m-1", got.Attributes.MachineID)
	assert.InDelta(t, 42.5, got.Attributes.Distance, 0.001)
	assert.Nil(t, got.ResolvedAt)
	assert.Equal(t, in.Screenshot, got.Screenshot)
}

func TestStore_VersionGate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	newer := violation("v1", "cam-1", models.HazardGearMissing, 0, 3)
	newer.LastSeenAt = base.Add(9 * time.Second)
	require.NoError(t, s.Put(ctx, newer))

	older := violation("v1", "cam-1", models.HazardGearMissing, 0, 2)
	require.NoError(t, s.Put(ctx, older))

	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, base.Add(9*time.Second), got.LastSeenAt)
}

func TestStore_ResolveAndTerminal(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Put(ctx, violation("v1", "cam-1", models.HazardGearMissing, 0, 1)))

	at := base.Add(20 * time.Second)
	outcome, err := s.Resolve(ctx, "v1", at, models.ResolvedByOperator)
	require.NoError(t, err)
	assert.Equal(t, models.ResolveApplied, outcome)

	outcome, err = s.Resolve(ctx, "v1", at, models.ResolvedByOperator)
	require.NoError(t, err)
	assert.Equal(t, models.ResolveAlreadyResolved, outcome)

	outcome, err = s.Resolve(ctx, "ghost", at, models.ResolvedByOperator)
	require.NoError(t, err)
	assert.Equal(t, models.ResolveNotFound, outcome)

	require.NoError(t, s.Put(ctx, violation("v1", "cam-1", models.HazardGearMissing, 0, 9)))

	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, at, *got.ResolvedAt)
	assert.Equal(t, models.ResolvedByOperator, got.ResolvedBy)
}

func TestStore_GetNotFound(t *testing.T) {
	_, err := openTestStore(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_BulkRead(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Put(ctx, violation("a", "cam-1", models.HazardGearMissing, 1*time.Minute, 1)))
	require.NoError(t, s.Put(ctx, violation("b", "cam-1", models.HazardTooClose, 2*time.Minute, 1)))
	require.NoError(t, s.Put(ctx, violation("c", "cam-2", models.HazardGearMissing, 3*time.Minute, 1)))
	require.NoError(t, s.Put(ctx, violation("d", "cam-1", models.HazardGearMissing, 4*time.Minute, 1)))
	_, err := s.Resolve(ctx, "a", base.Add(time.Hour), models.ResolvedByTimeout)
	require.NoError(t, err)

	all, err := s.BulkRead(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(all))

	filtered, err := s.BulkRead(ctx, store.Filter{CameraID: "cam-1", Kind: models.HazardGearMissing})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a"}, ids(filtered))

	resolved, err := s.BulkRead(ctx, store.Filter{Status: models.StatusResolved})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(resolved))

	page, err := s.BulkRead(ctx, store.Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(page))

	tail, err := s.BulkRead(ctx, store.Filter{Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(tail))

	window, err := s.BulkRead(ctx, store.Filter{OpenedFrom: base.Add(2 * time.Minute), OpenedTo: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(window))

	stats, err := store.ComputeStatistics(ctx, s, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 3, stats.ByKind[models.HazardGearMissing])
}

func TestStore_WorksBehindWriter(t *testing.T) {
	s := openTestStore(t)
	w := store.NewWriter(s, store.WriterConfig{Shards: 2, Backoff: time.Millisecond})

	for i := int64(1); i <= 5; i++ {
		w.Enqueue(violation("v1", "cam-1", models.HazardGearMissing, 0, i))
	}
	w.Close()

	got, err := s.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Version)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "siteguard.db")

	s, err := sqlite.Open(ctx, dbpkg.Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, violation("v1", "cam-1", models.HazardGearMissing, 0, 1)))
	require.NoError(t, s.Close())

	s, err = sqlite.Open(ctx, dbpkg.Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "cam-1", got.CameraID)
	require.NoError(t, s.Ping(ctx))
}

func ids(list []*models.Violation) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, v.ID)
	}
	return out
}

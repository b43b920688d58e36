package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

var ErrNotFound = errors.New("store: violation not found")

// Filter narrows a bulk read. Zero values mean "any".
type Filter struct {
	CameraID   string
	Kind       models.HazardKind
	Status     models.ViolationStatus
	OpenedFrom time.Time
	OpenedTo   time.Time
	Limit      int
	Offset     int
}

// Matches reports whether v passes every non-zero field of the filter (paging aside)
func (f Filter) Matches(v *models.Violation) bool {
	if f.CameraID != "" && v.CameraID != f.CameraID {
		return false
	}
	if f.Kind != "" && v.Kind != f.Kind {
		return false
	}
	if f.Status != "" && v.Status != f.Status {
		return false
	}
	if !f.OpenedFrom.IsZero() && v.OpenedAt.Before(f.OpenedFrom) {
		return false
	}
	if !f.OpenedTo.IsZero() && v.OpenedAt.After(f.OpenedTo) {
		return false
	}
	return true
}

// Store is the durable record of violations. Put is an upsert by id that ignores
// snapshots older than the stored version; Resolve is idempotent.
type Store interface {
	Put(ctx context.Context, v *models.Violation) error
	Resolve(ctx context.Context, id string, at time.Time, reason models.ResolveReason) (models.ResolveOutcome, error)
	Get(ctx context.Context, id string) (*models.Violation, error)
	BulkRead(ctx context.Context, filter Filter) ([]*models.Violation, error)
	Ping(ctx context.Context) error
	Close() error
}

// MarkResolved applies a resolve to a stored snapshot. It reports false when the
// violation is already resolved.
func MarkResolved(v *models.Violation, at time.Time, reason models.ResolveReason) bool {
	if v.Status == models.StatusResolved {
		return false
	}
	resolvedAt := at
	v.Status = models.StatusResolved
	v.ResolvedAt = &resolvedAt
	v.ResolvedBy = reason
	v.DurationSeconds = v.Duration().Seconds()
	v.Version++
	v.UpdatedAt = at
	return true
}

// SortAndPage orders newest-opened first and applies Limit/Offset
func SortAndPage(list []*models.Violation, filter Filter) []*models.Violation {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].OpenedAt.Equal(list[j].OpenedAt) {
			return list[i].OpenedAt.After(list[j].OpenedAt)
		}
		return list[i].ID < list[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(list) {
			return []*models.Violation{}
		}
		list = list[filter.Offset:]
	}
	if filter.Limit > 0 && len(list) > filter.Limit {
		list = list[:filter.Limit]
	}
	return list
}

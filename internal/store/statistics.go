package store

import (
	"context"
	"fmt"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

// Statistics summarises violations over a filter
type Statistics struct {
	Total    int                       `json:"total_violations"`
	ByKind   map[models.HazardKind]int `json:"by_kind"`
	Ongoing  int                       `json:"ongoing_violations"`
	Resolved int                       `json:"resolved_violations"`
	ByCamera map[string]int            `json:"by_camera"`
}

// ComputeStatistics reads through the store, so every backend supports it.
// Limit and Offset on the filter are ignored.
func ComputeStatistics(ctx context.Context, s Store, filter Filter) (*Statistics, error) {
	filter.Limit = 0
	filter.Offset = 0

	violations, err := s.BulkRead(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read violations for statistics: %w", err)
	}

	stats := &Statistics{
		ByKind: map[models.HazardKind]int{
			models.HazardGearMissing: 0,
			models.HazardTooClose:    0,
		},
		ByCamera: make(map[string]int),
	}

	for _, v := range violations {
		stats.Total++
		stats.ByKind[v.Kind]++
		stats.ByCamera[v.CameraID]++
		if v.Status == models.StatusResolved {
			stats.Resolved++
		} else {
			stats.Ongoing++
		}
	}

	return stats, nil
}

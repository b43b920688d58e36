package reconcile

import (
	"sort"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

// Merge combines a live, event-built list with a store snapshot by violation id.
// Ids present on only one side are kept. On conflict Newer picks the winner.
// The result is sorted newest-opened first and never aliases its inputs.
func Merge(live, snapshot []*models.Violation) []*models.Violation {
	byID := make(map[string]*models.Violation, len(live)+len(snapshot))

	for _, v := range live {
		byID[v.ID] = pick(byID[v.ID], v)
	}
	for _, v := range snapshot {
		byID[v.ID] = pick(byID[v.ID], v)
	}

	out := make([]*models.Violation, 0, len(byID))
	for _, v := range byID {
		out = append(out, v.Clone())
	}
	Sort(out)
	return out
}

func pick(current, candidate *models.Violation) *models.Violation {
	if current == nil || Newer(candidate, current) {
		return candidate
	}
	return current
}

// Newer reports whether a should replace b. Resolved is terminal, then the later
// watermark wins, then the higher version. Equal entries keep b.
func Newer(a, b *models.Violation) bool {
	if a.IsResolved() != b.IsResolved() {
		return a.IsResolved()
	}
	if wa, wb := a.Watermark(), b.Watermark(); !wa.Equal(wb) {
		return wa.After(wb)
	}
	return a.Version > b.Version
}

// Sort orders newest-opened first, ties by id
func Sort(list []*models.Violation) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].OpenedAt.Equal(list[j].OpenedAt) {
			return list[i].OpenedAt.After(list[j].OpenedAt)
		}
		return list[i].ID < list[j].ID
	})
}

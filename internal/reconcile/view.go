package reconcile

import (
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
)

// View is the presentation list: live bus events folded together with periodic
// store snapshots. Safe for concurrent use.
type View struct {
	mu      sync.Mutex
	entries map[string]*models.Violation
	// id -> time a resolve was applied locally; older snapshot entries are ignored
	localResolves map[string]time.Time
}

func NewView() *View {
	return &View{
		entries:       make(map[string]*models.Violation),
		localResolves: make(map[string]time.Time),
	}
}

// ApplyEvent folds one live lifecycle event into the view
func (v *View) ApplyEvent(ev models.LifecycleEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	incoming := ev.Violation.Clone()
	if v.staleLocked(incoming) {
		return
	}
	v.entries[incoming.ID] = pick(v.entries[incoming.ID], incoming)
}

// ApplyResolve marks an ongoing entry resolved immediately, ahead of the store.
// It reports the outcome the view observed locally.
func (v *View) ApplyResolve(id string, at time.Time) models.ResolveOutcome {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[id]
	if !ok {
		return models.ResolveNotFound
	}

	resolved := entry.Clone()
	if !store.MarkResolved(resolved, at, models.ResolvedByOperator) {
		return models.ResolveAlreadyResolved
	}

	v.entries[id] = resolved
	v.localResolves[id] = at
	return models.ResolveApplied
}

// Reconcile merges a store snapshot into the view and returns the merged list
func (v *View) Reconcile(snapshot []*models.Violation) []*models.Violation {
	v.mu.Lock()
	defer v.mu.Unlock()

	fresh := make([]*models.Violation, 0, len(snapshot))
	for _, s := range snapshot {
		if !v.staleLocked(s) {
			fresh = append(fresh, s)
		}
	}

	merged := Merge(v.listLocked(), fresh)

	v.entries = make(map[string]*models.Violation, len(merged))
	for _, m := range merged {
		v.entries[m.ID] = m
	}
	// once the store reports the resolve, the local guard is no longer needed
	for _, s := range fresh {
		if s.IsResolved() {
			delete(v.localResolves, s.ID)
		}
	}

	return cloneAll(merged)
}

// staleLocked reports whether s predates a resolve applied locally for the same id
func (v *View) staleLocked(s *models.Violation) bool {
	at, ok := v.localResolves[s.ID]
	if !ok {
		return false
	}
	return !s.IsResolved() && s.Watermark().Before(at)
}

// List returns the current view, newest-opened first
func (v *View) List() []*models.Violation {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := cloneAll(v.listLocked())
	Sort(out)
	return out
}

// Get returns one entry
func (v *View) Get(id string) (*models.Violation, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[id]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// Ongoing counts entries not yet resolved
func (v *View) Ongoing() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for _, e := range v.entries {
		if !e.IsResolved() {
			n++
		}
	}
	return n
}

func (v *View) listLocked() []*models.Violation {
	out := make([]*models.Violation, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, e)
	}
	return out
}

func cloneAll(list []*models.Violation) []*models.Violation {
	out := make([]*models.Violation, len(list))
	for i, v := range list {
		out[i] = v.Clone()
	}
	return out
}

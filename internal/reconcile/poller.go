package reconcile

import (
	"context"
	"iter"
	"log"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
)

const DefaultInterval = 3 * time.Second

// SnapshotSource is anything that can bulk read the store: a store backend
// directly, or a remote client.
type SnapshotSource interface {
	BulkRead(ctx context.Context, filter store.Filter) ([]*models.Violation, error)
}

// Poller drives a View: it reconciles against a snapshot on every tick
type Poller struct {
	view     *View
	source   SnapshotSource
	filter   store.Filter
	interval time.Duration
	onMerge  func([]*models.Violation)
}

func NewPoller(view *View, source SnapshotSource, filter store.Filter, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		view:     view,
		source:   source,
		filter:   filter,
		interval: interval,
	}
}

// OnMerge registers a callback invoked with the merged list after each tick
func (p *Poller) OnMerge(fn func([]*models.Violation)) {
	p.onMerge = fn
}

// Tick performs one snapshot read and merge
func (p *Poller) Tick(ctx context.Context) error {
	snapshot, err := p.source.BulkRead(ctx, p.filter)
	if err != nil {
		return err
	}

	merged := p.view.Reconcile(snapshot)
	if p.onMerge != nil {
		p.onMerge(merged)
	}
	return nil
}

// Run reconciles immediately and then on every interval until ctx ends.
// A failed snapshot read keeps the previous view.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Reconcile] Snapshot read failed, keeping live view: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Follow applies live events to the view until the sequence ends
func Follow(view *View, events iter.Seq[models.LifecycleEvent]) {
	for ev := range events {
		view.ApplyEvent(ev)
	}
}

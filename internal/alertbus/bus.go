package alertbus

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

var (
	ErrBusClosed          = errors.New("alertbus: bus is closed")
	ErrSubscriberExists   = errors.New("alertbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("alertbus: subscriber not found")
	ErrSubscriptionClosed = errors.New("alertbus: subscription closed")
)

const DefaultBufferSize = 256

// SubscriberStats tracks delivery for one subscriber
type SubscriberStats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Buffered  int    `json:"buffered"`
}

// Bus fans lifecycle events out to live subscribers. Publish never blocks: each
// subscriber has a bounded buffer that drops its oldest "updated" event first, then
// its oldest event. The latest event of every still-open key is kept on the bus and
// replayed to new subscribers.
type Bus struct {
	mu             sync.Mutex
	bufferSize     int
	subscribers    map[string]*Subscription
	open           map[string]models.LifecycleEvent // track key -> latest event
	totalPublished uint64
	closed         bool
}

// New creates a bus with the given per-subscriber buffer size
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		bufferSize:  bufferSize,
		subscribers: make(map[string]*Subscription),
		open:        make(map[string]models.LifecycleEvent),
	}
}

// Publish distributes an event to all subscribers
func (b *Bus) Publish(ev models.LifecycleEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	atomic.AddUint64(&b.totalPublished, 1)

	key := ev.TrackKey()
	switch ev.Kind {
	case models.EventOpened, models.EventUpdated:
		b.open[key] = ev
	case models.EventResolved:
		delete(b.open, key)
	}

	for _, sub := range b.subscribers {
		sub.push(ev)
	}
}

// Emit lets the bus act as a tracker sink
func (b *Bus) Emit(ev models.LifecycleEvent) {
	b.Publish(ev)
}

// Subscribe registers a subscriber. Its stream starts with the latest event of every
// open key, then continues with live events from the point of subscription.
func (b *Bus) Subscribe(id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	replay := b.openLocked()
	capacity := b.bufferSize
	if len(replay) > capacity {
		capacity = len(replay)
	}

	sub := &Subscription{
		id:       id,
		bus:      b,
		capacity: capacity,
		buf:      make([]models.LifecycleEvent, 0, capacity),
		notify:   make(chan struct{}, 1),
	}
	for _, ev := range replay {
		sub.push(ev)
	}

	b.subscribers[id] = sub
	return sub, nil
}

// Open returns the latest event for every open key, ordered per camera by sequence
func (b *Bus) Open() []models.LifecycleEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.openLocked()
}

func (b *Bus) openLocked() []models.LifecycleEvent {
	events := make([]models.LifecycleEvent, 0, len(b.open))
	for _, ev := range b.open {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].CameraID() != events[j].CameraID() {
			return events[i].CameraID() < events[j].CameraID()
		}
		return events[i].Sequence < events[j].Sequence
	})
	return events
}

func (b *Bus) unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns statistics for a subscriber
func (b *Bus) Stats(id string) (*SubscriberStats, error) {
	b.mu.Lock()
	sub, exists := b.subscribers[id]
	b.mu.Unlock()

	if !exists {
		return nil, ErrSubscriberNotFound
	}
	return sub.Stats(), nil
}

func (b *Bus) TotalPublished() uint64 {
	return atomic.LoadUint64(&b.totalPublished)
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subscribers)
}

// Close shuts down the bus and ends every subscription
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		sub.markClosed()
	}
	b.subscribers = nil
}

// Subscription is one subscriber's bounded event queue
type Subscription struct {
	id  string
	bus *Bus

	mu        sync.Mutex
	buf       []models.LifecycleEvent
	capacity  int
	notify    chan struct{}
	closed    bool
	delivered uint64
	dropped   uint64
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) push(ev models.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if len(s.buf) >= s.capacity {
		s.dropOneLocked()
	}
	s.buf = append(s.buf, ev)

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dropOneLocked discards the oldest "updated" event, or the oldest event if none
func (s *Subscription) dropOneLocked() {
	idx := 0
	for i, ev := range s.buf {
		if ev.Kind == models.EventUpdated {
			idx = i
			break
		}
	}
	s.buf = append(s.buf[:idx], s.buf[idx+1:]...)
	s.dropped++
}

// Next blocks until an event is available, the context ends, or the subscription closes.
// Buffered events are still delivered after close.
func (s *Subscription) Next(ctx context.Context) (models.LifecycleEvent, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			ev := s.buf[0]
			s.buf = s.buf[1:]
			s.delivered++
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return models.LifecycleEvent{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return models.LifecycleEvent{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Events is the subscription as a lazy sequence; it ends when ctx ends or the subscription closes
func (s *Subscription) Events(ctx context.Context) iter.Seq[models.LifecycleEvent] {
	return func(yield func(models.LifecycleEvent) bool) {
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func (s *Subscription) Stats() *SubscriberStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &SubscriberStats{
		Delivered: s.delivered,
		Dropped:   s.dropped,
		Buffered:  len(s.buf),
	}
}

// Close removes the subscription from the bus
func (s *Subscription) Close() {
	_ = s.bus.unsubscribe(s.id)
	s.markClosed()
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

package store

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

const (
	DefaultWriterShards  = 4
	DefaultWriterQueue   = 1024
	DefaultWriteAttempts = 5
	DefaultWriteBackoff  = 200 * time.Millisecond
	DefaultMaxBackoff    = 5 * time.Second
	writeTimeout         = 5 * time.Second
)

// WriterConfig controls the async write path
type WriterConfig struct {
	Shards int
	// QueueSize bounds the distinct ids waiting per shard; resolved snapshots are admitted past it
	QueueSize int
	// MaxAttempts applies to ongoing snapshots, and to resolved ones once Close has begun
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// WriterStats counts write outcomes
type WriterStats struct {
	Written   uint64 `json:"written"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Coalesced uint64 `json:"coalesced"`
	Retries   uint64 `json:"retries"`
	Pending   int    `json:"pending"`
}

// shard holds at most one pending snapshot per id, in first-enqueued order
type shard struct {
	mu      sync.Mutex
	pending map[string]*models.Violation
	order   []string
	notify  chan struct{}
}

func (s *shard) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest pending id. After quit closes it drains what is left, then reports false.
func (s *shard) next(quit <-chan struct{}) (*models.Violation, bool) {
	for {
		s.mu.Lock()
		if len(s.order) > 0 {
			id := s.order[0]
			s.order = s.order[1:]
			v := s.pending[id]
			delete(s.pending, id)
			s.mu.Unlock()
			return v, true
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-quit:
			s.mu.Lock()
			empty := len(s.order) == 0
			s.mu.Unlock()
			if empty {
				return nil, false
			}
		}
	}
}

// Writer persists violation snapshots off the detection path. Each id maps to one
// shard worker, so writes for an id are applied in order and an "opened" write is
// never reordered after its own "resolved" write. While a snapshot waits, a newer
// snapshot of the same id replaces it. A resolved snapshot is never dropped and is
// retried until it lands or the writer closes. Callers never wait on the store.
type Writer struct {
	store  Store
	config WriterConfig

	mu     sync.RWMutex
	shards []*shard
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup

	written   uint64
	failed    uint64
	dropped   uint64
	coalesced uint64
	retries   uint64
}

// NewWriter starts the shard workers
func NewWriter(s Store, cfg WriterConfig) *Writer {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultWriterShards
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultWriterQueue
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultWriteAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultWriteBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = DefaultMaxBackoff
	}

	w := &Writer{
		store:  s,
		config: cfg,
		shards: make([]*shard, cfg.Shards),
		quit:   make(chan struct{}),
	}

	for i := range w.shards {
		w.shards[i] = &shard{
			pending: make(map[string]*models.Violation),
			notify:  make(chan struct{}, 1),
		}
		w.wg.Add(1)
		go w.loop(w.shards[i])
	}

	return w
}

// Emit lets the writer act as a tracker sink
func (w *Writer) Emit(ev models.LifecycleEvent) {
	w.Enqueue(&ev.Violation)
}

// Enqueue schedules a snapshot write without blocking. A pending snapshot of the
// same id is replaced. A new ongoing id is refused when its shard is full; the
// violation's resolved snapshot still gets through later, so the final record lands.
func (w *Writer) Enqueue(v *models.Violation) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		atomic.AddUint64(&w.dropped, 1)
		return false
	}

	snapshot := v.Clone()
	s := w.shards[w.shardFor(v.ID)]

	s.mu.Lock()
	if current, ok := s.pending[v.ID]; ok {
		if supersedes(snapshot, current) {
			s.pending[v.ID] = snapshot
		}
		s.mu.Unlock()
		atomic.AddUint64(&w.coalesced, 1)
		return true
	}

	if len(s.order) >= w.config.QueueSize && !snapshot.IsResolved() {
		s.mu.Unlock()
		atomic.AddUint64(&w.dropped, 1)
		log.Printf("[Writer] Warning: queue full, dropped write for %s (version %d)", v.ID, v.Version)
		return false
	}

	s.pending[v.ID] = snapshot
	s.order = append(s.order, v.ID)
	s.mu.Unlock()

	s.wake()
	return true
}

// supersedes keeps a pending resolved snapshot from being replaced by an older ongoing one
func supersedes(next, current *models.Violation) bool {
	if current.IsResolved() && !next.IsResolved() {
		return false
	}
	return next.Version >= current.Version
}

func (w *Writer) shardFor(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(w.shards)))
}

func (w *Writer) loop(s *shard) {
	defer w.wg.Done()

	for {
		v, ok := s.next(w.quit)
		if !ok {
			return
		}
		w.write(v)
	}
}

func (w *Writer) closing() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

// keepTrying reports whether another attempt follows a failed one. Ongoing
// snapshots stop at MaxAttempts; resolved ones continue until Close, then get
// MaxAttempts more.
func (w *Writer) keepTrying(v *models.Violation, attempt, closedAt int) bool {
	if !v.IsResolved() {
		return attempt < w.config.MaxAttempts
	}
	if closedAt == 0 {
		return true
	}
	return attempt-closedAt < w.config.MaxAttempts
}

func (w *Writer) write(v *models.Violation) {
	backoff := w.config.Backoff
	closedAt := 0

	for attempt := 1; ; attempt++ {
		if closedAt == 0 && w.closing() {
			closedAt = attempt - 1
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.store.Put(ctx, v)
		cancel()

		if err == nil {
			atomic.AddUint64(&w.written, 1)
			return
		}

		if !w.keepTrying(v, attempt, closedAt) {
			atomic.AddUint64(&w.failed, 1)
			log.Printf("[Writer] Failed to persist %s (version %d, %s) after %d attempts: %v",
				v.ID, v.Version, v.Status, attempt, err)
			return
		}

		atomic.AddUint64(&w.retries, 1)
		if attempt <= w.config.MaxAttempts || attempt%w.config.MaxAttempts == 0 {
			log.Printf("[Writer] Write of %s failed (attempt %d), retrying in %s: %v",
				v.ID, attempt, backoff, err)
		}

		// Close cuts the wait short; the remaining attempts then run without delay
		select {
		case <-time.After(backoff):
		case <-w.quit:
		}
		backoff *= 2
		if backoff > w.config.MaxBackoff {
			backoff = w.config.MaxBackoff
		}
	}
}

func (w *Writer) Stats() WriterStats {
	pending := 0
	for _, s := range w.shards {
		s.mu.Lock()
		pending += len(s.order)
		s.mu.Unlock()
	}

	return WriterStats{
		Written:   atomic.LoadUint64(&w.written),
		Failed:    atomic.LoadUint64(&w.failed),
		Dropped:   atomic.LoadUint64(&w.dropped),
		Coalesced: atomic.LoadUint64(&w.coalesced),
		Retries:   atomic.LoadUint64(&w.retries),
		Pending:   pending,
	}
}

// Close stops accepting writes and waits for queued writes to finish. Resolved
// snapshots still failing get MaxAttempts more tries before they are given up.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.quit)
	w.mu.Unlock()

	w.wg.Wait()
}

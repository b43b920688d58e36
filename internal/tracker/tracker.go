package tracker

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultAlertThreshold = 3 * time.Second
	DefaultCooldown       = 5 * time.Second
	DefaultAbsenceTimeout = 10 * time.Second
	DefaultGraceGap       = time.Second

	// How many resolved ids are remembered so a repeated resolve reports "already resolved"
	recentlyResolvedLimit = 1024
)

// Config holds the debounce and cooldown timings
type Config struct {
	// AlertThresholds is the debounce per hazard kind. Kinds not listed use DefaultAlertThreshold.
	AlertThresholds map[models.HazardKind]time.Duration
	// GraceGap is the largest tolerated gap between observations while pending.
	GraceGap       time.Duration
	Cooldown       time.Duration
	AbsenceTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		AlertThresholds: map[models.HazardKind]time.Duration{
			models.HazardGearMissing: DefaultAlertThreshold,
			models.HazardTooClose:    0,
		},
		GraceGap:       DefaultGraceGap,
		Cooldown:       DefaultCooldown,
		AbsenceTimeout: DefaultAbsenceTimeout,
	}
}

func (c Config) thresholdFor(kind models.HazardKind) time.Duration {
	if d, ok := c.AlertThresholds[kind]; ok {
		return d
	}
	return DefaultAlertThreshold
}

// Sink receives lifecycle events. It is called with the tracker lock held, so
// events for one camera arrive in production order, and it must not block.
type Sink interface {
	Emit(event models.LifecycleEvent)
}

type SinkFunc func(event models.LifecycleEvent)

func (f SinkFunc) Emit(event models.LifecycleEvent) { f(event) }

// Capturer is asked for a screenshot when a violation opens and returns an opaque reference.
// It must not block.
type Capturer interface {
	Capture(frame *models.Frame, violation *models.Violation) string
}

type state int

const (
	statePending state = iota
	stateOngoing
)

// entry is one (hazard kind, subject) state machine; idle means no entry
type entry struct {
	key     string
	kind    models.HazardKind
	subject models.SubjectKey
	state   state

	// signal time (frame capture time)
	firstSeen time.Time
	lastSeen  time.Time

	// tracker clock time, drives absence and cooldown
	lastObserved time.Time
	lastEmitted  time.Time

	attributes models.Attributes
	violation  *models.Violation
}

// Tracker is the violation state machine for one camera. Keys never collide across
// cameras, so each camera owns its own Tracker and no cross-camera locking exists.
type Tracker struct {
	cameraID string
	config   Config

	mu               sync.Mutex
	entries          map[string]*entry // keyed by track key
	byID             map[string]*entry // ongoing only
	recentlyResolved map[string]struct{}
	resolvedOrder    []string
	sequence         uint64

	sink     Sink
	capturer Capturer
	newID    func() string
}

// NewTracker creates the state machine for one camera
func NewTracker(cameraID string, cfg Config, sink Sink) *Tracker {
	if cfg.GraceGap <= 0 {
		cfg.GraceGap = DefaultGraceGap
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.AbsenceTimeout <= 0 {
		cfg.AbsenceTimeout = DefaultAbsenceTimeout
	}

	return &Tracker{
		cameraID:         cameraID,
		config:           cfg,
		entries:          make(map[string]*entry),
		byID:             make(map[string]*entry),
		recentlyResolved: make(map[string]struct{}),
		sink:             sink,
		newID:            uuid.NewString,
	}
}

func (t *Tracker) SetCapturer(c Capturer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capturer = c
}

func (t *Tracker) SetIDGenerator(fn func() string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.newID = fn
}

// Observe feeds one tick's signals (possibly none) and then sweeps entries that were
// not observed. frame may be nil; it is only used for screenshots.
func (t *Tracker) Observe(now time.Time, frame *models.Frame, signals []models.CandidateSignal) []models.LifecycleEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []models.LifecycleEvent
	seen := make(map[string]struct{}, len(signals))

	for _, signal := range signals {
		if signal.CameraID != t.cameraID {
			log.Printf("[Tracker] %s: ignoring signal for camera %s", t.cameraID, signal.CameraID)
			continue
		}
		if signal.ObservedAt.IsZero() {
			signal.ObservedAt = now
		}

		key := signal.TrackKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if ev, ok := t.observeLocked(key, signal, now, frame); ok {
			events = append(events, ev)
		}
	}

	events = append(events, t.sweepLocked(now, seen)...)
	return events
}

// Sweep advances timers without new signals
func (t *Tracker) Sweep(now time.Time) []models.LifecycleEvent {
	return t.Observe(now, nil, nil)
}

func (t *Tracker) observeLocked(key string, signal models.CandidateSignal, now time.Time, frame *models.Frame) (models.LifecycleEvent, bool) {
	e, exists := t.entries[key]
	if !exists {
		// idle -> pending
		e = &entry{
			key:       key,
			kind:      signal.Kind,
			subject:   signal.Subject,
			state:     statePending,
			firstSeen: signal.ObservedAt,
			lastSeen:  signal.ObservedAt,
		}
		t.entries[key] = e
	}

	switch e.state {
	case statePending:
		if signal.ObservedAt.Sub(e.lastSeen) > t.config.GraceGap {
			// continuity broken, debounce starts over
			e.firstSeen = signal.ObservedAt
		}
		e.lastSeen = signal.ObservedAt
		e.lastObserved = now
		e.attributes = signal.Attributes.Clone()

		if signal.ObservedAt.Sub(e.firstSeen) < t.config.thresholdFor(e.kind) {
			return models.LifecycleEvent{}, false
		}
		return t.openLocked(e, now, frame), true

	case stateOngoing:
		if signal.ObservedAt.After(e.lastSeen) {
			e.lastSeen = signal.ObservedAt
		}
		e.lastObserved = now
		e.attributes = signal.Attributes.Clone()

		v := e.violation
		v.LastSeenAt = e.lastSeen
		v.DurationSeconds = v.Duration().Seconds()
		v.Attributes = e.attributes.Clone()
		v.Version++
		v.UpdatedAt = now

		if now.Sub(e.lastEmitted) < t.config.Cooldown {
			return models.LifecycleEvent{}, false
		}
		e.lastEmitted = now
		return t.emitLocked(models.EventUpdated, v, now), true
	}

	return models.LifecycleEvent{}, false
}

// pending -> ongoing
func (t *Tracker) openLocked(e *entry, now time.Time, frame *models.Frame) models.LifecycleEvent {
	v := &models.Violation{
		ID:         t.newID(),
		CameraID:   t.cameraID,
		Kind:       e.kind,
		Subject:    e.subject,
		SubjectKey: e.subject.String(),
		Status:     models.StatusOngoing,
		OpenedAt:   e.firstSeen,
		LastSeenAt: e.lastSeen,
		Attributes: e.attributes.Clone(),
		Version:    1,
		UpdatedAt:  now,
	}
	v.DurationSeconds = v.Duration().Seconds()

	if t.capturer != nil && frame != nil {
		v.Screenshot = t.capturer.Capture(frame, v)
	}

	e.state = stateOngoing
	e.violation = v
	e.lastEmitted = now
	t.byID[v.ID] = e

	log.Printf("[Tracker] %s: violation opened %s (%s, subject %s)", t.cameraID, v.ID, v.Kind, v.SubjectKey)

	return t.emitLocked(models.EventOpened, v, now)
}

func (t *Tracker) sweepLocked(now time.Time, seen map[string]struct{}) []models.LifecycleEvent {
	var expired []*entry

	for key, e := range t.entries {
		if _, ok := seen[key]; ok {
			continue
		}

		switch e.state {
		case statePending:
			// pending -> idle, no side effects
			if now.Sub(e.lastObserved) > t.config.GraceGap {
				delete(t.entries, key)
			}
		case stateOngoing:
			if now.Sub(e.lastObserved) >= t.config.AbsenceTimeout {
				expired = append(expired, e)
			}
		}
	}

	// stable order so event sequences are reproducible
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].violation.OpenedAt.Before(expired[j].violation.OpenedAt) ||
			(expired[i].violation.OpenedAt.Equal(expired[j].violation.OpenedAt) && expired[i].key < expired[j].key)
	})

	events := make([]models.LifecycleEvent, 0, len(expired))
	for _, e := range expired {
		events = append(events, t.resolveLocked(e, now, models.ResolvedByTimeout))
	}
	return events
}

// Resolve applies an explicit resolve. Unknown or already-resolved ids are a no-op.
func (t *Tracker) Resolve(id string, now time.Time, reason models.ResolveReason) (models.ResolveOutcome, *models.LifecycleEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		if _, done := t.recentlyResolved[id]; done {
			return models.ResolveAlreadyResolved, nil
		}
		return models.ResolveNotFound, nil
	}

	ev := t.resolveLocked(e, now, reason)
	return models.ResolveApplied, &ev
}

// ResolveAll resolves every ongoing violation and forgets pending entries. Used when a
// camera stops so the store never keeps an ongoing row without further updates.
func (t *Tracker) ResolveAll(now time.Time, reason models.ResolveReason) []models.LifecycleEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	ongoing := make([]*entry, 0, len(t.byID))
	for _, e := range t.byID {
		ongoing = append(ongoing, e)
	}
	sort.Slice(ongoing, func(i, j int) bool { return ongoing[i].key < ongoing[j].key })

	events := make([]models.LifecycleEvent, 0, len(ongoing))
	for _, e := range ongoing {
		events = append(events, t.resolveLocked(e, now, reason))
	}

	for key := range t.entries {
		delete(t.entries, key)
	}
	return events
}

// ongoing -> resolved, terminal; the entry is dropped so a recurrence starts fresh
func (t *Tracker) resolveLocked(e *entry, now time.Time, reason models.ResolveReason) models.LifecycleEvent {
	v := e.violation
	resolvedAt := now
	v.Status = models.StatusResolved
	v.ResolvedAt = &resolvedAt
	v.ResolvedBy = reason
	v.DurationSeconds = v.Duration().Seconds()
	v.Version++
	v.UpdatedAt = now

	delete(t.entries, e.key)
	delete(t.byID, v.ID)
	t.rememberResolvedLocked(v.ID)

	log.Printf("[Tracker] %s: violation resolved %s (reason: %s, duration %.1fs)",
		t.cameraID, v.ID, reason, v.DurationSeconds)

	return t.emitLocked(models.EventResolved, v, now)
}

func (t *Tracker) rememberResolvedLocked(id string) {
	t.recentlyResolved[id] = struct{}{}
	t.resolvedOrder = append(t.resolvedOrder, id)
	if len(t.resolvedOrder) > recentlyResolvedLimit {
		oldest := t.resolvedOrder[0]
		t.resolvedOrder = t.resolvedOrder[1:]
		delete(t.recentlyResolved, oldest)
	}
}

func (t *Tracker) emitLocked(kind models.EventKind, v *models.Violation, now time.Time) models.LifecycleEvent {
	t.sequence++
	ev := models.LifecycleEvent{
		Kind:      kind,
		Sequence:  t.sequence,
		EmittedAt: now,
		Violation: *v.Clone(),
	}
	if t.sink != nil {
		t.sink.Emit(ev)
	}
	return ev
}

// Ongoing returns snapshots of the camera's ongoing violations
func (t *Tracker) Ongoing() []*models.Violation {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]*models.Violation, 0, len(t.byID))
	for _, e := range t.byID {
		result = append(result, e.violation.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OpenedAt.Before(result[j].OpenedAt) })
	return result
}

func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries) - len(t.byID)
}

func (t *Tracker) OngoingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byID)
}

func (t *Tracker) CameraID() string {
	return t.cameraID
}

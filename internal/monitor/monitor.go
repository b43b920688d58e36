package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/engine"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/tracker"
)

var (
	ErrCameraExists   = errors.New("monitor: camera already running")
	ErrCameraNotFound = errors.New("monitor: camera not found")
	ErrStopped        = errors.New("monitor: stopped")

	errEndOfStream = io.EOF
)

const (
	DefaultTickInterval = 500 * time.Millisecond
	sourceRetryDelay    = 250 * time.Millisecond
)

type CameraState string

const (
	CameraRunning CameraState = "running"
	// CameraEnded means the source reported end of stream; ticks keep sweeping
	// so ongoing violations still time out.
	CameraEnded   CameraState = "ended"
	CameraStopped CameraState = "stopped"
)

// CameraStatus is the operator-facing view of one camera task
type CameraStatus struct {
	CameraID          string      `json:"camera_id"`
	State             CameraState `json:"state"`
	StartedAt         time.Time   `json:"started_at"`
	LastFrameAt       time.Time   `json:"last_frame_at,omitempty"`
	LastTickAt        time.Time   `json:"last_tick_at,omitempty"`
	FramesReceived    uint64      `json:"frames_received"`
	FramesEvaluated   uint64      `json:"frames_evaluated"`
	FramesSkipped     uint64      `json:"frames_skipped"`
	TransientErrors   uint64      `json:"transient_errors"`
	SourceErrors      uint64      `json:"source_errors"`
	OngoingViolations int         `json:"ongoing_violations"`
	PendingSignals    int         `json:"pending_signals"`
}

// Evaluator turns a frame into candidate signals
type Evaluator interface {
	Evaluate(ctx context.Context, frame *models.Frame) ([]models.CandidateSignal, error)
}

type Config struct {
	TickInterval time.Duration
	Tracker      tracker.Config
	Clock        Clock
	// Capturer is optional; without it violations carry no screenshot
	Capturer tracker.Capturer
	// Fallback is consulted by Resolve when no live tracker owns the id
	Fallback store.Store
	// OnTick runs on the camera goroutine after every tick
	OnTick func(status CameraStatus)
}

// Monitor runs one independent evaluation task per camera. Within a camera the
// evaluate -> observe sequence is serial; cameras never wait on each other.
type Monitor struct {
	config    Config
	evaluator Evaluator
	sink      tracker.Sink

	mu      sync.Mutex
	cameras map[string]*camera
	stopped bool
}

func New(evaluator Evaluator, sink tracker.Sink, cfg Config) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}

	return &Monitor{
		config:    cfg,
		evaluator: evaluator,
		sink:      sink,
		cameras:   make(map[string]*camera),
	}
}

type camera struct {
	id      string
	source  FrameSource
	tracker *tracker.Tracker

	cancel     context.CancelFunc
	loopDone   chan struct{}
	readerDone chan struct{}

	mu     sync.Mutex
	latest *models.Frame
	status CameraStatus
}

// StartCamera begins monitoring a camera with its own tracker and tick loop
func (m *Monitor) StartCamera(cameraID string, source FrameSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if _, exists := m.cameras[cameraID]; exists {
		return fmt.Errorf("%w: %s", ErrCameraExists, cameraID)
	}

	t := tracker.NewTracker(cameraID, m.config.Tracker, m.sink)
	if m.config.Capturer != nil {
		t.SetCapturer(m.config.Capturer)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cam := &camera{
		id:         cameraID,
		source:     source,
		tracker:    t,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		readerDone: make(chan struct{}),
		status: CameraStatus{
			CameraID:  cameraID,
			State:     CameraRunning,
			StartedAt: m.config.Clock.Now(),
		},
	}
	m.cameras[cameraID] = cam

	go m.read(ctx, cam)
	go m.loop(ctx, cam)

	log.Printf("[Monitor] Started camera %s (tick %s)", cameraID, m.config.TickInterval)
	return nil
}

// read keeps only the newest frame; frames that arrive faster than ticks are skipped
func (m *Monitor) read(ctx context.Context, cam *camera) {
	defer close(cam.readerDone)

	for {
		frame, err := cam.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				cam.mu.Lock()
				cam.status.State = CameraEnded
				cam.mu.Unlock()
				log.Printf("[Monitor] Camera %s: end of stream", cam.id)
				return
			}

			cam.mu.Lock()
			cam.status.SourceErrors++
			cam.mu.Unlock()
			log.Printf("[Monitor] Camera %s: frame source error: %v", cam.id, err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(sourceRetryDelay):
			}
			continue
		}

		cam.mu.Lock()
		if cam.latest != nil {
			cam.status.FramesSkipped++
		}
		cam.latest = frame
		cam.status.FramesReceived++
		cam.status.LastFrameAt = frame.CapturedAt
		cam.mu.Unlock()
	}
}

func (m *Monitor) loop(ctx context.Context, cam *camera) {
	defer close(cam.loopDone)

	ticker := m.config.Clock.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.tick(ctx, cam)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, cam *camera) {
	now := m.config.Clock.Now()

	cam.mu.Lock()
	frame := cam.latest
	cam.latest = nil
	cam.status.LastTickAt = now
	cam.mu.Unlock()

	if frame == nil {
		cam.tracker.Sweep(now)
	} else if signals, err := m.evaluator.Evaluate(ctx, frame); err != nil {
		// transient: skip this tick, no state change
		cam.mu.Lock()
		cam.status.TransientErrors++
		cam.mu.Unlock()
		log.Printf("[Monitor] Camera %s: skipping frame %d: %v", cam.id, frame.Sequence, err)
	} else {
		cam.tracker.Observe(now, frame, signals)
		cam.mu.Lock()
		cam.status.FramesEvaluated++
		cam.mu.Unlock()
	}

	if m.config.OnTick != nil {
		m.config.OnTick(cam.snapshot())
	}
}

func (c *camera) snapshot() CameraStatus {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()

	status.OngoingViolations = c.tracker.OngoingCount()
	status.PendingSignals = c.tracker.PendingCount()
	return status
}

// StopCamera drains the in-flight tick, resolves every ongoing violation with
// reason camera_stopped, then releases the frame source.
func (m *Monitor) StopCamera(cameraID string) error {
	m.mu.Lock()
	cam, ok := m.cameras[cameraID]
	if ok {
		delete(m.cameras, cameraID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}

	m.stopCamera(cam)
	return nil
}

func (m *Monitor) stopCamera(cam *camera) {
	cam.cancel()
	<-cam.loopDone

	resolved := cam.tracker.ResolveAll(m.config.Clock.Now(), models.ResolvedByCameraStopped)

	if err := cam.source.Close(); err != nil {
		log.Printf("[Monitor] Camera %s: failed to close frame source: %v", cam.id, err)
	}
	<-cam.readerDone

	cam.mu.Lock()
	cam.status.State = CameraStopped
	cam.mu.Unlock()

	log.Printf("[Monitor] Stopped camera %s (%d ongoing violations resolved)", cam.id, len(resolved))
}

// Resolve applies an operator resolve. Live trackers are tried first; when no
// camera owns the id the fallback store is resolved directly.
func (m *Monitor) Resolve(ctx context.Context, violationID string) (models.ResolveOutcome, error) {
	now := m.config.Clock.Now()

	m.mu.Lock()
	cams := make([]*camera, 0, len(m.cameras))
	for _, cam := range m.cameras {
		cams = append(cams, cam)
	}
	m.mu.Unlock()

	outcome := models.ResolveNotFound
	for _, cam := range cams {
		switch result, _ := cam.tracker.Resolve(violationID, now, models.ResolvedByOperator); result {
		case models.ResolveApplied:
			log.Printf("[Monitor] Operator resolved %s on camera %s", violationID, cam.id)
			return result, nil
		case models.ResolveAlreadyResolved:
			outcome = result
		}
	}
	if outcome == models.ResolveAlreadyResolved || m.config.Fallback == nil {
		return outcome, nil
	}

	result, err := m.config.Fallback.Resolve(ctx, violationID, now, models.ResolvedByOperator)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s in store: %w", violationID, err)
	}
	if result == models.ResolveApplied {
		log.Printf("[Monitor] Operator resolved %s directly in store", violationID)
	}
	return result, nil
}

// Cameras reports every running camera, ordered by id
func (m *Monitor) Cameras() []CameraStatus {
	m.mu.Lock()
	cams := make([]*camera, 0, len(m.cameras))
	for _, cam := range m.cameras {
		cams = append(cams, cam)
	}
	m.mu.Unlock()

	out := make([]CameraStatus, 0, len(cams))
	for _, cam := range cams {
		out = append(out, cam.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Ongoing lists live ongoing violations across cameras
func (m *Monitor) Ongoing() []*models.Violation {
	m.mu.Lock()
	cams := make([]*camera, 0, len(m.cameras))
	for _, cam := range m.cameras {
		cams = append(cams, cam)
	}
	m.mu.Unlock()

	var out []*models.Violation
	for _, cam := range cams {
		out = append(out, cam.tracker.Ongoing()...)
	}
	return out
}

// Stop stops every camera in parallel and refuses new ones
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cams := m.cameras
	m.cameras = make(map[string]*camera)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, cam := range cams {
		wg.Add(1)
		go func(cam *camera) {
			defer wg.Done()
			m.stopCamera(cam)
		}(cam)
	}
	wg.Wait()

	log.Printf("[Monitor] Stopped %d cameras", len(cams))
}

// Fanout delivers each event to every sink in order
func Fanout(sinks ...tracker.Sink) tracker.Sink {
	return tracker.SinkFunc(func(ev models.LifecycleEvent) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(ev)
			}
		}
	})
}

var _ Evaluator = (*engine.Engine)(nil)

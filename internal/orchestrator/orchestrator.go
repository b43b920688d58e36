package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	nethttp "net/http"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/alertbus"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/capture"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/classifier"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/config"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/detector"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/engine"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/eventbus"
	grpcserver "github.com/EricMurray-e-m-dev/SiteGuard/internal/grpc"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/health"
	httpserver "github.com/EricMurray-e-m-dev/SiteGuard/internal/http"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/monitor"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/tracker"
	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const natsSubscriberID = "nats-forwarder"

// SourceFactory opens the frame source for one camera
type SourceFactory func(cameraID string) (monitor.FrameSource, error)

// Orchestrator manages the SiteGuard service lifecycle and wires the per-camera
// monitors to the alert bus, the store and the outer surfaces.
//
// Lifecycle:
//  1. Start() - opens the store, sweeps orphans, builds the pipeline, starts cameras
//  2. Run() - starts the servers and blocks until the context is cancelled
//  3. Stop() - stops cameras (resolving their violations), drains the writer, closes everything
//
// The orchestrator implements graceful degradation:
//   - Store backend failure: falls back to the in-memory store (history is lost on restart)
//   - NATS failure: required unless a SourceFactory was supplied; without it
//     lifecycle events are not published and NATS resolve requests are not served
//   - Screenshot directory failure: violations carry no screenshot
//   - HTTP or health server failure: operator API unavailable, detection continues
type Orchestrator struct {
	config *config.Config

	// Core components
	store    store.Store
	writer   *store.Writer
	bus      *alertbus.Bus
	capturer *capture.FileCapturer
	engine   *engine.Engine
	monitor  *monitor.Monitor
	sources  SourceFactory

	// NATS bridge
	natsConn          *nats.Conn
	natsPublisher     *eventbus.Publisher
	natsSubscription  *alertbus.Subscription
	natsForwardDone   chan struct{}
	resolveSubscriber *eventbus.ResolveSubscriber

	// Servers
	httpServer   *httpserver.Server
	healthServer *health.Server
	grpcServer   *grpc.Server
	grpcHealth   *grpchealth.Server
	grpcListener net.Listener
}

// NewOrchestrator creates a new Orchestrator instance with the provided configuration.
// The orchestrator is not started until Start() is called.
func NewOrchestrator(cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		config: cfg,
	}
}

// WithSourceFactory replaces the NATS frame subscription as the source of frames
func (o *Orchestrator) WithSourceFactory(f SourceFactory) *Orchestrator {
	o.sources = f
	return o
}

// Start initializes every component. It must be called before Run().
func (o *Orchestrator) Start(ctx context.Context) error {
	log.Printf("Starting SiteGuard Orchestrator...")

	o.openStore(ctx)

	if n, err := SweepOrphans(ctx, o.store, time.Now().UTC()); err != nil {
		log.Printf("Warning: orphan sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("Resolved %d violations left ongoing by a previous run", n)
	}

	o.writer = store.NewWriter(o.store, store.WriterConfig{
		MaxAttempts: o.config.Store.WriteAttempts,
		Backoff:     o.config.Store.WriteBackoff,
	})
	o.bus = alertbus.New(o.config.SubscriberBuffer)

	o.initializeCapturer()
	o.initializeEngine()

	if err := o.connectNATS(); err != nil {
		if o.sources == nil {
			return fmt.Errorf("failed to connect to NATS (required for frames): %w", err)
		}
		log.Printf("Warning: %v", err)
		log.Printf("Lifecycle events will not be published to NATS")
	}

	o.initializeMonitor()

	if err := o.initializeHTTPServer(); err != nil {
		log.Printf("Warning: failed to initialize HTTP server: %v", err)
		log.Printf("Operator API will be unavailable")
	}
	o.initializeHealthServer()

	if err := o.initializeGRPCServer(); err != nil {
		return fmt.Errorf("failed to initialize gRPC server: %w", err)
	}

	if err := o.startCameras(); err != nil {
		return err
	}

	log.Printf("SiteGuard Orchestrator started successfully")
	return nil
}

// openStore selects the configured backend, degrading to memory on failure
func (o *Orchestrator) openStore(ctx context.Context) {
	log.Printf("Opening %s violation store...", o.config.Store.Backend)

	s, err := OpenStore(ctx, o.config.Store)
	if err != nil {
		log.Printf("Warning: failed to open %s store: %v", o.config.Store.Backend, err)
		log.Printf("Falling back to in-memory store; violations will not survive a restart")
		s, _ = OpenStore(ctx, config.StoreSettings{Backend: config.BackendMemory})
	}

	o.store = s
	log.Printf("Violation store ready")
}

// SweepOrphans resolves every stored ongoing violation with reason restart. No
// tracker owns them any more, so nothing else would ever close them.
func SweepOrphans(ctx context.Context, s store.Store, now time.Time) (int, error) {
	orphans, err := s.BulkRead(ctx, store.Filter{Status: models.StatusOngoing})
	if err != nil {
		return 0, fmt.Errorf("failed to list ongoing violations: %w", err)
	}

	resolved := 0
	for _, v := range orphans {
		outcome, err := s.Resolve(ctx, v.ID, now, models.ResolvedByRestart)
		if err != nil {
			return resolved, fmt.Errorf("failed to resolve orphan %s: %w", v.ID, err)
		}
		if outcome == models.ResolveApplied {
			resolved++
		}
	}
	return resolved, nil
}

func (o *Orchestrator) initializeCapturer() {
	c, err := capture.NewFileCapturer(o.config.ScreenshotDir, capture.DefaultQueueSize)
	if err != nil {
		log.Printf("Warning: screenshots disabled: %v", err)
		return
	}
	o.capturer = c
	log.Printf("Screenshots will be saved under %s", o.config.ScreenshotDir)
}

func (o *Orchestrator) initializeEngine() {
	o.engine = engine.NewEngine(classifier.NewEmbeddedClassifier())

	gear := detector.NewGearMissingDetector()
	gear.SetRequiredGear(o.config.Detection.RequiredGear)
	o.engine.RegisterDetector(gear)

	proximity := detector.NewProximityDetector()
	proximity.SetThreshold(o.config.Detection.ProximityDistance)
	o.engine.RegisterDetector(proximity)

	log.Printf("Detection engine ready with detectors: %v", o.engine.GetRegisteredDetectors())
}

// TrackerConfig maps the detection settings onto the state machine timings
func TrackerConfig(d config.DetectionSettings) tracker.Config {
	return tracker.Config{
		AlertThresholds: map[models.HazardKind]time.Duration{
			models.HazardGearMissing: d.AlertThreshold,
			models.HazardTooClose:    d.ProximityAlertThreshold,
		},
		GraceGap:       d.GraceGap,
		Cooldown:       d.Cooldown,
		AbsenceTimeout: d.AbsenceTimeout,
	}
}

func (o *Orchestrator) initializeMonitor() {
	cfg := monitor.Config{
		TickInterval: o.config.TickInterval,
		Tracker:      TrackerConfig(o.config.Detection),
		Fallback:     o.store,
	}
	if o.capturer != nil {
		cfg.Capturer = o.capturer
	}

	// bus first: live viewers should not wait on the writer queue
	o.monitor = monitor.New(o.engine, monitor.Fanout(o.bus, o.writer), cfg)
}

// connectNATS wires lifecycle publishing and operator resolve requests. The
// publisher reads its own bus subscription so a slow broker never stalls a tick.
func (o *Orchestrator) connectNATS() error {
	if o.config.NatsURL == "" {
		return fmt.Errorf("NATS_URL not set")
	}

	log.Printf("Connecting to NATS at: %s", o.config.NatsURL)

	conn, err := eventbus.Connect(o.config.NatsURL, "siteguard")
	if err != nil {
		return err
	}
	o.natsConn = conn
	o.natsPublisher = eventbus.NewPublisher(conn)

	sub, err := o.bus.Subscribe(natsSubscriberID)
	if err != nil {
		return fmt.Errorf("failed to subscribe NATS forwarder: %w", err)
	}
	o.natsSubscription = sub
	o.natsForwardDone = make(chan struct{})

	go func() {
		defer close(o.natsForwardDone)
		o.natsPublisher.Forward(sub.Events(context.Background()))
	}()

	log.Printf("Connected to NATS publisher")
	return nil
}

// startResolveSubscriber needs the monitor, so it runs after initializeMonitor
func (o *Orchestrator) startResolveSubscriber() {
	if o.natsConn == nil {
		return
	}

	subscriber := eventbus.NewResolveSubscriber(o.natsConn, o.monitor)
	if err := subscriber.Start(); err != nil {
		log.Printf("Warning: failed to start NATS resolve subscriber: %v", err)
		return
	}
	o.resolveSubscriber = subscriber
}

func (o *Orchestrator) startCameras() error {
	o.startResolveSubscriber()

	for _, cameraID := range o.config.Cameras {
		source, err := o.openSource(cameraID)
		if err != nil {
			log.Printf("Warning: camera %s unavailable: %v", cameraID, err)
			continue
		}
		if err := o.monitor.StartCamera(cameraID, source); err != nil {
			_ = source.Close()
			return fmt.Errorf("failed to start camera %s: %w", cameraID, err)
		}
	}

	log.Printf("Monitoring %d cameras", len(o.monitor.Cameras()))
	return nil
}

func (o *Orchestrator) openSource(cameraID string) (monitor.FrameSource, error) {
	if o.sources != nil {
		return o.sources(cameraID)
	}
	if o.natsConn == nil {
		return nil, fmt.Errorf("no frame source: NATS not connected")
	}
	return eventbus.NewFrameSource(o.natsConn, cameraID)
}

func (o *Orchestrator) initializeHTTPServer() error {
	if o.config.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT not set")
	}

	log.Printf("Initializing HTTP server on port: %s", o.config.HTTPPort)
	o.httpServer = httpserver.NewServer(o.monitor, o.store, o.monitor)
	return nil
}

func (o *Orchestrator) initializeHealthServer() {
	if o.config.HealthPort == "" {
		return
	}

	o.healthServer = health.NewServer(o.store).
		WithCameraCount(func() int { return len(o.monitor.Cameras()) }).
		WithPipeline(o.PipelineStats)
	if o.natsPublisher != nil {
		o.healthServer.WithNATS(o.natsPublisher.IsConnected)
	}
}

// PipelineStats reports live violations, alert fan-out and writer counters
func (o *Orchestrator) PipelineStats() *health.PipelineStats {
	stats := &health.PipelineStats{}
	if o.monitor != nil {
		stats.OngoingViolations = len(o.monitor.Ongoing())
	}
	if o.bus != nil {
		stats.OpenAlerts = len(o.bus.Open())
		stats.AlertsPublished = o.bus.TotalPublished()
		stats.AlertSubscribers = o.bus.SubscriberCount()
	}
	if o.writer != nil {
		w := o.writer.Stats()
		stats.WritesPersisted = w.Written
		stats.WritesFailed = w.Failed
		stats.WritesDropped = w.Dropped
		stats.WritesCoalesced = w.Coalesced
		stats.WritesPending = w.Pending
	}
	return stats
}

// initializeGRPCServer creates the gRPC server for clients and reconciliation
func (o *Orchestrator) initializeGRPCServer() error {
	log.Printf("Initializing gRPC server on port: %s", o.config.GRPCPort)

	listener, err := net.Listen("tcp", ":"+o.config.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", o.config.GRPCPort, err)
	}
	o.grpcListener = listener

	o.grpcServer = grpc.NewServer()
	grpcserver.RegisterViolationService(o.grpcServer, grpcserver.NewServer(o.monitor, o.store, o.bus))

	o.grpcHealth = grpchealth.NewServer()
	o.grpcHealth.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(o.grpcServer, o.grpcHealth)

	log.Printf("gRPC server initialized on %s", listener.Addr())
	return nil
}

// GRPCAddr is the bound gRPC address; useful when GRPC_PORT is 0
func (o *Orchestrator) GRPCAddr() string {
	if o.grpcListener == nil {
		return ""
	}
	return o.grpcListener.Addr().String()
}

// Run starts all servers and blocks until the context is cancelled or a server fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Printf("Starting servers...")

	errChan := make(chan error, 3)

	if o.httpServer != nil {
		go func() {
			if err := o.httpServer.Start(":" + o.config.HTTPPort); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				errChan <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
	}

	if o.healthServer != nil {
		go func() {
			if err := o.healthServer.Start(":" + o.config.HealthPort); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				log.Printf("Warning: health server stopped: %v", err)
			}
		}()
	}

	go func() {
		log.Printf("gRPC server listening on %s", o.grpcListener.Addr())
		if err := o.grpcServer.Serve(o.grpcListener); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	log.Printf("SiteGuard ready - monitoring %d cameras", len(o.monitor.Cameras()))

	select {
	case <-ctx.Done():
		log.Printf("Shutdown signal received")
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Monitor exposes the camera monitor, mainly for tests
func (o *Orchestrator) Monitor() *monitor.Monitor {
	return o.monitor
}

func (o *Orchestrator) Store() store.Store {
	return o.store
}

func (o *Orchestrator) Bus() *alertbus.Bus {
	return o.bus
}

// Stop shuts down in dependency order: surfaces first, then cameras (which
// resolve their ongoing violations), then the bus and writer drain, then the store.
func (o *Orchestrator) Stop() error {
	log.Printf("Stopping Orchestrator...")

	if o.httpServer != nil {
		if err := o.httpServer.Stop(); err != nil {
			log.Printf("Error stopping HTTP server: %v", err)
		}
	}

	if o.healthServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.healthServer.Shutdown(ctx); err != nil {
			log.Printf("Error stopping health server: %v", err)
		}
		cancel()
	}

	if o.grpcHealth != nil {
		o.grpcHealth.Shutdown()
	}

	// stopped before the bus closes so cameras can still emit their resolves
	if o.resolveSubscriber != nil {
		o.resolveSubscriber.Close()
	}
	if o.monitor != nil {
		o.monitor.Stop()
	}

	// alert streams end when the bus closes, which lets GracefulStop return
	if o.bus != nil {
		o.bus.Close()
	}
	if o.grpcServer != nil {
		log.Printf("Stopping gRPC server...")
		o.grpcServer.GracefulStop()
	}

	if o.natsForwardDone != nil {
		<-o.natsForwardDone
	}
	if o.natsConn != nil {
		if err := o.natsConn.Drain(); err != nil {
			log.Printf("Error draining NATS connection: %v", err)
		}
	}

	if o.writer != nil {
		o.writer.Close()
		stats := o.writer.Stats()
		log.Printf("Store writer drained (written %d, failed %d, dropped %d, coalesced %d)",
			stats.Written, stats.Failed, stats.Dropped, stats.Coalesced)
	}

	if o.capturer != nil {
		o.capturer.Close()
	}

	if o.store != nil {
		if err := o.store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}

	log.Printf("Orchestrator stopped")
	return nil
}

package health

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	pingTimeout = 2 * time.Second
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Response struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Timestamp     int64             `json:"timestamp"`
	Checks        map[string]string `json:"checks"`
	Cameras       int               `json:"cameras"`
	Host          *HostMetrics      `json:"host,omitempty"`
	Pipeline      *PipelineStats    `json:"pipeline,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// PipelineStats is the live state of detection, alert fan-out and persistence
type PipelineStats struct {
	OngoingViolations int    `json:"ongoing_violations"`
	OpenAlerts        int    `json:"open_alerts"`
	AlertsPublished   uint64 `json:"alerts_published"`
	AlertSubscribers  int    `json:"alert_subscribers"`
	WritesPersisted   uint64 `json:"writes_persisted"`
	WritesFailed      uint64 `json:"writes_failed"`
	WritesDropped     uint64 `json:"writes_dropped"`
	WritesCoalesced   uint64 `json:"writes_coalesced"`
	WritesPending     int    `json:"writes_pending"`
}

// Server answers /health. The store is required; NATS is optional and only
// degrades the status when it is configured but disconnected.
type Server struct {
	store       Pinger
	natsUp      func() bool
	cameraCount func() int
	pipeline    func() *PipelineStats
	collectHost func() *HostMetrics
	startTime   time.Time

	server *http.Server
}

func NewServer(store Pinger) *Server {
	return &Server{
		store:       store,
		collectHost: CollectHost,
		startTime:   time.Now(),
	}
}

// WithNATS reports the event bus connection in the health payload
func (h *Server) WithNATS(connected func() bool) *Server {
	h.natsUp = connected
	return h
}

func (h *Server) WithCameraCount(count func() int) *Server {
	h.cameraCount = count
	return h
}

// WithPipeline adds pipeline counters; failed writes degrade the status
func (h *Server) WithPipeline(stats func() *PipelineStats) *Server {
	h.pipeline = stats
	return h
}

func (h *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.healthCheckHandler)
	return mux
}

func (h *Server) Start(addr string) error {
	h.server = &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("[Health] Listening on: %s", addr)
	return h.server.ListenAndServe()
}

func (h *Server) Shutdown(ctx context.Context) error {
	if h.server != nil {
		return h.server.Shutdown(ctx)
	}
	return nil
}

func (h *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	resp := &Response{
		Status:        StatusHealthy,
		Service:       "siteguard",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().Unix(),
		Checks:        map[string]string{},
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		resp.Status = StatusUnhealthy
		resp.Checks["store"] = "disconnected"
		resp.Error = err.Error()
	} else {
		resp.Checks["store"] = "connected"
	}

	if h.natsUp != nil {
		if h.natsUp() {
			resp.Checks["nats"] = "connected"
		} else {
			resp.Checks["nats"] = "disconnected"
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}

	if h.cameraCount != nil {
		resp.Cameras = h.cameraCount()
	}
	if h.pipeline != nil {
		resp.Pipeline = h.pipeline()
		if resp.Pipeline != nil && resp.Pipeline.WritesFailed > 0 {
			resp.Checks["writer"] = "failing"
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		} else {
			resp.Checks["writer"] = "ok"
		}
	}
	if h.collectHost != nil {
		resp.Host = h.collectHost()
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

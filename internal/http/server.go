package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/monitor"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
)

const maxPageSize = 500

// Resolver applies an operator resolve; implemented by monitor.Monitor
type Resolver interface {
	Resolve(ctx context.Context, violationID string) (models.ResolveOutcome, error)
}

// CameraLister reports camera task status; implemented by monitor.Monitor
type CameraLister interface {
	Cameras() []monitor.CameraStatus
}

type Server struct {
	resolver Resolver
	store    store.Store
	cameras  CameraLister

	httpServer *http.Server // Store server instance for graceful shutdown
}

func NewServer(resolver Resolver, s store.Store, cameras CameraLister) *Server {
	return &Server{
		resolver: resolver,
		store:    s,
		cameras:  cameras,
	}
}

// Handler builds the routed handler; exposed for tests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/violations/{id}/resolve", s.handleResolve)
	mux.HandleFunc("GET /api/violations", s.handleList)
	mux.HandleFunc("GET /api/violations/{id}", s.handleGet)
	mux.HandleFunc("GET /api/statistics", s.handleStatistics)
	mux.HandleFunc("GET /api/cameras", s.handleCameras)

	return s.logRequests(s.enableCORS(mux))
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("[HTTP] Listening on: %s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server with a timeout.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	log.Printf("[HTTP] Stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	log.Printf("[HTTP] Server stopped")
	return nil
}

type resolveResponse struct {
	ViolationID string                `json:"violation_id"`
	Outcome     models.ResolveOutcome `json:"outcome"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "violation id is required")
		return
	}

	log.Printf("[HTTP] Resolve request for violation: %s", id)

	outcome, err := s.resolver.Resolve(r.Context(), id)
	if err != nil {
		log.Printf("[HTTP] Resolve %s failed: %v", id, err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	status := http.StatusOK
	if outcome == models.ResolveNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, resolveResponse{ViolationID: id, Outcome: outcome})
}

type listResponse struct {
	Violations []*models.Violation `json:"violations"`
	Count      int                 `json:"count"`
	Limit      int                 `json:"limit,omitempty"`
	Offset     int                 `json:"offset,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	violations, err := s.store.BulkRead(r.Context(), filter)
	if err != nil {
		log.Printf("[HTTP] Failed to list violations: %v", err)
		writeError(w, http.StatusServiceUnavailable, "violation store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Violations: violations,
		Count:      len(violations),
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "violation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "violation store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := store.ComputeStatistics(r.Context(), s.store, filter)
	if err != nil {
		log.Printf("[HTTP] Failed to compute statistics: %v", err)
		writeError(w, http.StatusServiceUnavailable, "violation store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	cameras := []monitor.CameraStatus{}
	if s.cameras != nil {
		cameras = append(cameras, s.cameras.Cameras()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras": cameras,
		"count":   len(cameras),
	})
}

// ParseFilter reads camera_id, hazard_kind, status, from, to, limit and offset
// from the query string. Times are RFC3339.
func ParseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	filter := store.Filter{CameraID: q.Get("camera_id")}

	if kind := q.Get("hazard_kind"); kind != "" {
		filter.Kind = models.HazardKind(kind)
		if !filter.Kind.Valid() {
			return filter, fmt.Errorf("unknown hazard_kind %q", kind)
		}
	}

	switch status := models.ViolationStatus(q.Get("status")); status {
	case "", models.StatusOngoing, models.StatusResolved:
		filter.Status = status
	default:
		return filter, fmt.Errorf("unknown status %q", status)
	}

	var err error
	if filter.OpenedFrom, err = parseTime(q.Get("from")); err != nil {
		return filter, fmt.Errorf("invalid from: %w", err)
	}
	if filter.OpenedTo, err = parseTime(q.Get("to")); err != nil {
		return filter, fmt.Errorf("invalid to: %w", err)
	}
	if filter.Limit, err = parseNonNegative(q.Get("limit")); err != nil {
		return filter, fmt.Errorf("invalid limit: %w", err)
	}
	if filter.Offset, err = parseNonNegative(q.Get("offset")); err != nil {
		return filter, fmt.Errorf("invalid offset: %w", err)
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	return filter, nil
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func parseNonNegative(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

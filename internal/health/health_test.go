package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func check(t *testing.T, h *Server) (int, Response) {
	t.Helper()
	h.collectHost = func() *HostMetrics { return &HostMetrics{CPUUsagePercent: 12.5} }

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		nats       func() bool
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "store only",
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
			wantChecks: map[string]string{"store": "connected"},
		},
		{
			name:       "nats connected",
			nats:       func() bool { return true },
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
			wantChecks: map[string]string{"store": "connected", "nats": "connected"},
		},
		{
			name:       "nats down degrades",
			nats:       func() bool { return false },
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"store": "connected", "nats": "disconnected"},
		},
		{
			name:       "store down is unhealthy",
			storeErr:   errors.New("connection refused"),
			nats:       func() bool { return false },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
			wantChecks: map[string]string{"store": "disconnected", "nats": "disconnected"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(fakePinger{err: tt.storeErr}).WithCameraCount(func() int { return 3 })
			if tt.nats != nil {
				h.WithNATS(tt.nats)
			}

			code, resp := check(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantChecks, resp.Checks)
			assert.Equal(t, 3, resp.Cameras)
			assert.Equal(t, "siteguard", resp.Service)
			require.NotNil(t, resp.Host)
			assert.Equal(t, 12.5, resp.Host.CPUUsagePercent)
			if tt.storeErr != nil {
				assert.Contains(t, resp.Error, "connection refused")
			}
		})
	}
}

func TestHealth_Pipeline(t *testing.T) {
	tests := []struct {
		name       string
		stats      *PipelineStats
		wantStatus string
		wantWriter string
	}{
		{
			name:       "writes flowing",
			stats:      &PipelineStats{OngoingViolations: 2, OpenAlerts: 2, AlertsPublished: 5, AlertSubscribers: 1, WritesPersisted: 5},
			wantStatus: StatusHealthy,
			wantWriter: "ok",
		},
		{
			name:       "failed writes degrade",
			stats:      &PipelineStats{WritesPersisted: 3, WritesFailed: 1},
			wantStatus: StatusDegraded,
			wantWriter: "failing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(fakePinger{}).WithPipeline(func() *PipelineStats { return tt.stats })

			code, resp := check(t, h)
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantWriter, resp.Checks["writer"])
			require.NotNil(t, resp.Pipeline)
			assert.Equal(t, *tt.stats, *resp.Pipeline)
		})
	}
}

func TestCollectHost(t *testing.T) {
	m := CollectHost()
	require.NotNil(t, m)
	assert.GreaterOrEqual(t, m.MemoryUsagePercent, 0.0)
}

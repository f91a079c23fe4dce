package route

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"roadscan/internal/logger"
	"roadscan/internal/metrics"
	"roadscan/internal/service/websocket"

	"github.com/stretchr/testify/assert"
)

func TestSetupRoutes(t *testing.T) {
	metrics.FramesTotal.WithLabelValues(metrics.OutcomeAccumulated).Add(0)
	router := SetupRoutes(websocket.NewHubService(0, logger.Nop()), "s3cret", logger.Nop())

	tests := []struct {
		target string
		want   int
		body   string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/metrics", http.StatusUnauthorized, ""},
		{"/metrics?token=s3cret", http.StatusOK, "roadscan_frames_total"},
		{"/api/view?token=s3cret", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
		assert.Equal(t, tt.want, rec.Code, tt.target)
		if tt.body != "" {
			assert.Contains(t, rec.Body.String(), tt.body, tt.target)
		}
	}
}

func TestSetupMetricsRoutes(t *testing.T) {
	metrics.FramesTotal.WithLabelValues(metrics.OutcomeSkipped).Add(0)
	router := SetupMetricsRoutes()

	tests := []struct {
		target string
		want   int
		body   string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/metrics", http.StatusOK, "roadscan_frames_total"},
		{"/api/view", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
		assert.Equal(t, tt.want, rec.Code, tt.target)
		if tt.body != "" {
			assert.Contains(t, rec.Body.String(), tt.body, tt.target)
		}
	}
}

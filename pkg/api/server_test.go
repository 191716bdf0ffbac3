package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerapply/loadapplier/pkg/config"
)

func TestHealthHandlerReportsHealthyWithNoService(t *testing.T) {
	health := NewHealthService(nil)
	handler := NewHealthHandler(health)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestHealthHandlerRejectsNonEssentialFailureAsDegraded(t *testing.T) {
	health := NewHealthService(nil)
	health.Register(NewPingChecker("optional", false, func() error { return assert.AnError }))

	resp := health.Evaluate()
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestHealthHandlerRejectsEssentialFailureAsUnhealthy(t *testing.T) {
	health := NewHealthService(nil)
	health.Register(NewPingChecker("store", true, func() error { return assert.AnError }))

	resp := health.Evaluate()
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestNewServerMountsMetricsPathFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Metrics.Path = "/custom-metrics"
	require.Equal(t, "/custom-metrics", metricsPath(cfg))

	cfg.Metrics.Path = ""
	require.Equal(t, "/metrics", metricsPath(cfg))
}

package metrics

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerapply/loadapplier/pkg/config"
)

func TestTelemetryManagerDisabledIsNoOp(t *testing.T) {
	tm, err := NewTelemetryManager(config.MetricsConfig{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	tm.RecordDecision(ctx, "orders", "applied")
	tm.RecordBatchSize(ctx, "kafka", 42)

	require.NoError(t, tm.Start(ctx))
	require.NoError(t, tm.Stop(ctx))
}

func TestTelemetryManagerRecordsAndServesMetrics(t *testing.T) {
	tm, err := NewTelemetryManager(config.MetricsConfig{Enabled: true, Namespace: "load_applier_test"})
	require.NoError(t, err)

	ctx := context.Background()
	tm.RecordDecision(ctx, "orders", "applied")
	tm.RecordBatchSize(ctx, "kafka", 10)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	tm.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "load_applier_test_events_applied_total")
}

package vfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

// TestMetrics_Instrumented verifies that a registry built with a real meter
// reports its operations through the configured reader.
func TestMetrics_Instrumented(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	r, err := New(logger, WithMeter(provider.Meter("vfs-test")))
	require.NoError(t, err)

	f, err := r.Open("test.db", true)
	require.NoError(t, err)
	_, err = f.WriteAt(pageOf(1, 4096), 0)
	require.NoError(t, err)
	buf := make([]byte, 4096)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	_, err = r.Open("missing.db", false)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, f.Close())
	require.NoError(t, r.Delete("test.db"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				sums[m.Name] = total
			}
		}
	}

	require.Equal(t, int64(1), sums["dqlite_vfs_opens_total"])
	require.Equal(t, int64(0), sums["dqlite_vfs_open_handles"])
	require.Equal(t, int64(1), sums["dqlite_vfs_writes_total"])
	require.Equal(t, int64(1), sums["dqlite_vfs_reads_total"])
	require.Equal(t, int64(1), sums["dqlite_vfs_deletes_total"])
	require.Equal(t, int64(1), sums["dqlite_vfs_failures_total"])
}

// TestMetrics_DefaultNoop verifies that a registry without a meter still
// works with no-op instruments.
func TestMetrics_DefaultNoop(t *testing.T) {
	r := setupRegistry(t)
	f, err := r.Open("test.db", true)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

package vfs

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// vfsMetrics holds the OpenTelemetry instruments the registry reports
// through. Without a configured meter every instrument is a no-op.
type vfsMetrics struct {
	opens       metric.Int64Counter
	openHandles metric.Int64UpDownCounter
	reads       metric.Int64Counter
	writes      metric.Int64Counter
	deletes     metric.Int64Counter
	walResets   metric.Int64Counter
	failures    metric.Int64Counter
}

func newVFSMetrics(meter metric.Meter) (*vfsMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("vfs")
	}
	var (
		m   vfsMetrics
		err error
	)
	if m.opens, err = meter.Int64Counter("dqlite_vfs_opens_total",
		metric.WithDescription("Number of file handle opens.")); err != nil {
		return nil, fmt.Errorf("failed to create opens counter: %w", err)
	}
	if m.openHandles, err = meter.Int64UpDownCounter("dqlite_vfs_open_handles",
		metric.WithDescription("Number of currently open file handles.")); err != nil {
		return nil, fmt.Errorf("failed to create open handles counter: %w", err)
	}
	if m.reads, err = meter.Int64Counter("dqlite_vfs_reads_total",
		metric.WithDescription("Number of read calls.")); err != nil {
		return nil, fmt.Errorf("failed to create reads counter: %w", err)
	}
	if m.writes, err = meter.Int64Counter("dqlite_vfs_writes_total",
		metric.WithDescription("Number of write calls.")); err != nil {
		return nil, fmt.Errorf("failed to create writes counter: %w", err)
	}
	if m.deletes, err = meter.Int64Counter("dqlite_vfs_deletes_total",
		metric.WithDescription("Number of deleted file contents.")); err != nil {
		return nil, fmt.Errorf("failed to create deletes counter: %w", err)
	}
	if m.walResets, err = meter.Int64Counter("dqlite_vfs_wal_resets_total",
		metric.WithDescription("Number of WAL resets after checkpoints.")); err != nil {
		return nil, fmt.Errorf("failed to create wal resets counter: %w", err)
	}
	if m.failures, err = meter.Int64Counter("dqlite_vfs_failures_total",
		metric.WithDescription("Number of failed operations.")); err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}
	return &m, nil
}

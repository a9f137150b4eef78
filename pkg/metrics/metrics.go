package metrics

import (
	"runtime/debug"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/stellarkv/stellar-client"

// ClusterMetrics holds the instruments recorded by the cluster tender.  One
// instance belongs to one cluster.
type ClusterMetrics struct {
	TendCycles          metric.Int64Counter
	TendDuration        metric.Float64Histogram
	TendPanics          metric.Int64Counter
	NodeRefreshFailures metric.Int64Counter
	NodesAdded          metric.Int64Counter
	NodesRemoved        metric.Int64Counter
	ActiveNodes         metric.Int64UpDownCounter
	PartitionUpdates    metric.Int64Counter

	ConnectionsOpened    metric.Int64Counter
	ConnectionsClosed    metric.Int64Counter
	ConnectionsExhausted metric.Int64Counter
	OpenConnections      metric.Int64UpDownCounter
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return info.Main.Version
}

func NewClusterMetrics(provider metric.MeterProvider) *ClusterMetrics {
	meter := provider.Meter(
		instrumentationName,
		metric.WithInstrumentationVersion(buildVersion()))

	tendCycles, _ := meter.Int64Counter("kv_tend_cycles_total",
		metric.WithDescription("number of completed tend cycles"))
	tendDuration, _ := meter.Float64Histogram("kv_tend_duration_seconds",
		metric.WithUnit("s"))
	tendPanics, _ := meter.Int64Counter("kv_tend_panics_total")
	refreshFailures, _ := meter.Int64Counter("kv_node_refresh_failures_total")
	nodesAdded, _ := meter.Int64Counter("kv_nodes_added_total")
	nodesRemoved, _ := meter.Int64Counter("kv_nodes_removed_total")
	activeNodes, _ := meter.Int64UpDownCounter("kv_nodes")
	partitionUpdates, _ := meter.Int64Counter("kv_partition_map_updates_total")
	connsOpened, _ := meter.Int64Counter("kv_connections_opened_total")
	connsClosed, _ := meter.Int64Counter("kv_connections_closed_total")
	connsExhausted, _ := meter.Int64Counter("kv_connections_exhausted_total")
	openConns, _ := meter.Int64UpDownCounter("kv_connections")

	return &ClusterMetrics{
		TendCycles:           tendCycles,
		TendDuration:         tendDuration,
		TendPanics:           tendPanics,
		NodeRefreshFailures:  refreshFailures,
		NodesAdded:           nodesAdded,
		NodesRemoved:         nodesRemoved,
		ActiveNodes:          activeNodes,
		PartitionUpdates:     partitionUpdates,
		ConnectionsOpened:    connsOpened,
		ConnectionsClosed:    connsClosed,
		ConnectionsExhausted: connsExhausted,
		OpenConnections:      openConns,
	}
}

// NewNoopClusterMetrics returns instruments that record nothing.
func NewNoopClusterMetrics() *ClusterMetrics {
	return NewClusterMetrics(noop.NewMeterProvider())
}

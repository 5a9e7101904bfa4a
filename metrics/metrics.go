// Package metrics defines prometheus collectors of the storefront core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for storefront metrics.
const (
	Fail      = "fail"
	Ok        = "ok"
	Cancelled = "cancelled"
	Skipped   = "skipped"
)

// Collectors for command.Command invocations.
var (
	CommandInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_command_invocations_total",
		Help: "Cumulative number of command invocations, by command, strategy, and outcome.",
	}, []string{"command", "strategy", "outcome"})
	CommandInvocationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_command_invocation_seconds",
		Help:    "Duration of command invocations from Execute to resolution.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"command", "strategy"})
	CommandsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storefront_commands_in_flight",
		Help: "Number of command invocations whose factory is currently running.",
	}, []string{"command"})
)

// Collectors for storage and statesync.
var (
	StorageOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_storage_ops_total",
		Help: "Cumulative number of synchronizer storage operations, by op and status.",
	}, []string{"op", "status"})
	StorageWriteBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_storage_write_bytes_total",
		Help: "Cumulative number of serialized bytes written by synchronizers.",
	})
	StorageContextSwitchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_storage_context_switches_total",
		Help: "Cumulative number of storage key reselections, by base key.",
	}, []string{"key"})
)

// StorefrontCollectors returns all storefront collectors.
func StorefrontCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommandInvocationsTotal,
		CommandInvocationSeconds,
		CommandsInFlight,
		StorageOpsTotal,
		StorageWriteBytesTotal,
		StorageContextSwitchesTotal,
	}
}

package flow

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "goflow"
	tableSubsystem   = "flowtable"
)

var packetsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: tableSubsystem,
	Name:      "packets_processed_total",
	Help:      "Number of frames successfully decoded, aggregated over all tables",
})
var decodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: tableSubsystem,
	Name:      "decode_errors_total",
	Help:      "Number of frames dropped by the decoder, aggregated over all tables",
})
var flowsCreated = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: tableSubsystem,
	Name:      "flows_created_total",
	Help:      "Number of flows created, aggregated over all tables",
})
var flowsFinalized = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: tableSubsystem,
	Name:      "flows_finalized_total",
	Help:      "Number of flows removed from their table, aggregated over all tables",
})
var capacityRejects = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: tableSubsystem,
	Name:      "capacity_rejected_total",
	Help:      "Number of would-be flows rejected because a table was at capacity",
})

func init() {
	prometheus.MustRegister(
		packetsProcessed,
		decodeErrors,
		flowsCreated,
		flowsFinalized,
		capacityRejects,
	)
}

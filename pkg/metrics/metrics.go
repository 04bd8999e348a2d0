package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SwitchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distgrid_switch_total",
			Help: "Total number of SwitchTo transitions executed",
		},
		[]string{"group", "result"},
	)

	SwitchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "distgrid_switch_duration_seconds",
			Help:    "SwitchTo transition duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group"},
	)

	BytesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distgrid_bytes_sent_total",
			Help: "Total bytes sent to peers during transitions",
		},
		[]string{"group"},
	)

	BytesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distgrid_bytes_recv_total",
			Help: "Total bytes received from peers during transitions",
		},
		[]string{"group"},
	)

	MappingBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "distgrid_mapping_bytes",
			Help: "Current backing allocation size of a mapping, in bytes",
		},
		[]string{"group"},
	)

	MappingReusedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distgrid_mapping_reused_total",
			Help: "Total number of transitions that reused the prior mapping's allocation",
		},
		[]string{"group"},
	)

	MappingAllocatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distgrid_mapping_allocated_total",
			Help: "Total number of transitions that allocated a fresh mapping buffer",
		},
		[]string{"group"},
	)

	ProcessRSSBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "distgrid_process_rss_bytes",
			Help: "Resident set size of this process, sampled periodically",
		},
		[]string{"group"},
	)
)

// RecordSwitch records the outcome and duration of one SwitchTo call.
func RecordSwitch(group, result string, seconds float64) {
	SwitchTotal.WithLabelValues(group, result).Inc()
	SwitchDuration.WithLabelValues(group).Observe(seconds)
}

// RecordTransfer records bytes moved across the backend during a transition.
func RecordTransfer(group string, sent, recv int64) {
	if sent > 0 {
		BytesSent.WithLabelValues(group).Add(float64(sent))
	}
	if recv > 0 {
		BytesReceived.WithLabelValues(group).Add(float64(recv))
	}
}

// RecordMapping updates the mapping gauges after a transition commits.
func RecordMapping(group string, bytes int64, reused bool) {
	MappingBytes.WithLabelValues(group).Set(float64(bytes))
	if reused {
		MappingReusedTotal.WithLabelValues(group).Inc()
	} else {
		MappingAllocatedTotal.WithLabelValues(group).Inc()
	}
}

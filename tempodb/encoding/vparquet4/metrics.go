package vparquet4

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRowGroupsPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traceql_engine",
		Subsystem: "vparquet4",
		Name:      "row_groups_pruned_total",
		Help:      "Row groups skipped before decoding, by pruning stage.",
	}, []string{"stage"})

	metricSpansetsRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traceql_engine",
		Subsystem: "vparquet4",
		Name:      "spansets_read_total",
		Help:      "Spansets produced by block scans.",
	})
)

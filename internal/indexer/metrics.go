package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivepoints",
		Subsystem: "indexer",
		Name:      "blocks_indexed_total",
		Help:      "Number of blocks scanned and committed.",
	})

	eventsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivepoints",
		Subsystem: "indexer",
		Name:      "events_indexed_total",
		Help:      "Number of decoded events persisted.",
	})

	currentBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hivepoints",
		Subsystem: "indexer",
		Name:      "current_block",
		Help:      "Last fully indexed block number.",
	})

	syncLag = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hivepoints",
		Subsystem: "indexer",
		Name:      "sync_lag_blocks",
		Help:      "Blocks between the chain head and the checkpoint.",
	})

	bridgeCredits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivepoints",
		Subsystem: "indexer",
		Name:      "bridge_points_credited_total",
		Help:      "Points credited inline for bridge swap-ins.",
	})
)

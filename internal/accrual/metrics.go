package accrual

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivepoints",
		Subsystem: "accrual",
		Name:      "ticks_processed_total",
		Help:      "Number of hourly accrual ticks committed.",
	})

	pointsDistributed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivepoints",
		Subsystem: "accrual",
		Name:      "points_distributed_total",
		Help:      "Total points credited by the hourly accrual job.",
	})

	lastTick = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hivepoints",
		Subsystem: "accrual",
		Name:      "last_tick_end_seconds",
		Help:      "Unix timestamp of the last committed tick boundary.",
	})
)

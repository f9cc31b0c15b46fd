package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nextplace_validator"

var (
	PredictionsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_ingested_total",
		Help:      "Predictions accepted into miner tables.",
	})

	PredictionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_rejected_total",
		Help:      "Predictions dropped during ingestion, by reason.",
	}, []string{"reason"})

	PredictionsScored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_scored_total",
		Help:      "Predictions matched against a sale and scored.",
	})

	PredictionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_evicted_total",
		Help:      "Unscored predictions removed after the retention horizon.",
	})

	StoreBusy = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_busy_total",
		Help:      "Ticks skipped because the store lock was not acquired in time.",
	}, []string{"job"})

	MarketRefills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "market_refills_total",
		Help:      "Completed property pool refills, by market.",
	}, []string{"market"})

	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "property_pool_size",
		Help:      "Properties available for outbound batches.",
	})

	SalesRows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sales_rows",
		Help:      "Rows in the transient sales table after the last refresh.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scoring_sweep_duration_seconds",
		Help:      "Duration of a full scoring sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	MinerWeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "miner_weight",
		Help:      "Last computed weight per miner.",
	}, []string{"miner"})

	ReportsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_dropped_total",
		Help:      "Dashboard report batches dropped because the queue was full or the send failed.",
	})
)

package metric

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespaceSequencer = "sequencer"
	namespaceBatchProc = "batchprocessor"
	namespaceAPI       = "api"
)

var (
	// LastBlockNum last produced block number
	LastBlockNum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceSequencer,
			Name:      "last_block_num",
			Help:      "",
		})

	// ProducedBlocks produced block count
	ProducedBlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceSequencer,
			Name:      "produced_blocks_total",
			Help:      "",
		})

	// ProcessedTxs executed transaction count
	ProcessedTxs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceSequencer,
			Name:      "processed_txs_total",
			Help:      "",
		})

	// RejectedTxs submission time rejection count
	RejectedTxs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceSequencer,
			Name:      "rejected_txs_total",
			Help:      "",
		})

	// PoolTxs transactions currently pooled
	PoolTxs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceSequencer,
			Name:      "pending_pool_txs",
			Help:      "",
		})

	// LastBatchNum last created batch number
	LastBatchNum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceBatchProc,
			Name:      "last_batch_num",
			Help:      "",
		})

	// PendingDisputes disputes waiting to be batched
	PendingDisputes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceBatchProc,
			Name:      "pending_disputes",
			Help:      "",
		})

	// CommittedBatches committed batch count
	CommittedBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceBatchProc,
			Name:      "committed_batches_total",
			Help:      "",
		})

	// FinalizedBatches finalized batch count
	FinalizedBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceBatchProc,
			Name:      "finalized_batches_total",
			Help:      "",
		})

	// RejectedBatches rejected batch count
	RejectedBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceBatchProc,
			Name:      "rejected_batches_total",
			Help:      "",
		})

	// WaitSettlement duration of the batch commitment submission to the
	// settlement layer
	WaitSettlement = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespaceBatchProc,
			Name:      "wait_settlement",
			Help:      "",
		}, []string{"batch_number"})
)

func init() {
	prometheus.MustRegister(LastBlockNum, ProducedBlocks, ProcessedTxs,
		RejectedTxs, PoolTxs, LastBatchNum, PendingDisputes,
		CommittedBatches, FinalizedBatches, RejectedBatches,
		WaitSettlement)
}

// MeasureDuration measure the method execution duration
// and save it into a histogram metric
func MeasureDuration(histogram *prometheus.HistogramVec, start time.Time, lvs ...string) {
	duration := time.Since(start)
	histogram.WithLabelValues(lvs...).Observe(float64(duration.Milliseconds()))
}

// PrometheusMiddleware creates the prometheus collector and the gin
// middleware that feeds it one observation per served request
func PrometheusMiddleware() (gin.HandlerFunc, error) {
	apiDurations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespaceAPI,
			Name:      "api_durations",
			Help:      "",
		}, []string{"path", "method", "status_code"})
	if err := prometheus.Register(apiDurations); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		apiDurations = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		MeasureDuration(apiDurations, start,
			c.FullPath(), c.Request.Method, strconv.Itoa(c.Writer.Status()))
	}, nil
}

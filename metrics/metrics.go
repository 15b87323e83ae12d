// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"time"

	"github.com/luxfi/metric"

	"github.com/luxfi/abciapp/utils/wrappers"
)

var _ Metrics = (*metricsImpl)(nil)

type Metrics interface {
	metric.APIInterceptor

	IncCheckTx(accepted bool)
	IncTxDelivered(succeeded bool)

	// MarkBlockCommitted updates all metrics relating to the commit of a
	// block.
	MarkBlockCommitted(height uint64, gasUsed uint64, feeParameter uint64, commitDuration time.Duration)
}

type metricsImpl struct {
	checkTxs    metric.CounterVec
	txDelivered metric.CounterVec

	blocksCommitted     metric.Counter
	lastCommittedHeight metric.Gauge
	blockGasUsed        metric.Gauge
	feeParameter        metric.Gauge
	commitDuration      metric.Gauge

	metric.APIInterceptor
}

func (m *metricsImpl) IncCheckTx(accepted bool) {
	m.checkTxs.With(metric.Labels{"result": resultLabel(accepted)}).Inc()
}

func (m *metricsImpl) IncTxDelivered(succeeded bool) {
	m.txDelivered.With(metric.Labels{"result": resultLabel(succeeded)}).Inc()
}

func (m *metricsImpl) MarkBlockCommitted(height uint64, gasUsed uint64, feeParameter uint64, commitDuration time.Duration) {
	m.blocksCommitted.Inc()
	m.lastCommittedHeight.Set(float64(height))
	m.blockGasUsed.Set(float64(gasUsed))
	m.feeParameter.Set(float64(feeParameter))
	m.commitDuration.Set(commitDuration.Seconds())
}

func resultLabel(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}

func New(registry metric.Registry) (Metrics, error) {
	m := &metricsImpl{
		checkTxs: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "check_txs",
				Help: "Number of mempool admission checks by result",
			},
			[]string{"result"},
		),
		txDelivered: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "txs_delivered",
				Help: "Number of delivered transactions by result",
			},
			[]string{"result"},
		),
		blocksCommitted: metric.NewCounter(metric.CounterOpts{
			Name: "blocks_committed",
			Help: "Number of blocks committed since start",
		}),
		lastCommittedHeight: metric.NewGauge(metric.GaugeOpts{
			Name: "last_committed_height",
			Help: "Height of the last committed block",
		}),
		blockGasUsed: metric.NewGauge(metric.GaugeOpts{
			Name: "block_gas_used",
			Help: "Gas consumed by the last committed block",
		}),
		feeParameter: metric.NewGauge(metric.GaugeOpts{
			Name: "fee_parameter",
			Help: "Fee parameter after the last committed block",
		}),
		commitDuration: metric.NewGauge(metric.GaugeOpts{
			Name: "commit_duration_seconds",
			Help: "Wall-clock duration of the last commit",
		}),
	}

	apiRequestMetric, err := metric.NewAPIInterceptor(registry)
	errs := wrappers.Errs{Err: err}
	m.APIInterceptor = apiRequestMetric
	return m, errs.Err
}

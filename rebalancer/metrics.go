// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rebalancer

import (
	"errors"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultAccepted = "accepted"
	resultStale    = "stale"
	resultFuture   = "future"
	resultRejected = "rejected"
)

type metrics struct {
	reports    *prometheus.CounterVec
	mints      prometheus.Counter
	burns      prometheus.Counter
	stakes     prometheus.Counter
	reconciled prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	m := &metrics{
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalancer_l2_reports",
				Help: "Number of L2 reports handled, by result",
			},
			[]string{"result"},
		),
		mints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rebalancer_treasury_mints",
			Help: "Number of reconciliations that minted into the lockbox",
		}),
		burns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rebalancer_treasury_burns",
			Help: "Number of reconciliations that burned from the lockbox",
		}),
		stakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rebalancer_stakes",
			Help: "Number of successful stakes into the restaking pool",
		}),
		reconciled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rebalancer_reconciled_supply",
			Help: "Lockbox balance after the last reconciliation, in whole tokens",
		}),
	}
	err := errors.Join(
		registerer.Register(m.reports),
		registerer.Register(m.mints),
		registerer.Register(m.burns),
		registerer.Register(m.stakes),
		registerer.Register(m.reconciled),
	)
	return m, err
}

func (m *metrics) report(result string) {
	m.reports.With(prometheus.Labels{"result": result}).Inc()
}

var weiPerToken = new(big.Float).SetInt(big.NewInt(1e18))

func (m *metrics) setReconciled(supply *big.Int) {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(supply), weiPerToken).Float64()
	m.reconciled.Set(f)
}

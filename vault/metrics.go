// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	deposits      *prometheus.CounterVec
	withdrawals   prometheus.Counter
	bonusesPaid   prometheus.Counter
	feesCollected prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	m := &metrics{
		deposits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_deposits",
				Help: "Number of deposits, by entry point",
			},
			[]string{"source"},
		),
		withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_flash_withdrawals",
			Help: "Number of flash withdrawals",
		}),
		bonusesPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposit_bonuses",
			Help: "Number of deposits that received a bonus",
		}),
		feesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_flash_fees",
			Help: "Number of flash withdrawals that paid a fee",
		}),
	}
	err := errors.Join(
		registerer.Register(m.deposits),
		registerer.Register(m.withdrawals),
		registerer.Register(m.bonusesPaid),
		registerer.Register(m.feesCollected),
	)
	return m, err
}

func (m *metrics) deposit(source string) {
	m.deposits.With(prometheus.Labels{"source": source}).Inc()
}

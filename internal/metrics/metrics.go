// Copyright 2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ethtxsubmit"

// Transaction outcomes counted by the manager
const (
	OutcomeSent        = "sent"
	OutcomeConfirmed   = "confirmed"
	OutcomeReverted    = "reverted"
	OutcomeKnown       = "known"
	OutcomeNonceTooLow = "nonce_too_low"
	OutcomeSendFailed  = "send_failed"
)

// Metrics are the collectors for the submission engine. A nil *Metrics is
// valid, and records nothing
type Metrics struct {
	contentionWaiting prometheus.Gauge
	txOutcomes        *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	reconcileResends  prometheus.Counter
}

// New creates the collectors, registering them if a registerer is supplied
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		contentionWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contention_waiting",
			Help:      "Tasks waiting for an execution slot",
		}),
		txOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_outcomes_total",
			Help:      "Transaction send outcomes",
		}, []string{"outcome", "type"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_cycle_seconds",
			Help:      "Duration of reconciliation cycles",
			Buckets:   prometheus.DefBuckets,
		}),
		reconcileResends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_resends_total",
			Help:      "Transactions resent by reconciliation",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.contentionWaiting, m.txOutcomes, m.reconcileDuration, m.reconcileResends)
	}
	return m
}

// ContentionWaiting is the gauge mirrored from the contention manager
func (m *Metrics) ContentionWaiting() prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.contentionWaiting
}

// ContentionRunning registers a gauge reporting the tasks holding an
// execution slot, read from running when scraped
func (m *Metrics) ContentionRunning(reg prometheus.Registerer, running func() int) {
	if m == nil || reg == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "contention_running",
		Help:      "Tasks holding an execution slot",
	}, func() float64 {
		return float64(running())
	}))
}

// TxOutcome counts an outcome for a public or private transaction
func (m *Metrics) TxOutcome(outcome string, private bool) {
	if m == nil {
		return
	}
	txType := "public"
	if private {
		txType = "private"
	}
	m.txOutcomes.WithLabelValues(outcome, txType).Inc()
}

// ReconcileCycle records the duration of a cycle
func (m *Metrics) ReconcileCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.Observe(d.Seconds())
}

// ReconcileResend counts a resend
func (m *Metrics) ReconcileResend() {
	if m == nil {
		return
	}
	m.reconcileResends.Inc()
}

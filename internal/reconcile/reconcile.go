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

package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	"github.com/kaleido-io/ethtxsubmit/internal/keys"
	"github.com/kaleido-io/ethtxsubmit/internal/metrics"
	"github.com/kaleido-io/ethtxsubmit/internal/notify"
	"github.com/kaleido-io/ethtxsubmit/internal/telemetry"
	"github.com/kaleido-io/ethtxsubmit/internal/txstore"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultIntervalMS = 10000

	msgReverted = "Transaction was reverted"
)

// Conf configures the reconciliation loop
type Conf struct {
	IntervalMS int `json:"intervalMS,omitempty"`
}

// Handler is the transaction manager, as seen by the reconciliation loop
type Handler interface {
	SendPublicTx(ctx context.Context, tx *txstore.Transaction, key *keys.ActiveKey) (string, error)
	SendPrivateTx(ctx context.Context, tx *txstore.Transaction) (string, error)
	OnTransactionSuccess(ctx context.Context, tx *txstore.Transaction, receipt *eth.Receipt)
	OnRevertError(ctx context.Context, tx *txstore.Transaction, receipt *eth.Receipt, message string)
	MaxAttempts() int
}

// Service periodically compares the pending transactions in the store with
// the ledger, resending those the node does not have in a block and
// completing those it does
type Service struct {
	txs       txstore.TransactionStore
	ledger    eth.Ledger
	handler   Handler
	keys      keys.Provider
	publisher notify.Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	interval  time.Duration

	cycle     sync.Mutex
	stopOnce  sync.Once
	closeOnce sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewService constructs the service. It does nothing until Start
func NewService(conf *Conf, txs txstore.TransactionStore, ledger eth.Ledger, handler Handler, keyProvider keys.Provider, publisher notify.Publisher, m *metrics.Metrics) *Service {
	intervalMS := conf.IntervalMS
	if intervalMS <= 0 {
		intervalMS = defaultIntervalMS
	}
	return &Service{
		txs:       txs,
		ledger:    ledger,
		handler:   handler,
		keys:      keyProvider,
		publisher: publisher,
		metrics:   m,
		tracer:    telemetry.Tracer("reconcile"),
		interval:  time.Duration(intervalMS) * time.Millisecond,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the timer
func (s *Service) Start() {
	s.started = true
	go s.loop()
	log.Infof("Reconciliation started interval=%s", s.interval)
}

func (s *Service) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.RunCycle(context.Background())
		}
	}
}

// Stop ends the timer, and waits for any cycle in progress. Sends already
// made by the cycle are not cancelled
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.started {
			<-s.done
		}
		log.Infof("Reconciliation stopped")
	})
}

// Close stops the service if it is still running, then closes the publisher.
// Call it once the dispatch loops that publish outcomes have exited
func (s *Service) Close() {
	s.Stop()
	s.closeOnce.Do(s.publisher.Close)
}

// RunCycle reconciles every pending transaction once. If a cycle is already
// running it returns immediately
func (s *Service) RunCycle(ctx context.Context) (err error) {
	if !s.cycle.TryLock() {
		log.Debugf("Reconciliation cycle already in progress")
		return nil
	}
	defer s.cycle.Unlock()

	start := time.Now().UTC()
	ctx, span := s.tracer.Start(ctx, "reconcile.cycle")
	defer func() {
		s.metrics.ReconcileCycle(time.Now().UTC().Sub(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	key, err := s.keys.ActiveKey(ctx)
	if err != nil {
		log.Errorf("Reconciliation failed to resolve signing key: %s", err)
		return err
	}
	if key == nil {
		log.Infof("No signing key configured. Skipping reconciliation")
		return nil
	}

	pending, err := s.txs.ListPending(ctx)
	if err != nil {
		log.Errorf("Reconciliation failed to list pending transactions: %s", err)
		return err
	}
	span.SetAttributes(attribute.Int("reconcile.pending", len(pending)))
	log.Debugf("Reconciling %d pending transactions", len(pending))

	for _, tx := range pending {
		inBlock, err := s.ledger.IsTxInBlock(ctx, tx.Hash)
		if err != nil {
			log.Errorf("TX:%s inclusion check failed for %s. Ending cycle: %s", tx.ID, tx.Hash, err)
			return err
		}
		if !inBlock {
			s.resend(ctx, tx, key)
			continue
		}
		receipt, err := s.ledger.GetTransactionReceipt(ctx, tx.Hash)
		switch {
		case err != nil:
			log.Warnf("TX:%s receipt check failed for %s: %s", tx.ID, tx.Hash, err)
		case receipt == nil:
			log.Debugf("TX:%s in a block without a receipt yet: %s", tx.ID, tx.Hash)
		case receipt.Success():
			s.handler.OnTransactionSuccess(ctx, tx, receipt)
		default:
			s.handler.OnRevertError(ctx, tx, receipt, msgReverted)
		}
	}
	return nil
}

func (s *Service) resend(ctx context.Context, tx *txstore.Transaction, key *keys.ActiveKey) {
	if limit := s.handler.MaxAttempts(); limit > 0 && tx.Attempts >= limit {
		log.Errorf("TX:%s not resent after %d attempts hash=%s. Needs operator attention", tx.ID, tx.Attempts, tx.Hash)
		return
	}
	log.Infof("TX:%s not in a block. Resending hash=%s attempts=%d private=%t", tx.ID, tx.Hash, tx.Attempts, tx.IsPrivate())
	s.metrics.ReconcileResend()
	var err error
	if tx.IsPrivate() {
		_, err = s.handler.SendPrivateTx(ctx, tx)
	} else {
		_, err = s.handler.SendPublicTx(ctx, tx, key)
	}
	if err != nil {
		log.Errorf("TX:%s resend failed: %s", tx.ID, err)
	}
}

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

package txmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	"github.com/kaleido-io/ethtxsubmit/internal/keys"
	"github.com/kaleido-io/ethtxsubmit/internal/metrics"
	"github.com/kaleido-io/ethtxsubmit/internal/nonce"
	"github.com/kaleido-io/ethtxsubmit/internal/notify"
	"github.com/kaleido-io/ethtxsubmit/internal/telemetry"
	"github.com/kaleido-io/ethtxsubmit/internal/txstore"
	"github.com/kaleido-io/ethtxsubmit/internal/utils"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultUnlockDurationSec = 60

	msgGasLimit = "Transaction has reached gas limit"
)

// Conf configures how transactions are sent
type Conf struct {
	UnlockPassphrase  string `json:"unlockPassphrase,omitempty"`
	UnlockDurationSec int    `json:"unlockDurationSec,omitempty"`
	MaxAttempts       int    `json:"maxAttempts,omitempty"`
	RoutingKeyPrefix  string `json:"-"`
}

// Components are the collaborators of the manager
type Components struct {
	Ledger    eth.Ledger
	Signer    eth.Signer
	Allocator *nonce.Allocator
	Store     txstore.TransactionStore
	Publisher notify.Publisher
	Metrics   *metrics.Metrics
}

// Manager drives each transaction from broadcast to its final status.
// Every send starts a dispatch loop over the event stream from the node,
// which outlives the send call until a receipt, an error, or the receipt timeout
type Manager struct {
	conf      *Conf
	ledger    eth.Ledger
	signer    eth.Signer
	allocator *nonce.Allocator
	txs       txstore.TransactionStore
	publisher notify.Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	// ctx bounds the node calls of the dispatch loops, and is cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup
}

type sendResult struct {
	hash string
	err  error
}

// NewManager constructs a manager
func NewManager(conf *Conf, c *Components) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		conf:      conf,
		ledger:    c.Ledger,
		signer:    c.Signer,
		allocator: c.Allocator,
		txs:       c.Store,
		publisher: c.Publisher,
		metrics:   c.Metrics,
		tracer:    telemetry.Tracer("txmgr"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// MaxAttempts is the configured limit on broadcasts of one transaction, or zero for no limit
func (m *Manager) MaxAttempts() int {
	return m.conf.MaxAttempts
}

func nonceStr(tx *txstore.Transaction) string {
	if tx.Nonce == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *tx.Nonce)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SendPrivateTx has the node sign and broadcast the transaction, returning once it has a hash
func (m *Manager) SendPrivateTx(ctx context.Context, tx *txstore.Transaction) (hash string, err error) {
	ctx, span := m.tracer.Start(ctx, "txmgr.sendPrivateTx", trace.WithAttributes(
		attribute.String("tx.id", tx.ID),
		attribute.String("tx.from", tx.From),
	))
	defer func() { endSpan(span, err) }()

	if err = m.txs.IncrementAttempts(ctx, tx.ID); err != nil {
		return "", err
	}
	tx.Attempts++

	durationSec := m.conf.UnlockDurationSec
	if durationSec <= 0 {
		durationSec = defaultUnlockDurationSec
	}
	if _, err = m.ledger.UnlockAccount(ctx, tx.From, m.conf.UnlockPassphrase, durationSec); err != nil {
		log.Errorf("TX:%s failed to unlock %s: %s", tx.ID, tx.From, err)
		m.metrics.TxOutcome(metrics.OutcomeSendFailed, true)
		return "", err
	}

	args, err := tx.Body.SendArgs(tx.From)
	if err != nil {
		return "", err
	}
	log.Infof("TX:%s sending private from=%s attempts=%d privateFor=%v", tx.ID, tx.From, tx.Attempts, tx.Body.PrivateFor)
	return m.dispatch(ctx, tx, m.ledger.SendTransaction(m.ctx, args))
}

// SendPublicTx allocates or reuses the nonce, signs locally with the supplied
// key, and broadcasts. It returns once the transaction has a hash
func (m *Manager) SendPublicTx(ctx context.Context, tx *txstore.Transaction, key *keys.ActiveKey) (hash string, err error) {
	ctx, span := m.tracer.Start(ctx, "txmgr.sendPublicTx", trace.WithAttributes(
		attribute.String("tx.id", tx.ID),
		attribute.String("tx.from", tx.From),
	))
	defer func() { endSpan(span, err) }()

	if key == nil {
		return "", errors.Errorf(errors.SignerNoKey, tx.From)
	}
	if key.Address != utils.NormalizeAddress(tx.From) {
		return "", errors.Errorf(errors.KeysAddressMismatch, tx.From, key.Address)
	}

	updated, err := m.allocator.AssignNonceToTransaction(ctx, tx)
	if err != nil {
		// The record is left without a nonce, so there is nothing on it to clear
		m.resetNonce(ctx, tx, nil)
		m.metrics.TxOutcome(metrics.OutcomeSendFailed, false)
		return "", err
	}
	span.SetAttributes(attribute.Int64("tx.nonce", int64(*updated.Nonce)))

	signed, err := m.signer.Sign(&updated.Body, *updated.Nonce, key.Key)
	if err != nil {
		log.Errorf("TX:%s signing failed nonce=%d: %s", updated.ID, *updated.Nonce, err)
		return "", err
	}
	log.Infof("TX:%s sending public from=%s nonce=%d attempts=%d hash=%s", updated.ID, updated.From, *updated.Nonce, updated.Attempts, signed.Hash)
	hash, err = m.dispatch(ctx, updated, m.ledger.SendRawTransaction(m.ctx, signed))
	tx.Nonce, tx.Attempts, tx.Hash = updated.Nonce, updated.Attempts, updated.Hash
	return hash, err
}

// dispatch starts the loop over the event stream, and waits for the outcome
// of the broadcast itself
func (m *Manager) dispatch(ctx context.Context, tx *txstore.Transaction, events <-chan eth.SendEvent) (string, error) {
	result := make(chan sendResult, 1)
	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		m.dispatchLoop(tx.Copy(), events, result)
	}()
	select {
	case r := <-result:
		return r.hash, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) dispatchLoop(tx *txstore.Transaction, events <-chan eth.SendEvent, result chan<- sendResult) {
	ctx := context.Background()
	start := time.Now().UTC()
	private := tx.IsPrivate()
	hashed := false
	for ev := range events {
		switch ev.Type {
		case eth.SendEventHash:
			hashed = true
			tx.Hash = ev.Hash
			if err := m.txs.UpdateHash(ctx, tx.ID, ev.Hash); err != nil {
				log.Errorf("TX:%s failed to record hash %s: %s", tx.ID, ev.Hash, err)
			}
			log.Infof("TX:%s Sent OK hash=%s nonce=%s attempts=%d [%.2fs]", tx.ID, ev.Hash, nonceStr(tx), tx.Attempts, time.Now().UTC().Sub(start).Seconds())
			m.metrics.TxOutcome(metrics.OutcomeSent, private)
			result <- sendResult{hash: ev.Hash}
		case eth.SendEventReceipt:
			m.onReceipt(ctx, tx, ev.Receipt)
		case eth.SendEventError:
			if !hashed {
				log.Errorf("TX:%s send failed nonce=%s attempts=%d [%.2fs]: %s", tx.ID, nonceStr(tx), tx.Attempts, time.Now().UTC().Sub(start).Seconds(), ev.Err)
				m.metrics.TxOutcome(metrics.OutcomeSendFailed, private)
				result <- sendResult{err: ev.Err}
				return
			}
			m.onErrorAfterHash(ctx, tx, ev.Err)
		}
	}
	if !hashed {
		result <- sendResult{err: errors.Errorf(errors.TransactionSendNoHash, tx.ID)}
	}
}

func (m *Manager) onReceipt(ctx context.Context, tx *txstore.Transaction, receipt *eth.Receipt) {
	if receipt.Success() {
		m.OnTransactionSuccess(ctx, tx, receipt)
		return
	}
	m.OnRevertError(ctx, tx, receipt, msgGasLimit)
}

func (m *Manager) onErrorAfterHash(ctx context.Context, tx *txstore.Transaction, err error) {
	private := tx.IsPrivate()
	switch {
	case eth.IsKnownTransaction(err):
		log.Infof("TX:%s Node already has this tx hash=%s nonce=%s", tx.ID, tx.Hash, nonceStr(tx))
		m.metrics.TxOutcome(metrics.OutcomeKnown, private)
	case eth.IsNonceTooLow(err):
		log.Warnf("TX:%s nonce too low hash=%s nonce=%s: %s", tx.ID, tx.Hash, nonceStr(tx), err)
		m.metrics.TxOutcome(metrics.OutcomeNonceTooLow, private)
		m.resetNonce(m.ctx, tx, tx)
	default:
		receipt, recoveryErr := m.ledger.RecoverReceipt(m.ctx, tx.Hash, err)
		if recoveryErr != nil {
			if m.ledger.IsReceiptRecoverable(recoveryErr) {
				log.Warnf("TX:%s receipt unavailable hash=%s nonce=%s, leaving for reconciliation: %s", tx.ID, tx.Hash, nonceStr(tx), recoveryErr)
				return
			}
			log.Errorf("TX:%s no receipt after error hash=%s: %s", tx.ID, tx.Hash, recoveryErr)
			m.OnRevertError(ctx, tx, nil, recoveryErr.Error())
			return
		}
		if receipt.Success() {
			m.OnTransactionSuccess(ctx, tx, receipt)
			return
		}
		m.OnRevertError(ctx, tx, receipt, err.Error())
	}
}

// resetNonce forces the counter for the sender back to the node's pending
// count. clearOn is the transaction whose staged nonce must be re-allocated
func (m *Manager) resetNonce(ctx context.Context, tx *txstore.Transaction, clearOn *txstore.Transaction) {
	count, err := m.ledger.GetTransactionCount(ctx, tx.From, "pending")
	if err != nil {
		log.Errorf("TX:%s %s", tx.ID, errors.Errorf(errors.NonceResetFailed, tx.From, err))
		return
	}
	if err := m.allocator.ForceNonceOnAddress(ctx, tx.From, count, clearOn); err != nil {
		log.Errorf("TX:%s %s", tx.ID, errors.Errorf(errors.NonceResetFailed, tx.From, err))
		return
	}
	log.Warnf("TX:%s reset nonce for %s to network pending count %d", tx.ID, tx.From, count)
}

// OnTransactionSuccess notifies the requester, then records the receipt.
// If the notification fails the transaction stays Pending, so the next
// reconciliation cycle notifies again. Failures are logged, not returned
func (m *Manager) OnTransactionSuccess(ctx context.Context, tx *txstore.Transaction, receipt *eth.Receipt) {
	log.Infof("TX:%s confirmed hash=%s block=%d nonce=%s", tx.ID, tx.Hash, receipt.BlockNumber, nonceStr(tx))
	routingKey := notify.RoutingKey(m.conf.RoutingKeyPrefix, notify.MessageTypeSuccess, tx.RequestOrigin)
	if err := m.publisher.Publish(ctx, routingKey, notify.NewSuccess(tx, receipt)); err != nil {
		log.Errorf("TX:%s failed to publish success, left pending: %s", tx.ID, err)
		return
	}
	m.persistReceipt(ctx, tx, receipt)
	m.metrics.TxOutcome(metrics.OutcomeConfirmed, tx.IsPrivate())
}

// OnRevertError notifies the requester of the failure, then records the
// receipt if there is one. As with success, a failed notification leaves
// the transaction Pending
func (m *Manager) OnRevertError(ctx context.Context, tx *txstore.Transaction, receipt *eth.Receipt, message string) {
	log.Warnf("TX:%s reverted hash=%s nonce=%s: %s", tx.ID, tx.Hash, nonceStr(tx), message)
	routingKey := notify.RoutingKey(m.conf.RoutingKeyPrefix, notify.MessageTypeError, tx.RequestOrigin)
	if err := m.publisher.Publish(ctx, routingKey, notify.NewError(tx, receipt, message)); err != nil {
		log.Errorf("TX:%s failed to publish error, left pending: %s", tx.ID, err)
		return
	}
	m.persistReceipt(ctx, tx, receipt)
	m.metrics.TxOutcome(metrics.OutcomeReverted, tx.IsPrivate())
}

func (m *Manager) persistReceipt(ctx context.Context, tx *txstore.Transaction, receipt *eth.Receipt) {
	err := m.txs.UpdateOnReceipt(ctx, tx.ID, receipt)
	switch {
	case err == nil:
	case errors.IsCode(err, errors.TransactionAlreadyFinal):
		log.Debugf("TX:%s %s", tx.ID, err)
	default:
		log.Errorf("TX:%s failed to record receipt: %s", tx.ID, err)
	}
}

// Wait blocks until every dispatch loop has finished
func (m *Manager) Wait() {
	m.loops.Wait()
}

// Close cancels receipt polling, and waits for the dispatch loops to exit
func (m *Manager) Close() {
	m.cancel()
	m.Wait()
}

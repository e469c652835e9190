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

package eth

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	log "github.com/sirupsen/logrus"
)

// SendEventType distinguishes the events of a send stream
type SendEventType int

const (
	// SendEventHash the node acknowledged the transaction with a hash
	SendEventHash SendEventType = iota
	// SendEventReceipt the transaction was mined
	SendEventReceipt
	// SendEventError the send failed, before or after the hash
	SendEventError
)

func (t SendEventType) String() string {
	switch t {
	case SendEventHash:
		return "hash"
	case SendEventReceipt:
		return "receipt"
	default:
		return "error"
	}
}

// SendEvent is one step in the lifecycle of a broadcast. A stream carries
// at most one Hash, followed by at most one Receipt or Error. The channel is
// closed without a terminal event if the receipt timeout is reached
type SendEvent struct {
	Type    SendEventType
	Hash    string
	Receipt *Receipt
	Err     error
}

// SendTransaction broadcasts an unsigned transaction for the node to sign
func (l *LedgerClient) SendTransaction(ctx context.Context, args *SendTXArgs) <-chan SendEvent {
	events := make(chan SendEvent, 3)
	go func() {
		defer close(events)
		hash, err := l.sendCall(ctx, "eth_sendTransaction", args)
		if err != nil {
			events <- SendEvent{Type: SendEventError, Err: err}
			return
		}
		events <- SendEvent{Type: SendEventHash, Hash: hash}
		l.waitForReceipt(ctx, hash, events)
	}()
	return events
}

// SendRawTransaction broadcasts a locally signed transaction. The hash is known
// before the node sees the payload, so node rejections that mean we might
// already have a transaction in flight are reported after the hash
func (l *LedgerClient) SendRawTransaction(ctx context.Context, signed *SignedTx) <-chan SendEvent {
	events := make(chan SendEvent, 3)
	go func() {
		defer close(events)
		hash, err := l.sendCall(ctx, "eth_sendRawTransaction", hexutil.Encode(signed.Raw))
		if err != nil {
			if IsNonceTooLow(err) || IsKnownTransaction(err) {
				events <- SendEvent{Type: SendEventHash, Hash: signed.Hash}
			}
			events <- SendEvent{Type: SendEventError, Hash: signed.Hash, Err: err}
			return
		}
		events <- SendEvent{Type: SendEventHash, Hash: hash}
		l.waitForReceipt(ctx, hash, events)
	}()
	return events
}

func (l *LedgerClient) sendCall(ctx context.Context, method string, arg interface{}) (string, error) {
	var hash string
	err := l.strategy.Do(ctx, method, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, l.callTimeout)
		defer cancel()
		if err := l.rpc.CallContext(callCtx, &hash, method, arg); err != nil {
			return errors.Errorf(errors.RPCCallReturnedError, method, err)
		}
		if hash == "" {
			return errors.Errorf(errors.RPCInvalidResponse, hash)
		}
		return nil
	})
	return hash, err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// waitForReceipt polls using the shared delay tracker, so we minimize latency
// beyond the block period without spamming the node when there is a backlog
func (l *LedgerClient) waitForReceipt(ctx context.Context, hash string, events chan<- SendEvent) {
	start := time.Now().UTC()
	initialDelay := l.delays.GetInitialDelay()
	if !sleepCtx(ctx, initialDelay) {
		log.Debugf("Receipt polling cancelled for %s", hash)
		return
	}
	for retries := 0; ; retries++ {
		receipt, err := l.GetTransactionReceipt(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				log.Debugf("Receipt polling cancelled for %s", hash)
				return
			}
			events <- SendEvent{Type: SendEventError, Hash: hash, Err: errors.Errorf(errors.ReceiptCheckFailed, err)}
			return
		}
		elapsed := time.Now().UTC().Sub(start)
		if receipt != nil {
			l.delays.ReportSuccess(elapsed)
			log.Infof("Receipt for %s obtained after %.2fs Success=%t", hash, elapsed.Seconds(), receipt.Success())
			events <- SendEvent{Type: SendEventReceipt, Hash: hash, Receipt: receipt}
			return
		}
		if elapsed > l.receiptTimeout {
			log.Warnf("Receipt not available for %s after %.2fs (retries=%d). Leaving for reconciliation", hash, elapsed.Seconds(), retries)
			return
		}
		delay := l.delays.GetRetryDelay(initialDelay, retries+1)
		log.Debugf("Receipt not available after %.2fs (retries=%d): %s", elapsed.Seconds(), retries, hash)
		if !sleepCtx(ctx, delay) {
			log.Debugf("Receipt polling cancelled for %s", hash)
			return
		}
	}
}

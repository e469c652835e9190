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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
)

func collect(events <-chan SendEvent) []SendEvent {
	var all []SendEvent
	for ev := range events {
		all = append(all, ev)
	}
	return all
}

func testSigned(t *testing.T) *SignedTx {
	key, err := crypto.GenerateKey()
	assert.NoError(t, err)
	signed, err := NewKeySigner(10).Sign(&TxBody{To: "0x2b8c0ECc76d0759a8F50b2E14A6881367D805832", Gas: 21000}, 0, key)
	assert.NoError(t, err)
	return signed
}

func TestSendRawTransactionMined(t *testing.T) {
	assert := assert.New(t)
	signed := testSigned(t)
	polls := 0
	l, rpc := newTestLedger(t, func(method string, result interface{}, args ...interface{}) error {
		switch method {
		case "eth_sendRawTransaction":
			*(result.(*string)) = signed.Hash
		case "eth_getTransactionReceipt":
			polls++
			if polls > 1 {
				*(result.(**TxnReceipt)) = minedReceipt(1)
			}
		}
		return nil
	})
	events := collect(l.SendRawTransaction(context.Background(), signed))
	assert.Len(events, 2)
	assert.Equal(SendEventHash, events[0].Type)
	assert.Equal(signed.Hash, events[0].Hash)
	assert.Equal(SendEventReceipt, events[1].Type)
	assert.True(events[1].Receipt.Success())
	assert.Equal(2, rpc.CallCount("eth_getTransactionReceipt"))
}

func TestSendRawTransactionNonceTooLowHashFirst(t *testing.T) {
	assert := assert.New(t)
	signed := testSigned(t)
	l, rpc := newTestLedger(t, func(method string, result interface{}, args ...interface{}) error {
		return fmt.Errorf("nonce too low")
	})
	events := collect(l.SendRawTransaction(context.Background(), signed))
	assert.Len(events, 2)
	assert.Equal(SendEventHash, events[0].Type)
	assert.Equal(signed.Hash, events[0].Hash)
	assert.Equal(SendEventError, events[1].Type)
	assert.Regexp("nonce too low", events[1].Err)
	assert.Equal(1, rpc.CallCount("eth_sendRawTransaction"))
}

func TestSendRawTransactionKnownHashFirst(t *testing.T) {
	assert := assert.New(t)
	signed := testSigned(t)
	l, _ := newTestLedger(t, func(method string, result interface{}, args ...interface{}) error {
		return fmt.Errorf("already known")
	})
	events := collect(l.SendRawTransaction(context.Background(), signed))
	assert.Len(events, 2)
	assert.Equal(SendEventHash, events[0].Type)
	assert.Equal(SendEventError, events[1].Type)
}

func TestSendRawTransactionPreHashFailure(t *testing.T) {
	assert := assert.New(t)
	signed := testSigned(t)
	l, _ := newTestLedger(t, func(method string, result interface{}, args ...interface{}) error {
		return fmt.Errorf("insufficient funds")
	})
	events := collect(l.SendRawTransaction(context.Background(), signed))
	assert.Len(events, 1)
	assert.Equal(SendEventError, events[0].Type)
	assert.Regexp("insufficient funds", events[0].Err)
}

func TestSendTransactionEmptyHashRetried(t *testing.T) {
	assert := assert.New(t)
	l, rpc := newTestLedger(t, func(method string, result interface{}, args ...interface{}) error {
		return nil
	})
	events := collect(l.SendTransaction(context.Background(), &SendTXArgs{From: "0xaa"}))
	assert.Len(events, 1)
	assert.Equal(SendEventError, events[0].Type)
	assert.Regexp("Invalid JSON RPC response", events[0].Err)
	assert.Equal(3, rpc.CallCount("eth_sendTransaction"))
}

func TestSendTransactionReceiptCheckFailed(t *testing.T) {
	assert := assert.New(t)
	l, _ := newTestLedger(t, func(method string, result interface{}, args ...interface{}) error {
		if method == "eth_sendTransaction" {
			*(result.(*string)) = testHash
			return nil
		}
		return fmt.Errorf("pop")
	})
	events := collect(l.SendTransaction(context.Background(), &SendTXArgs{From: "0xaa"}))
	assert.Len(events, 2)
	assert.Equal(SendEventHash, events[0].Type)
	assert.Equal(testHash, events[0].Hash)
	assert.Equal(SendEventError, events[1].Type)
	assert.Regexp("Failed to check for transaction receipt", events[1].Err)
}

func TestSendTransactionReceiptTimeout(t *testing.T) {
	assert := assert.New(t)
	l, _ := newTestLedger(t, func(method string, result interface{}, args ...interface{}) error {
		if method == "eth_sendTransaction" {
			*(result.(*string)) = testHash
		}
		return nil
	})
	l.receiptTimeout = 50 * time.Millisecond
	events := collect(l.SendTransaction(context.Background(), &SendTXArgs{From: "0xaa"}))
	assert.Len(events, 1)
	assert.Equal(SendEventHash, events[0].Type)
}

func TestSendTransactionCancelStopsPolling(t *testing.T) {
	assert := assert.New(t)
	var once sync.Once
	hashSent := make(chan struct{})
	l, _ := newTestLedger(t, func(method string, result interface{}, args ...interface{}) error {
		if method == "eth_sendTransaction" {
			*(result.(*string)) = testHash
			once.Do(func() { close(hashSent) })
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	events := l.SendTransaction(ctx, &SendTXArgs{From: "0xaa"})
	<-hashSent
	cancel()
	all := collect(events)
	assert.Len(all, 1)
	assert.Equal(SendEventHash, all[0].Type)
}

func TestSendEventTypeString(t *testing.T) {
	assert.Equal(t, "hash", SendEventHash.String())
	assert.Equal(t, "receipt", SendEventReceipt.String())
	assert.Equal(t, "error", SendEventError.String())
}
